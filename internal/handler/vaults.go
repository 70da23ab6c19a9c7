package handler

import (
	"context"
	"net/http"

	"github.com/GoPolymarket/credcalls/internal/model"
	"github.com/GoPolymarket/credcalls/internal/pkg/apperrors"
	"github.com/GoPolymarket/credcalls/internal/service"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

type VaultHandler struct {
	engine *service.SettlementEngine
}

func NewVaultHandler(engine *service.SettlementEngine) *VaultHandler {
	return &VaultHandler{engine: engine}
}

func (h *VaultHandler) Create(c *gin.Context) {
	owner, ok := callerIdentity(c)
	if !ok {
		return
	}
	vault, err := h.engine.CreateUserVault(c.Request.Context(), owner)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, vault)
}

func (h *VaultHandler) Get(c *gin.Context) {
	owner, err := model.ParseIdentity(c.Param("owner"))
	if err != nil {
		_ = c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	vault, err := h.engine.GetVault(c.Request.Context(), owner)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, vault)
}

func (h *VaultHandler) Deposit(c *gin.Context) {
	h.move(c, h.engine.DepositToVault)
}

func (h *VaultHandler) Withdraw(c *gin.Context) {
	h.move(c, h.engine.WithdrawFromVault)
}

func (h *VaultHandler) move(c *gin.Context, fn func(context.Context, common.Address, uint64) (*model.UserVault, error)) {
	owner, ok := callerIdentity(c)
	if !ok {
		return
	}
	var req model.AmountRequest
	if !bindJSON(c, &req) {
		return
	}
	vault, err := fn(c.Request.Context(), owner, req.Amount)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, vault)
}
