package handler

import (
	"net/http"

	"github.com/GoPolymarket/credcalls/internal/events"
	"github.com/GoPolymarket/credcalls/internal/model"
	"github.com/GoPolymarket/credcalls/internal/pkg/apperrors"
	"github.com/GoPolymarket/credcalls/internal/service"
	"github.com/gin-gonic/gin"
)

type AccountHandler struct {
	engine *service.SettlementEngine
}

func NewAccountHandler(engine *service.SettlementEngine) *AccountHandler {
	return &AccountHandler{engine: engine}
}

// Get returns a ledger account such as wallet:0x..., vault:0x..., escrow:7
// or platform:fees.
func (h *AccountHandler) Get(c *gin.Context) {
	account, err := model.ParseAccount(c.Param("name"))
	if err != nil {
		_ = c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	limit, ok := queryInt(c, "limit", 50)
	if !ok {
		return
	}
	view, err := h.engine.GetAccount(c.Request.Context(), account, limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Fund credits a wallet account from outside the platform. Operator only.
func (h *AccountHandler) Fund(c *gin.Context) {
	var req model.FundRequest
	if !bindJSON(c, &req) {
		return
	}
	owner, err := model.ParseIdentity(req.Owner)
	if err != nil {
		_ = c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	balance, err := h.engine.FundWallet(c.Request.Context(), owner, req.Amount)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account": model.WalletAccount(owner),
		"balance": balance,
	})
}

type EventHandler struct {
	dispatcher *events.Dispatcher
}

func NewEventHandler(d *events.Dispatcher) *EventHandler {
	return &EventHandler{dispatcher: d}
}

// Recent lists buffered events, newest first. ?call_id= narrows to one call.
func (h *EventHandler) Recent(c *gin.Context) {
	callID, ok := queryInt(c, "call_id", 0)
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit", 100)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": h.dispatcher.Recent(uint64(callID), limit)})
}
