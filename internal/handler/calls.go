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

type CallHandler struct {
	engine *service.SettlementEngine
}

func NewCallHandler(engine *service.SettlementEngine) *CallHandler {
	return &CallHandler{engine: engine}
}

func (h *CallHandler) Create(c *gin.Context) {
	caller, ok := callerIdentity(c)
	if !ok {
		return
	}
	var req model.CreateTradeCallRequest
	if !bindJSON(c, &req) {
		return
	}
	token, err := model.ParseIdentity(req.Token)
	if err != nil {
		_ = c.Error(apperrors.NewInvalidRequest("invalid token: " + err.Error()))
		return
	}

	call, err := h.engine.CreateTradeCall(c.Request.Context(), caller, token, req.StakeAmount)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, call)
}

func (h *CallHandler) Get(c *gin.Context) {
	id, ok := callIDParam(c)
	if !ok {
		return
	}
	call, err := h.engine.GetTradeCall(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, call)
}

// List supports ?status=&caller=&follower=&limit=&offset=.
func (h *CallHandler) List(c *gin.Context) {
	var f model.CallFilter
	if raw := c.Query("status"); raw != "" {
		status, err := model.ParseCallStatus(raw)
		if err != nil {
			_ = c.Error(apperrors.NewInvalidRequest(err.Error()))
			return
		}
		f.Status = status
	}
	for key, dst := range map[string]**common.Address{"caller": &f.Caller, "follower": &f.Follower} {
		raw := c.Query(key)
		if raw == "" {
			continue
		}
		addr, err := model.ParseIdentity(raw)
		if err != nil {
			_ = c.Error(apperrors.NewInvalidRequest(key + ": " + err.Error()))
			return
		}
		*dst = &addr
	}
	var ok bool
	if f.Limit, ok = queryInt(c, "limit", 100); !ok {
		return
	}
	if f.Offset, ok = queryInt(c, "offset", 0); !ok {
		return
	}

	calls, err := h.engine.ListTradeCalls(c.Request.Context(), f)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": calls, "count": len(calls)})
}

type callTransition func(ctx context.Context, actor common.Address, id uint64) (*model.TradeCall, error)

// transition runs an identity-bound state change on the call named by :id.
func (h *CallHandler) transition(c *gin.Context, fn callTransition) {
	actor, ok := callerIdentity(c)
	if !ok {
		return
	}
	id, ok := callIDParam(c)
	if !ok {
		return
	}
	call, err := fn(c.Request.Context(), actor, id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h *CallHandler) Follow(c *gin.Context) {
	h.transition(c, h.engine.FollowTrade)
}

func (h *CallHandler) ResolveSuccess(c *gin.Context) {
	h.transition(c, h.engine.ResolveTradeCallSuccess)
}

func (h *CallHandler) ResolveFailure(c *gin.Context) {
	h.transition(c, h.engine.ResolveTradeCallFailureAll)
}

func (h *CallHandler) Claim(c *gin.Context) {
	caller, ok := callerIdentity(c)
	if !ok {
		return
	}
	id, ok := callIDParam(c)
	if !ok {
		return
	}
	resp, err := h.engine.ClaimFollowerShare(c.Request.Context(), caller, id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
