package handler

import (
	"net/http"

	"github.com/GoPolymarket/credcalls/internal/service"
	"github.com/gin-gonic/gin"
)

type PlatformHandler struct {
	engine *service.SettlementEngine
}

func NewPlatformHandler(engine *service.SettlementEngine) *PlatformHandler {
	return &PlatformHandler{engine: engine}
}

func (h *PlatformHandler) Get(c *gin.Context) {
	view, err := h.engine.GetPlatform(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *PlatformHandler) Initialize(c *gin.Context) {
	caller, ok := callerIdentity(c)
	if !ok {
		return
	}
	state, err := h.engine.InitializePlatform(c.Request.Context(), caller)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, state)
}

func (h *PlatformHandler) InitializeCounter(c *gin.Context) {
	caller, ok := callerIdentity(c)
	if !ok {
		return
	}
	counter, err := h.engine.InitializeIDCounter(c.Request.Context(), caller)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, counter)
}

func (h *PlatformHandler) ResetCounter(c *gin.Context) {
	caller, ok := callerIdentity(c)
	if !ok {
		return
	}
	counter, err := h.engine.ResetIDCounter(c.Request.Context(), caller)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, counter)
}
