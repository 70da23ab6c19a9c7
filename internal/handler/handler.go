package handler

import (
	"strconv"

	"github.com/GoPolymarket/credcalls/internal/middleware"
	"github.com/GoPolymarket/credcalls/internal/pkg/apperrors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

func callerIdentity(c *gin.Context) (common.Address, bool) {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		_ = c.Error(apperrors.New(apperrors.ErrAuthFailed, "unauthorized: missing identity", nil))
	}
	return id, ok
}

func callIDParam(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		_ = c.Error(apperrors.NewInvalidRequest("trade call id must be a positive integer"))
		return 0, false
	}
	return id, true
}

func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		_ = c.Error(apperrors.NewInvalidRequest(err.Error()))
		return false
	}
	return true
}

func queryInt(c *gin.Context, key string, def int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		_ = c.Error(apperrors.NewInvalidRequest(key + " must be a non-negative integer"))
		return 0, false
	}
	return v, true
}
