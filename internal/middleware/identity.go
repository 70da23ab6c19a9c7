package middleware

import (
	"bytes"
	"io"
	"strconv"
	"time"

	"github.com/GoPolymarket/credcalls/internal/config"
	"github.com/GoPolymarket/credcalls/internal/manager"
	"github.com/GoPolymarket/credcalls/internal/model"
	"github.com/GoPolymarket/credcalls/internal/pkg/apperrors"
	"github.com/GoPolymarket/credcalls/internal/signer"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

const ContextIdentityKey = "identity"

// IdentityMiddleware authenticates the caller from the X-Identity,
// X-Timestamp and X-Signature headers. With auth.require_signature disabled
// the X-Identity header is trusted as-is. The idempotency key is part of the
// signed message, and a non-nil guard rejects any signed digest seen before.
// Clients retry a keyed request by re-signing it with a fresh timestamp.
func IdentityMiddleware(cfg *config.Config, now func() time.Time, guard *manager.ReplayGuard) gin.HandlerFunc {
	if now == nil {
		now = time.Now
	}
	requireSig := true
	skew := 300 * time.Second
	if cfg != nil {
		requireSig = cfg.Auth.RequireSignature
		if cfg.Auth.MaxClockSkewSeconds > 0 {
			skew = time.Duration(cfg.Auth.MaxClockSkewSeconds) * time.Second
		}
	}

	return func(c *gin.Context) {
		raw := c.GetHeader(signer.HeaderIdentity)
		if raw == "" {
			abortAuth(c, "missing "+signer.HeaderIdentity+" header")
			return
		}
		identity, err := model.ParseIdentity(raw)
		if err != nil {
			abortAuth(c, err.Error())
			return
		}

		if requireSig {
			ts, err := strconv.ParseInt(c.GetHeader(signer.HeaderTimestamp), 10, 64)
			if err != nil {
				abortAuth(c, "missing or invalid "+signer.HeaderTimestamp+" header")
				return
			}
			if d := now().Sub(time.Unix(ts, 0)); d > skew || d < -skew {
				abortAuth(c, "request timestamp outside allowed clock skew")
				return
			}

			var body []byte
			if c.Request.Body != nil {
				body, _ = io.ReadAll(c.Request.Body)
				c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
			}
			req := signer.Request{
				Method:         c.Request.Method,
				Path:           c.Request.URL.Path,
				Body:           body,
				Timestamp:      ts,
				IdempotencyKey: c.GetHeader(signer.HeaderIdempotencyKey),
			}
			digest, err := signer.VerifyRequest(identity, req, c.GetHeader(signer.HeaderSignature))
			if err != nil {
				abortAuth(c, "invalid request signature: "+err.Error())
				return
			}
			if guard != nil && !guard.Accept(identity, digest, time.Unix(ts, 0)) {
				abortAuth(c, "request signature already used")
				return
			}
		}

		c.Set(ContextIdentityKey, identity)
		c.Next()
	}
}

func abortAuth(c *gin.Context, msg string) {
	_ = c.Error(apperrors.New(apperrors.ErrAuthFailed, msg, nil))
	c.Abort()
}

// IdentityFrom returns the authenticated caller, if any.
func IdentityFrom(c *gin.Context) (common.Address, bool) {
	val, ok := c.Get(ContextIdentityKey)
	if !ok {
		return common.Address{}, false
	}
	id, ok := val.(common.Address)
	return id, ok
}
