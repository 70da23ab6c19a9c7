package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/GoPolymarket/credcalls/internal/config"
	"github.com/GoPolymarket/credcalls/internal/events"
	"github.com/GoPolymarket/credcalls/internal/middleware"
	"github.com/GoPolymarket/credcalls/internal/model"
	"github.com/GoPolymarket/credcalls/internal/repository"
	"github.com/GoPolymarket/credcalls/internal/service"
	"github.com/GoPolymarket/credcalls/internal/signer"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	adminHex  = "0x00000000000000000000000000000000000000a1"
	callerHex = "0x00000000000000000000000000000000000000c1"
	tokenHex  = "0x00000000000000000000000000000000000000e1"
	f1Hex     = "0x00000000000000000000000000000000000000f1"
	f2Hex     = "0x00000000000000000000000000000000000000f2"
	testKey   = "operator-secret"
)

type apiError struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

type testServer struct {
	t      *testing.T
	router *gin.Engine
	cfg    *config.Config
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.Auth.RequireSignature = false
	cfg.Auth.AdminKey = testKey
	cfg.Rate.QPS = 1000
	cfg.Rate.Burst = 1000
	cfg.Metrics.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}
	fee, err := cfg.Platform.FollowFeeBaseUnits()
	require.NoError(t, err)

	dispatcher := events.NewDispatcher(64)
	t.Cleanup(dispatcher.Close)

	engine := service.NewSettlementEngine(repository.NewMemoryStore(), service.EngineOptions{
		FollowFee: fee,
		Publisher: dispatcher,
	})
	return &testServer{
		t:   t,
		cfg: cfg,
		router: NewRouter(Deps{
			Config:     cfg,
			Engine:     engine,
			Dispatcher: dispatcher,
		}),
	}
}

func (s *testServer) do(method, path, identity string, body any, headers map[string]string) *httptest.ResponseRecorder {
	s.t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(s.t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if identity != "" {
		req.Header.Set(signer.HeaderIdentity, identity)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) ok(method, path, identity string, body any, want int) *httptest.ResponseRecorder {
	s.t.Helper()
	w := s.do(method, path, identity, body, nil)
	require.Equal(s.t, want, w.Code, "%s %s: %s", method, path, w.Body.String())
	return w
}

func (s *testServer) fail(method, path, identity string, body any, status int, reason string) {
	s.t.Helper()
	w := s.do(method, path, identity, body, nil)
	require.Equal(s.t, status, w.Code, "%s %s: %s", method, path, w.Body.String())
	var e apiError
	require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &e))
	assert.Equal(s.t, reason, e.Reason)
}

func (s *testServer) fund(owner string, amount uint64) {
	s.t.Helper()
	w := s.do(http.MethodPost, "/v1/admin/fund", "", model.FundRequest{Owner: owner, Amount: amount},
		map[string]string{middleware.HeaderAdminKey: testKey})
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
}

func (s *testServer) setup() {
	s.t.Helper()
	s.ok(http.MethodPost, "/v1/platform/init", adminHex, nil, http.StatusCreated)
	s.ok(http.MethodPost, "/v1/counter/init", adminHex, nil, http.StatusCreated)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.ok(http.MethodGet, "/health", "", nil, http.StatusOK)
	assert.Contains(t, w.Body.String(), "credcalls")
}

func TestFailureFlowOverHTTP(t *testing.T) {
	s := newTestServer(t, nil)
	s.setup()

	s.fund(callerHex, 1_000_000_000)
	w := s.ok(http.MethodPost, "/v1/calls", callerHex,
		model.CreateTradeCallRequest{Token: tokenHex, StakeAmount: 1_000_000_000}, http.StatusCreated)
	call := decode[model.TradeCall](t, w)
	require.Equal(t, uint64(1), call.ID)
	callPath := "/v1/calls/" + strconv.FormatUint(call.ID, 10)

	for _, f := range []string{f1Hex, f2Hex} {
		s.fund(f, 2_000_000)
		s.ok(http.MethodPost, "/v1/vaults", f, nil, http.StatusOK)
		s.ok(http.MethodPost, "/v1/vaults/deposit", f, model.AmountRequest{Amount: 2_000_000}, http.StatusOK)
		s.ok(http.MethodPost, callPath+"/follow", f, nil, http.StatusOK)
	}

	vault := decode[model.UserVault](t, s.ok(http.MethodGet, "/v1/vaults/"+f1Hex, "", nil, http.StatusOK))
	assert.Equal(t, uint64(1_000_000), vault.DepositedBalance)
	assert.Equal(t, uint64(1_000_000), vault.ReservedFee)

	s.fail(http.MethodPost, callPath+"/resolve/failure", callerHex, nil, http.StatusForbidden, "NotAdmin")
	s.ok(http.MethodPost, callPath+"/resolve/failure", adminHex, nil, http.StatusOK)
	s.fail(http.MethodPost, callPath+"/resolve/success", adminHex, nil, http.StatusConflict, "AlreadyResolved")

	claim := decode[model.ClaimResponse](t, s.ok(http.MethodPost, callPath+"/claim", f1Hex, nil, http.StatusOK))
	assert.Equal(t, uint64(500_000_000), claim.Amount)
	assert.Equal(t, "0.500000000", claim.Display)
	s.fail(http.MethodPost, callPath+"/claim", f1Hex, nil, http.StatusBadRequest, "AlreadyClaimed")
	s.fail(http.MethodPost, callPath+"/claim", callerHex, nil, http.StatusBadRequest, "NotAFollower")

	account := decode[model.AccountView](t, s.ok(http.MethodGet, "/v1/accounts/wallet:"+f1Hex, "", nil, http.StatusOK))
	assert.Equal(t, uint64(500_000_000), account.Balance)
	assert.NotEmpty(t, account.Entries)

	list := decode[struct {
		Calls []model.TradeCall `json:"calls"`
		Count int               `json:"count"`
	}](t, s.ok(http.MethodGet, "/v1/calls?status=Failed&follower="+f2Hex, "", nil, http.StatusOK))
	assert.Equal(t, 1, list.Count)

	recent := decode[struct {
		Events []model.Event `json:"events"`
	}](t, s.ok(http.MethodGet, "/v1/events/recent?call_id=1", "", nil, http.StatusOK))
	require.NotEmpty(t, recent.Events)
	assert.Equal(t, model.EventShareClaimed, recent.Events[0].Type)
}

func TestErrorStatuses(t *testing.T) {
	s := newTestServer(t, nil)

	s.fail(http.MethodPost, "/v1/calls", callerHex,
		model.CreateTradeCallRequest{Token: tokenHex, StakeAmount: 10}, http.StatusConflict, "CounterNotInitialized")
	s.setup()
	s.fail(http.MethodPost, "/v1/platform/init", callerHex, nil, http.StatusConflict, "AlreadyInitialized")
	s.fail(http.MethodPost, "/v1/counter/reset", callerHex, nil, http.StatusForbidden, "NotAdmin")

	s.fail(http.MethodPost, "/v1/calls", callerHex,
		model.CreateTradeCallRequest{Token: tokenHex, StakeAmount: 0}, http.StatusBadRequest, "InvalidAmount")
	s.fail(http.MethodPost, "/v1/calls", callerHex,
		model.CreateTradeCallRequest{Token: tokenHex, StakeAmount: 10}, http.StatusUnprocessableEntity, "InsufficientFunds")

	s.fund(callerHex, 10)
	s.ok(http.MethodPost, "/v1/calls", callerHex, model.CreateTradeCallRequest{Token: tokenHex, StakeAmount: 10}, http.StatusCreated)
	s.fail(http.MethodPost, "/v1/calls/1/follow", f1Hex, nil, http.StatusUnprocessableEntity, "InsufficientDeposit")
	s.fail(http.MethodPost, "/v1/calls/1/follow", callerHex, nil, http.StatusBadRequest, "SelfFollow")

	w := s.do(http.MethodGet, "/v1/calls/99", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = s.do(http.MethodGet, "/v1/calls/abc", "", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(http.MethodPost, "/v1/calls/1/follow", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = s.do(http.MethodPost, "/v1/admin/fund", "", model.FundRequest{Owner: f1Hex, Amount: 1},
		map[string]string{middleware.HeaderAdminKey: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestReadOnlyMode(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) { cfg.Server.ReadOnly = true })

	w := s.do(http.MethodPost, "/v1/platform/init", adminHex, nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	s.ok(http.MethodGet, "/v1/platform", "", nil, http.StatusOK)
	s.fund(f1Hex, 5)
}

func TestIdempotentCreateReplays(t *testing.T) {
	s := newTestServer(t, nil)
	s.setup()
	s.fund(callerHex, 20)

	headers := map[string]string{middleware.HeaderIdempotencyKey: "create-1"}
	body := model.CreateTradeCallRequest{Token: tokenHex, StakeAmount: 10}
	first := s.do(http.MethodPost, "/v1/calls", callerHex, body, headers)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	second := s.do(http.MethodPost, "/v1/calls", callerHex, body, headers)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))

	account := decode[model.AccountView](t, s.ok(http.MethodGet, "/v1/accounts/wallet:"+callerHex, "", nil, http.StatusOK))
	assert.Equal(t, uint64(10), account.Balance, "stake taken once")
}

func TestSignedRequest(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) { cfg.Auth.RequireSignature = true })
	sg, err := signer.NewSigner("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)

	ts := time.Now().Unix()
	headers, err := sg.SignRequest(signer.Request{Method: http.MethodPost, Path: "/v1/platform/init", Timestamp: ts})
	require.NoError(t, err)

	w := s.do(http.MethodPost, "/v1/platform/init", "", nil, headers)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	state := decode[model.PlatformState](t, w)
	assert.Equal(t, sg.Address(), state.Admin)

	headers[signer.HeaderTimestamp] = strconv.FormatInt(ts-3600, 10)
	w = s.do(http.MethodPost, "/v1/counter/init", "", nil, headers)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSignedDepositCannotBeReplayed(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) { cfg.Auth.RequireSignature = true })
	sg, err := signer.NewSigner("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)
	owner := sg.Address().Hex()
	s.fund(owner, 100)

	body := model.AmountRequest{Amount: 10}
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	headers, err := sg.SignRequest(signer.Request{Method: http.MethodPost, Path: "/v1/vaults/deposit", Body: raw, Timestamp: time.Now().Unix()})
	require.NoError(t, err)

	w := s.do(http.MethodPost, "/v1/vaults/deposit", "", body, headers)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	sig := headers[signer.HeaderSignature]
	replays := map[string]map[string]string{
		"same request":      {},
		"new key a":         {middleware.HeaderIdempotencyKey: "replay-a"},
		"new key b":         {middleware.HeaderIdempotencyKey: "replay-b"},
		"uppercase hex":     {signer.HeaderSignature: "0x" + strings.ToUpper(sig[2:])},
		"uppercase prefix":  {signer.HeaderSignature: "0X" + sig[2:]},
		"key and uppercase": {middleware.HeaderIdempotencyKey: "replay-c", signer.HeaderSignature: "0X" + strings.ToUpper(sig[2:])},
	}
	for name, extra := range replays {
		t.Run(name, func(t *testing.T) {
			replay := make(map[string]string, len(headers)+len(extra))
			for k, v := range headers {
				replay[k] = v
			}
			for k, v := range extra {
				replay[k] = v
			}
			w := s.do(http.MethodPost, "/v1/vaults/deposit", "", body, replay)
			assert.Equal(t, http.StatusUnauthorized, w.Code, w.Body.String())
		})
	}

	vault := decode[model.UserVault](t, s.ok(http.MethodGet, "/v1/vaults/"+owner, "", nil, http.StatusOK))
	assert.Equal(t, uint64(10), vault.DepositedBalance)
}

func TestSignedRetryReplaysCachedResponse(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) { cfg.Auth.RequireSignature = true })
	sg, err := signer.NewSigner("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)
	owner := sg.Address().Hex()
	s.fund(owner, 100)

	body := model.AmountRequest{Amount: 10}
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	ts := time.Now().Unix()
	for _, signedAt := range []int64{ts, ts - 1} {
		headers, err := sg.SignRequest(signer.Request{
			Method: http.MethodPost, Path: "/v1/vaults/deposit", Body: raw, Timestamp: signedAt, IdempotencyKey: "deposit-1",
		})
		require.NoError(t, err)
		w := s.do(http.MethodPost, "/v1/vaults/deposit", "", body, headers)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	vault := decode[model.UserVault](t, s.ok(http.MethodGet, "/v1/vaults/"+owner, "", nil, http.StatusOK))
	assert.Equal(t, uint64(10), vault.DepositedBalance, "retry served from the idempotency cache")
}
