package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xshikhar/domie-sub000/internal/crypto"
	"github.com/0xshikhar/domie-sub000/internal/dealroom"
	"github.com/0xshikhar/domie-sub000/internal/domain"
	"github.com/0xshikhar/domie-sub000/internal/indexer"
	"github.com/0xshikhar/domie-sub000/internal/ledger"
	"github.com/0xshikhar/domie-sub000/internal/messaging"
	"github.com/0xshikhar/domie-sub000/internal/metrics"
	"github.com/0xshikhar/domie-sub000/internal/server/handler"
	"github.com/0xshikhar/domie-sub000/internal/server/middleware"
	"github.com/0xshikhar/domie-sub000/internal/server/ws"
	"github.com/0xshikhar/domie-sub000/internal/service"
	"github.com/0xshikhar/domie-sub000/internal/store/memory"
)

const (
	network = "testnet"
	creator = "0x1111111111111111111111111111111111111111"
	alice   = "0xaAaAaAaaAaAaAaaAaAAAAAAAAaaaAaAaAaaAaaAa"
	admin   = "0x9999999999999999999999999999999999999999"
	testKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stack struct {
	ledger   *ledger.Ledger
	store    *memory.Store
	locks    *memory.Locks
	provider *messaging.MemoryProvider
	coord    *dealroom.Coordinator
	syncer   *indexer.Syncer
	deals    *service.DealService
	metrics  *metrics.Metrics
	hub      *ws.Hub
}

func newStack(t *testing.T) *stack {
	t.Helper()
	logger := discard()
	s := &stack{
		ledger:   ledger.New(logger, ledger.WithAdmins(admin)),
		store:    memory.New(),
		locks:    memory.NewLocks(),
		provider: messaging.NewMemoryProvider(),
		metrics:  metrics.New(),
	}
	s.deals = service.NewDealService(s.ledger, s.store.Deals(), s.store, nil,
		service.DealConfig{Network: network}, logger)
	s.coord = dealroom.NewCoordinator(s.provider, nil, s.store.Deals(), s.store.Deals(),
		dealroom.Config{Network: network}, s.metrics, logger)
	s.syncer = indexer.New(indexer.Config{}, indexer.Deps{
		Ledgers: map[string]domain.LedgerReader{network: s.ledger},
		Deals:   s.store.Deals(),
		Domains: s.store.Domains(),
		Cursors: s.store,
		Locks:   s.locks,
	}, logger)
	s.hub = ws.NewHub(s.deals, s.coord, s.metrics, ws.Config{}, logger)
	return s
}

func (s *stack) handlers(signer *crypto.RequestSigner) Handlers {
	logger := discard()
	return Handlers{
		Health:     handler.NewHealthHandler(network, nil, logger),
		Deals:      handler.NewDealHandler(s.deals, logger),
		Admin:      handler.NewAdminHandler(s.deals, logger),
		Governance: handler.NewGovernanceHandler(s.deals, logger),
		Rooms:      handler.NewRoomHandler(s.deals, s.coord, logger),
		Sync:       handler.NewSyncHandler(s.syncer, signer, logger),
		Audit:      handler.NewAuditHandler(s.store, logger),
	}
}

func (s *stack) server(cfg Config, limiter domain.RateLimiter) http.Handler {
	return NewServer(cfg, s.handlers(nil), s.hub, limiter, s.metrics, discard()).Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	out := map[string]any{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func createDeal(t *testing.T, h http.Handler, target string) uint64 {
	t.Helper()
	rec, body := do(t, h, http.MethodPost, "/api/deals", map[string]any{
		"caller":          creator,
		"domainName":      "crypto.eth",
		"targetPrice":     target,
		"minContribution": "1",
		"maxParticipants": 5,
		"durationDays":    7,
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return uint64(body["dealId"].(float64))
}

func TestHealthIsPublicWhenAuthEnabled(t *testing.T) {
	s := newStack(t)
	h := s.server(Config{APIKey: "k"}, nil)

	rec, body := do(t, h, http.MethodGet, "/api/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, network, body["network"])

	rec, _ = do(t, h, http.MethodGet, "/api/deals", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/api/deals", nil, map[string]string{"X-API-Key": "k"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDealLifecycleOverHTTP(t *testing.T) {
	s := newStack(t)
	h := s.server(Config{}, nil)
	id := createDeal(t, h, "1eth")
	path := "/api/deals/" + strconv.FormatUint(id, 10)

	rec, body := do(t, h, http.MethodPost, path+"/contribute", map[string]any{"caller": alice, "amount": "0.25eth"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["newParticipant"])

	rec, body = do(t, h, http.MethodGet, path, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(25), body["progress"])
	assert.Equal(t, "0.25", body["raisedEth"])
	assert.Equal(t, float64(7), body["daysRemaining"])

	rec, body = do(t, h, http.MethodGet, path+"/participants", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	parts := body["participants"].([]any)
	require.Len(t, parts, 1)
	assert.Equal(t, float64(25), parts[0].(map[string]any)["shares"])

	rec, body = do(t, h, http.MethodGet, path+"/participants/"+alice, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["refundEligible"])

	rec, _ = do(t, h, http.MethodPost, path+"/cancel", map[string]any{"caller": creator}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body = do(t, h, http.MethodPost, path+"/refund", map[string]any{"caller": alice}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0.25", body["amountEth"])

	rec, body = do(t, h, http.MethodPost, path+"/refund", map[string]any{"caller": alice}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_refunded", body["rule"])
	assert.Equal(t, "no", body["funds_moved"])
}

func TestRuleViolationsMapToStatus(t *testing.T) {
	s := newStack(t)
	h := s.server(Config{}, nil)
	id := createDeal(t, h, "100")
	path := "/api/deals/" + strconv.FormatUint(id, 10)

	rec, body := do(t, h, http.MethodPost, path+"/contribute", map[string]any{"caller": alice, "amount": "101"}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "exceeds_target", body["rule"])
	assert.Equal(t, "no", body["funds_moved"])

	rec, body = do(t, h, http.MethodPost, path+"/cancel", map[string]any{"caller": alice}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "unauthorized", body["rule"])

	rec, _ = do(t, h, http.MethodGet, "/api/deals/42", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/api/deals/abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = do(t, h, http.MethodPost, path+"/contribute", map[string]any{"amount": "1"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_argument", body["rule"])
}

// pendingDeals reports every contribution as submitted but unconfirmed.
type pendingDeals struct {
	handler.DealService
}

func (pendingDeals) Contribute(context.Context, uint64, string, *big.Int) (domain.ContributionReceipt, error) {
	return domain.ContributionReceipt{}, domain.ErrOutcomeUnknown
}

func TestOutcomeUnknownIsAccepted(t *testing.T) {
	h := NewServer(Config{}, Handlers{
		Health: handler.NewHealthHandler(network, nil, discard()),
		Deals:  handler.NewDealHandler(pendingDeals{}, discard()),
	}, nil, nil, nil, discard()).Handler()

	rec, body := do(t, h, http.MethodPost, "/api/deals/0/contribute", map[string]any{"caller": alice, "amount": "5"}, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "unknown", body["funds_moved"])
	assert.Empty(t, body["rule"])
}

func TestAdminAndGovernanceRoutes(t *testing.T) {
	s := newStack(t)
	h := s.server(Config{}, nil)
	id := createDeal(t, h, "100")
	path := "/api/deals/" + strconv.FormatUint(id, 10)

	rec, _ := do(t, h, http.MethodPost, path+"/contribute", map[string]any{"caller": alice, "amount": "100"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := do(t, h, http.MethodPost, path+"/proposals", map[string]any{
		"caller":            alice,
		"title":             "Renew for five years",
		"options":           []string{"yes", "no"},
		"deadline":          time.Now().Add(24 * time.Hour).Unix(),
		"requiredThreshold": 51,
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	hash := body["proposalHash"].(string)

	rec, _ = do(t, h, http.MethodPost, path+"/proposals/"+hash+"/votes", map[string]any{"caller": alice, "option": 0}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body = do(t, h, http.MethodGet, path+"/proposals/"+hash+"/tally", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["passed"])
	assert.Equal(t, float64(0), body["winningOption"])

	rec, body = do(t, h, http.MethodPost, path+"/proposals/"+hash+"/votes", map[string]any{"caller": alice, "option": 7}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_option", body["rule"])

	rec, _ = do(t, h, http.MethodPost, path+"/purchase", map[string]any{"caller": alice, "tokenId": "77"}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = do(t, h, http.MethodPost, path+"/purchase", map[string]any{"caller": admin, "tokenId": "77"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body = do(t, h, http.MethodPost, path+"/fractional-token", map[string]any{
		"caller": admin, "tokenAddress": "0x2222222222222222222222222222222222222222",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, body = do(t, h, http.MethodPost, path+"/fractional-token", map[string]any{
		"caller": admin, "tokenAddress": "0x3333333333333333333333333333333333333333",
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "token_already_set", body["rule"])

	rec, body = do(t, h, http.MethodGet, "/api/audit?limit=2", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["entries"].([]any), 2)
}

func TestSyncTrigger(t *testing.T) {
	s := newStack(t)
	h := s.server(Config{}, nil)
	createDeal(t, h, "100")

	rec, body := do(t, h, http.MethodPost, "/api/sync", map[string]any{"network": network}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(1), body["synced"])
	results := body["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, "created", results[0].(map[string]any)["action"])

	// A single configured network is the default.
	rec, body = do(t, h, http.MethodPost, "/api/sync", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "unchanged", body["results"].([]any)[0].(map[string]any)["action"])

	rec, _ = do(t, h, http.MethodPost, "/api/sync", map[string]any{"network": "mainnet"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	unlock, err := s.locks.Acquire(context.Background(), indexer.LockKey(network), time.Minute)
	require.NoError(t, err)
	rec, _ = do(t, h, http.MethodPost, "/api/sync", map[string]any{"network": network}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	unlock()

	rec, body = do(t, h, http.MethodGet, "/api/deals", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["deals"].([]any), 1)
}

func TestSyncTriggerRequiresSignature(t *testing.T) {
	s := newStack(t)
	signer := &crypto.RequestSigner{Secret: []byte("hook"), MaxSkew: time.Minute}
	h := NewServer(Config{}, s.handlers(signer), nil, nil, nil, discard()).Handler()

	payload := []byte(`{"network":"testnet"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/sync", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/sync", bytes.NewReader(payload))
	for k, v := range signer.Headers(http.MethodPost, "/api/sync", payload, time.Now().Unix()) {
		req.Header.Set(k, v)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestSignedCallerOverridesBody(t *testing.T) {
	s := newStack(t)
	h := s.server(Config{SignedCallers: true}, nil)
	wallet, err := crypto.NewSigner(testKey)
	require.NoError(t, err)

	sign := func(path string) map[string]string {
		ts := time.Now().Unix()
		sig, err := wallet.SignMessage(middleware.CallerMessage(http.MethodPost, path, ts))
		require.NoError(t, err)
		return map[string]string{
			middleware.HeaderCallerSignature: sig,
			middleware.HeaderCallerTimestamp: strconv.FormatInt(ts, 10),
		}
	}
	deal := map[string]any{
		"domainName": "signed.eth", "targetPrice": "100", "maxParticipants": 3, "durationDays": 1,
	}

	rec, _ := do(t, h, http.MethodPost, "/api/deals", deal, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body := do(t, h, http.MethodPost, "/api/deals", deal, sign("/api/deals"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, wallet.Address().Hex(), body["creator"])

	deal["caller"] = alice
	rec, body = do(t, h, http.MethodPost, "/api/deals", deal, sign("/api/deals"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "unauthorized", body["rule"])

	rec, _ = do(t, h, http.MethodGet, "/api/deals", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitAndMetrics(t *testing.T) {
	s := newStack(t)
	h := s.server(Config{RateLimit: 2, RateWindow: time.Hour}, memory.NewLimiter())

	for i := 0; i < 2; i++ {
		rec, _ := do(t, h, http.MethodGet, "/api/deals", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec, body := do(t, h, http.MethodGet, "/api/deals", nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate limit exceeded", body["error"])

	h = s.server(Config{}, nil)
	rec, _ = do(t, h, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `dealbot_http_requests_total{method="GET",route="GET /api/deals",status="200"} 2`)
}

func TestRoomHistoryAndStream(t *testing.T) {
	s := newStack(t)
	h := s.server(Config{}, nil)
	id := createDeal(t, h, "100")
	path := "/api/deals/" + strconv.FormatUint(id, 10)

	rec, _ := do(t, h, http.MethodGet, path+"/messages", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ctx := context.Background()
	_, err := s.syncer.Sync(ctx, network)
	require.NoError(t, err)
	groupID, err := s.coord.CreateDealGroup(ctx, creator, id, "crypto.eth", big.NewInt(100))
	require.NoError(t, err)

	rec, body := do(t, h, http.MethodGet, path+"/messages", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, groupID, body["groupId"])
	require.Len(t, body["messages"].([]any), 1)

	srv := httptest.NewServer(h)
	defer srv.Close()
	hubCtx, stop := context.WithCancel(ctx)
	defer stop()
	go s.hub.Run(hubCtx)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/deals/" + strconv.FormatUint(id, 10)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var frame struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "subscribed", frame.Type)

	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "message", frame.Type)
	var welcome domain.RoomMessage
	require.NoError(t, json.Unmarshal(frame.Payload, &welcome))
	assert.Contains(t, welcome.Text, "Welcome")

	_, err = s.provider.Send(ctx, groupID, "dealbot", "second")
	require.NoError(t, err)
	require.NoError(t, conn.ReadJSON(&frame))
	var second domain.RoomMessage
	require.NoError(t, json.Unmarshal(frame.Payload, &second))
	assert.Equal(t, "second", second.Text)
	assert.Greater(t, second.Seq, welcome.Seq)

	// Resuming from the first message's cursor skips it.
	conn2, _, err := websocket.DefaultDialer.Dial(url+"?cursor="+welcome.Cursor, nil)
	require.NoError(t, err)
	defer conn2.Close()
	conn2.SetReadDeadline(time.Now().Add(5 * time.Second))
	require.NoError(t, conn2.ReadJSON(&frame))
	require.NoError(t, conn2.ReadJSON(&frame))
	var resumed domain.RoomMessage
	require.NoError(t, json.Unmarshal(frame.Payload, &resumed))
	assert.Equal(t, "second", resumed.Text)
}
