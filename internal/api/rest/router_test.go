package rest_test

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/HamiGames/Lucid-sub008/internal/anchor"
	"github.com/HamiGames/Lucid-sub008/internal/api/rest"
	"github.com/HamiGames/Lucid-sub008/internal/chainclock"
	"github.com/HamiGames/Lucid-sub008/internal/ident"
	"github.com/HamiGames/Lucid-sub008/internal/keys"
	"github.com/HamiGames/Lucid-sub008/internal/notify"
	"github.com/HamiGames/Lucid-sub008/internal/params"
	"github.com/HamiGames/Lucid-sub008/internal/payout"
)

const (
	admin     = "1111111111111111111111111111111111111111"
	disburser = "2222222222222222222222222222222222222222"
	worker    = "4444444444444444444444444444444444444444"

	deployment = "lucid-test"
)

type fixture struct {
	server *rest.Server
	clock  *chainclock.Fake
	signer ed25519.PrivateKey
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()
	clock := chainclock.NewFake(time.Unix(1700000000, 0))

	anchors, err := anchor.New(anchor.Config{
		Admin:          ident.Address(admin),
		MaxPerInterval: 100,
		Interval:       2 * time.Minute,
	}, clock, nil, notify.Discard{}, logger)
	require.NoError(t, err)

	pub, priv, err := keys.Generate()
	require.NoError(t, err)

	router, err := payout.NewRouter(payout.Config{
		Asset:     "USDT-TRC20",
		MaxPerTx:  10_000_000_000,
		MaxPerDay: 1_000_000_000_000,
		Roles: payout.Roles{
			Admin:     ident.Address(admin),
			Disburser: ident.Address(disburser),
			Pauser:    ident.Address(admin),
		},
	}, payout.NewVault(1_000_000_000_000), clock, nil, notify.Discard{}, logger)
	require.NoError(t, err)
	gate, err := payout.NewGate(router, payout.GateConfig{
		DeploymentID: deployment,
		Signers:      []ed25519.PublicKey{pub},
	})
	require.NoError(t, err)

	pr, err := params.New(ident.Address(admin), nil, notify.Discard{}, logger)
	require.NoError(t, err)

	return &fixture{
		server: rest.New(anchors, gate, pr, logger),
		clock:  clock,
		signer: priv,
	}
}

func (f *fixture) do(t *testing.T, method, path, caller string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		req.Header.Set("X-Lucid-Caller", caller)
	}
	rr := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, req)
	return rr
}

func hash(n int) string {
	return fmt.Sprintf("%064x", n)
}

func sessionBody(n int) map[string]any {
	return map[string]any{
		"sessionId":    hash(n),
		"manifestHash": hash(1000 + n),
		"merkleRoot":   hash(2000 + n),
		"startedAt":    1700000000,
		"owner":        worker,
		"chunkCount":   4,
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodGet, "/lucid/health", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/lucid/anchors/sessions", worker, sessionBody(1))
	assert.Equal(t, http.StatusCreated, rr.Code)

	// Duplicate registration conflicts.
	rr = f.do(t, http.MethodPost, "/lucid/anchors/sessions", worker, sessionBody(1))
	assert.Equal(t, http.StatusConflict, rr.Code)
	var errBody map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &errBody))
	assert.Equal(t, "duplicate-session", errBody["code"])

	rr = f.do(t, http.MethodGet, "/lucid/anchors/sessions/"+hash(1), "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	var rec anchor.SessionAnchor
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	assert.Equal(t, ident.Hash(hash(1)), rec.SessionID)

	rr = f.do(t, http.MethodGet, "/lucid/anchors/sessions/"+hash(9), "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.do(t, http.MethodPost, "/lucid/anchors/chunks", worker, map[string]any{
		"sessionId":  hash(1),
		"chunkIndex": 0,
		"chunkHash":  hash(5000),
	})
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAnchorAdminEndpoints(t *testing.T) {
	f := newFixture(t)

	// Non-admin cannot pause.
	rr := f.do(t, http.MethodPost, "/lucid/anchors/pause", worker, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = f.do(t, http.MethodPost, "/lucid/anchors/pause", admin, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	// Registration while paused conflicts.
	rr = f.do(t, http.MethodPost, "/lucid/anchors/sessions", worker, sessionBody(1))
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = f.do(t, http.MethodPost, "/lucid/anchors/unpause", admin, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(t, http.MethodPost, "/lucid/anchors/finalize", admin, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	// After finalize, even the admin is locked out.
	rr = f.do(t, http.MethodPost, "/lucid/anchors/pause", admin, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestDisburseEndpoint(t *testing.T) {
	f := newFixture(t)

	body := map[string]any{
		"sessionId": hash(1),
		"recipient": worker,
		"amount":    1_000_000,
		"reason":    "relay-credit",
	}

	rr := f.do(t, http.MethodPost, "/lucid/payouts/disburse", worker, body)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = f.do(t, http.MethodPost, "/lucid/payouts/disburse", disburser, body)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(t, http.MethodGet, "/lucid/payouts/today", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	var today map[string]uint64
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &today))
	assert.Equal(t, uint64(1_000_000), today["today"])

	// Per-tx cap maps to 429.
	over := map[string]any{
		"sessionId": hash(1),
		"recipient": worker,
		"amount":    10_000_000_001,
	}
	rr = f.do(t, http.MethodPost, "/lucid/payouts/disburse", disburser, over)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
}

func TestKYCDisburseEndpoint(t *testing.T) {
	f := newFixture(t)
	expiry := f.clock.Now().Add(time.Hour).Unix()
	sig := keys.SignKYC(f.signer, deployment, ident.Address(worker), ident.Hash(hash(42)), expiry)

	body := map[string]any{
		"sessionId": hash(1),
		"recipient": worker,
		"amount":    1_000_000,
		"kycHash":   hash(42),
		"expiry":    expiry,
		"signature": base64.StdEncoding.EncodeToString(sig),
	}
	rr := f.do(t, http.MethodPost, "/lucid/kyc/disburse", disburser, body)
	assert.Equal(t, http.StatusOK, rr.Code)

	// A bad signature maps to 401.
	body["signature"] = base64.StdEncoding.EncodeToString(make([]byte, ed25519.SignatureSize))
	rr = f.do(t, http.MethodPost, "/lucid/kyc/disburse", disburser, body)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestParamEndpoints(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodGet, "/lucid/params", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(t, http.MethodGet, "/lucid/params/chunkSizeBytes", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	var p map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
	assert.EqualValues(t, 8<<20, p["value"])

	rr = f.do(t, http.MethodGet, "/lucid/params/noSuchKey", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	// Out-of-bounds update maps to 422.
	rr = f.do(t, http.MethodPut, "/lucid/params/slotTimeoutMs", admin, map[string]any{"value": 500})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = f.do(t, http.MethodPut, "/lucid/params/slotTimeoutMs", admin, map[string]any{"value": 2000})
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(t, http.MethodPut, "/lucid/params/slotTimeoutMs", worker, map[string]any{"value": 2000})
	assert.Equal(t, http.StatusForbidden, rr.Code)
}
