package payout_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/HamiGames/Lucid-sub008/internal/chainclock"
	"github.com/HamiGames/Lucid-sub008/internal/fault"
	"github.com/HamiGames/Lucid-sub008/internal/ident"
	"github.com/HamiGames/Lucid-sub008/internal/notify"
	"github.com/HamiGames/Lucid-sub008/internal/payout"
	"github.com/HamiGames/Lucid-sub008/internal/store"
)

const (
	admin     = ident.Address("1111111111111111111111111111111111111111")
	disburser = ident.Address("2222222222222222222222222222222222222222")
	pauser    = ident.Address("3333333333333333333333333333333333333333")
	worker    = ident.Address("4444444444444444444444444444444444444444")
)

// Amounts in micro-units: one unit is 1_000_000.
const unit = uint64(1_000_000)

var session = ident.Hash(fmt.Sprintf("%064x", 7))

func testRoles() payout.Roles {
	return payout.Roles{Admin: admin, Disburser: disburser, Pauser: pauser}
}

func newRouter(t *testing.T, cfg payout.Config, vault *payout.Vault, clock chainclock.Clock, st *store.Store) *payout.Router {
	t.Helper()
	if cfg.Asset == "" {
		cfg.Asset = "USDT-TRC20"
	}
	if cfg.Roles == (payout.Roles{}) {
		cfg.Roles = testRoles()
	}
	r, err := payout.NewRouter(cfg, vault, clock, st, notify.Discard{}, zap.NewNop())
	require.NoError(t, err)
	return r
}

func TestDisburse(t *testing.T) {
	clock := chainclock.NewFake(time.Unix(1700000000, 0))
	vault := payout.NewVault(1_000_000 * unit)
	r := newRouter(t, payout.Config{MaxPerTx: 10_000 * unit, MaxPerDay: 1_000_000 * unit}, vault, clock, nil)

	require.NoError(t, r.Disburse(disburser, session, worker, 100*unit, "relay-credit"))
	assert.Equal(t, 100*unit, r.TodayDisbursed())
	assert.Equal(t, 100*unit, vault.CreditOf(worker))
	assert.Equal(t, (1_000_000-100)*unit, r.Balance())
}

func TestDisburseChecks(t *testing.T) {
	clock := chainclock.NewFake(time.Unix(1700000000, 0))
	vault := payout.NewVault(1_000_000 * unit)
	r := newRouter(t, payout.Config{MaxPerTx: 10_000 * unit, MaxPerDay: 1_000_000 * unit}, vault, clock, nil)

	err := r.Disburse(worker, session, worker, unit, "x")
	assert.True(t, fault.IsKind(err, fault.KindAuthorization))
	assert.Equal(t, "not-disburser", fault.Code(err))

	err = r.Disburse(disburser, session, "", unit, "x")
	assert.Equal(t, "zero-recipient", fault.Code(err))

	err = r.Disburse(disburser, session, worker, 0, "x")
	assert.Equal(t, "zero-amount", fault.Code(err))

	err = r.Disburse(disburser, session, worker, 10_001*unit, "x")
	assert.True(t, fault.IsKind(err, fault.KindRateLimit))
	assert.Equal(t, "per-tx-limit", fault.Code(err))

	// Nothing moved.
	assert.Equal(t, uint64(0), r.TodayDisbursed())
	assert.Equal(t, uint64(0), vault.CreditOf(worker))
}

func TestDisburseDailyCap(t *testing.T) {
	clock := chainclock.NewFake(time.Unix(1700000000, 0))
	vault := payout.NewVault(10_000_000 * unit)
	r := newRouter(t, payout.Config{MaxPerTx: 10_000 * unit, MaxPerDay: 1_000_000 * unit}, vault, clock, nil)

	// 100 max-size payouts exactly exhaust the daily cap.
	for i := 0; i < 100; i++ {
		require.NoError(t, r.Disburse(disburser, session, worker, 10_000*unit, "relay-credit"))
	}
	assert.Equal(t, 1_000_000*unit, r.TodayDisbursed())

	err := r.Disburse(disburser, session, worker, unit, "relay-credit")
	assert.True(t, fault.IsKind(err, fault.KindRateLimit))
	assert.Equal(t, "daily-limit", fault.Code(err))

	// The next day bucket starts fresh.
	clock.Advance(24 * time.Hour)
	assert.Equal(t, uint64(0), r.TodayDisbursed())
	assert.NoError(t, r.Disburse(disburser, session, worker, 10_000*unit, "relay-credit"))
}

func TestDisburseRollbackOnTransferFailure(t *testing.T) {
	clock := chainclock.NewFake(time.Unix(1700000000, 0))
	r := newRouterWithAsset(t, failingAsset{}, clock)

	err := r.Disburse(disburser, session, worker, unit, "x")
	require.Error(t, err)
	assert.False(t, fault.IsKind(err, fault.KindRateLimit))

	// The daily counter rolled back, so the full cap is still available.
	assert.Equal(t, uint64(0), r.TodayDisbursed())
}

func newRouterWithAsset(t *testing.T, asset payout.Asset, clock chainclock.Clock) *payout.Router {
	t.Helper()
	r, err := payout.NewRouter(payout.Config{
		Asset:     "USDT-TRC20",
		MaxPerTx:  10_000 * unit,
		MaxPerDay: 1_000_000 * unit,
		Roles:     testRoles(),
	}, asset, clock, nil, notify.Discard{}, zap.NewNop())
	require.NoError(t, err)
	return r
}

type failingAsset struct{}

func (failingAsset) Transfer(ident.Address, uint64) error { return errors.New("rail unavailable") }
func (failingAsset) Balance() uint64                      { return 0 }

func TestPauseAndEmergencyWithdraw(t *testing.T) {
	clock := chainclock.NewFake(time.Unix(1700000000, 0))
	vault := payout.NewVault(500 * unit)
	r := newRouter(t, payout.Config{MaxPerTx: 10_000 * unit, MaxPerDay: 1_000_000 * unit}, vault, clock, nil)

	// Emergency withdraw requires the paused state.
	err := r.EmergencyWithdraw(admin, worker, 100*unit)
	assert.True(t, fault.IsKind(err, fault.KindLifecycle))
	assert.Equal(t, "not-paused", fault.Code(err))

	assert.Equal(t, "not-pauser", fault.Code(r.Pause(admin)))
	require.NoError(t, r.Pause(pauser))
	assert.True(t, r.Paused())
	assert.Equal(t, "already-paused", fault.Code(r.Pause(pauser)))

	assert.Equal(t, "paused", fault.Code(r.Disburse(disburser, session, worker, unit, "x")))

	assert.Equal(t, "not-admin", fault.Code(r.EmergencyWithdraw(pauser, worker, 100*unit)))
	require.NoError(t, r.EmergencyWithdraw(admin, worker, 100*unit))
	assert.Equal(t, 400*unit, r.Balance())

	require.NoError(t, r.Unpause(pauser))
	assert.Equal(t, "not-paused", fault.Code(r.Unpause(pauser)))
	assert.NoError(t, r.Disburse(disburser, session, worker, unit, "x"))
}

func TestRouterPersistence(t *testing.T) {
	dir := t.TempDir()
	clock := chainclock.NewFake(time.Unix(1700000000, 0))

	st, err := store.Open(dir, zap.NewNop())
	require.NoError(t, err)
	vault := payout.NewVault(1_000_000 * unit)
	r, err := payout.NewRouter(payout.Config{
		Asset: "USDT-TRC20", MaxPerTx: 10_000 * unit, MaxPerDay: 1_000_000 * unit, Roles: testRoles(),
	}, vault, clock, st, notify.Discard{}, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, r.Disburse(disburser, session, worker, 300*unit, "relay-credit"))
	require.NoError(t, r.Pause(pauser))
	require.NoError(t, st.Close())

	st, err = store.Open(dir, zap.NewNop())
	require.NoError(t, err)
	defer st.Close()

	r2, err := payout.NewRouter(payout.Config{
		Asset: "USDT-TRC20", MaxPerTx: 10_000 * unit, MaxPerDay: 1_000_000 * unit, Roles: testRoles(),
	}, payout.NewVault(1_000_000*unit), clock, st, notify.Discard{}, zap.NewNop())
	require.NoError(t, err)

	// The day bucket and pause flag survive the restart.
	assert.Equal(t, 300*unit, r2.TodayDisbursed())
	assert.True(t, r2.Paused())
}
