// Package payout implements the rate-limited payout router and its
// compliance-gated extension. Amounts are micro-units of the reference
// asset (6-decimal convention).
package payout

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/HamiGames/Lucid-sub008/internal/chainclock"
	"github.com/HamiGames/Lucid-sub008/internal/fault"
	"github.com/HamiGames/Lucid-sub008/internal/ident"
	"github.com/HamiGames/Lucid-sub008/internal/notify"
	"github.com/HamiGames/Lucid-sub008/internal/store"
)

const (
	dayPrefix     = "payout/day/"
	routerFlagKey = "payout/flags"
)

// Roles binds the router's fixed role addresses.
type Roles struct {
	Admin     ident.Address
	Disburser ident.Address
	Pauser    ident.Address
}

// Config is the router's immutable construction-time configuration.
type Config struct {
	// Asset labels the reference asset, e.g. "USDT-TRC20".
	Asset string
	// MaxPerTx caps a single disbursement.
	MaxPerTx uint64
	// MaxPerDay caps cumulative disbursement per day bucket.
	MaxPerDay uint64
	Roles     Roles
}

type routerFlags struct {
	Paused bool `json:"paused"`
}

// Router disburses value to node operators under global per-tx and per-day
// caps, with a pause/emergency-withdraw fail-safe. All operations are
// linearized behind a single mutex.
type Router struct {
	mu    sync.RWMutex
	cfg   Config
	clock chainclock.Clock
	asset Asset
	store *store.Store // nil means in-memory only
	sink  notify.Sink
	log   *zap.Logger

	daily  map[int64]uint64 // day bucket → cumulative disbursed
	paused bool
}

// NewRouter creates a Router, reloading persisted day buckets and the pause
// flag from st. st may be nil for in-memory use.
func NewRouter(cfg Config, asset Asset, clock chainclock.Clock, st *store.Store, sink notify.Sink, logger *zap.Logger) (*Router, error) {
	r := &Router{
		cfg:   cfg,
		clock: clock,
		asset: asset,
		store: st,
		sink:  sink,
		log:   logger,
		daily: make(map[int64]uint64),
	}
	if st != nil {
		if err := r.load(); err != nil {
			return nil, fmt.Errorf("payout router load: %w", err)
		}
	}
	return r, nil
}

// Disburse pays amount to recipient, attributed to sessionId. Checks run
// first, the daily counter commits second, and the asset transfer runs
// last, so a reentrant transfer can never observe stale totals.
func (r *Router) Disburse(caller ident.Address, sessionID ident.Hash, recipient ident.Address, amount uint64, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.cfg.Roles.Disburser {
		return fault.New(fault.KindAuthorization, "not-disburser", "caller does not hold the disburser role")
	}
	if r.paused {
		return fault.New(fault.KindLifecycle, "paused", "payout router is paused")
	}
	if !recipient.Valid() || recipient.IsZero() {
		return fault.New(fault.KindInputValidation, "zero-recipient", "recipient must be a non-zero address")
	}
	if amount == 0 {
		return fault.New(fault.KindInputValidation, "zero-amount", "amount must be positive")
	}
	if amount > r.cfg.MaxPerTx {
		return fault.New(fault.KindRateLimit, "per-tx-limit",
			fmt.Sprintf("amount %d exceeds per-tx limit %d", amount, r.cfg.MaxPerTx))
	}
	day := chainclock.DayBucket(r.clock.Now())
	if r.daily[day]+amount > r.cfg.MaxPerDay {
		return fault.New(fault.KindRateLimit, "daily-limit",
			fmt.Sprintf("daily total %d + %d exceeds limit %d", r.daily[day], amount, r.cfg.MaxPerDay))
	}

	// Effects before the external transfer.
	prev := r.daily[day]
	if err := r.persistDay(day, prev+amount); err != nil {
		return err
	}
	r.daily[day] = prev + amount

	if err := r.asset.Transfer(recipient, amount); err != nil {
		// The transfer is the last fallible step; roll the counter back.
		r.daily[day] = prev
		if perr := r.persistDay(day, prev); perr != nil {
			r.log.Error("Daily counter rollback failed", zap.Int64("day", day), zap.Error(perr))
		}
		return fmt.Errorf("asset transfer: %w", err)
	}

	r.log.Info("Payout disbursed",
		zap.String("sessionId", string(sessionID)),
		zap.String("recipient", string(recipient)),
		zap.Uint64("amount", amount),
		zap.String("reason", reason),
	)
	r.sink.Emit(notify.Paid{
		SessionID: sessionID,
		Recipient: recipient,
		Amount:    amount,
		Reason:    reason,
		Day:       day,
	})
	return nil
}

// TodayDisbursed returns the cumulative amount disbursed in the current
// day bucket.
func (r *Router) TodayDisbursed() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.daily[chainclock.DayBucket(r.clock.Now())]
}

// Balance returns the router's held asset balance.
func (r *Router) Balance() uint64 {
	return r.asset.Balance()
}

// EmergencyWithdraw moves funds out of the router. Admin only, and only
// while paused, so the fail-safe cannot drain funds during normal operation.
func (r *Router) EmergencyWithdraw(caller, recipient ident.Address, amount uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.cfg.Roles.Admin {
		return fault.New(fault.KindAuthorization, "not-admin", "caller does not hold the admin role")
	}
	if !r.paused {
		return fault.New(fault.KindLifecycle, "not-paused", "emergency withdraw requires the router to be paused")
	}
	if !recipient.Valid() || recipient.IsZero() {
		return fault.New(fault.KindInputValidation, "zero-recipient", "recipient must be a non-zero address")
	}
	if amount == 0 {
		return fault.New(fault.KindInputValidation, "zero-amount", "amount must be positive")
	}
	if err := r.asset.Transfer(recipient, amount); err != nil {
		return fmt.Errorf("asset transfer: %w", err)
	}

	r.log.Warn("Emergency withdrawal",
		zap.String("recipient", string(recipient)),
		zap.Uint64("amount", amount),
	)
	r.sink.Emit(notify.EmergencyWithdraw{Recipient: recipient, Amount: amount})
	return nil
}

// Pause halts disbursement. Pauser role only.
func (r *Router) Pause(caller ident.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.cfg.Roles.Pauser {
		return fault.New(fault.KindAuthorization, "not-pauser", "caller does not hold the pauser role")
	}
	if r.paused {
		return fault.New(fault.KindLifecycle, "already-paused", "payout router is already paused")
	}
	if err := r.persistFlags(true); err != nil {
		return err
	}
	r.paused = true
	r.log.Warn("Payout router paused", zap.String("caller", string(caller)))
	return nil
}

// Unpause resumes disbursement. Pauser role only.
func (r *Router) Unpause(caller ident.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.cfg.Roles.Pauser {
		return fault.New(fault.KindAuthorization, "not-pauser", "caller does not hold the pauser role")
	}
	if !r.paused {
		return fault.New(fault.KindLifecycle, "not-paused", "payout router is not paused")
	}
	if err := r.persistFlags(false); err != nil {
		return err
	}
	r.paused = false
	r.log.Info("Payout router unpaused", zap.String("caller", string(caller)))
	return nil
}

// Paused reports the pause flag.
func (r *Router) Paused() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.paused
}

func (r *Router) persistDay(day int64, total uint64) error {
	if r.store == nil {
		return nil
	}
	key := dayPrefix + strconv.FormatInt(day, 10)
	if err := r.store.Put(key, total); err != nil {
		return fmt.Errorf("persist daily total: %w", err)
	}
	return nil
}

func (r *Router) persistFlags(paused bool) error {
	if r.store == nil {
		return nil
	}
	if err := r.store.Put(routerFlagKey, routerFlags{Paused: paused}); err != nil {
		return fmt.Errorf("persist payout flags: %w", err)
	}
	return nil
}

func (r *Router) load() error {
	err := r.store.Scan(dayPrefix, func(key string, value []byte) error {
		day, err := strconv.ParseInt(strings.TrimPrefix(key, dayPrefix), 10, 64)
		if err != nil {
			return fmt.Errorf("day bucket key %s: %w", key, err)
		}
		var total uint64
		if err := json.Unmarshal(value, &total); err != nil {
			return fmt.Errorf("day bucket %s: %w", key, err)
		}
		r.daily[day] = total
		return nil
	})
	if err != nil {
		return err
	}
	var f routerFlags
	if _, err := r.store.Get(routerFlagKey, &f); err != nil {
		return err
	}
	r.paused = f.Paused
	r.log.Info("Payout router loaded",
		zap.Int("dayBuckets", len(r.daily)),
		zap.Bool("paused", r.paused),
	)
	return nil
}
