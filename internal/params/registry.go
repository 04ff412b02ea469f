// Package params implements the bounded governance parameter registry.
// Every parameter carries fixed [min, max] bounds set at construction; the
// value may move within them, the bounds never move at all.
package params

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/HamiGames/Lucid-sub008/internal/fault"
	"github.com/HamiGames/Lucid-sub008/internal/ident"
	"github.com/HamiGames/Lucid-sub008/internal/notify"
	"github.com/HamiGames/Lucid-sub008/internal/store"
)

const paramPrefix = "param/"

// Parameter is a bounded governance value.
type Parameter struct {
	Value int64 `json:"value"`
	Min   int64 `json:"min"`
	Max   int64 `json:"max"`
}

// Defaults returns the seeded parameter set. Slot duration is pinned (a
// degenerate range); the rest default inside their declared ranges.
func Defaults() map[string]Parameter {
	const mib = 1 << 20
	return map[string]Parameter{
		"slotDurationSec":         {Value: 120, Min: 120, Max: 120},
		"slotTimeoutMs":           {Value: 5000, Min: 1000, Max: 10000},
		"baseAllowancePerSession": {Value: 5_000_000, Min: 0, Max: 100_000_000},
		"payoutEpochDays":         {Value: 7, Min: 1, Max: 31},
		"chunkSizeBytes":          {Value: 8 * mib, Min: 1 * mib, Max: 64 * mib},
		"policyTimeoutSec":        {Value: 30, Min: 1, Max: 300},
	}
}

// Registry is the bounded parameter store. External scheduling and
// consensus logic read it; the governance admin writes it.
type Registry struct {
	mu     sync.RWMutex
	admin  ident.Address
	store  *store.Store // nil means in-memory only
	sink   notify.Sink
	log    *zap.Logger
	params map[string]Parameter
}

// New creates a Registry seeded with Defaults, overlaying any persisted
// values from st. Bounds always come from the seed; a stored value outside
// its seeded bounds is discarded as corrupt.
func New(admin ident.Address, st *store.Store, sink notify.Sink, logger *zap.Logger) (*Registry, error) {
	r := &Registry{
		admin:  admin,
		store:  st,
		sink:   sink,
		log:    logger,
		params: Defaults(),
	}
	if st != nil {
		if err := r.load(); err != nil {
			return nil, fmt.Errorf("parameter registry load: %w", err)
		}
	}
	return r, nil
}

// Param returns the current value for key.
func (r *Registry) Param(key string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.params[key]
	if !ok {
		return 0, unknownParam(key)
	}
	return p.Value, nil
}

// Bounds returns the fixed [min, max] range for key.
func (r *Registry) Bounds(key string) (int64, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.params[key]
	if !ok {
		return 0, 0, unknownParam(key)
	}
	return p.Min, p.Max, nil
}

// SetParam updates the value for key within its bounds. Admin only; the
// bounds themselves are inclusive on both ends.
func (r *Registry) SetParam(caller ident.Address, key string, value int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.admin {
		return fault.New(fault.KindAuthorization, "not-admin", "caller does not hold the admin role")
	}
	p, ok := r.params[key]
	if !ok {
		return unknownParam(key)
	}
	if value < p.Min || value > p.Max {
		return fault.New(fault.KindBounds, "out-of-bounds",
			fmt.Sprintf("value %d for %q outside declared range [%d, %d]", value, key, p.Min, p.Max))
	}

	old := p.Value
	p.Value = value
	if r.store != nil {
		if err := r.store.Put(paramPrefix+key, p); err != nil {
			return fmt.Errorf("persist parameter: %w", err)
		}
	}
	r.params[key] = p

	r.log.Info("Parameter updated",
		zap.String("key", key),
		zap.Int64("old", old),
		zap.Int64("new", value),
	)
	r.sink.Emit(notify.ParamUpdated{Key: key, Old: old, New: value})
	return nil
}

// Keys returns the declared parameter names, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.params))
	for k := range r.params {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Snapshot returns a copy of the full parameter table.
func (r *Registry) Snapshot() map[string]Parameter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Parameter, len(r.params))
	for k, p := range r.params {
		out[k] = p
	}
	return out
}

func (r *Registry) load() error {
	return r.store.Scan(paramPrefix, func(key string, value []byte) error {
		name := strings.TrimPrefix(key, paramPrefix)
		seeded, ok := r.params[name]
		if !ok {
			r.log.Warn("Ignoring unseeded stored parameter", zap.String("key", name))
			return nil
		}
		var p Parameter
		if err := json.Unmarshal(value, &p); err != nil {
			return fmt.Errorf("parameter %s: %w", name, err)
		}
		if p.Value < seeded.Min || p.Value > seeded.Max {
			r.log.Warn("Ignoring out-of-bounds stored parameter",
				zap.String("key", name), zap.Int64("value", p.Value))
			return nil
		}
		seeded.Value = p.Value
		r.params[name] = seeded
		return nil
	})
}

func unknownParam(key string) error {
	return fault.New(fault.KindUnknown, "unknown-parameter",
		fmt.Sprintf("parameter %q was never declared", key))
}
