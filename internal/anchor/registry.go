// Package anchor implements the session anchor registry: one immutable
// anchor per session, append-only chunk anchor events, a per-interval
// circuit breaker, and a pause/finalize lifecycle.
package anchor

import (
	"encoding/json"
	"fmt"
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
	sessionPrefix = "anchor/session/"
	rootPrefix    = "anchor/root/"
	flagsKey      = "anchor/flags"
)

// Registry records session anchors. All operations are linearized behind a
// single mutex; each call fully commits or fully rejects.
type Registry struct {
	mu    sync.RWMutex
	cfg   Config
	clock chainclock.Clock
	store *store.Store // nil means in-memory only
	sink  notify.Sink
	log   *zap.Logger

	anchorers map[ident.Address]bool
	sessions  map[ident.Hash]SessionAnchor
	roots     map[ident.Hash]ident.Hash // merkleRoot → sessionID, bound forever

	intervalID    int64
	intervalCount int

	paused    bool
	finalized bool
}

// New creates a Registry, reloading any persisted sessions, root bindings
// and lifecycle flags from st. st may be nil for in-memory use.
func New(cfg Config, clock chainclock.Clock, st *store.Store, sink notify.Sink, logger *zap.Logger) (*Registry, error) {
	r := &Registry{
		cfg:       cfg,
		clock:     clock,
		store:     st,
		sink:      sink,
		log:       logger,
		anchorers: make(map[ident.Address]bool, len(cfg.Anchorers)),
		sessions:  make(map[ident.Hash]SessionAnchor),
		roots:     make(map[ident.Hash]ident.Hash),
	}
	for _, a := range cfg.Anchorers {
		r.anchorers[a] = true
	}
	if st != nil {
		if err := r.load(); err != nil {
			return nil, fmt.Errorf("anchor registry load: %w", err)
		}
	}
	return r, nil
}

// RegisterSession records an immutable anchor for a new session. The
// session id and Merkle root are consumed forever; a rejected call leaves
// no trace.
func (r *Registry) RegisterSession(caller ident.Address, rec SessionAnchor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.paused {
		return fault.New(fault.KindLifecycle, "paused", "anchor registry is paused")
	}
	if r.cfg.Restricted && !r.anchorers[caller] {
		return fault.New(fault.KindAuthorization, "anchor-restricted", "caller is not an authorized anchorer")
	}
	if err := validateAnchor(rec); err != nil {
		return err
	}
	if _, ok := r.sessions[rec.SessionID]; ok {
		return fault.New(fault.KindStateConflict, "duplicate-session",
			fmt.Sprintf("session %s is already registered", rec.SessionID))
	}
	if bound, ok := r.roots[rec.MerkleRoot]; ok {
		return fault.New(fault.KindStateConflict, "duplicate-root",
			fmt.Sprintf("merkle root %s is already bound to session %s", rec.MerkleRoot, bound))
	}

	// Circuit breaker: a new interval resets the counter before the
	// capacity check.
	id := chainclock.IntervalID(r.clock.Now(), r.cfg.Interval)
	if id != r.intervalID {
		r.intervalID = id
		r.intervalCount = 0
	}
	if r.intervalCount >= r.cfg.MaxPerInterval {
		return fault.New(fault.KindRateLimit, "interval-capacity",
			fmt.Sprintf("registration limit of %d per interval reached", r.cfg.MaxPerInterval))
	}

	rec.AnchoredAt = r.clock.Now().Unix()

	if r.store != nil {
		err := r.store.Apply(map[string]any{
			sessionPrefix + string(rec.SessionID): rec,
			rootPrefix + string(rec.MerkleRoot):   rec.SessionID,
		})
		if err != nil {
			return fmt.Errorf("persist session anchor: %w", err)
		}
	}

	r.sessions[rec.SessionID] = rec
	r.roots[rec.MerkleRoot] = rec.SessionID
	r.intervalCount++

	r.log.Info("Session registered",
		zap.String("sessionId", string(rec.SessionID)),
		zap.String("owner", string(rec.Owner)),
		zap.Uint32("chunkCount", rec.ChunkCount),
	)
	r.sink.Emit(notify.SessionRegistered(rec))
	return nil
}

// AnchorChunk emits an observational chunk anchor for a registered session.
// Nothing is stored; chunk-index uniqueness is the caller's responsibility.
func (r *Registry) AnchorChunk(caller ident.Address, sessionID ident.Hash, chunkIndex uint32, chunkHash ident.Hash) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.paused {
		return fault.New(fault.KindLifecycle, "paused", "anchor registry is paused")
	}
	if r.cfg.Restricted && !r.anchorers[caller] {
		return fault.New(fault.KindAuthorization, "anchor-restricted", "caller is not an authorized anchorer")
	}
	if !chunkHash.Valid() || chunkHash.IsZero() {
		return fault.New(fault.KindInputValidation, "zero-chunk-hash", "chunk hash must be a non-zero 32-byte hash")
	}
	if _, ok := r.sessions[sessionID]; !ok {
		return fault.New(fault.KindUnknown, "unknown-session",
			fmt.Sprintf("session %s is not registered", sessionID))
	}

	r.sink.Emit(notify.ChunkAnchored{
		SessionID:  sessionID,
		ChunkIndex: chunkIndex,
		ChunkHash:  chunkHash,
	})
	return nil
}

// IsSessionRegistered reports whether sessionID has an anchor.
func (r *Registry) IsSessionRegistered(sessionID ident.Hash) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[sessionID]
	return ok
}

// Session returns the anchor for sessionID.
func (r *Registry) Session(sessionID ident.Hash) (SessionAnchor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.sessions[sessionID]
	return rec, ok
}

// Sessions returns a snapshot of all registered anchors.
func (r *Registry) Sessions() []SessionAnchor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SessionAnchor, 0, len(r.sessions))
	for _, rec := range r.sessions {
		out = append(out, rec)
	}
	return out
}

// Pause stops registrations and chunk anchoring. Admin only.
func (r *Registry) Pause(caller ident.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireAdmin(caller); err != nil {
		return err
	}
	if r.paused {
		return fault.New(fault.KindLifecycle, "already-paused", "anchor registry is already paused")
	}
	if err := r.persistFlags(true, false); err != nil {
		return err
	}
	r.paused = true
	r.log.Warn("Anchor registry paused", zap.String("caller", string(caller)))
	return nil
}

// Unpause resumes operation. Admin only.
func (r *Registry) Unpause(caller ident.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireAdmin(caller); err != nil {
		return err
	}
	if !r.paused {
		return fault.New(fault.KindLifecycle, "not-paused", "anchor registry is not paused")
	}
	if err := r.persistFlags(false, false); err != nil {
		return err
	}
	r.paused = false
	r.log.Info("Anchor registry unpaused", zap.String("caller", string(caller)))
	return nil
}

// Finalize irreversibly strips all administrative capability. Every admin
// entry point, including Finalize itself, fails for every caller afterwards.
func (r *Registry) Finalize(caller ident.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireAdmin(caller); err != nil {
		return err
	}
	if err := r.persistFlags(r.paused, true); err != nil {
		return err
	}
	r.finalized = true
	r.log.Warn("Anchor registry finalized; administrative capability removed permanently",
		zap.String("caller", string(caller)))
	return nil
}

// Paused reports the pause flag.
func (r *Registry) Paused() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.paused
}

// Finalized reports whether administrative capability has been removed.
func (r *Registry) Finalized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.finalized
}

// requireAdmin gates administrative entry points. The finalized check comes
// first: after finalize, no caller is admin, ever.
func (r *Registry) requireAdmin(caller ident.Address) error {
	if r.finalized {
		return fault.New(fault.KindAuthorization, "finalized", "anchor registry is finalized; no admin remains")
	}
	if caller != r.cfg.Admin {
		return fault.New(fault.KindAuthorization, "not-admin", "caller does not hold the admin role")
	}
	return nil
}

func (r *Registry) persistFlags(paused, finalized bool) error {
	if r.store == nil {
		return nil
	}
	if err := r.store.Put(flagsKey, flags{Paused: paused, Finalized: finalized}); err != nil {
		return fmt.Errorf("persist anchor flags: %w", err)
	}
	return nil
}

func (r *Registry) load() error {
	err := r.store.Scan(sessionPrefix, func(key string, value []byte) error {
		var rec SessionAnchor
		if err := json.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("session record %s: %w", key, err)
		}
		r.sessions[rec.SessionID] = rec
		return nil
	})
	if err != nil {
		return err
	}
	err = r.store.Scan(rootPrefix, func(key string, value []byte) error {
		var sessionID ident.Hash
		if err := json.Unmarshal(value, &sessionID); err != nil {
			return fmt.Errorf("root binding %s: %w", key, err)
		}
		root := ident.Hash(strings.TrimPrefix(key, rootPrefix))
		r.roots[root] = sessionID
		return nil
	})
	if err != nil {
		return err
	}
	var f flags
	if _, err := r.store.Get(flagsKey, &f); err != nil {
		return err
	}
	r.paused = f.Paused
	r.finalized = f.Finalized
	r.log.Info("Anchor registry loaded",
		zap.Int("sessions", len(r.sessions)),
		zap.Bool("paused", r.paused),
		zap.Bool("finalized", r.finalized),
	)
	return nil
}

func validateAnchor(rec SessionAnchor) error {
	switch {
	case !rec.SessionID.Valid() || rec.SessionID.IsZero():
		return fault.New(fault.KindInputValidation, "zero-session-id", "session id must be a non-zero 32-byte hash")
	case !rec.ManifestHash.Valid() || rec.ManifestHash.IsZero():
		return fault.New(fault.KindInputValidation, "zero-manifest-hash", "manifest hash must be a non-zero 32-byte hash")
	case !rec.MerkleRoot.Valid() || rec.MerkleRoot.IsZero():
		return fault.New(fault.KindInputValidation, "zero-merkle-root", "merkle root must be a non-zero 32-byte hash")
	case !rec.Owner.Valid() || rec.Owner.IsZero():
		return fault.New(fault.KindInputValidation, "zero-owner", "owner must be a non-zero address")
	}
	return nil
}
