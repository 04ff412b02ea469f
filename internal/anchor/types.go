package anchor

import (
	"time"

	"github.com/HamiGames/Lucid-sub008/internal/ident"
)

// SessionAnchor is the immutable commitment binding a session id to its
// content hashes. Created once by RegisterSession, never mutated or deleted.
type SessionAnchor struct {
	SessionID    ident.Hash    `json:"sessionId"`
	ManifestHash ident.Hash    `json:"manifestHash"`
	MerkleRoot   ident.Hash    `json:"merkleRoot"`
	StartedAt    int64         `json:"startedAt"`
	Owner        ident.Address `json:"owner"`
	ChunkCount   uint32        `json:"chunkCount"`
	AnchoredAt   int64         `json:"anchoredAt"` // service-clock registration time
}

// Config is the registry's immutable construction-time configuration.
type Config struct {
	// Admin may pause, unpause and finalize until finalize runs.
	Admin ident.Address
	// MaxPerInterval bounds registrations per rate-limit interval.
	MaxPerInterval int
	// Interval is the circuit-breaker interval width.
	Interval time.Duration
	// Restricted gates RegisterSession/AnchorChunk on the anchorer set.
	// When false, anchoring is permissionless and bounded only by the
	// circuit breaker.
	Restricted bool
	// Anchorers is the allow-list consulted when Restricted is set.
	Anchorers []ident.Address
}

// flags is the persisted lifecycle state.
type flags struct {
	Paused    bool `json:"paused"`
	Finalized bool `json:"finalized"`
}
