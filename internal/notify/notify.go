// Package notify carries the append-only notifications the ledger emits for
// downstream indexers and monitoring. The registries deliberately keep
// notifications richer than persisted state: the session record travels in
// full on SessionRegistered so consumers can index without re-reading.
package notify

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/HamiGames/Lucid-sub008/internal/ident"
)

// Event is a ledger notification.
type Event interface {
	EventName() string
}

// SessionRegistered carries the full session anchor record.
type SessionRegistered struct {
	SessionID    ident.Hash    `json:"sessionId"`
	ManifestHash ident.Hash    `json:"manifestHash"`
	MerkleRoot   ident.Hash    `json:"merkleRoot"`
	StartedAt    int64         `json:"startedAt"`
	Owner        ident.Address `json:"owner"`
	ChunkCount   uint32        `json:"chunkCount"`
	AnchoredAt   int64         `json:"anchoredAt"`
}

func (SessionRegistered) EventName() string { return "SessionRegistered" }

// ChunkAnchored is the observational per-chunk anchor event.
type ChunkAnchored struct {
	SessionID  ident.Hash `json:"sessionId"`
	ChunkIndex uint32     `json:"chunkIndex"`
	ChunkHash  ident.Hash `json:"chunkHash"`
}

func (ChunkAnchored) EventName() string { return "ChunkAnchored" }

// Paid records a successful disbursement.
type Paid struct {
	SessionID ident.Hash    `json:"sessionId"`
	Recipient ident.Address `json:"recipient"`
	Amount    uint64        `json:"amount"`
	Reason    string        `json:"reason"`
	Day       int64         `json:"day"`
}

func (Paid) EventName() string { return "Paid" }

// EmergencyWithdraw records an admin fail-safe withdrawal while paused.
type EmergencyWithdraw struct {
	Recipient ident.Address `json:"recipient"`
	Amount    uint64        `json:"amount"`
}

func (EmergencyWithdraw) EventName() string { return "EmergencyWithdraw" }

// KYCPayout is emitted alongside Paid for compliance-gated disbursements.
type KYCPayout struct {
	SessionID ident.Hash    `json:"sessionId"`
	Recipient ident.Address `json:"recipient"`
	Amount    uint64        `json:"amount"`
	KYCHash   ident.Hash    `json:"kycHash"`
	Expiry    int64         `json:"expiry"`
}

func (KYCPayout) EventName() string { return "KYCPayout" }

// ParamUpdated records a governance parameter change.
type ParamUpdated struct {
	Key string `json:"key"`
	Old int64  `json:"old"`
	New int64  `json:"new"`
}

func (ParamUpdated) EventName() string { return "ParamUpdated" }

// Sink consumes emitted events.
type Sink interface {
	Emit(ev Event)
}

// Discard drops every event. Useful for embedded and test use.
type Discard struct{}

func (Discard) Emit(Event) {}

// ZapSink logs every event as a structured record.
type ZapSink struct {
	log *zap.Logger
}

// NewZapSink returns a Sink that logs events through logger.
func NewZapSink(logger *zap.Logger) *ZapSink {
	return &ZapSink{log: logger}
}

func (s *ZapSink) Emit(ev Event) {
	s.log.Info("ledger event",
		zap.String("event", ev.EventName()),
		zap.Any("payload", ev),
	)
}

// Appender is the journal destination (implemented by store.Store).
type Appender interface {
	Append(name string, payload []byte) error
}

// JournalSink appends events to a durable append-only journal.
type JournalSink struct {
	journal Appender
	log     *zap.Logger
}

// NewJournalSink returns a Sink writing to journal.
func NewJournalSink(journal Appender, logger *zap.Logger) *JournalSink {
	return &JournalSink{journal: journal, log: logger}
}

func (s *JournalSink) Emit(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.log.Warn("journal marshal failed", zap.String("event", ev.EventName()), zap.Error(err))
		return
	}
	if err := s.journal.Append(ev.EventName(), payload); err != nil {
		s.log.Warn("journal append failed", zap.String("event", ev.EventName()), zap.Error(err))
	}
}

// MultiSink fans an event out to every sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(ev Event) {
	for _, s := range m {
		s.Emit(ev)
	}
}
