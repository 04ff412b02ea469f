package payout

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/HamiGames/Lucid-sub008/internal/chainclock"
	"github.com/HamiGames/Lucid-sub008/internal/fault"
	"github.com/HamiGames/Lucid-sub008/internal/ident"
	"github.com/HamiGames/Lucid-sub008/internal/keys"
	"github.com/HamiGames/Lucid-sub008/internal/notify"
)

const allowPrefix = "kyc/allow/"

// GateConfig configures the compliance gate on top of a Router.
type GateConfig struct {
	// DeploymentID is mixed into every signed digest so signatures cannot
	// replay across deployments.
	DeploymentID string
	// Signers holds the compliance-signer public keys. A signature must
	// verify under one of them, and SetDailyLimit callers must present an
	// address derived from one of them.
	Signers []ed25519.PublicKey
}

// Gate is the KYC-gated payout path. It layers signature verification and
// per-(recipient, day) override allowances over the base router; the
// router's global caps always apply underneath.
type Gate struct {
	*Router

	deploymentID string
	signers      map[ident.Address]ed25519.PublicKey

	allowMu    sync.Mutex
	allowances map[string]uint64 // "<recipient>/<day>" → remaining
}

// NewGate wraps router with the compliance gate, reloading persisted
// allowances from the router's store.
func NewGate(router *Router, cfg GateConfig) (*Gate, error) {
	g := &Gate{
		Router:       router,
		deploymentID: cfg.DeploymentID,
		signers:      make(map[ident.Address]ed25519.PublicKey, len(cfg.Signers)),
		allowances:   make(map[string]uint64),
	}
	for _, pub := range cfg.Signers {
		g.signers[keys.AddressOf(pub)] = pub
	}
	if router.store != nil {
		if err := g.load(); err != nil {
			return nil, fmt.Errorf("compliance gate load: %w", err)
		}
	}
	return g, nil
}

// DisburseKYC pays amount to recipient under a compliance-signer
// authorization over (recipient, kycHash, expiry). The full base disburse
// logic runs underneath; the KYC path only ever adds restriction.
func (g *Gate) DisburseKYC(caller ident.Address, sessionID ident.Hash, recipient ident.Address, amount uint64, reason string, kycHash ident.Hash, expiry int64, sig []byte) error {
	g.allowMu.Lock()
	defer g.allowMu.Unlock()

	now := g.clock.Now()
	if now.Unix() > expiry {
		return fault.New(fault.KindSignature, "signature-expired",
			fmt.Sprintf("compliance signature expired at %d", expiry))
	}
	if !kycHash.Valid() || kycHash.IsZero() {
		return fault.New(fault.KindInputValidation, "zero-kyc-hash", "kyc hash must be a non-zero 32-byte hash")
	}
	if !g.signatureValid(recipient, kycHash, expiry, sig) {
		return fault.New(fault.KindSignature, "invalid-signature",
			"signature does not verify under any compliance signer")
	}

	day := chainclock.DayBucket(now)
	key := allowanceKey(recipient, day)
	remaining, limited := g.allowances[key]
	if limited && amount > remaining {
		return fault.New(fault.KindRateLimit, "allowance-exceeded",
			fmt.Sprintf("amount %d exceeds remaining daily allowance %d", amount, remaining))
	}

	// Reserve the allowance durably, then run the base path; the reserve is
	// rolled back if the base disburse rejects.
	if limited {
		if err := g.persistAllowance(key, remaining-amount); err != nil {
			return err
		}
	}
	if err := g.Router.Disburse(caller, sessionID, recipient, amount, reason); err != nil {
		if limited {
			if perr := g.persistAllowance(key, remaining); perr != nil {
				g.log.Error("Allowance rollback failed", zap.String("key", key), zap.Error(perr))
			}
		}
		return err
	}
	if limited {
		g.allowances[key] = remaining - amount
	}

	g.sink.Emit(notify.KYCPayout{
		SessionID: sessionID,
		Recipient: recipient,
		Amount:    amount,
		KYCHash:   kycHash,
		Expiry:    expiry,
	})
	return nil
}

// SetDailyLimit sets today's override allowance for recipient. Compliance
// signer role only. Other day buckets are unaffected.
func (g *Gate) SetDailyLimit(caller, recipient ident.Address, limit uint64) error {
	g.allowMu.Lock()
	defer g.allowMu.Unlock()

	if _, ok := g.signers[caller]; !ok {
		return fault.New(fault.KindAuthorization, "not-compliance-signer", "caller does not hold the compliance-signer role")
	}
	if !recipient.Valid() || recipient.IsZero() {
		return fault.New(fault.KindInputValidation, "zero-recipient", "recipient must be a non-zero address")
	}

	day := chainclock.DayBucket(g.clock.Now())
	key := allowanceKey(recipient, day)
	if err := g.persistAllowance(key, limit); err != nil {
		return err
	}
	g.allowances[key] = limit
	g.log.Info("Daily allowance set",
		zap.String("recipient", string(recipient)),
		zap.Int64("day", day),
		zap.Uint64("limit", limit),
	)
	return nil
}

// Allowance returns today's remaining override allowance for recipient.
// The second result is false when no allowance is set (unrestricted).
func (g *Gate) Allowance(recipient ident.Address) (uint64, bool) {
	g.allowMu.Lock()
	defer g.allowMu.Unlock()
	remaining, ok := g.allowances[allowanceKey(recipient, chainclock.DayBucket(g.clock.Now()))]
	return remaining, ok
}

// SignerAddresses returns the derived address of every compliance signer.
func (g *Gate) SignerAddresses() []ident.Address {
	out := make([]ident.Address, 0, len(g.signers))
	for addr := range g.signers {
		out = append(out, addr)
	}
	return out
}

func (g *Gate) signatureValid(recipient ident.Address, kycHash ident.Hash, expiry int64, sig []byte) bool {
	for _, pub := range g.signers {
		if keys.VerifyKYC(pub, g.deploymentID, recipient, kycHash, expiry, sig) {
			return true
		}
	}
	return false
}

func (g *Gate) persistAllowance(key string, remaining uint64) error {
	if g.store == nil {
		return nil
	}
	if err := g.store.Put(allowPrefix+key, remaining); err != nil {
		return fmt.Errorf("persist allowance: %w", err)
	}
	return nil
}

func (g *Gate) load() error {
	return g.store.Scan(allowPrefix, func(key string, value []byte) error {
		var remaining uint64
		if err := json.Unmarshal(value, &remaining); err != nil {
			return fmt.Errorf("allowance %s: %w", key, err)
		}
		g.allowances[strings.TrimPrefix(key, allowPrefix)] = remaining
		return nil
	})
}

func allowanceKey(recipient ident.Address, day int64) string {
	return string(recipient) + "/" + strconv.FormatInt(day, 10)
}
