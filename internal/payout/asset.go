package payout

import (
	"fmt"
	"sync"

	"github.com/HamiGames/Lucid-sub008/internal/ident"
)

// Asset is the value store the router disburses from. The production
// deployment backs this with the external settlement rail; the in-process
// Vault below is the reference implementation.
type Asset interface {
	// Transfer moves amount from the router's held balance to the
	// recipient. It is invoked only after all router state is committed.
	Transfer(to ident.Address, amount uint64) error
	// Balance returns the router's held balance.
	Balance() uint64
}

// Vault is an in-memory Asset: a held balance plus per-recipient credits.
type Vault struct {
	mu      sync.Mutex
	held    uint64
	credits map[ident.Address]uint64
}

// NewVault creates a Vault holding an opening balance.
func NewVault(opening uint64) *Vault {
	return &Vault{
		held:    opening,
		credits: make(map[ident.Address]uint64),
	}
}

// Fund adds amount to the held balance.
func (v *Vault) Fund(amount uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.held += amount
}

// Transfer moves amount from the held balance to the recipient's credit.
func (v *Vault) Transfer(to ident.Address, amount uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if amount > v.held {
		return fmt.Errorf("insufficient funds: held %d, requested %d", v.held, amount)
	}
	v.held -= amount
	v.credits[to] += amount
	return nil
}

// Balance returns the held balance.
func (v *Vault) Balance() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.held
}

// CreditOf returns the cumulative amount transferred to addr.
func (v *Vault) CreditOf(addr ident.Address) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.credits[addr]
}
