// Package node provides the bootstrap pipeline for the ledger service.
package node

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/HamiGames/Lucid-sub008/internal/anchor"
	"github.com/HamiGames/Lucid-sub008/internal/api/rest"
	"github.com/HamiGames/Lucid-sub008/internal/chainclock"
	"github.com/HamiGames/Lucid-sub008/internal/config"
	"github.com/HamiGames/Lucid-sub008/internal/ident"
	"github.com/HamiGames/Lucid-sub008/internal/keys"
	"github.com/HamiGames/Lucid-sub008/internal/notify"
	"github.com/HamiGames/Lucid-sub008/internal/params"
	"github.com/HamiGames/Lucid-sub008/internal/payout"
	"github.com/HamiGames/Lucid-sub008/internal/store"
)

// Controller bootstraps the ledger, wires all components, and runs until
// shutdown.
type Controller struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewController creates a Controller.
func NewController(cfg *config.Config, logger *zap.Logger) *Controller {
	return &Controller{cfg: cfg, logger: logger}
}

// Run bootstraps all components and blocks until SIGINT/SIGTERM.
func (c *Controller) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- 1. Open the store (optional) ---
	var st *store.Store
	if c.cfg.Node.DataDir != "" {
		var err error
		st, err = store.Open(c.cfg.Node.DataDir, c.logger)
		if err != nil {
			return fmt.Errorf("store open: %w", err)
		}
		defer st.Close()
	} else {
		c.logger.Warn("No data directory configured; running in-memory")
	}

	// --- 2. Wire notification sinks ---
	var sink notify.Sink = notify.NewZapSink(c.logger)
	if st != nil {
		sink = notify.MultiSink{sink, notify.NewJournalSink(st, c.logger)}
	}

	clock := chainclock.System{}
	roles, err := c.roles()
	if err != nil {
		return err
	}

	// --- 3. Anchor registry ---
	anchorers := make([]ident.Address, 0, len(c.cfg.Anchors.Anchorers))
	for _, a := range c.cfg.Anchors.Anchorers {
		addr, ok := ident.ParseAddress(a)
		if !ok {
			return fmt.Errorf("invalid anchorer address %q", a)
		}
		anchorers = append(anchorers, addr)
	}
	anchors, err := anchor.New(anchor.Config{
		Admin:          roles.Admin,
		MaxPerInterval: c.cfg.Anchors.MaxPerInterval,
		Interval:       c.cfg.Anchors.Interval,
		Restricted:     c.cfg.Anchors.Restricted,
		Anchorers:      anchorers,
	}, clock, st, sink, c.logger)
	if err != nil {
		return err
	}

	// --- 4. Payout router + compliance gate ---
	vault := payout.NewVault(c.cfg.Payouts.OpeningBalance)
	router, err := payout.NewRouter(payout.Config{
		Asset:     c.cfg.Payouts.Asset,
		MaxPerTx:  c.cfg.Payouts.MaxPerTx,
		MaxPerDay: c.cfg.Payouts.MaxPerDay,
		Roles:     roles,
	}, vault, clock, st, sink, c.logger)
	if err != nil {
		return err
	}
	signers, err := c.signers()
	if err != nil {
		return err
	}
	gate, err := payout.NewGate(router, payout.GateConfig{
		DeploymentID: c.cfg.Node.DeploymentID,
		Signers:      signers,
	})
	if err != nil {
		return err
	}

	// --- 5. Parameter registry ---
	pr, err := params.New(roles.Admin, st, sink, c.logger)
	if err != nil {
		return err
	}

	// --- 6. Serve REST until shutdown ---
	api := rest.New(anchors, gate, pr, c.logger)
	srv := &http.Server{
		Addr:    c.cfg.Node.ListenAddr,
		Handler: api.Handler(),
	}

	c.logger.Info("Ledger service running",
		zap.String("listenAddr", c.cfg.Node.ListenAddr),
		zap.String("deploymentID", c.cfg.Node.DeploymentID),
		zap.Int("complianceSigners", len(signers)),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("rest serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		c.logger.Info("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (c *Controller) roles() (payout.Roles, error) {
	admin, ok := ident.ParseAddress(c.cfg.Node.Roles.Admin)
	if !ok {
		return payout.Roles{}, fmt.Errorf("invalid admin address %q", c.cfg.Node.Roles.Admin)
	}
	disburser, ok := ident.ParseAddress(c.cfg.Node.Roles.Disburser)
	if !ok {
		return payout.Roles{}, fmt.Errorf("invalid disburser address %q", c.cfg.Node.Roles.Disburser)
	}
	pauser, ok := ident.ParseAddress(c.cfg.Node.Roles.Pauser)
	if !ok {
		return payout.Roles{}, fmt.Errorf("invalid pauser address %q", c.cfg.Node.Roles.Pauser)
	}
	return payout.Roles{Admin: admin, Disburser: disburser, Pauser: pauser}, nil
}

func (c *Controller) signers() ([]ed25519.PublicKey, error) {
	out := make([]ed25519.PublicKey, 0, len(c.cfg.KYC.Signers))
	for _, s := range c.cfg.KYC.Signers {
		pub, err := keys.ParsePublicKey(s)
		if err != nil {
			return nil, fmt.Errorf("compliance signer: %w", err)
		}
		out = append(out, pub)
	}
	return out, nil
}
