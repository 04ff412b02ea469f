package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/HamiGames/Lucid-sub008/internal/config"
	"github.com/HamiGames/Lucid-sub008/internal/keys"
	"github.com/HamiGames/Lucid-sub008/internal/node"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "lucid-ledgerd",
		Short: "Lucid ledger — session anchoring, rate-limited payouts, governance parameters",
	}

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the ledger service",
		RunE:  runStart,
	}
	startCmd.Flags().StringVarP(&cfgFile, "config", "c", "", "Path to config file (default: configs/config.yaml)")
	rootCmd.AddCommand(startCmd)

	keygenCmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an ed25519 keypair and its derived address",
		RunE:  runKeygen,
	}
	rootCmd.AddCommand(keygenCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runStart(cmd *cobra.Command, args []string) error {
	// Set up logger
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer logger.Sync()

	// Load config
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}

	logger.Info("Starting ledger service", zap.String("deploymentID", cfg.Node.DeploymentID))

	ctrl := node.NewController(cfg, logger)
	return ctrl.Run(context.Background())
}

func runKeygen(cmd *cobra.Command, args []string) error {
	pub, priv, err := keys.Generate()
	if err != nil {
		return fmt.Errorf("keygen: %w", err)
	}
	fmt.Printf("public:  %s\n", keys.EncodeKey(pub))
	fmt.Printf("private: %s\n", keys.EncodeKey(priv))
	fmt.Printf("address: %s\n", keys.AddressOf(pub))
	return nil
}
