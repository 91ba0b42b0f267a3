// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the claim-engine CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pdiddy/claim-engine/internal/config"
	"github.com/pdiddy/claim-engine/internal/extract"
	"github.com/pdiddy/claim-engine/internal/llm"
	"github.com/pdiddy/claim-engine/internal/logging"
	"github.com/pdiddy/claim-engine/internal/metrics"
	"github.com/pdiddy/claim-engine/internal/pipeline"
	"github.com/pdiddy/claim-engine/internal/secrets"
	"github.com/pdiddy/claim-engine/internal/store"
	"github.com/pdiddy/claim-engine/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// Populated by the root command before any subcommand runs.
var (
	cfg    types.Config
	logger = zap.NewNop()
)

// rootCmd is the base command for the claim-engine CLI.
var rootCmd = &cobra.Command{
	Use:   "claim-engine",
	Short: "Extract claims and references from research text",
	Long: `claim-engine sends research text to a local language model, validates
the claims and references it returns, and stores them in a project's claim
graph. References are deduplicated globally by DOI, then by title and first
author.

Run "claim-engine serve" for the HTTP API or "claim-engine extract" for a
single batch from the command line.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}

		l, err := logging.New(loaded.Log.Debug)
		if err != nil {
			return err
		}
		logger = l

		s, err := secrets.Load(secrets.DefaultDir, logger)
		if err != nil {
			return err
		}
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			logger.Debug("loaded secrets", zap.Strings("keys", keys))
		}
		secrets.Apply(&loaded, s)

		cfg = loaded
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	cobra.OnInitialize(initConfig)
	config.SetDefaults(viper.GetViper())

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./claim-engine.yaml or ~/.config/claim-engine/claim-engine.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().String("db", "", "store DSN (sqlite file path or postgres URL)")
	rootCmd.PersistentFlags().String("driver", "", "store driver: sqlite3 or pgx")
	rootCmd.PersistentFlags().String("base-url", "", "OpenAI-compatible model server base URL")
	rootCmd.PersistentFlags().String("model", "", "model identifier")

	bindFlag("log.debug", "debug")
	bindFlag("store.dsn", "db")
	bindFlag("store.driver", "driver")
	bindFlag("model.base_url", "base-url")
	bindFlag("model.model", "model")
}

func bindFlag(key, flag string) {
	if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("claim-engine")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "claim-engine"))
		}
	}

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// --- shared wiring ---

func openStore(ctx context.Context) (*store.Store, error) {
	return store.Open(ctx, cfg.Store, logger)
}

func newModelClient(m *metrics.ExtractionMetrics) (*llm.OpenAIClient, error) {
	return llm.NewClient(cfg.Model, llm.WithObserver(func(outcome string, d time.Duration) {
		m.ObserveModelRequest(outcome, d)
	}))
}

func newPipeline(client llm.Client, s *store.Store, m *metrics.ExtractionMetrics) *pipeline.Pipeline {
	return pipeline.New(
		extract.New(client, logger),
		pipeline.StoreGateway(s),
		pipeline.Config{MaxInputChars: cfg.Extraction.MaxInputChars},
		m,
		logger,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
