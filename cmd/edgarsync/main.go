// edgarsync ingests SEC EDGAR filings into a deduplicated local store.
//
// Main CLI entrypoint using cobra command framework.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/seenimoa/edgarsync/api"
	"github.com/seenimoa/edgarsync/internal/config"
	"github.com/seenimoa/edgarsync/internal/filings"
	"github.com/seenimoa/edgarsync/internal/infra"
	"github.com/seenimoa/edgarsync/internal/ingest"
	"github.com/seenimoa/edgarsync/internal/ratelimit"
	"github.com/seenimoa/edgarsync/pkg/models"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global config
var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "edgarsync",
	Short: "edgarsync — SEC EDGAR filings ingestion",
	Long: `edgarsync resolves tickers to registrants, discovers their filings,
downloads and validates each document, and stores it exactly once.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is normal outside development.
		_ = godotenv.Load()

		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		level := cfg.Logging.Level
		if override, _ := cmd.Flags().GetString("log-level"); override != "" {
			level = override
		}
		infra.SetupLogger(os.Stderr, level, cfg.Logging.Format)
		api.Version = version

		if cmd.Name() == "version" || cmd.Name() == "status" {
			return nil
		}
		return cfg.Validate()
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
}

// signalContext is cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// filterFlags applies --forms/--start over the configured filter.
func filterFlags(cmd *cobra.Command, base filings.Filter) (filings.Filter, error) {
	forms, _ := cmd.Flags().GetStringSlice("forms")
	start, _ := cmd.Flags().GetString("start")
	if len(forms) == 0 && start == "" {
		return base, nil
	}
	f, err := filings.NewFilter(forms, start)
	if err != nil {
		return filings.Filter{}, err
	}
	if len(forms) == 0 {
		f.Forms = base.Forms
	}
	if start == "" {
		f.StartDate = base.StartDate
	}
	return f, nil
}

func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("forms", nil, "form types to ingest, e.g. 10-K,8-K (default from config)")
	cmd.Flags().String("start", "", "earliest filing date, YYYY-MM-DD (default from config)")
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("edgarsync %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Ingest Command ---

var ingestCmd = &cobra.Command{
	Use:   "ingest [ticker]",
	Short: "Ingest recent filings for one company",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		a, err := buildApp(ctx, cfg, false, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		f, err := filterFlags(cmd, a.filter)
		if err != nil {
			return err
		}
		res := a.ingest.IngestCompany(ctx, models.NormalizeTicker(args[0]), f)
		if err := printJSON(res); err != nil {
			return err
		}
		if res.Status == ingest.StatusError {
			return fmt.Errorf("ingest %s failed: %s", res.Ticker, res.Error)
		}
		return nil
	},
}

// --- Batch Command ---

var batchCmd = &cobra.Command{
	Use:   "batch [tickers...]",
	Short: "Ingest filings for the tracked companies, or the tickers given",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		a, err := buildApp(ctx, cfg, false, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		var targets []ingest.Target
		if len(args) > 0 {
			for _, t := range args {
				targets = append(targets, ingest.Target{Ticker: models.NormalizeTicker(t)})
			}
		} else {
			path, _ := cmd.Flags().GetString("companies")
			if path == "" {
				path = cfg.Ingest.CompaniesFile
			}
			if targets, err = a.loadTracked(ctx, path); err != nil {
				return err
			}
		}

		f, err := filterFlags(cmd, a.filter)
		if err != nil {
			return err
		}
		res := a.ingest.IngestBatch(ctx, targets, f)
		slog.Info("batch finished",
			"component", "main",
			"run_id", res.RunID,
			"companies", res.CompaniesProcessed,
			"stored", res.FilingsStored,
			"rejected", res.FilingsRejected,
			"failures", res.Failures,
			"duration", res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))
		return printJSON(res)
	},
}

// --- Reconcile Command ---

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Replace placeholder company names with registry names",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		a, err := buildApp(ctx, cfg, false, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.resolver.Reconcile(ctx)
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

// --- Serve Command ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		if port == 0 {
			port = cfg.API.Port
		}

		hub := api.NewWSHub()
		a, err := buildApp(context.Background(), cfg, true, hub.Observer())
		if err != nil {
			return err
		}
		defer a.Close()

		var targets []ingest.Target
		if cfg.Ingest.CompaniesFile != "" {
			if targets, err = a.loadTracked(context.Background(), cfg.Ingest.CompaniesFile); err != nil {
				slog.Warn("no default batch", "component", "main", "err", err)
			}
		}

		bucket := ratelimit.NewTokenBucket(a.redis, ratelimit.BucketConfig{
			Capacity:     cfg.RateLimit.Capacity,
			RefillPerSec: cfg.RateLimit.RefillPerSec,
			TTL:          seconds(cfg.RateLimit.TTLSec),
		})
		proxies, err := ratelimit.ParseProxies(cfg.API.TrustedProxies)
		if err != nil {
			return fmt.Errorf("api.trusted_proxies: %w", err)
		}
		srv := api.NewServer(cfg, api.Deps{
			Ingester: a.ingest,
			Filings:  a.store,
			Limiter:  bucket,
			Proxies:  proxies,
			Hub:      hub,
			Targets:  targets,
			Filter:   a.filter,
		})
		return srv.ListenAndServe(fmt.Sprintf("%s:%d", cfg.API.Host, port))
	},
}

func init() {
	addFilterFlags(ingestCmd)
	addFilterFlags(batchCmd)
	batchCmd.Flags().String("companies", "", "tracked-company YAML file (default from config)")
	serveCmd.Flags().Int("port", 0, "server port (default from config)")
}

// --- Status Command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and key status",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("═══════════════════════════════════════")
		fmt.Println("  edgarsync — System Status")
		fmt.Println("═══════════════════════════════════════")
		fmt.Printf("  Version:       %s (%s)\n", version, commit)
		fmt.Println()

		fmt.Println("  Configuration:")
		fmt.Printf("    Registry:      %s (%.1f calls/s, shared=%t)\n",
			cfg.Registry.DataURL, cfg.Registry.CallsPerSecond, cfg.Registry.SharedLimiter)
		fmt.Printf("    Forms:         %v since %q\n", cfg.Ingest.Forms, cfg.Ingest.StartDate)
		fmt.Printf("    Per company:   %d filings, %d workers\n", cfg.Ingest.MaxFilingsPerCompany, cfg.Ingest.Workers)
		fmt.Printf("    Store:         %s\n", cfg.Storage.Path)
		fmt.Printf("    Redis:         %s/%d\n", cfg.Redis.Addr, cfg.Redis.DB)
		fmt.Printf("    API Server:    %s:%d\n", cfg.API.Host, cfg.API.Port)
		valid := cfg.Validate()
		if valid != nil {
			fmt.Printf("    Problem:       %v\n", valid)
		}
		fmt.Println()

		fmt.Println("  Sensitive settings:")
		for _, st := range config.Settings(cfg) {
			status := "❌ not set"
			if st.From != "unset" {
				status = fmt.Sprintf("✅ set (%s: %s)", st.From, st.Display)
			}
			fmt.Printf("    %-25s %s\n", st.Name+":", status)
		}
		fmt.Println()

		fmt.Println("  Connectivity:")
		if valid != nil {
			fmt.Println("    Registry:      skipped (invalid configuration)")
		} else {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			if err := newRegistryClient(cfg, infra.NewRateLimiter(cfg.Registry.CallsPerSecond)).Ping(ctx); err != nil {
				fmt.Printf("    Registry:      ❌ %v\n", err)
			} else {
				fmt.Println("    Registry:      ✅ reachable")
			}
		}

		fmt.Println("═══════════════════════════════════════")
		return nil
	},
}
