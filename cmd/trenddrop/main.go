package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/TobiSchelling/TrendDrop/internal/agent"
	"github.com/TobiSchelling/TrendDrop/internal/broadcast"
	"github.com/TobiSchelling/TrendDrop/internal/config"
	"github.com/TobiSchelling/TrendDrop/internal/database"
	"github.com/TobiSchelling/TrendDrop/internal/generate"
	"github.com/TobiSchelling/TrendDrop/internal/llm"
	"github.com/TobiSchelling/TrendDrop/internal/lock"
	"github.com/TobiSchelling/TrendDrop/internal/logging"
	"github.com/TobiSchelling/TrendDrop/internal/pipeline"
	"github.com/TobiSchelling/TrendDrop/internal/server"
	"github.com/TobiSchelling/TrendDrop/internal/synth"
	"github.com/TobiSchelling/TrendDrop/internal/validate"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "trenddrop",
	Short:   "Trending product discovery agent",
	Long:    "TrendDrop discovers trending dropshipping products, validates their marketplace references and scores them.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		var err error
		path, resolveErr := config.ResolveConfigPath(configPath)
		switch {
		case resolveErr == nil:
			cfg, err = config.Load(path)
		case configPath == "":
			cfg, err = config.FromEnv()
		default:
			return resolveErr
		}
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		level := cfg.Logging.Level
		if verbose {
			level = "DEBUG"
		}
		logger = logging.New(os.Stderr, level, cfg.Logging.Format)
		slog.SetDefault(logger)
		if resolveErr != nil {
			logger.Debug("no config file, using defaults")
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(productsCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("trenddrop", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/trenddrop/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure categories, storage and the generation provider.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and product status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats(ctx)
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}
		sum, err := db.DashboardSummary(ctx, time.Now())
		if err != nil {
			return fmt.Errorf("getting summary: %w", err)
		}

		fmt.Printf("Storage: %s\n\n", db.Dialect())
		fmt.Println("Products:")
		fmt.Printf("  Total: %d (cap %d)\n", stats.Products, cfg.Agent.MaxProducts)
		fmt.Printf("  Trending (score >= 80): %d\n", sum.TrendingProducts)
		fmt.Printf("  Average score: %.1f\n", sum.AvgTrendScore)
		fmt.Printf("  New in last 24h: %d\n", sum.NewProducts24h)
		if sum.MostPopularCategory != nil {
			fmt.Printf("  Most popular category: %s\n", *sum.MostPopularCategory)
		}
		fmt.Println("\nSynthesized data:")
		fmt.Printf("  Trend points: %d\n", stats.TrendPoints)
		fmt.Printf("  Regions: %d\n", stats.Regions)
		fmt.Printf("  Videos: %d\n", stats.Videos)
		return nil
	},
}

// --- run command ---

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one discovery cycle: discovery -> validation -> trend analysis",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		a, err := buildAgent(ctx, db)
		if err != nil {
			return err
		}
		defer a.close()

		result, err := a.orch.RunOnce(ctx)
		if result != nil {
			if result.CapReached {
				fmt.Printf("Product cap reached (%d), nothing to discover.\n", cfg.Agent.MaxProducts)
			}
			for i, step := range result.Steps {
				fmt.Printf("\nStep %d/3: %s\n", i+1, step.Name)
				if step.Err != nil {
					fmt.Printf("  Error: %v\n", step.Err)
				} else {
					fmt.Printf("  %s\n", step.Summary)
				}
			}
		}
		if err != nil {
			return err
		}

		fmt.Println("\nCycle complete! Run 'trenddrop serve' to browse the products.")
		return nil
	},
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server and the scheduled agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		a, err := buildAgent(ctx, db)
		if err != nil {
			return err
		}
		defer a.close()

		if cfg.Agent.AutoStart {
			a.orch.Start()
		}
		defer a.orch.Stop()

		port := cfg.Server.Port
		if servePort != 0 {
			port = servePort
		}
		srv := server.New(db, a.orch, a.hub, logger)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(ctx, net.JoinHostPort(cfg.Server.Host, strconv.Itoa(port)), srv.Handler(), logger)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (default from config)")
}

// --- products command ---

var productsCmd = &cobra.Command{
	Use:   "products",
	Short: "Inspect stored products",
}

var (
	listLimit    int
	listCategory string
)

var productsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List top products by trend score",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		page, err := db.ListProductsPage(ctx, database.ProductFilter{
			Limit:    listLimit,
			Category: listCategory,
		})
		if err != nil {
			return err
		}

		if len(page.Items) == 0 {
			fmt.Println("No products yet. Discover some with: trenddrop run")
			return nil
		}

		fmt.Printf("Top products (%d of %d):\n\n", len(page.Items), page.Total)
		for _, p := range page.Items {
			fmt.Printf("  [%d] %3d  %s\n", p.ID, p.TrendScore, p.Name)
			fmt.Printf("        %s / %s  $%.2f-$%.2f  via %s\n", p.Category, p.Subcategory, p.PriceLow, p.PriceHigh, p.SourcePlatform)
		}
		return nil
	},
}

var productsRemoveCmd = &cobra.Command{
	Use:   "remove [id]",
	Short: "Remove a product and its trend, region and video data",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid product ID: %s", args[0])
		}

		product, err := db.GetProduct(ctx, id)
		if err != nil {
			return err
		}
		if product == nil {
			return fmt.Errorf("product %d not found", id)
		}

		if _, err := db.DeleteProduct(ctx, id); err != nil {
			return err
		}
		fmt.Printf("Removed product [%d]: %s\n", id, product.Name)
		return nil
	},
}

func init() {
	productsListCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "Number of products to show")
	productsListCmd.Flags().StringVar(&listCategory, "category", "", "Only show this category")

	productsCmd.AddCommand(productsListCmd)
	productsCmd.AddCommand(productsRemoveCmd)
}

// openDB opens the configured store, retrying while it comes up.
func openDB(ctx context.Context) (*database.DB, error) {
	var open database.Opener
	switch cfg.Storage.Driver {
	case "postgres":
		dsn := cfg.Storage.DSN
		open = func(ctx context.Context) (*database.DB, error) {
			return database.OpenPostgres(ctx, dsn)
		}
	default:
		dbPath := cfg.Storage.DSN
		if dbPath == "" {
			dataDir := cfg.GetDataDir()
			if err := os.MkdirAll(dataDir, 0o755); err != nil {
				return nil, fmt.Errorf("creating data directory: %w", err)
			}
			dbPath = filepath.Join(dataDir, "trenddrop.db")
		}
		open = func(context.Context) (*database.DB, error) {
			return database.Open(dbPath)
		}
	}
	return database.OpenWithRetry(ctx, open, cfg.Storage.InitAttempts, cfg.Storage.InitDelay(), logger)
}

// agentDeps holds the wired agent and what must be closed with it.
type agentDeps struct {
	orch  *agent.Orchestrator
	hub   *broadcast.Hub
	redis *redis.Client
}

func (a *agentDeps) close() {
	if a.redis != nil {
		a.redis.Close()
	}
}

func buildAgent(ctx context.Context, db *database.DB) (*agentDeps, error) {
	seed := cfg.Agent.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rnd := rand.New(rand.NewSource(seed))

	provider := llm.CreateProvider(ctx, cfg.Generation, logger)
	gen := generate.New(cfg.Generation, provider, rnd, logger)
	pipe := pipeline.New(cfg.Agent, db, gen, validate.New(cfg.Agent.MarketplaceDomains), synth.New(rnd), logger)

	hub := broadcast.NewHub(logger)
	deps := &agentDeps{hub: hub}

	var opts []agent.Option
	if cfg.Redis.Addr != "" {
		deps.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := deps.redis.Ping(ctx).Err(); err != nil {
			deps.redis.Close()
			return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.Addr, err)
		}
		opts = append(opts, agent.WithLocker(lock.NewRedisLock(deps.redis, cfg.Redis.LockKey, cfg.Redis.LockTTL())))
		logger.Info("cycle lock enabled", "addr", cfg.Redis.Addr, "key", cfg.Redis.LockKey)
	}

	deps.orch = agent.New(agent.NewAgentContext(hub), pipe, cfg.Agent.Interval(), logger, opts...)
	return deps, nil
}
