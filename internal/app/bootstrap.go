package app

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"optionclear/internal/engine"
	"optionclear/internal/event"
	"optionclear/internal/infra"
	"optionclear/internal/infra/storage"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config  *infra.Config
	Storage *storage.Storage
	Metrics *infra.Metrics
	Bus     *event.Bus
	House   *engine.Clearinghouse
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization (config, DB, engine).
func (b *Bootstrap) Initialize(configPath string) error {
	slog.Info("Bootstrapping clearinghouse...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 3. Initialize Storage (DB)
	dbPath, err := getDBPath()
	if err != nil {
		return fmt.Errorf("failed to resolve DB path: %w", err)
	}
	store, err := storage.NewStorage(dbPath)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("Database initialized", slog.String("path", dbPath))

	// 4. Event bus and metrics
	b.Bus = event.NewBus()
	b.Metrics = infra.NewMetrics()

	// 5. Clearinghouse
	params, err := cfg.ClearingParams()
	if err != nil {
		return err
	}
	house, err := engine.NewClearinghouse(cfg.Clearing.Owner, params,
		infra.NewLedgerGateway(), store, b.Bus, b.Metrics)
	if err != nil {
		return err
	}
	b.House = house

	// 6. Restore persisted state
	accounts, err := store.LoadAccounts()
	if err != nil {
		return err
	}
	options, err := store.LoadOptions()
	if err != nil {
		return err
	}
	quotes, err := store.LoadQuotes()
	if err != nil {
		return err
	}
	if err := house.RestoreState(accounts, options, quotes); err != nil {
		return err
	}

	// 7. Publisher allow-list from config
	for _, p := range cfg.Clearing.Publishers {
		if err := house.AllowPublisher(cfg.Clearing.Owner, p); err != nil {
			return err
		}
	}
	if cfg.Feed.Publisher != "" {
		if err := house.AllowPublisher(cfg.Clearing.Owner, cfg.Feed.Publisher); err != nil {
			return err
		}
	}

	slog.Info("Clearinghouse ready",
		slog.Int("options", len(options)),
		slog.Int("accounts", len(accounts)))
	return nil
}

// getDBPath resolves the database file path based on OS
func getDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "OptionClear", "data", "clearinghouse.db"), nil
}
