package cli

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/neilberkman/casesim/internal/core/config"
	"github.com/neilberkman/casesim/internal/core/db"
	"github.com/neilberkman/casesim/internal/core/llm"
	"github.com/neilberkman/casesim/internal/core/models"
	"github.com/neilberkman/casesim/internal/core/orchestrator"
	"github.com/neilberkman/casesim/internal/core/workbook"
)

// CaseStore is what every command needs from a case-history backend
type CaseStore interface {
	orchestrator.CaseHistoryStore
	orchestrator.CredentialValidator
	ListCases(ctx context.Context, f models.CaseFilter) ([]models.CaseRecord, error)
	GetCase(ctx context.Context, id string) (*models.CaseRecord, error)
}

// App bundles the loaded config with an open store and, for commands that
// talk to the assistant, an orchestrator.
type App struct {
	Config *config.Config
	Store  CaseStore
	DB     *db.DB // nil unless the sqlite store is selected
	Orch   *orchestrator.Orchestrator

	closeFn func() error
}

// Close releases the store
func (a *App) Close() error {
	if a.closeFn == nil {
		return nil
	}
	return a.closeFn()
}

// loadConfig applies global flags over config.Load
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if storeKind != "" {
		cfg.Store = storeKind
	}
	if workbookPath != "" {
		cfg.WorkbookPath = workbookPath
	}
	if userName != "" {
		cfg.DefaultUser = userName
	}
	return cfg, nil
}

// openApp opens the configured store. withAssistant also builds the thread
// service and orchestrator, and requires a complete provider config.
func openApp(ctx context.Context, withAssistant bool, logger *log.Logger) (*App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil && withAssistant {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}

	app := &App{Config: cfg}
	switch cfg.Store {
	case config.StoreXLSX:
		if cfg.WorkbookPath == "" {
			return nil, errors.New("xlsx store needs --workbook or CASESIM_WORKBOOK")
		}
		wb, err := workbook.Open(cfg.WorkbookPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open workbook: %w", err)
		}
		app.Store = wb
	case config.StoreSQLite:
		path := cfg.DBPath
		if path == "" {
			if path, err = db.DefaultPath(); err != nil {
				return nil, err
			}
		}
		database, err := db.New(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		app.Store = database
		app.DB = database
		app.closeFn = database.Close
	default:
		return nil, fmt.Errorf("unknown store %q (want sqlite or xlsx)", cfg.Store)
	}

	if !withAssistant {
		return app, nil
	}

	threads, err := newThreadService(ctx, cfg)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.Orch = orchestrator.New(threads, app.Store, orchestrator.Config{
		AssistantIDs:        cfg.Assistants,
		OpeningTemplate:     cfg.OpeningPromptTemplate,
		FinalTemplate:       cfg.FinalPromptTemplate,
		SimilarityThreshold: cfg.SimilarityThreshold,
		SimilarityPolicy:    cfg.SimilarityPolicy,
		MaxRegenerations:    cfg.MaxRegenerations,
		SectionMarkers:      cfg.SectionMarkers,
		AllowUngraded:       cfg.AllowUngraded,
		GradeLabel:          cfg.GradeLabel,
		Poll:                cfg.PollPolicy(),
		Logger:              logger,
	})
	return app, nil
}

func newThreadService(ctx context.Context, cfg *config.Config) (llm.ThreadService, error) {
	switch cfg.Provider {
	case config.ProviderBedrock:
		provider, err := llm.NewBedrockProvider(ctx, llm.BedrockConfig{
			Region:  cfg.AWSRegion,
			ModelID: cfg.BedrockModel,
		})
		if err != nil {
			return nil, err
		}
		return llm.NewLocalThreads(provider, cfg.Instructions, llm.WithRunTimeout(cfg.PollTimeout)), nil
	default:
		return llm.NewOpenAIThreads(llm.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
		})
	}
}
