package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	_ "github.com/lib/pq" // Postgres Driver
	_ "modernc.org/sqlite"

	"github.com/archivekeep/funcadmin/pkg/artifacts"
	"github.com/archivekeep/funcadmin/pkg/backup"
	"github.com/archivekeep/funcadmin/pkg/config"
	"github.com/archivekeep/funcadmin/pkg/contracts"
	"github.com/archivekeep/funcadmin/pkg/logbook"
	"github.com/archivekeep/funcadmin/pkg/logger"
	"github.com/archivekeep/funcadmin/pkg/observability"
	"github.com/archivekeep/funcadmin/pkg/query"
	"github.com/archivekeep/funcadmin/pkg/referential"
	"github.com/archivekeep/funcadmin/pkg/sequence"
	"github.com/archivekeep/funcadmin/pkg/store"
	"github.com/archivekeep/funcadmin/pkg/xref"
)

// migrator is implemented by every SQL-backed component.
type migrator interface {
	Migrate(ctx context.Context) error
}

// app holds the collaborators shared by the per-collection services.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *sql.DB
	store     *store.SQLStore
	journal   *logbook.SQLJournal
	counter   sequence.Counter
	allocator *sequence.Allocator
	modes     *sequence.Modes
	checkers  xref.Set
	backups   *backup.Service
	queries   *query.Evaluator
	obs       *observability.Provider
}

func openApp(ctx context.Context, stderr io.Writer) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.Init(&logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}, stderr)

	profile := &config.Profile{}
	if cfg.ProfilePath != "" {
		if profile, err = config.LoadProfile(cfg.ProfilePath); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.DatabaseDriver == "sqlite" {
		// sqlite serialises writers
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	a := &app{
		cfg:     cfg,
		logger:  log,
		db:      db,
		store:   store.NewSQLStore(db),
		journal: logbook.NewSQLJournal(db),
		modes:   sequence.NewModes(profile.SlaveCollections()),
	}

	if cfg.RedisAddr != "" {
		a.counter = sequence.NewRedisCounter(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		log.Info("sequence counter", "backend", "redis", "addr", cfg.RedisAddr)
	} else {
		a.counter = sequence.NewSQLCounter(db)
	}
	a.allocator = sequence.NewAllocator(a.counter)

	if a.checkers, err = buildCheckers(cfg, profile, a.store); err != nil {
		_ = db.Close()
		return nil, err
	}

	blobs, err := artifacts.NewStoreFromEnv(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("blob store: %w", err)
	}
	a.backups = backup.NewService(blobs, a.store, a.allocator)

	if a.queries, err = query.NewEvaluator(); err != nil {
		_ = db.Close()
		return nil, err
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.Enabled = cfg.OTelEnabled
	obsCfg.Endpoint = cfg.OTelEndpoint
	if a.obs, err = observability.New(ctx, obsCfg); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

// buildCheckers resolves every reference kind. Agencies and units come from
// Elasticsearch when addresses are configured, otherwise from the profile.
// Management contracts are looked up in the local store.
func buildCheckers(cfg *config.Config, profile *config.Profile, docs xref.IdentifierLookup) (xref.Set, error) {
	var agencies, units xref.Checker = xref.NewStatic(profile.Agencies()), xref.NewStatic(profile.Units())
	if len(cfg.ElasticsearchAddresses) > 0 {
		esAgencies, err := xref.NewElasticsearch(cfg.ElasticsearchAddresses, cfg.ElasticsearchAgencyIndex)
		if err != nil {
			return nil, fmt.Errorf("elasticsearch: %w", err)
		}
		esUnits, err := xref.NewElasticsearch(cfg.ElasticsearchAddresses, cfg.ElasticsearchUnitIndex)
		if err != nil {
			return nil, fmt.Errorf("elasticsearch: %w", err)
		}
		agencies, units = esAgencies, esUnits
	}

	return xref.Set{
		contracts.RefOriginatingAgencies: agencies,
		contracts.RefRootUnits:           units,
		contracts.RefExcludedRootUnits:   units,
		contracts.RefParentUnits:         units,
		contracts.RefArchiveProfiles:     xref.NewStatic(profile.ArchiveProfiles()),
		contracts.RefStorageStrategies:   xref.NewStatic(profile.StorageStrategies()),
		contracts.RefManagementContract:  xref.NewContractIndex(docs, contracts.ManagementContracts),
	}, nil
}

func (a *app) service(coll contracts.Collection) (*referential.Service, error) {
	return referential.NewService(referential.Options{
		Collection: coll,
		Store:      a.store,
		Allocator:  a.allocator,
		Modes:      a.modes,
		Checkers:   a.checkers,
		Journal:    a.journal,
		Backups:    a.backups,
		Queries:    a.queries,
		Tracker:    a.obs,
		Logger:     a.logger,
	})
}

func (a *app) migrate(ctx context.Context) error {
	targets := []migrator{a.store, a.journal}
	if m, ok := a.counter.(migrator); ok {
		targets = append(targets, m)
	}
	for _, m := range targets {
		if err := m.Migrate(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) Close(ctx context.Context) error {
	return errors.Join(a.obs.Shutdown(ctx), a.db.Close())
}
