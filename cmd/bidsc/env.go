package main

import (
	"fmt"
	"path/filepath"

	"bidsc/internal/checkpoint"
	"bidsc/internal/config"
	"bidsc/internal/derive"
	"bidsc/internal/entities"
	"bidsc/internal/grouping"
	"bidsc/internal/index"
	"bidsc/internal/logging"
	"bidsc/internal/storage"
)

// env bundles everything a command needs for one dataset: configuration,
// logger, sqlite-backed scan cache, checkpoint store, and the derivation
// pipeline.
type env struct {
	root     string
	cfg      *config.Config
	grouping *grouping.Config
	logger   *logging.Logger
	db       *storage.DB
	cache    *storage.ScanCache
	store    *checkpoint.LocalStore
	pipeline *derive.Pipeline
}

// openEnv resolves the dataset root, loads configuration, and wires the
// supporting infrastructure. groupingPath/levelFlag override the config.
func openEnv(dataset, groupingPath, levelFlag string) (*env, error) {
	root, err := filepath.Abs(dataset)
	if err != nil {
		return nil, err
	}

	cfg, err := config.LoadConfig(root)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	format := cfg.Logging.Format
	level := cfg.Logging.Level
	if logFormatFlag != "" {
		format = logFormatFlag
	}
	if logLevelFlag != "" {
		level = logLevelFlag
	}
	logger := logging.NewFromStrings(format, level)

	if groupingPath == "" {
		groupingPath = cfg.GroupingConfigPath
	}
	gcfg, err := grouping.Load(groupingPath)
	if err != nil {
		return nil, err
	}

	levelStr := cfg.GroupingLevel
	if levelFlag != "" {
		levelStr = levelFlag
	}
	lvl, err := entities.ParseLevel(levelStr)
	if err != nil {
		return nil, err
	}

	db, err := storage.Open(root, logger)
	if err != nil {
		return nil, err
	}

	e := &env{
		root:     root,
		cfg:      cfg,
		grouping: gcfg,
		logger:   logger,
		db:       db,
		store:    checkpoint.NewLocalStore(root, db, logger),
	}
	if cfg.Cache.Enabled {
		e.cache = storage.NewScanCache(db)
	}
	e.pipeline = &derive.Pipeline{
		Root:     root,
		Grouping: gcfg,
		Level:    lvl,
		Index:    index.NewFSIndex(logger),
		Cache:    e.cache,
		Logger:   logger,
	}
	return e, nil
}

// close releases the environment's database handle
func (e *env) close() {
	if e.db != nil {
		_ = e.db.Close()
	}
}

// level returns the effective grouping level
func (e *env) level() entities.Level {
	return e.pipeline.Level
}
