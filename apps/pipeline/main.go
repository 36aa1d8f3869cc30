// Copyright 2025 Schwifty Data

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"

	"github.com/schwiftydata/pipeline/config"
	"github.com/schwiftydata/pipeline/ingest"
	"github.com/schwiftydata/pipeline/loader"
	"github.com/schwiftydata/pipeline/quality"
	"github.com/schwiftydata/pipeline/rickmorty"
	"github.com/schwiftydata/pipeline/snapshot"
	"github.com/schwiftydata/pipeline/warehouse"
	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"
)

// Pipeline steps, in full-run order.
const (
	StepSetupWarehouse = "setup-warehouse"
	StepIngest         = "ingest"
	StepLoadRaw        = "load-raw"
	StepSetupModel     = "setup-model"
	StepTransform      = "transform"
	StepQuality        = "quality"
	StepAll            = "all"
)

var allSteps = []string{StepSetupWarehouse, StepIngest, StepLoadRaw,
	StepSetupModel, StepTransform, StepQuality, StepAll}

type Flags struct {
	Config   string // pipeline config file
	Step     string // which pipeline step to run
	LogLevel logging.Level
}

func parseFlags(args []string) (*Flags, error) {
	var flags Flags
	fs := flag.NewFlagSet("pipeline", flag.ContinueOnError)
	fs.StringVar(&flags.Config, "conf", "", "pipeline config file (required)")
	fs.StringVar(&flags.Step, "step", StepAll,
		"pipeline step: setup-warehouse, ingest, load-raw, setup-model, transform, quality, all")
	flags.LogLevel = logging.Info
	fs.Var(&flags.LogLevel, "log-level", "Log level: debug, info, warning, error")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if flags.Config == "" {
		return nil, errors.Reason("-conf is required")
	}
	valid := false
	for _, s := range allSteps {
		if flags.Step == s {
			valid = true
			break
		}
	}
	if !valid {
		return nil, errors.Reason("invalid -step value '%s'", flags.Step)
	}
	return &flags, nil
}

// pipeline bundles the configured components of a run. The warehouse
// connection is nil for steps that never touch Snowflake.
type pipeline struct {
	cfg    *config.Config
	db     *warehouse.DB
	store  *snapshot.Store
	sqlDir string
}

func (p *pipeline) sqlFile(name string) string {
	return filepath.Join(p.sqlDir, name)
}

func (p *pipeline) setupWarehouse(ctx context.Context) error {
	if err := p.db.Ping(ctx); err != nil {
		return errors.Annotate(err, "warehouse connection test failed")
	}
	if err := p.db.ExecFile(ctx, p.sqlFile("01_setup_database.sql")); err != nil {
		return errors.Annotate(err, "failed to set up database")
	}
	logging.Infof(ctx, "warehouse setup complete")
	return nil
}

func (p *pipeline) ingest(ctx context.Context) error {
	retry := rickmorty.DefaultPolicy()
	retry.MaxAttempts = p.cfg.API.MaxRetries
	retry.BackoffBase = p.cfg.API.BackoffBase
	rickmorty.URL = p.cfg.API.BaseURL
	ctx = rickmorty.UseClient(ctx, p.cfg.API.Timeout(), retry)

	ing := &ingest.Ingestor{
		Store:   p.store,
		BaseURL: p.cfg.API.BaseURL,
		Save:    true,
	}
	_, err := ing.Run(ctx)
	return errors.Annotate(err, "ingestion failed")
}

func (p *pipeline) loadRaw(ctx context.Context) error {
	l := &loader.Loader{DB: p.db, Store: p.store, SQLDir: p.sqlDir}
	return errors.Annotate(l.Run(ctx), "raw load failed")
}

func (p *pipeline) setupModel(ctx context.Context) error {
	err := p.db.ExecFile(ctx, p.sqlFile("03_dbo_tables.sql"))
	return errors.Annotate(err, "failed to create DBO tables")
}

func (p *pipeline) transform(ctx context.Context) error {
	if err := p.db.ExecFile(ctx, p.sqlFile("04_transform_raw_to_dbo.sql")); err != nil {
		return errors.Annotate(err, "transformation failed")
	}
	for _, entity := range []rickmorty.EntityName{rickmorty.Characters, rickmorty.Episodes} {
		n, err := p.db.RowCount(ctx, warehouse.DBOSchema, string(entity))
		if err != nil {
			return errors.Annotate(err, "failed to verify DBO.%s", entity)
		}
		logging.Infof(ctx, "DBO.%s: %d rows", entity, n)
	}
	return nil
}

func (p *pipeline) quality(ctx context.Context) error {
	r, err := quality.Run(ctx, p.db, p.sqlFile("05_data_quality_checks.sql"))
	if err != nil {
		return err
	}
	return r.Err()
}

func (p *pipeline) runStep(ctx context.Context, step string) error {
	switch step {
	case StepSetupWarehouse:
		return p.setupWarehouse(ctx)
	case StepIngest:
		return p.ingest(ctx)
	case StepLoadRaw:
		return p.loadRaw(ctx)
	case StepSetupModel:
		return p.setupModel(ctx)
	case StepTransform:
		return p.transform(ctx)
	case StepQuality:
		return p.quality(ctx)
	case StepAll:
		for _, s := range []string{StepSetupWarehouse, StepIngest, StepLoadRaw,
			StepSetupModel, StepTransform, StepQuality} {
			logging.Infof(ctx, "=== step: %s ===", s)
			if err := p.runStep(ctx, s); err != nil {
				return errors.Annotate(err, "step '%s' failed", s)
			}
		}
		return nil
	}
	return errors.Reason("unknown step '%s'", step)
}

func needsWarehouse(step string) bool {
	return step != StepIngest
}

func run(ctx context.Context, flags *Flags) error {
	cfg, err := config.Load(flags.Config)
	if err != nil {
		return errors.Annotate(err, "failed to load config")
	}
	p := &pipeline{
		cfg:    cfg,
		store:  snapshot.NewStore(cfg.Data.RawDir),
		sqlDir: cfg.Data.SQLDir,
	}
	if needsWarehouse(flags.Step) {
		db, err := warehouse.Connect(ctx, &cfg.Snowflake)
		if err != nil {
			return errors.Annotate(err, "failed to connect to the warehouse")
		}
		defer db.Close()
		p.db = db
	}
	return p.runStep(ctx, flags.Step)
}

func main() {
	ctx := context.Background()
	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		ctx = logging.Use(ctx, logging.DefaultGoLogger(logging.Info))
		logging.Errorf(ctx, "failed to parse flags: %s", err.Error())
		os.Exit(1)
	}
	ctx = logging.Use(ctx, logging.DefaultGoLogger(flags.LogLevel))

	if err := run(ctx, flags); err != nil {
		logging.Errorf(ctx, err.Error())
		os.Exit(1)
	}
}
