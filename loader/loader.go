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

// Package loader stages the latest on-disk snapshots into the warehouse RAW
// layer.
package loader

import (
	"context"
	"path/filepath"

	"github.com/schwiftydata/pipeline/rickmorty"
	"github.com/schwiftydata/pipeline/snapshot"
	"github.com/schwiftydata/pipeline/warehouse"
	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"
)

// DefaultStage is the internal stage receiving snapshot uploads.
const DefaultStage = "@raw_data_stage"

// Loader moves the newest snapshot per entity kind into its RAW table.
type Loader struct {
	DB     *warehouse.DB
	Store  *snapshot.Store
	SQLDir string // directory holding the DDL scripts
	Stage  string // defaults to DefaultStage when empty
}

func (l *Loader) stage() string {
	if l.Stage == "" {
		return DefaultStage
	}
	return l.Stage
}

// SetupRawTables executes the RAW layer DDL: tables, stage and file format.
func (l *Loader) SetupRawTables(ctx context.Context) error {
	path := filepath.Join(l.SQLDir, "02_raw_tables.sql")
	return errors.Annotate(l.DB.ExecFile(ctx, path), "failed to create RAW tables")
}

// LoadEntity uploads the entity's latest snapshot to the stage and
// bulk-copies it, flattening the snapshot's data array into rows.
func (l *Loader) LoadEntity(ctx context.Context, entity rickmorty.EntityName) (int64, error) {
	latest, err := l.Store.Latest(entity)
	if err != nil {
		return 0, errors.Annotate(err, "no snapshot to load for %s", entity)
	}
	logging.Infof(ctx, "loading %s", filepath.Base(latest))

	if err := l.DB.UploadToStage(ctx, latest, l.stage()); err != nil {
		return 0, errors.Annotate(err, "failed to stage %s snapshot", entity)
	}
	table := warehouse.RawSchema + "." + string(entity)
	loaded, err := l.DB.CopyIntoFromStage(ctx, table, l.stage(),
		filepath.Base(latest), true)
	if err != nil {
		return 0, errors.Annotate(err, "failed to load %s into %s", entity, table)
	}
	return loaded, nil
}

// LoadAll loads both entity kinds and returns per-entity row counts.
func (l *Loader) LoadAll(ctx context.Context) (map[rickmorty.EntityName]int64, error) {
	counts := make(map[rickmorty.EntityName]int64)
	for _, entity := range []rickmorty.EntityName{rickmorty.Characters, rickmorty.Episodes} {
		n, err := l.LoadEntity(ctx, entity)
		if err != nil {
			return nil, err
		}
		counts[entity] = n
		logging.Infof(ctx, "loaded %d %s rows", n, entity)
	}
	return counts, nil
}

// Verify reads back row counts from the RAW tables.
func (l *Loader) Verify(ctx context.Context) (map[rickmorty.EntityName]int64, error) {
	counts := make(map[rickmorty.EntityName]int64)
	for _, entity := range []rickmorty.EntityName{rickmorty.Characters, rickmorty.Episodes} {
		n, err := l.DB.RowCount(ctx, warehouse.RawSchema, string(entity))
		if err != nil {
			return nil, errors.Annotate(err, "failed to verify RAW.%s", entity)
		}
		counts[entity] = n
		logging.Infof(ctx, "RAW.%s: %d rows", entity, n)
	}
	return counts, nil
}

// Run is the complete RAW stage: DDL setup, load both entities, verify.
func (l *Loader) Run(ctx context.Context) error {
	if err := l.SetupRawTables(ctx); err != nil {
		return err
	}
	loaded, err := l.LoadAll(ctx)
	if err != nil {
		return err
	}
	verified, err := l.Verify(ctx)
	if err != nil {
		return err
	}
	for entity, n := range loaded {
		if verified[entity] < n {
			logging.Warningf(ctx, "RAW.%s holds %d rows but %d were just loaded",
				entity, verified[entity], n)
		}
	}
	logging.Infof(ctx, "RAW data pipeline complete")
	return nil
}
