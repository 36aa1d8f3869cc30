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

// Package snapshot persists ingested entity collections as immutable
// timestamped JSON files, keeping exactly the newest file per entity kind.
package snapshot

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/schwiftydata/pipeline/rickmorty"
	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"

	"golang.org/x/exp/slices"
)

// Time is a wrapper around time.Time marshaling as an ISO-8601 string.
type Time time.Time

var _ json.Marshaler = &Time{}
var _ json.Unmarshaler = &Time{}

// Now is the current UTC time truncated to seconds.
func Now() Time {
	return Time(time.Now().UTC().Truncate(time.Second))
}

// NewTime creates a UTC Time value.
func NewTime(year, month, day, hour, minute, second int) Time {
	return Time(time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC))
}

// String representation of Time, e.g. "2025-06-01T12:30:00".
func (t Time) String() string {
	return time.Time(t).Format("2006-01-02T15:04:05")
}

// MarshalJSON implements json.Marshaler.
func (t Time) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Time) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.Annotate(err, "Time JSON must be a string")
	}
	formats := []string{
		"2006-01-02T15:04:05",
		"2006-01-02T15:04:05.999",
		"2006-01-02 15:04:05",
	}
	var err error
	for _, f := range formats {
		var tm time.Time
		tm, err = time.Parse(f, s)
		if err == nil {
			*t = Time(tm)
			return nil
		}
	}
	return errors.Annotate(err, "failed to parse time string: '%s'", s)
}

// Snapshot is one immutable, fully materialized capture of an entity
// collection. TotalRecords must equal len(Data) at the moment of writing.
type Snapshot struct {
	IngestedAt   Time               `json:"ingested_at"`
	Source       string             `json:"source"`
	TotalRecords int                `json:"total_records"`
	Data         []rickmorty.Record `json:"data"`
}

// New creates a Snapshot for the given records, stamped with the current
// time.
func New(source string, data []rickmorty.Record) *Snapshot {
	return &Snapshot{
		IngestedAt:   Now(),
		Source:       source,
		TotalRecords: len(data),
		Data:         data,
	}
}

// FileName for a snapshot of the given entity kind: the entity name plus the
// timestamp with colons replaced by dashes, to stay filesystem-safe.
func FileName(entity string, t Time) string {
	return entity + "_" + strings.ReplaceAll(t.String(), ":", "-") + ".json"
}

// Store maintains snapshot files under a content directory, one subdirectory
// per entity kind.
type Store struct {
	dir string
}

// NewStore creates a snapshot store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) entityDir(entity string) string {
	return filepath.Join(s.dir, entity)
}

// list returns the entity's snapshot files sorted by modification time,
// newest first.
func (s *Store) list(entity string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(s.entityDir(entity), entity+"_*.json"))
	if err != nil {
		return nil, errors.Annotate(err, "failed to list snapshots for '%s'", entity)
	}
	mtimes := make(map[string]time.Time, len(files))
	for _, f := range files {
		st, err := os.Stat(f)
		if err != nil {
			return nil, errors.Annotate(err, "failed to stat '%s'", f)
		}
		mtimes[f] = st.ModTime()
	}
	slices.SortFunc(files, func(a, b string) bool {
		if mtimes[a].Equal(mtimes[b]) {
			// Same mtime resolution; the later timestamp in the name wins.
			return a > b
		}
		return mtimes[a].After(mtimes[b])
	})
	return files, nil
}

// Cleanup deletes the entity's snapshot files except the newest keepLatest
// ones. Deletion failures are logged as warnings and do not abort the run.
func (s *Store) Cleanup(ctx context.Context, entity string, keepLatest int) error {
	if keepLatest < 0 {
		keepLatest = 0
	}
	files, err := s.list(entity)
	if err != nil {
		return err
	}
	if len(files) <= keepLatest {
		return nil
	}
	for _, f := range files[keepLatest:] {
		if err := os.Remove(f); err != nil {
			logging.Warningf(ctx, "failed to delete old snapshot '%s': %s", f, err.Error())
			continue
		}
		logging.Infof(ctx, "deleted old snapshot: %s", filepath.Base(f))
	}
	return nil
}

// Write persists a snapshot for the entity kind, deleting all pre-existing
// snapshot files first so that exactly one file remains. Returns the path of
// the written file. A write failure is fatal to the caller's run.
func (s *Store) Write(ctx context.Context, entity string, snap *Snapshot) (string, error) {
	if snap.TotalRecords != len(snap.Data) {
		return "", errors.Reason(
			"snapshot for '%s' is inconsistent: total_records=%d but %d data records",
			entity, snap.TotalRecords, len(snap.Data))
	}
	dir := s.entityDir(entity)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Annotate(err, "failed to create directory '%s'", dir)
	}
	if err := s.Cleanup(ctx, entity, 0); err != nil {
		return "", errors.Annotate(err, "failed to clean up old '%s' snapshots", entity)
	}
	path := filepath.Join(dir, FileName(entity, snap.IngestedAt))
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", errors.Annotate(err, "failed to encode '%s' snapshot", entity)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", errors.Annotate(err, "failed to write '%s'", path)
	}
	logging.Infof(ctx, "saved %s snapshot: %s (%d records)",
		entity, filepath.Base(path), snap.TotalRecords)
	return path, nil
}

// Latest returns the path of the newest snapshot file for the entity kind.
func (s *Store) Latest(entity string) (string, error) {
	files, err := s.list(entity)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", errors.Reason("no '%s' snapshot files in '%s'",
			entity, s.entityDir(entity))
	}
	return files[0], nil
}

// Read decodes a snapshot file written by Write.
func Read(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotate(err, "failed to read '%s'", path)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, errors.Annotate(err, "failed to decode snapshot '%s'", path)
	}
	return &snap, nil
}
