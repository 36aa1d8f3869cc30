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

package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/schwiftydata/pipeline/rickmorty"
	"github.com/stockparfait/logging"

	. "github.com/smartystreets/goconvey/convey"
)

func TestSnapshot(t *testing.T) {
	t.Parallel()

	tmpdir, tmpdirErr := os.MkdirTemp("", "test_snapshot")
	defer os.RemoveAll(tmpdir)

	ctx := logging.Use(context.Background(), logging.DefaultGoLogger(logging.Error))

	records := []rickmorty.Record{
		{"id": float64(1), "name": "Rick Sanchez"},
		{"id": float64(2), "name": "Morty Smith"},
		{"id": float64(3), "name": "Summer Smith"},
	}

	Convey("Setup succeeded", t, func() {
		So(tmpdirErr, ShouldBeNil)
	})

	Convey("Time round-trips through JSON", t, func() {
		tm := NewTime(2025, 6, 1, 12, 30, 45)
		js, err := tm.MarshalJSON()
		So(err, ShouldBeNil)
		So(string(js), ShouldEqual, `"2025-06-01T12:30:45"`)
		var back Time
		So(back.UnmarshalJSON(js), ShouldBeNil)
		So(back.String(), ShouldEqual, tm.String())
	})

	Convey("FileName is filesystem-safe", t, func() {
		name := FileName("characters", NewTime(2025, 6, 1, 12, 30, 45))
		So(name, ShouldEqual, "characters_2025-06-01T12-30-45.json")
		So(name, ShouldNotContainSubstring, ":")
	})

	Convey("Store", t, func() {
		Convey("Write and Read round-trip", func() {
			dir := filepath.Join(tmpdir, "roundtrip")
			store := NewStore(dir)
			snap := New("http://api/character", records)
			So(snap.TotalRecords, ShouldEqual, 3)

			path, err := store.Write(ctx, "characters", snap)
			So(err, ShouldBeNil)

			back, err := Read(path)
			So(err, ShouldBeNil)
			So(back.TotalRecords, ShouldEqual, 3)
			So(back.Source, ShouldEqual, "http://api/character")
			So(back.Data, ShouldResemble, records)
		})

		Convey("Write rejects inconsistent record counts", func() {
			store := NewStore(filepath.Join(tmpdir, "inconsistent"))
			snap := New("http://api/character", records)
			snap.TotalRecords = 2
			_, err := store.Write(ctx, "characters", snap)
			So(err, ShouldNotBeNil)
		})

		Convey("second run supersedes the first", func() {
			dir := filepath.Join(tmpdir, "supersede")
			store := NewStore(dir)

			first := New("http://api/character", records[:1])
			first.IngestedAt = NewTime(2025, 6, 1, 10, 0, 0)
			_, err := store.Write(ctx, "characters", first)
			So(err, ShouldBeNil)

			second := New("http://api/character", records)
			second.IngestedAt = NewTime(2025, 6, 1, 11, 0, 0)
			path, err := store.Write(ctx, "characters", second)
			So(err, ShouldBeNil)

			files, err := filepath.Glob(filepath.Join(dir, "characters", "characters_*.json"))
			So(err, ShouldBeNil)
			So(len(files), ShouldEqual, 1)
			So(files[0], ShouldEqual, path)
			So(filepath.Base(files[0]), ShouldEqual,
				"characters_2025-06-01T11-00-00.json")
		})

		Convey("Cleanup keeps the newest N files", func() {
			dir := filepath.Join(tmpdir, "cleanup")
			store := NewStore(dir)
			entityDir := filepath.Join(dir, "episodes")
			So(os.MkdirAll(entityDir, 0755), ShouldBeNil)
			for _, name := range []string{
				"episodes_2025-06-01T10-00-00.json",
				"episodes_2025-06-01T11-00-00.json",
				"episodes_2025-06-01T12-00-00.json",
			} {
				So(os.WriteFile(filepath.Join(entityDir, name), []byte("{}"), 0644),
					ShouldBeNil)
			}

			So(store.Cleanup(ctx, "episodes", 1), ShouldBeNil)
			files, err := filepath.Glob(filepath.Join(entityDir, "episodes_*.json"))
			So(err, ShouldBeNil)
			So(len(files), ShouldEqual, 1)
		})

		Convey("Latest picks the newest snapshot", func() {
			dir := filepath.Join(tmpdir, "latest")
			store := NewStore(dir)

			first := New("http://api/episode", records[:1])
			first.IngestedAt = NewTime(2025, 6, 1, 10, 0, 0)
			_, err := store.Write(ctx, "episodes", first)
			So(err, ShouldBeNil)
			// Bypass Write's cleanup to leave two files on disk.
			name := filepath.Join(dir, "episodes", "episodes_2025-06-01T11-00-00.json")
			So(os.WriteFile(name, []byte(`{"total_records":0,"data":[]}`), 0644),
				ShouldBeNil)

			latest, err := store.Latest("episodes")
			So(err, ShouldBeNil)
			So(latest, ShouldEqual, name)
		})

		Convey("Latest fails when no snapshots exist", func() {
			store := NewStore(filepath.Join(tmpdir, "empty"))
			_, err := store.Latest("characters")
			So(err, ShouldNotBeNil)
		})
	})
}
