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
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/schwiftydata/pipeline/snapshot"
	"github.com/stockparfait/logging"
	"github.com/stockparfait/testutil"

	. "github.com/smartystreets/goconvey/convey"
)

func TestMain(t *testing.T) {
	tmpdir, tmpdirErr := os.MkdirTemp("", "test_pipeline")
	defer os.RemoveAll(tmpdir)

	Convey("Test setup succeeded", t, func() {
		So(tmpdirErr, ShouldBeNil)
	})

	Convey("parseFlags", t, func() {
		Convey("defaults", func() {
			flags, err := parseFlags([]string{"-conf", "pipeline.toml"})
			So(err, ShouldBeNil)
			So(flags.Config, ShouldEqual, "pipeline.toml")
			So(flags.Step, ShouldEqual, StepAll)
			So(flags.LogLevel, ShouldEqual, logging.Info)
		})

		Convey("explicit step and log level", func() {
			flags, err := parseFlags([]string{
				"-conf", "pipeline.toml", "-step", "ingest", "-log-level", "warning"})
			So(err, ShouldBeNil)
			So(flags.Step, ShouldEqual, StepIngest)
			So(flags.LogLevel, ShouldEqual, logging.Warning)
		})

		Convey("missing -conf", func() {
			_, err := parseFlags([]string{"-step", "ingest"})
			So(err, ShouldNotBeNil)
		})

		Convey("invalid -step", func() {
			_, err := parseFlags([]string{"-conf", "pipeline.toml", "-step", "bogus"})
			So(err, ShouldNotBeNil)
		})
	})

	Convey("run works", t, func() {
		ctx := context.Background()

		server := httptest.NewServer(http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				switch r.URL.Path {
				case "/api/character":
					fmt.Fprint(w, `{"info": {"count": 2, "pages": 1, "next": null, "prev": null},
 "results": [{"id": 1, "name": "Rick Sanchez"}, {"id": 2, "name": "Morty Smith"}]}`)
				case "/api/episode":
					fmt.Fprint(w, `{"info": {"count": 1, "pages": 1, "next": null, "prev": null},
 "results": [{"id": 1, "name": "Pilot"}]}`)
				default:
					http.NotFound(w, r)
				}
			}))
		defer server.Close()

		rawDir := filepath.Join(tmpdir, "raw")
		confFile := filepath.Join(tmpdir, "pipeline.toml")
		So(testutil.WriteFile(confFile, fmt.Sprintf(`
[api]
base_url = "%s/api"
timeout_sec = 5
max_retries = 1

[data]
raw_dir = "%s"

[snowflake]
account = "xy12345"
user = "PIPELINE"
password = "secret"
`, server.URL, rawDir)), ShouldBeNil)

		Convey("ingest step persists both snapshots", func() {
			flags, err := parseFlags([]string{"-conf", confFile, "-step", "ingest"})
			So(err, ShouldBeNil)
			So(run(ctx, flags), ShouldBeNil)

			store := snapshot.NewStore(rawDir)
			path, err := store.Latest("characters")
			So(err, ShouldBeNil)
			snap, err := snapshot.Read(path)
			So(err, ShouldBeNil)
			So(snap.TotalRecords, ShouldEqual, 2)

			_, err = store.Latest("episodes")
			So(err, ShouldBeNil)
		})

		Convey("bad config file fails", func() {
			badConf := filepath.Join(tmpdir, "bad.toml")
			So(testutil.WriteFile(badConf, `[api`), ShouldBeNil)
			flags, err := parseFlags([]string{"-conf", badConf, "-step", "ingest"})
			So(err, ShouldBeNil)
			So(run(ctx, flags), ShouldNotBeNil)
		})
	})
}
