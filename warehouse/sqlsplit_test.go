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

package warehouse

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestSplitStatements(t *testing.T) {
	t.Parallel()

	Convey("SplitStatements", t, func() {
		Convey("splits on semicolons and drops empties", func() {
			So(SplitStatements("CREATE TABLE a (x INT);\n\nDROP TABLE a;\n"),
				ShouldResemble, []string{"CREATE TABLE a (x INT)", "DROP TABLE a"})
		})

		Convey("strips comment lines inside statements", func() {
			script := `-- create the raw layer
CREATE SCHEMA RAW;
-- and a table
CREATE TABLE RAW.characters (
  id INTEGER,
  raw_data VARIANT
);`
			statements := SplitStatements(script)
			So(len(statements), ShouldEqual, 2)
			So(statements[0], ShouldEqual, "CREATE SCHEMA RAW")
			So(statements[1], ShouldStartWith, "CREATE TABLE RAW.characters")
			So(statements[1], ShouldNotContainSubstring, "-- and a table")
		})

		Convey("ignores semicolons inside string literals", func() {
			statements := SplitStatements(`INSERT INTO t VALUES ('a;b');SELECT 1;`)
			So(statements, ShouldResemble,
				[]string{"INSERT INTO t VALUES ('a;b')", "SELECT 1"})
		})

		Convey("comment-only script yields no statements", func() {
			So(SplitStatements("-- nothing here\n-- at all\n"), ShouldBeEmpty)
		})

		Convey("empty input yields no statements", func() {
			So(SplitStatements(""), ShouldBeEmpty)
		})

		Convey("final statement without trailing semicolon survives", func() {
			So(SplitStatements("SELECT 1"), ShouldResemble, []string{"SELECT 1"})
		})
	})
}
