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

// Package warehouse is the Snowflake data access layer: connection handling,
// single queries, multi-statement scripts, staged file uploads and bulk
// loads.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"

	sf "github.com/snowflakedb/gosnowflake"
)

// Schema names of the raw and modeled warehouse layers.
const (
	RawSchema = "RAW"
	DBOSchema = "DBO"
)

// Config holds the Snowflake connection parameters.
type Config struct {
	Account   string `toml:"account"`
	User      string `toml:"user"`
	Password  string `toml:"password"`
	Role      string `toml:"role"`
	Warehouse string `toml:"warehouse"`
	Database  string `toml:"database"`
	Schema    string `toml:"schema"`
}

// Validate checks that the required connection parameters are present.
func (c *Config) Validate() error {
	var missing []string
	if c.Account == "" {
		missing = append(missing, "account")
	}
	if c.User == "" {
		missing = append(missing, "user")
	}
	if c.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return errors.Reason("missing required Snowflake configuration: %s",
			strings.Join(missing, ", "))
	}
	return nil
}

// DSN builds the gosnowflake connection string.
func (c *Config) DSN() (string, error) {
	cfg := sf.Config{
		Account:     c.Account,
		User:        c.User,
		Password:    c.Password,
		Role:        c.Role,
		Warehouse:   c.Warehouse,
		Database:    c.Database,
		Schema:      c.Schema,
		Application: "rickmorty_pipeline",
	}
	dsn, err := sf.DSN(&cfg)
	if err != nil {
		return "", errors.Annotate(err, "failed to build Snowflake DSN")
	}
	return dsn, nil
}

// DB wraps a warehouse connection. It is reused sequentially across pipeline
// stages; there is no concurrent access.
type DB struct {
	conn *sql.DB
}

// Connect opens and verifies a Snowflake connection.
func Connect(ctx context.Context, cfg *Config) (*DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}
	logging.Infof(ctx, "connecting to Snowflake account '%s'", cfg.Account)
	conn, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, errors.Annotate(err, "failed to open Snowflake connection")
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, errors.Annotate(err, "failed to ping Snowflake")
	}
	logging.Infof(ctx, "connected to Snowflake")
	return &DB{conn: conn}, nil
}

// NewDB wraps an existing connection. Used in tests with a mock driver.
func NewDB(conn *sql.DB) *DB {
	return &DB{conn: conn}
}

// Close the warehouse connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifies the connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return errors.Annotate(db.conn.PingContext(ctx), "connection test failed")
}

// Exec runs a single statement without fetching results.
func (db *DB) Exec(ctx context.Context, query string, args ...interface{}) error {
	logging.Debugf(ctx, "executing: %s", truncate(query, 200))
	if _, err := db.conn.ExecContext(ctx, query, args...); err != nil {
		return errors.Annotate(err, "query execution failed: %s", truncate(query, 200))
	}
	return nil
}

// Query runs a single statement and fetches all result rows.
func (db *DB) Query(ctx context.Context, query string, args ...interface{}) ([][]interface{}, error) {
	logging.Debugf(ctx, "querying: %s", truncate(query, 200))
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Annotate(err, "query failed: %s", truncate(query, 200))
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, errors.Annotate(err, "failed to read result columns")
	}
	var result [][]interface{}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.Annotate(err, "failed to scan result row")
		}
		result = append(result, values)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Annotate(err, "failed to read result rows")
	}
	return result, nil
}

// ExecScript splits a multi-statement script and executes the statements
// sequentially, surfacing the first failure with its position.
func (db *DB) ExecScript(ctx context.Context, script string) error {
	statements := SplitStatements(script)
	logging.Infof(ctx, "executing script with %d statements", len(statements))
	for i, stmt := range statements {
		if err := db.Exec(ctx, stmt); err != nil {
			return errors.Annotate(err, "statement %d of %d failed", i+1, len(statements))
		}
		logging.Debugf(ctx, "statement %d/%d executed", i+1, len(statements))
	}
	return nil
}

// ExecFile executes all statements from a SQL file.
func (db *DB) ExecFile(ctx context.Context, path string) error {
	logging.Infof(ctx, "executing SQL file: %s", path)
	script, err := os.ReadFile(path)
	if err != nil {
		return errors.Annotate(err, "failed to read SQL file '%s'", path)
	}
	return errors.Annotate(db.ExecScript(ctx, string(script)),
		"failed to execute '%s'", path)
}

// QueryFromFile runs every statement in a SQL file and fetches each one's
// result rows, in file order.
func (db *DB) QueryFromFile(ctx context.Context, path string) ([][][]interface{}, error) {
	script, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotate(err, "failed to read SQL file '%s'", path)
	}
	statements := SplitStatements(string(script))
	results := make([][][]interface{}, 0, len(statements))
	for i, stmt := range statements {
		rows, err := db.Query(ctx, stmt)
		if err != nil {
			return nil, errors.Annotate(err, "query %d of %d in '%s' failed",
				i+1, len(statements), path)
		}
		results = append(results, rows)
	}
	return results, nil
}

// TableExists checks INFORMATION_SCHEMA for the table.
func (db *DB) TableExists(ctx context.Context, schema, table string) (bool, error) {
	rows, err := db.Query(ctx,
		`SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES
		 WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?`,
		strings.ToUpper(schema), strings.ToUpper(table))
	if err != nil {
		return false, err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return false, nil
	}
	return asInt64(rows[0][0]) > 0, nil
}

// RowCount of schema.table.
func (db *DB) RowCount(ctx context.Context, schema, table string) (int64, error) {
	rows, err := db.Query(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s.%s", schema, table))
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return 0, errors.Reason("empty COUNT(*) result for %s.%s", schema, table)
	}
	return asInt64(rows[0][0]), nil
}

// UploadToStage uploads a local file into an internal stage with a PUT
// command and verifies the reported status.
func (db *DB) UploadToStage(ctx context.Context, localPath, stage string) error {
	put := fmt.Sprintf("PUT file://%s %s AUTO_COMPRESS=FALSE OVERWRITE=TRUE",
		localPath, stage)
	rows, err := db.Query(ctx, put)
	if err != nil {
		return errors.Annotate(err, "failed to upload '%s' to %s", localPath, stage)
	}
	// PUT returns (source, target, ..., status) with status at column 6.
	if len(rows) == 0 || len(rows[0]) < 7 || asString(rows[0][6]) != "UPLOADED" {
		return errors.Reason("upload of '%s' to %s did not report UPLOADED: %v",
			localPath, stage, rows)
	}
	logging.Infof(ctx, "uploaded '%s' to stage %s", localPath, stage)
	return nil
}

// CopyIntoFromStage bulk-copies staged JSON into table. With flatten set,
// the staged file's "data" array is exploded via LATERAL FLATTEN into rows
// of (id, raw_data, source_file); otherwise a plain COPY INTO with
// MATCH_BY_COLUMN_NAME is issued. Returns the number of rows loaded.
func (db *DB) CopyIntoFromStage(ctx context.Context, table, stage, filePattern string, flatten bool) (int64, error) {
	stagePath := stage
	if filePattern != "" {
		stagePath += "/" + filePattern
	}

	if flatten {
		tempTable := strings.ReplaceAll(table, ".", "_") + "_temp"
		logging.Infof(ctx, "loading '%s' into %s via temp table %s",
			stagePath, table, tempTable)
		if err := db.Exec(ctx, fmt.Sprintf(
			"CREATE TEMPORARY TABLE %s (raw_json VARIANT)", tempTable)); err != nil {
			return 0, errors.Annotate(err, "failed to create temp table %s", tempTable)
		}
		if err := db.Exec(ctx, fmt.Sprintf(
			"COPY INTO %s FROM %s FILE_FORMAT = (TYPE = 'JSON')",
			tempTable, stagePath)); err != nil {
			return 0, errors.Annotate(err, "failed to copy '%s' into %s",
				stagePath, tempTable)
		}
		insert := fmt.Sprintf(`INSERT INTO %s (id, raw_data, source_file)
SELECT value:id::INTEGER, value, '%s'
FROM %s, LATERAL FLATTEN(input => raw_json:data)`,
			table, filePattern, tempTable)
		res, err := db.conn.ExecContext(ctx, insert)
		if err != nil {
			return 0, errors.Annotate(err, "failed to flatten into %s", table)
		}
		loaded, err := res.RowsAffected()
		if err != nil {
			return 0, errors.Annotate(err, "failed to read affected rows for %s", table)
		}
		if err := db.Exec(ctx, "DROP TABLE "+tempTable); err != nil {
			return 0, errors.Annotate(err, "failed to drop temp table %s", tempTable)
		}
		logging.Infof(ctx, "loaded %d rows into %s", loaded, table)
		return loaded, nil
	}

	copyCmd := fmt.Sprintf(
		"COPY INTO %s FROM %s FILE_FORMAT = (TYPE = 'JSON') MATCH_BY_COLUMN_NAME = CASE_INSENSITIVE",
		table, stagePath)
	rows, err := db.Query(ctx, copyCmd)
	if err != nil {
		return 0, errors.Annotate(err, "failed to copy '%s' into %s", stagePath, table)
	}
	// COPY INTO returns (file, status, rows_parsed, rows_loaded, ...).
	var loaded int64
	if len(rows) > 0 && len(rows[0]) > 3 {
		loaded = asInt64(rows[0][3])
	}
	logging.Infof(ctx, "loaded %d rows into %s", loaded, table)
	return loaded, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func asInt64(v interface{}) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int:
		return int64(x)
	case float64:
		return int64(x)
	case []byte:
		var n int64
		fmt.Sscanf(string(x), "%d", &n)
		return n
	case string:
		var n int64
		fmt.Sscanf(x, "%d", &n)
		return n
	}
	return 0
}

func asString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	}
	return fmt.Sprintf("%v", v)
}
