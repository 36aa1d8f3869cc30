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

// Package quality executes data-quality SELECTs and classifies each result
// row by its trailing status column.
package quality

import (
	"context"
	"fmt"

	"github.com/schwiftydata/pipeline/warehouse"
	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"
)

// Status of a single quality check row.
type Status string

const (
	Pass    = Status("PASS")
	Fail    = Status("FAIL")
	Warning = Status("WARNING")
)

// Check is one classified quality check result: the first column names the
// check, the last column is its status, everything in between is detail.
type Check struct {
	Name    string
	Details []interface{}
	Status  Status
}

// Results aggregates all quality checks of a run.
type Results struct {
	Total    int
	Passed   []Check
	Failed   []Check
	Warnings []Check
}

// SuccessRate is the percentage of checks that passed.
func (r *Results) SuccessRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(len(r.Passed)) / float64(r.Total) * 100
}

// Err is non-nil when any check failed; warnings alone do not fail the run.
func (r *Results) Err() error {
	if len(r.Failed) > 0 {
		return errors.Reason("data quality validation failed: %d checks failed",
			len(r.Failed))
	}
	return nil
}

// classify turns raw result rows into Checks. Rows with an unrecognized
// trailing status are counted but land in no bucket.
func classify(rows [][]interface{}) []Check {
	checks := make([]Check, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		c := Check{
			Name:   fmt.Sprintf("%v", row[0]),
			Status: Status(fmt.Sprintf("%v", row[len(row)-1])),
		}
		if len(row) > 2 {
			c.Details = row[1 : len(row)-1]
		}
		checks = append(checks, c)
	}
	return checks
}

// Run executes every SELECT in the quality checks file and aggregates the
// classified results.
func Run(ctx context.Context, db *warehouse.DB, sqlPath string) (*Results, error) {
	logging.Infof(ctx, "running data quality checks from %s", sqlPath)
	rowSets, err := db.QueryFromFile(ctx, sqlPath)
	if err != nil {
		return nil, errors.Annotate(err, "failed to execute quality checks")
	}

	r := &Results{}
	for _, rows := range rowSets {
		for _, check := range classify(rows) {
			r.Total++
			switch check.Status {
			case Pass:
				r.Passed = append(r.Passed, check)
			case Fail:
				r.Failed = append(r.Failed, check)
			case Warning:
				r.Warnings = append(r.Warnings, check)
			}
		}
	}
	logSummary(ctx, r)
	return r, nil
}

func logSummary(ctx context.Context, r *Results) {
	logging.Infof(ctx, "quality checks: %d total, %d passed, %d failed, %d warnings (%.1f%% success)",
		r.Total, len(r.Passed), len(r.Failed), len(r.Warnings), r.SuccessRate())
	for _, c := range r.Warnings {
		logging.Warningf(ctx, "WARNING %s: %v", c.Name, c.Details)
	}
	for _, c := range r.Failed {
		logging.Errorf(ctx, "FAILED %s: %v", c.Name, c.Details)
	}
}
