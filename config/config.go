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

// Package config reads and validates the TOML pipeline configuration.
package config

import (
	"os"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/schwiftydata/pipeline/warehouse"
	"github.com/stockparfait/errors"
)

// API configures the REST source.
type API struct {
	BaseURL     string  `toml:"base_url"`
	TimeoutSec  int     `toml:"timeout_sec"`
	MaxRetries  int     `toml:"max_retries"`
	BackoffBase float64 `toml:"backoff_base"`
}

func (a *API) InitDefaults() {
	a.BaseURL = "https://rickandmortyapi.com/api"
	a.TimeoutSec = 30
	a.MaxRetries = 5
	a.BackoffBase = 2.0
}

// Timeout is the per-request HTTP timeout.
func (a *API) Timeout() time.Duration {
	return time.Duration(a.TimeoutSec) * time.Second
}

// Data configures local file locations.
type Data struct {
	RawDir string `toml:"raw_dir"`
	SQLDir string `toml:"sql_dir"`
}

func (d *Data) InitDefaults() {
	d.RawDir = "./data/raw"
	d.SQLDir = "./sql"
}

// Config is the top-level pipeline configuration.
type Config struct {
	API       API              `toml:"api"`
	Data      Data             `toml:"data"`
	Snowflake warehouse.Config `toml:"snowflake"`
}

func (c *Config) InitDefaults() {
	c.API.InitDefaults()
	c.Data.InitDefaults()
	c.Snowflake = warehouse.Config{
		Role:      "ACCOUNTADMIN",
		Warehouse: "COMPUTE_WH",
		Database:  "RICK_MORTY_DB",
		Schema:    warehouse.RawSchema,
	}
}

func (c *Config) validate() error {
	if c.API.BaseURL == "" {
		return errors.Reason("api.base_url must not be empty")
	}
	if c.API.TimeoutSec <= 0 {
		return errors.Reason("api.timeout_sec must be positive, got %d",
			c.API.TimeoutSec)
	}
	if c.API.MaxRetries < 1 {
		return errors.Reason("api.max_retries must be at least 1, got %d",
			c.API.MaxRetries)
	}
	if c.API.BackoffBase < 1.0 {
		return errors.Reason("api.backoff_base must be at least 1.0, got %g",
			c.API.BackoffBase)
	}
	return nil
}

// Load reads the configuration file, filling in the defaults for missing
// values. A SNOWFLAKE_PASSWORD environment variable overrides the password
// from the file, so the secret can stay out of version control.
func Load(path string) (*Config, error) {
	var c Config
	c.InitDefaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotate(err, "cannot read config file '%s'", path)
	}
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, errors.Annotate(err, "failed to parse config file '%s'", path)
	}
	if pw := os.Getenv("SNOWFLAKE_PASSWORD"); pw != "" {
		c.Snowflake.Password = pw
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
