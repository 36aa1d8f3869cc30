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

package rickmorty

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"

	"golang.org/x/time/rate"
)

type contextKey int

const (
	clientContextKey contextKey = iota
)

// URL is the default base URL of the API server. It may be overwritten in
// tests before creating a new client.
var URL = "https://rickandmortyapi.com/api"

// courtesyDelay paces successive page requests to avoid hammering the origin.
const courtesyDelay = 100 * time.Millisecond

// EntityName identifies a paginated API resource.
type EntityName = string

const (
	Characters = EntityName("characters")
	Episodes   = EntityName("episodes")
)

// Endpoint returns the full URL of the first page for the given entity. The
// API uses singular resource names.
func Endpoint(baseURL string, entity EntityName) string {
	switch entity {
	case Characters:
		return baseURL + "/character"
	case Episodes:
		return baseURL + "/episode"
	}
	return baseURL + "/" + string(entity)
}

// Record is a single API record: an opaque JSON object which always carries
// an integer "id" field.
type Record map[string]interface{}

// ID extracts the record's integer id, or -1 if it is missing or malformed.
// Any number in JSON is unmarshaled as float64.
func (r Record) ID() int {
	v, ok := r["id"].(float64)
	if !ok {
		return -1
	}
	return int(v)
}

// pageInfo is the pagination block of a page response. An empty Next (absent
// or JSON null) signals the last page.
type pageInfo struct {
	Count int    `json:"count"`
	Pages int    `json:"pages"`
	Next  string `json:"next"`
	Prev  string `json:"prev"`
}

// page is the format of a single page response.
type page struct {
	Info    pageInfo `json:"info"`
	Results []Record `json:"results"`
}

// TestPage generates the JSON string in the format returned by the API. For
// use in tests.
func TestPage(results []Record, next string) (string, error) {
	bytes, err := json.Marshal(&page{
		Info:    pageInfo{Next: next},
		Results: results,
	})
	return string(bytes), err
}

// Client for fetching paginated API resources.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retry      Policy
	limiter    *rate.Limiter
}

// newClient creates a new client with the given per-request timeout and retry
// policy.
func newClient(baseURL string, timeout time.Duration, retry Policy) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		retry:      retry,
		limiter:    rate.NewLimiter(rate.Every(courtesyDelay), 1),
	}
}

// GetClient extracts the Client from the context, if any.
func GetClient(ctx context.Context) *Client {
	c, ok := ctx.Value(clientContextKey).(*Client)
	if !ok {
		return nil
	}
	return c
}

// UseClient creates a new client and injects it into the context.
func UseClient(ctx context.Context, timeout time.Duration, retry Policy) context.Context {
	return context.WithValue(ctx, clientContextKey, newClient(URL, timeout, retry))
}

// BaseURL of the API server this client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// fetchPage issues a single GET request through the retry policy and decodes
// the JSON page. Connection failures, timeouts and 5xx statuses are retried;
// 4xx statuses and decode failures fail immediately as ingestion errors.
func (c *Client) fetchPage(ctx context.Context, uri string) (*page, error) {
	var p page
	err := c.retry.do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			return fatalError(err, "failed to create request for '%s'", uri)
		}
		req.Header.Set("User-Agent", "rickmorty-pipeline/1.0")
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return transientError(err, "request to '%s' failed", uri)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 500:
			io.Copy(io.Discard, resp.Body)
			return transientError(nil, "server error %d from '%s'",
				resp.StatusCode, uri)
		case resp.StatusCode >= 400:
			io.Copy(io.Discard, resp.Body)
			return fatalError(nil, "client error %d from '%s'",
				resp.StatusCode, uri)
		}
		p = page{}
		if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
			return fatalError(err, "failed to decode page from '%s'", uri)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// fetchAllPages walks the next-page links starting at endpoint and returns
// the concatenation of all pages' results in fetch order. There is no page
// ceiling: the server-provided next link is trusted to eventually become
// absent.
func (c *Client) fetchAllPages(ctx context.Context, endpoint string) ([]Record, error) {
	all := []Record{}
	current := endpoint
	pageNum := 1

	logging.Debugf(ctx, "starting pagination from '%s'", endpoint)
	for current != "" {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fatalError(err, "pagination interrupted on page %d", pageNum)
		}
		p, err := c.fetchPage(ctx, current)
		if err != nil {
			return nil, annotateFetch(err, "pagination failed on page %d", pageNum)
		}
		all = append(all, p.Results...)
		logging.Infof(ctx, "page %d: retrieved %d records, %d total",
			pageNum, len(p.Results), len(all))
		current = p.Info.Next
		pageNum++
	}
	logging.Infof(ctx, "completed pagination of '%s': %d records", endpoint, len(all))
	return all, nil
}

// FetchAllPages retrieves the full ordered collection behind a paginated
// endpoint using the Client from the context.
func FetchAllPages(ctx context.Context, endpoint string) ([]Record, error) {
	c := GetClient(ctx)
	if c == nil {
		return nil, errors.Reason("FetchAllPages: no client in context")
	}
	return c.fetchAllPages(ctx, endpoint)
}
