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
	goerrors "errors"
	"fmt"
	"time"

	"github.com/stockparfait/logging"
)

// ErrIngestion marks a fatal ingestion failure: a 4xx response, a decode
// error, or exhausted retries. Check with errors.Is.
var ErrIngestion = goerrors.New("ingestion error")

// errorKind distinguishes retryable from fatal fetch failures.
type errorKind int

const (
	transient errorKind = iota
	fatal
)

// fetchError is the tagged error type produced by the fetch path. The retry
// loop inspects the tag instead of relying on error type hierarchies.
type fetchError struct {
	kind errorKind
	msg  string
	err  error // underlying cause, may be nil
}

func (e *fetchError) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *fetchError) Unwrap() error { return e.err }

// Is makes fatal fetch errors match ErrIngestion.
func (e *fetchError) Is(target error) bool {
	return target == ErrIngestion && e.kind == fatal
}

func transientError(err error, format string, args ...interface{}) *fetchError {
	return &fetchError{kind: transient, msg: fmt.Sprintf(format, args...), err: err}
}

func fatalError(err error, format string, args ...interface{}) *fetchError {
	return &fetchError{kind: fatal, msg: fmt.Sprintf(format, args...), err: err}
}

// annotateFetch prefixes a fetch error with more context, preserving its kind.
func annotateFetch(err error, format string, args ...interface{}) error {
	fe, ok := err.(*fetchError)
	if !ok {
		return fatalError(err, format, args...)
	}
	return &fetchError{kind: fe.kind, msg: fmt.Sprintf(format, args...), err: fe}
}

// Policy is an explicit retry policy: max attempts, exponential backoff and a
// retryable-error predicate driven by the error tag.
type Policy struct {
	MaxAttempts int           // total attempts, including the first
	BackoffBase float64       // backoff multiplier in seconds
	MinDelay    time.Duration // floor for the backoff delay
	MaxDelay    time.Duration // cap for the backoff delay

	// sleep is a test seam; nil means sleep for real, honoring the context.
	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy mirrors the ingestion defaults: 5 attempts, backoff base of
// 2s, delays clamped to [1s, 30s].
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BackoffBase: 2.0,
		MinDelay:    time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// delay computes the backoff before retry number attempt (1-based):
// BackoffBase * 2^(attempt-1) seconds, clamped to [MinDelay, MaxDelay].
func (p Policy) delay(attempt int) time.Duration {
	d := time.Duration(p.BackoffBase * float64(time.Second))
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			break
		}
	}
	if d < p.MinDelay {
		d = p.MinDelay
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func (p Policy) doSleep(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// do runs f up to MaxAttempts times. Only transient errors are retried;
// fatal errors propagate immediately, and exhausting all attempts yields a
// fatal exhausted-retry error.
func (p Policy) do(ctx context.Context, f func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := f()
		if err == nil {
			return nil
		}
		fe, ok := err.(*fetchError)
		if !ok || fe.kind == fatal {
			return err
		}
		last = err
		if attempt == attempts {
			break
		}
		d := p.delay(attempt)
		logging.Warningf(ctx, "transient error (attempt %d of %d), retrying in %s: %s",
			attempt, attempts, d, err.Error())
		if serr := p.doSleep(ctx, d); serr != nil {
			return fatalError(serr, "retry wait interrupted")
		}
	}
	return &fetchError{
		kind: fatal,
		msg:  fmt.Sprintf("retries exhausted after %d attempts", attempts),
		err:  last,
	}
}
