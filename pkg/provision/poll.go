// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kraklabs/kbsync/pkg/mindsdb"
)

// ErrNotReady is returned when an object does not become ready in time.
var ErrNotReady = errors.New("object did not become ready")

// permanentError stops polling immediately.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error { return &permanentError{err: err} }

// waitReady polls check every PollInterval until it reports ready, returns a
// permanent error, or ReadyTimeout elapses. Other errors are retried; the
// last one is reported on timeout.
func (o *Orchestrator) waitReady(ctx context.Context, what string, check func(context.Context) (bool, error)) error {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.ReadyTimeout)
	defer cancel()

	var lastErr error
	for attempt := 1; ; attempt++ {
		ready, err := check(ctx)
		if err == nil && ready {
			o.logger.Debug("provision.wait.ready", "object", what, "attempts", attempt)
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if err != nil {
			lastErr = err
		}
		o.logger.Debug("provision.wait.pending", "object", what, "attempt", attempt, "err", err)

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return ctx.Err()
			}
			if lastErr != nil {
				return fmt.Errorf("%w: %s after %s: %w", ErrNotReady, what, o.cfg.ReadyTimeout, lastErr)
			}
			return fmt.Errorf("%w: %s after %s", ErrNotReady, what, o.cfg.ReadyTimeout)
		case <-time.After(o.cfg.PollInterval):
		}
	}
}

// modelReady reads the status row of the models table. "error" is permanent.
func modelReady(res *mindsdb.QueryResult) (bool, error) {
	if len(res.Data) == 0 {
		return false, nil
	}
	status, err := res.String(0, 0)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(status) {
	case "complete":
		return true, nil
	case "error":
		msg, _ := res.String(0, 1)
		if msg == "" {
			msg = "unknown error"
		}
		return false, permanent(fmt.Errorf("model failed: %s", msg))
	default:
		return false, nil
	}
}
