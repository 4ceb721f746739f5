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

// Package errors provides user-facing CLI errors for kbsync.
//
// A UserError carries a short title, a longer explanation, and a hint telling
// the operator what to do next. FatalError renders it (as text or JSON) and
// terminates the process with an exit code derived from the error category.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"

	"github.com/kraklabs/kbsync/internal/ui"
)

// Category classifies a UserError and selects its exit code.
type Category string

const (
	CategoryConfig     Category = "config"
	CategoryNetwork    Category = "network"
	CategoryDatabase   Category = "database"
	CategoryPermission Category = "permission"
	CategoryInput      Category = "input"
	CategoryInternal   Category = "internal"
)

// Exit codes. 1 is reserved for "the run finished but some files failed".
const (
	ExitOK         = 0
	ExitFailures   = 1
	ExitConfig     = 2
	ExitNetwork    = 3
	ExitDatabase   = 4
	ExitPermission = 5
	ExitInput      = 6
	ExitInternal   = 7
)

// UserError is an error meant to be shown to the operator.
type UserError struct {
	Category Category
	Title    string
	Message  string
	Hint     string
	Cause    error
}

func (e *UserError) Error() string {
	msg := e.Title
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *UserError) Unwrap() error { return e.Cause }

// ExitCode returns the process exit code for the error category.
func (e *UserError) ExitCode() int {
	switch e.Category {
	case CategoryConfig:
		return ExitConfig
	case CategoryNetwork:
		return ExitNetwork
	case CategoryDatabase:
		return ExitDatabase
	case CategoryPermission:
		return ExitPermission
	case CategoryInput:
		return ExitInput
	default:
		return ExitInternal
	}
}

func newUserError(cat Category, title, message, hint string, cause error) *UserError {
	return &UserError{Category: cat, Title: title, Message: message, Hint: hint, Cause: cause}
}

// NewConfigError reports an invalid, missing or unreadable configuration.
func NewConfigError(title, message, hint string, cause error) *UserError {
	return newUserError(CategoryConfig, title, message, hint, cause)
}

// NewNetworkError reports that the knowledge base service could not be reached.
func NewNetworkError(title, message, hint string, cause error) *UserError {
	return newUserError(CategoryNetwork, title, message, hint, cause)
}

// NewDatabaseError reports a failure of persisted state: the tracking store
// or the knowledge base itself.
func NewDatabaseError(title, message, hint string, cause error) *UserError {
	return newUserError(CategoryDatabase, title, message, hint, cause)
}

// NewPermissionError reports a filesystem permission problem.
func NewPermissionError(title, message, hint string, cause error) *UserError {
	return newUserError(CategoryPermission, title, message, hint, cause)
}

// NewInputError reports invalid command-line input.
func NewInputError(title, message, hint string) *UserError {
	return newUserError(CategoryInput, title, message, hint, nil)
}

// NewInternalError reports a bug or an unexpected environment failure.
func NewInternalError(title, message, hint string, cause error) *UserError {
	return newUserError(CategoryInternal, title, message, hint, cause)
}

// exit is swapped in tests.
var exit = os.Exit

// FatalError prints err and terminates the process.
//
// Non-UserError values are wrapped as internal errors. In JSON mode the error
// is written to stdout as an object so scripted callers can parse it.
func FatalError(err error, jsonMode bool) {
	ue := AsUserError(err)
	if jsonMode {
		writeJSON(os.Stdout, ue)
	} else {
		writeText(os.Stderr, ue)
	}
	exit(ue.ExitCode())
}

// AsUserError returns err as a *UserError, wrapping it when necessary.
func AsUserError(err error) *UserError {
	var ue *UserError
	if stderrors.As(err, &ue) {
		return ue
	}
	return NewInternalError("Unexpected error", "", "Re-run with -vv for details", err)
}

type jsonError struct {
	Error    string `json:"error"`
	Category string `json:"category"`
	Message  string `json:"message,omitempty"`
	Hint     string `json:"hint,omitempty"`
	Cause    string `json:"cause,omitempty"`
	ExitCode int    `json:"exit_code"`
}

func writeJSON(w io.Writer, ue *UserError) {
	out := jsonError{
		Error:    ue.Title,
		Category: string(ue.Category),
		Message:  ue.Message,
		Hint:     ue.Hint,
		ExitCode: ue.ExitCode(),
	}
	if ue.Cause != nil {
		out.Cause = ue.Cause.Error()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
}

func writeText(w io.Writer, ue *UserError) {
	_, _ = ui.Red.Fprintf(w, "Error: %s\n", ue.Title)
	if ue.Message != "" {
		fmt.Fprintf(w, "  %s\n", ue.Message)
	}
	if ue.Cause != nil {
		fmt.Fprintf(w, "  %s %v\n", ui.DimText("cause:"), ue.Cause)
	}
	if ue.Hint != "" {
		_, _ = ui.Yellow.Fprintf(w, "  Hint: %s\n", ue.Hint)
	}
}
