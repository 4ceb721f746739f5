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

// Package ui renders human-oriented terminal output: headers, status lines,
// colored counts and progress bars.
package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

var (
	Green  = color.New(color.FgGreen)
	Yellow = color.New(color.FgYellow)
	Red    = color.New(color.FgRed)
	Cyan   = color.New(color.FgCyan)
	Dim    = color.New(color.Faint)
	Bold   = color.New(color.Bold)
)

// Out is where status helpers write. Tests replace it.
var Out io.Writer = os.Stdout

// InitColors enables or disables ANSI colors for the process.
// Colors are off when noColor is set or stdout is not a terminal.
func InitColors(noColor bool) {
	color.NoColor = noColor || !IsTerminal(os.Stdout)
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Header prints a bold section title followed by an underline.
func Header(title string) {
	_, _ = Bold.Fprintln(Out, title)
	_, _ = Dim.Fprintln(Out, underline(len(title)))
}

// SubHeader prints a bold sub-section title.
func SubHeader(title string) {
	_, _ = Bold.Fprintln(Out, title)
}

func Success(msg string) {
	_, _ = Green.Fprintf(Out, "✓ %s\n", msg)
}

func Successf(format string, args ...any) {
	Success(fmt.Sprintf(format, args...))
}

func Warning(msg string) {
	_, _ = Yellow.Fprintf(Out, "! %s\n", msg)
}

func Warningf(format string, args ...any) {
	Warning(fmt.Sprintf(format, args...))
}

func Info(msg string) {
	_, _ = Cyan.Fprintf(Out, "→ %s\n", msg)
}

func Infof(format string, args ...any) {
	Info(fmt.Sprintf(format, args...))
}

// Failure prints a red status line. It does not exit.
func Failure(msg string) {
	_, _ = Red.Fprintf(Out, "✗ %s\n", msg)
}

func Failuref(format string, args ...any) {
	Failure(fmt.Sprintf(format, args...))
}

// Label renders a field label in bold.
func Label(s string) string {
	return Bold.Sprint(s)
}

// DimText renders secondary information.
func DimText(s string) string {
	return Dim.Sprint(s)
}

// CountText renders a count: zero is dimmed, anything else is cyan.
func CountText(n int) string {
	if n == 0 {
		return Dim.Sprint("0")
	}
	return Cyan.Sprint(n)
}

func underline(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = '='
	}
	return string(b)
}
