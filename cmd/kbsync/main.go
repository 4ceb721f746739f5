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

// Package main implements the kbsync CLI, which keeps a MindsDB knowledge
// base in sync with local PRD and design directories.
//
// Usage:
//
//	kbsync init                   Create .kbsync/project.yaml
//	kbsync ingest                 Submit new and changed documents
//	kbsync status [--json]        Show sink health and pending changes
//	kbsync query <sql> [--json]   Run SQL against MindsDB
//	kbsync reset --yes            Recreate knowledge base, model and agent
//	kbsync watch                  Re-ingest on file changes
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/kbsync/internal/ui"
)

// Version information (set via ldflags during build)
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// GlobalFlags holds the global CLI flags that apply to all commands.
type GlobalFlags struct {
	JSON    bool // Output in JSON format (for applicable commands)
	NoColor bool // Disable color output
	Verbose int  // Verbosity level: 0=normal, 1=-v (info), 2=-vv (debug)
	Quiet   bool // Suppress non-essential output (progress, info messages)
}

func main() {
	var (
		showVersion = flag.BoolP("version", "V", false, "Show version and exit")
		configPath  = flag.StringP("config", "c", "", "Path to .kbsync/project.yaml (default: search upwards from the working directory)")
		jsonOutput  = flag.Bool("json", false, "Output in JSON format (for applicable commands)")
		noColor     = flag.Bool("no-color", false, "Disable color output")
		verbose     = flag.CountP("verbose", "v", "Increase verbosity (-v for info, -vv for debug)")
		quiet       = flag.BoolP("quiet", "q", false, "Suppress non-essential output (progress, info messages)")
	)

	// Stop at the command name so "reset --yes" reaches the subcommand.
	flag.SetInterspersed(false)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `kbsync - incremental knowledge base ingestion for MindsDB

kbsync submits PRDs (.txt, .md) and design specs (.json) to a MindsDB
knowledge base. Documents are fingerprinted, and only new or changed
files are submitted on each run. Accepted fingerprints are recorded in
.ingested_files.json.

Usage:
  kbsync <command> [options]

Commands:
  init          Create .kbsync/project.yaml configuration
  ingest        Submit new and changed documents
  status        Show knowledge base health and pending changes
  query         Run a SQL statement against MindsDB
  reset         Recreate knowledge base, embedding model and agent (destructive!)
  watch         Watch source directories and re-ingest on change
  version       Show version information

Global Options:
  --json            Output in JSON format (for applicable commands)
  --no-color        Disable color output (respects NO_COLOR env var)
  -v, --verbose     Increase verbosity (-v for info, -vv for debug)
  -q, --quiet       Suppress non-essential output (progress, info messages)
  -c, --config      Path to .kbsync/project.yaml
  -V, --version     Show version and exit

Examples:
  kbsync ingest                       Ingest new and changed documents
  kbsync ingest --force               Re-submit every document
  kbsync status --json                Machine-readable status
  kbsync query "SELECT COUNT(*) FROM prd_knowledge_base"
  kbsync reset --yes                  Start over from an empty knowledge base

Environment Variables:
  KBSYNC_HOST            MindsDB host (default: localhost)
  KBSYNC_PORT            MindsDB HTTP port (default: 47334)
  KBSYNC_KNOWLEDGE_BASE  Knowledge base name (default: prd_knowledge_base)
  KBSYNC_TRACKING_PATH   Tracking file (default: .ingested_files.json)
  KBSYNC_CONFIG_PATH     Configuration file path
  OPENAI_API_KEY         Provider key used by 'reset' (also read from .env)

For detailed command help: kbsync <command> --help

`)
	}

	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	if os.Getenv("NO_COLOR") != "" {
		*noColor = true
	}

	if *quiet && *verbose > 0 {
		fmt.Fprintf(os.Stderr, "Error: cannot use --quiet and --verbose together\n")
		os.Exit(1)
	}

	// JSON mode implies quiet so progress bars cannot corrupt the output.
	if *jsonOutput {
		*quiet = true
	}

	globals := GlobalFlags{
		JSON:    *jsonOutput,
		NoColor: *noColor,
		Verbose: *verbose,
		Quiet:   *quiet,
	}

	ui.InitColors(globals.NoColor)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "init":
		runInit(cmdArgs, globals)
	case "ingest":
		runIngest(cmdArgs, *configPath, globals)
	case "status":
		runStatus(cmdArgs, *configPath, globals)
	case "query":
		runQuery(cmdArgs, *configPath, globals)
	case "reset":
		runReset(cmdArgs, *configPath, globals)
	case "watch":
		runWatch(cmdArgs, *configPath, globals)
	case "version":
		printVersion()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("kbsync version %s\n", version)
	fmt.Printf("commit: %s\n", commit)
	fmt.Printf("built: %s\n", date)
}
