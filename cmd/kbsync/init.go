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

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/kbsync/internal/errors"
	"github.com/kraklabs/kbsync/internal/ui"
)

// initFlags holds parsed flags for the init command.
type initFlags struct {
	force, nonInteractive bool
	host, knowledgeBase   string
	port                  int
	prdsDir, designsDir   string
}

// runInit executes the 'init' CLI command, creating .kbsync/project.yaml in
// the working directory.
//
// Examples:
//
//	kbsync init                   Interactive setup
//	kbsync init -y                Use all defaults
//	kbsync init -y --host db.lan  Point at another MindsDB
func runInit(args []string, globals GlobalFlags) {
	flags := parseInitFlags(args)

	cwd, err := os.Getwd()
	if err != nil {
		errors.FatalError(errors.NewInternalError(
			"Cannot access working directory",
			"Failed to determine current directory path",
			"This is unexpected. Please report this issue if it persists",
			err,
		), globals.JSON)
	}

	configPath := ConfigPath(cwd)
	if _, err := os.Stat(configPath); err == nil && !flags.force {
		errors.FatalError(errors.NewInputError(
			"Configuration already exists",
			fmt.Sprintf("%s already exists in this directory", configPath),
			"Use 'kbsync init --force' to overwrite the existing configuration",
		), globals.JSON)
	}

	cfg := createInitConfig(flags)
	if !flags.nonInteractive {
		runInteractiveConfig(bufio.NewReader(os.Stdin), os.Stdout, cfg)
	}
	if err := cfg.Validate(); err != nil {
		errors.FatalError(err, globals.JSON)
	}

	if err := SaveConfig(cfg, configPath); err != nil {
		errors.FatalError(err, globals.JSON)
	}
	ui.Successf("Created %s", configPath)
	for _, entry := range addToGitignore(cwd, gitignoreEntries(cfg)) {
		fmt.Printf("Added %s to .gitignore\n", entry)
	}
	printNextSteps()
}

func parseInitFlags(args []string) initFlags {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	var f initFlags
	fs.BoolVar(&f.force, "force", false, "Overwrite existing configuration")
	fs.BoolVarP(&f.nonInteractive, "yes", "y", false, "Non-interactive mode (use defaults)")
	fs.StringVar(&f.host, "host", "", "MindsDB host")
	fs.IntVar(&f.port, "port", 0, "MindsDB HTTP port")
	fs.StringVar(&f.knowledgeBase, "knowledge-base", "", "Knowledge base name")
	fs.StringVar(&f.prdsDir, "prds-dir", "", "Directory of PRDs (.txt, .md)")
	fs.StringVar(&f.designsDir, "designs-dir", "", "Directory of design specs (.json)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: kbsync init [options]

Description:
  Create a .kbsync/project.yaml configuration file in the current directory.

  By default, runs in interactive mode with prompts for each setting.
  Use -y for non-interactive mode with sensible defaults.

  The configuration defines:
  - Where MindsDB listens and which knowledge base to fill
  - Which directories and extensions hold documents
  - Where the tracking file and run state live
  - How 'kbsync reset' recreates the embedding model and agent

  The provider API key is never written to the file. Put OPENAI_API_KEY
  in the environment or in .env.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Interactive setup with prompts
  kbsync init

  # Non-interactive with all defaults
  kbsync init -y

  # Documents outside ./data
  kbsync init -y --prds-dir ./docs/prds --designs-dir ./docs/designs

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	return f
}

func createInitConfig(f initFlags) *Config {
	cfg := DefaultConfig()
	if f.host != "" {
		cfg.Sink.Host = f.host
	}
	if f.port != 0 {
		cfg.Sink.Port = f.port
	}
	if f.knowledgeBase != "" {
		cfg.Sink.KnowledgeBase = f.knowledgeBase
	}
	if f.prdsDir != "" {
		cfg.Sources = overrideSourceDir(cfg.Sources, "prds", f.prdsDir)
	}
	if f.designsDir != "" {
		cfg.Sources = overrideSourceDir(cfg.Sources, "designs", f.designsDir)
	}
	return cfg
}

func runInteractiveConfig(reader *bufio.Reader, out io.Writer, cfg *Config) {
	ui.Header("kbsync Project Configuration")
	fmt.Fprintln(out)

	cfg.Sink.Host = prompt(reader, out, "MindsDB host", cfg.Sink.Host)
	if port, err := strconv.Atoi(prompt(reader, out, "MindsDB HTTP port", strconv.Itoa(cfg.Sink.Port))); err == nil {
		cfg.Sink.Port = port
	}
	cfg.Sink.KnowledgeBase = prompt(reader, out, "Knowledge base", cfg.Sink.KnowledgeBase)

	fmt.Fprintln(out)
	ui.SubHeader("Document sources")
	for i := range cfg.Sources {
		s := &cfg.Sources[i]
		label := fmt.Sprintf("%s directory (%s)", s.Name, strings.Join(s.Extensions, ", "))
		s.Dir = prompt(reader, out, label, s.Dir)
	}
	fmt.Fprintln(out)
}

func printNextSteps() {
	fmt.Println()
	ui.SubHeader("Next steps:")
	fmt.Printf("  1. Review and edit %s if needed\n", ui.DimText(".kbsync/project.yaml"))
	fmt.Printf("  2. Run '%s' to create the knowledge base and agent\n", ui.Cyan.Sprint("kbsync reset --yes"))
	fmt.Printf("  3. Run '%s' to submit your documents\n", ui.Cyan.Sprint("kbsync ingest"))
	fmt.Printf("  4. Run '%s' to verify\n", ui.Cyan.Sprint("kbsync status"))
}

// prompt displays an interactive prompt and reads one line. An empty answer
// keeps defaultValue.
func prompt(reader *bufio.Reader, out io.Writer, label, defaultValue string) string {
	if defaultValue != "" {
		fmt.Fprintf(out, "%s [%s]: ", label, defaultValue)
	} else {
		fmt.Fprintf(out, "%s: ", label)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultValue
	}
	return input
}

// gitignoreEntries are the files kbsync writes that should not be committed.
// The tracking file is left out: teams usually share it with the documents.
func gitignoreEntries(cfg *Config) []string {
	state := filepath.ToSlash(filepath.Clean(stateDir(cfg)))
	return []string{
		state + "/ingest.lock",
		state + "/ingest.log",
		dotEnvFile,
	}
}

// addToGitignore appends entries missing from dir/.gitignore and returns the
// ones it added. Without a .gitignore it does nothing.
func addToGitignore(dir string, entries []string) []string {
	gitignorePath := filepath.Join(dir, ".gitignore")

	content, err := os.ReadFile(gitignorePath) //nolint:gosec // G304: gitignorePath built from repo dir
	if err != nil {
		return nil
	}

	present := map[string]bool{}
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimPrefix(strings.TrimSpace(line), "/")
		present[line] = true
	}

	var missing []string
	for _, e := range entries {
		if !present[e] {
			missing = append(missing, e)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	f, err := os.OpenFile(gitignorePath, os.O_APPEND|os.O_WRONLY, 0600) //nolint:gosec // G304: gitignorePath built from repo dir
	if err != nil {
		return nil
	}
	defer func() { _ = f.Close() }()

	var b strings.Builder
	if len(content) > 0 && content[len(content)-1] != '\n' {
		b.WriteString("\n")
	}
	b.WriteString("\n# kbsync\n")
	for _, e := range missing {
		b.WriteString(e + "\n")
	}
	if _, err := f.WriteString(b.String()); err != nil {
		return nil
	}
	return missing
}
