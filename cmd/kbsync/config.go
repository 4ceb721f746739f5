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
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/subosito/gotenv"
	"gopkg.in/yaml.v3"

	"github.com/kraklabs/kbsync/internal/errors"
	"github.com/kraklabs/kbsync/pkg/ingestion"
	"github.com/kraklabs/kbsync/pkg/mindsdb"
	"github.com/kraklabs/kbsync/pkg/provision"
)

const (
	defaultConfigDir  = ".kbsync"
	defaultConfigFile = "project.yaml"
	configVersion     = "1"
	dotEnvFile        = ".env"
)

// Config represents the .kbsync/project.yaml configuration file.
type Config struct {
	Version   string             `yaml:"version"`
	Sink      SinkConfig         `yaml:"sink"`
	Sources   []ingestion.Source `yaml:"sources"`
	Tracking  TrackingConfig     `yaml:"tracking"`
	Provision ProvisionConfig    `yaml:"provision"`

	// root is the project root: the directory holding .kbsync/, or the
	// working directory when no config file exists.
	root string
	// path is the loaded file, empty when running on defaults.
	path string
}

// SinkConfig locates the MindsDB HTTP API.
type SinkConfig struct {
	Scheme        string        `yaml:"scheme"`
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	KnowledgeBase string        `yaml:"knowledge_base"`
	Project       string        `yaml:"project"`
	QueryTimeout  time.Duration `yaml:"query_timeout"`
	StatusTimeout time.Duration `yaml:"status_timeout"`
}

// TrackingConfig locates local state.
type TrackingConfig struct {
	Path     string `yaml:"path"`      // fingerprint mapping
	StateDir string `yaml:"state_dir"` // ingest.log and the run lock
}

// ProvisionConfig is used by 'kbsync reset'. The API key is never stored in
// the file; it comes from OPENAI_API_KEY or .env.
type ProvisionConfig struct {
	Agent              string        `yaml:"agent"`
	EmbeddingModel     string        `yaml:"embedding_model,omitempty"`
	EmbeddingEngine    string        `yaml:"embedding_engine"`
	EmbeddingModelName string        `yaml:"embedding_model_name"`
	AgentModel         string        `yaml:"agent_model"`
	AgentProvider      string        `yaml:"agent_provider"`
	PromptTemplate     string        `yaml:"prompt_template,omitempty"`
	ReadyTimeout       time.Duration `yaml:"ready_timeout"`
	PollInterval       time.Duration `yaml:"poll_interval"`

	APIKey string `yaml:"-"`
}

// DefaultConfig returns the built-in defaults: MindsDB on localhost:47334,
// PRDs in ./data/prds, designs in ./data/designs.
func DefaultConfig() *Config {
	return &Config{
		Version: configVersion,
		Sink: SinkConfig{
			Scheme:        "http",
			Host:          mindsdb.DefaultHost,
			Port:          mindsdb.DefaultPort,
			KnowledgeBase: mindsdb.DefaultKnowledgeBase,
			Project:       provision.DefaultProject,
			QueryTimeout:  mindsdb.DefaultQueryTimeout,
			StatusTimeout: mindsdb.DefaultStatusTimeout,
		},
		Sources: ingestion.DefaultSources(),
		Tracking: TrackingConfig{
			Path:     ingestion.DefaultTrackingFile,
			StateDir: defaultConfigDir,
		},
		Provision: ProvisionConfig{
			Agent:              provision.DefaultAgent,
			EmbeddingEngine:    provision.DefaultEmbeddingEngine,
			EmbeddingModelName: provision.DefaultEmbeddingModelName,
			AgentModel:         provision.DefaultAgentModel,
			AgentProvider:      provision.DefaultAgentProvider,
			ReadyTimeout:       provision.DefaultReadyTimeout,
			PollInterval:       provision.DefaultPollInterval,
		},
	}
}

// LoadConfig loads configuration from configPath, KBSYNC_CONFIG_PATH, or the
// first .kbsync/project.yaml found in the working directory or its parents.
// When none exists the defaults are used. A .env file in the project root is
// loaded without overriding variables already set, then environment
// overrides are applied.
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = os.Getenv("KBSYNC_CONFIG_PATH")
	}

	if configPath == "" {
		found, err := findConfigFile()
		if err != nil {
			return nil, err
		}
		configPath = found
	} else if _, err := os.Stat(configPath); err != nil {
		return nil, errors.NewConfigError(
			"Configuration file not found",
			fmt.Sprintf("%s does not exist", configPath),
			"Fix --config / KBSYNC_CONFIG_PATH or run 'kbsync init' to create a config",
			err,
		)
	}

	cfg := DefaultConfig()
	if configPath != "" {
		if err := cfg.readFile(configPath); err != nil {
			return nil, err
		}
	}

	root, err := projectRoot(configPath)
	if err != nil {
		return nil, err
	}
	cfg.root = root
	if configPath != "" {
		cfg.path, _ = absPath(configPath)
	}

	if err := loadDotEnv(filepath.Join(root, dotEnvFile)); err != nil {
		return nil, err
	}
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path from flag or discovery
	if err != nil {
		return errors.NewConfigError(
			"Cannot read configuration file",
			fmt.Sprintf("Failed to read %s", path),
			"Check file permissions and ensure the file exists",
			err,
		)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.NewConfigError(
			"Invalid configuration format",
			"YAML parsing failed - the config file contains syntax errors",
			fmt.Sprintf("Edit %s to fix syntax errors, or run 'kbsync init --force' to recreate", path),
			err,
		)
	}
	if c.Version != configVersion {
		return errors.NewConfigError(
			"Unsupported configuration version",
			fmt.Sprintf("Config version '%s' is not supported (expected '%s')", c.Version, configVersion),
			"Run 'kbsync init --force' to regenerate the configuration file",
			nil,
		)
	}
	return nil
}

// Validate checks values that would otherwise fail late or end up in SQL.
func (c *Config) Validate() error {
	if c.Sink.Port <= 0 || c.Sink.Port > 65535 {
		return errors.NewConfigError(
			"Invalid sink port",
			fmt.Sprintf("Port %d is out of range", c.Sink.Port),
			"Set sink.port (or KBSYNC_PORT) to a value between 1 and 65535",
			nil,
		)
	}
	if err := mindsdb.ValidateIdentifier(c.Sink.KnowledgeBase); err != nil {
		return errors.NewConfigError(
			"Invalid knowledge base name",
			err.Error(),
			"Set sink.knowledge_base to a plain SQL identifier such as prd_knowledge_base",
			nil,
		)
	}
	if len(c.Sources) == 0 {
		return errors.NewConfigError(
			"No document sources configured",
			"The sources list is empty",
			"Add at least one entry with name, dir and extensions under 'sources'",
			nil,
		)
	}
	for _, s := range c.Sources {
		if s.Dir == "" || len(s.Extensions) == 0 {
			return errors.NewConfigError(
				"Incomplete document source",
				fmt.Sprintf("Source %q needs both dir and extensions", s.Name),
				"Example: {name: prds, dir: ./data/prds, extensions: [.txt, .md]}",
				nil,
			)
		}
	}
	if c.Tracking.Path == "" {
		return errors.NewConfigError(
			"Tracking path is empty",
			"tracking.path must name a file",
			"Use the default .ingested_files.json",
			nil,
		)
	}
	return nil
}

// SaveConfig writes cfg to configPath as YAML.
func SaveConfig(cfg *Config, configPath string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.NewInternalError(
			"Cannot encode configuration",
			"YAML marshaling failed unexpectedly",
			"This is a bug. Please report it with your configuration details",
			err,
		)
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return errors.NewPermissionError(
			"Cannot create configuration directory",
			fmt.Sprintf("Permission denied creating %s", dir),
			"Check directory permissions or run with appropriate privileges",
			err,
		)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return errors.NewPermissionError(
			"Cannot write configuration file",
			fmt.Sprintf("Permission denied writing to %s", configPath),
			"Check file permissions and ensure sufficient disk space",
			err,
		)
	}
	return nil
}

// ConfigPath returns <dir>/.kbsync/project.yaml.
func ConfigPath(dir string) string {
	return filepath.Join(dir, defaultConfigDir, defaultConfigFile)
}

// findConfigFile walks from the working directory up to the filesystem root
// and returns the first .kbsync/project.yaml, or "" when there is none.
func findConfigFile() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", errors.NewInternalError(
			"Cannot access working directory",
			"Failed to determine current directory path",
			"Check system permissions and try again",
			err,
		)
	}

	for {
		configPath := ConfigPath(dir)
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

// loadDotEnv reads KEY=VALUE pairs from path. Variables that are already
// set win over the file.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := gotenv.Load(path); err != nil {
		return errors.NewConfigError(
			"Invalid .env file",
			fmt.Sprintf("Failed to parse %s", path),
			"Use KEY=VALUE lines, one per line",
			err,
		)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
//
// Supported environment variables:
//   - KBSYNC_HOST: MindsDB host
//   - KBSYNC_PORT: MindsDB HTTP port
//   - KBSYNC_KNOWLEDGE_BASE: knowledge base name
//   - KBSYNC_TRACKING_PATH: tracking file
//   - OPENAI_API_KEY: provider key for 'reset'
func (c *Config) applyEnvOverrides() error {
	if host := os.Getenv("KBSYNC_HOST"); host != "" {
		c.Sink.Host = host
	}
	if port := os.Getenv("KBSYNC_PORT"); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return errors.NewConfigError(
				"Invalid KBSYNC_PORT",
				fmt.Sprintf("%q is not a number", port),
				"Set KBSYNC_PORT to the MindsDB HTTP port, e.g. 47334",
				err,
			)
		}
		c.Sink.Port = n
	}
	if kb := os.Getenv("KBSYNC_KNOWLEDGE_BASE"); kb != "" {
		c.Sink.KnowledgeBase = kb
	}
	if p := os.Getenv("KBSYNC_TRACKING_PATH"); p != "" {
		c.Tracking.Path = p
	}
	c.Provision.APIKey = getEnv("OPENAI_API_KEY", c.Provision.APIKey)
	return nil
}

// getEnv retrieves an environment variable or returns a fallback value if not set.
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
