// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package config holds the settings used by the d1ctl command and the local
// D1 emulator. Settings load from YAML files and the environment through
// cleanenv; the driver itself only consumes the resulting DSN and never reads
// the environment on its own.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	D1       D1       `yaml:"d1"`
	Logging  Logging  `yaml:"logging"`
	Server   Server   `yaml:"server"`
	Emulator Emulator `yaml:"emulator"`
}

// D1 describes the remote database to connect to.
type D1 struct {
	AccountID    string        `yaml:"account_id" env:"D1_ACCOUNT_ID" env-description:"Cloudflare account ID"`
	APIToken     string        `yaml:"api_token" env:"D1_API_TOKEN" env-description:"Cloudflare API token with D1 edit permission"`
	APITokenPath string        `yaml:"api_token_path" env:"D1_API_TOKEN_PATH" env-description:"path to a file holding the API token"`
	DatabaseID   string        `yaml:"database_id" env:"D1_DATABASE_ID" env-description:"D1 database UUID"`
	Endpoint     string        `yaml:"endpoint" env:"D1_ENDPOINT" env-default:"https://api.cloudflare.com/client/v4" env-description:"Cloudflare API base URL"`
	Timeout      time.Duration `yaml:"timeout" env:"D1_TIMEOUT" env-default:"30s" env-description:"timeout for a single REST call"`
	Retrieval    string        `yaml:"retrieval" env:"D1_RETRIEVAL" env-description:"primary result shape, objects or raw"`
	Async        bool          `yaml:"async" env:"D1_ASYNC" env-default:"false" env-description:"route statements through the async execution path"`
}

type Logging struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info" env-description:"logging level such as debug, info, error"`
}

type Server struct {
	Port           uint          `yaml:"port" env:"SERVER_PORT" env-default:"8787" env-description:"emulator listen port"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT" env-default:"30s" env-description:"longest time a single emulator request may take"`
}

// Emulator configures the local D1 REST emulator.
type Emulator struct {
	AccountID           string `yaml:"account_id" env:"EMULATOR_ACCOUNT_ID" env-default:"local" env-description:"account ID served by the emulator"`
	APIToken            string `yaml:"api_token" env:"EMULATOR_API_TOKEN" env-default:"local-token" env-description:"bearer token accepted by the emulator"`
	StoragePath         string `yaml:"storage_path" env:"EMULATOR_STORAGE_PATH" env-description:"directory holding database files, in memory when empty"`
	DropSingleRowHeader bool   `yaml:"drop_single_row_header" env:"EMULATOR_DROP_SINGLE_ROW_HEADER" env-default:"false" env-description:"omit the raw column header for single-row results"`
}

// NewSettings loads settings from the given YAML files, later files
// overriding earlier ones, and then from the environment. With no files the
// environment alone is read.
func NewSettings(configFiles ...string) (*Settings, error) {
	var cfg Settings

	read := false
	for _, cfgFile := range configFiles {
		if cfgFile == "" {
			continue
		}

		if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("no config %s: %w", cfgFile, err)
		}

		if err := cleanenv.ReadConfig(cfgFile, &cfg); err != nil {
			return nil, fmt.Errorf("config read %s: %w", cfgFile, err)
		}
		read = true
	}

	if !read {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("config read env: %w", err)
		}
	}

	if err := cfg.loadAPIToken(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (s *Settings) loadAPIToken() error {
	if s.D1.APIToken != "" || s.D1.APITokenPath == "" {
		return nil
	}

	location, err := filepath.Abs(s.D1.APITokenPath)
	if err != nil {
		return errors.Wrap(err, "api token path")
	}
	raw, err := os.ReadFile(location)
	if err != nil {
		return errors.Wrapf(err, "read api token %s", location)
	}
	s.D1.APIToken = strings.TrimSpace(string(raw))
	if s.D1.APIToken == "" {
		return errors.Errorf("api token file %s is empty", location)
	}
	return nil
}

// Validate checks the parts of the settings needed to reach a remote
// database.
func (s *Settings) Validate() error {
	if _, err := zerolog.ParseLevel(s.Logging.Level); err != nil {
		return errors.Wrapf(err, "invalid log level %q", s.Logging.Level)
	}
	if s.D1.Retrieval != "" && s.D1.Retrieval != "objects" && s.D1.Retrieval != "raw" {
		return errors.Errorf("retrieval must be objects or raw, got %q", s.D1.Retrieval)
	}
	dsn := s.DSN()
	return dsn.Validate()
}

// DSN builds the connection string described by the settings.
func (s *Settings) DSN() *DSN {
	dsn := &DSN{
		Scheme:     "d1",
		Transport:  TransportREST,
		Async:      s.D1.Async,
		AccountID:  s.D1.AccountID,
		APIToken:   s.D1.APIToken,
		DatabaseID: s.D1.DatabaseID,
		Endpoint:   strings.TrimRight(s.D1.Endpoint, "/"),
		Timeout:    s.D1.Timeout,
		Retrieval:  s.D1.Retrieval,
	}
	if dsn.Async {
		dsn.Scheme = "d1+async"
	}
	if dsn.Endpoint == "" {
		dsn.Endpoint = DefaultEndpoint
	}
	if dsn.Timeout == 0 {
		dsn.Timeout = DefaultTimeout
	}
	return dsn
}

// ToYAML serializes the settings with secrets masked.
func (s *Settings) ToYAML() ([]byte, error) {
	masked := *s
	if masked.D1.APIToken != "" {
		masked.D1.APIToken = "xxxxx"
	}
	if masked.Emulator.APIToken != "" {
		masked.Emulator.APIToken = "xxxxx"
	}
	raw, err := yaml.Marshal(&masked)
	if err != nil {
		return nil, fmt.Errorf("failed to encode into yaml: %w", err)
	}
	return raw, nil
}

// ToBytes returns a serialized representation of the data in the class
func (s *Settings) ToBytes() ([]byte, error) {
	return s.ToYAML()
}
