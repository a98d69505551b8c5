/*
Copyright The Pgha Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config loads the keeper's per-node configuration with
// spf13/viper: an INI file (by default pg_autoctl.ini inside PGDATA),
// overridable by environment variables, and reloadable on SIGHUP subject
// to the refusal rule (PGDATA and node identity never change on reload).
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config is everything the keeper and the monitor client need to run.
type Config struct {
	PGData  string `mapstructure:"pgdata"`
	PGBin   string `mapstructure:"pg_config"`
	Debug   bool   `mapstructure:"debug"`

	NodeName string `mapstructure:"node_name"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`

	Formation         string `mapstructure:"formation"`
	GroupID           int64  `mapstructure:"group_id"`
	CandidatePriority int    `mapstructure:"candidate_priority"`
	ReplicationQuorum bool   `mapstructure:"replication_quorum"`

	MonitorURI      string `mapstructure:"monitor"`
	MonitorConninfo string `mapstructure:"monitor_conninfo"`

	ReplicationUser     string `mapstructure:"replication_user"`
	ReplicationPassword string `mapstructure:"replication_password"`

	NodeActiveIntervalSeconds int `mapstructure:"node_active_interval"`

	SSLMode string `mapstructure:"sslmode"`
}

// identity is the subset of Config that must never change across a reload.
type identity struct {
	PGData   string
	NodeName string
}

func (c Config) identity() identity {
	return identity{PGData: c.PGData, NodeName: c.NodeName}
}

// Loader reads and re-reads one node's configuration file, refusing
// reloads that would change node identity.
type Loader struct {
	v        *viper.Viper
	path     string
	current  Config
}

// NewLoader builds a Loader rooted at configPath (an INI file), honoring
// PGDATA, PG_CONFIG and PG_AUTOCTL_DEBUG as environment overrides the way
// spec.md §6 documents.
func NewLoader(configPath string) *Loader {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("ini")

	v.SetEnvPrefix("PG_AUTOCTL")
	v.BindEnv("debug", "PG_AUTOCTL_DEBUG")
	v.BindEnv("pgdata", "PGDATA")
	v.BindEnv("pg_config", "PG_CONFIG")

	v.SetDefault("node_active_interval", 5)
	v.SetDefault("replication_quorum", true)
	v.SetDefault("candidate_priority", 100)
	v.SetDefault("sslmode", "prefer")

	return &Loader{v: v, path: configPath}
}

// Load reads the configuration file for the first time.
func (l *Loader) Load() (Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("while reading configuration %q: %w", l.path, err)
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("while parsing configuration %q: %w", l.path, err)
	}

	l.current = cfg
	return cfg, nil
}

// Reload re-reads the configuration file and refuses the result if PGDATA
// or the node name changed, per the SIGHUP contract. On refusal it
// returns the previous configuration unchanged, along with the error.
func (l *Loader) Reload() (Config, error) {
	previous := l.current

	next, err := l.Load()
	if err != nil {
		l.current = previous
		return previous, err
	}

	if next.identity() != previous.identity() {
		l.current = previous
		return previous, fmt.Errorf(
			"refusing configuration reload: pgdata/node identity must not change (had pgdata=%q name=%q, got pgdata=%q name=%q)",
			previous.PGData, previous.NodeName, next.PGData, next.NodeName)
	}

	return next, nil
}

// Current returns the last successfully loaded configuration.
func (l *Loader) Current() Config {
	return l.current
}
