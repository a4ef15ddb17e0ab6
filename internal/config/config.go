// Package config loads a terminal's configuration from a YAML file. The
// document is checked against an embedded CUE schema before it is decoded,
// so a typo in a key fails loudly instead of silently using a default.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Topologies.
const (
	TopologyShared = "shared"
	TopologyRemote = "remote"
)

// Config is everything a terminal needs to start.
type Config struct {
	TerminalID string `yaml:"terminal_id"`
	Topology   string `yaml:"topology"`

	// PrimaryPath is the shared database file (shared topology).
	PrimaryPath string `yaml:"primary_path"`
	// BackupPath is the local store: the offline backup in the shared
	// topology, the only store in the remote one.
	BackupPath string `yaml:"backup_path"`
	// AuthorityURL is the HTTP authority (remote topology).
	AuthorityURL string `yaml:"authority_url"`

	ProbeInterval  time.Duration `yaml:"probe_interval"`
	PullInterval   time.Duration `yaml:"pull_interval"`
	PushInterval   time.Duration `yaml:"push_interval"`
	StatusInterval time.Duration `yaml:"status_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Retries        int           `yaml:"retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	MaxAttempts    int           `yaml:"max_attempts"`
	SearchLimit    int           `yaml:"search_limit"`
}

// Default returns a configuration with every optional field set.
func Default() Config {
	return Config{
		ProbeInterval:  5 * time.Second,
		PullInterval:   5 * time.Minute,
		PushInterval:   30 * time.Second,
		StatusInterval: time.Minute,
		RequestTimeout: 5 * time.Second,
		Retries:        2,
		RetryDelay:     500 * time.Millisecond,
		MaxAttempts:    10,
		SearchLimit:    20,
	}
}

// ValidationError lists every schema violation of a document.
type ValidationError struct {
	Path     string
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return fmt.Sprintf("invalid config %s: %s", e.Path, e.Problems[0])
	}
	return fmt.Sprintf("invalid config %s: %d problems, first: %s", e.Path, len(e.Problems), e.Problems[0])
}

// IsValidationError reports whether err is a schema violation.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Load reads, validates and decodes the file at path on top of Default.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(path, raw)
}

// Parse validates and decodes a YAML document. name is used in errors.
func Parse(name string, raw []byte) (Config, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", name, err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	if err := validate(name, doc); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", name, err)
	}
	return cfg, nil
}

// validate unifies doc with the #Config definition.
func validate(name string, doc map[string]any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	v := def.Unify(ctx.Encode(doc))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		ve := &ValidationError{Path: name}
		for _, e := range cueerrors.Errors(err) {
			ve.Problems = append(ve.Problems, e.Error())
		}
		if len(ve.Problems) == 0 {
			ve.Problems = []string{err.Error()}
		}
		return ve
	}
	return nil
}
