// Package config loads the YAML run configuration, grounded on
// infrastructure/providers/config.go's LoadProviderConfig: read the file,
// unmarshal with gopkg.in/yaml.v3, wrap every failure in a typed error.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fednorm/fednorm/internal/errs"
)

// Config is one participant's (or the coordinator's) run configuration.
// Keys and defaults mirror spec.md section 6's table exactly, including
// its intentional misspelling of "seperator".
type Config struct {
	Mode Mode `yaml:"normalization"`

	InputFilename  string `yaml:"input_filename"`
	Separator      string `yaml:"seperator"`
	OutputFilename string `yaml:"output_filename"`

	// SampleGenesInInput mirrors spec section 6's sample_genes_in_input:
	// true means sample/gene labels are embedded in the matrix file as its
	// first row/column; false (the default) means a headerless matrix
	// whose labels, if any, come from SampleNamesFile/GeneNamesFile.
	SampleGenesInInput bool `yaml:"sample_genes_in_input"`

	// SampleNamesFile and GeneNamesFile name one-name-per-line label files
	// (spec section 6's sample_names/gene_names keys); only consulted when
	// SampleGenesInInput is false, since an indexed input already embeds
	// its labels.
	SampleNamesFile string `yaml:"sample_names,omitempty"`
	GeneNamesFile   string `yaml:"gene_names,omitempty"`

	// NormFactors mirrors spec section 6's normfactors: whether to emit
	// the per-sample norm-factor file for upper-quartile runs (section 6's
	// output section fixes its name at normfactor.csv).
	NormFactors bool `yaml:"normfactors,omitempty"`

	Role             Role     `yaml:"role"`
	ParticipantID    string   `yaml:"participant_id"`
	ParticipantCount int      `yaml:"participant_count,omitempty"`
	ParticipantIDs   []string `yaml:"participant_ids,omitempty"`

	Transport TransportConfig `yaml:"transport"`
}

// Mode mirrors protocol.Mode as a YAML-friendly string so internal/config
// does not import internal/protocol. Its values are spec.md section 6's
// literal normalization strings, not protocol.Mode's wire-safe
// underscored spellings; cmd/fednorm translates with its protocolMode
// function at the point it constructs a protocol.Driver.
type Mode string

const (
	ModeQuantile      Mode = "quantile"
	ModeUpperQuartile Mode = "upper quartile"
)

// Role mirrors protocol.Role.
type Role string

const (
	RoleCoordinator Role = "coordinator"
	RoleParticipant Role = "participant"
)

// TransportConfig selects and parameterizes the wire transport.
type TransportConfig struct {
	Kind string `yaml:"kind"` // "inmemory", "websocket", "redis"

	// WebSocket
	ListenAddr string `yaml:"listen_addr,omitempty"`
	DialAddr   string `yaml:"dial_addr,omitempty"`

	// Redis
	RedisAddr     string `yaml:"redis_addr,omitempty"`
	RedisChannel  string `yaml:"redis_channel,omitempty"`
	RedisPassword string `yaml:"redis_password,omitempty"`
	RedisDB       int    `yaml:"redis_db,omitempty"`
}

// NormFactorsFilename returns the fixed output filename for the
// per-sample norm-factor file (spec section 6's output table: always
// normfactor.csv), or "" when NormFactors is false.
func (c *Config) NormFactorsFilename() string {
	if !c.NormFactors {
		return ""
	}
	return "normfactor.csv"
}

// Load reads and parses the run configuration at path, applying
// spec.md section 6's documented defaults before validating.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.ConfigError(fmt.Errorf("read config file: %w", err))
	}

	cfg := Config{
		InputFilename:  "data.csv",
		Separator:      ",",
		OutputFilename: "result.csv",
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errs.ConfigError(fmt.Errorf("unmarshal config: %w", err))
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Mode {
	case ModeQuantile, ModeUpperQuartile:
	default:
		return errs.ConfigError(fmt.Errorf("unrecognized normalization %q: want %q or %q", c.Mode, ModeQuantile, ModeUpperQuartile))
	}
	switch c.Role {
	case RoleCoordinator, RoleParticipant:
	default:
		return errs.ConfigError(fmt.Errorf("unrecognized role %q: want %q or %q", c.Role, RoleCoordinator, RoleParticipant))
	}
	if c.InputFilename == "" {
		return errs.ConfigError(fmt.Errorf("input_filename is required"))
	}
	if c.OutputFilename == "" {
		return errs.ConfigError(fmt.Errorf("output_filename is required"))
	}
	if c.Role == RoleCoordinator && c.ParticipantCount <= 0 {
		return errs.ConfigError(fmt.Errorf("coordinator role requires participant_count > 0"))
	}
	switch c.Transport.Kind {
	case "inmemory", "websocket", "redis":
	default:
		return errs.ConfigError(fmt.Errorf("unrecognized transport.kind %q", c.Transport.Kind))
	}
	return nil
}
