// Package config loads the application configuration of the dicomstore
// command from YAML or TOML files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/caio-sobreiro/dicomstore/association"
	"github.com/caio-sobreiro/dicomstore/negotiation"
	"github.com/caio-sobreiro/dicomstore/types"
)

// Config is the complete application configuration.
type Config struct {
	Log     LogConfig     `yaml:"log" toml:"log"`
	SCP     SCPConfig     `yaml:"scp" toml:"scp"`
	SCU     SCUConfig     `yaml:"scu" toml:"scu"`
	TLS     TLSConfig     `yaml:"tls" toml:"tls"`
	Metrics MetricsConfig `yaml:"metrics" toml:"metrics"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`   // debug, info, warn, error
	Format string `yaml:"format" toml:"format"` // text or json
}

// SCPConfig configures the storage SCP.
type SCPConfig struct {
	AETitle         string `yaml:"ae_title" toml:"ae_title"`
	Address         string `yaml:"address" toml:"address"`
	StrictAETitle   bool   `yaml:"strict_ae_title" toml:"strict_ae_title"`
	MaxAssociations int    `yaml:"max_associations" toml:"max_associations"`
	MaxPDULength    uint32 `yaml:"max_pdu_length" toml:"max_pdu_length"`

	StorageDir   string `yaml:"storage_dir" toml:"storage_dir"`
	PathStrategy string `yaml:"path_strategy" toml:"path_strategy"` // flat or hierarchical
	IndexPath    string `yaml:"index_path" toml:"index_path"`       // empty disables the index

	// TransferSyntaxPolicy is preferred, first or last.
	TransferSyntaxPolicy string `yaml:"transfer_syntax_policy" toml:"transfer_syntax_policy"`
	// RecognizedTransferSyntaxes is uncompressed or all.
	RecognizedTransferSyntaxes string `yaml:"recognized_transfer_syntaxes" toml:"recognized_transfer_syntaxes"`

	ReadTimeout    time.Duration `yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout" toml:"write_timeout"`
	ReleaseTimeout time.Duration `yaml:"release_timeout" toml:"release_timeout"`
}

// SCUConfig configures the storage and verification SCUs.
type SCUConfig struct {
	AETitle                        string        `yaml:"ae_title" toml:"ae_title"`
	CalledAETitle                  string        `yaml:"called_ae_title" toml:"called_ae_title"`
	Address                        string        `yaml:"address" toml:"address"`
	MaxPDULength                   uint32        `yaml:"max_pdu_length" toml:"max_pdu_length"`
	ConnectTimeout                 time.Duration `yaml:"connect_timeout" toml:"connect_timeout"`
	ReleaseTimeout                 time.Duration `yaml:"release_timeout" toml:"release_timeout"`
	SeparateTransferSyntaxContexts bool          `yaml:"separate_transfer_syntax_contexts" toml:"separate_transfer_syntax_contexts"`
	Concurrency                    int           `yaml:"concurrency" toml:"concurrency"`
}

// MetricsConfig exposes Prometheus metrics over HTTP.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Address string `yaml:"address" toml:"address"`
}

// Path strategies and transfer syntax policies accepted in configuration.
const (
	PathStrategyFlat         = "flat"
	PathStrategyHierarchical = "hierarchical"

	PolicyPreferred = "preferred"
	PolicyFirst     = "first"
	PolicyLast      = "last"

	RecognizedUncompressed = "uncompressed"
	RecognizedAll          = "all"
)

// minPDULength is the smallest receive limit accepted in configuration. Zero
// still means the default.
const minPDULength = 1024

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		SCP: SCPConfig{
			AETitle:                    "STORESCP",
			Address:                    ":11112",
			MaxPDULength:               types.DefaultMaxPDULength,
			StorageDir:                 "received",
			PathStrategy:               PathStrategyHierarchical,
			TransferSyntaxPolicy:       PolicyPreferred,
			RecognizedTransferSyntaxes: RecognizedUncompressed,
			ReadTimeout:                association.DefaultReadTimeout,
			WriteTimeout:               association.DefaultWriteTimeout,
			ReleaseTimeout:             association.DefaultReleaseTimeout,
		},
		SCU: SCUConfig{
			AETitle:        "STORESCU",
			CalledAETitle:  "STORESCP",
			Address:        "localhost:11112",
			MaxPDULength:   types.DefaultMaxPDULength,
			ConnectTimeout: association.DefaultConnectTimeout,
			ReleaseTimeout: association.DefaultReleaseTimeout,
			Concurrency:    4,
		},
		Metrics: MetricsConfig{Address: ":9090"},
	}
}

// Load reads path over the defaults. The format follows the extension:
// .yaml/.yml or .toml. Unknown keys are errors. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("parse %s: unknown keys %v", path, undecoded)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q (use .yaml, .yml or .toml)", filepath.Ext(path))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	add := func(format string, args ...interface{}) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		result = multierror.Append(result, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		add("log.format must be text or json, got %q", c.Log.Format)
	}

	for field, ae := range map[string]string{
		"scp.ae_title":        c.SCP.AETitle,
		"scu.ae_title":        c.SCU.AETitle,
		"scu.called_ae_title": c.SCU.CalledAETitle,
	} {
		if ae == "" || len(ae) > 16 {
			add("%s must be 1 to 16 characters, got %q", field, ae)
		}
	}

	if c.SCP.Address == "" {
		add("scp.address is required")
	}
	if c.SCP.StorageDir == "" {
		add("scp.storage_dir is required")
	}
	if c.SCP.MaxAssociations < 0 {
		add("scp.max_associations must not be negative")
	}
	switch c.SCP.PathStrategy {
	case PathStrategyFlat, PathStrategyHierarchical:
	default:
		add("scp.path_strategy must be %s or %s, got %q", PathStrategyFlat, PathStrategyHierarchical, c.SCP.PathStrategy)
	}
	switch c.SCP.TransferSyntaxPolicy {
	case PolicyPreferred, PolicyFirst, PolicyLast:
	default:
		add("scp.transfer_syntax_policy must be %s, %s or %s, got %q", PolicyPreferred, PolicyFirst, PolicyLast, c.SCP.TransferSyntaxPolicy)
	}
	switch c.SCP.RecognizedTransferSyntaxes {
	case RecognizedUncompressed, RecognizedAll:
	default:
		add("scp.recognized_transfer_syntaxes must be %s or %s, got %q", RecognizedUncompressed, RecognizedAll, c.SCP.RecognizedTransferSyntaxes)
	}
	for field, n := range map[string]uint32{
		"scp.max_pdu_length": c.SCP.MaxPDULength,
		"scu.max_pdu_length": c.SCU.MaxPDULength,
	} {
		if n != 0 && n < minPDULength {
			add("%s must be at least %d, got %d", field, minPDULength, n)
		}
	}

	if c.SCU.Concurrency < 0 {
		add("scu.concurrency must not be negative")
	}

	if c.TLS.Enabled && (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		add("tls.cert_file and tls.key_file must be set together")
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		add("metrics.address is required when metrics are enabled")
	}

	return result.ErrorOrNil()
}

// Timeouts returns the association timeouts of the SCP.
func (c SCPConfig) Timeouts() association.Timeouts {
	return association.Timeouts{Read: c.ReadTimeout, Write: c.WriteTimeout, Release: c.ReleaseTimeout}
}

// Policy builds the presentation context policy of the SCP.
func (c SCPConfig) Policy() negotiation.PresentationContextSelectionPolicy {
	recognized := negotiation.UncompressedSet()
	if c.RecognizedTransferSyntaxes == RecognizedAll {
		recognized = negotiation.AllKnownSet()
	}

	var ts negotiation.TransferSyntaxSelectionPolicy
	switch c.TransferSyntaxPolicy {
	case PolicyFirst:
		ts = &negotiation.FirstRecognizedPolicy{Recognized: recognized}
	case PolicyLast:
		ts = &negotiation.LastRecognizedPolicy{Recognized: recognized}
	default:
		preferred := negotiation.NewPreferredPolicy()
		preferred.Recognized = recognized
		ts = preferred
	}
	return negotiation.NewStoragePolicy(negotiation.WithTransferSyntaxPolicy(ts))
}
