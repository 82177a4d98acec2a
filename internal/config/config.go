// Package config loads and validates the simulation parameters. Values come
// from built-in defaults, an optional YAML file, an optional .env file and
// IMMUNOSIM_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"immunosim/internal/channel"
	"immunosim/internal/engine"
	"immunosim/internal/population"
	"immunosim/internal/signal"
)

const envPrefix = "IMMUNOSIM_"

var ErrInvalidConfig = errors.New("invalid configuration")

// ConfigError names the invariant a configuration violates.
type ConfigError struct {
	Invariant string
	Detail    string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Invariant, e.Detail)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

type Config struct {
	Channels    ChannelsConfig    `json:"channels" yaml:"channels"`
	Adhesion    AdhesionConfig    `json:"adhesion" yaml:"adhesion"`
	Accumulator AccumulatorConfig `json:"accumulator" yaml:"accumulator"`
	CD200R      CD200RConfig      `json:"cd200r" yaml:"cd200r"`
	Engine      EngineConfig      `json:"engine" yaml:"engine"`
	Logging     LoggingConfig     `json:"logging" yaml:"logging"`
	Store       StoreConfig       `json:"store" yaml:"store"`
}

// ChannelsConfig holds one entry per evaluated channel. A nil entry or a
// nil weight is reported as missing.
type ChannelsConfig struct {
	CD200     *CD200Config  `json:"cd200" yaml:"cd200"`
	MHCIIFr3  *WeightConfig `json:"mhc_ii_fr3" yaml:"mhc_ii_fr3"`
	MHCIIMBP  *WeightConfig `json:"mhc_ii_mbp" yaml:"mhc_ii_mbp"`
	MHCICDR12 *WeightConfig `json:"mhc_i_cdr12" yaml:"mhc_i_cdr12"`
}

type WeightConfig struct {
	Weight *float64 `json:"weight" yaml:"weight"`
}

// CD200Config also switches the whole CD200/CD200R pathway.
type CD200Config struct {
	Weight  *float64 `json:"weight" yaml:"weight"`
	Enabled bool     `json:"enabled" yaml:"enabled"`
}

type AdhesionConfig struct {
	Minimum float64 `json:"minimum" yaml:"minimum"`
}

type AccumulatorConfig struct {
	ActivationThreshold float64 `json:"activation_threshold" yaml:"activation_threshold"`
	Floor               float64 `json:"floor" yaml:"floor"`
	ClampFloor          bool    `json:"clamp_floor" yaml:"clamp_floor"`
	// Ceiling of zero disables saturation.
	Ceiling float64 `json:"ceiling" yaml:"ceiling"`
}

type CD200RConfig struct {
	PrimingReductionFactor float64 `json:"priming_reduction_factor" yaml:"priming_reduction_factor"`
}

type EngineConfig struct {
	Workers         int  `json:"workers" yaml:"workers"`
	Mutual          bool `json:"mutual" yaml:"mutual"`
	SnapshotRetries int  `json:"snapshot_retries" yaml:"snapshot_retries"`
}

// LoggingConfig level is one of "trace", "debug", "info", "warn", "error".
type LoggingConfig struct {
	Level string `json:"level" yaml:"level"`
}

type StoreConfig struct {
	Kind   string `json:"kind" yaml:"kind"`
	DBPath string `json:"db_path" yaml:"db_path"`
}

// Default returns the reference parameter set.
func Default() *Config {
	return &Config{
		Channels: ChannelsConfig{
			CD200:     &CD200Config{Weight: floatPtr(5), Enabled: true},
			MHCIIFr3:  &WeightConfig{Weight: floatPtr(2)},
			MHCIIMBP:  &WeightConfig{Weight: floatPtr(8)},
			MHCICDR12: &WeightConfig{Weight: floatPtr(8)},
		},
		Adhesion: AdhesionConfig{Minimum: 5},
		Accumulator: AccumulatorConfig{
			ActivationThreshold: 10,
			Floor:               0,
			ClampFloor:          true,
		},
		CD200R:  CD200RConfig{PrimingReductionFactor: 1},
		Engine:  EngineConfig{Workers: 1, SnapshotRetries: 1},
		Logging: LoggingConfig{Level: "info"},
		Store:   StoreConfig{Kind: "memory", DBPath: "immunosim.db"},
	}
}

// Load builds a configuration from defaults, the YAML file at path (when
// path is not empty) and the process environment, then validates it.
func Load(path string) (*Config, error) {
	return LoadWithEnvFile(path, "")
}

// LoadWithEnvFile is Load with an additional .env file. Process environment
// variables take precedence over the file; a missing file is ignored.
func LoadWithEnvFile(path, envFile string) (*Config, error) {
	cfg := Default()
	if path != "" {
		fileCfg, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}

	dotenv := map[string]string{}
	if envFile != "" {
		values, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			dotenv = values
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("reading env file: %w", err)
		}
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
	if err := applyEnvOverrides(cfg, lookup); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile decodes the YAML file at path over the defaults. It does not
// validate. A file that declares a channels section must carry every channel
// weight itself; weights it leaves out are reported as missing rather than
// taken from the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	var declared struct {
		Channels *ChannelsConfig `yaml:"channels"`
	}
	if err := yaml.Unmarshal(data, &declared); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if ch := declared.Channels; ch != nil {
		if ch.CD200 == nil || ch.CD200.Weight == nil {
			cfg.ensureCD200().Weight = nil
		}
		if weightOf(ch.MHCIIFr3) == nil {
			cfg.Channels.MHCIIFr3 = nil
		}
		if weightOf(ch.MHCIIMBP) == nil {
			cfg.Channels.MHCIIMBP = nil
		}
		if weightOf(ch.MHCICDR12) == nil {
			cfg.Channels.MHCICDR12 = nil
		}
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	weights := []struct {
		name   string
		weight *float64
	}{
		{"cd200", c.cd200Weight()},
		{"mhc_ii_fr3", weightOf(c.Channels.MHCIIFr3)},
		{"mhc_ii_mbp", weightOf(c.Channels.MHCIIMBP)},
		{"mhc_i_cdr12", weightOf(c.Channels.MHCICDR12)},
	}
	for _, w := range weights {
		if w.weight == nil {
			return &ConfigError{Invariant: "channel weight present", Detail: fmt.Sprintf("channels.%s.weight is missing", w.name)}
		}
		if math.IsNaN(*w.weight) || math.IsInf(*w.weight, 0) || *w.weight < 0 {
			return &ConfigError{Invariant: "magnitude non-negative", Detail: fmt.Sprintf("channels.%s.weight=%v", w.name, *w.weight)}
		}
	}

	fr3, mbp, cdr12 := *weights[1].weight, *weights[2].weight, *weights[3].weight
	if fr3 >= mbp {
		return &ConfigError{Invariant: "mhc_ii_fr3 weaker than mhc_ii_mbp", Detail: fmt.Sprintf("mhc_ii_fr3=%v mhc_ii_mbp=%v", fr3, mbp)}
	}
	if fr3 >= cdr12 {
		return &ConfigError{Invariant: "mhc_ii_fr3 weaker than mhc_i_cdr12", Detail: fmt.Sprintf("mhc_ii_fr3=%v mhc_i_cdr12=%v", fr3, cdr12)}
	}

	if !finite(c.Adhesion.Minimum) || c.Adhesion.Minimum < 0 {
		return &ConfigError{Invariant: "adhesion minimum non-negative", Detail: fmt.Sprintf("adhesion.minimum=%v", c.Adhesion.Minimum)}
	}

	acc := c.Accumulator
	if !finite(acc.ActivationThreshold) || !finite(acc.Floor) || !finite(acc.Ceiling) {
		return &ConfigError{Invariant: "accumulator bounds finite", Detail: fmt.Sprintf("threshold=%v floor=%v ceiling=%v", acc.ActivationThreshold, acc.Floor, acc.Ceiling)}
	}
	if acc.ActivationThreshold <= 0 {
		return &ConfigError{Invariant: "activation threshold positive", Detail: fmt.Sprintf("activation_threshold=%v", acc.ActivationThreshold)}
	}
	if acc.ActivationThreshold <= acc.Floor {
		return &ConfigError{Invariant: "activation threshold above floor", Detail: fmt.Sprintf("activation_threshold=%v floor=%v", acc.ActivationThreshold, acc.Floor)}
	}
	if acc.Ceiling < 0 || (acc.Ceiling > 0 && acc.Ceiling < acc.ActivationThreshold) {
		return &ConfigError{Invariant: "ceiling not below activation threshold", Detail: fmt.Sprintf("ceiling=%v activation_threshold=%v", acc.Ceiling, acc.ActivationThreshold)}
	}

	if f := c.CD200R.PrimingReductionFactor; !(f > 0 && f <= 1) {
		return &ConfigError{Invariant: "priming reduction factor in (0,1]", Detail: fmt.Sprintf("cd200r.priming_reduction_factor=%v", f)}
	}

	if c.Engine.Workers < 0 {
		return &ConfigError{Invariant: "workers non-negative", Detail: fmt.Sprintf("engine.workers=%d", c.Engine.Workers)}
	}
	if c.Engine.SnapshotRetries < 0 {
		return &ConfigError{Invariant: "snapshot retries non-negative", Detail: fmt.Sprintf("engine.snapshot_retries=%d", c.Engine.SnapshotRetries)}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		return &ConfigError{Invariant: "known log level", Detail: fmt.Sprintf("logging.level=%q", c.Logging.Level)}
	}
	switch c.Store.Kind {
	case "", "memory":
	case "sqlite":
		if c.Store.DBPath == "" {
			return &ConfigError{Invariant: "sqlite path present", Detail: "store.db_path is empty"}
		}
	default:
		return &ConfigError{Invariant: "known store kind", Detail: fmt.Sprintf("store.kind=%q", c.Store.Kind)}
	}
	return nil
}

// Weights returns the channel magnitudes. Call Validate first.
func (c *Config) Weights() channel.Weights {
	return channel.Weights{
		CD200:        deref(c.cd200Weight()),
		CD200Enabled: c.Channels.CD200 != nil && c.Channels.CD200.Enabled,
		MHCIIFr3:     deref(weightOf(c.Channels.MHCIIFr3)),
		MHCIIMBP:     deref(weightOf(c.Channels.MHCIIMBP)),
		MHCICDR12:    deref(weightOf(c.Channels.MHCICDR12)),
	}
}

func (c *Config) Registry() *channel.Registry {
	return channel.NewDefaultRegistry(c.Weights())
}

func (c *Config) Aggregator() signal.Aggregator {
	return signal.Aggregator{MinAdhesion: c.Adhesion.Minimum}
}

func (c *Config) AccumulatorConfig() signal.AccumulatorConfig {
	return signal.AccumulatorConfig{
		ActivationThreshold: c.Accumulator.ActivationThreshold,
		Floor:               c.Accumulator.Floor,
		ClampFloor:          c.Accumulator.ClampFloor,
		Ceiling:             c.Accumulator.Ceiling,
	}
}

func (c *Config) ArenaOptions(biology population.Biology) population.Options {
	return population.Options{
		Accumulator:            c.AccumulatorConfig(),
		PrimingReductionFactor: c.CD200R.PrimingReductionFactor,
		Biology:                biology,
	}
}

// EngineConfig wires an engine over arena. Listener and observer are left
// for the caller.
func (c *Config) EngineConfig(arena *population.Arena) engine.Config {
	return engine.Config{
		Arena:           arena,
		Registry:        c.Registry(),
		Aggregator:      c.Aggregator(),
		Workers:         c.Engine.Workers,
		Mutual:          c.Engine.Mutual,
		SnapshotRetries: c.Engine.SnapshotRetries,
	}
}

func (c *Config) cd200Weight() *float64 {
	if c.Channels.CD200 == nil {
		return nil
	}
	return c.Channels.CD200.Weight
}

func applyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) error {
	floats := []struct {
		key string
		set func(float64)
	}{
		{"CD200_WEIGHT", func(v float64) { cfg.ensureCD200().Weight = floatPtr(v) }},
		{"MHC_II_FR3_WEIGHT", func(v float64) { cfg.Channels.MHCIIFr3 = &WeightConfig{Weight: floatPtr(v)} }},
		{"MHC_II_MBP_WEIGHT", func(v float64) { cfg.Channels.MHCIIMBP = &WeightConfig{Weight: floatPtr(v)} }},
		{"MHC_I_CDR12_WEIGHT", func(v float64) { cfg.Channels.MHCICDR12 = &WeightConfig{Weight: floatPtr(v)} }},
		{"ADHESION_MINIMUM", func(v float64) { cfg.Adhesion.Minimum = v }},
		{"ACTIVATION_THRESHOLD", func(v float64) { cfg.Accumulator.ActivationThreshold = v }},
		{"ACCUMULATOR_FLOOR", func(v float64) { cfg.Accumulator.Floor = v }},
		{"ACCUMULATOR_CEILING", func(v float64) { cfg.Accumulator.Ceiling = v }},
		{"PRIMING_REDUCTION_FACTOR", func(v float64) { cfg.CD200R.PrimingReductionFactor = v }},
	}
	for _, f := range floats {
		raw, ok := lookup(envPrefix + f.key)
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return fmt.Errorf("parsing %s%s: %w", envPrefix, f.key, err)
		}
		f.set(v)
	}

	ints := []struct {
		key string
		set func(int)
	}{
		{"WORKERS", func(v int) { cfg.Engine.Workers = v }},
		{"SNAPSHOT_RETRIES", func(v int) { cfg.Engine.SnapshotRetries = v }},
	}
	for _, i := range ints {
		raw, ok := lookup(envPrefix + i.key)
		if !ok {
			continue
		}
		v, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("parsing %s%s: %w", envPrefix, i.key, err)
		}
		i.set(v)
	}

	bools := []struct {
		key string
		set func(bool)
	}{
		{"CD200_ENABLED", func(v bool) { cfg.ensureCD200().Enabled = v }},
		{"CLAMP_FLOOR", func(v bool) { cfg.Accumulator.ClampFloor = v }},
		{"MUTUAL", func(v bool) { cfg.Engine.Mutual = v }},
	}
	for _, b := range bools {
		raw, ok := lookup(envPrefix + b.key)
		if !ok {
			continue
		}
		v, err := parseBool(raw)
		if err != nil {
			return fmt.Errorf("parsing %s%s: %w", envPrefix, b.key, err)
		}
		b.set(v)
	}

	if v, ok := lookup(envPrefix + "LOG_LEVEL"); ok {
		cfg.Logging.Level = strings.TrimSpace(v)
	}
	if v, ok := lookup(envPrefix + "STORE"); ok {
		cfg.Store.Kind = strings.TrimSpace(v)
	}
	if v, ok := lookup(envPrefix + "DB_PATH"); ok {
		cfg.Store.DBPath = strings.TrimSpace(v)
	}
	return nil
}

func (c *Config) ensureCD200() *CD200Config {
	if c.Channels.CD200 == nil {
		c.Channels.CD200 = &CD200Config{Enabled: true}
	}
	return c.Channels.CD200
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("not a boolean: %q", raw)
	}
}

func weightOf(w *WeightConfig) *float64 {
	if w == nil {
		return nil
	}
	return w.Weight
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func floatPtr(v float64) *float64 { return &v }
