package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	w := cfg.Weights()
	if w.CD200 != 5 || !w.CD200Enabled || w.MHCIIFr3 != 2 || w.MHCIIMBP != 8 || w.MHCICDR12 != 8 {
		t.Fatalf("unexpected default weights: %+v", w)
	}
	acc := cfg.AccumulatorConfig()
	if acc.ActivationThreshold != 10 || acc.Floor != 0 || !acc.ClampFloor {
		t.Fatalf("unexpected accumulator defaults: %+v", acc)
	}
	if cfg.Aggregator().MinAdhesion != 5 {
		t.Fatalf("unexpected adhesion minimum: %+v", cfg.Aggregator())
	}
	if got := cfg.Registry().Channels(); len(got) != 5 {
		t.Fatalf("expected five registered channels, got %v", got)
	}
}

func TestValidateInvariants(t *testing.T) {
	cases := []struct {
		name      string
		mutate    func(*Config)
		invariant string
	}{
		{"missing channel", func(c *Config) { c.Channels.MHCIIMBP = nil }, "channel weight present"},
		{"missing weight", func(c *Config) { c.Channels.CD200.Weight = nil }, "channel weight present"},
		{"negative magnitude", func(c *Config) { c.Channels.MHCICDR12.Weight = floatPtr(-1) }, "magnitude non-negative"},
		{"fr3 vs mbp", func(c *Config) { c.Channels.MHCIIFr3.Weight = floatPtr(8) }, "mhc_ii_fr3 weaker than mhc_ii_mbp"},
		{"fr3 vs cdr12", func(c *Config) { c.Channels.MHCICDR12.Weight = floatPtr(1) }, "mhc_ii_fr3 weaker than mhc_i_cdr12"},
		{"adhesion", func(c *Config) { c.Adhesion.Minimum = -1 }, "adhesion minimum non-negative"},
		{"threshold", func(c *Config) { c.Accumulator.Floor = 10 }, "activation threshold above floor"},
		{"threshold above unclamped floor", func(c *Config) { c.Accumulator.ClampFloor = false; c.Accumulator.Floor = 20 }, "activation threshold above floor"},
		{"zero threshold unclamped", func(c *Config) {
			c.Accumulator.ClampFloor = false
			c.Accumulator.Floor = -5
			c.Accumulator.ActivationThreshold = 0
		}, "activation threshold positive"},
		{"negative threshold", func(c *Config) { c.Accumulator.ActivationThreshold = -1 }, "activation threshold positive"},
		{"ceiling", func(c *Config) { c.Accumulator.Ceiling = 9 }, "ceiling not below activation threshold"},
		{"reduction zero", func(c *Config) { c.CD200R.PrimingReductionFactor = 0 }, "priming reduction factor in (0,1]"},
		{"reduction above one", func(c *Config) { c.CD200R.PrimingReductionFactor = 1.5 }, "priming reduction factor in (0,1]"},
		{"workers", func(c *Config) { c.Engine.Workers = -1 }, "workers non-negative"},
		{"retries", func(c *Config) { c.Engine.SnapshotRetries = -1 }, "snapshot retries non-negative"},
		{"log level", func(c *Config) { c.Logging.Level = "chatty" }, "known log level"},
		{"store kind", func(c *Config) { c.Store.Kind = "postgres" }, "known store kind"},
		{"sqlite path", func(c *Config) { c.Store.Kind = "sqlite"; c.Store.DBPath = "" }, "sqlite path present"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got: %v", err)
			}
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) || cfgErr.Invariant != tc.invariant {
				t.Fatalf("expected invariant %q, got: %v", tc.invariant, err)
			}
			if !strings.Contains(err.Error(), tc.invariant) {
				t.Fatalf("message must name the invariant: %s", err)
			}
		})
	}
}

func TestValidateAllowsNegativeUnclampedFloor(t *testing.T) {
	cfg := Default()
	cfg.Accumulator.ClampFloor = false
	cfg.Accumulator.Floor = -20
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unclamped floor below the threshold: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	path := writeFile(t, "immunosim.yaml", `
channels:
  cd200:
    weight: 4
    enabled: false
  mhc_ii_fr3:
    weight: 2
  mhc_ii_mbp:
    weight: 9
  mhc_i_cdr12:
    weight: 7
adhesion:
  minimum: 6
accumulator:
  activation_threshold: 12
  ceiling: 40
cd200r:
  priming_reduction_factor: 0.5
engine:
  workers: 4
  mutual: true
store:
  kind: sqlite
  db_path: runs.db
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	w := cfg.Weights()
	if w.CD200 != 4 || w.CD200Enabled || w.MHCIIMBP != 9 || w.MHCIIFr3 != 2 || w.MHCICDR12 != 7 {
		t.Fatalf("unexpected weights: %+v", w)
	}
	if cfg.Adhesion.Minimum != 6 || cfg.Accumulator.ActivationThreshold != 12 || cfg.Accumulator.Ceiling != 40 {
		t.Fatalf("unexpected parameters: %+v", cfg)
	}
	if !cfg.Accumulator.ClampFloor {
		t.Fatal("unset keys must keep their defaults")
	}
	opts := cfg.ArenaOptions(nil)
	if opts.PrimingReductionFactor != 0.5 || opts.Accumulator.Ceiling != 40 {
		t.Fatalf("unexpected arena options: %+v", opts)
	}
	if cfg.Store.Kind != "sqlite" || cfg.Store.DBPath != "runs.db" {
		t.Fatalf("unexpected store: %+v", cfg.Store)
	}
}

func TestLoadKeepsDefaultChannelsWhenSectionAbsent(t *testing.T) {
	path := writeFile(t, "immunosim.yaml", "adhesion:\n  minimum: 3\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if w := cfg.Weights(); w.MHCIIMBP != 8 || w.CD200 != 5 {
		t.Fatalf("expected default weights, got %+v", w)
	}
}

func TestLoadReportsWeightMissingFromFile(t *testing.T) {
	cases := []struct {
		name    string
		content string
		missing string
	}{
		{"channel omitted", "channels:\n  cd200:\n    weight: 5\n  mhc_ii_fr3:\n    weight: 2\n", "mhc_ii_mbp"},
		{"weight omitted", "channels:\n  cd200:\n    enabled: true\n  mhc_ii_fr3:\n    weight: 2\n  mhc_ii_mbp:\n    weight: 8\n  mhc_i_cdr12:\n    weight: 8\n", "cd200"},
		{"empty entry", "channels:\n  cd200:\n    weight: 5\n  mhc_ii_fr3:\n    weight: 2\n  mhc_ii_mbp:\n    weight: 8\n  mhc_i_cdr12: {}\n", "mhc_i_cdr12"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "immunosim.yaml", tc.content))
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) || cfgErr.Invariant != "channel weight present" {
				t.Fatalf("expected missing weight error, got: %v", err)
			}
			if !strings.Contains(cfgErr.Detail, tc.missing) {
				t.Fatalf("expected %s to be named, got: %s", tc.missing, cfgErr.Detail)
			}
		})
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := writeFile(t, "bad.yaml", "channels:\n  mhc_ii_fr3:\n    weight: 9\n")
	if _, err := Load(path); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got: %v", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected read error")
	}
	garbage := writeFile(t, "garbage.yaml", "channels: [1, 2")
	if _, err := Load(garbage); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("IMMUNOSIM_MHC_I_CDR12_WEIGHT", "11")
	t.Setenv("IMMUNOSIM_WORKERS", "3")
	t.Setenv("IMMUNOSIM_MUTUAL", "yes")
	t.Setenv("IMMUNOSIM_LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Weights().MHCICDR12 != 11 || cfg.Engine.Workers != 3 || !cfg.Engine.Mutual || cfg.Logging.Level != "debug" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	ec := cfg.EngineConfig(nil)
	if ec.Workers != 3 || !ec.Mutual || ec.Registry == nil {
		t.Fatalf("unexpected engine config: %+v", ec)
	}
}

func TestEnvOverrideParseError(t *testing.T) {
	t.Setenv("IMMUNOSIM_WORKERS", "many")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "IMMUNOSIM_WORKERS") {
		t.Fatalf("expected parse error naming the variable, got: %v", err)
	}
}

func TestEnvFileBelowProcessEnv(t *testing.T) {
	envFile := writeFile(t, ".env", "IMMUNOSIM_ADHESION_MINIMUM=7\nIMMUNOSIM_ACTIVATION_THRESHOLD=15\n")
	t.Setenv("IMMUNOSIM_ACTIVATION_THRESHOLD", "20")

	cfg, err := LoadWithEnvFile("", envFile)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Adhesion.Minimum != 7 {
		t.Fatalf("expected .env value, got %v", cfg.Adhesion.Minimum)
	}
	if cfg.Accumulator.ActivationThreshold != 20 {
		t.Fatalf("process env must win over .env, got %v", cfg.Accumulator.ActivationThreshold)
	}
	if _, err := LoadWithEnvFile("", filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("missing env file must be ignored: %v", err)
	}
}
