// Package config loads the packrelay config file: YAML on disk, validated
// against an embedded CUE schema before anything is decoded, so a typo'd
// key or an ill-typed value fails with a precise message rather than a
// silently ignored setting.
package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/packrelay/packrelay/internal/policy"
)

//go:embed schema.cue
var schemaSource string

// Duration is a time.Duration that unmarshals from YAML strings like
// "500ms" or "72h".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the plain time.Duration value.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Timeouts are the relay pool timing knobs.
type Timeouts struct {
	Connect Duration `yaml:"connect"`
	Query   Duration `yaml:"query"`
	Settle  Duration `yaml:"settle"`
}

// Policy selects the automatic rules.
type Policy struct {
	AutoApprove  bool     `yaml:"auto_approve"`
	AutoInvoice  bool     `yaml:"auto_invoice"`
	AutoConfirm  bool     `yaml:"auto_confirm"`
	ConfirmGrace Duration `yaml:"confirm_grace"`
	AutoExpire   bool     `yaml:"auto_expire"`
}

// Config is the full decoded config file.
type Config struct {
	Actor     string   `yaml:"actor"`
	Relays    []string `yaml:"relays"`
	Archive   string   `yaml:"archive"`
	WalletURL string   `yaml:"wallet_url"`
	LogLevel  string   `yaml:"log_level"`
	Timeouts  Timeouts `yaml:"timeouts"`
	Policy    Policy   `yaml:"policy"`
}

// Default returns the config baseline the file overrides.
func Default() Config {
	return Config{
		LogLevel: "info",
		Timeouts: Timeouts{
			Connect: Duration(4 * time.Second),
			Query:   Duration(6 * time.Second),
			Settle:  Duration(500 * time.Millisecond),
		},
		Policy: Policy{
			AutoInvoice:  true,
			AutoConfirm:  true,
			ConfirmGrace: Duration(72 * time.Hour),
			AutoExpire:   true,
		},
	}
}

// Load reads, validates, and decodes the config file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates raw YAML against the schema and decodes it over the
// defaults.
func Parse(data []byte) (Config, error) {
	if err := validateSchema(data); err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	cfg.Archive = expandHome(cfg.Archive)
	return cfg, nil
}

// validateSchema unifies the raw document with the closed #Config
// definition. Closedness is what catches unknown keys.
func validateSchema(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing config yaml: %w", err)
	}
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compiling config schema: %w", err)
	}
	unified := schema.Unify(ctx.Encode(doc))
	if err := unified.Validate(cue.Final(), cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %s", cueerrors.Details(err, nil))
	}
	return nil
}

// SlogLevel maps the configured log level to slog's.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// PolicyConfig translates the file's policy block into the rules engine's
// config.
func (c Config) PolicyConfig() policy.Config {
	return policy.Config{
		AutoApprove:  c.Policy.AutoApprove,
		AutoInvoice:  c.Policy.AutoInvoice,
		AutoConfirm:  c.Policy.AutoConfirm,
		ConfirmGrace: c.Policy.ConfirmGrace.Std(),
		AutoExpire:   c.Policy.AutoExpire,
	}
}

func expandHome(path string) string {
	if len(path) < 2 || path[:2] != "~/" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
