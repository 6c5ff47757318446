package config

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalidConfig wraps every validation and parse failure
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the effective configuration of one reconwrap invocation
type Config struct {
	Retry   RetryConfig   `yaml:"retry"`
	Output  OutputConfig  `yaml:"output"`
	Worker  WorkerConfig  `yaml:"worker"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// RetryConfig controls license-failure retries. MaxRetries of 0 fails on the
// first license failure; a negative value retries forever.
type RetryConfig struct {
	MaxRetries      int     `yaml:"max_retries"`
	IntervalSeconds float64 `yaml:"interval_seconds"`
	CheckLines      int     `yaml:"check_lines"`
}

// Interval returns the delay between attempts
func (r RetryConfig) Interval() time.Duration {
	return time.Duration(r.IntervalSeconds * float64(time.Second))
}

// OutputConfig controls the worker output monitor
type OutputConfig struct {
	BufferSize               int     `yaml:"buffer_size"`
	HeartbeatIntervalSeconds float64 `yaml:"heartbeat_interval_seconds"`
	LogDir                   string  `yaml:"log_dir"`
}

// HeartbeatInterval returns the heartbeat period; zero means full output
func (o OutputConfig) HeartbeatInterval() time.Duration {
	return time.Duration(o.HeartbeatIntervalSeconds * float64(time.Second))
}

type WorkerConfig struct {
	Command string `yaml:"command"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// key -> environment variable
var envBindings = map[string]string{
	"retry.max_retries":                 "LICENSE_MAX_RETRIES",
	"retry.interval_seconds":            "LICENSE_RETRY_INTERVAL",
	"retry.check_lines":                 "LICENSE_CHECK_LINES",
	"output.buffer_size":                "LOG_BUFFER_SIZE",
	"output.heartbeat_interval_seconds": "LOG_HEARTBEAT_INTERVAL",
	"output.log_dir":                    "LOG_OUTPUT_DIR",
	"worker.command":                    "WORKER_COMMAND",
	"logging.level":                     "RECON_LOG_LEVEL",
	"logging.json":                      "RECON_LOG_JSON",
	"metrics.textfile":                  "METRICS_TEXTFILE",
}

// NewViper returns a viper instance with defaults and environment bindings.
// A non-empty configFile is read as YAML; a missing file is an error.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetDefault("retry.max_retries", 0)
	v.SetDefault("retry.interval_seconds", 300)
	v.SetDefault("retry.check_lines", 6)
	v.SetDefault("output.buffer_size", 100)
	v.SetDefault("output.heartbeat_interval_seconds", 60)
	v.SetDefault("output.log_dir", "")
	v.SetDefault("worker.command", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.json", false)
	v.SetDefault("metrics.textfile", "")

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: failed to read config file %s: %v", ErrInvalidConfig, configFile, err)
		}
	}
	return v, nil
}

// Load reads and validates the configuration from v
func Load(v *viper.Viper) (*Config, error) {
	p := parser{v: v}
	cfg := &Config{
		Retry: RetryConfig{
			MaxRetries:      p.intValue("retry.max_retries"),
			IntervalSeconds: p.floatValue("retry.interval_seconds"),
			CheckLines:      p.intValue("retry.check_lines"),
		},
		Output: OutputConfig{
			BufferSize:               p.intValue("output.buffer_size"),
			HeartbeatIntervalSeconds: p.floatValue("output.heartbeat_interval_seconds"),
			LogDir:                   strings.TrimSpace(v.GetString("output.log_dir")),
		},
		Worker: WorkerConfig{
			Command: strings.TrimSpace(v.GetString("worker.command")),
		},
		Logging: LoggingConfig{
			Level: strings.TrimSpace(v.GetString("logging.level")),
			JSON:  p.boolValue("logging.json"),
		},
		Metrics: MetricsConfig{
			Textfile: strings.TrimSpace(v.GetString("metrics.textfile")),
		},
	}
	if len(p.errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(p.errs, "; "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// maxDurationSeconds is the first value whose conversion overflows time.Duration
var maxDurationSeconds = float64(math.MaxInt64) / float64(time.Second)

// Validate checks value ranges
func (c *Config) Validate() error {
	var problems []string
	if c.Retry.IntervalSeconds < 0 {
		problems = append(problems, fmt.Sprintf("%s must not be negative", envBindings["retry.interval_seconds"]))
	}
	if c.Retry.IntervalSeconds >= maxDurationSeconds {
		problems = append(problems, fmt.Sprintf("%s must be below %.0f seconds", envBindings["retry.interval_seconds"], maxDurationSeconds))
	}
	if c.Retry.CheckLines < 0 {
		problems = append(problems, fmt.Sprintf("%s must not be negative", envBindings["retry.check_lines"]))
	}
	if c.Output.BufferSize < 1 {
		problems = append(problems, fmt.Sprintf("%s must be at least 1", envBindings["output.buffer_size"]))
	}
	if c.Output.HeartbeatIntervalSeconds < 0 {
		problems = append(problems, fmt.Sprintf("%s must not be negative", envBindings["output.heartbeat_interval_seconds"]))
	}
	if c.Output.HeartbeatIntervalSeconds >= maxDurationSeconds {
		problems = append(problems, fmt.Sprintf("%s must be below %.0f seconds", envBindings["output.heartbeat_interval_seconds"], maxDurationSeconds))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// parser reads raw strings and collects every failure instead of stopping at the first
type parser struct {
	v    *viper.Viper
	errs []string
}

func (p *parser) raw(key string) string {
	return strings.TrimSpace(p.v.GetString(key))
}

func (p *parser) fail(key, value string) {
	name := key
	if env, ok := envBindings[key]; ok {
		name = env
	}
	p.errs = append(p.errs, fmt.Sprintf("%s=%q is not valid", name, value))
}

func (p *parser) intValue(key string) int {
	s := p.raw(key)
	n, err := strconv.Atoi(s)
	if err != nil {
		p.fail(key, s)
		return 0
	}
	return n
}

func (p *parser) floatValue(key string) float64 {
	s := p.raw(key)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		p.fail(key, s)
		return 0
	}
	return f
}

func (p *parser) boolValue(key string) bool {
	s := p.raw(key)
	if s == "" {
		return false
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		p.fail(key, s)
		return false
	}
	return b
}
