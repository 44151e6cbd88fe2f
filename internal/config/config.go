// SPDX-License-Identifier: MIT

// Package config assembles the daemon configuration. Precedence is
// defaults, then the optional YAML file, then AUTOCAST_* environment
// variables. Validation happens once at startup; a bad configuration
// refuses to boot instead of limping.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ManuGH/autocast/internal/pipeline/model"
)

// Config is the complete daemon configuration.
type Config struct {
	// DataDir is the object store root holding project folders.
	DataDir string `yaml:"dataDir"`
	// Listen is the HTTP bind address for API, metrics and health.
	Listen string `yaml:"listen"`

	KVBackend string `yaml:"kvBackend"` // badger | redis
	KVPath    string `yaml:"kvPath"`
	RedisAddr string `yaml:"redisAddr"`
	DBPath    string `yaml:"dbPath"`

	SmallCtxBytes int           `yaml:"smallCtxBytes"`
	InlineTTL     time.Duration `yaml:"inlineTTL"`
	BlobTTL       time.Duration `yaml:"blobTTL"`

	RunTimeout   time.Duration `yaml:"runTimeout"`
	CancelGrace  time.Duration `yaml:"cancelGrace"`
	StageTimeout time.Duration `yaml:"stageTimeout"`
	RetryMax     int           `yaml:"retryMax"`
	RetryBase    time.Duration `yaml:"retryBase"`

	MinVisuals int `yaml:"minVisuals"`

	TopicSource   string        `yaml:"topicSource"`
	SchedMax      int64         `yaml:"schedMaxConcurrent"`
	TickInterval  time.Duration `yaml:"tickInterval"`
	APIRateLimit  int           `yaml:"apiRateLimit"` // requests per minute per client
	ShutdownGrace time.Duration `yaml:"shutdownGrace"`

	// Workers maps stage names to worker base URLs. The quality gate runs
	// in-process and takes no endpoint.
	Workers map[string]string `yaml:"workers"`

	LogLevel string `yaml:"logLevel"`

	OTLPEndpoint string `yaml:"otlpEndpoint"`
	OTLPProtocol string `yaml:"otlpProtocol"` // grpc | http
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		DataDir:       "./data",
		Listen:        ":8080",
		KVBackend:     "badger",
		SmallCtxBytes: 100 * 1024,
		InlineTTL:     7 * 24 * time.Hour,
		BlobTTL:       30 * 24 * time.Hour,
		RunTimeout:    15 * time.Minute,
		CancelGrace:   5 * time.Second,
		StageTimeout:  2 * time.Minute,
		RetryMax:      3,
		RetryBase:     500 * time.Millisecond,
		MinVisuals:    3,
		SchedMax:      1,
		APIRateLimit:  60,
		ShutdownGrace: 10 * time.Second,
		LogLevel:      "info",
		OTLPProtocol:  "grpc",
		Workers:       map[string]string{},
	}
}

// Load builds the effective configuration. path may be empty.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.DataDir = ParseString("AUTOCAST_DATA_DIR", c.DataDir)
	c.Listen = ParseString("AUTOCAST_LISTEN", c.Listen)
	c.KVBackend = ParseString("AUTOCAST_KV_BACKEND", c.KVBackend)
	c.KVPath = ParseString("AUTOCAST_KV_PATH", c.KVPath)
	c.RedisAddr = ParseString("AUTOCAST_REDIS_ADDR", c.RedisAddr)
	c.DBPath = ParseString("AUTOCAST_DB_PATH", c.DBPath)
	c.SmallCtxBytes = ParseInt("AUTOCAST_SMALL_CTX_BYTES", c.SmallCtxBytes)
	c.InlineTTL = ParseDuration("AUTOCAST_INLINE_TTL", c.InlineTTL)
	c.BlobTTL = ParseDuration("AUTOCAST_BLOB_TTL", c.BlobTTL)
	c.RunTimeout = ParseDuration("AUTOCAST_RUN_TIMEOUT", c.RunTimeout)
	c.CancelGrace = ParseDuration("AUTOCAST_CANCEL_GRACE", c.CancelGrace)
	c.StageTimeout = ParseDuration("AUTOCAST_STAGE_TIMEOUT", c.StageTimeout)
	c.RetryMax = ParseInt("AUTOCAST_RETRY_MAX", c.RetryMax)
	c.RetryBase = ParseDuration("AUTOCAST_RETRY_BASE_DELAY", c.RetryBase)
	c.MinVisuals = ParseInt("AUTOCAST_MIN_VISUALS", c.MinVisuals)
	c.TopicSource = ParseString("AUTOCAST_TOPIC_SOURCE", c.TopicSource)
	c.SchedMax = int64(ParseInt("AUTOCAST_SCHED_MAX_CONCURRENT", int(c.SchedMax)))
	c.TickInterval = ParseDuration("AUTOCAST_SCHED_TICK_INTERVAL", c.TickInterval)
	c.APIRateLimit = ParseInt("AUTOCAST_API_RATE_LIMIT", c.APIRateLimit)
	c.ShutdownGrace = ParseDuration("AUTOCAST_SHUTDOWN_GRACE", c.ShutdownGrace)
	c.LogLevel = ParseString("AUTOCAST_LOG_LEVEL", c.LogLevel)
	c.OTLPEndpoint = ParseString("AUTOCAST_OTLP_ENDPOINT", c.OTLPEndpoint)
	c.OTLPProtocol = ParseString("AUTOCAST_OTLP_PROTOCOL", c.OTLPProtocol)

	if c.Workers == nil {
		c.Workers = map[string]string{}
	}
	for stage, env := range workerEnv {
		if v := os.Getenv(env); v != "" {
			c.Workers[stage] = v
		}
	}

	if c.KVPath == "" {
		c.KVPath = filepath.Join(c.DataDir, "kv")
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "autocast.db")
	}
}

var workerEnv = map[string]string{
	model.StageTopicPlanner: "AUTOCAST_WORKER_TOPIC_PLANNER",
	model.StageScriptWriter: "AUTOCAST_WORKER_SCRIPT_WRITER",
	model.StageMediaCurator: "AUTOCAST_WORKER_MEDIA_CURATOR",
	model.StageAudioSynth:   "AUTOCAST_WORKER_AUDIO_SYNTH",
	model.StageAssembler:    "AUTOCAST_WORKER_ASSEMBLER",
	model.StagePublisher:    "AUTOCAST_WORKER_PUBLISHER",
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: dataDir must not be empty")
	}
	switch c.KVBackend {
	case "badger":
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("config: kvBackend redis requires redisAddr")
		}
	default:
		return fmt.Errorf("config: unknown kvBackend %q (want badger or redis)", c.KVBackend)
	}
	if c.SmallCtxBytes <= 0 {
		return fmt.Errorf("config: smallCtxBytes must be positive")
	}
	if c.RunTimeout <= 0 {
		return fmt.Errorf("config: runTimeout must be positive")
	}
	if c.StageTimeout <= 0 {
		return fmt.Errorf("config: stageTimeout must be positive")
	}
	if c.RetryMax < 1 {
		return fmt.Errorf("config: retryMax must be at least 1")
	}
	if c.MinVisuals < 0 {
		return fmt.Errorf("config: minVisuals must not be negative")
	}
	if c.SchedMax < 1 {
		return fmt.Errorf("config: schedMaxConcurrent must be at least 1")
	}
	for stage := range c.Workers {
		if _, ok := workerEnv[stage]; !ok {
			return fmt.Errorf("config: worker endpoint for unknown stage %q", stage)
		}
	}
	switch c.OTLPProtocol {
	case "grpc", "http":
	default:
		return fmt.Errorf("config: unknown otlpProtocol %q (want grpc or http)", c.OTLPProtocol)
	}
	return nil
}
