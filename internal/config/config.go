package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Audio     AudioConfig     `yaml:"audio"`
	Gate      GateConfig      `yaml:"gate"`
	Engine    EngineConfig    `yaml:"engine"`
	Session   SessionConfig   `yaml:"session"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Store     StoreConfig     `yaml:"store"`
	Summary   SummaryConfig   `yaml:"summary"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// HTTPConfig contains HTTP server settings.
type HTTPConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	ReadTimeout     int    `yaml:"read_timeout_seconds"`
	ShutdownTimeout int    `yaml:"shutdown_timeout_seconds"`
	MaxChunkBytes   int    `yaml:"max_chunk_bytes"`
}

// AudioConfig contains audio assembly parameters.
type AudioConfig struct {
	SampleRate      int     `yaml:"sample_rate"`
	ChunkDuration   float64 `yaml:"chunk_duration_seconds"`
	OverlapDuration float64 `yaml:"overlap_duration_seconds"`
}

// GateConfig contains silence gating thresholds.
type GateConfig struct {
	Enabled        bool    `yaml:"enabled"`
	PeakThreshold  int     `yaml:"peak_threshold"`
	RMSThreshold   float64 `yaml:"rms_threshold"`
	MinActiveRatio float64 `yaml:"min_active_ratio"`
	AlwaysFlush    bool    `yaml:"always_flush"`
}

// EngineConfig contains speech recognition engine settings.
type EngineConfig struct {
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Language      string `yaml:"language"`
	Model         string `yaml:"model"`
	Timeout       int    `yaml:"timeout_seconds"`
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// SessionConfig contains session lifecycle settings.
type SessionConfig struct {
	IdleTimeout   int `yaml:"idle_timeout_seconds"`
	SweepInterval int `yaml:"sweep_interval_seconds"`
	QueueSize     int `yaml:"queue_size"`
	OutageCeiling int `yaml:"outage_ceiling_seconds"`
}

// BroadcastConfig contains live event stream settings.
type BroadcastConfig struct {
	KeepaliveInterval int `yaml:"keepalive_interval_seconds"`
	SubscriberBuffer  int `yaml:"subscriber_buffer"`
}

// StoreConfig contains transcript persistence settings.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// SummaryConfig contains post-session summarization settings.
type SummaryConfig struct {
	Enabled   bool   `yaml:"enabled"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	Timeout   int    `yaml:"timeout_seconds"`
	MaxTokens int    `yaml:"max_tokens"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return FromYAML(data)
}

// FromYAML parses configuration from raw YAML, applies defaults, and
// validates the result.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HTTP.Host == "" {
		c.HTTP.Host = "0.0.0.0"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.ReadTimeout == 0 {
		c.HTTP.ReadTimeout = 30
	}
	if c.HTTP.ShutdownTimeout == 0 {
		c.HTTP.ShutdownTimeout = 10
	}
	if c.HTTP.MaxChunkBytes == 0 {
		c.HTTP.MaxChunkBytes = 1 << 20
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = 16000
	}
	if c.Audio.ChunkDuration == 0 {
		c.Audio.ChunkDuration = 2.0
	}
	if c.Audio.OverlapDuration == 0 {
		c.Audio.OverlapDuration = 0.2
	}
	if c.Gate.PeakThreshold == 0 {
		c.Gate.PeakThreshold = 500
	}
	if c.Gate.RMSThreshold == 0 {
		c.Gate.RMSThreshold = 150
	}
	if c.Gate.MinActiveRatio == 0 {
		c.Gate.MinActiveRatio = 0.05
	}
	if c.Engine.Language == "" {
		c.Engine.Language = "en"
	}
	if c.Engine.Timeout == 0 {
		c.Engine.Timeout = 30
	}
	if c.Engine.MaxRetries == 0 {
		c.Engine.MaxRetries = 3
	}
	if c.Engine.MaxConcurrent == 0 {
		c.Engine.MaxConcurrent = 10
	}
	if c.Session.IdleTimeout == 0 {
		c.Session.IdleTimeout = 300
	}
	if c.Session.SweepInterval == 0 {
		c.Session.SweepInterval = 30
	}
	if c.Session.QueueSize == 0 {
		c.Session.QueueSize = 32
	}
	if c.Session.OutageCeiling == 0 {
		c.Session.OutageCeiling = 120
	}
	if c.Broadcast.KeepaliveInterval == 0 {
		c.Broadcast.KeepaliveInterval = 15
	}
	if c.Broadcast.SubscriberBuffer == 0 {
		c.Broadcast.SubscriberBuffer = 16
	}
	if c.Store.Path == "" {
		c.Store.Path = "sessions.db"
	}
	if c.Summary.Model == "" {
		c.Summary.Model = "gpt-4o-mini"
	}
	if c.Summary.Timeout == 0 {
		c.Summary.Timeout = 60
	}
	if c.Summary.MaxTokens == 0 {
		c.Summary.MaxTokens = 1024
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := c.Gate.Validate(); err != nil {
		return fmt.Errorf("gate config: %w", err)
	}
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine config: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}
	if err := c.Broadcast.Validate(); err != nil {
		return fmt.Errorf("broadcast config: %w", err)
	}
	if err := c.Summary.Validate(); err != nil {
		return fmt.Errorf("summary config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

// Validate checks HTTP configuration.
func (h *HTTPConfig) Validate() error {
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", h.Port)
	}
	if h.ReadTimeout < 0 {
		return fmt.Errorf("read_timeout_seconds must not be negative, got %d", h.ReadTimeout)
	}
	if h.MaxChunkBytes < 2 {
		return fmt.Errorf("max_chunk_bytes must be at least 2, got %d", h.MaxChunkBytes)
	}
	return nil
}

// Validate checks audio configuration.
func (a *AudioConfig) Validate() error {
	if a.SampleRate < 8000 || a.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000, got %d", a.SampleRate)
	}
	if a.ChunkDuration <= 0 {
		return fmt.Errorf("chunk_duration_seconds must be positive, got %f", a.ChunkDuration)
	}
	if a.OverlapDuration < 0 {
		return fmt.Errorf("overlap_duration_seconds must not be negative, got %f", a.OverlapDuration)
	}
	if a.OverlapDuration >= a.ChunkDuration {
		return fmt.Errorf("overlap_duration_seconds must be shorter than chunk_duration_seconds")
	}
	return nil
}

// Validate checks gate configuration.
func (g *GateConfig) Validate() error {
	if g.PeakThreshold < 0 {
		return fmt.Errorf("peak_threshold must not be negative, got %d", g.PeakThreshold)
	}
	if g.RMSThreshold < 0 {
		return fmt.Errorf("rms_threshold must not be negative, got %f", g.RMSThreshold)
	}
	if g.MinActiveRatio < 0 || g.MinActiveRatio > 1 {
		return fmt.Errorf("min_active_ratio must be between 0 and 1, got %f", g.MinActiveRatio)
	}
	return nil
}

// Validate checks engine configuration.
func (e *EngineConfig) Validate() error {
	if e.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if e.Timeout <= 0 {
		return fmt.Errorf("timeout_seconds must be positive, got %d", e.Timeout)
	}
	if e.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative, got %d", e.MaxRetries)
	}
	if e.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", e.MaxConcurrent)
	}
	return nil
}

// Validate checks session configuration.
func (s *SessionConfig) Validate() error {
	if s.IdleTimeout <= 0 {
		return fmt.Errorf("idle_timeout_seconds must be positive, got %d", s.IdleTimeout)
	}
	if s.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval_seconds must be positive, got %d", s.SweepInterval)
	}
	if s.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", s.QueueSize)
	}
	if s.OutageCeiling <= 0 {
		return fmt.Errorf("outage_ceiling_seconds must be positive, got %d", s.OutageCeiling)
	}
	return nil
}

// Validate checks broadcast configuration.
func (b *BroadcastConfig) Validate() error {
	if b.KeepaliveInterval <= 0 {
		return fmt.Errorf("keepalive_interval_seconds must be positive, got %d", b.KeepaliveInterval)
	}
	if b.SubscriberBuffer < 2 {
		return fmt.Errorf("subscriber_buffer must be at least 2, got %d", b.SubscriberBuffer)
	}
	return nil
}

// Validate checks summary configuration.
func (s *SummaryConfig) Validate() error {
	if s.Enabled && s.APIKey == "" {
		return fmt.Errorf("api_key is required when summarization is enabled")
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("timeout_seconds must be positive, got %d", s.Timeout)
	}
	if s.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be at least 1, got %d", s.MaxTokens)
	}
	return nil
}

// Validate checks logging configuration.
func (l *LoggingConfig) Validate() error {
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("level must be one of debug, info, warn, error, got %q", l.Level)
	}
	switch l.Format {
	case "json", "text":
	default:
		return fmt.Errorf("format must be json or text, got %q", l.Format)
	}
	return nil
}

// ApplyEnv overlays secrets from the environment. Environment values take
// precedence over the file so keys never have to live in the config.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("ENGINE_API_KEY"); v != "" {
		c.Engine.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Summary.APIKey = v
	}
}

// GetReadTimeout returns the HTTP read timeout as a duration.
func (h *HTTPConfig) GetReadTimeout() time.Duration {
	return time.Duration(h.ReadTimeout) * time.Second
}

// GetShutdownTimeout returns the graceful shutdown timeout as a duration.
func (h *HTTPConfig) GetShutdownTimeout() time.Duration {
	return time.Duration(h.ShutdownTimeout) * time.Second
}

// Addr returns the host:port listen address.
func (h *HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// GetChunkDuration returns the unit chunk duration as a duration.
func (a *AudioConfig) GetChunkDuration() time.Duration {
	return time.Duration(a.ChunkDuration * float64(time.Second))
}

// GetOverlapDuration returns the overlap carry duration as a duration.
func (a *AudioConfig) GetOverlapDuration() time.Duration {
	return time.Duration(a.OverlapDuration * float64(time.Second))
}

// GetTimeout returns the engine request timeout as a duration.
func (e *EngineConfig) GetTimeout() time.Duration {
	return time.Duration(e.Timeout) * time.Second
}

// GetIdleTimeout returns the session idle timeout as a duration.
func (s *SessionConfig) GetIdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeout) * time.Second
}

// GetSweepInterval returns the idle sweep interval as a duration.
func (s *SessionConfig) GetSweepInterval() time.Duration {
	return time.Duration(s.SweepInterval) * time.Second
}

// GetOutageCeiling returns the engine outage ceiling as a duration.
func (s *SessionConfig) GetOutageCeiling() time.Duration {
	return time.Duration(s.OutageCeiling) * time.Second
}

// GetKeepaliveInterval returns the keepalive interval as a duration.
func (b *BroadcastConfig) GetKeepaliveInterval() time.Duration {
	return time.Duration(b.KeepaliveInterval) * time.Second
}

// GetTimeout returns the summarization request timeout as a duration.
func (s *SummaryConfig) GetTimeout() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}
