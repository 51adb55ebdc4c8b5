package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/liuscraft/orion-duck/internal/audio"
	"github.com/liuscraft/orion-duck/internal/surface/remote"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "config/duckmix.json"

type AppConfig struct {
	Logging LoggingConfig `json:"logging" yaml:"logging" toml:"logging"`
	Mixer   MixerConfig   `json:"mixer" yaml:"mixer" toml:"mixer"`
	Ducking DuckingConfig `json:"ducking" yaml:"ducking" toml:"ducking"`
	Remote  RemoteConfig  `json:"remote" yaml:"remote" toml:"remote"`
	Local   LocalConfig   `json:"local" yaml:"local" toml:"local"`
	Speech  SpeechConfig  `json:"speech" yaml:"speech" toml:"speech"`
	Server  ServerConfig  `json:"server" yaml:"server" toml:"server"`
}

type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" toml:"level"`
	Format string `json:"format" yaml:"format" toml:"format"`
}

type MixerConfig struct {
	TickMs        int         `json:"tick_ms" yaml:"tick_ms" toml:"tick_ms"`
	NarrationGain int         `json:"narration_gain" yaml:"narration_gain" toml:"narration_gain"`
	MusicGain     int         `json:"music_gain" yaml:"music_gain" toml:"music_gain"`
	VerifyEvery   int         `json:"verify_every" yaml:"verify_every" toml:"verify_every"`
	Curve         CurveConfig `json:"curve" yaml:"curve" toml:"curve"`
}

type CurveConfig struct {
	Smoothing float64 `json:"smoothing" yaml:"smoothing" toml:"smoothing"`
	MinStep   float64 `json:"min_step" yaml:"min_step" toml:"min_step"`
	MaxStep   float64 `json:"max_step" yaml:"max_step" toml:"max_step"`
	Knee      float64 `json:"knee" yaml:"knee" toml:"knee"`
}

type DuckingConfig struct {
	Enabled   bool    `json:"enabled" yaml:"enabled" toml:"enabled"`
	Floor     float64 `json:"floor" yaml:"floor" toml:"floor"`
	AttackMs  int     `json:"attack_ms" yaml:"attack_ms" toml:"attack_ms"`
	ReleaseMs int     `json:"release_ms" yaml:"release_ms" toml:"release_ms"`
	MaxStepMs int     `json:"max_step_ms" yaml:"max_step_ms" toml:"max_step_ms"`
}

type RemoteConfig struct {
	ResyncBurstMs  []int `json:"resync_burst_ms" yaml:"resync_burst_ms" toml:"resync_burst_ms"`
	SendQueue      int   `json:"send_queue" yaml:"send_queue" toml:"send_queue"`
	WriteTimeoutMs int   `json:"write_timeout_ms" yaml:"write_timeout_ms" toml:"write_timeout_ms"`
	PongWaitMs     int   `json:"pong_wait_ms" yaml:"pong_wait_ms" toml:"pong_wait_ms"`
}

type LocalConfig struct {
	MusicFile       string  `json:"music_file" yaml:"music_file" toml:"music_file"`
	SampleRate      int     `json:"sample_rate" yaml:"sample_rate" toml:"sample_rate"`
	FramesPerBuffer int     `json:"frames_per_buffer" yaml:"frames_per_buffer" toml:"frames_per_buffer"`
	Loop            bool    `json:"loop" yaml:"loop" toml:"loop"`
	ToneHz          float64 `json:"tone_hz" yaml:"tone_hz" toml:"tone_hz"`
	ToneLevel       float64 `json:"tone_level" yaml:"tone_level" toml:"tone_level"`
}

type SpeechConfig struct {
	// Source: "page"（页面上报）, "microphone" 或 "none"
	Source      string  `json:"source" yaml:"source" toml:"source"`
	Device      string  `json:"device" yaml:"device" toml:"device"`
	HighLatency bool    `json:"high_latency" yaml:"high_latency" toml:"high_latency"`
	SampleRate  int     `json:"sample_rate" yaml:"sample_rate" toml:"sample_rate"`
	FrameSize   int     `json:"frame_size" yaml:"frame_size" toml:"frame_size"`
	Threshold   float64 `json:"threshold" yaml:"threshold" toml:"threshold"`
	HangoverMs  int     `json:"hangover_ms" yaml:"hangover_ms" toml:"hangover_ms"`
}

type ServerConfig struct {
	Listen           string `json:"listen" yaml:"listen" toml:"listen"`
	Path             string `json:"path" yaml:"path" toml:"path"`
	StatusIntervalMs int    `json:"status_interval_ms" yaml:"status_interval_ms" toml:"status_interval_ms"`
}

func DefaultConfig() *AppConfig {
	return &AppConfig{
		Logging: LoggingConfig{},
		Mixer: MixerConfig{
			TickMs:        100,
			NarrationGain: 100,
			MusicGain:     60,
			VerifyEvery:   20,
			Curve: CurveConfig{
				Smoothing: 0.5,
				MinStep:   0.02,
				MaxStep:   0.25,
				Knee:      0.9,
			},
		},
		Ducking: DuckingConfig{
			Enabled:   true,
			Floor:     0.6,
			AttackMs:  150,
			ReleaseMs: 800,
			MaxStepMs: 200,
		},
		Remote: RemoteConfig{
			ResyncBurstMs:  []int{50, 150, 300},
			SendQueue:      16,
			WriteTimeoutMs: 2000,
			PongWaitMs:     30000,
		},
		Local: LocalConfig{
			SampleRate:      44100,
			FramesPerBuffer: 1024,
			Loop:            true,
			ToneHz:          220,
			ToneLevel:       0.3,
		},
		Speech: SpeechConfig{
			Source:     "page",
			SampleRate: 16000,
			FrameSize:  1600,
			Threshold:  0.02,
			HangoverMs: 400,
		},
		Server: ServerConfig{
			Listen:           "127.0.0.1:8765",
			Path:             "/ws",
			StatusIntervalMs: 5000,
		},
	}
}

// Load 读取配置文件（按扩展名选择 JSON/YAML/TOML），文件不存在时使用默认值。
// 之后依次加载 .env、应用环境变量并校验。
func Load(path string) (*AppConfig, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = DefaultPath
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg.ApplyEnv()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := decode(path, data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.ApplyEnv()
	return cfg, cfg.Validate()
}

func decode(path string, data []byte, cfg *AppConfig) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", "":
		return json.Unmarshal(data, cfg)
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	case ".toml":
		return toml.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
}

func (c *AppConfig) ApplyEnv() {
	if level := strings.TrimSpace(os.Getenv("LOG_LEVEL")); level != "" {
		c.Logging.Level = level
	}
	if format := strings.TrimSpace(os.Getenv("LOG_FORMAT")); format != "" {
		c.Logging.Format = format
	}
	if listen := strings.TrimSpace(os.Getenv("DUCKMIX_LISTEN")); listen != "" {
		c.Server.Listen = listen
	}
	if file := strings.TrimSpace(os.Getenv("DUCKMIX_MUSIC_FILE")); file != "" {
		c.Local.MusicFile = file
	}
	if raw := strings.TrimSpace(os.Getenv("DUCKMIX_AUTODUCK")); raw != "" {
		if enabled, err := strconv.ParseBool(raw); err == nil {
			c.Ducking.Enabled = enabled
		}
	}
}

func (c *AppConfig) Validate() error {
	if c.Mixer.TickMs <= 0 {
		return errors.New("mixer.tick_ms must be positive")
	}
	if c.Mixer.NarrationGain < 0 || c.Mixer.NarrationGain > 100 {
		return errors.New("mixer.narration_gain must be within 0-100")
	}
	if c.Mixer.MusicGain < 0 || c.Mixer.MusicGain > 100 {
		return errors.New("mixer.music_gain must be within 0-100")
	}
	if c.Mixer.VerifyEvery < 0 {
		return errors.New("mixer.verify_every must be non-negative")
	}
	if c.Mixer.Curve.Smoothing <= 0 || c.Mixer.Curve.Smoothing > 1 {
		return errors.New("mixer.curve.smoothing must be within (0,1]")
	}
	if c.Mixer.Curve.MinStep < 0 || c.Mixer.Curve.MaxStep <= 0 {
		return errors.New("mixer.curve steps must be positive")
	}
	if c.Mixer.Curve.Knee <= 0 || c.Mixer.Curve.Knee >= 1 {
		return errors.New("mixer.curve.knee must be within (0,1)")
	}

	if c.Ducking.Floor <= 0 || c.Ducking.Floor >= 1 {
		return errors.New("ducking.floor must be within (0,1)")
	}
	if c.Ducking.AttackMs < 0 || c.Ducking.ReleaseMs < 0 || c.Ducking.MaxStepMs < 0 {
		return errors.New("ducking timings must be non-negative")
	}

	for _, ms := range c.Remote.ResyncBurstMs {
		if ms < 0 {
			return errors.New("remote.resync_burst_ms must be non-negative")
		}
	}

	switch strings.ToLower(strings.TrimSpace(c.Speech.Source)) {
	case "", "none", "page", "microphone":
	default:
		return fmt.Errorf("invalid speech.source: %s", c.Speech.Source)
	}
	if c.Speech.Threshold <= 0 {
		return errors.New("speech.threshold must be positive")
	}

	if strings.TrimSpace(c.Server.Listen) == "" {
		return errors.New("server.listen is required")
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		return errors.New("server.path must start with /")
	}
	return nil
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// MixerOptions converts the mixer and ducking sections into an audio.MixerConfig.
func (c *AppConfig) MixerOptions() *audio.MixerConfig {
	burst := make([]time.Duration, 0, len(c.Remote.ResyncBurstMs))
	for _, v := range c.Remote.ResyncBurstMs {
		burst = append(burst, ms(v))
	}
	return &audio.MixerConfig{
		TickInterval:  ms(c.Mixer.TickMs),
		NarrationGain: c.Mixer.NarrationGain,
		MusicGain:     c.Mixer.MusicGain,
		VerifyEvery:   c.Mixer.VerifyEvery,
		Curve: audio.GainCurveConfig{
			Smoothing: c.Mixer.Curve.Smoothing,
			MinStep:   c.Mixer.Curve.MinStep,
			MaxStep:   c.Mixer.Curve.MaxStep,
			Knee:      c.Mixer.Curve.Knee,
		},
		Duck: audio.DuckConfig{
			Enabled: c.Ducking.Enabled,
			Floor:   c.Ducking.Floor,
			Attack:  ms(c.Ducking.AttackMs),
			Release: ms(c.Ducking.ReleaseMs),
			MaxStep: ms(c.Ducking.MaxStepMs),
		},
		Remote: audio.RemoteChannelConfig{ResyncBurst: burst},
	}
}

func (c *AppConfig) HubOptions() remote.Config {
	return remote.Config{
		SendQueue:    c.Remote.SendQueue,
		WriteTimeout: ms(c.Remote.WriteTimeoutMs),
		PongWait:     ms(c.Remote.PongWaitMs),
	}
}

func (c *AppConfig) StatusInterval() time.Duration {
	return ms(c.Server.StatusIntervalMs)
}

func (c *AppConfig) SpeechHangover() time.Duration {
	return ms(c.Speech.HangoverMs)
}
