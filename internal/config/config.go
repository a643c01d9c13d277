// Package config loads session configuration from a .env file, the
// environment, and command-line flags, in that order of increasing
// precedence.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable named in the external interfaces table, plus
// the output paths and locale hints a session needs that aren't part of
// the tunable set.
type Config struct {
	TargetSampleRate  int
	BlockSize         int
	StartupThreshold  int
	CrossfadeLen      int
	JitterTolerance   int
	LevelPeriodMs     int
	FlushIntervalS    int
	SpeakerGapMs      int
	FinalizeTimeoutS  int
	MicGain           float64
	SystemGain        float64
	LimiterThreshold  float64
	LimiterRatio      float64

	OutputDir    string
	MicLocale    string
	SystemLocale string
	LogLevel     string
}

// Load loads configuration, applying spec defaults first, then .env, then
// environment variables, then flags.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.TargetSampleRate = 48000
	cfg.BlockSize = 8192
	cfg.StartupThreshold = 9600
	cfg.CrossfadeLen = 64
	cfg.JitterTolerance = 128
	cfg.LevelPeriodMs = 67
	cfg.FlushIntervalS = 10
	cfg.SpeakerGapMs = 1500
	cfg.FinalizeTimeoutS = 30
	cfg.MicGain = 1.0
	cfg.SystemGain = 1.0
	cfg.LimiterThreshold = 0.5
	cfg.LimiterRatio = 8
	cfg.OutputDir = "./output"
	cfg.MicLocale = "en-US"
	cfg.SystemLocale = "en-US"
	cfg.LogLevel = "info"

	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	cfg.TargetSampleRate = getEnvInt("MR_TARGET_SAMPLE_RATE", cfg.TargetSampleRate)
	cfg.BlockSize = getEnvInt("MR_BLOCK_SIZE", cfg.BlockSize)
	cfg.StartupThreshold = getEnvInt("MR_STARTUP_THRESHOLD", cfg.StartupThreshold)
	cfg.CrossfadeLen = getEnvInt("MR_CROSSFADE_LEN", cfg.CrossfadeLen)
	cfg.JitterTolerance = getEnvInt("MR_JITTER_TOLERANCE", cfg.JitterTolerance)
	cfg.LevelPeriodMs = getEnvInt("MR_LEVEL_PERIOD_MS", cfg.LevelPeriodMs)
	cfg.FlushIntervalS = getEnvInt("MR_FLUSH_INTERVAL_S", cfg.FlushIntervalS)
	cfg.SpeakerGapMs = getEnvInt("MR_SPEAKER_GAP_MS", cfg.SpeakerGapMs)
	cfg.FinalizeTimeoutS = getEnvInt("MR_FINALIZE_TIMEOUT_S", cfg.FinalizeTimeoutS)
	cfg.MicGain = getEnvFloat("MR_MIC_GAIN", cfg.MicGain)
	cfg.SystemGain = getEnvFloat("MR_SYSTEM_GAIN", cfg.SystemGain)
	cfg.LimiterThreshold = getEnvFloat("MR_LIMITER_THRESHOLD", cfg.LimiterThreshold)
	cfg.LimiterRatio = getEnvFloat("MR_LIMITER_RATIO", cfg.LimiterRatio)
	cfg.OutputDir = getEnv("MR_OUTPUT_DIR", cfg.OutputDir)
	cfg.MicLocale = getEnv("MR_MIC_LOCALE", cfg.MicLocale)
	cfg.SystemLocale = getEnv("MR_SYSTEM_LOCALE", cfg.SystemLocale)
	cfg.LogLevel = getEnv("MR_LOG_LEVEL", cfg.LogLevel)

	flag.IntVar(&cfg.TargetSampleRate, "target-sample-rate", cfg.TargetSampleRate, "internal and output sample rate")
	flag.IntVar(&cfg.BlockSize, "block-size", cfg.BlockSize, "samples per mixer output block")
	flag.IntVar(&cfg.StartupThreshold, "startup-threshold", cfg.StartupThreshold, "per-channel warm-up sample count")
	flag.IntVar(&cfg.CrossfadeLen, "crossfade-len", cfg.CrossfadeLen, "frames of crossfade between blocks")
	flag.IntVar(&cfg.JitterTolerance, "jitter-tolerance", cfg.JitterTolerance, "sample slop absorbed without gap-fill")
	flag.IntVar(&cfg.LevelPeriodMs, "level-period-ms", cfg.LevelPeriodMs, "minimum interval between level events")
	flag.IntVar(&cfg.FlushIntervalS, "flush-interval-s", cfg.FlushIntervalS, "per-channel transcript flush cadence")
	flag.IntVar(&cfg.SpeakerGapMs, "speaker-gap-ms", cfg.SpeakerGapMs, "gap that forces a new speaker header")
	flag.IntVar(&cfg.FinalizeTimeoutS, "finalize-timeout-s", cfg.FinalizeTimeoutS, "max wait for recognizer drain on stop")
	flag.Float64Var(&cfg.MicGain, "mic-gain", cfg.MicGain, "linear gain on mic source")
	flag.Float64Var(&cfg.SystemGain, "system-gain", cfg.SystemGain, "linear gain on system source")
	flag.Float64Var(&cfg.LimiterThreshold, "limiter-threshold", cfg.LimiterThreshold, "soft-limiter threshold")
	flag.Float64Var(&cfg.LimiterRatio, "limiter-ratio", cfg.LimiterRatio, "compression ratio above threshold")
	flag.StringVar(&cfg.OutputDir, "output-dir", cfg.OutputDir, "session output directory")
	flag.StringVar(&cfg.MicLocale, "mic-locale", cfg.MicLocale, "recognizer locale for the mic channel")
	flag.StringVar(&cfg.SystemLocale, "system-locale", cfg.SystemLocale, "recognizer locale for the system channel")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	flag.Parse()

	if cfg.TargetSampleRate != 48000 {
		return nil, fmt.Errorf("target sample rate %d unsupported: only 48000 is implemented", cfg.TargetSampleRate)
	}

	return cfg, nil
}

// FinalizeTimeout returns FinalizeTimeoutS as a time.Duration.
func (c *Config) FinalizeTimeout() time.Duration {
	return time.Duration(c.FinalizeTimeoutS) * time.Second
}

// FlushInterval returns FlushIntervalS as a time.Duration.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalS) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
