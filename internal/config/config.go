package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		URL    string `yaml:"url"`
		Listen string `yaml:"listen"`
	} `yaml:"server"`
	Transport struct {
		ConnectTimeout string `yaml:"connect_timeout"`
		PollInterval   string `yaml:"poll_interval"`
		RequestTimeout string `yaml:"request_timeout"`
	} `yaml:"transport"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	NATS struct {
		URL           string `yaml:"url"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`
	QuestionSets struct {
		TTL string `yaml:"ttl"`
	} `yaml:"question_sets"`
	Prefetch struct {
		Enabled     bool   `yaml:"enabled"`
		Topic       string `yaml:"topic"`
		Difficulty  string `yaml:"difficulty"`
		TargetCount int    `yaml:"target_count"`
		BatchSize   int    `yaml:"batch_size"`
	} `yaml:"prefetch"`
	Generator struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"generator"`
	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`
}

// Load reads YAML config from path. A missing file yields the zero config so
// flags and environment alone are enough to run.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Duration parses a duration string or returns the fallback if empty or invalid.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	return fallback
}
