package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		QuestionCount int    `yaml:"questionCount"`
		Duration      string `yaml:"duration"`
		SourceURL     string `yaml:"sourceUrl"`
		FetchTimeout  string `yaml:"fetchTimeout"`
		TickInterval  string `yaml:"tickInterval"`
	} `yaml:"quiz"`
}

// Load reads YAML config from path. A missing file yields the zero config
// so the service can run on defaults alone.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty
// or unparsable.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// QuestionCount returns the configured question count or the fallback.
func (c Config) QuestionCount(fallback int) int {
	if c.Quiz.QuestionCount > 0 {
		return c.Quiz.QuestionCount
	}
	return fallback
}
