package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		Port int    `yaml:"port"`
		Host string `yaml:"host"`
	} `yaml:"server"`

	Whisper struct {
		Model   string `yaml:"model"`
		Device  string `yaml:"device"`
		Threads int    `yaml:"threads"`
	} `yaml:"whisper"`

	Worker struct {
		PollIntervalSeconds int  `yaml:"poll_interval_seconds"`
		Networked           bool `yaml:"networked"`
		LowPowerDevice      bool `yaml:"low_power_device"`
	} `yaml:"worker"`

	Storage struct {
		DataDir    string `yaml:"data_dir"`
		ScratchDir string `yaml:"scratch_dir"`
		Database   string `yaml:"database"`
		LockFile   string `yaml:"lock_file"`
	} `yaml:"storage"`

	Cleanup struct {
		IntervalMinutes int `yaml:"interval_minutes"`
		MaxAgeHours     int `yaml:"max_age_hours"`
	} `yaml:"cleanup"`

	Limits struct {
		MaxFileSizeMB int `yaml:"max_file_size_mb"`
	} `yaml:"limits"`
}

// Load reads a YAML config file and applies defaults for empty fields.
func Load(path string) (*Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(file, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration usable without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Whisper.Model == "" {
		c.Whisper.Model = "large-v3"
	}
	if c.Whisper.Device == "" {
		c.Whisper.Device = "cpu"
	}
	if c.Worker.PollIntervalSeconds == 0 {
		c.Worker.PollIntervalSeconds = 1
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "data"
	}
	if c.Storage.ScratchDir == "" {
		c.Storage.ScratchDir = "scratch"
	}
	if c.Storage.Database == "" {
		c.Storage.Database = "jobs.db"
	}
	if c.Storage.LockFile == "" {
		c.Storage.LockFile = "worker.lock"
	}
	if c.Cleanup.IntervalMinutes == 0 {
		c.Cleanup.IntervalMinutes = 60
	}
	if c.Cleanup.MaxAgeHours == 0 {
		c.Cleanup.MaxAgeHours = 24
	}
	if c.Limits.MaxFileSizeMB == 0 {
		c.Limits.MaxFileSizeMB = 2048
	}
}
