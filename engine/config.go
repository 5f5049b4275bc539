package engine

import (
	"os"
	"time"

	"github.com/dianpeng/fsql/cg"
	"github.com/dianpeng/fsql/logger"
	"github.com/dianpeng/fsql/sqlerr"
	"github.com/goccy/go-json"
)

// Config is the engine configuration, read from a JSON file. Zero fields
// take the defaults of DefaultConfig.
type Config struct {
	// schema description file; empty keeps the catalog in memory
	SchemaPath string `json:"schema"`
	// directory of the table data files; empty keeps tables in memory
	DataDir string `json:"data_dir"`
	// directory of workset spill files
	TempDir string `json:"temp_dir"`
	// workset rows kept in memory before spilling
	WorksetMemRows int `json:"workset_mem_rows"`
	// compiled programs kept by the plan cache, 0 disables it
	PlanCacheSize int    `json:"plan_cache_size"`
	LockPolicy    string `json:"lock_policy"`
	// how long a statement waits for a lock held by another connection,
	// a Go duration such as "2s"; empty or "0" fails at once
	LockWait string `json:"lock_wait"`
	LogLevel string `json:"log_level"`
	Listen   string `json:"listen"`
}

func DefaultConfig() *Config {
	return &Config{
		TempDir:        os.TempDir(),
		WorksetMemRows: 4096,
		PlanCacheSize:  256,
		LockPolicy:     "record",
		LogLevel:       "error",
		Listen:         "127.0.0.1:7070",
	}
}

// LoadConfig reads path over the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, sqlerr.New(sqlerr.KindResource, sqlerr.Other, "config "+path+": "+err.Error())
	}
	cfg.fill()
	return cfg, nil
}

func (self *Config) fill() {
	def := DefaultConfig()
	if self.TempDir == "" {
		self.TempDir = def.TempDir
	}
	if self.WorksetMemRows <= 0 {
		self.WorksetMemRows = def.WorksetMemRows
	}
	if self.PlanCacheSize < 0 {
		self.PlanCacheSize = 0
	}
	if self.LockPolicy == "" {
		self.LockPolicy = def.LockPolicy
	}
	if self.Listen == "" {
		self.Listen = def.Listen
	}
}

func (self *Config) compilerConfig() (*cg.Config, error) {
	policy, ok := cg.ParseLockPolicy(self.LockPolicy)
	if !ok {
		return nil, sqlerr.New(sqlerr.KindResource, sqlerr.Other, "unknown lock policy "+self.LockPolicy)
	}
	return &cg.Config{LockPolicy: policy}, nil
}

func (self *Config) lockWait() (time.Duration, error) {
	if self.LockWait == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(self.LockWait)
	if err != nil || d < 0 {
		return 0, sqlerr.New(sqlerr.KindResource, sqlerr.Other, "bad lock wait "+self.LockWait)
	}
	return d, nil
}

func (self *Config) logLevel() logger.LogLevel {
	return logger.ParseLevel(self.LogLevel)
}
