package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ceyewan/bank-kit/clog"
	"github.com/ceyewan/bank-kit/seq"
)

// fileConfig 是 --config 指向的 YAML 文件结构，未出现的字段保留环境默认值
type fileConfig struct {
	Log       *clog.Config     `yaml:"log"`
	Store     *seq.StoreConfig `yaml:"store"`
	Allocator *seq.Config      `yaml:"allocator"`
}

// loadConfig 依次应用：环境默认值、YAML 文件、环境变量、命令行 --backend
func loadConfig(env, path, backend string) (*fileConfig, error) {
	cfg := &fileConfig{
		Log:       clog.GetDefaultConfig(env),
		Store:     seq.GetDefaultStoreConfig(env),
		Allocator: seq.GetDefaultConfig(env),
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		if cfg.Log == nil || cfg.Store == nil || cfg.Allocator == nil {
			return nil, fmt.Errorf("parse config %s: log, store and allocator sections cannot be null", path)
		}
	}
	// 文件中的值覆盖默认值后，环境变量再覆盖一次
	cfg.Store.ApplyEnv()
	cfg.Allocator.ApplyEnv()
	cfg.Log.ApplyEnv()

	if backend != "" {
		cfg.Store.Backend = backend
	}

	if err := cfg.Log.Validate(); err != nil {
		return nil, fmt.Errorf("log: %w", err)
	}
	if err := cfg.Store.Validate(); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	if err := cfg.Allocator.Validate(); err != nil {
		return nil, fmt.Errorf("allocator: %w", err)
	}
	return cfg, nil
}
