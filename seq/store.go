package seq

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ceyewan/bank-kit/clog"
	"github.com/ceyewan/bank-kit/internal/failinject"
	"github.com/ceyewan/bank-kit/seq/internal/client"
	"github.com/ceyewan/bank-kit/seq/internal/storeimpl"
)

// Store 是计数器的持久化层，每个序列名对应一条记录
type Store interface {
	// Increment 原子地把计数器加一并返回加一后的值，记录不存在时创建并返回 1
	Increment(ctx context.Context, name string) (int64, error)
	// Load 读取计数器当前值，found 为 false 表示记录不存在
	Load(ctx context.Context, name string) (value int64, found bool, err error)
	// Save 覆盖写入计数器，记录不存在时创建
	Save(ctx context.Context, name string, value int64) error
	// Delete 删除计数器记录，记录不存在时不报错
	Delete(ctx context.Context, name string) error
	// Ping 检查后端连通性
	Ping(ctx context.Context) error
	Close() error
}

// 支持的存储后端
const (
	BackendMemory = storeimpl.BackendMemory
	BackendEtcd   = storeimpl.BackendEtcd
	BackendMongo  = storeimpl.BackendMongo
	BackendPebble = storeimpl.BackendPebble
)

// 存储操作名称，与后端名组成故障点名称
const (
	OpIncrement = storeimpl.OpIncrement
	OpLoad      = storeimpl.OpLoad
	OpSave      = storeimpl.OpSave
	OpDelete    = storeimpl.OpDelete
	OpPing      = storeimpl.OpPing
)

// ErrStoreClosed 存储关闭后继续访问时返回
var ErrStoreClosed = storeimpl.ErrStoreClosed

// FailpointName 返回后端某个操作的故障点名称，例如 FailpointName(BackendMemory, OpIncrement) == "memory.increment"
func FailpointName(backend, op string) string {
	return storeimpl.FailpointName(backend, op)
}

// StoreConfig 是计数器存储的配置
type StoreConfig struct {
	// Backend 存储后端: "mongo", "etcd", "pebble", "memory"
	Backend string `json:"backend" yaml:"backend"`

	// Mongo 配置（backend=mongo）
	MongoURI string `json:"mongoURI,omitempty" yaml:"mongoURI,omitempty"`
	Database string `json:"database,omitempty" yaml:"database,omitempty"`

	// Etcd 配置（backend=etcd）
	Endpoints []string `json:"endpoints,omitempty" yaml:"endpoints,omitempty"`
	Username  string   `json:"username,omitempty" yaml:"username,omitempty"`
	Password  string   `json:"password,omitempty" yaml:"password,omitempty"`
	KeyPrefix string   `json:"keyPrefix,omitempty" yaml:"keyPrefix,omitempty"`

	// Path pebble 数据目录（backend=pebble）
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// DialTimeout 建立连接的超时时间
	DialTimeout time.Duration `json:"dialTimeout" yaml:"dialTimeout"`
}

// GetDefaultStoreConfig 返回环境相关的默认存储配置，并应用 ApplyEnv
func GetDefaultStoreConfig(env string) *StoreConfig {
	config := &StoreConfig{
		Backend:     BackendMongo,
		MongoURI:    "mongodb://localhost:27017",
		Database:    "bank_system",
		Endpoints:   []string{"localhost:2379"},
		KeyPrefix:   "/bank-kit/sequences",
		Path:        "data/sequences",
		DialTimeout: 5 * time.Second,
	}
	switch env {
	case "development":
		config.Backend = BackendPebble
	case "production":
		config.DialTimeout = 10 * time.Second
	}
	return config.ApplyEnv()
}

// ApplyEnv 用环境变量覆盖配置：SEQ_STORE_BACKEND、MONGODB_URL、DATABASE_NAME、ETCD_ENDPOINTS、SEQ_PEBBLE_PATH
func (c *StoreConfig) ApplyEnv() *StoreConfig {
	c.Backend = getEnvWithDefault("SEQ_STORE_BACKEND", c.Backend)
	c.MongoURI = getEnvWithDefault("MONGODB_URL", c.MongoURI)
	c.Database = getEnvWithDefault("DATABASE_NAME", c.Database)
	c.Path = getEnvWithDefault("SEQ_PEBBLE_PATH", c.Path)
	if v := getEnvWithDefault("ETCD_ENDPOINTS", ""); v != "" {
		c.Endpoints = strings.Split(v, ",")
	}
	return c
}

// Validate 验证存储配置
func (c *StoreConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("store config cannot be nil")
	}
	switch c.Backend {
	case BackendMemory:
	case BackendMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("mongo URI cannot be empty")
		}
		if c.Database == "" {
			return fmt.Errorf("database name cannot be empty")
		}
	case BackendEtcd:
		if len(c.Endpoints) == 0 {
			return fmt.Errorf("at least one etcd endpoint must be specified")
		}
		if c.KeyPrefix == "" {
			return fmt.Errorf("etcd key prefix cannot be empty")
		}
	case BackendPebble:
		if c.Path == "" {
			return fmt.Errorf("pebble path cannot be empty")
		}
	default:
		return fmt.Errorf("unknown store backend: %q", c.Backend)
	}
	if c.Backend != BackendMemory && c.DialTimeout <= 0 {
		return fmt.Errorf("dial timeout must be positive")
	}
	return nil
}

// OpenStore 按配置打开计数器存储
// 支持的选项：WithLogger、WithFailpoints
func OpenStore(ctx context.Context, config *StoreConfig, opts ...Option) (Store, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid store configuration: %w", err)
	}
	options := parseOptions(opts)
	logger := options.logger.Namespace("store").With(clog.String("backend", config.Backend))

	switch config.Backend {
	case BackendMemory:
		return storeimpl.NewMemoryStore(options.faults), nil

	case BackendPebble:
		store, err := storeimpl.OpenPebbleStore(config.Path, options.faults, logger)
		if err != nil {
			return nil, err
		}
		return store, nil

	case BackendEtcd:
		etcdClient, err := client.New(client.Config{
			Endpoints: config.Endpoints,
			Username:  config.Username,
			Password:  config.Password,
			Timeout:   config.DialTimeout,
			// 单次读写的瞬时错误在客户端内重试，持续失败交给分配链降级
			RetryConfig: &client.RetryConfig{
				MaxAttempts:  2,
				InitialDelay: 20 * time.Millisecond,
				MaxDelay:     100 * time.Millisecond,
			},
			Logger: logger.Namespace("client"),
		})
		if err != nil {
			logger.Error("failed to create etcd client", clog.Err(err))
			return nil, err
		}
		return storeimpl.NewEtcdStore(etcdClient, config.KeyPrefix, options.faults, logger), nil

	case BackendMongo:
		dialCtx, cancel := context.WithTimeout(ctx, config.DialTimeout)
		defer cancel()
		mongoClient, err := storeimpl.ConnectMongo(dialCtx, config.MongoURI)
		if err != nil {
			logger.Error("failed to connect mongo", clog.Err(err))
			return nil, err
		}
		store, err := storeimpl.NewMongoStore(dialCtx, mongoClient, config.Database, true, options.faults, logger)
		if err != nil {
			_ = mongoClient.Disconnect(context.Background())
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown store backend: %q", config.Backend)
}

// NewMemoryStore 返回进程内存储，faults 可以为 nil
func NewMemoryStore(faults *failinject.Injector) Store {
	return storeimpl.NewMemoryStore(faults)
}
