package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	retry "github.com/sethvargo/go-retry"
	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/ceyewan/bank-kit/clog"
)

// ============================================================================
// 配置
// ============================================================================

// Config etcd 客户端配置选项
type Config struct {
	// Endpoints etcd 服务器地址列表
	Endpoints []string `json:"endpoints"`

	// Username etcd 用户名（可选）
	Username string `json:"username,omitempty"`

	// Password etcd 密码（可选）
	Password string `json:"password,omitempty"`

	// Timeout 连接超时时间
	Timeout time.Duration `json:"timeout"`

	// RetryConfig 读写操作的重试配置，为空时不重试
	RetryConfig *RetryConfig `json:"retry_config,omitempty"`

	// Logger 可选的日志记录器
	Logger clog.Logger `json:"-"`
}

// RetryConfig 重试机制配置，退避为指数增长并被 MaxDelay 截断
type RetryConfig struct {
	// MaxAttempts 最大尝试次数（包括第一次）
	MaxAttempts int `json:"max_attempts"`

	// InitialDelay 初始延迟
	InitialDelay time.Duration `json:"initial_delay"`

	// MaxDelay 最大延迟
	MaxDelay time.Duration `json:"max_delay"`
}

// ============================================================================
// 错误
// ============================================================================

// ErrorCode 错误码定义
type ErrorCode string

const (
	ErrCodeConnection  ErrorCode = "CONNECTION_ERROR"
	ErrCodeTimeout     ErrorCode = "TIMEOUT_ERROR"
	ErrCodeNotFound    ErrorCode = "NOT_FOUND"
	ErrCodeConflict    ErrorCode = "CONFLICT"
	ErrCodeValidation  ErrorCode = "VALIDATION_ERROR"
	ErrCodeUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// Error etcd 客户端错误类型
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Cause   error     `json:"cause,omitempty"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func NewError(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// ============================================================================
// 配置验证
// ============================================================================

// Validate 验证配置选项有效性
func (cfg *Config) Validate() error {
	if len(cfg.Endpoints) == 0 {
		return NewError(ErrCodeValidation, "endpoints cannot be empty", nil)
	}

	for _, endpoint := range cfg.Endpoints {
		if !isValidEndpoint(endpoint) {
			return NewError(ErrCodeValidation, fmt.Sprintf("invalid endpoint format: %q", endpoint), nil)
		}
	}

	if cfg.Timeout <= 0 {
		return NewError(ErrCodeValidation, "timeout must be positive", nil)
	}

	if cfg.RetryConfig != nil {
		return cfg.RetryConfig.validate()
	}

	return nil
}

// isValidEndpoint 判断是否为 host:port 格式
func isValidEndpoint(endpoint string) bool {
	_, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		return false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return false
	}
	return port > 0 && port <= 65535
}

func (rc *RetryConfig) validate() error {
	if rc.MaxAttempts < 0 {
		return NewError(ErrCodeValidation, "max_attempts cannot be negative", nil)
	}
	if rc.InitialDelay <= 0 {
		return NewError(ErrCodeValidation, "initial_delay must be positive", nil)
	}
	if rc.MaxDelay < rc.InitialDelay {
		return NewError(ErrCodeValidation, "max_delay must not be less than initial_delay", nil)
	}
	return nil
}

// ============================================================================
// EtcdClient
// ============================================================================

// EtcdClient etcd 客户端封装，提供重试机制和错误分类
type EtcdClient struct {
	client      *clientv3.Client
	retryConfig *RetryConfig
	logger      clog.Logger
}

// New 创建 etcd 客户端并确认第一个 endpoint 可达
func New(cfg Config) (*EtcdClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.Timeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, NewError(ErrCodeConnection, "failed to create etcd client", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if _, err := client.Status(ctx, cfg.Endpoints[0]); err != nil {
		client.Close()
		return nil, NewError(ErrCodeConnection, "failed to connect to etcd", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = clog.Namespace("seq.etcd-client")
	}
	logger.Info("etcd client created successfully", clog.Strings("endpoints", cfg.Endpoints))

	return &EtcdClient{
		client:      client,
		retryConfig: cfg.RetryConfig,
		logger:      logger,
	}, nil
}

// Close 关闭客户端连接
func (c *EtcdClient) Close() error {
	if c.client == nil {
		return nil
	}
	if err := c.client.Close(); err != nil {
		c.logger.Error("failed to close etcd client", clog.Err(err))
		return NewError(ErrCodeConnection, "failed to close etcd client", err)
	}
	c.logger.Info("etcd client closed")
	return nil
}

// Ping 与集群的一个健康节点同步 revision
func (c *EtcdClient) Ping(ctx context.Context) error {
	return c.executeWithRetry(ctx, "ping", func(ctx context.Context) error {
		if err := c.client.Sync(ctx); err != nil {
			return NewError(ErrCodeConnection, "etcd ping failed", err)
		}
		return nil
	})
}

// ============================================================================
// 重试
// ============================================================================

func (c *EtcdClient) backoff() retry.Backoff {
	b := retry.NewExponential(c.retryConfig.InitialDelay)
	b = retry.WithCappedDuration(c.retryConfig.MaxDelay, b)
	return retry.WithMaxRetries(uint64(c.retryConfig.MaxAttempts-1), b)
}

// executeWithRetry 执行带重试的操作；NotFound、Validation 以及 ctx 结束不重试
func (c *EtcdClient) executeWithRetry(ctx context.Context, op string, operation func(ctx context.Context) error) error {
	if c.retryConfig == nil || c.retryConfig.MaxAttempts <= 1 {
		return operation(ctx)
	}

	attempt := 0
	err := retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		attempt++
		err := operation(ctx)
		if err == nil || c.shouldNotRetry(err) || ctx.Err() != nil {
			return err
		}
		c.logger.Warn("etcd operation failed, will retry",
			clog.String("op", op),
			clog.Int("attempt", attempt),
			clog.Int("max_attempts", c.retryConfig.MaxAttempts),
			clog.Err(err))
		return retry.RetryableError(err)
	})
	if err != nil && attempt > 1 {
		c.logger.Error("etcd operation failed after retries",
			clog.String("op", op),
			clog.Int("attempts", attempt),
			clog.Err(err))
	}
	return err
}

// shouldNotRetry 检查是否不应该重试的错误
func (c *EtcdClient) shouldNotRetry(err error) bool {
	var coordErr *Error
	if errors.As(err, &coordErr) {
		return coordErr.Code == ErrCodeNotFound || coordErr.Code == ErrCodeValidation
	}
	return false
}

// classify 把 etcd 的错误映射为错误码
func classify(err error) ErrorCode {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	case errors.Is(err, rpctypes.ErrTimeout), errors.Is(err, rpctypes.ErrTimeoutDueToLeaderFail):
		return ErrCodeTimeout
	case errors.Is(err, rpctypes.ErrNoLeader), errors.Is(err, rpctypes.ErrNotCapable):
		return ErrCodeUnavailable
	default:
		return ErrCodeConnection
	}
}

// ============================================================================
// 基础操作
// ============================================================================

// Get 获取键值对
func (c *EtcdClient) Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error) {
	var resp *clientv3.GetResponse
	err := c.executeWithRetry(ctx, "get", func(ctx context.Context) error {
		var err error
		resp, err = c.client.Get(ctx, key, opts...)
		if err != nil {
			return NewError(classify(err), "etcd get operation failed", err)
		}
		return nil
	})
	return resp, err
}

// Put 设置键值对
func (c *EtcdClient) Put(ctx context.Context, key, value string, opts ...clientv3.OpOption) (*clientv3.PutResponse, error) {
	var resp *clientv3.PutResponse
	err := c.executeWithRetry(ctx, "put", func(ctx context.Context) error {
		var err error
		resp, err = c.client.Put(ctx, key, value, opts...)
		if err != nil {
			return NewError(classify(err), "etcd put operation failed", err)
		}
		return nil
	})
	return resp, err
}

// Delete 删除键值对
func (c *EtcdClient) Delete(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.DeleteResponse, error) {
	var resp *clientv3.DeleteResponse
	err := c.executeWithRetry(ctx, "delete", func(ctx context.Context) error {
		var err error
		resp, err = c.client.Delete(ctx, key, opts...)
		if err != nil {
			return NewError(classify(err), "etcd delete operation failed", err)
		}
		return nil
	})
	return resp, err
}

// CompareAndPut 当 key 的 ModRevision 等于 rev 时写入 value，rev 为 0 表示 key 不存在
// 返回事务是否提交成功；事务本身不重试，由调用方决定是否重新读取后再试
func (c *EtcdClient) CompareAndPut(ctx context.Context, key string, rev int64, value string) (bool, error) {
	resp, err := c.client.Txn(ctx).
		If(clientv3.Compare(clientv3.ModRevision(key), "=", rev)).
		Then(clientv3.OpPut(key, value)).
		Commit()
	if err != nil {
		return false, NewError(classify(err), "etcd txn commit failed", err)
	}
	return resp.Succeeded, nil
}
