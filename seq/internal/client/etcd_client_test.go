package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"

	"github.com/ceyewan/bank-kit/clog"
)

// TestConfig_Validate 测试配置校验
func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"valid", Config{Endpoints: []string{"localhost:2379"}, Timeout: time.Second}, false},
		{"multiple endpoints", Config{Endpoints: []string{"etcd-0:2379", "10.0.0.2:2379"}, Timeout: time.Second}, false},
		{"no endpoints", Config{Timeout: time.Second}, true},
		{"missing port", Config{Endpoints: []string{"localhost"}, Timeout: time.Second}, true},
		{"port out of range", Config{Endpoints: []string{"localhost:70000"}, Timeout: time.Second}, true},
		{"zero timeout", Config{Endpoints: []string{"localhost:2379"}}, true},
		{"valid retry", Config{
			Endpoints:   []string{"localhost:2379"},
			Timeout:     time.Second,
			RetryConfig: &RetryConfig{MaxAttempts: 3, InitialDelay: 10 * time.Millisecond, MaxDelay: time.Second},
		}, false},
		{"max delay below initial", Config{
			Endpoints:   []string{"localhost:2379"},
			Timeout:     time.Second,
			RetryConfig: &RetryConfig{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: time.Millisecond},
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var clientErr *Error
			require.ErrorAs(t, err, &clientErr)
			assert.Equal(t, ErrCodeValidation, clientErr.Code)
		})
	}
}

func TestError(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := NewError(ErrCodeConnection, "failed to connect", cause)
	assert.Equal(t, "[CONNECTION_ERROR] failed to connect: dial tcp: refused", err.Error())
	assert.ErrorIs(t, err, cause)

	assert.Equal(t, "[CONFLICT] lost race", NewError(ErrCodeConflict, "lost race", nil).Error())
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrCodeTimeout, classify(context.DeadlineExceeded))
	assert.Equal(t, ErrCodeTimeout, classify(rpctypes.ErrTimeout))
	assert.Equal(t, ErrCodeUnavailable, classify(rpctypes.ErrNoLeader))
	assert.Equal(t, ErrCodeConnection, classify(errors.New("boom")))
}

func TestExecuteWithRetry(t *testing.T) {
	newClient := func(rc *RetryConfig) *EtcdClient {
		return &EtcdClient{retryConfig: rc, logger: clog.Namespace("test")}
	}
	rc := &RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

	t.Run("retries transient errors", func(t *testing.T) {
		calls := 0
		err := newClient(rc).executeWithRetry(context.Background(), "get", func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return NewError(ErrCodeTimeout, "slow", nil)
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls := 0
		err := newClient(rc).executeWithRetry(context.Background(), "put", func(ctx context.Context) error {
			calls++
			return NewError(ErrCodeUnavailable, "no leader", nil)
		})
		require.Error(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("does not retry validation errors", func(t *testing.T) {
		calls := 0
		err := newClient(rc).executeWithRetry(context.Background(), "put", func(ctx context.Context) error {
			calls++
			return NewError(ErrCodeValidation, "bad key", nil)
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("no retry config runs once", func(t *testing.T) {
		calls := 0
		_ = newClient(nil).executeWithRetry(context.Background(), "ping", func(ctx context.Context) error {
			calls++
			return NewError(ErrCodeConnection, "down", nil)
		})
		assert.Equal(t, 1, calls)
	})
}
