package bank

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ceyewan/bank-kit/clog"
	"github.com/ceyewan/bank-kit/seq"
)

// Config 是 Service 的配置
type Config struct {
	// MaxCreateAttempts 编号冲突时最多分配几次编号
	MaxCreateAttempts int `json:"maxCreateAttempts" yaml:"maxCreateAttempts"`
}

func GetDefaultConfig() *Config {
	return &Config{MaxCreateAttempts: 3}
}

func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if c.MaxCreateAttempts < 1 {
		return fmt.Errorf("max create attempts must be at least 1")
	}
	return nil
}

// Option 配置 Service
type Option func(*Service)

// WithLogger 默认使用 clog.Namespace("bank")
func WithLogger(logger clog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock 替换 CreatedAt 使用的时钟
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		s.now = clock
	}
}

// Service 创建用户和账户，每次尝试只调用一次 Allocate
type Service struct {
	config  *Config
	alloc   seq.Allocator
	records RecordStore
	logger  clog.Logger
	now     func() time.Time
}

func NewService(config *Config, alloc seq.Allocator, records RecordStore, opts ...Option) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if alloc == nil || records == nil {
		return nil, fmt.Errorf("allocator and record store are required")
	}
	s := &Service{
		config:  config,
		alloc:   alloc,
		records: records,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = clog.Namespace("bank")
	}
	return s, nil
}

// CreateUser 分配 user_id 并插入用户
func (s *Service) CreateUser(ctx context.Context, req NewUser) (*User, error) {
	if err := validateNewUser(req); err != nil {
		return nil, err
	}
	ctx = withRequestID(ctx)

	role := req.Role
	if role == "" {
		role = DefaultRole
	}
	var user *User
	err := s.insertWithFreshID(ctx, SequenceUsers, FieldUserID, func(id int64) error {
		user = &User{
			UserID:         id,
			Username:       req.Username,
			Email:          req.Email,
			MobNo:          req.MobNo,
			HashedPassword: req.HashedPassword,
			Role:           role,
			CreatedAt:      s.now(),
		}
		return s.records.InsertUser(ctx, user)
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// CreateAccount 校验所属用户存在后分配 acc_no 并插入账户
func (s *Service) CreateAccount(ctx context.Context, req NewAccount) (*Account, error) {
	if req.Balance == 0 {
		req.Balance = MinimumBalance
	}
	if req.Balance < MinimumBalance {
		return nil, ErrMinimumBalance
	}
	if strings.TrimSpace(req.HolderName) == "" {
		return nil, fmt.Errorf("%w: holder name is required", ErrInvalidInput)
	}
	if req.IFSCCode == 0 {
		req.IFSCCode = DefaultIFSCCode
	}
	if req.Branch == "" {
		req.Branch = DefaultBranch
	}
	ctx = withRequestID(ctx)

	if _, err := s.records.GetUser(ctx, req.UserID); err != nil {
		return nil, fmt.Errorf("owner %d: %w", req.UserID, err)
	}

	var account *Account
	err := s.insertWithFreshID(ctx, SequenceAccounts, FieldAccNo, func(id int64) error {
		account = &Account{
			AccNo:         id,
			UserID:        req.UserID,
			HolderName:    req.HolderName,
			HolderAddress: req.HolderAddress,
			DOB:           req.DOB,
			Gender:        req.Gender,
			AccType:       req.AccType,
			Balance:       req.Balance,
			IFSCCode:      req.IFSCCode,
			Branch:        req.Branch,
			CreatedAt:     s.now(),
		}
		return s.records.InsertAccount(ctx, account)
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// GetUser 按 user_id 查询用户，不存在时返回 ErrNotFound
func (s *Service) GetUser(ctx context.Context, userID int64) (*User, error) {
	return s.records.GetUser(ctx, userID)
}

// GetAccount 按 acc_no 查询账户，不存在时返回 ErrNotFound
func (s *Service) GetAccount(ctx context.Context, accNo int64) (*Account, error) {
	return s.records.GetAccount(ctx, accNo)
}

// ListAccounts 按 acc_no 升序返回用户的全部账户，用户不存在时返回 ErrNotFound
func (s *Service) ListAccounts(ctx context.Context, userID int64) ([]*Account, error) {
	if _, err := s.records.GetUser(ctx, userID); err != nil {
		return nil, fmt.Errorf("owner %d: %w", userID, err)
	}
	return s.records.ListAccounts(ctx, userID)
}

// insertWithFreshID 每次尝试分配一个新编号再插入
// 只有编号字段冲突才重试，其他唯一字段冲突直接返回 ErrConflict
func (s *Service) insertWithFreshID(ctx context.Context, sequence, idField string, insert func(id int64) error) error {
	logger := s.logger.With(clog.String("sequence", sequence), clog.String("trace_id", clog.TraceID(ctx)))

	var lastErr error
	for attempt := 1; attempt <= s.config.MaxCreateAttempts; attempt++ {
		id, err := s.alloc.Allocate(ctx, sequence)
		if err != nil {
			logger.Error("failed to allocate id", clog.Err(err))
			return fmt.Errorf("%w: allocate %s id: %w", ErrCreateFailed, sequence, err)
		}

		err = insert(id)
		if err == nil {
			logger.Info("record created", clog.Int64("id", id), clog.Int("attempt", attempt))
			return nil
		}

		var dup *DuplicateKeyError
		if !errors.As(err, &dup) {
			logger.Error("failed to insert record", clog.Int64("id", id), clog.Err(err))
			return err
		}
		if dup.Field != idField {
			return fmt.Errorf("%w: %w", ErrConflict, err)
		}
		logger.Warn("allocated id already in use, allocating again",
			clog.Int64("id", id),
			clog.Int("attempt", attempt),
			clog.Int("max_attempts", s.config.MaxCreateAttempts))
		lastErr = err
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrCreateFailed, s.config.MaxCreateAttempts, lastErr)
}

func validateNewUser(req NewUser) error {
	switch {
	case strings.TrimSpace(req.Username) == "":
		return fmt.Errorf("%w: username is required", ErrInvalidInput)
	case !strings.Contains(req.Email, "@"):
		return fmt.Errorf("%w: email is malformed", ErrInvalidInput)
	case req.MobNo <= 0:
		return fmt.Errorf("%w: mobile number is required", ErrInvalidInput)
	case req.HashedPassword == "":
		return fmt.Errorf("%w: hashed password is required", ErrInvalidInput)
	}
	return nil
}

// withRequestID 为没有 trace_id 的请求生成一个 UUIDv7
func withRequestID(ctx context.Context) context.Context {
	if clog.TraceID(ctx) != "" {
		return ctx
	}
	id, err := uuid.NewV7()
	if err != nil {
		return clog.WithTraceID(ctx, uuid.NewString())
	}
	return clog.WithTraceID(ctx, id.String())
}
