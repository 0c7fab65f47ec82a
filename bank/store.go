package bank

import (
	"cmp"
	"context"
	"slices"
	"sync"
)

// 集合名与唯一字段名
const (
	CollectionUsers    = "users"
	CollectionAccounts = "accounts"

	FieldUserID   = "user_id"
	FieldUsername = "username"
	FieldEmail    = "email"
	FieldMobNo    = "mob_no"
	FieldAccNo    = "acc_no"
)

// RecordStore 持久化用户和账户记录
// Insert* 违反唯一约束时返回 *DuplicateKeyError；Get* 找不到时返回 ErrNotFound
type RecordStore interface {
	InsertUser(ctx context.Context, user *User) error
	InsertAccount(ctx context.Context, account *Account) error
	GetUser(ctx context.Context, userID int64) (*User, error)
	GetAccount(ctx context.Context, accNo int64) (*Account, error)
	ListAccounts(ctx context.Context, userID int64) ([]*Account, error)
	Close() error
}

// MemoryRecordStore 进程内实现，唯一约束与 MongoDB 中的索引一致
type MemoryRecordStore struct {
	mu       sync.RWMutex
	users    map[int64]*User
	accounts map[int64]*Account
}

var _ RecordStore = (*MemoryRecordStore)(nil)

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{
		users:    make(map[int64]*User),
		accounts: make(map[int64]*Account),
	}
}

func (s *MemoryRecordStore) InsertUser(ctx context.Context, user *User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.UserID]; ok {
		return &DuplicateKeyError{Collection: CollectionUsers, Field: FieldUserID, Value: user.UserID}
	}
	for _, u := range s.users {
		switch {
		case u.Username == user.Username:
			return &DuplicateKeyError{Collection: CollectionUsers, Field: FieldUsername, Value: user.Username}
		case u.Email == user.Email:
			return &DuplicateKeyError{Collection: CollectionUsers, Field: FieldEmail, Value: user.Email}
		case u.MobNo == user.MobNo:
			return &DuplicateKeyError{Collection: CollectionUsers, Field: FieldMobNo, Value: user.MobNo}
		}
	}
	cp := *user
	s.users[user.UserID] = &cp
	return nil
}

func (s *MemoryRecordStore) InsertAccount(ctx context.Context, account *Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[account.AccNo]; ok {
		return &DuplicateKeyError{Collection: CollectionAccounts, Field: FieldAccNo, Value: account.AccNo}
	}
	cp := *account
	s.accounts[account.AccNo] = &cp
	return nil
}

func (s *MemoryRecordStore) GetUser(ctx context.Context, userID int64) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryRecordStore) GetAccount(ctx context.Context, accNo int64) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[accNo]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryRecordStore) ListAccounts(ctx context.Context, userID int64) ([]*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*Account
	for _, a := range s.accounts {
		if a.UserID == userID {
			cp := *a
			result = append(result, &cp)
		}
	}
	sortAccounts(result)
	return result, nil
}

func (s *MemoryRecordStore) Close() error {
	return nil
}

func sortAccounts(accounts []*Account) {
	slices.SortFunc(accounts, func(a, b *Account) int {
		return cmp.Compare(a.AccNo, b.AccNo)
	})
}
