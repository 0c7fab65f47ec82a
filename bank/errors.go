package bank

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateKey 插入违反唯一索引
	ErrDuplicateKey = errors.New("bank: duplicate key")
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("bank: record not found")
	// ErrCreateFailed 编号冲突重试耗尽
	ErrCreateFailed = errors.New("bank: record creation failed")
	// ErrConflict 用户名、邮箱或手机号已被占用
	ErrConflict = errors.New("bank: unique field already taken")
	// ErrMinimumBalance 初始余额低于 MinimumBalance
	ErrMinimumBalance = errors.New("bank: initial balance must be at least 100")
	// ErrInvalidInput 请求缺少必填字段
	ErrInvalidInput = errors.New("bank: invalid input")
)

// DuplicateKeyError 记录冲突的字段，errors.Is(err, ErrDuplicateKey) 成立
type DuplicateKeyError struct {
	Collection string
	Field      string
	Value      any
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("bank: duplicate %s.%s: %v", e.Collection, e.Field, e.Value)
}

func (e *DuplicateKeyError) Is(target error) bool {
	return target == ErrDuplicateKey
}
