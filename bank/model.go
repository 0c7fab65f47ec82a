// Package bank 创建用户和账户记录，编号由 seq 分配器提供。
//
// 分配到的编号在降级路径下可能与已有记录冲突，唯一索引负责拦截，
// Service 在编号冲突时重新分配并重试有限次数。
package bank

import "time"

// 序列名，与计数器集合中的 collection_name 对应
const (
	SequenceUsers    = "users"
	SequenceAccounts = "accounts"
)

// 默认值
const (
	DefaultRole     = "user"
	MinimumBalance  = 100.0
	DefaultIFSCCode = 123456
	DefaultBranch   = "Main Branch"
)

// User 是 users 集合中的一条记录
type User struct {
	UserID         int64     `bson:"user_id" json:"user_id"`
	Username       string    `bson:"username" json:"username"`
	Email          string    `bson:"email" json:"email"`
	MobNo          int64     `bson:"mob_no" json:"mob_no"`
	HashedPassword string    `bson:"hashed_password" json:"-"`
	Role           string    `bson:"role" json:"role"`
	CreatedAt      time.Time `bson:"created_at" json:"created_at"`
}

// Account 是 accounts 集合中的一条记录，通过 UserID 关联所属用户
type Account struct {
	AccNo         int64     `bson:"acc_no" json:"acc_no"`
	UserID        int64     `bson:"user_id" json:"user_id"`
	HolderName    string    `bson:"acc_holder_name" json:"acc_holder_name"`
	HolderAddress string    `bson:"acc_holder_address" json:"acc_holder_address"`
	DOB           string    `bson:"dob" json:"dob"`
	Gender        string    `bson:"gender" json:"gender"`
	AccType       string    `bson:"acc_type" json:"acc_type"`
	Balance       float64   `bson:"balance" json:"balance"`
	IFSCCode      int64     `bson:"ifsc_code" json:"ifsc_code"`
	Branch        string    `bson:"branch" json:"branch"`
	CreatedAt     time.Time `bson:"created_at" json:"created_at"`
}

// NewUser 是创建用户的请求，密码需要调用方预先哈希
type NewUser struct {
	Username       string
	Email          string
	MobNo          int64
	HashedPassword string
	// Role 为空时使用 DefaultRole
	Role string
}

// NewAccount 是创建账户的请求
type NewAccount struct {
	UserID        int64
	HolderName    string
	HolderAddress string
	DOB           string
	Gender        string
	AccType       string
	// Balance 为 0 时使用 MinimumBalance，否则不能低于 MinimumBalance
	Balance float64
	// IFSCCode 为 0 时使用 DefaultIFSCCode
	IFSCCode int64
	// Branch 为空时使用 DefaultBranch
	Branch string
}
