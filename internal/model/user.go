package model

import "time"

// User 账户主体；封禁状态由管理端维护
type User struct {
	UserID     string     `gorm:"primaryKey;type:varchar(36)"`
	Email      string     `gorm:"type:varchar(255);uniqueIndex;not null"`
	IsPrivate  bool       `gorm:"not null;default:false"`
	IsBlocked  bool       `gorm:"not null;default:false;index"`
	BlockUntil *time.Time // nil = not temporarily blocked
	IsAdmin    bool       `gorm:"not null;default:false"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (User) TableName() string { return "users" }

// UserProfile 1:1 档案；is_prime/is_organizational 驱动 feed 优先级
type UserProfile struct {
	UserID           string `gorm:"primaryKey;type:varchar(36)"`
	Name             string `gorm:"type:varchar(100);not null"`
	Bio              string `gorm:"type:text"`
	IsOrganizational bool   `gorm:"not null;default:false;index:idx_profile_org_prime"`
	IsPrime          bool   `gorm:"not null;default:false;index:idx_profile_org_prime"`
	PhotoPath        string `gorm:"type:varchar(255)"`
	BannerPath       string `gorm:"type:varchar(255)"`
	CommandID        string `gorm:"type:varchar(36)"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (UserProfile) TableName() string { return "user_profiles" }

// UserMeta is the denormalized author snapshot carried through feed
// building and cached alongside candidate pools.
type UserMeta struct {
	UserID           string `json:"user_id"`
	Name             string `json:"name"`
	Photo            string `json:"photo"`
	IsPrivate        bool   `json:"is_private"`
	IsBlocked        bool   `json:"is_blocked"`
	IsOrganizational bool   `json:"is_organizational"`
	IsPrime          bool   `json:"is_prime"`
}
