package model

import (
	"time"
)

// Follower 关注关系（follower 关注 followee）
type Follower struct {
	ID         string `gorm:"primaryKey;type:varchar(36)"`
	FollowerID string `gorm:"type:varchar(36);index:idx_follower_follower;index:idx_follower_pair,unique;not null"`
	FolloweeID string `gorm:"type:varchar(36);index:idx_follower_followee;index:idx_follower_pair,unique;not null"`
	// 复合唯一键，避免重复关注
	// idx_follower_pair = (follower_id, followee_id)
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Follower) TableName() string { return "followers" }

// FollowRequest 私密账号的待审批关注请求
type FollowRequest struct {
	ID         string `gorm:"primaryKey;type:varchar(36)"`
	FollowerID string `gorm:"type:varchar(36);index:idx_follow_req_pair,unique;not null"`
	FolloweeID string `gorm:"type:varchar(36);index:idx_follow_req_pair,unique;index:idx_follow_req_followee;not null"`
	Status     string `gorm:"type:varchar(16);not null;default:'pending';index"` // pending, accepted, declined
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (FollowRequest) TableName() string { return "follow_requests" }

// FollowRequest 状态常量
const (
	FollowRequestPending  = "pending"
	FollowRequestAccepted = "accepted"
	FollowRequestDeclined = "declined"
)
