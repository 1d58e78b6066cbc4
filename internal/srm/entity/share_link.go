package entity

import "time"

// ShareLinkStatus 分享链接状态
type ShareLinkStatus string

const (
	ShareLinkStatusActive   ShareLinkStatus = "active"
	ShareLinkStatusDisabled ShareLinkStatus = "disabled"
)

// ValidShareLinkTransitions 合法的分享链接状态流转
var ValidShareLinkTransitions = map[ShareLinkStatus][]ShareLinkStatus{
	ShareLinkStatusActive: {ShareLinkStatusDisabled},
}

// CanTransition 检查状态流转是否合法
func (s ShareLinkStatus) CanTransition(to ShareLinkStatus) bool {
	for _, target := range ValidShareLinkTransitions[s] {
		if target == to {
			return true
		}
	}
	return false
}

// ShareLink 采购单供货分享链接，每个采购单最多一条
type ShareLink struct {
	ID              string          `json:"id" gorm:"primaryKey;size:32"`
	PurchaseOrderID string          `json:"purchase_order_id" gorm:"size:32;not null;uniqueIndex"`
	ShareCode       string          `json:"share_code" gorm:"size:64;not null;uniqueIndex"`
	ExtractCode     string          `json:"extract_code" gorm:"size:16"`
	ExpiresAt       time.Time       `json:"expires_at" gorm:"not null"`
	AccessLimit     *int            `json:"access_limit"`
	AccessCount     int             `json:"access_count" gorm:"not null;default:0"`
	Status          ShareLinkStatus `json:"status" gorm:"size:20;not null;default:active"`
	CreatedBy       string          `json:"created_by" gorm:"size:32"`
	LastAccessAt    *time.Time      `json:"last_access_at"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (ShareLink) TableName() string {
	return "srm_share_links"
}

// IsExpired 是否已过期
func (l *ShareLink) IsExpired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// LimitReached 是否已达访问次数上限
func (l *ShareLink) LimitReached() bool {
	return l.AccessLimit != nil && l.AccessCount >= *l.AccessLimit
}

// IsUsable 生效中、未过期且未达访问上限
func (l *ShareLink) IsUsable(now time.Time) bool {
	return l.Status == ShareLinkStatusActive && !l.IsExpired(now) && !l.LimitReached()
}
