package repository

import (
	"errors"

	"gorm.io/gorm"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrStatusChanged = errors.New("status changed concurrently")
)

// Repositories SRM仓库集合
type Repositories struct {
	PO           *PORepository
	SupplyRecord *SupplyRecordRepository
	Statistics   *StatisticsRepository
	ShareLink    *ShareLinkRepository
	ActivityLog  *ActivityLogRepository
}

// NewRepositories 创建SRM仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		PO:           NewPORepository(db),
		SupplyRecord: NewSupplyRecordRepository(db),
		Statistics:   NewStatisticsRepository(db),
		ShareLink:    NewShareLinkRepository(db),
		ActivityLog:  NewActivityLogRepository(db),
	}
}
