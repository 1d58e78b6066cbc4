package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bitfantasy/nimo-wms/internal/srm/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ShareLinkRepository 分享链接仓库
type ShareLinkRepository struct {
	db *gorm.DB
}

func NewShareLinkRepository(db *gorm.DB) *ShareLinkRepository {
	return &ShareLinkRepository{db: db}
}

// FindByOrderID 查找采购单的分享链接
func (r *ShareLinkRepository) FindByOrderID(ctx context.Context, orderID string) (*entity.ShareLink, error) {
	return r.findOne(ctx, "purchase_order_id = ?", orderID)
}

// FindByCode 根据分享码查找
func (r *ShareLinkRepository) FindByCode(ctx context.Context, shareCode string) (*entity.ShareLink, error) {
	return r.findOne(ctx, "share_code = ?", shareCode)
}

func (r *ShareLinkRepository) findOne(ctx context.Context, cond string, arg interface{}) (*entity.ShareLink, error) {
	var link entity.ShareLink
	err := r.db.WithContext(ctx).Where(cond, arg).First(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &link, nil
}

// Upsert 写入分享链接，同一采购单已有记录时整体替换
func (r *ShareLinkRepository) Upsert(ctx context.Context, link *entity.ShareLink) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "purchase_order_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"share_code", "extract_code", "expires_at", "access_limit",
			"access_count", "status", "created_by", "last_access_at", "updated_at",
		}),
	}).Create(link).Error
}

// IncrementAccess 原子递增访问次数。链接需生效中、未过期且未达上限，否则不更新并返回 false。
// 重新生成会保留行 ID，因此同时匹配分享码，旧码不会记到新链接上
func (r *ShareLinkRepository) IncrementAccess(ctx context.Context, id, shareCode string, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&entity.ShareLink{}).
		Where("id = ? AND share_code = ?", id, shareCode).
		Where("status = ? AND expires_at > ?", entity.ShareLinkStatusActive, now).
		Where("access_limit IS NULL OR access_count < access_limit").
		Updates(map[string]interface{}{
			"access_count":   gorm.Expr("access_count + 1"),
			"last_access_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Disable 作废采购单的分享链接，已作废或不存在时返回 false
func (r *ShareLinkRepository) Disable(ctx context.Context, orderID string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&entity.ShareLink{}).
		Where("purchase_order_id = ? AND status = ?", orderID, entity.ShareLinkStatusActive).
		Updates(map[string]interface{}{
			"status":     entity.ShareLinkStatusDisabled,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
