package repository

import (
	"context"
	"time"

	"github.com/bitfantasy/nimo-wms/internal/srm/entity"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ActivityLogRepository 操作日志仓库
type ActivityLogRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewActivityLogRepository(db *gorm.DB) *ActivityLogRepository {
	return &ActivityLogRepository{db: db, logger: zap.NewNop()}
}

// WithLogger 写日志失败时记录到 logger
func (r *ActivityLogRepository) WithLogger(logger *zap.Logger) *ActivityLogRepository {
	r.logger = logger
	return r
}

// Record 写入操作日志。失败只记录告警，不影响业务主流程
func (r *ActivityLogRepository) Record(ctx context.Context, log *entity.ActivityLog) {
	if log.ID == "" {
		log.ID = uuid.New().String()[:32]
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}
	if err := r.db.WithContext(ctx).Create(log).Error; err != nil {
		r.logger.Warn("写入操作日志失败",
			zap.String("order_id", log.PurchaseOrderID),
			zap.String("action", log.Action),
			zap.Error(err))
	}
}

// ListByOrder 采购单时间线（分享、供货、状态变化），新的在前
func (r *ActivityLogRepository) ListByOrder(ctx context.Context, orderID string, page, pageSize int) ([]entity.ActivityLog, int64, error) {
	var items []entity.ActivityLog
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.ActivityLog{}).
		Where("purchase_order_id = ?", orderID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&items).Error
	return items, total, err
}
