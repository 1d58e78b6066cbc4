package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bitfantasy/nimo-wms/internal/srm/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProductQuantity 按商品汇总的数量
type ProductQuantity struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
}

// SupplyTx 持有采购单行锁的事务内操作
type SupplyTx interface {
	SuppliedByProduct(ctx context.Context, orderID, excludeRecordID string) (map[string]int, error)
	CreateRecord(ctx context.Context, record *entity.SupplyRecord) error
	DisableRecord(ctx context.Context, recordID, operatorID string, at time.Time) (bool, error)
	UpdateOrderStatus(ctx context.Context, orderID, status string) error
}

// SupplyRecordRepository 供货记录仓库
type SupplyRecordRepository struct {
	db *gorm.DB
}

func NewSupplyRecordRepository(db *gorm.DB) *SupplyRecordRepository {
	return &SupplyRecordRepository{db: db}
}

// FindByID 查找供货记录（含行项）
func (r *SupplyRecordRepository) FindByID(ctx context.Context, id string) (*entity.SupplyRecord, error) {
	var record entity.SupplyRecord
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", id).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &record, nil
}

// ListByOrder 查询采购单下全部供货记录（含已作废）
func (r *SupplyRecordRepository) ListByOrder(ctx context.Context, orderID string) ([]entity.SupplyRecord, error) {
	var records []entity.SupplyRecord
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("purchase_order_id = ?", orderID).
		Order("created_at DESC").
		Find(&records).Error
	return records, err
}

func (r *SupplyRecordRepository) activeItems(ctx context.Context, orderID, excludeRecordID string) *gorm.DB {
	query := r.db.WithContext(ctx).
		Table("srm_supply_record_items AS si").
		Joins("JOIN srm_supply_records sr ON sr.id = si.supply_record_id").
		Where("sr.purchase_order_id = ? AND sr.status = ?", orderID, entity.SupplyRecordStatusActive)
	if excludeRecordID != "" {
		query = query.Where("sr.id <> ?", excludeRecordID)
	}
	return query
}

// SuppliedQuantity 某商品的已供货数量（仅统计生效中的记录）
func (r *SupplyRecordRepository) SuppliedQuantity(ctx context.Context, orderID, productID, excludeRecordID string) (int, error) {
	var total int
	err := r.activeItems(ctx, orderID, excludeRecordID).
		Where("si.product_id = ?", productID).
		Select("COALESCE(SUM(si.quantity), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

// SuppliedByProduct 按商品汇总已供货数量
func (r *SupplyRecordRepository) SuppliedByProduct(ctx context.Context, orderID, excludeRecordID string) (map[string]int, error) {
	var rows []ProductQuantity
	err := r.activeItems(ctx, orderID, excludeRecordID).
		Select("si.product_id, COALESCE(SUM(si.quantity), 0) AS quantity").
		Group("si.product_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	supplied := make(map[string]int, len(rows))
	for _, row := range rows {
		supplied[row.ProductID] = row.Quantity
	}
	return supplied, nil
}

// CreateRecord 创建供货记录及行项
func (r *SupplyRecordRepository) CreateRecord(ctx context.Context, record *entity.SupplyRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// DisableRecord 作废供货记录，仅当当前为 active 时生效
func (r *SupplyRecordRepository) DisableRecord(ctx context.Context, recordID, operatorID string, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&entity.SupplyRecord{}).
		Where("id = ? AND status = ?", recordID, entity.SupplyRecordStatusActive).
		Updates(map[string]interface{}{
			"status":      entity.SupplyRecordStatusDisabled,
			"disabled_by": operatorID,
			"disabled_at": at,
			"updated_at":  at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// UpdateOrderStatus 更新采购单状态
func (r *SupplyRecordRepository) UpdateOrderStatus(ctx context.Context, orderID, status string) error {
	return r.db.WithContext(ctx).Model(&entity.PurchaseOrder{}).
		Where("id = ?", orderID).
		Update("status", status).Error
}

// WithOrderLock 在事务中锁定采购单行（SELECT ... FOR UPDATE）后执行 fn，
// 同一采购单的供货写入由此串行化
func (r *SupplyRecordRepository) WithOrderLock(ctx context.Context, orderID string, fn func(po *entity.PurchaseOrder, tx SupplyTx) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var po entity.PurchaseOrder
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", orderID).
			First(&po).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if err := tx.Where("po_id = ?", orderID).Order("sort_order ASC").Find(&po.Items).Error; err != nil {
			return err
		}
		return fn(&po, &SupplyRecordRepository{db: tx})
	})
}
