package repository

import (
	"context"

	"github.com/bitfantasy/nimo-wms/internal/srm/entity"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OrderTotals 采购单基础统计
type OrderTotals struct {
	TotalRecords  int64           `json:"total_records"`
	ActiveRecords int64           `json:"active_records"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
}

// StatisticsRepository 采购统计查询
type StatisticsRepository struct {
	db *gorm.DB
}

func NewStatisticsRepository(db *gorm.DB) *StatisticsRepository {
	return &StatisticsRepository{db: db}
}

// OrderTotals 订单数、未取消订单数、最终金额合计
func (r *StatisticsRepository) OrderTotals(ctx context.Context, filter *POFilter) (*OrderTotals, error) {
	var row struct {
		Total  int64
		Active int64
		Amount decimal.Decimal
	}
	err := r.db.WithContext(ctx).
		Model(&entity.PurchaseOrder{}).
		Scopes(filter.Scope).
		Select("COUNT(*) AS total, "+
			"COUNT(CASE WHEN status <> ? THEN 1 END) AS active, "+
			"COALESCE(SUM(final_amount), 0) AS amount", entity.POStatusCancelled).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}
	return &OrderTotals{
		TotalRecords:  row.Total,
		ActiveRecords: row.Active,
		TotalAmount:   row.Amount,
	}, nil
}

// PurchasedByProduct 按商品汇总采购数量
func (r *StatisticsRepository) PurchasedByProduct(ctx context.Context, filter *POFilter) ([]ProductQuantity, error) {
	var rows []ProductQuantity
	err := r.db.WithContext(ctx).
		Table("srm_po_items AS i").
		Select("i.product_id, MAX(i.product_name) AS product_name, COALESCE(SUM(i.quantity), 0) AS quantity").
		Where("i.po_id IN (?)", filter.orderIDs(r.db.WithContext(ctx))).
		Group("i.product_id").
		Scan(&rows).Error
	return rows, err
}

// SuppliedByProduct 按商品汇总生效中供货记录的数量
func (r *StatisticsRepository) SuppliedByProduct(ctx context.Context, filter *POFilter) ([]ProductQuantity, error) {
	var rows []ProductQuantity
	err := r.db.WithContext(ctx).
		Table("srm_supply_record_items AS si").
		Joins("JOIN srm_supply_records sr ON sr.id = si.supply_record_id").
		Select("si.product_id, COALESCE(SUM(si.quantity), 0) AS quantity").
		Where("sr.status = ?", entity.SupplyRecordStatusActive).
		Where("sr.purchase_order_id IN (?)", filter.orderIDs(r.db.WithContext(ctx))).
		Group("si.product_id").
		Scan(&rows).Error
	return rows, err
}
