package repository

import (
	"strings"
	"time"

	"github.com/bitfantasy/nimo-wms/internal/srm/entity"
	"gorm.io/gorm"
)

// POFilter 采购订单筛选条件（列表与统计共用）
type POFilter struct {
	OrderID        string     `json:"order_id,omitempty"`
	ShopID         string     `json:"shop_id,omitempty"`
	SupplierID     string     `json:"supplier_id,omitempty"`
	Status         string     `json:"status,omitempty"`
	OperatorID     string     `json:"operator_id,omitempty"`
	OrderNumber    string     `json:"order_number,omitempty"`
	CreatedAtStart *time.Time `json:"created_at_start,omitempty"`
	CreatedAtEnd   *time.Time `json:"created_at_end,omitempty"`
	UpdatedAtStart *time.Time `json:"updated_at_start,omitempty"`
	UpdatedAtEnd   *time.Time `json:"updated_at_end,omitempty"`
}

// Scope 把筛选条件应用到 srm_purchase_orders 查询上
func (f *POFilter) Scope(db *gorm.DB) *gorm.DB {
	if f == nil {
		return db
	}
	if f.OrderID != "" {
		db = db.Where("id = ?", f.OrderID)
	}
	if f.ShopID != "" {
		db = db.Where("shop_id = ?", f.ShopID)
	}
	if f.SupplierID != "" {
		db = db.Where("supplier_id = ?", f.SupplierID)
	}
	if f.Status != "" {
		db = db.Where("status = ?", f.Status)
	}
	if f.OperatorID != "" {
		db = db.Where("operator_id = ?", f.OperatorID)
	}
	if f.OrderNumber != "" {
		db = db.Where("order_number ILIKE ?", "%"+escapeLike(f.OrderNumber)+"%")
	}
	if f.CreatedAtStart != nil {
		db = db.Where("created_at >= ?", *f.CreatedAtStart)
	}
	if f.CreatedAtEnd != nil {
		db = db.Where("created_at <= ?", *f.CreatedAtEnd)
	}
	if f.UpdatedAtStart != nil {
		db = db.Where("updated_at >= ?", *f.UpdatedAtStart)
	}
	if f.UpdatedAtEnd != nil {
		db = db.Where("updated_at <= ?", *f.UpdatedAtEnd)
	}
	return db
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike 转义 LIKE 通配符，用户输入按字面匹配（PostgreSQL 默认转义符为反斜杠）
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// orderIDs 满足条件的采购单ID子查询
func (f *POFilter) orderIDs(db *gorm.DB) *gorm.DB {
	return db.Model(&entity.PurchaseOrder{}).Scopes(f.Scope).Select("id")
}
