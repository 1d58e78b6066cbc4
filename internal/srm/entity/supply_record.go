package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// SupplyRecordStatus 供货记录状态，只允许 active -> disabled
type SupplyRecordStatus string

const (
	SupplyRecordStatusActive   SupplyRecordStatus = "active"
	SupplyRecordStatusDisabled SupplyRecordStatus = "disabled"
)

// ValidSupplyRecordTransitions 合法的供货记录状态流转
var ValidSupplyRecordTransitions = map[SupplyRecordStatus][]SupplyRecordStatus{
	SupplyRecordStatusActive: {SupplyRecordStatusDisabled},
}

// CanTransition 检查状态流转是否合法
func (s SupplyRecordStatus) CanTransition(to SupplyRecordStatus) bool {
	for _, target := range ValidSupplyRecordTransitions[s] {
		if target == to {
			return true
		}
	}
	return false
}

// SupplyRecord 供货记录（外部供应商通过分享链接提交）
type SupplyRecord struct {
	ID              string             `json:"id" gorm:"primaryKey;size:32"`
	PurchaseOrderID string             `json:"purchase_order_id" gorm:"size:32;not null;index"`
	Status          SupplyRecordStatus `json:"status" gorm:"size:20;not null;default:active;index"`
	TotalAmount     decimal.Decimal    `json:"total_amount" gorm:"type:decimal(15,2);default:0"`
	SupplierInfo    JSONB              `json:"supplier_info" gorm:"type:jsonb"` // 供应商自填信息（未登录）
	ShareCode       string             `json:"share_code" gorm:"size:64"`
	Remark          string             `json:"remark" gorm:"type:text"`

	DisabledBy *string    `json:"disabled_by" gorm:"size:32"`
	DisabledAt *time.Time `json:"disabled_at"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`

	Items []SupplyRecordItem `json:"items,omitempty" gorm:"foreignKey:SupplyRecordID"`
}

func (SupplyRecord) TableName() string {
	return "srm_supply_records"
}

// CanDisable 只有生效中的记录可以作废
func (r *SupplyRecord) CanDisable() bool {
	return r.Status.CanTransition(SupplyRecordStatusDisabled)
}

// SupplyRecordItem 供货记录行项
type SupplyRecordItem struct {
	ID             string          `json:"id" gorm:"primaryKey;size:32"`
	SupplyRecordID string          `json:"supply_record_id" gorm:"size:32;not null;index"`
	ProductID      string          `json:"product_id" gorm:"size:32;not null;index"`
	Quantity       int             `json:"quantity" gorm:"not null"`
	UnitPrice      decimal.Decimal `json:"unit_price" gorm:"type:decimal(12,4);default:0"`
	TotalPrice     decimal.Decimal `json:"total_price" gorm:"type:decimal(15,2);default:0"`
	Remark         string          `json:"remark" gorm:"size:500"`
	CreatedAt      time.Time       `json:"created_at"`
}

func (SupplyRecordItem) TableName() string {
	return "srm_supply_record_items"
}
