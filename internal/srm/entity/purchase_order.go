package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseOrder 采购订单
type PurchaseOrder struct {
	ID          string `json:"id" gorm:"primaryKey;size:32"`
	OrderNumber string `json:"order_number" gorm:"size:32;uniqueIndex;not null"`
	ShopID      string `json:"shop_id" gorm:"size:32;not null;index"`
	SupplierID  string `json:"supplier_id" gorm:"size:32;not null;index"`
	OperatorID  string `json:"operator_id" gorm:"size:32;index"`
	Status      string `json:"status" gorm:"size:20;default:draft;index"` // draft/confirmed/partial/supplied/received/completed/cancelled
	Urgent      bool   `json:"urgent" gorm:"default:false"`

	// 金额
	TotalAmount decimal.Decimal `json:"total_amount" gorm:"type:decimal(15,2);default:0"`
	FinalAmount decimal.Decimal `json:"final_amount" gorm:"type:decimal(15,2);default:0"`

	Remark    string    `json:"remark" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
	UpdatedAt time.Time `json:"updated_at"`

	// 关联
	Items []POItem `json:"items,omitempty" gorm:"foreignKey:POID"`
}

func (PurchaseOrder) TableName() string {
	return "srm_purchase_orders"
}

// PO状态
const (
	POStatusDraft     = "draft"
	POStatusConfirmed = "confirmed"
	POStatusPartial   = "partial"  // 部分供货
	POStatusSupplied  = "supplied" // 已全部供货
	POStatusReceived  = "received"
	POStatusCompleted = "completed"
	POStatusCancelled = "cancelled"
)

// IsSupplyOpen 订单是否处于可供货阶段
func IsSupplyOpen(status string) bool {
	switch status {
	case POStatusConfirmed, POStatusPartial, POStatusSupplied:
		return true
	}
	return false
}

// POItem PO行项
type POItem struct {
	ID          string `json:"id" gorm:"primaryKey;size:32"`
	POID        string `json:"po_id" gorm:"size:32;not null;index"`
	ProductID   string `json:"product_id" gorm:"size:32;not null;index"`
	ProductCode string `json:"product_code" gorm:"size:50"`
	ProductName string `json:"product_name" gorm:"size:200;not null"`

	Quantity    int             `json:"quantity" gorm:"not null"`
	Unit        string          `json:"unit" gorm:"size:20;default:pcs"`
	UnitPrice   decimal.Decimal `json:"unit_price" gorm:"type:decimal(12,4);default:0"`
	TotalAmount decimal.Decimal `json:"total_amount" gorm:"type:decimal(15,2);default:0"`

	SortOrder int       `json:"sort_order" gorm:"default:0"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (POItem) TableName() string {
	return "srm_po_items"
}

// PurchasedQuantity 订单中某商品的采购总数（同一商品可能出现在多个行项）
func (po *PurchaseOrder) PurchasedQuantity(productID string) int {
	total := 0
	for _, item := range po.Items {
		if item.ProductID == productID {
			total += item.Quantity
		}
	}
	return total
}

// HasProduct 订单是否包含该商品
func (po *PurchaseOrder) HasProduct(productID string) bool {
	for _, item := range po.Items {
		if item.ProductID == productID {
			return true
		}
	}
	return false
}

// ValidPOTransitions 人工操作允许的状态流转，confirmed/partial/supplied 之间由供货记录同步
var ValidPOTransitions = map[string][]string{
	POStatusDraft:     {POStatusConfirmed, POStatusCancelled},
	POStatusConfirmed: {POStatusCancelled},
	POStatusPartial:   {POStatusReceived, POStatusCancelled},
	POStatusSupplied:  {POStatusReceived},
	POStatusReceived:  {POStatusCompleted},
}

// CanTransitionPO 检查人工状态流转是否合法
func CanTransitionPO(from, to string) bool {
	for _, target := range ValidPOTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}
