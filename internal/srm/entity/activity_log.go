package entity

import "time"

// ActivityLog SRM操作日志，按采购单聚合成时间线
type ActivityLog struct {
	ID              string `json:"id" gorm:"primaryKey;size:32"`
	PurchaseOrderID string `json:"purchase_order_id" gorm:"size:32;index"`
	EntityType      string `json:"entity_type" gorm:"size:50;not null;index:idx_activity_entity"` // po/supply_record/share_link
	EntityID        string `json:"entity_id" gorm:"size:32;not null;index:idx_activity_entity"`
	EntityCode      string `json:"entity_code" gorm:"size:64"`

	Action     string `json:"action" gorm:"size:50;not null"` // share_generate/share_disable/supply_submit/supply_disable/status_change
	FromStatus string `json:"from_status" gorm:"size:20"`
	ToStatus   string `json:"to_status" gorm:"size:20"`

	Content  string `json:"content" gorm:"type:text"`
	Metadata JSONB  `json:"metadata" gorm:"type:jsonb"`

	OperatorID   string    `json:"operator_id" gorm:"size:32"`
	OperatorName string    `json:"operator_name" gorm:"size:100"`
	CreatedAt    time.Time `json:"created_at"`
}

func (ActivityLog) TableName() string {
	return "srm_activity_logs"
}

// 操作日志实体类型
const (
	ActivityEntityPO           = "po"
	ActivityEntitySupplyRecord = "supply_record"
	ActivityEntityShareLink    = "share_link"
)
