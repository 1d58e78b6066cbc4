package service

import (
	"context"

	"github.com/bitfantasy/nimo-wms/internal/srm/entity"
)

// ActivityLogger 操作日志写入，失败不影响主流程
type ActivityLogger interface {
	Record(ctx context.Context, log *entity.ActivityLog)
}

// ActivityStore 操作日志读写
type ActivityStore interface {
	ActivityLogger
	ListByOrder(ctx context.Context, orderID string, page, pageSize int) ([]entity.ActivityLog, int64, error)
}

type noopActivityLogger struct{}

func (noopActivityLogger) Record(context.Context, *entity.ActivityLog) {}

func (noopActivityLogger) ListByOrder(context.Context, string, int, int) ([]entity.ActivityLog, int64, error) {
	return nil, 0, nil
}

// 操作日志动作
const (
	ActionCreate        = "create"
	ActionShareGenerate = "share_generate"
	ActionShareDisable  = "share_disable"
	ActionSupplySubmit  = "supply_submit"
	ActionSupplyDisable = "supply_disable"
	ActionStatusChange  = "status_change"
)

// orderActivity 采购单时间线上的一条日志
func orderActivity(order *entity.PurchaseOrder, orderID, action, from, to, content, operatorID string) *entity.ActivityLog {
	log := &entity.ActivityLog{
		PurchaseOrderID: orderID,
		EntityType:      entity.ActivityEntityPO,
		EntityID:        orderID,
		Action:          action,
		FromStatus:      from,
		ToStatus:        to,
		Content:         content,
		OperatorID:      operatorID,
	}
	if order != nil {
		log.EntityCode = order.OrderNumber
	}
	return log
}
