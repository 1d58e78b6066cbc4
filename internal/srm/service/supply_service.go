package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-wms/internal/shared/sse"
	"github.com/bitfantasy/nimo-wms/internal/srm/entity"
	"github.com/bitfantasy/nimo-wms/internal/srm/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SupplyRecordStore 供货记录持久化
type SupplyRecordStore interface {
	FindByID(ctx context.Context, id string) (*entity.SupplyRecord, error)
	ListByOrder(ctx context.Context, orderID string) ([]entity.SupplyRecord, error)
	WithOrderLock(ctx context.Context, orderID string, fn func(po *entity.PurchaseOrder, tx repository.SupplyTx) error) error
}

// ShareVerifier 分享访问校验
type ShareVerifier interface {
	VerifyShareAccess(ctx context.Context, shareCode, extractCode string) *ShareAccessResult
}

// EventPublisher 供货事件推送
type EventPublisher interface {
	PublishSupplyRecordUpdate(update sse.SupplyRecordUpdate)
}

type noopPublisher struct{}

func (noopPublisher) PublishSupplyRecordUpdate(sse.SupplyRecordUpdate) {}

// 供货事件动作
const (
	SupplyEventCreated  = "created"
	SupplyEventDisabled = "disabled"
)

// supplyConflict 事务内复核失败，回滚并返回冲突
type supplyConflict struct {
	result *ValidationResult
}

func (e *supplyConflict) Error() string {
	return "供货数量已被其他提交占用"
}

// OrderItemSummary 对外展示的采购行项，不含价格
type OrderItemSummary struct {
	ProductID   string `json:"product_id"`
	ProductCode string `json:"product_code"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	Unit        string `json:"unit"`
}

// OrderSummary 对外展示的采购单概要
type OrderSummary struct {
	ID          string             `json:"id"`
	OrderNumber string             `json:"order_number"`
	Status      string             `json:"status"`
	Urgent      bool               `json:"urgent"`
	Remark      string             `json:"remark"`
	CreatedAt   time.Time          `json:"created_at"`
	Items       []OrderItemSummary `json:"items"`
}

func newOrderSummary(po *entity.PurchaseOrder) OrderSummary {
	items := make([]OrderItemSummary, 0, len(po.Items))
	for _, item := range po.Items {
		items = append(items, OrderItemSummary{
			ProductID:   item.ProductID,
			ProductCode: item.ProductCode,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			Unit:        item.Unit,
		})
	}
	return OrderSummary{
		ID:          po.ID,
		OrderNumber: po.OrderNumber,
		Status:      po.Status,
		Urgent:      po.Urgent,
		Remark:      po.Remark,
		CreatedAt:   po.CreatedAt,
		Items:       items,
	}
}

// SupplyOrderView 供应商通过分享链接看到的内容
type SupplyOrderView struct {
	Order             OrderSummary          `json:"order"`
	SupplyOpen        bool                  `json:"supply_open"`
	ProductStatuses   []ProductSupplyStatus `json:"product_statuses"`
	AvailableProducts []ProductSupplyStatus `json:"available_products"`
}

// SubmitSupplyRequest 供货提交
type SubmitSupplyRequest struct {
	Items        []SupplyItemInput      `json:"items" binding:"required"`
	Remark       string                 `json:"remark"`
	ExtractCode  string                 `json:"extract_code"`
	SupplierInfo map[string]interface{} `json:"supplier_info"`
}

// SubmitSupplyResult 供货提交结果。Access 或 Validation 非空表示业务拒绝
type SubmitSupplyResult struct {
	Success         bool                  `json:"success"`
	RecordID        string                `json:"record_id,omitempty"`
	TotalAmount     decimal.Decimal       `json:"total_amount"`
	OrderStatus     string                `json:"order_status,omitempty"`
	Statistics      *Statistics           `json:"statistics,omitempty"`
	ProductStatuses []ProductSupplyStatus `json:"product_statuses,omitempty"`

	Access     *ShareAccessResult `json:"access,omitempty"`
	Validation *ValidationResult  `json:"validation,omitempty"`
	// Conflict 为 true 表示实时校验通过但事务内复核失败
	Conflict bool `json:"conflict,omitempty"`
}

// DisableSupplyResult 作废结果
type DisableSupplyResult struct {
	Changed     bool   `json:"changed"`
	RecordID    string `json:"record_id"`
	OrderID     string `json:"order_id"`
	OrderStatus string `json:"order_status"`
}

// SupplyRecordList 采购单供货记录及统计
type SupplyRecordList struct {
	Statistics      *Statistics           `json:"statistics"`
	ProductStatuses []ProductSupplyStatus `json:"product_statuses"`
	Records         []entity.SupplyRecord `json:"records"`
}

// SupplyService 供货提交流程
type SupplyService struct {
	share     ShareVerifier
	ledger    *QuantityLedger
	validator *SupplyValidator
	records   SupplyRecordStore
	stats     *StatisticsCalculator
	activity  ActivityLogger
	events    EventPublisher
	archive   ExportArchive
	logger    *zap.Logger
	now       func() time.Time
}

// SupplyOption 供货服务选项
type SupplyOption func(*SupplyService)

func WithSupplyActivityLogger(a ActivityLogger) SupplyOption {
	return func(s *SupplyService) {
		s.activity = a
	}
}

func WithSupplyEvents(p EventPublisher) SupplyOption {
	return func(s *SupplyService) {
		s.events = p
	}
}

// WithSupplyExportArchive 启用导出归档
func WithSupplyExportArchive(a ExportArchive) SupplyOption {
	return func(s *SupplyService) {
		s.archive = a
	}
}

func WithSupplyLogger(logger *zap.Logger) SupplyOption {
	return func(s *SupplyService) {
		s.logger = logger
	}
}

func WithSupplyClock(now func() time.Time) SupplyOption {
	return func(s *SupplyService) {
		s.now = now
	}
}

func NewSupplyService(share ShareVerifier, ledger *QuantityLedger, records SupplyRecordStore, stats *StatisticsCalculator, opts ...SupplyOption) *SupplyService {
	s := &SupplyService{
		share:     share,
		ledger:    ledger,
		validator: NewSupplyValidator(ledger),
		records:   records,
		stats:     stats,
		activity:  noopActivityLogger{},
		events:    noopPublisher{},
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validator 供货校验器
func (s *SupplyService) Validator() *SupplyValidator {
	return s.validator
}

// GetSupplyOrder 校验分享访问后返回采购单与可供货商品
func (s *SupplyService) GetSupplyOrder(ctx context.Context, shareCode, extractCode string) (*SupplyOrderView, *ShareAccessResult, error) {
	access := s.share.VerifyShareAccess(ctx, shareCode, extractCode)
	if !access.Success {
		return nil, access, nil
	}

	po, err := s.ledger.Order(ctx, access.OrderID)
	if err != nil {
		return nil, access, err
	}
	statuses, err := s.ledger.ProductStatuses(ctx, po.ID)
	if err != nil {
		return nil, access, err
	}

	view := &SupplyOrderView{
		Order:             newOrderSummary(po),
		SupplyOpen:        entity.IsSupplyOpen(po.Status),
		ProductStatuses:   statuses,
		AvailableProducts: []ProductSupplyStatus{},
	}
	if view.SupplyOpen {
		view.AvailableProducts = FilterAvailable(statuses)
	}
	return view, access, nil
}

// SubmitSupply 外部供货提交：校验分享 -> 实时校验 -> 锁定采购单复核并写入 -> 同步采购单状态
func (s *SupplyService) SubmitSupply(ctx context.Context, shareCode string, req *SubmitSupplyRequest) (*SubmitSupplyResult, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptySupplyItems
	}

	access := s.share.VerifyShareAccess(ctx, shareCode, req.ExtractCode)
	if !access.Success {
		return &SubmitSupplyResult{Access: access}, nil
	}
	orderID := access.OrderID

	po, err := s.ledger.Order(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !entity.IsSupplyOpen(po.Status) {
		return nil, ErrOrderNotSupplyable
	}

	validation, err := s.validator.ValidateRealtime(ctx, orderID, req.Items, "")
	if err != nil {
		return nil, err
	}
	if !validation.Valid {
		return &SubmitSupplyResult{Validation: validation}, nil
	}

	record := s.buildRecord(orderID, access.ShareCode, req)
	fromStatus := po.Status
	toStatus := po.Status

	err = s.records.WithOrderLock(ctx, orderID, func(locked *entity.PurchaseOrder, tx repository.SupplyTx) error {
		if !entity.IsSupplyOpen(locked.Status) {
			return ErrOrderNotSupplyable
		}
		fromStatus = locked.Status

		supplied, err := tx.SuppliedByProduct(ctx, orderID, "")
		if err != nil {
			return fmt.Errorf("事务内查询已供货数量失败: %w", err)
		}
		if recheck := CheckSupplyItems(locked, supplied, req.Items); !recheck.Valid {
			return &supplyConflict{result: recheck}
		}

		if err := tx.CreateRecord(ctx, record); err != nil {
			return fmt.Errorf("创建供货记录失败: %w", err)
		}

		for _, item := range record.Items {
			supplied[item.ProductID] += item.Quantity
		}
		toStatus = nextOrderStatus(locked, supplied)
		if toStatus != locked.Status {
			if err := tx.UpdateOrderStatus(ctx, orderID, toStatus); err != nil {
				return fmt.Errorf("更新采购单状态失败: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		var conflict *supplyConflict
		if errors.As(err, &conflict) {
			s.logger.Info("供货提交复核冲突", zap.String("order_id", orderID), zap.Int("errors", len(conflict.result.Errors)))
			return &SubmitSupplyResult{Validation: conflict.result, Conflict: true}, nil
		}
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		if errors.Is(err, ErrOrderNotSupplyable) {
			return nil, err
		}
		s.logger.Error("供货提交失败", zap.String("order_id", orderID), zap.String("share_code", shareCode), zap.Error(err))
		return nil, err
	}

	s.ledger.Invalidate(ctx, orderID)
	s.activity.Record(ctx, &entity.ActivityLog{
		PurchaseOrderID: orderID,
		EntityType:      entity.ActivityEntitySupplyRecord,
		EntityID:        record.ID,
		EntityCode:      po.OrderNumber,
		Action:          ActionSupplySubmit,
		ToStatus:        string(entity.SupplyRecordStatusActive),
		Content:         fmt.Sprintf("供应商提交供货 %d 行，金额 %s", len(record.Items), record.TotalAmount.StringFixed(2)),
		Metadata:        entity.JSONB{"share_code": shareCode, "supplier_info": record.SupplierInfo},
	})
	if toStatus != fromStatus {
		s.activity.Record(ctx, orderActivity(po, orderID, ActionStatusChange, fromStatus, toStatus, "供货后同步采购单状态", ""))
	}
	s.events.PublishSupplyRecordUpdate(sse.SupplyRecordUpdate{
		OrderID: orderID, RecordID: record.ID, Action: SupplyEventCreated, Status: toStatus,
	})

	result := &SubmitSupplyResult{
		Success:     true,
		RecordID:    record.ID,
		TotalAmount: record.TotalAmount,
		OrderStatus: toStatus,
	}
	s.attachStatistics(ctx, orderID, result)
	return result, nil
}

func (s *SupplyService) buildRecord(orderID, shareCode string, req *SubmitSupplyRequest) *entity.SupplyRecord {
	now := s.now()
	record := &entity.SupplyRecord{
		ID:              uuid.New().String()[:32],
		PurchaseOrderID: orderID,
		Status:          entity.SupplyRecordStatusActive,
		ShareCode:       shareCode,
		Remark:          req.Remark,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if len(req.SupplierInfo) > 0 {
		record.SupplierInfo = entity.JSONB(req.SupplierInfo)
	}

	total := decimal.Zero
	for _, in := range req.Items {
		line := in.UnitPrice.Mul(decimal.NewFromInt(int64(in.Quantity))).Round(2)
		total = total.Add(line)
		record.Items = append(record.Items, entity.SupplyRecordItem{
			ID:             uuid.New().String()[:32],
			SupplyRecordID: record.ID,
			ProductID:      in.ProductID,
			Quantity:       in.Quantity,
			UnitPrice:      in.UnitPrice,
			TotalPrice:     line,
			Remark:         in.Remark,
			CreatedAt:      now,
		})
	}
	record.TotalAmount = total
	return record
}

// attachStatistics 写入已提交，统计失败只记日志
func (s *SupplyService) attachStatistics(ctx context.Context, orderID string, result *SubmitSupplyResult) {
	if statuses, err := s.ledger.ProductStatuses(ctx, orderID); err != nil {
		s.logger.Warn("供货后读取商品状态失败", zap.String("order_id", orderID), zap.Error(err))
	} else {
		result.ProductStatuses = statuses
	}
	if s.stats == nil {
		return
	}
	stats, err := s.stats.CalculateFresh(ctx, &repository.POFilter{OrderID: orderID})
	if err != nil {
		s.logger.Warn("供货后计算统计失败", zap.String("order_id", orderID), zap.Error(err))
		return
	}
	result.Statistics = stats
}

// DisableSupplyRecord 作废供货记录，释放其占用的数量。已作废时返回 Changed=false
func (s *SupplyService) DisableSupplyRecord(ctx context.Context, recordID, operatorID string) (*DisableSupplyResult, error) {
	record, err := s.records.FindByID(ctx, recordID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSupplyRecordNotFound
		}
		return nil, fmt.Errorf("读取供货记录失败: %w", err)
	}

	result := &DisableSupplyResult{RecordID: recordID, OrderID: record.PurchaseOrderID}
	if !record.CanDisable() {
		return result, nil
	}

	var orderNumber, fromStatus string
	err = s.records.WithOrderLock(ctx, record.PurchaseOrderID, func(po *entity.PurchaseOrder, tx repository.SupplyTx) error {
		orderNumber = po.OrderNumber
		fromStatus = po.Status
		result.OrderStatus = po.Status

		changed, err := tx.DisableRecord(ctx, recordID, operatorID, s.now())
		if err != nil {
			return fmt.Errorf("作废供货记录失败: %w", err)
		}
		if !changed {
			return nil
		}
		result.Changed = true

		supplied, err := tx.SuppliedByProduct(ctx, po.ID, "")
		if err != nil {
			return fmt.Errorf("事务内查询已供货数量失败: %w", err)
		}
		if next := nextOrderStatus(po, supplied); next != po.Status {
			if err := tx.UpdateOrderStatus(ctx, po.ID, next); err != nil {
				return fmt.Errorf("更新采购单状态失败: %w", err)
			}
			result.OrderStatus = next
		}
		return nil
	})
	if err != nil {
		s.logger.Error("作废供货记录失败", zap.String("record_id", recordID), zap.Error(err))
		return nil, err
	}
	if !result.Changed {
		return result, nil
	}

	s.ledger.Invalidate(ctx, record.PurchaseOrderID)
	s.activity.Record(ctx, &entity.ActivityLog{
		PurchaseOrderID: record.PurchaseOrderID,
		EntityType:      entity.ActivityEntitySupplyRecord,
		EntityID:        recordID,
		EntityCode:      orderNumber,
		Action:          ActionSupplyDisable,
		FromStatus:      string(entity.SupplyRecordStatusActive),
		ToStatus:        string(entity.SupplyRecordStatusDisabled),
		Content:         "作废供货记录",
		OperatorID:      operatorID,
	})
	if result.OrderStatus != fromStatus {
		s.activity.Record(ctx, orderActivity(&entity.PurchaseOrder{OrderNumber: orderNumber}, record.PurchaseOrderID,
			ActionStatusChange, fromStatus, result.OrderStatus, "作废供货记录后同步采购单状态", operatorID))
	}
	s.events.PublishSupplyRecordUpdate(sse.SupplyRecordUpdate{
		OrderID: record.PurchaseOrderID, RecordID: recordID, Action: SupplyEventDisabled, Status: result.OrderStatus,
	})
	return result, nil
}

// ListSupplyRecords 采购单下的供货统计与记录列表
func (s *SupplyService) ListSupplyRecords(ctx context.Context, orderID string) (*SupplyRecordList, error) {
	if _, err := s.ledger.Order(ctx, orderID); err != nil {
		return nil, err
	}
	stats, err := s.stats.Calculate(ctx, &repository.POFilter{OrderID: orderID})
	if err != nil {
		return nil, err
	}
	statuses, err := s.ledger.ProductStatuses(ctx, orderID)
	if err != nil {
		return nil, err
	}
	records, err := s.records.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("查询供货记录失败: %w", err)
	}
	if records == nil {
		records = []entity.SupplyRecord{}
	}
	return &SupplyRecordList{Statistics: stats, ProductStatuses: statuses, Records: records}, nil
}

// nextOrderStatus 根据供货情况推导采购单状态，仅在供货阶段内流转
func nextOrderStatus(po *entity.PurchaseOrder, supplied map[string]int) string {
	if !entity.IsSupplyOpen(po.Status) {
		return po.Status
	}
	statuses := BuildProductStatuses(po.Items, supplied)
	if IsFullySupplied(statuses) {
		return entity.POStatusSupplied
	}
	for _, st := range statuses {
		if st.SuppliedQuantity > 0 {
			return entity.POStatusPartial
		}
	}
	return entity.POStatusConfirmed
}

// AvailableProducts 刷新可供货数量，先清除缓存再读取
func (s *SupplyService) AvailableProducts(ctx context.Context, orderID string) ([]ProductSupplyStatus, error) {
	s.ledger.Invalidate(ctx, orderID)
	return s.ledger.AvailableProducts(ctx, orderID)
}
