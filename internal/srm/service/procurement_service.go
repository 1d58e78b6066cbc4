package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bitfantasy/nimo-wms/internal/srm/entity"
	"github.com/bitfantasy/nimo-wms/internal/srm/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// POStore 采购订单持久化
type POStore interface {
	FindAll(ctx context.Context, page, pageSize int, filter *repository.POFilter) ([]entity.PurchaseOrder, int64, error)
	FindByID(ctx context.Context, id string) (*entity.PurchaseOrder, error)
	Create(ctx context.Context, po *entity.PurchaseOrder) error
	UpdateStatus(ctx context.Context, id, from, to string) error
	GenerateCode(ctx context.Context) (string, error)
}

// ProcurementService 采购服务
type ProcurementService struct {
	poRepo   POStore
	stats    *StatisticsCalculator
	activity ActivityStore
	logger   *zap.Logger
}

func NewProcurementService(poRepo POStore, stats *StatisticsCalculator, activity ActivityStore, logger *zap.Logger) *ProcurementService {
	if activity == nil {
		activity = noopActivityLogger{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcurementService{
		poRepo:   poRepo,
		stats:    stats,
		activity: activity,
		logger:   logger,
	}
}

// POListResult PO列表及筛选范围内的统计
type POListResult struct {
	Items      []entity.PurchaseOrder `json:"items"`
	Total      int64                  `json:"total"`
	Page       int                    `json:"page"`
	PageSize   int                    `json:"page_size"`
	Statistics *Statistics            `json:"statistics"`
}

// ListPOs 获取PO列表，列表与统计并发查询
func (s *ProcurementService) ListPOs(ctx context.Context, page, pageSize int, filter *repository.POFilter) (*POListResult, error) {
	if err := ValidateStatisticsFilter(filter); err != nil {
		return nil, err
	}

	result := &POListResult{Page: page, PageSize: pageSize}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		items, total, err := s.poRepo.FindAll(gctx, page, pageSize, filter)
		if err != nil {
			return fmt.Errorf("查询采购单列表失败: %w", err)
		}
		result.Items = items
		result.Total = total
		return nil
	})
	g.Go(func() error {
		stats, err := s.stats.Calculate(gctx, filter)
		if err != nil {
			return err
		}
		result.Statistics = stats
		return nil
	})
	if err := g.Wait(); err != nil {
		s.logger.Error("查询采购单列表失败", zap.Any("filter", filter), zap.Error(err))
		return nil, err
	}
	if result.Items == nil {
		result.Items = []entity.PurchaseOrder{}
	}
	return result, nil
}

// GetPO 获取PO详情
func (s *ProcurementService) GetPO(ctx context.Context, id string) (*entity.PurchaseOrder, error) {
	po, err := s.poRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return po, nil
}

// ActivityListResult 采购单时间线分页
type ActivityListResult struct {
	Items    []entity.ActivityLog `json:"items"`
	Total    int64                `json:"total"`
	Page     int                  `json:"page"`
	PageSize int                  `json:"page_size"`
}

// ListActivities 采购单操作时间线
func (s *ProcurementService) ListActivities(ctx context.Context, orderID string, page, pageSize int) (*ActivityListResult, error) {
	if _, err := s.GetPO(ctx, orderID); err != nil {
		return nil, err
	}
	items, total, err := s.activity.ListByOrder(ctx, orderID, page, pageSize)
	if err != nil {
		s.logger.Error("查询操作日志失败", zap.String("order_id", orderID), zap.Error(err))
		return nil, fmt.Errorf("查询操作日志失败: %w", err)
	}
	if items == nil {
		items = []entity.ActivityLog{}
	}
	return &ActivityListResult{Items: items, Total: total, Page: page, PageSize: pageSize}, nil
}

// CreatePORequest 创建PO请求
type CreatePORequest struct {
	ShopID      string           `json:"shop_id" binding:"required"`
	SupplierID  string           `json:"supplier_id" binding:"required"`
	Urgent      bool             `json:"urgent"`
	FinalAmount *decimal.Decimal `json:"final_amount"`
	Remark      string           `json:"remark"`
	// Confirm 为 true 时直接确认，可立即分享供货
	Confirm bool           `json:"confirm"`
	Items   []CreatePOItem `json:"items"`
}

type CreatePOItem struct {
	ProductID   string          `json:"product_id" binding:"required"`
	ProductCode string          `json:"product_code"`
	ProductName string          `json:"product_name" binding:"required"`
	Quantity    int             `json:"quantity" binding:"required"`
	Unit        string          `json:"unit"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// CreatePO 创建采购订单
func (s *ProcurementService) CreatePO(ctx context.Context, userID string, req *CreatePORequest) (*entity.PurchaseOrder, error) {
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: 第%d行采购数量必须大于0", ErrInvalidPO, i+1)
		}
		if item.UnitPrice.IsNegative() {
			return nil, fmt.Errorf("%w: 第%d行单价不能为负数", ErrInvalidPO, i+1)
		}
	}

	code, err := s.poRepo.GenerateCode(ctx)
	if err != nil {
		return nil, fmt.Errorf("生成PO编码失败: %w", err)
	}

	status := entity.POStatusDraft
	if req.Confirm {
		status = entity.POStatusConfirmed
	}
	po := &entity.PurchaseOrder{
		ID:          uuid.New().String()[:32],
		OrderNumber: code,
		ShopID:      req.ShopID,
		SupplierID:  req.SupplierID,
		OperatorID:  userID,
		Status:      status,
		Urgent:      req.Urgent,
		Remark:      req.Remark,
	}

	totalAmount := decimal.Zero
	for i, item := range req.Items {
		unit := item.Unit
		if unit == "" {
			unit = "pcs"
		}
		itemTotal := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))).Round(2)
		totalAmount = totalAmount.Add(itemTotal)
		po.Items = append(po.Items, entity.POItem{
			ID:          uuid.New().String()[:32],
			POID:        po.ID,
			ProductID:   item.ProductID,
			ProductCode: item.ProductCode,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			Unit:        unit,
			UnitPrice:   item.UnitPrice,
			TotalAmount: itemTotal,
			SortOrder:   i + 1,
		})
	}
	po.TotalAmount = totalAmount
	po.FinalAmount = totalAmount
	if req.FinalAmount != nil {
		po.FinalAmount = *req.FinalAmount
	}

	if err := s.poRepo.Create(ctx, po); err != nil {
		return nil, err
	}
	s.activity.Record(ctx, orderActivity(po, po.ID, ActionCreate,
		"", po.Status, fmt.Sprintf("创建采购单，共%d行", len(po.Items)), userID))
	return po, nil
}

// UpdatePOStatus 人工变更采购单状态
func (s *ProcurementService) UpdatePOStatus(ctx context.Context, id, status, userID string) (*entity.PurchaseOrder, error) {
	po, err := s.GetPO(ctx, id)
	if err != nil {
		return nil, err
	}
	if !entity.CanTransitionPO(po.Status, status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidPOTransition, po.Status, status)
	}
	if err := s.poRepo.UpdateStatus(ctx, id, po.Status, status); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrOrderNotFound
		case errors.Is(err, repository.ErrStatusChanged):
			return nil, fmt.Errorf("%w: %s changed concurrently", ErrInvalidPOTransition, po.Status)
		}
		return nil, err
	}
	s.activity.Record(ctx, orderActivity(po, po.ID, ActionStatusChange, po.Status, status, "", userID))
	po.Status = status
	return po, nil
}
