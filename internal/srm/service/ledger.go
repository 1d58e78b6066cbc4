package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bitfantasy/nimo-wms/internal/srm/entity"
	"github.com/bitfantasy/nimo-wms/internal/srm/repository"
	"go.uber.org/zap"
)

// OrderReader 采购单读取
type OrderReader interface {
	FindByID(ctx context.Context, id string) (*entity.PurchaseOrder, error)
}

// SupplyReader 已供货数量读取
type SupplyReader interface {
	SuppliedQuantity(ctx context.Context, orderID, productID, excludeRecordID string) (int, error)
	SuppliedByProduct(ctx context.Context, orderID, excludeRecordID string) (map[string]int, error)
}

// ProductSupplyStatus 商品供货状态
type ProductSupplyStatus struct {
	ProductID         string `json:"product_id"`
	ProductName       string `json:"product_name,omitempty"`
	PurchasedQuantity int    `json:"purchased_quantity"`
	SuppliedQuantity  int    `json:"supplied_quantity"`
	AvailableQuantity int    `json:"available_quantity"`
	SupplyProgress    int    `json:"supply_progress"`
}

// AvailableQuantity 可供货数量 = max(0, 采购 - 已供货)
func AvailableQuantity(purchased, supplied int) int {
	if available := purchased - supplied; available > 0 {
		return available
	}
	return 0
}

// SupplyProgress 供货进度百分比，限制在 [0, 100]
func SupplyProgress(purchased, supplied int) int {
	if purchased <= 0 {
		return 0
	}
	pct := int(math.Round(float64(supplied) / float64(purchased) * 100))
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// NewProductSupplyStatus 根据采购与已供货数量构造状态
func NewProductSupplyStatus(productID, productName string, purchased, supplied int) ProductSupplyStatus {
	return ProductSupplyStatus{
		ProductID:         productID,
		ProductName:       productName,
		PurchasedQuantity: purchased,
		SuppliedQuantity:  supplied,
		AvailableQuantity: AvailableQuantity(purchased, supplied),
		SupplyProgress:    SupplyProgress(purchased, supplied),
	}
}

// BuildProductStatuses 按订单行项顺序生成每个商品的供货状态，同一商品的多个行项合并
func BuildProductStatuses(items []entity.POItem, supplied map[string]int) []ProductSupplyStatus {
	statuses := make([]ProductSupplyStatus, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		if i, ok := index[item.ProductID]; ok {
			statuses[i].PurchasedQuantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(statuses)
		statuses = append(statuses, ProductSupplyStatus{
			ProductID:         item.ProductID,
			ProductName:       item.ProductName,
			PurchasedQuantity: item.Quantity,
		})
	}
	for i := range statuses {
		s := &statuses[i]
		*s = NewProductSupplyStatus(s.ProductID, s.ProductName, s.PurchasedQuantity, supplied[s.ProductID])
	}
	return statuses
}

// FilterAvailable 仅保留仍可供货的商品
func FilterAvailable(statuses []ProductSupplyStatus) []ProductSupplyStatus {
	available := make([]ProductSupplyStatus, 0, len(statuses))
	for _, s := range statuses {
		if s.AvailableQuantity > 0 {
			available = append(available, s)
		}
	}
	return available
}

// IsFullySupplied 所有商品均已供满
func IsFullySupplied(statuses []ProductSupplyStatus) bool {
	if len(statuses) == 0 {
		return false
	}
	for _, s := range statuses {
		if s.AvailableQuantity > 0 {
			return false
		}
	}
	return true
}

// QuantityLedger 采购单数量台账，只读
type QuantityLedger struct {
	orders   OrderReader
	supply   SupplyReader
	cache    Cache
	cacheTTL time.Duration
	logger   *zap.Logger
	// gens 每个采购单的失效代数，读库期间发生失效时不回填缓存
	gens sync.Map
}

// LedgerOption 台账选项
type LedgerOption func(*QuantityLedger)

// WithLedgerCache 缓存已供货快照
func WithLedgerCache(cache Cache, ttl time.Duration) LedgerOption {
	return func(l *QuantityLedger) {
		l.cache = cache
		l.cacheTTL = ttl
	}
}

// WithLedgerLogger 设置日志
func WithLedgerLogger(logger *zap.Logger) LedgerOption {
	return func(l *QuantityLedger) {
		l.logger = logger
	}
}

func NewQuantityLedger(orders OrderReader, supply SupplyReader, opts ...LedgerOption) *QuantityLedger {
	l := &QuantityLedger{
		orders: orders,
		supply: supply,
		cache:  NoopCache{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func suppliedCacheKey(orderID string) string {
	return "srm:supplied:" + orderID
}

// Order 读取采购单，不存在时返回 ErrOrderNotFound
func (l *QuantityLedger) Order(ctx context.Context, orderID string) (*entity.PurchaseOrder, error) {
	po, err := l.orders.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("读取采购单失败: %w", err)
	}
	return po, nil
}

// SuppliedQuantity 某商品已供货数量，excludeRecordID 非空时排除该记录
func (l *QuantityLedger) SuppliedQuantity(ctx context.Context, orderID, productID, excludeRecordID string) (int, error) {
	supplied, err := l.supply.SuppliedQuantity(ctx, orderID, productID, excludeRecordID)
	if err != nil {
		return 0, fmt.Errorf("查询已供货数量失败: %w", err)
	}
	if supplied < 0 {
		return 0, nil
	}
	return supplied, nil
}

// AvailableQuantity 某商品可供货数量；商品不在订单中时为 0
func (l *QuantityLedger) AvailableQuantity(ctx context.Context, orderID, productID string) (int, error) {
	po, err := l.Order(ctx, orderID)
	if err != nil {
		return 0, err
	}
	purchased := po.PurchasedQuantity(productID)
	if purchased == 0 {
		return 0, nil
	}
	supplied, err := l.SuppliedQuantity(ctx, orderID, productID, "")
	if err != nil {
		return 0, err
	}
	return AvailableQuantity(purchased, supplied), nil
}

// ProductStatuses 订单全部商品的供货状态
func (l *QuantityLedger) ProductStatuses(ctx context.Context, orderID string) ([]ProductSupplyStatus, error) {
	po, err := l.Order(ctx, orderID)
	if err != nil {
		return nil, err
	}
	supplied, err := l.suppliedSnapshot(ctx, orderID, "", false)
	if err != nil {
		return nil, err
	}
	return BuildProductStatuses(po.Items, supplied), nil
}

// AvailableProducts 仍可供货的商品列表
func (l *QuantityLedger) AvailableProducts(ctx context.Context, orderID string) ([]ProductSupplyStatus, error) {
	statuses, err := l.ProductStatuses(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return FilterAvailable(statuses), nil
}

// suppliedSnapshot 已供货快照。realtime 或带排除记录时直接查库
func (l *QuantityLedger) suppliedSnapshot(ctx context.Context, orderID, excludeRecordID string, realtime bool) (map[string]int, error) {
	useCache := !realtime && excludeRecordID == ""
	key := suppliedCacheKey(orderID)
	if useCache {
		var cached map[string]int
		hit, err := l.cache.Get(ctx, key, &cached)
		if err != nil {
			l.logger.Warn("读取供货缓存失败", zap.String("order_id", orderID), zap.Error(err))
		} else if hit {
			return cached, nil
		}
	}

	gen := l.generation(orderID)
	seen := gen.Load()
	supplied, err := l.supply.SuppliedByProduct(ctx, orderID, excludeRecordID)
	if err != nil {
		return nil, fmt.Errorf("查询已供货数量失败: %w", err)
	}

	if useCache {
		if err := l.cache.Set(ctx, key, supplied, l.cacheTTL); err != nil {
			l.logger.Warn("写入供货缓存失败", zap.String("order_id", orderID), zap.Error(err))
		} else if gen.Load() != seen {
			l.Invalidate(ctx, orderID)
		}
	}
	return supplied, nil
}

func (l *QuantityLedger) generation(orderID string) *atomic.Uint64 {
	v, _ := l.gens.LoadOrStore(orderID, new(atomic.Uint64))
	return v.(*atomic.Uint64)
}

// Invalidate 供货记录变化后清除缓存
func (l *QuantityLedger) Invalidate(ctx context.Context, orderID string) {
	l.generation(orderID).Add(1)
	if err := l.cache.Delete(ctx, suppliedCacheKey(orderID)); err != nil {
		l.logger.Warn("清除供货缓存失败", zap.String("order_id", orderID), zap.Error(err))
	}
}
