package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/bitfantasy/nimo-wms/internal/srm/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxProductStatuses = 100
	MaxOrderNumberLength      = 50
)

// StatisticsSource 统计所需的三类查询
type StatisticsSource interface {
	OrderTotals(ctx context.Context, filter *repository.POFilter) (*repository.OrderTotals, error)
	PurchasedByProduct(ctx context.Context, filter *repository.POFilter) ([]repository.ProductQuantity, error)
	SuppliedByProduct(ctx context.Context, filter *repository.POFilter) ([]repository.ProductQuantity, error)
}

// StatisticsConfig 统计计算配置
type StatisticsConfig struct {
	MaxProductStatuses int           `json:"max_product_statuses"`
	Parallel           bool          `json:"parallel"`
	CacheEnabled       bool          `json:"cache_enabled"`
	CacheTTL           time.Duration `json:"cache_ttl"`
}

func DefaultStatisticsConfig() StatisticsConfig {
	return StatisticsConfig{
		MaxProductStatuses: DefaultMaxProductStatuses,
		Parallel:           true,
		CacheTTL:           5 * time.Minute,
	}
}

// Statistics 采购供货统计
type Statistics struct {
	TotalRecords    int64                 `json:"total_records"`
	ActiveRecords   int64                 `json:"active_records"`
	TotalAmount     decimal.Decimal       `json:"total_amount"`
	ProductStatuses []ProductSupplyStatus `json:"product_statuses"`
}

// StatisticsErrorKind 统计错误类型
type StatisticsErrorKind string

const (
	StatisticsErrInvalidFilters   StatisticsErrorKind = "invalid_filters"
	StatisticsErrQueryFailed      StatisticsErrorKind = "query_failed"
	StatisticsErrProcessingFailed StatisticsErrorKind = "processing_failed"
)

// StatisticsError 统计计算错误，带原始错误和筛选条件
type StatisticsError struct {
	Kind    StatisticsErrorKind
	Message string
	Cause   error
	Filter  repository.POFilter
}

func (e *StatisticsError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *StatisticsError) Unwrap() error {
	return e.Cause
}

func newStatisticsError(kind StatisticsErrorKind, message string, cause error, filter *repository.POFilter) *StatisticsError {
	e := &StatisticsError{Kind: kind, Message: message, Cause: cause}
	if filter != nil {
		e.Filter = *filter
	}
	return e
}

// ValidateStatisticsFilter 查询前校验筛选条件
func ValidateStatisticsFilter(filter *repository.POFilter) error {
	if filter == nil {
		return nil
	}
	if filter.CreatedAtStart != nil && filter.CreatedAtEnd != nil && filter.CreatedAtStart.After(*filter.CreatedAtEnd) {
		return newStatisticsError(StatisticsErrInvalidFilters, "创建时间起始晚于结束", nil, filter)
	}
	if filter.UpdatedAtStart != nil && filter.UpdatedAtEnd != nil && filter.UpdatedAtStart.After(*filter.UpdatedAtEnd) {
		return newStatisticsError(StatisticsErrInvalidFilters, "更新时间起始晚于结束", nil, filter)
	}
	if utf8.RuneCountInString(filter.OrderNumber) > MaxOrderNumberLength {
		return newStatisticsError(StatisticsErrInvalidFilters,
			fmt.Sprintf("采购单号搜索不能超过%d个字符", MaxOrderNumberLength), nil, filter)
	}
	return nil
}

// StatisticsCalculator 采购供货统计计算器
type StatisticsCalculator struct {
	source StatisticsSource
	cfg    StatisticsConfig
	cache  Cache
	dedupe Deduper
	logger *zap.Logger
}

// StatisticsOption 计算器选项
type StatisticsOption func(*StatisticsCalculator)

func WithStatisticsCache(cache Cache) StatisticsOption {
	return func(c *StatisticsCalculator) {
		c.cache = cache
	}
}

func WithStatisticsDeduper(d Deduper) StatisticsOption {
	return func(c *StatisticsCalculator) {
		c.dedupe = d
	}
}

func WithStatisticsLogger(logger *zap.Logger) StatisticsOption {
	return func(c *StatisticsCalculator) {
		c.logger = logger
	}
}

func NewStatisticsCalculator(source StatisticsSource, cfg StatisticsConfig, opts ...StatisticsOption) *StatisticsCalculator {
	if cfg.MaxProductStatuses <= 0 {
		cfg.MaxProductStatuses = DefaultMaxProductStatuses
	}
	c := &StatisticsCalculator{
		source: source,
		cfg:    cfg,
		cache:  NoopCache{},
		dedupe: NoDedupe{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type statisticsSources struct {
	totals    *repository.OrderTotals
	purchased []repository.ProductQuantity
	supplied  []repository.ProductQuantity
}

// Calculate 按配置的执行策略计算，启用缓存时先读缓存
func (c *StatisticsCalculator) Calculate(ctx context.Context, filter *repository.POFilter) (*Statistics, error) {
	if err := ValidateStatisticsFilter(filter); err != nil {
		return nil, err
	}
	if !c.cfg.CacheEnabled {
		return c.calculate(ctx, filter, c.cfg.Parallel)
	}

	key := statisticsCacheKey(filter)
	var cached Statistics
	if hit, err := c.cache.Get(ctx, key, &cached); err != nil {
		c.logger.Warn("读取统计缓存失败", zap.String("key", key), zap.Error(err))
	} else if hit {
		return &cached, nil
	}

	v, err := c.dedupe.Do(key, func() (interface{}, error) {
		return c.calculate(ctx, filter, c.cfg.Parallel)
	})
	if err != nil {
		return nil, err
	}
	stats := v.(*Statistics)
	if err := c.cache.Set(ctx, key, stats, c.cfg.CacheTTL); err != nil {
		c.logger.Warn("写入统计缓存失败", zap.String("key", key), zap.Error(err))
	}
	return stats, nil
}

// CalculateFresh 跳过缓存直接计算
func (c *StatisticsCalculator) CalculateFresh(ctx context.Context, filter *repository.POFilter) (*Statistics, error) {
	if err := ValidateStatisticsFilter(filter); err != nil {
		return nil, err
	}
	return c.calculate(ctx, filter, c.cfg.Parallel)
}

// CalculateParallel 三类查询并发执行
func (c *StatisticsCalculator) CalculateParallel(ctx context.Context, filter *repository.POFilter) (*Statistics, error) {
	if err := ValidateStatisticsFilter(filter); err != nil {
		return nil, err
	}
	return c.calculate(ctx, filter, true)
}

// CalculateSequential 三类查询依次执行
func (c *StatisticsCalculator) CalculateSequential(ctx context.Context, filter *repository.POFilter) (*Statistics, error) {
	if err := ValidateStatisticsFilter(filter); err != nil {
		return nil, err
	}
	return c.calculate(ctx, filter, false)
}

func (c *StatisticsCalculator) calculate(ctx context.Context, filter *repository.POFilter, parallel bool) (*Statistics, error) {
	var (
		src *statisticsSources
		err error
	)
	if parallel {
		src, err = c.fetchParallel(ctx, filter)
	} else {
		src, err = c.fetchSequential(ctx, filter)
	}
	if err != nil {
		c.logger.Error("统计查询失败", zap.Any("filter", filter), zap.Bool("parallel", parallel), zap.Error(err))
		return nil, newStatisticsError(StatisticsErrQueryFailed, "统计查询失败", err, filter)
	}

	stats, err := c.assemble(src)
	if err != nil {
		c.logger.Error("统计汇总失败", zap.Any("filter", filter), zap.Error(err))
		return nil, newStatisticsError(StatisticsErrProcessingFailed, "统计汇总失败", err, filter)
	}
	return stats, nil
}

func (c *StatisticsCalculator) fetchParallel(ctx context.Context, filter *repository.POFilter) (*statisticsSources, error) {
	src := &statisticsSources{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		totals, err := c.source.OrderTotals(gctx, filter)
		if err != nil {
			return fmt.Errorf("订单汇总: %w", err)
		}
		src.totals = totals
		return nil
	})
	g.Go(func() error {
		purchased, err := c.source.PurchasedByProduct(gctx, filter)
		if err != nil {
			return fmt.Errorf("采购行项汇总: %w", err)
		}
		src.purchased = purchased
		return nil
	})
	g.Go(func() error {
		supplied, err := c.source.SuppliedByProduct(gctx, filter)
		if err != nil {
			return fmt.Errorf("供货行项汇总: %w", err)
		}
		src.supplied = supplied
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return src, nil
}

func (c *StatisticsCalculator) fetchSequential(ctx context.Context, filter *repository.POFilter) (*statisticsSources, error) {
	totals, err := c.source.OrderTotals(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("订单汇总: %w", err)
	}
	purchased, err := c.source.PurchasedByProduct(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("采购行项汇总: %w", err)
	}
	supplied, err := c.source.SuppliedByProduct(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("供货行项汇总: %w", err)
	}
	return &statisticsSources{totals: totals, purchased: purchased, supplied: supplied}, nil
}

func (c *StatisticsCalculator) assemble(src *statisticsSources) (*Statistics, error) {
	if src.totals == nil {
		return nil, fmt.Errorf("订单汇总结果为空")
	}

	supplied := make(map[string]int, len(src.supplied))
	for _, row := range src.supplied {
		if row.Quantity < 0 {
			return nil, fmt.Errorf("商品 %s 供货数量为负: %d", row.ProductID, row.Quantity)
		}
		supplied[row.ProductID] += row.Quantity
	}

	type purchasedRow struct {
		name     string
		quantity int
	}
	purchased := make(map[string]*purchasedRow, len(src.purchased))
	for _, row := range src.purchased {
		if p, ok := purchased[row.ProductID]; ok {
			p.quantity += row.Quantity
			continue
		}
		purchased[row.ProductID] = &purchasedRow{name: row.ProductName, quantity: row.Quantity}
	}

	statuses := make([]ProductSupplyStatus, 0, len(purchased))
	for productID, p := range purchased {
		statuses = append(statuses, NewProductSupplyStatus(productID, p.name, p.quantity, supplied[productID]))
	}
	sort.Slice(statuses, func(i, j int) bool {
		if statuses[i].PurchasedQuantity != statuses[j].PurchasedQuantity {
			return statuses[i].PurchasedQuantity > statuses[j].PurchasedQuantity
		}
		return statuses[i].ProductID < statuses[j].ProductID
	})
	if len(statuses) > c.cfg.MaxProductStatuses {
		statuses = statuses[:c.cfg.MaxProductStatuses]
	}

	return &Statistics{
		TotalRecords:    src.totals.TotalRecords,
		ActiveRecords:   src.totals.ActiveRecords,
		TotalAmount:     src.totals.TotalAmount,
		ProductStatuses: statuses,
	}, nil
}

func statisticsCacheKey(filter *repository.POFilter) string {
	raw, _ := json.Marshal(filter)
	sum := sha256.Sum256(raw)
	return "srm:stats:" + hex.EncodeToString(sum[:16])
}
