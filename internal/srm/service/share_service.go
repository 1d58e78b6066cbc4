package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/bitfantasy/nimo-wms/internal/srm/entity"
	"github.com/bitfantasy/nimo-wms/internal/srm/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 提取码字符集，去掉了容易混淆的 0/O、1/I
const extractCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const maxExtractCodeLength = 16

// ShareLinkStore 分享链接持久化
type ShareLinkStore interface {
	FindByOrderID(ctx context.Context, orderID string) (*entity.ShareLink, error)
	FindByCode(ctx context.Context, shareCode string) (*entity.ShareLink, error)
	Upsert(ctx context.Context, link *entity.ShareLink) error
	IncrementAccess(ctx context.Context, id, shareCode string, now time.Time) (bool, error)
	Disable(ctx context.Context, orderID string) (bool, error)
}

// ShareConfig 分享链接配置
type ShareConfig struct {
	BaseURL             string `json:"base_url"`
	DefaultExpiresHours int    `json:"default_expires_hours"`
	MaxExpiresHours     int    `json:"max_expires_hours"`
	ExtractCodeLength   int    `json:"extract_code_length"`
}

func DefaultShareConfig() ShareConfig {
	return ShareConfig{
		BaseURL:             "http://localhost:8080",
		DefaultExpiresHours: 72,
		MaxExpiresHours:     24 * 30,
		ExtractCodeLength:   4,
	}
}

// ShareOptions 生成分享链接参数
type ShareOptions struct {
	ExpiresInHours int    `json:"expires_in"`
	ExtractCode    string `json:"extract_code"`
	// NoExtractCode 为 true 时不设置提取码
	NoExtractCode bool `json:"no_extract_code"`
	AccessLimit   *int `json:"access_limit"`
}

// ShareLinkInfo 分享链接信息
type ShareLinkInfo struct {
	OrderID     string                 `json:"order_id"`
	ShareCode   string                 `json:"share_code"`
	ExtractCode string                 `json:"extract_code,omitempty"`
	ShareURL    string                 `json:"share_url"`
	ExpiresAt   time.Time              `json:"expires_at"`
	AccessLimit *int                   `json:"access_limit,omitempty"`
	AccessCount int                    `json:"access_count"`
	Status      entity.ShareLinkStatus `json:"status"`
	Usable      bool                   `json:"usable"`
}

// ShareAccessReason 分享校验失败原因
type ShareAccessReason string

const (
	ShareReasonNotFound            ShareAccessReason = "not_found"
	ShareReasonDisabled            ShareAccessReason = "disabled"
	ShareReasonExpired             ShareAccessReason = "expired"
	ShareReasonLimitReached        ShareAccessReason = "limit_reached"
	ShareReasonExtractCodeMismatch ShareAccessReason = "extract_code_mismatch"
	ShareReasonInternal            ShareAccessReason = "internal"
)

var shareReasonMessages = map[ShareAccessReason]string{
	ShareReasonNotFound:            "分享链接不存在",
	ShareReasonDisabled:            "分享链接已失效",
	ShareReasonExpired:             "分享链接已过期",
	ShareReasonLimitReached:        "分享链接访问次数已达上限",
	ShareReasonExtractCodeMismatch: "提取码错误",
	ShareReasonInternal:            "系统繁忙，请稍后重试",
}

// ShareAccessResult 分享校验结果
type ShareAccessResult struct {
	Success     bool              `json:"success"`
	OrderID     string            `json:"order_id,omitempty"`
	ShareCode   string            `json:"share_code,omitempty"`
	AccessCount int               `json:"access_count,omitempty"`
	Reason      ShareAccessReason `json:"reason,omitempty"`
	Message     string            `json:"message,omitempty"`
}

func denyAccess(reason ShareAccessReason) *ShareAccessResult {
	return &ShareAccessResult{Reason: reason, Message: shareReasonMessages[reason]}
}

// ShareService 分享链接管理
type ShareService struct {
	store    ShareLinkStore
	orders   OrderReader
	cfg      ShareConfig
	activity ActivityLogger
	logger   *zap.Logger
	now      func() time.Time
}

// ShareOption 分享服务选项
type ShareOption func(*ShareService)

func WithShareActivityLogger(a ActivityLogger) ShareOption {
	return func(s *ShareService) {
		s.activity = a
	}
}

func WithShareLogger(logger *zap.Logger) ShareOption {
	return func(s *ShareService) {
		s.logger = logger
	}
}

// WithShareClock 替换时钟，测试使用
func WithShareClock(now func() time.Time) ShareOption {
	return func(s *ShareService) {
		s.now = now
	}
}

func NewShareService(store ShareLinkStore, orders OrderReader, cfg ShareConfig, opts ...ShareOption) *ShareService {
	def := DefaultShareConfig()
	if cfg.DefaultExpiresHours <= 0 {
		cfg.DefaultExpiresHours = def.DefaultExpiresHours
	}
	if cfg.MaxExpiresHours <= 0 {
		cfg.MaxExpiresHours = def.MaxExpiresHours
	}
	if cfg.ExtractCodeLength <= 0 || cfg.ExtractCodeLength > maxExtractCodeLength {
		cfg.ExtractCodeLength = def.ExtractCodeLength
	}
	s := &ShareService{
		store:    store,
		orders:   orders,
		cfg:      cfg,
		activity: noopActivityLogger{},
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ShareURL 分享码对应的外部访问地址
func (s *ShareService) ShareURL(shareCode string) string {
	return strings.TrimRight(s.cfg.BaseURL, "/") + "/supply/" + shareCode
}

func (s *ShareService) toInfo(link *entity.ShareLink) *ShareLinkInfo {
	return &ShareLinkInfo{
		OrderID:     link.PurchaseOrderID,
		ShareCode:   link.ShareCode,
		ExtractCode: link.ExtractCode,
		ShareURL:    s.ShareURL(link.ShareCode),
		ExpiresAt:   link.ExpiresAt,
		AccessLimit: link.AccessLimit,
		AccessCount: link.AccessCount,
		Status:      link.Status,
		Usable:      link.IsUsable(s.now()),
	}
}

func (s *ShareService) normalizeOptions(opts ShareOptions) (ShareOptions, error) {
	if opts.ExpiresInHours == 0 {
		opts.ExpiresInHours = s.cfg.DefaultExpiresHours
	}
	if opts.ExpiresInHours < 0 || opts.ExpiresInHours > s.cfg.MaxExpiresHours {
		return opts, fmt.Errorf("%w: 有效期需在1到%d小时之间", ErrInvalidShareOptions, s.cfg.MaxExpiresHours)
	}
	if opts.AccessLimit != nil && *opts.AccessLimit <= 0 {
		return opts, fmt.Errorf("%w: 访问次数上限必须大于0", ErrInvalidShareOptions)
	}
	opts.ExtractCode = strings.ToUpper(strings.TrimSpace(opts.ExtractCode))
	if len(opts.ExtractCode) > maxExtractCodeLength {
		return opts, fmt.Errorf("%w: 提取码不能超过%d位", ErrInvalidShareOptions, maxExtractCodeLength)
	}
	for _, r := range opts.ExtractCode {
		if !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return opts, fmt.Errorf("%w: 提取码只能包含字母和数字", ErrInvalidShareOptions)
		}
	}
	return opts, nil
}

// GenerateShareLink 生成分享链接。已有可用链接时原样返回，否则生成新链接并替换旧记录
func (s *ShareService) GenerateShareLink(ctx context.Context, orderID string, opts ShareOptions, operatorID string) (*ShareLinkInfo, error) {
	opts, err := s.normalizeOptions(opts)
	if err != nil {
		return nil, err
	}

	po, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		s.logger.Error("生成分享链接时读取采购单失败", zap.String("order_id", orderID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrShareOperationFailed, err)
	}

	now := s.now()
	existing, err := s.store.FindByOrderID(ctx, orderID)
	switch {
	case err == nil && existing.IsUsable(now):
		return s.toInfo(existing), nil
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		s.logger.Error("读取分享链接失败", zap.String("order_id", orderID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrShareOperationFailed, err)
	}

	extractCode := opts.ExtractCode
	if extractCode == "" && !opts.NoExtractCode {
		extractCode, err = GenerateExtractCode(s.cfg.ExtractCodeLength)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrShareOperationFailed, err)
		}
	}

	link := &entity.ShareLink{
		ID:              uuid.New().String()[:32],
		PurchaseOrderID: orderID,
		ShareCode:       NewShareCode(),
		ExtractCode:     extractCode,
		ExpiresAt:       now.Add(time.Duration(opts.ExpiresInHours) * time.Hour),
		AccessLimit:     opts.AccessLimit,
		AccessCount:     0,
		Status:          entity.ShareLinkStatusActive,
		CreatedBy:       operatorID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if existing != nil {
		link.ID = existing.ID
		link.CreatedAt = existing.CreatedAt
	}
	if err := s.store.Upsert(ctx, link); err != nil {
		s.logger.Error("保存分享链接失败", zap.String("order_id", orderID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrShareOperationFailed, err)
	}

	saved, err := s.store.FindByOrderID(ctx, orderID)
	if err != nil {
		s.logger.Error("回读分享链接失败", zap.String("order_id", orderID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrShareOperationFailed, err)
	}

	content := fmt.Sprintf("生成供货分享链接，有效期%d小时", opts.ExpiresInHours)
	if opts.AccessLimit != nil {
		content += fmt.Sprintf("，限访问%d次", *opts.AccessLimit)
	}
	s.activity.Record(ctx, orderActivity(po, orderID, ActionShareGenerate,
		"", string(entity.ShareLinkStatusActive), content, operatorID))

	return s.toInfo(saved), nil
}

// GetShareLink 查询采购单当前的分享链接
func (s *ShareService) GetShareLink(ctx context.Context, orderID string) (*ShareLinkInfo, error) {
	link, err := s.store.FindByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrShareLinkNotFound
		}
		s.logger.Error("读取分享链接失败", zap.String("order_id", orderID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrShareOperationFailed, err)
	}
	return s.toInfo(link), nil
}

// VerifyShareAccess 校验分享访问。依次检查：不存在、已失效、已过期、次数上限、提取码。
// 通过后原子递增访问次数
func (s *ShareService) VerifyShareAccess(ctx context.Context, shareCode, extractCode string) *ShareAccessResult {
	shareCode = strings.TrimSpace(shareCode)
	if shareCode == "" {
		return denyAccess(ShareReasonNotFound)
	}

	link, err := s.store.FindByCode(ctx, shareCode)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return denyAccess(ShareReasonNotFound)
		}
		s.logger.Error("校验分享链接失败", zap.String("share_code", shareCode), zap.Error(err))
		return denyAccess(ShareReasonInternal)
	}

	now := s.now()
	if reason, ok := checkShareLink(link, now); !ok {
		return denyAccess(reason)
	}
	if link.ExtractCode != "" {
		given := strings.ToUpper(strings.TrimSpace(extractCode))
		if subtle.ConstantTimeCompare([]byte(given), []byte(link.ExtractCode)) != 1 {
			return denyAccess(ShareReasonExtractCodeMismatch)
		}
	}

	ok, err := s.store.IncrementAccess(ctx, link.ID, link.ShareCode, now)
	if err != nil {
		s.logger.Error("更新分享访问次数失败", zap.String("share_code", shareCode), zap.Error(err))
		return denyAccess(ShareReasonInternal)
	}
	if !ok {
		// 并发访问下状态已变化，重新读取以给出准确原因
		latest, err := s.store.FindByCode(ctx, shareCode)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return denyAccess(ShareReasonNotFound)
			}
			return denyAccess(ShareReasonInternal)
		}
		if reason, ok := checkShareLink(latest, now); !ok {
			return denyAccess(reason)
		}
		return denyAccess(ShareReasonLimitReached)
	}

	return &ShareAccessResult{
		Success:     true,
		OrderID:     link.PurchaseOrderID,
		ShareCode:   link.ShareCode,
		AccessCount: link.AccessCount + 1,
	}
}

func checkShareLink(link *entity.ShareLink, now time.Time) (ShareAccessReason, bool) {
	switch {
	case link.Status != entity.ShareLinkStatusActive:
		return ShareReasonDisabled, false
	case link.IsExpired(now):
		return ShareReasonExpired, false
	case link.LimitReached():
		return ShareReasonLimitReached, false
	}
	return "", true
}

// DisableShareLink 作废分享链接。已作废或不存在时返回 false
func (s *ShareService) DisableShareLink(ctx context.Context, orderID, operatorID string) (bool, error) {
	changed, err := s.store.Disable(ctx, orderID)
	if err != nil {
		s.logger.Error("作废分享链接失败", zap.String("order_id", orderID), zap.Error(err))
		return false, fmt.Errorf("%w: %v", ErrShareOperationFailed, err)
	}
	if changed {
		s.activity.Record(ctx, orderActivity(nil, orderID, ActionShareDisable,
			string(entity.ShareLinkStatusActive), string(entity.ShareLinkStatusDisabled), "作废供货分享链接", operatorID))
	}
	return changed, nil
}

// GenerateShareText 生成便于复制转发的分享文案
func GenerateShareText(info *ShareLinkInfo, orderNumber string) string {
	var b strings.Builder
	if orderNumber != "" {
		fmt.Fprintf(&b, "采购单 %s 供货链接：\n", orderNumber)
	} else {
		b.WriteString("采购单供货链接：\n")
	}
	b.WriteString(info.ShareURL)
	b.WriteString("\n")
	if info.ExtractCode != "" {
		fmt.Fprintf(&b, "提取码：%s\n", info.ExtractCode)
	}
	fmt.Fprintf(&b, "有效期至：%s", info.ExpiresAt.Format("2006-01-02 15:04"))
	if info.AccessLimit != nil {
		fmt.Fprintf(&b, "\n可访问次数：%d", *info.AccessLimit)
	}
	return b.String()
}

// NewShareCode 生成不可猜测的分享码
func NewShareCode() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// GenerateExtractCode 生成指定长度的随机提取码
func GenerateExtractCode(length int) (string, error) {
	max := big.NewInt(int64(len(extractCodeAlphabet)))
	code := make([]byte, length)
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		code[i] = extractCodeAlphabet[n.Int64()]
	}
	return string(code), nil
}
