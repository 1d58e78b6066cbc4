package handler

import (
	"errors"
	"strconv"

	"github.com/bitfantasy/nimo-wms/internal/middleware"
	"github.com/bitfantasy/nimo-wms/internal/shared/sse"
	"github.com/bitfantasy/nimo-wms/internal/srm/service"
	"github.com/gin-gonic/gin"
)

// Handlers SRM处理器集合
type Handlers struct {
	PO           *POHandler
	Share        *ShareHandler
	Supply       *SupplyHandler
	SupplyRecord *SupplyRecordHandler
	Event        *EventHandler
}

// NewHandlers 创建SRM处理器集合
func NewHandlers(
	procurementSvc *service.ProcurementService,
	shareSvc *service.ShareService,
	supplySvc *service.SupplyService,
	hub *sse.Hub,
) *Handlers {
	return &Handlers{
		PO:           NewPOHandler(procurementSvc, supplySvc),
		Share:        NewShareHandler(shareSvc, procurementSvc),
		Supply:       NewSupplyHandler(supplySvc),
		SupplyRecord: NewSupplyRecordHandler(supplySvc),
		Event:        NewEventHandler(hub),
	}
}

// 权限点
const (
	PermShareManage   = "srm:share:manage"
	PermSupplyDisable = "srm:supply:disable"
)

// RegisterRoutes 注册路由。auth 需要登录，public 供外部供应商通过分享链接访问
func (h *Handlers) RegisterRoutes(auth *gin.RouterGroup, public *gin.RouterGroup) {
	pos := auth.Group("/purchase-orders")
	{
		pos.GET("", h.PO.ListPOs)
		pos.POST("", h.PO.CreatePO)
		pos.GET("/:id", h.PO.GetPO)
		pos.PUT("/:id/status", h.PO.UpdateStatus)
		pos.GET("/:id/activities", h.PO.ListActivities)
		pos.GET("/:id/available-products", h.PO.AvailableProducts)
		pos.POST("/:id/supply-validation", h.PO.ValidateSupply)

		pos.POST("/:id/share", middleware.RequirePermission(PermShareManage), h.Share.GenerateShareLink)
		pos.GET("/:id/share", h.Share.GetShareLink)
		pos.DELETE("/:id/share", middleware.RequirePermission(PermShareManage), h.Share.DisableShareLink)
		pos.GET("/:id/share/text", h.Share.GetShareText)

		pos.GET("/:id/supply-records", h.SupplyRecord.ListSupplyRecords)
		pos.GET("/:id/supply-records/export", h.SupplyRecord.ExportSupplyRecords)
		pos.POST("/:id/supply-records/export/archive", h.SupplyRecord.ArchiveSupplyRecords)
	}
	auth.PUT("/supply-records/:id/disable", middleware.RequirePermission(PermSupplyDisable), h.SupplyRecord.DisableSupplyRecord)
	auth.GET("/events", h.Event.Stream)

	supply := public.Group("/supply", middleware.PublicShareGuard())
	{
		supply.GET("/:shareCode", h.Supply.GetSupplyOrder)
		supply.POST("/:shareCode", h.Supply.SubmitSupply)
	}
}

// === 响应辅助函数 ===

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type ListResponse struct {
	Items      interface{} `json:"items"`
	Pagination *Pagination `json:"pagination"`
}

type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// 业务错误码，HTTP 状态码 = code / 100
const (
	CodeBadRequest          = 40000
	CodeExtractCodeMismatch = 40110
	CodeForbidden           = 40300
	CodeShareDisabled       = 40310
	CodeShareLimitReached   = 40311
	CodeNotFound            = 40400
	CodeShareNotFound       = 40410
	CodeSupplyConflict      = 40900
	CodeOrderNotSupplyable  = 40910
	CodeShareExpired        = 41010
	CodeSupplyInvalid       = 42201
	CodeInternal            = 50000
	CodeShareInternal       = 50010
	CodeArchiveUnavailable  = 50300
)

func Success(c *gin.Context, data interface{}) {
	c.JSON(200, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(201, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	ErrorWithData(c, code, message, nil)
}

// ErrorWithData 错误响应附带结构化数据（逐行校验错误等）
func ErrorWithData(c *gin.Context, code int, message string, data interface{}) {
	statusCode := code / 100
	if statusCode < 100 || statusCode > 599 {
		statusCode = 500
	}
	c.JSON(statusCode, Response{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

func BadRequest(c *gin.Context, message string) {
	Error(c, CodeBadRequest, message)
}

func NotFound(c *gin.Context, message string) {
	Error(c, CodeNotFound, message)
}

func InternalError(c *gin.Context, message string) {
	Error(c, CodeInternal, message)
}

// respondServiceError 业务错误映射为对应状态码，其余按 fallback 返回 500
func respondServiceError(c *gin.Context, err error, fallback string) {
	var statsErr *service.StatisticsError
	switch {
	case errors.Is(err, service.ErrOrderNotFound),
		errors.Is(err, service.ErrSupplyRecordNotFound),
		errors.Is(err, service.ErrShareLinkNotFound):
		NotFound(c, err.Error())
	case errors.Is(err, service.ErrOrderNotSupplyable):
		Error(c, CodeOrderNotSupplyable, err.Error())
	case errors.Is(err, service.ErrInvalidShareOptions),
		errors.Is(err, service.ErrInvalidPO),
		errors.Is(err, service.ErrInvalidPOTransition),
		errors.Is(err, service.ErrEmptySupplyItems),
		errors.Is(err, service.ErrInvalidExportFormat):
		BadRequest(c, err.Error())
	case errors.Is(err, service.ErrArchiveNotConfigured):
		Error(c, CodeArchiveUnavailable, err.Error())
	case errors.As(err, &statsErr) && statsErr.Kind == service.StatisticsErrInvalidFilters:
		BadRequest(c, statsErr.Message)
	default:
		InternalError(c, fallback)
	}
}

func GetUserID(c *gin.Context) string {
	userID, _ := c.Get("user_id")
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}

func GetPagination(c *gin.Context) (page, pageSize int) {
	page = 1
	pageSize = 20

	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}

	if ps := c.Query("page_size"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= 100 {
			pageSize = v
		}
	}

	return page, pageSize
}
