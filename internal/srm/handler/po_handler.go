package handler

import (
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-wms/internal/srm/repository"
	"github.com/bitfantasy/nimo-wms/internal/srm/service"
	"github.com/gin-gonic/gin"
)

// POHandler 采购订单处理器
type POHandler struct {
	svc    *service.ProcurementService
	supply *service.SupplyService
}

func NewPOHandler(svc *service.ProcurementService, supply *service.SupplyService) *POHandler {
	return &POHandler{svc: svc, supply: supply}
}

// parseTimeQuery 支持 RFC3339 和 2006-01-02；endOfDay 为 true 时日期取当天结束
func parseTimeQuery(c *gin.Context, key string, endOfDay bool) (*time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", raw, time.Local)
	if err != nil {
		return nil, fmt.Errorf("%s 时间格式错误", key)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

// ParsePOFilter 从查询参数构造筛选条件
func ParsePOFilter(c *gin.Context) (*repository.POFilter, error) {
	filter := &repository.POFilter{
		ShopID:      c.Query("shop_id"),
		SupplierID:  c.Query("supplier_id"),
		Status:      c.Query("status"),
		OperatorID:  c.Query("operator_id"),
		OrderNumber: c.Query("order_number"),
	}
	var err error
	if filter.CreatedAtStart, err = parseTimeQuery(c, "created_at_start", false); err != nil {
		return nil, err
	}
	if filter.CreatedAtEnd, err = parseTimeQuery(c, "created_at_end", true); err != nil {
		return nil, err
	}
	if filter.UpdatedAtStart, err = parseTimeQuery(c, "updated_at_start", false); err != nil {
		return nil, err
	}
	if filter.UpdatedAtEnd, err = parseTimeQuery(c, "updated_at_end", true); err != nil {
		return nil, err
	}
	return filter, nil
}

// ListPOs 采购订单列表，附带筛选范围内的供货统计
// GET /api/v1/srm/purchase-orders?shop_id=xxx&supplier_id=xxx&status=xxx&operator_id=xxx&order_number=xxx&created_at_start=xxx&created_at_end=xxx
func (h *POHandler) ListPOs(c *gin.Context) {
	page, pageSize := GetPagination(c)
	filter, err := ParsePOFilter(c)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}

	result, err := h.svc.ListPOs(c.Request.Context(), page, pageSize, filter)
	if err != nil {
		respondServiceError(c, err, "获取采购订单列表失败: "+err.Error())
		return
	}

	totalPages := int(result.Total) / pageSize
	if int(result.Total)%pageSize > 0 {
		totalPages++
	}

	Success(c, gin.H{
		"items": result.Items,
		"pagination": &Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      int(result.Total),
			TotalPages: totalPages,
		},
		"statistics": result.Statistics,
	})
}

// GetPO 采购订单详情
// GET /api/v1/srm/purchase-orders/:id
func (h *POHandler) GetPO(c *gin.Context) {
	po, err := h.svc.GetPO(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err, "获取采购订单失败: "+err.Error())
		return
	}
	Success(c, po)
}

// CreatePO 创建采购订单
// POST /api/v1/srm/purchase-orders
func (h *POHandler) CreatePO(c *gin.Context) {
	var req service.CreatePORequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}

	po, err := h.svc.CreatePO(c.Request.Context(), GetUserID(c), &req)
	if err != nil {
		respondServiceError(c, err, "创建采购订单失败: "+err.Error())
		return
	}

	Created(c, po)
}

// UpdateStatus 变更采购订单状态
// PUT /api/v1/srm/purchase-orders/:id/status
func (h *POHandler) UpdateStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}

	po, err := h.svc.UpdatePOStatus(c.Request.Context(), c.Param("id"), req.Status, GetUserID(c))
	if err != nil {
		respondServiceError(c, err, "更新采购订单状态失败: "+err.Error())
		return
	}
	Success(c, po)
}

// ListActivities 采购单操作时间线
// GET /api/v1/srm/purchase-orders/:id/activities
func (h *POHandler) ListActivities(c *gin.Context) {
	page, pageSize := GetPagination(c)
	result, err := h.svc.ListActivities(c.Request.Context(), c.Param("id"), page, pageSize)
	if err != nil {
		respondServiceError(c, err, "获取操作日志失败")
		return
	}
	Success(c, ListResponse{
		Items: result.Items,
		Pagination: &Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      int(result.Total),
			TotalPages: (int(result.Total) + pageSize - 1) / pageSize,
		},
	})
}

// AvailableProducts 刷新可供货商品
// GET /api/v1/srm/purchase-orders/:id/available-products
func (h *POHandler) AvailableProducts(c *gin.Context) {
	products, err := h.supply.AvailableProducts(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err, "获取可供货商品失败: "+err.Error())
		return
	}
	Success(c, gin.H{"items": products})
}

// ValidateSupplyRequest 内部供货校验请求
type ValidateSupplyRequest struct {
	Items           []service.SupplyItemInput `json:"items" binding:"required"`
	ExcludeRecordID string                    `json:"exclude_record_id"`
}

// ValidateSupply 校验供货数量（可排除某条记录，用于编辑替换）
// POST /api/v1/srm/purchase-orders/:id/supply-validation
func (h *POHandler) ValidateSupply(c *gin.Context) {
	var req ValidateSupplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.supply.Validator().Validate(c.Request.Context(), c.Param("id"), req.Items, req.ExcludeRecordID)
	if err != nil {
		respondServiceError(c, err, "供货校验失败: "+err.Error())
		return
	}
	Success(c, result)
}
