package handler

import (
	"errors"
	"io"

	"github.com/bitfantasy/nimo-wms/internal/srm/service"
	"github.com/gin-gonic/gin"
)

// ShareHandler 采购单分享链接处理器
type ShareHandler struct {
	svc *service.ShareService
	po  *service.ProcurementService
}

func NewShareHandler(svc *service.ShareService, po *service.ProcurementService) *ShareHandler {
	return &ShareHandler{svc: svc, po: po}
}

func respondShareError(c *gin.Context, err error) {
	if errors.Is(err, service.ErrShareOperationFailed) {
		InternalError(c, service.ErrShareOperationFailed.Error())
		return
	}
	respondServiceError(c, err, service.ErrShareOperationFailed.Error())
}

// GenerateShareLink 生成分享链接，已有可用链接时原样返回
// POST /api/v1/srm/purchase-orders/:id/share
func (h *ShareHandler) GenerateShareLink(c *gin.Context) {
	var opts service.ShareOptions
	// 允许空请求体，全部使用默认值
	if err := c.ShouldBindJSON(&opts); err != nil && !errors.Is(err, io.EOF) {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}

	info, err := h.svc.GenerateShareLink(c.Request.Context(), c.Param("id"), opts, GetUserID(c))
	if err != nil {
		respondShareError(c, err)
		return
	}
	Success(c, info)
}

// GetShareLink 当前分享链接
// GET /api/v1/srm/purchase-orders/:id/share
func (h *ShareHandler) GetShareLink(c *gin.Context) {
	info, err := h.svc.GetShareLink(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondShareError(c, err)
		return
	}
	Success(c, info)
}

// DisableShareLink 作废分享链接，重复作废返回 changed=false
// DELETE /api/v1/srm/purchase-orders/:id/share
func (h *ShareHandler) DisableShareLink(c *gin.Context) {
	changed, err := h.svc.DisableShareLink(c.Request.Context(), c.Param("id"), GetUserID(c))
	if err != nil {
		respondShareError(c, err)
		return
	}
	Success(c, gin.H{"changed": changed})
}

// GetShareText 分享文案
// GET /api/v1/srm/purchase-orders/:id/share/text
func (h *ShareHandler) GetShareText(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	po, err := h.po.GetPO(ctx, id)
	if err != nil {
		respondServiceError(c, err, "获取采购订单失败")
		return
	}
	info, err := h.svc.GetShareLink(ctx, id)
	if err != nil {
		respondShareError(c, err)
		return
	}
	Success(c, gin.H{
		"text":  service.GenerateShareText(info, po.OrderNumber),
		"share": info,
	})
}
