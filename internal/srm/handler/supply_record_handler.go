package handler

import (
	"bytes"
	"net/url"

	"github.com/bitfantasy/nimo-wms/internal/srm/service"
	"github.com/gin-gonic/gin"
)

// SupplyRecordHandler 供货记录处理器（内部）
type SupplyRecordHandler struct {
	svc *service.SupplyService
}

func NewSupplyRecordHandler(svc *service.SupplyService) *SupplyRecordHandler {
	return &SupplyRecordHandler{svc: svc}
}

// ListSupplyRecords 采购单供货统计与记录
// GET /api/v1/srm/purchase-orders/:id/supply-records
func (h *SupplyRecordHandler) ListSupplyRecords(c *gin.Context) {
	list, err := h.svc.ListSupplyRecords(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err, "获取供货记录失败: "+err.Error())
		return
	}
	Success(c, list)
}

// DisableSupplyRecord 作废供货记录
// PUT /api/v1/srm/supply-records/:id/disable
func (h *SupplyRecordHandler) DisableSupplyRecord(c *gin.Context) {
	result, err := h.svc.DisableSupplyRecord(c.Request.Context(), c.Param("id"), GetUserID(c))
	if err != nil {
		respondServiceError(c, err, "作废供货记录失败: "+err.Error())
		return
	}
	if !result.Changed {
		ErrorWithData(c, CodeBadRequest, "供货记录已作废", result)
		return
	}
	Success(c, result)
}

// ExportSupplyRecords 导出供货记录
// GET /api/v1/srm/purchase-orders/:id/supply-records/export?format=xlsx|csv
func (h *SupplyRecordHandler) ExportSupplyRecords(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	if c.DefaultQuery("format", "xlsx") == "csv" {
		var buf bytes.Buffer
		filename, err := h.svc.ExportSupplyRecordsCSV(ctx, id, &buf)
		if err != nil {
			respondServiceError(c, err, "导出供货记录失败: "+err.Error())
			return
		}
		c.Header("Content-Disposition", "attachment; filename*=UTF-8''"+url.PathEscape(filename))
		c.Data(200, "text/csv; charset=GBK", buf.Bytes())
		return
	}

	f, filename, err := h.svc.ExportSupplyRecords(ctx, id)
	if err != nil {
		respondServiceError(c, err, "导出供货记录失败: "+err.Error())
		return
	}
	defer f.Close()

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", "attachment; filename*=UTF-8''"+url.PathEscape(filename))
	c.Header("Content-Transfer-Encoding", "binary")

	if err := f.Write(c.Writer); err != nil {
		InternalError(c, "write excel: "+err.Error())
	}
}

// ArchiveSupplyRecords 导出并归档到对象存储，返回下载地址
// POST /api/v1/srm/purchase-orders/:id/supply-records/export/archive?format=xlsx|csv
func (h *SupplyRecordHandler) ArchiveSupplyRecords(c *gin.Context) {
	archived, err := h.svc.ArchiveSupplyExport(c.Request.Context(), c.Param("id"), c.DefaultQuery("format", service.ExportFormatXLSX))
	if err != nil {
		respondServiceError(c, err, "归档供货记录失败")
		return
	}
	Created(c, archived)
}
