package handler

import (
	"github.com/bitfantasy/nimo-wms/internal/srm/service"
	"github.com/gin-gonic/gin"
)

// 分享校验失败原因对应的错误码
var shareReasonCodes = map[service.ShareAccessReason]int{
	service.ShareReasonNotFound:            CodeShareNotFound,
	service.ShareReasonDisabled:            CodeShareDisabled,
	service.ShareReasonExpired:             CodeShareExpired,
	service.ShareReasonLimitReached:        CodeShareLimitReached,
	service.ShareReasonExtractCodeMismatch: CodeExtractCodeMismatch,
	service.ShareReasonInternal:            CodeShareInternal,
}

// publicErrorMessage 外部调用方只看到通用提示
const publicErrorMessage = "系统繁忙，请稍后重试"

// SupplyHandler 外部供应商供货处理器（无需登录）
type SupplyHandler struct {
	svc *service.SupplyService
}

func NewSupplyHandler(svc *service.SupplyService) *SupplyHandler {
	return &SupplyHandler{svc: svc}
}

func respondAccessDenied(c *gin.Context, access *service.ShareAccessResult) {
	code, ok := shareReasonCodes[access.Reason]
	if !ok {
		code = CodeShareInternal
	}
	ErrorWithData(c, code, access.Message, gin.H{"reason": access.Reason})
}

func extractCodeFromQuery(c *gin.Context) string {
	if code := c.Query("extract_code"); code != "" {
		return code
	}
	return c.Query("extractCode")
}

// GetSupplyOrder 通过分享链接查看采购单及可供货数量
// GET /api/v1/public/supply/:shareCode?extract_code=xxx
func (h *SupplyHandler) GetSupplyOrder(c *gin.Context) {
	view, access, err := h.svc.GetSupplyOrder(c.Request.Context(), c.Param("shareCode"), extractCodeFromQuery(c))
	if err != nil {
		respondServiceError(c, err, publicErrorMessage)
		return
	}
	if !access.Success {
		respondAccessDenied(c, access)
		return
	}
	Success(c, view)
}

// SubmitSupply 提交供货
// POST /api/v1/public/supply/:shareCode
func (h *SupplyHandler) SubmitSupply(c *gin.Context) {
	var req service.SubmitSupplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	if req.ExtractCode == "" {
		req.ExtractCode = extractCodeFromQuery(c)
	}

	result, err := h.svc.SubmitSupply(c.Request.Context(), c.Param("shareCode"), &req)
	if err != nil {
		respondServiceError(c, err, publicErrorMessage)
		return
	}

	switch {
	case result.Access != nil:
		respondAccessDenied(c, result.Access)
	case result.Conflict:
		ErrorWithData(c, CodeSupplyConflict, "供货数量已被其他提交占用，请刷新后重试", result.Validation)
	case result.Validation != nil:
		ErrorWithData(c, CodeSupplyInvalid, "供货数量校验未通过", result.Validation)
	default:
		Created(c, result)
	}
}
