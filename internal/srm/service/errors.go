package service

import "errors"

var (
	ErrOrderNotFound        = errors.New("采购单不存在")
	ErrOrderNotSupplyable   = errors.New("采购单当前状态不允许供货")
	ErrInvalidPOTransition  = errors.New("采购单状态流转不合法")
	ErrInvalidPO            = errors.New("采购单参数不合法")
	ErrSupplyRecordNotFound = errors.New("供货记录不存在")
	ErrShareLinkNotFound    = errors.New("分享链接不存在")
	ErrInvalidShareOptions  = errors.New("分享参数不合法")
	ErrShareOperationFailed = errors.New("分享操作失败")
	ErrEmptySupplyItems     = errors.New("供货明细不能为空")
	ErrArchiveNotConfigured = errors.New("未配置导出归档存储")
	ErrInvalidExportFormat  = errors.New("导出格式不支持")
)
