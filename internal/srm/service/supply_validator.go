package service

import (
	"context"
	"fmt"
	"math"

	"github.com/bitfantasy/nimo-wms/internal/srm/entity"
	"github.com/shopspring/decimal"
)

// SupplyItemInput 供货明细
type SupplyItemInput struct {
	ProductID string          `json:"product_id" binding:"required"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Remark    string          `json:"remark"`
}

// 明细校验错误码
const (
	SupplyErrProductNotInOrder = "product_not_in_order"
	SupplyErrQuantityExceeded  = "quantity_exceeded"
	SupplyErrInvalidQuantity   = "invalid_quantity"
	SupplyErrInvalidPrice      = "invalid_unit_price"
)

// SupplyItemError 单行校验错误，带上数量便于前端逐行提示
type SupplyItemError struct {
	Index             int    `json:"index"`
	ProductID         string `json:"product_id"`
	Code              string `json:"code"`
	Message           string `json:"message"`
	PurchasedQuantity int    `json:"purchased_quantity"`
	SuppliedQuantity  int    `json:"supplied_quantity"`
	AvailableQuantity int    `json:"available_quantity"`
	RequestedQuantity int    `json:"requested_quantity"`
}

// ValidationResult 校验结果
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []SupplyItemError `json:"errors"`
}

// CheckSupplyItems 对照采购单与已供货快照校验明细，收集全部错误。
// 同一商品出现多行时按累计数量判断
func CheckSupplyItems(po *entity.PurchaseOrder, supplied map[string]int, items []SupplyItemInput) *ValidationResult {
	result := &ValidationResult{Errors: []SupplyItemError{}}
	requested := make(map[string]int, len(items))

	for i, item := range items {
		if item.Quantity <= 0 {
			result.Errors = append(result.Errors, SupplyItemError{
				Index:             i,
				ProductID:         item.ProductID,
				Code:              SupplyErrInvalidQuantity,
				Message:           "供货数量必须大于0",
				RequestedQuantity: item.Quantity,
			})
			continue
		}
		if item.UnitPrice.IsNegative() {
			result.Errors = append(result.Errors, SupplyItemError{
				Index:             i,
				ProductID:         item.ProductID,
				Code:              SupplyErrInvalidPrice,
				Message:           "单价不能为负数",
				RequestedQuantity: item.Quantity,
			})
			continue
		}
		if !po.HasProduct(item.ProductID) {
			result.Errors = append(result.Errors, SupplyItemError{
				Index:             i,
				ProductID:         item.ProductID,
				Code:              SupplyErrProductNotInOrder,
				Message:           "该商品不在此采购单中",
				RequestedQuantity: item.Quantity,
			})
			continue
		}

		purchased := po.PurchasedQuantity(item.ProductID)
		already := supplied[item.ProductID]
		requested[item.ProductID] = addQuantity(requested[item.ProductID], item.Quantity)
		available := AvailableQuantity(purchased, already)
		if item.Quantity > purchased || requested[item.ProductID] > available {
			result.Errors = append(result.Errors, SupplyItemError{
				Index:             i,
				ProductID:         item.ProductID,
				Code:              SupplyErrQuantityExceeded,
				Message:           fmt.Sprintf("供货数量超出可供数量：采购 %d，已供 %d，本次 %d", purchased, already, requested[item.ProductID]),
				PurchasedQuantity: purchased,
				SuppliedQuantity:  already,
				AvailableQuantity: available,
				RequestedQuantity: requested[item.ProductID],
			})
		}
	}

	result.Valid = len(result.Errors) == 0
	return result
}

// addQuantity 累加非负数量，溢出时取 math.MaxInt
func addQuantity(a, b int) int {
	if b > math.MaxInt-a {
		return math.MaxInt
	}
	return a + b
}

// SupplyValidator 供货数量校验
type SupplyValidator struct {
	ledger *QuantityLedger
}

func NewSupplyValidator(ledger *QuantityLedger) *SupplyValidator {
	return &SupplyValidator{ledger: ledger}
}

// Validate 普通校验，可读缓存快照；用于内部编辑等单写入方场景
func (v *SupplyValidator) Validate(ctx context.Context, orderID string, items []SupplyItemInput, excludeRecordID string) (*ValidationResult, error) {
	return v.validate(ctx, orderID, items, excludeRecordID, false)
}

// ValidateRealtime 实时校验，调用时直接查库，外部供货提交使用
func (v *SupplyValidator) ValidateRealtime(ctx context.Context, orderID string, items []SupplyItemInput, excludeRecordID string) (*ValidationResult, error) {
	return v.validate(ctx, orderID, items, excludeRecordID, true)
}

func (v *SupplyValidator) validate(ctx context.Context, orderID string, items []SupplyItemInput, excludeRecordID string, realtime bool) (*ValidationResult, error) {
	po, err := v.ledger.Order(ctx, orderID)
	if err != nil {
		return nil, err
	}
	supplied, err := v.ledger.suppliedSnapshot(ctx, orderID, excludeRecordID, realtime)
	if err != nil {
		return nil, err
	}
	return CheckSupplyItems(po, supplied, items), nil
}
