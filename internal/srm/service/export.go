package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/bitfantasy/nimo-wms/internal/srm/entity"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

var supplyExportHeaders = []string{
	"供货记录", "状态", "商品ID", "商品编码", "商品名称", "供货数量", "单价", "小计", "备注", "提交时间",
}

var supplyStatusLabels = map[entity.SupplyRecordStatus]string{
	entity.SupplyRecordStatusActive:   "生效",
	entity.SupplyRecordStatusDisabled: "已作废",
}

type supplyExportRow struct {
	RecordID    string
	Status      string
	ProductID   string
	ProductCode string
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
	TotalPrice  decimal.Decimal
	Remark      string
	CreatedAt   time.Time
}

func buildSupplyExportRows(po *entity.PurchaseOrder, records []entity.SupplyRecord) []supplyExportRow {
	products := make(map[string]entity.POItem, len(po.Items))
	for _, item := range po.Items {
		if _, ok := products[item.ProductID]; !ok {
			products[item.ProductID] = item
		}
	}

	var rows []supplyExportRow
	for _, record := range records {
		for _, item := range record.Items {
			product := products[item.ProductID]
			rows = append(rows, supplyExportRow{
				RecordID:    record.ID,
				Status:      supplyStatusLabels[record.Status],
				ProductID:   item.ProductID,
				ProductCode: product.ProductCode,
				ProductName: product.ProductName,
				Quantity:    item.Quantity,
				UnitPrice:   item.UnitPrice,
				TotalPrice:  item.TotalPrice,
				Remark:      item.Remark,
				CreatedAt:   record.CreatedAt,
			})
		}
	}
	return rows
}

func (s *SupplyService) exportData(ctx context.Context, orderID string) (*entity.PurchaseOrder, []supplyExportRow, error) {
	po, err := s.ledger.Order(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	records, err := s.records.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, nil, fmt.Errorf("查询供货记录失败: %w", err)
	}
	return po, buildSupplyExportRows(po, records), nil
}

// ExportSupplyRecords 导出采购单供货记录为xlsx
func (s *SupplyService) ExportSupplyRecords(ctx context.Context, orderID string) (*excelize.File, string, error) {
	po, rows, err := s.exportData(ctx, orderID)
	if err != nil {
		return nil, "", err
	}

	f := excelize.NewFile()
	sheet := "供货记录"
	f.SetSheetName("Sheet1", sheet)

	boldStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})

	for i, h := range supplyExportHeaders {
		col, _ := excelize.ColumnNumberToName(i + 1)
		cell := col + "1"
		f.SetCellValue(sheet, cell, h)
		f.SetCellStyle(sheet, cell, cell, boldStyle)
	}

	activeTotal := decimal.Zero
	for i, r := range rows {
		row := i + 2
		f.SetCellValue(sheet, fmt.Sprintf("A%d", row), r.RecordID)
		f.SetCellValue(sheet, fmt.Sprintf("B%d", row), r.Status)
		f.SetCellValue(sheet, fmt.Sprintf("C%d", row), r.ProductID)
		f.SetCellValue(sheet, fmt.Sprintf("D%d", row), r.ProductCode)
		f.SetCellValue(sheet, fmt.Sprintf("E%d", row), r.ProductName)
		f.SetCellValue(sheet, fmt.Sprintf("F%d", row), r.Quantity)
		f.SetCellValue(sheet, fmt.Sprintf("G%d", row), r.UnitPrice.InexactFloat64())
		f.SetCellValue(sheet, fmt.Sprintf("H%d", row), r.TotalPrice.InexactFloat64())
		f.SetCellValue(sheet, fmt.Sprintf("I%d", row), r.Remark)
		f.SetCellValue(sheet, fmt.Sprintf("J%d", row), r.CreatedAt.Format("2006-01-02 15:04:05"))
		if r.Status == supplyStatusLabels[entity.SupplyRecordStatusActive] {
			activeTotal = activeTotal.Add(r.TotalPrice)
		}
	}

	// 汇总行只计生效记录
	summaryRow := len(rows) + 2
	summaryStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
	})
	f.SetCellValue(sheet, fmt.Sprintf("A%d", summaryRow), "生效合计")
	f.SetCellValue(sheet, fmt.Sprintf("H%d", summaryRow), activeTotal.InexactFloat64())
	f.SetCellStyle(sheet, fmt.Sprintf("A%d", summaryRow), fmt.Sprintf("J%d", summaryRow), summaryStyle)

	colWidths := []float64{34, 8, 34, 14, 24, 10, 10, 12, 24, 20}
	for i, w := range colWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheet, col, col, w)
	}

	return f, fmt.Sprintf("供货记录_%s.xlsx", po.OrderNumber), nil
}

// ExportSupplyRecordsCSV 导出为GBK编码的CSV，兼容旧版表格软件
func (s *SupplyService) ExportSupplyRecordsCSV(ctx context.Context, orderID string, w io.Writer) (string, error) {
	po, rows, err := s.exportData(ctx, orderID)
	if err != nil {
		return "", err
	}
	filename := fmt.Sprintf("供货记录_%s.csv", po.OrderNumber)
	return filename, writeSupplyCSV(w, rows)
}

func writeSupplyCSV(w io.Writer, rows []supplyExportRow) error {
	gbk := transform.NewWriter(w, simplifiedchinese.GBK.NewEncoder())
	cw := csv.NewWriter(gbk)
	if err := cw.Write(supplyExportHeaders); err != nil {
		return err
	}
	for _, r := range rows {
		record := []string{
			r.RecordID,
			r.Status,
			r.ProductID,
			r.ProductCode,
			r.ProductName,
			fmt.Sprintf("%d", r.Quantity),
			r.UnitPrice.String(),
			r.TotalPrice.StringFixed(2),
			r.Remark,
			r.CreatedAt.Format("2006-01-02 15:04:05"),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return gbk.Close()
}

// 导出格式
const (
	ExportFormatXLSX = "xlsx"
	ExportFormatCSV  = "csv"
)

var exportContentTypes = map[string]string{
	ExportFormatXLSX: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	ExportFormatCSV:  "text/csv; charset=GBK",
}

// ExportArchive 导出文件归档到对象存储，返回限时下载地址
type ExportArchive interface {
	Put(ctx context.Context, object string, data []byte, contentType string) (string, error)
}

// ArchivedExport 已归档的导出文件
type ArchivedExport struct {
	Object   string `json:"object"`
	Filename string `json:"filename"`
	Size     int    `json:"size"`
	URL      string `json:"url"`
}

// ArchiveSupplyExport 生成导出文件并归档，供转发给财务或仓库
func (s *SupplyService) ArchiveSupplyExport(ctx context.Context, orderID, format string) (*ArchivedExport, error) {
	if s.archive == nil {
		return nil, ErrArchiveNotConfigured
	}
	contentType, ok := exportContentTypes[format]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidExportFormat, format)
	}

	var (
		buf      bytes.Buffer
		filename string
		err      error
	)
	switch format {
	case ExportFormatCSV:
		filename, err = s.ExportSupplyRecordsCSV(ctx, orderID, &buf)
	default:
		var f *excelize.File
		f, filename, err = s.ExportSupplyRecords(ctx, orderID)
		if err == nil {
			_, err = f.WriteTo(&buf)
			f.Close()
		}
	}
	if err != nil {
		return nil, err
	}

	object := path.Join("supply-exports", orderID, s.now().Format("2006/01/02"),
		uuid.New().String()[:8]+"."+format)
	url, err := s.archive.Put(ctx, object, buf.Bytes(), contentType)
	if err != nil {
		s.logger.Error("归档导出文件失败", zap.String("order_id", orderID), zap.String("object", object), zap.Error(err))
		return nil, fmt.Errorf("归档导出文件失败: %w", err)
	}
	return &ArchivedExport{Object: object, Filename: filename, Size: buf.Len(), URL: url}, nil
}
