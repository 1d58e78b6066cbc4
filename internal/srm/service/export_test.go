package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"strings"
	"testing"

	"github.com/bitfantasy/nimo-wms/internal/srm/entity"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

func seedExport(t *testing.T) *supplyEnv {
	t.Helper()
	env := setupSupply(t, entity.POItem{ID: "i1", ProductID: "A", ProductCode: "SKU-A", ProductName: "蓝牙耳机", Quantity: 100})
	first := env.submit(t, SupplyItemInput{ProductID: "A", Quantity: 10, UnitPrice: decimal.RequireFromString("12.5"), Remark: "首批"})
	env.submit(t, SupplyItemInput{ProductID: "A", Quantity: 4, UnitPrice: decimal.RequireFromString("12.5")})
	if _, err := env.svc.DisableSupplyRecord(context.Background(), first.RecordID, "u1"); err != nil {
		t.Fatalf("DisableSupplyRecord: %v", err)
	}
	return env
}

// TestExportSupplyRecordsCSV 导出的CSV为GBK编码
func TestExportSupplyRecordsCSV(t *testing.T) {
	env := seedExport(t)

	var buf bytes.Buffer
	filename, err := env.svc.ExportSupplyRecordsCSV(context.Background(), "o1", &buf)
	if err != nil {
		t.Fatalf("ExportSupplyRecordsCSV: %v", err)
	}
	if filename != "供货记录_PO-2026-O1.csv" {
		t.Fatalf("unexpected filename %s", filename)
	}
	if bytes.Contains(buf.Bytes(), []byte("蓝牙耳机")) {
		t.Fatal("expected GBK bytes, found UTF-8 text")
	}

	decoded := transform.NewReader(&buf, simplifiedchinese.GBK.NewDecoder())
	rows, err := csv.NewReader(decoded).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	if strings.Join(rows[0], ",") != strings.Join(supplyExportHeaders, ",") {
		t.Fatalf("unexpected header %v", rows[0])
	}
	if rows[1][1] != "已作废" || rows[1][4] != "蓝牙耳机" || rows[1][7] != "125.00" || rows[1][8] != "首批" {
		t.Fatalf("unexpected first row %v", rows[1])
	}
	if rows[2][1] != "生效" || rows[2][3] != "SKU-A" || rows[2][5] != "4" {
		t.Fatalf("unexpected second row %v", rows[2])
	}
}

func TestExportSupplyRecordsXLSX(t *testing.T) {
	env := seedExport(t)

	f, filename, err := env.svc.ExportSupplyRecords(context.Background(), "o1")
	if err != nil {
		t.Fatalf("ExportSupplyRecords: %v", err)
	}
	defer f.Close()
	if filename != "供货记录_PO-2026-O1.xlsx" {
		t.Fatalf("unexpected filename %s", filename)
	}

	rows, err := f.GetRows("供货记录")
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected header + 2 rows + summary, got %d", len(rows))
	}
	if rows[0][0] != "供货记录" || rows[1][4] != "蓝牙耳机" {
		t.Fatalf("unexpected content %v", rows[:2])
	}
	// 合计只含生效记录 4 * 12.5
	summary, _ := f.GetCellValue("供货记录", "H4")
	if rows[3][0] != "生效合计" || summary != "50" {
		t.Fatalf("unexpected summary row %v (H4=%s)", rows[3], summary)
	}
}

func TestExportOrderNotFound(t *testing.T) {
	env := setupSupply(t)
	if _, _, err := env.svc.ExportSupplyRecords(context.Background(), "missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

// memoryArchive 内存归档
type memoryArchive struct {
	objects map[string][]byte
	types   map[string]string
}

func (a *memoryArchive) Put(_ context.Context, object string, data []byte, contentType string) (string, error) {
	a.objects[object] = append([]byte(nil), data...)
	a.types[object] = contentType
	return "https://archive.test/" + object + "?sig=x", nil
}

// TestArchiveSupplyExport 归档文件可重新打开，未配置或格式不支持时报错
func TestArchiveSupplyExport(t *testing.T) {
	env := seedExport(t)
	ctx := context.Background()

	if _, err := env.svc.ArchiveSupplyExport(ctx, "o1", ExportFormatXLSX); !errors.Is(err, ErrArchiveNotConfigured) {
		t.Fatalf("expected ErrArchiveNotConfigured, got %v", err)
	}

	archive := &memoryArchive{objects: map[string][]byte{}, types: map[string]string{}}
	WithSupplyExportArchive(archive)(env.svc)

	archived, err := env.svc.ArchiveSupplyExport(ctx, "o1", ExportFormatXLSX)
	if err != nil {
		t.Fatalf("ArchiveSupplyExport: %v", err)
	}
	if !strings.HasPrefix(archived.Object, "supply-exports/o1/") || !strings.HasSuffix(archived.Object, ".xlsx") {
		t.Fatalf("unexpected object name %s", archived.Object)
	}
	if archived.Filename != "供货记录_PO-2026-O1.xlsx" || !strings.Contains(archived.URL, archived.Object) {
		t.Fatalf("unexpected archive result %+v", archived)
	}
	data := archive.objects[archived.Object]
	if archived.Size != len(data) || archive.types[archived.Object] != exportContentTypes[ExportFormatXLSX] {
		t.Fatalf("stored %d bytes as %s, result says %d", len(data), archive.types[archived.Object], archived.Size)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("reopen archived workbook: %v", err)
	}
	defer f.Close()
	if summary, _ := f.GetCellValue("供货记录", "H4"); summary != "50" {
		t.Fatalf("expected archived summary 50, got %s", summary)
	}

	csvArchived, err := env.svc.ArchiveSupplyExport(ctx, "o1", ExportFormatCSV)
	if err != nil || !strings.HasSuffix(csvArchived.Object, ".csv") {
		t.Fatalf("expected csv archive, got %+v %v", csvArchived, err)
	}
	if _, err := env.svc.ArchiveSupplyExport(ctx, "o1", "pdf"); !errors.Is(err, ErrInvalidExportFormat) {
		t.Fatalf("expected ErrInvalidExportFormat, got %v", err)
	}
	if len(archive.objects) != 2 {
		t.Fatalf("expected 2 archived objects, got %d", len(archive.objects))
	}
}
