package handler

import (
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/bitfantasy/nimo-wms/internal/shared/sse"
	"github.com/bitfantasy/nimo-wms/internal/srm/entity"
	"github.com/bitfantasy/nimo-wms/internal/srm/repository"
	"github.com/bitfantasy/nimo-wms/internal/srm/service"
	"github.com/bitfantasy/nimo-wms/internal/testutil"
	"go.uber.org/zap"
)

func setupSupplyTest(t *testing.T) *testutil.TestEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)

	repos := repository.NewRepositories(db)
	hub := sse.NewHub(zap.NewNop())
	ledger := service.NewQuantityLedger(repos.PO, repos.SupplyRecord)
	stats := service.NewStatisticsCalculator(repos.Statistics, service.DefaultStatisticsConfig())
	shareSvc := service.NewShareService(repos.ShareLink, repos.PO, service.DefaultShareConfig(),
		service.WithShareActivityLogger(repos.ActivityLog))
	supplySvc := service.NewSupplyService(shareSvc, ledger, repos.SupplyRecord, stats,
		service.WithSupplyActivityLogger(repos.ActivityLog), service.WithSupplyEvents(hub))
	procurementSvc := service.NewProcurementService(repos.PO, stats, repos.ActivityLog, zap.NewNop())

	handlers := NewHandlers(procurementSvc, shareSvc, supplySvc, hub)
	router := testutil.SetupRouter()
	handlers.RegisterRoutes(testutil.AuthGroup(router, "/api/v1/srm"), router.Group("/api/v1/public"))

	return &testutil.TestEnv{DB: db, Router: router, T: t}
}

func generateShare(t *testing.T, env *testutil.TestEnv, orderID string, body map[string]interface{}) map[string]interface{} {
	t.Helper()
	w := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/srm/purchase-orders/"+orderID+"/share", body, testutil.DefaultTestToken())
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 generating share, got %d: %s", w.Code, w.Body.String())
	}
	return testutil.ParseResponse(w)["data"].(map[string]interface{})
}

func supplyBody(extractCode string, productID string, qty int) map[string]interface{} {
	return map[string]interface{}{
		"extract_code": extractCode,
		"items": []map[string]interface{}{
			{"product_id": productID, "quantity": qty, "unit_price": "12.50"},
		},
		"supplier_info": map[string]interface{}{"contact": "李工"},
	}
}

// TestSupplyFlow 分享 -> 外部查看 -> 提交 -> 超量被拒 -> 作废恢复
func TestSupplyFlow(t *testing.T) {
	env := setupSupplyTest(t)
	token := testutil.DefaultTestToken()
	po := testutil.SeedPurchaseOrder(t, env.DB, "shop-001", entity.POStatusConfirmed, "1250",
		testutil.SeedItem{ProductID: "prod-a", Name: "蓝牙耳机", Quantity: 100, UnitPrice: "12.50"})

	share := generateShare(t, env, po.ID, map[string]interface{}{"expires_in": 24})
	shareCode := share["share_code"].(string)
	extract := share["extract_code"].(string)

	// 外部查看
	w := testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/public/supply/"+shareCode+"?extract_code="+extract, nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	view := testutil.ParseResponse(w)["data"].(map[string]interface{})
	available := view["available_products"].([]interface{})
	if len(available) != 1 || available[0].(map[string]interface{})["available_quantity"].(float64) != 100 {
		t.Fatalf("unexpected available products: %v", available)
	}
	items := view["order"].(map[string]interface{})["items"].([]interface{})
	if _, leaked := items[0].(map[string]interface{})["unit_price"]; leaked {
		t.Fatal("public view must not expose purchase prices")
	}

	// 提交 60
	w = testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/public/supply/"+shareCode, supplyBody(extract, "prod-a", 60), "")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	result := testutil.ParseResponse(w)["data"].(map[string]interface{})
	recordID := result["record_id"].(string)
	if result["order_status"] != entity.POStatusPartial {
		t.Fatalf("expected order partial, got %v", result["order_status"])
	}

	// 再提交 50 超量
	w = testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/public/supply/"+shareCode, supplyBody(extract, "prod-a", 50), "")
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
	validation := testutil.ParseResponse(w)["data"].(map[string]interface{})
	detail := validation["errors"].([]interface{})[0].(map[string]interface{})
	if detail["purchased_quantity"].(float64) != 100 || detail["supplied_quantity"].(float64) != 60 || detail["requested_quantity"].(float64) != 50 {
		t.Fatalf("unexpected error detail: %v", detail)
	}

	// 内部查看供货记录
	w = testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/srm/purchase-orders/"+po.ID+"/supply-records", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	list := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if records := list["records"].([]interface{}); len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	stats := list["statistics"].(map[string]interface{})
	if stats["total_records"].(float64) != 1 {
		t.Fatalf("unexpected statistics: %v", stats)
	}

	// 作废
	w = testutil.DoRequest(env.Router, http.MethodPut, "/api/v1/srm/supply-records/"+recordID+"/disable", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if status := testutil.ParseResponse(w)["data"].(map[string]interface{})["order_status"]; status != entity.POStatusConfirmed {
		t.Fatalf("expected order back to confirmed, got %v", status)
	}
	w = testutil.DoRequest(env.Router, http.MethodPut, "/api/v1/srm/supply-records/"+recordID+"/disable", nil, token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on repeated disable, got %d", w.Code)
	}

	w = testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/srm/purchase-orders/"+po.ID+"/available-products", nil, token)
	products := testutil.ParseResponse(w)["data"].(map[string]interface{})["items"].([]interface{})
	if products[0].(map[string]interface{})["available_quantity"].(float64) != 100 {
		t.Fatalf("expected 100 available after disable, got %v", products)
	}

	// 时间线：生成分享、提交、状态同步、作废、状态回退
	w = testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/srm/purchase-orders/"+po.ID+"/activities", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	timeline := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if total := timeline["pagination"].(map[string]interface{})["total"].(float64); total != 5 {
		t.Fatalf("expected 5 timeline entries, got %v", total)
	}
	seen := map[string]int{}
	for _, e := range timeline["items"].([]interface{}) {
		seen[e.(map[string]interface{})["action"].(string)]++
	}
	if seen[service.ActionShareGenerate] != 1 || seen[service.ActionSupplySubmit] != 1 ||
		seen[service.ActionSupplyDisable] != 1 || seen[service.ActionStatusChange] != 2 {
		t.Fatalf("unexpected timeline actions: %v", seen)
	}
}

// TestShareAccessFailures 分享校验失败返回可区分的状态码
func TestShareAccessFailures(t *testing.T) {
	env := setupSupplyTest(t)
	token := testutil.DefaultTestToken()
	po := testutil.SeedPurchaseOrder(t, env.DB, "shop-001", entity.POStatusConfirmed, "100",
		testutil.SeedItem{ProductID: "prod-a", Name: "充电线", Quantity: 10})

	share := generateShare(t, env, po.ID, map[string]interface{}{"expires_in": 24, "access_limit": 2})
	shareCode := share["share_code"].(string)
	extract := share["extract_code"].(string)
	url := "/api/v1/public/supply/" + shareCode

	// 重复生成返回同一链接
	if again := generateShare(t, env, po.ID, nil); again["share_code"] != shareCode {
		t.Fatalf("expected idempotent share, got %v", again["share_code"])
	}

	if w := testutil.DoRequest(env.Router, http.MethodGet, url+"?extract_code=XXXX", nil, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong extract code, got %d", w.Code)
	}
	for i := 0; i < 2; i++ {
		if w := testutil.DoRequest(env.Router, http.MethodGet, url+"?extractCode="+extract, nil, ""); w.Code != http.StatusOK {
			t.Fatalf("access %d: expected 200, got %d: %s", i+1, w.Code, w.Body.String())
		}
	}
	w := testutil.DoRequest(env.Router, http.MethodGet, url+"?extract_code="+extract, nil, "")
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 after limit, got %d", w.Code)
	}
	if reason := testutil.ParseResponse(w)["data"].(map[string]interface{})["reason"]; reason != string(service.ShareReasonLimitReached) {
		t.Fatalf("expected limit_reached, got %v", reason)
	}

	if w := testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/public/supply/nope", nil, ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown share, got %d", w.Code)
	}

	// 过期
	env.DB.Exec("UPDATE srm_share_links SET expires_at = NOW() - INTERVAL '1 hour' WHERE purchase_order_id = ?", po.ID)
	if w := testutil.DoRequest(env.Router, http.MethodGet, url+"?extract_code="+extract, nil, ""); w.Code != http.StatusGone {
		t.Fatalf("expected 410 for expired share, got %d", w.Code)
	}

	// 作废
	w = testutil.DoRequest(env.Router, http.MethodDelete, "/api/v1/srm/purchase-orders/"+po.ID+"/share", nil, token)
	if w.Code != http.StatusOK || testutil.ParseResponse(w)["data"].(map[string]interface{})["changed"] != true {
		t.Fatalf("expected disable to change the link, got %d: %s", w.Code, w.Body.String())
	}
	if w := testutil.DoRequest(env.Router, http.MethodGet, url+"?extract_code="+extract, nil, ""); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for disabled share, got %d", w.Code)
	}

	// 无权限
	noPerm := testutil.OperatorToken("srm:po:read")
	if w := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/srm/purchase-orders/"+po.ID+"/share", nil, noPerm); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without share permission, got %d", w.Code)
	}
}

// TestConcurrentSupplySubmissions 并发提交不会超过采购数量
func TestConcurrentSupplySubmissions(t *testing.T) {
	env := setupSupplyTest(t)
	po := testutil.SeedPurchaseOrder(t, env.DB, "shop-001", entity.POStatusConfirmed, "100",
		testutil.SeedItem{ProductID: "prod-a", Name: "电源适配器", Quantity: 100})
	share := generateShare(t, env, po.ID, map[string]interface{}{"no_extract_code": true})
	url := "/api/v1/public/supply/" + share["share_code"].(string)

	var wg sync.WaitGroup
	codes := make([]int, 8)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w := testutil.DoRequest(env.Router, http.MethodPost, url, supplyBody("", "prod-a", 30), "")
			codes[i] = w.Code
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, code := range codes {
		switch code {
		case http.StatusCreated:
			accepted++
		case http.StatusConflict, http.StatusUnprocessableEntity:
		default:
			t.Fatalf("unexpected status %d", code)
		}
	}
	if accepted != 3 {
		t.Fatalf("expected 3 accepted submissions, got %d (%v)", accepted, codes)
	}

	var supplied int64
	env.DB.Raw(`SELECT COALESCE(SUM(si.quantity), 0) FROM srm_supply_record_items si
		JOIN srm_supply_records sr ON sr.id = si.supply_record_id
		WHERE sr.purchase_order_id = ? AND sr.status = ?`, po.ID, entity.SupplyRecordStatusActive).Scan(&supplied)
	if supplied != 90 {
		t.Fatalf("expected 90 supplied, got %d", supplied)
	}
}

func TestPOStatistics(t *testing.T) {
	env := setupSupplyTest(t)
	token := testutil.DefaultTestToken()
	testutil.SeedPurchaseOrder(t, env.DB, "shop-s", entity.POStatusConfirmed, "1000",
		testutil.SeedItem{ProductID: "prod-a", Name: "A", Quantity: 10})
	testutil.SeedPurchaseOrder(t, env.DB, "shop-s", entity.POStatusCancelled, "2500",
		testutil.SeedItem{ProductID: "prod-b", Name: "B", Quantity: 20})
	testutil.SeedPurchaseOrder(t, env.DB, "shop-other", entity.POStatusConfirmed, "700")

	w := testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/srm/purchase-orders?shop_id=shop-s", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	stats := data["statistics"].(map[string]interface{})
	if stats["total_records"].(float64) != 2 || stats["active_records"].(float64) != 1 {
		t.Fatalf("unexpected statistics: %v", stats)
	}
	if fmt.Sprint(stats["total_amount"]) != "3500" {
		t.Fatalf("expected total amount 3500, got %v", stats["total_amount"])
	}
	statuses := stats["product_statuses"].([]interface{})
	if len(statuses) != 2 || statuses[0].(map[string]interface{})["product_id"] != "prod-b" {
		t.Fatalf("expected prod-b first by purchased quantity, got %v", statuses)
	}

	w = testutil.DoRequest(env.Router, http.MethodGet,
		"/api/v1/srm/purchase-orders?created_at_start=2026-03-02&created_at_end=2026-03-01", nil, token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for inverted range, got %d", w.Code)
	}
}
