package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bitfantasy/nimo-wms/internal/shared/sse"
	"github.com/bitfantasy/nimo-wms/internal/srm/entity"
	"github.com/bitfantasy/nimo-wms/internal/srm/repository"
	"github.com/shopspring/decimal"
)

// fakeDB 内存版采购单与供货记录存储
type fakeDB struct {
	mu      sync.Mutex
	rowLock sync.Mutex // 模拟 SELECT ... FOR UPDATE

	orders  map[string]*entity.PurchaseOrder
	records map[string]*entity.SupplyRecord
	seq     []string

	suppliedCalls int
	// beforeLock 在事务加锁前调用，用于模拟并发提交
	beforeLock func()
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		orders:  make(map[string]*entity.PurchaseOrder),
		records: make(map[string]*entity.SupplyRecord),
	}
}

func (db *fakeDB) addOrder(id, shopID, status, finalAmount string, items ...entity.POItem) *entity.PurchaseOrder {
	po := &entity.PurchaseOrder{
		ID:          id,
		OrderNumber: "PO-2026-" + strings.ToUpper(id),
		ShopID:      shopID,
		SupplierID:  "sup-1",
		Status:      status,
		FinalAmount: decimal.RequireFromString(finalAmount),
		Items:       items,
		CreatedAt:   time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	for i := range po.Items {
		po.Items[i].POID = id
	}
	db.mu.Lock()
	db.orders[id] = po
	db.mu.Unlock()
	return po
}

func item(productID string, qty int) entity.POItem {
	return entity.POItem{ID: "item-" + productID, ProductID: productID, ProductName: "商品" + productID, Quantity: qty}
}

// addRecord 直接写入一条生效的供货记录
func (db *fakeDB) addRecord(id, orderID string, quantities map[string]int) {
	record := &entity.SupplyRecord{ID: id, PurchaseOrderID: orderID, Status: entity.SupplyRecordStatusActive}
	keys := make([]string, 0, len(quantities))
	for k := range quantities {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, productID := range keys {
		record.Items = append(record.Items, entity.SupplyRecordItem{
			ID: id + "-" + productID, SupplyRecordID: id, ProductID: productID, Quantity: quantities[productID],
		})
	}
	db.mu.Lock()
	db.records[id] = record
	db.seq = append(db.seq, id)
	db.mu.Unlock()
}

func (db *fakeDB) orderStatus(id string) string {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.orders[id].Status
}

func (db *fakeDB) activeSupplied(orderID, productID string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.suppliedLocked(orderID, "")[productID]
}

func (db *fakeDB) suppliedLocked(orderID, excludeRecordID string) map[string]int {
	supplied := make(map[string]int)
	for _, id := range db.seq {
		r := db.records[id]
		if r.PurchaseOrderID != orderID || r.Status != entity.SupplyRecordStatusActive || r.ID == excludeRecordID {
			continue
		}
		for _, it := range r.Items {
			supplied[it.ProductID] += it.Quantity
		}
	}
	return supplied
}

func copyOrder(po *entity.PurchaseOrder) *entity.PurchaseOrder {
	cp := *po
	cp.Items = append([]entity.POItem(nil), po.Items...)
	return &cp
}

// fakeOrders 实现 OrderReader / POStore
type fakeOrders struct {
	db *fakeDB
}

func (f fakeOrders) FindByID(_ context.Context, id string) (*entity.PurchaseOrder, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	po, ok := f.db.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyOrder(po), nil
}

func (f fakeOrders) FindAll(_ context.Context, page, pageSize int, filter *repository.POFilter) ([]entity.PurchaseOrder, int64, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var items []entity.PurchaseOrder
	for _, po := range f.db.orders {
		if matchFilter(po, filter) {
			items = append(items, *copyOrder(po))
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	total := int64(len(items))
	start := (page - 1) * pageSize
	if start > len(items) {
		start = len(items)
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end], total, nil
}

func (f fakeOrders) Create(_ context.Context, po *entity.PurchaseOrder) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	f.db.orders[po.ID] = copyOrder(po)
	return nil
}

func (f fakeOrders) UpdateStatus(_ context.Context, id, from, to string) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	po, ok := f.db.orders[id]
	if !ok {
		return repository.ErrNotFound
	}
	if po.Status != from {
		return repository.ErrStatusChanged
	}
	po.Status = to
	return nil
}

func (f fakeOrders) GenerateCode(_ context.Context) (string, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	return fmt.Sprintf("PO-2026-%04d", len(f.db.orders)+1), nil
}

// fakeSupply 实现 SupplyReader / SupplyRecordStore
type fakeSupply struct {
	db *fakeDB
}

func (f fakeSupply) SuppliedQuantity(_ context.Context, orderID, productID, excludeRecordID string) (int, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	f.db.suppliedCalls++
	return f.db.suppliedLocked(orderID, excludeRecordID)[productID], nil
}

func (f fakeSupply) SuppliedByProduct(_ context.Context, orderID, excludeRecordID string) (map[string]int, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	f.db.suppliedCalls++
	return f.db.suppliedLocked(orderID, excludeRecordID), nil
}

func (f fakeSupply) FindByID(_ context.Context, id string) (*entity.SupplyRecord, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	r, ok := f.db.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f fakeSupply) ListByOrder(_ context.Context, orderID string) ([]entity.SupplyRecord, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var records []entity.SupplyRecord
	for _, id := range f.db.seq {
		if r := f.db.records[id]; r.PurchaseOrderID == orderID {
			records = append(records, *r)
		}
	}
	return records, nil
}

func (f fakeSupply) WithOrderLock(ctx context.Context, orderID string, fn func(po *entity.PurchaseOrder, tx repository.SupplyTx) error) error {
	if f.db.beforeLock != nil {
		f.db.beforeLock()
	}
	f.db.rowLock.Lock()
	defer f.db.rowLock.Unlock()

	po, err := fakeOrders{db: f.db}.FindByID(ctx, orderID)
	if err != nil {
		return err
	}
	tx := &fakeTx{db: f.db, disabled: make(map[string]time.Time), status: make(map[string]string)}
	if err := fn(po, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// fakeTx 暂存写入，fn 成功后提交
type fakeTx struct {
	db       *fakeDB
	created  []*entity.SupplyRecord
	disabled map[string]time.Time
	status   map[string]string
}

func (tx *fakeTx) SuppliedByProduct(_ context.Context, orderID, excludeRecordID string) (map[string]int, error) {
	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()
	supplied := tx.db.suppliedLocked(orderID, excludeRecordID)
	for id := range tx.disabled {
		if r := tx.db.records[id]; r != nil && r.PurchaseOrderID == orderID {
			for _, it := range r.Items {
				supplied[it.ProductID] -= it.Quantity
			}
		}
	}
	return supplied, nil
}

func (tx *fakeTx) CreateRecord(_ context.Context, record *entity.SupplyRecord) error {
	tx.created = append(tx.created, record)
	return nil
}

func (tx *fakeTx) DisableRecord(_ context.Context, recordID, _ string, at time.Time) (bool, error) {
	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()
	r, ok := tx.db.records[recordID]
	if !ok || r.Status != entity.SupplyRecordStatusActive {
		return false, nil
	}
	tx.disabled[recordID] = at
	return true, nil
}

func (tx *fakeTx) UpdateOrderStatus(_ context.Context, orderID, status string) error {
	tx.status[orderID] = status
	return nil
}

func (tx *fakeTx) commit() {
	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()
	for _, r := range tx.created {
		cp := *r
		tx.db.records[r.ID] = &cp
		tx.db.seq = append(tx.db.seq, r.ID)
	}
	for id, at := range tx.disabled {
		r := tx.db.records[id]
		r.Status = entity.SupplyRecordStatusDisabled
		at := at
		r.DisabledAt = &at
	}
	for id, status := range tx.status {
		tx.db.orders[id].Status = status
	}
}

func matchFilter(po *entity.PurchaseOrder, f *repository.POFilter) bool {
	if f == nil {
		return true
	}
	if f.OrderID != "" && po.ID != f.OrderID {
		return false
	}
	if f.ShopID != "" && po.ShopID != f.ShopID {
		return false
	}
	if f.SupplierID != "" && po.SupplierID != f.SupplierID {
		return false
	}
	if f.Status != "" && po.Status != f.Status {
		return false
	}
	if f.OrderNumber != "" && !strings.Contains(strings.ToLower(po.OrderNumber), strings.ToLower(f.OrderNumber)) {
		return false
	}
	return true
}

// fakeStatsSource 基于 fakeDB 的统计查询
type fakeStatsSource struct {
	db *fakeDB

	mu    sync.Mutex
	calls int
	// 非空时对应查询返回错误
	totalsErr, purchasedErr, suppliedErr error
	nilTotals                            bool
}

func (f *fakeStatsSource) count() {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
}

func (f *fakeStatsSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeStatsSource) matching(filter *repository.POFilter) []*entity.PurchaseOrder {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var orders []*entity.PurchaseOrder
	for _, po := range f.db.orders {
		if matchFilter(po, filter) {
			orders = append(orders, copyOrder(po))
		}
	}
	return orders
}

func (f *fakeStatsSource) OrderTotals(_ context.Context, filter *repository.POFilter) (*repository.OrderTotals, error) {
	f.count()
	if f.totalsErr != nil {
		return nil, f.totalsErr
	}
	if f.nilTotals {
		return nil, nil
	}
	totals := &repository.OrderTotals{TotalAmount: decimal.Zero}
	for _, po := range f.matching(filter) {
		totals.TotalRecords++
		if po.Status != entity.POStatusCancelled {
			totals.ActiveRecords++
		}
		totals.TotalAmount = totals.TotalAmount.Add(po.FinalAmount)
	}
	return totals, nil
}

func (f *fakeStatsSource) PurchasedByProduct(_ context.Context, filter *repository.POFilter) ([]repository.ProductQuantity, error) {
	f.count()
	if f.purchasedErr != nil {
		return nil, f.purchasedErr
	}
	var rows []repository.ProductQuantity
	for _, po := range f.matching(filter) {
		for _, it := range po.Items {
			rows = append(rows, repository.ProductQuantity{ProductID: it.ProductID, ProductName: it.ProductName, Quantity: it.Quantity})
		}
	}
	return rows, nil
}

func (f *fakeStatsSource) SuppliedByProduct(_ context.Context, filter *repository.POFilter) ([]repository.ProductQuantity, error) {
	f.count()
	if f.suppliedErr != nil {
		return nil, f.suppliedErr
	}
	var rows []repository.ProductQuantity
	orders := f.matching(filter)
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, po := range orders {
		for productID, qty := range f.db.suppliedLocked(po.ID, "") {
			rows = append(rows, repository.ProductQuantity{ProductID: productID, Quantity: qty})
		}
	}
	return rows, nil
}

// fakeShareStore 内存版分享链接存储
type fakeShareStore struct {
	mu      sync.Mutex
	byOrder map[string]*entity.ShareLink
	fail    error
	// beforeIncrement 在递增访问次数前调用，用于模拟并发重新生成
	beforeIncrement func()
}

func newFakeShareStore() *fakeShareStore {
	return &fakeShareStore{byOrder: make(map[string]*entity.ShareLink)}
}

func (s *fakeShareStore) FindByOrderID(_ context.Context, orderID string) (*entity.ShareLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	link, ok := s.byOrder[orderID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *link
	return &cp, nil
}

func (s *fakeShareStore) FindByCode(_ context.Context, shareCode string) (*entity.ShareLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	for _, link := range s.byOrder {
		if link.ShareCode == shareCode {
			cp := *link
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *fakeShareStore) Upsert(_ context.Context, link *entity.ShareLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	cp := *link
	s.byOrder[link.PurchaseOrderID] = &cp
	return nil
}

func (s *fakeShareStore) IncrementAccess(_ context.Context, id, shareCode string, now time.Time) (bool, error) {
	if s.beforeIncrement != nil {
		s.beforeIncrement()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, link := range s.byOrder {
		if link.ID != id || link.ShareCode != shareCode {
			continue
		}
		if link.Status != entity.ShareLinkStatusActive || !now.Before(link.ExpiresAt) || link.LimitReached() {
			return false, nil
		}
		link.AccessCount++
		at := now
		link.LastAccessAt = &at
		return true, nil
	}
	return false, nil
}

func (s *fakeShareStore) Disable(_ context.Context, orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return false, s.fail
	}
	link, ok := s.byOrder[orderID]
	if !ok || link.Status != entity.ShareLinkStatusActive {
		return false, nil
	}
	link.Status = entity.ShareLinkStatusDisabled
	return true, nil
}

func (s *fakeShareStore) accessCount(orderID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byOrder[orderID].AccessCount
}

// fakeClock 可控时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeActivity 记录操作日志
type fakeActivity struct {
	mu      sync.Mutex
	entries []entity.ActivityLog
}

func (a *fakeActivity) Record(_ context.Context, log *entity.ActivityLog) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, *log)
}

func (a *fakeActivity) ListByOrder(_ context.Context, orderID string, page, pageSize int) ([]entity.ActivityLog, int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var matched []entity.ActivityLog
	for i := len(a.entries) - 1; i >= 0; i-- {
		if a.entries[i].PurchaseOrderID == orderID {
			matched = append(matched, a.entries[i])
		}
	}
	total := int64(len(matched))
	start := (page - 1) * pageSize
	if start >= len(matched) {
		return nil, total, nil
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (a *fakeActivity) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var actions []string
	for _, e := range a.entries {
		actions = append(actions, e.Action)
	}
	return actions
}

// fakePublisher 收集推送事件
type fakePublisher struct {
	mu      sync.Mutex
	updates []sse.SupplyRecordUpdate
}

func (p *fakePublisher) PublishSupplyRecordUpdate(u sse.SupplyRecordUpdate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, u)
}
