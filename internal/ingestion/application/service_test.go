package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	catalogdomain "github.com/wyfcoding/pricecatalog/internal/catalog/domain"
	"github.com/wyfcoding/pricecatalog/internal/ingestion/domain"
	pricingdomain "github.com/wyfcoding/pricecatalog/internal/pricing/domain"
)

// fakeStore 内存版商品与台账存储，事务语义简化为单行原子写
type fakeStore struct {
	mu       sync.Mutex
	byID     map[uint]catalogdomain.CatalogProduct
	idByArt  map[string]uint
	history  []catalogdomain.HistoryEntry
	nextID   uint
	nextHID  uint
	onApply   func(article string)
	onRestore func(article string)
	conflict  map[string]int
	down      bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byID:     make(map[uint]catalogdomain.CatalogProduct),
		idByArt:  make(map[string]uint),
		conflict: make(map[string]int),
	}
}

func (f *fakeStore) GetByArticle(_ context.Context, article string) (*catalogdomain.CatalogProduct, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, catalogdomain.ErrStoreUnavailable
	}
	id, ok := f.idByArt[article]
	if !ok {
		return nil, catalogdomain.ErrNotFound
	}
	p := f.byID[id]
	return &p, nil
}

func (f *fakeStore) GetByID(_ context.Context, id uint) (*catalogdomain.CatalogProduct, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok {
		return nil, catalogdomain.ErrNotFound
	}
	return &p, nil
}

func (f *fakeStore) ArticlesInCurrentPricelist(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, catalogdomain.ErrStoreUnavailable
	}
	var articles []string
	for art, id := range f.idByArt {
		if f.byID[id].InCurrentPricelist {
			articles = append(articles, art)
		}
	}
	return articles, nil
}

func (f *fakeStore) Apply(_ context.Context, m catalogdomain.RowMutation) error {
	if f.onApply != nil {
		f.onApply(m.Product.ExternalArticle)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return catalogdomain.ErrStoreUnavailable
	}
	if n := f.conflict[m.Product.ExternalArticle]; n > 0 {
		f.conflict[m.Product.ExternalArticle] = n - 1
		return catalogdomain.ErrConflict
	}

	if m.Created {
		if _, exists := f.idByArt[m.Product.ExternalArticle]; exists {
			return catalogdomain.ErrConflict
		}
		f.nextID++
		m.Product.ID = f.nextID
		f.idByArt[m.Product.ExternalArticle] = m.Product.ID
	}
	f.byID[m.Product.ID] = *m.Product

	entry := *m.History
	entry.ProductID = m.Product.ID
	f.nextHID++
	entry.ID = f.nextHID
	f.history = append(f.history, entry)
	return nil
}

func (f *fakeStore) Restore(_ context.Context, p *catalogdomain.CatalogProduct) error {
	if f.onRestore != nil {
		f.onRestore(p.ExternalArticle)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[p.ID] = *p
	return nil
}

func (f *fakeStore) ListByProduct(_ context.Context, productID uint, limit int) ([]catalogdomain.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []catalogdomain.HistoryEntry
	for i := len(f.history) - 1; i >= 0; i-- {
		if f.history[i].ProductID == productID {
			out = append(out, f.history[i])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) ListByUpload(_ context.Context, uploadID string, ct catalogdomain.ChangeType, offset, limit int) ([]catalogdomain.HistoryEntry, int64, error) {
	all, _ := f.ListAllByUpload(context.Background(), uploadID)
	var filtered []catalogdomain.HistoryEntry
	for _, e := range all {
		if ct == "" || e.ChangeType == ct {
			filtered = append(filtered, e)
		}
	}
	total := int64(len(filtered))
	if offset > len(filtered) {
		offset = len(filtered)
	}
	end := offset + limit
	if end > len(filtered) {
		end = len(filtered)
	}
	return filtered[offset:end], total, nil
}

func (f *fakeStore) ListAllByUpload(_ context.Context, uploadID string) ([]catalogdomain.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []catalogdomain.HistoryEntry
	for i := len(f.history) - 1; i >= 0; i-- {
		if f.history[i].UploadID == uploadID {
			out = append(out, f.history[i])
		}
	}
	return out, nil
}

func (f *fakeStore) CountByUpload(_ context.Context, uploadID string) (map[catalogdomain.ChangeType]int64, error) {
	all, _ := f.ListAllByUpload(context.Background(), uploadID)
	counts := make(map[catalogdomain.ChangeType]int64)
	for _, e := range all {
		counts[e.ChangeType]++
	}
	return counts, nil
}

func (f *fakeStore) DeleteByUpload(_ context.Context, uploadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []catalogdomain.HistoryEntry
	for _, e := range f.history {
		if e.UploadID != uploadID {
			kept = append(kept, e)
		}
	}
	f.history = kept
	return nil
}

func (f *fakeStore) product(t *testing.T, article string) catalogdomain.CatalogProduct {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.idByArt[article]
	if !ok {
		t.Fatalf("product %s not found", article)
	}
	return f.byID[id]
}

// fakeJobs 内存版任务存储
type fakeJobs struct {
	mu    sync.Mutex
	jobs  map[string]domain.UploadJob
	order []string
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: make(map[string]domain.UploadJob)}
}

func (f *fakeJobs) Save(_ context.Context, job *domain.UploadJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[job.JobID]; !ok {
		f.order = append(f.order, job.JobID)
	}
	f.jobs[job.JobID] = *job
	return nil
}

func (f *fakeJobs) GetByJobID(_ context.Context, jobID string) (*domain.UploadJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return &job, nil
}

func (f *fakeJobs) RequestCancel(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	job.CancelRequested = true
	f.jobs[jobID] = job
	return nil
}

func (f *fakeJobs) ListRecent(_ context.Context, limit int) ([]domain.UploadJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.UploadJob
	for i := len(f.order) - 1; i >= 0 && len(out) < limit; i-- {
		if job, ok := f.jobs[f.order[i]]; ok {
			out = append(out, job)
		}
	}
	return out, nil
}

func (f *fakeJobs) Delete(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.jobs, jobID)
	for i, id := range f.order {
		if id == jobID {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	return nil
}

func newTestService(t *testing.T, store *fakeStore, jobs *fakeJobs) *IngestionService {
	t.Helper()
	policy, err := pricingdomain.NewPolicy(pricingdomain.ModeCeil, pricingdomain.DefaultSteps())
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	return NewIngestionService(jobs, store, store, policy, nil, nil, nil, Options{ProgressFlushRows: 2})
}

func price(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func batchOf(rows ...domain.BatchRow) domain.Batch {
	return domain.Batch{
		Filename:   "prices.xlsx",
		SourceDate: time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC),
		ActorID:    "admin",
		Rows:       rows,
	}
}

func row(article, rawName, p string) domain.BatchRow {
	return domain.BatchRow{ExternalArticle: article, RawName: rawName, Price: price(p), InStock: true}
}

func TestRunFirstImport(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store, newFakeJobs())

	result, err := svc.Run(context.Background(), batchOf(
		row("A", "Chanel туалетная вода 100 мл", "100"),
		row("B", "Dior духи 50 мл", "2000"),
	))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Status != "DONE" {
		t.Fatalf("status = %s, want DONE", result.Status)
	}
	if result.NewCount != 2 || result.FailedCount != 0 {
		t.Fatalf("counts = new %d failed %d, want 2/0", result.NewCount, result.FailedCount)
	}
	if result.ProcessedRows != 2 || result.ProgressPercent != 100 {
		t.Fatalf("progress = %d rows %d%%, want 2 rows 100%%", result.ProcessedRows, result.ProgressPercent)
	}

	a := store.product(t, "A")
	if !a.PriceRaw.Decimal.Equal(decimal.NewFromInt(100)) ||
		!a.PriceQuoted.Decimal.Equal(decimal.NewFromInt(100)) ||
		!a.RoundDelta.Decimal.IsZero() {
		t.Errorf("A = raw %s quoted %s delta %s, want 100/100/0",
			a.PriceRaw.Decimal, a.PriceQuoted.Decimal, a.RoundDelta.Decimal)
	}
	if !a.InCurrentPricelist || !a.IsActive {
		t.Error("A must be active and listed after import")
	}
	if a.Brand != "Chanel" {
		t.Errorf("A brand = %q, want Chanel", a.Brand)
	}

	b := store.product(t, "B")
	if !b.PriceQuoted.Decimal.Equal(decimal.NewFromInt(2000)) {
		t.Errorf("B quoted = %s, want 2000", b.PriceQuoted.Decimal)
	}

	entries, _ := store.ListAllByUpload(context.Background(), result.JobID)
	if len(entries) != 2 {
		t.Fatalf("history entries = %d, want 2", len(entries))
	}
	for _, e := range entries {
		if e.ChangeType != catalogdomain.ChangeNew {
			t.Errorf("change type = %s, want NEW", e.ChangeType)
		}
		if e.OldPriceRaw.Valid {
			t.Error("old price must be empty for NEW")
		}
	}
}

func TestRunSecondImportClassifiesAndRemoves(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store, newFakeJobs())
	ctx := context.Background()

	if _, err := svc.Run(ctx, batchOf(row("A", "", "100"), row("B", "", "2000"))); err != nil {
		t.Fatalf("seed run: %v", err)
	}

	result, err := svc.Run(ctx, batchOf(row("A", "", "130")))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.IncreasedCount != 1 || result.RemovedCount != 1 || result.NewCount != 0 {
		t.Fatalf("counts = inc %d rem %d new %d, want 1/1/0",
			result.IncreasedCount, result.RemovedCount, result.NewCount)
	}

	a := store.product(t, "A")
	if !a.PriceRaw.Decimal.Equal(decimal.NewFromInt(130)) ||
		!a.PriceQuoted.Decimal.Equal(decimal.NewFromInt(150)) ||
		!a.RoundDelta.Decimal.Equal(decimal.NewFromInt(20)) {
		t.Errorf("A = raw %s quoted %s delta %s, want 130/150/20",
			a.PriceRaw.Decimal, a.PriceQuoted.Decimal, a.RoundDelta.Decimal)
	}

	b := store.product(t, "B")
	if b.InCurrentPricelist || b.IsActive || b.InStock {
		t.Error("B must be soft removed after absent from batch")
	}
	// 下架保留最后已知价格
	if !b.PriceRaw.Valid || !b.PriceRaw.Decimal.Equal(decimal.NewFromInt(2000)) {
		t.Errorf("B raw = %v, want last known 2000", b.PriceRaw)
	}

	entries, _ := store.ListAllByUpload(ctx, result.JobID)
	var removed *catalogdomain.HistoryEntry
	for i := range entries {
		if entries[i].ChangeType == catalogdomain.ChangeRemoved {
			removed = &entries[i]
		}
	}
	if removed == nil {
		t.Fatal("no REMOVED history entry")
	}
	if !removed.OldPriceRaw.Decimal.Equal(decimal.NewFromInt(2000)) || removed.NewPriceRaw.Valid {
		t.Errorf("REMOVED entry old %v new %v, want old 2000 and empty new", removed.OldPriceRaw, removed.NewPriceRaw)
	}
}

func TestRunIdempotentReimport(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store, newFakeJobs())
	ctx := context.Background()

	batch := batchOf(row("A", "", "100"), row("B", "", "2000"))
	if _, err := svc.Run(ctx, batch); err != nil {
		t.Fatalf("first run: %v", err)
	}
	before := store.product(t, "A")

	result, err := svc.Run(ctx, batch)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if result.UnchangedCount != 2 || result.NewCount != 0 || result.IncreasedCount != 0 ||
		result.DecreasedCount != 0 || result.RemovedCount != 0 {
		t.Fatalf("re-import counts = %+v, want 2 unchanged only", result)
	}

	after := store.product(t, "A")
	if !after.PriceQuoted.Decimal.Equal(before.PriceQuoted.Decimal) {
		t.Errorf("quoted changed on re-import: %s -> %s", before.PriceQuoted.Decimal, after.PriceQuoted.Decimal)
	}
	if before.LastPriceChangeAt == nil || after.LastPriceChangeAt == nil ||
		!after.LastPriceChangeAt.Equal(*before.LastPriceChangeAt) {
		t.Error("LastPriceChangeAt must not move on UNCHANGED")
	}
}

func TestRunValidationFailures(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store, newFakeJobs())

	result, err := svc.Run(context.Background(), batchOf(
		domain.BatchRow{ExternalArticle: "  ", Price: price("100")},
		domain.BatchRow{ExternalArticle: "A"},
		row("B", "", "-5"),
		row("C", "", "10"),
	))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Status != "DONE" {
		t.Fatalf("status = %s, row failures must not fail the job", result.Status)
	}
	if result.FailedCount != 3 || result.NewCount != 1 {
		t.Fatalf("counts = failed %d new %d, want 3/1", result.FailedCount, result.NewCount)
	}
	if len(result.Failures) != 3 {
		t.Fatalf("failures = %d, want 3", len(result.Failures))
	}
	for i, want := range []int{0, 1, 2} {
		if result.Failures[i].Index != want {
			t.Errorf("failure[%d].Index = %d, want %d", i, result.Failures[i].Index, want)
		}
	}
	if !strings.Contains(result.Failures[2].Reason, "negative") {
		t.Errorf("failure reason = %q, want negative price", result.Failures[2].Reason)
	}
}

func TestRunConflictRetriesOnce(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store, newFakeJobs())
	ctx := context.Background()

	if _, err := svc.Run(ctx, batchOf(row("A", "", "100"), row("B", "", "200"))); err != nil {
		t.Fatalf("seed run: %v", err)
	}

	// A 冲突一次后成功，B 连续冲突则按行失败
	store.conflict["A"] = 1
	store.conflict["B"] = 2

	result, err := svc.Run(ctx, batchOf(row("A", "", "110"), row("B", "", "210")))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.IncreasedCount != 1 {
		t.Errorf("IncreasedCount = %d, want 1 (A after retry)", result.IncreasedCount)
	}
	if result.FailedCount != 1 || len(result.Failures) != 1 || result.Failures[0].Article != "B" {
		t.Fatalf("failures = %+v, want single failure for B", result.Failures)
	}

	a := store.product(t, "A")
	if !a.PriceRaw.Decimal.Equal(decimal.NewFromInt(110)) {
		t.Errorf("A raw = %s, want 110 after retry", a.PriceRaw.Decimal)
	}
	b := store.product(t, "B")
	if !b.PriceRaw.Decimal.Equal(decimal.NewFromInt(200)) {
		t.Errorf("B raw = %s, failed row must leave prior price", b.PriceRaw.Decimal)
	}
}

func TestRunStoreUnavailableFailsJob(t *testing.T) {
	store := newFakeStore()
	jobs := newFakeJobs()
	svc := newTestService(t, store, jobs)
	store.down = true

	result, err := svc.Run(context.Background(), batchOf(row("A", "", "100")))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != "FAILED" {
		t.Fatalf("status = %s, want FAILED", result.Status)
	}
	if result.ErrorMessage == "" {
		t.Error("ErrorMessage must be set on store failure")
	}
}

func TestCancelStopsProcessing(t *testing.T) {
	store := newFakeStore()
	jobs := newFakeJobs()
	svc := newTestService(t, store, jobs)
	ctx := context.Background()

	applied := make(chan struct{})
	resume := make(chan struct{})
	var count int
	store.onApply = func(string) {
		count++
		if count == 3 {
			close(applied)
			<-resume
		}
	}

	rows := make([]domain.BatchRow, 0, 10)
	for i := 0; i < 10; i++ {
		rows = append(rows, row(fmt.Sprintf("P%d", i), "", "100"))
	}

	jobID, err := svc.StartUpload(ctx, batchOf(rows...))
	if err != nil {
		t.Fatalf("StartUpload: %v", err)
	}

	<-applied
	if err := svc.Cancel(ctx, jobID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	close(resume)

	result := waitTerminal(t, svc, jobID)
	if result.Status != "CANCELLED" {
		t.Fatalf("status = %s, want CANCELLED", result.Status)
	}
	if result.ProcessedRows != 3 {
		t.Errorf("ProcessedRows = %d, want 3 committed rows", result.ProcessedRows)
	}
	// 已提交的行保持提交
	if p := store.product(t, "P0"); !p.InCurrentPricelist {
		t.Error("committed row lost after cancel")
	}
}

func TestStartUploadRejectsConcurrentJob(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store, newFakeJobs())
	ctx := context.Background()

	block := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	store.onApply = func(string) {
		once.Do(func() { close(started) })
		<-block
	}

	jobID, err := svc.StartUpload(ctx, batchOf(row("A", "", "100")))
	if err != nil {
		t.Fatalf("StartUpload: %v", err)
	}
	<-started

	if _, err := svc.StartUpload(ctx, batchOf(row("B", "", "200"))); !errors.Is(err, domain.ErrJobAlreadyRunning) {
		t.Fatalf("second StartUpload err = %v, want ErrJobAlreadyRunning", err)
	}

	close(block)
	waitTerminal(t, svc, jobID)

	// 任务结束后可以再次提交
	if _, err := svc.Run(ctx, batchOf(row("B", "", "200"))); err != nil {
		t.Fatalf("Run after release: %v", err)
	}
}

func TestRunEmptyBatch(t *testing.T) {
	svc := newTestService(t, newFakeStore(), newFakeJobs())
	if _, err := svc.Run(context.Background(), domain.Batch{}); !errors.Is(err, domain.ErrEmptyBatch) {
		t.Fatalf("err = %v, want ErrEmptyBatch", err)
	}
}

func TestRevertUpload(t *testing.T) {
	store := newFakeStore()
	jobs := newFakeJobs()
	svc := newTestService(t, store, jobs)
	ctx := context.Background()

	first, err := svc.Run(ctx, batchOf(row("A", "", "100")))
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := svc.Run(ctx, batchOf(row("A", "", "130")))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	// 只允许回滚最近一次上传
	if err := svc.RevertUpload(ctx, first.JobID); !errors.Is(err, domain.ErrNotLatestUpload) {
		t.Fatalf("revert of older upload err = %v, want ErrNotLatestUpload", err)
	}

	if err := svc.RevertUpload(ctx, second.JobID); err != nil {
		t.Fatalf("RevertUpload: %v", err)
	}

	a := store.product(t, "A")
	if !a.PriceRaw.Decimal.Equal(decimal.NewFromInt(100)) ||
		!a.PriceQuoted.Decimal.Equal(decimal.NewFromInt(100)) {
		t.Errorf("A = raw %s quoted %s, want restored 100/100", a.PriceRaw.Decimal, a.PriceQuoted.Decimal)
	}

	if entries, _ := store.ListAllByUpload(ctx, second.JobID); len(entries) != 0 {
		t.Errorf("history entries after revert = %d, want 0", len(entries))
	}
	if _, err := svc.GetJob(ctx, second.JobID); !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("GetJob after revert err = %v, want ErrJobNotFound", err)
	}

	// 回滚后第一笔上传成为最新，可以继续回滚；A 由其创建，回滚即下架清价
	if err := svc.RevertUpload(ctx, first.JobID); err != nil {
		t.Fatalf("revert first upload: %v", err)
	}
	a = store.product(t, "A")
	if a.PriceRaw.Valid || a.IsActive || a.InCurrentPricelist {
		t.Errorf("A after full revert = %+v, want cleared and inactive", a)
	}
}

func TestRevertBlocksConcurrentUpload(t *testing.T) {
	store := newFakeStore()
	jobs := newFakeJobs()
	svc := newTestService(t, store, jobs)
	ctx := context.Background()

	if _, err := svc.Run(ctx, batchOf(row("A", "", "100"))); err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := svc.Run(ctx, batchOf(row("A", "", "130")))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	restoring := make(chan struct{})
	resume := make(chan struct{})
	var once sync.Once
	store.onRestore = func(string) {
		once.Do(func() { close(restoring) })
		<-resume
	}

	revertErr := make(chan error, 1)
	go func() {
		revertErr <- svc.RevertUpload(ctx, second.JobID)
	}()
	<-restoring

	// 回滚进行中目录只有一个写者，新上传必须被拒绝
	if _, err := svc.StartUpload(ctx, batchOf(row("B", "", "200"))); !errors.Is(err, domain.ErrJobAlreadyRunning) {
		t.Fatalf("StartUpload during revert err = %v, want ErrJobAlreadyRunning", err)
	}
	if err := svc.RevertUpload(ctx, second.JobID); !errors.Is(err, domain.ErrJobAlreadyRunning) {
		t.Fatalf("concurrent revert err = %v, want ErrJobAlreadyRunning", err)
	}

	close(resume)
	if err := <-revertErr; err != nil {
		t.Fatalf("RevertUpload: %v", err)
	}

	store.onRestore = nil
	// 回滚结束后上传恢复可用
	if _, err := svc.Run(ctx, batchOf(row("B", "", "200"))); err != nil {
		t.Fatalf("Run after revert: %v", err)
	}
}

func TestCancelDuringRemovalPass(t *testing.T) {
	store := newFakeStore()
	jobs := newFakeJobs()
	svc := newTestService(t, store, jobs)
	ctx := context.Background()

	seed := []domain.BatchRow{row("A", "", "100")}
	for i := 0; i < 4; i++ {
		seed = append(seed, row(fmt.Sprintf("R%d", i), "", "100"))
	}
	if _, err := svc.Run(ctx, batchOf(seed...)); err != nil {
		t.Fatalf("seed run: %v", err)
	}

	removing := make(chan struct{})
	resume := make(chan struct{})
	var once sync.Once
	store.onApply = func(article string) {
		if article == "A" {
			return
		}
		once.Do(func() { close(removing) })
		<-resume
	}

	// 第二批只有 A，其余四个商品进入下架补记
	jobID, err := svc.StartUpload(ctx, batchOf(row("A", "", "100")))
	if err != nil {
		t.Fatalf("StartUpload: %v", err)
	}

	<-removing
	if err := svc.Cancel(ctx, jobID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	close(resume)

	result := waitTerminal(t, svc, jobID)
	if result.Status != "CANCELLED" {
		t.Fatalf("status = %s, want CANCELLED", result.Status)
	}
	// 取消前已落库的那一条下架保留，其余不再动
	if result.RemovedCount != 1 {
		t.Errorf("RemovedCount = %d, want 1", result.RemovedCount)
	}
	listed := 0
	for i := 0; i < 4; i++ {
		if store.product(t, fmt.Sprintf("R%d", i)).InCurrentPricelist {
			listed++
		}
	}
	if listed != 3 {
		t.Errorf("products still listed = %d, want 3", listed)
	}
}

func waitTerminal(t *testing.T, svc *IngestionService, jobID string) *domain.UploadJobResult {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		result, err := svc.GetJob(context.Background(), jobID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		switch result.Status {
		case "DONE", "FAILED", "CANCELLED":
			return result
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job did not reach a terminal state")
	return nil
}
