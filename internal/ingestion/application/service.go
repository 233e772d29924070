package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	catalogdomain "github.com/wyfcoding/pricecatalog/internal/catalog/domain"
	"github.com/wyfcoding/pricecatalog/internal/ingestion/domain"
	pricingdomain "github.com/wyfcoding/pricecatalog/internal/pricing/domain"
	"github.com/wyfcoding/pricecatalog/pkg/logger"
	"github.com/wyfcoding/pricecatalog/pkg/metrics"
)

const (
	topicPriceChanged   = "price.changed"
	topicProductRemoved = "price.removed"

	progressMirrorTTL = time.Hour
)

// ProgressMirror 可选的任务进度镜像（Redis 实现），状态轮询优先走镜像
type ProgressMirror interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) error
}

// Options 导入服务配置
type Options struct {
	// ProgressFlushRows 进度落库间隔（行数），保证任务中途崩溃后留下可观测的部分状态
	ProgressFlushRows int
	// DefaultCurrency 批次行未带货币时的缺省值
	DefaultCurrency string
}

// jobHandle 运行中任务的共享状态；cancel 标志是取消方与任务
// 之间唯一共享的状态，任务每处理一行轮询一次。
type jobHandle struct {
	cancel   atomic.Bool
	failures []domain.RowFailure
}

// IngestionService 价格表导入服务。
// 同一时刻只允许一个任务写目录：diff-再-写 的序列不是原子的，
// 两个并发写者会读到过期的"上一次价格"。
type IngestionService struct {
	jobs      domain.UploadJobRepository
	products  catalogdomain.ProductRepository
	history   catalogdomain.HistoryRepository
	policy    *pricingdomain.Policy
	publisher catalogdomain.EventPublisher
	mirror    ProgressMirror
	metrics   *metrics.Metrics
	opts      Options

	mu      sync.Mutex
	running map[string]*jobHandle
	// reverting 回滚也是目录写者，进行期间与上传互斥
	reverting bool
}

// NewIngestionService 创建导入服务。publisher、mirror、m 均可为 nil（降级为不发事件/不镜像/不打点）。
func NewIngestionService(
	jobs domain.UploadJobRepository,
	products catalogdomain.ProductRepository,
	history catalogdomain.HistoryRepository,
	policy *pricingdomain.Policy,
	publisher catalogdomain.EventPublisher,
	mirror ProgressMirror,
	m *metrics.Metrics,
	opts Options,
) *IngestionService {
	if opts.ProgressFlushRows <= 0 {
		opts.ProgressFlushRows = 50
	}
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = "RUB"
	}
	return &IngestionService{
		jobs:      jobs,
		products:  products,
		history:   history,
		policy:    policy,
		publisher: publisher,
		mirror:    mirror,
		metrics:   m,
		opts:      opts,
		running:   make(map[string]*jobHandle),
	}
}

// StartUpload 创建任务并异步执行，立即返回任务 ID
func (s *IngestionService) StartUpload(ctx context.Context, batch domain.Batch) (string, error) {
	job, handle, err := s.prepare(ctx, &batch)
	if err != nil {
		return "", err
	}

	go func() {
		defer s.release(job.JobID)
		s.runJob(context.Background(), job, handle, batch)
	}()

	return job.JobID, nil
}

// Run 同步执行一次导入并返回最终结果
func (s *IngestionService) Run(ctx context.Context, batch domain.Batch) (*domain.UploadJobResult, error) {
	job, handle, err := s.prepare(ctx, &batch)
	if err != nil {
		return nil, err
	}
	defer s.release(job.JobID)

	s.runJob(ctx, job, handle, batch)
	return resultFrom(job, handle.failures), nil
}

// Cancel 请求取消任务。已提交的行保持提交，剩余行不再处理。
func (s *IngestionService) Cancel(ctx context.Context, jobID string) error {
	job, err := s.jobs.GetByJobID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("job %s already finished with status %s", jobID, job.Status)
	}

	if err := s.jobs.RequestCancel(ctx, jobID); err != nil {
		return err
	}

	s.mu.Lock()
	handle := s.running[jobID]
	s.mu.Unlock()
	if handle != nil {
		handle.cancel.Store(true)
	}

	logger.Info(ctx, "Upload job cancellation requested", "job_id", jobID)
	return nil
}

// GetJob 查询任务状态与进度
func (s *IngestionService) GetJob(ctx context.Context, jobID string) (*domain.UploadJobResult, error) {
	if s.mirror != nil {
		var res domain.UploadJobResult
		if err := s.mirror.Get(ctx, mirrorKey(jobID), &res); err == nil && res.JobID == jobID {
			return &res, nil
		}
	}

	job, err := s.jobs.GetByJobID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return resultFrom(job, decodeFailures(job.FailuresJSON)), nil
}

// ListRecent 最近的上传任务
func (s *IngestionService) ListRecent(ctx context.Context, limit int) ([]domain.UploadJob, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	return s.jobs.ListRecent(ctx, limit)
}

// RevertUpload 回滚一次上传：按台账逆向恢复商品状态，
// 删除该上传的台账与任务行。只允许回滚最近一次上传。
func (s *IngestionService) RevertUpload(ctx context.Context, jobID string) error {
	s.mu.Lock()
	if len(s.running) > 0 || s.reverting {
		s.mu.Unlock()
		return domain.ErrJobAlreadyRunning
	}
	s.reverting = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.reverting = false
		s.mu.Unlock()
	}()

	recent, err := s.jobs.ListRecent(ctx, 1)
	if err != nil {
		return err
	}
	if len(recent) == 0 || recent[0].JobID != jobID {
		return domain.ErrNotLatestUpload
	}

	entries, err := s.history.ListAllByUpload(ctx, jobID)
	if err != nil {
		return err
	}

	for i := range entries {
		entry := &entries[i]
		product, err := s.products.GetByID(ctx, entry.ProductID)
		if err != nil {
			if errors.Is(err, catalogdomain.ErrNotFound) {
				continue
			}
			return err
		}

		switch entry.ChangeType {
		case catalogdomain.ChangeNew:
			// 本次上传创建的商品：清空价格并软下架，行本身保留
			product.PriceRaw = decimal.NullDecimal{}
			product.PriceQuoted = decimal.NullDecimal{}
			product.RoundDelta = decimal.NullDecimal{}
			product.SoftRemove()
		case catalogdomain.ChangeRemoved:
			product.PriceRaw = entry.OldPriceRaw
			product.PriceQuoted = entry.OldPriceQuoted
			product.RoundDelta = entry.OldRoundDelta
			product.IsActive = true
			product.InStock = true
			product.InCurrentPricelist = true
		default:
			product.PriceRaw = entry.OldPriceRaw
			product.PriceQuoted = entry.OldPriceQuoted
			product.RoundDelta = entry.OldRoundDelta
		}

		if err := s.products.Restore(ctx, product); err != nil {
			return err
		}
	}

	if err := s.history.DeleteByUpload(ctx, jobID); err != nil {
		return err
	}
	if err := s.jobs.Delete(ctx, jobID); err != nil {
		return err
	}
	if s.mirror != nil {
		if err := s.mirror.Delete(ctx, mirrorKey(jobID)); err != nil {
			logger.Debug(ctx, "Failed to drop progress mirror", "job_id", jobID, "error", err)
		}
	}

	logger.Info(ctx, "Upload reverted", "job_id", jobID, "entries", len(entries))
	return nil
}

func (s *IngestionService) prepare(ctx context.Context, batch *domain.Batch) (*domain.UploadJob, *jobHandle, error) {
	if len(batch.Rows) == 0 {
		return nil, nil, domain.ErrEmptyBatch
	}
	if batch.SourceDate.IsZero() {
		batch.SourceDate = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.running) > 0 || s.reverting {
		return nil, nil, domain.ErrJobAlreadyRunning
	}

	job := domain.NewUploadJob(uuid.NewString(), batch.Filename, batch.ActorID, batch.SourceDate, len(batch.Rows))
	if err := s.jobs.Save(ctx, job); err != nil {
		return nil, nil, err
	}

	handle := &jobHandle{}
	s.running[job.JobID] = handle
	return job, handle, nil
}

func (s *IngestionService) release(jobID string) {
	s.mu.Lock()
	delete(s.running, jobID)
	s.mu.Unlock()
}

func (s *IngestionService) runJob(ctx context.Context, job *domain.UploadJob, h *jobHandle, batch domain.Batch) {
	start := time.Now()
	if s.metrics != nil {
		s.metrics.JobsRunning.Inc()
		defer s.metrics.JobsRunning.Dec()
	}
	logger.Info(ctx, "Upload job started",
		"job_id", job.JobID, "filename", batch.Filename, "rows", job.TotalRows, "actor", job.ActorID)

	job.Start()
	if err := s.jobs.Save(ctx, job); err != nil {
		s.finalize(ctx, job, h, domain.JobFailed, err.Error(), start)
		return
	}

	articles, err := s.products.ArticlesInCurrentPricelist(ctx)
	if err != nil {
		s.finalize(ctx, job, h, domain.JobFailed, err.Error(), start)
		return
	}
	prevListed := make(map[string]struct{}, len(articles))
	for _, a := range articles {
		prevListed[a] = struct{}{}
	}

	cancelled := false
	for i, row := range batch.Rows {
		// 每行之间轮询取消标志，保证取消延迟有界
		if h.cancel.Load() {
			cancelled = true
			break
		}

		ct, err := s.processRow(ctx, job, row, batch)
		switch {
		case err == nil:
			delete(prevListed, row.ExternalArticle)
			job.RecordRow(ct)
			s.countRow(ct)
		case errors.Is(err, catalogdomain.ErrStoreUnavailable):
			s.finalize(ctx, job, h, domain.JobFailed, err.Error(), start)
			return
		default:
			job.RecordFailure()
			h.failures = append(h.failures, domain.RowFailure{
				Index:   i,
				Article: row.ExternalArticle,
				Reason:  err.Error(),
			})
			s.countFailure(err)
			logger.Warn(ctx, "Batch row failed",
				"job_id", job.JobID, "index", i, "article", row.ExternalArticle, "error", err)
		}

		if (i+1)%s.opts.ProgressFlushRows == 0 {
			s.flushProgress(ctx, job, h)
		}
	}

	if !cancelled {
		if err := s.removeAbsent(ctx, job, h, prevListed, batch); err != nil {
			if errors.Is(err, domain.ErrCancelled) {
				s.finalize(ctx, job, h, domain.JobCancelled, "", start)
				return
			}
			s.finalize(ctx, job, h, domain.JobFailed, err.Error(), start)
			return
		}
	}

	if cancelled {
		s.finalize(ctx, job, h, domain.JobCancelled, "", start)
		return
	}
	s.finalize(ctx, job, h, domain.JobDone, "", start)
}

// processRow 单行导入：校验、查当前状态、分类、报价、在一个
// 工作单元内落库。乐观锁冲突用刷新后的状态重试一次。
func (s *IngestionService) processRow(ctx context.Context, job *domain.UploadJob, row domain.BatchRow, batch domain.Batch) (catalogdomain.ChangeType, error) {
	if strings.TrimSpace(row.ExternalArticle) == "" {
		return "", fmt.Errorf("%w: empty external_article", domain.ErrValidation)
	}
	if row.Price == nil {
		return "", fmt.Errorf("%w: no price", domain.ErrValidation)
	}
	raw := row.Price.Round(2)
	if raw.IsNegative() {
		return "", fmt.Errorf("%w: negative price %s", domain.ErrValidation, raw)
	}

	ct, err := s.applyRow(ctx, job, row, raw, batch)
	if errors.Is(err, catalogdomain.ErrConflict) {
		ct, err = s.applyRow(ctx, job, row, raw, batch)
		if errors.Is(err, catalogdomain.ErrConflict) {
			return "", fmt.Errorf("conflict persisted after retry: %w", err)
		}
	}
	return ct, err
}

func (s *IngestionService) applyRow(ctx context.Context, job *domain.UploadJob, row domain.BatchRow, raw decimal.Decimal, batch domain.Batch) (catalogdomain.ChangeType, error) {
	product, err := s.products.GetByArticle(ctx, row.ExternalArticle)
	existed := true
	if errors.Is(err, catalogdomain.ErrNotFound) {
		existed = false
		product = &catalogdomain.CatalogProduct{ExternalArticle: row.ExternalArticle}
	} else if err != nil {
		return "", err
	}

	ct := catalogdomain.Classify(existed, product.PriceRaw, raw)
	quoted, delta := s.policy.Quote(raw)
	now := time.Now()

	entry := &catalogdomain.HistoryEntry{
		UploadID:       job.JobID,
		Currency:       s.currency(row),
		SourceDate:     batch.SourceDate,
		SourceFilename: batch.Filename,
		ChangeType:     ct,
		ChangedAt:      now,
	}
	entry.SnapshotOld(product)
	entry.NewPriceRaw = decimal.NewNullDecimal(raw)
	entry.NewPriceQuoted = decimal.NewNullDecimal(quoted)
	entry.NewRoundDelta = decimal.NewNullDecimal(delta)

	product.ApplyParsedName(row.RawName, catalogdomain.ParseRawName(row.RawName))
	product.ApplyPrices(raw, quoted, delta, row.InStock, now, ct != catalogdomain.ChangeUnchanged)

	if err := s.products.Apply(ctx, catalogdomain.RowMutation{
		Product: product,
		History: entry,
		Created: !existed,
	}); err != nil {
		return "", err
	}

	s.publishChange(ctx, product, entry)
	return ct, nil
}

// removeAbsent 批次处理完后，之前在价格表而本次未出现的商品补记下架。
// 下架途中收到取消请求时返回 ErrCancelled，剩余商品保持原状。
func (s *IngestionService) removeAbsent(ctx context.Context, job *domain.UploadJob, h *jobHandle, prevListed map[string]struct{}, batch domain.Batch) error {
	for article := range prevListed {
		if h.cancel.Load() {
			return domain.ErrCancelled
		}

		product, err := s.products.GetByArticle(ctx, article)
		if err != nil {
			if errors.Is(err, catalogdomain.ErrStoreUnavailable) {
				return err
			}
			job.RecordFailure()
			h.failures = append(h.failures, domain.RowFailure{Index: -1, Article: article, Reason: err.Error()})
			continue
		}

		entry := &catalogdomain.HistoryEntry{
			UploadID:       job.JobID,
			Currency:       s.opts.DefaultCurrency,
			SourceDate:     batch.SourceDate,
			SourceFilename: batch.Filename,
			ChangeType:     catalogdomain.ChangeRemoved,
			ChangedAt:      time.Now(),
		}
		entry.SnapshotOld(product)
		product.SoftRemove()

		if err := s.products.Apply(ctx, catalogdomain.RowMutation{Product: product, History: entry}); err != nil {
			if errors.Is(err, catalogdomain.ErrStoreUnavailable) {
				return err
			}
			job.RecordFailure()
			h.failures = append(h.failures, domain.RowFailure{Index: -1, Article: article, Reason: err.Error()})
			s.countFailure(err)
			continue
		}

		job.RecordRow(catalogdomain.ChangeRemoved)
		s.countRow(catalogdomain.ChangeRemoved)

		if s.publisher != nil {
			event := catalogdomain.ProductRemovedEvent{
				ExternalArticle: product.ExternalArticle,
				UploadID:        job.JobID,
				Timestamp:       time.Now(),
			}
			if err := s.publisher.Publish(ctx, topicProductRemoved, product.ExternalArticle, event); err != nil {
				logger.Warn(ctx, "Failed to publish removal event", "article", product.ExternalArticle, "error", err)
			}
		}
	}
	return nil
}

// publishChange 行提交后尽力发布价格变动事件，失败只记日志
func (s *IngestionService) publishChange(ctx context.Context, product *catalogdomain.CatalogProduct, entry *catalogdomain.HistoryEntry) {
	if s.publisher == nil || entry.ChangeType == catalogdomain.ChangeUnchanged {
		return
	}
	event := catalogdomain.PriceChangedEvent{
		ExternalArticle: product.ExternalArticle,
		UploadID:        entry.UploadID,
		ChangeType:      entry.ChangeType,
		Currency:        entry.Currency,
		Timestamp:       entry.ChangedAt,
	}
	if entry.OldPriceRaw.Valid {
		event.OldPriceRaw = entry.OldPriceRaw.Decimal.String()
	}
	if entry.NewPriceRaw.Valid {
		event.NewPriceRaw = entry.NewPriceRaw.Decimal.String()
	}
	if entry.NewPriceQuoted.Valid {
		event.NewPriceQuoted = entry.NewPriceQuoted.Decimal.String()
	}
	if err := s.publisher.Publish(ctx, topicPriceChanged, product.ExternalArticle, event); err != nil {
		logger.Warn(ctx, "Failed to publish price change event", "article", product.ExternalArticle, "error", err)
	}
}

// flushProgress 周期性落库进度并刷新镜像，崩溃后留下可观测的部分状态
func (s *IngestionService) flushProgress(ctx context.Context, job *domain.UploadJob, h *jobHandle) {
	if err := s.jobs.Save(ctx, job); err != nil {
		logger.Warn(ctx, "Failed to persist job progress", "job_id", job.JobID, "error", err)
	}
	s.updateMirror(ctx, job, h.failures)
}

func (s *IngestionService) finalize(ctx context.Context, job *domain.UploadJob, h *jobHandle, status domain.JobStatus, errMsg string, start time.Time) {
	if status == domain.JobCancelled {
		job.CancelRequested = true
	}
	job.Finish(status, errMsg)
	if len(h.failures) > 0 {
		if data, err := json.Marshal(h.failures); err == nil {
			job.FailuresJSON = string(data)
		}
	}
	if err := s.jobs.Save(ctx, job); err != nil {
		logger.Error(ctx, "Failed to persist final job state", "job_id", job.JobID, "error", err)
	}
	s.updateMirror(ctx, job, h.failures)

	if s.metrics != nil {
		s.metrics.JobsTotal.WithLabelValues(job.Status.String()).Inc()
		s.metrics.JobDuration.Observe(time.Since(start).Seconds())
	}

	logger.Info(ctx, "Upload job finished",
		"job_id", job.JobID,
		"status", job.Status.String(),
		"processed", job.ProcessedRows,
		"new", job.NewCount,
		"increased", job.IncreasedCount,
		"decreased", job.DecreasedCount,
		"removed", job.RemovedCount,
		"unchanged", job.UnchangedCount,
		"failed", job.FailedCount,
		"duration", time.Since(start),
	)
}

func (s *IngestionService) updateMirror(ctx context.Context, job *domain.UploadJob, failures []domain.RowFailure) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.Set(ctx, mirrorKey(job.JobID), resultFrom(job, failures), progressMirrorTTL); err != nil {
		logger.Debug(ctx, "Failed to update progress mirror", "job_id", job.JobID, "error", err)
	}
}

func (s *IngestionService) currency(row domain.BatchRow) string {
	if row.Currency != "" {
		return row.Currency
	}
	return s.opts.DefaultCurrency
}

func (s *IngestionService) countRow(ct catalogdomain.ChangeType) {
	if s.metrics != nil {
		s.metrics.RowsProcessed.WithLabelValues(string(ct)).Inc()
	}
}

func (s *IngestionService) countFailure(err error) {
	if s.metrics == nil {
		return
	}
	reason := "other"
	switch {
	case errors.Is(err, domain.ErrValidation):
		reason = "validation"
	case errors.Is(err, catalogdomain.ErrConflict):
		reason = "conflict"
	}
	s.metrics.RowFailures.WithLabelValues(reason).Inc()
}

func mirrorKey(jobID string) string {
	return "pricecatalog:job:" + jobID
}

func resultFrom(job *domain.UploadJob, failures []domain.RowFailure) *domain.UploadJobResult {
	return &domain.UploadJobResult{
		JobID:           job.JobID,
		Status:          job.Status.String(),
		TotalRows:       job.TotalRows,
		ProcessedRows:   job.ProcessedRows,
		ProgressPercent: job.ProgressPercent,
		NewCount:        job.NewCount,
		IncreasedCount:  job.IncreasedCount,
		DecreasedCount:  job.DecreasedCount,
		RemovedCount:    job.RemovedCount,
		UnchangedCount:  job.UnchangedCount,
		FailedCount:     job.FailedCount,
		Failures:        failures,
		ErrorMessage:    job.ErrorMessage,
	}
}

func decodeFailures(data string) []domain.RowFailure {
	if data == "" {
		return nil
	}
	var failures []domain.RowFailure
	if err := json.Unmarshal([]byte(data), &failures); err != nil {
		return nil
	}
	return failures
}
