package application

import (
	"context"

	"github.com/wyfcoding/pricecatalog/internal/catalog/domain"
	"github.com/wyfcoding/pricecatalog/pkg/metrics"
)

// ProductView 商品查询视图，价格以字符串输出避免浮点表示
type ProductView struct {
	ExternalArticle    string  `json:"external_article"`
	RawName            string  `json:"raw_name"`
	Brand              string  `json:"brand,omitempty"`
	ProductName        string  `json:"product_name"`
	Category           string  `json:"category,omitempty"`
	VolumeValue        string  `json:"volume_value,omitempty"`
	VolumeUnit         string  `json:"volume_unit,omitempty"`
	Gender             string  `json:"gender,omitempty"`
	IsActive           bool    `json:"is_active"`
	InStock            bool    `json:"in_stock"`
	InCurrentPricelist bool    `json:"in_current_pricelist"`
	PriceRaw           *string `json:"price_raw"`
	PriceQuoted        *string `json:"price_quoted"`
	RoundDelta         *string `json:"round_delta"`
	LastPriceChangeAt  *string `json:"last_price_change_at,omitempty"`
}

// HistoryView 台账行视图
type HistoryView struct {
	UploadID       string  `json:"upload_id"`
	ChangeType     string  `json:"change_type"`
	OldPriceRaw    *string `json:"old_price_raw"`
	NewPriceRaw    *string `json:"new_price_raw"`
	OldPriceQuoted *string `json:"old_price_quoted"`
	NewPriceQuoted *string `json:"new_price_quoted"`
	Currency       string  `json:"currency"`
	SourceDate     string  `json:"source_date"`
	SourceFilename string  `json:"source_filename,omitempty"`
	ChangedAt      string  `json:"changed_at"`
}

// SearchResult 搜索结果页
type SearchResult struct {
	Total    int64         `json:"total"`
	Offset   int           `json:"offset"`
	Limit    int           `json:"limit"`
	Products []ProductView `json:"products"`
}

// ChangesResult 一次上传的变动页
type ChangesResult struct {
	Total   int64            `json:"total"`
	Counts  map[string]int64 `json:"counts"`
	Entries []HistoryView    `json:"entries"`
}

// CatalogQueryService 目录只读查询
type CatalogQueryService struct {
	products domain.ProductRepository
	history  domain.HistoryRepository
	indexer  domain.SearchIndexer
	metrics  *metrics.Metrics
	pageSize int
}

func NewCatalogQueryService(
	products domain.ProductRepository,
	history domain.HistoryRepository,
	indexer domain.SearchIndexer,
	m *metrics.Metrics,
	pageSize int,
) *CatalogQueryService {
	if pageSize <= 0 {
		pageSize = 20
	}
	return &CatalogQueryService{
		products: products,
		history:  history,
		indexer:  indexer,
		metrics:  m,
		pageSize: pageSize,
	}
}

// GetProduct 按商品编码查当前价格与属性
func (s *CatalogQueryService) GetProduct(ctx context.Context, article string) (*ProductView, error) {
	product, err := s.products.GetByArticle(ctx, article)
	if err != nil {
		return nil, err
	}
	view := productView(product)
	return &view, nil
}

// GetHistory 商品价格变动时间线，新在前
func (s *CatalogQueryService) GetHistory(ctx context.Context, article string, limit int) ([]HistoryView, error) {
	product, err := s.products.GetByArticle(ctx, article)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	entries, err := s.history.ListByProduct(ctx, product.ID, limit)
	if err != nil {
		return nil, err
	}

	views := make([]HistoryView, 0, len(entries))
	for i := range entries {
		views = append(views, historyView(&entries[i]))
	}
	return views, nil
}

// Search 全文检索目录
func (s *CatalogQueryService) Search(ctx context.Context, query string, offset, limit int) (*SearchResult, error) {
	if limit <= 0 || limit > 100 {
		limit = s.pageSize
	}
	if offset < 0 {
		offset = 0
	}
	if s.metrics != nil {
		s.metrics.SearchQueries.Inc()
	}

	products, total, err := s.indexer.Search(ctx, query, offset, limit)
	if err != nil {
		return nil, err
	}

	views := make([]ProductView, 0, len(products))
	for i := range products {
		views = append(views, productView(&products[i]))
	}
	return &SearchResult{Total: total, Offset: offset, Limit: limit, Products: views}, nil
}

// UploadChanges 一次上传产生的变动明细，可按分类过滤
func (s *CatalogQueryService) UploadChanges(ctx context.Context, uploadID string, changeType string, offset, limit int) (*ChangesResult, error) {
	if limit <= 0 || limit > 200 {
		limit = s.pageSize
	}
	if offset < 0 {
		offset = 0
	}

	entries, total, err := s.history.ListByUpload(ctx, uploadID, domain.ChangeType(changeType), offset, limit)
	if err != nil {
		return nil, err
	}
	counts, err := s.history.CountByUpload(ctx, uploadID)
	if err != nil {
		return nil, err
	}

	result := &ChangesResult{
		Total:   total,
		Counts:  make(map[string]int64, len(counts)),
		Entries: make([]HistoryView, 0, len(entries)),
	}
	for ct, n := range counts {
		result.Counts[string(ct)] = n
	}
	for i := range entries {
		result.Entries = append(result.Entries, historyView(&entries[i]))
	}
	return result, nil
}

func productView(p *domain.CatalogProduct) ProductView {
	view := ProductView{
		ExternalArticle:    p.ExternalArticle,
		RawName:            p.RawName,
		Brand:              p.Brand,
		ProductName:        p.ProductName,
		Category:           p.Category,
		VolumeUnit:         p.VolumeUnit,
		Gender:             p.Gender,
		IsActive:           p.IsActive,
		InStock:            p.InStock,
		InCurrentPricelist: p.InCurrentPricelist,
	}
	if p.VolumeValue.Valid {
		view.VolumeValue = p.VolumeValue.Decimal.String()
	}
	if p.PriceRaw.Valid {
		v := p.PriceRaw.Decimal.StringFixed(2)
		view.PriceRaw = &v
	}
	if p.PriceQuoted.Valid {
		v := p.PriceQuoted.Decimal.StringFixed(2)
		view.PriceQuoted = &v
	}
	if p.RoundDelta.Valid {
		v := p.RoundDelta.Decimal.StringFixed(2)
		view.RoundDelta = &v
	}
	if p.LastPriceChangeAt != nil {
		v := p.LastPriceChangeAt.Format("2006-01-02T15:04:05Z07:00")
		view.LastPriceChangeAt = &v
	}
	return view
}

func historyView(h *domain.HistoryEntry) HistoryView {
	view := HistoryView{
		UploadID:       h.UploadID,
		ChangeType:     string(h.ChangeType),
		Currency:       h.Currency,
		SourceDate:     h.SourceDate.Format("2006-01-02"),
		SourceFilename: h.SourceFilename,
		ChangedAt:      h.ChangedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if h.OldPriceRaw.Valid {
		v := h.OldPriceRaw.Decimal.StringFixed(2)
		view.OldPriceRaw = &v
	}
	if h.NewPriceRaw.Valid {
		v := h.NewPriceRaw.Decimal.StringFixed(2)
		view.NewPriceRaw = &v
	}
	if h.OldPriceQuoted.Valid {
		v := h.OldPriceQuoted.Decimal.StringFixed(2)
		view.OldPriceQuoted = &v
	}
	if h.NewPriceQuoted.Valid {
		v := h.NewPriceQuoted.Decimal.StringFixed(2)
		view.NewPriceQuoted = &v
	}
	return view
}
