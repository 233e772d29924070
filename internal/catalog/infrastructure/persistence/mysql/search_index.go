package mysql

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wyfcoding/pricecatalog/internal/catalog/domain"
	"github.com/wyfcoding/pricecatalog/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SearchDocument 目录的只读搜索投影，派生结构，从不作为事实来源
type SearchDocument struct {
	ID              uint   `gorm:"primarykey"`
	ProductID       uint   `gorm:"column:product_id;uniqueIndex;not null"`
	ExternalArticle string `gorm:"column:external_article;type:varchar(64);index:idx_search_fulltext,class:FULLTEXT"`
	Brand           string `gorm:"column:brand;type:varchar(255);index:idx_search_fulltext,class:FULLTEXT"`
	ProductName     string `gorm:"column:product_name;type:varchar(255);index:idx_search_fulltext,class:FULLTEXT"`
	RawName         string `gorm:"column:raw_name;type:varchar(512);index:idx_search_fulltext,class:FULLTEXT"`
	// 下架过滤所需的标志，与商品行一起更新
	InCurrentPricelist bool `gorm:"column:in_current_pricelist;not null;default:false;index"`
	IsActive           bool `gorm:"column:is_active;not null;default:false;index"`
	UpdatedAt          time.Time
}

func (SearchDocument) TableName() string { return "catalog_search_index" }

type searchIndex struct {
	db *db.DB
	// 软下架的商品是否仍可被搜索到（环境策略，走配置）
	includeRemoved bool
}

func NewSearchIndex(database *db.DB, includeRemoved bool) domain.SearchIndexer {
	return &searchIndex{db: database, includeRemoved: includeRemoved}
}

// Sync 把商品行投影到搜索索引，必须在目录变更的同一事务内调用
func (s *searchIndex) Sync(ctx context.Context, tx any, p *domain.CatalogProduct) error {
	gormTx, ok := tx.(*gorm.DB)
	if !ok {
		return fmt.Errorf("tx must be *gorm.DB, got %T", tx)
	}

	doc := SearchDocument{
		ProductID:          p.ID,
		ExternalArticle:    p.ExternalArticle,
		Brand:              p.Brand,
		ProductName:        p.ProductName,
		RawName:            p.RawName,
		InCurrentPricelist: p.InCurrentPricelist,
		IsActive:           p.IsActive,
	}

	return gormTx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "product_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"external_article", "brand", "product_name", "raw_name",
			"in_current_pricelist", "is_active", "updated_at",
		}),
	}).Create(&doc).Error
}

func (s *searchIndex) Search(ctx context.Context, query string, offset, limit int) ([]domain.CatalogProduct, int64, error) {
	tokens := tokenize(query)

	base := s.db.WithContext(ctx).Model(&SearchDocument{})
	if cond, args := visibilityFilter(s.includeRemoved); cond != "" {
		base = base.Where(cond, args...)
	}

	if len(tokens) > 0 {
		if s.db.Dialector.Name() == "mysql" {
			base = base.Where(
				"MATCH(external_article, brand, product_name, raw_name) AGAINST (? IN BOOLEAN MODE)",
				booleanQuery(tokens),
			)
		} else {
			for _, tok := range tokens {
				like := "%" + tok + "%"
				base = base.Where(
					"external_article LIKE ? OR brand LIKE ? OR product_name LIKE ? OR raw_name LIKE ?",
					like, like, like, like,
				)
			}
		}
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, wrapStoreErr(err)
	}

	var ids []uint
	err := base.Order("product_id DESC").
		Offset(offset).Limit(limit).
		Pluck("product_id", &ids).Error
	if err != nil {
		return nil, 0, wrapStoreErr(err)
	}
	if len(ids) == 0 {
		return nil, total, nil
	}

	var products []domain.CatalogProduct
	err = s.db.WithContext(ctx).
		Where("id IN ?", ids).
		Order("id DESC").
		Find(&products).Error
	if err != nil {
		return nil, 0, wrapStoreErr(err)
	}
	return products, total, nil
}

// visibilityFilter 返回搜索的可见性条件。默认只返回仍在价格表或
// 仍激活的商品；includeRemoved 打开后不加任何过滤。
func visibilityFilter(includeRemoved bool) (string, []any) {
	if includeRemoved {
		return "", nil
	}
	return "in_current_pricelist = ? OR is_active = ?", []any{true, true}
}

func tokenize(query string) []string {
	var tokens []string
	for _, tok := range strings.Fields(strings.ReplaceAll(query, ",", " ")) {
		if tok != "" {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

// booleanQuery 构造 BOOLEAN MODE 查询：所有词条必须命中，支持前缀匹配
func booleanQuery(tokens []string) string {
	parts := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		parts = append(parts, "+"+tok+"*")
	}
	return strings.Join(parts, " ")
}
