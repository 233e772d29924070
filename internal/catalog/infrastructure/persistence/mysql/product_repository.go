package mysql

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/wyfcoding/pricecatalog/internal/catalog/domain"
	"github.com/wyfcoding/pricecatalog/pkg/db"
	"gorm.io/gorm"
)

type productRepository struct {
	db      *db.DB
	indexer domain.SearchIndexer
}

func NewProductRepository(database *db.DB, indexer domain.SearchIndexer) domain.ProductRepository {
	return &productRepository{db: database, indexer: indexer}
}

func (r *productRepository) GetByArticle(ctx context.Context, article string) (*domain.CatalogProduct, error) {
	var p domain.CatalogProduct
	err := r.db.WithContext(ctx).Where("external_article = ?", article).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, wrapStoreErr(err)
	}
	return &p, nil
}

func (r *productRepository) GetByID(ctx context.Context, id uint) (*domain.CatalogProduct, error) {
	var p domain.CatalogProduct
	err := r.db.WithContext(ctx).First(&p, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, wrapStoreErr(err)
	}
	return &p, nil
}

func (r *productRepository) ArticlesInCurrentPricelist(ctx context.Context) ([]string, error) {
	var articles []string
	err := r.db.WithContext(ctx).
		Model(&domain.CatalogProduct{}).
		Where("in_current_pricelist = ?", true).
		Pluck("external_article", &articles).Error
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return articles, nil
}

// Apply 商品行、台账行与搜索索引在同一事务内提交，
// 避免搜索结果指向不存在或过期的商品。
func (r *productRepository) Apply(ctx context.Context, m domain.RowMutation) error {
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		if m.Created {
			if err := tx.Create(m.Product).Error; err != nil {
				if isDuplicateKey(err) {
					// 并发创建了同一编码的商品
					return domain.ErrConflict
				}
				return err
			}
		} else {
			res := tx.Model(&domain.CatalogProduct{}).
				Where("id = ? AND lock_version = ?", m.Product.ID, m.Product.LockVersion).
				Updates(updateValues(m.Product))
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return domain.ErrConflict
			}
			m.Product.LockVersion++
		}

		if m.History != nil {
			m.History.ProductID = m.Product.ID
			if err := tx.Create(m.History).Error; err != nil {
				return err
			}
		}

		return r.indexer.Sync(ctx, tx, m.Product)
	})
	return wrapStoreErr(err)
}

func (r *productRepository) Restore(ctx context.Context, p *domain.CatalogProduct) error {
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Save(p).Error; err != nil {
			return err
		}
		return r.indexer.Sync(ctx, tx, p)
	})
	return wrapStoreErr(err)
}

// updateValues 列出全部可变列，含零值布尔；lock_version 原子自增
func updateValues(p *domain.CatalogProduct) map[string]any {
	return map[string]any{
		"raw_name":              p.RawName,
		"brand":                 p.Brand,
		"product_name":          p.ProductName,
		"category":              p.Category,
		"volume_value":          p.VolumeValue,
		"volume_unit":           p.VolumeUnit,
		"gender":                p.Gender,
		"is_active":             p.IsActive,
		"price_raw":             p.PriceRaw,
		"price_quoted":          p.PriceQuoted,
		"round_delta":           p.RoundDelta,
		"in_stock":              p.InStock,
		"in_current_pricelist":  p.InCurrentPricelist,
		"last_price_change_at":  p.LastPriceChangeAt,
		"lock_version":          gorm.Expr("lock_version + 1"),
	}
}

func isDuplicateKey(err error) bool {
	var mysqlErr *gomysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

// wrapStoreErr 把连接级错误映射为 ErrStoreUnavailable，业务错误原样透传
func wrapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrNotFound) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, gorm.ErrInvalidDB) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return err
}
