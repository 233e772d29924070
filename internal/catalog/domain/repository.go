package domain

import "context"

// RowMutation 单行导入的变更单元：商品 + 台账 + 搜索索引在同一事务内落库
type RowMutation struct {
	Product *CatalogProduct
	History *HistoryEntry
	// Created 为 true 表示插入新商品，否则按乐观锁更新
	Created bool
}

// ProductRepository 价格目录存储
type ProductRepository interface {
	GetByArticle(ctx context.Context, article string) (*CatalogProduct, error)
	// ArticlesInCurrentPricelist 返回当前在价格表中的所有商品编码
	ArticlesInCurrentPricelist(ctx context.Context) ([]string, error)
	// Apply 在单个事务中写入商品行、台账行并同步搜索索引。
	// 更新时检测乐观锁版本，冲突返回 ErrConflict。
	Apply(ctx context.Context, m RowMutation) error
	// Restore 从回滚恢复的商品状态写回存储并同步搜索索引，不产生台账
	Restore(ctx context.Context, p *CatalogProduct) error
	GetByID(ctx context.Context, id uint) (*CatalogProduct, error)
}

// HistoryRepository 价格变动台账存储
type HistoryRepository interface {
	ListByProduct(ctx context.Context, productID uint, limit int) ([]HistoryEntry, error)
	ListByUpload(ctx context.Context, uploadID string, changeType ChangeType, offset, limit int) ([]HistoryEntry, int64, error)
	// ListAllByUpload 不分页返回一次上传的全部台账行，用于整笔回滚
	ListAllByUpload(ctx context.Context, uploadID string) ([]HistoryEntry, error)
	CountByUpload(ctx context.Context, uploadID string) (map[ChangeType]int64, error)
	// DeleteByUpload 仅用于整笔上传回滚
	DeleteByUpload(ctx context.Context, uploadID string) error
}

// SearchIndexer 搜索索引同步器。
// 索引是目录的派生投影，必须与目录变更在同一工作单元内提交，
// 不允许后台补偿产生可观测的陈旧窗口。
type SearchIndexer interface {
	// Sync 在给定事务内（tx 为 *gorm.DB）把商品行投影到搜索索引
	Sync(ctx context.Context, tx any, p *CatalogProduct) error
	// Search 全文检索，返回命中商品与总数
	Search(ctx context.Context, query string, offset, limit int) ([]CatalogProduct, int64, error)
}
