package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ChangeType 一次上传中商品价格变动的分类
type ChangeType string

const (
	ChangeNew       ChangeType = "NEW"
	ChangeIncreased ChangeType = "INCREASED"
	ChangeDecreased ChangeType = "DECREASED"
	ChangeRemoved   ChangeType = "REMOVED"
	ChangeUnchanged ChangeType = "UNCHANGED"
)

// Classify 根据原价对比与前后成员关系得出分类。
// 纯函数：同样的输入永远给出同样的分类。
// 对比基于原始价格而非报价，避免舍入吞掉小幅变动。
func Classify(existed bool, oldRaw decimal.NullDecimal, newRaw decimal.Decimal) ChangeType {
	if !existed {
		return ChangeNew
	}
	// 商品存在但从未有过成功导入的价格：按上涨处理
	if !oldRaw.Valid {
		return ChangeIncreased
	}
	switch newRaw.Cmp(oldRaw.Decimal) {
	case 1:
		return ChangeIncreased
	case -1:
		return ChangeDecreased
	default:
		return ChangeUnchanged
	}
}

// HistoryEntry 价格变动台账，每 (商品, 上传) 一行，写入后不可变。
type HistoryEntry struct {
	gorm.Model
	ProductID      uint                `gorm:"column:product_id;index;not null"`
	UploadID       string              `gorm:"column:upload_id;type:varchar(36);index;not null"`
	OldPriceRaw    decimal.NullDecimal `gorm:"column:old_price_raw;type:decimal(10,2)"`
	NewPriceRaw    decimal.NullDecimal `gorm:"column:new_price_raw;type:decimal(10,2)"`
	OldPriceQuoted decimal.NullDecimal `gorm:"column:old_price_quoted;type:decimal(10,2)"`
	NewPriceQuoted decimal.NullDecimal `gorm:"column:new_price_quoted;type:decimal(10,2)"`
	OldRoundDelta  decimal.NullDecimal `gorm:"column:old_round_delta;type:decimal(10,2)"`
	NewRoundDelta  decimal.NullDecimal `gorm:"column:new_round_delta;type:decimal(10,2)"`
	Currency       string              `gorm:"column:currency;type:varchar(8);default:'RUB'"`
	SourceDate     time.Time           `gorm:"column:source_date;type:date"`
	SourceFilename string              `gorm:"column:source_filename;type:varchar(255)"`
	ChangeType     ChangeType          `gorm:"column:change_type;type:varchar(10);index;not null"`
	ChangedAt      time.Time           `gorm:"column:changed_at;not null"`
}

func (HistoryEntry) TableName() string { return "price_history" }

// SnapshotOld 把商品当前价格记为台账的旧值
func (h *HistoryEntry) SnapshotOld(p *CatalogProduct) {
	h.OldPriceRaw = p.PriceRaw
	h.OldPriceQuoted = p.PriceQuoted
	h.OldRoundDelta = p.RoundDelta
}
