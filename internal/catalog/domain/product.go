package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CatalogProduct 价格目录商品，按 external_article 唯一。
// 行从不物理删除：缺席于某次上传只做软下架，保留历史关联。
type CatalogProduct struct {
	gorm.Model
	ExternalArticle string              `gorm:"column:external_article;type:varchar(64);uniqueIndex;not null"`
	RawName         string              `gorm:"column:raw_name;type:text"`
	Brand           string              `gorm:"column:brand;type:varchar(255);index"`
	ProductName     string              `gorm:"column:product_name;type:varchar(255)"`
	Category        string              `gorm:"column:category;type:varchar(100);index"`
	VolumeValue     decimal.NullDecimal `gorm:"column:volume_value;type:decimal(10,2)"`
	VolumeUnit      string              `gorm:"column:volume_unit;type:varchar(10)"`
	Gender          string              `gorm:"column:gender;type:varchar(1)"`
	IsActive        bool                `gorm:"column:is_active;not null;default:true;index"`
	// 价格字段仅在商品从未出现于成功完成的上传中时为 NULL
	PriceRaw           decimal.NullDecimal `gorm:"column:price_raw;type:decimal(10,2)"`
	PriceQuoted        decimal.NullDecimal `gorm:"column:price_quoted;type:decimal(10,2)"`
	RoundDelta         decimal.NullDecimal `gorm:"column:round_delta;type:decimal(10,2)"`
	InStock            bool                `gorm:"column:in_stock;not null;default:false"`
	InCurrentPricelist bool                `gorm:"column:in_current_pricelist;not null;default:false;index"`
	LastPriceChangeAt  *time.Time          `gorm:"column:last_price_change_at"`
	// 乐观锁版本号，并发写同一商品时用于冲突检测
	LockVersion int64 `gorm:"column:lock_version;not null;default:0"`
}

func (CatalogProduct) TableName() string { return "price_products" }

// ApplyPrices 写入本次上传的价格字段并恢复上架标志
func (p *CatalogProduct) ApplyPrices(raw, quoted, delta decimal.Decimal, inStock bool, changedAt time.Time, priceChanged bool) {
	p.PriceRaw = decimal.NewNullDecimal(raw)
	p.PriceQuoted = decimal.NewNullDecimal(quoted)
	p.RoundDelta = decimal.NewNullDecimal(delta)
	p.IsActive = true
	p.InStock = inStock
	p.InCurrentPricelist = true
	if priceChanged {
		t := changedAt
		p.LastPriceChangeAt = &t
	}
}

// ApplyParsedName 用解析出的展示字段补全商品；解析为空的字段保留旧值
func (p *CatalogProduct) ApplyParsedName(rawName string, parsed ParsedName) {
	p.RawName = rawName
	if parsed.ProductName != "" {
		p.ProductName = parsed.ProductName
	} else if rawName != "" {
		p.ProductName = rawName
	}
	if parsed.Brand != "" {
		p.Brand = parsed.Brand
	}
	if parsed.Category != "" {
		p.Category = parsed.Category
	}
	if parsed.VolumeValue.Valid {
		p.VolumeValue = parsed.VolumeValue
	}
	if parsed.VolumeUnit != "" {
		p.VolumeUnit = parsed.VolumeUnit
	}
	if parsed.Gender != "" {
		p.Gender = parsed.Gender
	}
}

// SoftRemove 软下架：不在当前价格表，价格字段保留最后已知值
func (p *CatalogProduct) SoftRemove() {
	p.IsActive = false
	p.InStock = false
	p.InCurrentPricelist = false
}
