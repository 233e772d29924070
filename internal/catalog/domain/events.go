package domain

import (
	"context"
	"time"
)

// PriceChangedEvent 商品价格变动事件
type PriceChangedEvent struct {
	ExternalArticle string     `json:"external_article"`
	UploadID        string     `json:"upload_id"`
	ChangeType      ChangeType `json:"change_type"`
	OldPriceRaw     string     `json:"old_price_raw,omitempty"`
	NewPriceRaw     string     `json:"new_price_raw,omitempty"`
	NewPriceQuoted  string     `json:"new_price_quoted,omitempty"`
	Currency        string     `json:"currency"`
	Timestamp       time.Time  `json:"timestamp"`
}

// ProductRemovedEvent 商品软下架事件
type ProductRemovedEvent struct {
	ExternalArticle string    `json:"external_article"`
	UploadID        string    `json:"upload_id"`
	Timestamp       time.Time `json:"timestamp"`
}

// EventPublisher 领域事件发布者
type EventPublisher interface {
	Publish(ctx context.Context, topic string, key string, event any) error
}
