package domain

import "errors"

var (
	// ErrNotFound 商品不存在
	ErrNotFound = errors.New("catalog: product not found")
	// ErrConflict 并发修改冲突（乐观锁版本不匹配）
	ErrConflict = errors.New("catalog: concurrent modification conflict")
	// ErrStoreUnavailable 底层存储不可用，调用方应整体中止
	ErrStoreUnavailable = errors.New("catalog: store unavailable")
)
