package domain

import "context"

// UploadJobRepository 上传任务存储
type UploadJobRepository interface {
	Save(ctx context.Context, job *UploadJob) error
	GetByJobID(ctx context.Context, jobID string) (*UploadJob, error)
	// RequestCancel 只置取消标志位，不触碰任务其余字段，
	// 避免覆盖执行协程正在推进的计数器
	RequestCancel(ctx context.Context, jobID string) error
	ListRecent(ctx context.Context, limit int) ([]UploadJob, error)
	Delete(ctx context.Context, jobID string) error
}
