package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BatchRow 已解析批次中的一行价格观测。
// 文件格式解析发生在本核心之外，这里只接收结构化行。
type BatchRow struct {
	ExternalArticle string
	RawName         string
	// Price 为空表示该行没有有效价格，按校验失败跳过
	Price    *decimal.Decimal
	Currency string
	InStock  bool
}

// Batch 一次价格表上传的完整批次，行序即到达序
type Batch struct {
	Filename   string
	SourceDate time.Time
	ActorID    string
	Rows       []BatchRow
}

// RowFailure 行级失败，Index 为批次内行号（下架补记为 -1）
type RowFailure struct {
	Index   int    `json:"index"`
	Article string `json:"article,omitempty"`
	Reason  string `json:"reason"`
}

// UploadJobResult 任务最终结果：每一行都映射到
// 已分类落库 / 校验失败 / 冲突失败 / 因取消未处理 之一。
type UploadJobResult struct {
	JobID           string       `json:"job_id"`
	Status          string       `json:"status"`
	TotalRows       int          `json:"total_rows"`
	ProcessedRows   int          `json:"processed_rows"`
	ProgressPercent int          `json:"progress_percent"`
	NewCount        int          `json:"new_count"`
	IncreasedCount  int          `json:"increased_count"`
	DecreasedCount  int          `json:"decreased_count"`
	RemovedCount    int          `json:"removed_count"`
	UnchangedCount  int          `json:"unchanged_count"`
	FailedCount     int          `json:"failed_count"`
	Failures        []RowFailure `json:"failures,omitempty"`
	ErrorMessage    string       `json:"error_message,omitempty"`
}
