package domain

import (
	"time"

	"github.com/wyfcoding/pricecatalog/internal/catalog/domain"
	"gorm.io/gorm"
)

// JobStatus 上传任务状态
type JobStatus int8

const (
	JobPending    JobStatus = 1
	JobInProgress JobStatus = 2
	JobDone       JobStatus = 3
	JobFailed     JobStatus = 4
	JobCancelled  JobStatus = 5
)

func (s JobStatus) String() string {
	switch s {
	case JobPending:
		return "PENDING"
	case JobInProgress:
		return "IN_PROGRESS"
	case JobDone:
		return "DONE"
	case JobFailed:
		return "FAILED"
	case JobCancelled:
		return "CANCELLED"
	}
	return "UNKNOWN"
}

// IsTerminal 终态吸收：done/failed/cancelled 之后不再发生任何转移
func (s JobStatus) IsTerminal() bool {
	return s == JobDone || s == JobFailed || s == JobCancelled
}

// UploadJob 一次价格表导入任务。
// 计数器只归执行中的任务实例所有，其他任何上下文不得修改。
type UploadJob struct {
	gorm.Model
	JobID      string    `gorm:"column:job_id;type:varchar(36);uniqueIndex;not null"`
	Filename   string    `gorm:"column:filename;type:varchar(255)"`
	SourceDate time.Time `gorm:"column:source_date;type:date"`
	// 触发者标识，仅用于审计，对本核心不透明
	ActorID string    `gorm:"column:actor_id;type:varchar(64)"`
	Status  JobStatus `gorm:"column:status;type:tinyint;not null;default:1"`

	TotalRows      int `gorm:"column:total_rows;not null;default:0"`
	ProcessedRows  int `gorm:"column:processed_rows;not null;default:0"`
	NewCount       int `gorm:"column:new_count;not null;default:0"`
	IncreasedCount int `gorm:"column:increased_count;not null;default:0"`
	DecreasedCount int `gorm:"column:decreased_count;not null;default:0"`
	RemovedCount   int `gorm:"column:removed_count;not null;default:0"`
	UnchangedCount int `gorm:"column:unchanged_count;not null;default:0"`
	FailedCount    int `gorm:"column:failed_count;not null;default:0"`

	ProgressPercent int  `gorm:"column:progress_percent;not null;default:0"`
	CancelRequested bool `gorm:"column:cancel_requested;not null;default:false"`

	// 行级失败明细，JSON 序列化存储
	FailuresJSON string `gorm:"column:failures_json;type:text"`
	ErrorMessage string `gorm:"column:error_message;type:varchar(512)"`

	StartedAt  *time.Time `gorm:"column:started_at"`
	FinishedAt *time.Time `gorm:"column:finished_at"`
}

func (UploadJob) TableName() string { return "price_uploads" }

// NewUploadJob 创建待执行任务
func NewUploadJob(jobID, filename, actorID string, sourceDate time.Time, totalRows int) *UploadJob {
	return &UploadJob{
		JobID:      jobID,
		Filename:   filename,
		ActorID:    actorID,
		SourceDate: sourceDate,
		Status:     JobPending,
		TotalRows:  totalRows,
	}
}

// Start pending -> in_progress
func (j *UploadJob) Start() {
	if j.Status == JobPending {
		j.Status = JobInProgress
		now := time.Now()
		j.StartedAt = &now
	}
}

// Finish 进入终态，重复调用是空操作
func (j *UploadJob) Finish(status JobStatus, errMsg string) {
	if j.Status.IsTerminal() || !status.IsTerminal() {
		return
	}
	j.Status = status
	j.ErrorMessage = errMsg
	now := time.Now()
	j.FinishedAt = &now
}

// RecordRow 记录一行成功落库的分类并推进进度。
// processed_rows 单调不减且不超过 total_rows。
func (j *UploadJob) RecordRow(ct domain.ChangeType) {
	if j.Status != JobInProgress {
		return
	}
	switch ct {
	case domain.ChangeNew:
		j.NewCount++
	case domain.ChangeIncreased:
		j.IncreasedCount++
	case domain.ChangeDecreased:
		j.DecreasedCount++
	case domain.ChangeRemoved:
		j.RemovedCount++
		// 下架补记不属于批次行，不推进 processed_rows
		return
	case domain.ChangeUnchanged:
		j.UnchangedCount++
	}
	if j.ProcessedRows < j.TotalRows {
		j.ProcessedRows++
	}
	j.refreshProgress()
}

// RecordFailure 记录一行失败；失败不推进 processed_rows
func (j *UploadJob) RecordFailure() {
	if j.Status != JobInProgress {
		return
	}
	j.FailedCount++
}

func (j *UploadJob) refreshProgress() {
	if j.TotalRows <= 0 {
		j.ProgressPercent = 100
		return
	}
	pct := j.ProcessedRows * 100 / j.TotalRows
	if pct > 100 {
		pct = 100
	}
	// 进度在单次运行内单调不减
	if pct > j.ProgressPercent {
		j.ProgressPercent = pct
	}
}
