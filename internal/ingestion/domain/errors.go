package domain

import "errors"

var (
	// ErrValidation 批次行格式非法（编码为空、价格缺失等）
	ErrValidation = errors.New("ingestion: invalid batch row")
	// ErrCancelled 任务被取消；这是合法终态，不是失败
	ErrCancelled = errors.New("ingestion: job cancelled")
	// ErrJobAlreadyRunning 同一时刻只允许一个导入任务写目录
	ErrJobAlreadyRunning = errors.New("ingestion: another upload job is already running")
	// ErrJobNotFound 任务不存在
	ErrJobNotFound = errors.New("ingestion: upload job not found")
	// ErrNotLatestUpload 只允许回滚最近一次上传
	ErrNotLatestUpload = errors.New("ingestion: only the most recent upload can be reverted")
	// ErrEmptyBatch 空批次
	ErrEmptyBatch = errors.New("ingestion: batch contains no rows")
)
