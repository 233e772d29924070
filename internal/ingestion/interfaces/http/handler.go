package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	catalogapp "github.com/wyfcoding/pricecatalog/internal/catalog/application"
	"github.com/wyfcoding/pricecatalog/internal/ingestion/application"
	"github.com/wyfcoding/pricecatalog/internal/ingestion/domain"
	"github.com/wyfcoding/pricecatalog/pkg/logger"
	"github.com/wyfcoding/pricecatalog/pkg/response"
)

// HTTP 处理器
// 负责价格表上传任务的提交、进度查询、取消与回滚
type IngestionHandler struct {
	app     *application.IngestionService
	queries *catalogapp.CatalogQueryService
}

func NewIngestionHandler(app *application.IngestionService, queries *catalogapp.CatalogQueryService) *IngestionHandler {
	return &IngestionHandler{app: app, queries: queries}
}

// 注册路由
func (h *IngestionHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/price")
	{
		api.POST("/uploads", h.Upload)
		api.GET("/uploads", h.ListUploads)
		api.GET("/uploads/:id", h.GetUpload)
		api.GET("/uploads/:id/changes", h.GetChanges)
		api.POST("/uploads/:id/cancel", h.Cancel)
		api.DELETE("/uploads/:id", h.Revert)
	}
}

type uploadRowRequest struct {
	ExternalArticle string `json:"external_article"`
	RawName         string `json:"raw_name"`
	// Price 十进制字符串；缺失或非法的行按校验失败计入结果，不拒绝整个请求
	Price    *string `json:"price"`
	Currency string  `json:"currency"`
	InStock  *bool   `json:"in_stock"`
}

type uploadRequest struct {
	Filename   string             `json:"filename"`
	SourceDate string             `json:"source_date"`
	ActorID    string             `json:"actor_id"`
	Rows       []uploadRowRequest `json:"rows" binding:"required"`
}

// Upload 提交一次价格表上传。默认异步执行并返回任务 ID，
// wait=true 时同步执行并返回最终结果。
func (h *IngestionHandler) Upload(c *gin.Context) {
	var req uploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	batch := domain.Batch{
		Filename: req.Filename,
		ActorID:  req.ActorID,
		Rows:     make([]domain.BatchRow, 0, len(req.Rows)),
	}
	if req.SourceDate != "" {
		d, err := time.Parse("2006-01-02", req.SourceDate)
		if err != nil {
			response.ErrorWithStatus(c, http.StatusBadRequest, "invalid source_date, expected YYYY-MM-DD", "")
			return
		}
		batch.SourceDate = d
	}

	for _, row := range req.Rows {
		br := domain.BatchRow{
			ExternalArticle: row.ExternalArticle,
			RawName:         row.RawName,
			Currency:        row.Currency,
			InStock:         true,
		}
		if row.InStock != nil {
			br.InStock = *row.InStock
		}
		if row.Price != nil {
			if p, err := decimal.NewFromString(*row.Price); err == nil {
				br.Price = &p
			}
		}
		batch.Rows = append(batch.Rows, br)
	}

	if c.Query("wait") == "true" {
		result, err := h.app.Run(c.Request.Context(), batch)
		if err != nil {
			h.writeError(c, err)
			return
		}
		response.Success(c, result)
		return
	}

	jobID, err := h.app.StartUpload(c.Request.Context(), batch)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Accepted(c, gin.H{"job_id": jobID})
}

// GetUpload 查询任务状态与进度
func (h *IngestionHandler) GetUpload(c *gin.Context) {
	jobID := c.Param("id")
	result, err := h.app.GetJob(c.Request.Context(), jobID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, result)
}

// ListUploads 最近的上传任务
func (h *IngestionHandler) ListUploads(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid limit", "")
		return
	}

	jobs, err := h.app.ListRecent(c.Request.Context(), limit)
	if err != nil {
		logger.Error(c.Request.Context(), "Failed to list uploads", "error", err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
		return
	}
	response.Success(c, jobs)
}

// GetChanges 一次上传产生的价格变动明细
func (h *IngestionHandler) GetChanges(c *gin.Context) {
	jobID := c.Param("id")
	changeType := c.Query("change_type")

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid limit", "")
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid offset", "")
		return
	}

	result, err := h.queries.UploadChanges(c.Request.Context(), jobID, changeType, offset, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, result)
}

// Cancel 请求取消运行中的任务
func (h *IngestionHandler) Cancel(c *gin.Context) {
	jobID := c.Param("id")
	if err := h.app.Cancel(c.Request.Context(), jobID); err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, gin.H{"job_id": jobID, "cancel_requested": true})
}

// Revert 回滚最近一次上传
func (h *IngestionHandler) Revert(c *gin.Context) {
	jobID := c.Param("id")
	if err := h.app.RevertUpload(c.Request.Context(), jobID); err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, gin.H{"job_id": jobID, "reverted": true})
}

func (h *IngestionHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		response.ErrorWithStatus(c, http.StatusNotFound, "upload job not found", "")
	case errors.Is(err, domain.ErrJobAlreadyRunning):
		response.ErrorWithStatus(c, http.StatusConflict, "another upload is already running", "")
	case errors.Is(err, domain.ErrNotLatestUpload):
		response.ErrorWithStatus(c, http.StatusConflict, "only the latest upload can be reverted", "")
	case errors.Is(err, domain.ErrEmptyBatch), errors.Is(err, domain.ErrValidation):
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), "")
	default:
		logger.Error(c.Request.Context(), "Upload request failed", "error", err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
	}
}
