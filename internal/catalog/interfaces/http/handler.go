package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/pricecatalog/internal/catalog/application"
	"github.com/wyfcoding/pricecatalog/internal/catalog/domain"
	"github.com/wyfcoding/pricecatalog/pkg/logger"
	"github.com/wyfcoding/pricecatalog/pkg/response"
)

// HTTP 处理器
// 负责目录与台账的只读查询请求
type CatalogHandler struct {
	app *application.CatalogQueryService
}

func NewCatalogHandler(app *application.CatalogQueryService) *CatalogHandler {
	return &CatalogHandler{app: app}
}

// 注册路由
func (h *CatalogHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/price")
	{
		api.GET("/products/:article", h.GetProduct)
		api.GET("/products/:article/history", h.GetHistory)
		api.GET("/search", h.Search)
	}
}

// GetProduct 查询单个商品当前价格
func (h *CatalogHandler) GetProduct(c *gin.Context) {
	article := c.Param("article")
	if article == "" {
		response.ErrorWithStatus(c, http.StatusBadRequest, "article is required", "")
		return
	}

	product, err := h.app.GetProduct(c.Request.Context(), article)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			response.ErrorWithStatus(c, http.StatusNotFound, "product not found", "")
			return
		}
		logger.Error(c.Request.Context(), "Failed to get product", "article", article, "error", err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
		return
	}

	response.Success(c, product)
}

// GetHistory 查询商品价格变动历史
func (h *CatalogHandler) GetHistory(c *gin.Context) {
	article := c.Param("article")
	if article == "" {
		response.ErrorWithStatus(c, http.StatusBadRequest, "article is required", "")
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid limit", "")
		return
	}

	history, err := h.app.GetHistory(c.Request.Context(), article, limit)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			response.ErrorWithStatus(c, http.StatusNotFound, "product not found", "")
			return
		}
		logger.Error(c.Request.Context(), "Failed to get product history", "article", article, "error", err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
		return
	}

	response.Success(c, history)
}

// Search 全文检索目录
func (h *CatalogHandler) Search(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		response.ErrorWithStatus(c, http.StatusBadRequest, "q is required", "")
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid limit", "")
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid offset", "")
		return
	}

	result, err := h.app.Search(c.Request.Context(), query, offset, limit)
	if err != nil {
		logger.Error(c.Request.Context(), "Search failed", "query", query, "error", err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
		return
	}

	response.Success(c, result)
}
