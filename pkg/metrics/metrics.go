// Package metrics 提供 Prometheus 指标定义与 /metrics 端点
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wyfcoding/pricecatalog/pkg/logger"
)

// Metrics 指标集合
type Metrics struct {
	// 导入行计数（按分类）
	RowsProcessed *prometheus.CounterVec
	// 行级失败计数（按原因）
	RowFailures *prometheus.CounterVec
	// 完结任务计数（按终态）
	JobsTotal *prometheus.CounterVec
	// 任务耗时
	JobDuration prometheus.Histogram
	// 正在运行的任务数
	JobsRunning prometheus.Gauge
	// 搜索请求计数
	SearchQueries prometheus.Counter

	registry *prometheus.Registry
}

// New 创建指标实例并注册到独立 registry
func New(serviceName string) *Metrics {
	m := &Metrics{
		RowsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pricecatalog",
			Subsystem: serviceName,
			Name:      "rows_processed_total",
			Help:      "Total batch rows processed, by classification",
		}, []string{"classification"}),
		RowFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pricecatalog",
			Subsystem: serviceName,
			Name:      "row_failures_total",
			Help:      "Total batch rows that failed, by reason",
		}, []string{"reason"}),
		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pricecatalog",
			Subsystem: serviceName,
			Name:      "upload_jobs_total",
			Help:      "Total finished upload jobs, by terminal status",
		}, []string{"status"}),
		JobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pricecatalog",
			Subsystem: serviceName,
			Name:      "upload_job_duration_seconds",
			Help:      "Upload job duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}),
		JobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pricecatalog",
			Subsystem: serviceName,
			Name:      "upload_jobs_running",
			Help:      "Number of upload jobs currently running",
		}),
		SearchQueries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pricecatalog",
			Subsystem: serviceName,
			Name:      "search_queries_total",
			Help:      "Total catalog search queries served",
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.RowsProcessed,
		m.RowFailures,
		m.JobsTotal,
		m.JobDuration,
		m.JobsRunning,
		m.SearchQueries,
	)

	return m
}

// Serve 启动独立的 HTTP 端点暴露指标
func (m *Metrics) Serve(port int, path string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		logger.Info(context.Background(), "Metrics server listening", "port", port, "path", path)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(context.Background(), "Metrics server exited", "error", err)
		}
	}()

	return srv
}
