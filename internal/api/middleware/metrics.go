package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 请求指标中间件
type Metrics struct {
	requestCounter  *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewMetrics 在 registry 上注册请求指标；transport 区分 http 与 ws 两个服务器
func NewMetrics(registry prometheus.Registerer, transport string) *Metrics {
	labels := prometheus.Labels{"transport": transport}
	m := &Metrics{
		requestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   "ledger",
				Subsystem:   "api",
				Name:        "requests_total",
				Help:        "Total number of API requests",
				ConstLabels: labels,
			},
			[]string{"method", "path", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   "ledger",
				Subsystem:   "api",
				Name:        "request_duration_seconds",
				Help:        "API request duration in seconds",
				Buckets:     []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
				ConstLabels: labels,
			},
			[]string{"method", "path"},
		),
	}
	if registry != nil {
		m.requestCounter = register(registry, m.requestCounter)
		m.requestDuration = register(registry, m.requestDuration)
	}
	return m
}

// register 重复注册时复用已注册的收集器
func register[T prometheus.Collector](registry prometheus.Registerer, c T) T {
	if err := registry.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

// Middleware 返回Gin中间件
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		m.requestCounter.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.requestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
