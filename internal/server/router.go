package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter 는 HTTP 엔드포인트를 구성한다.
//
//   - GET  /health
//   - GET  /socket                           : 웹소켓 (producer / observer)
//   - GET  /api/pi-results                   : 최근 리포트 (gzip)
//   - POST /api/pi-results                   : REST 수집
//   - GET  /api/pi-images/:category/:name    : 저장된 이미지
//   - GET  /metrics                          : Prometheus
func NewRouter(h *Handler, socket http.Handler, reg *prometheus.Registry) (*gin.Engine, error) {
	httpMetrics, err := NewHTTPMetrics(reg, h.cfg.ServiceName)
	if err != nil {
		return nil, err
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())
	r.Use(httpMetrics.Handler())
	r.Use(corsAllowAll())

	r.GET("/health", h.HandleHealth)
	r.GET("/socket", gin.WrapH(socket))

	api := r.Group("/api")
	api.GET("/pi-results", gin.WrapH(gzhttp.GzipHandler(http.HandlerFunc(h.HandleResults))))
	api.POST("/pi-results", h.HandleIngest)
	api.GET("/pi-images/:category/:name", h.HandleImage)

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))

	return r, nil
}
