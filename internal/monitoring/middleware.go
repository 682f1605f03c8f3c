package monitoring

import (
	"net/http"
	"time"
)

// PrometheusMiddleware считает запросы по шаблону маршрута ServeMux, а не по сырому пути,
// чтобы id в адресе не плодили метки. Оборачивать нужно сам ServeMux.
type PrometheusMiddleware struct {
	handler http.Handler
}

func (m *PrometheusMiddleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/metrics" {
		m.handler.ServeHTTP(w, r)
		return
	}

	start := time.Now()
	ActiveConnections.Inc()
	defer ActiveConnections.Dec()

	m.handler.ServeHTTP(w, r)

	route := r.Pattern
	if route == "" {
		route = "unmatched"
	}
	HttpRequestsTotal.WithLabelValues(route, r.Method).Inc()
	HttpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
}

func NewPrometheusMiddleware(handlerToWrap http.Handler) *PrometheusMiddleware {
	return &PrometheusMiddleware{handlerToWrap}
}
