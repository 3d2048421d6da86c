package httpapi

import (
	"expvar"
	"net/http"
)

// NewRouter registers HTTP routes and returns the handler with middleware.
func NewRouter(app *App) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /cart", app.getCartHandler)
	mux.HandleFunc("POST /cart/items", app.addItemHandler)
	mux.HandleFunc("PATCH /cart/items/{productID}", app.setQuantityHandler)
	mux.HandleFunc("DELETE /cart/items/{productID}", app.removeItemHandler)
	mux.HandleFunc("POST /cart/clear", app.clearCartHandler)

	mux.HandleFunc("POST /checkout", app.checkoutHandler)
	mux.HandleFunc("POST /checkout/cancel", app.cancelCheckoutHandler)
	mux.HandleFunc("GET /orders", app.listOrdersHandler)
	mux.HandleFunc("GET /orders/{orderID}", app.getOrderHandler)

	mux.HandleFunc("POST /events", app.postEventsHandler)
	mux.HandleFunc("GET /products/{productID}", app.getProductHandler)

	mux.HandleFunc("GET /healthz", app.healthHandler)
	mux.HandleFunc("GET /debug/metrics", app.metricsHandler)
	mux.Handle("GET /debug/vars", expvar.Handler())
	mux.Handle("GET /metrics", app.Metrics.Handler())
	mux.HandleFunc("GET /openapi.yaml", app.openapiHandler)
	mux.HandleFunc("GET /docs", app.docsHandler)

	return WithRequestID(WithLogging(WithMetrics(app.Metrics, mux)))
}
