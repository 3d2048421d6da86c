package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fairyhunter13/cart-checkout-engine/internal/cart"
	"github.com/fairyhunter13/cart-checkout-engine/internal/catalog"
	"github.com/fairyhunter13/cart-checkout-engine/internal/checkout"
	"github.com/fairyhunter13/cart-checkout-engine/internal/config"
	httpopenapi "github.com/fairyhunter13/cart-checkout-engine/internal/http/openapi"
	"github.com/fairyhunter13/cart-checkout-engine/internal/ledger"
	"github.com/fairyhunter13/cart-checkout-engine/internal/model"
	"github.com/fairyhunter13/cart-checkout-engine/internal/obs"
	"github.com/fairyhunter13/cart-checkout-engine/internal/order"
	"github.com/fairyhunter13/cart-checkout-engine/internal/queue"
)

// PrincipalHeader carries the authenticated identity set by the gateway.
const PrincipalHeader = "X-Principal"

// App wires the engine components to HTTP handlers.
type App struct {
	Cfg      config.Config
	Catalog  *catalog.Store
	Ledger   *ledger.Ledger
	Carts    *cart.Service
	Checkout *checkout.Coordinator
	Orders   order.Store
	Manager  *queue.Manager
	Metrics  *obs.Metrics

	closing atomic.Bool
	started time.Time
}

type ack struct {
	Status      string `json:"status"`
	RequestID   string `json:"request_id"`
	Sequence    uint64 `json:"sequence"`
	ProductID   string `json:"product_id"`
	ReceivedAt  string `json:"received_at"`
	QueueDepth  int    `json:"queue_depth"`
	BacklogSize int    `json:"backlog_size"`
	WorkerCount int    `json:"worker_count"`
}

type productView struct {
	model.Product
	Reserved  int64 `json:"reserved"`
	Available int64 `json:"available"`
}

func NewApp(cfg config.Config) *App {
	return &App{Cfg: cfg, started: time.Now()}
}

// StartShutdown stops accepting catalog events. Cart and checkout requests
// are still served until the server itself shuts down.
func (a *App) StartShutdown() {
	a.closing.Store(true)
	a.Manager.CloseIntake()
}

func (a *App) postEventsHandler(w http.ResponseWriter, r *http.Request) {
	if a.closing.Load() || a.Manager.IsShuttingDown() {
		WriteJSONError(w, http.StatusServiceUnavailable, "shutting_down", "")
		return
	}
	if !isJSON(r) {
		WriteJSONError(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "expected application/json")
		return
	}
	var ev model.Event
	if err := decodeJSON(r, &ev); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if err := ev.Normalize(); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	seq, ok := a.Manager.Submit(ev)
	if !ok {
		WriteJSONError(w, http.StatusServiceUnavailable, "shutting_down", "")
		return
	}
	ac := ack{
		Status:      "accepted",
		RequestID:   RequestIDFromContext(r.Context()),
		Sequence:    seq,
		ProductID:   ev.ProductID,
		ReceivedAt:  time.Now().UTC().Format(time.RFC3339),
		QueueDepth:  a.Manager.QueueDepth(),
		BacklogSize: a.Manager.BacklogSize(),
		WorkerCount: a.Manager.WorkerCount(),
	}
	writeJSON(w, http.StatusAccepted, ac)
	obs.Logger.Info("event_accepted",
		"request_id", ac.RequestID,
		"sequence", ac.Sequence,
		"product_id", ac.ProductID,
		"queue_depth", ac.QueueDepth,
		"backlog_size", ac.BacklogSize,
		"worker_count", ac.WorkerCount,
	)
}

func (a *App) getProductHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("productID")
	p, ok := a.Catalog.Get(id)
	if !ok {
		WriteJSONError(w, http.StatusNotFound, "not_found", "")
		return
	}
	lv, err := a.Ledger.Level(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	p.StockQuantity = lv.OnHand
	writeJSON(w, http.StatusOK, productView{Product: p, Reserved: lv.Reserved, Available: lv.Available})
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) metricsHandler(w http.ResponseWriter, r *http.Request) {
	st := a.Manager.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"events_enqueued":  st.Enqueued,
		"events_processed": st.Processed,
		"events_failed":    a.Manager.Failed(),
		"backlog_size":     st.Backlog,
		"queue_depth":      st.Depth,
		"worker_count":     a.Manager.WorkerCount(),
		"uptime_sec":       time.Since(a.started).Seconds(),
	})
}

func (a *App) openapiHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(httpopenapi.YAML)
}

const docsHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>Cart &amp; Checkout API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({ url: '/openapi.yaml', dom_id: '#swagger-ui' });
    </script>
  </body>
</html>`

func (a *App) docsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(docsHTML))
}

func isJSON(r *http.Request) bool {
	return strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "application/json")
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
