package integration

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
)

func TestIntegration_MetricsIncreaseAndSane(t *testing.T) {
	c := newClient(t)
	var before, after map[string]any
	st, _, data := c.do(http.MethodGet, "/debug/metrics", "", nil)
	if st != http.StatusOK {
		t.Fatalf("expected 200, got %d", st)
	}
	c.decode(data, &before)

	id := c.seed("1", 1)
	for range 5 {
		if st, _, _ := c.do(http.MethodPost, "/events", "", `{"product_id":"`+id+`","stock":2}`); st != http.StatusAccepted {
			t.Fatalf("expected 202, got %d", st)
		}
	}
	c.eventually("events processed", func() bool {
		_, _, data := c.do(http.MethodGet, "/debug/metrics", "", nil)
		c.decode(data, &after)
		return toFloat(after["events_processed"]) >= toFloat(before["events_processed"])+6
	})
	if toFloat(after["uptime_sec"]) < 0 {
		t.Fatalf("uptime_sec negative: %v", after["uptime_sec"])
	}
	if toFloat(after["worker_count"]) <= 0 {
		t.Fatalf("worker_count should be > 0, got %v", after["worker_count"])
	}
}

func TestIntegration_PrometheusExposition(t *testing.T) {
	c := newClient(t)
	c.seed("1", 1)
	st, _, data := c.do(http.MethodGet, "/metrics", "", nil)
	if st != http.StatusOK {
		t.Fatalf("expected 200, got %d", st)
	}
	for _, name := range []string{"cartengine_http_requests_total", "cartengine_catalog_feed_events_applied_total"} {
		if !strings.Contains(string(data), name) {
			t.Fatalf("missing %s in exposition", name)
		}
	}
}

func TestIntegration_GetUnknownProduct_NotFoundJSON(t *testing.T) {
	c := newClient(t)
	st, hdr, data := c.do(http.MethodGet, "/products/does-not-exist-"+principal(), "", nil)
	if st != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", st)
	}
	if ct := hdr.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("unexpected content-type: %q", ct)
	}
	var m map[string]any
	c.decode(data, &m)
	if m["error"] != "not_found" {
		t.Fatalf("expected error=not_found, got: %+v", m)
	}
}

func TestIntegration_MethodNotAllowedOnProductsID(t *testing.T) {
	c := newClient(t)
	if st, _, _ := c.do(http.MethodPost, "/products/mm", "", nil); st != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", st)
	}
}

func TestIntegration_ResponseContentTypeHeaders(t *testing.T) {
	c := newClient(t)
	id := c.seed("1", 1)
	who := principal()
	paths := []struct{ method, path, who string }{
		{http.MethodGet, "/products/" + id, ""},
		{http.MethodGet, "/healthz", ""},
		{http.MethodGet, "/cart", who},
		{http.MethodGet, "/orders", who},
	}
	for _, p := range paths {
		st, hdr, _ := c.do(p.method, p.path, p.who, nil)
		if st != http.StatusOK {
			t.Fatalf("%s %s: expected 200, got %d", p.method, p.path, st)
		}
		if ct := hdr.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
			t.Fatalf("%s %s: unexpected content-type %q", p.method, p.path, ct)
		}
	}
}

func TestIntegration_RequestIDEchoedAndGenerated(t *testing.T) {
	c := newClient(t)
	st, hdr, data := c.do(http.MethodPost, "/events", "", `{"product_id":"gen-`+principal()+`","stock":1}`)
	if st != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", st)
	}
	var a struct {
		RequestID string `json:"request_id"`
		Sequence  uint64 `json:"sequence"`
	}
	c.decode(data, &a)
	if a.RequestID == "" || hdr.Get("X-Request-Id") != a.RequestID {
		t.Fatalf("expected generated request id in body and header, got %q / %q", a.RequestID, hdr.Get("X-Request-Id"))
	}
	if a.Sequence == 0 {
		t.Fatalf("expected a sequence number")
	}

	_, hdr, _ = c.send(http.MethodGet, "/healthz", "", http.Header{"X-Request-Id": {"it-fixed-id"}}, nil)
	if got := hdr.Get("X-Request-Id"); got != "it-fixed-id" {
		t.Fatalf("expected echoed request id, got %q", got)
	}
}

func TestIntegration_MissingPrincipal(t *testing.T) {
	c := newClient(t)
	st, _, data := c.do(http.MethodGet, "/cart", "", nil)
	if st != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", st)
	}
	var m map[string]any
	c.decode(data, &m)
	if m["error"] != "unauthenticated" {
		t.Fatalf("unexpected body: %+v", m)
	}
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case json.Number:
		f, _ := x.Float64()
		return f
	default:
		return 0
	}
}
