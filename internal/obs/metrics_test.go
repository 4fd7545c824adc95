package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                               "/",
		"/metrics":                       "/metrics",
		"/auth/login":                    "/auth/login",
		"/auth/refresh?x=1":              "/auth/refresh",
		"/admin/roles/01HX/permissions":  "/admin/roles/:id/permissions",
		"/admin/users/01HY/role":         "/admin/users/:id/role",
		"/admin/users/01HY/role/extra/x": "/other",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentCountsRequests(t *testing.T) {
	Init()
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	before := counterValue(t, httpRequestsTotal.WithLabelValues(http.MethodPost, "/auth/login", "401"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/auth/login", nil))
	after := counterValue(t, httpRequestsTotal.WithLabelValues(http.MethodPost, "/auth/login", "401"))
	if after != before+1 {
		t.Fatalf("expected counter to grow by 1, got %v -> %v", before, after)
	}
}

func TestAuthCounters(t *testing.T) {
	Init()
	before := counterValue(t, refreshTotal.WithLabelValues("stale_token"))
	ObserveRefresh("stale_token")
	if got := counterValue(t, refreshTotal.WithLabelValues("stale_token")); got != before+1 {
		t.Fatalf("refresh counter %v, want %v", got, before+1)
	}
	ObserveVerification("access", "ok")
	if counterValue(t, verificationsTotal.WithLabelValues("access", "ok")) < 1 {
		t.Fatalf("verification counter not incremented")
	}
}

func TestSetLoggerRestores(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	restore := SetLogger(zap.New(core))
	Logger().Info("hello")
	restore()
	Logger().Info("dropped")
	if logs.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", logs.Len())
	}
}

func TestNewLoggerRejectsUnknownFormat(t *testing.T) {
	if _, err := NewLogger("info", "xml"); err == nil {
		t.Fatalf("expected error for xml format")
	}
	if _, err := NewLogger("loud", "json"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	l, err := NewLogger("debug", "console")
	if err != nil || l == nil {
		t.Fatalf("console logger: %v", err)
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}
