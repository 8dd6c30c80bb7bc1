package endpoint

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/catalogwatch/component"
	"github.com/kbukum/catalogwatch/discovery"
	"github.com/kbukum/catalogwatch/version"
)

func init() { gin.SetMode(gin.TestMode) }

func check(name string, status CheckStatus) CheckFunc {
	return func(context.Context) Check { return Check{Name: name, Status: status} }
}

func serve(t *testing.T, method, path, route string, h gin.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	r := gin.New()
	r.Handle(method, route, h)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(method, path, http.NoBody))
	return rr
}

func TestHealthStatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		checks []CheckFunc
		want   int
	}{
		{"no checks", nil, http.StatusOK},
		{"all passing", []CheckFunc{check("a", CheckPassing), check("b", CheckPassing)}, http.StatusOK},
		{"unknown counts as passing", []CheckFunc{check("a", "mystery")}, http.StatusOK},
		{"warning", []CheckFunc{check("a", CheckPassing), check("b", CheckWarning)}, http.StatusTooManyRequests},
		{"failure wins over warning", []CheckFunc{check("a", CheckWarning), check("b", CheckFailure)}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(t, "GET", "/health", "/health", Health(tt.checks...))
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestHealthGroupsResults(t *testing.T) {
	rr := serve(t, "GET", "/health", "/health", Health(
		check("db", CheckPassing),
		check("cache", CheckWarning),
		check("queue", CheckPassing),
	))

	var body struct {
		Message Report `json:"message"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Message.Passing) != 2 || len(body.Message.Warning) != 1 || len(body.Message.Failure) != 0 {
		t.Errorf("report = %+v", body.Message)
	}
	if body.Message.Warning[0].Name != "cache" {
		t.Errorf("warning = %+v", body.Message.Warning[0])
	}
}

func TestHealthPanickingCheck(t *testing.T) {
	rr := serve(t, "GET", "/health", "/health", Health(
		check("ok", CheckPassing),
		func(context.Context) Check { panic("check exploded") },
	))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	var body struct {
		Messages []string `json:"messages"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Messages) != 1 || body.Messages[0] != "health check panicked: check exploded" {
		t.Errorf("messages = %v", body.Messages)
	}
}

type stubComponent struct {
	name   string
	health component.Health
}

func (s stubComponent) Name() string { return s.name }
func (s stubComponent) Start(context.Context) error { return nil }
func (s stubComponent) Stop(context.Context) error { return nil }
func (s stubComponent) Health(context.Context) component.Health { return s.health }

func TestComponentCheck(t *testing.T) {
	tests := []struct {
		status component.HealthStatus
		want   CheckStatus
	}{
		{component.StatusHealthy, CheckPassing},
		{component.StatusDegraded, CheckWarning},
		{component.StatusUnhealthy, CheckFailure},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			c := stubComponent{name: "discovery", health: component.Health{Status: tt.status, Message: "m"}}
			got := ComponentCheck(c)(context.Background())
			if got.Status != tt.want || got.Name != "discovery" || got.Message != "m" {
				t.Errorf("check = %+v", got)
			}
		})
	}
}

func testReader() ReaderFunc {
	cache := discovery.NewCache()
	cache.Set("web", []discovery.Node{
		{Address: "10.0.0.1", Port: 80, Service: "web", Status: discovery.StatusPassing},
		{Address: "10.0.0.2", Port: 80, Service: "web", Status: discovery.StatusCritical},
	})
	client := discovery.NewClient(cache, discovery.NewHandlers())
	return func() ServiceReader { return client }
}

func TestServices(t *testing.T) {
	rr := serve(t, "GET", "/services", "/services", Services(testReader()))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body struct {
		Services map[string][]struct {
			Address string `json:"address"`
			Status  string `json:"status"`
		} `json:"services"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	web := body.Services["web"]
	if len(web) != 2 || web[1].Status != "critical" {
		t.Errorf("web = %+v", web)
	}
}

func TestServiceNodes(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		wantCode  int
		wantNodes int
	}{
		{"all nodes", "/services/web", http.StatusOK, 2},
		{"passing only", "/services/web?passing=true", http.StatusOK, 1},
		{"unknown service", "/services/api", http.StatusNotFound, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(t, "GET", tt.path, "/services/:name", ServiceNodes(testReader()))
			if rr.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantCode)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			var body struct {
				Nodes []discovery.Node `json:"nodes"`
			}
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(body.Nodes) != tt.wantNodes {
				t.Errorf("nodes = %d, want %d", len(body.Nodes), tt.wantNodes)
			}
		})
	}
}

func TestServicesWithoutWatcher(t *testing.T) {
	none := func() ServiceReader { return nil }
	if rr := serve(t, "GET", "/services", "/services", Services(none)); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rr.Code)
	}
	if rr := serve(t, "GET", "/services/web", "/services/:name", ServiceNodes(none)); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rr.Code)
	}
}

func TestInfo(t *testing.T) {
	rr := serve(t, "GET", "/info", "/info", Info("catalogwatch"))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body struct {
		Service string       `json:"service"`
		Version string       `json:"version"`
		Build   version.Info `json:"build"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := version.Get()
	if body.Service != "catalogwatch" || body.Version != want.Short() {
		t.Errorf("info = %+v", body)
	}
	if body.Build != want {
		t.Errorf("build = %+v, want %+v", body.Build, want)
	}
}
