package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNoopMetrics(t *testing.T) {
	var m Noop
	m.IncDeploys("ready")
	m.ObserveDeployDuration("ready", 1.5)
	m.IncUploads(UploadOK)
	m.AddUploadBytes(10)
	m.AddFilesReused(3)
	m.ObserveRequest("POST", "/deploy", "200", 0.1)
}

func TestPromMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewProm("sitedrop", reg)
	m.IncDeploys("ready")
	m.ObserveDeployDuration("ready", 2)
	m.IncUploads(UploadOK)
	m.IncUploads(UploadRetry)
	m.AddUploadBytes(2048)
	m.AddFilesReused(4)
	m.ObserveRequest("POST", "/deploy", "200", 0.2)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	values := make(map[string]float64)
	for _, fam := range families {
		for _, metric := range fam.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				values[fam.GetName()] += metric.GetCounter().GetValue()
			case metric.GetHistogram() != nil:
				values[fam.GetName()] += float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}

	expected := map[string]float64{
		"sitedrop_deploys_total":                 1,
		"sitedrop_deploy_duration_seconds":       1,
		"sitedrop_uploads_total":                 2,
		"sitedrop_upload_bytes_total":            2048,
		"sitedrop_files_reused_total":            4,
		"sitedrop_http_requests_total":           1,
		"sitedrop_http_request_duration_seconds": 1,
	}
	for name, want := range expected {
		if got := values[name]; got != want {
			t.Errorf("%s = %v, expected %v", name, got, want)
		}
	}
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewProm("sitedrop", reg)
	m.IncDeploys("failed")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `sitedrop_deploys_total{status="failed"} 1`) {
		t.Errorf("metrics output missing deploy counter:\n%s", rec.Body.String())
	}
}
