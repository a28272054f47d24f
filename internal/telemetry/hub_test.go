package telemetry

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rjboer/p2debug/internal/logging"
)

func newTestHub() *Hub {
	return NewHub(10, logging.New(logging.Debug, logging.Text, io.Discard))
}

func TestHandleDiagnosticsReturnsMetricsAndPipeline(t *testing.T) {
	hub := newTestHub()
	hub.UpdatePipelineSnapshot(128, 65536, 2, 256, 1024, 0)
	hub.Report("COG_MESSAGE", 12, 2, 0, false)

	req := httptest.NewRequest(http.MethodGet, "/api/diagnostics", nil)
	rr := httptest.NewRecorder()

	hub.handleDiagnostics(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp Diagnostics
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if resp.Process.NumGoroutine == 0 {
		t.Fatal("expected goroutine count to be reported")
	}
	if resp.Process.Uptime <= 0 {
		t.Fatal("expected positive uptime")
	}
	if resp.Pipeline.RingUsedBytes != 128 {
		t.Fatalf("expected ring used bytes 128, got %d", resp.Pipeline.RingUsedBytes)
	}
	if resp.Pipeline.MessagesByKind["COG_MESSAGE"] != 1 {
		t.Fatalf("expected one COG_MESSAGE recorded, got %d", resp.Pipeline.MessagesByKind["COG_MESSAGE"])
	}
}

func TestHandleDiagnosticsMethodNotAllowed(t *testing.T) {
	hub := newTestHub()
	req := httptest.NewRequest(http.MethodPost, "/api/diagnostics", nil)
	rr := httptest.NewRecorder()

	hub.handleDiagnostics(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestHandlePipelineSnapshot(t *testing.T) {
	hub := newTestHub()
	hub.UpdatePipelineSnapshot(64, 65536, 3, 256, 1024, 7)

	req := httptest.NewRequest(http.MethodGet, "/api/diagnostics/pipeline", nil)
	rr := httptest.NewRecorder()

	hub.handlePipelineSnapshot(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp PipelineSnapshot
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if resp.QueueDepth != 3 {
		t.Fatalf("expected queue depth 3, got %d", resp.QueueDepth)
	}
	if resp.QueueDropped != 7 {
		t.Fatalf("expected queue dropped 7, got %d", resp.QueueDropped)
	}
}

func TestHandlePipelineSnapshotMethodNotAllowed(t *testing.T) {
	hub := newTestHub()
	req := httptest.NewRequest(http.MethodPost, "/api/diagnostics/pipeline", nil)
	rr := httptest.NewRecorder()

	hub.handlePipelineSnapshot(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestHandleHealthReportsDegradedOnDrops(t *testing.T) {
	hub := newTestHub()

	degradedReq := httptest.NewRequest(http.MethodGet, "/api/diagnostics/health", nil)
	degradedRR := httptest.NewRecorder()
	hub.UpdatePipelineSnapshot(0, 65536, 0, 256, 1024, 4)
	hub.handleHealth(degradedRR, degradedReq)

	var degradedResp HealthStatus
	if err := json.NewDecoder(degradedRR.Body).Decode(&degradedResp); err != nil {
		t.Fatalf("decode degraded response: %v", err)
	}
	if degradedResp.Status != "degraded" {
		t.Fatalf("expected degraded status when messages were dropped, got %q", degradedResp.Status)
	}
	if degradedResp.Process.Uptime <= 0 {
		t.Fatal("expected uptime in degraded health response")
	}

	hub2 := newTestHub()
	hub2.UpdatePipelineSnapshot(0, 65536, 0, 256, 1024, 0)
	okReq := httptest.NewRequest(http.MethodGet, "/api/diagnostics/health", nil)
	okRR := httptest.NewRecorder()
	hub2.handleHealth(okRR, okReq)

	var okResp HealthStatus
	if err := json.NewDecoder(okRR.Body).Decode(&okResp); err != nil {
		t.Fatalf("decode ok response: %v", err)
	}
	if okResp.Status != "ok" {
		t.Fatalf("expected ok status with no drops, got %q", okResp.Status)
	}
	if okResp.Process.NumGoroutine == 0 {
		t.Fatal("expected goroutine count in ok health response")
	}
}

func TestHandleHealthMethodNotAllowed(t *testing.T) {
	hub := newTestHub()
	req := httptest.NewRequest(http.MethodPost, "/api/diagnostics/health", nil)
	rr := httptest.NewRecorder()

	hub.handleHealth(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}
