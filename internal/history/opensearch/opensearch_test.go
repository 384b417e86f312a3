package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/loykin/rendersup/internal/history"
	"github.com/loykin/rendersup/internal/report"
)

func TestOpenSearchSink_Send(t *testing.T) {
	var receivedBody []byte
	var receivedURL string
	var receivedMethod string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedMethod = r.Method
		receivedURL = r.URL.Path
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"_id":"inc-1","_index":"crash-history","result":"created"}`))
	}))
	defer server.Close()

	sink := New(server.URL, "crash-history")
	prev := "https://x/a"
	event := history.NewCrashEvent(report.CrashReport{
		IncidentID:        "inc-1",
		SurfaceID:         "main",
		Timestamp:         time.Now().UTC(),
		Reason:            report.ReasonOutOfMemory,
		RecoveryAttempted: true,
		RecoverySucceeded: true,
		PreviousURL:       &prev,
	})

	if err := sink.Send(context.Background(), event); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if receivedMethod != http.MethodPut {
		t.Errorf("Expected PUT method, got: %s", receivedMethod)
	}
	if receivedURL != "/crash-history/_doc/inc-1" {
		t.Errorf("Unexpected URL path: %s", receivedURL)
	}

	var doc map[string]any
	if err := json.Unmarshal(receivedBody, &doc); err != nil {
		t.Fatalf("Failed to parse received JSON: %v", err)
	}
	if doc["type"] != string(history.EventCrash) {
		t.Errorf("Expected type %s, got: %v", history.EventCrash, doc["type"])
	}
	rep, ok := doc["report"].(map[string]any)
	if !ok {
		t.Fatalf("Expected report in event, got: %v", doc)
	}
	if rep["surfaceId"] != "main" || rep["previousUrl"] != prev || rep["recoverySucceeded"] != true {
		t.Errorf("Unexpected report document: %v", rep)
	}
}

func TestOpenSearchSink_PostWithoutIncidentID(t *testing.T) {
	var method, path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	sink := New(server.URL+"/", "events")
	err := sink.Send(context.Background(), history.NewCrashEvent(report.CrashReport{SurfaceID: "s", Timestamp: time.Now()}))
	if err != nil {
		t.Fatal(err)
	}
	if method != http.MethodPost || path != "/events/_doc" {
		t.Fatalf("got %s %s", method, path)
	}
}

func TestOpenSearchSink_SendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad request"}`))
	}))
	defer server.Close()

	sink := New(server.URL, "crash-history")
	err := sink.Send(context.Background(), history.NewCrashEvent(report.CrashReport{IncidentID: "x", Timestamp: time.Now()}))
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !strings.Contains(err.Error(), "opensearch sink status 400") {
		t.Errorf("Expected status error message, got: %v", err)
	}
}
