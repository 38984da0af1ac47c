package ingest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AlfaStage/jogodobicho-api-sub000/internal/store"
)

func TestWebhookPostPayload(t *testing.T) {
	// WHAT: The webhook body carries entity, date, slot, and prizes as a
	// JSON object.
	// WHY: Downstream consumers parse this shape; changing it is a
	// breaking contract change.
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type = %q", ct)
		}
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, nil)
	err := n.post(context.Background(), &store.ResultRecord{
		EntityID: "pt-rio",
		DrawDate: "2026-02-04",
		Slot:     "16:20",
		Prizes:   []store.PrizeEntry{{Position: 1, Value: "4829", Group: "08"}},
	})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if got["entity"] != "pt-rio" || got["date"] != "2026-02-04" || got["slot"] != "16:20" {
		t.Errorf("payload = %v", got)
	}
	if _, ok := got["prizes"].([]any); !ok {
		t.Errorf("payload prizes missing: %v", got)
	}
}

func TestWebhookRetriesThenSucceeds(t *testing.T) {
	// WHAT: A transient 5xx is retried with backoff until the endpoint
	// recovers.
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, nil)
	err := n.post(context.Background(), &store.ResultRecord{EntityID: "pt-rio", DrawDate: "2026-02-04", Slot: "16:20"})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if hits.Load() != 2 {
		t.Errorf("hits = %d, want 2", hits.Load())
	}
}

func TestNotifyAsynchronous(t *testing.T) {
	// WHAT: Notify returns immediately and delivers in the background.
	// WHY: Fire-and-forget is the contract with the ingestion path; a
	// slow webhook must never stall a sweep.
	delivered := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		close(delivered)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, nil)
	n.Notify(&store.ResultRecord{EntityID: "pt-rio", DrawDate: "2026-02-04", Slot: "16:20"})

	select {
	case <-delivered:
	case <-time.After(5 * time.Second):
		t.Fatal("webhook never delivered")
	}
}
