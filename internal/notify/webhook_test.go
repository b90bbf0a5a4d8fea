package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/CosmoTheDev/scangate/internal/config"
	"github.com/CosmoTheDev/scangate/models"
)

func TestWebhookSigning(t *testing.T) {
	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Scangate-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ch := NewWebhook(config.WebhookNotifyConfig{URL: srv.URL, Secret: "s3cret"})
	err := ch.Send(context.Background(), Event{Type: "gate_failed", Title: "t", RunID: "run_x"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(gotBody)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if gotSig != want {
		t.Errorf("signature = %q, want %q", gotSig, want)
	}
}

func TestWebhookNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ch := NewWebhook(config.WebhookNotifyConfig{URL: srv.URL})
	if err := ch.Send(context.Background(), Event{Type: "run_completed"}); err == nil {
		t.Fatal("expected an error on non-2xx response")
	}
}

func TestDispatcherGateFailedBypassesSeverityFloor(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher(config.NotifyConfig{
		Webhook:     config.WebhookNotifyConfig{URL: srv.URL},
		MinSeverity: "critical",
	})
	if !d.IsAnyConfigured() {
		t.Fatal("webhook channel should be configured")
	}

	// Low severity event is filtered.
	d.Notify(context.Background(), Event{Type: "run_completed", Severity: "low"})
	if hits != 0 {
		t.Fatalf("low severity should be filtered, got %d deliveries", hits)
	}
	// Gate failures always deliver.
	d.Notify(context.Background(), Event{Type: "gate_failed", Severity: "low"})
	if hits != 1 {
		t.Fatalf("gate_failed should bypass the floor, got %d deliveries", hits)
	}
}

func TestRunFinishedEventShape(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher(config.NotifyConfig{Webhook: config.WebhookNotifyConfig{URL: srv.URL}})
	now := time.Now().UTC()
	run := &models.SecurityRun{
		RunID:          "run_abc",
		RepositoryPath: "/srv/repos/payments",
		Profile:        "standard",
		Status:         models.RunCompleted,
		GateStatus:     models.GateFailed,
		GateReason:     "1 HIGH finding(s) exceeds the allowed 0",
		FindingsHigh:   1,
		CompletedAt:    &now,
	}
	d.RunFinished(context.Background(), run)

	s := string(body)
	for _, want := range []string{"gate_failed", "run_abc", "1 HIGH"} {
		if !strings.Contains(s, want) {
			t.Errorf("payload missing %q: %s", want, s)
		}
	}
}
