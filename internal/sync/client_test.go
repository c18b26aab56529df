package sync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	analytics "filterwatch/internal/analytics/domain"
)

func testSummary() *analytics.DailySummary {
	correctedAt := time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)
	return &analytics.DailySummary{
		DeviceKey:             "d1",
		Day:                   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		HeatSeconds:           3600,
		ValidatedTotalSeconds: 3600,
		DiscrepancySeconds:    450,
		IsCorrected:           true,
		CorrectedAt:           &correctedAt,
	}
}

func TestNotifyCorrectionSendsSignedRequest(t *testing.T) {
	secret := []byte("test-secret")
	var gotBody []byte
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client, err := NewClient(server.URL, secret, "filterwatch", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.NotifyCorrection(context.Background(), testSummary()); err != nil {
		t.Fatalf("notify: %v", err)
	}

	if !strings.HasPrefix(gotAuth, "Bearer ") {
		t.Fatalf("expected bearer auth, got %q", gotAuth)
	}
	raw := strings.TrimPrefix(gotAuth, "Bearer ")
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwt.RegisteredClaims{}
	token, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return secret, nil })
	if err != nil || !token.Valid {
		t.Fatalf("token did not verify: %v", err)
	}
	if claims.Issuer != "filterwatch" {
		t.Fatalf("expected issuer filterwatch, got %q", claims.Issuer)
	}

	var payload map[string]any
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if payload["kind"] != "runtime_corrected" || payload["device_key"] != "d1" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if payload["discrepancy_seconds"] != float64(450) {
		t.Fatalf("expected discrepancy 450, got %v", payload["discrepancy_seconds"])
	}
}

func TestNotifyCorrectionRetriesThenSucceeds(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := NewClient(server.URL, []byte("s"), "filterwatch", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.backoff = time.Millisecond

	if err := client.NotifyCorrection(context.Background(), testSummary()); err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestNotifyCorrectionGivesUpAfterAttempts(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client, err := NewClient(server.URL, []byte("s"), "filterwatch", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.backoff = time.Millisecond

	if err := client.NotifyCorrection(context.Background(), testSummary()); err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestNotifyCorrectionHonorsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client, err := NewClient(server.URL, []byte("s"), "filterwatch", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.backoff = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = client.NotifyCorrection(ctx, testSummary())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
