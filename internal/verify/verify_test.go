package verify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jujuci/bundleverify/internal/juju"
)

func hostOf(t *testing.T, server *httptest.Server) string {
	t.Helper()
	u, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("parse server URL: %v", err)
	}
	return u.Host
}

func fastOptions() Options {
	return Options{
		Scheme:         "http",
		Text:           "Landscape",
		Timeout:        2 * time.Second,
		Attempts:       3,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
	}
}

func TestVerifyServices_AllPass(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><title>Landscape</title></html>")
	}))
	defer server.Close()

	client := juju.NewFakeClient("demo")
	client.AddService("haproxy", hostOf(t, server))
	client.AddService("landscape-server", hostOf(t, server), hostOf(t, server))

	v := NewHTTPVerifier(nil)
	report, err := v.VerifyServices(context.Background(), client, []string{"haproxy", "landscape-server"}, fastOptions())
	if err != nil {
		t.Fatalf("VerifyServices() error = %v", err)
	}

	if !report.OK() {
		t.Fatalf("report not OK: %+v", report.Failed())
	}
	if report.Model != "demo" {
		t.Errorf("Model = %q, want demo", report.Model)
	}
	if len(report.Services) != 2 {
		t.Fatalf("Services = %d, want 2", len(report.Services))
	}
	if got := len(report.Services[1].Probes); got != 2 {
		t.Errorf("landscape-server probes = %d, want 2 (one per unit)", got)
	}
	if report.Services[1].Probes[0].Attempts != 1 {
		t.Errorf("Attempts = %d, want 1 on immediate pass", report.Services[1].Probes[0].Attempts)
	}
}

func TestVerifyServices_WrongTextFailsWithoutRetry(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		fmt.Fprint(w, "<html>Some other product</html>")
	}))
	defer server.Close()

	client := juju.NewFakeClient("demo")
	client.AddService("haproxy", hostOf(t, server))

	v := NewHTTPVerifier(nil)
	report, err := v.VerifyServices(context.Background(), client, []string{"haproxy"}, fastOptions())
	if err != nil {
		t.Fatalf("VerifyServices() error = %v", err)
	}

	if report.OK() {
		t.Fatal("report should fail on wrong text")
	}
	probe := report.Services[0].Probes[0]
	if probe.Passed {
		t.Error("probe should have failed")
	}
	if probe.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1 (wrong text is definitive)", probe.Attempts)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Errorf("server hits = %d, want 1", got)
	}
}

func TestVerifyServices_RetriesServerErrors(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "Landscape")
	}))
	defer server.Close()

	client := juju.NewFakeClient("demo")
	client.AddService("haproxy", hostOf(t, server))

	v := NewHTTPVerifier(nil)
	report, err := v.VerifyServices(context.Background(), client, []string{"haproxy"}, fastOptions())
	if err != nil {
		t.Fatalf("VerifyServices() error = %v", err)
	}

	if !report.OK() {
		t.Fatalf("report not OK after recovery: %+v", report.Services[0])
	}
	if got := report.Services[0].Probes[0].Attempts; got != 3 {
		t.Errorf("Attempts = %d, want 3", got)
	}
}

func TestVerifyServices_ExhaustsRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := juju.NewFakeClient("demo")
	client.AddService("haproxy", hostOf(t, server))

	v := NewHTTPVerifier(nil)
	report, err := v.VerifyServices(context.Background(), client, []string{"haproxy"}, fastOptions())
	if err != nil {
		t.Fatalf("VerifyServices() error = %v", err)
	}

	probe := report.Services[0].Probes[0]
	if probe.Passed {
		t.Fatal("probe should have failed")
	}
	if probe.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", probe.Attempts)
	}
	if probe.Reason == "" {
		t.Error("failed probe should carry a reason")
	}
}

func TestVerifyServices_ClientErrorIsDefinitive(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := juju.NewFakeClient("demo")
	client.AddService("haproxy", hostOf(t, server))

	v := NewHTTPVerifier(nil)
	report, err := v.VerifyServices(context.Background(), client, []string{"haproxy"}, fastOptions())
	if err != nil {
		t.Fatalf("VerifyServices() error = %v", err)
	}
	if report.OK() {
		t.Fatal("report should fail on 403")
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Errorf("server hits = %d, want 1 (4xx does not retry)", got)
	}
}

func TestVerifyServices_MissingServiceAndUnits(t *testing.T) {
	client := juju.NewFakeClient("demo")
	client.AddService("haproxy") // present but no units

	v := NewHTTPVerifier(nil)
	report, err := v.VerifyServices(context.Background(), client, []string{"haproxy", "postgresql"}, fastOptions())
	if err != nil {
		t.Fatalf("VerifyServices() error = %v", err)
	}

	if report.OK() {
		t.Fatal("report should fail")
	}
	if got := report.Services[0].Reason; got != "service has no units" {
		t.Errorf("haproxy reason = %q", got)
	}
	if got := report.Services[1].Reason; got != "service not present in model" {
		t.Errorf("postgresql reason = %q", got)
	}
}

func TestVerifyServices_UnitWithoutAddress(t *testing.T) {
	client := juju.NewFakeClient("demo")
	client.AddService("haproxy", "")

	v := NewHTTPVerifier(nil)
	report, err := v.VerifyServices(context.Background(), client, []string{"haproxy"}, fastOptions())
	if err != nil {
		t.Fatalf("VerifyServices() error = %v", err)
	}

	probe := report.Services[0].Probes[0]
	if probe.Passed {
		t.Fatal("probe should fail without a public address")
	}
	if probe.Reason != "unit has no public address" {
		t.Errorf("reason = %q", probe.Reason)
	}
}

func TestVerifyServices_StatusError(t *testing.T) {
	client := juju.NewFakeClient("demo")
	client.Err = errors.New("controller unreachable")

	v := NewHTTPVerifier(nil)
	_, err := v.VerifyServices(context.Background(), client, []string{"haproxy"}, fastOptions())
	if !errors.Is(err, ErrStatusUnavailable) {
		t.Errorf("VerifyServices() error = %v, want ErrStatusUnavailable", err)
	}
}

func TestVerifyServices_EmptyTextPassesOnAny2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := juju.NewFakeClient("demo")
	client.AddService("rabbitmq-server", hostOf(t, server))

	opts := fastOptions()
	opts.Text = ""
	v := NewHTTPVerifier(nil)
	report, err := v.VerifyServices(context.Background(), client, []string{"rabbitmq-server"}, opts)
	if err != nil {
		t.Fatalf("VerifyServices() error = %v", err)
	}
	if !report.OK() {
		t.Errorf("report should pass with empty text: %+v", report.Services[0])
	}
}

func TestVerifyServices_ContextCancelStopsRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := juju.NewFakeClient("demo")
	client.AddService("haproxy", hostOf(t, server))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opts := fastOptions()
	opts.RetryBaseDelay = time.Hour // cancellation must win over the backoff sleep
	v := NewHTTPVerifier(nil)
	report, err := v.VerifyServices(ctx, client, []string{"haproxy"}, opts)
	if err != nil {
		t.Fatalf("VerifyServices() error = %v", err)
	}
	if report.OK() {
		t.Error("report should fail when context is cancelled")
	}
}

func TestProbeURL(t *testing.T) {
	tests := []struct {
		scheme string
		host   string
		port   int
		want   string
	}{
		{"https", "10.0.0.1", 0, "https://10.0.0.1/"},
		{"https", "10.0.0.1", 8443, "https://10.0.0.1:8443/"},
		{"http", "example.internal", 80, "http://example.internal:80/"},
	}
	for _, tt := range tests {
		if got := probeURL(tt.scheme, tt.host, tt.port); got != tt.want {
			t.Errorf("probeURL(%q, %q, %d) = %q, want %q", tt.scheme, tt.host, tt.port, got, tt.want)
		}
	}
}
