package verify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jujuci/bundleverify/internal/juju"
	"github.com/jujuci/bundleverify/internal/models"
	"github.com/jujuci/bundleverify/internal/observability"
)

// Options control how services are probed.
type Options struct {
	// Scheme is the URL scheme for probes (http or https).
	Scheme string
	// Text, when non-empty, must appear in the response body for a probe to pass.
	Text string
	// Port overrides the scheme's well-known port. 0 uses the default.
	Port int
	// Timeout bounds a single probe attempt.
	Timeout time.Duration
	// Attempts is the total number of tries per unit, including the first.
	Attempts int

	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// InsecureSkipVerify disables TLS certificate checks. CI bundles
	// terminate TLS with self-signed certificates, so this defaults on
	// for https probes unless the config says otherwise.
	InsecureSkipVerify bool
}

func (o Options) withDefaults() Options {
	if o.Scheme == "" {
		o.Scheme = "https"
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.Attempts <= 0 {
		o.Attempts = 3
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = 500 * time.Millisecond
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = 5 * time.Second
	}
	return o
}

// Verifier checks that named services in a model are serving.
type Verifier interface {
	VerifyServices(ctx context.Context, client juju.Client, services []string, opts Options) (*models.Report, error)
}

var (
	ErrStatusUnavailable = errors.New("model status unavailable")
	errWrongText         = errors.New("expected text not found in response")
)

// HTTPVerifier probes every unit of each named service over HTTP(S) and
// checks the response body for an expected text fragment. Failures land in
// the report; the error return is reserved for operational problems such as
// the model status being unreachable.
type HTTPVerifier struct {
	logger *zap.Logger
}

// NewHTTPVerifier returns an HTTPVerifier logging through logger (may be nil).
func NewHTTPVerifier(logger *zap.Logger) *HTTPVerifier {
	return &HTTPVerifier{logger: logger}
}

// VerifyServices implements Verifier.
func (v *HTTPVerifier) VerifyServices(ctx context.Context, client juju.Client, services []string, opts Options) (*models.Report, error) {
	opts = opts.withDefaults()
	start := time.Now()

	status, err := client.Status(ctx)
	if err != nil {
		observability.VerifyRunsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrStatusUnavailable, err)
	}

	report := &models.Report{
		Model:     status.Model,
		Scheme:    opts.Scheme,
		Text:      opts.Text,
		StartedAt: start,
	}

	httpClient := v.newHTTPClient(opts)
	for _, name := range services {
		report.Services = append(report.Services, v.verifyService(ctx, httpClient, status, name, opts))
	}
	report.FinishedAt = time.Now()

	duration := report.FinishedAt.Sub(start)
	observability.VerifyRunDurationSeconds.Observe(duration.Seconds())
	if report.OK() {
		observability.VerifyRunsTotal.WithLabelValues("pass").Inc()
	} else {
		observability.VerifyRunsTotal.WithLabelValues("fail").Inc()
	}
	if v.logger != nil {
		v.logger.Info("verification run complete",
			zap.String("model", report.Model),
			zap.Int("services", len(services)),
			zap.Strings("failed", report.Failed()),
			zap.Duration("duration", duration))
	}
	return report, nil
}

func (v *HTTPVerifier) verifyService(ctx context.Context, httpClient *http.Client, status *models.Status, name string, opts Options) models.ServiceResult {
	result := models.ServiceResult{Service: name}

	svc, ok := status.Services[name]
	if !ok {
		result.Reason = "service not present in model"
		observability.ProbesTotal.WithLabelValues(name, "fail").Inc()
		return result
	}
	if len(svc.Units) == 0 {
		result.Reason = "service has no units"
		observability.ProbesTotal.WithLabelValues(name, "fail").Inc()
		return result
	}

	result.Passed = true
	for _, unit := range svc.Units {
		probe := v.probeUnit(ctx, httpClient, name, unit, opts)
		if !probe.Passed {
			result.Passed = false
		}
		result.Probes = append(result.Probes, probe)
	}
	return result
}

// probeUnit retries transient failures with exponential backoff and jitter.
func (v *HTTPVerifier) probeUnit(ctx context.Context, httpClient *http.Client, service string, unit models.Unit, opts Options) models.ProbeResult {
	result := models.ProbeResult{Unit: unit.Name}

	if unit.PublicAddress == "" {
		result.Reason = "unit has no public address"
		observability.ProbesTotal.WithLabelValues(service, "fail").Inc()
		return result
	}
	result.URL = probeURL(opts.Scheme, unit.PublicAddress, opts.Port)

	var lastErr error
	for attempt := 0; attempt < opts.Attempts; attempt++ {
		if attempt > 0 {
			observability.ProbeRetriesTotal.Inc()
			select {
			case <-ctx.Done():
				result.Attempts = attempt
				result.Reason = ctx.Err().Error()
				observability.ProbesTotal.WithLabelValues(service, "fail").Inc()
				return result
			case <-time.After(backoffDelay(attempt, opts.RetryBaseDelay, opts.RetryMaxDelay)):
			}
		}
		result.Attempts = attempt + 1

		err := v.probeOnce(ctx, httpClient, service, result.URL, opts)
		if err == nil {
			result.Passed = true
			observability.ProbesTotal.WithLabelValues(service, "pass").Inc()
			if v.logger != nil {
				v.logger.Debug("probe passed",
					zap.String("unit", unit.Name),
					zap.String("url", result.URL),
					zap.Int("attempts", result.Attempts))
			}
			return result
		}
		lastErr = err
		if !isRetryable(err) {
			break
		}
	}

	result.Reason = lastErr.Error()
	observability.ProbesTotal.WithLabelValues(service, "fail").Inc()
	if v.logger != nil {
		v.logger.Warn("probe failed",
			zap.String("unit", unit.Name),
			zap.String("url", result.URL),
			zap.Int("attempts", result.Attempts),
			zap.Error(lastErr))
	}
	return result
}

func (v *HTTPVerifier) probeOnce(ctx context.Context, httpClient *http.Client, service, target string, opts Options) error {
	start := time.Now()
	reqCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := httpClient.Do(req)
	observability.ProbeDurationSeconds.WithLabelValues(service).Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("probe timeout: %w", err)
		}
		return fmt.Errorf("probe request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode}
	}

	if opts.Text == "" {
		return nil
	}
	// Landscape's login page is small; 1 MiB is plenty for a fingerprint.
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if !strings.Contains(string(body), opts.Text) {
		return fmt.Errorf("%w: %q", errWrongText, opts.Text)
	}
	return nil
}

func (v *HTTPVerifier) newHTTPClient(opts Options) *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: opts.Timeout,
		}).DialContext,
	}
	if opts.Scheme == "https" && opts.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &http.Client{
		Timeout:   opts.Timeout,
		Transport: transport,
	}
}

// statusError reports a non-2xx probe response.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status: HTTP %d", e.code)
}

// isRetryable treats transport failures, timeouts, 429 and 5xx as transient.
// Other 4xx responses and a wrong-text body are definitive.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errWrongText) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		if se.code == http.StatusTooManyRequests {
			return true
		}
		return se.code >= 500
	}
	return true
}

func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	delay := float64(base) * math.Pow(2, float64(attempt-1))
	if delay > float64(max) {
		delay = float64(max)
	}
	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func probeURL(scheme, host string, port int) string {
	u := url.URL{Scheme: scheme, Host: host, Path: "/"}
	if port > 0 {
		u.Host = net.JoinHostPort(host, strconv.Itoa(port))
	}
	return u.String()
}
