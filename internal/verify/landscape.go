package verify

import (
	"context"
	"fmt"
	"strings"

	"github.com/jujuci/bundleverify/internal/juju"
	"github.com/jujuci/bundleverify/internal/models"
)

// The services that make up a Landscape bundle, and the fingerprint of the
// Landscape login page served through haproxy.
var landscapeServices = []string{"haproxy", "landscape-server", "postgresql", "rabbitmq-server"}

const (
	landscapeScheme = "https"
	landscapeText   = "Landscape"
)

// LandscapeServices returns the service names a Landscape bundle deploys.
func LandscapeServices() []string {
	out := make([]string, len(landscapeServices))
	copy(out, landscapeServices)
	return out
}

// AssessLandscapeBundle verifies a deployed Landscape bundle: all four
// services must pass an HTTPS probe whose response mentions Landscape.
// The returned report is non-nil whenever verification ran, even when the
// bundle failed.
func AssessLandscapeBundle(ctx context.Context, v Verifier, client juju.Client) (*models.Report, error) {
	report, err := v.VerifyServices(ctx, client, landscapeServices, Options{
		Scheme: landscapeScheme,
		Text:   landscapeText,
	})
	if err != nil {
		return nil, err
	}
	if !report.OK() {
		return report, fmt.Errorf("landscape bundle verification failed: %s", strings.Join(report.Failed(), ", "))
	}
	return report, nil
}
