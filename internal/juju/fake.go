package juju

import (
	"context"
	"fmt"

	"github.com/jujuci/bundleverify/internal/models"
)

// FakeClient is a test double for a deployed model. It serves a canned
// status and counts calls so tests can assert interaction without a
// controller.
type FakeClient struct {
	Model       string
	Canned      *models.Status
	Err         error
	StatusCalls int
}

// NewFakeClient returns a FakeClient with an empty status for the model.
func NewFakeClient(model string) *FakeClient {
	return &FakeClient{
		Model: model,
		Canned: &models.Status{
			Model:    model,
			Services: make(map[string]models.Service),
		},
	}
}

// AddService registers a service with units at the given addresses.
// Unit names follow the juju convention service/0, service/1, ...
func (f *FakeClient) AddService(name string, addresses ...string) {
	svc := models.Service{Name: name}
	for i, addr := range addresses {
		svc.Units = append(svc.Units, models.Unit{
			Name:          fmt.Sprintf("%s/%d", name, i),
			PublicAddress: addr,
			Workload:      "active",
		})
	}
	f.Canned.Services[name] = svc
}

func (f *FakeClient) Status(ctx context.Context) (*models.Status, error) {
	f.StatusCalls++
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Canned, nil
}

func (f *FakeClient) ModelName() string {
	return f.Model
}
