package juju

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/jujuci/bundleverify/internal/models"
	"github.com/jujuci/bundleverify/internal/observability"
)

// Client reads the status of a deployed model.
type Client interface {
	Status(ctx context.Context) (*models.Status, error)
	ModelName() string
}

var (
	ErrJujuNotFound  = errors.New("juju binary not found")
	ErrStatusFailed  = errors.New("juju status failed")
	ErrModelNotFound = errors.New("model not found")
)

// Runner executes an external command and returns its combined stdout.
// Injectable so tests never spawn a real juju process.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// CLIClient reads model status by running the juju binary, the same
// transport the CI tooling uses. Not safe for concurrent mutation; the
// fields are set once at construction.
type CLIClient struct {
	jujuPath string
	model    string
	timeout  time.Duration
	runner   Runner
}

// NewCLIClient returns a CLIClient for the given model. An empty model uses
// the controller's current model. jujuPath defaults to "juju" on PATH.
func NewCLIClient(jujuPath, model string, timeout time.Duration) *CLIClient {
	if jujuPath == "" {
		jujuPath = "juju"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CLIClient{
		jujuPath: jujuPath,
		model:    model,
		timeout:  timeout,
		runner:   execRunner{},
	}
}

// SetRunner replaces the command runner. Test hook.
func (c *CLIClient) SetRunner(r Runner) {
	c.runner = r
}

func (c *CLIClient) ModelName() string {
	return c.model
}

// statusResponse mirrors the juju status JSON document. Modern juju emits
// "applications"; 1.x emitted "services". Both are accepted.
type statusResponse struct {
	Model struct {
		Name string `json:"name"`
	} `json:"model"`
	Applications map[string]applicationStatus `json:"applications"`
	Services     map[string]applicationStatus `json:"services"`
}

type applicationStatus struct {
	Units map[string]unitStatus `json:"units"`
}

type unitStatus struct {
	PublicAddress  string `json:"public-address"`
	WorkloadStatus struct {
		Current string `json:"current"`
	} `json:"workload-status"`
}

// Status runs `juju status --format=json` and maps the document into the
// verifier's model.
func (c *CLIClient) Status(ctx context.Context) (*models.Status, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	args := []string{"status", "--format=json"}
	if c.model != "" {
		args = append(args, "-m", c.model)
	}

	out, err := c.runner.Run(ctx, c.jujuPath, args...)
	if err != nil {
		observability.JujuStatusCallsTotal.WithLabelValues("error").Inc()
		return nil, c.mapRunError(err)
	}
	observability.JujuStatusCallsTotal.WithLabelValues("success").Inc()

	var resp statusResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, fmt.Errorf("%w: parse status output: %v", ErrStatusFailed, err)
	}

	apps := resp.Applications
	if len(apps) == 0 {
		apps = resp.Services
	}

	status := &models.Status{
		Model:    resp.Model.Name,
		Services: make(map[string]models.Service, len(apps)),
	}
	if status.Model == "" {
		status.Model = c.model
	}
	for name, app := range apps {
		svc := models.Service{Name: name}
		unitNames := make([]string, 0, len(app.Units))
		for un := range app.Units {
			unitNames = append(unitNames, un)
		}
		sort.Strings(unitNames)
		for _, un := range unitNames {
			u := app.Units[un]
			svc.Units = append(svc.Units, models.Unit{
				Name:          un,
				PublicAddress: u.PublicAddress,
				Workload:      u.WorkloadStatus.Current,
			})
		}
		status.Services[name] = svc
	}
	return status, nil
}

// mapRunError translates exec failures into the package's sentinel errors.
func (c *CLIClient) mapRunError(err error) error {
	if errors.Is(err, exec.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrJujuNotFound, c.jujuPath)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		stderr := strings.TrimSpace(string(exitErr.Stderr))
		if c.model != "" && strings.Contains(stderr, "not found") {
			return fmt.Errorf("%w: %s", ErrModelNotFound, c.model)
		}
		if stderr != "" {
			return fmt.Errorf("%w: %s", ErrStatusFailed, stderr)
		}
	}
	return fmt.Errorf("%w: %v", ErrStatusFailed, err)
}
