package juju

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"
)

// fakeRunner returns canned output or a canned error and records the
// command line it was asked to run.
type fakeRunner struct {
	output []byte
	err    error
	name   string
	args   []string
}

func (r *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.name = name
	r.args = args
	if r.err != nil {
		return nil, r.err
	}
	return r.output, nil
}

const statusJSON = `{
  "model": {"name": "landscape-demo"},
  "applications": {
    "haproxy": {
      "units": {
        "haproxy/0": {"public-address": "10.0.0.10", "workload-status": {"current": "active"}}
      }
    },
    "postgresql": {
      "units": {
        "postgresql/1": {"public-address": "10.0.0.12", "workload-status": {"current": "active"}},
        "postgresql/0": {"public-address": "10.0.0.11", "workload-status": {"current": "blocked"}}
      }
    }
  }
}`

func TestCLIClient_Status(t *testing.T) {
	runner := &fakeRunner{output: []byte(statusJSON)}
	client := NewCLIClient("juju", "landscape-demo", 5*time.Second)
	client.SetRunner(runner)

	status, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}

	if runner.name != "juju" {
		t.Errorf("ran %q, want juju", runner.name)
	}
	wantArgs := "status --format=json -m landscape-demo"
	if got := strings.Join(runner.args, " "); got != wantArgs {
		t.Errorf("args = %q, want %q", got, wantArgs)
	}

	if status.Model != "landscape-demo" {
		t.Errorf("Model = %q, want landscape-demo", status.Model)
	}
	if len(status.Services) != 2 {
		t.Fatalf("Services = %d, want 2", len(status.Services))
	}

	pg, ok := status.Services["postgresql"]
	if !ok {
		t.Fatal("postgresql missing from status")
	}
	if len(pg.Units) != 2 {
		t.Fatalf("postgresql units = %d, want 2", len(pg.Units))
	}
	// Units come back sorted by name regardless of map order.
	if pg.Units[0].Name != "postgresql/0" || pg.Units[1].Name != "postgresql/1" {
		t.Errorf("unit order = %q, %q", pg.Units[0].Name, pg.Units[1].Name)
	}
	if pg.Units[0].PublicAddress != "10.0.0.11" {
		t.Errorf("postgresql/0 address = %q, want 10.0.0.11", pg.Units[0].PublicAddress)
	}
	if pg.Units[0].Workload != "blocked" {
		t.Errorf("postgresql/0 workload = %q, want blocked", pg.Units[0].Workload)
	}
}

func TestCLIClient_Status_LegacyServicesKey(t *testing.T) {
	legacy := `{
	  "model": {"name": "old"},
	  "services": {
	    "rabbitmq-server": {
	      "units": {"rabbitmq-server/0": {"public-address": "10.0.0.20", "workload-status": {"current": "active"}}}
	    }
	  }
	}`
	runner := &fakeRunner{output: []byte(legacy)}
	client := NewCLIClient("juju", "", 5*time.Second)
	client.SetRunner(runner)

	status, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if got := strings.Join(runner.args, " "); got != "status --format=json" {
		t.Errorf("args = %q, want no -m flag", got)
	}
	if _, ok := status.Services["rabbitmq-server"]; !ok {
		t.Error("rabbitmq-server missing from legacy status")
	}
}

func TestCLIClient_Status_Errors(t *testing.T) {
	tests := []struct {
		name    string
		runErr  error
		output  []byte
		wantErr error
	}{
		{
			name:    "binary not found",
			runErr:  &exec.Error{Name: "juju", Err: exec.ErrNotFound},
			wantErr: ErrJujuNotFound,
		},
		{
			name:    "exit error",
			runErr:  errors.New("exit status 1"),
			wantErr: ErrStatusFailed,
		},
		{
			name:    "bad json",
			output:  []byte("not json"),
			wantErr: ErrStatusFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{output: tt.output, err: tt.runErr}
			client := NewCLIClient("juju", "m", 5*time.Second)
			client.SetRunner(runner)

			_, err := client.Status(context.Background())
			if err == nil {
				t.Fatal("Status() expected error, got nil")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Status() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCLIClient_Status_ModelNotFound(t *testing.T) {
	exitErr := &exec.ExitError{Stderr: []byte(`ERROR model "nope" not found`)}
	runner := &fakeRunner{err: exitErr}
	client := NewCLIClient("juju", "nope", 5*time.Second)
	client.SetRunner(runner)

	_, err := client.Status(context.Background())
	if !errors.Is(err, ErrModelNotFound) {
		t.Errorf("Status() error = %v, want ErrModelNotFound", err)
	}
}
