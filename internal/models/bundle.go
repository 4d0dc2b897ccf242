package models

import "time"

// Unit is a single deployed unit of a service.
type Unit struct {
	Name          string `json:"name"`
	PublicAddress string `json:"publicAddress"`
	Workload      string `json:"workload"`
}

// Service is a deployed service (a Juju application) and its units.
type Service struct {
	Name  string `json:"name"`
	Units []Unit `json:"units"`
}

// Status is the subset of model status the verifier needs.
type Status struct {
	Model    string             `json:"model"`
	Services map[string]Service `json:"services"`
}

// ProbeResult is the outcome of probing one unit.
type ProbeResult struct {
	Unit     string `json:"unit"`
	URL      string `json:"url"`
	Attempts int    `json:"attempts"`
	Passed   bool   `json:"passed"`
	Reason   string `json:"reason,omitempty"` // empty when passed
}

// ServiceResult aggregates the probe outcomes for one service.
type ServiceResult struct {
	Service string        `json:"service"`
	Passed  bool          `json:"passed"`
	Reason  string        `json:"reason,omitempty"` // set for non-probe failures (missing service, no units)
	Probes  []ProbeResult `json:"probes,omitempty"`
}

// Report is the result of one verification run over a model.
type Report struct {
	Model      string          `json:"model"`
	Scheme     string          `json:"scheme"`
	Text       string          `json:"text,omitempty"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt"`
	Services   []ServiceResult `json:"services"`
}

// OK reports whether every service passed.
func (r *Report) OK() bool {
	for _, s := range r.Services {
		if !s.Passed {
			return false
		}
	}
	return true
}

// Failed returns the names of services that did not pass, in report order.
func (r *Report) Failed() []string {
	var out []string
	for _, s := range r.Services {
		if !s.Passed {
			out = append(out, s.Service)
		}
	}
	return out
}
