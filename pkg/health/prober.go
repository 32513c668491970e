/*
   Copyright 2020 Docker Compose CLI authors

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/docker/stackd/internal/metrics"
	"github.com/docker/stackd/pkg/api"
)

// Result is the outcome of waiting for a service to become healthy
type Result struct {
	Status api.Health
	// Reason is the last probe failure when Unhealthy
	Reason string
	// Probes is the number of probes run
	Probes int
}

// Healthy tells if the service passed its health check
func (r Result) Healthy() bool {
	return r.Status == api.HealthHealthy
}

// Err converts an Unhealthy result into an error wrapping api.ErrHealthCheckTimedOut
func (r Result) Err() error {
	if r.Healthy() {
		return nil
	}
	return fmt.Errorf("%w after %d probes: %s", api.ErrHealthCheckTimedOut, r.Probes, r.Reason)
}

// Execer runs a command inside a running service instance
type Execer interface {
	Exec(ctx context.Context, instanceID string, command []string) (exitCode int, output string, err error)
}

// Prober runs the health checks of services
type Prober struct {
	clock  clockwork.Clock
	execer Execer
	client *http.Client
}

// Option customizes a Prober
type Option func(*Prober)

// WithClock sets the clock used to wait between probes
func WithClock(clock clockwork.Clock) Option {
	return func(p *Prober) {
		p.clock = clock
	}
}

// WithHTTPClient sets the client used for http readiness endpoints
func WithHTTPClient(client *http.Client) Option {
	return func(p *Prober) {
		p.client = client
	}
}

// NewProber creates a Prober running command checks through execer
func NewProber(execer Execer, options ...Option) *Prober {
	p := &Prober{
		clock:  clockwork.NewRealClock(),
		execer: execer,
		client: defaultHTTPClient(),
	}
	for _, o := range options {
		o(p)
	}
	return p
}

// Enabled tells if spec declares a health check to wait on
func Enabled(spec api.ServiceSpec) bool {
	hc := spec.HealthCheck
	if hc == nil {
		return false
	}
	if len(hc.Test) > 0 && hc.Test[0] == "NONE" {
		return false
	}
	return len(hc.Test) > 0 || hc.Endpoint != ""
}

// AwaitHealthy blocks until the instance passes its health check or fails it
// retries consecutive times. A service with no health check is healthy right away.
// The error is only set when ctx is done first.
func (p *Prober) AwaitHealthy(ctx context.Context, spec api.ServiceSpec, instanceID string) (Result, error) {
	if !Enabled(spec) {
		return Result{Status: api.HealthHealthy}, nil
	}
	hc := spec.HealthCheck
	checker, err := p.checker(spec, instanceID)
	if err != nil {
		return Result{Status: api.HealthUnhealthy, Reason: err.Error()}, nil
	}
	logger := logrus.WithField("service", spec.Name)

	if hc.StartPeriod > 0 {
		if err := p.sleep(ctx, hc.StartPeriod); err != nil {
			return Result{Status: api.HealthStarting}, err
		}
	}

	retries := max(hc.Retries, 1)
	result := Result{Status: api.HealthStarting}
	failures := 0
	for {
		result.Probes++
		err := p.probe(ctx, checker, hc.Timeout)
		if err == nil {
			result.Status = api.HealthHealthy
			result.Reason = ""
			return result, nil
		}
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		failures++
		result.Reason = err.Error()
		metrics.ProbeFailures.WithLabelValues(spec.Name).Inc()
		logger.Debugf("health probe %d/%d failed: %v", failures, retries, err)
		if failures >= retries {
			result.Status = api.HealthUnhealthy
			return result, nil
		}
		if err := p.sleep(ctx, hc.Interval); err != nil {
			return result, err
		}
	}
}

// Monitor keeps probing a healthy instance every interval until ctx is done.
// onChange is called on each health transition; a single success resets the
// failure counter.
func (p *Prober) Monitor(ctx context.Context, spec api.ServiceSpec, instanceID string, onChange func(api.Health, string)) {
	if !Enabled(spec) {
		return
	}
	hc := spec.HealthCheck
	checker, err := p.checker(spec, instanceID)
	if err != nil {
		return
	}
	retries := max(hc.Retries, 1)
	interval := hc.Interval
	if interval <= 0 {
		interval = api.DefaultHealthInterval
	}
	current := api.HealthHealthy
	failures := 0
	for {
		if err := p.sleep(ctx, interval); err != nil {
			return
		}
		err := p.probe(ctx, checker, hc.Timeout)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			failures = 0
			if current != api.HealthHealthy {
				current = api.HealthHealthy
				onChange(current, "")
			}
			continue
		}
		failures++
		metrics.ProbeFailures.WithLabelValues(spec.Name).Inc()
		if failures >= retries && current != api.HealthUnhealthy {
			current = api.HealthUnhealthy
			onChange(current, err.Error())
		}
	}
}

// probe runs a single check bounded by timeout. The check is not retried.
func (p *Prober) probe(ctx context.Context, checker checker, timeout time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- checker.check(ctx)
	}()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := p.clock.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.Chan()
	}

	select {
	case err := <-done:
		return err
	case <-expired:
		return fmt.Errorf("probe timed out after %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Prober) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := p.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.Chan():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
