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

package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/docker/stackd/internal/metrics"
	"github.com/docker/stackd/pkg/api"
	"github.com/docker/stackd/pkg/netns"
	"github.com/docker/stackd/pkg/utils"
	"github.com/docker/stackd/pkg/volume"
)

// EventType is the kind of lifecycle event an instance went through
type EventType int

const (
	// EventStarted is emitted each time an execution starts, restarts included
	EventStarted EventType = iota
	// EventExited is emitted when an instance exited and won't be restarted
	EventExited
	// EventRestarting is emitted when an instance exited and is about to be restarted
	EventRestarting
	// EventFailed is emitted when an instance exited beyond its restart policy
	EventFailed
	// EventStopped is emitted once an instance has been stopped and removed
	EventStopped
)

// Event notifies a change in an instance lifecycle
type Event struct {
	Type       EventType
	Service    string
	InstanceID string
	Restarts   int
	Exit       ExitStatus
	// Delay is the backoff before a restart
	Delay time.Duration
	Err   error
	Time  time.Time
}

// EventListener is a callback to process supervisor events
type EventListener func(Event)

// Supervisor owns the lifecycle of service instances: start, stop, restart
// on failure with a bounded backoff, log capture and volume leases.
type Supervisor struct {
	runtime     Runtime
	coordinator *netns.Coordinator
	volumes     *volume.Manager
	clock       clockwork.Clock
	project     string
	runID       string
	logs        api.LogConsumer
	listeners   []EventListener

	mu        sync.RWMutex
	instances map[string]*Instance
}

// Option customizes a Supervisor
type Option func(*Supervisor)

// WithClock sets the clock used for restart backoff
func WithClock(clock clockwork.Clock) Option {
	return func(s *Supervisor) {
		s.clock = clock
	}
}

// WithRun sets the project and run instances are labelled with
func WithRun(project, runID string) Option {
	return func(s *Supervisor) {
		s.project = project
		s.runID = runID
	}
}

// WithLogConsumer captures the output of instances
func WithLogConsumer(logs api.LogConsumer) Option {
	return func(s *Supervisor) {
		s.logs = logs
	}
}

// WithListener registers a callback for instance events
func WithListener(listener EventListener) Option {
	return func(s *Supervisor) {
		s.listeners = append(s.listeners, listener)
	}
}

// New creates a Supervisor running instances on runtime
func New(runtime Runtime, coordinator *netns.Coordinator, volumes *volume.Manager, options ...Option) *Supervisor {
	s := &Supervisor{
		runtime:     runtime,
		coordinator: coordinator,
		volumes:     volumes,
		clock:       clockwork.NewRealClock(),
		instances:   map[string]*Instance{},
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// Start attaches spec to its network namespace, takes its volume leases and starts an instance
// which is then supervised until stopped. Resource limits are applied once here and never change
// for the instance lifetime.
func (s *Supervisor) Start(ctx context.Context, spec api.ServiceSpec) (*Instance, error) {
	handle, err := s.coordinator.Resolve(spec)
	if err != nil {
		return nil, err
	}

	options := StartOptions{
		Project:   s.project,
		RunID:     s.runID,
		Namespace: handle,
		Volumes:   map[string]string{},
	}
	named := spec.NamedVolumes()
	for _, v := range named {
		options.Volumes[v] = api.VolumeName(s.project, v)
		if err := s.runtime.EnsureVolume(ctx, s.project, v); err != nil {
			return nil, fmt.Errorf("creating volume %q: %w", v, err)
		}
	}
	var leases []*volume.Lease
	if s.volumes != nil {
		leases, err = s.volumes.AcquireAll(utils.Sorted(utils.NewSet(mapValues(options.Volumes)...)), spec.Name)
		if err != nil {
			return nil, err
		}
	}

	superviseCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	inst := &Instance{
		Spec:   spec,
		policy: normalizePolicy(spec.Restart),
		leases: leases,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if err := s.run(ctx, superviseCtx, inst, options); err != nil {
		cancel()
		volume.ReleaseAll(leases)
		return nil, err
	}

	s.mu.Lock()
	s.instances[spec.Name] = inst
	s.mu.Unlock()

	go s.supervise(superviseCtx, inst, options)
	return inst, nil
}

func mapValues(m map[string]string) []string {
	values := make([]string, 0, len(m))
	for _, v := range m {
		values = append(values, v)
	}
	return values
}

// run starts one execution of an instance
func (s *Supervisor) run(ctx, superviseCtx context.Context, inst *Instance, options StartOptions) error {
	id, err := s.runtime.Start(ctx, inst.Spec, options)
	if err != nil {
		return fmt.Errorf("starting service %q: %w", inst.Spec.Name, err)
	}
	handle := s.coordinator.Bind(inst.Spec.Name, options.Namespace, id)
	inst.setRunning(id, s.clock.Now(), handle)
	logrus.WithFields(logrus.Fields{
		"service":  inst.Spec.Name,
		"instance": id,
		"restarts": inst.Restarts(),
	}).Debug("instance started")

	if s.logs != nil {
		go s.streamLogs(superviseCtx, inst.Spec.Name, id)
	}
	s.emit(Event{Type: EventStarted, Service: inst.Spec.Name, InstanceID: id, Restarts: inst.Restarts()})
	return nil
}

func (s *Supervisor) streamLogs(ctx context.Context, service, id string) {
	stdout := utils.GetWriter(func(line string) {
		s.logs.Log(service, line)
	})
	stderr := utils.GetWriter(func(line string) {
		s.logs.Err(service, line)
	})
	defer stdout.Close() //nolint:errcheck
	defer stderr.Close() //nolint:errcheck
	if err := s.runtime.Logs(ctx, id, stdout, stderr); err != nil && ctx.Err() == nil {
		logrus.WithField("service", service).Debugf("log stream ended: %v", err)
	}
}

// supervise waits for the instance to exit and applies the restart policy
func (s *Supervisor) supervise(ctx context.Context, inst *Instance, options StartOptions) {
	defer close(inst.done)

	name := inst.Spec.Name
	logger := logrus.WithField("service", name)
	policy := inst.policy
	b := newBackOff(policy, s.clock)
	window := &restartWindow{width: policy.Window}

	for {
		id := inst.ID()
		status, err := s.runtime.Wait(ctx, id)
		if inst.isStopping() || ctx.Err() != nil {
			return
		}
		if err != nil {
			inst.fail(&api.NodeError{Service: name, Err: fmt.Errorf("%w: lost track of instance %s: %v", api.ErrProcessCrashed, id, err)})
			s.emit(Event{Type: EventFailed, Service: name, InstanceID: id, Restarts: inst.Restarts(), Err: inst.Err()})
			return
		}
		inst.setExited(status)
		logger.Debugf("instance %s %s", id, status)

		if !policy.ShouldRestart(status.Code, status.Crashed()) {
			if status.Code == 0 && !status.Crashed() {
				s.emit(Event{Type: EventExited, Service: name, InstanceID: id, Restarts: inst.Restarts(), Exit: status})
				return
			}
			inst.fail(&api.NodeError{Service: name, Err: fmt.Errorf("%w: %s", api.ErrProcessCrashed, status)})
			s.emit(Event{Type: EventFailed, Service: name, InstanceID: id, Restarts: inst.Restarts(), Exit: status, Err: inst.Err()})
			return
		}

		now := s.clock.Now()
		if window.exhausted(now, policy.MaxAttempts) {
			inst.fail(&api.NodeError{Service: name, Err: fmt.Errorf("%w: %d restarts within %s, last instance %s: %w",
				api.ErrRestartBudgetExhausted, policy.MaxAttempts, policy.Window, status, api.ErrProcessCrashed)})
			s.emit(Event{Type: EventFailed, Service: name, InstanceID: id, Restarts: inst.Restarts(), Exit: status, Err: inst.Err()})
			return
		}
		if now.Sub(inst.StartedAt()) > policy.Window {
			// the instance ran long enough to start over from the initial delay
			b.Reset()
		}
		delay := b.NextBackOff()
		s.emit(Event{Type: EventRestarting, Service: name, InstanceID: id, Restarts: inst.Restarts(), Exit: status, Delay: delay})
		logger.Warnf("instance %s, restarting in %s", status, delay)

		if err := s.sleep(ctx, delay); err != nil || inst.isStopping() {
			return
		}
		if err := s.runtime.Remove(ctx, id); err != nil && !api.IsNotFoundError(err) {
			logger.WithError(err).Debugf("failed to remove instance %s", id)
		}
		window.record(s.clock.Now())

		if inst.Spec.NetworkMode.IsShared() {
			// the namespace owner may have been restarted meanwhile
			handle, err := s.coordinator.Resolve(inst.Spec)
			if err != nil {
				inst.fail(&api.NodeError{Service: name, Err: err})
				s.emit(Event{Type: EventFailed, Service: name, Restarts: inst.Restarts(), Err: inst.Err()})
				return
			}
			options.Namespace = handle
		}
		restarts := inst.incRestarts()
		metrics.Restarts.WithLabelValues(s.project, name).Inc()
		if err := s.run(ctx, ctx, inst, options); err != nil {
			if inst.isStopping() || ctx.Err() != nil {
				return
			}
			inst.fail(&api.NodeError{Service: name, Err: fmt.Errorf("%w: restart %d failed: %v", api.ErrProcessCrashed, restarts, err)})
			s.emit(Event{Type: EventFailed, Service: name, Restarts: restarts, Err: inst.Err()})
			return
		}
	}
}

func (s *Supervisor) sleep(ctx context.Context, d time.Duration) error {
	timer := s.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.Chan():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop terminates an instance, giving it grace to exit before it is killed, then releases its
// runtime resources, volume leases and network namespace. Stopping twice waits for the first stop.
func (s *Supervisor) Stop(ctx context.Context, inst *Instance, grace time.Duration) error {
	if !inst.markStopping() {
		select {
		case <-inst.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	name := inst.Spec.Name
	var errs *multierror.Error

	stopped := inst.ID()
	if err := s.runtime.Stop(ctx, stopped, grace); err != nil && !api.IsNotFoundError(err) {
		errs = multierror.Append(errs, fmt.Errorf("stopping service %q: %w", name, err))
	}
	inst.cancel()
	select {
	case <-inst.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	// a restart may have raced with the stop request
	if last := inst.ID(); last != stopped {
		if err := s.runtime.Stop(ctx, last, grace); err != nil && !api.IsNotFoundError(err) {
			errs = multierror.Append(errs, fmt.Errorf("stopping service %q: %w", name, err))
		}
		if err := s.runtime.Remove(ctx, last); err != nil && !api.IsNotFoundError(err) {
			errs = multierror.Append(errs, fmt.Errorf("removing service %q: %w", name, err))
		}
	}
	if err := s.runtime.Remove(ctx, stopped); err != nil && !api.IsNotFoundError(err) {
		errs = multierror.Append(errs, fmt.Errorf("removing service %q: %w", name, err))
	}

	volume.ReleaseAll(inst.leases)
	if h, ok := s.coordinator.Lookup(name); ok && h.ID == inst.Namespace().ID {
		s.coordinator.Release(name)
	}
	s.mu.Lock()
	if s.instances[name] == inst {
		delete(s.instances, name)
	}
	s.mu.Unlock()

	if inst.Observe().State == Running {
		inst.setExited(ExitStatus{})
	}
	s.emit(Event{Type: EventStopped, Service: name, InstanceID: inst.ID(), Restarts: inst.Restarts()})
	return errs.ErrorOrNil()
}

// Observe returns the runtime state of an instance
func (s *Supervisor) Observe(inst *Instance) Observation {
	return inst.Observe()
}

// Instance returns the supervised instance of a service
func (s *Supervisor) Instance(service string) (*Instance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[service]
	return inst, ok
}

// Exec runs a command inside the current execution of a service. It allows health
// checks to follow an instance across restarts.
func (s *Supervisor) Exec(ctx context.Context, service string, command []string) (int, string, error) {
	inst, ok := s.Instance(service)
	if !ok {
		return -1, "", fmt.Errorf("service %q has no running instance: %w", service, api.ErrNotFound)
	}
	return s.runtime.Exec(ctx, inst.ID(), command)
}

func (s *Supervisor) emit(e Event) {
	if e.Time.IsZero() {
		e.Time = s.clock.Now()
	}
	for _, l := range s.listeners {
		l(e)
	}
}
