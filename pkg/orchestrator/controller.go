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

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/docker/stackd/internal/metrics"
	"github.com/docker/stackd/internal/tracing"
	"github.com/docker/stackd/pkg/api"
	"github.com/docker/stackd/pkg/graph"
	"github.com/docker/stackd/pkg/health"
	"github.com/docker/stackd/pkg/netns"
	"github.com/docker/stackd/pkg/store"
	"github.com/docker/stackd/pkg/supervisor"
	"github.com/docker/stackd/pkg/volume"
)

// DefaultStopTimeout is the grace period of services declaring none
const DefaultStopTimeout = 10 * time.Second

var allNodeStates = []string{
	string(api.NodePending),
	string(api.NodeStarting),
	string(api.NodeAwaitingHealth),
	string(api.NodeReady),
	string(api.NodeStopping),
	string(api.NodeStopped),
	string(api.NodeCrashed),
	string(api.NodeFailed),
}

var errInstanceDone = errors.New("instance is done")

type node struct {
	spec  api.ServiceSpec
	ready chan struct{}

	state      api.NodeState
	health     api.Health
	inst       *supervisor.Instance
	instanceID string
	startedAt  time.Time
	restarts   int
	exitCode   int
	err        error
	// ended is an instance end reported before the service was Ready
	ended *supervisor.Event
}

// Controller drives one run of a project: it starts services in dependency order gated on
// their health, keeps supervising them once Ready, and tears everything down in reverse
// start order when a service fails or the run is canceled.
type Controller struct {
	project *api.Project
	plan    *graph.LaunchPlan
	runtime supervisor.Runtime
	volumes *volume.Manager
	store   store.Store
	clock   clockwork.Clock
	options api.UpOptions
	runID   string

	coordinator *netns.Coordinator
	supervisor  *supervisor.Supervisor
	prober      *health.Prober
	sem         *semaphore.Weighted
	proberOpts  []health.Option

	mu      sync.Mutex
	status  api.RunStatus
	nodes   map[string]*node
	started []string
	fail    context.CancelCauseFunc
	runCtx  context.Context

	publishMu sync.Mutex
}

// Option customizes a Controller
type Option func(*Controller)

// WithClock sets the clock used for restart backoff and health probes
func WithClock(clock clockwork.Clock) Option {
	return func(c *Controller) {
		c.clock = clock
	}
}

// WithStore publishes the run status to s
func WithStore(s store.Store) Option {
	return func(c *Controller) {
		c.store = s
	}
}

// WithVolumeManager enforces exclusive named volume mounts through m
func WithVolumeManager(m *volume.Manager) Option {
	return func(c *Controller) {
		c.volumes = m
	}
}

// WithProberOptions customizes the health prober
func WithProberOptions(options ...health.Option) Option {
	return func(c *Controller) {
		c.proberOpts = append(c.proberOpts, options...)
	}
}

// NewController plans a run of project. Build-time errors are returned before anything is started.
func NewController(project *api.Project, runtime supervisor.Runtime, options api.UpOptions, opts ...Option) (*Controller, error) {
	plan, err := graph.BuildProject(project)
	if err != nil {
		return nil, err
	}
	c := &Controller{
		project:     project,
		plan:        plan,
		runtime:     runtime,
		clock:       clockwork.NewRealClock(),
		options:     options,
		runID:       uuid.NewString(),
		coordinator: netns.NewCoordinator(),
		nodes:       map[string]*node{},
	}
	for _, o := range opts {
		o(c)
	}

	supervisorOpts := []supervisor.Option{
		supervisor.WithClock(c.clock),
		supervisor.WithRun(project.Name, c.runID),
		supervisor.WithListener(c.onInstanceEvent),
	}
	if options.LogConsumer != nil {
		supervisorOpts = append(supervisorOpts, supervisor.WithLogConsumer(options.LogConsumer))
	}
	c.supervisor = supervisor.New(runtime, c.coordinator, c.volumes, supervisorOpts...)
	c.prober = health.NewProber(c.supervisor, append([]health.Option{health.WithClock(c.clock)}, c.proberOpts...)...)
	if options.MaxConcurrency > 0 {
		c.sem = semaphore.NewWeighted(int64(options.MaxConcurrency))
	}

	now := c.clock.Now()
	c.status = api.RunStatus{
		Project:   project.Name,
		RunID:     c.runID,
		PID:       os.Getpid(),
		State:     api.RunIdle,
		StartedAt: now,
		UpdatedAt: now,
	}
	for _, spec := range plan.Services() {
		c.nodes[spec.Name] = &node{
			spec:  spec,
			ready: make(chan struct{}),
			state: api.NodePending,
		}
	}
	return c, nil
}

// RunID identifies the run
func (c *Controller) RunID() string {
	return c.runID
}

// Plan returns the launch plan of the run
func (c *Controller) Plan() *graph.LaunchPlan {
	return c.plan
}

// Run starts the project and supervises it until ctx is done or a service fails, then tears
// it down. It returns nil when every service became Ready and the run drained cleanly after
// an operator interrupt.
func (c *Controller) Run(ctx context.Context) error {
	return tracing.SpanWrap(ctx, "project/up", tracing.RunOptions(c.project, c.runID), c.run)
}

func (c *Controller) run(ctx context.Context) error {
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	c.mu.Lock()
	c.fail = cancel
	c.runCtx = runCtx
	c.mu.Unlock()

	if c.options.LogConsumer != nil {
		for _, name := range c.plan.Names() {
			c.options.LogConsumer.Register(name)
		}
	}
	for _, name := range c.plan.Names() {
		metrics.SetNodeState(c.project.Name, name, string(api.NodePending), allNodeStates)
	}
	c.setRunState(api.RunLaunching, nil)

	var monitors sync.WaitGroup
	launched := c.launch(runCtx, &monitors) == nil
	if launched {
		c.setRunState(api.RunRunning, nil)
		logrus.Infof("project %s is running", c.project.Name)
		<-runCtx.Done()
	}
	cause := context.Cause(runCtx)
	cancel(nil)
	monitors.Wait()

	c.setRunState(api.RunDraining, nil)
	teardownErr := c.teardown(context.WithoutCancel(ctx))

	var err error
	switch {
	case errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded):
		if !launched {
			err = fmt.Errorf("%w: %v", api.ErrCanceled, cause)
		}
	case cause != nil:
		err = cause
	}
	if teardownErr != nil {
		err = multierror.Append(err, teardownErr).ErrorOrNil()
	}
	c.setRunState(api.RunStopped, err)
	return err
}

// launch starts every service once its dependencies are Ready, concurrently for
// independent services
func (c *Controller) launch(ctx context.Context, monitors *sync.WaitGroup) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, spec := range c.plan.Services() {
		eg.Go(func() error {
			err := c.startNode(ctx, spec, monitors)
			if err != nil && ctx.Err() == nil {
				c.abort(err)
			}
			return err
		})
	}
	return eg.Wait()
}

func (c *Controller) abort(err error) {
	c.mu.Lock()
	fail := c.fail
	c.mu.Unlock()
	if fail != nil {
		fail(err)
	}
}

func (c *Controller) node(name string) *node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nodes[name]
}

func (c *Controller) startNode(ctx context.Context, spec api.ServiceSpec, monitors *sync.WaitGroup) error {
	n := c.node(spec.Name)
	for _, dep := range spec.Dependencies() {
		select {
		case <-c.node(dep).ready:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	// waiting on dependencies never holds a slot
	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer c.sem.Release(1)
	}
	return tracing.SpanWrap(ctx, "node/start", tracing.NodeOptions(spec), func(ctx context.Context) error {
		return c.bringUp(ctx, n, monitors)
	})
}

func (c *Controller) bringUp(ctx context.Context, n *node, monitors *sync.WaitGroup) error {
	spec := n.spec
	c.transition(ctx, n, api.NodeStarting, nil)
	begin := c.clock.Now()

	inst, err := c.supervisor.Start(ctx, spec)
	if err != nil {
		if ctx.Err() != nil {
			c.transition(ctx, n, api.NodeStopped, nil)
			return ctx.Err()
		}
		nodeErr := &api.NodeError{Service: spec.Name, Err: err}
		c.transition(ctx, n, api.NodeFailed, nodeErr)
		return nodeErr
	}
	c.mu.Lock()
	n.inst = inst
	n.instanceID = inst.ID()
	n.startedAt = inst.StartedAt()
	c.started = append(c.started, spec.Name)
	c.mu.Unlock()

	c.transition(ctx, n, api.NodeAwaitingHealth, nil)
	if err := c.awaitHealthy(ctx, n, inst); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.transition(ctx, n, api.NodeFailed, err)
		return err
	}

	c.mu.Lock()
	early := n.ended
	c.mu.Unlock()
	if early != nil && early.Type == supervisor.EventFailed {
		c.transition(ctx, n, api.NodeFailed, early.Err)
		return early.Err
	}

	c.transition(ctx, n, api.NodeReady, nil)
	metrics.StartLatency.WithLabelValues(c.project.Name, spec.Name).Observe(c.clock.Since(begin).Seconds())

	c.mu.Lock()
	ended, runCtx := n.ended, c.runCtx
	c.mu.Unlock()
	if ended != nil {
		c.instanceEnded(n, *ended)
		if ended.Type == supervisor.EventFailed {
			return ended.Err
		}
	}
	close(n.ready)

	if health.Enabled(spec) {
		monitors.Add(1)
		go func() {
			defer monitors.Done()
			c.prober.Monitor(runCtx, spec, spec.Name, func(h api.Health, reason string) {
				c.setHealth(n, h, reason)
			})
		}()
	}
	return nil
}

// awaitHealthy waits for the health check of a started service. It gives up as soon as
// the instance is done, as its restart policy then gave up on it.
func (c *Controller) awaitHealthy(ctx context.Context, n *node, inst *supervisor.Instance) error {
	spec := n.spec
	hctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if c.options.Timeout > 0 {
		var stop context.CancelFunc
		hctx, stop = context.WithTimeoutCause(hctx, c.options.Timeout,
			fmt.Errorf("%w: not healthy within %s", api.ErrHealthCheckTimedOut, c.options.Timeout))
		defer stop()
	}
	go func() {
		select {
		case <-inst.Done():
			cancel(errInstanceDone)
		case <-hctx.Done():
		}
	}()

	if health.Enabled(spec) {
		c.setHealth(n, api.HealthStarting, "")
	}
	result, err := c.prober.AwaitHealthy(hctx, spec, spec.Name)
	if err == nil && result.Healthy() {
		if health.Enabled(spec) {
			c.setHealth(n, api.HealthHealthy, "")
		}
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		cause := context.Cause(hctx)
		if errors.Is(cause, errInstanceDone) {
			if instErr := inst.Err(); instErr != nil {
				return instErr
			}
			obs := inst.Observe()
			return &api.NodeError{Service: spec.Name, Err: fmt.Errorf("%w: exited with code %d before becoming healthy", api.ErrProcessCrashed, obs.Code)}
		}
		return &api.NodeError{Service: spec.Name, Err: cause}
	}
	c.setHealth(n, api.HealthUnhealthy, result.Reason)
	return &api.NodeError{Service: spec.Name, Err: result.Err()}
}

// onInstanceEvent tracks what the supervisor does with the instances
func (c *Controller) onInstanceEvent(e supervisor.Event) {
	n := c.node(e.Service)
	if n == nil {
		return
	}
	logger := logrus.WithFields(logrus.Fields{"service": e.Service, "restarts": e.Restarts})
	c.mu.Lock()
	n.restarts = e.Restarts
	state := n.state
	switch e.Type {
	case supervisor.EventStarted:
		n.instanceID = e.InstanceID
		n.startedAt = e.Time
	case supervisor.EventExited, supervisor.EventFailed:
		n.exitCode = e.Exit.Code
		if state != api.NodeReady {
			n.ended = &e
		}
	}
	c.mu.Unlock()

	switch e.Type {
	case supervisor.EventRestarting:
		logger.Warnf("%s, restarting in %s", e.Exit, e.Delay)
		if c.options.LogConsumer != nil {
			c.options.LogConsumer.Status(e.Service, fmt.Sprintf("%s, restarting", e.Exit))
		}
		c.publish()
	case supervisor.EventStarted:
		c.publish()
	case supervisor.EventExited, supervisor.EventFailed:
		if state == api.NodeReady {
			c.instanceEnded(n, e)
		}
	}
}

// instanceEnded handles the end of the instance of a Ready service. A clean exit is
// not fatal, a crash aborts the run.
func (c *Controller) instanceEnded(n *node, e supervisor.Event) {
	logger := logrus.WithField("service", e.Service)
	if e.Type == supervisor.EventExited {
		logger.Info("exited cleanly")
		c.transition(context.Background(), n, api.NodeStopped, nil)
		return
	}
	logger.Errorf("crashed: %v", e.Err)
	c.transition(context.Background(), n, api.NodeCrashed, e.Err)
	c.abort(e.Err)
}

// teardown stops started services in the reverse order they were started in
func (c *Controller) teardown(ctx context.Context) error {
	c.mu.Lock()
	started := slices.Clone(c.started)
	c.mu.Unlock()

	var errs *multierror.Error
	for _, name := range slices.Backward(started) {
		n := c.node(name)
		c.mu.Lock()
		inst, state := n.inst, n.state
		c.mu.Unlock()

		terminal := state.IsTerminal()
		if !terminal {
			c.transition(ctx, n, api.NodeStopping, nil)
		}
		grace := n.spec.StopGracePeriod
		if grace <= 0 {
			grace = c.options.StopTimeout
		}
		if grace <= 0 {
			grace = DefaultStopTimeout
		}
		if err := c.supervisor.Stop(ctx, inst, grace); err != nil {
			errs = multierror.Append(errs, &api.NodeError{Service: name, Err: err})
		}
		if !terminal {
			c.transition(ctx, n, api.NodeStopped, nil)
		}
	}
	return errs.ErrorOrNil()
}

func (c *Controller) transition(ctx context.Context, n *node, state api.NodeState, err error) {
	now := c.clock.Now()
	c.mu.Lock()
	n.state = state
	if err != nil {
		n.err = err
	}
	event := api.NodeEvent{
		Service:  n.spec.Name,
		State:    state,
		Time:     now,
		Restarts: n.restarts,
		Err:      err,
	}
	c.mu.Unlock()

	logrus.WithField("service", n.spec.Name).Debugf("service is %s", state)
	metrics.SetNodeState(c.project.Name, n.spec.Name, string(state), allNodeStates)
	tracing.Event(ctx, n.spec.Name, state)
	if c.options.Listener != nil {
		c.options.Listener(event)
	}
	c.publish()
}

func (c *Controller) setHealth(n *node, h api.Health, reason string) {
	c.mu.Lock()
	changed := n.health != h
	n.health = h
	c.mu.Unlock()
	if !changed {
		return
	}
	if h == api.HealthUnhealthy && reason != "" {
		logrus.WithField("service", n.spec.Name).Warnf("unhealthy: %s", reason)
	}
	c.publish()
}

func (c *Controller) setRunState(state api.RunState, err error) {
	c.mu.Lock()
	c.status.State = state
	if err != nil {
		c.status.Error = err.Error()
	}
	c.mu.Unlock()
	c.publish()
}

// Status returns a snapshot of the run
func (c *Controller) Status() *api.RunStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

func (c *Controller) snapshot() *api.RunStatus {
	status := c.status
	status.UpdatedAt = c.clock.Now()
	status.Nodes = make([]api.NodeStatus, 0, len(c.nodes))
	for _, spec := range c.plan.Services() {
		n := c.nodes[spec.Name]
		ns := api.NodeStatus{
			Service:    spec.Name,
			State:      n.state,
			Health:     n.health,
			InstanceID: n.instanceID,
			StartedAt:  n.startedAt,
			Restarts:   n.restarts,
			ExitCode:   n.exitCode,
		}
		if n.err != nil {
			ns.Error = n.err.Error()
		}
		for _, p := range spec.Ports {
			ns.Ports = append(ns.Ports, p.String())
		}
		status.Nodes = append(status.Nodes, ns)
	}
	return &status
}

func (c *Controller) publish() {
	if c.store == nil {
		return
	}
	c.publishMu.Lock()
	defer c.publishMu.Unlock()
	status := c.Status()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.store.Save(ctx, status); err != nil {
		logrus.Debugf("failed to publish status: %v", err)
	}
}
