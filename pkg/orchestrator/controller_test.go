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
	"math/rand"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/docker/stackd/pkg/api"
	"github.com/docker/stackd/pkg/dryrun"
	"github.com/docker/stackd/pkg/store"
	"github.com/docker/stackd/pkg/supervisor"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recorder keeps every state transition in the order the listener saw them
type recorder struct {
	mu     sync.Mutex
	events []api.NodeEvent
}

func (r *recorder) listen(e api.NodeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// index returns the position of the first transition of service to state, or -1
func (r *recorder) index(service string, state api.NodeState) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.events {
		if e.Service == service && e.State == state {
			return i
		}
	}
	return -1
}

// order returns the services which went through state, in order
func (r *recorder) order(state api.NodeState) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var names []string
	for _, e := range r.events {
		if e.State == state {
			names = append(names, e.Service)
		}
	}
	return names
}

func service(name string, deps ...string) api.ServiceSpec {
	return api.ServiceSpec{
		Name:      name,
		Image:     "alpine",
		DependsOn: deps,
		Restart:   api.RestartPolicy{Condition: api.RestartNo},
	}
}

func project(services ...api.ServiceSpec) *api.Project {
	for i := range services {
		services[i].Index = i
	}
	return &api.Project{Name: "test", Services: services}
}

type runner struct {
	ctrl     *Controller
	cancel   context.CancelFunc
	err      error
	finished chan struct{}
}

// start runs ctrl in the background
func start(t *testing.T, ctrl *Controller) *runner {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	r := &runner{ctrl: ctrl, cancel: cancel, finished: make(chan struct{})}
	go func() {
		r.err = ctrl.Run(ctx)
		close(r.finished)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-r.finished:
		case <-time.After(10 * time.Second):
		}
	})
	return r
}

func (r *runner) waitState(t *testing.T, state api.RunState) {
	t.Helper()
	require.Eventually(t, func() bool {
		return r.ctrl.Status().State == state
	}, 10*time.Second, time.Millisecond, "run never reached %s", state)
}

func (r *runner) wait(t *testing.T) error {
	t.Helper()
	select {
	case <-r.finished:
		return r.err
	case <-time.After(10 * time.Second):
		t.Fatal("run did not terminate")
		return nil
	}
}

func nodeState(t *testing.T, ctrl *Controller, name string) api.NodeState {
	t.Helper()
	n, ok := ctrl.Status().Node(name)
	require.True(t, ok)
	return n.State
}

func TestUpStartsInDependencyOrderAndStopsInReverse(t *testing.T) {
	rt := dryrun.NewRuntime()
	events := &recorder{}
	ctrl, err := NewController(project(
		service("web", "app"),
		service("app", "db", "cache"),
		service("db"),
		service("cache"),
	), rt, api.UpOptions{Listener: events.listen})
	require.NoError(t, err)
	assert.Equal(t, []string{"db", "cache", "app", "web"}, ctrl.Plan().Names())

	r := start(t, ctrl)
	r.waitState(t, api.RunRunning)
	assert.ElementsMatch(t, []string{"db", "cache", "app", "web"}, rt.Running())

	for _, edge := range [][2]string{{"app", "db"}, {"app", "cache"}, {"web", "app"}} {
		assert.Greater(t, events.index(edge[0], api.NodeStarting), events.index(edge[1], api.NodeReady),
			"%s started before %s was ready", edge[0], edge[1])
	}

	r.cancel()
	require.NoError(t, r.wait(t))
	assert.Empty(t, rt.Running())
	status := ctrl.Status()
	assert.Equal(t, api.RunStopped, status.State)
	for _, n := range status.Nodes {
		assert.Equal(t, api.NodeStopped, n.State, n.Service)
	}

	stopOrder := events.order(api.NodeStopping)
	require.Len(t, stopOrder, 4)
	for _, edge := range [][2]string{{"app", "db"}, {"app", "cache"}, {"web", "app"}} {
		assert.Less(t, slices.Index(stopOrder, edge[0]), slices.Index(stopOrder, edge[1]),
			"%s stopped after its dependency %s", edge[0], edge[1])
	}
}

func TestNamespaceSharerNeverStartsBeforeOwnerIsReady(t *testing.T) {
	for i := range 100 {
		t.Run(fmt.Sprintf("seed-%d", i), func(t *testing.T) {
			rt := dryrun.NewRuntime()
			var mu sync.Mutex
			rnd := rand.New(rand.NewSource(int64(i)))
			rt.BeforeStart = func(ctx context.Context, spec api.ServiceSpec) error {
				mu.Lock()
				d := time.Duration(rnd.Intn(300)) * time.Microsecond
				mu.Unlock()
				time.Sleep(d)
				return nil
			}
			events := &recorder{}
			sidecar := service("sidecar")
			sidecar.NetworkMode = api.NetworkMode{SharesWith: "quay"}
			quay := service("quay", "db")
			quay.Ports = []api.PortMapping{{Target: 8080, Published: 8080}}
			ctrl, err := NewController(project(sidecar, service("clair"), quay, service("db")), rt, api.UpOptions{Listener: events.listen})
			require.NoError(t, err)

			r := start(t, ctrl)
			r.waitState(t, api.RunRunning)
			ready := events.index("quay", api.NodeReady)
			starting := events.index("sidecar", api.NodeStarting)
			require.NotEqual(t, -1, ready)
			require.Greater(t, starting, ready, "sidecar started before quay was ready")

			r.cancel()
			require.NoError(t, r.wait(t))
			require.Empty(t, rt.Running())
		})
	}
}

func TestIndependentServicesStartConcurrently(t *testing.T) {
	rt := dryrun.NewRuntime()
	var starting atomic.Int32
	both := make(chan struct{})
	rt.BeforeStart = func(ctx context.Context, spec api.ServiceSpec) error {
		if starting.Add(1) == 2 {
			close(both)
		}
		select {
		case <-both:
			return nil
		case <-time.After(5 * time.Second):
			return fmt.Errorf("%s was never starting at the same time as its sibling", spec.Name)
		}
	}
	ctrl, err := NewController(project(service("a"), service("b")), rt, api.UpOptions{})
	require.NoError(t, err)

	r := start(t, ctrl)
	r.waitState(t, api.RunRunning)
	r.cancel()
	require.NoError(t, r.wait(t))
}

func TestMaxConcurrencyBoundsStartingServices(t *testing.T) {
	rt := dryrun.NewRuntime()
	var inflight, peak atomic.Int32
	rt.BeforeStart = func(ctx context.Context, spec api.ServiceSpec) error {
		n := inflight.Add(1)
		defer inflight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return nil
	}
	ctrl, err := NewController(project(service("a"), service("b"), service("c"), service("d", "a")), rt, api.UpOptions{MaxConcurrency: 1})
	require.NoError(t, err)

	r := start(t, ctrl)
	r.waitState(t, api.RunRunning)
	assert.Equal(t, int32(1), peak.Load())
	r.cancel()
	require.NoError(t, r.wait(t))
}

func TestCrashOfReadyServiceStopsDependents(t *testing.T) {
	rt := dryrun.NewRuntime()
	ctrl, err := NewController(project(service("db"), service("api", "db"), service("worker", "db")), rt, api.UpOptions{})
	require.NoError(t, err)

	r := start(t, ctrl)
	r.waitState(t, api.RunRunning)
	require.NoError(t, rt.Exit("db", supervisor.ExitStatus{Code: 1}))

	err = r.wait(t)
	require.ErrorIs(t, err, api.ErrProcessCrashed)
	var nodeErr *api.NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "db", nodeErr.Service)
	assert.True(t, api.IsNodeFailure(err))

	assert.Empty(t, rt.Running())
	assert.Equal(t, api.NodeCrashed, nodeState(t, ctrl, "db"))
	assert.Equal(t, api.NodeStopped, nodeState(t, ctrl, "api"))
	assert.Equal(t, api.NodeStopped, nodeState(t, ctrl, "worker"))
	assert.Equal(t, api.RunStopped, ctrl.Status().State)
}

func TestCrashBeforeReadyIsNeverPublishedReady(t *testing.T) {
	rt := dryrun.NewRuntime()
	events := &recorder{}
	var ctrl *Controller
	listener := func(e api.NodeEvent) {
		events.listen(e)
		if e.Service != "job" || e.State != api.NodeAwaitingHealth {
			return
		}
		// the instance dies before the service could be declared Ready
		assert.NoError(t, rt.Exit("job", supervisor.ExitStatus{Code: 2}))
		assert.Eventually(t, func() bool {
			n := ctrl.node("job")
			ctrl.mu.Lock()
			defer ctrl.mu.Unlock()
			return n.ended != nil
		}, 5*time.Second, time.Millisecond)
	}
	ctrl, err := NewController(project(service("job"), service("app", "job")), rt, api.UpOptions{Listener: listener})
	require.NoError(t, err)

	r := start(t, ctrl)
	err = r.wait(t)
	require.ErrorIs(t, err, api.ErrProcessCrashed)
	var nodeErr *api.NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "job", nodeErr.Service)

	assert.Equal(t, -1, events.index("job", api.NodeReady))
	assert.Equal(t, -1, events.index("job", api.NodeCrashed))
	assert.NotEqual(t, -1, events.index("job", api.NodeFailed))
	assert.Equal(t, -1, events.index("app", api.NodeStarting))
	assert.Equal(t, api.NodeFailed, nodeState(t, ctrl, "job"))
	assert.Empty(t, rt.Running())
}

func TestCleanExitOfReadyServiceIsNotFatal(t *testing.T) {
	rt := dryrun.NewRuntime()
	ctrl, err := NewController(project(service("migrate"), service("app", "migrate")), rt, api.UpOptions{})
	require.NoError(t, err)

	r := start(t, ctrl)
	r.waitState(t, api.RunRunning)
	require.NoError(t, rt.Exit("migrate", supervisor.ExitStatus{Code: 0}))
	require.Eventually(t, func() bool {
		return nodeState(t, ctrl, "migrate") == api.NodeStopped
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, api.RunRunning, ctrl.Status().State)

	r.cancel()
	require.NoError(t, r.wait(t))
	assert.Empty(t, rt.Running())
}

func TestUnhealthyServiceAbortsTheRun(t *testing.T) {
	rt := dryrun.NewRuntime()
	rt.ExecResult = func(service string, _ []string) int {
		if service == "db" {
			return 1
		}
		return 0
	}
	db := service("db")
	db.HealthCheck = &api.HealthCheck{
		Test:     []string{"CMD", "pg_isready"},
		Interval: 5 * time.Millisecond,
		Timeout:  time.Second,
		Retries:  2,
	}
	events := &recorder{}
	ctrl, err := NewController(project(db, service("cache"), service("app", "db")), rt, api.UpOptions{Listener: events.listen})
	require.NoError(t, err)

	r := start(t, ctrl)
	err = r.wait(t)
	require.ErrorIs(t, err, api.ErrHealthCheckTimedOut)
	var nodeErr *api.NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "db", nodeErr.Service)

	assert.Empty(t, rt.Running())
	assert.Equal(t, api.NodeFailed, nodeState(t, ctrl, "db"))
	assert.Equal(t, api.NodePending, nodeState(t, ctrl, "app"))
	assert.Equal(t, -1, events.index("app", api.NodeStarting))
	n, _ := ctrl.Status().Node("db")
	assert.Equal(t, api.HealthUnhealthy, n.Health)
}

func TestHealthyServiceUnblocksDependents(t *testing.T) {
	rt := dryrun.NewRuntime()
	var probes atomic.Int32
	rt.ExecResult = func(string, []string) int {
		if probes.Add(1) < 3 {
			return 1
		}
		return 0
	}
	db := service("db")
	db.HealthCheck = &api.HealthCheck{
		Test:     []string{"CMD-SHELL", "pg_isready"},
		Interval: 5 * time.Millisecond,
		Timeout:  time.Second,
		Retries:  5,
	}
	events := &recorder{}
	ctrl, err := NewController(project(db, service("app", "db")), rt, api.UpOptions{Listener: events.listen})
	require.NoError(t, err)

	r := start(t, ctrl)
	r.waitState(t, api.RunRunning)
	assert.Greater(t, events.index("app", api.NodeStarting), events.index("db", api.NodeReady))
	n, _ := ctrl.Status().Node("db")
	assert.Equal(t, api.HealthHealthy, n.Health)

	r.cancel()
	require.NoError(t, r.wait(t))
}

func TestCancelDuringLaunchStopsStartedServices(t *testing.T) {
	rt := dryrun.NewRuntime()
	blocked := make(chan struct{})
	rt.BeforeStart = func(ctx context.Context, spec api.ServiceSpec) error {
		if spec.Name != "slow" {
			return nil
		}
		close(blocked)
		<-ctx.Done()
		return ctx.Err()
	}
	ctrl, err := NewController(project(service("db"), service("slow", "db"), service("app", "slow")), rt, api.UpOptions{})
	require.NoError(t, err)

	r := start(t, ctrl)
	<-blocked
	r.cancel()
	err = r.wait(t)
	require.ErrorIs(t, err, api.ErrCanceled)
	assert.True(t, api.IsErrCanceled(err))
	assert.Empty(t, rt.Running())
	assert.Equal(t, api.NodeStopped, nodeState(t, ctrl, "db"))
	assert.Equal(t, api.NodePending, nodeState(t, ctrl, "app"))
}

func TestFailedStartTearsDownStartedServices(t *testing.T) {
	rt := dryrun.NewRuntime()
	rt.BeforeStart = func(_ context.Context, spec api.ServiceSpec) error {
		if spec.Name == "broken" {
			return errors.New("image not found")
		}
		return nil
	}
	ctrl, err := NewController(project(service("db"), service("broken", "db")), rt, api.UpOptions{})
	require.NoError(t, err)

	r := start(t, ctrl)
	err = r.wait(t)
	var nodeErr *api.NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "broken", nodeErr.Service)
	assert.ErrorContains(t, err, "image not found")
	assert.Empty(t, rt.Running())
	assert.Equal(t, api.NodeFailed, nodeState(t, ctrl, "broken"))
	assert.Equal(t, api.NodeStopped, nodeState(t, ctrl, "db"))
}

func TestBuildErrorsHaveNoSideEffects(t *testing.T) {
	rt := dryrun.NewRuntime()
	started := false
	rt.BeforeStart = func(context.Context, api.ServiceSpec) error {
		started = true
		return nil
	}
	_, err := NewController(project(service("a", "b"), service("b", "a")), rt, api.UpOptions{})
	require.ErrorIs(t, err, api.ErrCycleDetected)
	assert.True(t, api.IsBuildError(err))

	_, err = NewController(project(service("a", "missing")), rt, api.UpOptions{})
	require.ErrorIs(t, err, api.ErrDanglingReference)

	assert.False(t, started)
	instances, err := rt.Instances(context.Background(), "test")
	require.NoError(t, err)
	assert.Empty(t, instances)
}

func TestStatusIsPublished(t *testing.T) {
	rt := dryrun.NewRuntime()
	s, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	web := service("web")
	web.Ports = []api.PortMapping{{Target: 80, Published: 8080}}
	ctrl, err := NewController(project(web), rt, api.UpOptions{}, WithStore(s))
	require.NoError(t, err)

	r := start(t, ctrl)
	r.waitState(t, api.RunRunning)
	status, err := s.Load(context.Background(), "test")
	require.NoError(t, err)
	assert.Equal(t, ctrl.RunID(), status.RunID)
	node, ok := status.Node("web")
	require.True(t, ok)
	assert.Equal(t, api.NodeReady, node.State)
	assert.NotEmpty(t, node.Ports)

	r.cancel()
	require.NoError(t, r.wait(t))
	status, err = s.Load(context.Background(), "test")
	require.NoError(t, err)
	assert.Equal(t, api.RunStopped, status.State)
}
