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
	"sync"
	"time"

	"github.com/docker/stackd/pkg/api"
	"github.com/docker/stackd/pkg/netns"
	"github.com/docker/stackd/pkg/volume"
)

// ObservedState is the runtime state of an instance
type ObservedState string

const (
	// Running instance
	Running ObservedState = "running"
	// Exited on its own with an exit code
	Exited ObservedState = "exited"
	// Crashed was killed by a signal
	Crashed ObservedState = "crashed"
)

// Observation is the last known runtime state of an instance
type Observation struct {
	State  ObservedState
	Code   int
	Signal string
}

// Instance is the live execution of a service. It is owned by the Supervisor
// which started it; other components only read it.
type Instance struct {
	Spec api.ServiceSpec

	mu        sync.Mutex
	id        string
	startedAt time.Time
	restarts  int
	exit      *ExitStatus
	stopping  bool
	err       error
	handle    netns.Handle

	policy api.RestartPolicy
	leases []*volume.Lease
	cancel context.CancelFunc
	done   chan struct{}
}

// ID returns the runtime id of the current execution
func (i *Instance) ID() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.id
}

// StartedAt returns the start time of the current execution
func (i *Instance) StartedAt() time.Time {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.startedAt
}

// Restarts returns the number of restarts applied by the restart policy
func (i *Instance) Restarts() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.restarts
}

// Namespace returns the network namespace of the instance
func (i *Instance) Namespace() netns.Handle {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.handle
}

// Observe returns the current runtime state of the instance
func (i *Instance) Observe() Observation {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.exit == nil {
		return Observation{State: Running}
	}
	if i.exit.Crashed() {
		return Observation{State: Crashed, Code: i.exit.Code, Signal: i.exit.Signal}
	}
	return Observation{State: Exited, Code: i.exit.Code}
}

// Done is closed once the instance is no longer supervised: it was stopped,
// exited cleanly, or failed beyond its restart policy.
func (i *Instance) Done() <-chan struct{} {
	return i.done
}

// Err returns the fatal error of an instance once Done is closed
func (i *Instance) Err() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.err
}

func (i *Instance) setRunning(id string, at time.Time, handle netns.Handle) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.id = id
	i.startedAt = at
	i.exit = nil
	i.handle = handle
}

func (i *Instance) setExited(status ExitStatus) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.exit = &status
}

func (i *Instance) incRestarts() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.restarts++
	return i.restarts
}

func (i *Instance) fail(err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.err = err
}

// markStopping flags the instance as being stopped, returning false if it already was
func (i *Instance) markStopping() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.stopping {
		return false
	}
	i.stopping = true
	return true
}

func (i *Instance) isStopping() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.stopping
}
