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

package api

import (
	"time"
)

// NodeState is the lifecycle state of one service of a run
type NodeState string

const (
	// NodePending waits for its dependencies
	NodePending NodeState = "Pending"
	// NodeStarting is being started by the supervisor
	NodeStarting NodeState = "Starting"
	// NodeAwaitingHealth is running and being probed
	NodeAwaitingHealth NodeState = "AwaitingHealth"
	// NodeReady is running and healthy, dependents may start
	NodeReady NodeState = "Ready"
	// NodeStopping is being stopped
	NodeStopping NodeState = "Stopping"
	// NodeStopped has been stopped or exited cleanly
	NodeStopped NodeState = "Stopped"
	// NodeCrashed exited unexpectedly beyond its restart budget
	NodeCrashed NodeState = "Crashed"
	// NodeFailed never reached Ready
	NodeFailed NodeState = "Failed"
)

// IsRunning tells if the state implies a live instance
func (s NodeState) IsRunning() bool {
	switch s {
	case NodeStarting, NodeAwaitingHealth, NodeReady, NodeStopping:
		return true
	}
	return false
}

// IsTerminal tells if the state is final for a run
func (s NodeState) IsTerminal() bool {
	switch s {
	case NodeStopped, NodeCrashed, NodeFailed:
		return true
	}
	return false
}

// RunState is the global state of a run
type RunState string

const (
	RunIdle      RunState = "Idle"
	RunLaunching RunState = "Launching"
	RunRunning   RunState = "Running"
	RunDraining  RunState = "Draining"
	RunStopped   RunState = "Stopped"
)

// Health is the last known health check result of a service
type Health string

const (
	HealthNone      Health = ""
	HealthStarting  Health = "starting"
	HealthHealthy   Health = "healthy"
	HealthUnhealthy Health = "unhealthy"
)

// NodeStatus is the observable status of one service
type NodeStatus struct {
	Service    string    `json:"service"`
	State      NodeState `json:"state"`
	Health     Health    `json:"health,omitempty"`
	InstanceID string    `json:"instance_id,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	Restarts   int       `json:"restarts"`
	ExitCode   int       `json:"exit_code,omitempty"`
	Error      string    `json:"error,omitempty"`
	Ports      []string  `json:"ports,omitempty"`
}

// RunStatus is the observable status of a run, as published to the state store
type RunStatus struct {
	Project   string       `json:"project"`
	RunID     string       `json:"run_id"`
	State     RunState     `json:"state"`
	PID       int          `json:"pid"`
	StartedAt time.Time    `json:"started_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	Error     string       `json:"error,omitempty"`
	Nodes     []NodeStatus `json:"nodes"`
}

// Node retrieves the status of a service
func (r *RunStatus) Node(service string) (NodeStatus, bool) {
	for _, n := range r.Nodes {
		if n.Service == service {
			return n, true
		}
	}
	return NodeStatus{}, false
}
