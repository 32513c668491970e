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
	"context"
	"time"
)

// Service manages the lifecycle of a stack of services
type Service interface {
	// Up starts the project services in dependency order and supervises them until ctx is done
	Up(ctx context.Context, project *Project, options UpOptions) error
	// Down stops the services of a running project
	Down(ctx context.Context, projectName string, options DownOptions) error
	// Ps reports the status of each service of a project
	Ps(ctx context.Context, projectName string) (*RunStatus, error)
	// Watch streams the status of a project each time it changes, starting with the current one
	Watch(ctx context.Context, projectName string) (<-chan *RunStatus, error)
	// Volumes lists the named volumes owned by a project
	Volumes(ctx context.Context, projectName string) ([]VolumeSummary, error)
	// RemoveVolumes destroys named volumes. This is the only way a volume is ever destroyed.
	RemoveVolumes(ctx context.Context, projectName string, names []string) error
}

// UpOptions group options of the Up API
type UpOptions struct {
	// Timeout overrides the budget each service has to become ready. Zero derives it from the health check.
	Timeout time.Duration
	// StopTimeout is the grace period given to services on teardown when they don't declare one
	StopTimeout time.Duration
	// MaxConcurrency bounds how many services may be starting at once. Zero means unbounded.
	MaxConcurrency int
	// Listener receives every service state transition
	Listener NodeEventListener
	// LogConsumer receives the output of the services
	LogConsumer LogConsumer
}

// DownOptions group options of the Down API
type DownOptions struct {
	// Project is used to order the removal of leftover containers. Might be nil.
	Project *Project
	// Timeout is the time to wait for the running stack to drain
	Timeout time.Duration
}

// VolumeSummary describes a named volume
type VolumeSummary struct {
	Name       string `json:"name"`
	Project    string `json:"project"`
	Driver     string `json:"driver"`
	Mountpoint string `json:"mountpoint,omitempty"`
	InUseBy    string `json:"in_use_by,omitempty"`
}

// LogConsumer is a callback to process log messages from services
type LogConsumer interface {
	Log(service, message string)
	Err(service, message string)
	Status(service, msg string)
	Register(service string)
}

// NodeEventListener is a callback to process NodeEvent from the orchestrator
type NodeEventListener func(event NodeEvent)

// NodeEvent notifies a service changed state
type NodeEvent struct {
	Service string
	State   NodeState
	Time    time.Time
	// Restarts is the restart count of the service instance, if any
	Restarts int
	Err      error
}

// Separator is used for naming components
var Separator = "-"
