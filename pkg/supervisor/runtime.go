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
	"io"
	"time"

	"github.com/docker/stackd/pkg/api"
	"github.com/docker/stackd/pkg/netns"
)

//go:generate mockgen -destination=../mocks/mock_runtime.go -package=mocks github.com/docker/stackd/pkg/supervisor Runtime

// Runtime runs service instances. Implementations exist for docker containers and local processes.
type Runtime interface {
	// Start creates and starts an instance of spec and returns its id
	Start(ctx context.Context, spec api.ServiceSpec, options StartOptions) (string, error)
	// Wait blocks until the instance exits
	Wait(ctx context.Context, id string) (ExitStatus, error)
	// Stop asks the instance to terminate, killing it after grace
	Stop(ctx context.Context, id string, grace time.Duration) error
	// Remove releases the runtime resources of a stopped instance
	Remove(ctx context.Context, id string) error
	// Exec runs a command inside a running instance
	Exec(ctx context.Context, id string, command []string) (int, string, error)
	// Logs streams the instance output until it exits or ctx is done
	Logs(ctx context.Context, id string, stdout, stderr io.Writer) error

	// Instances lists the instances of a project known to the runtime, including the ones left by a previous run
	Instances(ctx context.Context, project string) ([]InstanceSummary, error)
	// EnsureVolume creates a named volume unless it exists
	EnsureVolume(ctx context.Context, project, name string) error
	// Volumes lists the named volumes of a project
	Volumes(ctx context.Context, project string) ([]api.VolumeSummary, error)
	// RemoveVolume destroys a named volume
	RemoveVolume(ctx context.Context, name string, force bool) error
}

// StartOptions tell a Runtime how to wire an instance
type StartOptions struct {
	Project string
	RunID   string
	// Namespace is the network namespace to run in. When the service is not
	// its Owner, Namespace.Ref is the runtime reference to join.
	Namespace netns.Handle
	// Volumes maps a named volume of the service to its runtime name
	Volumes map[string]string
}

// ExitStatus describes how an instance terminated
type ExitStatus struct {
	Code int
	// Signal is set when the instance was killed
	Signal    string
	OOMKilled bool
}

// Crashed tells if the instance did not exit on its own
func (e ExitStatus) Crashed() bool {
	return e.Signal != "" || e.OOMKilled
}

func (e ExitStatus) String() string {
	switch {
	case e.OOMKilled:
		return "killed by the OOM killer"
	case e.Signal != "":
		return fmt.Sprintf("killed by signal %s", e.Signal)
	default:
		return fmt.Sprintf("exited with code %d", e.Code)
	}
}

// InstanceSummary describes an instance known to a Runtime
type InstanceSummary struct {
	ID      string
	Service string
	RunID   string
	Running bool
	// DependsOn lists the dependencies recorded when the instance was created
	DependsOn []string
}
