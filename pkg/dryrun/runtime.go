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

package dryrun

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docker/stackd/pkg/api"
	"github.com/docker/stackd/pkg/supervisor"
)

var _ supervisor.Runtime = &Runtime{}

// Runtime simulates instances in memory. Instances run until stopped or
// until Exit is called for them, which lets callers inject crashes.
type Runtime struct {
	mu        sync.Mutex
	instances map[string]*instance
	volumes   map[string]api.VolumeSummary

	// BeforeStart, when set, runs before each instance starts. An error fails the start.
	BeforeStart func(ctx context.Context, spec api.ServiceSpec) error
	// ExecResult, when set, decides the outcome of health check commands
	ExecResult func(service string, command []string) int
}

type instance struct {
	id      string
	service string
	project string
	runID   string
	deps    []string
	exit    chan supervisor.ExitStatus
	status  *supervisor.ExitStatus
	removed bool
}

// NewRuntime creates an empty dry-run Runtime
func NewRuntime() *Runtime {
	return &Runtime{
		instances: map[string]*instance{},
		volumes:   map[string]api.VolumeSummary{},
	}
}

func (r *Runtime) Start(ctx context.Context, spec api.ServiceSpec, options supervisor.StartOptions) (string, error) {
	if r.BeforeStart != nil {
		if err := r.BeforeStart(ctx, spec); err != nil {
			return "", err
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	inst := &instance{
		id:      uuid.NewString(),
		service: spec.Name,
		project: options.Project,
		runID:   options.RunID,
		deps:    spec.Dependencies(),
		exit:    make(chan supervisor.ExitStatus, 1),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[inst.id] = inst
	return inst.id, nil
}

func (r *Runtime) get(id string) (*instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[id]
	if !ok || inst.removed {
		return nil, fmt.Errorf("instance %s: %w", id, api.ErrNotFound)
	}
	return inst, nil
}

func (r *Runtime) Wait(ctx context.Context, id string) (supervisor.ExitStatus, error) {
	inst, err := r.get(id)
	if err != nil {
		return supervisor.ExitStatus{}, err
	}
	select {
	case status := <-inst.exit:
		r.mu.Lock()
		inst.status = &status
		r.mu.Unlock()
		// keep the status observable for later waiters
		inst.exit <- status
		return status, nil
	case <-ctx.Done():
		return supervisor.ExitStatus{}, ctx.Err()
	}
}

// Exit terminates the current instance of a service as if it exited on its own
func (r *Runtime) Exit(service string, status supervisor.ExitStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inst := range r.instances {
		if inst.service == service && inst.status == nil && !inst.removed {
			select {
			case inst.exit <- status:
			default:
			}
			return nil
		}
	}
	return fmt.Errorf("service %q has no running instance: %w", service, api.ErrNotFound)
}

func (r *Runtime) Stop(_ context.Context, id string, _ time.Duration) error {
	inst, err := r.get(id)
	if err != nil {
		return err
	}
	select {
	case inst.exit <- supervisor.ExitStatus{Code: 0}:
	default:
	}
	return nil
}

func (r *Runtime) Remove(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[id]
	if !ok || inst.removed {
		return fmt.Errorf("instance %s: %w", id, api.ErrNotFound)
	}
	inst.removed = true
	return nil
}

func (r *Runtime) Exec(_ context.Context, id string, command []string) (int, string, error) {
	inst, err := r.get(id)
	if err != nil {
		return -1, "", err
	}
	if r.ExecResult != nil {
		return r.ExecResult(inst.service, command), "", nil
	}
	return 0, "", nil
}

func (r *Runtime) Logs(ctx context.Context, id string, stdout, _ io.Writer) error {
	inst, err := r.get(id)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "dry-run: %s started as %s\n", inst.service, id)
	return err
}

func (r *Runtime) Instances(_ context.Context, project string) ([]supervisor.InstanceSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []supervisor.InstanceSummary
	for _, inst := range r.instances {
		if inst.project != project || inst.removed {
			continue
		}
		res = append(res, supervisor.InstanceSummary{
			ID:        inst.id,
			Service:   inst.service,
			RunID:     inst.runID,
			Running:   inst.status == nil,
			DependsOn: inst.deps,
		})
	}
	return res, nil
}

// Running returns the services with a running instance
func (r *Runtime) Running() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []string
	for _, inst := range r.instances {
		if inst.status == nil && !inst.removed {
			res = append(res, inst.service)
		}
	}
	return res
}

func (r *Runtime) EnsureVolume(_ context.Context, project, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	full := api.VolumeName(project, name)
	if _, ok := r.volumes[full]; !ok {
		r.volumes[full] = api.VolumeSummary{Name: full, Project: project, Driver: "dryrun"}
	}
	return nil
}

func (r *Runtime) Volumes(_ context.Context, project string) ([]api.VolumeSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []api.VolumeSummary
	for _, v := range r.volumes {
		if v.Project == project {
			res = append(res, v)
		}
	}
	return res, nil
}

func (r *Runtime) RemoveVolume(_ context.Context, name string, _ bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.volumes[name]; !ok {
		return fmt.Errorf("volume %s: %w", name, api.ErrNotFound)
	}
	delete(r.volumes, name)
	return nil
}
