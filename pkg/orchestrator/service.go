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
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/docker/stackd/internal/locker"
	"github.com/docker/stackd/pkg/api"
	"github.com/docker/stackd/pkg/graph"
	"github.com/docker/stackd/pkg/store"
	"github.com/docker/stackd/pkg/supervisor"
	"github.com/docker/stackd/pkg/utils"
	"github.com/docker/stackd/pkg/volume"
)

var _ api.Service = &Service{}

// Service implements api.Service on top of a Runtime
type Service struct {
	runtime  supervisor.Runtime
	store    store.Store
	stateDir string
	options  []Option
}

// NewService creates a Service keeping pid files and volume locks under stateDir
func NewService(runtime supervisor.Runtime, s store.Store, stateDir string, options ...Option) *Service {
	return &Service{
		runtime:  runtime,
		store:    s,
		stateDir: stateDir,
		options:  options,
	}
}

func (s *Service) pidfile(project string) (*locker.Pidfile, error) {
	return locker.NewPidfile(filepath.Join(s.stateDir, "run"), project)
}

func (s *Service) volumeManager() (*volume.Manager, error) {
	return volume.NewManager(filepath.Join(s.stateDir, "volumes"))
}

func (s *Service) Up(ctx context.Context, project *api.Project, options api.UpOptions) error {
	volumes, err := s.volumeManager()
	if err != nil {
		return err
	}
	opts := append([]Option{WithStore(s.store), WithVolumeManager(volumes)}, s.options...)
	ctrl, err := NewController(project, s.runtime, options, opts...)
	if err != nil {
		return err
	}

	lock, err := s.pidfile(project.Name)
	if err != nil {
		return err
	}
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("project %q is already running (pid %d): %w", project.Name, lock.Owner(), api.ErrAlreadyRunning)
	}
	defer lock.Unlock() //nolint:errcheck

	logrus.WithField("run", ctrl.RunID()).Debugf("starting project %s: %s", project.Name, strings.Join(ctrl.Plan().Names(), ", "))
	return ctrl.Run(ctx)
}

func (s *Service) Down(ctx context.Context, projectName string, options api.DownOptions) error {
	lock, err := s.pidfile(projectName)
	if err != nil {
		return err
	}
	if pid := lock.Owner(); pid > 0 && pid != os.Getpid() {
		if err := s.drain(ctx, projectName, pid, options.Timeout); err != nil {
			return err
		}
	}
	return s.removeOrphans(ctx, projectName, options.Project)
}

// drain signals the process running the project and waits for the run to be Stopped
func (s *Service) drain(ctx context.Context, projectName string, pid int, timeout time.Duration) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	logrus.Debugf("signaling process %d running project %s", pid, projectName)
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signaling process %d: %w", pid, err)
	}
	if s.store == nil {
		return nil
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	watchCtx, stop := context.WithCancel(ctx)
	defer stop()
	updates, err := s.store.Watch(watchCtx, projectName)
	if err != nil {
		return err
	}
	for {
		select {
		case status, ok := <-updates:
			if !ok {
				return ctx.Err()
			}
			if status.State == api.RunStopped {
				return nil
			}
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("project %q did not stop within %s", projectName, timeout)
			}
			return ctx.Err()
		}
	}
}

// removeOrphans stops and removes instances left by a previous run, dependents first
func (s *Service) removeOrphans(ctx context.Context, projectName string, project *api.Project) error {
	instances, err := s.runtime.Instances(ctx, projectName)
	if err != nil {
		return err
	}
	if len(instances) == 0 {
		return nil
	}
	byService := map[string][]supervisor.InstanceSummary{}
	for _, inst := range instances {
		byService[inst.Service] = append(byService[inst.Service], inst)
	}

	plan, err := orphanPlan(project, byService)
	if err != nil {
		return err
	}
	return graph.InReverseDependencyOrder(ctx, plan, func(ctx context.Context, service string) error {
		var errs *multierror.Error
		for _, inst := range byService[service] {
			logrus.WithField("service", service).Debugf("removing instance %s", inst.ID)
			if inst.Running {
				if err := s.runtime.Stop(ctx, inst.ID, DefaultStopTimeout); err != nil && !api.IsNotFoundError(err) {
					errs = multierror.Append(errs, err)
					continue
				}
			}
			if err := s.runtime.Remove(ctx, inst.ID); err != nil && !api.IsNotFoundError(err) {
				errs = multierror.Append(errs, err)
			}
		}
		return errs.ErrorOrNil()
	})
}

// orphanPlan orders leftover instances by the project definition when known,
// else by the dependencies recorded on the instances
func orphanPlan(project *api.Project, byService map[string][]supervisor.InstanceSummary) (*graph.LaunchPlan, error) {
	known := utils.NewSet[string]()
	var specs []api.ServiceSpec
	if project != nil {
		for _, spec := range project.Services {
			known.Add(spec.Name)
			specs = append(specs, api.ServiceSpec{Name: spec.Name, DependsOn: spec.Dependencies(), Index: len(specs)})
		}
	}
	for _, service := range utils.Sorted(utils.NewSet(mapKeys(byService)...)) {
		if known.Has(service) {
			continue
		}
		known.Add(service)
		specs = append(specs, api.ServiceSpec{Name: service, DependsOn: byService[service][0].DependsOn, Index: len(specs)})
	}
	// dependencies which left no instance are irrelevant to the removal order
	for i := range specs {
		var deps []string
		for _, d := range specs[i].DependsOn {
			if known.Has(d) {
				deps = append(deps, d)
			}
		}
		specs[i].DependsOn = deps
	}
	return graph.Build(specs)
}

func mapKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func (s *Service) Ps(ctx context.Context, projectName string) (*api.RunStatus, error) {
	if s.store == nil {
		return nil, fmt.Errorf("no state store configured: %w", api.ErrNotFound)
	}
	return s.store.Load(ctx, projectName)
}

func (s *Service) Watch(ctx context.Context, projectName string) (<-chan *api.RunStatus, error) {
	if s.store == nil {
		return nil, fmt.Errorf("no state store configured: %w", api.ErrNotFound)
	}
	return s.store.Watch(ctx, projectName)
}

func (s *Service) Volumes(ctx context.Context, projectName string) ([]api.VolumeSummary, error) {
	volumes, err := s.runtime.Volumes(ctx, projectName)
	if err != nil {
		return nil, err
	}
	manager, err := s.volumeManager()
	if err != nil {
		return nil, err
	}
	for i, v := range volumes {
		if holder, ok := manager.Holder(v.Name); ok {
			volumes[i].InUseBy = holder
		}
	}
	return volumes, nil
}

func (s *Service) RemoveVolumes(ctx context.Context, projectName string, names []string) error {
	manager, err := s.volumeManager()
	if err != nil {
		return err
	}
	var errs *multierror.Error
	for _, name := range names {
		full := name
		if !strings.HasPrefix(name, api.VolumeName(projectName, "")) {
			full = api.VolumeName(projectName, name)
		}
		if holder, ok := manager.Holder(full); ok {
			errs = multierror.Append(errs, fmt.Errorf("volume %s is mounted by %s: %w", full, holder, api.ErrVolumeInUse))
			continue
		}
		if err := s.runtime.RemoveVolume(ctx, full, false); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("removing volume %s: %w", full, err))
			continue
		}
		logrus.Infof("volume %s removed", full)
	}
	return errs.ErrorOrNil()
}
