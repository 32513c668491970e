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

package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"github.com/distribution/reference"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/sirupsen/logrus"

	"github.com/docker/stackd/pkg/api"
	"github.com/docker/stackd/pkg/supervisor"
)

var _ supervisor.Runtime = &Runtime{}

// maxExecOutput bounds the output of health check commands kept in memory
const maxExecOutput = 4096

// Runtime runs service instances as docker containers
type Runtime struct {
	apiClient client.APIClient

	networkOnce sync.Map
}

// NewRuntime creates a Runtime connecting to the docker engine configured by the environment
func NewRuntime() (*Runtime, error) {
	apiClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return NewRuntimeWithClient(apiClient), nil
}

// NewRuntimeWithClient creates a Runtime using an existing docker client
func NewRuntimeWithClient(apiClient client.APIClient) *Runtime {
	return &Runtime{apiClient: apiClient}
}

func wrapNotFound(err error) error {
	if errdefs.IsNotFound(err) {
		return fmt.Errorf("%v: %w", err, api.ErrNotFound)
	}
	return err
}

func (r *Runtime) Start(ctx context.Context, spec api.ServiceSpec, options supervisor.StartOptions) (string, error) {
	if err := r.ensureImage(ctx, spec.Image); err != nil {
		return "", err
	}
	if !spec.NetworkMode.IsShared() {
		if err := r.ensureNetwork(ctx, options.Project); err != nil {
			return "", err
		}
	}
	name := containerName(options.Project, spec.Name)
	if err := r.removeStale(ctx, name); err != nil {
		return "", err
	}

	config, hostConfig, networkConfig := containerConfigs(spec, options)
	created, err := r.apiClient.ContainerCreate(ctx, config, hostConfig, networkConfig, nil, name)
	if err != nil {
		return "", err
	}
	for _, warning := range created.Warnings {
		logrus.WithField("service", spec.Name).Warn(warning)
	}
	if err := r.apiClient.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		_ = r.apiClient.ContainerRemove(context.WithoutCancel(ctx), created.ID, container.RemoveOptions{Force: true})
		return "", err
	}
	return created.ID, nil
}

// removeStale removes a stopped container left with the same name by a previous run
func (r *Runtime) removeStale(ctx context.Context, name string) error {
	inspect, err := r.apiClient.ContainerInspect(ctx, name)
	if errdefs.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if inspect.State != nil && inspect.State.Running {
		return fmt.Errorf("container %s is already running: %w", name, api.ErrAlreadyRunning)
	}
	logrus.Debugf("removing stale container %s", name)
	return r.apiClient.ContainerRemove(ctx, inspect.ID, container.RemoveOptions{Force: true})
}

func (r *Runtime) ensureImage(ctx context.Context, ref string) error {
	if ref == "" {
		return fmt.Errorf("no image to run: %w", api.ErrInvalidSpec)
	}
	if _, err := r.apiClient.ImageInspect(ctx, ref); err == nil {
		return nil
	} else if !errdefs.IsNotFound(err) {
		return err
	}

	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return fmt.Errorf("invalid image reference %q: %w", ref, api.ErrInvalidSpec)
	}
	named = reference.TagNameOnly(named)
	logrus.Infof("pulling image %s", reference.FamiliarString(named))
	stream, err := r.apiClient.ImagePull(ctx, named.String(), image.PullOptions{})
	if err != nil {
		return err
	}
	defer stream.Close() //nolint:errcheck

	out := logrus.StandardLogger().WriterLevel(logrus.DebugLevel)
	defer out.Close() //nolint:errcheck
	return jsonmessage.DisplayJSONMessagesStream(stream, out, 0, false, nil)
}

func (r *Runtime) ensureNetwork(ctx context.Context, project string) error {
	name := networkName(project)
	if _, done := r.networkOnce.Load(name); done {
		return nil
	}
	_, err := r.apiClient.NetworkInspect(ctx, name, network.InspectOptions{})
	if errdefs.IsNotFound(err) {
		_, err = r.apiClient.NetworkCreate(ctx, name, network.CreateOptions{
			Driver: "bridge",
			Labels: map[string]string{api.ProjectLabel: project},
		})
		if errdefs.IsConflict(err) {
			err = nil
		}
	}
	if err != nil {
		return fmt.Errorf("creating network %s: %w", name, err)
	}
	r.networkOnce.Store(name, true)
	return nil
}

func (r *Runtime) Wait(ctx context.Context, id string) (supervisor.ExitStatus, error) {
	statusCh, errCh := r.apiClient.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	var code int
	select {
	case err := <-errCh:
		if err != nil {
			return supervisor.ExitStatus{}, wrapNotFound(err)
		}
	case status := <-statusCh:
		if status.Error != nil && status.Error.Message != "" {
			logrus.Debugf("container %s: %s", id, status.Error.Message)
		}
		code = int(status.StatusCode)
	}

	oomKilled := false
	inspect, err := r.apiClient.ContainerInspect(ctx, id)
	if err == nil && inspect.State != nil {
		oomKilled = inspect.State.OOMKilled
	}
	return exitStatus(code, oomKilled), nil
}

func (r *Runtime) Stop(ctx context.Context, id string, grace time.Duration) error {
	timeout := int(grace.Round(time.Second).Seconds())
	err := r.apiClient.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout})
	return wrapNotFound(err)
}

func (r *Runtime) Remove(ctx context.Context, id string) error {
	err := r.apiClient.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
	return wrapNotFound(err)
}

func (r *Runtime) Exec(ctx context.Context, id string, command []string) (int, string, error) {
	exec, err := r.apiClient.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          command,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return -1, "", wrapNotFound(err)
	}
	resp, err := r.apiClient.ContainerExecAttach(ctx, exec.ID, container.ExecAttachOptions{})
	if err != nil {
		return -1, "", err
	}
	defer resp.Close()

	go func() {
		<-ctx.Done()
		resp.Close()
	}()

	var output bytes.Buffer
	limited := &limitWriter{w: &output, n: maxExecOutput}
	if _, err := stdcopy.StdCopy(limited, limited, resp.Reader); err != nil && ctx.Err() == nil {
		return -1, "", err
	}
	if ctx.Err() != nil {
		return -1, "", ctx.Err()
	}
	inspect, err := r.apiClient.ContainerExecInspect(ctx, exec.ID)
	if err != nil {
		return -1, "", err
	}
	return inspect.ExitCode, output.String(), nil
}

type limitWriter struct {
	w io.Writer
	n int
}

func (l *limitWriter) Write(p []byte) (int, error) {
	if l.n <= 0 {
		return len(p), nil
	}
	keep := p
	if len(keep) > l.n {
		keep = keep[:l.n]
	}
	n, err := l.w.Write(keep)
	l.n -= n
	if err != nil {
		return n, err
	}
	return len(p), nil
}

func (r *Runtime) Logs(ctx context.Context, id string, stdout, stderr io.Writer) error {
	reader, err := r.apiClient.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return wrapNotFound(err)
	}
	defer reader.Close() //nolint:errcheck
	_, err = stdcopy.StdCopy(stdout, stderr, reader)
	return err
}

func projectFilter(project string) filters.KeyValuePair {
	return filters.Arg("label", api.ProjectFilter(project))
}

func (r *Runtime) Instances(ctx context.Context, project string) ([]supervisor.InstanceSummary, error) {
	containers, err := r.apiClient.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(projectFilter(project)),
	})
	if err != nil {
		return nil, err
	}
	summaries := make([]supervisor.InstanceSummary, 0, len(containers))
	for _, c := range containers {
		var deps []string
		if d := c.Labels[api.DependenciesLabel]; d != "" {
			deps = strings.Split(d, ",")
		}
		summaries = append(summaries, supervisor.InstanceSummary{
			ID:        c.ID,
			Service:   c.Labels[api.ServiceLabel],
			RunID:     c.Labels[api.RunLabel],
			Running:   c.State == "running",
			DependsOn: deps,
		})
	}
	return summaries, nil
}

func (r *Runtime) EnsureVolume(ctx context.Context, project, name string) error {
	full := api.VolumeName(project, name)
	_, err := r.apiClient.VolumeInspect(ctx, full)
	if err == nil {
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return err
	}
	logrus.Debugf("creating volume %s", full)
	_, err = r.apiClient.VolumeCreate(ctx, volume.CreateOptions{
		Name: full,
		Labels: map[string]string{
			api.ProjectLabel: project,
			api.VolumeLabel:  name,
			api.VersionLabel: api.StackdVersion,
		},
	})
	return err
}

func (r *Runtime) Volumes(ctx context.Context, project string) ([]api.VolumeSummary, error) {
	list, err := r.apiClient.VolumeList(ctx, volume.ListOptions{
		Filters: filters.NewArgs(projectFilter(project)),
	})
	if err != nil {
		return nil, err
	}
	summaries := make([]api.VolumeSummary, 0, len(list.Volumes))
	for _, v := range list.Volumes {
		summaries = append(summaries, api.VolumeSummary{
			Name:       v.Name,
			Project:    project,
			Driver:     v.Driver,
			Mountpoint: v.Mountpoint,
		})
	}
	return summaries, nil
}

func (r *Runtime) RemoveVolume(ctx context.Context, name string, force bool) error {
	return wrapNotFound(r.apiClient.VolumeRemove(ctx, name, force))
}
