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

package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-shellwords"
	"github.com/mitchellh/go-ps"
	"github.com/sirupsen/logrus"

	"github.com/docker/stackd/pkg/api"
	"github.com/docker/stackd/pkg/supervisor"
)

var _ supervisor.Runtime = &Runtime{}

// maxExecOutput bounds the output of health check commands kept in memory
const maxExecOutput = 4096

// Runtime runs service instances as processes of the local host.
// Processes share the host network, so a namespace handle is only recorded.
type Runtime struct {
	root string

	mu        sync.Mutex
	processes map[string]*process
}

// NewRuntime creates a Runtime keeping named volumes under root
func NewRuntime(root string) *Runtime {
	return &Runtime{
		root:      root,
		processes: map[string]*process{},
	}
}

type process struct {
	id      string
	service string
	project string
	runID   string
	deps    []string
	env     []string
	dir     string

	cmd    *exec.Cmd
	stdout *fanout
	stderr *fanout
	done   chan struct{}
	status supervisor.ExitStatus
}

func (p *process) running() bool {
	select {
	case <-p.done:
		return false
	default:
	}
	proc, err := ps.FindProcess(p.cmd.Process.Pid)
	return err == nil && proc != nil
}

// commandLine returns the argv of a service. A single element command is
// parsed as a shell words line.
func commandLine(spec api.ServiceSpec) ([]string, error) {
	args := spec.Command
	if len(args) == 1 && strings.ContainsAny(args[0], " \t'\"") {
		parsed, err := shellwords.Parse(args[0])
		if err != nil {
			return nil, fmt.Errorf("service %q has an invalid command: %v: %w", spec.Name, err, api.ErrInvalidSpec)
		}
		args = parsed
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("service %q has no command to run: %w", spec.Name, api.ErrInvalidSpec)
	}
	return args, nil
}

func volumeEnv(target string) string {
	name := strings.Trim(strings.ToUpper(target), "/")
	name = strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, name)
	return "STACKD_VOLUME_" + name
}

func (r *Runtime) environment(spec api.ServiceSpec, options supervisor.StartOptions) []string {
	env := os.Environ()
	for k, v := range spec.Environment {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	for _, m := range spec.Volumes {
		source := m.Source
		if m.Type != api.MountTypeBind {
			source = r.volumePath(options.Volumes[m.Source])
		}
		env = append(env, fmt.Sprintf("%s=%s", volumeEnv(m.Target), source))
	}
	return env
}

func (r *Runtime) Start(ctx context.Context, spec api.ServiceSpec, options supervisor.StartOptions) (string, error) {
	args, err := commandLine(spec)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p := &process{
		id:      uuid.NewString(),
		service: spec.Name,
		project: options.Project,
		runID:   options.RunID,
		deps:    spec.Dependencies(),
		env:     r.environment(spec, options),
		stdout:  &fanout{},
		stderr:  &fanout{},
		done:    make(chan struct{}),
	}
	cmd := exec.Command(args[0], args[1:]...) //nolint:gosec
	cmd.Env = p.env
	cmd.Stdout = p.stdout
	cmd.Stderr = p.stderr
	cmd.SysProcAttr = processGroup()
	p.cmd = cmd

	if err := cmd.Start(); err != nil {
		return "", err
	}
	if spec.Resources.CPUShares > 0 {
		if err := setPriority(cmd.Process.Pid, spec.Resources.CPUShares); err != nil {
			logrus.WithField("service", spec.Name).Debugf("failed to set priority: %v", err)
		}
	}

	go func() {
		err := cmd.Wait()
		p.status = exitStatusOf(cmd.ProcessState, err)
		p.stdout.close()
		p.stderr.close()
		close(p.done)
	}()

	r.mu.Lock()
	r.processes[p.id] = p
	r.mu.Unlock()
	logrus.Debugf("started %s as pid %d", spec.Name, cmd.Process.Pid)
	return p.id, nil
}

func exitStatusOf(state *os.ProcessState, err error) supervisor.ExitStatus {
	if state == nil {
		return supervisor.ExitStatus{Code: -1, Signal: "unknown"}
	}
	if sig := signalOf(state); sig != "" {
		return supervisor.ExitStatus{Code: 128 + signalNumber(state), Signal: sig}
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		logrus.Debugf("wait: %v", err)
	}
	return supervisor.ExitStatus{Code: state.ExitCode()}
}

func (r *Runtime) get(id string) (*process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.processes[id]
	if !ok {
		return nil, fmt.Errorf("process %s: %w", id, api.ErrNotFound)
	}
	return p, nil
}

func (r *Runtime) Wait(ctx context.Context, id string) (supervisor.ExitStatus, error) {
	p, err := r.get(id)
	if err != nil {
		return supervisor.ExitStatus{}, err
	}
	select {
	case <-ctx.Done():
		return supervisor.ExitStatus{}, ctx.Err()
	case <-p.done:
		return p.status, nil
	}
}

func (r *Runtime) Stop(ctx context.Context, id string, grace time.Duration) error {
	p, err := r.get(id)
	if err != nil {
		return err
	}
	if !p.running() {
		return nil
	}
	if err := terminate(p.cmd.Process); err != nil {
		logrus.Debugf("terminate %s: %v", p.service, err)
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}
	if err := kill(p.cmd.Process); err != nil && p.running() {
		return err
	}
	<-p.done
	return ctx.Err()
}

func (r *Runtime) Remove(_ context.Context, id string) error {
	p, err := r.get(id)
	if err != nil {
		return err
	}
	if p.running() {
		_ = kill(p.cmd.Process)
		<-p.done
	}
	r.mu.Lock()
	delete(r.processes, id)
	r.mu.Unlock()
	return nil
}

func (r *Runtime) Exec(ctx context.Context, id string, command []string) (int, string, error) {
	p, err := r.get(id)
	if err != nil {
		return -1, "", err
	}
	if len(command) == 0 {
		return -1, "", fmt.Errorf("empty command: %w", api.ErrInvalidSpec)
	}
	if !p.running() {
		return -1, "", fmt.Errorf("process %s is not running: %w", id, api.ErrNotFound)
	}
	cmd := exec.CommandContext(ctx, command[0], command[1:]...) //nolint:gosec
	cmd.Env = p.env
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err = cmd.Run()
	output := out.String()
	if len(output) > maxExecOutput {
		output = output[:maxExecOutput]
	}
	if ctx.Err() != nil {
		return -1, output, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), output, nil
	}
	if err != nil {
		return -1, output, err
	}
	return 0, output, nil
}

func (r *Runtime) Logs(ctx context.Context, id string, stdout, stderr io.Writer) error {
	p, err := r.get(id)
	if err != nil {
		return err
	}
	p.stdout.attach(stdout)
	p.stderr.attach(stderr)
	defer p.stdout.detach(stdout)
	defer p.stderr.detach(stderr)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return nil
	}
}

func (r *Runtime) Instances(_ context.Context, project string) ([]supervisor.InstanceSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var summaries []supervisor.InstanceSummary
	for _, p := range r.processes {
		if p.project != project {
			continue
		}
		summaries = append(summaries, supervisor.InstanceSummary{
			ID:        p.id,
			Service:   p.service,
			RunID:     p.runID,
			Running:   p.running(),
			DependsOn: p.deps,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Service < summaries[j].Service
	})
	return summaries, nil
}

func (r *Runtime) volumePath(name string) string {
	return filepath.Join(r.root, "volumes", name)
}

func (r *Runtime) EnsureVolume(_ context.Context, project, name string) error {
	return os.MkdirAll(r.volumePath(api.VolumeName(project, name)), 0o755)
}

func (r *Runtime) Volumes(_ context.Context, project string) ([]api.VolumeSummary, error) {
	entries, err := os.ReadDir(filepath.Join(r.root, "volumes"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	prefix := api.VolumeName(project, "")
	var summaries []api.VolumeSummary
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		summaries = append(summaries, api.VolumeSummary{
			Name:       e.Name(),
			Project:    project,
			Driver:     "local",
			Mountpoint: r.volumePath(e.Name()),
		})
	}
	return summaries, nil
}

func (r *Runtime) RemoveVolume(_ context.Context, name string, _ bool) error {
	path := r.volumePath(name)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("volume %s: %w", name, api.ErrNotFound)
	}
	return os.RemoveAll(path)
}

// fanout copies process output to the attached writers, replaying what was
// written before the first one attached
type fanout struct {
	mu      sync.Mutex
	backlog bytes.Buffer
	writers []io.Writer
	closed  bool
}

func (f *fanout) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writers) == 0 {
		if f.backlog.Len() < maxBacklog {
			f.backlog.Write(p)
		}
		return len(p), nil
	}
	for _, w := range f.writers {
		_, _ = w.Write(p)
	}
	return len(p), nil
}

const maxBacklog = 64 * 1024

func (f *fanout) attach(w io.Writer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.backlog.Len() > 0 {
		_, _ = w.Write(f.backlog.Bytes())
		f.backlog.Reset()
	}
	if !f.closed {
		f.writers = append(f.writers, w)
	}
}

func (f *fanout) detach(w io.Writer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, x := range f.writers {
		if x == w {
			f.writers = append(f.writers[:i], f.writers[i+1:]...)
			return
		}
	}
}

func (f *fanout) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.writers = nil
}
