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
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/mock/gomock"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/docker/stackd/internal/locker"
	"github.com/docker/stackd/pkg/api"
	"github.com/docker/stackd/pkg/dryrun"
	"github.com/docker/stackd/pkg/mocks"
	"github.com/docker/stackd/pkg/store"
	"github.com/docker/stackd/pkg/supervisor"
	"github.com/docker/stackd/pkg/volume"
)

func newService(t *testing.T, rt supervisor.Runtime) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.NewFileStore(filepath.Join(dir, "status"))
	assert.NilError(t, err)
	return NewService(rt, s, dir), dir
}

func TestUpWithBuildErrorLeavesNoTrace(t *testing.T) {
	rt := dryrun.NewRuntime()
	svc, dir := newService(t, rt)

	err := svc.Up(context.Background(), project(service("a", "b"), service("b", "a")), api.UpOptions{})
	assert.ErrorIs(t, err, api.ErrCycleDetected)

	_, err = os.Stat(filepath.Join(dir, "run", "test.pid"))
	assert.Assert(t, os.IsNotExist(err))
	_, err = svc.Ps(context.Background(), "test")
	assert.ErrorIs(t, err, api.ErrNotFound)
}

func TestUpRefusesAlreadyRunningProject(t *testing.T) {
	rt := dryrun.NewRuntime()
	svc, dir := newService(t, rt)

	lock, err := locker.NewPidfile(filepath.Join(dir, "run"), "test")
	assert.NilError(t, err)
	assert.NilError(t, lock.Lock())
	defer lock.Unlock() //nolint:errcheck

	err = svc.Up(context.Background(), project(service("a")), api.UpOptions{})
	assert.ErrorIs(t, err, api.ErrAlreadyRunning)
	assert.Check(t, is.Len(rt.Running(), 0))
}

func TestUpPublishesStatusForPs(t *testing.T) {
	rt := dryrun.NewRuntime()
	svc, _ := newService(t, rt)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- svc.Up(ctx, project(service("db"), service("app", "db")), api.UpOptions{})
	}()

	poll := time.NewTicker(time.Millisecond)
	defer poll.Stop()
	deadline := time.After(10 * time.Second)
	for running := false; !running; {
		select {
		case <-poll.C:
			status, err := svc.Ps(ctx, "test")
			running = err == nil && status.State == api.RunRunning
		case <-deadline:
			t.Fatal("project never reported running")
		}
	}

	cancel()
	assert.NilError(t, <-done)
	status, err := svc.Ps(context.Background(), "test")
	assert.NilError(t, err)
	assert.Equal(t, status.State, api.RunStopped)
	assert.Check(t, is.Len(status.Nodes, 2))
}

func TestDownRemovesOrphansDependentsFirst(t *testing.T) {
	ctrl := gomock.NewController(t)
	rt := mocks.NewMockRuntime(ctrl)
	svc, _ := newService(t, rt)

	rt.EXPECT().Instances(gomock.Any(), "test").Return([]supervisor.InstanceSummary{
		{ID: "1", Service: "db", Running: true},
		{ID: "2", Service: "app", Running: true, DependsOn: []string{"db"}},
		{ID: "3", Service: "job", Running: false, DependsOn: []string{"app", "gone"}},
	}, nil)
	gomock.InOrder(
		rt.EXPECT().Remove(gomock.Any(), "3").Return(nil),
		rt.EXPECT().Stop(gomock.Any(), "2", DefaultStopTimeout).Return(nil),
		rt.EXPECT().Remove(gomock.Any(), "2").Return(nil),
		rt.EXPECT().Stop(gomock.Any(), "1", DefaultStopTimeout).Return(nil),
		rt.EXPECT().Remove(gomock.Any(), "1").Return(nil),
	)

	assert.NilError(t, svc.Down(context.Background(), "test", api.DownOptions{}))
}

func TestDownWithoutLeftovers(t *testing.T) {
	rt := dryrun.NewRuntime()
	svc, _ := newService(t, rt)
	assert.NilError(t, svc.Down(context.Background(), "test", api.DownOptions{}))
}

func TestRemoveVolumes(t *testing.T) {
	rt := dryrun.NewRuntime()
	svc, dir := newService(t, rt)
	ctx := context.Background()
	assert.NilError(t, rt.EnsureVolume(ctx, "test", "data"))
	assert.NilError(t, rt.EnsureVolume(ctx, "test", "cache"))

	volumes, err := volume.NewManager(filepath.Join(dir, "volumes"))
	assert.NilError(t, err)
	lease, err := volumes.Acquire("test_data", "db")
	assert.NilError(t, err)

	listed, err := svc.Volumes(ctx, "test")
	assert.NilError(t, err)
	assert.Check(t, is.Len(listed, 2))
	for _, v := range listed {
		if v.Name == "test_data" {
			assert.Equal(t, v.InUseBy, "db")
		}
	}

	err = svc.RemoveVolumes(ctx, "test", []string{"data", "test_cache"})
	assert.ErrorIs(t, err, api.ErrVolumeInUse)
	listed, err = svc.Volumes(ctx, "test")
	assert.NilError(t, err)
	assert.Check(t, is.Len(listed, 1))

	assert.NilError(t, lease.Release())
	assert.NilError(t, svc.RemoveVolumes(ctx, "test", []string{"data"}))
	listed, err = svc.Volumes(ctx, "test")
	assert.NilError(t, err)
	assert.Check(t, is.Len(listed, 0))
}
