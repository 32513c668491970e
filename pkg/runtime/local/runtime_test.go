//go:build !windows

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
	"context"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/docker/stackd/pkg/api"
	"github.com/docker/stackd/pkg/supervisor"
	"github.com/docker/stackd/pkg/utils"
)

func TestCommandLine(t *testing.T) {
	args, err := commandLine(api.ServiceSpec{Name: "a", Command: []string{`sh -c 'echo "hello world"'`}})
	assert.NilError(t, err)
	assert.DeepEqual(t, args, []string{"sh", "-c", `echo "hello world"`})

	args, err = commandLine(api.ServiceSpec{Name: "a", Command: []string{"sleep", "1"}})
	assert.NilError(t, err)
	assert.DeepEqual(t, args, []string{"sleep", "1"})

	_, err = commandLine(api.ServiceSpec{Name: "a"})
	assert.ErrorIs(t, err, api.ErrInvalidSpec)
}

func TestVolumeEnv(t *testing.T) {
	assert.Equal(t, volumeEnv("/var/lib/data"), "STACKD_VOLUME_VAR_LIB_DATA")
}

func TestRunAndExit(t *testing.T) {
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()
	r := NewRuntime(t.TempDir())

	id, err := r.Start(ctx, api.ServiceSpec{
		Name:        "job",
		Command:     []string{"sh", "-c", "echo $GREETING; exit 3"},
		Environment: map[string]string{"GREETING": "hello"},
	}, supervisor.StartOptions{Project: "demo", RunID: "r1"})
	assert.NilError(t, err)

	status, err := r.Wait(ctx, id)
	assert.NilError(t, err)
	assert.Equal(t, status.Code, 3)
	assert.Assert(t, !status.Crashed())

	var out utils.SafeBuffer
	assert.NilError(t, r.Logs(ctx, id, &out, &out))
	assert.Check(t, is.Contains(out.String(), "hello"))

	instances, err := r.Instances(ctx, "demo")
	assert.NilError(t, err)
	assert.Equal(t, len(instances), 1)
	assert.Equal(t, instances[0].Service, "job")
	assert.Assert(t, !instances[0].Running)

	assert.NilError(t, r.Remove(ctx, id))
	_, err = r.Wait(ctx, id)
	assert.ErrorIs(t, err, api.ErrNotFound)
}

func TestStopAndExec(t *testing.T) {
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()
	r := NewRuntime(t.TempDir())

	id, err := r.Start(ctx, api.ServiceSpec{
		Name:    "server",
		Command: []string{"sleep", "60"},
	}, supervisor.StartOptions{Project: "demo"})
	assert.NilError(t, err)

	code, _, err := r.Exec(ctx, id, []string{"sh", "-c", "exit 0"})
	assert.NilError(t, err)
	assert.Equal(t, code, 0)

	code, output, err := r.Exec(ctx, id, []string{"sh", "-c", "echo nope; exit 1"})
	assert.NilError(t, err)
	assert.Equal(t, code, 1)
	assert.Check(t, is.Contains(output, "nope"))

	assert.NilError(t, r.Stop(ctx, id, 5*time.Second))
	status, err := r.Wait(ctx, id)
	assert.NilError(t, err)
	assert.Equal(t, status.Signal, "SIGTERM")
	assert.Assert(t, status.Crashed())
}

func TestVolumes(t *testing.T) {
	ctx := t.Context()
	r := NewRuntime(t.TempDir())
	assert.NilError(t, r.EnsureVolume(ctx, "demo", "data"))
	assert.NilError(t, r.EnsureVolume(ctx, "demo", "data"))
	assert.NilError(t, r.EnsureVolume(ctx, "other", "data"))

	volumes, err := r.Volumes(ctx, "demo")
	assert.NilError(t, err)
	assert.Equal(t, len(volumes), 1)
	assert.Equal(t, volumes[0].Name, "demo_data")

	assert.NilError(t, r.RemoveVolume(ctx, "demo_data", false))
	assert.ErrorIs(t, r.RemoveVolume(ctx, "demo_data", false), api.ErrNotFound)
}
