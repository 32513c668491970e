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
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/go-connections/nat"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/docker/stackd/pkg/api"
	"github.com/docker/stackd/pkg/netns"
	"github.com/docker/stackd/pkg/supervisor"
)

func TestBuildContainerPortBindings(t *testing.T) {
	ports := []api.PortMapping{
		{Target: 80, Published: 8080},
		{HostIP: "127.0.0.1", Target: 53, Published: 5353, Protocol: "udp"},
		{Target: 9000},
	}
	exposed := buildContainerPorts(ports)
	assert.DeepEqual(t, exposed, nat.PortSet{
		"80/tcp":   {},
		"53/udp":   {},
		"9000/tcp": {},
	})

	bindings := buildContainerPortBindingOptions(ports)
	assert.DeepEqual(t, bindings, nat.PortMap{
		"80/tcp":   {{HostPort: "8080"}},
		"53/udp":   {{HostIP: "127.0.0.1", HostPort: "5353"}},
		"9000/tcp": {{}},
	})
}

func TestContainerConfigsIsolated(t *testing.T) {
	spec := api.ServiceSpec{
		Name:        "web",
		Image:       "nginx",
		Command:     []string{"nginx", "-g", "daemon off;"},
		Environment: map[string]string{"B": "2", "A": "1"},
		DependsOn:   []string{"db"},
		Volumes: []api.VolumeMount{
			{Type: api.MountTypeVolume, Source: "data", Target: "/data"},
			{Type: api.MountTypeBind, Source: "/etc/app", Target: "/etc/app", ReadOnly: true},
		},
		Resources:       api.Resources{CPUShares: 512, CPUs: 1.5, MemoryBytes: 1 << 20},
		StopGracePeriod: 3 * time.Second,
	}
	config, hostConfig, networkConfig := containerConfigs(spec, supervisor.StartOptions{
		Project: "demo",
		RunID:   "run1",
		Volumes: map[string]string{"data": "demo_data"},
	})

	assert.DeepEqual(t, config.Env, []string{"A=1", "B=2"})
	assert.DeepEqual(t, []string(config.Cmd), spec.Command)
	assert.Equal(t, config.Labels[api.ProjectLabel], "demo")
	assert.Equal(t, config.Labels[api.ServiceLabel], "web")
	assert.Equal(t, config.Labels[api.RunLabel], "run1")
	assert.Equal(t, config.Labels[api.DependenciesLabel], "db")
	assert.Assert(t, config.StopTimeout != nil)
	assert.Equal(t, *config.StopTimeout, 3)

	assert.Equal(t, hostConfig.NetworkMode, container.NetworkMode("demo_default"))
	assert.Equal(t, hostConfig.Resources.NanoCPUs, int64(1_500_000_000))
	assert.Equal(t, hostConfig.Resources.CPUShares, int64(512))
	assert.DeepEqual(t, hostConfig.Mounts, []mount.Mount{
		{Type: mount.TypeVolume, Source: "demo_data", Target: "/data"},
		{Type: mount.TypeBind, Source: "/etc/app", Target: "/etc/app", ReadOnly: true},
	})

	assert.Assert(t, networkConfig != nil)
	endpoint := networkConfig.EndpointsConfig["demo_default"]
	assert.Assert(t, endpoint != nil)
	assert.DeepEqual(t, endpoint.Aliases, []string{"web"})
}

func TestContainerConfigsSharedNamespace(t *testing.T) {
	spec := api.ServiceSpec{
		Name:        "sidecar",
		Image:       "busybox",
		NetworkMode: api.NetworkMode{SharesWith: "app"},
	}
	config, hostConfig, networkConfig := containerConfigs(spec, supervisor.StartOptions{
		Project:   "demo",
		Namespace: netns.Handle{Owner: "app", Ref: "abc123"},
	})
	assert.Equal(t, hostConfig.NetworkMode, container.NetworkMode("container:abc123"))
	assert.Assert(t, networkConfig == nil)
	assert.Equal(t, config.Labels[api.NetworkOwnerLabel], "app")
	assert.Equal(t, config.Labels[api.DependenciesLabel], "app")
	assert.Assert(t, config.StopTimeout == nil)
	assert.Assert(t, config.Cmd == nil)
}

func TestExitStatus(t *testing.T) {
	assert.Equal(t, exitStatus(0, false).Signal, "")
	assert.Equal(t, exitStatus(137, true).Signal, "SIGKILL")
	assert.Assert(t, exitStatus(137, true).OOMKilled)
	assert.Equal(t, exitStatus(143, false).Signal, "SIGTERM")
}

func TestContainerName(t *testing.T) {
	assert.Equal(t, containerName("demo", "web"), "demo-web")
	assert.Equal(t, networkName("demo"), "demo_default")
}

func TestLimitWriter(t *testing.T) {
	var buf bytes.Buffer
	w := &limitWriter{w: &buf, n: 5}
	n, err := w.Write([]byte("hello world"))
	assert.NilError(t, err)
	assert.Equal(t, n, 11)
	n, err = w.Write([]byte("more"))
	assert.NilError(t, err)
	assert.Equal(t, n, 4)
	assert.Check(t, is.Equal(buf.String(), "hello"))
}
