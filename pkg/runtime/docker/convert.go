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
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"

	"github.com/docker/stackd/pkg/api"
	"github.com/docker/stackd/pkg/supervisor"
)

// containerName returns the name of the container running a service
func containerName(project, service string) string {
	return strings.Join([]string{project, service}, api.Separator)
}

// networkName returns the name of the bridge network isolated services of a project join
func networkName(project string) string {
	return project + "_default"
}

func toMobyEnv(environment map[string]string) []string {
	env := make([]string, 0, len(environment))
	for k, v := range environment {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(env)
	return env
}

func buildContainerPorts(ports []api.PortMapping) nat.PortSet {
	set := nat.PortSet{}
	for _, p := range ports {
		set[nat.Port(fmt.Sprintf("%d/%s", p.Target, p.Proto()))] = struct{}{}
	}
	return set
}

func buildContainerPortBindingOptions(ports []api.PortMapping) nat.PortMap {
	bindings := nat.PortMap{}
	for _, port := range ports {
		p := nat.Port(fmt.Sprintf("%d/%s", port.Target, port.Proto()))
		binding := nat.PortBinding{
			HostIP: port.HostIP,
		}
		if port.Published > 0 {
			binding.HostPort = strconv.Itoa(int(port.Published))
		}
		bindings[p] = append(bindings[p], binding)
	}
	return bindings
}

func buildMounts(spec api.ServiceSpec, volumes map[string]string) []mount.Mount {
	var mounts []mount.Mount
	for _, v := range spec.Volumes {
		m := mount.Mount{
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		}
		switch v.Type {
		case api.MountTypeBind:
			m.Type = mount.TypeBind
			m.Source = v.Source
		default:
			m.Type = mount.TypeVolume
			m.Source = v.Source
			if name, ok := volumes[v.Source]; ok {
				m.Source = name
			}
		}
		mounts = append(mounts, m)
	}
	return mounts
}

func buildResources(r api.Resources) container.Resources {
	return container.Resources{
		CPUShares: r.CPUShares,
		NanoCPUs:  int64(r.CPUs * 1e9),
		Memory:    r.MemoryBytes,
	}
}

func stopTimeout(d time.Duration) *int {
	if d <= 0 {
		return nil
	}
	secs := int(d.Round(time.Second).Seconds())
	if secs == 0 {
		secs = 1
	}
	return &secs
}

// containerConfigs converts a service into the configs the engine expects
func containerConfigs(spec api.ServiceSpec, options supervisor.StartOptions) (*container.Config, *container.HostConfig, *network.NetworkingConfig) {
	labels := map[string]string{
		api.ProjectLabel:      options.Project,
		api.ServiceLabel:      spec.Name,
		api.RunLabel:          options.RunID,
		api.VersionLabel:      api.StackdVersion,
		api.DependenciesLabel: strings.Join(spec.Dependencies(), ","),
	}
	if spec.NetworkMode.IsShared() {
		labels[api.NetworkOwnerLabel] = spec.NetworkMode.SharesWith
	}

	config := &container.Config{
		Image:        spec.Image,
		Env:          toMobyEnv(spec.Environment),
		Labels:       labels,
		ExposedPorts: buildContainerPorts(spec.Ports),
		StopTimeout:  stopTimeout(spec.StopGracePeriod),
	}
	if len(spec.Command) > 0 {
		config.Cmd = spec.Command
	}

	hostConfig := &container.HostConfig{
		PortBindings: buildContainerPortBindingOptions(spec.Ports),
		Mounts:       buildMounts(spec, options.Volumes),
		Resources:    buildResources(spec.Resources),
	}

	var networkConfig *network.NetworkingConfig
	if spec.NetworkMode.IsShared() {
		hostConfig.NetworkMode = container.NetworkMode("container:" + options.Namespace.Ref)
	} else {
		net := networkName(options.Project)
		hostConfig.NetworkMode = container.NetworkMode(net)
		networkConfig = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				net: {
					Aliases: []string{spec.Name},
				},
			},
		}
	}
	return config, hostConfig, networkConfig
}

// exitStatus converts the final state of a container
func exitStatus(code int, oomKilled bool) supervisor.ExitStatus {
	status := supervisor.ExitStatus{Code: code, OOMKilled: oomKilled}
	switch code {
	case 137:
		status.Signal = "SIGKILL"
	case 143:
		status.Signal = "SIGTERM"
	}
	return status
}
