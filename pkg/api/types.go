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
	"fmt"
	"strings"
	"time"
)

// Project is a set of services loaded from a stack definition
type Project struct {
	Name       string
	WorkingDir string
	// Services are kept in declaration order
	Services []ServiceSpec
	// Volumes lists the named volumes declared at top level
	Volumes []string
}

// ServiceNames return the service names in declaration order
func (p *Project) ServiceNames() []string {
	names := make([]string, 0, len(p.Services))
	for _, s := range p.Services {
		names = append(names, s.Name)
	}
	return names
}

// GetService retrieve a service by name
func (p *Project) GetService(name string) (ServiceSpec, error) {
	for _, s := range p.Services {
		if s.Name == name {
			return s, nil
		}
	}
	return ServiceSpec{}, fmt.Errorf("no such service: %s: %w", name, ErrNotFound)
}

// VolumeName returns the runtime name of a project named volume
func (p *Project) VolumeName(volume string) string {
	return VolumeName(p.Name, volume)
}

// VolumeName returns the runtime name of a named volume for a project
func VolumeName(project, volume string) string {
	return project + "_" + volume
}

// ServiceSpec is the declarative definition of one service
type ServiceSpec struct {
	Name            string            `json:"name" yaml:"name"`
	Image           string            `json:"image,omitempty" yaml:"image,omitempty"`
	Command         []string          `json:"command,omitempty" yaml:"command,omitempty"`
	Environment     map[string]string `json:"environment,omitempty" yaml:"environment,omitempty"`
	Ports           []PortMapping     `json:"ports,omitempty" yaml:"ports,omitempty"`
	Volumes         []VolumeMount     `json:"volumes,omitempty" yaml:"volumes,omitempty"`
	Resources       Resources         `json:"resources,omitempty" yaml:"resources,omitempty"`
	HealthCheck     *HealthCheck      `json:"healthcheck,omitempty" yaml:"healthcheck,omitempty"`
	NetworkMode     NetworkMode       `json:"network_mode" yaml:"network_mode"`
	DependsOn       []string          `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Restart         RestartPolicy     `json:"restart" yaml:"restart"`
	StopGracePeriod time.Duration     `json:"stop_grace_period,omitempty" yaml:"stop_grace_period,omitempty"`
	// Index is the declaration order of the service
	Index int `json:"-" yaml:"-"`
}

// Dependencies returns the services this one must wait on: explicit
// dependencies followed by the namespace owner, if any.
func (s ServiceSpec) Dependencies() []string {
	deps := make([]string, 0, len(s.DependsOn)+1)
	seen := map[string]bool{}
	for _, d := range s.DependsOn {
		if !seen[d] {
			seen[d] = true
			deps = append(deps, d)
		}
	}
	if owner := s.NetworkMode.SharesWith; owner != "" && !seen[owner] {
		deps = append(deps, owner)
	}
	return deps
}

// NamedVolumes returns the names of the named volumes mounted by the service
func (s ServiceSpec) NamedVolumes() []string {
	var names []string
	for _, v := range s.Volumes {
		if v.Type == MountTypeVolume && v.Source != "" {
			names = append(names, v.Source)
		}
	}
	return names
}

// NetworkModeServicePrefix is the network_mode prefix to share another service namespace
const NetworkModeServicePrefix = "service:"

// NetworkMode tells whether a service gets its own network namespace or joins another service's one
type NetworkMode struct {
	// SharesWith is the name of the namespace owner. Empty means isolated.
	SharesWith string `json:"shares_with,omitempty" yaml:"shares_with,omitempty"`
}

// Isolated returns the NetworkMode of a service owning its namespace
func Isolated() NetworkMode {
	return NetworkMode{}
}

// SharedWith returns the NetworkMode of a service joining owner's namespace
func SharedWith(owner string) NetworkMode {
	return NetworkMode{SharesWith: owner}
}

// IsShared tells if the service joins another service namespace
func (m NetworkMode) IsShared() bool {
	return m.SharesWith != ""
}

func (m NetworkMode) String() string {
	if m.IsShared() {
		return NetworkModeServicePrefix + m.SharesWith
	}
	return "isolated"
}

// ParseNetworkMode converts a network_mode value. Values other than `service:x` are isolated.
func ParseNetworkMode(mode string) (NetworkMode, error) {
	switch {
	case mode == "", mode == "bridge", mode == "default", mode == "isolated":
		return Isolated(), nil
	case strings.HasPrefix(mode, NetworkModeServicePrefix):
		owner := strings.TrimPrefix(mode, NetworkModeServicePrefix)
		if owner == "" {
			return NetworkMode{}, fmt.Errorf("network_mode %q: missing service name: %w", mode, ErrInvalidSpec)
		}
		return SharedWith(owner), nil
	default:
		return NetworkMode{}, fmt.Errorf("unsupported network_mode %q: %w", mode, ErrInvalidSpec)
	}
}

// PortMapping publishes a service port on the host
type PortMapping struct {
	HostIP    string `json:"host_ip,omitempty" yaml:"host_ip,omitempty"`
	Published uint16 `json:"published,omitempty" yaml:"published,omitempty"`
	Target    uint16 `json:"target" yaml:"target"`
	Protocol  string `json:"protocol,omitempty" yaml:"protocol,omitempty"`
}

// Proto returns the port protocol, tcp by default
func (p PortMapping) Proto() string {
	if p.Protocol == "" {
		return "tcp"
	}
	return p.Protocol
}

func (p PortMapping) String() string {
	if p.Published == 0 {
		return fmt.Sprintf("%d/%s", p.Target, p.Proto())
	}
	ip := p.HostIP
	if ip == "" {
		ip = "0.0.0.0"
	}
	return fmt.Sprintf("%s:%d->%d/%s", ip, p.Published, p.Target, p.Proto())
}

// MountType is the kind of volume mount
type MountType string

const (
	// MountTypeVolume mounts a named volume
	MountTypeVolume MountType = "volume"
	// MountTypeBind mounts a host path
	MountTypeBind MountType = "bind"
)

// VolumeMount attaches storage to a service
type VolumeMount struct {
	Type     MountType `json:"type" yaml:"type"`
	Source   string    `json:"source,omitempty" yaml:"source,omitempty"`
	Target   string    `json:"target" yaml:"target"`
	ReadOnly bool      `json:"read_only,omitempty" yaml:"read_only,omitempty"`
}

// Resources are the limits applied to a service instance when it starts
type Resources struct {
	CPUShares   int64   `json:"cpu_shares,omitempty" yaml:"cpu_shares,omitempty"`
	CPUs        float64 `json:"cpus,omitempty" yaml:"cpus,omitempty"`
	MemoryBytes int64   `json:"memory,omitempty" yaml:"memory,omitempty"`
}

// Health check defaults, matching the docker engine ones
const (
	DefaultHealthInterval = 30 * time.Second
	DefaultHealthTimeout  = 30 * time.Second
	DefaultHealthRetries  = 3
)

// HealthCheck describes how to probe a service for readiness
type HealthCheck struct {
	// Test is the command run inside the service: CMD args... or CMD-SHELL script
	Test []string `json:"test,omitempty" yaml:"test,omitempty"`
	// Endpoint is an http(s):// or tcp:// readiness endpoint probed from the host
	Endpoint    string        `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Interval    time.Duration `json:"interval" yaml:"interval"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout"`
	Retries     int           `json:"retries" yaml:"retries"`
	StartPeriod time.Duration `json:"start_period,omitempty" yaml:"start_period,omitempty"`
}

// Budget is the worst case time before the check declares a service unhealthy
func (h *HealthCheck) Budget() time.Duration {
	if h == nil {
		return 0
	}
	return h.StartPeriod + time.Duration(h.Retries)*(h.Interval+h.Timeout)
}

// RestartCondition selects which exits trigger a restart
type RestartCondition string

const (
	// RestartNo never restarts
	RestartNo RestartCondition = "no"
	// RestartOnFailure restarts on non-zero exit or crash
	RestartOnFailure RestartCondition = "on-failure"
	// RestartAlways restarts on any exit
	RestartAlways RestartCondition = "always"
	// RestartUnlessStopped restarts on any exit unless stopped by the operator
	RestartUnlessStopped RestartCondition = "unless-stopped"
)

// RestartPolicy drives restarts after unexpected exits, with exponential backoff capped at MaxDelay
type RestartPolicy struct {
	Condition RestartCondition `json:"condition" yaml:"condition"`
	// Delay is the initial backoff
	Delay time.Duration `json:"delay" yaml:"delay"`
	// MaxDelay caps the backoff
	MaxDelay time.Duration `json:"max_delay" yaml:"max_delay"`
	// MaxAttempts is the number of restarts allowed inside Window
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`
	// Window is the sliding window restarts are counted in
	Window time.Duration `json:"window" yaml:"window"`
}

// DefaultRestartPolicy is used when a service declares none
func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{
		Condition:   RestartOnFailure,
		Delay:       time.Second,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 5,
		Window:      2 * time.Minute,
	}
}

// ShouldRestart tells if an instance which exited with code (or was killed) must be restarted
func (p RestartPolicy) ShouldRestart(exitCode int, crashed bool) bool {
	switch p.Condition {
	case RestartAlways, RestartUnlessStopped:
		return true
	case RestartOnFailure:
		return crashed || exitCode != 0
	default:
		return false
	}
}
