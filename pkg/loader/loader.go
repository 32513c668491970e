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

package loader

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/compose-spec/compose-go/v2/cli"
	composeloader "github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"github.com/distribution/reference"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/docker/stackd/pkg/api"
	"github.com/docker/stackd/pkg/utils"
)

const (
	// ReadinessEndpointExtension declares a readiness endpoint probed from the host
	ReadinessEndpointExtension = "x-readiness-endpoint"
	// RestartMaxDelayExtension caps the restart backoff
	RestartMaxDelayExtension = "x-restart-max-delay"
	// NoValidateEnv disables the checks which don't affect the dependency structure
	NoValidateEnv = "STACKD_NO_VALIDATE"
)

// Options configure how a project is loaded
type Options struct {
	// Name overrides the project name
	Name string
	// ConfigPaths are the compose files, merged in order
	ConfigPaths []string
	// WorkingDir is the project directory, defaults to the directory of the first file
	WorkingDir string
	// EnvFiles are loaded for interpolation in addition to the project .env
	EnvFiles []string
}

// Load reads compose files and converts them into a Project
func Load(ctx context.Context, o Options) (*api.Project, error) {
	options, err := cli.NewProjectOptions(o.ConfigPaths,
		cli.WithWorkingDirectory(o.WorkingDir),
		cli.WithOsEnv,
		cli.WithEnvFiles(o.EnvFiles...),
		cli.WithDotEnv,
		cli.WithConfigFileEnv,
		cli.WithDefaultConfigPath,
		cli.WithName(o.Name),
		// dependency consistency is checked when the launch plan is built
		cli.WithLoadOptions(func(lo *composeloader.Options) {
			lo.SkipConsistencyCheck = true
		}),
	)
	if err != nil {
		return nil, err
	}
	project, err := cli.ProjectFromOptions(ctx, options)
	if err != nil {
		return nil, err
	}

	order, err := declarationOrder(project.ComposeFiles)
	if err != nil {
		return nil, err
	}
	return Convert(project, order, !noValidate())
}

func noValidate() bool {
	v, ok := os.LookupEnv(NoValidateEnv)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err != nil || b
}

// Convert maps a compose project to a Project. Services are sorted according to order,
// services missing from order come last by name.
func Convert(project *types.Project, order []string, validate bool) (*api.Project, error) {
	p := &api.Project{
		Name:       project.Name,
		WorkingDir: project.WorkingDir,
	}
	for name := range project.Volumes {
		p.Volumes = append(p.Volumes, name)
	}
	slices.Sort(p.Volumes)

	names := make([]string, 0, len(project.Services))
	for _, name := range order {
		if _, ok := project.Services[name]; ok && !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	for _, name := range utils.Sorted(utils.NewSet(mapKeys(project.Services)...)) {
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	}

	for i, name := range names {
		spec, err := convertService(project.Services[name], i)
		if err != nil {
			return nil, fmt.Errorf("service %q: %w", name, err)
		}
		if validate {
			if err := sanityCheck(spec); err != nil {
				return nil, fmt.Errorf("service %q: %w", name, err)
			}
		}
		p.Services = append(p.Services, spec)
	}
	return p, nil
}

func convertService(s types.ServiceConfig, index int) (api.ServiceSpec, error) {
	spec := api.ServiceSpec{
		Name:        s.Name,
		Image:       s.Image,
		Command:     s.Command,
		Environment: map[string]string{},
		Resources: api.Resources{
			CPUShares:   s.CPUShares,
			CPUs:        float64(s.CPUS),
			MemoryBytes: int64(s.MemLimit),
		},
		Index: index,
	}
	for k, v := range s.Environment {
		if v != nil {
			spec.Environment[k] = *v
		}
	}

	for _, port := range s.Ports {
		mapping, err := convertPort(port)
		if err != nil {
			return spec, err
		}
		spec.Ports = append(spec.Ports, mapping)
	}

	for _, v := range s.Volumes {
		switch v.Type {
		case types.VolumeTypeVolume:
			if v.Source == "" {
				// anonymous volumes are not managed
				logrus.Warnf("service %q: ignoring anonymous volume %s", s.Name, v.Target)
				continue
			}
			spec.Volumes = append(spec.Volumes, api.VolumeMount{Type: api.MountTypeVolume, Source: v.Source, Target: v.Target, ReadOnly: v.ReadOnly})
		case types.VolumeTypeBind:
			spec.Volumes = append(spec.Volumes, api.VolumeMount{Type: api.MountTypeBind, Source: v.Source, Target: v.Target, ReadOnly: v.ReadOnly})
		default:
			return spec, fmt.Errorf("unsupported volume type %q for %s: %w", v.Type, v.Target, api.ErrInvalidSpec)
		}
	}

	hc, err := convertHealthCheck(s)
	if err != nil {
		return spec, err
	}
	spec.HealthCheck = hc

	mode, err := api.ParseNetworkMode(s.NetworkMode)
	if err != nil {
		return spec, err
	}
	spec.NetworkMode = mode

	for dep := range s.DependsOn {
		spec.DependsOn = append(spec.DependsOn, dep)
	}
	slices.Sort(spec.DependsOn)

	restart, err := convertRestartPolicy(s)
	if err != nil {
		return spec, err
	}
	spec.Restart = restart

	if s.StopGracePeriod != nil {
		spec.StopGracePeriod = time.Duration(*s.StopGracePeriod)
	}
	return spec, nil
}

func convertPort(port types.ServicePortConfig) (api.PortMapping, error) {
	mapping := api.PortMapping{
		HostIP:   port.HostIP,
		Protocol: port.Protocol,
	}
	if port.Target == 0 || port.Target > 65535 {
		return mapping, fmt.Errorf("invalid target port %d: %w", port.Target, api.ErrInvalidSpec)
	}
	mapping.Target = uint16(port.Target)
	if port.Published != "" {
		published, err := strconv.ParseUint(port.Published, 10, 16)
		if err != nil {
			return mapping, fmt.Errorf("invalid published port %q: %w", port.Published, api.ErrInvalidSpec)
		}
		mapping.Published = uint16(published)
	}
	return mapping, nil
}

func convertHealthCheck(s types.ServiceConfig) (*api.HealthCheck, error) {
	endpoint, err := stringExtension(s.Extensions, ReadinessEndpointExtension)
	if err != nil {
		return nil, err
	}
	h := s.HealthCheck
	if (h == nil || h.Disable || len(h.Test) == 0 || h.Test[0] == "NONE") && endpoint == "" {
		return nil, nil
	}

	hc := &api.HealthCheck{
		Endpoint: endpoint,
		Interval: api.DefaultHealthInterval,
		Timeout:  api.DefaultHealthTimeout,
		Retries:  api.DefaultHealthRetries,
	}
	if h == nil {
		return hc, nil
	}
	if !h.Disable && len(h.Test) > 0 && h.Test[0] != "NONE" {
		hc.Test = h.Test
	}
	if h.Interval != nil {
		hc.Interval = time.Duration(*h.Interval)
	}
	if h.Timeout != nil {
		hc.Timeout = time.Duration(*h.Timeout)
	}
	if h.StartPeriod != nil {
		hc.StartPeriod = time.Duration(*h.StartPeriod)
	}
	if h.Retries != nil {
		hc.Retries = int(*h.Retries)
	}
	return hc, nil
}

func convertRestartPolicy(s types.ServiceConfig) (api.RestartPolicy, error) {
	policy := api.DefaultRestartPolicy()

	if s.Restart != "" {
		condition, attempts, _ := strings.Cut(s.Restart, ":")
		switch api.RestartCondition(condition) {
		case api.RestartNo, api.RestartAlways, api.RestartUnlessStopped, api.RestartOnFailure:
			policy.Condition = api.RestartCondition(condition)
		default:
			return policy, fmt.Errorf("unsupported restart policy %q: %w", s.Restart, api.ErrInvalidSpec)
		}
		if attempts != "" {
			n, err := strconv.Atoi(attempts)
			if err != nil || n < 0 {
				return policy, fmt.Errorf("invalid restart attempts %q: %w", attempts, api.ErrInvalidSpec)
			}
			policy.MaxAttempts = n
		}
	}

	if s.Deploy != nil && s.Deploy.RestartPolicy != nil {
		rp := s.Deploy.RestartPolicy
		switch rp.Condition {
		case "":
		case "none":
			policy.Condition = api.RestartNo
		case "on-failure":
			policy.Condition = api.RestartOnFailure
		case "any":
			policy.Condition = api.RestartAlways
		default:
			return policy, fmt.Errorf("unsupported restart condition %q: %w", rp.Condition, api.ErrInvalidSpec)
		}
		if rp.Delay != nil {
			policy.Delay = time.Duration(*rp.Delay)
		}
		if rp.MaxAttempts != nil {
			policy.MaxAttempts = int(*rp.MaxAttempts)
		}
		if rp.Window != nil {
			policy.Window = time.Duration(*rp.Window)
		}
	}

	maxDelay, err := stringExtension(s.Extensions, RestartMaxDelayExtension)
	if err != nil {
		return policy, err
	}
	if maxDelay != "" {
		d, err := time.ParseDuration(maxDelay)
		if err != nil {
			return policy, fmt.Errorf("invalid %s %q: %w", RestartMaxDelayExtension, maxDelay, api.ErrInvalidSpec)
		}
		policy.MaxDelay = d
	}
	if policy.MaxDelay < policy.Delay {
		policy.MaxDelay = policy.Delay
	}
	return policy, nil
}

func stringExtension(extensions types.Extensions, key string) (string, error) {
	v, ok := extensions[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string, got %T: %w", key, v, api.ErrInvalidSpec)
	}
	return s, nil
}

// sanityCheck rejects definitions which would build a valid plan but never work
func sanityCheck(spec api.ServiceSpec) error {
	if spec.Image != "" {
		if _, err := reference.ParseNormalizedNamed(spec.Image); err != nil {
			return fmt.Errorf("invalid image reference %q: %v: %w", spec.Image, err, api.ErrInvalidSpec)
		}
	}
	if hc := spec.HealthCheck; hc != nil {
		if hc.Interval <= 0 || hc.Timeout <= 0 {
			return fmt.Errorf("health check interval and timeout must be positive: %w", api.ErrInvalidSpec)
		}
		if hc.Retries < 1 {
			return fmt.Errorf("health check retries must be at least 1: %w", api.ErrInvalidSpec)
		}
		if len(hc.Test) > 0 && hc.Test[0] != "CMD" && hc.Test[0] != "CMD-SHELL" {
			return fmt.Errorf("health check test must start with CMD or CMD-SHELL, got %q: %w", hc.Test[0], api.ErrInvalidSpec)
		}
		if hc.Endpoint != "" && !strings.HasPrefix(hc.Endpoint, "http://") &&
			!strings.HasPrefix(hc.Endpoint, "https://") && !strings.HasPrefix(hc.Endpoint, "tcp://") {
			return fmt.Errorf("unsupported readiness endpoint %q: %w", hc.Endpoint, api.ErrInvalidSpec)
		}
	}
	return nil
}

// declarationOrder lists service names in the order they first appear across files
func declarationOrder(files []string) ([]string, error) {
	var order []string
	for _, file := range files {
		if file == "-" {
			continue
		}
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		names, err := serviceKeys(b)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		for _, name := range names {
			if !slices.Contains(order, name) {
				order = append(order, name)
			}
		}
	}
	return order, nil
}

func serviceKeys(content []byte) ([]string, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, nil
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value != "services" {
			continue
		}
		services := root.Content[i+1]
		if services.Kind != yaml.MappingNode {
			return nil, nil
		}
		var names []string
		for j := 0; j+1 < len(services.Content); j += 2 {
			names = append(names, services.Content[j].Value)
		}
		return names, nil
	}
	return nil, nil
}

func mapKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
