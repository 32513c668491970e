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

package graph

import (
	"container/heap"
	"fmt"
	"strings"

	"github.com/docker/stackd/pkg/api"
	"github.com/docker/stackd/pkg/utils"
)

// LaunchPlan is the dependency respecting start order of a set of services.
// A LaunchPlan is immutable once built.
type LaunchPlan struct {
	services   []api.ServiceSpec
	position   map[string]int
	dependents map[string][]string
}

// Build validates the services and sorts them so every service comes after
// all of its dependencies. Services with no ordering constraint between them
// keep their declaration order.
func Build(services []api.ServiceSpec) (*LaunchPlan, error) {
	if err := validateServices(services); err != nil {
		return nil, err
	}
	g, err := New(services, ServiceStopped)
	if err != nil {
		return nil, err
	}
	if err := checkPortConflicts(services); err != nil {
		return nil, err
	}

	plan := &LaunchPlan{
		services:   make([]api.ServiceSpec, 0, len(services)),
		position:   make(map[string]int, len(services)),
		dependents: map[string][]string{},
	}
	// Kahn's algorithm, the ready service declared first goes next
	pending := make(map[string]int, len(g.Vertices))
	ready := &indexHeap{}
	for _, v := range g.Vertices {
		pending[v.Key] = len(v.Children)
		if len(v.Children) == 0 {
			heap.Push(ready, v.Index)
		}
	}
	for ready.Len() > 0 {
		i := heap.Pop(ready).(int)
		s := services[i]
		s.Index = i
		plan.position[s.Name] = len(plan.services)
		plan.services = append(plan.services, s)
		for _, parent := range g.Vertices[s.Name].Parents {
			pending[parent.Key]--
			if pending[parent.Key] == 0 {
				heap.Push(ready, parent.Index)
			}
		}
	}
	if len(plan.services) < len(services) {
		// unreachable once HasCycles passed
		return nil, fmt.Errorf("unable to order services: %w", api.ErrCycleDetected)
	}

	for _, s := range plan.services {
		for _, dep := range s.Dependencies() {
			plan.dependents[dep] = append(plan.dependents[dep], s.Name)
		}
	}
	return plan, nil
}

// BuildProject builds the LaunchPlan of a project
func BuildProject(project *api.Project) (*LaunchPlan, error) {
	return Build(project.Services)
}

// indexHeap is a min-heap of declaration indexes
type indexHeap []int

func (h indexHeap) Len() int           { return len(h) }
func (h indexHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h indexHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *indexHeap) Push(x any)        { *h = append(*h, x.(int)) }

func (h *indexHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func validateServices(services []api.ServiceSpec) error {
	seen := utils.NewSet[string]()
	for _, s := range services {
		if s.Name == "" {
			return fmt.Errorf("service with empty name: %w", api.ErrInvalidSpec)
		}
		if seen.Has(s.Name) {
			return fmt.Errorf("service %q declared twice: %w", s.Name, api.ErrInvalidSpec)
		}
		seen.Add(s.Name)
		if s.NetworkMode.IsShared() && len(s.Ports) > 0 {
			return fmt.Errorf("service %q shares the network namespace of %q and cannot publish ports, declare them on %q: %w",
				s.Name, s.NetworkMode.SharesWith, s.NetworkMode.SharesWith, api.ErrInvalidSpec)
		}
	}
	return nil
}

type hostPort struct {
	port     uint16
	protocol string
}

func checkPortConflicts(services []api.ServiceSpec) error {
	type binding struct {
		ip    string
		owner string
	}
	bound := map[hostPort][]binding{}
	for _, s := range services {
		for _, p := range s.Ports {
			if p.Published == 0 {
				continue
			}
			key := hostPort{port: p.Published, protocol: strings.ToLower(p.Proto())}
			for _, b := range bound[key] {
				if !overlaps(b.ip, p.HostIP) {
					continue
				}
				if b.owner == s.Name {
					return fmt.Errorf("service %q publishes host port %d/%s twice: %w", s.Name, key.port, key.protocol, api.ErrPortConflict)
				}
				return fmt.Errorf("services %q and %q both publish host port %d/%s: %w", b.owner, s.Name, key.port, key.protocol, api.ErrPortConflict)
			}
			bound[key] = append(bound[key], binding{ip: p.HostIP, owner: s.Name})
		}
	}
	return nil
}

func overlaps(a, b string) bool {
	return a == b || isWildcard(a) || isWildcard(b)
}

func isWildcard(ip string) bool {
	return ip == "" || ip == "0.0.0.0" || ip == "::"
}

// Services returns the services in launch order
func (p *LaunchPlan) Services() []api.ServiceSpec {
	return append([]api.ServiceSpec(nil), p.services...)
}

// Names returns the service names in launch order
func (p *LaunchPlan) Names() []string {
	names := make([]string, 0, len(p.services))
	for _, s := range p.services {
		names = append(names, s.Name)
	}
	return names
}

// Len returns the number of services in the plan
func (p *LaunchPlan) Len() int {
	return len(p.services)
}

// Get returns a service of the plan by name
func (p *LaunchPlan) Get(name string) (api.ServiceSpec, bool) {
	i, ok := p.position[name]
	if !ok {
		return api.ServiceSpec{}, false
	}
	return p.services[i], true
}

// Position returns the rank of a service in launch order, -1 if unknown
func (p *LaunchPlan) Position(name string) int {
	if i, ok := p.position[name]; ok {
		return i
	}
	return -1
}

// Dependents returns the services depending directly on name, in launch order
func (p *LaunchPlan) Dependents(name string) []string {
	return append([]string(nil), p.dependents[name]...)
}
