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
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/docker/stackd/pkg/api"
)

// ServiceStatus indicates the status of a service during a traversal
type ServiceStatus int

// Services status flags
const (
	ServiceStopped ServiceStatus = iota
	ServiceStarted
)

// Graph represents a set of services as service dependencies. Children of a
// vertex are the services it depends on.
type Graph struct {
	Vertices map[string]*Vertex
	lock     sync.RWMutex
}

// Vertex represents a service in the dependencies structure
type Vertex struct {
	Key     string
	Service string
	// Index is the declaration order of the service
	Index    int
	Status   ServiceStatus
	Children map[string]*Vertex
	Parents  map[string]*Vertex
}

// CycleError reports the services forming a dependency cycle
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s: %s", api.ErrCycleDetected, strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error {
	return api.ErrCycleDetected
}

// NewVertex is the constructor function for the Vertex
func NewVertex(key string, service string, index int, initialStatus ServiceStatus) *Vertex {
	return &Vertex{
		Key:      key,
		Service:  service,
		Index:    index,
		Status:   initialStatus,
		Parents:  map[string]*Vertex{},
		Children: map[string]*Vertex{},
	}
}

// GetParents returns the parent vertices of the Vertex, in declaration order
func (v *Vertex) GetParents() []*Vertex {
	return byIndex(v.Parents)
}

// GetChildren returns the child vertices of the Vertex, in declaration order
func (v *Vertex) GetChildren() []*Vertex {
	return byIndex(v.Children)
}

func byIndex(vertices map[string]*Vertex) []*Vertex {
	res := make([]*Vertex, 0, len(vertices))
	for _, v := range vertices {
		res = append(res, v)
	}
	slices.SortFunc(res, func(a, b *Vertex) int {
		return a.Index - b.Index
	})
	return res
}

// New returns the dependency graph of services, with explicit dependencies
// and namespace sharing both lowered to edges.
func New(services []api.ServiceSpec, initialStatus ServiceStatus) (*Graph, error) {
	g := &Graph{
		Vertices: map[string]*Vertex{},
	}
	for i, s := range services {
		g.AddVertex(s.Name, s.Name, i, initialStatus)
	}

	for _, s := range services {
		for _, name := range s.DependsOn {
			if err := g.AddEdge(s.Name, name); err != nil {
				return nil, fmt.Errorf("service %q depends on undefined service %q: %w", s.Name, name, api.ErrDanglingReference)
			}
		}
		if owner := s.NetworkMode.SharesWith; owner != "" {
			if err := g.AddEdge(s.Name, owner); err != nil {
				return nil, fmt.Errorf("service %q shares network namespace with undefined service %q: %w", s.Name, owner, api.ErrDanglingReference)
			}
		}
	}

	if err := g.HasCycles(); err != nil {
		return nil, err
	}
	return g, nil
}

// AddVertex adds a vertex to the Graph
func (g *Graph) AddVertex(key string, service string, index int, initialStatus ServiceStatus) {
	g.lock.Lock()
	defer g.lock.Unlock()

	g.Vertices[key] = NewVertex(key, service, index, initialStatus)
}

// AddEdge adds a relationship of dependency between vertices `source` and `destination`
func (g *Graph) AddEdge(source string, destination string) error {
	g.lock.Lock()
	defer g.lock.Unlock()

	sourceVertex := g.Vertices[source]
	destinationVertex := g.Vertices[destination]

	if sourceVertex == nil {
		return fmt.Errorf("could not find %s: %w", source, api.ErrNotFound)
	}
	if destinationVertex == nil {
		return fmt.Errorf("could not find %s: %w", destination, api.ErrNotFound)
	}

	// If they are already connected
	if _, ok := sourceVertex.Children[destination]; ok {
		return nil
	}

	sourceVertex.Children[destination] = destinationVertex
	destinationVertex.Parents[source] = sourceVertex

	return nil
}

// Leaves returns the vertices with no dependency, in declaration order
func (g *Graph) Leaves() []*Vertex {
	g.lock.RLock()
	defer g.lock.RUnlock()

	var res []*Vertex
	for _, v := range g.sorted() {
		if len(v.Children) == 0 {
			res = append(res, v)
		}
	}
	return res
}

// Roots returns the vertices no other vertex depends on, in declaration order
func (g *Graph) Roots() []*Vertex {
	g.lock.RLock()
	defer g.lock.RUnlock()

	var res []*Vertex
	for _, v := range g.sorted() {
		if len(v.Parents) == 0 {
			res = append(res, v)
		}
	}
	return res
}

func (g *Graph) sorted() []*Vertex {
	return byIndex(g.Vertices)
}

// UpdateStatus updates the status of a certain vertex
func (g *Graph) UpdateStatus(key string, status ServiceStatus) {
	g.lock.Lock()
	defer g.lock.Unlock()
	g.Vertices[key].Status = status
}

// FilterParents returns the parents of a certain vertex that are in a certain status
func (g *Graph) FilterParents(key string, status ServiceStatus) []*Vertex {
	g.lock.RLock()
	defer g.lock.RUnlock()

	var res []*Vertex
	for _, parent := range g.Vertices[key].Parents {
		if parent.Status == status {
			res = append(res, parent)
		}
	}
	return res
}

// HasCycles detects cycles in the graph and returns a *CycleError naming the first one found
func (g *Graph) HasCycles() error {
	g.lock.RLock()
	defer g.lock.RUnlock()

	discovered := map[string]bool{}
	finished := map[string]bool{}
	for _, vertex := range g.sorted() {
		if discovered[vertex.Key] || finished[vertex.Key] {
			continue
		}
		if err := g.visit(vertex, []string{vertex.Key}, discovered, finished); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) visit(vertex *Vertex, path []string, discovered, finished map[string]bool) error {
	discovered[vertex.Key] = true

	for _, child := range vertex.GetChildren() {
		if discovered[child.Key] {
			start := slices.Index(path, child.Key)
			cycle := append(slices.Clone(path[start:]), child.Key)
			return &CycleError{Path: cycle}
		}
		if !finished[child.Key] {
			if err := g.visit(child, append(path, child.Key), discovered, finished); err != nil {
				return err
			}
		}
	}

	delete(discovered, vertex.Key)
	finished[vertex.Key] = true
	return nil
}
