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

package netns

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/docker/stackd/pkg/api"
)

// Handle identifies a network namespace. Services sharing a namespace get the same Handle.
type Handle struct {
	ID string
	// Owner is the service which allocated the namespace
	Owner string
	// Ref is the runtime reference of the owner instance, set once the owner runs
	Ref string
	// Ports are the host ports published for the whole namespace
	Ports []api.PortMapping
}

// Bound tells if the namespace owner is running
func (h Handle) Bound() bool {
	return h.Ref != ""
}

// Coordinator resolves network namespaces of services
type Coordinator struct {
	mu     sync.RWMutex
	active map[string]Handle
}

// NewCoordinator creates a Coordinator with no active namespace
func NewCoordinator() *Coordinator {
	return &Coordinator{
		active: map[string]Handle{},
	}
}

// Resolve returns the namespace a service must be attached to. An isolated
// service gets a fresh handle, a sharer gets the handle of its owner, which
// must be running.
func (c *Coordinator) Resolve(spec api.ServiceSpec) (Handle, error) {
	if !spec.NetworkMode.IsShared() {
		return Handle{
			ID:    uuid.NewString(),
			Owner: spec.Name,
			Ports: append([]api.PortMapping(nil), spec.Ports...),
		}, nil
	}

	owner := spec.NetworkMode.SharesWith
	c.mu.RLock()
	h, ok := c.active[owner]
	c.mu.RUnlock()
	if !ok || !h.Bound() {
		return Handle{}, fmt.Errorf("service %q shares network namespace with %q: %w", spec.Name, owner, api.ErrNamespaceOwnerNotStarted)
	}
	return h, nil
}

// Bind marks the namespace of a service active. For an owner ref is its running instance.
func (c *Coordinator) Bind(service string, h Handle, ref string) Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h.Owner == service {
		h.Ref = ref
	}
	c.active[service] = h
	logrus.WithFields(logrus.Fields{
		"service":   service,
		"namespace": h.ID,
		"owner":     h.Owner,
	}).Debug("network namespace bound")
	return h
}

// Release forgets the namespace of a stopped service
func (c *Coordinator) Release(service string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, service)
}

// Lookup returns the active namespace of a service
func (c *Coordinator) Lookup(service string) (Handle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.active[service]
	return h, ok
}

// Members returns the services attached to the namespace of service, owner included
func (c *Coordinator) Members(service string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.active[service]
	if !ok {
		return nil
	}
	var members []string
	for name, other := range c.active {
		if other.ID == h.ID {
			members = append(members, name)
		}
	}
	return members
}
