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
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/stackd/pkg/api"
)

func svc(name string, deps ...string) api.ServiceSpec {
	return api.ServiceSpec{Name: name, DependsOn: deps}
}

func TestBuildOrdersDependenciesFirst(t *testing.T) {
	plan, err := Build([]api.ServiceSpec{
		svc("web", "api"),
		svc("api", "db", "cache"),
		svc("db"),
		svc("cache"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"db", "cache", "api", "web"}, plan.Names())
	assert.Equal(t, 2, plan.Position("api"))
	assert.Equal(t, -1, plan.Position("nope"))
	assert.Equal(t, []string{"api"}, plan.Dependents("db"))
}

func TestBuildKeepsDeclarationOrderForIndependentServices(t *testing.T) {
	services := []api.ServiceSpec{svc("zeta"), svc("alpha"), svc("mid"), svc("beta")}
	for i := 0; i < 10; i++ {
		plan, err := Build(services)
		require.NoError(t, err)
		if diff := cmp.Diff([]string{"zeta", "alpha", "mid", "beta"}, plan.Names()); diff != "" {
			t.Fatalf("unexpected order (-want +got):\n%s", diff)
		}
	}
}

func TestBuildStartsFirstDeclaredReadyService(t *testing.T) {
	plan, err := Build([]api.ServiceSpec{svc("c", "a"), svc("a"), svc("b")})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "b"}, plan.Names())
	assert.Equal(t, 0, plan.Services()[1].Index)
}

func TestBuildLongChain(t *testing.T) {
	const n = 20000
	services := make([]api.ServiceSpec, n)
	for i := range services {
		// declared last to first, each one depending on the next
		services[i] = svc(fmt.Sprintf("s%d", i))
		if i+1 < n {
			services[i].DependsOn = []string{fmt.Sprintf("s%d", i+1)}
		}
	}
	plan, err := Build(services)
	require.NoError(t, err)
	require.Equal(t, n, plan.Len())
	assert.Equal(t, fmt.Sprintf("s%d", n-1), plan.Names()[0])
	assert.Equal(t, "s0", plan.Names()[n-1])
}

func TestBuildLowersNamespaceSharingToEdge(t *testing.T) {
	sidecar := svc("sidecar")
	sidecar.NetworkMode = api.SharedWith("quay")
	plan, err := Build([]api.ServiceSpec{
		sidecar,
		{Name: "quay", Ports: []api.PortMapping{{Published: 8080, Target: 8080}}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"quay", "sidecar"}, plan.Names())
	assert.Equal(t, []string{"sidecar"}, plan.Dependents("quay"))
}

func TestBuildDetectsCycles(t *testing.T) {
	testCases := []struct {
		desc     string
		services []api.ServiceSpec
		path     []string
	}{
		{
			desc:     "self dependency",
			services: []api.ServiceSpec{svc("a", "a")},
			path:     []string{"a", "a"},
		},
		{
			desc:     "two services",
			services: []api.ServiceSpec{svc("a", "b"), svc("b", "a")},
			path:     []string{"a", "b", "a"},
		},
		{
			desc:     "cycle behind a dependency",
			services: []api.ServiceSpec{svc("root", "a"), svc("a", "b"), svc("b", "c"), svc("c", "a")},
			path:     []string{"a", "b", "c", "a"},
		},
		{
			desc: "cycle through namespace sharing",
			services: []api.ServiceSpec{
				svc("a", "b"),
				{Name: "b", NetworkMode: api.SharedWith("a")},
			},
			path: []string{"a", "b", "a"},
		},
	}
	for _, tC := range testCases {
		t.Run(tC.desc, func(t *testing.T) {
			plan, err := Build(tC.services)
			require.ErrorIs(t, err, api.ErrCycleDetected)
			assert.Nil(t, plan)
			var cycleErr *CycleError
			require.ErrorAs(t, err, &cycleErr)
			assert.Equal(t, tC.path, cycleErr.Path)
		})
	}
}

func TestBuildDetectsDanglingReferences(t *testing.T) {
	_, err := Build([]api.ServiceSpec{svc("web", "db")})
	require.ErrorIs(t, err, api.ErrDanglingReference)
	assert.Contains(t, err.Error(), `"db"`)

	_, err = Build([]api.ServiceSpec{{Name: "web", NetworkMode: api.SharedWith("vpn")}})
	require.ErrorIs(t, err, api.ErrDanglingReference)
	assert.Contains(t, err.Error(), "network namespace")
}

func TestBuildRejectsInvalidServices(t *testing.T) {
	_, err := Build([]api.ServiceSpec{svc("a"), svc("a")})
	require.ErrorIs(t, err, api.ErrInvalidSpec)

	_, err = Build([]api.ServiceSpec{
		svc("owner"),
		{Name: "sharer", NetworkMode: api.SharedWith("owner"), Ports: []api.PortMapping{{Published: 80, Target: 80}}},
	})
	require.ErrorIs(t, err, api.ErrInvalidSpec)
}

func TestBuildDetectsPortConflicts(t *testing.T) {
	_, err := Build([]api.ServiceSpec{
		{Name: "a", Ports: []api.PortMapping{{Published: 5432, Target: 5432}}},
		{Name: "b", Ports: []api.PortMapping{{HostIP: "127.0.0.1", Published: 5432, Target: 5433}}},
	})
	require.ErrorIs(t, err, api.ErrPortConflict)
	assert.True(t, api.IsBuildError(err))

	_, err = Build([]api.ServiceSpec{
		{Name: "a", Ports: []api.PortMapping{{HostIP: "127.0.0.1", Published: 53, Target: 53}}},
		{Name: "b", Ports: []api.PortMapping{{HostIP: "127.0.0.2", Published: 53, Target: 53}}},
		{Name: "c", Ports: []api.PortMapping{{Published: 53, Target: 53, Protocol: "udp"}}},
		{Name: "d", Ports: []api.PortMapping{{Target: 80}, {Target: 80}}},
	})
	require.NoError(t, err)
}

func TestBuildRandomDAGs(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for round := 0; round < 200; round++ {
		n := 1 + r.Intn(20)
		services := make([]api.ServiceSpec, n)
		for i := range services {
			services[i] = svc(fmt.Sprintf("s%d", i))
		}
		// edges only point to lower indexes, then declaration order is shuffled
		for i := range services {
			for j := 0; j < i; j++ {
				if r.Intn(4) == 0 {
					services[i].DependsOn = append(services[i].DependsOn, services[j].Name)
				}
			}
			if i > 0 && len(services[i].Ports) == 0 && r.Intn(6) == 0 {
				services[i].NetworkMode = api.SharedWith(services[r.Intn(i)].Name)
			}
		}
		r.Shuffle(n, func(i, j int) { services[i], services[j] = services[j], services[i] })

		plan, err := Build(services)
		require.NoError(t, err)
		require.Equal(t, n, plan.Len())
		for _, s := range plan.Services() {
			for _, dep := range s.Dependencies() {
				assert.Less(t, plan.Position(dep), plan.Position(s.Name), "%s must start after %s", s.Name, dep)
			}
		}
	}
}

func TestBuildRandomCycles(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for round := 0; round < 100; round++ {
		n := 2 + r.Intn(10)
		services := make([]api.ServiceSpec, n)
		for i := range services {
			services[i] = svc(fmt.Sprintf("s%d", i))
		}
		// a ring guarantees a cycle whatever the extra edges
		for i := range services {
			services[i].DependsOn = append(services[i].DependsOn, services[(i+1)%n].Name)
			if r.Intn(2) == 0 {
				services[i].DependsOn = append(services[i].DependsOn, services[r.Intn(n)].Name)
			}
		}
		_, err := Build(services)
		require.ErrorIs(t, err, api.ErrCycleDetected)
	}
}

func TestInReverseDependencyOrder(t *testing.T) {
	plan, err := Build([]api.ServiceSpec{svc("test1", "test2"), svc("test2", "test3"), svc("test3")})
	require.NoError(t, err)

	var order []string
	err = InReverseDependencyOrder(context.Background(), plan, func(ctx context.Context, service string) error {
		order = append(order, service)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"test1", "test2", "test3"}, order)
}

func TestInReverseDependencyOrderWithManyDependents(t *testing.T) {
	services := []api.ServiceSpec{svc("shared")}
	for i := 1; i <= 100; i++ {
		services = append(services, svc(fmt.Sprintf("svc_%d", i), "shared"))
	}
	plan, err := Build(services)
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		last string
	)
	err = InReverseDependencyOrder(context.Background(), plan, func(ctx context.Context, service string) error {
		mu.Lock()
		defer mu.Unlock()
		seen[service]++
		last = service
		return nil
	}, WithMaxConcurrency(4))
	require.NoError(t, err)
	assert.Len(t, seen, 101)
	for name, count := range seen {
		assert.Equal(t, 1, count, "Service: %s", name)
	}
	assert.Equal(t, "shared", last)
}

func TestInReverseDependencyOrderStopsOnError(t *testing.T) {
	plan, err := Build([]api.ServiceSpec{svc("web", "db"), svc("db")})
	require.NoError(t, err)

	var visited []string
	err = InReverseDependencyOrder(context.Background(), plan, func(ctx context.Context, service string) error {
		visited = append(visited, service)
		return fmt.Errorf("boom")
	})
	require.EqualError(t, err, "boom")
	assert.Equal(t, []string{"web"}, visited)
}
