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
	"sync"

	"golang.org/x/sync/errgroup"
)

type graphTraversal struct {
	mu   sync.Mutex
	seen map[string]struct{}

	visitorFn      func(context.Context, string) error
	maxConcurrency int
}

// TraversalOption customizes a graph traversal
type TraversalOption func(*graphTraversal)

// WithMaxConcurrency bounds the number of services visited at once
func WithMaxConcurrency(n int) TraversalOption {
	return func(t *graphTraversal) {
		t.maxConcurrency = n
	}
}

// InReverseDependencyOrder applies fn to the services of the plan so that a
// service is only visited after all services depending on it. Independent
// branches are visited concurrently.
func InReverseDependencyOrder(ctx context.Context, plan *LaunchPlan, fn func(context.Context, string) error, options ...TraversalOption) error {
	g, err := New(plan.services, ServiceStarted)
	if err != nil {
		return err
	}
	t := &graphTraversal{visitorFn: fn}
	for _, option := range options {
		option(t)
	}
	return t.visit(ctx, g)
}

func (t *graphTraversal) visit(ctx context.Context, g *Graph) error {
	expect := len(g.Vertices)
	if expect == 0 {
		return nil
	}

	eg, ctx := errgroup.WithContext(ctx)
	if t.maxConcurrency > 0 {
		eg.SetLimit(t.maxConcurrency + 1)
	}
	nodeCh := make(chan *Vertex, expect)
	defer close(nodeCh)
	// nodeCh need to allow n=expect writers while reader goroutine could have returned after ctx.Done
	eg.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case node := <-nodeCh:
				expect--
				if expect == 0 {
					return nil
				}
				t.run(ctx, g, eg, node.GetChildren(), nodeCh)
			}
		}
	})

	t.run(ctx, g, eg, g.Roots(), nodeCh)

	return eg.Wait()
}

func (t *graphTraversal) run(ctx context.Context, g *Graph, eg *errgroup.Group, nodes []*Vertex, nodeCh chan *Vertex) {
	for _, node := range nodes {
		// a dependency is only stopped once every dependent is
		if len(g.FilterParents(node.Key, ServiceStarted)) != 0 {
			continue
		}
		if !t.consume(node.Key) {
			continue
		}

		eg.Go(func() error {
			err := t.visitorFn(ctx, node.Service)
			if err == nil {
				g.UpdateStatus(node.Key, ServiceStopped)
			}
			nodeCh <- node
			return err
		})
	}
}

func (t *graphTraversal) consume(nodeKey string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.seen == nil {
		t.seen = make(map[string]struct{})
	}
	if _, ok := t.seen[nodeKey]; ok {
		return false
	}
	t.seen[nodeKey] = struct{}{}
	return true
}
