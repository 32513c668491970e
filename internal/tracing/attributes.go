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

package tracing

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/docker/stackd/pkg/api"
)

// SpanOptions is a small helper type to make it easy to share the options helpers between
// downstream functions that accept slices of trace.SpanStartOption and trace.EventOption.
type SpanOptions []trace.SpanStartEventOption

func (s SpanOptions) SpanStartOptions() []trace.SpanStartOption {
	out := make([]trace.SpanStartOption, len(s))
	for i := range s {
		out[i] = s[i]
	}
	return out
}

// RunOptions returns common attributes for a run of project.
func RunOptions(project *api.Project, runID string) SpanOptions {
	if project == nil {
		return nil
	}
	return SpanOptions{
		trace.WithAttributes(
			attribute.String("project.name", project.Name),
			attribute.String("project.dir", project.WorkingDir),
			attribute.StringSlice("project.services", project.ServiceNames()),
			attribute.String("run.id", runID),
		),
	}
}

// NodeOptions returns common attributes for the start of a service.
func NodeOptions(spec api.ServiceSpec) SpanOptions {
	attrs := []attribute.KeyValue{
		attribute.String("service.name", spec.Name),
		attribute.String("service.image", spec.Image),
		attribute.StringSlice("service.dependencies", spec.Dependencies()),
		attribute.Bool("service.healthcheck", spec.HealthCheck != nil),
	}
	if spec.NetworkMode.IsShared() {
		attrs = append(attrs, attribute.String("service.network_mode", spec.NetworkMode.String()))
	}
	if len(spec.Command) > 0 {
		attrs = append(attrs, attribute.String("service.command", strings.Join(spec.Command, " ")))
	}
	return SpanOptions{trace.WithAttributes(attrs...)}
}

// SpanWrap runs fn within a span named name, recording its error.
func SpanWrap(ctx context.Context, name string, options SpanOptions, fn func(context.Context) error) error {
	ctx, span := Tracer.Start(ctx, name, options.SpanStartOptions()...)
	defer span.End()
	if err := fn(ctx); err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// Event records a service state transition on the span of ctx
func Event(ctx context.Context, service string, state api.NodeState) {
	trace.SpanFromContext(ctx).AddEvent(string(state), trace.WithAttributes(
		attribute.String("service.name", service),
	))
}
