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
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/docker/stackd/pkg/api"
)

func TestSpanWrapRecordsError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	saved := Tracer
	Tracer = provider.Tracer("test")
	defer func() { Tracer = saved }()

	spec := api.ServiceSpec{Name: "web", Image: "nginx", DependsOn: []string{"db"}}
	failure := errors.New("boom")
	err := SpanWrap(t.Context(), "node/start", NodeOptions(spec), func(context.Context) error {
		return failure
	})
	require.ErrorIs(t, err, failure)
	require.NoError(t, SpanWrap(t.Context(), "node/start", NodeOptions(spec), func(context.Context) error {
		return nil
	}))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	require.Equal(t, codes.Error, spans[0].Status().Code)
	require.Equal(t, codes.Ok, spans[1].Status().Code)
	require.Contains(t, spans[0].Attributes(), attribute.String("service.name", "web"))
	require.Contains(t, spans[0].Attributes(), attribute.StringSlice("service.dependencies", []string{"db"}))
}

func TestRunOptions(t *testing.T) {
	require.Nil(t, RunOptions(nil, "r1"))
	opts := RunOptions(&api.Project{Name: "demo", Services: []api.ServiceSpec{{Name: "a"}}}, "r1")
	require.Len(t, opts.SpanStartOptions(), 1)
}

func TestUserTraceClient(t *testing.T) {
	require.Nil(t, userTraceClient(envMap{"OTEL_SERVICE_NAME": "x"}))
	require.NotNil(t, userTraceClient(envMap{"OTEL_EXPORTER_OTLP_ENDPOINT": "localhost:4317"}))
}
