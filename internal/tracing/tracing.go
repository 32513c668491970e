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
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/docker/stackd/internal"
)

func init() {
	// do not log tracing errors to stdio
	otel.SetErrorHandler(skipErrors{})
}

var Tracer = otel.Tracer("stackd")

// ShutdownFunc flushes and stops an OTEL exporter.
type ShutdownFunc func(ctx context.Context) error

// envMap is a convenience type for OS environment variables.
type envMap map[string]string

// Initialize configures tracing for the application.
//
// Traces are exported to the OTLP/gRPC endpoint set by the standard OTEL_
// environment variables. When none is set, tracing is a no-op and the returned
// ShutdownFunc is nil.
func Initialize(ctx context.Context) (ShutdownFunc, error) {
	// set global propagator to tracecontext (the default is no-op).
	otel.SetTextMapPropagator(propagation.TraceContext{})

	client := userTraceClient(readOTelEnv())
	if client == nil {
		return nil, nil
	}

	res, err := createResource(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	exporter, err := otlptrace.New(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("creating traces exporter: %w", err)
	}
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tracerProvider)
	logrus.Debug("exporting traces over OTLP/gRPC")
	return tracerProvider.Shutdown, nil
}

// createResource creates the resource.Resource for stackd with common metadata attached.
func createResource(ctx context.Context, opts ...resource.Option) (*resource.Resource, error) {
	opts = append(opts, resource.WithAttributes(
		semconv.ServiceName("stackd"),
		semconv.ServiceVersion(internal.Version),
	))
	return resource.New(ctx, opts...)
}

// readOTelEnv returns a map of all environment variables that start with `OTEL_`.
func readOTelEnv() envMap {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if strings.HasPrefix(k, "OTEL_") {
			env[k] = v
		}
	}
	return env
}

// userTraceClient creates a gRPC OTLP client based on OS environment
// variables.
//
// https://opentelemetry.io/docs/concepts/sdk-configuration/otlp-exporter-configuration/
func userTraceClient(otelEnv envMap) otlptrace.Client {
	for k := range otelEnv {
		if strings.HasSuffix(k, "ENDPOINT") {
			return otlptracegrpc.NewClient()
		}
	}
	return nil
}

type skipErrors struct{}

func (skipErrors) Handle(err error) {
	logrus.Debugf("tracing: %v", err)
}
