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

package formatter

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/docker/stackd/pkg/api"
)

func TestPrint(t *testing.T) {
	type row struct {
		Name string `json:"name" yaml:"name"`
	}
	rows := []row{{Name: "a"}, {Name: "b"}}
	printer := func(w io.Writer) {
		for _, r := range rows {
			_, _ = w.Write([]byte(r.Name + "\n"))
		}
	}

	var out bytes.Buffer
	assert.NilError(t, Print(rows, JSON, &out, printer))
	assert.Equal(t, out.String(), "[\n    {\n        \"name\": \"a\"\n    },\n    {\n        \"name\": \"b\"\n    }\n]\n")

	out.Reset()
	assert.NilError(t, Print(rows, YAML, &out, printer))
	assert.Equal(t, out.String(), "- name: a\n- name: b\n")

	out.Reset()
	assert.NilError(t, Print(rows, TABLE, &out, printer, "NAME"))
	assert.Equal(t, out.String(), "NAME\na\nb\n")

	assert.ErrorContains(t, Print(rows, "xml", &out, printer), `format value "xml" could not be parsed`)
}

func TestStatusWriter(t *testing.T) {
	now := time.Now()
	status := &api.RunStatus{Nodes: []api.NodeStatus{
		{Service: "db", State: api.NodeReady, Health: api.HealthHealthy, StartedAt: now.Add(-2 * time.Minute), Ports: []string{"0.0.0.0:5432->5432/tcp"}},
		{Service: "job", State: api.NodeCrashed, ExitCode: 2, Restarts: 5},
	}}
	var out bytes.Buffer
	assert.NilError(t, PrintPrettySection(&out, StatusWriter(status, now), StatusHeaders...))
	assert.Check(t, is.Contains(out.String(), "db"))
	assert.Check(t, is.Contains(out.String(), "2 minutes"))
	assert.Check(t, is.Contains(out.String(), "0.0.0.0:5432->5432/tcp"))
	assert.Check(t, is.Contains(out.String(), "Crashed (2)"))
}

func TestLogConsumer(t *testing.T) {
	var stdout, stderr bytes.Buffer
	consumer := NewLogConsumer(context.Background(), &stdout, &stderr, false, true)
	consumer.Register("db")
	consumer.Register("web")
	consumer.Log("db", "ready\naccepting connections")
	consumer.Err("web", "oops")

	assert.Equal(t, stdout.String(), "db   | ready\ndb   | accepting connections\n")
	assert.Equal(t, stderr.String(), "web  | oops\n")
}

func TestLogConsumerWithoutPrefix(t *testing.T) {
	var stdout bytes.Buffer
	consumer := NewLogConsumer(context.Background(), &stdout, &stdout, false, false)
	consumer.Log("db", "ready")
	assert.Equal(t, stdout.String(), "ready\n")
}

func TestLogConsumerStopsWithContext(t *testing.T) {
	var stdout bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())
	consumer := NewLogConsumer(ctx, &stdout, &stdout, false, true)
	cancel()
	consumer.Log("db", "ready")
	assert.Equal(t, stdout.String(), "")
}
