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

package stackd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/docker/stackd/pkg/api"
)

const stack = `
services:
  app:
    image: example/app
    depends_on: [db]
  db:
    image: postgres
  proxy:
    image: nginx
    network_mode: service:app
`

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := RootCommand(&out, &errOut)
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&errOut)
	err := root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func writeStack(t *testing.T, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "compose.yaml")
	assert.NilError(t, os.WriteFile(file, []byte(content), 0o600))
	return file
}

func TestConfigPrintsLaunchOrder(t *testing.T) {
	file := writeStack(t, stack)
	out, _, err := execute(t, "-p", "demo", "-f", file, "config", "--services")
	assert.NilError(t, err)
	assert.Equal(t, out, "db\napp\nproxy\n")
}

func TestConfigCanonicalFormat(t *testing.T) {
	file := writeStack(t, stack)
	out, _, err := execute(t, "-p", "demo", "-f", file, "config")
	assert.NilError(t, err)
	assert.Check(t, is.Contains(out, "name: demo"))
	assert.Check(t, is.Contains(out, "shares_with: app"))
}

func TestConfigBuildErrorExitCode(t *testing.T) {
	file := writeStack(t, `
services:
  a:
    image: alpine
    depends_on: [b]
  b:
    image: alpine
    depends_on: [a]
`)
	_, _, err := execute(t, "-p", "demo", "-f", file, "config")
	assert.ErrorIs(t, err, api.ErrCycleDetected)
	assert.Equal(t, ExitCode(err), ExitBuildError)
}

func TestProjectFileFromEnvironment(t *testing.T) {
	file := writeStack(t, stack)
	t.Setenv(FileEnv, file)
	t.Setenv(ProjectNameEnv, "fromenv")
	out, _, err := execute(t, "config", "--format", "json")
	assert.NilError(t, err)
	assert.Check(t, is.Contains(out, `"name": "fromenv"`))
}

func TestDryRunUp(t *testing.T) {
	file := writeStack(t, stack)
	stateDir := t.TempDir()

	_, errOut, err := execute(t, "-p", "demo", "-f", file, "--state-dir", stateDir, "--dry-run", "--ansi", "never", "up")
	assert.NilError(t, err)
	assert.Check(t, is.Contains(errOut, "dry run: all services are ready"))

	out, _, err := execute(t, "-p", "demo", "-f", file, "--state-dir", stateDir, "ps", "--format", "json")
	assert.NilError(t, err)
	assert.Check(t, is.Contains(out, fmt.Sprintf(`"state": %q`, api.RunStopped)))
	assert.Check(t, is.Contains(out, `"service": "proxy"`))
}

func TestPsUnknownProject(t *testing.T) {
	_, _, err := execute(t, "-p", "nope", "--state-dir", t.TempDir(), "ps")
	assert.ErrorIs(t, err, api.ErrNotFound)
}

func TestVersion(t *testing.T) {
	out, _, err := execute(t, "version", "--format", "json")
	assert.NilError(t, err)
	assert.Equal(t, out, "{\"version\":\"dev\"}\n")
}

func TestExitCodes(t *testing.T) {
	assert.Equal(t, ExitCode(nil), 0)
	assert.Equal(t, ExitCode(toStatusError(fmt.Errorf("boom"))), ExitFailure)
	assert.Equal(t, ExitCode(toStatusError(api.ErrCanceled)), ExitCanceled)
	assert.Equal(t, ExitCode(toStatusError(fmt.Errorf("x: %w", api.ErrPortConflict))), ExitBuildError)
	assert.Equal(t, ExitCode(toStatusError(&api.NodeError{Service: "db", Err: api.ErrProcessCrashed})), ExitNodeFailure)
}
