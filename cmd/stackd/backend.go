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
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/docker/stackd/pkg/dryrun"
	"github.com/docker/stackd/pkg/orchestrator"
	"github.com/docker/stackd/pkg/runtime/docker"
	"github.com/docker/stackd/pkg/runtime/local"
	"github.com/docker/stackd/pkg/store"
	"github.com/docker/stackd/pkg/supervisor"
)

const (
	// RuntimeDocker runs services as containers
	RuntimeDocker = "docker"
	// RuntimeLocal runs services as local processes
	RuntimeLocal = "local"
)

// backendOptions select the runtime and where state is kept
type backendOptions struct {
	runtime     string
	stateDir    string
	etcd        string
	metricsAddr string
	parallel    int
	dryRun      bool
}

func (b *backendOptions) addFlags(f *pflag.FlagSet) {
	f.StringVar(&b.runtime, "runtime", RuntimeDocker, `Runtime running services ("docker"|"local")`)
	f.StringVar(&b.stateDir, "state-dir", "", "Directory for status files, pid files and volume locks")
	f.StringVar(&b.etcd, "state-etcd", "", "Comma separated etcd endpoints to publish status to")
	f.StringVar(&b.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during up")
	f.IntVar(&b.parallel, "parallel", -1, "Control max parallelism, -1 for unlimited")
	f.BoolVar(&b.dryRun, "dry-run", false, "Execute command in dry run mode")
}

// resolve applies the environment when flags are not set
func (b *backendOptions) resolve(cmd *cobra.Command) error {
	flags := cmd.Flags()
	for flag, env := range map[string]string{
		"runtime":      RuntimeEnv,
		"state-dir":    StateDirEnv,
		"state-etcd":   StateEtcdEnv,
		"metrics-addr": MetricsAddrEnv,
	} {
		if v, ok := os.LookupEnv(env); ok && !flags.Changed(flag) {
			if err := flags.Set(flag, v); err != nil {
				return fmt.Errorf("%s: %w", env, err)
			}
		}
	}
	if v, ok := os.LookupEnv(ParallelLimitEnv); ok && !flags.Changed("parallel") {
		i, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s must be an integer (found: %q)", ParallelLimitEnv, v)
		}
		b.parallel = i
	}
	if b.stateDir == "" {
		dir, err := os.UserCacheDir()
		if err != nil {
			dir = os.TempDir()
		}
		b.stateDir = filepath.Join(dir, "stackd")
	}
	return nil
}

func (b *backendOptions) maxConcurrency() int {
	if b.parallel > 0 {
		return b.parallel
	}
	return 0
}

func (b *backendOptions) newRuntime() (supervisor.Runtime, error) {
	if b.dryRun {
		return dryrun.NewRuntime(), nil
	}
	switch b.runtime {
	case RuntimeDocker, "":
		return docker.NewRuntime()
	case RuntimeLocal:
		return local.NewRuntime(filepath.Join(b.stateDir, "local")), nil
	default:
		return nil, fmt.Errorf("unsupported runtime %q", b.runtime)
	}
}

func (b *backendOptions) newStore() (store.Store, error) {
	if b.etcd != "" {
		return store.NewEtcdStore(strings.Split(b.etcd, ","))
	}
	return store.NewFileStore(filepath.Join(b.stateDir, "status"))
}

// newService creates the backend. The returned func releases the state store.
func (b *backendOptions) newService() (*orchestrator.Service, func(), error) {
	rt, err := b.newRuntime()
	if err != nil {
		return nil, nil, err
	}
	s, err := b.newStore()
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := s.Close(); err != nil {
			logrus.Debugf("closing state store: %v", err)
		}
	}
	return orchestrator.NewService(rt, s, b.stateDir), closeFn, nil
}
