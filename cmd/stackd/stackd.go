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
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/docker/stackd/cmd/cmdtrace"
	"github.com/docker/stackd/cmd/formatter"
	"github.com/docker/stackd/pkg/api"
	"github.com/docker/stackd/pkg/loader"
	ui "github.com/docker/stackd/pkg/progress"
)

const (
	// ProjectNameEnv define the project name to be used, instead of guessing from parent directory
	ProjectNameEnv = "STACKD_PROJECT_NAME"
	// FileEnv lists the compose files to load when none is set by flag
	FileEnv = "STACKD_FILE"
	// ParallelLimitEnv set the limit of services starting at once
	ParallelLimitEnv = "STACKD_PARALLEL_LIMIT"
	// DebugEnv enables debug logs
	DebugEnv = "STACKD_DEBUG"
	// RuntimeEnv selects the runtime running services
	RuntimeEnv = "STACKD_RUNTIME"
	// StateDirEnv is the directory status files, pid files and volume locks are stored in
	StateDirEnv = "STACKD_STATE_DIR"
	// StateEtcdEnv lists etcd endpoints status is published to
	StateEtcdEnv = "STACKD_STATE_ETCD"
	// MetricsAddrEnv is the address prometheus metrics are served on during up
	MetricsAddrEnv = "STACKD_METRICS_ADDR"
)

// Command defines a stackd CLI command as a func with args
type Command func(context.Context, []string) error

// Adapt a Command func to cobra library
func Adapt(fn Command) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()
		return toStatusError(fn(ctx, args))
	}
}

// ProjectOptions locate and name the project
type ProjectOptions struct {
	ProjectName string
	ConfigPaths []string
	ProjectDir  string
	EnvFiles    []string
}

func (o *ProjectOptions) addProjectFlags(f *pflag.FlagSet) {
	f.StringVarP(&o.ProjectName, "project-name", "p", "", "Project name")
	f.StringArrayVarP(&o.ConfigPaths, "file", "f", []string{}, "Compose configuration files")
	f.StringArrayVar(&o.EnvFiles, "env-file", nil, "Specify an alternate environment file")
	f.StringVar(&o.ProjectDir, "project-directory", "", "Specify an alternate working directory\n(default: the path of the, first specified, Compose file)")
}

func (o *ProjectOptions) loaderOptions() loader.Options {
	opts := loader.Options{
		Name:        o.ProjectName,
		ConfigPaths: o.ConfigPaths,
		WorkingDir:  o.ProjectDir,
		EnvFiles:    o.EnvFiles,
	}
	if opts.Name == "" {
		opts.Name = os.Getenv(ProjectNameEnv)
	}
	if len(opts.ConfigPaths) == 0 {
		if v, ok := os.LookupEnv(FileEnv); ok && v != "" {
			opts.ConfigPaths = filepath.SplitList(v)
		}
	}
	return opts
}

// ToProject loads the project definition
func (o *ProjectOptions) ToProject(ctx context.Context) (*api.Project, error) {
	project, err := loader.Load(ctx, o.loaderOptions())
	if err != nil {
		return nil, err
	}
	if project.Name == "" {
		return nil, errors.New("project name can't be empty. Use `--project-name` to set a valid name")
	}
	return project, nil
}

// projectOrName loads the project when possible, else falls back to the project name
func (o *ProjectOptions) projectOrName(ctx context.Context) (*api.Project, string, error) {
	project, err := o.ToProject(ctx)
	if err == nil {
		return project, project.Name, nil
	}
	name := o.loaderOptions().Name
	if name != "" {
		logrus.Debugf("ignoring project definition: %v", err)
		return nil, name, nil
	}
	return nil, "", err
}

// RootCommand returns the stackd command with its child commands
func RootCommand(out, errOut io.Writer) *cobra.Command {
	opts := ProjectOptions{}
	backend := &backendOptions{}
	var (
		ansi     string
		debug    bool
		progress string
	)
	c := &cobra.Command{
		Use:              "stackd",
		Short:            "Service dependency orchestrator",
		Long:             "Start a stack of services in dependency order, waiting for each to be ready before starting its dependents.",
		SilenceUsage:     true,
		SilenceErrors:    true,
		TraverseChildren: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			_ = cmd.Help()
			return StatusError{
				StatusCode: 1,
				Status:     fmt.Sprintf("unknown command: %q", args[0]),
			}
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if v, ok := os.LookupEnv(DebugEnv); ok && !cmd.Flags().Changed("debug") {
				debug, _ = strconv.ParseBool(v)
			}
			if debug {
				logrus.SetLevel(logrus.DebugLevel)
			}

			formatter.SetANSIMode(out, ansi)
			if noColor, ok := os.LookupEnv("NO_COLOR"); ok && noColor != "" {
				ui.NoColor()
				formatter.SetANSIMode(out, formatter.Never)
			}
			switch ansi {
			case formatter.Never:
				ui.Mode = ui.ModePlain
				ui.NoColor()
			case formatter.Always:
				ui.Mode = ui.ModeTTY
			}

			switch progress {
			case ui.ModeAuto:
			case ui.ModeTTY:
				if ansi == formatter.Never {
					return fmt.Errorf("can't use --progress tty while ANSI support is disabled")
				}
				ui.Mode = ui.ModeTTY
			case ui.ModePlain:
				ui.Mode = ui.ModePlain
			case ui.ModeJSON:
				ui.Mode = ui.ModeJSON
			case ui.ModeQuiet, "none":
				ui.Mode = ui.ModeQuiet
			default:
				return fmt.Errorf("unsupported --progress value %q", progress)
			}

			for i, file := range opts.EnvFiles {
				if !filepath.IsAbs(file) {
					abs, err := filepath.Abs(file)
					if err != nil {
						return err
					}
					opts.EnvFiles[i] = abs
				}
			}
			if err := backend.resolve(cmd); err != nil {
				return err
			}
			return cmdtrace.Setup(cmd, args)
		},
	}

	c.AddCommand(
		upCommand(&opts, backend, out, errOut),
		downCommand(&opts, backend, errOut),
		psCommand(&opts, backend, out),
		configCommand(&opts, out),
		volumeCommand(&opts, backend, out),
		versionCommand(out),
	)

	c.Flags().SetInterspersed(false)
	opts.addProjectFlags(c.PersistentFlags())
	backend.addFlags(c.PersistentFlags())
	c.PersistentFlags().StringVar(&progress, "progress", ui.ModeAuto, fmt.Sprintf(`Set type of progress output (%s)`,
		strings.Join([]string{ui.ModeAuto, ui.ModeTTY, ui.ModePlain, ui.ModeJSON, ui.ModeQuiet}, ", ")))
	c.PersistentFlags().StringVar(&ansi, "ansi", formatter.Auto, `Control when to print ANSI control characters ("never"|"always"|"auto")`)
	c.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug output in the logs")
	return c
}
