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
	"time"

	"github.com/spf13/cobra"

	"github.com/docker/stackd/cmd/formatter"
	"github.com/docker/stackd/pkg/api"
)

type psOptions struct {
	*ProjectOptions
	format   string
	services bool
	watch    bool
}

func psCommand(p *ProjectOptions, backend *backendOptions, out io.Writer) *cobra.Command {
	opts := psOptions{ProjectOptions: p}
	cmd := &cobra.Command{
		Use:   "ps [OPTIONS]",
		Short: "Show the state of each service of a project",
		Args:  cobra.NoArgs,
		RunE: Adapt(func(ctx context.Context, _ []string) error {
			return runPs(ctx, backend, opts, out)
		}),
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.format, "format", formatter.TABLE, "Format the output. Values: [table | json]")
	flags.BoolVar(&opts.services, "services", false, "Display services")
	flags.BoolVarP(&opts.watch, "watch", "w", false, "Print the state again each time it changes")
	return cmd
}

func runPs(ctx context.Context, backend *backendOptions, opts psOptions, out io.Writer) error {
	_, name, err := opts.projectOrName(ctx)
	if err != nil {
		return err
	}
	service, closeFn, err := backend.newService()
	if err != nil {
		return err
	}
	defer closeFn()

	if !opts.watch {
		status, err := service.Ps(ctx, name)
		if err != nil {
			if api.IsNotFoundError(err) {
				return fmt.Errorf("project %s has never run: %w", name, err)
			}
			return err
		}
		return printStatus(status, opts, out)
	}

	updates, err := service.Watch(ctx, name)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case status, ok := <-updates:
			if !ok {
				return nil
			}
			if err := printStatus(status, opts, out); err != nil {
				return err
			}
		}
	}
}

func printStatus(status *api.RunStatus, opts psOptions, out io.Writer) error {
	if opts.services {
		for _, n := range status.Nodes {
			_, _ = fmt.Fprintln(out, n.Service)
		}
		return nil
	}
	if opts.format == formatter.TABLE || opts.format == formatter.PRETTY || opts.format == "" {
		_, _ = fmt.Fprintf(out, "%s (run %s): %s\n", status.Project, status.RunID, status.State)
	}
	return formatter.Print(status, opts.format, out, formatter.StatusWriter(status, time.Now()), formatter.StatusHeaders...)
}
