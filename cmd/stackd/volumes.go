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
	"strings"

	"github.com/moby/term"
	"github.com/spf13/cobra"

	"github.com/docker/stackd/cmd/formatter"
	"github.com/docker/stackd/pkg/prompt"
)

type volumesOptions struct {
	*ProjectOptions
	quiet  bool
	format string
}

type volumeRemoveOptions struct {
	*ProjectOptions
	force bool
}

func volumeCommand(p *ProjectOptions, backend *backendOptions, out io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "volume",
		Short: "Manage the named volumes of a project",
	}
	cmd.AddCommand(
		volumeListCommand(p, backend, out),
		volumeRemoveCommand(p, backend, out),
	)
	return cmd
}

func volumeListCommand(p *ProjectOptions, backend *backendOptions, out io.Writer) *cobra.Command {
	opts := volumesOptions{ProjectOptions: p}
	cmd := &cobra.Command{
		Use:     "ls [OPTIONS]",
		Aliases: []string{"list"},
		Short:   "List volumes",
		Args:    cobra.NoArgs,
		RunE: Adapt(func(ctx context.Context, _ []string) error {
			return runVolumeList(ctx, backend, opts, out)
		}),
	}
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Only display volume names")
	cmd.Flags().StringVar(&opts.format, "format", formatter.TABLE, "Format the output. Values: [table | json]")
	return cmd
}

func runVolumeList(ctx context.Context, backend *backendOptions, opts volumesOptions, out io.Writer) error {
	_, name, err := opts.projectOrName(ctx)
	if err != nil {
		return err
	}
	service, closeFn, err := backend.newService()
	if err != nil {
		return err
	}
	defer closeFn()

	volumes, err := service.Volumes(ctx, name)
	if err != nil {
		return err
	}
	if opts.quiet {
		for _, v := range volumes {
			_, _ = fmt.Fprintln(out, v.Name)
		}
		return nil
	}
	return formatter.Print(volumes, opts.format, out, func(w io.Writer) {
		for _, v := range volumes {
			inUse := v.InUseBy
			if inUse == "" {
				inUse = "-"
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", v.Name, v.Driver, inUse)
		}
	}, "NAME", "DRIVER", "IN USE BY")
}

func volumeRemoveCommand(p *ProjectOptions, backend *backendOptions, out io.Writer) *cobra.Command {
	opts := volumeRemoveOptions{ProjectOptions: p}
	cmd := &cobra.Command{
		Use:     "rm [OPTIONS] VOLUME [VOLUME...]",
		Aliases: []string{"remove"},
		Short:   "Remove volumes and the data they hold",
		Args:    cobra.MinimumNArgs(1),
		RunE: Adapt(func(ctx context.Context, args []string) error {
			var ui prompt.UI = prompt.User{}
			if opts.force {
				ui = prompt.Always{}
			} else if !term.IsTerminal(os.Stdin.Fd()) {
				return fmt.Errorf("refusing to remove volumes without confirmation, use --force")
			}
			return runVolumeRemove(ctx, backend, opts, ui, args, out)
		}),
	}
	cmd.Flags().BoolVar(&opts.force, "force", false, "Don't ask to confirm removal")
	return cmd
}

func runVolumeRemove(ctx context.Context, backend *backendOptions, opts volumeRemoveOptions, ui prompt.UI, names []string, out io.Writer) error {
	_, name, err := opts.projectOrName(ctx)
	if err != nil {
		return err
	}
	ok, err := ui.Confirm(fmt.Sprintf("Remove volumes %s of project %s? All their data will be lost.", strings.Join(names, ", "), name), false)
	if err != nil {
		return err
	}
	if !ok {
		_, _ = fmt.Fprintln(out, "nothing removed")
		return nil
	}

	service, closeFn, err := backend.newService()
	if err != nil {
		return err
	}
	defer closeFn()
	return service.RemoveVolumes(ctx, name, names)
}
