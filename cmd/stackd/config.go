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

	"github.com/spf13/cobra"

	"github.com/docker/stackd/cmd/formatter"
	"github.com/docker/stackd/pkg/api"
	"github.com/docker/stackd/pkg/graph"
)

type configOptions struct {
	*ProjectOptions
	format   string
	services bool
}

func configCommand(p *ProjectOptions, out io.Writer) *cobra.Command {
	opts := configOptions{ProjectOptions: p}
	cmd := &cobra.Command{
		Use:   "config [OPTIONS]",
		Short: "Validate the project and print it in canonical format",
		Args:  cobra.NoArgs,
		RunE: Adapt(func(ctx context.Context, _ []string) error {
			return runConfig(ctx, opts, out)
		}),
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.format, "format", formatter.YAML, "Format the output. Values: [yaml | json]")
	flags.BoolVar(&opts.services, "services", false, "Print the service names, in launch order")
	return cmd
}

type canonicalProject struct {
	Name     string            `json:"name" yaml:"name"`
	Services []api.ServiceSpec `json:"services" yaml:"services"`
	Volumes  []string          `json:"volumes,omitempty" yaml:"volumes,omitempty"`
}

func runConfig(ctx context.Context, opts configOptions, out io.Writer) error {
	project, err := opts.ToProject(ctx)
	if err != nil {
		return err
	}
	plan, err := graph.BuildProject(project)
	if err != nil {
		return err
	}
	if opts.services {
		for _, name := range plan.Names() {
			_, _ = fmt.Fprintln(out, name)
		}
		return nil
	}
	switch opts.format {
	case formatter.YAML, formatter.JSON:
	default:
		return fmt.Errorf("unsupported format %q", opts.format)
	}
	return formatter.Print(canonicalProject{
		Name:     project.Name,
		Services: project.Services,
		Volumes:  project.Volumes,
	}, opts.format, out, nil)
}
