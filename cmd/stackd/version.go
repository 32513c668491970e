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
	"io"

	"github.com/spf13/cobra"

	"github.com/docker/stackd/cmd/formatter"
	"github.com/docker/stackd/internal"
)

type versionOptions struct {
	format string
	short  bool
}

func versionCommand(out io.Writer) *cobra.Command {
	opts := versionOptions{}
	cmd := &cobra.Command{
		Use:   "version [OPTIONS]",
		Short: "Show the stackd version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			runVersion(opts, out)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.format, "format", "", "Format the output. Values: [pretty | json]. (Default: pretty)")
	flags.BoolVar(&opts.short, "short", false, "Shows only stackd's version number.")
	return cmd
}

func runVersion(opts versionOptions, out io.Writer) {
	if opts.short {
		_, _ = fmt.Fprintln(out, internal.Version)
		return
	}
	if opts.format == formatter.JSON {
		_, _ = fmt.Fprintf(out, "{\"version\":%q}\n", internal.Version)
		return
	}
	_, _ = fmt.Fprintln(out, "stackd version", internal.Version)
}
