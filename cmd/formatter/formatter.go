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
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Print prints formatted lists in different formats
func Print(toJSON interface{}, format string, outWriter io.Writer, writerFn func(w io.Writer), headers ...string) error {
	switch strings.ToLower(format) {
	case TABLE, PRETTY, "":
		return PrintPrettySection(outWriter, writerFn, headers...)
	case JSON:
		outJSON, err := ToStandardJSON(toJSON)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(outWriter, outJSON)
	case YAML:
		out, err := yaml.Marshal(toJSON)
		if err != nil {
			return err
		}
		_, _ = outWriter.Write(out)
	default:
		return errors.Errorf("format value %q could not be parsed", format)
	}
	return nil
}

// PrintPrettySection prints a tabbed section on the writer parameter
func PrintPrettySection(out io.Writer, printer func(writer io.Writer), headers ...string) error {
	w := tabwriter.NewWriter(out, 20, 1, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, strings.Join(headers, "\t"))
	printer(w)
	return w.Flush()
}

// ToStandardJSON return a string with the JSON representation of the interface{}
func ToStandardJSON(i interface{}) (string, error) {
	b, err := json.MarshalIndent(i, "", "    ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
