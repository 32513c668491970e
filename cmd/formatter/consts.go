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

const (
	// JSON Print in JSON format
	JSON = "json"
	// TABLE Print output in table format with column headers (default)
	TABLE = "table"
	// PRETTY is the same as table format
	PRETTY = "pretty"
	// YAML Print in YAML format
	YAML = "yaml"
)
