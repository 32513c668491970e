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

package utils

import (
	"bytes"
	"io"
	"strings"
)

// GetWriter creates an io.WriteCloser that will forward each complete line written to it to consumer
func GetWriter(consumer func(string)) io.WriteCloser {
	return &splitWriter{
		consumer: consumer,
	}
}

type splitWriter struct {
	buffer   bytes.Buffer
	consumer func(string)
}

// Write implements io.Writer. joins all input, splits on the separator and yields each chunk
func (s *splitWriter) Write(b []byte) (int, error) {
	n, err := s.buffer.Write(b)
	if err != nil {
		return n, err
	}
	for {
		b = s.buffer.Bytes()
		index := bytes.Index(b, []byte{'\n'})
		if index < 0 {
			break
		}
		line := s.buffer.Next(index + 1)
		s.consumer(strings.TrimSuffix(string(line[:len(line)-1]), "\r"))
	}
	return n, nil
}

// Close flushes a trailing incomplete line
func (s *splitWriter) Close() error {
	if s.buffer.Len() > 0 {
		s.consumer(s.buffer.String())
		s.buffer.Reset()
	}
	return nil
}
