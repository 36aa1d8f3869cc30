// Copyright 2025 Schwifty Data

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package warehouse

import (
	"strings"
)

// SplitStatements splits a SQL script into individual statements on
// top-level semicolons. Semicolons inside single-quoted strings are ignored,
// "--" comment lines and blank lines are stripped, and empty statements are
// dropped. The statements are forwarded verbatim otherwise.
func SplitStatements(script string) []string {
	var raw []string
	var sb strings.Builder
	inString := false
	for i := 0; i < len(script); i++ {
		ch := script[i]
		switch {
		case ch == '\'':
			inString = !inString
			sb.WriteByte(ch)
		case ch == ';' && !inString:
			raw = append(raw, sb.String())
			sb.Reset()
		default:
			sb.WriteByte(ch)
		}
	}
	raw = append(raw, sb.String())

	statements := []string{}
	for _, stmt := range raw {
		var lines []string
		for _, line := range strings.Split(stmt, "\n") {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" || strings.HasPrefix(trimmed, "--") {
				continue
			}
			lines = append(lines, line)
		}
		cleaned := strings.TrimSpace(strings.Join(lines, "\n"))
		if cleaned != "" {
			statements = append(statements, cleaned)
		}
	}
	return statements
}
