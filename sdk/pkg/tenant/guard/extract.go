package guard

import (
	"regexp"
	"strings"
)

const quote = "`\"\\["
const unquote = "`\"\\]"

// tables referenced after FROM, JOIN, UPDATE, INTO (INSERT INTO / DELETE FROM
// are covered by INTO / FROM), optionally schema qualified and quoted.
var tablePattern = regexp.MustCompile(
	`(?i)\b(?:from|join|update|into)\s+` +
		`(?:[` + quote + `]?\w+[` + unquote + `]?\s*\.\s*)?` +
		`[` + quote + `]?(\w+)[` + unquote + `]?`)

var (
	wherePattern  = regexp.MustCompile(`(?i)\bwhere\b`)
	insertPattern = regexp.MustCompile(`(?i)^\s*(?:insert|replace)\b`)
)

// words that can follow the keywords above without naming a table
var notTables = map[string]struct{}{
	"set":     {},
	"select":  {},
	"where":   {},
	"values":  {},
	"lateral": {},
	"only":    {},
}

// ExtractTables returns the lower-cased table names a statement references,
// in order of first appearance. Best effort, lexical only.
func ExtractTables(query string) []string {
	matches := tablePattern.FindAllStringSubmatch(query, -1)
	seen := make(map[string]struct{}, len(matches))
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		name := strings.ToLower(m[1])
		if _, skip := notTables[name]; skip {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		tables = append(tables, name)
	}
	return tables
}
