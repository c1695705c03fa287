package resolver

import (
	"regexp"
	"strings"
)

// RulesPath is the repository file holding keyword routing rules.
const RulesPath = ".meta/target_file_rules.txt"

// Rule routes requests mentioning any of Keywords to FilePath.
type Rule struct {
	Keywords []string
	FilePath string
}

var ruleLine = regexp.MustCompile(`^(.*?):\s*(.*)$`)

// ParseRules parses "kw1, kw2: path/to/file.md" lines. Blank lines and lines
// starting with '#' are skipped, as are lines without a path.
func ParseRules(content string) []Rule {
	var rules []Rule
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		m := ruleLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		path := strings.TrimSpace(m[2])
		if path == "" {
			continue
		}
		var keywords []string
		for _, k := range strings.Split(m[1], ",") {
			if k = strings.TrimSpace(k); k != "" {
				keywords = append(keywords, k)
			}
		}
		rules = append(rules, Rule{Keywords: keywords, FilePath: path})
	}
	return rules
}
