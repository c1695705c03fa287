package github

import (
	"regexp"
	"strconv"

	perrors "github.com/p-blackswan/policy-agent/internal/errors"
)

// PRLocator identifies one pull request.
type PRLocator struct {
	Owner  string
	Repo   string
	Number int
}

var prURLPattern = regexp.MustCompile(`^https://github\.com/([^/]+)/([^/]+)/pull/(\d+)$`)

// ParsePRURL accepts exactly https://github.com/{owner}/{repo}/pull/{number}.
// Trailing slashes, query strings and other hosts are rejected.
func ParsePRURL(raw string) (PRLocator, error) {
	m := prURLPattern.FindStringSubmatch(raw)
	if m == nil {
		return PRLocator{}, perrors.Validation("github.ParsePRURL", "invalid PR URL: %q", raw)
	}
	n, err := strconv.Atoi(m[3])
	if err != nil || n <= 0 {
		return PRLocator{}, perrors.Validation("github.ParsePRURL", "invalid PR number in URL: %q", raw)
	}
	return PRLocator{Owner: m[1], Repo: m[2], Number: n}, nil
}
