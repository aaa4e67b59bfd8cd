// Package condition evaluates text conditions of log alarms.
package condition

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pilot-net/hamon/pkg/types"
)

// ErrInvalidMatcher is returned for matchers other than exactly, prefix,
// suffix and contains.
var ErrInvalidMatcher = errors.New("invalid matcher")

// IsValid reports whether input satisfies cond.
func IsValid(input string, cond types.TextCondition) (bool, error) {
	text := cond.Text
	if !cond.CaseSensitive {
		input = strings.ToLower(input)
		text = strings.ToLower(text)
	}

	switch cond.Matcher {
	case types.MatchExactly:
		return input == text, nil
	case types.MatchPrefix:
		return strings.HasPrefix(input, text), nil
	case types.MatchSuffix:
		return strings.HasSuffix(input, text), nil
	case types.MatchContains:
		return strings.Contains(input, text), nil
	default:
		return false, fmt.Errorf("%w: %q", ErrInvalidMatcher, cond.Matcher)
	}
}
