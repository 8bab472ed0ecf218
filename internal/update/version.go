package update

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"updatecheck/internal/debug"
	appErrors "updatecheck/internal/errors"

	"github.com/charmbracelet/log"
)

// Version is the numeric ordering key of a version string. Anything after
// the leading major.minor.patch is kept in Suffix but never compared.
type Version struct {
	Major  int
	Minor  int
	Patch  int
	Suffix string
	Raw    string
}

// tripleRegex matches the leading numeric triple, e.g. "2.1.0" in "2.1.0_beta".
var tripleRegex = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)(.*)$`)

// ParseVersion extracts the leading numeric triple from s. Free-form
// suffixes such as build tags or dates are accepted and ignored.
func ParseVersion(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Version{}, fmt.Errorf("%w: empty version string", ErrInvalidVersion)
	}

	matches := tripleRegex.FindStringSubmatch(s)
	if matches == nil {
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}

	var parts [3]int
	for i := range parts {
		n, err := strconv.Atoi(matches[i+1])
		if err != nil {
			// Only overflow gets here; the regex guarantees digits.
			return Version{}, fmt.Errorf("%w: %q: %v", ErrInvalidVersion, s, err)
		}
		parts[i] = n
	}

	return Version{
		Major:  parts[0],
		Minor:  parts[1],
		Patch:  parts[2],
		Suffix: matches[4],
		Raw:    s,
	}, nil
}

// String returns the numeric triple.
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare orders two versions by their numeric triple.
// Returns:
//
//	-1 if v < other
//	 0 if v == other
//	 1 if v > other
func (v Version) Compare(other Version) int {
	if v.Major != other.Major {
		return compareInt(v.Major, other.Major)
	}
	if v.Minor != other.Minor {
		return compareInt(v.Minor, other.Minor)
	}
	return compareInt(v.Patch, other.Patch)
}

// LessThan returns true if v < other.
func (v Version) LessThan(other Version) bool {
	return v.Compare(other) < 0
}

// GreaterThan returns true if v > other.
func (v Version) GreaterThan(other Version) bool {
	return v.Compare(other) > 0
}

func compareInt(a, b int) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// Comparator decides whether a remote version supersedes a local one.
type Comparator struct {
	logger *log.Logger
}

// NewComparator returns a Comparator reporting diagnostics to logger.
// A nil logger uses the debug log.
func NewComparator(logger *log.Logger) *Comparator {
	if logger == nil {
		logger = debug.Logger()
	}
	return &Comparator{logger: logger}
}

// IsNewer reports whether a is strictly newer than b. When either side has
// no leading numeric triple the ordering is unknown: a diagnostic is logged
// and IsNewer returns false.
func (c *Comparator) IsNewer(a, b string) bool {
	va, err := ParseVersion(a)
	if err != nil {
		c.unparseable(a, err)
		return false
	}
	vb, err := ParseVersion(b)
	if err != nil {
		c.unparseable(b, err)
		return false
	}
	return va.GreaterThan(vb)
}

func (c *Comparator) unparseable(version string, err error) {
	cerr := appErrors.New(appErrors.CodeUnparseableVersion, err.Error(), err)
	c.logger.Warn("unparseable version", append(appErrors.Fields(cerr), "version", version)...)
}
