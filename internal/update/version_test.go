package update

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"updatecheck/internal/debug"

	"github.com/charmbracelet/log"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		input   string
		want    Version
		wantErr bool
	}{
		{"1.2.3", Version{Major: 1, Minor: 2, Patch: 3, Raw: "1.2.3"}, false},
		{"2.1.0_beta", Version{Major: 2, Minor: 1, Patch: 0, Suffix: "_beta", Raw: "2.1.0_beta"}, false},
		{"1.0.0-rc", Version{Major: 1, Minor: 0, Patch: 0, Suffix: "-rc", Raw: "1.0.0-rc"}, false},
		{"3.4.5 (2024-01-31)", Version{Major: 3, Minor: 4, Patch: 5, Suffix: " (2024-01-31)", Raw: "3.4.5 (2024-01-31)"}, false},
		{"  10.20.30  ", Version{Major: 10, Minor: 20, Patch: 30, Raw: "10.20.30"}, false},
		{"1.2.3.4", Version{Major: 1, Minor: 2, Patch: 3, Suffix: ".4", Raw: "1.2.3.4"}, false},
		{"", Version{}, true},
		{"bogus", Version{}, true},
		{"1.2", Version{}, true},
		{"v1.2.3", Version{}, true},
		{"1.x.3", Version{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseVersion(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseVersion(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidVersion) {
					t.Errorf("error %v should wrap ErrInvalidVersion", err)
				}
				return
			}
			if got != tt.want {
				t.Errorf("ParseVersion(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestVersionCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0.0", "2.0.0", -1},
		{"2.0.0", "1.0.0", 1},
		{"1.2.0", "1.10.0", -1},
		{"1.0.9", "1.0.10", -1},
		{"1.0.0-rc", "1.0.0", 0},
		{"2.1.0_beta", "2.0.9", 1},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_vs_"+tt.b, func(t *testing.T) {
			a, err := ParseVersion(tt.a)
			if err != nil {
				t.Fatal(err)
			}
			b, err := ParseVersion(tt.b)
			if err != nil {
				t.Fatal(err)
			}
			if got := a.Compare(b); got != tt.want {
				t.Errorf("Compare(%s, %s) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestComparatorIsNewer(t *testing.T) {
	tests := []struct {
		name           string
		a, b           string
		want           bool
		wantDiagnostic bool
	}{
		{"suffix ignored", "2.1.0_beta", "2.0.9", true, false},
		{"equal triples", "1.0.0", "1.0.0-rc", false, false},
		{"older", "1.0.0", "1.0.1", false, false},
		{"numeric not lexical", "1.10.0", "1.9.9", true, false},
		{"sentinel never newer", "0.0.0", "0.0.1", false, false},
		{"unparseable remote", "bogus", "1.0.0", false, true},
		{"unparseable local", "2.0.0", "dev-build", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			c := NewComparator(debug.New(&buf, log.DebugLevel))

			if got := c.IsNewer(tt.a, tt.b); got != tt.want {
				t.Errorf("IsNewer(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
			logged := strings.Contains(buf.String(), "unparseable_version")
			if logged != tt.wantDiagnostic {
				t.Errorf("diagnostic logged = %v, want %v (log: %q)", logged, tt.wantDiagnostic, buf.String())
			}
		})
	}
}

func TestNewComparatorNilLogger(t *testing.T) {
	c := NewComparator(nil)
	if c.IsNewer("bogus", "1.0.0") {
		t.Fatal("unparseable input must not report an update")
	}
}
