// Package state persists the update check cache record.
//
// The record remembers when the manifest was last consulted and what it
// said, so repeated runs of the host tool only reach the network once per
// check window. Two backends are provided: a pretty-printed JSON file
// (FileStore, the default) and a single-row SQLite table (SQLiteStore).
// Both are safe against torn writes; serializing read-modify-write cycles
// across processes is the job of FileLock.
package state

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// UnreachableVersion marks a record whose last check could not reach or
// parse the manifest. It is distinct from a nil version, which means the
// manifest has never been consulted.
const UnreachableVersion = "0.0.0"

// HumanTimeFormat is the layout of Record.LastCheckHumanReadable.
const HumanTimeFormat = "2006-01-02 15:04:05"

const alwaysKeyword = "always"

// Frequency is the online check cadence: a whole number of days, or always.
type Frequency struct {
	Days   int
	Always bool
}

// Always checks on every invocation (subject to a one second floor).
var Always = Frequency{Always: true}

// Days returns a frequency of n days.
func Days(n int) Frequency {
	return Frequency{Days: n}
}

// ParseFrequency accepts a non-negative day count or the keyword "always".
func ParseFrequency(s string) (Frequency, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, alwaysKeyword) {
		return Always, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return Frequency{}, fmt.Errorf("invalid frequency %q: want a day count or %q", s, alwaysKeyword)
	}
	return Days(n), nil
}

// maxDays is the largest day count a time.Duration can hold.
const maxDays = math.MaxInt64 / int64(24*time.Hour)

// Threshold is the minimum time between two network checks. Day counts too
// large for a time.Duration saturate at the maximum duration.
func (f Frequency) Threshold() time.Duration {
	if f.Always {
		return time.Second
	}
	if int64(f.Days) > maxDays {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(f.Days) * 24 * time.Hour
}

// String returns the day count or "always".
func (f Frequency) String() string {
	if f.Always {
		return alwaysKeyword
	}
	return strconv.Itoa(f.Days)
}

// MarshalJSON encodes the frequency as an integer or the string "always".
func (f Frequency) MarshalJSON() ([]byte, error) {
	if f.Always {
		return json.Marshal(alwaysKeyword)
	}
	return json.Marshal(f.Days)
}

// UnmarshalJSON accepts an integer, "always", or a numeric string.
func (f *Frequency) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		if n < 0 {
			return fmt.Errorf("invalid frequency %d", n)
		}
		*f = Days(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid frequency %s", data)
	}
	parsed, err := ParseFrequency(s)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Record is the persisted check state.
type Record struct {
	LastCheckTimestamp     float64   `json:"last_check_timestamp"`
	LastCheckHumanReadable string    `json:"last_check_timestamp_human_readable"`
	Frequency              Frequency `json:"online_check_frequency_days"`
	LatestVersion          *string   `json:"latest_version_local"`
	LastUpdateDate         string    `json:"last_update_date"`
	RepoURL                string    `json:"repo_url"`
	ProjectName            string    `json:"project_name"`
	Note                   string    `json:"note"`
}

// Default returns the "never checked" record. Its zero timestamp forces a
// real check on the next run.
func Default() Record {
	return Record{}
}

// Checked reports whether the manifest was ever consulted.
func (r Record) Checked() bool {
	return r.LatestVersion != nil
}

// Failed reports whether the last check ended with the unreachable sentinel.
func (r Record) Failed() bool {
	return r.LatestVersion != nil && *r.LatestVersion == UnreachableVersion
}

// Version returns the cached remote version, or "" when never checked.
func (r Record) Version() string {
	if r.LatestVersion == nil {
		return ""
	}
	return *r.LatestVersion
}

// LastCheck converts the unix seconds timestamp into a time.Time.
func (r Record) LastCheck() time.Time {
	if r.LastCheckTimestamp <= 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(r.LastCheckTimestamp)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}

// Stamp sets both timestamp fields from t.
func (r *Record) Stamp(t time.Time) {
	r.LastCheckTimestamp = UnixSeconds(t)
	r.LastCheckHumanReadable = t.Local().Format(HumanTimeFormat)
}

// UnixSeconds returns t as fractional unix seconds, microsecond precision.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

// normalize folds legacy encodings into the canonical shape.
func (r *Record) normalize() {
	if r.LatestVersion != nil && strings.TrimSpace(*r.LatestVersion) == "" {
		r.LatestVersion = nil
	}
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
