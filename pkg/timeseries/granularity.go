// Package timeseries implements the measurement rollup and bucket
// reconstruction engine: calendar-aware bucket boundaries, linear upscaling
// between stored points, series reconstruction and tiered downsampling.
package timeseries

import (
	"fmt"
	"strings"
	"time"
)

// Granularity is the time resolution of stored or requested data.
type Granularity int

const (
	// Minute is a request-only granularity served by upscaling hourly data.
	Minute Granularity = iota
	// FiveMinutes is the raw ingestion tier and an upscaled request granularity.
	FiveMinutes
	Hour
	Day
	Month
	Year
)

var granularityNames = map[Granularity]string{
	Minute:      "minute",
	FiveMinutes: "5-minutes",
	Hour:        "hour",
	Day:         "day",
	Month:       "month",
	Year:        "year",
}

// StoredTiers lists the tiers persisted by a Store, finest first.
var StoredTiers = []Granularity{FiveMinutes, Hour, Day, Month, Year}

// ParseGranularity converts a wire name ("5-minutes", "hour", ...) to a Granularity.
func ParseGranularity(s string) (Granularity, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for g, n := range granularityNames {
		if n == name {
			return g, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownGranularity, s)
}

// String returns the wire name.
func (g Granularity) String() string {
	if n, ok := granularityNames[g]; ok {
		return n
	}
	return fmt.Sprintf("granularity(%d)", int(g))
}

// MarshalText implements encoding.TextMarshaler.
func (g Granularity) MarshalText() ([]byte, error) {
	if _, ok := granularityNames[g]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownGranularity, int(g))
	}
	return []byte(g.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (g *Granularity) UnmarshalText(text []byte) error {
	parsed, err := ParseGranularity(string(text))
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}

// IsStored reports whether records of this tier are persisted.
func (g Granularity) IsStored() bool {
	return g >= FiveMinutes && g <= Year
}

// StorageTier returns the tier a request at g is served from and whether
// the stored points must be upscaled to reach g.
func (g Granularity) StorageTier() (Granularity, bool) {
	switch g {
	case Minute, FiveMinutes:
		return Hour, true
	default:
		return g, false
	}
}

// Finer returns the stored tier directly below g.
func (g Granularity) Finer() (Granularity, bool) {
	switch g {
	case Hour:
		return FiveMinutes, true
	case Day:
		return Hour, true
	case Month:
		return Day, true
	case Year:
		return Month, true
	default:
		return 0, false
	}
}

// Truncate returns the boundary of g enclosing t, in UTC.
func (g Granularity) Truncate(t time.Time) time.Time {
	t = t.UTC()
	switch g {
	case Minute:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC)
	case FiveMinutes:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute()-t.Minute()%5, 0, 0, time.UTC)
	case Hour:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC)
	case Day:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case Month:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case Year:
		return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	default:
		return t
	}
}

// Add moves t by n units of g using calendar fields.
func (g Granularity) Add(t time.Time, n int) time.Time {
	switch g {
	case Minute:
		return t.Add(time.Duration(n) * time.Minute)
	case FiveMinutes:
		return t.Add(time.Duration(n) * 5 * time.Minute)
	case Hour:
		return t.Add(time.Duration(n) * time.Hour)
	case Day:
		return t.AddDate(0, 0, n)
	case Month:
		return t.AddDate(0, n, 0)
	case Year:
		return t.AddDate(n, 0, 0)
	default:
		return t
	}
}

// ExpectedCount is the number of source-tier slots inside the g window
// starting at w when every slot is populated.
func (g Granularity) ExpectedCount(w time.Time) int {
	switch g {
	case Hour:
		return 12
	case Day:
		return 24
	case Month:
		w = w.UTC()
		return time.Date(w.Year(), w.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
	case Year:
		return 12
	default:
		return 0
	}
}

// step is the interpolation step for upscaled granularities.
func (g Granularity) step() (time.Duration, bool) {
	switch g {
	case Minute:
		return time.Minute, true
	case FiveMinutes:
		return 5 * time.Minute, true
	default:
		return 0, false
	}
}

// boundaryUnit is the granularity boundaries are generated at for a request at g.
func (g Granularity) boundaryUnit() Granularity {
	switch g {
	case Minute, FiveMinutes:
		return Hour
	default:
		return g
	}
}
