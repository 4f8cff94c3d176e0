package timeseries

import (
	"encoding/json"
	"fmt"
	"time"
)

// Bucket is one slot of a reconstructed series.
type Bucket struct {
	Date         time.Time
	Temperature  *float64
	Humidity     *float64
	IsCalculated bool
	// Tier is the storage tier the bucket was read from.
	Tier Granularity
}

type bucketJSON struct {
	Date         string   `json:"date"`
	Temperature  *float64 `json:"temperature"`
	Humidity     *float64 `json:"humidity"`
	IsCalculated bool     `json:"isCalculated"`
}

// MarshalJSON encodes the date as ISO-8601 and missing values as null.
func (b Bucket) MarshalJSON() ([]byte, error) {
	return json.Marshal(bucketJSON{
		Date:         b.Date.UTC().Format(time.RFC3339),
		Temperature:  b.Temperature,
		Humidity:     b.Humidity,
		IsCalculated: b.IsCalculated,
	})
}

// UnmarshalJSON decodes the MarshalJSON form.
func (b *Bucket) UnmarshalJSON(data []byte) error {
	var raw bucketJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	date, err := time.Parse(time.RFC3339, raw.Date)
	if err != nil {
		return fmt.Errorf("invalid bucket date: %w", err)
	}
	*b = Bucket{
		Date:         date.UTC(),
		Temperature:  raw.Temperature,
		Humidity:     raw.Humidity,
		IsCalculated: raw.IsCalculated,
	}
	return nil
}

// Generate returns the ascending bucket boundaries of every unit of g
// touched by [from, to]. Minute and FiveMinutes requests use hour boundaries.
func Generate(from, to time.Time, g Granularity) ([]time.Time, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("%w: from=%s to=%s", ErrInvalidRange,
			from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))
	}
	if _, ok := granularityNames[g]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownGranularity, int(g))
	}

	unit := g.boundaryUnit()
	start := unit.Truncate(from)
	end := to.UTC()

	var boundaries []time.Time
	for i := 0; ; i++ {
		// Offsetting from start keeps month arithmetic anchored on the 1st.
		b := unit.Add(start, i)
		if b.After(end) {
			break
		}
		boundaries = append(boundaries, b)
	}
	return boundaries, nil
}
