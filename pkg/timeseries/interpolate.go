package timeseries

import (
	"fmt"
	"time"
)

// maxFineGap is the widest gap upscaled at steps finer than five minutes.
const maxFineGap = 10 * time.Hour

// Upscale linearly interpolates points strictly between left and right at
// the step implied by g. Granularities without a step return the two
// endpoints unchanged.
func Upscale(left, right Bucket, g Granularity) ([]Bucket, error) {
	step, ok := g.step()
	if !ok {
		return []Bucket{left, right}, nil
	}

	if left.Tier != right.Tier {
		return nil, fmt.Errorf("%w: left=%s right=%s", ErrIncompatibleBuckets, left.Tier, right.Tier)
	}

	gap := right.Date.Sub(left.Date)
	if gap > maxFineGap && step < 5*time.Minute {
		return nil, fmt.Errorf("%w: %s between %s and %s at %s step", ErrGapTooWide,
			gap, left.Date.UTC().Format(time.RFC3339), right.Date.UTC().Format(time.RFC3339), step)
	}
	if gap <= step {
		return nil, nil
	}

	points := make([]Bucket, 0, int(gap/step))
	for at := left.Date.Add(step); at.Before(right.Date); at = at.Add(step) {
		offset := at.Sub(left.Date)
		points = append(points, Bucket{
			Date:         at,
			Temperature:  lerp(left.Temperature, right.Temperature, offset, gap),
			Humidity:     lerp(left.Humidity, right.Humidity, offset, gap),
			IsCalculated: true,
			Tier:         left.Tier,
		})
	}
	return points, nil
}

func lerp(from, to *float64, offset, span time.Duration) *float64 {
	if from == nil || to == nil {
		return nil
	}
	v := *from + float64(offset)*(*to-*from)/float64(span)
	return &v
}
