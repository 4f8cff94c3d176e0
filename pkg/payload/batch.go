// Package payload defines the JSON measurement batch stations publish.
package payload

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// MaxReadings is the largest number of readings accepted in one batch.
const MaxReadings = 100

// Reading is a single station reading. MeasuredAt is unix milliseconds.
type Reading struct {
	Temperature *float64 `json:"temperature" validate:"required,gte=-80,lte=80"`
	Humidity    *float64 `json:"humidity" validate:"required,gte=0,lte=1"`
	MeasuredAt  int64    `json:"measuredAt" validate:"required,gt=0"`
}

// Time returns MeasuredAt as a UTC time.
func (r Reading) Time() time.Time {
	return time.UnixMilli(r.MeasuredAt).UTC()
}

// Batch is a set of readings from one station location.
type Batch struct {
	StationID  string `json:"stationId" validate:"required,max=64"`
	LocationID string `json:"locationId" validate:"required,max=64"`
	// Granularity is the stored tier the readings belong to; empty means 5-minutes.
	Granularity  string    `json:"granularity,omitempty" validate:"omitempty,oneof=5-minutes hour day month year"`
	Measurements []Reading `json:"measurements" validate:"required,min=1,max=100,dive"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ErrInvalid is wrapped by every decoding and validation failure.
var ErrInvalid = errors.New("invalid measurement batch")

// Decode parses and validates a JSON batch.
func Decode(data []byte) (Batch, error) {
	var b Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return Batch{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := b.Validate(); err != nil {
		return Batch{}, err
	}
	return b, nil
}

// Validate checks the batch against the field constraints.
func (b Batch) Validate() error {
	if err := validate.Struct(b); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q (%d violations)", ErrInvalid, fe.Namespace(), fe.Tag(), len(verrs))
		}
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// Encode marshals the batch to JSON.
func (b Batch) Encode() ([]byte, error) {
	return json.Marshal(b)
}
