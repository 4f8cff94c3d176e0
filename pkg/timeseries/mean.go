package timeseries

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/apd/v3"
)

var decimalCtx = apd.BaseContext.WithPrecision(34)

// mean accumulates temperature and humidity sums in decimal arithmetic so
// the average of many readings does not drift with float rounding.
type mean struct {
	temperature apd.Decimal
	humidity    apd.Decimal
	count       int64
}

func (m *mean) add(temperature, humidity float64) error {
	var t, h apd.Decimal
	if _, err := t.SetFloat64(temperature); err != nil {
		return fmt.Errorf("invalid temperature %v: %w", temperature, err)
	}
	if _, err := h.SetFloat64(humidity); err != nil {
		return fmt.Errorf("invalid humidity %v: %w", humidity, err)
	}
	if _, err := decimalCtx.Add(&m.temperature, &m.temperature, &t); err != nil {
		return err
	}
	if _, err := decimalCtx.Add(&m.humidity, &m.humidity, &h); err != nil {
		return err
	}
	m.count++
	return nil
}

func (m *mean) value() (temperature, humidity float64, err error) {
	if m.count == 0 {
		return 0, 0, errors.New("mean of zero values")
	}
	n := apd.New(m.count, 0)

	var t, h apd.Decimal
	if _, err := decimalCtx.Quo(&t, &m.temperature, n); err != nil {
		return 0, 0, err
	}
	if _, err := decimalCtx.Quo(&h, &m.humidity, n); err != nil {
		return 0, 0, err
	}
	if temperature, err = t.Float64(); err != nil {
		return 0, 0, err
	}
	if humidity, err = h.Float64(); err != nil {
		return 0, 0, err
	}
	return temperature, humidity, nil
}

// meanByLocation averages records per location into a map local to the call.
// Rows sharing a slot are averaged first so a redelivered reading counts once.
func meanByLocation(records []Measurement) (map[string]*mean, error) {
	slots := make(map[string]map[int64]*mean)
	for _, r := range records {
		bySlot, ok := slots[r.LocationID]
		if !ok {
			bySlot = make(map[int64]*mean)
			slots[r.LocationID] = bySlot
		}
		at := r.MeasuredAt.UTC().UnixNano()
		m, ok := bySlot[at]
		if !ok {
			m = &mean{}
			bySlot[at] = m
		}
		if err := m.add(r.Temperature, r.Humidity); err != nil {
			return nil, fmt.Errorf("measurement %s: %w", r.ID, err)
		}
	}

	acc := make(map[string]*mean, len(slots))
	for loc, bySlot := range slots {
		m := &mean{}
		for _, slot := range bySlot {
			temperature, humidity, err := slot.value()
			if err != nil {
				return nil, err
			}
			if err := m.add(temperature, humidity); err != nil {
				return nil, err
			}
		}
		acc[loc] = m
	}
	return acc, nil
}
