package seriesrpc

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/team13Uni/wedro/pkg/timeseries"
)

// ErrMalformed is returned when a message lacks a field or holds a bad value.
var ErrMalformed = errors.New("malformed series message")

// SeriesRequest asks for the bucket series of one station.
type SeriesRequest struct {
	From        time.Time
	To          time.Time
	StationID   string
	Granularity timeseries.Granularity
}

// Struct encodes the request.
func (r SeriesRequest) Struct() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"stationId":   structpb.NewStringValue(r.StationID),
		"dateFrom":    structpb.NewStringValue(r.From.UTC().Format(time.RFC3339Nano)),
		"dateTo":      structpb.NewStringValue(r.To.UTC().Format(time.RFC3339Nano)),
		"granularity": structpb.NewStringValue(r.Granularity.String()),
	}}
}

// ParseSeriesRequest decodes a request struct.
func ParseSeriesRequest(s *structpb.Struct) (SeriesRequest, error) {
	var req SeriesRequest
	fields := s.GetFields()

	req.StationID = fields["stationId"].GetStringValue()
	if req.StationID == "" {
		return req, fmt.Errorf("%w: stationId is required", ErrMalformed)
	}

	var err error
	if req.From, err = parseTime(fields, "dateFrom"); err != nil {
		return req, err
	}
	if req.To, err = parseTime(fields, "dateTo"); err != nil {
		return req, err
	}

	req.Granularity, err = timeseries.ParseGranularity(fields["granularity"].GetStringValue())
	if err != nil {
		return req, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return req, nil
}

func parseTime(fields map[string]*structpb.Value, name string) (time.Time, error) {
	raw := fields[name].GetStringValue()
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: %s is required", ErrMalformed, name)
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %w", ErrMalformed, name, err)
	}
	return t.UTC(), nil
}

func optionalNumber(v *float64) *structpb.Value {
	if v == nil {
		return structpb.NewNullValue()
	}
	return structpb.NewNumberValue(*v)
}

func numberField(fields map[string]*structpb.Value, name string) *float64 {
	v, ok := fields[name]
	if !ok {
		return nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return nil
	}
	f := n.NumberValue
	return &f
}

// EncodeBuckets builds a GetSeries response.
func EncodeBuckets(buckets []timeseries.Bucket) *structpb.Struct {
	values := make([]*structpb.Value, 0, len(buckets))
	for _, b := range buckets {
		values = append(values, structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"date":         structpb.NewStringValue(b.Date.UTC().Format(time.RFC3339)),
			"temperature":  optionalNumber(b.Temperature),
			"humidity":     optionalNumber(b.Humidity),
			"isCalculated": structpb.NewBoolValue(b.IsCalculated),
			"tier":         structpb.NewStringValue(b.Tier.String()),
		}}))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"buckets": structpb.NewListValue(&structpb.ListValue{Values: values}),
	}}
}

// DecodeBuckets reads a GetSeries response.
func DecodeBuckets(s *structpb.Struct) ([]timeseries.Bucket, error) {
	list := s.GetFields()["buckets"].GetListValue()
	if list == nil {
		return nil, fmt.Errorf("%w: buckets is required", ErrMalformed)
	}

	out := make([]timeseries.Bucket, 0, len(list.GetValues()))
	for i, v := range list.GetValues() {
		fields := v.GetStructValue().GetFields()
		date, err := parseTime(fields, "date")
		if err != nil {
			return nil, fmt.Errorf("bucket %d: %w", i, err)
		}
		b := timeseries.Bucket{
			Date:         date,
			Temperature:  numberField(fields, "temperature"),
			Humidity:     numberField(fields, "humidity"),
			IsCalculated: fields["isCalculated"].GetBoolValue(),
		}
		if tier := fields["tier"].GetStringValue(); tier != "" {
			if b.Tier, err = timeseries.ParseGranularity(tier); err != nil {
				return nil, fmt.Errorf("%w: bucket %d: %w", ErrMalformed, i, err)
			}
		}
		out = append(out, b)
	}
	return out, nil
}

// EncodeStations builds a ListStations response.
func EncodeStations(stations []timeseries.Station) *structpb.Struct {
	values := make([]*structpb.Value, 0, len(stations))
	for _, st := range stations {
		values = append(values, structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"stationId":    structpb.NewStringValue(st.StationID),
			"locationId":   structpb.NewStringValue(st.LocationID),
			"lastActiveAt": structpb.NewStringValue(st.LastActiveAt.UTC().Format(time.RFC3339Nano)),
		}}))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"stations": structpb.NewListValue(&structpb.ListValue{Values: values}),
	}}
}

// DecodeStations reads a ListStations response.
func DecodeStations(s *structpb.Struct) ([]timeseries.Station, error) {
	list := s.GetFields()["stations"].GetListValue()
	if list == nil {
		return nil, fmt.Errorf("%w: stations is required", ErrMalformed)
	}

	out := make([]timeseries.Station, 0, len(list.GetValues()))
	for i, v := range list.GetValues() {
		fields := v.GetStructValue().GetFields()
		at, err := parseTime(fields, "lastActiveAt")
		if err != nil {
			return nil, fmt.Errorf("station %d: %w", i, err)
		}
		out = append(out, timeseries.Station{
			StationID:    fields["stationId"].GetStringValue(),
			LocationID:   fields["locationId"].GetStringValue(),
			LastActiveAt: at,
		})
	}
	return out, nil
}
