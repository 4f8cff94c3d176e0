package seriesrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/team13Uni/wedro/pkg/timeseries"
)

// Client calls SeriesService over a gRPC connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient creates a Client on cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// GetSeries fetches the reconstructed bucket series for req.
func (c *Client) GetSeries(ctx context.Context, req SeriesRequest, opts ...grpc.CallOption) ([]timeseries.Bucket, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, GetSeriesMethod, req.Struct(), out, opts...); err != nil {
		return nil, err
	}
	return DecodeBuckets(out)
}

// ListStations fetches every known station location.
func (c *Client) ListStations(ctx context.Context, opts ...grpc.CallOption) ([]timeseries.Station, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ListStationsMethod, &structpb.Struct{}, out, opts...); err != nil {
		return nil, err
	}
	return DecodeStations(out)
}
