package seriesrpc_test

import (
	"context"
	"net"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/team13Uni/wedro/pkg/seriesrpc"
	"github.com/team13Uni/wedro/pkg/timeseries"
)

type stubServer struct {
	lastRequest seriesrpc.SeriesRequest
	buckets     []timeseries.Bucket
	err         error
}

func (s *stubServer) GetSeries(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	parsed, err := seriesrpc.ParseSeriesRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	s.lastRequest = parsed
	if s.err != nil {
		return nil, s.err
	}
	return seriesrpc.EncodeBuckets(s.buckets), nil
}

func (s *stubServer) ListStations(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return seriesrpc.EncodeStations([]timeseries.Station{{
		StationID:    "st-1",
		LocationID:   "roof",
		LastActiveAt: time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC),
	}}), nil
}

func temp(v float64) *float64 { return &v }

var _ = Describe("SeriesService", func() {
	var (
		stub   *stubServer
		client *seriesrpc.Client
		start  time.Time
	)

	BeforeEach(func() {
		start = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
		stub = &stubServer{}

		lis := bufconn.Listen(1 << 20)
		srv := grpc.NewServer()
		seriesrpc.RegisterSeriesServer(srv, stub)
		go func() { _ = srv.Serve(lis) }()
		DeferCleanup(srv.Stop)

		conn, err := grpc.NewClient("passthrough:///bufnet",
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(conn.Close)

		client = seriesrpc.NewClient(conn)
	})

	It("should carry the request and return buckets with nulls", func() {
		stub.buckets = []timeseries.Bucket{
			{Date: start.Add(time.Hour), Tier: timeseries.Hour},
			{Date: start, Temperature: temp(20), Humidity: temp(0.4), Tier: timeseries.Hour},
			{Date: start.Add(-5 * time.Minute), Temperature: temp(19.5), Humidity: temp(0.41), IsCalculated: true, Tier: timeseries.Hour},
		}

		buckets, err := client.GetSeries(context.Background(), seriesrpc.SeriesRequest{
			StationID:   "st-1",
			From:        start,
			To:          start.Add(time.Hour),
			Granularity: timeseries.FiveMinutes,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(buckets).To(Equal(stub.buckets))

		Expect(stub.lastRequest.StationID).To(Equal("st-1"))
		Expect(stub.lastRequest.From).To(Equal(start))
		Expect(stub.lastRequest.Granularity).To(Equal(timeseries.FiveMinutes))
	})

	It("should surface server status codes", func() {
		stub.err = status.Error(codes.FailedPrecondition, "gap too wide")

		_, err := client.GetSeries(context.Background(), seriesrpc.SeriesRequest{
			StationID: "st-1", From: start, To: start, Granularity: timeseries.Minute,
		})
		Expect(status.Code(err)).To(Equal(codes.FailedPrecondition))
	})

	It("should list stations", func() {
		stations, err := client.ListStations(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(stations).To(HaveLen(1))
		Expect(stations[0].LocationID).To(Equal("roof"))
		Expect(stations[0].LastActiveAt).To(Equal(time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)))
	})
})

var _ = Describe("ParseSeriesRequest", func() {
	valid := func() *structpb.Struct {
		return seriesrpc.SeriesRequest{
			StationID:   "st-1",
			From:        time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
			To:          time.Date(2024, time.January, 2, 0, 0, 0, 0, time.UTC),
			Granularity: timeseries.Hour,
		}.Struct()
	}

	DescribeTable("rejects malformed requests",
		func(field string, value *structpb.Value) {
			s := valid()
			if value == nil {
				delete(s.Fields, field)
			} else {
				s.Fields[field] = value
			}
			_, err := seriesrpc.ParseSeriesRequest(s)
			Expect(err).To(MatchError(seriesrpc.ErrMalformed))
		},
		Entry("missing station", "stationId", nil),
		Entry("missing dateFrom", "dateFrom", nil),
		Entry("unparsable dateTo", "dateTo", structpb.NewStringValue("tomorrow")),
		Entry("unknown granularity", "granularity", structpb.NewStringValue("week")),
	)

	It("should accept a valid request", func() {
		req, err := seriesrpc.ParseSeriesRequest(valid())
		Expect(err).NotTo(HaveOccurred())
		Expect(req.Granularity).To(Equal(timeseries.Hour))
	})
})
