package frontend_test

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sony/gobreaker"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/team13Uni/wedro/internal/frontend"
	"github.com/team13Uni/wedro/pkg/seriesrpc"
	"github.com/team13Uni/wedro/pkg/timeseries"
)

// scriptedServer answers every call with err, or an empty result when err is nil.
type scriptedServer struct {
	err   atomic.Pointer[error]
	calls atomic.Int32
}

func (s *scriptedServer) fail(err error) { s.err.Store(&err) }

func (s *scriptedServer) result() error {
	s.calls.Add(1)
	if p := s.err.Load(); p != nil {
		return *p
	}
	return nil
}

func (s *scriptedServer) GetSeries(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	if err := s.result(); err != nil {
		return nil, err
	}
	return seriesrpc.EncodeBuckets(nil), nil
}

func (s *scriptedServer) ListStations(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	if err := s.result(); err != nil {
		return nil, err
	}
	return seriesrpc.EncodeStations(nil), nil
}

var _ = Describe("BreakerClient", func() {
	var (
		stub   *scriptedServer
		client *frontend.BreakerClient
		req    seriesrpc.SeriesRequest
	)

	BeforeEach(func() {
		stub = &scriptedServer{}

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

		client = frontend.NewBreakerClient(seriesrpc.NewClient(conn), frontend.BreakerConfig{
			ConsecutiveFailures: 3,
			Timeout:             time.Hour,
		}, frontendMetrics)

		start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
		req = seriesrpc.SeriesRequest{
			StationID:   "st-1",
			From:        start,
			To:          start.Add(time.Hour),
			Granularity: timeseries.Hour,
		}
	})

	It("should pass successful calls through", func() {
		buckets, err := client.GetSeries(context.Background(), req)
		Expect(err).NotTo(HaveOccurred())
		Expect(buckets).To(BeEmpty())

		stations, err := client.ListStations(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(stations).To(BeEmpty())
		Expect(client.State()).To(Equal(gobreaker.StateClosed))
	})

	It("should open after consecutive server failures", func() {
		stub.fail(status.Error(codes.Unavailable, "down"))

		for range 3 {
			_, err := client.GetSeries(context.Background(), req)
			Expect(status.Code(err)).To(Equal(codes.Unavailable))
		}
		Expect(client.State()).To(Equal(gobreaker.StateOpen))

		_, err := client.ListStations(context.Background())
		Expect(errors.Is(err, frontend.ErrBackendUnavailable)).To(BeTrue())
		Expect(stub.calls.Load()).To(Equal(int32(3)))
	})

	It("should not count client errors against the backend", func() {
		stub.fail(status.Error(codes.FailedPrecondition, "gap"))

		for range 5 {
			_, err := client.GetSeries(context.Background(), req)
			Expect(status.Code(err)).To(Equal(codes.FailedPrecondition))
		}
		Expect(client.State()).To(Equal(gobreaker.StateClosed))
	})
})
