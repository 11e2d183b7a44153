package driver_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/ydb-platform/ydb-go-topic/internal/auth"
	"github.com/ydb-platform/ydb-go-topic/internal/driver"
	"github.com/ydb-platform/ydb-go-topic/internal/pool"
)

func TestReadyResolvesAfterDiscoveryWithoutDiscoveryEnabled(t *testing.T) {
	d := driver.New(driver.Config{Database: "/local"})
	d.Run(context.Background())
	defer d.Close()

	select {
	case <-d.Ready():
	case <-time.After(time.Second):
		t.Fatal("driver never became ready")
	}
}

func TestReadyResolvesAfterDiscovery(t *testing.T) {
	d := driver.New(driver.Config{
		Database:        "/local",
		EnableDiscovery: true,
		ListEndpoints: func(ctx context.Context, database string) ([]pool.Endpoint, error) {
			return []pool.Endpoint{{NodeID: 1, Address: "h1", Port: 2136, Location: "VLA"}}, nil
		},
	})
	d.Run(context.Background())
	defer d.Close()

	select {
	case <-d.Ready():
	case <-time.After(time.Second):
		t.Fatal("driver never became ready")
	}
	require.Equal(t, 1, d.Pool().Len())
}

func TestDecorateInjectsDatabaseAndAuthTicket(t *testing.T) {
	d := driver.New(driver.Config{
		Database: "/local",
		CredentialsProvider: auth.ProviderFunc(func(ctx context.Context, force bool) (string, error) {
			return "secret-token", nil
		}),
	})
	d.Run(context.Background())
	defer d.Close()

	var captured context.Context
	interceptor := d.UnaryInterceptor()
	err := interceptor(context.Background(), "/Svc/Method", nil, nil, nil,
		func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
			captured = ctx
			return nil
		})
	require.NoError(t, err)

	md, ok := mdFromContext(captured)
	require.True(t, ok)
	require.Equal(t, "/local", md.Get("x-ydb-database")[0])
	require.Equal(t, "secret-token", md.Get("x-ydb-auth-ticket")[0])
}

func TestDecorateStampsDistinctRequestIDPerCall(t *testing.T) {
	d := driver.New(driver.Config{Database: "/local"})
	d.Run(context.Background())
	defer d.Close()

	var ids []string
	interceptor := d.UnaryInterceptor()
	for i := 0; i < 2; i++ {
		err := interceptor(context.Background(), "/Svc/Method", nil, nil, nil,
			func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
				md, ok := mdFromContext(ctx)
				require.True(t, ok)
				ids = append(ids, md.Get("x-request-id")[0])
				return nil
			})
		require.NoError(t, err)
	}

	require.Len(t, ids, 2)
	require.NotEmpty(t, ids[0])
	require.NotEqual(t, ids[0], ids[1])
}

func TestCloseStopsBackgroundLoops(t *testing.T) {
	d := driver.New(driver.Config{
		Database:        "/local",
		EnableDiscovery: true,
		ListEndpoints: func(ctx context.Context, database string) ([]pool.Endpoint, error) {
			return nil, nil
		},
	})
	d.Run(context.Background())
	require.NoError(t, d.Close())
}

func mdFromContext(ctx context.Context) (metadata.MD, bool) {
	return metadata.FromOutgoingContext(ctx)
}
