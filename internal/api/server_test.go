package api

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"dosu/internal/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type switchPinger struct {
	err error
}

func (p *switchPinger) Ping(context.Context) error { return p.err }

func TestGRPCHealth(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	logger := zerolog.Nop()
	db := &switchPinger{}
	srv := newGRPCServer(config.APIConfig{}, lis, db, &logger)
	go func() { _ = srv.Serve() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	conn, err := grpc.NewClient(srv.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ScheduleService})
		require.NoError(t, err)
		return resp.GetStatus()
	}

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(), "not serving before the first check")

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, srv.Check(ctx))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check())

	db.err = errors.New("database is locked")
	srv.Check(ctx)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())
}
