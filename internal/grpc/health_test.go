package grpc

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthRoundTrip(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer()
	go srv.Serve(lis)
	defer srv.Stop()

	client, err := NewClient(lis.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	assert.Error(t, client.Check(ctx), "not serving until the dispatcher starts")

	srv.SetServing(true)
	assert.NoError(t, client.Check(ctx))

	srv.SetServing(false)
	assert.Error(t, client.Check(ctx))
}

func TestCheckUnreachable(t *testing.T) {
	client, err := NewClient("127.0.0.1:1")
	require.NoError(t, err)
	defer client.Close()

	assert.Error(t, client.Check(context.Background()))
}
