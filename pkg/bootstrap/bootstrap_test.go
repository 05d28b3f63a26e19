package bootstrap

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/reelcast-backend/pkg/logger"
)

func TestCloseRunsInReverseAndCombinesErrors(t *testing.T) {
	var order []string
	p := &Process{closers: []func() error{
		func() error { order = append(order, "db"); return errors.New("db close") },
		func() error { order = append(order, "redis"); return errors.New("redis close") },
	}}

	err := p.Close()
	assert.Equal(t, []string{"redis", "db"}, order)
	assert.ErrorContains(t, err, "db close")
	assert.ErrorContains(t, err, "redis close")
	assert.NoError(t, p.Close())
}

func TestServeSideShutsDown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	shutdown := ServeSide(context.Background(), logger.Nop(), addr, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusNoContent
	}, 2*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, shutdown(ctx))
}
