package server

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	config := DefaultConfig()
	config.Addr = "127.0.0.1:0"
	config.ShutdownTimeout = 2 * time.Second
	return config
}

func TestManager_StartAndShutdown(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	m := NewManager(handler, testConfig(), nil)

	require.NoError(t, m.Start())

	resp, err := http.Get(fmt.Sprintf("http://%s/", m.Addr()))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	require.NoError(t, m.Shutdown(context.Background()))

	_, err = http.Get(fmt.Sprintf("http://%s/", m.Addr()))
	assert.Error(t, err)
}

func TestManager_DoubleStart(t *testing.T) {
	m := NewManager(http.NotFoundHandler(), testConfig(), nil)
	require.NoError(t, m.Start())
	defer m.Shutdown(context.Background())

	assert.Error(t, m.Start())
}

func TestManager_ShutdownIdempotent(t *testing.T) {
	m := NewManager(http.NotFoundHandler(), testConfig(), nil)
	require.NoError(t, m.Start())

	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))
	assert.Error(t, m.Start())
}
