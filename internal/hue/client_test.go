package hue

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_RejectsBadURL(t *testing.T) {
	_, err := NewClient("192.168.1.20", "key", false)
	require.Error(t, err)
}

func TestFetchDevices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, devicesPath, r.URL.Path)
		assert.Equal(t, "app-key", r.Header.Get(KeyHeader))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"errors":[],"data":[
			{"id":"d1","type":"device","metadata":{"name":"Kitchen"}},
			{"id":"d2","id_v1":"/lights/2","type":""},
			{"id":"d3"}
		]}`)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, "app-key", false)
	require.NoError(t, err)

	devices, err := client.FetchDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 3)

	assert.Equal(t, "Kitchen", devices[0].DisplayName())
	assert.Equal(t, "device", devices[0].DeviceType())
	assert.Equal(t, "/lights/2", devices[1].DisplayName())
	assert.Equal(t, "device", devices[1].DeviceType())
	assert.Equal(t, "d3", devices[2].DisplayName())
}

func TestFetchDevices_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, "bad-key", false)
	require.NoError(t, err)

	_, err = client.FetchDevices(context.Background())
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusForbidden, statusErr.Code)
}

func TestOpenEventStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, eventStreamPath, r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		assert.Equal(t, "app-key", r.Header.Get(KeyHeader))
		_, _ = io.WriteString(w, ": hi\n\ndata: []\n\n")
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, "app-key", false)
	require.NoError(t, err)

	body, err := client.OpenEventStream(context.Background())
	require.NoError(t, err)
	defer body.Close()

	content, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, ": hi\n\ndata: []\n\n", string(content))
}

func TestOpenEventStream_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, "app-key", false)
	require.NoError(t, err)

	_, err = client.OpenEventStream(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}
