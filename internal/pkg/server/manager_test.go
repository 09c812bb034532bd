package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
)

type serverFunc func(ctx context.Context) error

func (f serverFunc) Start(ctx context.Context) error { return f(ctx) }

func TestManagerStopsOthersOnFailure(t *testing.T) {
	boom := errors.New("listen failed")
	stopped := make(chan struct{})

	m := NewManager(
		serverFunc(func(context.Context) error { return boom }),
		serverFunc(func(ctx context.Context) error {
			<-ctx.Done()
			close(stopped)
			return nil
		}),
	)

	assert.ErrorIs(t, m.Start(context.Background()), boom)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("sibling server not stopped")
	}
}

func TestManagerReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := NewManager(serverFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}))

	cancel()
	assert.NoError(t, m.Start(ctx))
}

func TestProbes(t *testing.T) {
	var up bool
	r := mux.NewRouter()
	RegisterProbes(r, BrokerCheck(func() bool { return up }))

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	assert.Equal(t, http.StatusOK, get("/healthz").Code)
	rec := get("/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "not connected")

	up = true
	assert.Equal(t, http.StatusOK, get("/readyz").Code)

	rec = get("/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pathrunner_broker_connected")
}
