package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/warp/capital-ledger/ledger"
	"github.com/warp/capital-ledger/ledger/store"
	"github.com/warp/capital-ledger/logging"
)

const testOwner = "shop-1"

// tickingClock starts at 2025-03-10 09:00 UTC and advances one minute per
// call.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Minute)
		return now
	}
}

type testAPI struct {
	t       *testing.T
	engine  *ledger.Engine
	handler *Handler
	router  *chi.Mux
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	engine := ledger.NewEngine(store.NewMemory(), ledger.WithClock(tickingClock()))
	h := NewHandler(engine, logging.Nop())
	return &testAPI{
		t:       t,
		engine:  engine,
		handler: h,
		router:  NewRouter(h, RouterOptions{Logger: logging.Nop()}),
	}
}

func (a *testAPI) do(method, path string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

// decode asserts the status and unmarshals the body into out.
func decode[T any](t *testing.T, rec *httptest.ResponseRecorder, status int) T {
	t.Helper()
	require.Equal(t, status, rec.Code, "body: %s", rec.Body.String())
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func (a *testAPI) create(req TransactionRequest) TransactionDTO {
	a.t.Helper()
	return decode[TransactionDTO](a.t, a.do(http.MethodPost, "/api/owners/"+testOwner+"/transactions", req), http.StatusCreated)
}

func (a *testAPI) summary() SummaryDTO {
	a.t.Helper()
	return decode[SummaryDTO](a.t, a.do(http.MethodGet, "/api/owners/"+testOwner+"/summary", nil), http.StatusOK)
}

func floatPtr(f float64) *float64 { return &f }
