package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/labtasker/labtasker/internal/platform/auth"
	"github.com/labtasker/labtasker/internal/platform/logger"
	"github.com/labtasker/labtasker/internal/platform/metrics"
	"github.com/labtasker/labtasker/internal/taskqueue/app/service"
	"github.com/labtasker/labtasker/internal/taskqueue/domain/model"
	"github.com/labtasker/labtasker/internal/taskqueue/storetest"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testQueueName = "experiments"
	testPassword  = "hunter2"
)

// testEnv runs the full API over the in-memory store so the tests
// exercise routing, auth, the service and the envelope together.
type testEnv struct {
	router *mux.Router
	store  *storetest.Store
	svc    *service.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := storetest.New()
	svc := service.New(store, auth.NewHasher(bcrypt.MinCost), metrics.NewMetrics("labtasker_http_test"), logger.NewNop())

	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1").Subrouter()
	Register(api, Deps{Service: svc, Logger: logger.NewNop(), Version: "test"})

	return &testEnv{router: router, store: store, svc: svc}
}

// do sends an unauthenticated request
func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	return e.doAs(t, method, path, body, "", "")
}

// authed sends a request with the default test queue credentials
func (e *testEnv) authed(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	return e.doAs(t, method, path, body, testQueueName, testPassword)
}

func (e *testEnv) doAs(t *testing.T, method, path string, body interface{}, user, password string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.SetBasicAuth(user, password)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// createQueue registers the default test queue and returns its id
func (e *testEnv) createQueue(t *testing.T) string {
	t.Helper()

	rec := e.do(t, http.MethodPost, "/api/v1/queues", map[string]interface{}{
		"queue_name": testQueueName,
		"password":   testPassword,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var queue model.Queue
	decodeData(t, rec, &queue)
	return queue.ID
}

// submitTask enqueues a task on the default test queue
func (e *testEnv) submitTask(t *testing.T, body map[string]interface{}) model.Task {
	t.Helper()

	if body == nil {
		body = map[string]interface{}{}
	}
	if _, ok := body["args"]; !ok {
		if _, ok := body["cmd"]; !ok {
			body["args"] = map[string]interface{}{"epoch": 1}
		}
	}

	rec := e.authed(t, http.MethodPost, "/api/v1/queues/me/tasks", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var task model.Task
	decodeData(t, rec, &task)
	return task
}

// createWorker registers a worker on the default test queue
func (e *testEnv) createWorker(t *testing.T, body map[string]interface{}) model.Worker {
	t.Helper()

	rec := e.authed(t, http.MethodPost, "/api/v1/queues/me/workers", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var worker model.Worker
	decodeData(t, rec, &worker)
	return worker
}

// envelope mirrors the response wrapper for assertions
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *errorInfo      `json:"error"`
	Meta    *metaInfo       `json:"meta"`
}

type errorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type metaInfo struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Count  int `json:"count"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

// decodeData asserts a successful envelope and unmarshals its payload
func decodeData(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()

	env := decodeEnvelope(t, rec)
	require.True(t, env.Success, rec.Body.String())
	require.NotEmpty(t, env.Data, rec.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, out))
}

// requireErrorCode asserts a failed envelope carrying the given code
func requireErrorCode(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()

	require.Equal(t, status, rec.Code, rec.Body.String())
	env := decodeEnvelope(t, rec)
	require.False(t, env.Success)
	require.NotNil(t, env.Error)
	require.Equal(t, code, env.Error.Code)
}
