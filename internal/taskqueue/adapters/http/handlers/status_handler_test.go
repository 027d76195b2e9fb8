package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var status StatusResponse
	decodeData(t, rec, &status)
	assert.Equal(t, "test", status.Version)
	require.NotNil(t, status.System)
	assert.NotEmpty(t, status.System.GoVersion)
	assert.Positive(t, status.System.Goroutines)
}
