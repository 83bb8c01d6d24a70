package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesRecordedSeries(t *testing.T) {
	done := TrackInFlight()
	ObserveRequest(http.MethodGet, "/api/documents/{id}", http.StatusOK, 12*time.Millisecond)
	done()
	RecordAIStream("openai", "ok")
	RecordAIChunk("openai")

	rr := httptest.NewRecorder()
	Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.True(t, strings.Contains(body, `inkwell_http_requests_total{method="GET",route="/api/documents/{id}",status="200"}`))
	assert.True(t, strings.Contains(body, `inkwell_ai_streams_total{outcome="ok",provider="openai"}`))
	assert.True(t, strings.Contains(body, "inkwell_ai_chunks_total"))
}
