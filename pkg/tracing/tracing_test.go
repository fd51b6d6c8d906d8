package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/NikhilSetiya/voxgate/pkg/logging"
)

func newRecordingService() (*TracingService, *tracetest.SpanRecorder) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	return NewWithTracer(tp.Tracer("test")), recorder
}

func TestNewTracingService_Disabled(t *testing.T) {
	ts, err := NewTracingService(&Config{Enabled: false})
	require.NoError(t, err)

	client := &http.Client{}
	assert.Same(t, client, ts.InstrumentHTTPClient(client))
	assert.Nil(t, client.Transport)
	assert.NoError(t, ts.Shutdown(context.Background()))
}

func TestRecordError(t *testing.T) {
	ts, recorder := newRecordingService()

	ctx, span := ts.Tracer().Start(context.Background(), "call")
	assert.NotEmpty(t, GetTraceID(ctx))
	ts.RecordError(span, errors.New("boom"))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "boom", spans[0].Status().Description)
}

func TestInstrumentHTTPClient_PropagatesContext(t *testing.T) {
	ts, recorder := newRecordingService()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := ts.InstrumentHTTPClient(&http.Client{})
	resp, err := client.Get(server.URL + "/v2/transcript")
	require.NoError(t, err)
	resp.Body.Close()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "HTTP GET", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestTracingMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ts, recorder := newRecordingService()

	var traceID string
	router := gin.New()
	router.Use(ts.TracingMiddleware())
	router.GET("/health", func(c *gin.Context) {
		traceID = logging.GetLogger().WithContext(c.Request.Context()).Data["trace_id"].(string)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, recorder.Ended(), 1)
	assert.Equal(t, "GET /health", recorder.Ended()[0].Name())
	assert.Equal(t, recorder.Ended()[0].SpanContext().TraceID().String(), traceID)
}

func TestGetTraceID_NoSpan(t *testing.T) {
	assert.Empty(t, GetTraceID(context.Background()))
	assert.Empty(t, GetSpanID(context.Background()))
}
