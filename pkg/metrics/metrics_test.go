package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordErrorCountsByClassAndKind(t *testing.T) {
	series := errorsTotal.WithLabelValues("Internal error", "AudioStart")
	before := testutil.ToFloat64(series)

	RecordError("Internal error", "AudioStart")

	assert.Equal(t, before+1, testutil.ToFloat64(series))
}

func TestRecordCommandCountsByOutcome(t *testing.T) {
	ok := commandsTotal.WithLabelValues("play", "ok")
	failed := commandsTotal.WithLabelValues("play", "error")
	okBefore := testutil.ToFloat64(ok)
	failedBefore := testutil.ToFloat64(failed)

	RecordCommand("play", "ok")
	RecordCommand("play", "ok")
	RecordCommand("play", "error")

	assert.Equal(t, okBefore+2, testutil.ToFloat64(ok))
	assert.Equal(t, failedBefore+1, testutil.ToFloat64(failed))
}

func TestRecordHTTPRequestCountsByOutcome(t *testing.T) {
	series := httpRequestsTotal.WithLabelValues(OutcomeSuccess)
	before := testutil.ToFloat64(series)

	RecordHTTPRequest(OutcomeSuccess, 120*time.Millisecond)
	RecordHTTPRequest(OutcomeSuccess, 80*time.Millisecond)

	assert.Equal(t, before+2, testutil.ToFloat64(series))
}

func TestSetQueueDepthTracksLatestValue(t *testing.T) {
	gauge := queueDepth.WithLabelValues("100")

	SetQueueDepth("100", 3)
	assert.Equal(t, 3.0, testutil.ToFloat64(gauge))

	SetQueueDepth("100", 0)
	assert.Equal(t, 0.0, testutil.ToFloat64(gauge))
}

func TestRecordVoiceFramesAddsBatches(t *testing.T) {
	before := testutil.ToFloat64(voiceFramesSentTotal)

	RecordVoiceFrames(50)

	assert.Equal(t, before+50, testutil.ToFloat64(voiceFramesSentTotal))
}

func TestHandlerServesExposition(t *testing.T) {
	RecordTrackQueued()
	RecordGatewayEvent("MESSAGE_CREATE")

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, "veebot_tracks_queued_total")
	assert.Contains(t, text, `veebot_gateway_events_total{event="MESSAGE_CREATE"}`)
	assert.Contains(t, text, "veebot_queue_depth")
}
