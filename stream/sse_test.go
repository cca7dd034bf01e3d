package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decodeSSE parses a recorded event stream body.
func decodeSSE(t *testing.T, body string) []Event {
	t.Helper()

	var events []Event

	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}

		require.True(t, strings.HasPrefix(line, "data: "), "unexpected line %q", line)

		var ev Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}

	return events
}

func TestWriter_Framing(t *testing.T) {
	rec := httptest.NewRecorder()
	SetHeaders(rec.Header())

	w := NewWriter(rec)
	require.NoError(t, w.WriteEvent(Content("hi")))
	require.NoError(t, w.WriteEvent(End()))

	assert.Equal(t, ContentType, rec.Header().Get("Content-Type"))
	assert.True(t, rec.Flushed)
	assert.Equal(t, "data: {\"type\":\"content\",\"content\":\"hi\"}\n\ndata: {\"type\":\"end\"}\n\n", rec.Body.String())
}

func TestWriter_WriteAll(t *testing.T) {
	ch := make(chan Event, 3)
	ch <- Checkpoint("t")
	ch <- SearchResults([]string{"u"})
	ch <- End()
	close(ch)

	rec := httptest.NewRecorder()
	require.NoError(t, NewWriter(rec).WriteAll(context.Background(), ch))

	assert.Equal(t, []Event{Checkpoint("t"), SearchResults([]string{"u"}), End()}, decodeSSE(t, rec.Body.String()))
}
