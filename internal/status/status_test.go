package status

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unklstewy/vega-mount/pkg/clock"
)

func TestMerge(t *testing.T) {
	tests := []struct {
		name string
		a, b Status
		want Status
	}{
		{"error beats warning", Warn("slow"), Fail("stalled"), Fail("stalled")},
		{"warning beats success", Warn("slow"), OK("fine"), Warn("slow")},
		{"equal severities join", Warn("az slow"), Warn("el slow"), Warn("az slow; el slow")},
		{"empty first message", OK(""), OK("read"), OK("read")},
		{"empty second message", Fail("a"), Fail(""), Fail("a")},
		{"both empty", OK(""), OK(""), OK("")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, Merge(tt.a, tt.b)); diff != "" {
				t.Errorf("Merge mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMergeAll(t *testing.T) {
	got := MergeAll(OK("a"), Warn("b"), Warn("c"), OK("d"))
	assert.Equal(t, Warn("b; c"), got)
	assert.Equal(t, Status{}, MergeAll())
}

func TestParseSeverity(t *testing.T) {
	for _, s := range []Severity{None, Warning, Error} {
		got, err := ParseSeverity(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseSeverity("fatal")
	assert.Error(t, err)
}

func TestPublisherWritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	at := time.Unix(1704063600, 0)
	p := NewPublisher(&buf, clock.Fixed(at))

	require.NoError(t, p.Ack(OK("pong")))
	require.NoError(t, p.Position(185.09, 73.43, OK("")))
	require.NoError(t, p.Position(0, 0, Fail("encoder offline")))
	require.NoError(t, p.Timestamp())
	require.NoError(t, p.Filtered(OK("not sent")))
	require.NoError(t, p.Filtered(Warn("sent")))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)

	var ack Message
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &ack))
	assert.Equal(t, TypeAcknowledgement, ack.Type)
	assert.Equal(t, None, ack.Status)
	assert.Equal(t, "pong", ack.Payload)
	assert.Equal(t, 1704063600.0, ack.Timestamp)

	var pos struct {
		Type    MessageType `json:"type"`
		Status  string      `json:"status"`
		Payload Position    `json:"payload"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &pos))
	assert.Equal(t, TypePosition, pos.Type)
	assert.Equal(t, "success", pos.Status)
	assert.InDelta(t, 185.09, pos.Payload.Azimuth, 1e-9)

	var posErr Message
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &posErr))
	assert.Equal(t, Error, posErr.Status)
	assert.Equal(t, "encoder offline", posErr.Payload)

	var ts Message
	require.NoError(t, json.Unmarshal([]byte(lines[3]), &ts))
	assert.Equal(t, TypeTimestamp, ts.Type)
	assert.Equal(t, "1704063600.000", ts.Payload)

	var filtered Message
	require.NoError(t, json.Unmarshal([]byte(lines[4]), &filtered))
	assert.Equal(t, Warning, filtered.Status)
}

func TestPublisherConcurrentWritesStayWhole(t *testing.T) {
	var buf bytes.Buffer
	p := NewPublisher(&buf, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = p.Info("tick")
			}
		}()
	}
	wg.Wait()

	scanner := bufio.NewScanner(&buf)
	n := 0
	for scanner.Scan() {
		var m Message
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &m))
		n++
	}
	assert.Equal(t, 1000, n)
}
