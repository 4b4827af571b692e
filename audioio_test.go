package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAudioIORoundTrip(t *testing.T) {
	s := newTestSession(t, WithSampleRate(SampleRate), WithLatency(200))
	bridge := NewAudioIO(s.client)

	chunk := pcmRamp(chunkSizeFor(SampleRate, 200*time.Millisecond))

	// Participant microphone audio flows through the pump into the
	// session input buffer as one latency-sized append.
	_, err := bridge.Writer().Write(chunk)
	require.NoError(t, err)

	pumpDone := make(chan error, 1)
	go func() { pumpDone <- bridge.Pump(context.Background()) }()

	require.Eventually(t, func() bool {
		return s.conn.countType("input_audio_buffer.append") == 1
	}, waitTimeout, waitTick)
	frame := s.conn.lastOfType(t, "input_audio_buffer.append")
	assert.Equal(t, EncodeAudio(chunk), frame["audio"])

	// Assistant audio deltas come back out of the reader.
	s.deliver(itemCreated(assistantMessage("item_1")))
	s.deliver(map[string]any{
		"type": "response.audio.delta", "item_id": "item_1", "delta": EncodeAudio(chunk),
	})

	out := make([]byte, len(chunk))
	n, err := bridge.Reader().Read(out)
	require.NoError(t, err)
	assert.Equal(t, chunk, out[:n])

	bridge.Close()
	require.NoError(t, <-pumpDone)
}

func TestAudioIOPumpStopsOnCancel(t *testing.T) {
	s := newTestSession(t)
	bridge := NewAudioIO(s.client)
	defer bridge.Close()

	ctx, cancel := context.WithCancel(context.Background())
	pumpDone := make(chan error, 1)
	go func() { pumpDone <- bridge.Pump(ctx) }()

	cancel()
	// The pump may be blocked on an empty input ring; closing the bridge
	// unblocks it so the cancellation is observed.
	bridge.Close()

	select {
	case err := <-pumpDone:
		if err != nil {
			require.ErrorIs(t, err, context.Canceled)
		}
	case <-time.After(waitTimeout):
		t.Fatal("pump did not stop")
	}
}
