package realtime

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/smallnest/ringbuffer"
)

// AudioIO bridges a participant's audio device to a session. The
// participant writes microphone PCM16 at its own sample rate and reads
// back assistant speech at the same rate; AudioIO resamples both
// directions to and from the fixed session rate and re-blocks input into
// latency-sized chunks. Assistant output queued for playback is dropped
// the moment the participant starts speaking again.
type AudioIO struct {
	client       *Client
	input        *ringbuffer.RingBuffer
	output       *ringbuffer.RingBuffer
	inputReader  io.Reader
	inputWriter  io.Writer
	outputReader io.Reader
	latency      time.Duration
	logger       *slog.Logger
}

// NewAudioIO wires an audio bridge onto the client using its configured
// participant sample rate and latency.
func NewAudioIO(client *Client) *AudioIO {
	participantRate := client.config.sampleRate
	latency := time.Duration(client.config.latencyMS) * time.Millisecond

	input := ringbuffer.New(chunkSizeFor(SampleRate, latency) * 4).SetBlocking(true)
	output := ringbuffer.New(chunkSizeFor(SampleRate, 60*time.Second) * 2).SetBlocking(true)

	a := &AudioIO{
		client:      client,
		input:       input,
		output:      output,
		inputReader: NewAudioChunkReader(input, SampleRate, latency),
		inputWriter: &ResampleWriter{
			Sink:     input,
			FromRate: participantRate,
			ToRate:   SampleRate,
		},
		outputReader: NewAudioChunkReader(&resampleReader{
			src:      output,
			fromRate: SampleRate,
			toRate:   participantRate,
		}, participantRate, latency),
		latency: latency,
		logger:  client.logger,
	}

	client.On(EventConversationUpdated, func(e any) {
		update, ok := e.(ConversationUpdate)
		if !ok || update.Delta == nil || len(update.Delta.Audio) == 0 {
			return
		}
		if _, err := a.output.Write(update.Delta.Audio); err != nil {
			a.logger.Error("audio output buffer write failed", slog.Any("err", err))
		}
	})
	client.On(EventConversationInterrupted, func(any) {
		a.output.Reset()
	})

	return a
}

// Writer is where the participant writes microphone audio.
func (a *AudioIO) Writer() io.Writer { return a.inputWriter }

// Reader is where the participant reads assistant audio.
func (a *AudioIO) Reader() io.Reader { return a.outputReader }

// Pump forwards buffered microphone audio to the session in fixed
// latency-sized chunks until ctx is cancelled or the buffers close.
func (a *AudioIO) Pump(ctx context.Context) error {
	chunk := make([]byte, chunkSizeFor(SampleRate, a.latency))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := a.inputReader.Read(chunk)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if err := a.client.AppendInputAudio(chunk[:n]); err != nil {
			return err
		}
	}
}

// Close releases both ring buffers, unblocking any pending reads.
func (a *AudioIO) Close() {
	a.input.CloseWriter()
	a.output.CloseWriter()
}

// resampleReader converts session-rate PCM16 to the participant rate as
// it is read.
type resampleReader struct {
	src      io.Reader
	fromRate int
	toRate   int
	pending  []byte
}

func (r *resampleReader) Read(p []byte) (int, error) {
	if len(r.pending) == 0 {
		raw := make([]byte, 4096)
		n, err := r.src.Read(raw)
		if n > 0 {
			out, rerr := ResamplePCM(raw[:n], r.fromRate, r.toRate)
			if rerr != nil {
				return 0, rerr
			}
			r.pending = out
		}
		if err != nil && len(r.pending) == 0 {
			return 0, err
		}
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}
