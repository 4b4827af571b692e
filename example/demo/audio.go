package main

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/MarkKremer/microphone/v2"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"
)

const (
	bytesPerSample  = 2 // 16-bit mono PCM
	playLatency     = 200 * time.Millisecond
	captureFrames   = 1024
	playChannelSize = 48_000 // 1 s @ 48 kHz
)

// device bridges the default microphone and speaker to 16-bit mono PCM:
// Read pulls captured mic audio, Write queues audio for playback.
type device struct {
	mic *microphone.Streamer

	playCh chan [2]float64

	readMu  sync.Mutex
	readBuf []byte
}

func openDevice(sampleRate int) (*device, error) {
	sr := beep.SampleRate(sampleRate)

	if err := speaker.Init(sr, sr.N(playLatency)); err != nil {
		return nil, err
	}

	playCh := make(chan [2]float64, playChannelSize)
	speaker.Play(newChanStreamer(playCh))

	mic, _, err := microphone.OpenDefaultStream(sr, 1) // mono
	if err != nil {
		return nil, err
	}
	mic.Start()

	d := &device{
		mic:     mic,
		playCh:  playCh,
		readBuf: make([]byte, 0, 8192),
	}
	go d.captureLoop()
	return d, nil
}

func (d *device) Read(p []byte) (int, error) {
	for {
		d.readMu.Lock()
		if len(d.readBuf) > 0 {
			n := copy(p, d.readBuf)
			d.readBuf = d.readBuf[n:]
			d.readMu.Unlock()
			return n, nil
		}
		d.readMu.Unlock()
		time.Sleep(3 * time.Millisecond)
	}
}

func (d *device) Write(b []byte) (int, error) {
	if len(b)%bytesPerSample != 0 {
		return 0, errors.New("device: Write expects 16-bit mono PCM")
	}

	for i := 0; i < len(b); i += bytesPerSample {
		v := int16(binary.LittleEndian.Uint16(b[i:]))
		f := float64(v) / 32768.0
		d.playCh <- [2]float64{f, f} // duplicate to stereo
	}
	return len(b), nil
}

func (d *device) captureLoop() {
	frames := make([][2]float64, captureFrames)
	for {
		n, ok := d.mic.Stream(frames)
		if !ok {
			return
		}

		mono := samplesToPCM16Mono(frames[:n])

		d.readMu.Lock()
		d.readBuf = append(d.readBuf, mono...)
		d.readMu.Unlock()
	}
}

// Flush drops all audio queued for playback.
func (d *device) Flush() {
	for {
		select {
		case <-d.playCh:
		default:
			speaker.Lock()
			speaker.Clear()
			speaker.Unlock()
			return
		}
	}
}

func (d *device) Close() {
	d.mic.Close()
	speaker.Close()
}

func samplesToPCM16Mono(s [][2]float64) []byte {
	b := make([]byte, len(s)*bytesPerSample)
	for i, v := range s {
		m := int16(clamp(v[0]) * 32767) // left channel
		binary.LittleEndian.PutUint16(b[i*2:], uint16(m))
	}
	return b
}

func clamp(f float64) float64 {
	switch {
	case f > 1:
		return 1
	case f < -1:
		return -1
	default:
		return f
	}
}

// chanStreamer pulls samples from a channel; when the channel is empty it
// plays silence instead of glitching.
type chanStreamer struct {
	ch <-chan [2]float64
}

func newChanStreamer(ch <-chan [2]float64) *chanStreamer { return &chanStreamer{ch: ch} }

func (c *chanStreamer) Stream(buf [][2]float64) (int, bool) {
	for i := range buf {
		select {
		case smp := <-c.ch:
			buf[i] = smp
		default:
			buf[i] = [2]float64{}
		}
	}
	return len(buf), true
}

func (c *chanStreamer) Err() error { return nil }
