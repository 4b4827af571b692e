// Command demo runs a live interpreter session against the default
// microphone and speaker: speak in any language, hear the translation.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	realtime "github.com/lingobridge/realtime-go"
)

func must(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var (
		language   = "German"
		sampleRate = 48_000
		debug      = false
	)
	flag.StringVar(&language, "language", language, "language to translate into")
	flag.IntVar(&sampleRate, "sample-rate", sampleRate, "mic and speaker sample rate")
	flag.BoolVar(&debug, "debug", debug, "enable debug logs")
	flag.Parse()

	slog.SetLogLoggerLevel(slog.LevelError)
	if debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	client := realtime.New(
		realtime.WithDefaultLogger(),
		realtime.WithInstruction(fmt.Sprintf(
			"You are a simultaneous interpreter. Translate everything you hear into %s and say nothing else.", language)),
		realtime.WithSampleRate(sampleRate),
		realtime.WithLatency(200),
	)

	client.On(realtime.EventItemCompleted, func(e any) {
		item := e.(realtime.ItemEvent).Item
		if item.Formatted.Transcript != "" {
			fmt.Printf("%s> %s\n", item.Role, item.Formatted.Transcript)
		}
	})

	must(client.Connect(ctx))
	defer client.Disconnect(context.Background())
	must(client.WaitForSessionCreated(ctx))

	bridge := realtime.NewAudioIO(client)
	defer bridge.Close()

	device, err := openDevice(sampleRate)
	must(err)
	defer device.Close()

	// Drop queued playback the moment the speaker is interrupted.
	client.On(realtime.EventConversationInterrupted, func(any) {
		device.Flush()
	})

	// mic -> session
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := device.Read(buf)
			if err != nil {
				return
			}
			if _, err := bridge.Writer().Write(buf[:n]); err != nil {
				return
			}
		}
	}()

	// session -> speaker
	go func() {
		buf := make([]byte, sampleRate/5*2)
		for {
			n, err := bridge.Reader().Read(buf)
			if err != nil {
				return
			}
			if _, err := device.Write(buf[:n]); err != nil {
				return
			}
		}
	}()

	go func() {
		if err := bridge.Pump(ctx); err != nil && ctx.Err() == nil {
			slog.Error("audio pump stopped", slog.Any("err", err))
		}
	}()

	fmt.Printf("translating into %s, press ctrl-c to stop\n", language)
	<-ctx.Done()
}
