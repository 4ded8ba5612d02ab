package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/radiogate/pkg/audio"
	"github.com/MrWong99/radiogate/pkg/audio/memory"
)

func TestTransport_TracksState(t *testing.T) {
	t.Parallel()

	tr := memory.New()
	ctx := context.Background()

	if err := tr.SetSource(audio.Secondary, "ad.mp3"); err != nil {
		t.Fatal(err)
	}
	if err := tr.Play(ctx, audio.Secondary); err != nil {
		t.Fatal(err)
	}
	if err := tr.SetVolume(audio.Secondary, 1.7); err != nil {
		t.Fatal(err)
	}
	if err := tr.SetMuted(audio.Primary, true); err != nil {
		t.Fatal(err)
	}

	want := audio.ChannelState{Volume: 1, Playing: true, Source: "ad.mp3"}
	if got := tr.State(audio.Secondary); got != want {
		t.Errorf("secondary = %+v, want %+v", got, want)
	}
	if got := tr.State(audio.Primary); !got.Muted || got.Playing {
		t.Errorf("primary = %+v, want muted and paused", got)
	}

	if err := tr.Pause(ctx, audio.Secondary); err != nil {
		t.Fatal(err)
	}
	if tr.State(audio.Secondary).Playing {
		t.Error("secondary still playing after Pause")
	}
}

func TestTransport_CancelledContext(t *testing.T) {
	t.Parallel()

	tr := memory.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := tr.Play(ctx, audio.Primary); !errors.Is(err, context.Canceled) {
		t.Errorf("Play err = %v, want Canceled", err)
	}
	if tr.State(audio.Primary).Playing {
		t.Error("Play with cancelled context changed state")
	}
}
