package avpipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/kamkast/kamkast/internal/model"
)

type fakeEncoderRunner struct {
	available map[string]bool
}

func (f fakeEncoderRunner) Probe(_ context.Context, _ string, args []string) error {
	for _, a := range args {
		if f.available[a] {
			return nil
		}
	}
	return errors.New("not available")
}

func TestSelectEncoderAutoPrefersHardwareM2M(t *testing.T) {
	t.Parallel()
	runner := fakeEncoderRunner{available: map[string]bool{"encoder=h264_v4l2m2m": true, "encoder=libx264": true}}
	kind, name, err := SelectEncoder(context.Background(), "ffmpeg", model.EncoderAuto, runner)
	if err != nil {
		t.Fatalf("SelectEncoder: %v", err)
	}
	if kind != model.EncoderH264V4L2M2M || name != "h264_v4l2m2m" {
		t.Fatalf("got %v/%s, want v4l2m2m first", kind, name)
	}
}

func TestSelectEncoderAutoFallsBackToCPU(t *testing.T) {
	t.Parallel()
	runner := fakeEncoderRunner{available: map[string]bool{"encoder=libx264": true}}
	kind, _, err := SelectEncoder(context.Background(), "ffmpeg", model.EncoderAuto, runner)
	if err != nil {
		t.Fatalf("SelectEncoder: %v", err)
	}
	if kind != model.EncoderH264CPU {
		t.Fatalf("got %v, want CPU fallback", kind)
	}
}

func TestSelectEncoderAutoErrorsWhenNoneAvailable(t *testing.T) {
	t.Parallel()
	runner := fakeEncoderRunner{available: map[string]bool{}}
	if _, _, err := SelectEncoder(context.Background(), "ffmpeg", model.EncoderAuto, runner); err == nil {
		t.Fatalf("expected error when no encoder backend is available")
	}
}

func TestSelectEncoderExplicitBypassesProbing(t *testing.T) {
	t.Parallel()
	runner := fakeEncoderRunner{available: map[string]bool{}}
	kind, name, err := SelectEncoder(context.Background(), "ffmpeg", model.EncoderH264NVENC, runner)
	if err != nil {
		t.Fatalf("SelectEncoder: %v", err)
	}
	if kind != model.EncoderH264NVENC || name != "h264_nvenc" {
		t.Fatalf("got %v/%s, want explicit nvenc request honored", kind, name)
	}
}

func TestSelectPixfmtPrefersMatchingCapability(t *testing.T) {
	t.Parallel()
	got := SelectPixfmt([]string{"nv12", "yuv420p"}, "yuv420p")
	if got != "yuv420p" {
		t.Fatalf("got %q, want yuv420p", got)
	}
}

func TestSelectPixfmtFallsBackToEncoderFirstNice(t *testing.T) {
	t.Parallel()
	got := SelectPixfmt([]string{"nv12"}, "yuvj420p")
	if got != "nv12" {
		t.Fatalf("got %q, want encoder's first nice pixfmt nv12", got)
	}
}
