// Package sourceprobe enumerates the host's video and audio sources:
// cameras and screens for video, microphones/sink-monitors/playback for
// audio, plus a synthetic test source of each kind. It shells out to
// standard host tools (v4l2 sysfs entries, pactl) the way this codebase's
// other external-process integrations do, rather than binding a
// platform library directly.
package sourceprobe

import (
	"context"
	"hash/fnv"
	"log/slog"
	"os/exec"
	"sort"

	"github.com/kamkast/kamkast/internal/model"
)

// Entry is the {name, friendlyName} pair returned by the two listing
// operations, per spec.md §4.2.
type Entry struct {
	Name         string
	FriendlyName string
}

// Prober discovers video and audio sources. Its command runner is
// overridable for tests.
type Prober struct {
	log    *slog.Logger
	runner commandRunner
}

// commandRunner abstracts os/exec so tests can substitute canned output
// instead of shelling out to real host tools.
type commandRunner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// New creates a Prober that shells out to real host tools. If log is nil,
// slog.Default() is used.
func New(log *slog.Logger) *Prober {
	if log == nil {
		log = slog.Default()
	}
	return &Prober{log: log.With("component", "sourceprobe"), runner: execRunner{}}
}

// hashName derives a short numeric suffix from an identifying string, per
// spec.md §4.2's "monotonic names" rule: hotplug order must not shuffle
// ids, so the suffix is a stable hash rather than an enumeration index.
func hashName(prefix, id string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	n := h.Sum32() % 999
	return sprintf3(prefix, n)
}

func sprintf3(prefix string, n uint32) string {
	digits := [3]byte{'0', '0', '0'}
	for i := 2; i >= 0 && n > 0; i-- {
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	return prefix + string(digits[:])
}

// sortDescending sorts entries by Name descending, per spec.md §4.2.
func sortDescending(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name > entries[j].Name })
}

// dedupeByBusInfo removes duplicate entries with the same bus-info-derived
// name, keeping the first occurrence.
func dedupeByBusInfo(entries []Entry) []Entry {
	seen := make(map[string]bool, len(entries))
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if seen[e.Name] {
			continue
		}
		seen[e.Name] = true
		out = append(out, e)
	}
	return out
}

// syntheticVideoSources returns the fixed synthetic/test video source and
// its 16:9 letterbox variant, always present per spec.md §4.2.
func syntheticVideoSources() []model.VideoSource {
	base := model.VideoSource{
		Name:         "test",
		FriendlyName: "Synthetic test pattern",
		Kind:         model.VideoSynthetic,
		Capabilities: []model.Capability{{
			Codec:    "raw",
			PixelFmt: "yuv420p",
			FrameSpecs: []model.FrameSpec{
				{Width: 640, Height: 360, Framerates: []int{30}},
			},
		}},
		Transform: model.TransformIdentity,
	}
	letterboxed := base
	letterboxed.Name = "frame-169"
	letterboxed.FriendlyName = "Synthetic test pattern (16:9 letterbox)"
	letterboxed.Transform = model.TransformFrame169Rot0
	return []model.VideoSource{base, letterboxed}
}

// syntheticAudioSources returns the always-present virtual playback source, and
// its muted twin, per spec.md §4.2.
func syntheticAudioSources() []model.AudioSource {
	spec := model.SampleSpec{Format: model.SampleS16LE, Channels: 2, RateHz: 44100}
	return []model.AudioSource{
		{
			Name:         "playback",
			FriendlyName: "Application playback (follow loudest)",
			Kind:         model.AudioPlaybackFollow,
			Spec:         spec,
		},
		{
			Name:                    "playback-mute",
			FriendlyName:            "Application playback (muted while capturing)",
			Kind:                    model.AudioPlaybackFollow,
			Spec:                    spec,
			MuteUnderlyingSinkInput: true,
		},
	}
}
