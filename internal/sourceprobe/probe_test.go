package sourceprobe

import (
	"context"
	"errors"
	"log/slog"
	"testing"
)

type fakeRunner struct {
	outputs map[string][]byte
	errs    map[string]error
}

func (f fakeRunner) Output(_ context.Context, name string, args ...string) ([]byte, error) {
	key := name
	for _, a := range args {
		key += " " + a
	}
	if err, ok := f.errs[key]; ok {
		return nil, err
	}
	if out, ok := f.outputs[key]; ok {
		return out, nil
	}
	return nil, errors.New("fakeRunner: no canned output for " + key)
}

const pactlListSourcesFixture = `Source #0
	State: SUSPENDED
	Name: alsa_input.pci-0000_00_1f.3.analog-stereo
	Description: Built-in Microphone
	Active Port: analog-input-mic
	Sample Specification: s16le 2ch 44100Hz

Source #1
	State: RUNNING
	Name: alsa_output.pci-0000_00_1f.3.analog-stereo.monitor
	Description: Monitor of Built-in Audio
	Active Port: <unknown>
	Sample Specification: s16le 2ch 48000Hz

Source #2
	State: SUSPENDED
	Name: alsa_input.usb-Unused_Webcam-02.analog-mono
	Description: Unplugged webcam mic
	Active Port: [none]
	Sample Specification: s16le 1ch 16000Hz
`

func TestListAudioSourcesIncludesMonitorsAndActiveMics(t *testing.T) {
	t.Parallel()
	p := &Prober{
		log:    slog.Default(),
		runner: fakeRunner{outputs: map[string][]byte{"pactl list sources": []byte(pactlListSourcesFixture)}},
	}

	entries, err := p.ListAudioSources(context.Background())
	if err != nil {
		t.Fatalf("ListAudioSources: %v", err)
	}

	names := make(map[string]bool)
	for _, e := range entries {
		names[e.FriendlyName] = true
	}

	if !names["Built-in Microphone"] {
		t.Errorf("expected active microphone to be listed: %v", entries)
	}
	if !names["Monitor of Built-in Audio"] {
		t.Errorf("expected sink monitor to be listed regardless of active port: %v", entries)
	}
	if names["Unplugged webcam mic"] {
		t.Errorf("source with no active port and not a monitor must be skipped: %v", entries)
	}
	if !names["Application playback (follow loudest)"] || !names["Application playback (muted while capturing)"] {
		t.Errorf("expected synthetic playback sources present: %v", entries)
	}
}

func TestListAudioSourcesSortedDescending(t *testing.T) {
	t.Parallel()
	p := &Prober{
		log:    slog.Default(),
		runner: fakeRunner{outputs: map[string][]byte{"pactl list sources": []byte(pactlListSourcesFixture)}},
	}

	entries, err := p.ListAudioSources(context.Background())
	if err != nil {
		t.Fatalf("ListAudioSources: %v", err)
	}
	for i := 1; i < len(entries); i++ {
		if entries[i-1].Name < entries[i].Name {
			t.Fatalf("entries not sorted descending: %v", entries)
		}
	}
}

func TestListAudioSourcesGracefulWhenPactlMissing(t *testing.T) {
	t.Parallel()
	p := &Prober{
		log:    slog.Default(),
		runner: fakeRunner{errs: map[string]error{"pactl list sources": errors.New("exec: not found")}},
	}

	entries, err := p.ListAudioSources(context.Background())
	if err != nil {
		t.Fatalf("ListAudioSources should not fail outright when pactl is missing: %v", err)
	}
	// Synthetic sources still present even without pactl.
	if len(entries) != 2 {
		t.Fatalf("expected only the two synthetic playback sources, got %v", entries)
	}
}

func TestListVideoSourcesAlwaysIncludesSynthetic(t *testing.T) {
	t.Parallel()
	p := &Prober{
		log:    slog.Default(),
		runner: fakeRunner{errs: map[string]error{"xrandr --listmonitors": errors.New("exec: not found")}},
	}

	entries, err := p.ListVideoSources(context.Background())
	if err != nil {
		t.Fatalf("ListVideoSources: %v", err)
	}

	names := make(map[string]bool)
	for _, e := range entries {
		names[e.Name] = true
	}
	if !names["test"] || !names["frame-169"] {
		t.Errorf("expected synthetic video sources present: %v", entries)
	}
}

func TestHashNameStableAndThreeDigits(t *testing.T) {
	t.Parallel()
	a := hashName("cam-", "pci-0000:00:14.0-usb-0:1:1.0")
	b := hashName("cam-", "pci-0000:00:14.0-usb-0:1:1.0")
	if a != b {
		t.Fatalf("hashName not stable: %q vs %q", a, b)
	}
	if len(a) != len("cam-")+3 {
		t.Fatalf("expected 3 digit suffix, got %q", a)
	}
}

func TestParsePactlSampleSpec(t *testing.T) {
	t.Parallel()
	ch, rate := parsePactlSampleSpec("s16le 2ch 44100Hz")
	if ch != 2 || rate != 44100 {
		t.Fatalf("got channels=%d rate=%d, want 2, 44100", ch, rate)
	}
}
