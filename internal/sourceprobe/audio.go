package sourceprobe

import (
	"bufio"
	"context"
	"strconv"
	"strings"

	"github.com/kamkast/kamkast/internal/model"
)

// AudioSources returns every probed AudioSource: pactl-reported
// microphones and sink monitors, plus the synthetic playback sources.
func (p *Prober) AudioSources(ctx context.Context) ([]model.AudioSource, error) {
	var sources []model.AudioSource

	mics, err := p.probePactlSources(ctx)
	if err != nil {
		p.log.Warn("pactl source probe failed", "error", err)
	} else {
		sources = append(sources, mics...)
	}

	sources = append(sources, syntheticAudioSources()...)
	return sources, nil
}

// ListAudioSources returns the {name, friendlyName} pairs for all audio
// sources, sorted by name descending per spec.md §4.2.
func (p *Prober) ListAudioSources(ctx context.Context) ([]Entry, error) {
	sources, err := p.AudioSources(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(sources))
	for _, s := range sources {
		entries = append(entries, Entry{Name: s.Name, FriendlyName: s.FriendlyName})
	}
	entries = dedupeByBusInfo(entries)
	sortDescending(entries)
	return entries, nil
}

// pactlSourceRecord is the subset of a `pactl list sources` stanza this
// prober cares about.
type pactlSourceRecord struct {
	name        string
	description string
	isMonitor   bool
	activePort  string
	channels    int
	rateHz      int
}

// probePactlSources runs `pactl list sources` and parses its indented
// key/value stanza format, the same shape pactl has used since PulseAudio
// 1.0. Sources with no active port that are not sink monitors are
// skipped: an inactive physical input is not worth offering as a capture
// candidate, per spec.md §4.2.
func (p *Prober) probePactlSources(ctx context.Context) ([]model.AudioSource, error) {
	out, err := p.runner.Output(ctx, "pactl", "list", "sources")
	if err != nil {
		return nil, err
	}
	records := parsePactlSources(string(out))

	var result []model.AudioSource
	for _, r := range records {
		if r.activePort == "" && !r.isMonitor {
			continue
		}
		kind := model.AudioMicrophone
		if r.isMonitor {
			kind = model.AudioSinkMonitor
		}
		channels := r.channels
		if channels == 0 {
			channels = 2
		}
		rate := r.rateHz
		if rate == 0 {
			rate = 44100
		}
		friendly := r.description
		if friendly == "" {
			friendly = r.name
		}
		result = append(result, model.AudioSource{
			Name:         hashName("mic-", r.name),
			FriendlyName: friendly,
			Device:       r.name,
			Kind:         kind,
			Spec: model.SampleSpec{
				Format:   model.SampleS16LE,
				Channels: channels,
				RateHz:   rate,
			},
		})
	}
	return result, nil
}

// parsePactlSources parses the block-and-indented-key/value format pactl
// emits for `pactl list sources`. Each source stanza begins with a line
// of the form "Source #N", followed by indented "Key: Value" lines.
func parsePactlSources(text string) []pactlSourceRecord {
	var records []pactlSourceRecord
	var cur *pactlSourceRecord

	flush := func() {
		if cur != nil {
			records = append(records, *cur)
			cur = nil
		}
	}

	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "Source #") {
			flush()
			cur = &pactlSourceRecord{}
			continue
		}
		if cur == nil {
			continue
		}

		switch {
		case strings.HasPrefix(trimmed, "Name:"):
			cur.name = strings.TrimSpace(strings.TrimPrefix(trimmed, "Name:"))
			cur.isMonitor = strings.HasSuffix(cur.name, ".monitor")
		case strings.HasPrefix(trimmed, "Description:"):
			cur.description = strings.TrimSpace(strings.TrimPrefix(trimmed, "Description:"))
		case strings.HasPrefix(trimmed, "Active Port:"):
			port := strings.TrimSpace(strings.TrimPrefix(trimmed, "Active Port:"))
			if port != "" && port != "<unknown>" && port != "[none]" {
				cur.activePort = port
			}
		case strings.HasPrefix(trimmed, "Sample Specification:"):
			spec := strings.TrimSpace(strings.TrimPrefix(trimmed, "Sample Specification:"))
			cur.channels, cur.rateHz = parsePactlSampleSpec(spec)
		}
	}
	flush()
	return records
}

// parsePactlSampleSpec parses strings shaped like "s16le 2ch 44100Hz".
func parsePactlSampleSpec(spec string) (channels, rateHz int) {
	for _, field := range strings.Fields(spec) {
		switch {
		case strings.HasSuffix(field, "ch"):
			n, err := strconv.Atoi(strings.TrimSuffix(field, "ch"))
			if err == nil {
				channels = n
			}
		case strings.HasSuffix(field, "Hz"):
			n, err := strconv.Atoi(strings.TrimSuffix(field, "Hz"))
			if err == nil {
				rateHz = n
			}
		}
	}
	return channels, rateHz
}
