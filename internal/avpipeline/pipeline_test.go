package avpipeline

import (
	"errors"
	"sync"
	"testing"

	"github.com/kamkast/kamkast/internal/clock"
	"github.com/kamkast/kamkast/internal/databuffer"
	"github.com/kamkast/kamkast/internal/model"
	"github.com/kamkast/kamkast/internal/mux"
)

type fakeMuxer struct {
	video []mux.Packet
	audio []mux.Packet
}

func (m *fakeMuxer) WriteVideoPacket(pkt mux.Packet) error {
	m.video = append(m.video, pkt)
	return nil
}

func (m *fakeMuxer) WriteAudioPacket(pkt mux.Packet) error {
	m.audio = append(m.audio, pkt)
	return nil
}

type queueVideoSource struct {
	packets []mux.Packet
	i       int
}

func (q *queueVideoSource) ReadPacket() (mux.Packet, bool, bool, error) {
	if q.i >= len(q.packets) {
		return mux.Packet{}, false, false, nil
	}
	pkt := q.packets[q.i]
	q.i++
	return pkt, false, true, nil
}

func TestMuxVideoAssignsMonotonicPts(t *testing.T) {
	t.Parallel()
	m := &fakeMuxer{}
	sched := clock.New(30, 1024, 44100)
	p := New(nil, m, sched, true, false, model.SampleSpec{}, 1.0, 0)

	src := &queueVideoSource{packets: []mux.Packet{
		{KeyFrame: true, Data: []byte{1}},
		{Data: []byte{2}},
		{Data: []byte{3}},
	}}

	now := int64(0)
	for i := 0; i < 3; i++ {
		wrote, err := p.MuxVideo(src, now)
		if err != nil {
			t.Fatalf("MuxVideo: %v", err)
		}
		if !wrote {
			t.Fatalf("expected packet %d to be written", i)
		}
		now += sched.VideoFrameDuration() * 2
	}

	if len(m.video) != 3 {
		t.Fatalf("expected 3 muxed video packets, got %d", len(m.video))
	}
	for i := 1; i < len(m.video); i++ {
		if m.video[i].PTS <= m.video[i-1].PTS {
			t.Fatalf("PTS not strictly increasing at index %d", i)
		}
	}
}

func TestMuxVideoNoDataYetReturnsFalseWithoutError(t *testing.T) {
	t.Parallel()
	m := &fakeMuxer{}
	sched := clock.New(30, 1024, 44100)
	p := New(nil, m, sched, true, false, model.SampleSpec{}, 1.0, 0)
	src := &queueVideoSource{}

	wrote, err := p.MuxVideo(src, 0)
	if err != nil || wrote {
		t.Fatalf("expected (false, nil) when no data yet, got (%v, %v)", wrote, err)
	}
}

type erroringVideoSource struct{}

func (erroringVideoSource) ReadPacket() (mux.Packet, bool, bool, error) {
	return mux.Packet{}, false, false, errors.New("decoder failure")
}

func TestMuxVideoPropagatesReadError(t *testing.T) {
	t.Parallel()
	m := &fakeMuxer{}
	sched := clock.New(30, 1024, 44100)
	p := New(nil, m, sched, true, false, model.SampleSpec{}, 1.0, 0)

	_, err := p.MuxVideo(erroringVideoSource{}, 0)
	if err == nil {
		t.Fatalf("expected error to propagate")
	}
}

func TestMuxAudioPadsWithSilenceWhenSourceMuted(t *testing.T) {
	t.Parallel()
	m := &fakeMuxer{}
	sched := clock.New(0, 1024, 44100)
	spec := model.SampleSpec{Format: model.SampleS16LE, Channels: 2, RateHz: 44100}
	p := New(nil, m, sched, false, true, spec, 1.0, 256)

	buf := databuffer.New(1024, 65536)
	var mtx sync.Mutex

	// delay is now-(lastAudioTs+frameDur) with lastAudioTs=0, so now must be >= 2*frameDur to proceed.
	now := sched.AudioFrameDuration() * 2
	if err := p.MuxAudio(buf, &mtx, now, true, true); err != nil {
		t.Fatalf("MuxAudio: %v", err)
	}
	if len(m.audio) != 1 {
		t.Fatalf("expected one audio frame written, got %d", len(m.audio))
	}
	if len(m.audio[0].Data) != 256 {
		t.Fatalf("expected padded frame of 256 bytes, got %d", len(m.audio[0].Data))
	}
}

func TestMuxAudioWaitsWhenNotEnoughDataAndNoPaddingCondition(t *testing.T) {
	t.Parallel()
	m := &fakeMuxer{}
	sched := clock.New(0, 1024, 44100)
	spec := model.SampleSpec{Format: model.SampleS16LE, Channels: 2, RateHz: 44100}
	p := New(nil, m, sched, false, true, spec, 1.0, 256)

	buf := databuffer.New(1024, 65536)
	var mtx sync.Mutex

	now := sched.AudioFrameDuration() * 2
	// paStreamAbsent=false, muted=false, delay not > 2*frameDur (now chosen exactly): should wait, not pad.
	if err := p.MuxAudio(buf, &mtx, now, false, false); err != nil {
		t.Fatalf("MuxAudio: %v", err)
	}
	if len(m.audio) != 0 {
		t.Fatalf("expected no audio frame written while waiting for real data")
	}
}
