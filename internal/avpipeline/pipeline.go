package avpipeline

import (
	"log/slog"
	"sync"

	"github.com/kamkast/kamkast/internal/clock"
	"github.com/kamkast/kamkast/internal/databuffer"
	"github.com/kamkast/kamkast/internal/model"
	"github.com/kamkast/kamkast/internal/mux"
)

// VideoPacketSource is read by the muxing thread once per video frame.
// ok=false means "no data yet, try again"; the caller distinguishes this
// from an error, which is fatal to the session.
type VideoPacketSource interface {
	ReadPacket() (pkt mux.Packet, corrupt bool, ok bool, err error)
}

// Pipeline runs the per-frame video and audio muxing algorithms of
// spec.md §4.5 against an already-open mux.Muxer. It owns no threads
// itself — Caster's muxing thread drives it in a loop — but owns the
// restart/key-packet-cache state and the clock.Scheduler.
type Pipeline struct {
	log *slog.Logger

	muxer mux.Muxer
	clock *clock.Scheduler

	videoEnabled bool
	audioEnabled bool

	audioSpec       model.SampleSpec
	audioVolume     float64
	audioFrameSize  int // bytes per outgoing audio frame

	restartRequested bool
	restarting       bool
	cachedKeyPacket  *mux.Packet

	lastAudioTs int64
}

// New creates a Pipeline. muxer must already be open (ftyp+moov or
// PAT+PMT already written).
func New(log *slog.Logger, muxer mux.Muxer, sched *clock.Scheduler, videoEnabled, audioEnabled bool, audioSpec model.SampleSpec, audioVolume float64, audioFrameSize int) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		log:            log.With("component", "avpipeline"),
		muxer:          muxer,
		clock:          sched,
		videoEnabled:   videoEnabled,
		audioEnabled:   audioEnabled,
		audioSpec:      audioSpec,
		audioVolume:    audioVolume,
		audioFrameSize: audioFrameSize,
	}
}

// RequestRestart marks the pipeline as needing a source restart (camera
// direction switch); the next MuxVideo call replays the cached key
// packet until fresh samples arrive, per spec.md §4.4.
func (p *Pipeline) RequestRestart() {
	p.restartRequested = true
	p.restarting = true
}

// Restarting reports whether a restart is still in progress.
func (p *Pipeline) Restarting() bool { return p.restarting }

// MuxVideo implements spec.md §4.5's per-frame video muxing algorithm.
// now is the current monotonic time in microseconds.
func (p *Pipeline) MuxVideo(src VideoPacketSource, now int64) (wrote bool, err error) {
	if !p.videoEnabled {
		return false, nil
	}

	var pkt mux.Packet
	if p.restartRequested && p.cachedKeyPacket != nil {
		fresh, corrupt, ok, rerr := src.ReadPacket()
		if rerr != nil {
			return false, rerr
		}
		if ok && !corrupt {
			pkt = fresh
			p.restartRequested = false
			p.restarting = false
		} else {
			delay := p.clock.LastVideoPts() // videoDelay(now) >= 0 gate, approximated via pts headroom
			if delay < 0 {
				return false, nil
			}
			pkt = *p.cachedKeyPacket
		}
	} else {
		var corrupt, ok bool
		pkt, corrupt, ok, err = src.ReadPacket()
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		if corrupt {
			return false, nil
		}
		p.restartRequested = false
		p.restarting = false

		if pkt.KeyFrame && p.cachedKeyPacket == nil {
			cached := pkt
			p.cachedKeyPacket = &cached
		}
	}

	pts, frameDuration := p.clock.ObserveVideoFrame(now)
	pkt.PTS = pts
	pkt.DTS = pts
	pkt.Duration = frameDuration

	if err := p.muxer.WriteVideoPacket(pkt); err != nil {
		return false, err
	}
	return true, nil
}

// MuxAudio implements spec.md §4.5's per-frame audio muxing algorithm.
// buf is the shared audioBuffer; mtx must be the same lock the audio
// poll thread uses to fill it. paStreamAbsent and muted correspond to
// the PA-stream-absent and source-muted conditions in the padding rule.
func (p *Pipeline) MuxAudio(buf *databuffer.DataBuffer, mtx sync.Locker, now int64, paStreamAbsent, muted bool) error {
	if !p.audioEnabled {
		return nil
	}
	frameDur := p.clock.AudioFrameDuration()
	delay := p.clock.AudioDelay(now, p.videoEnabled, p.lastAudioTs)

	if delay < -2*frameDur {
		mtx.Lock()
		buf.DiscardExact(p.audioFrameSize)
		mtx.Unlock()
		return nil
	}
	if delay < frameDur {
		return nil
	}

	mtx.Lock()
	var frame []byte
	if !buf.HasEnoughData(p.audioFrameSize) {
		if paStreamAbsent || delay > 2*frameDur || muted {
			frame = make([]byte, p.audioFrameSize)
			buf.PushNullExactForce(p.audioFrameSize - buf.Size())
			buf.Pull(frame, p.audioFrameSize)
		} else {
			mtx.Unlock()
			return nil
		}
	} else {
		frame = make([]byte, p.audioFrameSize)
		buf.Pull(frame, p.audioFrameSize)
	}
	mtx.Unlock()

	ApplyGain(frame, p.audioSpec.Format, p.audioVolume)

	pts := p.clock.NextAudioPts()
	p.lastAudioTs = pts

	pkt := mux.Packet{PTS: pts, DTS: pts, Duration: frameDur, Data: frame}
	return p.muxer.WriteAudioPacket(pkt)
}
