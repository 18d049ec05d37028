package caster

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kamkast/kamkast/internal/audiocapture"
	"github.com/kamkast/kamkast/internal/avpipeline"
	"github.com/kamkast/kamkast/internal/clock"
	"github.com/kamkast/kamkast/internal/model"
	"github.com/kamkast/kamkast/internal/mux"
	"github.com/kamkast/kamkast/internal/videocapture"
)

// DataReadyFunc is invoked with muxed bytes as the muxing thread
// produces them; the Caster's owner (EventLoop, via HttpServer.pushData)
// supplies this, per spec.md §3's "Handlers are value-held callable
// objects" note.
type DataReadyFunc func([]byte)

// StateChangedFunc fires on every state transition, exactly once per
// change, per spec.md §8 invariant 3.
type StateChangedFunc func(State)

// byteSink adapts a DataReadyFunc to mux.Sink.
type byteSink struct{ fn DataReadyFunc }

func (s byteSink) Write(p []byte) (int, error) {
	s.fn(p)
	return len(p), nil
}

// Caster is one capture-encode-mux session bound to one HTTP connection.
type Caster struct {
	log *slog.Logger
	cfg model.SessionConfig

	ffmpegBinary string

	mu              sync.Mutex
	state           State
	onStateChanged  StateChangedFunc
	onDataReady     DataReadyFunc

	video *videocapture.Capture
	audio *audiocapture.Capture
	pipe  *avpipeline.Pipeline
	sched *clock.Scheduler

	cancel context.CancelFunc
	done   chan struct{}
}

// New validates cfg, constructs a Caster in state Initing and moves it to
// Inited before returning. It does not open any device or process yet —
// that happens in Start, per spec.md §4.7.
func New(log *slog.Logger, cfg model.SessionConfig, ffmpegBinary string, videoSrc *model.VideoSource, audioSrc *model.AudioSource, onDataReady DataReadyFunc, onStateChanged StateChangedFunc) (*Caster, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("caster: invalid session config: %w", err)
	}

	c := &Caster{
		log:            log.With("component", "caster"),
		cfg:            cfg,
		ffmpegBinary:   ffmpegBinary,
		state:          Initing,
		onStateChanged: onStateChanged,
		onDataReady:    onDataReady,
		done:           make(chan struct{}),
	}

	if videoSrc != nil {
		c.video = videocapture.New(log, *videoSrc)
	}
	if audioSrc != nil {
		c.audio = audiocapture.New(log, *audioSrc)
	}

	c.setState(Inited)
	return c, nil
}

func (c *Caster) setState(s State) {
	c.mu.Lock()
	from := c.state
	if !CanTransition(from, s) {
		c.mu.Unlock()
		c.log.Warn("illegal state transition suppressed", "from", from, "to", s)
		return
	}
	c.state = s
	handler := c.onStateChanged
	c.mu.Unlock()

	if handler != nil {
		handler(s)
	}
}

// State returns the current lifecycle state.
func (c *Caster) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start opens input sources, the AvPipeline's muxer, and spawns the
// audio-poll and muxing threads, per spec.md §4.7's Inited -> Starting
// -> Started transition.
func (c *Caster) Start(ctx context.Context) error {
	c.setState(Starting)

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	videoEnabled := c.video != nil
	audioEnabled := c.audio != nil

	if videoEnabled {
		if err := c.video.Start(ctx, c.ffmpegBinary); err != nil {
			c.reportError(fmt.Errorf("caster: video capture start: %w", err))
			return err
		}
	}
	audioSpec := model.SampleSpec{Format: model.SampleS16LE, Channels: 2, RateHz: 44100}
	if audioEnabled {
		audioSpec = c.audio.Source().Spec
		if c.audio.Source().Kind != model.AudioPlaybackFollow {
			if err := c.audio.StartDirect(ctx, c.ffmpegBinary); err != nil {
				c.reportError(fmt.Errorf("caster: audio capture start: %w", err))
				return err
			}
		}
	}

	sink := byteSink{fn: c.onDataReady}
	var videoSrc model.VideoSource
	if videoEnabled {
		videoSrc = c.video.Source()
	}
	muxer, _, _, err := openMuxer(sink, c.cfg, videoSrc, videoEnabled, audioEnabled)
	if err != nil {
		c.reportError(fmt.Errorf("caster: open muxer: %w", err))
		return err
	}

	frameSizeSamples := outAudioFrameSize(audioSpec)
	frameSizeBytes := frameSizeSamples * audioSpec.BytesPerFrame()
	c.sched = clock.New(30, frameSizeSamples, audioSpec.RateHz)
	c.pipe = avpipeline.New(c.log, muxer, c.sched, videoEnabled, audioEnabled, audioSpec, c.cfg.AudioVolume, frameSizeBytes)

	go c.runMuxingThread(ctx)
	if audioEnabled {
		go c.runAudioPollThread(ctx)
	}

	c.setState(Started)
	return nil
}

// outAudioFrameSize picks a nominal audio frame size in samples; 1024
// samples is the common low-latency choice this project's encoders use.
func outAudioFrameSize(spec model.SampleSpec) int {
	if spec.RateHz == 0 {
		return 1024
	}
	return 1024
}

func openMuxer(sink mux.Sink, cfg model.SessionConfig, videoSrc model.VideoSource, videoEnabled, audioEnabled bool) (mux.Muxer, *mux.VideoTrack, *mux.AudioTrack, error) {
	var video *mux.VideoTrack
	var audio *mux.AudioTrack
	if videoEnabled {
		width, height := 1280, 720
		if len(videoSrc.Capabilities) > 0 && len(videoSrc.Capabilities[0].FrameSpecs) > 0 {
			fs := videoSrc.Capabilities[0].FrameSpecs[0]
			width, height = fs.Width, fs.Height
		}
		video = &mux.VideoTrack{Width: width, Height: height, TimescaleHz: 90000}
		if avpipeline.NeedsRotationMetadata(cfg.Orientation, videoSrc.OrientationHint) {
			video.RotationDeg = avpipeline.RotationDegrees(cfg.Orientation, videoSrc.OrientationHint)
		}
	}
	if audioEnabled {
		audio = &mux.AudioTrack{SampleRateHz: 44100, Channels: 2}
	}
	meta := mux.Metadata{Author: cfg.Author, Title: cfg.Title}

	switch cfg.Format {
	case model.FormatMP4Fragmented:
		m, err := mux.NewFMP4Muxer(sink, video, audio, meta)
		return m, video, audio, err
	case model.FormatMPEGTS:
		m, err := mux.NewTSMuxer(sink, video, audio)
		return m, video, audio, err
	case model.FormatMP3AudioOnly:
		return mux.NewMP3Muxer(sink), nil, audio, nil
	default:
		return nil, nil, nil, fmt.Errorf("caster: unknown stream format %v", cfg.Format)
	}
}

// runMuxingThread mirrors spec.md §4.7's avMuxing thread: it calls
// muxVideo and/or muxAudio in a loop, sleeping only when video-read
// returned "no data yet".
func (c *Caster) runMuxingThread(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			c.setState(Terminating)
			return
		default:
		}

		now := clock.NowMicros()
		wroteVideo := false
		if c.video != nil {
			var err error
			wroteVideo, err = c.pipe.MuxVideo(c.video, now)
			if err != nil {
				c.reportError(fmt.Errorf("caster: video muxing: %w", err))
				return
			}
		}
		if c.audio != nil {
			if err := c.pipe.MuxAudio(c.audio.Buffer, c.audio, now, false, false); err != nil {
				c.reportError(fmt.Errorf("caster: audio muxing: %w", err))
				return
			}
		}

		if !wroteVideo {
			sleepDur := time.Duration(c.sched.VideoFrameDuration()) * time.Microsecond
			if sleepDur <= 0 {
				sleepDur = 5 * time.Millisecond
			}
			select {
			case <-ctx.Done():
				c.setState(Terminating)
				return
			case <-time.After(sleepDur):
			}
		}
	}
}

// runAudioPollThread mirrors spec.md §4.7's audioPa thread: it wakes every
// audioFrameDuration until ctx is cancelled and does no work on a tick;
// the audio buffer is filled by the capture process's own pump goroutine.
func (c *Caster) runAudioPollThread(ctx context.Context) {
	dur := time.Duration(c.sched.AudioFrameDuration()) * time.Microsecond
	if dur <= 0 {
		dur = 20 * time.Millisecond
	}
	ticker := time.NewTicker(dur)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// reportError transitions the caster to Terminating from any state, per
// spec.md §4.7's "* -> Terminating" arrow, logs the failure, and
// releases capture resources.
func (c *Caster) reportError(err error) {
	c.log.Error("caster failing", "error", err)
	c.setState(Terminating)
	c.teardown()
}

// Stop requests termination and blocks until the muxing thread has
// exited, tearing down contexts in reverse of construction per
// spec.md §4.7.
func (c *Caster) Stop() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
	c.setState(Terminating)
	c.teardown()
}

func (c *Caster) teardown() {
	if c.audio != nil {
		c.audio.Stop()
	}
	if c.video != nil {
		c.video.Terminate()
	}
}
