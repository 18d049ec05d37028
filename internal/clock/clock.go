// Package clock implements the frame-pacing and PTS-assignment rules
// shared by the video and audio muxing paths: a microsecond time base,
// one-sided audio drift correction, and monotonically increasing PTS
// sequences per stream.
package clock

import "time"

// Scheduler tracks per-stream presentation timestamps and frame-duration
// estimates for one caster session. All internal arithmetic is in
// microseconds, matching spec.md §4.6.
type Scheduler struct {
	videoRealFrameDuration int64 // microseconds; updated from observed inter-frame gaps
	videoFrameDuration     int64 // poll period, half of videoRealFrameDuration
	audioFrameDuration     int64 // microseconds; fixed once, from outAudioFrameSize

	nextVideoPts int64
	nextAudioPts int64
	lastVideoAt  int64 // microseconds, monotonic clock
	haveVideo    bool
}

// New creates a Scheduler for a source with the given nominal video
// framerate (frames per second) and audio frame size in samples at
// rateHz. If framerate is 0 (no video stream), videoRealFrameDuration and
// videoFrameDuration start at 0; ObserveVideoFrame still records frames
// and adopts the observed inter-frame gap as the duration.
func New(framerate int, audioFrameSize, audioRateHz int) *Scheduler {
	s := &Scheduler{}
	if framerate > 0 {
		s.videoRealFrameDuration = 1_000_000 / int64(framerate)
		s.videoFrameDuration = s.videoRealFrameDuration / 2
	}
	if audioRateHz > 0 {
		s.audioFrameDuration = int64(audioFrameSize) * 1_000_000 / int64(audioRateHz)
	}
	return s
}

// processStart anchors NowMicros to the monotonic clock reading taken
// when the package is initialised.
var processStart = time.Now()

// NowMicros returns the current monotonic time in microseconds, the unit
// every other Scheduler method operates in.
func NowMicros() int64 {
	return time.Since(processStart).Microseconds()
}

// VideoFrameDuration returns the current poll-period estimate.
func (s *Scheduler) VideoFrameDuration() int64 { return s.videoFrameDuration }

// AudioFrameDuration returns the fixed audio frame duration.
func (s *Scheduler) AudioFrameDuration() int64 { return s.audioFrameDuration }

// ObserveVideoFrame updates videoRealFrameDuration when the elapsed time
// since the last observed frame differs enough from the nominal value to
// matter (spec.md §4.5 step 4: update only when elapsed ≥ ¼ nominal
// duration), and returns the next video PTS to assign, advancing the
// internal counter. PTS is monotonically increasing by construction.
func (s *Scheduler) ObserveVideoFrame(now int64) (pts int64, frameDuration int64) {
	if s.haveVideo {
		elapsed := now - s.lastVideoAt
		if elapsed >= s.videoRealFrameDuration/4 {
			s.videoRealFrameDuration = elapsed
			s.videoFrameDuration = elapsed / 2
		}
	}
	s.lastVideoAt = now
	s.haveVideo = true

	pts = s.nextVideoPts
	s.nextVideoPts += s.videoRealFrameDuration
	return pts, s.videoRealFrameDuration
}

// LastVideoPts returns the most recently assigned video PTS without
// advancing it; used by audio delay computation when video is enabled.
func (s *Scheduler) LastVideoPts() int64 {
	if s.nextVideoPts == 0 {
		return 0
	}
	return s.nextVideoPts - s.videoRealFrameDuration
}

// AudioDelay computes the delay used by the per-frame audio muxing
// algorithm (spec.md §4.5): when video is enabled, delay is
// videoPts-audioPts; otherwise it is measured against wall-clock time
// using the last emitted audio timestamp.
func (s *Scheduler) AudioDelay(now int64, videoEnabled bool, lastAudioTs int64) int64 {
	if videoEnabled {
		return s.LastVideoPts() - s.nextAudioPts
	}
	return now - (lastAudioTs + s.audioFrameDuration)
}

// NextAudioPts returns the PTS to assign to the next emitted audio
// frame, advancing the internal counter by audioFrameDuration. Drift
// correction never rewrites an already-emitted PTS: callers that decide
// to pad or discard a frame do so before calling this, and the counter
// only ever moves forward.
func (s *Scheduler) NextAudioPts() int64 {
	pts := s.nextAudioPts
	s.nextAudioPts += s.audioFrameDuration
	return pts
}

