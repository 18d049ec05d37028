package clock

import "testing"

func TestNewDerivesFrameDurations(t *testing.T) {
	t.Parallel()
	s := New(30, 1024, 44100)
	if s.videoRealFrameDuration != 1_000_000/30 {
		t.Fatalf("videoRealFrameDuration = %d, want %d", s.videoRealFrameDuration, 1_000_000/30)
	}
	if s.VideoFrameDuration() != s.videoRealFrameDuration/2 {
		t.Fatalf("videoFrameDuration should be half of real frame duration")
	}
	wantAudioDur := int64(1024) * 1_000_000 / 44100
	if s.AudioFrameDuration() != wantAudioDur {
		t.Fatalf("audioFrameDuration = %d, want %d", s.AudioFrameDuration(), wantAudioDur)
	}
}

func TestObserveVideoFrameMonotonicPts(t *testing.T) {
	t.Parallel()
	s := New(30, 1024, 44100)
	var last int64 = -1
	now := int64(0)
	for i := 0; i < 10; i++ {
		pts, _ := s.ObserveVideoFrame(now)
		if pts <= last {
			t.Fatalf("pts not strictly increasing: got %d after %d", pts, last)
		}
		last = pts
		now += s.videoRealFrameDuration
	}
}

func TestNextAudioPtsMonotonic(t *testing.T) {
	t.Parallel()
	s := New(0, 1024, 44100)
	var last int64 = -1
	for i := 0; i < 5; i++ {
		pts := s.NextAudioPts()
		if pts <= last {
			t.Fatalf("audio pts not strictly increasing: got %d after %d", pts, last)
		}
		last = pts
	}
}

func TestAudioDelayUsesVideoPtsWhenEnabled(t *testing.T) {
	t.Parallel()
	s := New(30, 1024, 44100)
	s.ObserveVideoFrame(0)
	s.ObserveVideoFrame(s.videoRealFrameDuration)

	delay := s.AudioDelay(0, true, 0)
	want := s.LastVideoPts() - s.nextAudioPts
	if delay != want {
		t.Fatalf("delay = %d, want %d", delay, want)
	}
}

func TestNoVideoStreamLeavesDurationsZero(t *testing.T) {
	t.Parallel()
	s := New(0, 1024, 44100)
	if s.VideoFrameDuration() != 0 {
		t.Fatalf("expected zero video frame duration with no video stream")
	}
}
