package main

import (
	"fmt"

	"github.com/kamkast/kamkast/internal/config"
	"github.com/kamkast/kamkast/internal/model"
)

// sourceCatalog is a lookup snapshot of the sources SourceProbe currently
// reports, refreshed once per stream request so hotplugged devices are
// picked up without a server restart.
type sourceCatalog struct {
	video map[string]model.VideoSource
	audio map[string]model.AudioSource
}

// resolveSessionConfig turns a stream request's query parameters and the
// process defaults into a model.SessionConfig, per spec.md §6's
// "Query parameters recognized: stream-format, video-source, audio-source,
// audio-volume, audio-source-muted, video-orientation. Unrecognized
// parameters are ignored." A source id of "off" disables that stream.
func resolveSessionConfig(cfg config.Config, cat sourceCatalog, query map[string]string) (model.SessionConfig, *model.VideoSource, *model.AudioSource, error) {
	sc := model.SessionConfig{
		Format:           cfg.DefaultStreamFormat,
		VideoSourceID:    cfg.DefaultVideoSource,
		AudioSourceID:    cfg.DefaultAudioSource,
		AudioVolume:      cfg.DefaultAudioVolume,
		AudioSourceMuted: cfg.DefaultAudioSourceMuted,
		Orientation:      cfg.DefaultVideoOrientation,
		Encoder:          cfg.VideoEncoder,
	}

	if v, ok := query["stream-format"]; ok {
		f, err := model.ParseStreamFormat(v)
		if err != nil {
			return sc, nil, nil, err
		}
		sc.Format = f
	}
	if v, ok := query["video-source"]; ok {
		sc.VideoSourceID = v
	}
	if v, ok := query["audio-source"]; ok {
		sc.AudioSourceID = v
	}
	if v, ok := query["audio-volume"]; ok {
		var vol float64
		if _, err := fmt.Sscanf(v, "%g", &vol); err != nil {
			return sc, nil, nil, fmt.Errorf("invalid audio-volume %q", v)
		}
		sc.AudioVolume = vol
	}
	if v, ok := query["audio-source-muted"]; ok {
		muted, err := config.ParseBool(v)
		if err != nil {
			return sc, nil, nil, err
		}
		sc.AudioSourceMuted = muted
	}
	if v, ok := query["video-orientation"]; ok {
		o, err := model.ParseOrientation(v)
		if err != nil {
			return sc, nil, nil, err
		}
		sc.Orientation = o
	}

	if sc.VideoSourceID == "off" {
		sc.VideoSourceID = ""
	}
	if sc.AudioSourceID == "off" {
		sc.AudioSourceID = ""
	}

	videoSrc, audioSrc, err := lookupSources(cat, sc.VideoSourceID, sc.AudioSourceID)
	if err != nil {
		return sc, nil, nil, err
	}

	if err := sc.Validate(); err != nil {
		return sc, nil, nil, err
	}
	return sc, videoSrc, audioSrc, nil
}

// lookupSources resolves non-empty source ids against cat, per spec.md
// §3's VideoSource/AudioSource identity rule.
func lookupSources(cat sourceCatalog, videoID, audioID string) (*model.VideoSource, *model.AudioSource, error) {
	var videoSrc *model.VideoSource
	var audioSrc *model.AudioSource
	if videoID != "" {
		v, ok := cat.video[videoID]
		if !ok {
			return nil, nil, fmt.Errorf("unknown video-source %q", videoID)
		}
		videoSrc = &v
	}
	if audioID != "" {
		a, ok := cat.audio[audioID]
		if !ok {
			return nil, nil, fmt.Errorf("unknown audio-source %q", audioID)
		}
		audioSrc = &a
	}
	return videoSrc, audioSrc, nil
}
