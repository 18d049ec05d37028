// Package model defines the immutable value types shared by source
// discovery, capture, encoding, and the caster lifecycle: video/audio
// source descriptions, the closed enumerations that select stream
// format/orientation/encoder/transform, and the per-session configuration
// built from those pieces.
package model

import "fmt"

// VideoSourceKind identifies how a VideoSource is captured.
type VideoSourceKind int

const (
	VideoCameraRaw VideoSourceKind = iota
	VideoCameraH264
	VideoScreenGrabX
	VideoScreenGrabNative
	VideoSynthetic
)

func (k VideoSourceKind) String() string {
	switch k {
	case VideoCameraRaw:
		return "camera-raw"
	case VideoCameraH264:
		return "camera-h264"
	case VideoScreenGrabX:
		return "screengrab-x"
	case VideoScreenGrabNative:
		return "screengrab-native"
	case VideoSynthetic:
		return "synthetic"
	default:
		return fmt.Sprintf("videosourcekind(%d)", int(k))
	}
}

// Transform is a pre-encode geometry transform applied to a video source's
// frames, chosen at probe time from the source's orientation/inversion hint.
type Transform int

const (
	TransformIdentity Transform = iota
	TransformVflip
	TransformFrame169Rot0
	TransformFrame169Rot0Vflip
	TransformFrame169Rot90
	TransformFrame169Rot90Vflip
	TransformFrame169Rot180
	TransformFrame169Rot180Vflip
	TransformFrame169Rot270
	TransformFrame169Rot270Vflip
	TransformScale
)

// Rotation returns the rotation component (degrees, one of 0/90/180/270)
// implied by a Frame169 transform, and 0 for all others.
func (t Transform) Rotation() int {
	switch t {
	case TransformFrame169Rot90, TransformFrame169Rot90Vflip:
		return 90
	case TransformFrame169Rot180, TransformFrame169Rot180Vflip:
		return 180
	case TransformFrame169Rot270, TransformFrame169Rot270Vflip:
		return 270
	default:
		return 0
	}
}

// IsFrame169 reports whether t is one of the eight letterbox variants.
func (t Transform) IsFrame169() bool {
	switch t {
	case TransformFrame169Rot0, TransformFrame169Rot0Vflip,
		TransformFrame169Rot90, TransformFrame169Rot90Vflip,
		TransformFrame169Rot180, TransformFrame169Rot180Vflip,
		TransformFrame169Rot270, TransformFrame169Rot270Vflip:
		return true
	default:
		return false
	}
}

// Vflip reports whether t includes a vertical flip.
func (t Transform) Vflip() bool {
	switch t {
	case TransformVflip,
		TransformFrame169Rot0Vflip, TransformFrame169Rot90Vflip,
		TransformFrame169Rot180Vflip, TransformFrame169Rot270Vflip:
		return true
	default:
		return false
	}
}

// PixelFormat is a small closed set of codec/pixel-format names a source
// can advertise capability for.
type PixelFormat string

// FrameSpec is one advertised (width, height, framerates) capability entry.
type FrameSpec struct {
	Width       int
	Height      int
	Framerates  []int
}

// Capability is one advertised (codec, pixel format, frame specs) tuple.
type Capability struct {
	Codec      string
	PixelFmt   PixelFormat
	FrameSpecs []FrameSpec
}

// VideoSource is an immutable description of a probed video source,
// created once by SourceProbe and owned thereafter by the Caster that
// opens it.
type VideoSource struct {
	Name         string
	FriendlyName string
	DevicePath   string
	Kind         VideoSourceKind
	Capabilities []Capability

	// OrientationHint and SensorDirectionHint describe the source's native
	// physical orientation, used to compute display-matrix rotation and to
	// pick a default Transform.
	OrientationHint     Orientation
	SensorDirectionHint string
	Transform           Transform
}

// Validate checks the VideoSource invariant: capabilities must be
// non-empty, and any (format, frame-spec) pair used elsewhere must appear
// here. Validate only checks the non-empty part; callers validate the
// chosen pair separately via HasCapability.
func (v VideoSource) Validate() error {
	if len(v.Capabilities) == 0 {
		return fmt.Errorf("video source %q: no capabilities advertised", v.Name)
	}
	return nil
}

// HasCapability reports whether (codec, pixfmt, width, height) appears in
// the source's advertised capabilities.
func (v VideoSource) HasCapability(codec string, pixfmt PixelFormat, width, height int) bool {
	for _, c := range v.Capabilities {
		if c.Codec != codec || c.PixelFmt != pixfmt {
			continue
		}
		for _, fs := range c.FrameSpecs {
			if fs.Width == width && fs.Height == height {
				return true
			}
		}
	}
	return false
}

// AudioSourceKind identifies how an AudioSource is captured.
type AudioSourceKind int

const (
	AudioMicrophone AudioSourceKind = iota
	AudioSinkMonitor
	AudioPlaybackFollow
)

func (k AudioSourceKind) String() string {
	switch k {
	case AudioMicrophone:
		return "microphone"
	case AudioSinkMonitor:
		return "sink-monitor"
	case AudioPlaybackFollow:
		return "playback-follow"
	default:
		return fmt.Sprintf("audiosourcekind(%d)", int(k))
	}
}

// SampleFormat identifies the on-wire PCM sample encoding.
type SampleFormat int

const (
	SampleU8 SampleFormat = iota
	SampleS16LE
	SampleS16BE
	SampleS32LE
	SampleS32BE
)

// BytesPerSample and Endianness derived from the sample format.
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case SampleU8:
		return 1
	case SampleS16LE, SampleS16BE:
		return 2
	case SampleS32LE, SampleS32BE:
		return 4
	default:
		return 2
	}
}

// BigEndian reports whether the sample format is big-endian.
func (f SampleFormat) BigEndian() bool {
	return f == SampleS16BE || f == SampleS32BE
}

// Signed reports whether the sample format is signed (all but U8).
func (f SampleFormat) Signed() bool {
	return f != SampleU8
}

// SampleSpec fully describes a PCM stream's layout.
type SampleSpec struct {
	Format   SampleFormat
	Channels int // 1..8
	RateHz   int
}

// BytesPerFrame returns the byte size of one interleaved sample across all
// channels.
func (s SampleSpec) BytesPerFrame() int {
	return s.Format.BytesPerSample() * s.Channels
}

// AudioSource is an immutable description of a probed audio source.
type AudioSource struct {
	Name         string
	FriendlyName string
	Device       string
	Kind         AudioSourceKind
	Spec         SampleSpec

	// MuteUnderlyingSinkInput requests that, while capturing a
	// Playback-follow target, the underlying application's sink input be
	// muted at its real sink (its audio still reaches us via the monitor).
	MuteUnderlyingSinkInput bool
}

// Validate checks that channel count is in range.
func (a AudioSource) Validate() error {
	if a.Spec.Channels < 1 || a.Spec.Channels > 8 {
		return fmt.Errorf("audio source %q: channels %d out of range 1..8", a.Name, a.Spec.Channels)
	}
	return nil
}

// StreamFormat is the muxed container format requested for a session.
type StreamFormat int

const (
	FormatMP4Fragmented StreamFormat = iota
	FormatMPEGTS
	FormatMP3AudioOnly
)

// ParseStreamFormat parses the wire-exact spellings from spec.md §6.
func ParseStreamFormat(s string) (StreamFormat, error) {
	switch s {
	case "mp4":
		return FormatMP4Fragmented, nil
	case "mpegts":
		return FormatMPEGTS, nil
	case "mp3":
		return FormatMP3AudioOnly, nil
	default:
		return 0, fmt.Errorf("unknown stream-format %q", s)
	}
}

func (f StreamFormat) String() string {
	switch f {
	case FormatMP4Fragmented:
		return "mp4"
	case FormatMPEGTS:
		return "mpegts"
	case FormatMP3AudioOnly:
		return "mp3"
	default:
		return fmt.Sprintf("streamformat(%d)", int(f))
	}
}

// ContentType returns the HTTP Content-Type for the format, per spec.md §6.
func (f StreamFormat) ContentType() string {
	switch f {
	case FormatMP4Fragmented:
		return "video/mp4"
	case FormatMPEGTS:
		return "video/MP2T"
	case FormatMP3AudioOnly:
		return "audio/mpeg"
	default:
		return "application/octet-stream"
	}
}

// Orientation is the requested (or native) display orientation.
type Orientation int

const (
	OrientationAuto Orientation = iota
	OrientationLandscape
	OrientationInvertedLandscape
	OrientationPortrait
	OrientationInvertedPortrait
)

// ParseOrientation parses the wire-exact spellings from spec.md §6.
func ParseOrientation(s string) (Orientation, error) {
	switch s {
	case "auto":
		return OrientationAuto, nil
	case "landscape":
		return OrientationLandscape, nil
	case "inverted-landscape":
		return OrientationInvertedLandscape, nil
	case "portrait":
		return OrientationPortrait, nil
	case "inverted-portrait":
		return OrientationInvertedPortrait, nil
	default:
		return 0, fmt.Errorf("unknown video-orientation %q", s)
	}
}

func (o Orientation) String() string {
	switch o {
	case OrientationAuto:
		return "auto"
	case OrientationLandscape:
		return "landscape"
	case OrientationInvertedLandscape:
		return "inverted-landscape"
	case OrientationPortrait:
		return "portrait"
	case OrientationInvertedPortrait:
		return "inverted-portrait"
	default:
		return fmt.Sprintf("orientation(%d)", int(o))
	}
}

// Rotation returns the display-matrix rotation degrees implied by the
// requested orientation, relative to landscape.
func (o Orientation) Rotation() int {
	switch o {
	case OrientationPortrait:
		return 90
	case OrientationInvertedLandscape:
		return 180
	case OrientationInvertedPortrait:
		return 270
	default:
		return 0
	}
}

// VideoEncoder is the requested video encoder implementation.
type VideoEncoder int

const (
	EncoderAuto VideoEncoder = iota
	EncoderH264NVENC
	EncoderH264V4L2M2M
	EncoderH264CPU
)

// ParseVideoEncoder parses the wire-exact spellings from spec.md §6.
func ParseVideoEncoder(s string) (VideoEncoder, error) {
	switch s {
	case "auto":
		return EncoderAuto, nil
	case "nvenc":
		return EncoderH264NVENC, nil
	case "v4l2":
		return EncoderH264V4L2M2M, nil
	case "x264":
		return EncoderH264CPU, nil
	default:
		return 0, fmt.Errorf("unknown video-encoder %q", s)
	}
}

func (e VideoEncoder) String() string {
	switch e {
	case EncoderAuto:
		return "auto"
	case EncoderH264NVENC:
		return "nvenc"
	case EncoderH264V4L2M2M:
		return "v4l2"
	case EncoderH264CPU:
		return "x264"
	default:
		return fmt.Sprintf("videoencoder(%d)", int(e))
	}
}

// SessionConfig is the immutable configuration of one Caster session, built
// from a stream request (query parameters) and server defaults.
type SessionConfig struct {
	Format            StreamFormat
	VideoSourceID     string // empty if no video
	AudioSourceID     string // empty if no audio
	AudioVolume       float64
	AudioSourceMuted  bool
	Orientation       Orientation
	Encoder           VideoEncoder
	Author            string
	Title             string
}

// Validate enforces the cross-field invariants of spec.md §3: at least one
// of video/audio must be set, MP3 forbids video, and volume must be in
// range.
func (c SessionConfig) Validate() error {
	if c.VideoSourceID == "" && c.AudioSourceID == "" {
		return fmt.Errorf("session config: at least one of video-source or audio-source must be set")
	}
	if c.Format == FormatMP3AudioOnly && c.VideoSourceID != "" {
		return fmt.Errorf("session config: stream-format mp3 forbids a video source")
	}
	if c.AudioVolume < 0.0 || c.AudioVolume > 10.0 {
		return fmt.Errorf("session config: audio-volume %v out of range 0.0..10.0", c.AudioVolume)
	}
	return nil
}
