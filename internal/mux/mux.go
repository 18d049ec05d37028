// Package mux implements the three container writers this project's
// AvPipeline can target: fragmented MP4, MPEG-TS, and bare MP3. Each
// writer receives already-encoded packets and appends muxed bytes to a
// caller-supplied sink, flushing after every write so a downstream HTTP
// reader sees bytes promptly (spec.md §4.5).
package mux

// Sink receives muxed bytes as they are produced. In this project the
// sink is a caster's DataBuffer push, but tests substitute a plain
// byte-slice accumulator.
type Sink interface {
	Write(p []byte) (int, error)
}

// VideoTrack describes the video stream a muxer was opened for.
type VideoTrack struct {
	Width, Height int
	TimescaleHz   int // typically 90000 for video
	RotationDeg   int // 0, 90, 180, or 270; from display-matrix rule in spec.md §4.5; neither FMP4Muxer nor TSMuxer writes it
}

// AudioTrack describes the audio stream a muxer was opened for.
type AudioTrack struct {
	SampleRateHz int
	Channels     int
}

// Metadata carries the stream author/title strings spec.md §4.5 says are
// written under different keys per container format.
type Metadata struct {
	Author string
	Title  string
}

// Packet is one encoded access unit ready to be written by a muxer.
type Packet struct {
	PTS, DTS int64 // microseconds
	Duration int64 // microseconds
	KeyFrame bool
	Data     []byte
}

// Muxer is implemented by each of the three container writers.
type Muxer interface {
	// WriteVideoPacket muxes one video access unit. It is a no-op error
	// for muxers with no video track.
	WriteVideoPacket(pkt Packet) error
	// WriteAudioPacket muxes one audio frame. It is a no-op error for
	// muxers with no audio track.
	WriteAudioPacket(pkt Packet) error
}
