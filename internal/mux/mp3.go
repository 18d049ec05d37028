package mux

// MP3Muxer is the trivial "muxer" for MP3-audio-only streams: the
// encoder already emits self-delimiting MPEG audio frames, so muxing is
// a straight passthrough. It never carries a video track (spec.md §4.5:
// "MP3-audio-only is permitted only when videoSource is empty").
type MP3Muxer struct {
	sink Sink
}

// NewMP3Muxer opens an MP3 passthrough muxer. There is no header to
// write: the first bytes written are the first encoded MP3 frame.
func NewMP3Muxer(sink Sink) *MP3Muxer {
	return &MP3Muxer{sink: sink}
}

// WriteVideoPacket always fails softly: MP3-audio-only streams carry no
// video track, so this is a no-op rather than an error to keep the
// Muxer interface uniform across formats.
func (m *MP3Muxer) WriteVideoPacket(Packet) error { return nil }

// WriteAudioPacket appends one already-encoded MP3 frame verbatim.
func (m *MP3Muxer) WriteAudioPacket(pkt Packet) error {
	_, err := m.sink.Write(pkt.Data)
	return err
}
