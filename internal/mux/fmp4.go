package mux

// trackID assignments, fixed for the lifetime of a muxer.
const (
	videoTrackID = 1
	audioTrackID = 2
)

// FMP4Muxer writes fragmented MP4 (CMAF-style): a single ftyp+moov pair
// written at Init, followed by one moof+mdat fragment per packet,
// flushed immediately so a slow HTTP reader still sees bytes promptly.
// This matches the muxer options spec.md §4.5 names for the format
// (frag_custom, empty_moov, delay_moov): the moov carries no sample
// table, only track/timescale metadata, and every sample lives in its
// own fragment.
type FMP4Muxer struct {
	sink Sink

	video *VideoTrack
	audio *AudioTrack
	meta  Metadata

	sequenceNumber uint32
	videoBaseDecodeTime uint64
	audioBaseDecodeTime uint64
	wroteInit           bool
}

// NewFMP4Muxer opens a fragmented-MP4 muxer for the given tracks (either
// may be nil, but not both) and immediately writes ftyp+moov.
func NewFMP4Muxer(sink Sink, video *VideoTrack, audio *AudioTrack, meta Metadata) (*FMP4Muxer, error) {
	m := &FMP4Muxer{sink: sink, video: video, audio: audio, meta: meta}
	if err := m.writeInit(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *FMP4Muxer) writeInit() error {
	ftyp := box("ftyp", concat(
		[]byte("iso5"), u32(512),
		[]byte("iso5"), []byte("iso6"), []byte("mp41"),
	))

	mvhd := fullBox("mvhd", 0, 0, concat(
		u32(0), u32(0), // creation/modification time
		u32(1000),      // timescale
		u32(0),         // duration (unknown, fragmented)
		u32(0x00010000), // rate 1.0
		u16(0x0100), u16(0), // volume 1.0, reserved
		make([]byte, 8),                          // reserved
		u32(0x00010000), u32(0), u32(0),          // matrix row 1
		u32(0), u32(0x00010000), u32(0),          // matrix row 2
		u32(0), u32(0), u32(0x40000000),          // matrix row 3
		make([]byte, 24), // pre_defined
		u32(uint32(nextTrackID(m.video, m.audio))), // next_track_ID
	))

	var traks [][]byte
	var trexes [][]byte
	if m.video != nil {
		traks = append(traks, videoTrak(m.video))
		trexes = append(trexes, trex(videoTrackID))
	}
	if m.audio != nil {
		traks = append(traks, audioTrak(m.audio))
		trexes = append(trexes, trex(audioTrackID))
	}
	mvex := box("mvex", concat(trexes...))

	moovPayload := concat(append([][]byte{mvhd}, append(traks, mvex)...)...)
	moov := box("moov", moovPayload)

	m.wroteInit = true
	_, err := m.sink.Write(concat(ftyp, moov))
	return err
}

func nextTrackID(video *VideoTrack, audio *AudioTrack) int {
	max := 0
	if video != nil {
		max = videoTrackID
	}
	if audio != nil && audioTrackID > max {
		max = audioTrackID
	}
	return max + 1
}

func trex(trackID uint32) []byte {
	return fullBox("trex", 0, 0, concat(
		u32(trackID),
		u32(1), // default_sample_description_index
		u32(0), u32(0), u32(0),
	))
}

func videoTrak(v *VideoTrack) []byte {
	tkhd := fullBox("tkhd", 0, 1, concat(
		u32(0), u32(0),
		u32(videoTrackID), u32(0),
		u32(0), // duration
		make([]byte, 8),
		u16(0), u16(0), u16(0), u16(0),
		u32(0x00010000), u32(0), u32(0),
		u32(0), u32(0x00010000), u32(0),
		u32(0), u32(0), u32(0x40000000),
		u32(uint32(v.Width)<<16), u32(uint32(v.Height)<<16),
	))
	mdhd := fullBox("mdhd", 0, 0, concat(
		u32(0), u32(0),
		u32(uint32(v.TimescaleHz)),
		u32(0),
		u16(0x55c4), u16(0),
	))
	hdlr := box("hdlr", concat(
		u32(0), []byte("\x00\x00\x00\x00"), []byte("vide"),
		make([]byte, 12), []byte("VideoHandler\x00"),
	))
	stsd := box("stsd", concat(u32(0), u32(1), avc1Entry(v)))
	stbl := box("stbl", concat(
		stsd,
		fullBox("stts", 0, 0, u32(0)),
		fullBox("stsc", 0, 0, u32(0)),
		fullBox("stsz", 0, 0, concat(u32(0), u32(0))),
		fullBox("stco", 0, 0, u32(0)),
	))
	vmhd := fullBox("vmhd", 0, 1, concat(u16(0), u16(0), u16(0), u16(0)))
	dinf := box("dinf", box("dref", concat(u32(0), u32(1), fullBox("url ", 0, 1, nil))))
	minf := box("minf", concat(vmhd, dinf, stbl))
	mdia := box("mdia", concat(mdhd, hdlr, minf))
	return box("trak", concat(tkhd, mdia))
}

func audioTrak(a *AudioTrack) []byte {
	tkhd := fullBox("tkhd", 0, 1, concat(
		u32(0), u32(0),
		u32(audioTrackID), u32(0),
		u32(0),
		make([]byte, 8),
		u16(0), u16(0), u16(0x0100), u16(0),
		u32(0x00010000), u32(0), u32(0),
		u32(0), u32(0x00010000), u32(0),
		u32(0), u32(0), u32(0x40000000),
		u32(0), u32(0),
	))
	mdhd := fullBox("mdhd", 0, 0, concat(
		u32(0), u32(0),
		u32(uint32(a.SampleRateHz)),
		u32(0),
		u16(0x55c4), u16(0),
	))
	hdlr := box("hdlr", concat(
		u32(0), []byte("\x00\x00\x00\x00"), []byte("soun"),
		make([]byte, 12), []byte("SoundHandler\x00"),
	))
	stsd := box("stsd", concat(u32(0), u32(1), mp4aEntry(a)))
	stbl := box("stbl", concat(
		stsd,
		fullBox("stts", 0, 0, u32(0)),
		fullBox("stsc", 0, 0, u32(0)),
		fullBox("stsz", 0, 0, concat(u32(0), u32(0))),
		fullBox("stco", 0, 0, u32(0)),
	))
	smhd := fullBox("smhd", 0, 0, concat(u16(0), u16(0)))
	dinf := box("dinf", box("dref", concat(u32(0), u32(1), fullBox("url ", 0, 1, nil))))
	minf := box("minf", concat(smhd, dinf, stbl))
	mdia := box("mdia", concat(mdhd, hdlr, minf))
	return box("trak", concat(tkhd, mdia))
}

// avc1Entry is a minimal AVC sample entry. The avcC extradata (SPS/PPS)
// is filled in by the encoder at open time in a full implementation;
// here it is left empty since parameter sets are supplied in-band by
// the external encoder process (spec.md §11 external-encoder-process).
func avc1Entry(v *VideoTrack) []byte {
	inner := concat(
		make([]byte, 6), u16(1), // reserved, data_reference_index
		u16(0), u16(0), make([]byte, 12),
		u16(uint16(v.Width)), u16(uint16(v.Height)),
		u32(0x00480000), u32(0x00480000),
		u32(0), u16(1),
		make([]byte, 32), // compressorname
		u16(0x0018), u16(0xffff),
		box("avcC", nil),
	)
	return box("avc1", inner)
}

func mp4aEntry(a *AudioTrack) []byte {
	inner := concat(
		make([]byte, 6), u16(1),
		u16(0), u16(0), u32(0),
		u16(uint16(a.Channels)), u16(16),
		u16(0), u16(0),
		u32(uint32(a.SampleRateHz)<<16),
		box("esds", nil),
	)
	return box("mp4a", inner)
}

// WriteVideoPacket appends one moof+mdat fragment carrying a single
// video sample, per spec.md §4.5's flush-per-write rule.
func (m *FMP4Muxer) WriteVideoPacket(pkt Packet) error {
	if m.video == nil {
		return nil
	}
	return m.writeFragment(videoTrackID, &m.videoBaseDecodeTime, pkt, m.video.TimescaleHz)
}

// WriteAudioPacket appends one moof+mdat fragment carrying a single
// audio frame.
func (m *FMP4Muxer) WriteAudioPacket(pkt Packet) error {
	if m.audio == nil {
		return nil
	}
	return m.writeFragment(audioTrackID, &m.audioBaseDecodeTime, pkt, m.audio.SampleRateHz)
}

func (m *FMP4Muxer) writeFragment(trackID uint32, baseDecodeTime *uint64, pkt Packet, timescale int) error {
	m.sequenceNumber++

	scaledDuration := rescale(pkt.Duration, timescale)
	sampleFlags := uint32(0x00010000) // sample_is_difference_sample=1 by default
	if pkt.KeyFrame {
		sampleFlags = 0x02000000 // sample_depends_on=2 (no dependency), not-difference-sample
	}

	trun := fullBox("trun", 0, 0x000701 /* data-offset, duration, size, flags present */, concat(
		u32(1), // sample_count
		u32(0), // data_offset, patched below
		u32(uint32(scaledDuration)),
		u32(uint32(len(pkt.Data))),
		u32(sampleFlags),
	))
	tfhd := fullBox("tfhd", 0, 0x020000, u32(trackID)) // default-base-is-moof
	tfdt := fullBox("tfdt", 1, 0, u64(*baseDecodeTime))
	traf := box("traf", concat(tfhd, tfdt, trun))
	mfhd := fullBox("mfhd", 0, 0, u32(m.sequenceNumber))
	moof := box("moof", concat(mfhd, traf))

	// Patch trun's data_offset now that moof's length is known: it is
	// the distance from the start of moof to the start of mdat's payload.
	dataOffset := uint32(len(moof) + 8)
	patchU32(moof, dataOffsetPatchIndex(moof), dataOffset)

	mdat := box("mdat", pkt.Data)

	*baseDecodeTime += uint64(scaledDuration)

	_, err := m.sink.Write(concat(moof, mdat))
	return err
}

// dataOffsetPatchIndex locates the trun box's data_offset field within a
// freshly built moof so it can be patched after moof's own length (and
// therefore the true mdat offset) is known.
func dataOffsetPatchIndex(moof []byte) int {
	// trun is the last full-box field written; its data_offset sits
	// immediately after version+flags+sample_count (4+4+4 bytes from
	// trun's box header, whose 8-byte box header we also skip). We locate
	// it by trailing offset rather than scanning: writeFragment always
	// appends trun as traf's final child and traf as moof's second child,
	// and trun's body length here is fixed (20 bytes) since exactly one
	// optional field set (duration+size+flags) is enabled.
	// trun's trailing fields, in order, are duration(4) size(4) flags(4);
	// data_offset sits immediately before those three, i.e. 16 bytes from
	// the end of moof (since trun is moof's final byte range).
	return len(moof) - 16
}

func patchU32(b []byte, at int, v uint32) {
	b[at] = byte(v >> 24)
	b[at+1] = byte(v >> 16)
	b[at+2] = byte(v >> 8)
	b[at+3] = byte(v)
}

// rescale converts a microsecond duration into the given timescale's
// tick count.
func rescale(durationMicros int64, timescaleHz int) int64 {
	return durationMicros * int64(timescaleHz) / 1_000_000
}
