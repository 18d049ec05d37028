package mux

const (
	tsPacketSize = 188
	tsSyncByte   = 0x47

	patPID = 0x0000
	pmtPID = 0x1000
	videoPID = 0x0100
	audioPID = 0x0101
)

// crc32MPEG2 is the CRC-32/MPEG-2 variant (poly 0x04C11DB7, no
// reflection, init 0xFFFFFFFF) that every PSI table trailer uses.
func crc32MPEG2(data []byte) uint32 {
	crc := uint32(0xffffffff)
	for _, b := range data {
		crc ^= uint32(b) << 24
		for i := 0; i < 8; i++ {
			if crc&0x80000000 != 0 {
				crc = crc<<1 ^ 0x04c11db7
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// TSMuxer writes an MPEG transport stream: a PAT and PMT emitted once at
// open (and periodically per spec's "m2ts flag -1" continuous-stream
// habit, re-emitted every video key frame here), then PES-wrapped
// elementary stream packets split into 188-byte TS packets.
type TSMuxer struct {
	sink Sink

	hasVideo, hasAudio bool
	videoCC, audioCC   byte
	patCC, pmtCC       byte
	psiWritten         bool
}

// NewTSMuxer opens an MPEG-TS muxer for the given tracks.
func NewTSMuxer(sink Sink, video *VideoTrack, audio *AudioTrack) (*TSMuxer, error) {
	m := &TSMuxer{sink: sink, hasVideo: video != nil, hasAudio: audio != nil}
	if err := m.writePSI(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *TSMuxer) writePSI() error {
	pat := buildPAT()
	pmt := buildPMT(m.hasVideo, m.hasAudio)

	patPkt := wrapPSIPacket(patPID, &m.patCC, pat)
	pmtPkt := wrapPSIPacket(pmtPID, &m.pmtCC, pmt)

	m.psiWritten = true
	_, err := m.sink.Write(concat(patPkt, pmtPkt))
	return err
}

// buildPAT constructs a minimal Program Association Table naming one
// program (program_number 1) whose PMT lives at pmtPID.
func buildPAT() []byte {
	section := concat(
		[]byte{0x00},       // table_id
		[]byte{0xb0, 0x00}, // section_syntax_indicator=1, reserved, section_length (patched below)
		[]byte{0x00, 0x01}, // transport_stream_id
		[]byte{0xc1},       // reserved, version=0, current_next=1
		[]byte{0x00},       // section_number
		[]byte{0x00},       // last_section_number
		[]byte{0x00, 0x01}, // program_number = 1
		u16(0xe000|pmtPID),
	)
	return finishPSISection(section)
}

// buildPMT constructs a Program Map Table listing whichever of the video
// (H.264) and audio (MP3/ADTS) elementary streams are present.
func buildPMT(hasVideo, hasAudio bool) []byte {
	var esInfo []byte
	if hasVideo {
		esInfo = append(esInfo, streamDescriptor(0x1b, videoPID)...) // H.264
	}
	if hasAudio {
		esInfo = append(esInfo, streamDescriptor(0x03, audioPID)...) // MPEG-1 audio (MP3)
	}

	pcrPID := videoPID
	if !hasVideo {
		pcrPID = audioPID
	}

	section := concat(
		[]byte{0x02},       // table_id
		[]byte{0xb0, 0x00}, // section_length patched below
		[]byte{0x00, 0x01}, // program_number
		[]byte{0xc1},       // version=0, current_next=1
		[]byte{0x00},       // section_number
		[]byte{0x00},       // last_section_number
		u16(0xe000|uint16(pcrPID)),
		u16(0xf000), // reserved + program_info_length=0
		esInfo,
	)
	return finishPSISection(section)
}

func streamDescriptor(streamType byte, pid int) []byte {
	return concat([]byte{streamType}, u16(0xe000|uint16(pid)), u16(0xf000))
}

// finishPSISection patches the section_length field (12 bits, counted
// from just after the length field to the end of the section, CRC
// included) and appends the CRC32/MPEG-2 trailer.
func finishPSISection(section []byte) []byte {
	// section_length covers everything after byte 3 (the length field
	// itself) plus the 4-byte CRC that will be appended.
	length := len(section) - 3 + 4
	section[1] = (section[1] & 0xf0) | byte(length>>8)
	section[2] = byte(length)

	crc := crc32MPEG2(section)
	return concat(section, u32(crc))
}

// wrapPSIPacket wraps one PSI section into a single 188-byte TS packet
// (a PAT/PMT section always fits in one packet at this project's scale).
func wrapPSIPacket(pid int, cc *byte, section []byte) []byte {
	pkt := make([]byte, tsPacketSize)
	pkt[0] = tsSyncByte
	pkt[1] = 0x40 | byte(pid>>8) // payload_unit_start_indicator=1
	pkt[2] = byte(pid)
	pkt[3] = 0x10 | (*cc & 0x0f) // no adaptation field, payload only
	*cc = (*cc + 1) & 0x0f

	pkt[4] = 0x00 // pointer_field
	copy(pkt[5:], section)
	for i := 5 + len(section); i < tsPacketSize; i++ {
		pkt[i] = 0xff
	}
	return pkt
}

// WriteVideoPacket PES-wraps one video access unit and splits it into
// 188-byte TS packets.
func (m *TSMuxer) WriteVideoPacket(pkt Packet) error {
	if !m.hasVideo {
		return nil
	}
	if pkt.KeyFrame {
		if err := m.writePSI(); err != nil {
			return err
		}
	}
	pes := buildPESHeader(pkt, true)
	return m.writeElementaryStream(videoPID, &m.videoCC, concat(pes, pkt.Data))
}

// WriteAudioPacket PES-wraps one audio frame and splits it into
// 188-byte TS packets.
func (m *TSMuxer) WriteAudioPacket(pkt Packet) error {
	if !m.hasAudio {
		return nil
	}
	pes := buildPESHeader(pkt, false)
	return m.writeElementaryStream(audioPID, &m.audioCC, concat(pes, pkt.Data))
}

// buildPESHeader builds a PES packet header carrying PTS only; since this
// project always sets DTS=PTS (spec.md §4.5), no separate DTS field is
// written.
func buildPESHeader(pkt Packet, video bool) []byte {
	streamID := byte(0xe0) // video stream 0
	if !video {
		streamID = 0xc0 // audio stream 0
	}
	ptsTicks := microsToPESTicks(pkt.PTS)
	pesOptional := concat(
		[]byte{0x80, 0x80}, // marker bits, PTS-only flag
		[]byte{0x05},       // PES_header_data_length
		pesTimestamp(0x2, ptsTicks),
	)
	header := concat(
		[]byte{0x00, 0x00, 0x01}, []byte{streamID},
		u16(0), // PES_packet_length = 0 (unbounded, valid for video per spec)
		pesOptional,
	)
	return header
}

func pesTimestamp(prefix byte, ticks int64) []byte {
	b := make([]byte, 5)
	b[0] = (prefix << 4) | byte((ticks>>29)&0x0e) | 0x01
	b[1] = byte(ticks >> 22)
	b[2] = byte((ticks>>14)&0xfe) | 0x01
	b[3] = byte(ticks >> 7)
	b[4] = byte((ticks<<1)&0xfe) | 0x01
	return b
}

// microsToPESTicks converts a microsecond timestamp to the 90kHz clock
// PES timestamps use.
func microsToPESTicks(micros int64) int64 {
	return micros * 90 / 1000
}

// writeElementaryStream splits a PES packet into 188-byte TS packets,
// setting payload_unit_start_indicator on the first and padding the
// final packet with 0xff-filled stuffing via an adaptation field.
func (m *TSMuxer) writeElementaryStream(pid int, cc *byte, pes []byte) error {
	var out []byte
	first := true
	for offset := 0; offset < len(pes); {
		pkt := make([]byte, tsPacketSize)
		pkt[0] = tsSyncByte
		pusi := byte(0)
		if first {
			pusi = 0x40
		}
		pkt[1] = pusi | byte(pid>>8)
		pkt[2] = byte(pid)

		remaining := len(pes) - offset
		payloadStart := 4
		hasAdaptation := remaining < tsPacketSize-4
		if hasAdaptation {
			stuffLen := (tsPacketSize - 4) - remaining - 1
			pkt[3] = 0x30 | (*cc & 0x0f)
			pkt[4] = byte(stuffLen)
			payloadStart = 5
			if stuffLen > 0 {
				pkt[5] = 0x00
				for i := 6; i < 6+stuffLen-1; i++ {
					pkt[i] = 0xff
				}
				payloadStart = 5 + stuffLen
			}
		} else {
			pkt[3] = 0x10 | (*cc & 0x0f)
		}
		*cc = (*cc + 1) & 0x0f

		n := copy(pkt[payloadStart:], pes[offset:])
		offset += n
		first = false
		out = append(out, pkt...)
	}
	_, err := m.sink.Write(out)
	return err
}
