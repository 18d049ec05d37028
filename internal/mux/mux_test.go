package mux

import (
	"bytes"
	"encoding/binary"
	"testing"
)

type bufSink struct {
	bytes.Buffer
}

func TestFMP4InitBeginsWithFtypThenMoov(t *testing.T) {
	t.Parallel()
	sink := &bufSink{}
	video := &VideoTrack{Width: 640, Height: 360, TimescaleHz: 90000}
	if _, err := NewFMP4Muxer(sink, video, nil, Metadata{Author: "kamkast"}); err != nil {
		t.Fatalf("NewFMP4Muxer: %v", err)
	}

	data := sink.Bytes()
	if len(data) < 8 || string(data[4:8]) != "ftyp" {
		t.Fatalf("expected stream to begin with an ftyp box, got %x", data[:8])
	}

	ftypLen := binary.BigEndian.Uint32(data[0:4])
	if int(ftypLen) >= len(data) {
		t.Fatalf("ftyp box length %d overruns buffer of length %d", ftypLen, len(data))
	}
	moovStart := int(ftypLen)
	if string(data[moovStart+4:moovStart+8]) != "moov" {
		t.Fatalf("expected moov box immediately after ftyp, got %q", data[moovStart+4:moovStart+8])
	}
}

func TestFMP4FragmentsAppearOnlyAfterInit(t *testing.T) {
	t.Parallel()
	sink := &bufSink{}
	video := &VideoTrack{Width: 640, Height: 360, TimescaleHz: 90000}
	m, err := NewFMP4Muxer(sink, video, nil, Metadata{})
	if err != nil {
		t.Fatalf("NewFMP4Muxer: %v", err)
	}
	initLen := sink.Len()

	if err := m.WriteVideoPacket(Packet{PTS: 0, Duration: 33333, KeyFrame: true, Data: []byte{1, 2, 3}}); err != nil {
		t.Fatalf("WriteVideoPacket: %v", err)
	}

	data := sink.Bytes()
	if len(data) <= initLen {
		t.Fatalf("expected fragment bytes appended after init")
	}
	fragStart := data[initLen:]
	if string(fragStart[4:8]) != "moof" {
		t.Fatalf("expected first fragment box to be moof, got %q", fragStart[4:8])
	}
}

func TestFMP4BaseMediaDecodeTimeStrictlyIncreasing(t *testing.T) {
	t.Parallel()
	sink := &bufSink{}
	video := &VideoTrack{Width: 640, Height: 360, TimescaleHz: 90000}
	m, err := NewFMP4Muxer(sink, video, nil, Metadata{})
	if err != nil {
		t.Fatalf("NewFMP4Muxer: %v", err)
	}

	var last uint64 = 0
	for i := 0; i < 5; i++ {
		before := m.videoBaseDecodeTime
		if err := m.WriteVideoPacket(Packet{PTS: int64(i) * 33333, Duration: 33333, Data: []byte{0xaa}}); err != nil {
			t.Fatalf("WriteVideoPacket: %v", err)
		}
		if i > 0 && m.videoBaseDecodeTime <= before {
			t.Fatalf("baseMediaDecodeTime did not strictly increase: %d -> %d", before, m.videoBaseDecodeTime)
		}
		last = m.videoBaseDecodeTime
	}
	if last == 0 {
		t.Fatalf("expected non-zero cumulative decode time after 5 fragments")
	}
}

func TestTSMuxerWritesPATThenPMT(t *testing.T) {
	t.Parallel()
	sink := &bufSink{}
	video := &VideoTrack{Width: 640, Height: 360}
	if _, err := NewTSMuxer(sink, video, nil); err != nil {
		t.Fatalf("NewTSMuxer: %v", err)
	}

	data := sink.Bytes()
	if len(data) != 2*tsPacketSize {
		t.Fatalf("expected exactly 2 TS packets (PAT+PMT) at open, got %d bytes", len(data))
	}
	if data[0] != tsSyncByte || data[tsPacketSize] != tsSyncByte {
		t.Fatalf("expected both packets to start with the TS sync byte")
	}
	patPIDGot := int(data[1]&0x1f)<<8 | int(data[2])
	if patPIDGot != patPID {
		t.Fatalf("first packet PID = %d, want PAT PID %d", patPIDGot, patPID)
	}
}

func TestTSMuxerSplitsLargePacketAcrossMultipleTSPackets(t *testing.T) {
	t.Parallel()
	sink := &bufSink{}
	video := &VideoTrack{Width: 640, Height: 360}
	m, err := NewTSMuxer(sink, video, nil)
	if err != nil {
		t.Fatalf("NewTSMuxer: %v", err)
	}
	before := sink.Len()

	big := make([]byte, 1000)
	if err := m.WriteVideoPacket(Packet{PTS: 0, Data: big}); err != nil {
		t.Fatalf("WriteVideoPacket: %v", err)
	}

	written := sink.Len() - before
	if written%tsPacketSize != 0 {
		t.Fatalf("expected whole number of TS packets, got %d bytes", written)
	}
	if written < tsPacketSize*2 {
		t.Fatalf("expected a 1000-byte PES to span multiple TS packets, got %d bytes", written)
	}
}

func TestMP3MuxerIsPassthrough(t *testing.T) {
	t.Parallel()
	sink := &bufSink{}
	m := NewMP3Muxer(sink)
	frame := []byte{0xff, 0xfb, 0x90, 0x00}
	if err := m.WriteAudioPacket(Packet{Data: frame}); err != nil {
		t.Fatalf("WriteAudioPacket: %v", err)
	}
	if !bytes.Equal(sink.Bytes(), frame) {
		t.Fatalf("expected passthrough of raw MP3 frame bytes")
	}
}
