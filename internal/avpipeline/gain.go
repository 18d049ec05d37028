package avpipeline

import "github.com/kamkast/kamkast/internal/model"

// ApplyGain multiplies every sample in buf (encoded per format) by
// volume, clamping to the format's representable range rather than
// wrapping, per spec.md §8's boundary behavior for audio-volume=10.0.
// volume==1.0 is a no-op (spec.md §4.5: "if audioVolume != 1.0, apply
// per-sample gain"). buf is modified in place.
func ApplyGain(buf []byte, format model.SampleFormat, volume float64) {
	if volume == 1.0 {
		return
	}
	switch format {
	case model.SampleU8:
		applyGainU8(buf, volume)
	case model.SampleS16LE:
		applyGainS16(buf, volume, false)
	case model.SampleS16BE:
		applyGainS16(buf, volume, true)
	case model.SampleS32LE:
		applyGainS32(buf, volume, false)
	case model.SampleS32BE:
		applyGainS32(buf, volume, true)
	}
}

func applyGainU8(buf []byte, volume float64) {
	for i, b := range buf {
		centered := float64(int(b) - 128)
		scaled := clampFloat(centered*volume, -128, 127)
		buf[i] = byte(int(scaled) + 128)
	}
}

func applyGainS16(buf []byte, volume float64, big bool) {
	for i := 0; i+1 < len(buf); i += 2 {
		var v int16
		if big {
			v = int16(uint16(buf[i])<<8 | uint16(buf[i+1]))
		} else {
			v = int16(uint16(buf[i]) | uint16(buf[i+1])<<8)
		}
		scaled := int16(clampFloat(float64(v)*volume, -32768, 32767))
		if big {
			buf[i] = byte(uint16(scaled) >> 8)
			buf[i+1] = byte(uint16(scaled))
		} else {
			buf[i] = byte(uint16(scaled))
			buf[i+1] = byte(uint16(scaled) >> 8)
		}
	}
}

func applyGainS32(buf []byte, volume float64, big bool) {
	for i := 0; i+3 < len(buf); i += 4 {
		var v int32
		if big {
			v = int32(uint32(buf[i])<<24 | uint32(buf[i+1])<<16 | uint32(buf[i+2])<<8 | uint32(buf[i+3]))
		} else {
			v = int32(uint32(buf[i]) | uint32(buf[i+1])<<8 | uint32(buf[i+2])<<16 | uint32(buf[i+3])<<24)
		}
		scaled := int32(clampFloat(float64(v)*volume, -2147483648, 2147483647))
		u := uint32(scaled)
		if big {
			buf[i] = byte(u >> 24)
			buf[i+1] = byte(u >> 16)
			buf[i+2] = byte(u >> 8)
			buf[i+3] = byte(u)
		} else {
			buf[i] = byte(u)
			buf[i+1] = byte(u >> 8)
			buf[i+2] = byte(u >> 16)
			buf[i+3] = byte(u >> 24)
		}
	}
}

func clampFloat(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
