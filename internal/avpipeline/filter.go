// Package avpipeline implements the decode → filter → encode → mux
// dataflow graph that turns raw captured frames into muxed bytes,
// including filter/encoder selection and the per-frame video and audio
// muxing algorithms (spec.md §4.5).
package avpipeline

import "github.com/kamkast/kamkast/internal/model"

// FilterKind selects which pre-encode transform stage runs.
type FilterKind int

const (
	FilterOff FilterKind = iota
	FilterScale
	FilterVflip
	FilterFrame169
)

// scaleFactors is the closed set of scale factors selectable for output
// dimension computation, per spec.md §4.5.
var scaleFactors = []float64{1.0, 0.75, 0.5, 0.25}

// ScaleFactor returns the nth supported scale factor (0 = 1.0, 3 =
// 0.25), clamping out-of-range indices to the nearest valid one.
func ScaleFactor(index int) float64 {
	if index < 0 {
		index = 0
	}
	if index >= len(scaleFactors) {
		index = len(scaleFactors) - 1
	}
	return scaleFactors[index]
}

// SelectFilter picks the filter stage for a source, given its transform
// and whether its reported pixel format/dimensions already match what
// the encoder needs, per spec.md §4.5.
func SelectFilter(transform model.Transform, inPixfmt, encoderPixfmt string, inW, inH, outW, outH int) FilterKind {
	if transform.IsFrame169() {
		return FilterFrame169
	}
	if inPixfmt == encoderPixfmt && inW == outW && inH == outH && !transform.Vflip() {
		return FilterOff
	}
	if transform.Vflip() {
		return FilterVflip
	}
	return FilterScale
}

// OutputDimension computes the encoder's target width/height from the
// input dimension and scale factor, per spec.md §4.5: for Frame169,
// height = ceil(max(w,h)*factor), width = ceil(16*height/9); both
// rounded down to even. It returns an error if rounding would produce a
// zero dimension (spec.md §8 boundary behavior: treat as configuration
// error).
func OutputDimension(kind FilterKind, inW, inH int, factor float64) (outW, outH int, err error) {
	switch kind {
	case FilterFrame169:
		maxDim := inW
		if inH > maxDim {
			maxDim = inH
		}
		h := ceilInt(float64(maxDim) * factor)
		w := ceilInt(16 * float64(h) / 9)
		outH = evenFloor(h)
		outW = evenFloor(w)
	default:
		outW = evenFloor(ceilInt(float64(inW) * factor))
		outH = evenFloor(ceilInt(float64(inH) * factor))
	}
	if outW <= 0 || outH <= 0 {
		return 0, 0, errZeroDimension
	}
	return outW, outH, nil
}

func ceilInt(v float64) int {
	i := int(v)
	if float64(i) < v {
		i++
	}
	return i
}

func evenFloor(v int) int {
	if v%2 != 0 {
		v--
	}
	return v
}
