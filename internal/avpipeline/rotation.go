package avpipeline

import "github.com/kamkast/kamkast/internal/model"

// RotationDegrees implements spec.md §4.5's rotation-metadata rule: if
// the requested orientation differs from the source's native
// orientation, the display-matrix rotation attached to the video stream
// is (rotRequested + rotNative) mod 360. Caster stores the result in
// mux.VideoTrack.RotationDeg; neither muxer writes it into its output
// (the fMP4 track header carries an identity matrix), and no pixel data
// is rotated by this project's code.
func RotationDegrees(requested, native model.Orientation) int {
	return (requested.Rotation() + native.Rotation()) % 360
}

// NeedsRotationMetadata reports whether a display-matrix rotation should
// be attached at all: spec.md §4.5 only attaches one when the requested
// orientation differs from the source's native orientation.
func NeedsRotationMetadata(requested, native model.Orientation) bool {
	return requested != native
}
