package avpipeline

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/kamkast/kamkast/internal/model"
)

// nicePixfmts is the curated allowlist of common 8-bit planar YUV
// formats spec.md §4.5 and the glossary call "nice pixfmt": broadly
// supported, safe fallback choices.
var nicePixfmts = []string{"yuv420p", "nv12", "yuvj420p"}

// encoderProbe names the external command used to check whether a given
// encoder backend is usable on this host, and the ffmpeg encoder name it
// maps to. Grounded on the external-process pattern spec.md §4.5/§11
// generalizes from the source's compressed-camera flow: rather than
// linking libav, this project always shells out to an ffmpeg-compatible
// binary for decode/filter/encode, matching this codebase's other
// external-process integrations.
type encoderProbe struct {
	kind       model.VideoEncoder
	ffmpegName string
	probeArgs  []string
}

var encoderProbeOrder = []encoderProbe{
	{kind: model.EncoderH264V4L2M2M, ffmpegName: "h264_v4l2m2m", probeArgs: []string{"-h", "encoder=h264_v4l2m2m"}},
	{kind: model.EncoderH264NVENC, ffmpegName: "h264_nvenc", probeArgs: []string{"-h", "encoder=h264_nvenc"}},
	{kind: model.EncoderH264CPU, ffmpegName: "libx264", probeArgs: []string{"-h", "encoder=libx264"}},
}

// EncoderRunner abstracts the external encoder-probe subprocess so tests
// can substitute canned availability without shelling out.
type EncoderRunner interface {
	Probe(ctx context.Context, ffmpegBinary string, args []string) error
}

type execEncoderRunner struct{}

func (execEncoderRunner) Probe(ctx context.Context, ffmpegBinary string, args []string) error {
	return exec.CommandContext(ctx, ffmpegBinary, args...).Run()
}

// SelectEncoder implements spec.md §4.5's encoder selection rules: if
// requested is Auto, try hardware-M2M, then NVENC, then CPU, in order,
// opening (probing) each in turn; the first that succeeds wins. A
// non-Auto request is returned unprobed; this function does not check
// that the requested backend can actually be opened.
func SelectEncoder(ctx context.Context, ffmpegBinary string, requested model.VideoEncoder, runner EncoderRunner) (model.VideoEncoder, string, error) {
	if runner == nil {
		runner = execEncoderRunner{}
	}
	if requested != model.EncoderAuto {
		return requested, ffmpegNameFor(requested), nil
	}
	for _, cand := range encoderProbeOrder {
		if err := runner.Probe(ctx, ffmpegBinary, cand.probeArgs); err == nil {
			return cand.kind, cand.ffmpegName, nil
		}
	}
	return model.EncoderAuto, "", fmt.Errorf("avpipeline: no video encoder backend available on this host")
}

func ffmpegNameFor(enc model.VideoEncoder) string {
	for _, cand := range encoderProbeOrder {
		if cand.kind == enc {
			return cand.ffmpegName
		}
	}
	return "libx264"
}

// SelectPixfmt implements spec.md §4.5's pixfmt matching rule: prefer a
// nice pixfmt supported by both the encoder and the source capability;
// otherwise fall back to the encoder's first nice pixfmt.
func SelectPixfmt(encoderSupported []string, sourceCapability string) string {
	for _, nice := range nicePixfmts {
		if !contains(encoderSupported, nice) {
			continue
		}
		if nice == sourceCapability {
			return nice
		}
	}
	for _, supported := range encoderSupported {
		if contains(nicePixfmts, supported) {
			return supported
		}
	}
	if len(encoderSupported) > 0 {
		return encoderSupported[0]
	}
	return "yuv420p"
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
