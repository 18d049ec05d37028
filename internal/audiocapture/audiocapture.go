// Package audiocapture connects to the host audio subsystem in one of
// two modes: Direct (a named microphone or sink monitor) or
// Playback-follow (attach to whichever application is currently the
// loudest-playing one), per spec.md §4.3.
package audiocapture

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/kamkast/kamkast/internal/databuffer"
	"github.com/kamkast/kamkast/internal/model"
)

// PaClient mirrors spec.md §3's PaClient: a PulseAudio playback client
// not owned by this process and not blacklisted.
type PaClient struct {
	Idx    uint32
	Name   string
	Binary string
	Pid    int
}

// PaSinkInput mirrors spec.md §3's PaSinkInput.
type PaSinkInput struct {
	Idx       uint32
	Name      string
	ClientIdx uint32
	SinkIdx   uint32
	Corked    bool
	Muted     bool
	Removed   bool
}

// defaultBlacklist is the small fixed list of platform noise makers
// spec.md §4.3 names, in addition to our own PID (added at construction
// time since it is only known at runtime).
var defaultBlacklist = []string{"pulseaudio", "pipewire", "pipewire-pulse", "gnome-shell"}

// SelectBestSinkInput implements the total order of spec.md §4.3:
//
//	(a) if the currently connected sink-input is present, not removed,
//	    and not corked, keep it;
//	(b) else pick the first sink-input whose client is known, not
//	    blacklisted, and whose corked==false, removed==false;
//	(c) else disconnect (return 0, false).
//
// order is the enumeration order of candidate indices to consider for
// rule (b); a plain map iteration would make selection nondeterministic.
func SelectBestSinkInput(connected uint32, hasConnected bool, order []uint32, inputs map[uint32]PaSinkInput, clients map[uint32]PaClient, blacklist map[string]bool) (uint32, bool) {
	if hasConnected {
		if cur, ok := inputs[connected]; ok && !cur.Removed && !cur.Corked {
			return connected, true
		}
	}
	for _, idx := range order {
		in, ok := inputs[idx]
		if !ok || in.Removed || in.Corked {
			continue
		}
		client, known := clients[in.ClientIdx]
		if !known {
			continue
		}
		if blacklist[client.Binary] {
			continue
		}
		return idx, true
	}
	return 0, false
}

// BuildBlacklist merges the fixed platform noise-maker list with our own
// process id. Entries without a known PID (pid<=0) are ignored per
// spec.md §4.3.
func BuildBlacklist(ownPid int, clients map[uint32]PaClient) map[string]bool {
	bl := make(map[string]bool, len(defaultBlacklist)+1)
	for _, name := range defaultBlacklist {
		bl[name] = true
	}
	if ownPid > 0 {
		for _, c := range clients {
			if c.Pid == ownPid {
				bl[c.Binary] = true
			}
		}
	}
	return bl
}

// Capture fills a shared audioBuffer with raw PCM samples for one
// AudioSource, either directly (Microphone/SinkMonitor) or by following
// the loudest-playing application (Playback-follow).
type Capture struct {
	log    *slog.Logger
	source model.AudioSource

	mu       sync.Mutex // guards Buffer's contents; exported for the muxing thread to share
	Buffer   *databuffer.DataBuffer
	cmd      *exec.Cmd

	connected     uint32
	hasConnected  bool
}

// New creates a Capture for source with a 1 MiB / 8 MiB audioBuffer,
// sized generously relative to one frame (a few KiB) so brief stalls
// never force an eviction.
func New(log *slog.Logger, source model.AudioSource) *Capture {
	if log == nil {
		log = slog.Default()
	}
	return &Capture{
		log:    log.With("component", "audiocapture", "source", source.Name),
		source: source,
		Buffer: databuffer.New(1<<20, 8<<20),
	}
}

// Lock/Unlock expose the buffer's external lock, per the DataBuffer
// contract of spec.md §4.1 ("the buffer is not internally locked").
func (c *Capture) Lock()   { c.mu.Lock() }
func (c *Capture) Unlock() { c.mu.Unlock() }

// Source returns the AudioSource this Capture was opened for.
func (c *Capture) Source() model.AudioSource { return c.source }

// StartDirect opens a recording stream on the source's device using an
// external ffmpeg-compatible process, per this project's uniform
// external-process capture pattern.
func (c *Capture) StartDirect(ctx context.Context, ffmpegBinary string) error {
	if c.source.Kind == model.AudioPlaybackFollow {
		return fmt.Errorf("audiocapture: StartDirect called for a Playback-follow source")
	}
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "pulse", "-i", c.source.Device,
		"-f", pcmFormatName(c.source.Spec),
		"-ar", itoaFast(c.source.Spec.RateHz),
		"-ac", itoaFast(c.source.Spec.Channels),
		"pipe:1",
	}
	cmd := exec.CommandContext(ctx, ffmpegBinary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("audiocapture: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("audiocapture: start %s: %w", ffmpegBinary, err)
	}
	c.cmd = cmd
	go c.pump(stdout)
	return nil
}

func pcmFormatName(spec model.SampleSpec) string {
	switch spec.Format {
	case model.SampleU8:
		return "u8"
	case model.SampleS16BE:
		return "s16be"
	case model.SampleS32LE:
		return "s32le"
	case model.SampleS32BE:
		return "s32be"
	default:
		return "s16le"
	}
}

func itoaFast(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [12]byte
	pos := len(buf)
	for n > 0 {
		pos--
		buf[pos] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

func (c *Capture) pump(r io.Reader) {
	br := bufio.NewReaderSize(r, 64*1024)
	buf := make([]byte, 4096)
	for {
		n, err := br.Read(buf)
		if n > 0 {
			c.mu.Lock()
			c.Buffer.PushExactForce(buf[:n])
			c.mu.Unlock()
		}
		if err != nil {
			c.log.Debug("audio capture process ended", "error", err)
			return
		}
	}
}

// Stop terminates the external capture process, if any.
func (c *Capture) Stop() {
	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
}

// OwnPid returns this process's PID for blacklist construction.
func OwnPid() int { return os.Getpid() }
