package sourceprobe

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kamkast/kamkast/internal/model"
)

// niceVideoFramerates is the framerate set advertised for camera and
// screen sources when the device does not report its own list.
var niceVideoFramerates = []int{30}

// VideoSources returns every probed VideoSource: cameras discovered under
// /sys/class/video4linux, one entry per screen/pixel-format, and the
// synthetic sources, per spec.md §4.2.
func (p *Prober) VideoSources(ctx context.Context) ([]model.VideoSource, error) {
	var sources []model.VideoSource

	cams, err := p.probeCameras()
	if err != nil {
		p.log.Warn("camera probe failed", "error", err)
	} else {
		sources = append(sources, cams...)
	}

	sources = append(sources, p.probeScreens(ctx)...)
	sources = append(sources, syntheticVideoSources()...)

	return sources, nil
}

// ListVideoSources returns the {name, friendlyName} pairs for all video
// sources, sorted by name descending per spec.md §4.2.
func (p *Prober) ListVideoSources(ctx context.Context) ([]Entry, error) {
	sources, err := p.VideoSources(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(sources))
	for _, s := range sources {
		entries = append(entries, Entry{Name: s.Name, FriendlyName: s.FriendlyName})
	}
	entries = dedupeByBusInfo(entries)
	sortDescending(entries)
	return entries, nil
}

const videoDeviceSysPath = "/sys/class/video4linux"

// probeCameras walks /sys/class/video4linux, building one VideoSource per
// device node listed there; no capture-capability check is made. A sysfs
// attribute that cannot be read falls back to the device node name
// rather than aborting the whole probe.
func (p *Prober) probeCameras() ([]model.VideoSource, error) {
	entries, err := os.ReadDir(videoDeviceSysPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []model.VideoSource
	for _, ent := range entries {
		devName := ent.Name() // e.g. "video0"
		busInfo := p.readSysAttr(devName, "device/../bus_info")
		cardName := p.readSysAttr(devName, "name")
		if cardName == "" {
			cardName = devName
		}

		id := busInfo
		if id == "" {
			id = cardName
		}

		out = append(out, model.VideoSource{
			Name:         hashName("cam-", id),
			FriendlyName: cardName,
			DevicePath:   filepath.Join("/dev", devName),
			Kind:         model.VideoCameraRaw,
			Capabilities: []model.Capability{{
				Codec:    "raw",
				PixelFmt: "yuv420p",
				FrameSpecs: []model.FrameSpec{
					{Width: 1280, Height: 720, Framerates: niceVideoFramerates},
					{Width: 640, Height: 480, Framerates: niceVideoFramerates},
				},
			}},
			Transform: model.TransformIdentity,
		})
	}
	return out, nil
}

// readSysAttr reads a single-line sysfs attribute for a v4l2 device,
// returning "" if it cannot be read.
func (p *Prober) readSysAttr(dev, attr string) string {
	f, err := os.Open(filepath.Join(videoDeviceSysPath, dev, attr))
	if err != nil {
		return ""
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	if sc.Scan() {
		return strings.TrimSpace(sc.Text())
	}
	return ""
}

// screenCount is queried from the display server and each screen is
// offered in a fixed pair of pixel formats (bgra, rgba); probeScreens
// falls back to a single screen when no display is reachable (e.g.
// running headless), rather than failing.
func (p *Prober) probeScreens(ctx context.Context) []model.VideoSource {
	n := p.screenCount(ctx)
	if n == 0 {
		return nil
	}

	pixfmts := []model.PixelFormat{"bgra", "rgba"}
	var out []model.VideoSource
	for i := 0; i < n; i++ {
		for _, pf := range pixfmts {
			out = append(out, model.VideoSource{
				Name:         hashName("screen-", sprintScreen(i, pf)),
				FriendlyName: sprintScreenFriendly(i, pf),
				Kind:         model.VideoScreenGrabX,
				Capabilities: []model.Capability{{
					Codec:    "raw",
					PixelFmt: pf,
					FrameSpecs: []model.FrameSpec{
						{Width: 1920, Height: 1080, Framerates: niceVideoFramerates},
					},
				}},
				Transform: model.TransformIdentity,
			})
		}
	}
	return out
}

func sprintScreen(i int, pf model.PixelFormat) string {
	return "screen" + strconv.Itoa(i) + string(pf)
}

func sprintScreenFriendly(i int, pf model.PixelFormat) string {
	return "Screen " + strconv.Itoa(i) + " (" + string(pf) + ")"
}

// screenCount asks the display server how many screens are attached via
// xrandr, defaulting to 1 (a single virtual screen) if the tool is
// unavailable, matching this project's habit of degrading gracefully when
// an external collaborator (here, the display server) is absent.
func (p *Prober) screenCount(ctx context.Context) int {
	out, err := p.runner.Output(ctx, "xrandr", "--listmonitors")
	if err != nil {
		return 1
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	count := 0
	for _, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), "Monitors:") {
			continue
		}
		if strings.TrimSpace(l) != "" {
			count++
		}
	}
	if count == 0 {
		return 1
	}
	return count
}
