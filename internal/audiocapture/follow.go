package audiocapture

import (
	"bufio"
	"context"
	"os/exec"
	"strconv"
	"strings"
)

// commandRunner abstracts pactl invocation for tests, mirroring
// sourceprobe's pattern.
type commandRunner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// FollowController implements spec.md §4.3's Playback-follow sub-mode:
// it polls the client and sink-input tables (in lieu of a persistent
// `pactl subscribe` event stream, which needs a long-lived subprocess
// this project models the same way as every other external-process
// integration: a background goroutine feeding channels) and applies the
// best-candidate total order on every poll.
type FollowController struct {
	runner commandRunner

	clients   map[uint32]PaClient
	inputs    map[uint32]PaSinkInput
	order     []uint32
	blacklist map[string]bool

	connected    uint32
	hasConnected bool
}

// NewFollowController creates a controller with the fixed blacklist plus
// this process's own PID.
func NewFollowController() *FollowController {
	return &FollowController{
		runner:    execRunner{},
		clients:   make(map[uint32]PaClient),
		inputs:    make(map[uint32]PaSinkInput),
		blacklist: BuildBlacklist(OwnPid(), nil),
	}
}

// Poll refreshes the client/sink-input tables from pactl and returns the
// newly selected sink-input (if any) and whether the connected target
// changed since the last poll.
func (f *FollowController) Poll(ctx context.Context) (target uint32, connected bool, changed bool, err error) {
	clientsOut, err := f.runner.Output(ctx, "pactl", "list", "clients")
	if err != nil {
		return 0, false, false, err
	}
	inputsOut, err := f.runner.Output(ctx, "pactl", "list", "sink-inputs")
	if err != nil {
		return 0, false, false, err
	}

	f.clients = parsePactlClients(string(clientsOut))
	f.blacklist = BuildBlacklist(OwnPid(), f.clients)
	f.inputs, f.order = parsePactlSinkInputs(string(inputsOut))

	newTarget, ok := SelectBestSinkInput(f.connected, f.hasConnected, f.order, f.inputs, f.clients, f.blacklist)
	changed = ok != f.hasConnected || newTarget != f.connected
	f.connected, f.hasConnected = newTarget, ok
	return newTarget, ok, changed, nil
}

func parsePactlClients(text string) map[uint32]PaClient {
	out := make(map[uint32]PaClient)
	var cur *PaClient
	flush := func() {
		if cur != nil {
			out[cur.Idx] = *cur
			cur = nil
		}
	}
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "Client #") {
			flush()
			idx, _ := strconv.ParseUint(strings.TrimPrefix(line, "Client #"), 10, 32)
			cur = &PaClient{Idx: uint32(idx)}
			continue
		}
		if cur == nil {
			continue
		}
		switch {
		case strings.HasPrefix(line, "application.process.binary ="):
			cur.Binary = unquote(strings.TrimSpace(strings.TrimPrefix(line, "application.process.binary =")))
		case strings.HasPrefix(line, "application.process.id ="):
			pid, _ := strconv.Atoi(unquote(strings.TrimSpace(strings.TrimPrefix(line, "application.process.id ="))))
			cur.Pid = pid
		case strings.HasPrefix(line, "application.name ="):
			cur.Name = unquote(strings.TrimSpace(strings.TrimPrefix(line, "application.name =")))
		}
	}
	flush()
	return out
}

func parsePactlSinkInputs(text string) (map[uint32]PaSinkInput, []uint32) {
	out := make(map[uint32]PaSinkInput)
	var order []uint32
	var cur *PaSinkInput
	flush := func() {
		if cur != nil {
			out[cur.Idx] = *cur
			order = append(order, cur.Idx)
			cur = nil
		}
	}
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "Sink Input #") {
			flush()
			idx, _ := strconv.ParseUint(strings.TrimPrefix(line, "Sink Input #"), 10, 32)
			cur = &PaSinkInput{Idx: uint32(idx)}
			continue
		}
		if cur == nil {
			continue
		}
		switch {
		case strings.HasPrefix(line, "Client:"):
			v := strings.TrimSpace(strings.TrimPrefix(line, "Client:"))
			if n, err := strconv.ParseUint(v, 10, 32); err == nil {
				cur.ClientIdx = uint32(n)
			}
		case strings.HasPrefix(line, "Sink:"):
			v := strings.TrimSpace(strings.TrimPrefix(line, "Sink:"))
			if n, err := strconv.ParseUint(v, 10, 32); err == nil {
				cur.SinkIdx = uint32(n)
			}
		case strings.HasPrefix(line, "Corked:"):
			cur.Corked = strings.TrimSpace(strings.TrimPrefix(line, "Corked:")) == "yes"
		case strings.HasPrefix(line, "Mute:"):
			cur.Muted = strings.TrimSpace(strings.TrimPrefix(line, "Mute:")) == "yes"
		}
	}
	flush()
	return out, order
}

func unquote(s string) string {
	return strings.Trim(s, "\"")
}
