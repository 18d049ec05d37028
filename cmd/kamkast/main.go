// Command kamkast runs the capture → encode → mux → push media-streaming
// gateway described by this repository: it binds one streaming HTTP
// server and serialises at most one active capture session onto it via
// the event loop, per spec.md §§2, 4.9.
package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kamkast/kamkast/internal/caster"
	"github.com/kamkast/kamkast/internal/config"
	"github.com/kamkast/kamkast/internal/eventloop"
	"github.com/kamkast/kamkast/internal/httpserver"
	"github.com/kamkast/kamkast/internal/model"
	"github.com/kamkast/kamkast/internal/sourceprobe"
)

const (
	serverName    = "kamkast"
	serverVersion = "0.1.0"
	ffmpegBinary  = "ffmpeg"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, wantHelp, err := config.Load(args)
	if err != nil {
		return err
	}
	if wantHelp {
		fmt.Println("usage: kamkast [flags]")
		return nil
	}

	log, closeLog, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(log)

	prober := sourceprobe.New(log)

	if cfg.ListSources || cfg.ListVideoSources || cfg.ListAudioSources {
		return printSourceLists(context.Background(), prober, cfg)
	}

	if cfg.URLPath == "" {
		cfg.URLPath, err = randomURLPath()
		if err != nil {
			return fmt.Errorf("kamkast: generating url-path: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := newApplication(log, cfg, prober)
	return app.Run(ctx)
}

// application wires config, sourceprobe, the HTTP server, and the event
// loop together, and owns the single active Caster.
type application struct {
	log    *slog.Logger
	cfg    config.Config
	prober *sourceprobe.Prober

	srv  *httpserver.Server
	loop *eventloop.Loop

	mu     sync.Mutex
	active *caster.Caster
}

func newApplication(log *slog.Logger, cfg config.Config, prober *sourceprobe.Prober) *application {
	app := &application{log: log, cfg: cfg, prober: prober}

	app.srv = httpserver.New(log, httpserver.Config{
		Address:         cfg.Address,
		Ifname:          cfg.Ifname,
		URLPath:         cfg.URLPath,
		IgnoreURLParams: cfg.IgnoreURLParams,
		DisableWebUI:    cfg.DisableWebUI,
		DisableCtrlAPI:  cfg.DisableCtrlAPI,
		LogRequests:     cfg.LogRequests,
		WebUIHTML:       []byte(webUIPage),
	}, app.onStreamStart, app.buildCtrlInfo, app.onConnectionDisconnect)

	app.loop = eventloop.New(log, eventloop.Handlers{
		StartServer:         app.startServer,
		StopServer:          app.stopServer,
		StartCasterFn:       app.startCaster,
		StopCasterFn:        app.stopCaster,
		NotifyServerStarted: func(urls []string) { log.Info("server started", "urls", urls) },
		NotifyServerEnded:   func() { log.Info("server ended") },
		NotifyCasterStarted: func(connID int64) { log.Info("caster started", "connID", connID) },
		NotifyCasterEnded:   func() { log.Info("caster ended") },
	})

	return app
}

// Run starts the event loop, enqueues StartServer, and blocks until ctx is
// cancelled, then enqueues StopServer and waits for it to drain.
func (a *application) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.loop.Run(gctx)
		return nil
	})

	a.loop.Post(eventloop.Event{Kind: eventloop.EvStartServer})

	<-ctx.Done()
	a.log.Info("shutdown requested")
	a.loop.Post(eventloop.Event{Kind: eventloop.EvStopServer})

	return g.Wait()
}

func (a *application) startServer(ctx context.Context) ([]string, error) {
	ln, err := a.srv.Listen(a.cfg.Port)
	if err != nil {
		return nil, err
	}
	go func() {
		if err := a.srv.Serve(ln); err != nil {
			a.log.Error("http server exited", "error", err)
		}
	}()

	host := a.cfg.Address
	if host == "" {
		host = "0.0.0.0"
	}
	url := fmt.Sprintf("http://%s:%d/%s", host, a.cfg.Port, a.cfg.URLPath)
	return []string{url}, nil
}

func (a *application) stopServer() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.srv.Shutdown(ctx); err != nil {
		a.log.Warn("http server shutdown", "error", err)
	}
}

func (a *application) onStreamStart(connID int64, query map[string]string) int {
	settings, err := a.buildSessionSettings(query)
	if err != nil {
		a.log.Warn("rejecting stream request", "error", err)
		return 400
	}
	a.loop.Post(eventloop.Event{Kind: eventloop.EvStartCaster, ConnID: connID, Settings: settings})
	return 200
}

func (a *application) onConnectionDisconnect(connID int64) {
	a.loop.Post(eventloop.Event{Kind: eventloop.EvStopCaster})
}

func (a *application) buildSessionSettings(query map[string]string) (model.SessionConfig, error) {
	cat, err := a.buildCatalog()
	if err != nil {
		return model.SessionConfig{}, err
	}
	sc, _, _, err := resolveSessionConfig(a.cfg, cat, query)
	return sc, err
}

func (a *application) buildCatalog() (sourceCatalog, error) {
	ctx := context.Background()
	videoSources, err := a.prober.VideoSources(ctx)
	if err != nil {
		return sourceCatalog{}, err
	}
	audioSources, err := a.prober.AudioSources(ctx)
	if err != nil {
		return sourceCatalog{}, err
	}
	cat := sourceCatalog{
		video: make(map[string]model.VideoSource, len(videoSources)),
		audio: make(map[string]model.AudioSource, len(audioSources)),
	}
	for _, v := range videoSources {
		cat.video[v.Name] = v
	}
	for _, aud := range audioSources {
		cat.audio[aud.Name] = aud
	}
	return cat, nil
}

func (a *application) startCaster(ctx context.Context, connID int64, settings model.SessionConfig) error {
	cat, err := a.buildCatalog()
	if err != nil {
		return err
	}
	videoSrc, audioSrc, err := lookupSources(cat, settings.VideoSourceID, settings.AudioSourceID)
	if err != nil {
		return err
	}

	onDataReady := func(b []byte) { a.srv.PushData(connID, b) }
	onStateChanged := func(s caster.State) {
		switch s {
		case caster.Started:
			a.loop.Post(eventloop.Event{Kind: eventloop.EvCasterStarted, ConnID: connID})
		case caster.Terminating:
			a.srv.DropConnection(connID)
			a.loop.Post(eventloop.Event{Kind: eventloop.EvCasterEnded})
			a.loop.Post(eventloop.Event{Kind: eventloop.EvStopCaster})
		}
	}

	c, err := caster.New(a.log, settings, ffmpegBinary, videoSrc, audioSrc, onDataReady, onStateChanged)
	if err != nil {
		return err
	}
	if err := c.Start(ctx); err != nil {
		return err
	}

	a.mu.Lock()
	a.active = c
	a.mu.Unlock()
	return nil
}

func (a *application) stopCaster() {
	a.mu.Lock()
	c := a.active
	a.active = nil
	a.mu.Unlock()
	if c != nil {
		c.Stop()
	}
}

// ctrlInfo is the ctrl/info JSON payload of spec.md §6.
type ctrlInfo struct {
	ServerName              string              `json:"server_name"`
	ServerVersion           string              `json:"server_version"`
	Platform                string              `json:"platform"`
	VideoSources            []sourceprobe.Entry `json:"video_sources"`
	AudioSources            []sourceprobe.Entry `json:"audio_sources"`
	DefaultVideoSource      string              `json:"default_video_source"`
	DefaultAudioSource      string              `json:"default_audio_source"`
	DefaultVideoOrientation string              `json:"default_video_orientation"`
	DefaultStreamFormat     string              `json:"default_stream_format"`
	DefaultAudioVolume      float64             `json:"default_audio_volume"`
	DefaultAudioSourceMuted bool                `json:"default_audio_source_muted"`
}

func (a *application) buildCtrlInfo() any {
	ctx := context.Background()
	videoSources, err := a.prober.ListVideoSources(ctx)
	if err != nil {
		a.log.Warn("ctrl/info: listing video sources", "error", err)
	}
	audioSources, err := a.prober.ListAudioSources(ctx)
	if err != nil {
		a.log.Warn("ctrl/info: listing audio sources", "error", err)
	}
	return ctrlInfo{
		ServerName:              serverName,
		ServerVersion:           serverVersion,
		Platform:                runtime.GOOS + "/" + runtime.GOARCH,
		VideoSources:            videoSources,
		AudioSources:            audioSources,
		DefaultVideoSource:      a.cfg.DefaultVideoSource,
		DefaultAudioSource:      a.cfg.DefaultAudioSource,
		DefaultVideoOrientation: a.cfg.DefaultVideoOrientation.String(),
		DefaultStreamFormat:     a.cfg.DefaultStreamFormat.String(),
		DefaultAudioVolume:      a.cfg.DefaultAudioVolume,
		DefaultAudioSourceMuted: a.cfg.DefaultAudioSourceMuted,
	}
}

func printSourceLists(ctx context.Context, prober *sourceprobe.Prober, cfg config.Config) error {
	if cfg.ListSources || cfg.ListVideoSources {
		videoSources, err := prober.ListVideoSources(ctx)
		if err != nil {
			return err
		}
		fmt.Println("Video sources:")
		for _, e := range videoSources {
			fmt.Printf("  %-16s %s\n", e.Name, e.FriendlyName)
		}
	}
	if cfg.ListSources || cfg.ListAudioSources {
		audioSources, err := prober.ListAudioSources(ctx)
		if err != nil {
			return err
		}
		fmt.Println("Audio sources:")
		for _, e := range audioSources {
			fmt.Printf("  %-16s %s\n", e.Name, e.FriendlyName)
		}
	}
	return nil
}

const urlPathAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// randomURLPath produces the "random 5-char alphanumeric" default of
// spec.md §6.
func randomURLPath() (string, error) {
	buf := make([]byte, 5)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, 5)
	for i, b := range buf {
		out[i] = urlPathAlphabet[int(b)%len(urlPathAlphabet)]
	}
	return string(out), nil
}

func setupLogging(cfg config.Config) (*slog.Logger, func(), error) {
	level := slog.LevelInfo
	if cfg.Debug || cfg.DebugFile != "" {
		level = slog.LevelDebug
	}

	logPath := cfg.LogFile
	if cfg.DebugFile != "" {
		logPath = cfg.DebugFile
	}

	out := os.Stderr
	closeFn := func() {}
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("kamkast: opening log file %s: %w", logPath, err)
		}
		out = f
		closeFn = func() { _ = f.Close() }
	}

	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	return slog.New(handler), closeFn, nil
}
