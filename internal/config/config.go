// Package config loads and validates kamkast's configuration: compiled-in
// defaults, overridden by an INI file (gopkg.in/ini.v1), overridden by CLI
// flags (stdlib flag). It also owns the enum/bool token spellings used on
// both the config file and the HTTP query string.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"gopkg.in/ini.v1"

	"github.com/kamkast/kamkast/internal/model"
)

// Config is the fully resolved, validated process configuration.
type Config struct {
	URLPath      string
	Address      string
	Ifname       string
	Port         int
	VideoEncoder model.VideoEncoder

	DefaultStreamFormat     model.StreamFormat
	DefaultVideoSource      string
	DefaultAudioSource      string
	DefaultAudioVolume      float64
	DefaultVideoOrientation model.Orientation
	DefaultAudioSourceMuted bool

	IgnoreURLParams bool
	DisableWebUI    bool
	DisableCtrlAPI  bool
	LogRequests     bool
	LogFile         string

	// Debugging and listing flags never persist to the INI file.
	Debug            bool
	DebugFile        string
	ListSources      bool
	ListVideoSources bool
	ListAudioSources bool
	ConfigFile       string
	Help             bool
}

// Defaults returns the compiled-in defaults, used before any file or flag
// is applied.
func Defaults() Config {
	return Config{
		URLPath:                 "",
		Address:                 "",
		Ifname:                  "",
		Port:                    8080,
		VideoEncoder:            model.EncoderAuto,
		DefaultStreamFormat:     model.FormatMP4Fragmented,
		DefaultVideoSource:      "",
		DefaultAudioSource:      "",
		DefaultAudioVolume:      1.0,
		DefaultVideoOrientation: model.OrientationAuto,
		DefaultAudioSourceMuted: false,
		IgnoreURLParams:         false,
		DisableWebUI:            false,
		DisableCtrlAPI:          false,
		LogRequests:             false,
		LogFile:                 "",
	}
}

// truthy and falsy are the wire-exact boolean token sets from spec.md §6.
var truthy = map[string]bool{"true": true, "yes": true, "on": true, "1": true, "enable": true, "enabled": true}
var falsy = map[string]bool{"false": true, "no": true, "off": true, "0": true, "disable": true, "disabled": true}

// ParseBool parses one of the wire-exact truthy/falsy tokens.
func ParseBool(s string) (bool, error) {
	if truthy[s] {
		return true, nil
	}
	if falsy[s] {
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean token %q", s)
}

// FormatBool renders a bool using the canonical tokens ("true"/"false").
func FormatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// Load builds a Config from compiled-in defaults, an optional INI file, and
// the given CLI arguments (excluding argv[0]). If configFile is set and
// does not exist, a config file is written from the resulting configuration
// once flags have been applied (per spec.md §6). Load returns
// (cfg, wantHelp, err); wantHelp is true when -h/--help was passed, in
// which case the caller should print flag usage and exit 0.
func Load(args []string) (Config, bool, error) {
	configFile := peekConfigFile(args)

	cfg := Defaults()
	cfg.ConfigFile = configFile
	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			fileCfg, err := loadINI(configFile)
			if err != nil {
				return cfg, false, fmt.Errorf("config: loading %s: %w", configFile, err)
			}
			fileCfg.ConfigFile = configFile
			cfg = fileCfg
		}
	}

	fs := flag.NewFlagSet("kamkast", flag.ContinueOnError)
	var (
		urlPath, address, ifname, videoEncoder                      string
		defaultStreamFormat, defaultVideoSource, defaultAudioSource string
		defaultVideoOrientation, logFile, debugFile, configFileFlag string
		port                                                        int
		defaultAudioVolume                                          float64
		defaultAudioSourceMuted, ignoreURLParams                    string
		disableWebUI, disableCtrlAPI, logRequests                   string
		debug, listSources, listVideoSources, listAudioSources, help bool
	)

	fs.StringVar(&urlPath, "url-path", cfg.URLPath, "URL path prefix (random if empty)")
	fs.StringVar(&address, "address", cfg.Address, "bind address")
	fs.StringVar(&ifname, "ifname", cfg.Ifname, "bind to this interface's address instead of -address")
	fs.IntVar(&port, "port", cfg.Port, "listen port")
	fs.StringVar(&videoEncoder, "video-encoder", cfg.VideoEncoder.String(), "auto|nvenc|v4l2|x264")
	fs.StringVar(&defaultStreamFormat, "default-stream-format", cfg.DefaultStreamFormat.String(), "mp4|mpegts|mp3")
	fs.StringVar(&defaultVideoSource, "default-video-source", cfg.DefaultVideoSource, "default video source id")
	fs.StringVar(&defaultAudioSource, "default-audio-source", cfg.DefaultAudioSource, "default audio source id")
	fs.Float64Var(&defaultAudioVolume, "default-audio-volume", cfg.DefaultAudioVolume, "0.0..10.0")
	fs.StringVar(&defaultVideoOrientation, "default-video-orientation", cfg.DefaultVideoOrientation.String(), "auto|landscape|inverted-landscape|portrait|inverted-portrait")
	fs.StringVar(&defaultAudioSourceMuted, "default-audio-source-muted", FormatBool(cfg.DefaultAudioSourceMuted), "true|false")
	fs.StringVar(&ignoreURLParams, "ignore-url-params", FormatBool(cfg.IgnoreURLParams), "true|false")
	fs.StringVar(&disableWebUI, "disable-web-ui", FormatBool(cfg.DisableWebUI), "true|false")
	fs.StringVar(&disableCtrlAPI, "disable-ctrl-api", FormatBool(cfg.DisableCtrlAPI), "true|false")
	fs.StringVar(&logRequests, "log-requests", FormatBool(cfg.LogRequests), "true|false")
	fs.StringVar(&logFile, "log-file", cfg.LogFile, "log output file (stderr if empty)")
	fs.BoolVar(&debug, "debug", false, "enable debug logging")
	fs.StringVar(&debugFile, "debug-file", "", "debug log output file")
	fs.StringVar(&configFileFlag, "config-file", cfg.ConfigFile, "load/persist configuration at this path")
	fs.BoolVar(&listSources, "list-sources", false, "list all sources and exit")
	fs.BoolVar(&listVideoSources, "list-video-sources", false, "list video sources and exit")
	fs.BoolVar(&listAudioSources, "list-audio-sources", false, "list audio sources and exit")
	fs.BoolVar(&help, "h", false, "show help")
	fs.BoolVar(&help, "help", false, "show help")

	// A config file path may itself be supplied via flags; peek at args for
	// -config-file before the main Parse so that file values apply as
	// defaults the CLI flags can still override on this same invocation.
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return cfg, true, nil
		}
		return cfg, false, err
	}
	if help {
		return cfg, true, nil
	}

	cfg.ConfigFile = configFileFlag

	cfg.URLPath = urlPath
	cfg.Address = address
	cfg.Ifname = ifname
	cfg.Port = port
	cfg.LogFile = logFile
	cfg.Debug = debug
	cfg.DebugFile = debugFile
	cfg.ListSources = listSources
	cfg.ListVideoSources = listVideoSources
	cfg.ListAudioSources = listAudioSources
	cfg.Help = help

	var err error
	if cfg.VideoEncoder, err = model.ParseVideoEncoder(videoEncoder); err != nil {
		return cfg, false, err
	}
	if cfg.DefaultStreamFormat, err = model.ParseStreamFormat(defaultStreamFormat); err != nil {
		return cfg, false, err
	}
	cfg.DefaultVideoSource = defaultVideoSource
	cfg.DefaultAudioSource = defaultAudioSource
	cfg.DefaultAudioVolume = defaultAudioVolume
	if cfg.DefaultVideoOrientation, err = model.ParseOrientation(defaultVideoOrientation); err != nil {
		return cfg, false, err
	}
	if cfg.DefaultAudioSourceMuted, err = ParseBool(defaultAudioSourceMuted); err != nil {
		return cfg, false, err
	}
	if cfg.IgnoreURLParams, err = ParseBool(ignoreURLParams); err != nil {
		return cfg, false, err
	}
	if cfg.DisableWebUI, err = ParseBool(disableWebUI); err != nil {
		return cfg, false, err
	}
	if cfg.DisableCtrlAPI, err = ParseBool(disableCtrlAPI); err != nil {
		return cfg, false, err
	}
	if cfg.LogRequests, err = ParseBool(logRequests); err != nil {
		return cfg, false, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, false, err
	}

	if configFileFlag != "" {
		if _, statErr := os.Stat(configFileFlag); os.IsNotExist(statErr) {
			if err := Save(cfg, configFileFlag); err != nil {
				return cfg, false, fmt.Errorf("config: writing %s: %w", configFileFlag, err)
			}
		}
	}

	return cfg, false, nil
}

// Validate checks numeric ranges. Enum fields are already validated by
// their Parse functions; an invalid enum value read back from a corrupted
// file reverts to the compiled-in default rather than failing, per
// spec.md §6.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range 1..65535", c.Port)
	}
	if c.DefaultAudioVolume < 0.0 || c.DefaultAudioVolume > 10.0 {
		return fmt.Errorf("config: default-audio-volume %v out of range 0.0..10.0", c.DefaultAudioVolume)
	}
	return nil
}

// peekConfigFile scans args for -config-file/--config-file=VALUE or
// -config-file/--config-file VALUE without running the full flag parser,
// so the INI file (if any) can be loaded before building the flag set that
// supplies its values as defaults.
func peekConfigFile(args []string) string {
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "-config-file" || a == "--config-file":
			if i+1 < len(args) {
				return args[i+1]
			}
		case len(a) > len("-config-file=") && a[:len("-config-file=")] == "-config-file=":
			return a[len("-config-file="):]
		case len(a) > len("--config-file=") && a[:len("--config-file=")] == "--config-file=":
			return a[len("--config-file="):]
		}
	}
	return ""
}

const iniSection = "General"

// loadINI reads a Config from an INI file. Any key with an invalid value
// reverts to the compiled-in default for that key rather than failing the
// whole load, per spec.md §6.
func loadINI(path string) (Config, error) {
	cfg := Defaults()

	f, err := ini.Load(path)
	if err != nil {
		return cfg, err
	}
	sec := f.Section(iniSection)

	if v := sec.Key("url-path").String(); v != "" {
		cfg.URLPath = v
	}
	if v := sec.Key("address").String(); v != "" {
		cfg.Address = v
	}
	if v := sec.Key("ifname").String(); v != "" {
		cfg.Ifname = v
	}
	if v, err := sec.Key("port").Int(); err == nil {
		cfg.Port = v
	}
	if v, err := model.ParseVideoEncoder(sec.Key("video-encoder").String()); err == nil {
		cfg.VideoEncoder = v
	}
	if v, err := model.ParseStreamFormat(sec.Key("default-stream-format").String()); err == nil {
		cfg.DefaultStreamFormat = v
	}
	cfg.DefaultVideoSource = sec.Key("default-video-source").String()
	cfg.DefaultAudioSource = sec.Key("default-audio-source").String()
	if v, err := sec.Key("default-audio-volume").Float64(); err == nil && v >= 0.0 && v <= 10.0 {
		cfg.DefaultAudioVolume = v
	}
	if v, err := model.ParseOrientation(sec.Key("default-video-orientation").String()); err == nil {
		cfg.DefaultVideoOrientation = v
	}
	if v, err := ParseBool(sec.Key("default-audio-source-muted").String()); err == nil {
		cfg.DefaultAudioSourceMuted = v
	}
	if v, err := ParseBool(sec.Key("ignore-url-params").String()); err == nil {
		cfg.IgnoreURLParams = v
	}
	if v, err := ParseBool(sec.Key("disable-web-ui").String()); err == nil {
		cfg.DisableWebUI = v
	}
	if v, err := ParseBool(sec.Key("disable-ctrl-api").String()); err == nil {
		cfg.DisableCtrlAPI = v
	}
	if v, err := ParseBool(sec.Key("log-requests").String()); err == nil {
		cfg.LogRequests = v
	}
	cfg.LogFile = sec.Key("log-file").String()

	return cfg, nil
}

// Save writes cfg to path as an INI file with a single [General] section.
func Save(cfg Config, path string) error {
	f := ini.Empty()
	sec, err := f.NewSection(iniSection)
	if err != nil {
		return err
	}
	set := func(k, v string) { sec.Key(k).SetValue(v) }
	set("url-path", cfg.URLPath)
	set("address", cfg.Address)
	set("ifname", cfg.Ifname)
	set("port", fmt.Sprintf("%d", cfg.Port))
	set("video-encoder", cfg.VideoEncoder.String())
	set("default-stream-format", cfg.DefaultStreamFormat.String())
	set("default-video-source", cfg.DefaultVideoSource)
	set("default-audio-source", cfg.DefaultAudioSource)
	set("default-audio-volume", fmt.Sprintf("%g", cfg.DefaultAudioVolume))
	set("default-video-orientation", cfg.DefaultVideoOrientation.String())
	set("default-audio-source-muted", FormatBool(cfg.DefaultAudioSourceMuted))
	set("ignore-url-params", FormatBool(cfg.IgnoreURLParams))
	set("disable-web-ui", FormatBool(cfg.DisableWebUI))
	set("disable-ctrl-api", FormatBool(cfg.DisableCtrlAPI))
	set("log-requests", FormatBool(cfg.LogRequests))
	set("log-file", cfg.LogFile)
	return f.SaveTo(path)
}
