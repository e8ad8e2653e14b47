package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "VRRTC"

// ErrHelp is returned by Load when usage was requested.
var ErrHelp = pflag.ErrHelp

type Config struct {
	LogLevel string        `mapstructure:"log_level" validate:"oneof=trace debug info warn error"`
	Session  SessionConfig `mapstructure:"session"`
	RTC      RTCConfig     `mapstructure:"rtc"`
	Render   RenderConfig  `mapstructure:"render"`
	HTTP     HTTPConfig    `mapstructure:"http"`
	Relay    RelayConfig   `mapstructure:"relay"`
}

type SessionConfig struct {
	Mode     string `mapstructure:"mode" validate:"oneof=push pull"`
	Address  string `mapstructure:"address" validate:"omitempty,url"`
	Autoplay bool   `mapstructure:"autoplay"`
	Debug    bool   `mapstructure:"debug"`
	// Token is the bearer token of the pull endpoint.
	Token string `mapstructure:"token"`
	// RoomsAPI is the base of the room listing API, e.g. http://host:1111/api.
	RoomsAPI string `mapstructure:"rooms_api" validate:"omitempty,url"`
	// RoomsPath is the listing resource under RoomsAPI.
	RoomsPath string `mapstructure:"rooms_path"`
}

type ICEServerConfig struct {
	URLs       []string `mapstructure:"urls" validate:"min=1,dive,required"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type RTCConfig struct {
	ICEServers    []ICEServerConfig `mapstructure:"ice_servers" validate:"dive"`
	PortMin       uint16            `mapstructure:"port_min"`
	PortMax       uint16            `mapstructure:"port_max" validate:"omitempty,gtefield=PortMin"`
	PLIInterval   time.Duration     `mapstructure:"pli_interval" validate:"gte=0"`
	GatherTimeout time.Duration     `mapstructure:"gather_timeout" validate:"gte=0"`
}

type RenderConfig struct {
	Target string `mapstructure:"target" validate:"oneof=discard file probe"`
	Dir    string `mapstructure:"dir" validate:"required_if=Target file"`
}

type HTTPConfig struct {
	// Listen enables the receiver control API when set.
	Listen string `mapstructure:"listen"`
	Mode   string `mapstructure:"mode" validate:"oneof=debug release test"`
	Secret string `mapstructure:"secret"`
	// SecureCookies marks cookies Secure; enable it behind TLS only.
	SecureCookies bool `mapstructure:"secure_cookies"`
}

type RelayConfig struct {
	Listen       string        `mapstructure:"listen" validate:"required"`
	ReadLimit    int64         `mapstructure:"read_limit" validate:"gt=0"`
	PingPeriod   time.Duration `mapstructure:"ping_period" validate:"gte=0"`
	SendQueue    int           `mapstructure:"send_queue" validate:"gt=0"`
	RateLimit    int           `mapstructure:"rate_limit" validate:"gte=0"`
	RateInterval time.Duration `mapstructure:"rate_interval" validate:"gte=0"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("session.mode", "push")
	v.SetDefault("session.address", "")
	v.SetDefault("session.autoplay", false)
	v.SetDefault("session.debug", false)
	v.SetDefault("session.token", "")
	v.SetDefault("session.rooms_api", "")
	v.SetDefault("session.rooms_path", "streams/")

	v.SetDefault("rtc.ice_servers", []map[string]any{
		{"urls": []string{"stun:stun.l.google.com:19302"}},
	})
	v.SetDefault("rtc.port_min", 0)
	v.SetDefault("rtc.port_max", 0)
	v.SetDefault("rtc.pli_interval", "3s")
	v.SetDefault("rtc.gather_timeout", "5s")

	v.SetDefault("render.target", "discard")
	v.SetDefault("render.dir", "")

	v.SetDefault("http.listen", "")
	v.SetDefault("http.mode", "release")
	v.SetDefault("http.secret", "")
	v.SetDefault("http.secure_cookies", false)

	v.SetDefault("relay.listen", ":1111")
	v.SetDefault("relay.read_limit", 32768)
	v.SetDefault("relay.ping_period", "54s")
	v.SetDefault("relay.send_queue", 32)
	v.SetDefault("relay.rate_limit", 50)
	v.SetDefault("relay.rate_interval", "1s")
}

func newFlagSet(name string) *pflag.FlagSet {
	f := pflag.NewFlagSet(name, pflag.ContinueOnError)
	f.String("config", "", "config file (default config/config.$CONFIG_ENV.yaml)")
	f.String("mode", "", "signaling mode: push or pull")
	f.String("address", "", "relay websocket URL (push) or egress endpoint URL (pull)")
	f.Bool("autoplay", false, "start the session at launch and play tracks as they arrive")
	f.Bool("debug", false, "verbose session logging")
	f.String("listen", "", "control API listen address")
	f.String("relay-listen", "", "signaling relay listen address")
	f.String("render", "", "render target: discard, file or probe")
	f.String("log-level", "", "log level")
	return f
}

var flagKeys = map[string]string{
	"mode":         "session.mode",
	"address":      "session.address",
	"autoplay":     "session.autoplay",
	"debug":        "session.debug",
	"listen":       "http.listen",
	"relay-listen": "relay.listen",
	"render":       "render.target",
	"log-level":    "log_level",
}

// Load reads defaults, the config file, VRRTC_* environment variables and the
// command line, in increasing priority, and validates the result.
func Load(name string, args []string) (*Config, error) {
	flags := newFlagSet(name)
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fileName, _ := flags.GetString("config")
	explicit := fileName != ""
	if !explicit {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		fileName = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(fileName)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
		if explicit || !missing {
			return nil, fmt.Errorf("read config %s: %w", fileName, err)
		}
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("config loaded")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log.Info().Str("module", "config").
		Str("mode", cfg.Session.Mode).
		Str("address", cfg.Session.Address).
		Str("render", cfg.Render.Target).
		Msg("configuration ready")
	return &cfg, nil
}
