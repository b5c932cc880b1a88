package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the signaling server configuration.
type Config struct {
	Mode              string        `mapstructure:"mode"`
	Port              int           `mapstructure:"port"`
	LogLevel          string        `mapstructure:"log_level"`
	ReadLimit         int64         `mapstructure:"read_limit"`
	PingPeriod        time.Duration `mapstructure:"ping_period"`
	PongWait          time.Duration `mapstructure:"pong_wait"`
	WriteWait         time.Duration `mapstructure:"write_wait"`
	SendBuffer        int           `mapstructure:"send_buffer"`
	Secret            string        `mapstructure:"secret"`
	SessionCodeLength int           `mapstructure:"session_code_length"`
	RateLimit         int           `mapstructure:"rate_limit"`
	RateInterval      time.Duration `mapstructure:"rate_interval"`
	Backpressure      string        `mapstructure:"backpressure"`
}

func setServerDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("secret", "change-me")
	v.SetDefault("session_code_length", 6)
	v.SetDefault("rate_limit", 100)
	v.SetDefault("rate_interval", "1s")
	v.SetDefault("backpressure", "kick")
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("REMOTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setServerDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Msg("server config")
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.PingPeriod >= c.PongWait {
		return fmt.Errorf("ping_period (%s) must be shorter than pong_wait (%s)", c.PingPeriod, c.PongWait)
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("send_buffer must be positive, got %d", c.SendBuffer)
	}
	if c.RateLimit <= 0 || c.RateInterval <= 0 {
		return fmt.Errorf("rate_limit and rate_interval must be positive")
	}
	switch c.Backpressure {
	case "kick", "drop":
	default:
		return fmt.Errorf("backpressure must be kick or drop, got %q", c.Backpressure)
	}
	return nil
}

// PeerConfig configures a host or client participant.
type PeerConfig struct {
	SignalURL          string        `mapstructure:"signal_url"`
	Role               string        `mapstructure:"role"`
	Session            string        `mapstructure:"session"`
	ICEServers         []string      `mapstructure:"ice_servers"`
	NegotiationTimeout time.Duration `mapstructure:"negotiation_timeout"`
	RTPListen          string        `mapstructure:"rtp_listen"`
	RTPForward         string        `mapstructure:"rtp_forward"`
	AutoApprove        bool          `mapstructure:"auto_approve"`
	AutoGrant          bool          `mapstructure:"auto_grant"`
	LogLevel           string        `mapstructure:"log_level"`
}

// PeerFlags registers the participant flags on fs.
func PeerFlags(fs *pflag.FlagSet) {
	fs.String("signal-url", "ws://localhost:8080/api/ws/signal", "signaling server websocket url")
	fs.String("role", "host", "participant role: host or client")
	fs.String("session", "", "session code to join (client only)")
	fs.StringSlice("ice-servers", []string{"stun:stun.l.google.com:19302"}, "ICE server urls")
	fs.Duration("negotiation-timeout", 30*time.Second, "client negotiation timeout")
	fs.String("rtp-listen", "", "host: udp address to read the captured VP8 RTP stream from")
	fs.String("rtp-forward", "", "client: udp address to forward the received RTP stream to")
	fs.Bool("auto-approve", false, "host: approve every join request")
	fs.Bool("auto-grant", false, "host: grant control to every approved client")
	fs.String("log-level", "info", "log level")
}

// LoadPeer reads flags already parsed into fs, REMOTE_* env vars and an
// optional yaml file named by --config.
func LoadPeer(fs *pflag.FlagSet) (*PeerConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("REMOTE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if err := v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f); err != nil && bindErr == nil {
			bindErr = err
		}
	})
	if bindErr != nil {
		return nil, fmt.Errorf("bind flags: %w", bindErr)
	}

	if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
		v.SetConfigFile(f.Value.String())
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Value.String(), err)
		}
	}

	var cfg PeerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse peer config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *PeerConfig) validate() error {
	switch c.Role {
	case "host":
	case "client":
		if c.Session == "" {
			return fmt.Errorf("client role needs --session")
		}
	default:
		return fmt.Errorf("role must be host or client, got %q", c.Role)
	}
	if c.NegotiationTimeout <= 0 {
		return fmt.Errorf("negotiation_timeout must be positive")
	}
	return nil
}
