package config

import (
	"strings"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/spf13/viper"
)

// Config carries the typed settings of the orchestrator. Ambient settings
// stay in viper and are looked up at the call site, the way the rest of the
// service does it.
type Config struct {
	Queue    QueueConfig
	Session  SessionConfig
	Peer     PeerConfig
	RTC      RTCConfig
	Redis    RedisConfig
	Database DatabaseConfig
	Nats     NatsConfig
}

type QueueConfig struct {
	// DefaultConsultationDuration seeds the wait estimator until real
	// durations are observed.
	DefaultConsultationDuration time.Duration
}

type SessionConfig struct {
	// MediaAcquireTimeout bounds local track acquisition; on expiry the
	// session fails instead of hanging.
	MediaAcquireTimeout time.Duration
	// TokenTimeout bounds the access token fetch.
	TokenTimeout time.Duration
}

type RedisConfig struct {
	Addr string
	DB   int
}

type DatabaseConfig struct {
	URL string
}

type NatsConfig struct {
	Addr string
}

type RTCConfig struct {
	ICEPortRangeStart uint32
	ICEPortRangeEnd   uint32
}

type CodecSpec struct {
	Mime     string
	FmtpLine string
}

type PeerConfig struct {
	EnabledCodecs []CodecSpec
}

// Load reads configs/<env>.yaml plus CONSULTD_* environment overrides and
// returns the typed config with defaults applied.
func Load(env string) (*Config, error) {
	viper.SetConfigName(env)
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.SetEnvPrefix("consultd")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("nats.addr", "nats://localhost:4222")
	viper.SetDefault("queue.default_consultation_duration", "10m")
	viper.SetDefault("session.media_acquire_timeout", "10s")
	viper.SetDefault("session.token_timeout", "10s")
	viper.SetDefault("rtc.ice_port_range_start", 50000)
	viper.SetDefault("rtc.ice_port_range_end", 60000)
	viper.SetDefault("firebase_auth_service.addr", "localhost:50053")
	viper.SetDefault("admin.root_url", "https://localhost:3001/admin")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	conf := NewConfig()
	conf.Queue.DefaultConsultationDuration = viper.GetDuration("queue.default_consultation_duration")
	conf.Session.MediaAcquireTimeout = viper.GetDuration("session.media_acquire_timeout")
	conf.Session.TokenTimeout = viper.GetDuration("session.token_timeout")
	conf.Redis.Addr = viper.GetString("redis.addr")
	conf.Redis.DB = viper.GetInt("redis.db")
	conf.Database.URL = viper.GetString("database.url")
	conf.Nats.Addr = viper.GetString("nats.addr")
	conf.RTC.ICEPortRangeStart = viper.GetUint32("rtc.ice_port_range_start")
	conf.RTC.ICEPortRangeEnd = viper.GetUint32("rtc.ice_port_range_end")

	return conf, nil
}

func NewConfig() *Config {
	return &Config{
		Queue: QueueConfig{
			DefaultConsultationDuration: 10 * time.Minute,
		},
		Session: SessionConfig{
			MediaAcquireTimeout: 10 * time.Second,
			TokenTimeout:        10 * time.Second,
		},
		RTC: RTCConfig{
			ICEPortRangeStart: 50000,
			ICEPortRangeEnd:   60000,
		},
		Peer: PeerConfig{
			EnabledCodecs: []CodecSpec{
				{Mime: webrtc.MimeTypeOpus},
				{Mime: webrtc.MimeTypeVP8},
			},
		},
	}
}
