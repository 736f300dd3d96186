package config

import (
	"flag"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env  string     `yaml:"env" env:"APP_ENV" env-default:"local"`
	HTTP HTTPConfig `yaml:"http"`
	WS   WSConfig   `yaml:"ws"`
	Room RoomConfig `yaml:"room"`
}

type HTTPConfig struct {
	Address     string   `yaml:"address" env:"HTTP_ADDRESS" env-default:""`
	CORSOrigins []string `yaml:"cors_origins"`
}

type WSConfig struct {
	ReadBufferSize  int `yaml:"read_buffer_size" env-default:"1024"`
	WriteBufferSize int `yaml:"write_buffer_size" env-default:"1024"`
	SendQueueSize   int `yaml:"send_queue_size" env-default:"256"`
}

type RoomConfig struct {
	// OwnerTimeout is how long the owner heartbeat may go silent before
	// the sweep disbands the room.
	OwnerTimeout time.Duration `yaml:"owner_timeout" env-default:"90s"`
	// SweepPeriod is the cadence of the owner-timeout sweep; coarser than
	// the heartbeat cadence clients are told to use.
	SweepPeriod time.Duration `yaml:"sweep_period" env-default:"30s"`
	// EmptyGracePeriod is how long an emptied room survives waiting for a
	// rejoin.
	EmptyGracePeriod time.Duration `yaml:"empty_grace_period" env-default:"60s"`
	// HeartbeatInterval is advertised to clients; the server itself only
	// checks OwnerTimeout.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env-default:"20s"`
	// ReconnectWindow bounds how old a client-side reconnection record may
	// be for auto-rejoin.
	ReconnectWindow time.Duration `yaml:"reconnect_window" env-default:"5m"`
}

func MustLoad() *Config {
	configPath := fetchConfigPath()
	if configPath == "" {
		panic("config path is empty")
	}

	return MustLoadPath(configPath)
}

func MustLoadPath(configPath string) *Config {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file does not exist: " + configPath)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		panic("cannot read config: " + err.Error())
	}

	cfg.setDefaults()

	return &cfg
}

func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	if res == "" {
		res = "config/local.yaml"
	}

	return res
}

func (c *Config) setDefaults() {
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if len(c.HTTP.CORSOrigins) == 0 {
		c.HTTP.CORSOrigins = []string{"http://localhost:3000"}
	}
}
