package config

import (
	"fmt"
	"time"

	"github.com/samsamfire/gosdo/pkg/sdo"
	log "github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"
)

// Settings of the sdo tool, loaded from an ini file e.g.
//
//	[bus]
//	interface = socketcan
//	channel = can0
//	bitrate = 500000
//
//	[sdo]
//	timeout_ms = 1000
//	send_timeout_ms = 10
//
//	[log]
//	level = info
type Config struct {
	Bus BusConfig
	SDO SDOConfig
	Log LogConfig
}

type BusConfig struct {
	Interface string
	Channel   string
	Bitrate   int
}

type SDOConfig struct {
	Timeout     time.Duration
	SendTimeout time.Duration
}

type LogConfig struct {
	Level log.Level
}

const (
	DefaultInterface = "socketcan"
	DefaultChannel   = "can0"
	DefaultBitrate   = 500000
)

// Default configuration, used for every missing key
func Default() *Config {
	return &Config{
		Bus: BusConfig{
			Interface: DefaultInterface,
			Channel:   DefaultChannel,
			Bitrate:   DefaultBitrate,
		},
		SDO: SDOConfig{
			Timeout:     sdo.DefaultClientTimeout,
			SendTimeout: sdo.DefaultSendTimeout,
		},
		Log: LogConfig{Level: log.InfoLevel},
	}
}

// Load a configuration, file can be a path, []byte or io.Reader
func Load(file any) (*Config, error) {
	source, err := ini.Load(file)
	if err != nil {
		return nil, err
	}
	config := Default()

	bus := source.Section("bus")
	config.Bus.Interface = bus.Key("interface").MustString(config.Bus.Interface)
	config.Bus.Channel = bus.Key("channel").MustString(config.Bus.Channel)
	if bus.HasKey("bitrate") {
		config.Bus.Bitrate, err = bus.Key("bitrate").Int()
		if err != nil {
			return nil, fmt.Errorf("invalid [bus] bitrate : %w", err)
		}
	}

	sdoSection := source.Section("sdo")
	config.SDO.Timeout, err = milliseconds(sdoSection, "timeout_ms", config.SDO.Timeout)
	if err != nil {
		return nil, err
	}
	config.SDO.SendTimeout, err = milliseconds(sdoSection, "send_timeout_ms", config.SDO.SendTimeout)
	if err != nil {
		return nil, err
	}

	logSection := source.Section("log")
	if logSection.HasKey("level") {
		config.Log.Level, err = log.ParseLevel(logSection.Key("level").String())
		if err != nil {
			return nil, fmt.Errorf("invalid [log] level : %w", err)
		}
	}
	return config, nil
}

func milliseconds(section *ini.Section, key string, value time.Duration) (time.Duration, error) {
	if !section.HasKey(key) {
		return value, nil
	}
	ms, err := section.Key(key).Uint()
	if err != nil {
		return 0, fmt.Errorf("invalid [%v] %v : %w", section.Name(), key, err)
	}
	if ms == 0 {
		return 0, fmt.Errorf("invalid [%v] %v : must be positive", section.Name(), key)
	}
	return time.Duration(ms) * time.Millisecond, nil
}
