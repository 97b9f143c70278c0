// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package config loads the engine's YAML configuration file via viper,
// using a LoadConfig/fixup pattern scoped to a single master connection
// and a single RTU slave endpoint instead of an arbitrary
// upstream/downstream gateway topology.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	serialport "github.com/ironfield/modbus-engine/transport/serial"
)

// Config defines the global configuration structure.
type Config struct {
	Log    LogConfig    `mapstructure:"log"`
	Master MasterConfig `mapstructure:"master"`
	Slave  SlaveConfig  `mapstructure:"slave"`
}

// LogConfig defines logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`  // log file path, empty means stdout
}

// MasterConfig configures a master.Controller: the TCP address
// to dial and its reconnect/timeout policy.
type MasterConfig struct {
	Address          string        `mapstructure:"address"`
	UnitID           byte          `mapstructure:"unit_id"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	AutoReconnect    bool          `mapstructure:"auto_reconnect"`
	ReconnectBackoff time.Duration `mapstructure:"reconnect_backoff"`
	MaxReconnectTime time.Duration `mapstructure:"max_reconnect_time"`
}

// SlaveConfig configures a slave.Server: its bus address, the serial line
// it listens on, and the inter-character gap threshold.
type SlaveConfig struct {
	SlaveID      byte         `mapstructure:"slave_id"`
	GapCharTimes float64      `mapstructure:"gap_char_times"`
	Serial       SerialConfig `mapstructure:"serial"`
}

// SerialConfig defines RTU line settings. Field names mirror
// transport/serial.Config and transport/serial.RS485Config so ToPortConfig
// is a straight copy.
type SerialConfig struct {
	Device   string        `mapstructure:"device"`
	BaudRate int           `mapstructure:"baud_rate"`
	DataBits int           `mapstructure:"data_bits"`
	Parity   string        `mapstructure:"parity"`
	StopBits int           `mapstructure:"stop_bits"`
	Timeout  time.Duration `mapstructure:"timeout"`

	RS485              bool          `mapstructure:"rs485"`
	DelayRtsBeforeSend time.Duration `mapstructure:"delay_rts_before_send"`
	DelayRtsAfterSend  time.Duration `mapstructure:"delay_rts_after_send"`
	RtsHighDuringSend  bool          `mapstructure:"rts_high_during_send"`
	RtsHighAfterSend   bool          `mapstructure:"rts_high_after_send"`
	RxDuringTx         bool          `mapstructure:"rx_during_tx"`
}

// ToPortConfig converts to the shape transport/serial.Open expects.
func (s SerialConfig) ToPortConfig() serialport.Config {
	return serialport.Config{
		Device:   s.Device,
		BaudRate: s.BaudRate,
		DataBits: s.DataBits,
		Parity:   s.Parity,
		StopBits: s.StopBits,
		Timeout:  s.Timeout,
		RS485: serialport.RS485Config{
			Enabled:            s.RS485,
			DelayRtsBeforeSend: s.DelayRtsBeforeSend,
			DelayRtsAfterSend:  s.DelayRtsAfterSend,
			RtsHighDuringSend:  s.RtsHighDuringSend,
			RtsHighAfterSend:   s.RtsHighAfterSend,
			RxDuringTx:         s.RxDuringTx,
		},
	}
}

// LoadConfig loads configuration from configFile, or from the default
// search path (/etc/modbus-engine/, $HOME/.modbus-engine, ".") when empty.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/modbus-engine/")
		v.AddConfigPath("$HOME/.modbus-engine")
		v.AddConfigPath(".")
	}

	v.SetDefault("log.level", "info")
	v.SetDefault("master.request_timeout", "1s")
	v.SetDefault("master.auto_reconnect", true)
	v.SetDefault("master.reconnect_backoff", "500ms")
	v.SetDefault("master.max_reconnect_time", "30s")
	v.SetDefault("slave.gap_char_times", 3.5)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil, fmt.Errorf("failed to find config file: %w", err)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	fixupSerial(&cfg.Slave.Serial)
	return &cfg, nil
}

func fixupSerial(s *SerialConfig) {
	s.Parity = strings.ToUpper(s.Parity)
	if s.Timeout == 0 {
		s.Timeout = 500 * time.Millisecond
	}
	if s.DataBits == 0 {
		s.DataBits = 8
	}
	if s.StopBits == 0 {
		s.StopBits = 1
	}
}
