// Package config holds the board and runtime configuration of the core and
// the pin lookup built from it.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"periphcore/hal"
	"periphcore/x/strx"
)

// Config represents the runtime configuration.
type Config struct {
	Board      string         `yaml:"board"`
	Pins       map[int]string `yaml:"pins"`         // Arduino pin number -> vendor pin name
	PinNameMax int            `yaml:"pin_name_max"` // first invalid vendor pin index
	Serial     []SerialConfig `yaml:"serial"`
	Wire       WireConfig     `yaml:"wire"`
	SPI        []SPIConfig    `yaml:"spi"`
	PWM        PWMConfig      `yaml:"pwm"`
	ADC        ADCConfig      `yaml:"adc"`
	BLE        BLEConfig      `yaml:"ble"`
	Watchdog   WatchdogConfig `yaml:"watchdog"`
	Log        LogConfig      `yaml:"log"`
}

// SerialConfig describes one UART instance.
type SerialConfig struct {
	ID       string `yaml:"id"`
	Baud     uint32 `yaml:"baud"`
	RxBuffer int    `yaml:"rx_buffer"`
	Device   string `yaml:"device"` // host serial device; empty for the on-chip port
}

// WireConfig contains I²C settings.
type WireConfig struct {
	ClockHz          uint32        `yaml:"clock_hz"`
	Timeout          time.Duration `yaml:"timeout"`
	ResetOnTimeout   bool          `yaml:"reset_on_timeout"`
	FollowerRxBuffer int           `yaml:"follower_rx_buffer"`
}

// SPIConfig describes one SPI instance.
type SPIConfig struct {
	ID       string `yaml:"id"`
	ClockHz  uint32 `yaml:"clock_hz"`
	Mode     int    `yaml:"mode"` // 0..3
	LSBFirst bool   `yaml:"lsb_first"`
}

// PWMConfig contains the channel pool settings.
type PWMConfig struct {
	Channels        int           `yaml:"channels"`
	DutyFrequencyHz uint32        `yaml:"duty_frequency_hz"`
	Stabilization   time.Duration `yaml:"stabilization"`
	KeepZeroDuty    bool          `yaml:"keep_zero_duty"` // disables auto-deinit at 0% duty
	WriteResolution uint8         `yaml:"write_resolution"`
}

// ADCConfig contains converter defaults.
type ADCConfig struct {
	Reference      string `yaml:"reference"`
	ReadResolution uint8  `yaml:"read_resolution"`
}

// BLEConfig contains ezBLE settings. An empty role leaves the transport
// unstarted until the sketch calls Begin.
type BLEConfig struct {
	Role     string `yaml:"role"` // "", "server" or "client"
	Name     string `yaml:"name"`
	TxBuffer int    `yaml:"tx_buffer"`
	RxBuffer int    `yaml:"rx_buffer"`
}

// WatchdogConfig contains watchdog defaults.
type WatchdogConfig struct {
	Timeout          time.Duration `yaml:"timeout"`
	OffWhileSleeping bool          `yaml:"off_while_sleeping"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Default returns a default configuration for a generic 20-pin board.
func Default() *Config {
	return &Config{
		Board: "generic",
		Pins: map[int]string{
			0: "PC0", 1: "PC1", 2: "PC2", 3: "PC3", 4: "PC4", 5: "PC5", 6: "PC6", 7: "PC7",
			8: "PC8", 9: "PC9", 10: "PA4", 11: "PA5", 12: "PA6", 13: "PA7",
			14: "PB0", 15: "PB1", 16: "PB2", 17: "PB3", 18: "PA8", 19: "PA9",
		},
		PinNameMax: 4 * hal.PinsPerPort,
		Serial: []SerialConfig{
			{ID: "serial", Baud: 115200, RxBuffer: 128},
			{ID: "serial1", Baud: 115200, RxBuffer: 128},
		},
		Wire: WireConfig{
			ClockHz:          100_000,
			Timeout:          25 * time.Millisecond,
			FollowerRxBuffer: 64,
		},
		SPI: []SPIConfig{
			{ID: "spi", ClockHz: 4_000_000, Mode: 0},
		},
		PWM: PWMConfig{
			Channels:        3,
			DutyFrequencyHz: 1000,
			Stabilization:   2 * time.Millisecond,
			WriteResolution: 8,
		},
		ADC: ADCConfig{
			Reference:      "vdd",
			ReadResolution: 10,
		},
		BLE: BLEConfig{
			Name:     "ezBLE",
			TxBuffer: 1024,
			RxBuffer: 512,
		},
		Watchdog: WatchdogConfig{
			Timeout: time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ensureDefaults fills zero values left by a partial file.
func (c *Config) ensureDefaults() {
	def := Default()

	c.Board = strx.Coalesce(c.Board, def.Board)
	if len(c.Pins) == 0 {
		c.Pins = def.Pins
	}
	if c.PinNameMax <= 0 {
		c.PinNameMax = def.PinNameMax
	}
	for i := range c.Serial {
		if c.Serial[i].Baud == 0 {
			c.Serial[i].Baud = 115200
		}
		if c.Serial[i].RxBuffer <= 1 {
			c.Serial[i].RxBuffer = 128
		}
	}
	if c.Wire.ClockHz == 0 {
		c.Wire.ClockHz = def.Wire.ClockHz
	}
	if c.Wire.FollowerRxBuffer <= 1 {
		c.Wire.FollowerRxBuffer = def.Wire.FollowerRxBuffer
	}
	for i := range c.SPI {
		if c.SPI[i].ClockHz == 0 {
			c.SPI[i].ClockHz = def.SPI[0].ClockHz
		}
	}
	if c.PWM.Channels <= 0 {
		c.PWM.Channels = def.PWM.Channels
	}
	if c.PWM.DutyFrequencyHz == 0 {
		c.PWM.DutyFrequencyHz = def.PWM.DutyFrequencyHz
	}
	if c.PWM.Stabilization == 0 {
		c.PWM.Stabilization = def.PWM.Stabilization
	}
	if c.PWM.WriteResolution == 0 {
		c.PWM.WriteResolution = def.PWM.WriteResolution
	}
	c.ADC.Reference = strx.Coalesce(c.ADC.Reference, def.ADC.Reference)
	if c.ADC.ReadResolution == 0 {
		c.ADC.ReadResolution = def.ADC.ReadResolution
	}
	c.BLE.Name = strx.Coalesce(c.BLE.Name, def.BLE.Name)
	if c.BLE.TxBuffer <= 1 {
		c.BLE.TxBuffer = def.BLE.TxBuffer
	}
	if c.BLE.RxBuffer <= 1 {
		c.BLE.RxBuffer = def.BLE.RxBuffer
	}
	if c.Watchdog.Timeout == 0 {
		c.Watchdog.Timeout = def.Watchdog.Timeout
	}
	c.Log.Level = strx.Coalesce(c.Log.Level, def.Log.Level)
	c.Log.Format = strx.Coalesce(c.Log.Format, def.Log.Format)
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	if _, err := c.PinMap(); err != nil {
		return err
	}
	if _, err := hal.ParseADCReference(c.ADC.Reference); err != nil {
		return err
	}
	if c.ADC.ReadResolution > 12 {
		return fmt.Errorf("adc read_resolution %d out of range 1..12", c.ADC.ReadResolution)
	}
	if c.PWM.WriteResolution > 12 {
		return fmt.Errorf("pwm write_resolution %d out of range 1..12", c.PWM.WriteResolution)
	}
	for _, s := range c.SPI {
		if s.Mode < 0 || s.Mode > 3 {
			return fmt.Errorf("spi %q: mode %d out of range 0..3", s.ID, s.Mode)
		}
	}
	switch c.BLE.Role {
	case "", "server", "client":
	default:
		return fmt.Errorf("ble role %q: want server or client", c.BLE.Role)
	}
	return nil
}
