// Package config loads the JSON board description: which buses are opened,
// how, and which sensor is sampled on each.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"geckosense/core"
)

// SensorConfig describes the humidity sensor sampled on a bus.
type SensorConfig struct {
	Address     uint8  `json:"address"`       // 7-bit slave address
	Command     uint8  `json:"command"`       // measurement command byte
	PeriodMS    uint32 `json:"period_ms"`     // time between measurements
	AlertDeciRH int32  `json:"alert_deci_rh"` // raise the alert at or above this, 0 disables
}

// BusConfig is one I2C bus and its sensor.
type BusConfig struct {
	Bus    uint8        `json:"bus"`
	FreqHz uint32       `json:"freq_hz"`
	CLHR   string       `json:"clhr"` // "standard", "asymmetric" or "fast"
	SDALoc uint8        `json:"sda_loc"`
	SCLLoc uint8        `json:"scl_loc"`
	Sensor SensorConfig `json:"sensor"`
}

// BoardConfig is the complete board description.
type BoardConfig struct {
	Name            string      `json:"name"`
	RefClockHz      uint32      `json:"ref_clock_hz"`
	SettleDelayMS   *uint32     `json:"settle_delay_ms"` // nil uses the default, 0 disables
	ResetTimeoutMS  uint32      `json:"reset_timeout_ms"`
	LaunchTimeoutMS uint32      `json:"launch_timeout_ms"` // 0 waits forever
	MaxRetries      uint32      `json:"max_retries"`       // 0 retries forever
	BlockMode       uint8       `json:"block_mode"`        // energy mode held off during transactions
	Debug           bool        `json:"debug"`
	Buses           []BusConfig `json:"buses"`
}

var (
	ErrNoBuses       = errors.New("config: no buses configured")
	ErrDuplicateBus  = errors.New("config: bus configured twice")
	ErrUnknownRatio  = errors.New("config: unknown clock ratio")
	ErrBadBlockMode  = errors.New("config: block mode must be EM1 to EM3")
	ErrBadSensorAddr = errors.New("config: sensor address exceeds 7 bits")
)

// Default timings
const (
	DefaultRefClockHz     = 19000000
	DefaultSettleDelayMS  = 80
	DefaultResetTimeoutMS = 10
	DefaultFreqHz         = 100000
	DefaultPeriodMS       = 1000
	DefaultBlockMode      = uint8(core.EM2)
)

// LoadConfig parses a JSON board configuration, fills defaults and validates it.
func LoadConfig(jsonData []byte) (*BoardConfig, error) {
	var config BoardConfig

	if err := json.Unmarshal(jsonData, &config); err != nil {
		return nil, err
	}

	applyDefaults(&config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoadFile reads and parses a configuration file.
func LoadFile(path string) (*BoardConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := LoadConfig(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return cfg, nil
}

// applyDefaults fills in missing configuration values
func applyDefaults(config *BoardConfig) {
	if config.RefClockHz == 0 {
		config.RefClockHz = DefaultRefClockHz
	}
	if config.SettleDelayMS == nil {
		d := uint32(DefaultSettleDelayMS)
		config.SettleDelayMS = &d
	}
	if config.ResetTimeoutMS == 0 {
		config.ResetTimeoutMS = DefaultResetTimeoutMS
	}
	if config.BlockMode == 0 {
		config.BlockMode = DefaultBlockMode
	}

	for i := range config.Buses {
		bus := &config.Buses[i]
		if bus.FreqHz == 0 {
			bus.FreqHz = DefaultFreqHz
		}
		if bus.CLHR == "" {
			bus.CLHR = "standard"
		}
		if bus.Sensor.Address == 0 {
			bus.Sensor.Address = core.Si7021Address
		}
		if bus.Sensor.Command == 0 {
			bus.Sensor.Command = core.Si7021MeasureRHNoHold
		}
		if bus.Sensor.PeriodMS == 0 {
			bus.Sensor.PeriodMS = DefaultPeriodMS
		}
	}
}

// Validate checks the configuration for values the driver would reject.
func (c *BoardConfig) Validate() error {
	if len(c.Buses) == 0 {
		return ErrNoBuses
	}
	if c.BlockMode < uint8(core.EM1) || c.BlockMode > uint8(core.EM3) {
		return ErrBadBlockMode
	}
	var seen [core.NumBuses]bool
	for _, bus := range c.Buses {
		id := core.BusID(bus.Bus)
		if !id.Valid() {
			return fmt.Errorf("bus %d: %w", bus.Bus, core.ErrInvalidBus)
		}
		if seen[id] {
			return fmt.Errorf("bus %d: %w", bus.Bus, ErrDuplicateBus)
		}
		seen[id] = true
		if _, err := bus.OpenConfig(c.RefClockHz); err != nil {
			return fmt.Errorf("bus %d: %w", bus.Bus, err)
		}
		if bus.Sensor.Address > 0x7F {
			return fmt.Errorf("bus %d: %w", bus.Bus, ErrBadSensorAddr)
		}
	}
	return nil
}

// Options converts the board timings to registry options. Collaborators are
// left for the caller to wire.
func (c *BoardConfig) Options() core.Options {
	opts := core.DefaultOptions()
	opts.RefClockHz = c.RefClockHz
	if c.SettleDelayMS != nil {
		opts.SettleDelay = time.Duration(*c.SettleDelayMS) * time.Millisecond
	}
	opts.ResetTimeout = time.Duration(c.ResetTimeoutMS) * time.Millisecond
	opts.LaunchTimeout = time.Duration(c.LaunchTimeoutMS) * time.Millisecond
	opts.MaxRetries = c.MaxRetries
	opts.BlockMode = core.EnergyMode(c.BlockMode)
	return opts
}

// ParseClockRatio maps a ratio name onto core.ClockRatio.
func ParseClockRatio(name string) (core.ClockRatio, error) {
	switch name {
	case "standard", "4:4":
		return core.ClockRatioStandard, nil
	case "asymmetric", "6:3":
		return core.ClockRatioAsymmetric, nil
	case "fast", "11:6":
		return core.ClockRatioFast, nil
	default:
		return 0, fmt.Errorf("%w %q", ErrUnknownRatio, name)
	}
}

// OpenConfig converts the bus settings for Registry.Open. The divider is
// checked against refHz so that impossible frequencies fail at load time.
func (b BusConfig) OpenConfig(refHz uint32) (core.OpenConfig, error) {
	clhr, err := ParseClockRatio(b.CLHR)
	if err != nil {
		return core.OpenConfig{}, err
	}
	oc := core.OpenConfig{
		Enable:  true,
		Master:  true,
		Freq:    b.FreqHz,
		RefFreq: refHz,
		CLHR:    clhr,
		SDALoc:  b.SDALoc,
		SCLLoc:  b.SCLLoc,
	}
	if err := core.CheckOpenConfig(oc); err != nil {
		return core.OpenConfig{}, err
	}
	return oc, nil
}

// HumidityConfig builds the monitor settings for the bus sensor. Each bus
// completes on its own token bit.
func (b BusConfig) HumidityConfig() core.HumidityConfig {
	return core.HumidityConfig{
		Bus:         core.BusID(b.Bus),
		Address:     b.Sensor.Address,
		Command:     b.Sensor.Command,
		Token:       core.Token(1) << (b.Bus + 1),
		Period:      time.Duration(b.Sensor.PeriodMS) * time.Millisecond,
		AlertDeciRH: b.Sensor.AlertDeciRH,
	}
}

// DefaultConfig returns the Pearl Gecko starter kit layout: the on-board
// Si7021 on I2C0, location 15 for both lines, sampled once a second.
func DefaultConfig() *BoardConfig {
	settle := uint32(DefaultSettleDelayMS)
	return &BoardConfig{
		Name:           "slstk3402a",
		RefClockHz:     DefaultRefClockHz,
		SettleDelayMS:  &settle,
		ResetTimeoutMS: DefaultResetTimeoutMS,
		BlockMode:      DefaultBlockMode,
		Buses: []BusConfig{
			{
				Bus:    0,
				FreqHz: DefaultFreqHz,
				CLHR:   "standard",
				SDALoc: 15,
				SCLLoc: 15,
				Sensor: SensorConfig{
					Address:     core.Si7021Address,
					Command:     core.Si7021MeasureRHNoHold,
					PeriodMS:    DefaultPeriodMS,
					AlertDeciRH: 300,
				},
			},
		},
	}
}
