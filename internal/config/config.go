// Package config holds the device configuration for the NTN agent. The
// on-disk format is JSON; zero values are filled with operating defaults
// matching the Sateliot SIC-4 service profile.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Satellite is one constellation member with its TLE orbital elements.
// Elements may be absent; prediction then falls back to the service-window
// heuristic for that slot.
type Satellite struct {
	Name  string `json:"name"`
	Line1 string `json:"tle_line1,omitempty"`
	Line2 string `json:"tle_line2,omitempty"`
}

// Config is the full device configuration.
type Config struct {
	// Transport target (the VAS server receiving telemetry datagrams).
	ServerAddr string `json:"server_addr"`

	// Network identity.
	PLMN       string `json:"plmn"`
	BandMask   string `json:"band_mask"`
	NetworkTag string `json:"network_tag"`

	// Constellation. Slot order is the satellite ID.
	Satellites []Satellite `json:"satellites"`

	// Service windows for the heuristic predictor, hours in UTC.
	MorningWindowHour int `json:"morning_window_hour"`
	EveningWindowHour int `json:"evening_window_hour"`

	// Pass duration bounds.
	MinPassDuration Duration `json:"min_pass_duration"`
	MaxPassDuration Duration `json:"max_pass_duration"`

	// Orchestrator timing.
	FixTimeout        Duration `json:"fix_timeout"`
	Step1Timeout      Duration `json:"step1_timeout"`
	Step2Timeout      Duration `json:"step2_timeout"`
	FeederSettleDelay Duration `json:"feeder_settle_delay"`
	MaxIdleSlice      Duration `json:"max_idle_slice"`
	NoFixPollInterval Duration `json:"no_fix_poll_interval"`
	ErrorCooldown     Duration `json:"error_cooldown"`
	LoopPause         Duration `json:"loop_pause"`
	MaxAttachCycles   int      `json:"max_attach_cycles"`

	// Ephemeris freshness.
	EphemerisInterval Duration `json:"ephemeris_interval"`

	// Transport retry policy.
	SendAttempts   int      `json:"send_attempts"`
	OpenRetryDelay Duration `json:"open_retry_delay"`
	SendRetryDelay Duration `json:"send_retry_delay"`

	// Recovery.
	MaxRecoveryAttempts uint `json:"max_recovery_attempts"`

	// Telemetry.
	PayloadBufferSize int `json:"payload_buffer_size"`
}

// Default returns the operating defaults for the Sateliot SIC-4 profile.
func Default() Config {
	return Config{
		ServerAddr:          "127.0.0.1:17777",
		PLMN:                "90197",
		BandMask:            "1000000000000000000000000000000000000000000000000000000000000000",
		NetworkTag:          "sateliot",
		Satellites:          defaultConstellation(),
		MorningWindowHour:   10,
		EveningWindowHour:   21,
		MinPassDuration:     Duration(30 * time.Second),
		MaxPassDuration:     Duration(8 * time.Minute),
		FixTimeout:          Duration(180 * time.Second),
		Step1Timeout:        Duration(5 * time.Minute),
		Step2Timeout:        Duration(15 * time.Minute),
		FeederSettleDelay:   Duration(30 * time.Second),
		MaxIdleSlice:        Duration(30 * time.Minute),
		NoFixPollInterval:   Duration(30 * time.Second),
		ErrorCooldown:       Duration(5 * time.Minute),
		LoopPause:           Duration(500 * time.Millisecond),
		MaxAttachCycles:     3,
		EphemerisInterval:   Duration(24 * time.Hour),
		SendAttempts:        3,
		OpenRetryDelay:      Duration(10 * time.Second),
		SendRetryDelay:      Duration(15 * time.Second),
		MaxRecoveryAttempts: 3,
		PayloadBufferSize:   256,
	}
}

func defaultConstellation() []Satellite {
	sats := []Satellite{
		{
			Name:  "SATELIOT_1",
			Line1: "1 60550U 24149CL 25071.82076637 .00007488 00000+0 68187-3 0 9999",
			Line2: "2 60550 97.7148 150.0635 0007556 170.3117 189.8251 14.95428546 31058",
		},
	}
	for i := 2; i <= 4; i++ {
		sats = append(sats, Satellite{Name: fmt.Sprintf("SATELIOT_%d", i)})
	}
	return sats
}

// Load reads a JSON config file and overlays it on the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the orchestrator cannot run with.
func (c Config) Validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("server_addr must be set")
	}
	if len(c.Satellites) == 0 {
		return fmt.Errorf("at least one satellite must be configured")
	}
	if c.MinPassDuration <= 0 || c.MaxPassDuration <= c.MinPassDuration {
		return fmt.Errorf("pass duration bounds invalid: min=%s max=%s", c.MinPassDuration, c.MaxPassDuration)
	}
	if c.MorningWindowHour < 0 || c.MorningWindowHour > 23 ||
		c.EveningWindowHour < 0 || c.EveningWindowHour > 23 {
		return fmt.Errorf("service window hours must be in [0,23]")
	}
	if c.SendAttempts <= 0 {
		return fmt.Errorf("send_attempts must be positive")
	}
	if c.PayloadBufferSize <= 0 {
		return fmt.Errorf("payload_buffer_size must be positive")
	}
	return nil
}
