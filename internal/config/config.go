// Package config loads the accessory daemon's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/light-accessory/internal/gpio"
	"github.com/sweeney/light-accessory/internal/store"
)

// Fabrics the accessory can be controlled over.
const (
	FabricMQTT    = "mqtt"
	FabricHomeKit = "homekit"
)

// Config represents the daemon configuration.
type Config struct {
	Fabric        string              `yaml:"fabric"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	GPIO          GPIOConfig          `yaml:"gpio"`
	Storage       StorageConfig       `yaml:"storage"`
	Button        ButtonConfig        `yaml:"button"`
	Identify      IdentifyConfig      `yaml:"identify"`
	Commissioning CommissioningConfig `yaml:"commissioning"`
	HomeKit       HomeKitConfig       `yaml:"homekit"`
	Device        DeviceConfig        `yaml:"device"`
	Log           LogConfig           `yaml:"log"`
}

// MQTTConfig contains broker connection settings.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	OutboxSize  int    `yaml:"outbox_size"` // messages kept while disconnected
}

// GPIOConfig names the chip and line offsets.
type GPIOConfig struct {
	Chip      string `yaml:"chip"`
	ButtonPin int    `yaml:"button_pin"`
	LEDPin    int    `yaml:"led_pin"`
}

// StorageConfig contains persisted state settings.
type StorageConfig struct {
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// ButtonConfig contains button timing.
type ButtonConfig struct {
	Tick      Duration `yaml:"tick"` // sampling period of the main loop
	Debounce  Duration `yaml:"debounce"`
	LongPress Duration `yaml:"long_press"`
}

// IdentifyConfig controls the identify blink sequence.
type IdentifyConfig struct {
	Interval    Duration `yaml:"interval"`
	Transitions int      `yaml:"transitions"`
	Restore     bool     `yaml:"restore"` // put the LED back to the on/off value afterwards
}

// CommissioningConfig contains the pairing setup.
type CommissioningConfig struct {
	VendorID       uint16   `yaml:"vendor_id"`
	ProductID      uint16   `yaml:"product_id"`
	Discriminator  uint16   `yaml:"discriminator"`
	Passcode       uint32   `yaml:"passcode"`
	Rendezvous     uint8    `yaml:"rendezvous"`
	OnboardingBase string   `yaml:"onboarding_base"`
	LogEvery       Duration `yaml:"log_every"`
}

// HomeKitConfig contains the HomeKit accessory server settings, used when
// fabric is "homekit".
type HomeKitConfig struct {
	Pin       string `yaml:"pin"`      // eight digits, entered as XXX-XX-XXX
	SetupID   string `yaml:"setup_id"` // four characters for the X-HM setup URI
	Addr      string `yaml:"addr"`     // listen address; empty picks a port
	Namespace string `yaml:"namespace"`
}

// DeviceConfig describes the device for Home Assistant discovery.
type DeviceConfig struct {
	Name         string `yaml:"name"`
	Manufacturer string `yaml:"manufacturer"`
	Model        string `yaml:"model"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	JSON   bool   `yaml:"json"`
	Colors bool   `yaml:"colors"`
}

// Duration is a wrapper around time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Fabric: FabricMQTT,
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			TopicPrefix: "light-accessory",
			OutboxSize:  64,
		},
		GPIO: GPIOConfig{
			Chip:      gpio.DefaultChip,
			ButtonPin: gpio.DefaultButtonPin,
			LEDPin:    gpio.DefaultLEDPin,
		},
		Storage: StorageConfig{
			Path:      "/var/lib/light-accessory/state.db",
			Namespace: store.DefaultNamespace,
		},
		Button: ButtonConfig{
			Tick:      Duration(10 * time.Millisecond),
			Debounce:  Duration(250 * time.Millisecond),
			LongPress: Duration(5 * time.Second),
		},
		Identify: IdentifyConfig{
			Interval:    Duration(500 * time.Millisecond),
			Transitions: 4,
		},
		// Test vendor/product and the well-known test passcode.
		Commissioning: CommissioningConfig{
			VendorID:      0xFFF1,
			ProductID:     0x8000,
			Discriminator: 3840,
			Passcode:      20202021,
			Rendezvous:    4,
			LogEvery:      Duration(5 * time.Second),
		},
		HomeKit: HomeKitConfig{
			Pin:       "00102003",
			SetupID:   "LGHT",
			Namespace: "HomeKit",
		},
		Device: DeviceConfig{
			Name: "Light",
		},
		Log: LogConfig{
			Level:  "info",
			Colors: true,
		},
	}
}

// Load reads and parses the configuration file. An empty path, or a path
// that does not exist, yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults, expanding ${VAR} and ${VAR:default}
// references first. Keys absent from the file keep their default; an explicit
// zero GPIO line or discriminator is kept as written.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.sanitize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// sanitize restores defaults for values that have no valid zero or negative
// form, such as an empty broker or a non-positive period.
func (cfg *Config) sanitize() {
	d := Default()

	if cfg.Fabric == "" {
		cfg.Fabric = d.Fabric
	}
	if cfg.MQTT.Broker == "" {
		cfg.MQTT.Broker = d.MQTT.Broker
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = d.MQTT.TopicPrefix
	}
	if cfg.MQTT.OutboxSize <= 0 {
		cfg.MQTT.OutboxSize = d.MQTT.OutboxSize
	}
	if cfg.GPIO.Chip == "" {
		cfg.GPIO.Chip = d.GPIO.Chip
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = d.Storage.Path
	}
	if cfg.Storage.Namespace == "" {
		cfg.Storage.Namespace = d.Storage.Namespace
	}

	fixDuration(&cfg.Button.Tick, d.Button.Tick)
	fixDuration(&cfg.Button.Debounce, d.Button.Debounce)
	fixDuration(&cfg.Button.LongPress, d.Button.LongPress)
	fixDuration(&cfg.Identify.Interval, d.Identify.Interval)
	fixDuration(&cfg.Commissioning.LogEvery, d.Commissioning.LogEvery)

	if cfg.Identify.Transitions <= 0 {
		cfg.Identify.Transitions = d.Identify.Transitions
	}
	if cfg.HomeKit.Namespace == "" {
		cfg.HomeKit.Namespace = d.HomeKit.Namespace
	}
	if cfg.Device.Name == "" {
		cfg.Device.Name = d.Device.Name
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = d.Log.Level
	}
}

func fixDuration(v *Duration, def Duration) {
	if *v <= 0 {
		*v = def
	}
}

func (cfg *Config) validate() error {
	switch cfg.Fabric {
	case FabricMQTT, FabricHomeKit:
	default:
		return fmt.Errorf("unknown fabric %q (want %q or %q)", cfg.Fabric, FabricMQTT, FabricHomeKit)
	}
	if cfg.GPIO.ButtonPin < 0 || cfg.GPIO.LEDPin < 0 {
		return fmt.Errorf("gpio lines must not be negative (button %d, led %d)", cfg.GPIO.ButtonPin, cfg.GPIO.LEDPin)
	}
	if cfg.GPIO.ButtonPin == cfg.GPIO.LEDPin {
		return fmt.Errorf("button and led share gpio line %d", cfg.GPIO.ButtonPin)
	}
	return nil
}

var envRef = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}.
func expandEnvVars(input string) string {
	return envRef.ReplaceAllStringFunc(input, func(match string) string {
		parts := envRef.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if val := os.Getenv(parts[1]); val != "" {
			return val
		}
		if len(parts) >= 3 {
			return parts[2]
		}
		return ""
	})
}
