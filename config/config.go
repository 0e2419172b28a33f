// Package config loads and validates powerctl's configuration: a YAML file
// on disk overlaid with environment variables. The typed struct-plus-
// Validate() shape follows the teacher's scheduler/config.go; the YAML
// decoding itself is gopkg.in/yaml.v3 (as used by
// brianmickel-battery-backtest/internal/config), and the env overlay is
// caarlos0/env with joho/godotenv preloading a local .env file (as used by
// foae-marstek-energy-trading) — the teacher's own config.go is plain
// encoding/json with no env layer at all. See SPEC_FULL §4.8 / §6.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	General  GeneralConfig  `yaml:"General"`
	AmberAPI AmberAPIConfig `yaml:"AmberAPI"`
	Location LocationConfig `yaml:"Location"`

	OperatingSchedules []ScheduleConfig `yaml:"OperatingSchedules"`
	OutputConfiguration []OutputConfig  `yaml:"OutputConfiguration"`
	OutputSequences     []SequenceConfig `yaml:"OutputSequences"`

	ShellyDevices ShellyDevicesConfig `yaml:"ShellyDevices"`
	Telemetry     TelemetryConfig     `yaml:"Telemetry"`
	Discovery     DiscoveryConfig     `yaml:"Discovery"`
	Storage       StorageConfig       `yaml:"Storage"`
}

// GeneralConfig mirrors scheduler/config.go's top-level scalars: cadence,
// log level/format, state persistence, and the critical-issue reporting
// delay used by device.Worker.
type GeneralConfig struct {
	TickInterval            time.Duration `yaml:"TickInterval" env:"TICK_INTERVAL" envDefault:"10s"`
	LogLevel                string        `yaml:"LogLevel" env:"LOG_LEVEL" envDefault:"info"`
	LogFormat                string        `yaml:"LogFormat" env:"LOG_FORMAT" envDefault:"text"`
	StateFile               string        `yaml:"StateFile" env:"STATE_FILE" envDefault:"state.json"`
	ReportCriticalErrorsDelay int         `yaml:"ReportCriticalErrorsDelay" env:"REPORT_CRITICAL_ERRORS_DELAY"`
	DefaultPrice             float64       `yaml:"DefaultPrice" env:"DEFAULT_PRICE" envDefault:"30"`
	MaxDays                  int           `yaml:"MaxDays" env:"MAX_DAYS" envDefault:"7"`
	MaxShortfallHours        float64       `yaml:"MaxShortfallHours" env:"MAX_SHORTFALL_HOURS" envDefault:"4"`
}

// AmberAPIConfig configures the BestPrice tariff feed.
type AmberAPIConfig struct {
	Mode                string        `yaml:"Mode" env:"AMBER_MODE" envDefault:"Live"`
	SecurityToken        string        `yaml:"SecurityToken" env:"AMBER_SECURITY_TOKEN"`
	URLFormat            string        `yaml:"URLFormat" env:"AMBER_URL_FORMAT"`
	Timeout              time.Duration `yaml:"Timeout" env:"AMBER_TIMEOUT" envDefault:"10s"`
	RefreshInterval      time.Duration `yaml:"RefreshInterval" env:"AMBER_REFRESH_INTERVAL" envDefault:"5m"`
	MaxConcurrentErrors  int           `yaml:"MaxConcurrentErrors" env:"AMBER_MAX_CONCURRENT_ERRORS" envDefault:"10"`
	CacheDir             string        `yaml:"CacheDir" env:"AMBER_CACHE_DIR" envDefault:"./cache"`
}

// LocationConfig is used for dawn/dusk resolution and ENTSO-E's market
// timezone.
type LocationConfig struct {
	Latitude  float64 `yaml:"Latitude" env:"LATITUDE"`
	Longitude float64 `yaml:"Longitude" env:"LONGITUDE"`
	Timezone  string  `yaml:"Timezone" env:"TIMEZONE" envDefault:"UTC"`
}

// ScheduleConfig is one OperatingSchedules entry.
type ScheduleConfig struct {
	Name    string         `yaml:"Name"`
	Windows []WindowConfig `yaml:"Windows"`
}

// WindowConfig is one Start/EndTime window within a schedule.
type WindowConfig struct {
	StartTime  string  `yaml:"StartTime"`
	EndTime    string  `yaml:"EndTime"`
	DaysOfWeek string  `yaml:"DaysOfWeek"`
	Price      float64 `yaml:"Price"`
}

// DateRangeConfig is one DatesOff entry, "YYYY-MM-DD" inclusive.
type DateRangeConfig struct {
	StartDate string `yaml:"StartDate"`
	EndDate   string `yaml:"EndDate"`
}

// OutputConfig is one OutputConfiguration entry.
type OutputConfig struct {
	Name               string             `yaml:"Name"`
	DeviceOutput       int                `yaml:"DeviceOutput"`
	DeviceMeter        int                `yaml:"DeviceMeter"`
	DeviceInput        int                `yaml:"DeviceInput"`
	DeviceInputMode    string             `yaml:"DeviceInputMode"`
	Mode               string             `yaml:"Mode"`
	Schedule           string             `yaml:"Schedule"`
	AmberChannel       string             `yaml:"AmberChannel"`
	MaxBestPrice       float64            `yaml:"MaxBestPrice"`
	MaxPriorityPrice   float64            `yaml:"MaxPriorityPrice"`
	MinHours           float64            `yaml:"MinHours"`
	MaxHours           float64            `yaml:"MaxHours"`
	TargetHours        float64            `yaml:"TargetHours"`
	MonthlyTargetHours map[string]float64 `yaml:"MonthlyTargetHours"`
	DatesOff           []DateRangeConfig  `yaml:"DatesOff"`
	ParentOutput       string             `yaml:"ParentOutput"`
	StopOnExit         bool               `yaml:"StopOnExit"`

	MaxShortfallHours    float64                   `yaml:"MaxShortfallHours"`
	TempProbeConstraints []TempProbeConstraintConfig `yaml:"TempProbeConstraints"`
	MinOnTime            time.Duration             `yaml:"MinOnTime"`
	MinOffTime           time.Duration             `yaml:"MinOffTime"`
	MaxAppOnTime         time.Duration             `yaml:"MaxAppOnTime"`
	MaxAppOffTime        time.Duration             `yaml:"MaxAppOffTime"`
	TurnOnSequence       string                    `yaml:"TurnOnSequence"`  // references an OutputSequences[].Name
	TurnOffSequence      string                    `yaml:"TurnOffSequence"`
	ConstraintSchedule   string                    `yaml:"ConstraintSchedule"` // references an OperatingSchedules[].Name
}

// TempProbeConstraintConfig is one TempProbeConstraints entry.
type TempProbeConstraintConfig struct {
	ProbeID   int     `yaml:"ProbeID"`
	Condition string  `yaml:"Condition"` // "GreaterThan" or "LessThan"
	Threshold float64 `yaml:"Threshold"`
}

// SequenceConfig is one OutputSequences entry: a named, ordered list of
// device steps a TurnOnSequence/TurnOffSequence reference resolves to.
type SequenceConfig struct {
	Name    string               `yaml:"Name"`
	Timeout time.Duration        `yaml:"Timeout"`
	Steps   []SequenceStepConfig `yaml:"Steps"`
}

// SequenceStepConfig is one step within a SequenceConfig. Type is one of
// ChangeOutput, Sleep, Delay (alias for Sleep), RefreshStatus, GetLocation.
type SequenceStepConfig struct {
	Type          string  `yaml:"Type"`
	Seconds       float64 `yaml:"Seconds"`
	OutputIdentity int    `yaml:"OutputIdentity"`
	DeviceIdentity int    `yaml:"DeviceIdentity"`
	State         bool    `yaml:"State"`
	Retries       int     `yaml:"Retries"`
	RetryBackoff  float64 `yaml:"RetryBackoff"`
}

// ShellyDevicesConfig configures the physical relay/sensor devices
// themselves, separate from the logical OutputConfiguration entries they
// back.
type ShellyDevicesConfig struct {
	MaxConcurrentErrors int                  `yaml:"MaxConcurrentErrors" env:"SHELLY_MAX_CONCURRENT_ERRORS" envDefault:"5"`
	Devices             []ShellyDeviceConfig `yaml:"Devices"`
}

// ShellyDeviceConfig is one physical device entry under ShellyDevices.
type ShellyDeviceConfig struct {
	ID              int     `yaml:"ID"`
	Name            string  `yaml:"Name"`
	Label           string  `yaml:"Label"`
	DeviceAlertTemp float64 `yaml:"DeviceAlertTemp"`
}

// TelemetryConfig configures the JSON ops endpoints (not an HTML UI).
type TelemetryConfig struct {
	Enabled bool   `yaml:"Enabled" env:"TELEMETRY_ENABLED" envDefault:"true"`
	Address string `yaml:"Address" env:"TELEMETRY_ADDRESS" envDefault:":9090"`
}

// DiscoveryConfig configures the optional mDNS relay scan.
type DiscoveryConfig struct {
	Enabled bool          `yaml:"Enabled" env:"DISCOVERY_ENABLED" envDefault:"false"`
	Timeout time.Duration `yaml:"Timeout" env:"DISCOVERY_TIMEOUT" envDefault:"5s"`
}

// StorageConfig configures the optional Postgres history mirror.
type StorageConfig struct {
	Enabled          bool   `yaml:"Enabled" env:"STORAGE_ENABLED" envDefault:"false"`
	PostgresConnString string `yaml:"PostgresConnString" env:"STORAGE_POSTGRES_CONN_STRING"`
}

// Load preloads a .env file from the working directory if one exists, reads
// yamlPath, overlays process environment variables, and validates the result.
func Load(yamlPath string) (*Config, error) {
	envPath := ".env"
	if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	data, err := os.ReadFile(yamlPath)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", yamlPath, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", yamlPath, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return cfg, nil
}
