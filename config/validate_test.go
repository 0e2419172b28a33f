package config

import (
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		General: GeneralConfig{
			TickInterval: 10 * time.Second,
			LogLevel:     "info",
			MaxDays:      7,
			DefaultPrice: 30,
		},
		AmberAPI: AmberAPIConfig{
			Mode:    "Disabled",
			Timeout: 10 * time.Second,
		},
		Location: LocationConfig{Latitude: -33.8, Longitude: 151.2},
		OperatingSchedules: []ScheduleConfig{
			{Name: "daytime", Windows: []WindowConfig{{StartTime: "09:00", EndTime: "17:00"}}},
		},
		OutputConfiguration: []OutputConfig{
			{
				Name: "water-heater", Mode: "Schedule", Schedule: "daytime",
				MaxBestPrice: 30, MaxPriorityPrice: 40,
				MinHours: 1, MaxHours: 6, TargetHours: 3,
			},
		},
	}
}

func TestValidate_AcceptsWellFormedConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected valid config, got error: %v", err)
	}
}

func TestValidate_RejectsZeroTickInterval(t *testing.T) {
	c := validConfig()
	c.General.TickInterval = 0
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for zero TickInterval")
	}
}

func TestValidate_RejectsUnknownScheduleReference(t *testing.T) {
	c := validConfig()
	c.OutputConfiguration[0].Schedule = "nonexistent"
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for unknown schedule reference")
	}
}

func TestValidate_RejectsDuplicateOutputNames(t *testing.T) {
	c := validConfig()
	c.OutputConfiguration = append(c.OutputConfiguration, c.OutputConfiguration[0])
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for duplicate output names")
	}
}

func TestValidate_RejectsParentOutputCycle(t *testing.T) {
	c := validConfig()
	c.OutputConfiguration[0].ParentOutput = "pump"
	c.OutputConfiguration = append(c.OutputConfiguration, OutputConfig{
		Name: "pump", Mode: "Schedule", Schedule: "daytime",
		MaxBestPrice: 30, MaxPriorityPrice: 40, MinHours: 1, MaxHours: 6, TargetHours: 3,
		ParentOutput: "water-heater",
	})
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for cyclic ParentOutput chain")
	}
}

func TestValidate_RejectsLiveModeWithoutCredentials(t *testing.T) {
	c := validConfig()
	c.AmberAPI.Mode = "Live"
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for Live mode missing SecurityToken/URLFormat")
	}
}

func TestValidate_RejectsInvalidTempProbeCondition(t *testing.T) {
	c := validConfig()
	c.OutputConfiguration[0].TempProbeConstraints = []TempProbeConstraintConfig{
		{ProbeID: 1, Condition: "Sideways", Threshold: 30},
	}
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for invalid TempProbeConstraints Condition")
	}
}

func TestValidate_RejectsUnknownTurnOnSequence(t *testing.T) {
	c := validConfig()
	c.OutputConfiguration[0].TurnOnSequence = "missing-sequence"
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for unknown TurnOnSequence reference")
	}
}

func TestValidate_RejectsUnknownConstraintSchedule(t *testing.T) {
	c := validConfig()
	c.OutputConfiguration[0].ConstraintSchedule = "missing-schedule"
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for unknown ConstraintSchedule reference")
	}
}

func TestValidate_AcceptsKnownTurnOnSequence(t *testing.T) {
	c := validConfig()
	c.OutputSequences = []SequenceConfig{{Name: "slow-start", Steps: []SequenceStepConfig{{Type: "ChangeOutput", State: true}, {Type: "Delay", Seconds: 2}}}}
	c.OutputConfiguration[0].TurnOnSequence = "slow-start"
	if err := c.Validate(); err != nil {
		t.Fatalf("expected a known TurnOnSequence to validate, got: %v", err)
	}
}

func TestValidate_RejectsStorageEnabledWithoutConnString(t *testing.T) {
	c := validConfig()
	c.Storage.Enabled = true
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for Storage.Enabled without PostgresConnString")
	}
}
