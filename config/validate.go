package config

import "fmt"

// Validate checks every fatal-configuration-error case from SPEC_FULL §7:
// missing mandatory fields, out-of-range values, unknown references, and
// cyclic ParentOutput chains.
func (c *Config) Validate() error {
	if c.General.TickInterval <= 0 {
		return fmt.Errorf("General.TickInterval must be greater than 0, got: %s", c.General.TickInterval)
	}
	if c.General.MaxDays <= 0 {
		return fmt.Errorf("General.MaxDays must be greater than 0, got: %d", c.General.MaxDays)
	}
	if c.General.DefaultPrice < 0 {
		return fmt.Errorf("General.DefaultPrice must be non-negative, got: %f", c.General.DefaultPrice)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.General.LogLevel] {
		return fmt.Errorf("invalid General.LogLevel: %s, must be one of: debug, info, warn, error", c.General.LogLevel)
	}

	if c.Location.Latitude < -90 || c.Location.Latitude > 90 {
		return fmt.Errorf("Location.Latitude must be between -90 and 90, got: %f", c.Location.Latitude)
	}
	if c.Location.Longitude < -180 || c.Location.Longitude > 180 {
		return fmt.Errorf("Location.Longitude must be between -180 and 180, got: %f", c.Location.Longitude)
	}

	if c.AmberAPI.Mode != "Live" && c.AmberAPI.Mode != "Offline" && c.AmberAPI.Mode != "Disabled" {
		return fmt.Errorf("invalid AmberAPI.Mode: %s, must be one of: Live, Offline, Disabled", c.AmberAPI.Mode)
	}
	if c.AmberAPI.Mode == "Live" && (c.AmberAPI.SecurityToken == "" || c.AmberAPI.URLFormat == "") {
		return fmt.Errorf("AmberAPI.SecurityToken and AmberAPI.URLFormat must be set when Mode is Live")
	}
	if c.AmberAPI.Timeout <= 0 {
		return fmt.Errorf("AmberAPI.Timeout must be greater than 0, got: %s", c.AmberAPI.Timeout)
	}

	schedulesByName := map[string]bool{}
	for _, s := range c.OperatingSchedules {
		if s.Name == "" {
			return fmt.Errorf("OperatingSchedules entry has no Name")
		}
		schedulesByName[s.Name] = true
		for i, w := range s.Windows {
			if w.StartTime == "" || w.EndTime == "" {
				return fmt.Errorf("schedule %q window %d must have both StartTime and EndTime", s.Name, i)
			}
		}
	}

	outputsByName := map[string]OutputConfig{}
	for _, o := range c.OutputConfiguration {
		if o.Name == "" {
			return fmt.Errorf("OutputConfiguration entry has no Name")
		}
		if _, dup := outputsByName[o.Name]; dup {
			return fmt.Errorf("duplicate output name: %s", o.Name)
		}
		outputsByName[o.Name] = o

		if o.Mode != "BestPrice" && o.Mode != "Schedule" {
			return fmt.Errorf("output %s: invalid Mode %q, must be BestPrice or Schedule", o.Name, o.Mode)
		}
		if o.Mode == "Schedule" && o.Schedule == "" {
			return fmt.Errorf("output %s: Schedule is required when Mode is Schedule", o.Name)
		}
		if o.Schedule != "" && !schedulesByName[o.Schedule] {
			return fmt.Errorf("output %s: Schedule %q not found in OperatingSchedules", o.Name, o.Schedule)
		}
		if o.MaxBestPrice <= 0 || o.MaxPriorityPrice <= 0 {
			return fmt.Errorf("output %s: MaxBestPrice and MaxPriorityPrice must both be > 0", o.Name)
		}
		if o.TargetHours != -1 {
			if o.MinHours < 0 || o.MaxHours < o.MinHours || o.MaxHours > 24 {
				return fmt.Errorf("output %s: invalid MinHours/MaxHours configuration", o.Name)
			}
			if o.TargetHours < o.MinHours || o.TargetHours > o.MaxHours {
				return fmt.Errorf("output %s: TargetHours must be between MinHours and MaxHours", o.Name)
			}
		}
		for _, r := range o.DatesOff {
			if r.StartDate == "" || r.EndDate == "" {
				return fmt.Errorf("output %s: DatesOff entry missing StartDate or EndDate", o.Name)
			}
		}
		for _, tp := range o.TempProbeConstraints {
			if tp.Condition != "GreaterThan" && tp.Condition != "LessThan" {
				return fmt.Errorf("output %s: TempProbeConstraints Condition must be GreaterThan or LessThan, got %q", o.Name, tp.Condition)
			}
		}
		if o.MinOnTime < 0 || o.MinOffTime < 0 || o.MaxAppOnTime < 0 || o.MaxAppOffTime < 0 {
			return fmt.Errorf("output %s: MinOnTime/MinOffTime/MaxAppOnTime/MaxAppOffTime must be non-negative", o.Name)
		}
	}

	sequencesByName := map[string]bool{}
	for _, seq := range c.OutputSequences {
		if seq.Name == "" {
			return fmt.Errorf("OutputSequences entry has no Name")
		}
		sequencesByName[seq.Name] = true
		for i, step := range seq.Steps {
			switch step.Type {
			case "ChangeOutput", "Sleep", "Delay", "RefreshStatus", "GetLocation":
			default:
				return fmt.Errorf("sequence %q step %d: invalid Type %q", seq.Name, i, step.Type)
			}
		}
	}

	for _, o := range outputsByName {
		if o.TurnOnSequence != "" && !sequencesByName[o.TurnOnSequence] {
			return fmt.Errorf("output %s: TurnOnSequence %q not found in OutputSequences", o.Name, o.TurnOnSequence)
		}
		if o.TurnOffSequence != "" && !sequencesByName[o.TurnOffSequence] {
			return fmt.Errorf("output %s: TurnOffSequence %q not found in OutputSequences", o.Name, o.TurnOffSequence)
		}
		if o.ConstraintSchedule != "" && !schedulesByName[o.ConstraintSchedule] {
			return fmt.Errorf("output %s: ConstraintSchedule %q not found in OperatingSchedules", o.Name, o.ConstraintSchedule)
		}
	}

	for name, o := range outputsByName {
		if o.ParentOutput == "" {
			continue
		}
		if _, ok := outputsByName[o.ParentOutput]; !ok {
			return fmt.Errorf("output %s: ParentOutput %q not found", name, o.ParentOutput)
		}
		if err := checkParentCycle(name, outputsByName); err != nil {
			return err
		}
	}

	if c.Storage.Enabled && c.Storage.PostgresConnString == "" {
		return fmt.Errorf("Storage.PostgresConnString must be set when Storage.Enabled is true")
	}

	return nil
}

// checkParentCycle walks the ParentOutput chain from start, failing if it
// revisits a name before terminating.
func checkParentCycle(start string, outputs map[string]OutputConfig) error {
	seen := map[string]bool{start: true}
	current := start
	for {
		parent := outputs[current].ParentOutput
		if parent == "" {
			return nil
		}
		if seen[parent] {
			return fmt.Errorf("output %s: ParentOutput chain contains a cycle at %q", start, parent)
		}
		seen[parent] = true
		current = parent
	}
}
