package controller

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/devskill-org/powerctl/domain"
	"github.com/devskill-org/powerctl/runhistory"
	"github.com/devskill-org/powerctl/runplan"
)

// schemaVersion is bumped whenever the persisted state shape changes in a
// way that isn't backward compatible.
const schemaVersion = 1

var stateWriteMu sync.Mutex

// stateEnvelope is the root persisted document, matching spec.md §6's JSON
// shape. Datetime fields carry a parallel "<key>__datatype" sibling so a
// reader can round-trip them without schema knowledge, mirroring the
// teacher's MarshalJSON duration-string convention (scheduler/config.go).
type stateEnvelope struct {
	SchemaVersion int            `json:"SchemaVersion"`
	StateFileType string         `json:"StateFileType"`
	DeviceName    string         `json:"DeviceName"`
	SaveTime      time.Time      `json:"-"`
	Outputs       []outputState  `json:"Outputs"`
}

type outputState struct {
	Name             string               `json:"Name"`
	SystemState      domain.SystemState   `json:"SystemState"`
	IsOn             bool                 `json:"IsOn"`
	LastChanged      time.Time            `json:"-"`
	ReasonOn         domain.StateReasonOn `json:"ReasonOn"`
	ReasonOff        domain.StateReasonOff `json:"ReasonOff"`
	AppMode          domain.AdminMode     `json:"AppMode"`
	AppModeRevertAt  time.Time            `json:"-"`
	ParentOutputName string               `json:"ParentOutputName"`
	Mode             string               `json:"Mode"`
	ScheduleName     string               `json:"ScheduleName"`
	AmberChannel     string               `json:"AmberChannel"`
	MaxBestPrice     float64              `json:"MaxBestPrice"`
	MaxPriorityPrice float64              `json:"MaxPriorityPrice"`
	MinHours         float64              `json:"MinHours"`
	MaxHours         float64              `json:"MaxHours"`
	TargetHours      float64              `json:"TargetHours"`
	RunPlan          runplan.RunPlan      `json:"RunPlan"`
	RunHistory       *runhistory.History  `json:"RunHistory"`
}

func (e stateEnvelope) MarshalJSON() ([]byte, error) {
	type Alias stateEnvelope
	return json.Marshal(&struct {
		*Alias
		SaveTime         string `json:"SaveTime"`
		SaveTimeDatatype string `json:"SaveTime__datatype"`
	}{
		Alias:            (*Alias)(&e),
		SaveTime:         e.SaveTime.Format(time.RFC3339),
		SaveTimeDatatype: "datetime",
	})
}

func (e *stateEnvelope) UnmarshalJSON(data []byte) error {
	type Alias stateEnvelope
	aux := &struct {
		*Alias
		SaveTime string `json:"SaveTime"`
	}{Alias: (*Alias)(e)}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	if aux.SaveTime != "" {
		t, err := time.Parse(time.RFC3339, aux.SaveTime)
		if err != nil {
			return fmt.Errorf("state: invalid SaveTime: %w", err)
		}
		e.SaveTime = t
	}
	return nil
}

func (o outputState) MarshalJSON() ([]byte, error) {
	type Alias outputState
	var revert string
	if !o.AppModeRevertAt.IsZero() {
		revert = o.AppModeRevertAt.Format(time.RFC3339)
	}
	return json.Marshal(&struct {
		*Alias
		LastChanged               string `json:"LastChanged"`
		LastChangedDatatype       string `json:"LastChanged__datatype"`
		AppModeRevertAt           string `json:"AppModeRevertAt"`
		AppModeRevertAtDatatype   string `json:"AppModeRevertAt__datatype"`
	}{
		Alias:                   (*Alias)(&o),
		LastChanged:             o.LastChanged.Format(time.RFC3339),
		LastChangedDatatype:     "datetime",
		AppModeRevertAt:         revert,
		AppModeRevertAtDatatype: "datetime",
	})
}

func (o *outputState) UnmarshalJSON(data []byte) error {
	type Alias outputState
	aux := &struct {
		*Alias
		LastChanged     string `json:"LastChanged"`
		AppModeRevertAt string `json:"AppModeRevertAt"`
	}{Alias: (*Alias)(o)}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	if aux.LastChanged != "" {
		t, err := time.Parse(time.RFC3339, aux.LastChanged)
		if err != nil {
			return fmt.Errorf("state: invalid LastChanged: %w", err)
		}
		o.LastChanged = t
	}
	if aux.AppModeRevertAt != "" {
		t, err := time.Parse(time.RFC3339, aux.AppModeRevertAt)
		if err != nil {
			return fmt.Errorf("state: invalid AppModeRevertAt: %w", err)
		}
		o.AppModeRevertAt = t
	}
	return nil
}

// saveState writes the envelope to c.stateFile. Writes are serialised via an
// internal lock; this does not block concurrent reads of the file.
func (c *Controller) saveState(now time.Time) error {
	if c.stateFile == "" {
		return nil
	}
	env := stateEnvelope{
		SchemaVersion: schemaVersion,
		StateFileType: "PowerController",
		SaveTime:      now,
		Outputs:       make([]outputState, 0, len(c.outputs)),
	}
	for _, o := range c.outputs {
		m := o.Manager
		env.Outputs = append(env.Outputs, outputState{
			Name:             m.Config.Name,
			SystemState:      m.SystemState,
			IsOn:             m.IsOn,
			LastChanged:      m.LastChanged,
			ReasonOn:         m.ReasonOn,
			ReasonOff:        m.ReasonOff,
			AppMode:          m.AppMode,
			AppModeRevertAt:  m.AppModeRevertAt,
			ParentOutputName: m.Config.ParentOutputName,
			Mode:             string(m.Config.Mode),
			ScheduleName:     m.Config.ScheduleName,
			AmberChannel:     m.Config.AmberChannel,
			MaxBestPrice:     m.Config.MaxBestPrice,
			MaxPriorityPrice: m.Config.MaxPriorityPrice,
			MinHours:         m.Config.MinHours,
			MaxHours:         m.Config.MaxHours,
			TargetHours:      m.Config.TargetHours,
			RunPlan:          m.Plan,
			RunHistory:       m.History,
		})
	}

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("state: marshal: %w", err)
	}

	stateWriteMu.Lock()
	defer stateWriteMu.Unlock()

	tmp := c.stateFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("state: write temp file: %w", err)
	}
	if err := os.Rename(tmp, c.stateFile); err != nil {
		return fmt.Errorf("state: rename into place: %w", err)
	}
	return nil
}

// loadState reads a previously persisted envelope, if stateFile exists.
func loadState(stateFile string) (*stateEnvelope, error) {
	data, err := os.ReadFile(stateFile)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: read %s: %w", stateFile, err)
	}
	var env stateEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("state: parse %s: %w", stateFile, err)
	}
	return &env, nil
}

// statConfig returns the mtime of path.
func statConfig(path string) (time.Time, error) {
	fi, err := os.Stat(filepath.Clean(path))
	if err != nil {
		return time.Time{}, err
	}
	return fi.ModTime(), nil
}
