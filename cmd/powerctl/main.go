// Command powerctl is the household relay-controller daemon: it loads
// configuration, wires the device worker, run-planner, pricing, schedule and
// telemetry subsystems together, and runs the control loop until asked to
// stop. See SPEC_FULL §2/§4.7.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/devskill-org/powerctl/config"
	"github.com/devskill-org/powerctl/controller"
	"github.com/devskill-org/powerctl/device"
	"github.com/devskill-org/powerctl/discovery"
	"github.com/devskill-org/powerctl/outputs"
	"github.com/devskill-org/powerctl/pricing"
	"github.com/devskill-org/powerctl/runhistory"
	"github.com/devskill-org/powerctl/schedule"
	"github.com/devskill-org/powerctl/storage"
	"github.com/devskill-org/powerctl/telemetry"
)

func main() {
	var (
		configFile  = flag.String("config", "config.yaml", "Configuration file path")
		driver      = flag.String("driver", "simulator", "Device driver: simulator, modbus, ws")
		modbusAddr  = flag.String("modbus-addr", "localhost:502", "Modbus-TCP relay board address (driver=modbus)")
		modbusSlave = flag.Int("modbus-slave", 1, "Modbus slave id (driver=modbus)")
		wsURL       = flag.String("ws-url", "ws://localhost/rpc", "Relay WebSocket RPC URL (driver=ws)")
		help        = flag.Bool("help", false, "Show help message")
	)
	flag.Parse()

	if *help {
		showHelp()
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Println("Error loading configuration:", err)
		os.Exit(1)
	}

	logger := log.New(os.Stdout, "[powerctl] ", log.LstdFlags)

	client, err := buildDeviceClient(*driver, cfg, *modbusAddr, byte(*modbusSlave), *wsURL)
	if err != nil {
		logger.Fatalf("device driver: %v", err)
	}
	maxConcurrentErrors := cfg.ShellyDevices.MaxConcurrentErrors
	if maxConcurrentErrors <= 0 {
		maxConcurrentErrors = 5
	}
	worker := device.NewWorker(client, logger, maxConcurrentErrors, time.Duration(cfg.General.ReportCriticalErrorsDelay)*time.Second,
		func(err error) { logger.Printf("CRITICAL device issue: %v", err) })

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

	schedulerSrc := buildScheduler(logger, cfg)
	pricingSrc := buildPricing(logger, cfg)

	sequences := buildSequences(cfg.OutputSequences)

	outputMgrs := make([]*outputs.Manager, 0, len(cfg.OutputConfiguration))
	for _, oc := range cfg.OutputConfiguration {
		outputMgrs = append(outputMgrs, buildOutputManager(oc, cfg.General.MaxDays, cfg.General.MaxShortfallHours, sequences))
	}

	ctrl := controller.New(logger, worker, pricingSrc, schedulerSrc, cfg.General.TickInterval, *configFile, cfg.General.StateFile)
	ctrl.SetOutputs(outputMgrs)
	ctrl.SetMetrics(metrics)
	if cfg.Storage.Enabled {
		sink, err := storage.Open(cfg.Storage.PostgresConnString, logger)
		if err != nil {
			logger.Printf("storage: disabled, could not connect: %v", err)
		} else {
			defer sink.Close()
			ctrl.SetStorage(sink)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	supervisor := controller.NewSupervisor(logger, 5, 2*time.Second)
	go supervisor.Supervise(ctx, "device-worker", worker.Run)

	var telemetrySrv *telemetry.Server
	if cfg.Telemetry.Enabled {
		telemetrySrv = telemetry.NewServer(cfg.Telemetry.Address, reg, ctrl, logger)
		go supervisor.Supervise(ctx, "telemetry", func(ctx context.Context) {
			if err := telemetrySrv.Start(); err != nil {
				logger.Printf("telemetry: %v", err)
				return
			}
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = telemetrySrv.Stop(shutdownCtx)
		})
	}

	if cfg.Discovery.Enabled {
		scanner := discovery.NewScanner("_powerctl-relay._tcp", "local.", logger)
		scanCtx, scanCancel := context.WithTimeout(ctx, cfg.Discovery.Timeout)
		if err := scanner.Scan(scanCtx, cfg.Discovery.Timeout); err != nil {
			logger.Printf("discovery: scan failed, falling back to static configuration: %v", err)
		}
		scanCancel()
	}

	go ctrl.Run(ctx)

	logger.Printf("powerctl started, managing %d outputs. Press Ctrl+C to stop...", len(outputMgrs))
	<-sigChan
	logger.Printf("shutdown signal received, stopping controller...")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	ctrl.Shutdown(shutdownCtx)
	ctrl.Stop()
	worker.Stop()

	logger.Printf("powerctl stopped")
}

func buildDeviceClient(driver string, cfg *config.Config, modbusAddr string, modbusSlave byte, wsURL string) (device.Client, error) {
	switch driver {
	case "modbus":
		layout := device.ModbusLayout{
			CoilForOutput:    map[int]uint16{},
			DeviceForOutput:  map[int]int{},
			RegisterForProbe: map[int]uint16{},
			Devices:          map[int]device.DeviceInfo{},
		}
		for i, oc := range cfg.OutputConfiguration {
			layout.CoilForOutput[oc.DeviceOutput] = uint16(i)
			layout.DeviceForOutput[oc.DeviceOutput] = 1
		}
		layout.Devices[1] = device.DeviceInfo{ID: 1, Name: "relay-board"}
		return device.NewModbusDriver(modbusAddr, modbusSlave, 2*time.Second, layout)
	case "ws":
		outputToDevice := map[int]int{}
		devices := map[int]device.DeviceInfo{1: {ID: 1, Name: "relay-board"}}
		for _, oc := range cfg.OutputConfiguration {
			outputToDevice[oc.DeviceOutput] = 1
		}
		return device.NewWSDriver(context.Background(), wsURL, outputToDevice, devices)
	case "simulator":
		return device.NewSimulator(device.Snapshot{}), nil
	default:
		return nil, fmt.Errorf("unknown driver %q", driver)
	}
}

func buildScheduler(logger *log.Logger, cfg *config.Config) *schedule.Scheduler {
	schedules := make([]schedule.Schedule, 0, len(cfg.OperatingSchedules))
	for _, sc := range cfg.OperatingSchedules {
		windows := make([]schedule.Window, 0, len(sc.Windows))
		for _, w := range sc.Windows {
			windows = append(windows, schedule.Window{
				StartTime:  w.StartTime,
				EndTime:    w.EndTime,
				DaysOfWeek: w.DaysOfWeek,
				Price:      decimal.NewFromFloat(w.Price),
			})
		}
		schedules = append(schedules, schedule.Schedule{Name: sc.Name, Windows: windows})
	}
	loc := schedule.Location{Latitude: cfg.Location.Latitude, Longitude: cfg.Location.Longitude}
	return schedule.New(logger, schedules, decimal.NewFromFloat(cfg.General.DefaultPrice), loc)
}

func buildPricing(logger *log.Logger, cfg *config.Config) *pricing.Manager {
	var client pricing.TariffClient
	loc, err := time.LoadLocation(cfg.Location.Timezone)
	if err != nil {
		loc = time.UTC
	}
	if cfg.AmberAPI.Mode == "Live" {
		client = pricing.NewEntsoeClient(cfg.AmberAPI.SecurityToken, cfg.AmberAPI.URLFormat, loc)
	}

	var cache pricing.Cache
	if dc, err := pricing.NewDiskCache(cfg.AmberAPI.CacheDir); err != nil {
		logger.Printf("pricing: disk cache unavailable: %v", err)
	} else {
		cache = dc
	}

	mode := pricing.ModeDisabled
	switch cfg.AmberAPI.Mode {
	case "Live":
		mode = pricing.ModeLive
	case "Offline":
		mode = pricing.ModeOffline
	}

	return pricing.New(client, cache, logger, mode, cfg.AmberAPI.RefreshInterval, cfg.AmberAPI.Timeout, cfg.AmberAPI.MaxConcurrentErrors)
}

func buildOutputManager(oc config.OutputConfig, maxDays int, defaultMaxShortfallHours float64, sequences map[string][]device.Step) *outputs.Manager {
	monthly := make(map[time.Month]float64, len(oc.MonthlyTargetHours))
	for name, hours := range oc.MonthlyTargetHours {
		if m, err := monthFromName(name); err == nil {
			monthly[m] = hours
		}
	}
	datesOff := make([]outputs.DateRange, 0, len(oc.DatesOff))
	for _, r := range oc.DatesOff {
		start, errS := time.Parse("2006-01-02", r.StartDate)
		end, errE := time.Parse("2006-01-02", r.EndDate)
		if errS == nil && errE == nil {
			datesOff = append(datesOff, outputs.DateRange{Start: start, End: end})
		}
	}

	probes := make([]outputs.TempProbeConstraint, 0, len(oc.TempProbeConstraints))
	for _, tp := range oc.TempProbeConstraints {
		op := outputs.TempProbeGreaterThan
		if tp.Condition == "LessThan" {
			op = outputs.TempProbeLessThan
		}
		probes = append(probes, outputs.TempProbeConstraint{ProbeID: tp.ProbeID, Op: op, Threshold: tp.Threshold})
	}

	maxShortfallHours := oc.MaxShortfallHours
	if maxShortfallHours <= 0 {
		maxShortfallHours = defaultMaxShortfallHours
	}

	cfg := outputs.Config{
		Name:                 oc.Name,
		OutputID:             oc.DeviceOutput,
		MeterID:              oc.DeviceMeter,
		InputID:              oc.DeviceInput,
		HasInput:             oc.DeviceInput != 0,
		InputMode:            outputs.InputMode(oc.DeviceInputMode),
		Mode:                 outputs.Mode(oc.Mode),
		ScheduleName:         oc.Schedule,
		AmberChannel:         oc.AmberChannel,
		MaxBestPrice:         oc.MaxBestPrice,
		MaxPriorityPrice:     oc.MaxPriorityPrice,
		MinHours:             oc.MinHours,
		MaxHours:             oc.MaxHours,
		TargetHours:          oc.TargetHours,
		AllHours:             oc.TargetHours == -1,
		MonthlyTargetHours:   monthly,
		DatesOff:             datesOff,
		ParentOutputName:     oc.ParentOutput,
		StopOnExit:           oc.StopOnExit,
		TempProbeConstraints: probes,
		MinOnTime:            oc.MinOnTime,
		MinOffTime:           oc.MinOffTime,
		MaxAppOnTime:         oc.MaxAppOnTime,
		MaxAppOffTime:        oc.MaxAppOffTime,
		ConstraintSchedule:   oc.ConstraintSchedule,
		TurnOnSequence:       sequences[oc.TurnOnSequence],
		TurnOffSequence:      sequences[oc.TurnOffSequence],
	}
	return outputs.New(cfg, runhistory.New(maxDays, maxShortfallHours))
}

// buildSequences resolves every OutputSequences entry into the []device.Step
// a TurnOnSequence/TurnOffSequence name looks up. "Delay" steps map onto
// device.StepSleep; powerctl has no distinct delay primitive.
func buildSequences(seqs []config.SequenceConfig) map[string][]device.Step {
	out := make(map[string][]device.Step, len(seqs))
	for _, seq := range seqs {
		steps := make([]device.Step, 0, len(seq.Steps))
		for _, s := range seq.Steps {
			kind := device.StepChangeOutput
			switch s.Type {
			case "Sleep", "Delay":
				kind = device.StepSleep
			case "RefreshStatus":
				kind = device.StepRefreshStatus
			case "GetLocation":
				kind = device.StepGetLocation
			}
			steps = append(steps, device.Step{
				Kind:          kind,
				OutputID:      s.OutputIdentity,
				State:         s.State,
				Seconds:       s.Seconds,
				DeviceID:      s.DeviceIdentity,
				Retries:       s.Retries,
				RetryBackoffS: s.RetryBackoff,
			})
		}
		out[seq.Name] = steps
	}
	return out
}

func monthFromName(name string) (time.Month, error) {
	t, err := time.Parse("January", name)
	if err != nil {
		return 0, err
	}
	return t.Month(), nil
}

func showHelp() {
	fmt.Println("powerctl: household relay controller")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
}
