package device

import (
	"context"
	"fmt"
	"time"

	"github.com/goburrow/modbus"
)

// ModbusDriver is a Client backed by a Modbus-TCP dry-contact relay board:
// each OutputInfo.ID maps to a single coil, each TempProbeInfo.ID to a single
// holding register (signed tenths-of-a-degree). It is one of two reference
// transports shipped behind the Client interface (see wsdriver.go); the real
// protocol used by any given deployment's hardware is an external concern.
type ModbusDriver struct {
	handler *modbus.TCPClientHandler
	client  modbus.Client

	coilForOutput    map[int]uint16
	deviceForOutput  map[int]int
	registerForProbe map[int]uint16
	devices          map[int]DeviceInfo
}

// ModbusLayout maps the controller's logical ids onto Modbus addresses.
type ModbusLayout struct {
	CoilForOutput    map[int]uint16
	DeviceForOutput  map[int]int
	RegisterForProbe map[int]uint16
	Devices          map[int]DeviceInfo
}

// NewModbusDriver dials a Modbus-TCP relay board at address (host:port).
func NewModbusDriver(address string, slaveID byte, timeout time.Duration, layout ModbusLayout) (*ModbusDriver, error) {
	handler := modbus.NewTCPClientHandler(address)
	handler.SlaveId = slaveID
	if timeout <= 0 {
		timeout = time.Second
	}
	handler.Timeout = timeout

	if err := handler.Connect(); err != nil {
		return nil, fmt.Errorf("modbus: connect %s: %w", address, err)
	}

	return &ModbusDriver{
		handler:          handler,
		client:           modbus.NewClient(handler),
		coilForOutput:    layout.CoilForOutput,
		deviceForOutput:  layout.DeviceForOutput,
		registerForProbe: layout.RegisterForProbe,
		devices:          layout.Devices,
	}, nil
}

// Close releases the underlying TCP connection.
func (d *ModbusDriver) Close() error {
	return d.handler.Close()
}

func (d *ModbusDriver) Refresh(_ context.Context) (Snapshot, error) {
	snap := Snapshot{
		Devices:    make(map[int]DeviceInfo, len(d.devices)),
		Outputs:    make(map[int]OutputInfo, len(d.coilForOutput)),
		TempProbes: make(map[int]TempProbeInfo, len(d.registerForProbe)),
		Inputs:     map[int]InputInfo{},
		Meters:     map[int]MeterInfo{},
	}
	for id, info := range d.devices {
		snap.Devices[id] = info
	}

	for outputID, coil := range d.coilForOutput {
		bits, err := d.client.ReadCoils(coil, 1)
		devID := d.deviceForOutput[outputID]
		if err != nil {
			dev := snap.Devices[devID]
			dev.Online = false
			snap.Devices[devID] = dev
			continue
		}
		snap.Outputs[outputID] = OutputInfo{ID: outputID, DeviceID: devID, State: bits[0]&0x01 != 0}
	}

	for probeID, reg := range d.registerForProbe {
		regs, err := d.client.ReadHoldingRegisters(reg, 1)
		if err != nil || len(regs) < 2 {
			continue
		}
		raw := int16(regs[0])<<8 | int16(regs[1])
		snap.TempProbes[probeID] = TempProbeInfo{ID: probeID, TempC: float64(raw) / 10.0, LastReadingTs: time.Now()}
	}

	return snap, nil
}

func (d *ModbusDriver) ChangeOutput(_ context.Context, outputID int, on bool) (bool, error) {
	coil, ok := d.coilForOutput[outputID]
	if !ok {
		return false, fmt.Errorf("modbus: no coil mapped for output %d", outputID)
	}

	before, err := d.client.ReadCoils(coil, 1)
	wasOn := err == nil && before[0]&0x01 != 0

	value := uint16(0x0000)
	if on {
		value = 0xFF00
	}
	if _, err := d.client.WriteSingleCoil(coil, value); err != nil {
		return false, fmt.Errorf("modbus: write coil %d: %w", coil, err)
	}
	return wasOn != on, nil
}

func (d *ModbusDriver) GetLocation(_ context.Context, _ int) (Location, error) {
	return Location{}, fmt.Errorf("modbus: GetLocation not supported by dry-contact relay boards")
}
