package device

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSDriver is a Client backed by a device that exposes a local WebSocket RPC
// endpoint (the pattern used by several generations of smart-relay
// firmware): every call is a JSON request/response pair over one persistent
// connection. This is the second reference transport behind Client (see
// modbusdriver.go); a production deployment supplies whichever of these, or
// another implementation entirely, matches its hardware.
type WSDriver struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	nextID int

	outputToDevice map[int]int
	devices        map[int]DeviceInfo
}

type wsRequest struct {
	ID     int    `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type wsResponse struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *string         `json:"error,omitempty"`
}

// NewWSDriver dials url (e.g. "ws://relay.local/rpc") and wraps the
// connection in the Client interface.
func NewWSDriver(ctx context.Context, url string, outputToDevice map[int]int, devices map[int]DeviceInfo) (*WSDriver, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("wsdriver: dial %s: %w", url, err)
	}
	return &WSDriver{conn: conn, outputToDevice: outputToDevice, devices: devices}, nil
}

// Close closes the underlying WebSocket connection.
func (d *WSDriver) Close() error {
	return d.conn.Close()
}

func (d *WSDriver) call(method string, params any, out any) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	req := wsRequest{ID: d.nextID, Method: method, Params: params}
	if err := d.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("wsdriver: write %s: %w", method, err)
	}

	var resp wsResponse
	if err := d.conn.ReadJSON(&resp); err != nil {
		return fmt.Errorf("wsdriver: read %s: %w", method, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("wsdriver: %s: %s", method, *resp.Error)
	}
	if out != nil && resp.Result != nil {
		return json.Unmarshal(resp.Result, out)
	}
	return nil
}

func (d *WSDriver) Refresh(_ context.Context) (Snapshot, error) {
	var status struct {
		Outputs []OutputInfo    `json:"outputs"`
		Probes  []TempProbeInfo `json:"probes"`
	}
	if err := d.call("Shelly.GetStatus", nil, &status); err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		Devices:    make(map[int]DeviceInfo, len(d.devices)),
		Outputs:    make(map[int]OutputInfo, len(status.Outputs)),
		TempProbes: make(map[int]TempProbeInfo, len(status.Probes)),
		Inputs:     map[int]InputInfo{},
		Meters:     map[int]MeterInfo{},
	}
	for id, info := range d.devices {
		snap.Devices[id] = info
	}
	for _, o := range status.Outputs {
		o.DeviceID = d.outputToDevice[o.ID]
		snap.Outputs[o.ID] = o
	}
	for _, p := range status.Probes {
		snap.TempProbes[p.ID] = p
	}
	return snap, nil
}

func (d *WSDriver) ChangeOutput(_ context.Context, outputID int, on bool) (bool, error) {
	var result struct {
		WasOn bool `json:"was_on"`
	}
	params := map[string]any{"id": outputID, "on": on}
	if err := d.call("Switch.Set", params, &result); err != nil {
		return false, err
	}
	return result.WasOn != on, nil
}

func (d *WSDriver) GetLocation(_ context.Context, deviceID int) (Location, error) {
	var loc Location
	err := d.call("Sys.GetLocation", map[string]any{"device_id": deviceID}, &loc)
	return loc, err
}
