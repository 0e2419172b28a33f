package device

import "context"

// Client is the wire boundary to real relay hardware. SPEC_FULL §1/§6 treats
// the concrete transport as an external concern; this interface is the only
// thing the rest of the core depends on. See modbusdriver.go and wsdriver.go
// for two reference/test drivers, and Simulator for an in-memory one used by
// tests and dry-run mode.
type Client interface {
	// Refresh polls every known device and returns a fresh Snapshot.
	// Per-device errors are tolerated for devices marked ExpectOffline.
	Refresh(ctx context.Context) (Snapshot, error)
	// ChangeOutput sets an output's relay state. changed reports whether the
	// physical state actually differed from the requested one beforehand.
	ChangeOutput(ctx context.Context, outputID int, on bool) (changed bool, err error)
	// GetLocation returns the device's configured timezone/lat/lon. The
	// GetLocation sequence step calls it and discards the result; the
	// scheduler resolves dawn/dusk from the configured Location only.
	GetLocation(ctx context.Context, deviceID int) (Location, error)
}
