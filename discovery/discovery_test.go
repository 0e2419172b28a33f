package discovery

import "testing"

func TestNewScanner_DefaultsDomainToLocal(t *testing.T) {
	s := NewScanner("_powerctl-relay._tcp", "", nil)
	if s.domain != "local." {
		t.Fatalf("expected default domain \"local.\", got %q", s.domain)
	}
}

func TestDevices_EmptyScannerReturnsEmptySlice(t *testing.T) {
	s := NewScanner("_powerctl-relay._tcp", "local.", nil)
	devices := s.Devices()
	if len(devices) != 0 {
		t.Fatalf("expected no devices before any scan, got %d", len(devices))
	}
}

func TestDevices_ReflectsMergedEntries(t *testing.T) {
	s := NewScanner("_powerctl-relay._tcp", "local.", nil)
	s.found["relay1._powerctl-relay._tcp"] = Found{InstanceName: "relay1", AddrV4: "192.168.1.50", Port: 80}
	s.found["relay1._powerctl-relay._tcp"] = Found{InstanceName: "relay1", AddrV4: "192.168.1.50", Port: 80}

	devices := s.Devices()
	if len(devices) != 1 {
		t.Fatalf("expected exactly one merged device, got %d", len(devices))
	}
	if devices[0].InstanceName != "relay1" {
		t.Fatalf("unexpected instance name: %s", devices[0].InstanceName)
	}
}
