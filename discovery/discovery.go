// Package discovery finds relay devices on the LAN via mDNS, falling back to
// the static DeviceOutput configuration when nothing responds. It mirrors
// the add-only reconciliation pattern of the teacher's discoverMiners
// (scheduler/miners.go) with grandcat/zeroconf in place of a raw network
// scan. See SPEC_FULL §4.10.
package discovery

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

// Found is one discovered relay device.
type Found struct {
	InstanceName string
	Host         string
	Port         int
	AddrV4       string
}

// Scanner browses _shelly._tcp (or any configured service) on the LAN and
// keeps an add-only set of everything seen, matching discoverMiners's
// LoadOrStore pattern.
type Scanner struct {
	service string
	domain  string
	logger  *log.Logger

	mu    sync.Mutex
	found map[string]Found
}

// NewScanner builds a Scanner for serviceType (e.g. "_shelly._tcp") in the
// given domain (usually "local.").
func NewScanner(serviceType, domain string, logger *log.Logger) *Scanner {
	if logger == nil {
		logger = log.Default()
	}
	if domain == "" {
		domain = "local."
	}
	return &Scanner{service: serviceType, domain: domain, logger: logger, found: map[string]Found{}}
}

// Scan runs one mDNS browse pass of the given duration and merges any new
// entries into the scanner's set. It never removes previously found
// devices: a relay that's briefly unreachable is not forgotten.
func (s *Scanner) Scan(ctx context.Context, timeout time.Duration) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("discovery: create resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry, 16)
	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan struct{})
	newCount := 0
	go func() {
		defer close(done)
		for entry := range entries {
			key := fmt.Sprintf("%s.%s", entry.Instance, entry.Service)
			f := Found{InstanceName: entry.Instance, Host: entry.HostName, Port: entry.Port}
			if len(entry.AddrIPv4) > 0 {
				f.AddrV4 = entry.AddrIPv4[0].String()
			}
			s.mu.Lock()
			if _, exists := s.found[key]; !exists {
				s.found[key] = f
				newCount++
				s.logger.Printf("discovery: new relay found: %s (%s:%d)", f.InstanceName, f.AddrV4, f.Port)
			}
			s.mu.Unlock()
		}
	}()

	if err := resolver.Browse(scanCtx, s.service, s.domain, entries); err != nil {
		return fmt.Errorf("discovery: browse %s: %w", s.service, err)
	}
	<-scanCtx.Done()
	<-done

	s.mu.Lock()
	total := len(s.found)
	s.mu.Unlock()
	s.logger.Printf("discovery: scan complete, %d total relays known (%d new)", total, newCount)
	return nil
}

// Devices returns every relay found so far.
func (s *Scanner) Devices() []Found {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Found, 0, len(s.found))
	for _, f := range s.found {
		out = append(out, f)
	}
	return out
}
