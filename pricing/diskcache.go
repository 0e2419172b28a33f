package pricing

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/devskill-org/powerctl/runplan"
)

// DiskCache persists the last good price curve per channel to a JSON file,
// used for Offline mode and as a fallback when the live feed errors out.
type DiskCache struct {
	dir string
}

// NewDiskCache ensures dir exists and returns a Cache backed by it.
func NewDiskCache(dir string) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("pricing: create cache dir %s: %w", dir, err)
	}
	return &DiskCache{dir: dir}, nil
}

func (c *DiskCache) path(channel string) string {
	return filepath.Join(c.dir, channel+".json")
}

func (c *DiskCache) Save(channel string, slots []runplan.PriceSlot) error {
	data, err := json.Marshal(slots)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path(channel), data, 0o644)
}

func (c *DiskCache) Load(channel string) ([]runplan.PriceSlot, error) {
	data, err := os.ReadFile(c.path(channel))
	if err != nil {
		return nil, err
	}
	var slots []runplan.PriceSlot
	if err := json.Unmarshal(data, &slots); err != nil {
		return nil, err
	}
	return slots, nil
}
