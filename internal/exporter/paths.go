package exporter

import (
	"fmt"
	"os"
	"path/filepath"
)

// PrepareOutputDir creates dir if needed and confirms it accepts new files.
func PrepareOutputDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	probe, err := os.CreateTemp(dir, ".write_test")
	if err != nil {
		return fmt.Errorf("output directory %s is not writable: %w", dir, err)
	}
	name := probe.Name()
	probe.Close()
	os.Remove(filepath.Clean(name))
	return nil
}
