// SPDX-License-Identifier: Apache-2.0

package profiling

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
)

const (
	cpuProfileFile    = "cpu.prof"
	memoryProfileFile = "mem.prof"
)

// Profile records a cpu profile from Start until Stop, and an allocations
// profile when stopped.
type Profile struct {
	dir     string
	cpuFile *os.File
}

// Start begins cpu profiling, writing the profiles to dir (the working
// directory if empty).
func Start(dir string) (*Profile, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating profile directory: %w", err)
		}
	}
	cpuFile, err := os.Create(filepath.Join(dir, cpuProfileFile))
	if err != nil {
		return nil, fmt.Errorf("could not create CPU profile file: %w", err)
	}
	if err := pprof.StartCPUProfile(cpuFile); err != nil {
		cpuFile.Close()
		return nil, fmt.Errorf("could not start CPU profile: %w", err)
	}
	return &Profile{dir: dir, cpuFile: cpuFile}, nil
}

func (p *Profile) Stop() error {
	pprof.StopCPUProfile()
	return errors.Join(p.cpuFile.Close(), p.writeMemoryProfile())
}

func (p *Profile) writeMemoryProfile() error {
	memFile, err := os.Create(filepath.Join(p.dir, memoryProfileFile))
	if err != nil {
		return fmt.Errorf("could not create memory profile file: %w", err)
	}
	defer memFile.Close()

	// up to date allocation statistics
	runtime.GC()
	if err := pprof.Lookup("allocs").WriteTo(memFile, 0); err != nil {
		return fmt.Errorf("could not write memory profile: %w", err)
	}
	return nil
}
