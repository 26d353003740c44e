// Package profiling wraps runtime/pprof for the --cpu-profile and
// --mem-profile flags of an import run.
package profiling

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"

	"clip-arena/internal/logger"
)

type Config struct {
	CPUProfile    string
	MemoryProfile string
}

// Enabled reports whether any profile was requested
func (c Config) Enabled() bool {
	return c.CPUProfile != "" || c.MemoryProfile != ""
}

// Session is a running profiling session. The zero value is a no-op.
type Session struct {
	cfg     Config
	cpuFile *os.File
}

// Start begins CPU profiling if configured. The memory profile is written by Stop.
func Start(cfg Config) (*Session, error) {
	s := &Session{cfg: cfg}
	if cfg.CPUProfile == "" {
		return s, nil
	}

	f, err := os.Create(cfg.CPUProfile)
	if err != nil {
		return nil, fmt.Errorf("failed to create CPU profile file: %w", err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to start CPU profiling: %w", err)
	}
	s.cpuFile = f
	logger.Info("CPU profiling started", "path", cfg.CPUProfile)
	return s, nil
}

// Stop ends CPU profiling and writes the heap profile. It is safe to call
// more than once.
func (s *Session) Stop() error {
	if s == nil {
		return nil
	}

	var errs []error
	if s.cpuFile != nil {
		pprof.StopCPUProfile()
		if err := s.cpuFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close CPU profile: %w", err))
		}
		s.cpuFile = nil
		logger.Info("CPU profile written", "path", s.cfg.CPUProfile)
	}

	if s.cfg.MemoryProfile != "" {
		if err := WriteMemoryProfile(s.cfg.MemoryProfile); err != nil {
			errs = append(errs, err)
		} else {
			logger.Info("Memory profile written", "path", s.cfg.MemoryProfile, "mem", FormatMemStats(GetMemStats()))
		}
		s.cfg.MemoryProfile = ""
	}
	return errors.Join(errs...)
}

// WriteMemoryProfile writes a heap profile after forcing a GC
func WriteMemoryProfile(profilePath string) error {
	f, err := os.Create(profilePath)
	if err != nil {
		return fmt.Errorf("failed to create memory profile file: %w", err)
	}
	defer f.Close()

	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		return fmt.Errorf("failed to write memory profile: %w", err)
	}
	return nil
}

func GetMemStats() runtime.MemStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m
}

func FormatMemStats(m runtime.MemStats) string {
	return fmt.Sprintf("Alloc: %d KB, TotalAlloc: %d KB, Sys: %d KB, NumGC: %d",
		m.Alloc/1024, m.TotalAlloc/1024, m.Sys/1024, m.NumGC)
}
