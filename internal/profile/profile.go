// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

// Package profile writes pprof profiles around a run.
package profile

import (
	"fmt"
	"log"
	"os"
	"runtime"
	"runtime/pprof"
	"time"
)

// Config holds profiling configuration. Empty paths disable a profile.
type Config struct {
	CPUProfile   string
	MemProfile   string
	BlockProfile string
	MutexProfile string
}

// Enabled reports whether any profile is requested.
func (c Config) Enabled() bool {
	return c.CPUProfile != "" || c.MemProfile != "" || c.BlockProfile != "" || c.MutexProfile != ""
}

// Profiler wraps profiling functionality
type Profiler struct {
	config    Config
	log       *log.Logger
	cpuFile   *os.File
	startTime time.Time
}

// New creates a new profiler with the given configuration
func New(config Config, l *log.Logger) *Profiler {
	if l == nil {
		l = log.Default()
	}
	return &Profiler{config: config, log: l}
}

// Start begins profiling
func (p *Profiler) Start() error {
	p.startTime = time.Now()

	if p.config.BlockProfile != "" {
		runtime.SetBlockProfileRate(1)
	}
	if p.config.MutexProfile != "" {
		runtime.SetMutexProfileFraction(1)
	}

	if p.config.CPUProfile != "" {
		f, err := os.Create(p.config.CPUProfile)
		if err != nil {
			return fmt.Errorf("create CPU profile: %w", err)
		}
		p.cpuFile = f
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			p.cpuFile = nil
			return fmt.Errorf("start CPU profile: %w", err)
		}
	}

	return nil
}

// Stop ends profiling and writes all profile files
func (p *Profiler) Stop() error {
	p.log.Printf("Profiling duration: %v", time.Since(p.startTime))

	if p.cpuFile != nil {
		pprof.StopCPUProfile()
		p.cpuFile.Close()
		p.cpuFile = nil
		p.log.Printf("CPU profile written to: %s", p.config.CPUProfile)
	}

	if p.config.MemProfile != "" {
		runtime.GC() // Get up-to-date statistics
		if err := p.write(p.config.MemProfile, "heap"); err != nil {
			return err
		}
	}

	if p.config.BlockProfile != "" {
		err := p.write(p.config.BlockProfile, "block")
		runtime.SetBlockProfileRate(0)
		if err != nil {
			return err
		}
	}

	if p.config.MutexProfile != "" {
		err := p.write(p.config.MutexProfile, "mutex")
		runtime.SetMutexProfileFraction(0)
		if err != nil {
			return err
		}
	}

	return nil
}

func (p *Profiler) write(path, name string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s profile: %w", name, err)
	}
	defer f.Close()

	if err := pprof.Lookup(name).WriteTo(f, 0); err != nil {
		return fmt.Errorf("write %s profile: %w", name, err)
	}
	p.log.Printf("%s profile written to: %s", name, path)
	return nil
}

// LogMemStats logs the current memory statistics.
func LogMemStats(l *log.Logger) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	l.Printf("Memory: alloc %d MB, total %d MB, sys %d MB, %d GCs, %d heap objects",
		m.Alloc/1024/1024, m.TotalAlloc/1024/1024, m.Sys/1024/1024, m.NumGC, m.HeapObjects)
}
