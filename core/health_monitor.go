package core

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

// HealthCheck 单项健康检查
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency int64  `json:"latency_ms"`
}

type SystemInfo struct {
	OS           string `json:"os"`
	Arch         string `json:"arch"`
	GoVersion    string `json:"go_version"`
	NumCPU       int    `json:"num_cpu"`
	NumGoroutine int    `json:"num_goroutine"`
}

type HealthReport struct {
	Status    string                 `json:"status"`
	Checks    map[string]HealthCheck `json:"checks,omitempty"`
	System    SystemInfo             `json:"system"`
	Timestamp time.Time              `json:"timestamp"`
}

const (
	HealthOK      = "ok"
	HealthWarning = "warning"
	HealthError   = "error"
)

// HealthProbe performs one check.
type HealthProbe func(ctx context.Context) HealthCheck

// CheckBinary verifies an external tool such as ffmpeg runs.
func CheckBinary(bin string) HealthProbe {
	return func(ctx context.Context) HealthCheck {
		start := time.Now()
		output, err := exec.CommandContext(ctx, bin, "-version").Output()
		latency := time.Since(start).Milliseconds()
		if err != nil {
			return HealthCheck{Status: HealthError, Message: fmt.Sprintf("%s not available: %v", bin, err), Latency: latency}
		}
		versionLine := strings.TrimSpace(strings.SplitN(string(output), "\n", 2)[0])
		return HealthCheck{Status: HealthOK, Message: versionLine, Latency: latency}
	}
}

// CheckWritableDir verifies that dir exists and accepts writes.
func CheckWritableDir(dir string) HealthProbe {
	return func(ctx context.Context) HealthCheck {
		start := time.Now()
		testFile := filepath.Join(dir, ".health_check")
		err := os.WriteFile(testFile, []byte("health check"), 0644)
		latency := time.Since(start).Milliseconds()
		if err != nil {
			return HealthCheck{Status: HealthError, Message: fmt.Sprintf("directory not writable: %v", err), Latency: latency}
		}
		os.Remove(testFile)
		return HealthCheck{Status: HealthOK, Message: dir, Latency: latency}
	}
}

// CheckFunc adapts a plain error-returning ping.
func CheckFunc(fn func(ctx context.Context) error) HealthProbe {
	return func(ctx context.Context) HealthCheck {
		start := time.Now()
		err := fn(ctx)
		latency := time.Since(start).Milliseconds()
		if err != nil {
			return HealthCheck{Status: HealthError, Message: err.Error(), Latency: latency}
		}
		return HealthCheck{Status: HealthOK, Latency: latency}
	}
}

// RunHealthChecks runs every probe concurrently. The overall status is the
// worst individual status.
func RunHealthChecks(ctx context.Context, probes map[string]HealthProbe) HealthReport {
	report := HealthReport{
		Status: HealthOK,
		Checks: make(map[string]HealthCheck, len(probes)),
		System: SystemInfo{
			OS:           runtime.GOOS,
			Arch:         runtime.GOARCH,
			GoVersion:    runtime.Version(),
			NumCPU:       runtime.NumCPU(),
			NumGoroutine: runtime.NumGoroutine(),
		},
		Timestamp: time.Now().UTC(),
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, probe := range probes {
		wg.Add(1)
		go func(name string, probe HealthProbe) {
			defer wg.Done()
			check := probe(ctx)
			mu.Lock()
			report.Checks[name] = check
			mu.Unlock()
		}(name, probe)
	}
	wg.Wait()

	for _, check := range report.Checks {
		switch {
		case check.Status == HealthError:
			report.Status = HealthError
		case check.Status == HealthWarning && report.Status == HealthOK:
			report.Status = HealthWarning
		}
	}
	return report
}
