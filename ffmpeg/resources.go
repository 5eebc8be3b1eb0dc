package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

var ErrInsufficientResources = errors.New("insufficient system resources")

// Thresholds below which a new job is held back. Zero disables a check.
type Thresholds struct {
	IdleCPU  float64 // percent that must stay idle
	FreeMem  int64
	FreeDisk int64
	DiskPath string
	Wait     time.Duration // how long Wait keeps retrying
}

// ResourceChecker gates job starts on CPU, memory and disk headroom.
type ResourceChecker struct {
	th         Thresholds
	cpuPercent func(ctx context.Context) (float64, error)
	availMem   func(ctx context.Context) (uint64, error)
	freeDisk   func(ctx context.Context, path string) (uint64, error)
	newBackOff func() backoff.BackOff
}

func NewResourceChecker(th Thresholds) *ResourceChecker {
	if th.DiskPath == "" {
		th.DiskPath = "."
	}
	return &ResourceChecker{
		th: th,
		cpuPercent: func(ctx context.Context) (float64, error) {
			p, err := cpu.PercentWithContext(ctx, time.Second, false)
			if err != nil || len(p) == 0 {
				return 0, err
			}
			return p[0], nil
		},
		availMem: func(ctx context.Context) (uint64, error) {
			vm, err := mem.VirtualMemoryWithContext(ctx)
			if err != nil {
				return 0, err
			}
			return vm.Available, nil
		},
		freeDisk: func(ctx context.Context, path string) (uint64, error) {
			d, err := disk.UsageWithContext(ctx, path)
			if err != nil {
				return 0, err
			}
			return d.Free, nil
		},
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 2 * time.Second
			bo.MaxInterval = 15 * time.Second
			return bo
		},
	}
}

// Check reports ErrInsufficientResources when any threshold is crossed.
// Probe errors are logged and ignored.
func (c *ResourceChecker) Check(ctx context.Context) error {
	logger := zerolog.Ctx(ctx)

	if c.th.IdleCPU > 0 {
		p, err := c.cpuPercent(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("could not get CPU usage")
		} else if p > 100-c.th.IdleCPU {
			return fmt.Errorf("%w: not enough idle CPU, usage %.2f%%, idle threshold %.2f%%", ErrInsufficientResources, p, c.th.IdleCPU)
		}
	}

	if c.th.FreeMem > 0 {
		avail, err := c.availMem(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("could not get memory usage")
		} else if avail < uint64(c.th.FreeMem) {
			return fmt.Errorf("%w: not enough free memory, available %d, required %d", ErrInsufficientResources, avail, c.th.FreeMem)
		}
	}

	if c.th.FreeDisk > 0 {
		free, err := c.freeDisk(ctx, c.th.DiskPath)
		if err != nil {
			logger.Warn().Err(err).Str("path", c.th.DiskPath).Msg("could not get disk usage")
		} else if free < uint64(c.th.FreeDisk) {
			return fmt.Errorf("%w: not enough free disk space, available %d, required %d", ErrInsufficientResources, free, c.th.FreeDisk)
		}
	}
	return nil
}

// Wait retries Check with backoff until resources free up or the wait window
// closes.
func (c *ResourceChecker) Wait(ctx context.Context) error {
	operation := func() (struct{}, error) {
		err := c.Check(ctx)
		if err != nil {
			zerolog.Ctx(ctx).Info().Err(err).Msg("waiting for system resources")
		}
		return struct{}{}, err
	}
	opts := []backoff.RetryOption{backoff.WithBackOff(c.newBackOff())}
	if c.th.Wait > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(c.th.Wait))
	} else {
		opts = append(opts, backoff.WithMaxTries(1))
	}
	_, err := backoff.Retry(ctx, operation, opts...)
	return err
}
