// Package supervisor runs one Folder task per configured mailbox,
// reconnecting with backoff on endpoint failure, and optionally exposes
// Prometheus counters over HTTP. Modeled on launcher/main.go's habit of
// giving every daemon its own goroutine and collecting errors once they
// all return.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kivikakk/recogedor/lalog"
)

// Supervisor owns every folder task for one recogedor instance and the
// shared metrics registry they report to.
type Supervisor struct {
	Folders []*Folder
	Metrics *Metrics
	Logger  lalog.Logger

	// MetricsListenAddress, if non-empty, is where the Prometheus registry
	// is exposed over HTTP for the lifetime of Run.
	MetricsListenAddress string
}

// Run starts every folder's Run loop and the metrics listener (if
// configured) concurrently, and blocks until ctx is canceled or every
// folder has stopped. It returns a joined error of every folder that
// exited with something other than ctx's own cancellation.
func (s *Supervisor) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []error

	record := func(err error) {
		if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	if s.MetricsListenAddress != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Metrics.Serve(ctx, s.MetricsListenAddress, s.Logger); err != nil {
				record(fmt.Errorf("metrics listener: %w", err))
			}
		}()
	}

	for _, folder := range s.Folders {
		wg.Add(1)
		go func(f *Folder) {
			defer wg.Done()
			if err := f.Run(ctx); err != nil {
				record(fmt.Errorf("folder %s: %w", f.Name, err))
			}
		}(folder)
	}

	wg.Wait()
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
