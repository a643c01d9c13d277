// Package worker owns process-level lifecycle for a single recording
// session: starting it, waiting for a shutdown signal, and draining it
// with a bounded timeout, the same shutdown shape this module's original
// multi-job LiveKit worker used for its job drain.
package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattfogel/munin-recorder/internal/config"
	"github.com/mattfogel/munin-recorder/internal/logging"
	"github.com/mattfogel/munin-recorder/internal/session"
)

// shutdownGrace bounds how long Run waits for the Coordinator's Stop to
// return once a shutdown signal arrives, beyond the configured finalize
// timeout already built into Stop.
const shutdownGrace = 5 * time.Second

// Supervisor drives one Coordinator's full lifecycle for the life of the
// process: start, wait for an OS shutdown signal or external cancellation,
// then stop and persist the merged transcript.
type Supervisor struct {
	cfg            *config.Config
	coord          *session.Coordinator
	audioPath      string
	transcriptPath string

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSupervisor builds a Supervisor around an already-constructed
// Coordinator.
func NewSupervisor(cfg *config.Config, coord *session.Coordinator, audioPath, transcriptPath string) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		cfg:            cfg,
		coord:          coord,
		audioPath:      audioPath,
		transcriptPath: transcriptPath,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Shutdown requests an early stop, as if a signal had arrived. Safe to call
// from any goroutine.
func (s *Supervisor) Shutdown() {
	s.cancel()
}

type stopResult struct {
	transcript string
	err        error
}

// Run starts the session, blocks until a shutdown signal (or an external
// Shutdown call) arrives, then stops the session and writes the merged
// transcript to transcriptPath. It returns once the session has fully
// drained or the shutdown grace period has elapsed.
func (s *Supervisor) Run() error {
	if err := s.coord.Start(s.ctx, s.audioPath, s.transcriptPath); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	logging.Info(logging.CategoryApp, "session running, recording to %s", s.audioPath)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
		logging.Info(logging.CategoryApp, "received OS shutdown signal, stopping session")
	case <-s.ctx.Done():
		logging.Info(logging.CategoryApp, "received shutdown request, stopping session")
	}

	stopDone := make(chan stopResult, 1)
	go func() {
		transcript, err := s.coord.Stop(nil)
		stopDone <- stopResult{transcript: transcript, err: err}
	}()

	select {
	case res := <-stopDone:
		if res.err != nil {
			return fmt.Errorf("stop session: %w", res.err)
		}
		if err := os.WriteFile(s.transcriptPath, []byte(res.transcript), 0o644); err != nil {
			return fmt.Errorf("write transcript: %w", err)
		}
		logging.Info(logging.CategoryApp, "session stopped, transcript written to %s", s.transcriptPath)
		return nil
	case <-time.After(s.cfg.FinalizeTimeout() + shutdownGrace):
		logging.Warning(logging.CategoryApp, "session stop exceeded grace period, exiting without transcript")
		return fmt.Errorf("session stop timed out")
	}
}
