package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/mattfogel/munin-recorder/internal/config"
	"github.com/mattfogel/munin-recorder/internal/logging"
	"github.com/mattfogel/munin-recorder/internal/session"
	"github.com/mattfogel/munin-recorder/internal/transcribe"
	"github.com/mattfogel/munin-recorder/internal/worker"
)

func main() {
	logging.Init()
	defer logging.Shutdown(context.Background())

	cfg, err := config.Load()
	if err != nil {
		logging.Fail(logging.CategoryApp, "failed to load configuration: %v", err)
		os.Exit(1)
	}

	logging.Info(logging.CategoryApp, "starting munin-recorder version=%s", "dev")

	micCapture, sysCapture, err := newCaptureSources()
	if err != nil {
		logging.Fail(logging.CategoryApp, "failed to acquire capture sources: %v", err)
		os.Exit(1)
	}
	micRec, sysRec, err := newRecognizers()
	if err != nil {
		logging.Fail(logging.CategoryApp, "failed to acquire recognizer engines: %v", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		logging.Fail(logging.CategoryApp, "failed to create output dir: %v", err)
		os.Exit(1)
	}

	coord := session.New(*cfg, micCapture, sysCapture, micRec, sysRec)

	audioPath := filepath.Join(cfg.OutputDir, "audio.ogg")
	transcriptPath := filepath.Join(cfg.OutputDir, "transcript.md")

	sup := worker.NewSupervisor(cfg, coord, audioPath, transcriptPath)
	if err := sup.Run(); err != nil {
		logging.Fail(logging.CategoryApp, "supervisor exited with error: %v", err)
		os.Exit(1)
	}

	logging.Info(logging.CategoryApp, "munin-recorder shutdown complete")
}

// newCaptureSources and newRecognizers are the seams where this binary
// wires in the platform-specific OS audio capture and the speech
// recognition engine. Both are external collaborators (spec section 1,
// "Out of scope") that this module deliberately does not implement or
// vendor a fake of; a deployment links a build with concrete
// implementations registered here.
func newCaptureSources() (mic, sys session.CaptureSource, err error) {
	return nil, nil, errors.New("no capture source backend registered in this build")
}

func newRecognizers() (mic, sys transcribe.Recognizer, err error) {
	return nil, nil, errors.New("no recognizer backend registered in this build")
}
