// Package supervisor runs one harvester engine under database control: the
// system_control row decides whether the engine should be running, and a
// watchdog restarts a Reddit engine that stopped producing logs.
package supervisor

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/onnwee/social-harvest/backend/internal/config"
	"github.com/onnwee/social-harvest/backend/internal/errorreporting"
	"github.com/onnwee/social-harvest/backend/internal/logger"
	"github.com/onnwee/social-harvest/backend/internal/metrics"
	"github.com/onnwee/social-harvest/backend/internal/store"
	"github.com/onnwee/social-harvest/backend/internal/utils"
)

// restartPause is a var so tests can shrink the stop-to-start gap.
var restartPause = 5 * time.Second

// ControlStore is the control-plane surface.
type ControlStore interface {
	GetControl(ctx context.Context, scriptName string) (store.ControlRow, error)
	UpdateHeartbeat(ctx context.Context, scriptName, status string, pid int) error
	MarkStarted(ctx context.Context, scriptName string, pid int) error
	MarkStopped(ctx context.Context, scriptName string) error
	SetControlError(ctx context.Context, scriptName, lastError string) error
	LatestLogTime(ctx context.Context, source string) (time.Time, error)
}

// Engine is a long-running harvester loop. Run blocks until its context is
// cancelled or a fatal error occurs.
type Engine interface {
	Run(ctx context.Context) error
}

// Options configure one supervised engine.
type Options struct {
	ScriptName string
	Source     string
	// Watchdog enables the no-log hang detector (Reddit only).
	Watchdog bool
}

// Supervisor polls the control row and starts/stops the engine to match.
type Supervisor struct {
	st   ControlStore
	eng  Engine
	opts Options
	log  *logger.Harvester
	cfg  *config.Config

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(st ControlStore, eng Engine, opts Options, log *logger.Harvester) *Supervisor {
	return &Supervisor{st: st, eng: eng, opts: opts, log: log, cfg: config.Load()}
}

// Run is the control loop. It returns after the context is cancelled and the
// engine has been stopped and marked.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.SupervisorCheckInterval)
	defer ticker.Stop()

	s.check(ctx)
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case <-ticker.C:
			s.check(ctx)
		}
	}
}

func (s *Supervisor) check(ctx context.Context) {
	row, err := s.st.GetControl(ctx, s.opts.ScriptName)
	enabled := false
	if err != nil {
		// Fail closed: an unreadable control plane means "do not run".
		s.log.Warn("control read failed", map[string]any{"error": err.Error()})
	} else {
		enabled = row.Enabled
	}

	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	switch {
	case enabled && !running:
		s.start(ctx)
	case !enabled && running:
		s.stop()
	case enabled && running && s.opts.Watchdog:
		s.checkWatchdog(ctx)
	}

	status := "stopped"
	s.mu.Lock()
	if s.running {
		status = "running"
	}
	s.mu.Unlock()
	if err := s.st.UpdateHeartbeat(ctx, s.opts.ScriptName, status, os.Getpid()); err != nil {
		s.log.Warn("heartbeat failed", map[string]any{"error": err.Error()})
	}
}

// checkWatchdog force-restarts the engine when the freshest log row for this
// source is older than the hang threshold.
func (s *Supervisor) checkWatchdog(ctx context.Context) {
	latest, err := s.st.LatestLogTime(ctx, s.opts.Source)
	if err != nil || latest.IsZero() {
		return
	}
	silence := time.Since(latest)
	if silence < s.cfg.SupervisorHangThreshold {
		return
	}
	s.log.Error("engine appears hung, restarting", map[string]any{
		"silence_seconds": int(silence.Seconds()),
	})
	metrics.SupervisorRestarts.WithLabelValues("hang").Inc()
	s.stop()
	if !utils.SleepCtx(ctx.Done(), restartPause) {
		return
	}
	s.start(ctx)
}

func (s *Supervisor) start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	engCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.running = true
	s.cancel = cancel
	s.done = done

	if err := s.st.MarkStarted(ctx, s.opts.ScriptName, os.Getpid()); err != nil {
		s.log.Warn("mark started failed", map[string]any{"error": err.Error()})
	}
	s.log.Info("engine starting", map[string]any{"script": s.opts.ScriptName})

	go func() {
		defer close(done)
		err := s.eng.Run(engCtx)
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		if err != nil && engCtx.Err() == nil {
			// Fatal engine failure, not a cooperative stop.
			s.log.Critical("engine exited with error", map[string]any{"error": err.Error()})
			errorreporting.CaptureError(err, s.opts.ScriptName, nil)
			bg, cancelBg := context.WithTimeout(context.Background(), 10*time.Second)
			if serr := s.st.SetControlError(bg, s.opts.ScriptName, err.Error()); serr != nil {
				s.log.Error("set control error failed", map[string]any{"error": serr.Error()})
			}
			cancelBg()
			metrics.SupervisorRestarts.WithLabelValues("crash").Inc()
		}
	}()
}

// stop issues a cooperative cancel and waits for the engine goroutine.
func (s *Supervisor) stop() {
	s.mu.Lock()
	if !s.running && s.done == nil {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.log.Info("engine stopped", map[string]any{"script": s.opts.ScriptName})
}

// shutdown stops the engine and writes the terminal control row.
func (s *Supervisor) shutdown() {
	s.stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.st.MarkStopped(ctx, s.opts.ScriptName); err != nil {
		s.log.Error("mark stopped failed", map[string]any{"error": err.Error()})
	}
}
