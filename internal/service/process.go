package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/runbar/runbar/internal/event"
	"github.com/runbar/runbar/internal/model"
)

const (
	defaultSettleWindow = 500 * time.Millisecond
	dependencyWait      = 30 * time.Second
	outputDrain         = time.Second
)

// ServiceSource supplies service definitions and settings on demand
type ServiceSource interface {
	Service(id string) (model.Service, error)
	Resolve(ref string) (model.Service, error)
	Settings() model.Settings
}

// RestartAuthority decides what happens after a service dies unexpectedly
type RestartAuthority interface {
	HandleAbnormalExit(svc model.Service, code int)
	Reset(serviceID string)
}

type restartReporter interface {
	RestartState(serviceID string) (attempts int, last *time.Time, disabled bool)
}

// Options configures a Supervisor
type Options struct {
	Source    ServiceSource
	Bus       *event.Bus
	Log       *zap.Logger
	Inspector PortInspector // nil disables port checks
	Prompter  Prompter      // nil ignores every conflict
	// SettleWindow is how long a fresh process must survive before it is
	// reported running.
	SettleWindow time.Duration
}

// processInfo is the runtime record of one service. Fields other than logs
// are guarded by Supervisor.mu.
type processInfo struct {
	svc       model.Service
	status    model.Status
	pid       int
	port      int // adopted listener when no pid is known
	startTime time.Time
	exitCode  *int
	err       string
	adopted   bool
	retry     bool // second attempt after killing a port occupant
	reported  bool // abnormal exit already handed to the restart authority

	cmd    *exec.Cmd
	done   chan struct{} // closed when a spawned process has been reaped
	cancel context.CancelFunc
	logs   *logBuffer

	conflictOnce sync.Once
}

// Supervisor owns every process Runbar starts and the derived status of
// each service.
type Supervisor struct {
	mu    sync.Mutex
	procs map[string]*processInfo

	source    ServiceSource
	bus       *event.Bus
	log       *zap.Logger
	inspector PortInspector
	resolver  *Resolver
	settle    time.Duration
	restarts  RestartAuthority

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSupervisor creates a supervisor.
func NewSupervisor(opts Options) *Supervisor {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	settle := opts.SettleWindow
	if settle <= 0 {
		settle = defaultSettleWindow
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		procs:     make(map[string]*processInfo),
		source:    opts.Source,
		bus:       opts.Bus,
		log:       log,
		inspector: opts.Inspector,
		resolver:  NewResolver(opts.Prompter, opts.Inspector, opts.Bus, log),
		settle:    settle,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SetRestartAuthority installs the component that handles abnormal exits.
func (s *Supervisor) SetRestartAuthority(a RestartAuthority) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restarts = a
}

func (s *Supervisor) authority() RestartAuthority {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

// Close cancels background conflict flows. Processes are left alone; use
// StopAllServices for that.
func (s *Supervisor) Close() {
	s.cancel()
}

func (s *Supervisor) recoverOp(op, serviceID string, ok *bool) {
	if r := recover(); r != nil {
		s.log.Error("supervisor operation panicked",
			zap.String("op", op),
			zap.String("service", serviceID),
			zap.Any("panic", r),
			zap.Stack("stack"))
		if ok != nil {
			*ok = false
		}
	}
}

// StartService starts svc and, first, any dependency not yet running. It
// returns false when the service is already live, has no command, a
// dependency fails, a port conflict is not resolved in its favour, or the
// process dies straight away. A manual start clears auto-restart state.
func (s *Supervisor) StartService(ctx context.Context, svc model.Service) (ok bool) {
	defer s.recoverOp("start", svc.ID, &ok)
	if a := s.authority(); a != nil {
		a.Reset(svc.ID)
	}
	return s.start(ctx, svc, make(map[string]bool), false)
}

// startAuto is the restart authority's entry point. Restart state is kept.
func (s *Supervisor) startAuto(ctx context.Context, svc model.Service) (ok bool) {
	defer s.recoverOp("auto_start", svc.ID, &ok)
	return s.start(ctx, svc, make(map[string]bool), false)
}

func (s *Supervisor) start(ctx context.Context, svc model.Service, visiting map[string]bool, retry bool) bool {
	command := svc.TrimmedCommand()
	if command == "" {
		s.log.Warn("refusing to start service without a command", zap.String("service", svc.Name))
		return false
	}
	if visiting[svc.ID] {
		s.log.Error("dependency cycle detected", zap.String("service", svc.Name))
		return false
	}
	visiting[svc.ID] = true
	defer delete(visiting, svc.ID)

	settings := s.source.Settings()
	p, reserved := s.reserve(svc, settings.LogStorageLimit, retry)
	if !reserved {
		s.log.Debug("service already running", zap.String("service", svc.Name), zap.String("path", svc.Path))
		return false
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	p.cancel = cancel
	s.mu.Unlock()
	s.publishStatus(p, model.StatusStarting, "")

	if !s.startDependencies(ctx, svc, visiting) {
		s.fail(p, "a dependency failed to start")
		startsTotal.WithLabelValues(svc.Name, "dependency_failed").Inc()
		return false
	}

	dotenv, err := loadEnvFile(svc.Path)
	if err != nil {
		s.log.Warn("failed to load .env file", zap.String("service", svc.Name), zap.Error(err))
	}

	if !s.clearPorts(ctx, p, DetectPorts(command, portEnv(dotenv, svc.Env)), retry, settings.GracefulTimeout()) {
		return s.isRunning(p)
	}

	if ctx.Err() != nil {
		s.fail(p, "start cancelled")
		return false
	}

	if err := s.spawn(p, command, buildEnv(svc, dotenv), settings.GracefulTimeout()); err != nil {
		s.log.Error("failed to spawn service", zap.String("service", svc.Name), zap.Error(err))
		s.fail(p, err.Error())
		startsTotal.WithLabelValues(svc.Name, "spawn_error").Inc()
		return false
	}

	return s.settleStart(ctx, p)
}

// reserve claims the service slot. No other live entry may share the id or
// the path.
func (s *Supervisor) reserve(svc model.Service, logLimit int, retry bool) (*processInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, existing := range s.procs {
		if !existing.status.Live() {
			continue
		}
		if id == svc.ID || samePath(existing.svc.Path, svc.Path) {
			return nil, false
		}
	}

	p := &processInfo{
		svc:    svc,
		status: model.StatusStarting,
		retry:  retry,
		done:   make(chan struct{}),
		logs:   newLogBuffer(logLimit),
	}
	s.procs[svc.ID] = p
	return p, true
}

func samePath(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return filepath.Clean(a) == filepath.Clean(b)
}

// startDependencies brings each dependency to running, in declared order.
func (s *Supervisor) startDependencies(ctx context.Context, svc model.Service, visiting map[string]bool) bool {
	for _, ref := range svc.Dependencies {
		dep, err := s.source.Resolve(ref)
		if err != nil {
			s.log.Error("unknown dependency", zap.String("service", svc.Name), zap.String("dependency", ref), zap.Error(err))
			return false
		}
		if visiting[dep.ID] {
			s.log.Error("dependency cycle detected", zap.String("service", svc.Name), zap.String("dependency", dep.Name))
			return false
		}
		if s.Status(dep.ID) == model.StatusRunning {
			continue
		}

		s.log.Info("starting dependency", zap.String("service", svc.Name), zap.String("dependency", dep.Name))
		s.start(ctx, dep, visiting, false)
		if !s.awaitRunning(ctx, dep.ID) {
			s.log.Error("dependency failed to start", zap.String("service", svc.Name), zap.String("dependency", dep.Name))
			return false
		}

		if delay := dep.Delay(); delay > 0 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(delay):
			}
		}
	}
	return true
}

// awaitRunning waits while a service is starting, for instance because
// another caller is bringing it up, and reports whether it ended up running.
func (s *Supervisor) awaitRunning(ctx context.Context, id string) bool {
	deadline := time.After(dependencyWait)
	for {
		switch s.Status(id) {
		case model.StatusRunning:
			return true
		case model.StatusStarting:
		default:
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline:
			return false
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func portEnv(dotenv []string, env map[string]string) map[string]string {
	out := make(map[string]string, 1)
	if v, ok := lookupEnv(dotenv, "PORT"); ok {
		out["PORT"] = v
	}
	if v, ok := env["PORT"]; ok {
		out["PORT"] = v
	}
	return out
}

// clearPorts resolves conflicts on the declared ports. It returns true when
// every port is free and the spawn may go ahead. On false the entry has
// either been adopted or failed.
func (s *Supervisor) clearPorts(ctx context.Context, p *processInfo, ports []int, retry bool, timeout time.Duration) bool {
	if s.inspector == nil {
		return true
	}
	for _, port := range ports {
		if !s.inspector.InUse(port) {
			continue
		}
		if retry {
			s.fail(p, fmt.Sprintf("port %d is still in use", port))
			startsTotal.WithLabelValues(p.svc.Name, "conflict").Inc()
			return false
		}

		c := Conflict{Service: p.svc, Port: port, Occupant: s.inspector.Occupant(port)}
		switch s.resolver.Decide(ctx, c) {
		case DecisionAdopt:
			s.adopt(p, c)
			return false
		case DecisionKill:
			if !s.resolver.KillOccupant(ctx, c, timeout) {
				s.fail(p, fmt.Sprintf("could not free port %d", port))
				startsTotal.WithLabelValues(p.svc.Name, "conflict").Inc()
				return false
			}
			s.mu.Lock()
			p.retry = true
			s.mu.Unlock()
			return s.clearPorts(ctx, p, ports, true, timeout)
		default:
			s.fail(p, fmt.Sprintf("port %d is already in use", port))
			startsTotal.WithLabelValues(p.svc.Name, "conflict").Inc()
			return false
		}
	}
	return true
}

func (s *Supervisor) spawn(p *processInfo, command string, env []string, timeout time.Duration) error {
	cmd := shellCommand(command)
	cmd.Dir = p.svc.Path
	cmd.Env = env
	setSysProcAttr(cmd)

	// Pipes are handed to the child as files, so Wait returns when the shell
	// exits even if a background child still holds the write ends.
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, stderrW, err := os.Pipe()
	if err != nil {
		stdout.Close()
		stdoutW.Close()
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	err = cmd.Start()
	stdoutW.Close()
	stderrW.Close()
	if err != nil {
		stdout.Close()
		stderr.Close()
		return fmt.Errorf("failed to start process: %w", err)
	}

	s.mu.Lock()
	p.cmd = cmd
	p.pid = cmd.Process.Pid
	p.startTime = time.Now()
	orphaned := s.procs[p.svc.ID] != p
	s.mu.Unlock()

	readersDone := make(chan struct{})
	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		s.captureOutput(p, stdout, "")
	}()
	go func() {
		defer readers.Done()
		s.captureOutput(p, stderr, "[stderr] ")
	}()
	go func() {
		readers.Wait()
		close(readersDone)
	}()

	// Monitor process
	go func() {
		code := exitCode(cmd.Wait())
		// Let buffered output land before the exit line. Output of
		// children that outlive the shell is cut off after the drain.
		select {
		case <-readersDone:
		case <-time.After(outputDrain):
		}
		s.handleExit(p, code)
		stdout.Close()
		stderr.Close()
	}()

	if orphaned {
		// Stopped while the spawn was in flight.
		go s.terminate(p, timeout)
	}
	return nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// captureOutput reads lines from a pipe into the log buffer
func (s *Supervisor) captureOutput(p *processInfo, reader io.Reader, prefix string) {
	scanner := bufio.NewScanner(reader)
	// Increase buffer size for long lines
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		text := scanner.Text()
		line := prefix + text
		s.appendLog(p, line)

		if port, ok := PortConflictInLine(text); ok {
			p.conflictOnce.Do(func() {
				go s.handleLateConflict(p, port, line)
			})
		}
	}
}

func (s *Supervisor) appendLog(p *processInfo, line string) {
	p.logs.append(line)
	s.bus.Publish(event.Event{Type: event.LogLine, ServiceID: p.svc.ID, Line: line})
}

// settleStart waits out the settle window and reports the start result.
func (s *Supervisor) settleStart(ctx context.Context, p *processInfo) bool {
	select {
	case <-p.done:
	case <-ctx.Done():
	case <-time.After(s.settle):
	}

	s.mu.Lock()
	tracked := s.procs[p.svc.ID] == p
	exited := isClosed(p.done)
	if tracked && !exited && p.status == model.StatusStarting {
		p.status = model.StatusRunning
	}
	status := p.status
	pid := p.pid
	code := p.exitCode
	s.mu.Unlock()

	switch {
	case !tracked:
		startsTotal.WithLabelValues(p.svc.Name, "stopped").Inc()
		return false
	case exited:
		if code != nil && *code == 0 {
			startsTotal.WithLabelValues(p.svc.Name, "completed").Inc()
			return true
		}
		startsTotal.WithLabelValues(p.svc.Name, "exited").Inc()
		return false
	case status != model.StatusRunning:
		return false
	}

	s.refreshGauge()
	startsTotal.WithLabelValues(p.svc.Name, "ok").Inc()
	s.log.Info("Started service", zap.String("service", p.svc.Name), zap.Int("pid", pid))
	s.bus.Publish(event.Event{Type: event.ServiceStarted, ServiceID: p.svc.ID, Status: string(model.StatusRunning)})
	s.publishStatus(p, model.StatusRunning, "")
	return true
}

// handleExit records the end of a spawned process.
func (s *Supervisor) handleExit(p *processInfo, code int) {
	notRunnable := code == 126 || code == 127

	s.mu.Lock()
	prev := p.status
	tracked := s.procs[p.svc.ID] == p
	c := code
	p.exitCode = &c
	alreadyReported := p.reported
	p.reported = true
	switch {
	case prev == model.StatusError:
	case notRunnable && prev != model.StatusStopping:
		p.status = model.StatusError
		p.err = fmt.Sprintf("command could not be run (exit code %d)", code)
	default:
		p.status = model.StatusStopped
	}
	status := p.status
	errMsg := p.err
	close(p.done)
	s.mu.Unlock()

	p.logs.append(fmt.Sprintf("[Process exited with code %d]", code))
	p.logs.close()
	s.refreshGauge()

	if code == 0 || prev == model.StatusStopping {
		s.log.Info("Service stopped", zap.String("service", p.svc.Name), zap.Int("exit_code", code))
	} else {
		s.log.Warn("Service exited", zap.String("service", p.svc.Name), zap.Int("exit_code", code))
	}
	s.bus.Publish(event.Event{
		Type:      event.StatusChanged,
		ServiceID: p.svc.ID,
		Status:    string(status),
		Message:   errMsg,
		ExitCode:  &c,
	})

	abnormal := tracked && !alreadyReported && code != 0 && !notRunnable &&
		(prev == model.StatusRunning || prev == model.StatusStarting)
	if abnormal {
		crashesTotal.WithLabelValues(p.svc.Name).Inc()
		if a := s.authority(); a != nil {
			a.HandleAbnormalExit(p.svc, code)
		}
	}
}

// fail marks a start attempt as failed. The entry stays, not live, so its
// error and logs remain visible.
func (s *Supervisor) fail(p *processInfo, msg string) {
	s.mu.Lock()
	tracked := s.procs[p.svc.ID] == p
	if tracked {
		p.status = model.StatusError
		p.err = msg
	}
	s.mu.Unlock()
	if !tracked {
		return
	}
	p.logs.append("[" + msg + "]")
	s.log.Warn("service failed to start", zap.String("service", p.svc.Name), zap.String("reason", msg))
	s.publishStatus(p, model.StatusError, msg)
}

func (s *Supervisor) isRunning(p *processInfo) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[p.svc.ID] == p && p.status == model.StatusRunning
}

// adopt marks the entry as running on behalf of a process Runbar did not
// spawn. Its output cannot be captured.
func (s *Supervisor) adopt(p *processInfo, c Conflict) {
	pid := 0
	if c.Occupant != nil {
		pid = c.Occupant.PID
	}

	s.mu.Lock()
	if s.procs[p.svc.ID] != p {
		s.mu.Unlock()
		return
	}
	p.adopted = true
	p.pid = pid
	p.port = c.Port
	p.status = model.StatusRunning
	p.startTime = time.Now()
	s.mu.Unlock()

	if pid > 0 {
		p.logs.append(fmt.Sprintf("[adopted process %d on port %d; output is not captured]", pid, c.Port))
	} else {
		p.logs.append(fmt.Sprintf("[adopted unknown process on port %d; output is not captured]", c.Port))
	}
	p.logs.close()

	s.refreshGauge()
	startsTotal.WithLabelValues(p.svc.Name, "adopted").Inc()
	s.log.Info("Adopted running process", zap.String("service", p.svc.Name), zap.Int("pid", pid), zap.Int("port", c.Port))
	s.bus.Publish(event.Event{Type: event.ServiceStarted, ServiceID: p.svc.ID, Status: string(model.StatusRunning), Message: "adopted"})
	s.publishStatus(p, model.StatusRunning, "")
}

// handleLateConflict runs the conflict protocol for a port clash the
// process itself reported after spawning.
func (s *Supervisor) handleLateConflict(p *processInfo, port int, line string) {
	defer s.recoverOp("late_conflict", p.svc.ID, nil)

	if port == 0 {
		if ports := DetectPorts(p.svc.TrimmedCommand(), p.svc.Env); len(ports) > 0 {
			port = ports[0]
		}
	}

	s.mu.Lock()
	tracked := s.procs[p.svc.ID] == p && (p.status == model.StatusStarting || p.status == model.StatusRunning)
	ownPID := p.pid
	retry := p.retry
	s.mu.Unlock()
	if !tracked {
		return
	}

	settings := s.source.Settings()
	timeout := settings.GracefulTimeout()
	if retry {
		s.abortLive(p, fmt.Sprintf("port %d is still in use", port), timeout)
		return
	}

	c := Conflict{Service: p.svc, Port: port, PostSpawn: true, Line: line}
	if port > 0 && s.inspector != nil {
		c.Occupant = s.inspector.Occupant(port)
	}
	if c.Occupant != nil && c.Occupant.PID == ownPID {
		c.Occupant = nil
	}

	switch s.resolver.Decide(s.ctx, c) {
	case DecisionAdopt:
		s.mu.Lock()
		if s.procs[p.svc.ID] != p {
			s.mu.Unlock()
			return
		}
		p.status = model.StatusStopping
		replacement := &processInfo{
			svc:    p.svc,
			status: model.StatusStarting,
			done:   make(chan struct{}),
			logs:   newLogBuffer(settings.LogStorageLimit),
		}
		s.procs[p.svc.ID] = replacement
		s.mu.Unlock()

		go s.terminate(p, timeout)
		s.adopt(replacement, c)

	case DecisionKill:
		if !s.resolver.KillOccupant(s.ctx, c, timeout) {
			s.abortLive(p, fmt.Sprintf("could not free port %d", port), timeout)
			return
		}
		if done, ok := s.stop(p.svc); ok {
			waitDone(done, timeout+time.Second)
		}
		s.start(s.ctx, p.svc, make(map[string]bool), true)

	default:
		s.abortLive(p, fmt.Sprintf("port %d is already in use", port), timeout)
	}
}

// abortLive moves a spawned process into the error state and terminates it.
func (s *Supervisor) abortLive(p *processInfo, msg string, timeout time.Duration) {
	s.mu.Lock()
	if s.procs[p.svc.ID] != p {
		s.mu.Unlock()
		return
	}
	p.status = model.StatusError
	p.err = msg
	s.mu.Unlock()

	p.logs.append("[" + msg + "]")
	s.refreshGauge()
	s.log.Warn("aborting service", zap.String("service", p.svc.Name), zap.String("reason", msg))
	s.publishStatus(p, model.StatusError, msg)
	go s.terminate(p, timeout)
}

// StopService requests termination of the live process for svc, looked up
// by id and then by path. It returns false when nothing is live. The entry
// is dropped at once; escalation continues in the background.
func (s *Supervisor) StopService(svc model.Service) (ok bool) {
	defer s.recoverOp("stop", svc.ID, &ok)
	_, ok = s.stop(svc)
	return ok
}

// stop returns a channel closed once termination has finished.
func (s *Supervisor) stop(svc model.Service) (<-chan struct{}, bool) {
	timeout := s.source.Settings().GracefulTimeout()

	s.mu.Lock()
	p := s.liveEntry(svc)
	if p == nil {
		s.mu.Unlock()
		return nil, false
	}
	p.status = model.StatusStopping
	delete(s.procs, p.svc.ID)
	cancel := p.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.refreshGauge()
	s.log.Info("Stopping service", zap.String("service", p.svc.Name))
	s.publishStatus(p, model.StatusStopping, "")
	s.bus.Publish(event.Event{Type: event.ServiceStopped, ServiceID: p.svc.ID, Status: string(model.StatusStopped)})

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.terminate(p, timeout)
	}()
	return done, true
}

func (s *Supervisor) liveEntry(svc model.Service) *processInfo {
	if p, ok := s.procs[svc.ID]; ok && p.status.Live() {
		return p
	}
	for _, p := range s.procs {
		if p.status.Live() && samePath(p.svc.Path, svc.Path) {
			return p
		}
	}
	return nil
}

// terminate escalates SIGINT, then SIGTERM at half the timeout, then
// SIGKILL at the full timeout. Spawned processes are signalled as a group.
func (s *Supervisor) terminate(p *processInfo, timeout time.Duration) {
	s.mu.Lock()
	pid := p.pid
	spawned := p.cmd != nil
	adopted := p.adopted
	s.mu.Unlock()

	var exited <-chan struct{}
	switch {
	case spawned:
		exited = p.done
	case adopted && pid > 0:
		exited = watchPID(pid, timeout+2*time.Second)
	case adopted:
		s.log.Info("adopted process has no known pid, leaving it running", zap.String("service", p.svc.Name))
		return
	default:
		// Nothing was spawned yet; the start flow sees the cancellation.
		return
	}

	half := timeout / 2
	stages := []struct {
		sig  syscall.Signal
		wait time.Duration
	}{
		{syscall.SIGINT, half},
		{syscall.SIGTERM, timeout - half},
		{syscall.SIGKILL, time.Second},
	}
	for _, st := range stages {
		if err := signalProcess(pid, spawned, st.sig); err != nil {
			s.log.Debug("signal failed", zap.String("service", p.svc.Name), zap.Int("pid", pid), zap.Error(err))
		}
		select {
		case <-exited:
			s.log.Info("Stopped service", zap.String("service", p.svc.Name), zap.Int("pid", pid))
			return
		case <-time.After(st.wait):
			s.log.Debug("process still running after signal",
				zap.String("service", p.svc.Name), zap.String("signal", st.sig.String()))
		}
	}
	s.log.Error("process did not exit after SIGKILL", zap.String("service", p.svc.Name), zap.Int("pid", pid))
}

// watchPID returns a channel closed once pid is gone or limit passes.
func watchPID(pid int, limit time.Duration) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		defer close(ch)
		deadline := time.Now().Add(limit)
		for pidAlive(pid) && time.Now().Before(deadline) {
			time.Sleep(100 * time.Millisecond)
		}
	}()
	return ch
}

func waitDone(done <-chan struct{}, limit time.Duration) bool {
	select {
	case <-done:
		return true
	case <-time.After(limit):
		return false
	}
}

// Restart stops svc if it is live, waits for it to exit, then starts it.
func (s *Supervisor) Restart(ctx context.Context, svc model.Service) (ok bool) {
	defer s.recoverOp("restart", svc.ID, &ok)
	if done, stopped := s.stop(svc); stopped {
		timeout := s.source.Settings().GracefulTimeout()
		if !waitDone(done, timeout+2*time.Second) {
			s.log.Warn("restart: previous process still exiting", zap.String("service", svc.Name))
		}
	}
	return s.StartService(ctx, svc)
}

// StopAllServices terminates every live process concurrently and clears
// all tracking. It returns once every process exited or the shutdown
// timeout has passed.
func (s *Supervisor) StopAllServices() {
	defer s.recoverOp("stop_all", "", nil)
	timeout := s.source.Settings().GracefulTimeout()

	s.mu.Lock()
	var live []*processInfo
	var cancels []context.CancelFunc
	for id, p := range s.procs {
		if p.status.Live() {
			p.status = model.StatusStopping
			live = append(live, p)
			if p.cancel != nil {
				cancels = append(cancels, p.cancel)
			}
		}
		delete(s.procs, id)
	}
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	s.refreshGauge()
	if len(live) == 0 {
		return
	}
	s.log.Info("Stopping all services", zap.Int("count", len(live)))

	var wg sync.WaitGroup
	for _, p := range live {
		wg.Add(1)
		go func(p *processInfo) {
			defer wg.Done()
			s.terminate(p, timeout)
		}(p)
		s.bus.Publish(event.Event{Type: event.ServiceStopped, ServiceID: p.svc.ID, Status: string(model.StatusStopped)})
	}

	all := make(chan struct{})
	go func() {
		wg.Wait()
		close(all)
	}()
	if !waitDone(all, timeout+time.Second) {
		s.log.Warn("shutdown timeout reached with processes still exiting")
	}
}

// Status returns the status of the service with the given id. Untracked
// services are stopped.
func (s *Supervisor) Status(id string) model.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[id]
	if !ok {
		return model.StatusStopped
	}
	return p.currentStatus()
}

// StatusForPath returns the status of the process working in path.
func (s *Supervisor) StatusForPath(path string) model.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.entryForPath(path); p != nil {
		return p.currentStatus()
	}
	return model.StatusStopped
}

func (s *Supervisor) entryForPath(path string) *processInfo {
	var fallback *processInfo
	for _, p := range s.procs {
		if !samePath(p.svc.Path, path) {
			continue
		}
		if p.status.Live() {
			return p
		}
		fallback = p
	}
	return fallback
}

// currentStatus trusts a reaped handle over the recorded state.
func (p *processInfo) currentStatus() model.Status {
	if p.cmd != nil && isClosed(p.done) && p.status != model.StatusError {
		return model.StatusStopped
	}
	return p.status
}

// Logs returns the buffered output of a service, newest last.
func (s *Supervisor) Logs(id string) []string {
	s.mu.Lock()
	p, ok := s.procs[id]
	s.mu.Unlock()
	if !ok {
		return []string{}
	}
	return p.logs.snapshot()
}

// LogsForPath returns the buffered output of the process working in path.
func (s *Supervisor) LogsForPath(path string) []string {
	s.mu.Lock()
	p := s.entryForPath(path)
	s.mu.Unlock()
	if p == nil {
		return []string{}
	}
	return p.logs.snapshot()
}

// SubscribeLogs subscribes to log output from a service. The channel is
// closed immediately when nothing is live.
func (s *Supervisor) SubscribeLogs(id string) (<-chan string, func()) {
	s.mu.Lock()
	p, ok := s.procs[id]
	live := ok && p.status.Live()
	s.mu.Unlock()

	if !live {
		ch := make(chan string)
		close(ch)
		return ch, func() {}
	}
	return p.logs.subscribe()
}

// FollowLogs returns the buffered output of a service and a channel of the
// lines that follow it, with no line missing or repeated between the two.
// The channel is closed immediately when nothing is live.
func (s *Supervisor) FollowLogs(id string) ([]string, <-chan string, func()) {
	s.mu.Lock()
	p, ok := s.procs[id]
	live := ok && p.status.Live()
	s.mu.Unlock()

	if !live {
		ch := make(chan string)
		close(ch)
		backlog := []string{}
		if ok {
			backlog = p.logs.snapshot()
		}
		return backlog, ch, func() {}
	}
	return p.logs.follow()
}

// Process returns the snapshot of one tracked service.
func (s *Supervisor) Process(id string) (model.ProcessView, bool) {
	s.mu.Lock()
	p, ok := s.procs[id]
	var view model.ProcessView
	if ok {
		view = p.view()
	}
	s.mu.Unlock()
	if !ok {
		return model.ProcessView{}, false
	}
	s.mergeRestartState(&view)
	return view, true
}

// Snapshot returns every tracked process.
func (s *Supervisor) Snapshot() []model.ProcessView {
	s.mu.Lock()
	views := make([]model.ProcessView, 0, len(s.procs))
	for _, p := range s.procs {
		views = append(views, p.view())
	}
	s.mu.Unlock()

	for i := range views {
		s.mergeRestartState(&views[i])
	}
	return views
}

func (s *Supervisor) mergeRestartState(v *model.ProcessView) {
	if r, ok := s.authority().(restartReporter); ok {
		v.RestartAttempts, v.LastRestart, _ = r.RestartState(v.ServiceID)
	}
}

func (p *processInfo) view() model.ProcessView {
	v := model.ProcessView{
		ServiceID: p.svc.ID,
		Name:      p.svc.Name,
		Path:      p.svc.Path,
		Status:    p.currentStatus(),
		PID:       p.pid,
		StartTime: p.startTime,
		Error:     p.err,
		Adopted:   p.adopted,
	}
	if p.exitCode != nil {
		c := *p.exitCode
		v.ExitCode = &c
	}
	return v
}

type exitReport struct {
	svc  model.Service
	code int
}

// reconcile probes every entry believed running and marks the dead ones
// stopped with exit code -1. It returns the services that died.
func (s *Supervisor) reconcile() []exitReport {
	type check struct {
		p       *processInfo
		pid     int
		port    int
		spawned bool
	}

	s.mu.Lock()
	var checks []check
	for _, p := range s.procs {
		if p.status != model.StatusRunning || p.reported {
			continue
		}
		checks = append(checks, check{p: p, pid: p.pid, port: p.port, spawned: p.cmd != nil})
	}
	s.mu.Unlock()

	var reports []exitReport
	for _, c := range checks {
		if c.spawned && isClosed(c.p.done) {
			continue // the exit handler reported it
		}
		var alive bool
		switch {
		case c.pid > 0:
			alive = pidAlive(c.pid)
		case c.port > 0 && s.inspector != nil:
			alive = s.inspector.InUse(c.port)
		default:
			alive = true
		}
		if alive {
			continue
		}

		s.mu.Lock()
		changed := s.procs[c.p.svc.ID] == c.p && c.p.status == model.StatusRunning && !c.p.reported
		code := -1
		if changed {
			c.p.status = model.StatusStopped
			c.p.exitCode = &code
			c.p.reported = true
		}
		s.mu.Unlock()
		if !changed {
			continue
		}

		c.p.logs.append(fmt.Sprintf("[Process exited with code %d]", code))
		s.log.Warn("Service no longer running", zap.String("service", c.p.svc.Name), zap.Int("pid", c.pid))
		s.bus.Publish(event.Event{
			Type:      event.StatusChanged,
			ServiceID: c.p.svc.ID,
			Status:    string(model.StatusStopped),
			ExitCode:  &code,
		})
		crashesTotal.WithLabelValues(c.p.svc.Name).Inc()
		reports = append(reports, exitReport{svc: c.p.svc, code: code})
	}
	if len(reports) > 0 {
		s.refreshGauge()
	}
	return reports
}

func (s *Supervisor) publishStatus(p *processInfo, status model.Status, msg string) {
	s.bus.Publish(event.Event{
		Type:      event.StatusChanged,
		ServiceID: p.svc.ID,
		Status:    string(status),
		Message:   msg,
	})
}

func (s *Supervisor) refreshGauge() {
	s.mu.Lock()
	n := 0
	for _, p := range s.procs {
		if p.currentStatus() == model.StatusRunning {
			n++
		}
	}
	s.mu.Unlock()
	runningServices.Set(float64(n))
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
