package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/anthropic/lifeos/internal/engine"
	"github.com/anthropic/lifeos/internal/model"
	"github.com/anthropic/lifeos/internal/store"
	"github.com/anthropic/lifeos/pkg/logger"
)

const (
	defaultHistory    = 2 * time.Hour
	defaultHistoryMax = 10000
	defaultDays       = 14
	defaultWeeks      = 8
)

// DaemonQuerier is the interface the IPC server uses to query daemon state.
// This avoids importing the daemon package (which would be circular).
type DaemonQuerier interface {
	Status(ctx context.Context) StatusData
	Forecast(sc engine.Scenario) ([]engine.Point, error)
	RecordEvent(kind string, magnitude float64) error
	RefreshBiometrics()
	Stop()
}

// StoreQuerier provides the read-only queries needed by the IPC server.
type StoreQuerier interface {
	Latest(ctx context.Context) (model.ResourceSnapshot, error)
	Snapshots(ctx context.Context, from, to time.Time, limit int) ([]model.ResourceSnapshot, error)
	HeartRate(ctx context.Context, from, to time.Time, prov model.Provenance) ([]model.HeartRateSample, error)
	DailySummaries(ctx context.Context, from, to string) ([]model.DailySummary, error)
	WeeklySummaries(ctx context.Context, n int) ([]model.WeeklySummary, error)
}

var _ StoreQuerier = (*store.Reader)(nil)

// Server is a Unix domain socket server for CLI-to-daemon communication.
type Server struct {
	daemon DaemonQuerier
	store  StoreQuerier
	log    logger.Logger
	now    func() time.Time

	listener net.Listener
	ctx      context.Context
	mu       sync.Mutex
	wg       sync.WaitGroup
	stopped  bool
}

// NewServer creates a new IPC server.
func NewServer(daemon DaemonQuerier, store StoreQuerier, log logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{
		daemon: daemon,
		store:  store,
		log:    log.Named("ipc"),
		now:    time.Now,
		ctx:    context.Background(),
	}
}

// Listen starts accepting connections on the given Unix socket path.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Listen(socketPath string, ctx context.Context) error {
	// Remove stale socket file if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen %s: %w", socketPath, err)
	}

	// Set socket permissions to owner-only.
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = ln.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}

	s.mu.Lock()
	s.listener = ln
	s.ctx = ctx
	s.stopped = false
	s.mu.Unlock()

	s.log.Info(ctx, "IPC server listening", logger.String("socket", socketPath))

	// Close the listener when context is cancelled.
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			stopped := s.stopped
			s.mu.Unlock()
			if stopped {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Stop stops accepting connections and waits for in-flight connections to drain.
func (s *Server) Stop() error {
	s.mu.Lock()
	s.stopped = true
	ln := s.listener
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("drain timeout: connections still open after 5s")
	}
}

// SetStore updates the store reference after daemon startup.
func (s *Server) SetStore(st StoreQuerier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store = st
}

// SetDaemon sets the daemon reference. This is called after daemon creation
// to break the circular construction dependency (daemon needs server, server needs daemon).
func (s *Server) SetDaemon(d DaemonQuerier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.daemon = d
}

func (s *Server) deps() (DaemonQuerier, StoreQuerier, context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.daemon, s.store, s.ctx
}

// handleConn reads a single JSON request, dispatches it, and writes the response.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		writeError(conn, "empty request")
		return
	}

	var req Request
	if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
		writeError(conn, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	d, st, base := s.deps()
	ctx, cancel := context.WithTimeout(base, 4*time.Second)
	defer cancel()

	if req.Command != CmdPing && d == nil {
		writeError(conn, "daemon not ready")
		return
	}

	var (
		data interface{}
		err  error
	)
	switch req.Command {
	case CmdPing:
		data = "pong"
	case CmdStatus:
		data = d.Status(ctx)
	case CmdSnapshot:
		data, err = s.snapshot(ctx, st)
	case CmdHistory:
		data, err = s.history(ctx, st, req.Args)
	case CmdHeartRate:
		data, err = s.heartRate(ctx, st, req.Args)
	case CmdForecast:
		sc := engine.Scenario(arg(req.Args, "scenario", string(engine.Continue)))
		if sc != engine.Continue && sc != engine.Rest {
			err = fmt.Errorf("unknown scenario %q", sc)
			break
		}
		var pts []engine.Point
		pts, err = d.Forecast(sc)
		data = ForecastData{Scenario: string(sc), Points: pts}
	case CmdEvent:
		err = s.event(d, req.Args)
		data = "recorded"
	case CmdRefresh:
		d.RefreshBiometrics()
		data = "refresh scheduled"
	case CmdStop:
		writeResponse(conn, Response{OK: true, Data: "shutting down"})
		d.Stop()
		return
	default:
		err = fmt.Errorf("unknown command: %q", req.Command)
	}

	if err != nil {
		s.log.Debug(ctx, "IPC request failed", logger.String("command", req.Command), logger.Error(err))
		writeError(conn, err.Error())
		return
	}
	writeResponse(conn, Response{OK: true, Data: data})
}

func (s *Server) snapshot(ctx context.Context, st StoreQuerier) (model.ResourceSnapshot, error) {
	if st == nil {
		return model.ResourceSnapshot{}, errors.New("store not open")
	}
	snap, err := st.Latest(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return snap, errors.New("no snapshot yet")
	}
	return snap, err
}

func (s *Server) history(ctx context.Context, st StoreQuerier, args map[string]string) (HistoryData, error) {
	var out HistoryData
	if st == nil {
		return out, errors.New("store not open")
	}

	switch arg(args, "scope", "snapshots") {
	case "snapshots":
		from, to, err := s.window(args, defaultHistory)
		if err != nil {
			return out, err
		}
		limit, err := intArg(args, "limit", defaultHistoryMax)
		if err != nil {
			return out, err
		}
		out.Snapshots, err = st.Snapshots(ctx, from, to, limit)
		return out, err
	case "daily":
		days, err := intArg(args, "days", defaultDays)
		if err != nil {
			return out, err
		}
		now := s.now()
		from := now.AddDate(0, 0, -days).Format(model.DateLayout)
		out.Daily, err = st.DailySummaries(ctx, from, now.Format(model.DateLayout))
		return out, err
	case "weekly":
		weeks, err := intArg(args, "weeks", defaultWeeks)
		if err != nil {
			return out, err
		}
		out.Weekly, err = st.WeeklySummaries(ctx, weeks)
		return out, err
	default:
		return out, fmt.Errorf("unknown history scope %q", args["scope"])
	}
}

func (s *Server) heartRate(ctx context.Context, st StoreQuerier, args map[string]string) (HeartRateData, error) {
	if st == nil {
		return HeartRateData{}, errors.New("store not open")
	}
	from, to, err := s.window(args, defaultHistory)
	if err != nil {
		return HeartRateData{}, err
	}
	prov := model.Provenance(args["provenance"])
	switch prov {
	case "", model.Measured, model.Estimated:
	default:
		return HeartRateData{}, fmt.Errorf("unknown provenance %q", prov)
	}
	samples, err := st.HeartRate(ctx, from, to, prov)
	return HeartRateData{Samples: samples}, err
}

func (s *Server) event(d DaemonQuerier, args map[string]string) error {
	kind := args["kind"]
	if kind == "" {
		return errors.New("event needs a kind")
	}
	mag := 1.0
	if v, ok := args["magnitude"]; ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid magnitude %q: %w", v, err)
		}
		mag = f
	}
	return d.RecordEvent(kind, mag)
}

// window resolves "from"/"to" (RFC 3339) or "since" (a duration) into a
// time range ending now by default.
func (s *Server) window(args map[string]string, def time.Duration) (time.Time, time.Time, error) {
	to := s.now()
	if v := args["to"]; v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid to %q: %w", v, err)
		}
		to = t
	}
	from := to.Add(-def)
	if v := args["since"]; v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid since %q", v)
		}
		from = to.Add(-d)
	}
	if v := args["from"]; v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid from %q: %w", v, err)
		}
		from = t
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, errors.New("empty time range")
	}
	return from, to, nil
}

func arg(args map[string]string, key, def string) string {
	if v, ok := args[key]; ok && v != "" {
		return v
	}
	return def
}

func intArg(args map[string]string, key string, def int) (int, error) {
	v, ok := args[key]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}
	return n, nil
}

func writeResponse(conn net.Conn, resp Response) {
	data, _ := json.Marshal(resp)
	data = append(data, '\n')
	_, _ = conn.Write(data)
}

func writeError(conn net.Conn, msg string) {
	writeResponse(conn, Response{OK: false, Error: msg})
}
