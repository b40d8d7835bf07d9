package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"github.com/wsdrop/wsdrop/ident"
	"github.com/wsdrop/wsdrop/internal"
	"github.com/wsdrop/wsdrop/workspace"
	"go.opentelemetry.io/otel/attribute"
	otrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/exp/slices"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Output(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: "15:04:05",
})

const (
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultHeartbeatTimeout  = 30 * time.Second
)

type Config struct {
	// How often liveness is checked and the peer is pinged.
	HeartbeatInterval time.Duration
	// How long the peer may go without a ping or pong before the session is dropped.
	HeartbeatTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	return c
}

// Manager holds what upload sessions share. Directory, Hub and Metrics are optional.
type Manager struct {
	Store     *workspace.Store
	Directory *workspace.Directory
	Hub       *Hub
	Metrics   *Metrics
	Config    Config
}

// Serve runs an upload session on conn under a freshly generated identifier. It blocks until
// the session is closed. Cancelling ctx closes the session with 1001 (going away).
func (m *Manager) Serve(ctx context.Context, conn Conn, remote string) {
	m.NewSession(ident.Generate(), conn, remote).Run(ctx)
}

func (m *Manager) NewSession(id string, conn Conn, remote string) *Session {
	return &Session{
		ID:      id,
		remote:  remote,
		conn:    conn,
		manager: m,
		cfg:     m.Config.withDefaults(),
		outbox:  NewOutbox(),
		log:     logger.With().Str("id", id).Str("remote", remote).Logger(),
	}
}

type pendingWrite struct {
	file     *os.File
	name     string
	expected uint64
	written  uint64
	span     otrace.Span
}

func (w *pendingWrite) remaining() uint64 {
	return w.expected - w.written
}

// Session is one client connection. Files are announced with a File message and their bytes
// follow as binary frames. Binary frames always extend the oldest announced file that is not yet
// complete, so payload must arrive in announcement order. Every completed file is acknowledged
// with a Link message carrying the session identifier.
//
// All state is owned by the goroutine calling Run.
type Session struct {
	ID string

	remote  string
	conn    Conn
	manager *Manager
	cfg     Config
	outbox  *Outbox
	log     zerolog.Logger

	pending       []*pendingWrite
	lastHeartbeat time.Time
	numFiles      int64
	bytesReceived int64
}

// Outbox returns the queue other goroutines can use to message this session's client.
func (s *Session) Outbox() *Outbox {
	return s.outbox
}

// ending says how a session finished and what, if anything, the peer is told.
type ending struct {
	cause  string
	reason *CloseReason
}

// Run services the session until it closes, then releases every resource it holds.
func (s *Session) Run(ctx context.Context) {
	ctx = internal.SessionContext(ctx, s.ID, s.remote)
	ctx = internal.SessionSentryContext(ctx, s.ID, s.remote)
	ctx, task := internal.StartTask(ctx, "Session")
	defer task.End()

	if hub := s.manager.Hub; hub != nil {
		if !hub.register(s.ID, s.outbox) {
			s.log.Warn().Msg("identifier collides with a live session")
		}
	}
	if dir := s.manager.Directory; dir != nil {
		dir.Acquire(s.ID)
	}
	s.manager.Metrics.sessionStarted()
	s.log.Info().Msg("session started")

	end := s.loop(ctx)
	s.shutdown(ctx, end)
}

func (s *Session) loop(ctx context.Context) (end ending) {
	defer func() {
		panicErr := recover()
		if panicErr != nil {
			s.log.Error().Str("panic", fmt.Sprint(panicErr)).Msg(string(debug.Stack()))
			internal.GetSentryHubFromContextOrDefault(ctx).RecoverWithContext(ctx, panicErr)
			end = ending{
				cause:  endPanic,
				reason: &CloseReason{Code: CloseInternalError, Description: "internal error"},
			}
		}
	}()

	if err := s.manager.Store.Reset(s.ID); err != nil {
		end, _ = s.ioFailure(ctx, err)
		return end
	}
	s.lastHeartbeat = time.Now()

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	frames := s.conn.Frames()
	for {
		var stop bool
		select {
		case <-ctx.Done():
			return ending{
				cause:  endShutdown,
				reason: &CloseReason{Code: CloseGoingAway, Description: "server shutting down"},
			}
		case <-ticker.C:
			end, stop = s.onTick(ctx)
		case f, ok := <-frames:
			if !ok {
				return ending{cause: endStreamEnded}
			}
			end, stop = s.onFrame(ctx, f)
		case <-s.outbox.Ready():
			if m, ok := s.outbox.Pop(); ok {
				s.send(ctx, m)
			}
		}
		if stop {
			return end
		}
	}
}

func (s *Session) onTick(ctx context.Context) (ending, bool) {
	since := time.Since(s.lastHeartbeat)
	if since > s.cfg.HeartbeatTimeout {
		s.log.Warn().Dur("since", since).Msg("no heartbeat from client, dropping session")
		internal.Logf(ctx, "liveness", "timed out after %v", since)
		return ending{cause: endTimeout}, true
	}
	if err := s.conn.Ping(nil); err != nil {
		s.log.Debug().Err(err).Msg("failed to ping client, dropping session")
		return ending{cause: endProbeFailed}, true
	}
	return ending{}, false
}

func (s *Session) onFrame(ctx context.Context, f Frame) (ending, bool) {
	s.log.Trace().Stringer("type", f.Type).Int("len", len(f.Data)).Msg("recv")
	switch f.Type {
	case FrameText:
		return s.onText(ctx, f.Data)
	case FrameBinary:
		return s.onBinary(ctx, f.Data)
	case FramePing:
		s.lastHeartbeat = time.Now()
		bestEffort(s.log, "pong", s.conn.Pong(f.Data))
	case FramePong:
		s.lastHeartbeat = time.Now()
	case FrameClose:
		s.log.Debug().Stringer("reason", f.Close).Msg("client closed session")
		return ending{cause: endClient, reason: f.Close}, true
	}
	return ending{}, false
}

func (s *Session) onText(ctx context.Context, data []byte) (ending, bool) {
	msg, err := ParseMessage(data)
	if err != nil {
		s.log.Debug().Err(err).Msg("dropping control message")
		return ending{}, false
	}
	if msg.Type != MessageFile {
		s.log.Debug().Str("type", string(msg.Type)).Msg("ignoring control message")
		return ending{}, false
	}
	return s.announce(ctx, msg.File, msg.Size)
}

// announce queues a new file behind any that are still being received.
func (s *Session) announce(ctx context.Context, name string, size uint64) (ending, bool) {
	f, err := s.manager.Store.Create(s.ID, name)
	if errors.Is(err, workspace.ErrInvalidName) {
		return s.violation(ctx, fmt.Sprintf("invalid file name %q", name))
	}
	if err != nil {
		return s.ioFailure(ctx, err)
	}
	if dir := s.manager.Directory; dir != nil {
		dir.Register(s.ID)
	}
	_, span := internal.StartOTLPSpan(ctx, "ReceiveFile",
		attribute.String("file", name), attribute.Int64("size", int64(size)),
	)
	s.pending = append(s.pending, &pendingWrite{
		file:     f,
		name:     name,
		expected: size,
		span:     span,
	})
	s.log.Debug().Str("file", name).Uint64("size", size).Int("queued", len(s.pending)).Msg("file announced")
	// an empty file at the head of the queue is already complete
	return s.drainCompleted(ctx)
}

// onBinary appends payload to the head of the queue. A frame that runs past the head's
// announced size carries its remaining bytes into the next queued file.
func (s *Session) onBinary(ctx context.Context, data []byte) (ending, bool) {
	if len(s.pending) == 0 {
		return s.violation(ctx, "binary data without announcement")
	}
	for len(data) > 0 {
		if len(s.pending) == 0 {
			return s.violation(ctx, "binary data exceeds announced size")
		}
		head := s.pending[0]
		n := head.remaining()
		if uint64(len(data)) < n {
			n = uint64(len(data))
		}
		if _, err := head.file.Write(data[:n]); err != nil {
			return s.ioFailure(ctx, fmt.Errorf("write %s: %w", head.name, err))
		}
		head.written += n
		s.bytesReceived += int64(n)
		s.manager.Metrics.received(int(n))
		internal.Assert("written bytes never exceed the announced size", head.written <= head.expected)
		data = data[n:]
		if end, stop := s.drainCompleted(ctx); stop {
			return end, stop
		}
	}
	internal.SetSessionProgress(ctx, s.numFiles, s.bytesReceived, len(s.pending))
	return ending{}, false
}

// drainCompleted pops every complete file off the head of the queue, acknowledging each.
func (s *Session) drainCompleted(ctx context.Context) (ending, bool) {
	for len(s.pending) > 0 && s.pending[0].remaining() == 0 {
		head := s.pending[0]
		s.pending = slices.Delete(s.pending, 0, 1)
		err := head.file.Close()
		head.span.End()
		if err != nil {
			return s.ioFailure(ctx, fmt.Errorf("close %s: %w", head.name, err))
		}
		s.numFiles++
		s.manager.Metrics.fileCompleted()
		if dir := s.manager.Directory; dir != nil {
			dir.Register(s.ID)
		}
		internal.SetSessionProgress(ctx, s.numFiles, s.bytesReceived, len(s.pending))
		internal.Logf(ctx, "transfer", "completed %s (%d bytes)", head.name, head.expected)
		s.log.Info().Str("file", head.name).Uint64("size", head.expected).Msg("file received")
		s.send(ctx, LinkMessage(s.ID))
	}
	return ending{}, false
}

// violation ends the session when the client breaks the announce-then-send ordering or sends
// something unusable. The reason is reported in the close frame.
func (s *Session) violation(ctx context.Context, why string) (ending, bool) {
	s.log.Warn().Str("violation", why).Msg("protocol violation, closing session")
	internal.Logf(ctx, "transfer", "protocol violation: %s", why)
	return ending{
		cause:  endViolation,
		reason: &CloseReason{Code: ClosePolicyViolation, Description: why},
	}, true
}

// ioFailure ends only this session when its workspace cannot be written.
func (s *Session) ioFailure(ctx context.Context, err error) (ending, bool) {
	internal.DecorateLogger(ctx, s.log.Error().Err(err)).Msg("storage failure, closing session")
	internal.GetSentryHubFromContextOrDefault(ctx).CaptureException(err)
	s.send(ctx, ErrorMessage("failed to store upload"))
	return ending{
		cause:  endIOFailure,
		reason: &CloseReason{Code: CloseInternalError, Description: "storage failure"},
	}, true
}

// send delivers m best-effort. Failures are logged and otherwise ignored: the liveness check
// notices a dead peer soon enough.
func (s *Session) send(ctx context.Context, m Message) {
	b, err := m.MarshalJSON()
	if err != nil {
		s.log.Err(err).Msg("failed to encode message")
		return
	}
	if !bestEffort(s.log, string(m.Type), s.conn.WriteText(b)) {
		return
	}
	s.manager.Metrics.messageSent(m.Type)
}

func (s *Session) shutdown(ctx context.Context, end ending) {
	for _, w := range s.pending {
		if err := w.file.Close(); err != nil {
			s.log.Debug().Err(err).Str("file", w.name).Msg("failed to close partial file")
		}
		w.span.End()
	}
	s.pending = nil
	if dir := s.manager.Directory; dir != nil {
		dir.Release(s.ID)
	}
	s.outbox.Close()
	if hub := s.manager.Hub; hub != nil {
		hub.unregister(s.ID, s.outbox)
	}
	bestEffort(s.log, "close", s.conn.Close(end.reason))
	s.manager.Metrics.sessionEnded(end.cause)
	internal.SetSessionProgress(ctx, s.numFiles, s.bytesReceived, 0)
	internal.DecorateLogger(ctx, s.log.Info()).Str("cause", end.cause).Stringer("reason", end.reason).Msg("session closed")
}

// bestEffort logs a failed send on the session's behalf and reports whether it succeeded.
// Callers deliberately carry on regardless.
func bestEffort(log zerolog.Logger, what string, err error) bool {
	if err != nil {
		log.Debug().Err(err).Str("send", what).Msg("best-effort send failed")
		return false
	}
	return true
}
