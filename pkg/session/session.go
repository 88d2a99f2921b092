// Package session bridges one phone call across its three legs.
//
// Each Session runs a single event loop goroutine. Leg events, posted tasks,
// the pacer ticker and the recognition keepalive ticker are all handled on
// that goroutine, so the accumulator, pacer and turn bookkeeping need no
// locking. Handlers never block: leg sends are queued and tool actions run in
// the background.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-callbridge/internal/log"
	"github.com/teslashibe/go-callbridge/pkg/dispatch"
	"github.com/teslashibe/go-callbridge/pkg/leg"
	"github.com/teslashibe/go-callbridge/pkg/monitor"
	"github.com/teslashibe/go-callbridge/pkg/pacer"
	"github.com/teslashibe/go-callbridge/pkg/protocol"
	"github.com/teslashibe/go-callbridge/pkg/transcript"
)

// Lifecycle states.
const (
	StateConnecting = "connecting"
	StateActive     = "active"
	StateClosing    = "closing"
	StateClosed     = "closed"
)

// DefaultKeepAliveInterval is how often the recognition leg is pinged.
const DefaultKeepAliveInterval = 6 * time.Second

const (
	eventBuffer = 256
	taskBuffer  = 16
)

// Publisher receives human-readable call events for operators.
type Publisher interface {
	Publish(sessionID, typ, message string)
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, string, string) {}

// Config holds everything a Session needs. Zero values take defaults.
type Config struct {
	ID                string
	Dialer            leg.Dialer
	Pacer             pacer.Config
	KeepAliveInterval time.Duration
	Dialogue          protocol.SessionOptions

	// Action runs tool calls. Nil disables them.
	Action        dispatch.Action
	ActionTimeout time.Duration

	// Greeting is sent to the telephony leg once it opens. Empty disables it.
	Greeting string

	Metrics *Metrics
	Monitor Publisher
	Logger  *slog.Logger
}

// Info is a point-in-time description of a session.
type Info struct {
	ID      string    `json:"id"`
	State   string    `json:"state"`
	Started time.Time `json:"started"`
	Legs    []LegInfo `json:"legs"`
}

// LegInfo describes one leg of a live session. Frame counters are zero for
// legs that do not keep them.
type LegInfo struct {
	Role     string `json:"role"`
	State    string `json:"state"`
	Sent     uint64 `json:"sent"`
	Received uint64 `json:"received"`
	Dropped  uint64 `json:"dropped"`
}

type frameCounter interface {
	Stats() (sent, received, dropped uint64)
}

// Session coordinates the telephony, recognition and dialogue legs of one call.
type Session struct {
	id      string
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics
	monitor Publisher
	started time.Time

	events chan leg.Event
	tasks  chan func()
	done   chan struct{}

	machine *fsm.FSM
	tracked legSet

	// Owned by the event loop.
	ctx        context.Context
	bound      map[leg.Role]leg.Leg
	acc        *transcript.Accumulator
	pacer      *pacer.Pacer
	dispatcher *dispatch.Dispatcher
	keepalive  *time.Ticker
	latency    *turnTimer
	startSent  map[string]bool
	toolCalls  map[string]bool
	closing    bool
	reason     string
}

// New creates a Session. Call Run to start it.
func New(cfg Config) *Session {
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(prometheus.NewRegistry())
	}
	if cfg.Monitor == nil {
		cfg.Monitor = nopPublisher{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Component("session")
	}

	s := &Session{
		id:        cfg.ID,
		cfg:       cfg,
		logger:    cfg.Logger.With("session_id", cfg.ID),
		metrics:   cfg.Metrics,
		monitor:   cfg.Monitor,
		started:   time.Now(),
		events:    make(chan leg.Event, eventBuffer),
		tasks:     make(chan func(), taskBuffer),
		done:      make(chan struct{}),
		ctx:       context.Background(),
		bound:     make(map[leg.Role]leg.Leg),
		pacer:     pacer.New(cfg.Pacer),
		latency:   newTurnTimer(),
		startSent: make(map[string]bool),
		toolCalls: make(map[string]bool),
	}
	s.acc = transcript.New(s.pacer)

	s.dispatcher = dispatch.New(cfg.Action,
		dispatch.WithLogger(s.logger.With("component", "dispatch")),
		dispatch.WithTimeout(cfg.ActionTimeout),
		dispatch.WithNotifier(s.notifyCaller),
		dispatch.WithOutcome(s.recordToolOutcome),
	)

	s.machine = fsm.NewFSM(
		StateConnecting,
		fsm.Events{
			{Name: "activate", Src: []string{StateConnecting}, Dst: StateActive},
			{Name: "close", Src: []string{StateConnecting, StateActive}, Dst: StateClosing},
			{Name: "finish", Src: []string{StateClosing}, Dst: StateClosed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				s.logger.Info("session state changed", "from", e.Src, "to", e.Dst)
				s.monitor.Publish(s.id, monitor.TypeLifecycle, e.Dst)
			},
		},
	)

	return s
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// State returns the lifecycle state. Safe from any goroutine.
func (s *Session) State() string {
	return s.machine.Current()
}

// Info returns a snapshot for listings.
func (s *Session) Info() Info {
	return Info{ID: s.id, State: s.State(), Started: s.started, Legs: s.tracked.snapshot()}
}

// Leg describes the leg playing role, if one is still attached.
func (s *Session) Leg(role leg.Role) (LegInfo, bool) {
	for _, info := range s.tracked.snapshot() {
		if info.Role == string(role) {
			return info, true
		}
	}
	return LegInfo{}, false
}

// Done is closed when the session has torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Post delivers a leg event to the loop. It is the Sink handed to every leg
// and returns immediately once the session is closed.
func (s *Session) Post(ev leg.Event) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// Submit runs fn on the event loop. It reports false if the session is closed.
func (s *Session) Submit(fn func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.tasks <- fn:
		return true
	case <-s.done:
		return false
	}
}

// Track registers a leg so teardown closes it even if its Open event never
// reached the loop.
func (s *Session) Track(l leg.Leg) {
	s.tracked.add(l)
}

// Run dials the outbound legs and processes events until teardown or ctx is
// cancelled. It returns ctx.Err() in the latter case.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.ctx = ctx

	s.logger.Info("session started")
	go s.dialOutbound(ctx)

	for {
		select {
		case <-ctx.Done():
			s.teardown("context cancelled")
			return ctx.Err()

		case ev := <-s.events:
			s.handleEvent(ev)

		case fn := <-s.tasks:
			fn()

		case <-s.pacer.C():
			s.onPacerTick()

		case <-s.keepaliveC():
			s.onKeepAlive()
		}

		if s.closing {
			return nil
		}
	}
}

// WaitActions blocks until in-flight tool actions have finished.
func (s *Session) WaitActions() {
	s.dispatcher.Wait()
}

func (s *Session) dialOutbound(ctx context.Context) {
	if s.cfg.Dialer == nil {
		s.Post(leg.Event{Role: leg.RoleRecognition, Kind: leg.EventError, Err: fmt.Errorf("session: no dialer")})
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, role := range []leg.Role{leg.RoleRecognition, leg.RoleDialogue} {
		role := role
		g.Go(func() error {
			l, err := s.cfg.Dialer.Dial(gctx, role, s.Post)
			if err != nil {
				s.Post(leg.Event{Role: role, Kind: leg.EventError, Err: err})
				return err
			}
			s.Track(l)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Debug("outbound dial finished with error", "error", err)
	}
}

func (s *Session) handleEvent(ev leg.Event) {
	if s.closing {
		return
	}

	switch ev.Kind {
	case leg.EventOpen:
		s.onOpen(ev)

	case leg.EventMessage:
		switch ev.Role {
		case leg.RoleTelephony:
			s.onTelephonyMessage(ev.Data)
		case leg.RoleRecognition:
			s.onRecognitionMessage(ev.Data)
		case leg.RoleDialogue:
			s.onDialogueMessage(ev.Data)
		}

	case leg.EventError:
		s.metrics.LegFailures.WithLabelValues(string(ev.Role)).Inc()
		s.logger.Error("leg failed", "role", string(ev.Role), "error", ev.Err)
		s.monitor.Publish(s.id, monitor.TypeError, fmt.Sprintf("%s: %v", ev.Role, ev.Err))
		s.teardown(fmt.Sprintf("%s failed", ev.Role))

	case leg.EventClose:
		// No leg survives on its own: any close ends the call.
		s.logger.Info("leg closed", "role", string(ev.Role))
		s.teardown(fmt.Sprintf("%s closed", ev.Role))
	}
}

func (s *Session) onOpen(ev leg.Event) {
	if ev.Leg == nil {
		return
	}
	s.bound[ev.Role] = ev.Leg
	s.Track(ev.Leg)
	s.logger.Info("leg open", "role", string(ev.Role))

	switch ev.Role {
	case leg.RoleTelephony:
		if s.cfg.Greeting != "" {
			if err := ev.Leg.SendJSON(protocol.Greeting{Message: s.cfg.Greeting}); err != nil {
				s.logger.Warn("greeting not sent", "error", err)
			}
		}
		if err := s.machine.Event(context.Background(), "activate"); err != nil {
			s.logger.Debug("activate", "error", err)
		}

	case leg.RoleRecognition:
		if s.keepalive == nil {
			s.keepalive = time.NewTicker(s.cfg.KeepAliveInterval)
		}

	case leg.RoleDialogue:
		opts := s.cfg.Dialogue
		opts.Tools = append([]protocol.Tool(nil), opts.Tools...)
		if s.cfg.Action != nil {
			opts.Tools = append(opts.Tools, dispatch.Tool())
		}
		if err := ev.Leg.SendJSON(protocol.NewSessionUpdate(opts)); err != nil {
			s.logger.Error("session.update not sent", "error", err)
		}
	}
}

func (s *Session) onTelephonyMessage(data []byte) {
	frame, err := protocol.ParseTelephonyFrame(data)
	if err != nil {
		s.logger.Warn("bad telephony frame", "error", err)
		return
	}

	switch frame.Event {
	case protocol.EventStart:
		s.logger.Info("call media started")

	case protocol.EventMedia:
		audio, err := frame.Audio()
		if err != nil {
			s.logger.Warn("bad media frame", "error", err)
			return
		}
		rec := s.openLeg(leg.RoleRecognition)
		if rec == nil {
			s.metrics.MediaDropped.Inc()
			s.logger.Warn("recognition leg not open, dropping caller audio", "bytes", len(audio))
			return
		}
		if err := rec.SendBinary(audio); err != nil {
			s.metrics.MediaDropped.Inc()
			s.logger.Warn("caller audio not forwarded", "error", err)
			return
		}
		s.metrics.MediaForwarded.Inc()

	case protocol.EventStop:
		s.logger.Info("call media stopped")
		s.pacer.Reset()

	default:
		s.logger.Debug("unhandled telephony event", "event", string(frame.Event))
	}
}

func (s *Session) onRecognitionMessage(data []byte) {
	res, err := protocol.ParseRecognitionResult(data)
	if err != nil {
		s.logger.Warn("bad recognition message", "error", err)
		return
	}
	if !res.IsResults() {
		return
	}

	turn := s.pacer.Turn()
	if _, interrupted := s.acc.Add(res.Transcript()); interrupted {
		s.metrics.BargeIns.Inc()
		s.latency.Cancel()
		if turn != nil {
			s.logger.Info("barge-in, synthesis audio discarded", "item_id", turn.ID)
		} else {
			s.logger.Info("barge-in, synthesis audio discarded")
		}
		s.monitor.Publish(s.id, monitor.TypeBargeIn, res.Transcript())
	}

	if !res.SpeechFinal {
		return
	}
	utterance, ok := s.acc.Boundary()
	if !ok {
		return
	}
	s.sendUtterance(utterance)
}

func (s *Session) sendUtterance(text string) {
	dlg := s.openLeg(leg.RoleDialogue)
	if dlg == nil {
		s.acc.TakePendingResponse()
		s.logger.Warn("dialogue leg not open, dropping utterance", "text", text)
		return
	}
	if err := dlg.SendJSON(protocol.NewUserMessage(text)); err != nil {
		s.acc.TakePendingResponse()
		s.logger.Error("utterance not sent", "error", err)
		return
	}

	s.metrics.Utterances.Inc()
	s.latency.MarkUtterance()
	s.logger.Info("caller said", "text", text)
	s.monitor.Publish(s.id, monitor.TypeUser, text)
}

func (s *Session) onDialogueMessage(data []byte) {
	ev, err := protocol.ParseDialogueEvent(data)
	if err != nil {
		s.logger.Warn("bad dialogue message", "error", err)
		return
	}

	switch ev.Type {
	case protocol.TypeSessionCreated, protocol.TypeSessionUpdated:
		s.logger.Debug("dialogue session acknowledged", "type", ev.Type)

	case protocol.TypeItemCreated:
		s.onItemCreated(ev.ItemIDOrEmpty())

	case protocol.TypeTranscriptDone:
		s.logger.Info("bot said", "text", ev.Transcript)
		s.monitor.Publish(s.id, monitor.TypeBot, ev.Transcript)

	case protocol.TypeAudioDelta:
		s.onAudioDelta(ev)

	case protocol.TypeFunctionCall, protocol.TypeFunctionCallArgDone:
		s.onFunctionCall(ev)

	case protocol.TypeError:
		if ev.Error != nil {
			s.logger.Error("dialogue error", "code", ev.Error.Code, "message", ev.Error.Message)
		} else {
			s.logger.Error("dialogue error")
		}
	}
}

func (s *Session) onItemCreated(itemID string) {
	if itemID == "" || !s.startSent[itemID] {
		if itemID != "" {
			s.startSent[itemID] = true
		}
		if tel := s.openLeg(leg.RoleTelephony); tel != nil {
			s.sendFrame(tel, protocol.NewStartFrame())
		}
	}

	if !s.acc.TakePendingResponse() {
		return
	}
	if dlg := s.openLeg(leg.RoleDialogue); dlg != nil {
		if err := dlg.SendJSON(protocol.NewResponseCreate()); err != nil {
			s.logger.Error("response.create not sent", "error", err)
		}
	}
}

func (s *Session) onAudioDelta(ev *protocol.DialogueEvent) {
	audio, err := ev.Audio()
	if err != nil {
		s.logger.Warn("bad audio delta", "error", err)
		return
	}
	if len(audio) == 0 {
		return
	}
	if d, ok := s.latency.MarkFirstAudio(); ok {
		s.metrics.TurnLatency.Observe(d.Seconds())
		s.logger.Debug("first synthesis audio", "latency", d)
	}
	if s.pacer.Append(ev.ItemID, audio) {
		s.logger.Debug("synthesis turn started", "item_id", ev.ItemID)
	}
}

func (s *Session) onFunctionCall(ev *protocol.DialogueEvent) {
	call, ok := ev.FunctionCall()
	if !ok {
		return
	}
	if call.CallID != "" {
		if s.toolCalls[call.CallID] {
			return
		}
		s.toolCalls[call.CallID] = true
	}
	if err := s.dispatcher.Handle(s.ctx, call.Name, call.Arguments); err != nil {
		s.monitor.Publish(s.id, monitor.TypeTool, fmt.Sprintf("%s dropped: %v", call.Name, err))
	}
}

func (s *Session) onPacerTick() {
	packet, ok := s.pacer.Tick()
	if !ok {
		return
	}
	tel := s.openLeg(leg.RoleTelephony)
	if tel == nil {
		return
	}
	if s.sendFrame(tel, protocol.NewMediaFrame(packet, time.Now())) {
		s.metrics.PacketsSent.Inc()
	}
}

func (s *Session) onKeepAlive() {
	if rec := s.openLeg(leg.RoleRecognition); rec != nil {
		if err := rec.SendJSON(protocol.NewKeepAlive()); err != nil {
			s.logger.Debug("keepalive not sent", "error", err)
		}
	}
}

// notifyCaller runs on a dispatcher goroutine.
func (s *Session) notifyCaller(message string) {
	s.Submit(func() {
		if tel := s.openLeg(leg.RoleTelephony); tel != nil {
			s.sendFrame(tel, protocol.NewTextFrame(message))
		}
		s.monitor.Publish(s.id, monitor.TypeTool, message)
	})
}

func (s *Session) recordToolOutcome(outcome string) {
	s.metrics.ToolCalls.WithLabelValues(outcome).Inc()
}

func (s *Session) sendFrame(l leg.Leg, frame *protocol.TelephonyFrame) bool {
	data, err := frame.Bytes()
	if err != nil {
		s.logger.Error("encode telephony frame", "error", err)
		return false
	}
	if err := l.SendText(data); err != nil {
		if !leg.IsClosed(err) {
			s.logger.Warn("telephony frame not sent", "event", string(frame.Event), "error", err)
		}
		return false
	}
	return true
}

func (s *Session) openLeg(role leg.Role) leg.Leg {
	l, ok := s.bound[role]
	if !ok || l.State() != leg.StateOpen {
		return nil
	}
	return l
}

func (s *Session) keepaliveC() <-chan time.Time {
	if s.keepalive == nil {
		return nil
	}
	return s.keepalive.C
}

func (s *Session) stopKeepAlive() {
	if s.keepalive != nil {
		s.keepalive.Stop()
		s.keepalive = nil
	}
}

// teardown moves the session to closed. Only the event loop calls it.
func (s *Session) teardown(reason string) {
	if s.closing {
		return
	}
	s.closing = true
	s.reason = reason
	s.logger.Info("session closing", "reason", reason)

	if err := s.machine.Event(context.Background(), "close"); err != nil {
		s.logger.Debug("close transition", "error", err)
	}

	s.pacer.Reset()
	s.acc.Clear()
	s.stopKeepAlive()
	s.latency.Cancel()
	s.tracked.closeAll()
	s.bound = make(map[leg.Role]leg.Leg)

	if err := s.machine.Event(context.Background(), "finish"); err != nil {
		s.logger.Debug("finish transition", "error", err)
	}
	close(s.done)

	s.metrics.SessionDurations.Observe(time.Since(s.started).Seconds())
	s.logger.Info("session closed", "duration", time.Since(s.started).Round(time.Millisecond),
		"avg_turn_latency", s.latency.Average(), "packets_sent", s.pacer.Sent())
}

// Reason returns why the session closed. Valid after Done is closed.
func (s *Session) Reason() string {
	<-s.done
	return s.reason
}

type legSet struct {
	mu     sync.Mutex
	legs   []leg.Leg
	closed bool
}

func (ls *legSet) add(l leg.Leg) {
	ls.mu.Lock()
	if ls.closed {
		ls.mu.Unlock()
		_ = l.Close()
		return
	}
	for _, existing := range ls.legs {
		if existing == l {
			ls.mu.Unlock()
			return
		}
	}
	ls.legs = append(ls.legs, l)
	ls.mu.Unlock()
}

func (ls *legSet) snapshot() []LegInfo {
	ls.mu.Lock()
	legs := append([]leg.Leg(nil), ls.legs...)
	ls.mu.Unlock()

	infos := make([]LegInfo, 0, len(legs))
	for _, l := range legs {
		info := LegInfo{Role: string(l.Role()), State: l.State().String()}
		if fc, ok := l.(frameCounter); ok {
			info.Sent, info.Received, info.Dropped = fc.Stats()
		}
		infos = append(infos, info)
	}
	return infos
}

func (ls *legSet) closeAll() {
	ls.mu.Lock()
	ls.closed = true
	legs := ls.legs
	ls.legs = nil
	ls.mu.Unlock()

	for _, l := range legs {
		_ = l.Close()
	}
}
