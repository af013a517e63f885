package rpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// SocketState is the Socket's position in the state machine: Idle ->
// Connecting -> Connected, with Closing/Reconnecting/Refreshing as the
// transitional states a drop or an explicit close passes through.
type SocketState int

const (
	SocketIdle SocketState = iota
	SocketConnecting
	SocketConnected
	SocketClosing
	SocketReconnecting
	SocketRefreshing
)

func (s SocketState) String() string {
	switch s {
	case SocketIdle:
		return "Idle"
	case SocketConnecting:
		return "Connecting"
	case SocketConnected:
		return "Connected"
	case SocketClosing:
		return "Closing"
	case SocketReconnecting:
		return "Reconnecting"
	case SocketRefreshing:
		return "Refreshing"
	default:
		return "Unknown"
	}
}

// isRecoverableCloseCode reports whether code is in exactly the set
// {1000, 1011}; any other close code the peer sends terminates the Socket
// with a typed error.
func isRecoverableCloseCode(code int) bool {
	return code == 1000 || code == 1011
}

// ReconnectChecker is awaited before every (re)connection attempt. It may
// delay the attempt (by not returning promptly) or reject it outright (by
// returning a non-nil error) — used, for example, to block a reconnect
// until a bearer token has been refreshed.
type ReconnectChecker func(ctx context.Context) error

// SocketOptions configures a Socket. Zero-value fields take the defaults
// documented on each field, applied by NewSocket exactly the way the
// teacher's NewStreamableClientTransport fills in StreamableClientTransportOptions.
type SocketOptions struct {
	// URL is the stream endpoint (ws:// or wss://).
	URL string
	// Header carries extra connect-time headers, merged with the default
	// X-Protocol-Version header and, if Token or TokenProvider is set, the
	// Authorization header.
	Header http.Header
	// Query carries extra connect-time query parameters, merged onto URL's
	// existing query string; Query's values win on conflict.
	Query url.Values
	// Token, if non-empty, is sent as "Authorization: Bearer <Token>". Used
	// only when TokenProvider is nil.
	Token string
	// TokenProvider, if set, is consulted fresh before every connect
	// attempt and its result sent as "Authorization: Bearer <token>",
	// taking precedence over the static Token field. This is how a
	// refreshed credential (see auth.TokenProvider) actually reaches a
	// reconnect, rather than the Socket forever resending the token it was
	// constructed with.
	TokenProvider func(ctx context.Context) (string, error)

	// ReplyTimeout bounds how long execute waits for a reply once a packet
	// has actually been written to the wire. Default 10s.
	ReplyTimeout time.Duration
	// QueueTimeout bounds how long execute waits for a queued packet (one
	// submitted while not Connected) to be sent. Default 120s.
	QueueTimeout time.Duration

	// ReconnectPolicy produces reconnect delays. Default DefaultReconnectPolicy().
	ReconnectPolicy ReconnectPolicy
	// ReconnectChecker, if set, is awaited before every connect attempt.
	ReconnectChecker ReconnectChecker
	// ReconnectLimiter guards the reconnect loop against hammering the
	// preflight endpoint faster than the backoff policy intends, in case a
	// flaky network produces rapid open/close cycles. Default: 1 attempt
	// per second, burst 5.
	ReconnectLimiter *rate.Limiter

	// Transport dials the underlying stream. Default &WebSocketTransport{}.
	Transport Transport
	// SkipPreflight disables the HTTP preflight probe before each connect
	// attempt. Tests exercising a bare WebSocket fake typically set this.
	SkipPreflight bool

	// OnStateChange, if set, is called on every Socket state transition.
	OnStateChange func(SocketState)
	// OnError, if set, is called for every error that doesn't belong to a
	// single in-flight execute call: preflight failures, non-recoverable
	// closes, and malformed inbound frames.
	OnError func(error)
	// OnPush, if set, is called for every inbound server-initiated Method
	// (a push frame carrying no correlating Packet).
	OnPush func(Method)
}

func (o *SocketOptions) setDefaults() {
	if o.ReplyTimeout <= 0 {
		o.ReplyTimeout = 10 * time.Second
	}
	if o.QueueTimeout <= 0 {
		o.QueueTimeout = 120 * time.Second
	}
	if o.ReconnectPolicy == nil {
		o.ReconnectPolicy = DefaultReconnectPolicy()
	}
	if o.ReconnectLimiter == nil {
		o.ReconnectLimiter = rate.NewLimiter(rate.Limit(1), 5)
	}
	if o.Transport == nil {
		o.Transport = &WebSocketTransport{}
	}
}

type replyOutcome struct {
	result []byte
	err    error
}

// Socket is the reconnecting, request/reply-correlating stream client
// whose states are listed on SocketState and driven by Connect, Close and
// the connection's read loop. Method
// calls are safe for concurrent use; internally a mutex serializes every
// state transition so at most one transition is ever in flight, mirroring
// the single-threaded cooperative scheduling model the wire protocol
// assumes.
type Socket struct {
	opts SocketOptions

	mu         sync.Mutex
	state      SocketState
	conn       Connection
	seq        uint32
	nextID     uint32
	queue      map[uint32]*Packet
	replyChans map[uint32]chan replyOutcome
	timer      *time.Timer
	generation int
}

// NewSocket constructs a Socket in state Idle. It does not connect.
func NewSocket(opts SocketOptions) *Socket {
	opts.setDefaults()
	return &Socket{
		opts:       opts,
		state:      SocketIdle,
		queue:      make(map[uint32]*Packet),
		replyChans: make(map[uint32]chan replyOutcome),
	}
}

func (s *Socket) GetState() SocketState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Socket) GetQueueSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Socket) emitStateChange(state SocketState) {
	if s.opts.OnStateChange != nil {
		s.opts.OnStateChange(state)
	}
}

func (s *Socket) emitError(err error) {
	if s.opts.OnError != nil {
		s.opts.OnError(err)
	}
}

// Connect starts (or, from Closing, schedules a deferred reopen for) a
// connection attempt. It returns once the transition has been recorded;
// the attempt itself — preflight, dial, handshake — proceeds
// asynchronously and is reported via OnStateChange/OnError.
func (s *Socket) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case SocketIdle:
		s.state = SocketConnecting
		s.mu.Unlock()
		s.emitStateChange(SocketConnecting)
		go s.attemptConnect(ctx)
		return nil
	case SocketClosing:
		s.state = SocketRefreshing
		s.mu.Unlock()
		s.emitStateChange(SocketRefreshing)
		return nil
	default:
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("socket: Connect called in state %s", st)
	}
}

func (s *Socket) dialURL() (string, error) {
	if len(s.opts.Query) == 0 {
		return s.opts.URL, nil
	}
	u, err := url.Parse(s.opts.URL)
	if err != nil {
		return "", fmt.Errorf("socket: parsing URL: %w", err)
	}
	q := u.Query()
	for k, vs := range s.opts.Query {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// connectHeaders builds the headers for one connect attempt. When
// TokenProvider is set it is consulted fresh here — on every initial
// connect and every reconnect — so a refreshed token actually reaches the
// wire instead of the Socket forever resending the value it was
// constructed with.
func (s *Socket) connectHeaders(ctx context.Context) (http.Header, error) {
	h := http.Header{}
	h.Set("X-Protocol-Version", "2.0")
	for k, vs := range s.opts.Header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}

	token := s.opts.Token
	if s.opts.TokenProvider != nil {
		t, err := s.opts.TokenProvider(ctx)
		if err != nil {
			return nil, fmt.Errorf("socket: fetching bearer token: %w", err)
		}
		token = t
	}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h, nil
}

func (s *Socket) attemptConnect(ctx context.Context) {
	if checker := s.opts.ReconnectChecker; checker != nil {
		if err := checker(ctx); err != nil {
			s.abortConnect(err)
			return
		}
	}

	dialURL, err := s.dialURL()
	if err != nil {
		s.abortConnect(err)
		return
	}

	headers, err := s.connectHeaders(ctx)
	if err != nil {
		s.abortConnect(err)
		return
	}

	if !s.opts.SkipPreflight {
		if err := Preflight(ctx, dialURL, headers); err != nil {
			s.abortConnect(err)
			return
		}
	}

	conn, err := s.opts.Transport.Connect(ctx, dialURL, headers)
	if err != nil {
		s.abortConnect(err)
		return
	}
	s.onOpen(conn)
}

// abortConnect handles a failed connection attempt: Connecting reverts to
// Idle (the table's "close(non-recoverable)" branch applies equally to a
// failed dial, since no connection was ever established to later close),
// unless the user has already requested Close, in which case we honor that.
func (s *Socket) abortConnect(err error) {
	s.mu.Lock()
	s.state = SocketIdle
	s.mu.Unlock()
	s.emitStateChange(SocketIdle)
	s.emitError(err)
}

func (s *Socket) onOpen(conn Connection) {
	s.mu.Lock()
	if s.state == SocketClosing {
		// Close raced the in-flight attempt; discard the new connection
		// rather than adopting it as Connected. There is no read loop for
		// this connection to later report a close, so finish the
		// transition out of Closing here instead of leaving it stuck.
		s.mu.Unlock()
		conn.Close()
		s.finishClose()
		return
	}

	s.conn = conn
	s.state = SocketConnected
	s.generation++
	gen := s.generation
	s.opts.ReconnectPolicy.Reset()

	var toDrain []*Packet
	for _, p := range s.queue {
		if p.GetState() == PacketPending {
			toDrain = append(toDrain, p)
		}
	}
	s.mu.Unlock()

	s.emitStateChange(SocketConnected)

	for _, p := range toDrain {
		s.writePacket(context.Background(), p)
	}

	go s.readLoop(conn, gen)
}

func (s *Socket) writePacket(ctx context.Context, p *Packet) {
	s.mu.Lock()
	conn := s.conn
	seq := s.seq
	s.mu.Unlock()
	if conn == nil {
		return
	}

	m := p.SetSequenceNumber(seq)
	frame, err := EncodeMethod(m)
	if err != nil {
		s.failPacket(p, err)
		return
	}
	if err := conn.WriteFrame(ctx, frame); err != nil {
		s.failPacket(p, err)
		return
	}
	p.MarkSent()
}

func (s *Socket) failPacket(p *Packet, err error) {
	s.mu.Lock()
	ch := s.replyChans[p.ID()]
	delete(s.queue, p.ID())
	delete(s.replyChans, p.ID())
	s.mu.Unlock()
	if ch != nil {
		select {
		case ch <- replyOutcome{err: err}:
		default:
		}
	}
}

func (s *Socket) readLoop(conn Connection, gen int) {
	for {
		data, err := conn.ReadFrame(context.Background())
		if err != nil {
			s.handleConnError(gen, err)
			return
		}
		frame, err := DecodeFrame(data)
		if err != nil {
			s.emitError(err)
			continue
		}
		s.handleFrame(frame)
	}
}

func (s *Socket) handleFrame(frame *Frame) {
	if frame.Seq != nil {
		s.mu.Lock()
		if *frame.Seq > s.seq {
			s.seq = *frame.Seq
		}
		s.mu.Unlock()
	}

	switch {
	case frame.Reply != nil:
		s.handleReply(frame.Reply)
	case frame.Method != nil:
		if s.opts.OnPush != nil {
			s.opts.OnPush(*frame.Method)
		}
	}
}

func (s *Socket) handleReply(r *Reply) {
	s.mu.Lock()
	p, havePacket := s.queue[r.ID]
	ch, haveChan := s.replyChans[r.ID]
	delete(s.queue, r.ID)
	delete(s.replyChans, r.ID)
	s.mu.Unlock()

	if !havePacket {
		return // unknown or already-removed id: dropped on the floor
	}
	p.MarkReplied() // no-op if the packet was already Cancelled

	if !haveChan || p.GetState() != PacketReplied {
		return // the future already settled (e.g. a reply timeout detached it)
	}

	var out replyOutcome
	if r.Error != nil {
		out.err = &InteractiveError{Code: r.Error.Code, Message: r.Error.Message, Path: r.Error.Path}
	} else {
		out.result = r.Result
	}
	select {
	case ch <- out:
	default:
	}
}

func (s *Socket) handleConnError(gen int, err error) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return // superseded by a later connection; nothing to do
	}
	wasClosing := s.state == SocketClosing || s.state == SocketRefreshing
	s.mu.Unlock()

	if wasClosing {
		s.finishClose()
		return
	}

	var ce *CloseError
	recoverable := true
	if errors.As(err, &ce) {
		recoverable = isRecoverableCloseCode(ce.Code)
	}

	if recoverable {
		s.scheduleReconnect()
	} else {
		code, message := 0, err.Error()
		if ce != nil {
			code, message = ce.Code, ce.Text
		}
		s.failSocket(&InteractiveError{Code: code, Message: message})
	}
}

func (s *Socket) finishClose() {
	s.mu.Lock()
	wasRefreshing := s.state == SocketRefreshing
	s.conn = nil
	if wasRefreshing {
		s.state = SocketConnecting
	} else {
		s.state = SocketIdle
	}
	s.mu.Unlock()

	if wasRefreshing {
		s.emitStateChange(SocketConnecting)
		go s.attemptConnect(context.Background())
	} else {
		s.emitStateChange(SocketIdle)
	}
}

func (s *Socket) scheduleReconnect() {
	s.mu.Lock()
	s.conn = nil
	s.state = SocketReconnecting
	delay := s.opts.ReconnectPolicy.Next()
	s.timer = time.AfterFunc(delay, s.onReconnectTimer)
	s.mu.Unlock()
	s.emitStateChange(SocketReconnecting)
}

func (s *Socket) onReconnectTimer() {
	s.mu.Lock()
	if s.state != SocketReconnecting {
		s.mu.Unlock()
		return
	}
	s.state = SocketConnecting
	s.timer = nil
	s.mu.Unlock()
	s.emitStateChange(SocketConnecting)

	if !s.opts.ReconnectLimiter.Allow() {
		s.scheduleReconnect()
		return
	}
	s.attemptConnect(context.Background())
}

// failSocket handles a non-recoverable close: every queued packet is
// cancelled, the Socket returns to Idle, and the typed error is reported
// once via OnError rather than once per packet.
func (s *Socket) failSocket(err error) {
	s.mu.Lock()
	s.conn = nil
	s.state = SocketIdle
	packets := make([]*Packet, 0, len(s.queue))
	for _, p := range s.queue {
		packets = append(packets, p)
	}
	s.queue = make(map[uint32]*Packet)
	s.replyChans = make(map[uint32]chan replyOutcome)
	s.mu.Unlock()

	for _, p := range packets {
		p.Cancel()
	}
	s.emitError(err)
	s.emitStateChange(SocketIdle)
}

// Close tears the Socket down: Connected sends a normal-closure frame and
// cancels every queued packet; Reconnecting cancels the pending timer and
// returns directly to Idle; Connecting marks the in-flight attempt to be
// discarded on arrival (see onOpen).
func (s *Socket) Close() error {
	s.mu.Lock()
	switch s.state {
	case SocketConnected:
		conn := s.conn
		s.state = SocketClosing
		packets := make([]*Packet, 0, len(s.queue))
		for _, p := range s.queue {
			packets = append(packets, p)
		}
		s.queue = make(map[uint32]*Packet)
		s.replyChans = make(map[uint32]chan replyOutcome)
		s.mu.Unlock()

		for _, p := range packets {
			p.Cancel()
		}
		s.emitStateChange(SocketClosing)
		if conn != nil {
			return conn.Close()
		}
		return nil

	case SocketReconnecting:
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		s.state = SocketIdle
		packets := make([]*Packet, 0, len(s.queue))
		for _, p := range s.queue {
			packets = append(packets, p)
		}
		s.queue = make(map[uint32]*Packet)
		s.replyChans = make(map[uint32]chan replyOutcome)
		s.mu.Unlock()

		for _, p := range packets {
			p.Cancel()
		}
		s.emitStateChange(SocketIdle)
		return nil

	case SocketConnecting:
		s.state = SocketClosing
		s.mu.Unlock()
		s.emitStateChange(SocketClosing)
		return nil

	case SocketIdle:
		s.mu.Unlock()
		return nil

	default:
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("socket: Close called in state %s", st)
	}
}

// Execute builds a Method named name from params, wraps it in a Packet
// (timeoutMS overrides the Socket's default reply timeout when non-nil),
// and sends it. Unless discard is set, it blocks until the Reply arrives,
// the packet is cancelled, the Socket closes, ctx is done, or the
// relevant timeout elapses. A discard call expects no Reply: it resolves
// with (nil, nil) as soon as the frame is written.
func (s *Socket) Execute(ctx context.Context, name string, params []byte, discard bool, timeoutMS *int) ([]byte, error) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.mu.Unlock()

	packet := NewPacket(Method{ID: id, Name: name, Params: params, Discard: discard}, timeoutMS)
	return s.send(ctx, packet)
}

func (s *Socket) send(ctx context.Context, p *Packet) ([]byte, error) {
	if p.GetState() == PacketCancelled {
		return nil, &CancelledError{Reason: "packet cancelled before send"}
	}

	replyCh := make(chan replyOutcome, 1)

	s.mu.Lock()
	s.queue[p.ID()] = p
	s.replyChans[p.ID()] = replyCh
	connected := s.state == SocketConnected
	s.mu.Unlock()

	if !connected {
		select {
		case <-p.OnSend():
			// drained by a later open; fall through to await the reply
		case <-p.OnCancel():
			s.removePacket(p.ID())
			return nil, &CancelledError{Reason: "packet cancelled while queued"}
		case <-time.After(s.opts.QueueTimeout):
			s.detachReplyChan(p.ID())
			return nil, &TimeoutError{Method: p.method.Name, Timeout: s.opts.QueueTimeout.String()}
		case <-ctx.Done():
			s.removePacket(p.ID())
			return nil, ctx.Err()
		}
	} else if p.GetState() == PacketPending {
		s.writePacket(ctx, p)
	}

	// A discard request gets no reply: once the frame is actually on the
	// wire, the future resolves immediately rather than waiting out a
	// reply timeout that will never be satisfied (spec.md §3/§4.5).
	if p.method.Discard && p.GetState() == PacketSending {
		s.removePacket(p.ID())
		return nil, nil
	}

	timeout := time.Duration(p.GetTimeout(int(s.opts.ReplyTimeout.Milliseconds()))) * time.Millisecond
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-replyCh:
		return out.result, out.err
	case <-p.OnCancel():
		s.removePacket(p.ID())
		return nil, &CancelledError{Reason: "packet cancelled"}
	case <-timer.C:
		// A reply timeout does not cancel the packet — it may still be
		// in flight on the server — but the local listener is detached.
		s.detachReplyChan(p.ID())
		return nil, &TimeoutError{Method: p.method.Name, Timeout: timeout.String()}
	case <-ctx.Done():
		s.removePacket(p.ID())
		return nil, ctx.Err()
	}
}

func (s *Socket) removePacket(id uint32) {
	s.mu.Lock()
	delete(s.queue, id)
	delete(s.replyChans, id)
	s.mu.Unlock()
}

func (s *Socket) detachReplyChan(id uint32) {
	s.mu.Lock()
	delete(s.replyChans, id)
	s.mu.Unlock()
}
