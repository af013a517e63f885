package rpc

import "sync"

// PacketState is a Packet's position in its lifecycle: Pending -> Sending ->
// {Cancelled, Replied}. Once Cancelled or Replied, no further transitions
// occur.
type PacketState int

const (
	PacketPending PacketState = iota
	PacketSending
	PacketCancelled
	PacketReplied
)

func (s PacketState) String() string {
	switch s {
	case PacketPending:
		return "Pending"
	case PacketSending:
		return "Sending"
	case PacketCancelled:
		return "Cancelled"
	case PacketReplied:
		return "Replied"
	default:
		return "Unknown"
	}
}

// Packet is the envelope the Socket queues around one outbound Method. It
// owns exactly one Method, tracks lifecycle state, and exposes two one-shot
// signal channels (onSend, onCancel) a Socket can select on while the
// packet is queued. A Packet holds no back-reference to the Socket; the
// Socket holds Packets, never the reverse, so the two can be torn down
// independently.
type Packet struct {
	method Method

	mu       sync.Mutex
	state    PacketState
	timeout  *int // milliseconds, nil means "use the Socket default"
	onSend   chan struct{}
	onCancel chan struct{}
}

// NewPacket wraps m in a fresh Packet in state Pending. timeoutMS, if
// non-nil, overrides the Socket's default reply timeout for this packet
// only.
func NewPacket(m Method, timeoutMS *int) *Packet {
	return &Packet{
		method:   m,
		state:    PacketPending,
		timeout:  timeoutMS,
		onSend:   make(chan struct{}),
		onCancel: make(chan struct{}),
	}
}

// ID returns the packet's stable identity: its Method's id.
func (p *Packet) ID() uint32 {
	return p.method.ID
}

func (p *Packet) GetState() PacketState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// SetState forces a transition. Callers (the Socket) are responsible for
// only calling this along legal edges; SetState itself does not validate
// the transition, matching the source's permissive setter.
func (p *Packet) SetState(s PacketState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = s
}

// GetTimeout returns the packet-specific override if one was set at
// creation, otherwise def.
func (p *Packet) GetTimeout(def int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timeout != nil {
		return *p.timeout
	}
	return def
}

// OnSend returns the channel that closes exactly once, the moment the
// Socket writes this packet's frame to the wire.
func (p *Packet) OnSend() <-chan struct{} {
	return p.onSend
}

// OnCancel returns the channel that closes exactly once, the moment the
// packet is cancelled (explicitly or via Socket close).
func (p *Packet) OnCancel() <-chan struct{} {
	return p.onCancel
}

// MarkSent transitions the packet to Sending and fires onSend. A no-op if
// the packet has already left Pending (e.g. it was cancelled first).
func (p *Packet) MarkSent() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != PacketPending {
		return
	}
	p.state = PacketSending
	close(p.onSend)
}

// MarkReplied transitions the packet to Replied. Idempotent: a packet
// already in Cancelled or Replied is left alone, so a reply racing a
// cancellation never resurrects a cancelled future.
func (p *Packet) MarkReplied() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == PacketCancelled || p.state == PacketReplied {
		return
	}
	p.state = PacketReplied
}

// Cancel transitions the packet to Cancelled and fires onCancel. Idempotent:
// calling Cancel more than once, or on an already-Replied packet, does
// nothing further. Cancel always wins over a pending reply observed at the
// same time.
func (p *Packet) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == PacketCancelled || p.state == PacketReplied {
		return
	}
	p.state = PacketCancelled
	close(p.onCancel)
}

// SetSequenceNumber stamps the packet's Method with the Socket's current
// sequence number and returns the wire-ready Method, matching the source's
// "stamp then serialize" step performed immediately before a frame is
// written.
func (p *Packet) SetSequenceNumber(n uint32) Method {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.method.Seq = n
	return p.method
}
