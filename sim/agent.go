package sim

import (
	"context"
	"net"
	"time"
)

// Reconnect policy after a transport reset.
const (
	reconnectAttempts = 3
	reconnectBackoff  = 100 * time.Millisecond
)

// An Agent drives one traffic generator and emits packets to its assigned
// server over a persistent TCP stream. Sending is fire-and-forget: drops at
// the server are observed through metrics, never through acknowledgments.
// When the server's socket buffer fills, the write blocks; that backpressure
// is part of the model.
type Agent struct {
	id         uint32
	serverID   uint32
	addr       string
	packetSize uint32

	clock *Clock
	gen   TrafficGenerator
	sink  EventSink

	seq  uint64
	conn net.Conn
	dead bool
	wbuf []byte

	timer *time.Timer
}

// NewAgent creates an agent that sends to the server listening on addr.
func NewAgent(
	id uint32,
	serverID uint32,
	addr string,
	packetSize uint32,
	clock *Clock,
	gen TrafficGenerator,
	sink EventSink,
) *Agent {
	return &Agent{
		id:         id,
		serverID:   serverID,
		addr:       addr,
		packetSize: packetSize,
		clock:      clock,
		gen:        gen,
		sink:       sink,
		wbuf:       make([]byte, 0, packetSize),
	}
}

// ID returns the agent id.
func (a *Agent) ID() uint32 {
	return a.id
}

// ServerID returns the id of the assigned server.
func (a *Agent) ServerID() uint32 {
	return a.serverID
}

// Run generates and sends packets until ctx is cancelled. Every suspension
// point honors the cancellation; after cancellation the agent performs no
// further emits. The connection is closed on return.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.connect(ctx); err != nil {
		// The server never came up for this agent; everything it would
		// have sent is transport loss, but without a schedule there is
		// nothing to account. Surface the error instead.
		return err
	}

	defer func() {
		if a.conn != nil {
			a.conn.Close()
		}
	}()

	a.timer = time.NewTimer(0)
	if !a.timer.Stop() {
		<-a.timer.C
	}
	defer a.timer.Stop()

	for {
		if err := a.pause(ctx, a.gen.NextDelay()); err != nil {
			return nil
		}

		a.sendOne(ctx)
	}
}

// pause suspends for d or until cancellation, whichever comes first.
func (a *Agent) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		// Back-to-back burst packets still yield to cancellation.
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}

	a.timer.Reset(d)
	select {
	case <-ctx.Done():
		if !a.timer.Stop() {
			<-a.timer.C
		}
		return ctx.Err()
	case <-a.timer.C:
		return nil
	}
}

// sendOne builds the next packet and hands it to the transport.
func (a *Agent) sendOne(ctx context.Context) {
	a.seq++
	p := Packet{
		SourceAgent: a.id,
		DestServer:  a.serverID,
		Sequence:    a.seq,
		SizeBytes:   a.packetSize,
		SentAt:      a.clock.Now(),
	}

	if a.dead {
		a.sink.Emit(Event{
			Kind: DropTransport, ServerID: a.serverID, AgentID: a.id,
			At: p.SentAt,
		})
		return
	}

	a.wbuf = AppendPacket(a.wbuf[:0], p)

	if err := a.write(a.wbuf); err != nil {
		if ctx.Err() != nil {
			// Cancellation broke the write; no further emits.
			return
		}

		if err := a.reconnect(ctx); err != nil {
			// Connection is gone for good; count this and every later
			// packet as transport drops.
			a.dead = true
			a.sink.Emit(Event{
				Kind: DropTransport, ServerID: a.serverID, AgentID: a.id,
				At: p.SentAt,
			})
			return
		}

		if err := a.write(a.wbuf); err != nil {
			if ctx.Err() != nil {
				return
			}
			a.dead = true
			a.sink.Emit(Event{
				Kind: DropTransport, ServerID: a.serverID, AgentID: a.id,
				At: p.SentAt,
			})
			return
		}
	}

	a.sink.Emit(Event{
		Kind: PacketSent, ServerID: a.serverID, AgentID: a.id, At: p.SentAt,
	})
}

func (a *Agent) write(frame []byte) error {
	for len(frame) > 0 {
		n, err := a.conn.Write(frame)
		frame = frame[n:]
		if err != nil {
			return err
		}
	}

	return nil
}

// connect dials the assigned server, retrying briefly so agents that start
// while listeners are still settling do not fail the run.
func (a *Agent) connect(ctx context.Context) error {
	var err error
	for attempt := 0; attempt < reconnectAttempts; attempt++ {
		var d net.Dialer
		var conn net.Conn

		conn, err = d.DialContext(ctx, "tcp", a.addr)
		if err == nil {
			a.conn = conn
			// A write blocked on transport backpressure must still honor
			// shutdown; closing the stream unblocks it.
			context.AfterFunc(ctx, func() { conn.Close() })
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectBackoff):
		}
	}

	return err
}

// reconnect replaces a dead connection, up to reconnectAttempts tries with
// reconnectBackoff between them.
func (a *Agent) reconnect(ctx context.Context) error {
	a.conn.Close()
	a.conn = nil

	if err := a.connect(ctx); err != nil {
		return err
	}

	return nil
}
