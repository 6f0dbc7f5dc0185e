package sim

import (
	"context"
	"fmt"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Bind retry policy: exponential backoff starting at bindBackoffStart,
// giving up once the total wait would exceed bindBackoffTotal.
const (
	bindBackoffStart = 50 * time.Millisecond
	bindBackoffTotal = 3 * time.Second
)

// updateInterval is the cadence of the periodic Strategy.Update hook.
const updateInterval = 100 * time.Millisecond

// arrivalsDepth bounds the decode-to-service handoff. Readers block when it
// fills, which propagates backpressure into the senders' TCP streams.
const arrivalsDepth = 1024

// A ServerQueue is one server: a bounded buffer, an AQM strategy and a
// service loop draining the buffer at the configured bandwidth. Queue and
// strategy state are owned by the single service goroutine; connection
// readers only decode frames and forward them.
type ServerQueue struct {
	id           uint32
	capacity     int
	bandwidthPPS float64

	clock    *Clock
	sink     EventSink
	strategy Strategy
	queue    PacketQueue

	ln       net.Listener
	arrivals chan Packet

	// queueLen mirrors the occupancy for observers outside the service
	// goroutine.
	queueLen atomic.Int64

	// Sojourn accumulation between Update hooks.
	recentSojourn time.Duration
	recentCount   int

	wg     sync.WaitGroup
	connWG sync.WaitGroup
}

// NewServerQueue creates a server with its own strategy instance. The
// strategy must not be shared with another server.
func NewServerQueue(
	id uint32,
	capacity int,
	bandwidthPPS float64,
	strategy Strategy,
	clock *Clock,
	sink EventSink,
) *ServerQueue {
	s := &ServerQueue{
		id:           id,
		capacity:     capacity,
		bandwidthPPS: bandwidthPPS,
		clock:        clock,
		sink:         sink,
		strategy:     strategy,
		arrivals:     make(chan Packet, arrivalsDepth),
	}

	if owner, ok := strategy.(QueueOwner); ok {
		s.queue = owner.OwnQueue()
	} else {
		s.queue = NewPacketBuffer(fmt.Sprintf("server-%d", id), capacity)
	}

	return s
}

// ID returns the server id.
func (s *ServerQueue) ID() uint32 {
	return s.id
}

// Bind binds the listener on 127.0.0.1:port, retrying with exponential
// backoff so back-to-back runs tolerate a brief port reuse delay.
func (s *ServerQueue) Bind(port int) error {
	var err error

	backoff := bindBackoffStart
	waited := time.Duration(0)

	for {
		var ln net.Listener
		ln, err = net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			s.ln = ln
			return nil
		}

		if waited+backoff > bindBackoffTotal {
			return &BindError{Port: port, Err: err}
		}

		time.Sleep(backoff)
		waited += backoff
		backoff *= 2
	}
}

// Port returns the actually bound port. Valid after Bind.
func (s *ServerQueue) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// QueueLen returns the current occupancy. Safe from any goroutine.
func (s *ServerQueue) QueueLen() int {
	return int(s.queueLen.Load())
}

// QueueCapacity returns the buffer bound.
func (s *ServerQueue) QueueCapacity() int {
	return s.capacity
}

// Strategy exposes the strategy instance for live state inspection. The
// service goroutine remains the only writer.
func (s *ServerQueue) Strategy() Strategy {
	return s.strategy
}

// Start launches the accept and service loops. Both stop when ctx is
// cancelled; the orchestrator delays that cancellation past the agents'
// shutdown so in-flight arrivals can land.
func (s *ServerQueue) Start(ctx context.Context) {
	s.wg.Add(2)

	go s.acceptLoop(ctx)
	go s.serviceLoop(ctx)
}

// Close releases the listener. Needed when a run fails before Start.
func (s *ServerQueue) Close() error {
	if s.ln == nil {
		return nil
	}

	return s.ln.Close()
}

// Wait blocks until both loops have exited.
func (s *ServerQueue) Wait() {
	s.wg.Wait()
}

func (s *ServerQueue) acceptLoop(ctx context.Context) {
	defer s.wg.Done()

	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			// Listener closed by cancellation.
			s.connWG.Wait()
			return
		}

		s.connWG.Add(1)
		go s.readLoop(ctx, conn)
	}
}

// readLoop decodes frames from one agent connection and forwards them to the
// service goroutine. It never touches queue or strategy state.
func (s *ServerQueue) readLoop(ctx context.Context, conn net.Conn) {
	defer s.connWG.Done()
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	r := NewPacketReader(conn)
	for {
		p, err := r.Read()
		if err != nil {
			return
		}

		select {
		case s.arrivals <- p:
		case <-ctx.Done():
			return
		}
	}
}

func (s *ServerQueue) serviceLoop(ctx context.Context) {
	defer s.wg.Done()

	update := time.NewTicker(updateInterval)
	defer update.Stop()

	if math.IsInf(s.bandwidthPPS, 1) {
		s.serviceUnbounded(ctx, update)
		return
	}

	cadence := time.Duration(float64(time.Second) / s.bandwidthPPS)
	if cadence <= 0 {
		cadence = time.Nanosecond
	}
	service := time.NewTicker(cadence)
	defer service.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case p := <-s.arrivals:
			s.admit(p)
		case <-service.C:
			s.serveOne()
		case <-update.C:
			s.updateStrategy()
		}
	}
}

// serviceUnbounded is the bandwidth_pps = +Inf mode: every accepted packet
// is served immediately, so nothing ever queues.
func (s *ServerQueue) serviceUnbounded(
	ctx context.Context,
	update *time.Ticker,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-s.arrivals:
			s.admit(p)
			for s.queue.Len() > 0 {
				s.serveOne()
			}
		case <-update.C:
			s.updateStrategy()
		}
	}
}

// admit applies the accept protocol: strategy decision first, then the
// capacity bound.
func (s *ServerQueue) admit(p Packet) {
	if p.DestServer != s.id {
		// The transport is one-to-one per agent, so this cannot happen
		// unless a frame was corrupted. Count it against capacity rather
		// than poisoning the queue invariant.
		s.sink.Emit(Event{
			Kind: DropCapacity, ServerID: s.id, AgentID: p.SourceAgent,
			At: s.clock.Now(),
		})
		return
	}

	now := s.clock.Now()
	qlen := s.queue.Len()

	if s.strategy.OnEnqueue(&p, qlen, now) == Drop {
		s.sink.Emit(Event{
			Kind: DropStrategy, ServerID: s.id, AgentID: p.SourceAgent,
			At: now,
		})
		return
	}

	if qlen >= s.capacity {
		if o, ok := s.strategy.(OverflowObserver); ok {
			o.OnOverflow(now)
		}
		s.sink.Emit(Event{
			Kind: DropCapacity, ServerID: s.id, AgentID: p.SourceAgent,
			At: now,
		})
		return
	}

	s.queue.Push(p, now)
	s.queueLen.Store(int64(s.queue.Len()))

	s.sink.Emit(Event{
		Kind: QueueSample, ServerID: s.id, AgentID: p.SourceAgent,
		At: now, QueueLen: s.queue.Len(),
	})
}

// serveOne performs one service tick.
func (s *ServerQueue) serveOne() {
	now := s.clock.Now()

	p, dropped, ok := s.queue.Pop(now)

	for _, d := range dropped {
		s.sink.Emit(Event{
			Kind: DropStrategy, ServerID: s.id, AgentID: d.SourceAgent,
			At: now,
		})
	}

	s.queueLen.Store(int64(s.queue.Len()))

	if !ok {
		if o, okIdle := s.strategy.(IdleObserver); okIdle {
			o.OnIdle(now)
		}
		s.sink.Emit(Event{Kind: Idle, ServerID: s.id, At: now})
		return
	}

	sojourn := p.Sojourn(now)
	s.recentSojourn += sojourn
	s.recentCount++

	s.sink.Emit(Event{
		Kind: PacketDelivered, ServerID: s.id, AgentID: p.SourceAgent,
		At: now, Sojourn: sojourn,
	})

	s.strategy.OnDequeue(s.queue.Len(), now)
}

// updateStrategy fires the periodic hook with the mean sojourn of packets
// dequeued since the previous update.
func (s *ServerQueue) updateStrategy() {
	now := s.clock.Now()

	var avg time.Duration
	if s.recentCount > 0 {
		avg = s.recentSojourn / time.Duration(s.recentCount)
	}
	s.recentSojourn = 0
	s.recentCount = 0

	s.strategy.Update(s.queue.Len(), avg, now)
}
