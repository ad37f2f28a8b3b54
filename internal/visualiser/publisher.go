// Package visualiser streams odometry frames to out-of-process viewers over
// a server-streaming gRPC service.
package visualiser

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/banshee-data/scanmatch/internal/geom"
	"github.com/banshee-data/scanmatch/internal/monitoring"
	"github.com/banshee-data/scanmatch/internal/scanwire"
	"github.com/banshee-data/scanmatch/internal/timeutil"
)

var logf = monitoring.Tagged("Visualiser")

// ErrAlreadyRunning is returned by Start when the publisher is serving.
var ErrAlreadyRunning = errors.New("publisher already running")

// Config holds configuration for the publisher.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "localhost:50051")
	ListenAddr string

	// MaxClients is the maximum number of concurrent streaming clients
	MaxClients int

	// QueueSize bounds both the shared frame queue and each client's queue.
	QueueSize int

	// StatsInterval is how often throughput is logged; zero disables it.
	StatsInterval time.Duration
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:    "localhost:50051",
		MaxClients:    5,
		QueueSize:     16,
		StatsInterval: 5 * time.Second,
	}
}

// Publisher manages the gRPC server and frame fan-out.
type Publisher struct {
	config   Config
	clock    timeutil.Clock
	server   *grpc.Server
	listener net.Listener

	frameChan chan *scanwire.Frame
	clients   map[uint64]*clientStream
	clientsMu sync.RWMutex
	nextID    atomic.Uint64

	frameCount    atomic.Uint64
	clientCount   atomic.Int32
	droppedFrames atomic.Uint64

	lastStatsMu    sync.Mutex
	lastStatsTime  time.Time
	lastFrameCount uint64

	running atomic.Bool
	stopMu  sync.Mutex
	stopCh  chan struct{} // replaced on every start
	wg      sync.WaitGroup
}

// clientStream is one connected subscriber.
type clientStream struct {
	id      uint64
	name    string
	request scanwire.SubscribeRequest
	frameCh chan *scanwire.Frame
	dropped atomic.Uint64
}

// NewPublisher creates a Publisher. Non-positive sizes fall back to the
// defaults.
func NewPublisher(cfg Config) *Publisher {
	def := DefaultConfig()
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = def.MaxClients
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	return &Publisher{
		config:    cfg,
		clock:     timeutil.RealClock{},
		frameChan: make(chan *scanwire.Frame, cfg.QueueSize),
		clients:   make(map[uint64]*clientStream),
	}
}

// SetClock replaces the clock used for stats logging.
func (p *Publisher) SetClock(c timeutil.Clock) { p.clock = c }

// Start listens on Config.ListenAddr and serves in the background.
func (p *Publisher) Start() error {
	if p.running.Load() {
		return ErrAlreadyRunning
	}
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", p.config.ListenAddr, err)
	}
	return p.StartOn(lis)
}

// StartOn serves on an existing listener in the background. The publisher
// takes ownership of lis.
func (p *Publisher) StartOn(lis net.Listener) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	stop := make(chan struct{})
	p.stopMu.Lock()
	p.stopCh = stop
	p.stopMu.Unlock()
	p.drainQueue()

	p.listener = lis
	p.server = grpc.NewServer()
	RegisterScanStreamServer(p.server, p)

	p.wg.Add(1)
	go p.broadcastLoop(stop)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		logf("gRPC server listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			logf("gRPC server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the listening address, or nil before Start.
func (p *Publisher) Addr() net.Addr {
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// Stop ends every stream and stops the server.
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.stopped())
	if p.server != nil {
		p.server.GracefulStop()
	}
	p.wg.Wait()
	logf("gRPC server stopped")
}

// Publish queues a frame for every subscriber. It never blocks: when the
// shared queue is full the frame is dropped and counted.
func (p *Publisher) Publish(frame *scanwire.Frame) {
	if frame == nil || !p.running.Load() {
		return
	}
	select {
	case p.frameChan <- frame:
		count := p.frameCount.Add(1)
		p.logPeriodicStats(count)
	default:
		dropped := p.droppedFrames.Add(1)
		logf("DROPPED frame %d (total dropped: %d), queue full", frame.Seq, dropped)
	}
}

func (p *Publisher) logPeriodicStats(frameCount uint64) {
	if p.config.StatsInterval <= 0 {
		return
	}
	p.lastStatsMu.Lock()
	defer p.lastStatsMu.Unlock()

	now := p.clock.Now()
	if p.lastStatsTime.IsZero() {
		p.lastStatsTime = now
		p.lastFrameCount = frameCount
		return
	}
	elapsed := now.Sub(p.lastStatsTime)
	if elapsed < p.config.StatsInterval {
		return
	}
	frames := frameCount - p.lastFrameCount
	logf("Stats: fps=%.1f frames=%d dropped=%d clients=%d",
		float64(frames)/elapsed.Seconds(), frames, p.droppedFrames.Load(), p.clientCount.Load())
	p.lastStatsTime = now
	p.lastFrameCount = frameCount
}

// stopped returns the channel closed by the next Stop.
func (p *Publisher) stopped() chan struct{} {
	p.stopMu.Lock()
	defer p.stopMu.Unlock()
	return p.stopCh
}

// drainQueue discards frames queued before a restart.
func (p *Publisher) drainQueue() {
	for {
		select {
		case <-p.frameChan:
		default:
			return
		}
	}
}

func (p *Publisher) broadcastLoop(stop <-chan struct{}) {
	defer p.wg.Done()
	for {
		select {
		case <-stop:
			return
		case frame := <-p.frameChan:
			p.fanOut(frame)
		}
	}
}

// fanOut hands frame to every client queue, dropping it for clients whose
// queue is full.
func (p *Publisher) fanOut(frame *scanwire.Frame) {
	p.clientsMu.RLock()
	defer p.clientsMu.RUnlock()
	for _, c := range p.clients {
		select {
		case c.frameCh <- frame:
		default:
			c.dropped.Add(1)
			p.droppedFrames.Add(1)
		}
	}
}

func (p *Publisher) addClient(req *scanwire.SubscribeRequest) (*clientStream, error) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if len(p.clients) >= p.config.MaxClients {
		return nil, status.Errorf(codes.ResourceExhausted, "client limit %d reached", p.config.MaxClients)
	}
	c := &clientStream{
		id:      p.nextID.Add(1),
		name:    req.Client,
		request: *req,
		frameCh: make(chan *scanwire.Frame, p.config.QueueSize),
	}
	if c.name == "" {
		c.name = fmt.Sprintf("client-%d", c.id)
	}
	p.clients[c.id] = c
	p.clientCount.Add(1)
	logf("Client connected: %s cloud=%v (total: %d)", c.name, req.IncludeCloud, len(p.clients))
	return c, nil
}

func (p *Publisher) removeClient(c *clientStream) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if _, ok := p.clients[c.id]; !ok {
		return
	}
	delete(p.clients, c.id)
	p.clientCount.Add(-1)
	logf("Client disconnected: %s dropped=%d (remaining: %d)", c.name, c.dropped.Load(), len(p.clients))
}

// Subscribe implements ScanStreamServer.
func (p *Publisher) Subscribe(req *scanwire.SubscribeRequest, stream FrameSender) error {
	c, err := p.addClient(req)
	if err != nil {
		return err
	}
	defer p.removeClient(c)

	ctx := stream.Context()
	stop := p.stopped()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		case frame := <-c.frameCh:
			if !c.request.IncludeCloud && !frame.Cloud.IsEmpty() {
				stripped := *frame
				stripped.Cloud = geom.PointCloud{}
				frame = &stripped
			}
			if err := stream.Send(frame); err != nil {
				return err
			}
		}
	}
}

// Stats returns current publisher statistics.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		FrameCount:    p.frameCount.Load(),
		ClientCount:   p.clientCount.Load(),
		DroppedFrames: p.droppedFrames.Load(),
		Running:       p.running.Load(),
	}
}

// PublisherStats contains publisher statistics.
type PublisherStats struct {
	FrameCount    uint64 `json:"frame_count"`
	ClientCount   int32  `json:"client_count"`
	DroppedFrames uint64 `json:"dropped_frames"`
	Running       bool   `json:"running"`
}
