package session

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/candorlabs/go-sonant/pkg/audioio"
)

// DefaultCaptureQueueDepth bounds the capture-to-transport handoff queue.
const DefaultCaptureQueueDepth = 32

// chunkSender is the transport surface the capture pipeline needs.
type chunkSender interface {
	SendAudioChunk(pcm []byte) error
}

// capturePipeline moves capture windows from the source to the transport.
// The handoff is a bounded queue drained by a separate sender goroutine:
// the capture side never blocks on network backpressure, windows are
// dropped and counted instead.
type capturePipeline struct {
	logger *slog.Logger
	source audioio.Source
	sender chunkSender
	depth  int

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	windowsSent atomic.Int64
	overruns    atomic.Int64
}

func newCapturePipeline(source audioio.Source, sender chunkSender, depth int, logger *slog.Logger) *capturePipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if depth <= 0 {
		depth = DefaultCaptureQueueDepth
	}

	return &capturePipeline{
		logger: logger,
		source: source,
		sender: sender,
		depth:  depth,
	}
}

// start arms the pipeline. The source must already be capturing.
func (p *capturePipeline) start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})

	queue := make(chan []byte, p.depth)
	stream := p.source.Stream()
	stopCh := p.stopCh

	p.wg.Add(2)
	go p.readLoop(stream, queue, stopCh)
	go p.sendLoop(queue, stopCh)
}

// readLoop frames capture windows into wire bytes and enqueues them without
// blocking. A full queue drops the window.
func (p *capturePipeline) readLoop(stream <-chan audioio.AudioChunk, queue chan<- []byte, stopCh <-chan struct{}) {
	defer p.wg.Done()
	defer close(queue)

	for {
		select {
		case <-stopCh:
			return
		case chunk, ok := <-stream:
			if !ok {
				return
			}
			select {
			case queue <- chunk.Bytes():
			default:
				p.overruns.Add(1)
				p.logger.Debug("capture queue full, dropping window")
			}
		}
	}
}

// sendLoop drains the queue onto the transport. Send failures are logged
// and dropped; the transport reports fatal faults through its own event
// stream.
func (p *capturePipeline) sendLoop(queue <-chan []byte, stopCh <-chan struct{}) {
	defer p.wg.Done()

	for {
		select {
		case <-stopCh:
			return
		case data, ok := <-queue:
			if !ok {
				return
			}
			if err := p.sender.SendAudioChunk(data); err != nil {
				p.logger.Debug("audio chunk send failed", "error", err)
				continue
			}
			p.windowsSent.Add(1)
		}
	}
}

// stop disarms the pipeline and waits for its goroutines. Safe to call
// multiple times.
func (p *capturePipeline) stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
}

// captureStats is a point-in-time snapshot of pipeline counters.
type captureStats struct {
	WindowsSent int64
	Overruns    int64
}

func (p *capturePipeline) stats() captureStats {
	return captureStats{
		WindowsSent: p.windowsSent.Load(),
		Overruns:    p.overruns.Load(),
	}
}
