package audioio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
)

// DeviceSource captures audio from the default microphone by running an
// external capture tool (arecord) and framing its raw PCM16 output into
// fixed-size windows.
type DeviceSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	streamCh chan AudioChunk
	cmd      *exec.Cmd
	stdout   io.ReadCloser

	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

// NewDeviceSource creates a capture source backed by arecord.
func NewDeviceSource(cfg Config, logger *slog.Logger) (*DeviceSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeviceSource{
		cfg:      cfg,
		logger:   logger,
		streamCh: make(chan AudioChunk, 10),
	}, nil
}

// Start launches the capture process and begins framing windows.
// Returns ErrDeviceUnavailable (wrapped) when the device cannot be opened.
func (s *DeviceSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	device := s.cfg.Device
	if device == "" {
		device = "default"
	}

	cmd := exec.Command("arecord",
		"-q",
		"-D", device,
		"-f", "S16_LE",
		"-r", strconv.Itoa(s.cfg.SampleRate),
		"-c", strconv.Itoa(s.cfg.Channels),
		"-t", "raw",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: stdout pipe: %v", ErrDeviceUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	s.cmd = cmd
	s.stdout = stdout
	s.running = true
	s.streamCh = make(chan AudioChunk, 10)

	go s.readLoop(stdout, s.streamCh)

	s.logger.Info("device capture started",
		"device", device,
		"sample_rate", s.cfg.SampleRate,
		"window_samples", s.cfg.WindowSamples,
	)

	return nil
}

// readLoop frames raw PCM into fixed windows. Runs until the process exits
// or the source is stopped. Dropped windows count as overruns; the consumer
// is never allowed to stall capture.
func (s *DeviceSource) readLoop(r io.Reader, ch chan<- AudioChunk) {
	window := make([]byte, s.cfg.WindowBytes())
	for {
		if _, err := io.ReadFull(r, window); err != nil {
			s.mu.Lock()
			if s.running {
				s.running = false
				close(ch)
			}
			s.mu.Unlock()
			return
		}

		var chunk AudioChunk
		chunk.FromBytes(window, s.cfg.SampleRate, s.cfg.Channels)

		// Guarded send: Stop closes the channel under the same lock.
		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			return
		}
		select {
		case ch <- chunk:
			s.chunksRead.Add(1)
			s.samplesRead.Add(int64(len(chunk.Samples)))
		default:
			s.overruns.Add(1)
		}
		s.mu.Unlock()
	}
}

// Stop halts capture and kills the capture process.
func (s *DeviceSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	if s.stdout != nil {
		s.stdout.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
		s.cmd.Wait()
	}
	s.cmd = nil
	s.stdout = nil
	close(s.streamCh)

	s.logger.Info("device capture stopped")
	return nil
}

// Stream returns the capture window channel.
func (s *DeviceSource) Stream() <-chan AudioChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamCh
}

// Config returns the audio configuration.
func (s *DeviceSource) Config() Config {
	return s.cfg
}

// Name returns "device".
func (s *DeviceSource) Name() string {
	return "device"
}

// Close releases resources.
func (s *DeviceSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.Stop()
}

// Stats returns source statistics.
func (s *DeviceSource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return SourceStats{
		ChunksRead:  s.chunksRead.Load(),
		SamplesRead: s.samplesRead.Load(),
		Overruns:    s.overruns.Load(),
		Running:     running,
		Backend:     "device",
	}
}

var _ SourceWithStats = (*DeviceSource)(nil)

// DeviceSink plays audio through ffplay, writing raw PCM16 to its stdin.
type DeviceSink struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	cmd     *exec.Cmd
	stdin   io.WriteCloser

	chunksWritten atomic.Int64
	bytesWritten  atomic.Int64
}

// NewDeviceSink creates a playback sink backed by ffplay.
func NewDeviceSink(cfg Config, logger *slog.Logger) (*DeviceSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeviceSink{cfg: cfg, logger: logger}, nil
}

// Start launches the playback process.
func (s *DeviceSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}
	return s.startLocked()
}

func (s *DeviceSink) startLocked() error {
	chLayout := "mono"
	if s.cfg.Channels == 2 {
		chLayout = "stereo"
	}

	cmd := exec.Command("ffplay",
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
		"-nodisp",
		"-f", "s16le",
		"-ch_layout", chLayout,
		"-ar", strconv.Itoa(s.cfg.SampleRate),
		"-i", "-",
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: stdin pipe: %v", ErrDeviceUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.running = true

	s.logger.Info("device playback started", "sample_rate", s.cfg.SampleRate)
	return nil
}

// Stop halts playback and kills the playback process.
func (s *DeviceSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *DeviceSink) stopLocked() error {
	if !s.running {
		return nil
	}
	s.running = false

	if s.stdin != nil {
		s.stdin.Close()
		s.stdin = nil
	}
	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
		s.cmd.Wait()
	}
	s.cmd = nil
	return nil
}

// Write sends PCM16 bytes to the playback process.
func (s *DeviceSink) Write(ctx context.Context, pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.running || s.stdin == nil {
		return io.ErrClosedPipe
	}

	if _, err := s.stdin.Write(pcm); err != nil {
		// Process died; restart lazily on the next Write.
		s.stopLocked()
		return fmt.Errorf("device sink write: %w", err)
	}

	s.chunksWritten.Add(1)
	s.bytesWritten.Add(int64(len(pcm)))
	return nil
}

// Clear discards buffered audio by restarting the playback process.
func (s *DeviceSink) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.stopLocked()
	return s.startLocked()
}

// Config returns the audio configuration.
func (s *DeviceSink) Config() Config {
	return s.cfg
}

// Name returns "device".
func (s *DeviceSink) Name() string {
	return "device"
}

// Close releases resources.
func (s *DeviceSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	err := s.stopLocked()
	s.mu.Unlock()
	return err
}

// Stats returns sink statistics.
func (s *DeviceSink) Stats() SinkStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return SinkStats{
		ChunksWritten: s.chunksWritten.Load(),
		BytesWritten:  s.bytesWritten.Load(),
		Running:       running,
		Backend:       "device",
	}
}

var _ SinkWithStats = (*DeviceSink)(nil)
