package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/candorlabs/go-sonant/pkg/audioio"
)

// Scheduler plays inbound audio reply chunks gaplessly. It keeps a
// monotonically advancing "next start" cursor on the output clock and a set
// of currently scheduled buffers; the derived speaking signal is true while
// that set is non-empty, except that EndTurn forces it false immediately.
//
// Adds come from the inbound event loop, removals from clock-driven
// completion callbacks; both mutate the set under one mutex.
type Scheduler struct {
	logger     *slog.Logger
	sink       audioio.Sink
	clock      Clock
	sampleRate int

	mu        sync.Mutex
	stopped   bool
	cursor    time.Duration
	nextID    int
	scheduled map[int]*playbackBuffer
	speaking  bool

	onSpeaking func(bool)

	chunksScheduled int64
	chunksDropped   int64
}

// playbackBuffer is one decoded chunk with its slot on the output clock.
type playbackBuffer struct {
	start    time.Duration
	duration time.Duration

	startTimer Timer
	doneTimer  Timer
}

// NewScheduler creates a playback scheduler writing to sink. A nil clock
// selects the real output clock; sampleRate <= 0 selects the playback rate.
func NewScheduler(sink audioio.Sink, sampleRate int, clock Clock, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = NewRealClock()
	}
	if sampleRate <= 0 {
		sampleRate = audioio.PlaybackSampleRate
	}

	return &Scheduler{
		logger:     logger,
		sink:       sink,
		clock:      clock,
		sampleRate: sampleRate,
		scheduled:  make(map[int]*playbackBuffer),
	}
}

// OnSpeaking registers the speaking signal callback. Set it before the
// first chunk is scheduled. The callback must not call back into the
// scheduler.
func (s *Scheduler) OnSpeaking(fn func(bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSpeaking = fn
}

// Schedule queues one PCM16 chunk for playback. The start time is
// max(cursor, now): back-to-back chunks play gaplessly, late chunks re-sync
// with a small silence gap instead of overlapping. Malformed chunks are
// dropped; the session continues.
func (s *Scheduler) Schedule(pcm []byte) {
	s.mu.Lock()

	if s.stopped {
		s.chunksDropped++
		s.mu.Unlock()
		return
	}
	if len(pcm) == 0 || len(pcm)%2 != 0 {
		s.chunksDropped++
		s.mu.Unlock()
		s.logger.Warn("dropping malformed audio chunk", "bytes", len(pcm))
		return
	}

	data := make([]byte, len(pcm))
	copy(data, pcm)

	duration := audioio.PCMDuration(data, s.sampleRate, 1)
	now := s.clock.Now()
	start := s.cursor
	if now > start {
		start = now
	}
	s.cursor = start + duration

	id := s.nextID
	s.nextID++

	buf := &playbackBuffer{start: start, duration: duration}
	s.scheduled[id] = buf
	s.chunksScheduled++

	buf.startTimer = s.clock.AfterFunc(start-now, func() {
		s.play(data)
	})
	buf.doneTimer = s.clock.AfterFunc(start+duration-now, func() {
		s.complete(id)
	})

	notify := s.setSpeakingLocked(true)
	s.mu.Unlock()

	if notify != nil {
		notify(true)
	}
}

// play hands one buffer to the output device at its start time. A write
// fault is contained: the buffer still completes on schedule.
func (s *Scheduler) play(pcm []byte) {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return
	}

	if err := s.sink.Write(context.Background(), pcm); err != nil {
		s.logger.Warn("playback write failed", "error", err)
	}
}

// complete removes a finished buffer from the scheduled set.
func (s *Scheduler) complete(id int) {
	s.mu.Lock()
	if _, ok := s.scheduled[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.scheduled, id)

	var notify func(bool)
	if len(s.scheduled) == 0 {
		notify = s.setSpeakingLocked(false)
	}
	s.mu.Unlock()

	if notify != nil {
		notify(false)
	}
}

// EndTurn forces the speaking signal false. The model's turn-complete
// signal is authoritative and overrides the buffer-draining heuristic;
// already scheduled buffers keep playing.
func (s *Scheduler) EndTurn() {
	s.mu.Lock()
	notify := s.setSpeakingLocked(false)
	s.mu.Unlock()

	if notify != nil {
		notify(false)
	}
}

// Clear stops every scheduled buffer immediately and resets the cursor, so
// the next reply starts at the current clock time. Used when the model's
// reply is interrupted by the user.
func (s *Scheduler) Clear() {
	s.mu.Lock()
	s.dropScheduledLocked()
	s.cursor = 0
	notify := s.setSpeakingLocked(false)
	s.mu.Unlock()

	if notify != nil {
		notify(false)
	}

	if err := s.sink.Clear(); err != nil {
		s.logger.Debug("sink clear failed", "error", err)
	}
}

// Stop tears the scheduler down, stopping all scheduled buffers without
// waiting for natural completion. Safe to call multiple times; chunks
// scheduled afterwards are dropped.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.dropScheduledLocked()
	notify := s.setSpeakingLocked(false)
	s.mu.Unlock()

	if notify != nil {
		notify(false)
	}
}

// dropScheduledLocked cancels all buffer timers and empties the set.
func (s *Scheduler) dropScheduledLocked() {
	for id, buf := range s.scheduled {
		if buf.startTimer != nil {
			buf.startTimer.Stop()
		}
		if buf.doneTimer != nil {
			buf.doneTimer.Stop()
		}
		delete(s.scheduled, id)
	}
}

// setSpeakingLocked records the new speaking value and returns the callback
// to invoke after the lock is released, or nil when nothing changed.
func (s *Scheduler) setSpeakingLocked(v bool) func(bool) {
	if s.speaking == v {
		return nil
	}
	s.speaking = v
	return s.onSpeaking
}

// Speaking reports whether the model is currently audible.
func (s *Scheduler) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// ScheduledCount returns the number of buffers in the scheduled set.
func (s *Scheduler) ScheduledCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scheduled)
}

// SchedulerStats is a point-in-time snapshot of scheduler counters.
type SchedulerStats struct {
	ChunksScheduled int64 `json:"chunks_scheduled"`
	ChunksDropped   int64 `json:"chunks_dropped"`
}

// Stats returns scheduler statistics.
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SchedulerStats{
		ChunksScheduled: s.chunksScheduled,
		ChunksDropped:   s.chunksDropped,
	}
}
