package client

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// DefaultPollInterval is how long the scheduler waits for more chunks before
// re-checking the queue.
const DefaultPollInterval = 50 * time.Millisecond

// PlaybackResult is reported once per scheduler run.
type PlaybackResult struct {
	TotalChunks int
	Cancelled   bool
}

// Scheduler plays a turn's chunks one at a time in queue order.
type Scheduler struct {
	queue  *ChunkQueue
	output *Output
	cancel <-chan struct{}
	poll   time.Duration
	logger zerolog.Logger
}

// NewScheduler creates a scheduler for one turn. Closing cancel stops
// playback.
func NewScheduler(queue *ChunkQueue, output *Output, cancel <-chan struct{}, poll time.Duration, logger zerolog.Logger) *Scheduler {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Scheduler{
		queue:  queue,
		output: output,
		cancel: cancel,
		poll:   poll,
		logger: logger,
	}
}

// Run plays chunks until the queue is exhausted after its end marker, or
// until cancel is closed or ctx is done.
func (s *Scheduler) Run(ctx context.Context) PlaybackResult {
	timer := time.NewTimer(s.poll)
	defer timer.Stop()

	for cursor := 0; ; {
		if s.cancelled(ctx) {
			return s.result(true)
		}

		chunk, ok := s.queue.At(cursor)
		if !ok {
			changed := s.queue.Changed()
			if s.queue.Ended() && cursor >= s.queue.Len() {
				return s.result(false)
			}
			if cursor < s.queue.Len() {
				continue
			}
			resetTimer(timer, s.poll)
			select {
			case <-changed:
			case <-timer.C:
			case <-s.cancel:
			case <-ctx.Done():
			}
			continue
		}

		pb, err := s.output.Play(ctx, chunk.Audio)
		if err != nil {
			s.logger.Error().Err(err).Int("chunk_index", chunk.Index).Msg("Failed to play chunk")
			cursor++
			continue
		}
		if s.cancelled(ctx) {
			pb.Stop()
			return s.result(true)
		}

		select {
		case <-pb.Done():
			cursor++
		case <-s.cancel:
			pb.Stop()
			return s.result(true)
		case <-ctx.Done():
			pb.Stop()
			return s.result(true)
		}
	}
}

func (s *Scheduler) cancelled(ctx context.Context) bool {
	select {
	case <-s.cancel:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (s *Scheduler) result(cancelled bool) PlaybackResult {
	return PlaybackResult{TotalChunks: s.queue.Len(), Cancelled: cancelled}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
