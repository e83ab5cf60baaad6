package client

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestScheduler_PlaysInOrderAndWaitsForChunks(t *testing.T) {
	player := newFakePlayer(true)
	q := NewChunkQueue()
	s := NewScheduler(q, NewOutput(player), make(chan struct{}), 5*time.Millisecond, zerolog.Nop())

	results := make(chan PlaybackResult, 1)
	go func() { results <- s.Run(context.Background()) }()

	for i := 0; i < 3; i++ {
		time.Sleep(10 * time.Millisecond)
		q.Push(Chunk{Index: i, Audio: []byte(fmt.Sprintf("c%d", i))})
	}
	q.End(3)

	select {
	case res := <-results:
		if res.Cancelled || res.TotalChunks != 3 {
			t.Errorf("Expected natural finish with 3 chunks, got %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected scheduler to finish")
	}

	played := player.playedClips()
	if fmt.Sprint(played) != "[c0 c1 c2]" {
		t.Errorf("Expected chunks in order, got %v", played)
	}
}

func TestScheduler_EmptyStream(t *testing.T) {
	q := NewChunkQueue()
	q.End(0)
	s := NewScheduler(q, NewOutput(newFakePlayer(true)), make(chan struct{}), 0, zerolog.Nop())

	res := s.Run(context.Background())
	if res.Cancelled || res.TotalChunks != 0 {
		t.Errorf("Expected empty natural finish, got %+v", res)
	}
}

func TestScheduler_CancelWhileWaiting(t *testing.T) {
	q := NewChunkQueue()
	cancel := make(chan struct{})
	s := NewScheduler(q, NewOutput(newFakePlayer(true)), cancel, time.Hour, zerolog.Nop())

	results := make(chan PlaybackResult, 1)
	go func() { results <- s.Run(context.Background()) }()
	close(cancel)

	select {
	case res := <-results:
		if !res.Cancelled {
			t.Errorf("Expected cancelled result, got %+v", res)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected cancel to wake a waiting scheduler")
	}
}

func TestScheduler_CancelStopsCurrentChunk(t *testing.T) {
	player := newFakePlayer(false)
	q := NewChunkQueue()
	for i := 0; i < 5; i++ {
		q.Push(Chunk{Index: i, Audio: []byte(fmt.Sprintf("c%d", i))})
	}
	q.End(5)
	cancel := make(chan struct{})
	s := NewScheduler(q, NewOutput(player), cancel, 0, zerolog.Nop())

	results := make(chan PlaybackResult, 1)
	go func() { results <- s.Run(context.Background()) }()

	(<-player.started).finish()
	(<-player.started).finish()
	<-player.started
	close(cancel)

	res := <-results
	if !res.Cancelled || res.TotalChunks != 5 {
		t.Errorf("Expected cancelled with 5 chunks, got %+v", res)
	}
	if played := player.playedClips(); fmt.Sprint(played) != "[c0 c1 c2]" {
		t.Errorf("Expected c0..c2 played, got %v", played)
	}
	if stopped := player.stoppedClips(); fmt.Sprint(stopped) != "[c2]" {
		t.Errorf("Expected c2 stopped, got %v", stopped)
	}
}
