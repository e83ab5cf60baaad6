package client

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

func TestOutput_NewPlaybackStopsActive(t *testing.T) {
	player := newFakePlayer(false)
	out := NewOutput(player)

	first, _ := out.Play(context.Background(), []byte("a"))
	<-player.started
	if _, err := out.Play(context.Background(), []byte("b")); err != nil {
		t.Fatalf("Expected play to succeed, got %v", err)
	}
	<-player.started

	select {
	case <-first.Done():
	default:
		t.Error("Expected first clip to be stopped")
	}
	out.Stop()
	if stopped := player.stoppedClips(); len(stopped) != 2 {
		t.Errorf("Expected both clips stopped, got %v", stopped)
	}
}

func TestExecPlayer(t *testing.T) {
	if _, err := exec.LookPath("tail"); err != nil {
		t.Skip("tail not available")
	}
	dir := t.TempDir()

	tests := []struct {
		name    string
		command string
		stop    bool
	}{
		{"natural end", "true", false},
		{"stopped", "tail -f", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			player, err := NewExecPlayer(tt.command, dir)
			if err != nil {
				t.Fatalf("Failed to create player: %v", err)
			}
			pb, err := player.Play(context.Background(), []byte("RIFF"))
			if err != nil {
				t.Fatalf("Failed to play: %v", err)
			}
			if tt.stop {
				pb.Stop()
			}

			select {
			case <-pb.Done():
			case <-time.After(3 * time.Second):
				t.Fatal("Expected playback to end")
			}
			files, _ := filepath.Glob(filepath.Join(dir, "*.wav"))
			if len(files) != 0 {
				t.Errorf("Expected temp WAV removed, found %v", files)
			}
		})
	}
}

func TestNewExecPlayer_EmptyCommand(t *testing.T) {
	if _, err := NewExecPlayer("   ", os.TempDir()); err == nil {
		t.Error("Expected error for empty command")
	}
}
