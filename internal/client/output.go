package client

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// Playback is one clip being played.
type Playback interface {
	// Done is closed when the clip finished or was stopped.
	Done() <-chan struct{}
	// Stop halts the clip without waiting for it to drain.
	Stop()
}

// Player plays WAV clips.
type Player interface {
	Play(ctx context.Context, wav []byte) (Playback, error)
}

// Output is the single audio output shared by chunk playback and replay.
// Starting a clip stops whichever clip is active.
type Output struct {
	player Player

	mu      sync.Mutex
	current Playback
}

// NewOutput wraps player.
func NewOutput(player Player) *Output {
	return &Output{player: player}
}

// Play stops the active clip and starts wav.
func (o *Output) Play(ctx context.Context, wav []byte) (Playback, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.current != nil {
		o.current.Stop()
		o.current = nil
	}
	pb, err := o.player.Play(ctx, wav)
	if err != nil {
		return nil, err
	}
	o.current = pb
	return pb, nil
}

// Stop halts the active clip, if any.
func (o *Output) Stop() {
	o.mu.Lock()
	current := o.current
	o.current = nil
	o.mu.Unlock()

	if current != nil {
		current.Stop()
	}
}

// owns reports whether pb is still the active clip.
func (o *Output) owns(pb Playback) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current == pb
}

// ExecPlayer plays clips by writing them to a temporary WAV file and running
// an external command on it.
type ExecPlayer struct {
	command []string
	tempDir string
}

// NewExecPlayer builds a player from a command line such as
// "ffplay -nodisp -autoexit". The file path is appended as the last argument.
func NewExecPlayer(command, tempDir string) (*ExecPlayer, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, fmt.Errorf("player command is empty")
	}
	return &ExecPlayer{command: fields, tempDir: tempDir}, nil
}

// Play writes wav to a temporary file and starts the player on it. The file
// is removed when playback ends or is stopped.
func (p *ExecPlayer) Play(ctx context.Context, wav []byte) (Playback, error) {
	f, err := os.CreateTemp(p.tempDir, "voice-relay-*.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	path := f.Name()
	if _, err := f.Write(wav); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to close temp file: %w", err)
	}

	args := append(append([]string{}, p.command[1:]...), path)
	cmd := exec.CommandContext(ctx, p.command[0], args...)
	if err := cmd.Start(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to start player: %w", err)
	}

	pb := &execPlayback{cmd: cmd, path: path, done: make(chan struct{})}
	go pb.wait()
	return pb, nil
}

type execPlayback struct {
	cmd  *exec.Cmd
	path string
	done chan struct{}
	stop sync.Once
}

func (p *execPlayback) wait() {
	_ = p.cmd.Wait()
	os.Remove(p.path)
	close(p.done)
}

func (p *execPlayback) Done() <-chan struct{} {
	return p.done
}

func (p *execPlayback) Stop() {
	p.stop.Do(func() {
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
	})
}
