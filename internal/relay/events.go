package relay

// Event is one step of a turn, in emission order. The gateway maps events to
// wire frames.
type Event interface {
	event()
}

// Emitter receives the events of a turn. Chunk events are emitted from a
// different goroutine than text events, so it must be safe for concurrent use.
type Emitter func(Event)

// Caption carries the transcript of the user's recording.
type Caption struct {
	Text string
}

// ResponseChunk is one streamed piece of generated text.
type ResponseChunk struct {
	Text string
}

// ResponseComplete carries the full generated text after a natural end of stream.
type ResponseComplete struct {
	Text string
}

// AudioChunk is the synthesized audio for one buffered slice of the response.
type AudioChunk struct {
	Index int
	Audio []byte
	Text  string
}

// AudioStreamEnd marks that no further chunks follow for the turn.
type AudioStreamEnd struct {
	TotalChunks int
}

// AudioComplete is the single clip for a non-streaming turn.
type AudioComplete struct {
	Audio []byte
}

// TurnError reports a failure scoped to the turn, or to one chunk when
// ChunkIndex is set.
type TurnError struct {
	Kind       string
	Message    string
	ChunkIndex *int
}

// ProcessingEnd is always the last event of a turn.
type ProcessingEnd struct{}

func (Caption) event()          {}
func (ResponseChunk) event()    {}
func (ResponseComplete) event() {}
func (AudioChunk) event()       {}
func (AudioStreamEnd) event()   {}
func (AudioComplete) event()    {}
func (TurnError) event()        {}
func (ProcessingEnd) event()    {}
