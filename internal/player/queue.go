package player

import (
	stderrors "errors"
	"sync"

	"github.com/google/uuid"

	"github.com/veebot/veebot/internal/discord"
	"github.com/veebot/veebot/pkg/errors"
	"github.com/veebot/veebot/pkg/metrics"
)

// ErrQueueFull means the guild's queue hit the configured cap. A full
// queue is an operational limit, not a taxonomy failure, so the command
// layer reports it as plain text.
var ErrQueueFull = stderrors.New("the queue is full")

// EnqueueResult describes where a track landed in the queue
type EnqueueResult struct {
	// Position in the queue, 0 meaning playing now
	Position int

	// Depth of the queue after the enqueue
	Depth int
}

// Queue is the ordered track list for one guild. The track at index 0
// is the one currently playing.
type Queue struct {
	mu      sync.Mutex
	guildID discord.Snowflake
	tracks  []Track
	maxSize int
}

func newQueue(guildID discord.Snowflake, maxSize int) *Queue {
	return &Queue{guildID: guildID, maxSize: maxSize}
}

// Enqueue appends a track to the queue
func (q *Queue) Enqueue(track Track) (*EnqueueResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tracks) >= q.maxSize {
		return nil, ErrQueueFull
	}

	q.tracks = append(q.tracks, track)
	q.publishDepth()
	metrics.RecordTrackQueued()

	return &EnqueueResult{
		Position: len(q.tracks) - 1,
		Depth:    len(q.tracks),
	}, nil
}

// Current returns the track at the head of the queue
func (q *Queue) Current() (Track, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tracks) == 0 {
		return Track{}, false
	}
	return q.tracks[0], true
}

// Drop removes the track with the given id, keeping order. It is a
// no-op when the track was already removed.
func (q *Queue) Drop(id uuid.UUID) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, track := range q.tracks {
		if track.ID == id {
			q.tracks = append(q.tracks[:i], q.tracks[i+1:]...)
			q.publishDepth()
			return
		}
	}
}

// Remove removes the track at the given index. Index 0 is the playing
// track.
func (q *Queue) Remove(index int) (*Track, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if index < 0 || index >= len(q.tracks) {
		return nil, errors.New(errors.TrackIndexOutOfBounds{
			Index:     index,
			Available: &errors.Range{Start: 0, End: len(q.tracks)},
		})
	}

	track := q.tracks[index]
	q.tracks = append(q.tracks[:index], q.tracks[index+1:]...)
	q.publishDepth()
	return &track, nil
}

// Clear empties the queue
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.tracks = nil
	q.publishDepth()
}

// List returns a snapshot of the queue
func (q *Queue) List() []Track {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Track, len(q.tracks))
	copy(out, q.tracks)
	return out
}

// Len returns the number of queued tracks, the playing one included
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tracks)
}

// publishDepth updates the queue depth gauge. Callers hold q.mu.
func (q *Queue) publishDepth() {
	metrics.SetQueueDepth(string(q.guildID), len(q.tracks))
}
