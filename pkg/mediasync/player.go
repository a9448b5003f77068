package mediasync

// PlaybackState mirrors the states reported by embeddable media players.
type PlaybackState int

const (
	Unstarted PlaybackState = iota
	Ended
	Playing
	Paused
	Buffering
	Ready
)

func (s PlaybackState) String() string {
	switch s {
	case Unstarted:
		return "unstarted"
	case Ended:
		return "ended"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Buffering:
		return "buffering"
	case Ready:
		return "ready"
	}

	return "unknown"
}

// Player is the playback capability the synchronizer drives. Times are in seconds.
type Player interface {
	Play() error
	Pause() error
	SeekTo(seconds float64) error
	CurrentTime() float64
	Duration() float64
	PlaybackState() PlaybackState
}
