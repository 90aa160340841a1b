package playback

// State is the lifecycle state of a playback run.
type State int

const (
	Idle State = iota
	Loading
	Playing
	Paused
	Stopped
	Errored
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Loading:
		return "Loading"
	case Playing:
		return "Playing"
	case Paused:
		return "Paused"
	case Stopped:
		return "Stopped"
	case Errored:
		return "Errored"
	default:
		return "Unknown"
	}
}

// ChunkState is the load state of one chunk.
type ChunkState int

const (
	ChunkPending ChunkState = iota
	ChunkLoading
	ChunkLoaded
	ChunkError
)

// String returns the chunk state name.
func (s ChunkState) String() string {
	switch s {
	case ChunkPending:
		return "Pending"
	case ChunkLoading:
		return "Loading"
	case ChunkLoaded:
		return "Loaded"
	case ChunkError:
		return "Error"
	default:
		return "Unknown"
	}
}
