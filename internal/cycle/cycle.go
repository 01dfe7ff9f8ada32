// Package cycle holds the per-cycle timing snapshot shared by the router,
// the scheduler, ports and units, plus the thread-role markers carried in
// context.Context.
package cycle

import "context"

// Tempo is the musical time snapshot applied at kickoff
type Tempo struct {
	BPM         float32
	BeatsPerBar int
	BeatUnit    int
}

// DefaultTempo is used until a tempo change is queued
var DefaultTempo = Tempo{BPM: 120, BeatsPerBar: 4, BeatUnit: 4}

// TimeInfo describes the span of frames a cycle or sub-block processes.
// LocalOffset+NFrames never exceeds the engine block length.
type TimeInfo struct {
	// FrameStart is the global frame position at the start of the block
	FrameStart uint64
	// LocalOffset is the offset of this sub-block inside the block
	LocalOffset uint32
	// NFrames is the number of frames in this sub-block
	NFrames uint32
	// Cycle counts kickoffs since the router started
	Cycle uint64
	// GlobalLatencyOffset is the remaining playback latency to compensate
	GlobalLatencyOffset int
	Tempo               Tempo
}

// End returns LocalOffset+NFrames
func (t TimeInfo) End() uint32 {
	return t.LocalOffset + t.NFrames
}

// IsFinal reports whether this sub-block closes the block of blockLength frames
func (t TimeInfo) IsFinal(blockLength int) bool {
	return int(t.End()) == blockLength
}

// ThreadRole identifies what kind of goroutine is running engine code
type ThreadRole uint8

const (
	RoleNone ThreadRole = iota
	RoleKickoff
	RoleWorker
)

func (r ThreadRole) String() string {
	switch r {
	case RoleKickoff:
		return "kickoff"
	case RoleWorker:
		return "worker"
	default:
		return "none"
	}
}

type roleKey struct{}

// WithRole stores the role in ctx. It is called once when a worker or the
// kickoff goroutine is set up.
func WithRole(ctx context.Context, role ThreadRole) context.Context {
	return context.WithValue(ctx, roleKey{}, role)
}

// RoleFrom returns the role stored in ctx or RoleNone
func RoleFrom(ctx context.Context) ThreadRole {
	if ctx == nil {
		return RoleNone
	}
	if r, ok := ctx.Value(roleKey{}).(ThreadRole); ok {
		return r
	}
	return RoleNone
}

// IsProcessingThread reports whether ctx belongs to a worker or the kickoff goroutine
func IsProcessingThread(ctx context.Context) bool {
	r := RoleFrom(ctx)
	return r == RoleWorker || r == RoleKickoff
}

// IsKickoffThread reports whether ctx belongs to the goroutine running StartCycle
func IsKickoffThread(ctx context.Context) bool {
	return RoleFrom(ctx) == RoleKickoff
}
