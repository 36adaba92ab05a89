// Package player defines the Player boundary contract (spec §6): the
// core spawns and kills an external decoder process through this
// interface and never touches a subprocess directly. Concrete
// implementations live outside internal/ (see cmd/immersed/processplayer)
// since they are ambient wiring, not core.
package player

import "context"

// Tag separates OS-level audio streams so per-stream volume operations
// never cross-contaminate. The core only ever uses the two tags below.
type Tag string

const (
	TagOneShot    Tag = "ONESHOT"
	TagAtmosphere Tag = "ATMOSPHERE"
)

// Handle identifies one live decoder process.
type Handle uint64

// Player is the external collaborator contract. Implementations must
// make Pause/Resume durable for an arbitrary amount of wall-clock time.
type Player interface {
	PlayOneShot(ctx context.Context, path string, volume int, tag Tag) (Handle, error)
	PlayLoop(ctx context.Context, path string, volume int, tag Tag) (Handle, error)
	SetVolume(h Handle, volume int) error
	Pause(h Handle) error
	Resume(h Handle) error
	Kill(h Handle) error
	KillAllWithTag(tag Tag) error
}
