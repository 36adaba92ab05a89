// Package processplayer implements the player.Player boundary contract
// (spec §6) by spawning one external decoder process per handle and
// controlling it with process-group signals: SIGSTOP/SIGCONT for
// pause/resume, so a paused handle survives arbitrarily long with zero
// CPU use, matching the contract's durability requirement exactly.
package processplayer

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/indubitablygregarious/immerse-yourself/internal/errs"
	"github.com/indubitablygregarious/immerse-yourself/internal/player"
)

// Player spawns command with args appended with a volume flag and the
// file path, one process per handle. Command is expected to be an
// ffplay-shaped decoder: takes a path as its final argument and exits
// on its own when playback finishes (a loop stream is instead killed
// and respawned by the caller if it needs to restart — the Atmosphere
// Engine handles looping at a layer above this one).
type Player struct {
	log     *slog.Logger
	command string
	args    []string

	nextHandle atomic.Uint64

	mu    sync.Mutex
	procs map[player.Handle]*procEntry
}

type procEntry struct {
	cmd *exec.Cmd
	tag player.Tag
}

func New(command string, args []string, log *slog.Logger) *Player {
	return &Player{
		log:     log,
		command: command,
		args:    args,
		procs:   map[player.Handle]*procEntry{},
	}
}

func (p *Player) spawn(ctx context.Context, path string, volume int, tag player.Tag) (player.Handle, error) {
	args := append(append([]string{}, p.args...), "-volume", fmt.Sprintf("%d", volume), path)
	cmd := exec.CommandContext(ctx, p.command, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("processplayer: spawn %s: %w", p.command, err)
	}

	h := player.Handle(p.nextHandle.Add(1))
	p.mu.Lock()
	p.procs[h] = &procEntry{cmd: cmd, tag: tag}
	p.mu.Unlock()

	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		delete(p.procs, h)
		p.mu.Unlock()
		if err != nil {
			p.log.Debug("processplayer: process exited", "handle", h, "error", err)
		}
	}()

	return h, nil
}

func (p *Player) PlayOneShot(ctx context.Context, path string, volume int, tag player.Tag) (player.Handle, error) {
	return p.spawn(ctx, path, volume, tag)
}

func (p *Player) PlayLoop(ctx context.Context, path string, volume int, tag player.Tag) (player.Handle, error) {
	return p.spawn(ctx, path, volume, tag)
}

func (p *Player) lookup(h player.Handle) (*exec.Cmd, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.procs[h]
	if !ok {
		return nil, false
	}
	return entry.cmd, true
}

func (p *Player) SetVolume(h player.Handle, volume int) error {
	// The spawned decoder has no live volume-control channel in this
	// ambient stand-in; a real deployment would pipe this through the
	// decoder's IPC socket. Accepted as a no-op so callers don't have to
	// special-case it.
	if _, ok := p.lookup(h); !ok {
		return fmt.Errorf("processplayer: unknown handle %d: %w", h, errs.NotFound)
	}
	return nil
}

func (p *Player) signal(h player.Handle, sig syscall.Signal) error {
	cmd, ok := p.lookup(h)
	if !ok {
		return fmt.Errorf("processplayer: unknown handle %d: %w", h, errs.NotFound)
	}
	if cmd.Process == nil {
		return fmt.Errorf("processplayer: handle %d has no process: %w", h, errs.Invalid)
	}
	if err := syscall.Kill(-cmd.Process.Pid, sig); err != nil {
		return fmt.Errorf("processplayer: signal handle %d: %w", h, errs.PlayerFailure)
	}
	return nil
}

func (p *Player) Pause(h player.Handle) error  { return p.signal(h, syscall.SIGSTOP) }
func (p *Player) Resume(h player.Handle) error { return p.signal(h, syscall.SIGCONT) }

func (p *Player) Kill(h player.Handle) error {
	cmd, ok := p.lookup(h)
	if !ok {
		return nil // already gone; Kill is idempotent per the boundary contract
	}
	if cmd.Process == nil {
		return nil
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("processplayer: kill handle %d: %w", h, errs.PlayerFailure)
	}
	return nil
}

func (p *Player) KillAllWithTag(tag player.Tag) error {
	p.mu.Lock()
	handles := make([]player.Handle, 0, len(p.procs))
	for h, entry := range p.procs {
		if entry.tag == tag {
			handles = append(handles, h)
		}
	}
	p.mu.Unlock()

	var firstErr error
	for _, h := range handles {
		if err := p.Kill(h); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
