// Package atmosphere implements the Atmosphere Engine (spec §4.2): a
// pool of concurrently looping audio streams keyed by URL, each a
// (URL → cached path → player process) pipeline gated by a generation
// counter so a slow download from a stale environment can never start
// on top of a newer one.
package atmosphere

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/indubitablygregarious/immerse-yourself/internal/downloadqueue"
	"github.com/indubitablygregarious/immerse-yourself/internal/errs"
	"github.com/indubitablygregarious/immerse-yourself/internal/player"
)

// StartOptions carries the optional duration/fade parameters from a mix
// entry, plus the supplemented retrigger mode (SPEC_FULL §3.1).
type StartOptions struct {
	DisplayName  string
	MaxDuration  float64 // seconds; 0 means unset
	FadeDuration float64 // seconds; 0 means unset
	Retrigger    *RetriggerOptions
}

type RetriggerOptions struct {
	MinDelay       float64
	MaxDelay       float64
	VolumeVariance float64
}

type stream struct {
	mu         sync.Mutex // serializes operations on this URL
	url        string
	volume     int
	generation uint64
	handle     player.Handle
	displayName string
	cancel     context.CancelFunc
}

// downloader is the slice of the Download Queue the Atmosphere Engine
// actually needs — narrowed to an interface so tests can substitute a
// fake without spinning up a real queue/worker.
type downloader interface {
	Enqueue(url string, cb downloadqueue.Callback) downloadqueue.Outcome
}

// Engine is the Atmosphere Engine. Safe for concurrent use across URLs;
// operations on the same URL serialize via the stream's own lock.
type Engine struct {
	log    *slog.Logger
	player player.Player
	queue  downloader

	generation atomic.Uint64

	mu      sync.Mutex
	streams map[string]*stream
}

func New(p player.Player, q downloader, log *slog.Logger) *Engine {
	return &Engine{
		log:     log,
		player:  p,
		queue:   q,
		streams: map[string]*stream{},
	}
}

// Generation returns the engine's current generation value.
func (e *Engine) Generation() uint64 {
	return e.generation.Load()
}

// BumpGeneration increments the generation and returns the new value.
// Called by the Orchestrator at the top of every activation (spec
// §4.1 phase A); StopAll bumps the same counter.
func (e *Engine) BumpGeneration() uint64 {
	return e.generation.Add(1)
}

// Start begins (or adjusts) a stream under the given generation. If the
// URL is already tracked under that same generation the call is
// idempotent — it only adjusts volume, per the state diagram in spec
// §4.2 ("already Playing: adjust volume/extend").
func (e *Engine) Start(ctx context.Context, url string, volume int, generation uint64, opts StartOptions) {
	e.mu.Lock()
	existing, ok := e.streams[url]
	e.mu.Unlock()

	if ok {
		existing.mu.Lock()
		sameGen := existing.generation == generation
		existing.mu.Unlock()
		if sameGen {
			e.SetVolume(url, volume)
			return
		}
	}

	e.queue.Enqueue(url, func(res downloadqueue.Result) {
		if res.Err != nil {
			e.log.Warn("atmosphere: download failed, dropping stream", "url", url, "error", res.Err)
			return
		}
		if opts.Retrigger != nil {
			e.spawnRetrigger(ctx, url, res.Path, volume, generation, opts)
			return
		}
		e.spawn(ctx, url, res.Path, volume, generation, opts)
	})
}

// spawn transitions a resolved download into a live Player handle. It
// re-checks the generation guard immediately before touching the
// Player, which is the one property spec §4.2 requires: "every callback
// that would transition a stream to Playing MUST compare the current
// engine generation to the captured generation."
func (e *Engine) spawn(ctx context.Context, url, path string, volume int, generation uint64, opts StartOptions) {
	if e.generation.Load() != generation {
		e.log.Debug("atmosphere: dropping stale spawn", "url", url, "captured_generation", generation)
		return
	}

	handle, err := e.player.PlayLoop(ctx, path, volume, player.TagAtmosphere)
	if err != nil {
		e.log.Warn("atmosphere: player failed to start loop", "url", url, "error", err)
		return
	}

	// Re-check once more after the (possibly slow) subprocess spawn —
	// a stop_all could have landed while PlayLoop was blocking.
	if e.generation.Load() != generation {
		_ = e.player.Kill(handle)
		e.log.Debug("atmosphere: dropping stale spawn after player start", "url", url)
		return
	}

	st := &stream{url: url, volume: volume, generation: generation, handle: handle, displayName: opts.DisplayName}

	e.mu.Lock()
	e.streams[url] = st
	e.mu.Unlock()

	e.armTimers(ctx, st, opts)
}

// Stop stops a stream immediately, with no fade.
func (e *Engine) Stop(url string) {
	e.mu.Lock()
	st, ok := e.streams[url]
	if ok {
		delete(e.streams, url)
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	st.mu.Lock()
	if st.cancel != nil {
		st.cancel()
	}
	handle := st.handle
	st.mu.Unlock()
	if err := e.player.Kill(handle); err != nil {
		e.log.Debug("atmosphere: kill on stop failed", "url", url, "error", err)
	}
}

// StopAll bumps the generation (invalidating every pending spawn) and
// tears down every tracked stream. Returns the number stopped.
func (e *Engine) StopAll() int {
	e.generation.Add(1)

	e.mu.Lock()
	streams := e.streams
	e.streams = map[string]*stream{}
	e.mu.Unlock()

	for url, st := range streams {
		st.mu.Lock()
		if st.cancel != nil {
			st.cancel()
		}
		handle := st.handle
		st.mu.Unlock()
		if err := e.player.Kill(handle); err != nil {
			e.log.Debug("atmosphere: kill during stop_all failed", "url", url, "error", err)
		}
	}
	return len(streams)
}

// SetVolume applies to a running stream via the Player's per-stream
// control, and records the value so it survives a pause/resume cycle
// (spec testable property 4).
func (e *Engine) SetVolume(url string, v int) error {
	e.mu.Lock()
	st, ok := e.streams[url]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("atmosphere: no active stream for %q: %w", url, errs.NotFound)
	}
	st.mu.Lock()
	st.volume = v
	handle := st.handle
	st.mu.Unlock()
	return e.player.SetVolume(handle, v)
}

// IsURLActive reports whether url currently has a live stream.
func (e *Engine) IsURLActive(url string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.streams[url]
	return ok
}

// ActiveURLs returns every currently tracked URL with its display name
// and volume, used to build the Orchestrator's snapshot.
func (e *Engine) ActiveURLs() (urls []string, displayNames []string, volumes map[string]int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	volumes = make(map[string]int, len(e.streams))
	for url, st := range e.streams {
		st.mu.Lock()
		urls = append(urls, url)
		displayNames = append(displayNames, st.displayName)
		volumes[url] = st.volume
		st.mu.Unlock()
	}
	return urls, displayNames, volumes
}

// PreDownload hands url to the Download Queue without registering a
// stream — used to warm the cache ahead of time.
func (e *Engine) PreDownload(url string) {
	e.queue.Enqueue(url, nil)
}

// PauseAll/ResumeAll suspend or resume every tracked stream's Player
// process. The Atmosphere Engine does not track a paused flag itself —
// that is Orchestrator-level state (is_sounds_paused, spec §3) since it
// spans both one-shot and atmosphere audio.
func (e *Engine) PauseAll() {
	e.forEachHandle(func(h player.Handle) { _ = e.player.Pause(h) })
}

func (e *Engine) ResumeAll() {
	e.forEachHandle(func(h player.Handle) { _ = e.player.Resume(h) })
}

func (e *Engine) forEachHandle(fn func(player.Handle)) {
	e.mu.Lock()
	handles := make([]player.Handle, 0, len(e.streams))
	for _, st := range e.streams {
		st.mu.Lock()
		handles = append(handles, st.handle)
		st.mu.Unlock()
	}
	e.mu.Unlock()
	for _, h := range handles {
		fn(h)
	}
}
