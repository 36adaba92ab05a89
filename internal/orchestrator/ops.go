package orchestrator

import (
	"context"
	"fmt"

	"github.com/indubitablygregarious/immerse-yourself/internal/atmosphere"
	"github.com/indubitablygregarious/immerse-yourself/internal/config"
	"github.com/indubitablygregarious/immerse-yourself/internal/errs"
)

// ToggleLoop starts or stops a single atmosphere stream independent of
// any environment (spec §4.1). It never touches lights, music, or the
// one-shot player, and it does not bump the generation counter — an
// unrelated Activate in flight is unaffected.
func (o *Orchestrator) ToggleLoop(ctx context.Context, url string) (playing bool, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.atmosphere.IsURLActive(url) {
		o.atmosphere.Stop(url)
		return false, nil
	}

	volume, ok := o.st.atmosphereVolumes[url]
	if !ok {
		volume = defaultToggleVolume
	}
	o.atmosphere.Start(ctx, url, volume, o.atmosphere.Generation(), atmosphere.StartOptions{})
	return true, nil
}

// SetVolume adjusts a running atmosphere stream's volume and persists
// the value so a later ToggleLoop (or pause/resume cycle) reuses it.
// Per spec property 4, a later Activate's mix-entry volume always wins
// over this persisted value.
func (o *Orchestrator) SetVolume(url string, v int) error {
	o.mu.Lock()
	o.st.atmosphereVolumes[url] = v
	o.mu.Unlock()

	if err := o.atmosphere.SetVolume(url, v); err != nil {
		return fmt.Errorf("set volume for %s: %w", url, err)
	}
	return nil
}

// StopLights tears down the running animation and clears active_lights_name.
func (o *Orchestrator) StopLights() error {
	o.lights.Stop()
	o.mu.Lock()
	o.st.activeLightsName = nil
	o.mu.Unlock()
	return nil
}

// StopAtmosphere stops every running atmosphere stream and, if a music
// context was playing, pauses it too (spec §4.1). Returns the number of
// streams stopped.
func (o *Orchestrator) StopAtmosphere(ctx context.Context) int {
	n := o.atmosphere.StopAll()

	o.mu.Lock()
	musicPlaying := o.st.musicPlaying
	o.mu.Unlock()

	if musicPlaying {
		if err := o.music.Pause(ctx); err != nil {
			o.log.Warn("orchestrator: music pause failed during stop_atmosphere", "error", err)
		}
		o.mu.Lock()
		o.st.musicPlaying = false
		o.mu.Unlock()
	}
	return n
}

// TogglePauseAllSounds suspends or resumes every Player process owned by
// the core: the active one-shot handle (if any) and, via PauseAll /
// ResumeAll, every atmosphere stream. It returns the new paused state.
//
// The Music Client contract (spec §6) exposes Pause but no Resume, so
// resuming from a paused state only affects Player-owned processes; a
// paused music context stays paused until a fresh Activate plays a
// context again.
func (o *Orchestrator) TogglePauseAllSounds(ctx context.Context) bool {
	o.mu.Lock()
	nowPaused := !o.st.isSoundsPaused
	o.st.isSoundsPaused = nowPaused
	handle := o.st.activeOneShotHandle
	hasHandle := o.st.hasOneShotHandle
	musicPlaying := o.st.musicPlaying
	o.mu.Unlock()

	if nowPaused {
		o.atmosphere.PauseAll()
		if hasHandle {
			if err := o.player.Pause(handle); err != nil {
				o.log.Debug("orchestrator: one-shot pause failed", "error", err)
			}
		}
		if musicPlaying {
			if err := o.music.Pause(ctx); err != nil {
				o.log.Debug("orchestrator: music pause failed", "error", err)
			}
		}
	} else {
		o.atmosphere.ResumeAll()
		if hasHandle {
			if err := o.player.Resume(handle); err != nil {
				o.log.Debug("orchestrator: one-shot resume failed", "error", err)
			}
		}
	}
	return nowPaused
}

// SetTimeOfDay records the new ambient time and, if a lights-declaring
// descriptor is currently active and has a variant for the new time,
// re-activates it under that variant (spec §4.1, Open Question #1).
func (o *Orchestrator) SetTimeOfDay(ctx context.Context, t config.TimeOfDay) error {
	if !t.Valid() {
		return fmt.Errorf("orchestrator: unknown time of day %q: %w", t, errs.Invalid)
	}

	o.mu.Lock()
	o.st.currentTime = t
	activeName := o.st.activeLightsName
	o.mu.Unlock()

	if activeName == nil {
		return nil
	}
	descriptor, ok := o.store.Lookup(*activeName)
	if !ok {
		return nil
	}
	times, hasVariants := descriptor.AvailableTimes()
	if !hasVariants {
		return nil
	}
	for _, at := range times {
		if at == t {
			return o.Activate(ctx, *activeName, &t)
		}
	}
	return nil
}

// AvailableTimes reports the time variants declared for name.
func (o *Orchestrator) AvailableTimes(name string) ([]config.TimeOfDay, error) {
	descriptor, ok := o.store.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("orchestrator: unknown environment %q: %w", name, errs.NotFound)
	}
	times, _ := descriptor.AvailableTimes()
	return times, nil
}

// Search delegates to the Config Store's substring search over name,
// category, and mix display names (spec §4).
func (o *Orchestrator) Search(query string) []config.Descriptor {
	return o.store.Search(query)
}

// ClearDownloadCache delegates to the Download Queue, refusing unless the
// core is quiescent (spec §9, Open Question #3): no atmosphere stream
// active and no download in flight.
func (o *Orchestrator) ClearDownloadCache() (int, error) {
	return o.queue.ClearCache(o.isQuiescent)
}

func (o *Orchestrator) isQuiescent() bool {
	urls, _, _ := o.atmosphere.ActiveURLs()
	return len(urls) == 0 && !o.queue.IsDownloading() && o.queue.PendingCount() == 0
}

// Shutdown runs the resource-cleanup sequence from spec §5: stop
// atmosphere, stop the one-shot player, set lights to a safe state, and
// pause the music client.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.atmosphere.StopAll()

	o.mu.Lock()
	handle := o.st.activeOneShotHandle
	hasHandle := o.st.hasOneShotHandle
	musicPlaying := o.st.musicPlaying
	o.mu.Unlock()

	if hasHandle {
		if err := o.player.Kill(handle); err != nil {
			o.log.Warn("orchestrator: one-shot kill failed during shutdown", "error", err)
		}
	}
	o.lights.SetSafe()
	if musicPlaying {
		if err := o.music.Pause(ctx); err != nil {
			o.log.Warn("orchestrator: music pause failed during shutdown", "error", err)
		}
	}
}
