package atmosphere

import (
	"context"
	"math/rand"
	"time"

	"github.com/indubitablygregarious/immerse-yourself/internal/player"
)

// spawnRetrigger implements the supplemented retrigger mode (SPEC_FULL
// §3.1, grounded in the original's RetriggerConfig): rather than a
// continuous loop, the stream plays a one-shot, waits a random delay in
// [MinDelay, MaxDelay] seconds, then repeats at a volume varied by up
// to ±VolumeVariance percent of the base volume. It still occupies a stream record under the
// Atmosphere tag so stop_all/generation rules apply uniformly.
func (e *Engine) spawnRetrigger(ctx context.Context, url, path string, volume int, generation uint64, opts StartOptions) {
	if e.generation.Load() != generation {
		e.log.Debug("atmosphere: dropping stale retrigger spawn", "url", url, "captured_generation", generation)
		return
	}

	timerCtx, cancel := context.WithCancel(ctx)
	st := &stream{url: url, volume: volume, generation: generation, displayName: opts.DisplayName, cancel: cancel}

	e.mu.Lock()
	e.streams[url] = st
	e.mu.Unlock()

	go e.runRetrigger(timerCtx, st, path, opts.Retrigger)
}

func (e *Engine) runRetrigger(ctx context.Context, st *stream, path string, r *RetriggerOptions) {
	for {
		st.mu.Lock()
		v := varyVolume(st.volume, r.VolumeVariance)
		st.mu.Unlock()

		handle, err := e.player.PlayOneShot(ctx, path, v, player.TagAtmosphere)
		if err != nil {
			e.log.Debug("atmosphere: retrigger play failed", "url", st.url, "error", err)
		} else {
			st.mu.Lock()
			st.handle = handle
			st.mu.Unlock()
		}

		delay := randomBetween(r.MinDelay, r.MaxDelay)
		select {
		case <-time.After(floatSeconds(delay)):
		case <-ctx.Done():
			return
		}

		e.mu.Lock()
		current, ok := e.streams[st.url]
		e.mu.Unlock()
		if !ok || current != st {
			return
		}
	}
}

func varyVolume(base int, variancePct float64) int {
	if variancePct <= 0 {
		return base
	}
	offset := (rand.Float64()*2 - 1) * variancePct / 100 * float64(base)
	v := base + int(offset)
	if v < 1 {
		v = 1
	}
	if v > 100 {
		v = 100
	}
	return v
}

func randomBetween(min, max float64) float64 {
	if max <= min {
		return min
	}
	return min + rand.Float64()*(max-min)
}
