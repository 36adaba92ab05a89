package atmosphere

import (
	"context"
	"time"
)

// fadeHz is the update rate for the linear fade ramp; spec §4.2 requires
// at least 10 Hz.
const fadeHz = 20

// armTimers implements the exact four-case duration/fade matrix from
// spec §4.2. It is called once, immediately after a stream transitions
// to Playing.
func (e *Engine) armTimers(ctx context.Context, st *stream, opts StartOptions) {
	maxDuration := opts.MaxDuration
	fadeDuration := opts.FadeDuration

	if maxDuration <= 0 && fadeDuration <= 0 {
		return // loops indefinitely
	}

	timerCtx, cancel := context.WithCancel(ctx)
	st.mu.Lock()
	st.cancel = cancel
	st.mu.Unlock()

	switch {
	case maxDuration > 0 && fadeDuration <= 0:
		go e.runHardStop(timerCtx, st, maxDuration)
	case maxDuration <= 0 && fadeDuration > 0:
		go e.runFade(timerCtx, st, fadeDuration)
	default:
		if fadeDuration > maxDuration {
			fadeDuration = maxDuration
		}
		go e.runPlayThenFade(timerCtx, st, maxDuration-fadeDuration, fadeDuration)
	}
}

func (e *Engine) runHardStop(ctx context.Context, st *stream, maxDuration float64) {
	select {
	case <-time.After(floatSeconds(maxDuration)):
		e.Stop(st.url)
	case <-ctx.Done():
	}
}

func (e *Engine) runPlayThenFade(ctx context.Context, st *stream, playFor, fadeFor float64) {
	select {
	case <-time.After(floatSeconds(playFor)):
	case <-ctx.Done():
		return
	}
	e.runFade(ctx, st, fadeFor)
}

// runFade performs a linear ramp from the stream's current volume to
// zero over fadeFor seconds, at fadeHz, then stops the stream. Every
// step re-checks that the stream still exists under the same generation
// (it may have been stopped or superseded mid-fade).
func (e *Engine) runFade(ctx context.Context, st *stream, fadeFor float64) {
	st.mu.Lock()
	startVolume := st.volume
	generation := st.generation
	st.mu.Unlock()

	steps := int(fadeFor * fadeHz)
	if steps < 1 {
		steps = 1
	}
	interval := time.Duration(float64(time.Second) * fadeFor / float64(steps))
	if interval <= 0 {
		interval = time.Second / fadeHz
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for step := 1; step <= steps; step++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		e.mu.Lock()
		current, stillTracked := e.streams[st.url]
		e.mu.Unlock()
		if !stillTracked || current != st {
			return // superseded or already stopped
		}
		current.mu.Lock()
		if current.generation != generation {
			current.mu.Unlock()
			return
		}
		current.mu.Unlock()

		target := startVolume - (startVolume * step / steps)
		if target < 0 {
			target = 0
		}
		if err := e.player.SetVolume(current.handle, target); err != nil {
			e.log.Debug("atmosphere: fade step failed", "url", st.url, "error", err)
		}
		current.mu.Lock()
		current.volume = target
		current.mu.Unlock()
	}
	e.Stop(st.url)
}

func floatSeconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
