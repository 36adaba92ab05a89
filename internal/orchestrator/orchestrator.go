// Package orchestrator implements the Orchestrator (spec §4.1): the
// serialization and transition authority over the Download Queue,
// Atmosphere Engine, Lights Engine, Player, and Music Client. It owns
// environment-selection state and publishes a consistent snapshot.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/indubitablygregarious/immerse-yourself/internal/atmosphere"
	"github.com/indubitablygregarious/immerse-yourself/internal/config"
	"github.com/indubitablygregarious/immerse-yourself/internal/downloadqueue"
	"github.com/indubitablygregarious/immerse-yourself/internal/errs"
	"github.com/indubitablygregarious/immerse-yourself/internal/metrics"
	"github.com/indubitablygregarious/immerse-yourself/internal/musicclient"
	"github.com/indubitablygregarious/immerse-yourself/internal/player"
)

// preStagePoll and preStageCeiling implement the phase-B polling
// discipline from spec §4.1 and §5.
const (
	preStagePoll    = 300 * time.Millisecond
	preStageCeiling = 60 * time.Second
)

// defaultToggleVolume is used by ToggleLoop when no prior SetVolume has
// recorded a value for the URL.
const defaultToggleVolume = 50

type atmosphereEngine interface {
	Generation() uint64
	BumpGeneration() uint64
	Start(ctx context.Context, url string, volume int, generation uint64, opts atmosphere.StartOptions)
	Stop(url string)
	StopAll() int
	SetVolume(url string, v int) error
	IsURLActive(url string) bool
	ActiveURLs() (urls []string, displayNames []string, volumes map[string]int)
	PreDownload(url string)
	PauseAll()
	ResumeAll()
}

type lightsEngine interface {
	Install(program config.Animation)
	Stop()
	SetSafe()
	HasBulbs() bool
}

type downloadQueue interface {
	IsCached(url string) bool
	ResolveCachedPath(url string) (string, bool)
	Enqueue(url string, cb downloadqueue.Callback) downloadqueue.Outcome
	PendingCount() int
	IsDownloading() bool
	ClearCache(quiescent func() bool) (int, error)
}

// state is OrchestratorState (spec §3), guarded by Orchestrator.mu.
type state struct {
	activeLightsName    *string
	activeOneShotName   *string
	activeOneShotHandle player.Handle
	hasOneShotHandle    bool
	currentTime         config.TimeOfDay
	isSoundsPaused      bool
	musicPlaying        bool
	atmosphereVolumes   map[string]int
}

// Orchestrator is the CORE's single serialization authority.
type Orchestrator struct {
	log        *slog.Logger
	store      *config.Store
	queue      downloadQueue
	atmosphere atmosphereEngine
	lights     lightsEngine
	player     player.Player
	music      musicclient.Client
	metrics    *metrics.Metrics

	mu sync.Mutex
	st state
}

// SetMetrics attaches a metrics sink. Optional.
func (o *Orchestrator) SetMetrics(m *metrics.Metrics) { o.metrics = m }

func New(
	store *config.Store,
	queue downloadQueue,
	atmosphereEngine atmosphereEngine,
	lightsEngine lightsEngine,
	p player.Player,
	music musicclient.Client,
	log *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		log:        log,
		store:      store,
		queue:      queue,
		atmosphere: atmosphereEngine,
		lights:     lightsEngine,
		player:     p,
		music:      music,
		st: state{
			currentTime:       config.Daytime,
			atmosphereVolumes: map[string]int{},
		},
	}
}

// Activate implements the two-phase activation algorithm (spec §4.1).
func (o *Orchestrator) Activate(ctx context.Context, name string, t *config.TimeOfDay) error {
	o.metrics.IncActivations()
	// Phase A (locked).
	o.mu.Lock()
	useTime := o.st.currentTime
	if t != nil {
		useTime = *t
	}
	descriptor, err := o.store.Resolve(name, useTime)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	uncached := uncachedURLs(descriptor, o.queue)
	generation := o.atmosphere.BumpGeneration()
	previousURLs, _, _ := o.atmosphere.ActiveURLs()
	o.mu.Unlock()

	// Phase B (unlocked).
	dropped := o.preStage(ctx, uncached)
	if len(dropped) > 0 {
		o.log.Warn("orchestrator: mix entries never cached in time, dropping for this activation", "descriptor", name, "dropped_count", len(dropped))
		o.metrics.AddActivationDrops(len(dropped))
	}

	// Phase C (re-lock to check, then commit).
	o.mu.Lock()
	if o.atmosphere.Generation() != generation {
		o.mu.Unlock()
		o.log.Debug("orchestrator: activation superseded before commit", "descriptor", name)
		return nil // Cancelled: never surfaced to the caller.
	}

	var oneShotPlan *oneShotPlan
	if descriptor.Sound != nil && !descriptor.Sound.Loop {
		oneShotPlan = o.planOneShot(descriptor)
	}
	musicURI := ""
	if descriptor.Music != nil {
		musicURI = descriptor.Music.ContextURI
	}
	declaresAtmosphere := len(descriptor.Atmosphere) > 0
	declaresLights := descriptor.Lights != nil

	if oneShotPlan != nil {
		o.st.activeOneShotName = strPtr(descriptor.Name)
	}
	if declaresLights {
		o.st.activeLightsName = strPtr(descriptor.Name)
	}
	o.mu.Unlock()

	// Fan-out (outside the lock): spawn, then replace atmosphere, then
	// hot-swap lights. Ordering per spec §5: one-shot → music → atmosphere
	// → lights.
	var oneShotErr error
	if oneShotPlan != nil {
		oneShotErr = o.spawnOneShot(ctx, oneShotPlan)
	}
	if musicURI != "" {
		o.playMusicContext(ctx, musicURI)
	}
	if declaresAtmosphere {
		for _, url := range previousURLs {
			o.atmosphere.Stop(url)
		}
		o.startAtmosphereMix(ctx, descriptor, generation, dropped)
	}
	if declaresLights {
		o.lights.Install(*descriptor.Lights)
	}

	return oneShotErr
}

func uncachedURLs(d config.Descriptor, q downloadQueue) []string {
	var out []string
	for _, m := range d.Atmosphere {
		if !q.IsCached(m.URL) {
			out = append(out, m.URL)
		}
	}
	return out
}

// preStage enqueues every uncached URL and polls until cached or the
// 60s ceiling, returning the set that never made it (spec §4.1).
func (o *Orchestrator) preStage(ctx context.Context, urls []string) map[string]bool {
	if len(urls) == 0 {
		return nil
	}
	for _, u := range urls {
		o.queue.Enqueue(u, nil)
	}

	remaining := make(map[string]bool, len(urls))
	for _, u := range urls {
		remaining[u] = true
	}

	deadline := time.Now().Add(preStageCeiling)
	ticker := time.NewTicker(preStagePoll)
	defer ticker.Stop()

	for len(remaining) > 0 && time.Now().Before(deadline) {
		for u := range remaining {
			if o.queue.IsCached(u) {
				delete(remaining, u)
			}
		}
		if len(remaining) == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return remaining
		case <-ticker.C:
		}
	}
	return remaining
}

func (o *Orchestrator) startAtmosphereMix(ctx context.Context, d config.Descriptor, generation uint64, dropped map[string]bool) {
	for _, m := range d.Atmosphere {
		if dropped[m.URL] {
			continue
		}
		if m.Optional && m.Probability > 0 && rand.Float64() > m.Probability {
			continue
		}
		opts := atmosphere.StartOptions{
			DisplayName:  m.DisplayName,
			MaxDuration:  m.MaxDuration,
			FadeDuration: m.FadeDuration,
		}
		if m.Retrigger != nil {
			opts.Retrigger = &atmosphere.RetriggerOptions{
				MinDelay:       m.Retrigger.MinDelay,
				MaxDelay:       m.Retrigger.MaxDelay,
				VolumeVariance: m.Retrigger.VolumeVariance,
			}
		}
		o.atmosphere.Start(ctx, m.URL, m.Volume, generation, opts)
	}
}

type oneShotPlan struct {
	path   string
	volume int
}

// planOneShot resolves a descriptor's sound reference, including the
// sound_conf: indirection (spec §6), to a concrete local path. A remote
// collection entry that is not already cached is skipped for this
// activation — one-shot sounds are not pre-staged the way atmosphere
// mix entries are (DESIGN.md decision).
func (o *Orchestrator) planOneShot(d config.Descriptor) *oneShotPlan {
	s := d.Sound
	if collID, ok := s.CollectionRef(); ok {
		coll, err := o.store.LoadSoundCollection(collID)
		if err != nil {
			o.log.Warn("orchestrator: sound collection unavailable", "id", collID, "error", err)
			return nil
		}
		entry := coll.Entries[rand.Intn(len(coll.Entries))]
		volume := entry.Volume
		if volume == 0 {
			volume = s.Volume
		}
		if entry.IsRemote() {
			path, ok := o.queue.ResolveCachedPath(entry.URL)
			if !ok {
				o.queue.Enqueue(entry.URL, nil) // warm the cache for next time
				o.log.Debug("orchestrator: one-shot collection entry not cached, skipping this activation", "url", entry.URL)
				return nil
			}
			return &oneShotPlan{path: path, volume: volume}
		}
		return &oneShotPlan{path: entry.Path, volume: volume}
	}
	return &oneShotPlan{path: s.File, volume: s.Volume}
}

func (o *Orchestrator) spawnOneShot(ctx context.Context, plan *oneShotPlan) error {
	handle, err := o.player.PlayOneShot(ctx, plan.path, plan.volume, player.TagOneShot)
	if err != nil {
		o.log.Warn("orchestrator: one-shot spawn failed", "error", err)
		o.metrics.IncErrors()
		return fmt.Errorf("spawn one-shot: %w", errs.PlayerFailure)
	}
	o.mu.Lock()
	o.st.activeOneShotHandle = handle
	o.st.hasOneShotHandle = true
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) playMusicContext(ctx context.Context, uri string) {
	if err := o.music.PlayContext(ctx, uri); err != nil {
		o.log.Warn("orchestrator: music context play failed", "uri", uri, "error", err)
		return
	}
	o.mu.Lock()
	o.st.musicPlaying = true
	o.mu.Unlock()
}

func strPtr(s string) *string { return &s }
