package orchestrator

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/indubitablygregarious/immerse-yourself/internal/atmosphere"
	"github.com/indubitablygregarious/immerse-yourself/internal/config"
	"github.com/indubitablygregarious/immerse-yourself/internal/downloadqueue"
	"github.com/indubitablygregarious/immerse-yourself/internal/player"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// --- fakes -----------------------------------------------------------

type startCall struct {
	url        string
	volume     int
	generation uint64
}

type fakeAtmosphere struct {
	mu         sync.Mutex
	generation uint64
	active     map[string]int // url -> volume
	displayN   map[string]string
	starts     []startCall
	stopped    []string
	stoppedAll int
	paused     bool
}

func newFakeAtmosphere() *fakeAtmosphere {
	return &fakeAtmosphere{active: map[string]int{}, displayN: map[string]string{}}
}

func (f *fakeAtmosphere) Generation() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.generation
}

func (f *fakeAtmosphere) BumpGeneration() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generation++
	return f.generation
}

func (f *fakeAtmosphere) Start(ctx context.Context, url string, volume int, generation uint64, opts atmosphere.StartOptions) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if generation != f.generation {
		return // stale, dropped exactly like the real engine
	}
	f.active[url] = volume
	f.displayN[url] = opts.DisplayName
	f.starts = append(f.starts, startCall{url: url, volume: volume, generation: generation})
}

func (f *fakeAtmosphere) Stop(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, url)
	delete(f.displayN, url)
	f.stopped = append(f.stopped, url)
}

func (f *fakeAtmosphere) StopAll() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.active)
	f.active = map[string]int{}
	f.displayN = map[string]string{}
	f.generation++
	f.stoppedAll++
	return n
}

func (f *fakeAtmosphere) SetVolume(url string, v int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[url] = v
	return nil
}

func (f *fakeAtmosphere) IsURLActive(url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.active[url]
	return ok
}

func (f *fakeAtmosphere) ActiveURLs() ([]string, []string, map[string]int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var urls, names []string
	vols := map[string]int{}
	for u, v := range f.active {
		urls = append(urls, u)
		names = append(names, f.displayN[u])
		vols[u] = v
	}
	return urls, names, vols
}

func (f *fakeAtmosphere) PreDownload(url string) {}

func (f *fakeAtmosphere) PauseAll()  { f.mu.Lock(); f.paused = true; f.mu.Unlock() }
func (f *fakeAtmosphere) ResumeAll() { f.mu.Lock(); f.paused = false; f.mu.Unlock() }

type fakeLights struct {
	mu        sync.Mutex
	installed []config.Animation
	stopped   int
	safed     int
	hasBulbs  bool
}

func (f *fakeLights) Install(p config.Animation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installed = append(f.installed, p)
}
func (f *fakeLights) Stop()          { f.mu.Lock(); f.stopped++; f.mu.Unlock() }
func (f *fakeLights) SetSafe()       { f.mu.Lock(); f.safed++; f.mu.Unlock() }
func (f *fakeLights) HasBulbs() bool { return f.hasBulbs }

type fakeQueue struct {
	mu        sync.Mutex
	cached    map[string]string
	enqueued  []string
	downloading bool
	pending   int
}

func newFakeQueue() *fakeQueue { return &fakeQueue{cached: map[string]string{}} }

func (f *fakeQueue) IsCached(url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.cached[url]
	return ok
}
func (f *fakeQueue) ResolveCachedPath(url string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.cached[url]
	return p, ok
}
func (f *fakeQueue) Enqueue(url string, cb downloadqueue.Callback) downloadqueue.Outcome {
	f.mu.Lock()
	f.enqueued = append(f.enqueued, url)
	path, ok := f.cached[url]
	f.mu.Unlock()
	if ok {
		if cb != nil {
			cb(downloadqueue.Result{Path: path})
		}
		return downloadqueue.Cached
	}
	return downloadqueue.Queued
}
func (f *fakeQueue) PendingCount() int  { f.mu.Lock(); defer f.mu.Unlock(); return f.pending }
func (f *fakeQueue) IsDownloading() bool { f.mu.Lock(); defer f.mu.Unlock(); return f.downloading }
func (f *fakeQueue) ClearCache(q func() bool) (int, error) {
	if !q() {
		return 0, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.cached)
	f.cached = map[string]string{}
	return n, nil
}

// markCached lets a test simulate the download queue resolving a URL
// asynchronously, after Activate has already entered phase B.
func (f *fakeQueue) markCached(url, path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cached[url] = path
}

type fakePlayer struct {
	mu      sync.Mutex
	next    player.Handle
	paused  map[player.Handle]bool
	killed  map[player.Handle]bool
	failNext bool
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{paused: map[player.Handle]bool{}, killed: map[player.Handle]bool{}}
}

func (p *fakePlayer) PlayOneShot(ctx context.Context, path string, volume int, tag player.Tag) (player.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failNext {
		p.failNext = false
		return 0, context.DeadlineExceeded
	}
	p.next++
	return p.next, nil
}
func (p *fakePlayer) PlayLoop(ctx context.Context, path string, volume int, tag player.Tag) (player.Handle, error) {
	return p.PlayOneShot(ctx, path, volume, tag)
}
func (p *fakePlayer) SetVolume(h player.Handle, v int) error { return nil }
func (p *fakePlayer) Pause(h player.Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused[h] = true
	return nil
}
func (p *fakePlayer) Resume(h player.Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused[h] = false
	return nil
}
func (p *fakePlayer) Kill(h player.Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed[h] = true
	return nil
}
func (p *fakePlayer) KillAllWithTag(tag player.Tag) error { return nil }

type fakeMusic struct {
	mu        sync.Mutex
	playedURI string
	paused    bool
	available bool
}

func (m *fakeMusic) Authenticate(ctx context.Context) error { return nil }
func (m *fakeMusic) PlayContext(ctx context.Context, uri string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playedURI = uri
	m.paused = false
	return nil
}
func (m *fakeMusic) Pause(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = true
	return nil
}
func (m *fakeMusic) IsAvailable() bool { return m.available }

// --- harness -----------------------------------------------------------

func writeDescriptor(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(body), 0o644); err != nil {
		t.Fatalf("write descriptor: %v", err)
	}
}

type harness struct {
	o    *Orchestrator
	atm  *fakeAtmosphere
	lgt  *fakeLights
	q    *fakeQueue
	ply  *fakePlayer
	msc  *fakeMusic
}

func newHarness(t *testing.T, descriptorDir string) *harness {
	t.Helper()
	store := config.NewStore(descriptorDir, filepath.Join(descriptorDir, "collections"), testLogger())
	if err := store.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	h := &harness{
		atm: newFakeAtmosphere(),
		lgt: &fakeLights{},
		q:   newFakeQueue(),
		ply: newFakePlayer(),
		msc: &fakeMusic{available: true},
	}
	h.o = New(store, h.q, h.atm, h.lgt, h.ply, h.msc, testLogger())
	return h
}

// --- tests -----------------------------------------------------------

func TestActivate_SoundOnlyOverlayDoesNotTouchAtmosphereOrLights(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "forest", `
name: forest
atmosphere:
  - url: https://example.com/wind.mp3
    volume: 40
lights:
  cycletime: 5
  groups:
    backdrop:
      type: rgb
      base: [10, 20, 30]
      brightness: {min: 50, max: 50}
`)
	writeDescriptor(t, dir, "bell", `
name: bell
sound:
  file: /sounds/bell.wav
  volume: 80
`)
	h := newHarness(t, dir)
	h.q.markCached("https://example.com/wind.mp3", "/cache/wind.mp3")

	ctx := context.Background()
	if err := h.o.Activate(ctx, "forest", nil); err != nil {
		t.Fatalf("activate forest: %v", err)
	}
	if !h.atm.IsURLActive("https://example.com/wind.mp3") {
		t.Fatal("expected forest's atmosphere stream to be active")
	}
	if len(h.lgt.installed) != 1 {
		t.Fatalf("expected exactly one lights install, got %d", len(h.lgt.installed))
	}

	if err := h.o.Activate(ctx, "bell", nil); err != nil {
		t.Fatalf("activate bell: %v", err)
	}
	if !h.atm.IsURLActive("https://example.com/wind.mp3") {
		t.Fatal("sound-only overlay must not stop the running atmosphere stream")
	}
	if len(h.lgt.installed) != 1 {
		t.Fatalf("sound-only overlay must not reinstall lights, got %d installs", len(h.lgt.installed))
	}
	if h.ply.next != 1 {
		t.Fatalf("expected bell's one-shot to have spawned, got handle counter %d", h.ply.next)
	}
}

func TestActivate_DeclaringAtmosphereStopsPreviousStreams(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "cave", `
name: cave
atmosphere:
  - url: https://example.com/drip.mp3
    volume: 30
`)
	writeDescriptor(t, dir, "meadow", `
name: meadow
atmosphere:
  - url: https://example.com/birds.mp3
    volume: 60
`)
	h := newHarness(t, dir)
	h.q.markCached("https://example.com/drip.mp3", "/cache/drip.mp3")
	h.q.markCached("https://example.com/birds.mp3", "/cache/birds.mp3")

	ctx := context.Background()
	if err := h.o.Activate(ctx, "cave", nil); err != nil {
		t.Fatalf("activate cave: %v", err)
	}
	if err := h.o.Activate(ctx, "meadow", nil); err != nil {
		t.Fatalf("activate meadow: %v", err)
	}
	if h.atm.IsURLActive("https://example.com/drip.mp3") {
		t.Fatal("expected cave's stream to have been stopped when meadow declared its own atmosphere")
	}
	if !h.atm.IsURLActive("https://example.com/birds.mp3") {
		t.Fatal("expected meadow's stream to be active")
	}
}

func TestActivate_CancellationDuringPreDownloadDropsUnresolvedEntry(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "swamp", `
name: swamp
atmosphere:
  - url: https://example.com/frogs.mp3
    volume: 50
lights:
  cycletime: 5
  groups:
    backdrop: {type: off}
`)
	h := newHarness(t, dir)
	// frogs.mp3 is never marked cached, so Activate's phase-B poll would
	// normally run up to the 60s ceiling; instead we cancel the context
	// to force an early return from preStage, after which the commit
	// runs with frogs.mp3 in the dropped set.
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	if err := h.o.Activate(ctx, "swamp", nil); err != nil {
		t.Fatalf("activate should return nil even when pre-staging is cut short: %v", err)
	}
	// preStage returns early on ctx.Done(), leaving frogs.mp3 in the
	// "never resolved in time" set; commit must skip it rather than
	// start a stream whose audio was never cached.
	if h.atm.IsURLActive("https://example.com/frogs.mp3") {
		t.Fatal("uncached, never-resolved stream must not have started")
	}
}

func TestToggleLoop_IndependentOfActiveEnvironment(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "plain", `
name: plain
sound:
  file: /sounds/x.wav
  volume: 10
`)
	h := newHarness(t, dir)
	ctx := context.Background()

	playing, err := h.o.ToggleLoop(ctx, "https://example.com/extra.mp3")
	if err != nil {
		t.Fatalf("toggle on: %v", err)
	}
	if !playing {
		t.Fatal("expected toggle to start the stream")
	}
	playing, err = h.o.ToggleLoop(ctx, "https://example.com/extra.mp3")
	if err != nil {
		t.Fatalf("toggle off: %v", err)
	}
	if playing {
		t.Fatal("expected second toggle to stop the stream")
	}
}

func TestSetVolume_PersistsAcrossPauseResume(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "plain", `
name: plain
atmosphere:
  - url: https://example.com/loop.mp3
    volume: 20
`)
	h := newHarness(t, dir)
	h.q.markCached("https://example.com/loop.mp3", "/cache/loop.mp3")
	ctx := context.Background()

	if err := h.o.Activate(ctx, "plain", nil); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := h.o.SetVolume("https://example.com/loop.mp3", 77); err != nil {
		t.Fatalf("set volume: %v", err)
	}

	paused := h.o.TogglePauseAllSounds(ctx)
	if !paused {
		t.Fatal("expected pause")
	}
	if !h.atm.paused {
		t.Fatal("expected atmosphere engine to have been told to pause")
	}
	resumed := h.o.TogglePauseAllSounds(ctx)
	if resumed {
		t.Fatal("expected resume")
	}

	_, _, volumes := h.atm.ActiveURLs()
	if volumes["https://example.com/loop.mp3"] != 77 {
		t.Fatalf("expected persisted volume 77 across pause/resume, got %d", volumes["https://example.com/loop.mp3"])
	}
}

func TestSetTimeOfDay_ReactivatesMatchingVariant(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "plaza", `
name: plaza
lights:
  cycletime: 5
  groups:
    backdrop: {type: rgb, base: [100, 100, 100], brightness: {min: 80, max: 80}}
time_variants:
  evening:
    lights:
      cycletime: 5
      groups:
        backdrop: {type: rgb, base: [10, 0, 30], brightness: {min: 20, max: 20}}
`)
	h := newHarness(t, dir)
	ctx := context.Background()
	if err := h.o.Activate(ctx, "plaza", nil); err != nil {
		t.Fatalf("activate: %v", err)
	}
	installsBefore := len(h.lgt.installed)

	if err := h.o.SetTimeOfDay(ctx, config.Evening); err != nil {
		t.Fatalf("set time of day: %v", err)
	}
	if len(h.lgt.installed) != installsBefore+1 {
		t.Fatalf("expected SetTimeOfDay to reactivate plaza under the evening variant, installs=%d", len(h.lgt.installed))
	}
	last := h.lgt.installed[len(h.lgt.installed)-1]
	if last.Groups["backdrop"].Rgb.Base[2] != 30 {
		t.Fatalf("expected evening variant's blue base channel, got %+v", last.Groups["backdrop"].Rgb.Base)
	}
}

func TestStopAtmosphere_PausesMusicIfPlaying(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "club", `
name: club
music:
  context_uri: spotify:playlist:abc
atmosphere:
  - url: https://example.com/bass.mp3
    volume: 90
`)
	h := newHarness(t, dir)
	h.q.markCached("https://example.com/bass.mp3", "/cache/bass.mp3")
	ctx := context.Background()
	if err := h.o.Activate(ctx, "club", nil); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if h.msc.playedURI != "spotify:playlist:abc" {
		t.Fatalf("expected music context to have played, got %q", h.msc.playedURI)
	}

	n := h.o.StopAtmosphere(ctx)
	if n != 1 {
		t.Fatalf("expected 1 stream stopped, got %d", n)
	}
	if !h.msc.paused {
		t.Fatal("expected music client to have been paused")
	}
}

func TestShutdown_RunsCleanupSequence(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "study", `
name: study
sound:
  file: /sounds/x.wav
  volume: 10
music:
  context_uri: spotify:playlist:def
`)
	h := newHarness(t, dir)
	ctx := context.Background()
	if err := h.o.Activate(ctx, "study", nil); err != nil {
		t.Fatalf("activate: %v", err)
	}

	h.o.Shutdown(ctx)
	if h.atm.stoppedAll == 0 {
		t.Fatal("expected shutdown to stop all atmosphere streams")
	}
	if len(h.ply.killed) == 0 {
		t.Fatal("expected shutdown to kill the one-shot player handle")
	}
	if h.lgt.safed == 0 {
		t.Fatal("expected shutdown to set lights to a safe state")
	}
	if !h.msc.paused {
		t.Fatal("expected shutdown to pause the music client")
	}
}

func TestSnapshot_ReflectsLiveState(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "office", `
name: office
atmosphere:
  - url: https://example.com/hum.mp3
    volume: 25
    display_name: Server Hum
`)
	h := newHarness(t, dir)
	h.q.markCached("https://example.com/hum.mp3", "/cache/hum.mp3")
	ctx := context.Background()
	if err := h.o.Activate(ctx, "office", nil); err != nil {
		t.Fatalf("activate: %v", err)
	}

	snap := h.o.Snapshot()
	if len(snap.ActiveAtmosphereURLs) != 1 || snap.ActiveAtmosphereURLs[0] != "https://example.com/hum.mp3" {
		t.Fatalf("expected hum.mp3 in snapshot, got %+v", snap.ActiveAtmosphereURLs)
	}
	if snap.AtmosphereVolumes["https://example.com/hum.mp3"] != 25 {
		t.Fatalf("expected volume 25 in snapshot, got %d", snap.AtmosphereVolumes["https://example.com/hum.mp3"])
	}
	if !snap.MusicAvailable {
		t.Fatal("expected music_available true from fake client")
	}
}
