package atmosphere

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/indubitablygregarious/immerse-yourself/internal/downloadqueue"
	"github.com/indubitablygregarious/immerse-yourself/internal/player"
)

// fakeDownloader resolves every Enqueue synchronously (or with a fixed
// artificial delay) so tests don't need a real cache directory.
type fakeDownloader struct {
	delay time.Duration
	fail  bool
}

func (f *fakeDownloader) Enqueue(url string, cb downloadqueue.Callback) downloadqueue.Outcome {
	if cb == nil {
		return downloadqueue.Queued
	}
	go func() {
		if f.delay > 0 {
			time.Sleep(f.delay)
		}
		if f.fail {
			cb(downloadqueue.Result{Err: context.DeadlineExceeded})
			return
		}
		cb(downloadqueue.Result{Path: "/cache/" + url})
	}()
	return downloadqueue.Queued
}

type playCall struct {
	path   string
	volume int
	tag    player.Tag
}

type fakePlayer struct {
	mu        sync.Mutex
	nextHandle player.Handle
	plays     []playCall
	volumes   map[player.Handle]int
	killed    map[player.Handle]bool
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{volumes: map[player.Handle]int{}, killed: map[player.Handle]bool{}}
}

func (f *fakePlayer) PlayOneShot(ctx context.Context, path string, volume int, tag player.Tag) (player.Handle, error) {
	return f.play(path, volume, tag)
}

func (f *fakePlayer) PlayLoop(ctx context.Context, path string, volume int, tag player.Tag) (player.Handle, error) {
	return f.play(path, volume, tag)
}

func (f *fakePlayer) play(path string, volume int, tag player.Tag) (player.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextHandle++
	h := f.nextHandle
	f.plays = append(f.plays, playCall{path: path, volume: volume, tag: tag})
	f.volumes[h] = volume
	return h, nil
}

func (f *fakePlayer) SetVolume(h player.Handle, volume int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumes[h] = volume
	return nil
}

func (f *fakePlayer) Pause(h player.Handle) error  { return nil }
func (f *fakePlayer) Resume(h player.Handle) error { return nil }

func (f *fakePlayer) Kill(h player.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed[h] = true
	return nil
}

func (f *fakePlayer) KillAllWithTag(tag player.Tag) error { return nil }

func (f *fakePlayer) isKilled(h player.Handle) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.killed[h]
}

func (f *fakePlayer) volumeOf(h player.Handle) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.volumes[h]
}

func testEngine(d downloader, p player.Player) *Engine {
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(p, d, log)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestEngine_StartSpawnsUnderCurrentGeneration(t *testing.T) {
	p := newFakePlayer()
	e := testEngine(&fakeDownloader{}, p)

	gen := e.BumpGeneration()
	e.Start(context.Background(), "u1", 50, gen, StartOptions{})

	waitFor(t, func() bool { return e.IsURLActive("u1") })
}

func TestEngine_StaleGenerationDropsSpawn(t *testing.T) {
	p := newFakePlayer()
	d := &fakeDownloader{delay: 50 * time.Millisecond}
	e := testEngine(d, p)

	staleGen := e.BumpGeneration()
	e.Start(context.Background(), "u2", 50, staleGen, StartOptions{})
	e.BumpGeneration() // a new activation arrives before the download resolves

	time.Sleep(150 * time.Millisecond)
	if e.IsURLActive("u2") {
		t.Fatal("expected stale-generation spawn to be dropped")
	}
	if len(p.plays) != 0 {
		t.Fatalf("expected no Player calls for a dropped spawn, got %d", len(p.plays))
	}
}

func TestEngine_StopAllBumpsGenerationAndKillsHandles(t *testing.T) {
	p := newFakePlayer()
	e := testEngine(&fakeDownloader{}, p)

	gen := e.BumpGeneration()
	e.Start(context.Background(), "u3", 50, gen, StartOptions{})
	waitFor(t, func() bool { return e.IsURLActive("u3") })

	before := e.Generation()
	n := e.StopAll()
	if n != 1 {
		t.Fatalf("expected StopAll to report 1 stream, got %d", n)
	}
	if e.Generation() <= before {
		t.Fatal("expected StopAll to bump the generation")
	}
	if e.IsURLActive("u3") {
		t.Fatal("expected stream to be untracked after StopAll")
	}
}

func TestEngine_ReactivationVolumeWinsOverSetVolume(t *testing.T) {
	p := newFakePlayer()
	e := testEngine(&fakeDownloader{}, p)

	gen := e.BumpGeneration()
	e.Start(context.Background(), "u4", 50, gen, StartOptions{})
	waitFor(t, func() bool { return e.IsURLActive("u4") })

	if err := e.SetVolume("u4", 80); err != nil {
		t.Fatalf("SetVolume: %v", err)
	}
	e.Stop("u4")

	gen2 := e.BumpGeneration()
	e.Start(context.Background(), "u4", 30, gen2, StartOptions{})
	waitFor(t, func() bool { return e.IsURLActive("u4") })

	_, _, volumes := e.ActiveURLs()
	if volumes["u4"] != 30 {
		t.Fatalf("expected fresh activation value 30 to win, got %d", volumes["u4"])
	}
}

func TestEngine_HardStopAfterMaxDuration(t *testing.T) {
	p := newFakePlayer()
	e := testEngine(&fakeDownloader{}, p)

	gen := e.BumpGeneration()
	e.Start(context.Background(), "u5", 50, gen, StartOptions{MaxDuration: 0.05})
	waitFor(t, func() bool { return e.IsURLActive("u5") })
	waitFor(t, func() bool { return !e.IsURLActive("u5") })
}

func TestEngine_FadeReachesZeroThenStops(t *testing.T) {
	p := newFakePlayer()
	e := testEngine(&fakeDownloader{}, p)

	gen := e.BumpGeneration()
	e.Start(context.Background(), "u6", 100, gen, StartOptions{FadeDuration: 0.1})
	waitFor(t, func() bool { return e.IsURLActive("u6") })
	waitFor(t, func() bool { return !e.IsURLActive("u6") })

	if len(p.plays) != 1 {
		t.Fatalf("expected exactly one play call, got %d", len(p.plays))
	}
	h := player.Handle(1)
	if !p.isKilled(h) {
		t.Fatal("expected stream handle to be killed once fade completes")
	}
}

func TestEngine_DownloadFailureDropsStream(t *testing.T) {
	p := newFakePlayer()
	e := testEngine(&fakeDownloader{fail: true}, p)

	gen := e.BumpGeneration()
	e.Start(context.Background(), "u7", 50, gen, StartOptions{})

	time.Sleep(50 * time.Millisecond)
	if e.IsURLActive("u7") {
		t.Fatal("expected a failed download to never produce a stream")
	}
}
