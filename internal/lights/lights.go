// Package lights implements the Lights Engine (spec §4.4): an
// asynchronous animation loop driving grouped WIZ smart bulbs over a
// fire-and-forget UDP protocol, with hot-swappable animation programs
// and fixed-order inter-group inheritance.
package lights

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/indubitablygregarious/immerse-yourself/internal/config"
	"github.com/indubitablygregarious/immerse-yourself/internal/metrics"
)

// WizPort is the fixed UDP port every WIZ fixture listens on (spec §6).
const WizPort = 38899

// Group names the engine understands. Evaluation order matters for
// Inherit* resolution (spec §4.4) — backdrop first, then overhead, then
// battlefield.
const (
	GroupBackdrop    = "backdrop"
	GroupOverhead    = "overhead"
	GroupBattlefield = "battlefield"
)

var groupOrder = []string{GroupBackdrop, GroupOverhead, GroupBattlefield}

// Engine owns the background animation task and the fixture topology.
// The currently installed program lives behind an atomic pointer so the
// tick loop never blocks on a lock to read it.
type Engine struct {
	log    *slog.Logger
	groups map[string][]*net.UDPAddr
	conn   *net.UDPConn

	program atomic.Pointer[config.Animation]

	mu      sync.Mutex
	running bool
	stop    context.CancelFunc
	done    chan struct{}

	metrics *metrics.Metrics
}

// SetMetrics attaches a metrics sink. Optional.
func (e *Engine) SetMetrics(m *metrics.Metrics) { e.metrics = m }

// New resolves fixture IP addresses for each named group and opens the
// shared send socket. Groups with no fixtures are legal (has_bulbs
// reports false, §4.4 "Unavailable" semantics per spec §7).
func New(groupAddrs map[string][]string, log *slog.Logger) (*Engine, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
	if err != nil {
		return nil, fmt.Errorf("lights: open send socket: %w", err)
	}

	groups := make(map[string][]*net.UDPAddr, len(groupAddrs))
	for name, ips := range groupAddrs {
		for _, ip := range ips {
			addr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", ip, WizPort))
			if err != nil {
				conn.Close()
				return nil, fmt.Errorf("lights: resolve fixture %q in group %q: %w", ip, name, err)
			}
			groups[name] = append(groups[name], addr)
		}
	}

	return &Engine{log: log, groups: groups, conn: conn}, nil
}

// HasBulbs reports whether any group has at least one fixture.
func (e *Engine) HasBulbs() bool {
	return e.BulbCount() > 0
}

// BulbCount is the total fixture count across every group.
func (e *Engine) BulbCount() int {
	n := 0
	for _, addrs := range e.groups {
		n += len(addrs)
	}
	return n
}

// Install starts the animation task if idle, or atomically replaces the
// running program — the next tick uses the new program with no
// intermediate state (spec §4.4 hot-swap semantics).
func (e *Engine) Install(program config.Animation) {
	e.program.Store(&program)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.stop = cancel
	e.done = make(chan struct{})
	e.running = true
	go e.runLoop(ctx, e.done)
}

// Stop signals the animation task to exit; fixtures keep their last
// state (no off command is sent).
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	cancel := e.stop
	done := e.done
	e.running = false
	e.mu.Unlock()

	cancel()
	<-done
}

// SetSafe installs a terminal program that sets every fixture to a
// warm-white pilot, ticks once, then stops. Used at process shutdown.
func (e *Engine) SetSafe() {
	warm := config.Animation{
		CycleTime: 1,
		Groups: map[string]config.GroupProgram{
			GroupBackdrop:    warmWhiteGroup(),
			GroupOverhead:    warmWhiteGroup(),
			GroupBattlefield: warmWhiteGroup(),
		},
	}
	e.tick(&warm)
	e.Stop()
}

func warmWhiteGroup() config.GroupProgram {
	return config.GroupProgram{
		Kind: config.GroupScene,
		Scene: &config.SceneProgram{
			SingleSceneID: intPtr(11),
			SingleSpeed:   intPtr(50),
			Brightness:    &config.Brightness{Min: 178, Max: 178}, // ~70%
		},
	}
}

func intPtr(v int) *int { return &v }

func (e *Engine) runLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		p := e.program.Load()
		if p == nil {
			return
		}
		e.tick(p)

		select {
		case <-ctx.Done():
			return
		case <-time.After(floatSeconds(p.CycleTime)):
		}
	}
}

// tick computes and sends one animation frame, visiting groups in fixed
// order so Inherit* variants can reference an already-computed pilot
// (spec §4.4).
func (e *Engine) tick(p *config.Animation) {
	e.metrics.IncLightsTicks()
	pilots := make(map[string]Pilot, len(groupOrder))
	for _, name := range groupOrder {
		gp, declared := p.Groups[name]
		var pilot Pilot
		if !declared {
			pilot = offPilot()
		} else {
			pilot = generatePilot(gp, pilots)
		}
		pilots[name] = pilot
		e.sendToGroup(name, pilot)
	}
}

// sendToGroup fans the same pilot out to every fixture in the group
// concurrently — a battlefield group of a dozen bulbs shouldn't pay for
// serial syscalls on every tick. Each fixture's send failure is logged
// independently; one stuck fixture never blocks its siblings.
func (e *Engine) sendToGroup(name string, pilot Pilot) {
	addrs := e.groups[name]
	if len(addrs) == 0 {
		return
	}
	payload, err := pilot.Marshal()
	if err != nil {
		e.log.Debug("lights: marshal pilot failed", "group", name, "error", err)
		return
	}

	var g errgroup.Group
	for _, addr := range addrs {
		addr := addr
		g.Go(func() error {
			if _, err := e.conn.WriteToUDP(payload, addr); err != nil {
				e.log.Debug("lights: udp send failed", "group", name, "addr", addr, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func floatSeconds(s float64) time.Duration {
	if s <= 0 {
		return time.Second
	}
	return time.Duration(s * float64(time.Second))
}
