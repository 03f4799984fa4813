package pio

import (
	"bytes"
	"context"
	"errors"
	"log"
	"math/rand"
	"runtime"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func newTestManager() (*ConnectionManager, *SimDaemon) {
	sim := NewSimDaemon()
	return NewConnectionManager("", 0, sim.Dial), sim
}

func TestConnectionManager(t *testing.T) {
	ctx := context.Background()

	Convey("Given an inactive manager", t, func() {
		m, sim := newTestManager()
		So(m.Active(), ShouldBeFalse)
		So(m.Addr(), ShouldEqual, "localhost:8888")

		Convey("The first Acquire connects and the last Release disconnects", func() {
			a, err := m.Acquire(ctx)
			So(err, ShouldBeNil)
			b, err := m.Acquire(ctx)
			So(err, ShouldBeNil)
			So(sim.Dials(), ShouldEqual, 1)
			So(m.Refs(), ShouldEqual, 2)

			So(a.Release(), ShouldBeNil)
			So(m.Active(), ShouldBeTrue)
			So(sim.OpenChannels(), ShouldEqual, 1)

			So(b.Release(), ShouldBeNil)
			So(m.Active(), ShouldBeFalse)
			So(sim.OpenChannels(), ShouldEqual, 0)

			Convey("and the manager can be activated again", func() {
				c, err := m.Acquire(ctx)
				So(err, ShouldBeNil)
				So(sim.Dials(), ShouldEqual, 2)
				So(c.Release(), ShouldBeNil)
			})
		})

		Convey("An unreachable daemon leaves the manager inactive", func() {
			sim.SetUnreachable(true)
			h, err := m.Acquire(ctx)
			So(h, ShouldBeNil)
			So(errors.Is(err, ErrUnreachable), ShouldBeTrue)
			var ce *ConnectionError
			So(errors.As(err, &ce), ShouldBeTrue)
			So(ce.Addr, ShouldEqual, "localhost:8888")
			So(m.Active(), ShouldBeFalse)
			So(m.Refs(), ShouldEqual, 0)

			Convey("and it is not retried until the next Acquire", func() {
				So(sim.Dials(), ShouldEqual, 1)
				sim.SetUnreachable(false)
				h, err := m.Acquire(ctx)
				So(err, ShouldBeNil)
				So(sim.Dials(), ShouldEqual, 2)
				So(h.Release(), ShouldBeNil)
			})
		})

		Convey("A cancelled context fails the connect", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			_, err := m.Acquire(cctx)
			So(errors.Is(err, ErrUnreachable), ShouldBeTrue)
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
		})

		Convey("Releasing a handle twice panics", func() {
			h, err := m.Acquire(ctx)
			So(err, ShouldBeNil)
			So(h.Release(), ShouldBeNil)
			So(h.Released(), ShouldBeTrue)
			So(func() { _ = h.Release() }, ShouldPanic)
			So(m.Refs(), ShouldEqual, 0)
		})

		Convey("A released handle refuses I/O", func() {
			h, _ := m.Acquire(ctx)
			keep, _ := m.Acquire(ctx)
			So(h.Release(), ShouldBeNil)
			err := h.WritePin(4, 1)
			So(errors.Is(err, ErrHandleReleased), ShouldBeTrue)
			So(errors.Is(err, ErrTransport), ShouldBeTrue)
			So(sim.Writes(), ShouldBeEmpty)
			So(keep.Release(), ShouldBeNil)
		})

		Convey("Channel failures come back as transport errors naming the pin", func() {
			h, _ := m.Acquire(ctx)
			sim.FailWritesAfter(0)
			err := h.WritePin(4, 1)
			var te *TransportError
			So(errors.As(err, &te), ShouldBeTrue)
			So(te.Target, ShouldEqual, "GPIO4")
			So(errors.Is(err, ErrSimInjected), ShouldBeTrue)
			So(h.Release(), ShouldBeNil)
		})

		Convey("With releases the handle", func() {
			boom := errors.New("boom")

			Convey("when fn fails", func() {
				err := m.With(ctx, func(h *Handle) error {
					So(m.Refs(), ShouldEqual, 1)
					return boom
				})
				So(err, ShouldEqual, boom)
				So(m.Active(), ShouldBeFalse)
			})

			Convey("when fn panics", func() {
				So(func() {
					_ = m.With(ctx, func(*Handle) error { panic(boom) })
				}, ShouldPanic)
				So(m.Refs(), ShouldEqual, 0)
				So(sim.OpenChannels(), ShouldEqual, 0)
			})

			Convey("when fn succeeds", func() {
				err := m.With(ctx, func(h *Handle) error { return h.WritePin(4, 1) })
				So(err, ShouldBeNil)
				So(sim.Level(4), ShouldEqual, 1)
				So(m.Active(), ShouldBeFalse)
			})
		})
	})
}

func TestConnectionManagerRandomWalk(t *testing.T) {
	ctx := context.Background()
	m, sim := newTestManager()
	rng := rand.New(rand.NewSource(1))

	var live []*Handle
	for i := 0; i < 2000; i++ {
		if len(live) == 0 || rng.Intn(2) == 0 {
			h, err := m.Acquire(ctx)
			if err != nil {
				t.Fatalf("step %d: Acquire: %v", i, err)
			}
			live = append(live, h)
		} else {
			j := rng.Intn(len(live))
			if err := live[j].Release(); err != nil {
				t.Fatalf("step %d: Release: %v", i, err)
			}
			live = append(live[:j], live[j+1:]...)
		}
		if m.Refs() != len(live) {
			t.Fatalf("step %d: refs = %d, want %d", i, m.Refs(), len(live))
		}
		if m.Active() != (len(live) > 0) {
			t.Fatalf("step %d: active = %v with %d handles", i, m.Active(), len(live))
		}
		if open := sim.OpenChannels(); (open == 1) != (len(live) > 0) || open > 1 {
			t.Fatalf("step %d: %d open channels with %d handles", i, open, len(live))
		}
	}
	for _, h := range live {
		h.Release()
	}
	if m.Active() || sim.OpenChannels() != 0 {
		t.Fatalf("manager still active after releasing everything")
	}
}

func TestConnectionManagerConcurrent(t *testing.T) {
	ctx := context.Background()
	m, sim := newTestManager()

	var wg sync.WaitGroup
	for g := 0; g < 32; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				h, err := m.Acquire(ctx)
				if err != nil {
					t.Errorf("Acquire: %v", err)
					return
				}
				if n := m.Refs(); n <= 0 {
					t.Errorf("refs = %d while holding a handle", n)
				}
				if err := h.WritePin(4, i%2); err != nil {
					t.Errorf("WritePin: %v", err)
				}
				if err := h.Release(); err != nil {
					t.Errorf("Release: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	if m.Refs() != 0 || m.Active() {
		t.Fatalf("refs = %d active = %v after all goroutines finished", m.Refs(), m.Active())
	}
	if sim.OpenChannels() != 0 {
		t.Fatalf("%d channels left open", sim.OpenChannels())
	}
}

// lockedBuffer collects standard log output written from the finalizer goroutine.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestConnectionManagerDiscardedHandle(t *testing.T) {
	var out lockedBuffer
	prev, flags := log.Writer(), log.Flags()
	log.SetOutput(&out)
	log.SetFlags(0)
	defer func() {
		log.SetOutput(prev)
		log.SetFlags(flags)
	}()

	Convey("A handle dropped without Release", t, func() {
		m, sim := newTestManager()
		func() {
			if _, err := m.Acquire(context.Background()); err != nil {
				t.Fatal(err)
			}
		}()
		So(m.Refs(), ShouldEqual, 1)

		Convey("is reported and given back once collected", func() {
			deadline := time.Now().Add(5 * time.Second)
			for m.Refs() != 0 && time.Now().Before(deadline) {
				runtime.GC()
				time.Sleep(time.Millisecond)
			}
			So(m.Refs(), ShouldEqual, 0)
			So(m.Active(), ShouldBeFalse)
			So(sim.OpenChannels(), ShouldEqual, 0)
			So(eventually(func() bool { return out.String() != "" }), ShouldBeTrue)
			So(out.String(), ShouldContainSubstring, "handle dropped without Release")
			So(out.String(), ShouldContainSubstring, "localhost:8888")
		})
	})
}

func TestConnectionManagerActiveMatchesRefs(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				h, err := m.Acquire(ctx)
				if err != nil {
					t.Errorf("Acquire: %v", err)
					return
				}
				h.Release()
			}
		}()
	}

	for i := 0; i < 20000; i++ {
		active, refs := m.snapshot()
		if active != (refs > 0) || refs < 0 {
			t.Errorf("active = %v with %d refs", active, refs)
			break
		}
	}
	close(stop)
	wg.Wait()
	if m.Active() || m.Refs() != 0 {
		t.Fatalf("active = %v refs = %d after all handles released", m.Active(), m.Refs())
	}
}
