package variant

import (
	"context"
	"slices"
	"sync"
)

// View owns the variant set shown for one tile. The set is rebuilt from
// scratch on every Mount and is never written once the view is unmounted.
type View struct {
	probe *Probe

	// OnChange, if set, is called with a copy of the set after each
	// discovered variant. It is never called after Unmount returns and must
	// not call Mount or Unmount.
	OnChange func(variants []string)

	// notify serialises OnChange calls with Mount and Unmount.
	notify   sync.Mutex
	mu       sync.Mutex
	gen      uint64
	cancel   context.CancelFunc
	variants []string
	done     chan struct{}
}

func NewView(probe *Probe) *View {
	done := make(chan struct{})
	close(done)
	return &View{probe: probe, done: done}
}

// Mount starts discovery for baseSku, replacing any discovery in progress.
func (v *View) Mount(ctx context.Context, baseSku string) {
	v.notify.Lock()
	defer v.notify.Unlock()
	v.mu.Lock()
	if v.cancel != nil {
		v.cancel()
	}
	v.gen++
	gen := v.gen
	ctx, cancel := context.WithCancel(ctx)
	v.cancel = cancel
	v.variants = []string{}
	done := make(chan struct{})
	v.done = done
	v.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		for name := range v.probe.Seq(ctx, baseSku) {
			if !v.append(gen, name) {
				return
			}
		}
	}()
}

// append records name if the discovery identified by gen is still current.
func (v *View) append(gen uint64, name string) bool {
	v.notify.Lock()
	defer v.notify.Unlock()
	v.mu.Lock()
	if gen != v.gen {
		v.mu.Unlock()
		return false
	}
	v.variants = append(v.variants, name)
	snapshot := slices.Clone(v.variants)
	onChange := v.OnChange
	v.mu.Unlock()

	if onChange != nil {
		onChange(snapshot)
	}
	return true
}

// Unmount cancels discovery. Probes still in flight may complete, but their
// results are dropped.
func (v *View) Unmount() {
	v.notify.Lock()
	defer v.notify.Unlock()
	v.mu.Lock()
	defer v.mu.Unlock()
	v.gen++
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
}

// Variants returns a copy of the set discovered so far.
func (v *View) Variants() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.variants)
}

// Wait blocks until the current discovery has finished or ctx is done.
func (v *View) Wait(ctx context.Context) error {
	v.mu.Lock()
	done := v.done
	v.mu.Unlock()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
