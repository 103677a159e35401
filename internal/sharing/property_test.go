package sharing

import (
	"context"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/nerrad567/locshare-core/internal/platform"
)

// Only the first toggle of a burst issued during a transition takes effect.
func TestToggleBurstDuringTransition(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 25
	properties := gopter.NewProperties(parameters)

	properties.Property("toggles during enabling are dropped", prop.ForAll(
		func(burst []bool) bool {
			h := newHarness(t, platform.Android)
			h.start(t)
			h.service.hold = make(chan struct{})
			h.service.entered = make(chan struct{}, 1)

			done := make(chan error, 1)
			go func() { done <- h.ctrl.SetEnabled(context.Background(), true) }()
			<-h.service.entered

			for _, v := range burst {
				if err := h.ctrl.SetEnabled(context.Background(), v); !errors.Is(err, ErrTransitionInProgress) {
					close(h.service.hold)
					<-done
					return false
				}
			}
			close(h.service.hold)
			if err := <-done; err != nil {
				return false
			}

			starts, stops := h.service.counts()
			presence := h.presence.history()
			return h.ctrl.Status().State == StateOn &&
				starts == 1 && stops == 0 &&
				len(presence) == 1 && presence[0] &&
				h.store.get()
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.Property("toggles during disabling are dropped", prop.ForAll(
		func(burst []bool) bool {
			h := newHarness(t, platform.Web)
			h.start(t)
			if err := h.ctrl.SetEnabled(context.Background(), true); err != nil {
				return false
			}

			hold := make(chan struct{})
			entered := make(chan struct{}, 1)
			blocking := &blockingPresence{inner: h.presence, hold: hold, entered: entered}
			h.ctrl.cfg.Presence = blocking

			done := make(chan error, 1)
			go func() { done <- h.ctrl.SetEnabled(context.Background(), false) }()
			<-entered

			ok := h.ctrl.Status().State == StateDisabling
			for _, v := range burst {
				if err := h.ctrl.SetEnabled(context.Background(), v); !errors.Is(err, ErrTransitionInProgress) {
					ok = false
				}
			}
			close(hold)
			if err := <-done; err != nil {
				return false
			}

			starts, stops := h.service.counts()
			return ok && h.ctrl.Status().State == StateOff &&
				starts == 1 && stops == 1 && !h.store.get()
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}

// blockingPresence parks the presence-clearing call so a test can act
// while the controller is disabling.
type blockingPresence struct {
	inner   Presence
	hold    chan struct{}
	entered chan struct{}
}

func (b *blockingPresence) SetPresence(ctx context.Context, userID string, online bool) error {
	if !online {
		b.entered <- struct{}{}
		<-b.hold
	}
	return b.inner.SetPresence(ctx, userID, online)
}
