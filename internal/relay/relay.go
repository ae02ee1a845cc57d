package relay

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/dgnsrekt/snapcheck/internal/cdpcontrol"
)

// Relay publishes one run's events to a Broker.
type Relay struct {
	broker  *Broker
	runID   string
	stopped atomic.Bool
}

// NewRelay returns a relay tagging every event with runID.
func NewRelay(broker *Broker, runID string) *Relay {
	return &Relay{broker: broker, runID: runID}
}

// Watch forwards every exchange w completes as an "exchange" event until Stop.
func (r *Relay) Watch(w *cdpcontrol.NetworkWatcher) {
	w.OnExchange(func(ex cdpcontrol.Exchange) {
		r.Publish(FeedExchange, ex)
	})
}

// Publish encodes v under {"run_id", "data"} and sends it on feed.
func (r *Relay) Publish(feed string, v any) {
	if r == nil || r.broker == nil || r.stopped.Load() {
		return
	}
	payload, err := json.Marshal(struct {
		RunID string `json:"run_id"`
		Data  any    `json:"data"`
	}{r.runID, v})
	if err != nil {
		slog.Warn("relay: encode event failed", "feed", feed, "error", err)
		return
	}
	r.broker.Publish(Event{Feed: feed, RunID: r.runID, Payload: string(payload)})
}

// Stop drops any later events, including exchanges still arriving.
func (r *Relay) Stop() {
	r.stopped.Store(true)
}
