package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/capital-ledger/ledger"
)

// heartbeatInterval keeps idle streams alive through proxies.
const heartbeatInterval = 15 * time.Second

type sseEvent struct {
	name string
	data any
}

// StreamEvents is a Server-Sent Events stream of the owner's transactions,
// summary and settings. Each view is sent once on connect and again after
// every change to it.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	o := owner(r)

	events := make(chan sseEvent, 8)
	send := func(name string, data any) {
		select {
		case events <- sseEvent{name: name, data: data}:
		case <-ctx.Done():
		}
	}

	var unsubs []func()
	defer func() {
		cancel()
		for _, u := range unsubs {
			u()
		}
	}()

	subscribe := []func() (func(), error){
		func() (func(), error) {
			return h.Engine.SubscribeTransactions(ctx, o, func(txs []ledger.Transaction) {
				send("transactions", toTransactionDTOs(txs))
			})
		},
		func() (func(), error) {
			return h.Engine.SubscribeSummary(ctx, o, func(s ledger.Summary) {
				send("summary", toSummaryDTO(o, s))
			})
		},
		func() (func(), error) {
			return h.Engine.SubscribeSettings(ctx, o, func(s ledger.Settings) {
				send("settings", toSettingsDTO(s))
			})
		},
	}
	for _, sub := range subscribe {
		unsub, err := sub()
		if err != nil {
			h.writeEngineError(w, r, "Failed to subscribe", err)
			return
		}
		unsubs = append(unsubs, unsub)
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case ev := <-events:
			body, err := json.Marshal(ev.data)
			if err != nil {
				h.logger().Failed(ctx, "Failed to encode event", err, "event", ev.name)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, body); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
