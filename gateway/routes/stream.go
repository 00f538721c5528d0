package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"nhooyr.io/websocket"

	"trustescrow/core/events"
)

const wsWriteTimeout = 10 * time.Second

// stream replays the journal from the "from" cursor and then follows live
// notifications over a websocket. Records are delivered once each, in
// sequence order.
func (h *escrowRoutes) stream(w http.ResponseWriter, r *http.Request) {
	var from uint64
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeBadRequest(w, fmt.Errorf("invalid from %q", raw))
			return
		}
		from = parsed
	}
	// Subscribe before reading the backlog so nothing committed in between
	// is missed; duplicates are filtered by sequence.
	live, cancel := h.hub.Subscribe(0)
	defer cancel()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())

	if err := h.streamRecords(ctx, conn, from, live); err != nil {
		switch {
		case errors.Is(err, errSubscriberLagged):
			_ = conn.Close(websocket.StatusTryAgainLater, "subscriber lagged")
		case websocket.CloseStatus(err) == -1 && ctx.Err() == nil:
			h.logger.Warn("event stream failed", slog.String("error", err.Error()))
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

var errSubscriberLagged = errors.New("subscriber lagged")

func (h *escrowRoutes) streamRecords(ctx context.Context, conn *websocket.Conn, from uint64, live <-chan events.Record) error {
	if from == 0 {
		from = 1
	}
	next := from
	for {
		page, err := h.engine.Events(next, events.MaxRangeLimit)
		if err != nil {
			return err
		}
		for _, record := range page {
			if err := writeRecord(ctx, conn, record); err != nil {
				return err
			}
			next = record.Sequence + 1
		}
		if len(page) < events.MaxRangeLimit {
			break
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case record, ok := <-live:
			if !ok {
				return errSubscriberLagged
			}
			if record.Sequence < next {
				continue
			}
			if err := writeRecord(ctx, conn, record); err != nil {
				return err
			}
			next = record.Sequence + 1
		}
	}
}

func writeRecord(ctx context.Context, conn *websocket.Conn, record events.Record) error {
	data, err := json.Marshal(toEventView(record))
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
