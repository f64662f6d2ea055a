package routes

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"cdpchain/core"
	"cdpchain/core/types"
	"cdpchain/indexer"
)

const (
	wsWriteTimeout     = 10 * time.Second
	streamBuffer       = 128
	defaultEventsLimit = 100
)

// EventHistory serves persisted events. The indexer store satisfies it.
type EventHistory interface {
	List(ctx context.Context, filter indexer.Filter) ([]*types.Event, error)
}

type eventRoutes struct {
	node    *core.Node
	history EventHistory
	logger  *slog.Logger
}

type eventsResponse struct {
	Events []*types.Event `json:"events"`
}

// listEvents answers from the indexer when one is configured and from the
// node's in-memory history otherwise.
func (er *eventRoutes) listEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := indexer.Filter{
		Type:  strings.TrimSpace(q.Get("type")),
		Asset: strings.TrimSpace(q.Get("asset")),
		Owner: strings.TrimSpace(q.Get("owner")),
		Limit: defaultEventsLimit,
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeBadRequest(w, errInvalidQuery("limit", raw))
			return
		}
		filter.Limit = limit
	}
	if raw := q.Get("after"); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeBadRequest(w, errInvalidQuery("after", raw))
			return
		}
		filter.AfterSequence = after
	}

	if er.history != nil {
		evts, err := er.history.List(r.Context(), filter)
		if err != nil {
			er.logger.Error("list events", slog.Any("error", err))
			writeJSONError(w, http.StatusInternalServerError, "internal", err)
			return
		}
		writeJSON(w, http.StatusOK, eventsResponse{Events: nonNil(evts)})
		return
	}
	recent := er.node.RecentEvents(filter.Type, 0)
	out := make([]*types.Event, 0, len(recent))
	for _, evt := range recent {
		if matches(evt, filter) {
			out = append(out, evt)
		}
	}
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: out})
}

func matches(evt *types.Event, filter indexer.Filter) bool {
	if evt.Sequence <= filter.AfterSequence {
		return false
	}
	if filter.Asset != "" && !strings.EqualFold(evt.Attr("asset"), filter.Asset) {
		return false
	}
	if filter.Owner != "" && evt.Attr("owner") != filter.Owner {
		return false
	}
	return true
}

func nonNil(evts []*types.Event) []*types.Event {
	if evts == nil {
		return []*types.Event{}
	}
	return evts
}

// streamEvents pushes committed events to a websocket client until either
// side goes away. Clients that fall behind lose events rather than stall
// the node.
func (er *eventRoutes) streamEvents(w http.ResponseWriter, r *http.Request) {
	eventType := strings.TrimSpace(r.URL.Query().Get("type"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	id := uuid.NewString()
	logger := er.logger.With(slog.String("subscriber", id))
	logger.Debug("event stream opened", slog.String("type", eventType))

	// CloseRead discards client frames and cancels ctx once the peer closes.
	ctx := conn.CloseRead(r.Context())
	if err := er.stream(ctx, conn, eventType); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			logger.Warn("event stream failed", slog.Any("error", err))
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
	logger.Debug("event stream closed")
}

func (er *eventRoutes) stream(ctx context.Context, conn *websocket.Conn, eventType string) error {
	updates, cancel := er.node.Subscribe(streamBuffer)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-updates:
			if !ok {
				return nil
			}
			if eventType != "" && evt.Type != eventType {
				continue
			}
			if err := writeEvent(ctx, conn, evt); err != nil {
				return err
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, evt *types.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

type queryError struct {
	field string
	value string
}

func (e queryError) Error() string {
	return "invalid " + e.field + " " + strconv.Quote(e.value)
}

func errInvalidQuery(field, value string) error {
	return queryError{field: field, value: value}
}
