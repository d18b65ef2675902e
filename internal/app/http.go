package app

import (
	"bufio"
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"chatsync/pkg/bus"
	"chatsync/pkg/engine"
	"chatsync/pkg/ingest/queue"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/router"
)

const (
	actionTimeout  = 5 * time.Second
	sseHeartbeat   = 15 * time.Second
	maxRequestBody = 4 * 1024 * 1024
)

// routes builds the HTTP surface: inbound events from the transport
// bridge, UI reads and actions, and admin endpoints.
func (a *App) routes() *router.Router {
	r := router.New()
	r.Use(a.limiter.middleware)

	r.POST("/v1/inbound/confirmed", a.inboundConfirmed)
	r.POST("/v1/inbound/status", a.inboundStatus)
	r.POST("/v1/inbound/reaction", a.inboundReaction)
	r.POST("/v1/inbound/snapshot", a.inboundSnapshot)
	r.POST("/v1/inbound/send-failed", a.inboundSendFailed)
	r.POST("/v1/inbound/edited", a.inboundEdited)

	r.GET("/v1/conversations", a.listConversations)
	r.POST("/v1/conversations", a.startConversation)
	r.GET("/v1/conversations/{id}", a.readConversation)
	r.PUT("/v1/conversations/{id}/mute", a.muteConversation)
	r.GET("/v1/conversations/{id}/events", a.streamConversation)
	r.POST("/v1/conversations/{id}/messages", a.sendMessage)
	r.POST("/v1/conversations/{id}/open", a.openConversation)
	r.GET("/v1/diagnostics/events", a.streamDiagnostics)

	r.GET("/v1/messages/{id}", a.readMessage)
	r.DELETE("/v1/messages/{id}", a.cancelMessage)
	r.POST("/v1/messages/{id}/retry", a.retryMessage)
	r.POST("/v1/messages/{id}/reactions", a.reactMessage)

	r.GET("/admin/health", a.health)
	r.GET("/admin/metrics", fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))
	r.GET("/admin/outbox", a.outboxHandler)
	r.POST("/admin/checkpoint", a.checkpointNow)
	return r
}

// writeError maps core errors onto HTTP statuses.
func writeError(ctx *fasthttp.RequestCtx, err error) {
	status := fasthttp.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrUnknownConversation), errors.Is(err, models.ErrUnknownMessage):
		status = fasthttp.StatusNotFound
	case errors.Is(err, models.ErrInvalidEvent), errors.Is(err, models.ErrUnknownStatus):
		status = fasthttp.StatusBadRequest
	case errors.Is(err, models.ErrStaleEvent), errors.Is(err, models.ErrIllegalTransition),
		errors.Is(err, models.ErrNotConfirmed):
		status = fasthttp.StatusConflict
	case errors.Is(err, queue.ErrQueueFull), errors.Is(err, queue.ErrQueueClosed):
		status = fasthttp.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = fasthttp.StatusGatewayTimeout
	}
	if status == fasthttp.StatusInternalServerError {
		logger.Error("http_request_failed", "path", string(ctx.Path()), "error", err)
	}
	router.WriteJSONError(ctx, status, err.Error())
}

func accepted(ctx *fasthttp.RequestCtx, err error) {
	if err != nil {
		writeError(ctx, err)
		return
	}
	_ = router.WriteJSONStatus(ctx, fasthttp.StatusAccepted, map[string]bool{"accepted": true})
}

func actionContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), actionTimeout)
}

func (a *App) inboundConfirmed(ctx *fasthttp.RequestCtx) {
	var c models.Confirmation
	if !router.DecodeJSON(ctx, &c) {
		return
	}
	if c.PermanentID == "" || c.ConversationID == "" {
		router.WriteJSONError(ctx, fasthttp.StatusBadRequest, "permanent_id and conversation_id are required")
		return
	}
	accepted(ctx, a.engine.OnMessageConfirmed(c))
}

func (a *App) inboundStatus(ctx *fasthttp.RequestCtx) {
	var ev models.StatusEvent
	if !router.DecodeJSON(ctx, &ev) {
		return
	}
	if ev.MessageID == "" {
		router.WriteJSONError(ctx, fasthttp.StatusBadRequest, "message_id is required")
		return
	}
	accepted(ctx, a.engine.OnStatusEvent(ev.MessageID, ev.Status))
}

func (a *App) inboundReaction(ctx *fasthttp.RequestCtx) {
	var ev models.ReactionEvent
	if !router.DecodeJSON(ctx, &ev) {
		return
	}
	if ev.MessageID == "" || ev.ActorID == "" {
		router.WriteJSONError(ctx, fasthttp.StatusBadRequest, "message_id and actor_id are required")
		return
	}
	accepted(ctx, a.engine.OnReactionEvent(ev.MessageID, ev.ActorID, ev.Reaction))
}

func (a *App) inboundSnapshot(ctx *fasthttp.RequestCtx) {
	var snap models.Snapshot
	if !router.DecodeJSON(ctx, &snap) {
		return
	}
	if err := snap.Conversation.Validate(); err != nil {
		router.WriteJSONError(ctx, fasthttp.StatusBadRequest, err.Error())
		return
	}
	accepted(ctx, a.engine.OnConversationSnapshot(snap.Conversation, snap.Messages))
}

func (a *App) inboundSendFailed(ctx *fasthttp.RequestCtx) {
	var f models.SendFailure
	if !router.DecodeJSON(ctx, &f) {
		return
	}
	if f.CorrelationToken == "" {
		router.WriteJSONError(ctx, fasthttp.StatusBadRequest, "correlation_token is required")
		return
	}
	accepted(ctx, a.engine.OnSendFailed(f.CorrelationToken, f.Reason))
}

func (a *App) inboundEdited(ctx *fasthttp.RequestCtx) {
	var ev models.EditEvent
	if !router.DecodeJSON(ctx, &ev) {
		return
	}
	if ev.MessageID == "" {
		router.WriteJSONError(ctx, fasthttp.StatusBadRequest, "message_id is required")
		return
	}
	accepted(ctx, a.engine.OnMessageEdited(ev.MessageID, ev.Content, ev.Timestamp))
}

func (a *App) listConversations(ctx *fasthttp.RequestCtx) {
	_ = router.WriteJSON(ctx, map[string]any{"conversations": a.engine.Conversations()})
}

func (a *App) startConversation(ctx *fasthttp.RequestCtx) {
	var req engine.StartRequest
	if !router.DecodeJSON(ctx, &req) {
		return
	}
	c, cancel := actionContext()
	defer cancel()
	conv, err := a.engine.StartConversation(c, req)
	if err != nil {
		writeError(ctx, err)
		return
	}
	_ = router.WriteJSONStatus(ctx, fasthttp.StatusCreated, conv)
}

func (a *App) readConversation(ctx *fasthttp.RequestCtx) {
	view, ok := a.engine.ConversationView(router.Param(ctx, "id"))
	if !ok {
		router.WriteJSONError(ctx, fasthttp.StatusNotFound, "conversation not found")
		return
	}
	_ = router.WriteJSON(ctx, view)
}

func (a *App) muteConversation(ctx *fasthttp.RequestCtx) {
	var body struct {
		Muted bool `json:"muted"`
	}
	if !router.DecodeJSON(ctx, &body) {
		return
	}
	c, cancel := actionContext()
	defer cancel()
	if err := a.engine.SetMuted(c, router.Param(ctx, "id"), body.Muted); err != nil {
		writeError(ctx, err)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func (a *App) sendMessage(ctx *fasthttp.RequestCtx) {
	var d engine.Draft
	if !router.DecodeJSON(ctx, &d) {
		return
	}
	c, cancel := actionContext()
	defer cancel()
	m, err := a.engine.SendMessage(c, router.Param(ctx, "id"), d)
	if err != nil {
		writeError(ctx, err)
		return
	}
	_ = router.WriteJSONStatus(ctx, fasthttp.StatusCreated, m)
}

func (a *App) openConversation(ctx *fasthttp.RequestCtx) {
	id := router.Param(ctx, "id")
	c, cancel := actionContext()
	defer cancel()
	if err := a.engine.OpenConversation(c, id); err != nil {
		writeError(ctx, err)
		return
	}
	view, _ := a.engine.ConversationView(id)
	_ = router.WriteJSON(ctx, view)
}

func (a *App) readMessage(ctx *fasthttp.RequestCtx) {
	m, ok := a.engine.Message(router.Param(ctx, "id"))
	if !ok {
		router.WriteJSONError(ctx, fasthttp.StatusNotFound, "message not found")
		return
	}
	_ = router.WriteJSON(ctx, m)
}

// cancelMessage reports cancelled=false when the confirmation won the race.
func (a *App) cancelMessage(ctx *fasthttp.RequestCtx) {
	c, cancel := actionContext()
	defer cancel()
	err := a.engine.CancelSend(c, router.Param(ctx, "id"))
	switch {
	case err == nil:
		_ = router.WriteJSON(ctx, map[string]bool{"cancelled": true})
	case engine.IsStale(err):
		_ = router.WriteJSON(ctx, map[string]bool{"cancelled": false})
	default:
		writeError(ctx, err)
	}
}

func (a *App) retryMessage(ctx *fasthttp.RequestCtx) {
	c, cancel := actionContext()
	defer cancel()
	m, err := a.engine.RetrySend(c, router.Param(ctx, "id"))
	if err != nil {
		writeError(ctx, err)
		return
	}
	_ = router.WriteJSONStatus(ctx, fasthttp.StatusCreated, m)
}

func (a *App) reactMessage(ctx *fasthttp.RequestCtx) {
	var body struct {
		Reaction string `json:"reaction"`
	}
	if !router.DecodeJSON(ctx, &body) {
		return
	}
	c, cancel := actionContext()
	defer cancel()
	id := router.Param(ctx, "id")
	if err := a.engine.React(c, id, body.Reaction); err != nil {
		writeError(ctx, err)
		return
	}
	m, _ := a.engine.Message(id)
	_ = router.WriteJSON(ctx, m)
}

func (a *App) streamConversation(ctx *fasthttp.RequestCtx) {
	id := router.Param(ctx, "id")
	if _, ok := a.engine.ConversationView(id); !ok {
		router.WriteJSONError(ctx, fasthttp.StatusNotFound, "conversation not found")
		return
	}
	a.stream(ctx, a.engine.Subscribe(id))
}

func (a *App) streamDiagnostics(ctx *fasthttp.RequestCtx) {
	a.stream(ctx, a.engine.SubscribeDiagnostics())
}

// stream writes notifications as server-sent events until the client goes
// away or the bus closes the subscription.
func (a *App) stream(ctx *fasthttp.RequestCtx, sub *bus.Subscription) {
	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")
	ctx.Response.Header.Set("X-Accel-Buffering", "no")

	topic := sub.Topic()
	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer sub.Close()
		logger.Debug("sse_client_connected", "topic", topic)
		defer logger.Debug("sse_client_disconnected", "topic", topic)

		if err := bus.WriteComment(w, "connected"); err != nil || w.Flush() != nil {
			return
		}
		heartbeat := time.NewTicker(sseHeartbeat)
		defer heartbeat.Stop()
		for {
			select {
			case n, ok := <-sub.C:
				if !ok {
					return
				}
				if err := bus.WriteSSE(w, n); err != nil {
					return
				}
			case <-heartbeat.C:
				if err := bus.WriteComment(w, "ping"); err != nil {
					return
				}
			}
			if err := w.Flush(); err != nil {
				return
			}
		}
	})
}

func (a *App) health(ctx *fasthttp.RequestCtx) {
	convs, msgs := a.store.Counts()
	body := map[string]any{
		"status":        a.State(),
		"version":       a.version,
		"local_user_id": a.engine.LocalUserID(),
		"queue_depth":   a.queue.Len(),
		"queue_cap":     a.queue.Cap(),
		"pending":       a.engine.PendingLen(),
		"conversations": convs,
		"messages":      msgs,
		"subscribers":   a.bus.Total(),
	}
	if a.checkpoints != nil {
		if last := a.checkpoints.LastRun(); !last.IsZero() {
			body["last_checkpoint"] = last.UTC().Format(time.RFC3339)
		}
	}
	status := fasthttp.StatusOK
	if a.State() != stateRunning {
		status = fasthttp.StatusServiceUnavailable
	}
	_ = router.WriteJSONStatus(ctx, status, body)
}

// outboxHandler lists outbound requests; ?drain=true also removes them.
func (a *App) outboxHandler(ctx *fasthttp.RequestCtx) {
	reqs := a.outbox.Requests()
	if string(ctx.QueryArgs().Peek("drain")) == "true" {
		reqs = a.outbox.Drain()
	}
	_ = router.WriteJSON(ctx, map[string]any{
		"requests":       reqs,
		"dropped":        a.outbox.Dropped(),
		"held_mark_read": a.throttled.Pending(),
	})
}

func (a *App) checkpointNow(ctx *fasthttp.RequestCtx) {
	if a.checkpoints == nil {
		router.WriteJSONError(ctx, fasthttp.StatusConflict, "storage disabled")
		return
	}
	if err := a.checkpoints.RunNow(); err != nil {
		writeError(ctx, err)
		return
	}
	_ = router.WriteJSON(ctx, map[string]string{"checkpoint": a.checkpoints.LastRun().UTC().Format(time.RFC3339)})
}
