package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/solfeed/txflow/config"
	"github.com/solfeed/txflow/store"
)

const (
	writeTimeout   = 10 * time.Second
	mailboxSize    = 256
	idleCheckEvery = 10 * time.Second
	inboundWindow  = time.Minute
	outboundWindow = time.Second
)

// Replayer is the slice of the transaction store used for resume replay.
type Replayer interface {
	ListSinceSlot(ctx context.Context, sinceSlot, limit int64) ([]store.Transaction, error)
}

// Session is the actor behind one live connection. A read pump feeds
// inbound frames to the actor loop, which owns all session state and is
// the only writer of the connection.
type Session struct {
	conn     *websocket.Conn
	cfg      config.WS
	replayer Replayer

	mailbox chan store.Transaction
	subs    map[string]Filters

	lastActivity time.Time
	lastPing     time.Time

	msgCount       int
	msgWindowStart time.Time

	eventCount       int
	eventWindowStart time.Time
}

func newSession(conn *websocket.Conn, cfg config.WS, replayer Replayer) *Session {
	var now = time.Now()
	return &Session{
		conn:             conn,
		cfg:              cfg,
		replayer:         replayer,
		mailbox:          make(chan store.Transaction, mailboxSize),
		subs:             make(map[string]Filters),
		lastActivity:     now,
		lastPing:         now,
		msgWindowStart:   now,
		eventWindowStart: now,
	}
}

// offer queues |tx| for delivery without blocking the broadcaster.
func (s *Session) offer(tx store.Transaction) {
	select {
	case s.mailbox <- tx:
	default:
		eventsDroppedCounter.Inc()
	}
}

func (s *Session) run(ctx context.Context) {
	defer s.conn.Close()

	var frames = make(chan []byte, 8)
	var readErr = make(chan error, 1)
	var pongs = make(chan struct{}, 1)
	var done = make(chan struct{})
	defer close(done)

	// Control frames surface on the read pump goroutine. They only
	// signal the actor, which owns the timestamps.
	s.conn.SetPongHandler(func(string) error {
		select {
		case pongs <- struct{}{}:
		default:
		}
		return nil
	})
	s.conn.SetPingHandler(func(appData string) error {
		select {
		case pongs <- struct{}{}:
		default:
		}
		var err = s.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeTimeout))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	go func() {
		for {
			var mt, raw, err = s.conn.ReadMessage()
			if err != nil {
				select {
				case readErr <- err:
				case <-done:
				}
				return
			}
			if mt != websocket.TextMessage {
				continue
			}
			select {
			case frames <- raw:
			case <-done:
				return
			}
		}
	}()

	// Give a close frame written by the actor a moment to reach the peer
	// before the deferred conn.Close tears the connection down.
	defer func() {
		select {
		case <-readErr:
		case <-time.After(100 * time.Millisecond):
		}
	}()

	var pingTicker = time.NewTicker(s.cfg.PingInterval())
	defer pingTicker.Stop()

	var idleEvery = idleCheckEvery
	if it := s.cfg.IdleTimeout(); it < idleEvery {
		idleEvery = it
	}
	var idleTicker = time.NewTicker(idleEvery)
	defer idleTicker.Stop()

	for {
		select {
		case raw := <-frames:
			s.lastActivity = time.Now()
			if !s.handleClient(ctx, raw) {
				return
			}
		case err := <-readErr:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.WithField("err", err).Debug("websocket read failed")
			}
			return
		case tx := <-s.mailbox:
			s.deliver(tx)
		case <-pongs:
			s.lastPing = time.Now()
		case <-pingTicker.C:
			if time.Since(s.lastPing) >= s.cfg.PingInterval() {
				s.lastPing = time.Now()
				s.send(pingFrame{Type: TypePing, TS: uint64(time.Now().Unix())})
			}
		case <-idleTicker.C:
			if time.Since(s.lastActivity) >= s.cfg.IdleTimeout() {
				log.Info("closing idle websocket session")
				s.close(websocket.CloseNormalClosure, "idle timeout")
				return
			}
		case <-ctx.Done():
			s.close(websocket.CloseGoingAway, "server shutdown")
			return
		}
	}
}

// handleClient dispatches one inbound frame. A false return ends the
// session.
func (s *Session) handleClient(ctx context.Context, raw []byte) bool {
	var frame clientFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		clientMessagesCounter.WithLabelValues("invalid").Inc()
		s.sendError(codeInvalidMessage, "Invalid JSON format")
		return true
	}

	switch frame.Type {
	case TypeSubscribe, TypeUnsubscribe, TypePong:
		clientMessagesCounter.WithLabelValues(frame.Type).Inc()
	default:
		clientMessagesCounter.WithLabelValues("invalid").Inc()
	}

	if !s.allowInbound() {
		s.sendError(codeRateLimited, "Too many client messages")
		s.close(websocket.ClosePolicyViolation, "rate limited")
		return false
	}

	switch frame.Type {
	case TypeSubscribe:
		s.handleSubscribe(ctx, frame)
	case TypeUnsubscribe:
		s.handleUnsubscribe(frame.ID)
	case TypePong:
		s.lastPing = time.Now()
	default:
		s.sendError(codeInvalidMessage, "Unexpected message type")
	}
	return true
}

func (s *Session) handleSubscribe(ctx context.Context, frame clientFrame) {
	if len(s.subs) >= s.cfg.MaxSubscriptionsPerConn {
		s.sendError(codeTooManySubscriptions, "Maximum subscriptions exceeded")
		return
	}

	var filters Filters
	if frame.Filters != nil {
		filters = *frame.Filters
	}
	var id = uuid.NewString()
	s.subs[id] = filters
	s.send(ackFrame{Type: TypeAck, ID: id, Filters: filters})

	if frame.ResumeFromSlot != nil {
		s.send(infoFrame{Type: TypeInfo, Message: fmt.Sprintf("Resuming from slot %d", *frame.ResumeFromSlot)})
		s.replay(ctx, id, filters, *frame.ResumeFromSlot)
	}
	log.WithField("subscriptions", len(s.subs)).Info("client subscribed")
}

func (s *Session) handleUnsubscribe(id string) {
	if _, ok := s.subs[id]; ok {
		delete(s.subs, id)
		log.WithField("id", id).Debug("client unsubscribed")
	} else {
		log.WithField("id", id).Warn("unsubscribe for unknown subscription")
	}
}

// replay pushes stored transactions past |sinceSlot| through the new
// subscription, bounded by the configured replay limit.
func (s *Session) replay(ctx context.Context, id string, filters Filters, sinceSlot int64) {
	if s.replayer == nil {
		return
	}
	var txs, err = s.replayer.ListSinceSlot(ctx, sinceSlot, int64(s.cfg.ResumeReplayLimit))
	if err != nil {
		log.WithFields(log.Fields{"sinceSlot": sinceSlot, "err": err}).Warn("resume replay failed")
		return
	}
	for i := range txs {
		if filters.Match(&txs[i]) {
			s.sendEvent(id, txs[i])
		}
	}
}

// deliver fans one committed transaction out to every matching
// subscription of this session.
func (s *Session) deliver(tx store.Transaction) {
	for id, filters := range s.subs {
		if filters.Match(&tx) {
			s.sendEvent(id, tx)
		}
	}
}

func (s *Session) sendEvent(id string, tx store.Transaction) {
	if !s.allowOutbound() {
		log.WithField("signature", tx.Signature).Debug("outbound event budget exhausted, dropping")
		eventsDroppedCounter.Inc()
		return
	}
	if s.send(eventFrame{Type: TypeEvent, Sub: id, TX: tx}) {
		eventsSentCounter.Inc()
	}
}

func (s *Session) allowInbound() bool {
	var now = time.Now()
	if now.Sub(s.msgWindowStart) >= inboundWindow {
		s.msgWindowStart = now
		s.msgCount = 0
	}
	s.msgCount++
	return s.msgCount <= s.cfg.MaxClientMsgPerMin
}

func (s *Session) allowOutbound() bool {
	var now = time.Now()
	if now.Sub(s.eventWindowStart) >= outboundWindow {
		s.eventWindowStart = now
		s.eventCount = 0
	}
	s.eventCount++
	return s.eventCount <= s.cfg.MaxEventsPerSec
}

func (s *Session) send(frame interface{}) bool {
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteJSON(frame); err != nil {
		log.WithField("err", err).Debug("websocket write failed")
		return false
	}
	return true
}

func (s *Session) sendError(code, message string) {
	s.send(errorFrame{Type: TypeError, Code: code, Message: message})
}

func (s *Session) close(code int, reason string) {
	var message = websocket.FormatCloseMessage(code, reason)
	if err := s.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(writeTimeout)); err != nil {
		log.WithField("err", err).Debug("failed to write websocket close")
	}
}
