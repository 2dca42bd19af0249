package kis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/seojinlab/kisbot/internal/domain"
)

const (
	// wsWriteWait is the time allowed to write a message to the gateway.
	wsWriteWait = 10 * time.Second

	// wsReconnectDelay is the base delay before attempting to reconnect.
	wsReconnectDelay = 2 * time.Second

	// wsMaxReconnectDelay caps the exponential backoff.
	wsMaxReconnectDelay = 60 * time.Second
)

// ApprovalSource supplies a streaming approval key. The session manager
// implements this.
type ApprovalSource interface {
	ApprovalKey(ctx context.Context) (string, error)
}

// QuoteHandler is called for every decoded quote snapshot.
type QuoteHandler func(domain.QuoteSnapshot)

// TickHandler is called for every decoded execution tick.
type TickHandler func(domain.Tick)

// NoticeHandler is called for every decrypted execution notice addressed to
// the configured account.
type NoticeHandler func(domain.ExecutionNotice)

// subscription identifies one feed registration for resubscribe tracking.
type subscription struct {
	TrID  string
	TrKey string
}

// Stream is the client for the KIS real-time gateway. It subscribes to
// quote, tick, and execution-notice feeds, decodes incoming frames with a
// Decoder, echoes PINGPONG probes, and reconnects with exponential backoff.
type Stream struct {
	wsURL     string
	custType  string
	approvals ApprovalSource
	decoder   *Decoder
	log       *slog.Logger

	mu     sync.RWMutex
	conn   *websocket.Conn
	closed bool

	// Tracked subscriptions for reconnection.
	subs []subscription

	handlerMu      sync.RWMutex
	quoteHandlers  []QuoteHandler
	tickHandlers   []TickHandler
	noticeHandlers []NoticeHandler

	// done is closed when the stream shuts down.
	done chan struct{}
}

// NewStream creates a streaming client for the given environment.
func NewStream(env Environment, custType string, approvals ApprovalSource, decoder *Decoder, log *slog.Logger) *Stream {
	return &Stream{
		wsURL:     env.WSURL(),
		custType:  custType,
		approvals: approvals,
		decoder:   decoder,
		log:       log.With("component", "stream"),
		done:      make(chan struct{}),
	}
}

// OnQuote registers a handler for quote snapshots.
func (s *Stream) OnQuote(h QuoteHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.quoteHandlers = append(s.quoteHandlers, h)
}

// OnTick registers a handler for execution ticks.
func (s *Stream) OnTick(h TickHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.tickHandlers = append(s.tickHandlers, h)
}

// OnNotice registers a handler for execution notices.
func (s *Stream) OnNotice(h NoticeHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.noticeHandlers = append(s.noticeHandlers, h)
}

// Connect establishes the streaming connection and starts the read loop.
// The gateway probes liveness with PINGPONG frames, so no client-side ping
// loop is started.
func (s *Stream) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("kis/stream: client is closed")
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("kis/stream: connect: %w", err)
	}

	// Restore tracked feeds before the connection goes live. A failed
	// restore closes the fresh connection, so a retrying caller never has
	// more than one read loop running.
	for _, sub := range s.subs {
		if err := s.sendSubscribe(ctx, conn, sub, true); err != nil {
			_ = conn.Close()
			return fmt.Errorf("kis/stream: restore subscription %s/%s: %w", sub.TrID, sub.TrKey, err)
		}
	}

	s.conn = conn

	go s.readLoop()

	return nil
}

// Subscribe registers for a feed. trKey is the symbol for market data feeds
// or the HTS user id for the execution-notice feed.
func (s *Stream) Subscribe(ctx context.Context, trID, trKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return fmt.Errorf("kis/stream: not connected")
	}

	sub := subscription{TrID: trID, TrKey: trKey}
	if err := s.sendSubscribe(ctx, s.conn, sub, true); err != nil {
		return fmt.Errorf("kis/stream: subscribe %s/%s: %w", trID, trKey, err)
	}

	for _, existing := range s.subs {
		if existing == sub {
			return nil
		}
	}
	s.subs = append(s.subs, sub)

	return nil
}

// Unsubscribe removes a feed registration.
func (s *Stream) Unsubscribe(ctx context.Context, trID, trKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return fmt.Errorf("kis/stream: not connected")
	}

	sub := subscription{TrID: trID, TrKey: trKey}
	if err := s.sendSubscribe(ctx, s.conn, sub, false); err != nil {
		return fmt.Errorf("kis/stream: unsubscribe %s/%s: %w", trID, trKey, err)
	}

	for i, existing := range s.subs {
		if existing == sub {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			break
		}
	}

	return nil
}

// Close shuts down the streaming connection.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	close(s.done)

	if s.conn != nil {
		_ = s.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return s.conn.Close()
	}

	return nil
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// sendSubscribe sends a subscribe (tr_type "1") or unsubscribe (tr_type
// "2") request on conn. Caller must hold s.mu.
func (s *Stream) sendSubscribe(ctx context.Context, conn *websocket.Conn, sub subscription, on bool) error {
	approvalKey, err := s.approvals.ApprovalKey(ctx)
	if err != nil {
		return fmt.Errorf("approval key: %w", err)
	}

	trType := "2"
	if on {
		trType = "1"
	}

	req := wsRequest{
		Header: wsRequestHeader{
			ApprovalKey: approvalKey,
			CustType:    s.custType,
			TrType:      trType,
			ContentType: "utf-8",
		},
		Body: wsRequestBody{
			Input: wsRequestInput{TrID: sub.TrID, TrKey: sub.TrKey},
		},
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal subscribe: %w", err)
	}

	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop continuously reads frames, decodes them, and dispatches to
// handlers. On disconnect it attempts reconnection.
func (s *Stream) readLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}

			s.log.Warn("stream read failed, reconnecting", "error", err)
			s.reconnect()
			return
		}

		s.handleFrame(conn, message)
	}
}

// handleFrame decodes one raw frame and fans out the result. Malformed
// frames are logged and dropped without tearing down the connection.
func (s *Stream) handleFrame(conn *websocket.Conn, raw []byte) {
	ev, err := s.decoder.Decode(raw)
	if err != nil {
		s.log.Warn("dropping undecodable frame", "error", err)
		return
	}

	if ev.Pong != nil {
		// The gateway expects its probe echoed unchanged.
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteMessage(websocket.TextMessage, ev.Pong); err != nil {
			s.log.Warn("pingpong echo failed", "error", err)
		}
		return
	}

	if ev.Ack != nil {
		if ev.Ack.RtCd != "" && ev.Ack.RtCd != "0" {
			s.log.Warn("subscription rejected",
				"tr_id", ev.Ack.TrID, "tr_key", ev.Ack.TrKey, "msg", ev.Ack.Msg)
		} else {
			s.log.Info("subscription acknowledged",
				"tr_id", ev.Ack.TrID, "tr_key", ev.Ack.TrKey)
		}
		return
	}

	s.handlerMu.RLock()
	quoteHandlers := s.quoteHandlers
	tickHandlers := s.tickHandlers
	noticeHandlers := s.noticeHandlers
	s.handlerMu.RUnlock()

	for _, q := range ev.Quotes {
		for _, h := range quoteHandlers {
			h(q)
		}
	}
	for _, t := range ev.Ticks {
		for _, h := range tickHandlers {
			h(t)
		}
	}
	for _, n := range ev.Notices {
		for _, h := range noticeHandlers {
			h(n)
		}
	}
}

// reconnect attempts to re-establish the streaming connection with
// exponential backoff. Tracked subscriptions are restored by Connect.
func (s *Stream) reconnect() {
	delay := wsReconnectDelay

	for {
		select {
		case <-s.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := s.Connect(ctx)
		cancel()

		if err == nil {
			s.log.Info("stream reconnected")
			return
		}
		s.log.Warn("stream reconnect failed", "error", err, "next_delay", delay)

		delay *= 2
		if delay > wsMaxReconnectDelay {
			delay = wsMaxReconnectDelay
		}
	}
}
