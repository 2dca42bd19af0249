package kis

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type staticApprovals struct {
	key string
	err error
}

func (a staticApprovals) ApprovalKey(ctx context.Context) (string, error) {
	return a.key, a.err
}

// wsTestServer upgrades each request and forwards every received text
// message to frames. closed is signalled when the peer goes away.
func wsTestServer(t *testing.T, frames chan<- []byte, closed chan<- struct{}) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if closed != nil {
					close(closed)
				}
				return
			}
			if frames != nil {
				frames <- msg
			}
		}
	}))
}

func newTestStream(srvURL string, approvals ApprovalSource) *Stream {
	return &Stream{
		wsURL:     "ws" + strings.TrimPrefix(srvURL, "http"),
		custType:  "P",
		approvals: approvals,
		decoder:   NewDecoder("12345678"),
		log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		done:      make(chan struct{}),
	}
}

func TestConnectRestoresTrackedSubscriptions(t *testing.T) {
	frames := make(chan []byte, 1)
	srv := wsTestServer(t, frames, nil)
	defer srv.Close()

	s := newTestStream(srv.URL, staticApprovals{key: "approval-1"})
	s.subs = []subscription{{TrID: "H0BJASP0", TrKey: "KR6000000000"}}
	defer s.Close()

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case msg := <-frames:
		var req wsRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			t.Fatalf("decode subscribe request: %v", err)
		}
		if req.Header.TrType != "1" || req.Body.Input.TrID != "H0BJASP0" || req.Body.Input.TrKey != "KR6000000000" {
			t.Fatalf("subscribe request = %+v", req)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tracked subscription was not restored on connect")
	}
}

func TestConnectClosesConnWhenRestoreFails(t *testing.T) {
	closed := make(chan struct{})
	srv := wsTestServer(t, nil, closed)
	defer srv.Close()

	s := newTestStream(srv.URL, staticApprovals{err: errors.New("approval service down")})
	s.subs = []subscription{{TrID: "H0BJASP0", TrKey: "KR6000000000"}}

	if err := s.Connect(context.Background()); err == nil {
		t.Fatal("Connect must fail when a tracked subscription cannot be restored")
	}

	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn != nil {
		t.Fatal("a connection that failed restore must not be kept")
	}

	// The failed connection has to be torn down, not left for a read loop.
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("server side of the failed connection was never closed")
	}
}
