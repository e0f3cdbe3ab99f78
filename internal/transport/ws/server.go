// Package ws serves the placement session over WebSocket. A client says HELLO, gets
// a WELCOME snapshot, then sends INPUT events and receives the EVENT stream (and GHOST
// frames when it joined as a renderer).
package ws

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"slotplan.ai/internal/protocol"
	"slotplan.ai/internal/sim/session"
)

const (
	handshakeTimeout = 5 * time.Second
	writeTimeout     = 5 * time.Second
	readTimeout      = 60 * time.Second
)

type Server struct {
	sess *session.Session
	log  *log.Logger

	// ClientBuffer is the per-client outbound queue. The session drops a client whose
	// queue fills up.
	ClientBuffer int

	upgrader websocket.Upgrader
}

func NewServer(sess *session.Session, clientBuffer int, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if clientBuffer <= 0 {
		clientBuffer = 256
	}
	return &Server{
		sess:         sess,
		log:          logger,
		ClientBuffer: clientBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		clientID, out := s.handshake(r.Context(), conn)
		if clientID == "" {
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Protocol errors found by the reader; the writer goroutine owns the conn.
		local := make(chan []byte, 8)

		go func() {
			defer cancel()
			for {
				var b []byte
				select {
				case <-ctx.Done():
					return
				case b = <-local:
				case m, ok := <-out:
					if !ok {
						// Dropped by the session.
						_ = conn.WriteControl(websocket.CloseMessage,
							websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too slow"),
							time.Now().Add(time.Second))
						_ = conn.Close()
						return
					}
					b = m
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					_ = conn.Close()
					return
				}
			}
		}()

		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			ev, perr := decodeInput(msg)
			if perr != nil {
				if b, err := json.Marshal(perr); err == nil {
					select {
					case local <- b:
					default:
					}
				}
				continue
			}
			select {
			case s.sess.Inbox() <- session.InputEnvelope{ClientID: clientID, Event: ev}:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}
		cancel()

		select {
		case s.sess.Leave() <- clientID:
		case <-time.After(time.Second):
			s.log.Printf("ws: leave %s not delivered", clientID)
		}
	}
}

func decodeInput(msg []byte) (protocol.Event, *protocol.ErrorMsg) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		e := protocol.NewErrorMsg(protocol.ErrProtoBadRequest, "malformed json")
		return nil, &e
	}
	if base.Type != protocol.TypeInput {
		e := protocol.NewErrorMsg(protocol.ErrProtoBadRequest, "expected INPUT, got "+base.Type)
		return nil, &e
	}
	if base.ProtocolVersion != protocol.Version {
		e := protocol.NewErrorMsg(protocol.ErrProtoBadRequest, "bad protocol_version")
		return nil, &e
	}
	if err := protocol.ValidateInput(msg); err != nil {
		e := protocol.NewErrorMsg(protocol.ErrProtoBadRequest, err.Error())
		return nil, &e
	}
	var in protocol.InputMsg
	if err := json.Unmarshal(msg, &in); err != nil {
		e := protocol.NewErrorMsg(protocol.ErrProtoBadRequest, err.Error())
		return nil, &e
	}
	ev, err := protocol.DecodeEvent(in.Event, in.Payload)
	if err != nil {
		e := protocol.NewErrorMsg(protocol.ErrProtoBadRequest, err.Error())
		return nil, &e
	}
	return ev, nil
}

func (s *Server) handshake(ctx context.Context, conn *websocket.Conn) (clientID string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, "expected HELLO")
		return "", nil
	}
	if base.ProtocolVersion != protocol.Version {
		closeWith(conn, "bad protocol_version")
		return "", nil
	}
	if err := protocol.ValidateHello(msg); err != nil {
		_ = writeJSON(conn, protocol.NewErrorMsg(protocol.ErrProtoBadRequest, err.Error()))
		closeWith(conn, "bad HELLO")
		return "", nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", nil
	}
	if hello.ClientName == "" {
		hello.ClientName = "client"
	}

	out = make(chan []byte, s.ClientBuffer)
	respCh := make(chan session.JoinResponse, 1)
	select {
	case s.sess.Join() <- session.JoinRequest{Name: hello.ClientName, Role: hello.Role, Out: out, Resp: respCh}:
	case <-ctx.Done():
		return "", nil
	}
	var resp session.JoinResponse
	select {
	case resp = <-respCh:
	case <-ctx.Done():
		return "", nil
	}

	if err := writeJSON(conn, resp.Welcome); err != nil {
		select {
		case s.sess.Leave() <- resp.ClientID:
		default:
		}
		return "", nil
	}
	s.log.Printf("ws: %s joined as %q", resp.ClientID, hello.ClientName)
	return resp.ClientID, out
}

func closeWith(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}
