package post

import (
	"log"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"Quill/internal/api/middleware"
	"Quill/internal/core/posts"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = 30 * time.Second
	streamBuffer     = 64
)

// Stream frame types
const (
	FrameSnapshot = "snapshot"
	FrameUpdate   = "update"
	FrameDeleted  = "deleted"
	FrameError    = "error"
)

// StreamMessage is one frame pushed to stream clients
type StreamMessage struct {
	Post     *posts.PostView     `json:"post,omitempty"`
	Mutation *posts.MutationInfo `json:"mutation,omitempty"`
	Type     string              `json:"type"`
	Error    string              `json:"error,omitempty"`
}

// StreamHandler pushes every update of a post's aggregate over a websocket:
// optimistic applies, commits, rollbacks and remote changes
type StreamHandler struct {
	service  posts.Service
	upgrader websocket.Upgrader
}

// NewStreamHandler creates a stream handler. An empty allowedOrigins list or
// one containing "*" accepts any origin.
func NewStreamHandler(service posts.Service, allowedOrigins []string) *StreamHandler {
	return &StreamHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*") {
					return true
				}
				return slices.Contains(allowedOrigins, origin)
			},
		},
	}
}

// HandleStream upgrades to a websocket and follows the post until the client
// disconnects or the post is deleted
// GET /api/posts/{id}/stream
func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	agg, release, err := h.service.Open(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	defer release()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		log.Printf("Failed to upgrade post stream: %v", err)
		return
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			log.Printf("Failed to close WebSocket connection: %v", closeErr)
		}
	}()

	viewer := viewerID(middleware.GetActor(r))
	frames := make(chan StreamMessage, streamBuffer)
	overflow := make(chan struct{})
	var overflowOnce sync.Once

	current, stop := agg.Follow(func(upd posts.Update) {
		select {
		case frames <- frameOf(upd, viewer):
		default:
			// slow client: drop the connection rather than skip frames
			overflowOnce.Do(func() { close(overflow) })
		}
	})
	defer stop()

	done := make(chan struct{})
	go readPump(conn, done)

	first := snapshotFrame(current, viewer)
	if err := writeFrame(conn, first); err != nil {
		return
	}
	if first.Type == FrameDeleted {
		// deleted before we followed: its update was delivered to nobody
		closeStream(conn, websocket.CloseNormalClosure, "post deleted")
		return
	}

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-overflow:
			closeStream(conn, websocket.ClosePolicyViolation, "client too slow")
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		case msg := <-frames:
			if err := writeFrame(conn, msg); err != nil {
				return
			}
			if msg.Type == FrameDeleted {
				closeStream(conn, websocket.CloseNormalClosure, "post deleted")
				return
			}
		}
	}
}

// snapshotFrame is the first frame of a stream. A nil post means the
// aggregate was deleted before the stream followed it.
func snapshotFrame(current *posts.Post, viewer string) StreamMessage {
	if current == nil {
		return StreamMessage{Type: FrameDeleted}
	}
	return StreamMessage{Type: FrameSnapshot, Post: posts.NewPostView(current, viewer)}
}

func frameOf(upd posts.Update, viewer string) StreamMessage {
	switch {
	case upd.Deleted:
		return StreamMessage{Type: FrameDeleted}
	case upd.Err != nil && upd.Mutation == nil:
		return StreamMessage{Type: FrameError, Error: upd.Err.Error(), Post: posts.NewPostView(upd.Post, viewer)}
	}
	msg := StreamMessage{Type: FrameUpdate, Post: posts.NewPostView(upd.Post, viewer), Mutation: upd.Mutation}
	if upd.Err != nil {
		msg.Error = upd.Err.Error()
	}
	return msg
}

// readPump consumes client frames so pongs and close messages are processed
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	if err := conn.SetReadDeadline(time.Now().Add(streamPongWait)); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, msg StreamMessage) error {
	if err := conn.SetWriteDeadline(time.Now().Add(streamWriteWait)); err != nil {
		return err
	}
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("Failed to write stream frame: %v", err)
		return err
	}
	return nil
}

func closeStream(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(streamWriteWait)); err != nil {
		log.Printf("Failed to send close frame: %v", err)
	}
}
