package api

import (
	"context"
	"encoding/json"

	"github.com/gofiber/websocket/v2"

	"github.com/Berhanu27/chat-app/internal/models"
)

// wsEnvelope is the frame pushed to connected clients. Exactly one of
// Entries and Messages is set, keyed by Type.
type wsEnvelope struct {
	Type       string                  `json:"type"`
	MessagesID string                  `json:"messagesId,omitempty"`
	Entries    []models.ChatIndexEntry `json:"entries,omitempty"`
	Messages   []models.Message        `json:"messages,omitempty"`
	Error      string                  `json:"error,omitempty"`
}

// wsCommand is what clients send: subscribe to a conversation's messages
// or unsubscribe from the current one. The chat index stream is always on.
type wsCommand struct {
	Type       string `json:"type"`
	MessagesID string `json:"messagesId"`
}

func (s *Server) wsHandler(conn *websocket.Conn) {
	userID, _ := conn.Locals("user_id").(string)
	sess, err := s.sessions.acquire(userID)
	if err != nil {
		s.log.Warnw("ws session open failed", "user", userID, "err", err)
		conn.Close()
		return
	}
	defer s.sessions.release(userID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Single writer goroutine. Both pumps and the command loop funnel
	// frames through out so writes never interleave on the socket.
	out := make(chan wsEnvelope, 16)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case env := <-out:
				if err := conn.WriteJSON(env); err != nil {
					cancel()
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	send := func(env wsEnvelope) {
		select {
		case out <- env:
		case <-ctx.Done():
		}
	}

	indexCh, cancelIndex, err := sess.SubscribeChatIndex(ctx)
	if err != nil {
		s.log.Warnw("chat index subscribe failed", "user", userID, "err", err)
		cancel()
		<-writerDone
		conn.Close()
		return
	}
	go func() {
		for entries := range indexCh {
			send(wsEnvelope{Type: "chat_index", Entries: entries})
		}
	}()

	// At most one live message subscription per connection. Switching
	// conversations tears the old one down and blanks the pane first so
	// a slow unsubscribe can't leak the previous chat into the new one.
	var (
		msgCancel func()
		msgDone   chan struct{}
	)
	stopMessages := func() {
		if msgCancel != nil {
			msgCancel()
			<-msgDone
			msgCancel = nil
		}
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var cmd wsCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			send(wsEnvelope{Type: "error", Error: "malformed command"})
			continue
		}

		switch cmd.Type {
		case "subscribe":
			if cmd.MessagesID == "" {
				send(wsEnvelope{Type: "error", Error: "messagesId required"})
				continue
			}
			stopMessages()
			send(wsEnvelope{Type: "messages", MessagesID: cmd.MessagesID, Messages: []models.Message{}})

			msgCh, cancelMsgs, err := sess.SubscribeMessages(ctx, cmd.MessagesID)
			if err != nil {
				send(wsEnvelope{Type: "error", Error: "subscribe failed"})
				continue
			}
			msgCancel = cancelMsgs
			msgDone = make(chan struct{})
			go func(id string, ch <-chan []models.Message, done chan struct{}) {
				defer close(done)
				for msgs := range ch {
					send(wsEnvelope{Type: "messages", MessagesID: id, Messages: msgs})
				}
			}(cmd.MessagesID, msgCh, msgDone)

		case "unsubscribe":
			stopMessages()

		default:
			send(wsEnvelope{Type: "error", Error: "unknown command"})
		}
	}

	stopMessages()
	cancelIndex()
	cancel()
	<-writerDone
	conn.Close()
}
