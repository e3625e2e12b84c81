package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticState struct{ round *PublicRound }

func (s staticState) PublicState(context.Context, uint) (*PublicRound, error) {
	return s.round, nil
}

func dialHub(t *testing.T, hub *Hub, eventID uint) *websocket.Conn {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Attach(conn, eventID)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHubSendsStateThenNotifications(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(staticState{round: &PublicRound{ID: 7, Title: "Warmup"}})
	go hub.Run(ctx)

	conn := dialHub(t, hub, 1)

	first := readMessage(t, conn)
	assert.Equal(t, "state", first.Type)

	require.Eventually(t, func() bool { return hub.ViewerCount(1) == 1 }, time.Second, 10*time.Millisecond)

	hub.Publish(ctx, Notification{EventID: 2, Type: NotifyRoundOpened})
	hub.Publish(ctx, Notification{EventID: 1, Type: NotifyQuestionAdvanced})

	next := readMessage(t, conn)
	assert.Equal(t, NotifyQuestionAdvanced, next.Type)
}

func TestHubAnswersPing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(nil)
	go hub.Run(ctx)

	conn := dialHub(t, hub, 3)
	require.Eventually(t, func() bool { return hub.ViewerCount(3) == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(Message{Type: "ping"}))
	assert.Equal(t, "pong", readMessage(t, conn).Type)
}
