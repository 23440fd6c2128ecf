package agent

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SuperViz/superviz-sub000/internal/core"
	"github.com/SuperViz/superviz-sub000/internal/observer"
)

type MockSession struct {
	*observer.Observable
	Local  core.Participant
	Roster []core.Participant
}

func NewMockSession() *MockSession {
	local := core.Participant{ID: "a", Name: "Ada"}
	return &MockSession{
		Observable: observer.New(),
		Local:      local,
		Roster:     []core.Participant{local, {ID: "b", Name: "Bob"}},
	}
}

func (s *MockSession) LocalParticipant() core.Participant {
	return s.Local
}

func (s *MockSession) Participants() []core.Participant {
	return s.Roster
}

func newTestApp(session *MockSession) *App {
	return New(AppOptions{
		Env:     core.DevelopmentEnv,
		Session: session,
		Events:  []string{"participant.joined", "participant.left"},
	})
}

func TestHealthHandler(t *testing.T) {
	app := newTestApp(NewMockSession())
	defer app.Close()

	w := httptest.NewRecorder()
	app.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestParticipantsHandler(t *testing.T) {
	app := newTestApp(NewMockSession())
	defer app.Close()

	w := httptest.NewRecorder()
	app.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/participants", nil))
	require.Equal(t, http.StatusOK, w.Code)

	got := roster{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, "a", got.Local.ID)
	require.Len(t, got.Participants, 2)
	assert.Equal(t, "Bob", got.Participants[1].Name)
}

func TestMetricsHandler(t *testing.T) {
	app := newTestApp(NewMockSession())
	defer app.Close()

	w := httptest.NewRecorder()
	app.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestWebsocketFeed(t *testing.T) {
	session := NewMockSession()
	app := newTestApp(session)

	server := httptest.NewServer(app.Router())
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	readFrame := func() map[string]json.RawMessage {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		frame := map[string]json.RawMessage{}
		require.NoError(t, json.Unmarshal(data, &frame))
		return frame
	}

	t.Run("the first frame is the roster", func(t *testing.T) {
		frame := readFrame()
		assert.JSONEq(t, `"snapshot"`, string(frame["event"]))

		got := roster{}
		require.NoError(t, json.Unmarshal(frame["payload"], &got))
		assert.Len(t, got.Participants, 2)
	})

	t.Run("session events are forwarded", func(t *testing.T) {
		session.Publish("participant.joined", core.Participant{ID: "c", Name: "Cy"})

		frame := readFrame()
		assert.JSONEq(t, `"participant.joined"`, string(frame["event"]))
		assert.Contains(t, string(frame["payload"]), `"id":"c"`)
	})

	t.Run("close stops forwarding", func(t *testing.T) {
		app.Close()

		assert.Equal(t, 0, session.Len("participant.joined"))
		assert.Equal(t, 0, session.Len("participant.left"))
	})
}
