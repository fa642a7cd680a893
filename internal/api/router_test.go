package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bhandras/huddle/internal/crypto"
	"github.com/bhandras/huddle/internal/database"
	"github.com/bhandras/huddle/internal/realtime"
	"github.com/bhandras/huddle/shared/wire"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	db     *database.DB
	router *gin.Engine
	hub    *realtime.Hub
	tokens *crypto.JWTManager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	tokens, err := crypto.NewJWTManager("test-secret")
	require.NoError(t, err)

	hub := realtime.NewHub(&realtime.SQLStore{Queries: modelsFor(db)}, time.Second)
	router := NewRouter(RouterConfig{DB: db.DB, Hub: hub, Verifier: tokens})
	return &testEnv{db: db, router: router, hub: hub, tokens: tokens}
}

func (e *testEnv) token(t *testing.T, externalID, name string) string {
	t.Helper()
	token, err := e.tokens.CreateToken(externalID, name, time.Hour)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

type roomBody struct {
	Room struct {
		ID         string `json:"id"`
		Type       string `json:"type"`
		MaxMembers int64  `json:"maxMembers"`
	} `json:"room"`
}

type roomsBody struct {
	Rooms []struct {
		ID          string `json:"id"`
		MemberCount *int64 `json:"memberCount"`
		LastMessage *struct {
			ID      string `json:"id"`
			Preview string `json:"preview"`
		} `json:"lastMessage"`
	} `json:"rooms"`
}

type messageBody struct {
	Message wire.MessageInfo `json:"message"`
}

type historyBody struct {
	Messages []wire.MessageInfo `json:"messages"`
	HasMore  bool               `json:"hasMore"`
	Next     *struct {
		Before   int64  `json:"before"`
		BeforeID string `json:"beforeId"`
	} `json:"next"`
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (e *testEnv) createRoom(t *testing.T, token, name, roomType string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/v1/rooms", token, map[string]any{"name": name, "type": roomType}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[roomBody](t, rec).Room.ID
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/healthz", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/metrics", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "huddle_http_requests_total")
}

func TestAuth_RejectsMissingAndInvalidTokens(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/rooms", "", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, wire.CodeAuthentication, decode[errorBody](t, rec).Code)

	rec = env.do(t, http.MethodGet, "/v1/rooms", "garbage", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	other, err := crypto.NewJWTManager("other-secret")
	require.NoError(t, err)
	forged, err := other.CreateToken("idp|mallory", "", time.Hour)
	require.NoError(t, err)
	rec = env.do(t, http.MethodGet, "/v1/rooms", forged, nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRooms_CreateListJoinLeave(t *testing.T) {
	env := newTestEnv(t)
	alice := env.token(t, "idp|alice", "Alice")
	bob := env.token(t, "idp|bob", "Bob")

	general := env.createRoom(t, alice, "general", "")
	secret := env.createRoom(t, alice, "secret", realtime.RoomPrivate)

	rec := env.do(t, http.MethodGet, "/v1/rooms", alice, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[roomsBody](t, rec).Rooms, 2)

	rec = env.do(t, http.MethodGet, "/v1/rooms/public", bob, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	public := decode[roomsBody](t, rec).Rooms
	require.Len(t, public, 1)
	require.Equal(t, general, public[0].ID)
	require.NotNil(t, public[0].MemberCount)
	require.EqualValues(t, 1, *public[0].MemberCount)

	// Bob joins the public room once.
	rec = env.do(t, http.MethodPost, "/v1/rooms/"+general+"/join", bob, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = env.do(t, http.MethodPost, "/v1/rooms/"+general+"/join", bob, nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, decode[errorBody](t, rec).Error, "already a member")

	// Private and unknown rooms cannot be joined.
	rec = env.do(t, http.MethodPost, "/v1/rooms/"+secret+"/join", bob, nil, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(t, http.MethodPost, "/v1/rooms/nope/join", bob, nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/rooms", bob, nil, nil)
	require.Len(t, decode[roomsBody](t, rec).Rooms, 1)

	// Leaving twice reports the second call.
	rec = env.do(t, http.MethodPost, "/v1/rooms/"+general+"/leave", bob, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodPost, "/v1/rooms/"+general+"/leave", bob, nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/rooms", bob, nil, nil)
	require.Empty(t, decode[roomsBody](t, rec).Rooms)
}

func TestRooms_CreateValidation(t *testing.T) {
	env := newTestEnv(t)
	alice := env.token(t, "idp|alice", "Alice")

	cases := []map[string]any{
		{"name": "   "},
		{"name": "x", "type": "secret-club"},
		{"name": "x", "maxMembers": 1},
	}
	for _, body := range cases {
		rec := env.do(t, http.MethodPost, "/v1/rooms", alice, body, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestMessages_IdempotentPostAndHistory(t *testing.T) {
	env := newTestEnv(t)
	alice := env.token(t, "idp|alice", "Alice")
	bob := env.token(t, "idp|bob", "Bob")
	roomID := env.createRoom(t, alice, "general", "")
	path := "/v1/rooms/" + roomID + "/messages"

	headers := map[string]string{"Idempotency-Key": "k1"}
	rec := env.do(t, http.MethodPost, path, alice, map[string]any{"content": " hi "}, headers)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decode[messageBody](t, rec).Message
	require.Equal(t, "hi", first.Content)
	require.Equal(t, wire.KindText, first.Kind)
	require.Equal(t, "k1", first.IdempotencyKey)

	rec = env.do(t, http.MethodPost, path, alice, map[string]any{"content": "hi"}, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, first.ID, decode[messageBody](t, rec).Message.ID)

	// Key in the body works too.
	rec = env.do(t, http.MethodPost, path, alice, map[string]any{"content": "second", "idempotencyKey": "k2"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, path, alice, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[historyBody](t, rec)
	require.Len(t, history.Messages, 2)
	require.Equal(t, "hi", history.Messages[0].Content)
	require.Equal(t, "second", history.Messages[1].Content)
	require.False(t, history.HasMore)

	rec = env.do(t, http.MethodGet, path+"?limit=1", alice, nil, nil)
	history = decode[historyBody](t, rec)
	require.Len(t, history.Messages, 1)
	require.Equal(t, "second", history.Messages[0].Content)
	require.True(t, history.HasMore)

	// The room summary follows the newest message.
	rec = env.do(t, http.MethodGet, "/v1/rooms", alice, nil, nil)
	rooms := decode[roomsBody](t, rec).Rooms
	require.Len(t, rooms, 1)
	require.NotNil(t, rooms[0].LastMessage)
	require.Equal(t, "second", rooms[0].LastMessage.Preview)

	// Validation and membership failures.
	rec = env.do(t, http.MethodPost, path, alice, map[string]any{"content": "   "}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, wire.CodeValidation, decode[errorBody](t, rec).Code)

	rec = env.do(t, http.MethodPost, path, bob, map[string]any{"content": "let me in"}, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(t, http.MethodGet, path, bob, nil, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, path+"?before=abc", alice, nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMessages_HTTPPostBroadcastsToSubscribers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.token(t, "idp|alice", "Alice")
	roomID := env.createRoom(t, alice, "general", "")

	subject, err := env.hub.Provision(ctx, "idp|alice", "Alice", "")
	require.NoError(t, err)
	conn := &recordingConn{id: "sock-a"}
	_, err = env.hub.Connect(ctx, subject, conn)
	require.NoError(t, err)
	require.Equal(t, 1, conn.count(wire.EventJoinedRoom))

	rec := env.do(t, http.MethodPost, "/v1/rooms/"+roomID+"/messages", alice,
		map[string]any{"content": "from http"}, map[string]string{"Idempotency-Key": "h1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, 1, conn.count(wire.EventNewMessage))
}

func TestUsers_ListOnline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.token(t, "idp|alice", "Alice")

	rec := env.do(t, http.MethodGet, "/v1/users/online", alice, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, `{"users":[]}`, rec.Body.String())

	subject, err := env.hub.Provision(ctx, "idp|alice", "Alice", "")
	require.NoError(t, err)
	s, err := env.hub.Connect(ctx, subject, &recordingConn{id: "sock-a"})
	require.NoError(t, err)

	rec = env.do(t, http.MethodGet, "/v1/users/online", alice, nil, nil)
	body := decode[struct {
		Users []struct {
			ID          string `json:"id"`
			DisplayName string `json:"displayName"`
			Status      string `json:"status"`
		} `json:"users"`
	}](t, rec)
	require.Len(t, body.Users, 1)
	require.Equal(t, subject.ID, body.Users[0].ID)
	require.Equal(t, "Alice", body.Users[0].DisplayName)
	require.Equal(t, wire.StatusOnline, body.Users[0].Status)

	env.hub.Disconnect(ctx, s)
	rec = env.do(t, http.MethodGet, "/v1/users/online", alice, nil, nil)
	require.Equal(t, `{"users":[]}`, rec.Body.String())
}

func TestRooms_GetRoomForMembersOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.token(t, "idp|alice", "Alice")
	bob := env.token(t, "idp|bob", "Bob")
	roomID := env.createRoom(t, alice, "general", "")

	rec := env.do(t, http.MethodGet, "/v1/rooms/"+roomID, bob, nil, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, wire.CodeAuthorization, decode[errorBody](t, rec).Code)

	rec = env.do(t, http.MethodGet, "/v1/rooms/nope", bob, nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/rooms/"+roomID+"/join", bob, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	subject, err := env.hub.Provision(ctx, "idp|alice", "Alice", "")
	require.NoError(t, err)
	_, err = env.hub.Connect(ctx, subject, &recordingConn{id: "sock-a"})
	require.NoError(t, err)

	rec = env.do(t, http.MethodGet, "/v1/rooms/"+roomID, bob, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[struct {
		Room struct {
			ID          string `json:"id"`
			MemberCount *int64 `json:"memberCount"`
		} `json:"room"`
		Members []struct {
			ID          string `json:"id"`
			DisplayName string `json:"displayName"`
			Role        string `json:"role"`
			Status      string `json:"status"`
		} `json:"members"`
	}](t, rec)
	require.Equal(t, roomID, body.Room.ID)
	require.NotNil(t, body.Room.MemberCount)
	require.EqualValues(t, 2, *body.Room.MemberCount)
	require.Len(t, body.Members, 2)
	for _, m := range body.Members {
		if m.ID == subject.ID {
			require.Equal(t, "Alice", m.DisplayName)
			require.Equal(t, realtime.RoleAdmin, m.Role)
			require.Equal(t, wire.StatusOnline, m.Status)
			continue
		}
		require.Equal(t, "Bob", m.DisplayName)
		require.Equal(t, realtime.RoleMember, m.Role)
		require.Equal(t, wire.StatusOffline, m.Status)
	}
}

func TestMessages_EditDeleteAndReactOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.token(t, "idp|alice", "Alice")
	bob := env.token(t, "idp|bob", "Bob")
	roomID := env.createRoom(t, alice, "general", "")
	rec := env.do(t, http.MethodPost, "/v1/rooms/"+roomID+"/join", bob, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	subject, err := env.hub.Provision(ctx, "idp|alice", "Alice", "")
	require.NoError(t, err)
	conn := &recordingConn{id: "sock-a"}
	_, err = env.hub.Connect(ctx, subject, conn)
	require.NoError(t, err)

	rec = env.do(t, http.MethodPost, "/v1/rooms/"+roomID+"/messages", alice, map[string]any{"content": "hi"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	msgPath := "/v1/messages/" + decode[messageBody](t, rec).Message.ID

	// Edit: sender only, content validated.
	rec = env.do(t, http.MethodPut, msgPath, bob, map[string]any{"content": "hijacked"}, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(t, http.MethodPut, msgPath, alice, map[string]any{"content": "  "}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodPut, msgPath, alice, map[string]any{"content": "hello"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	edited := decode[messageBody](t, rec).Message
	require.Equal(t, "hello", edited.Content)
	require.True(t, edited.IsEdited)
	require.Equal(t, 1, conn.count(wire.EventMessageEdited))

	// Reactions are a set; repeats do not broadcast.
	for i := 0; i < 2; i++ {
		rec = env.do(t, http.MethodPost, msgPath+"/reactions", bob, map[string]any{"emoji": "👍"}, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		require.Len(t, decode[messageBody](t, rec).Message.Reactions, 1)
	}
	require.Equal(t, 1, conn.count(wire.EventMessageReactionAdded))

	rec = env.do(t, http.MethodPost, msgPath+"/reactions", bob, map[string]any{"emoji": ""}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodDelete, msgPath+"/reactions?emoji=%F0%9F%91%8D", bob, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Empty(t, decode[messageBody](t, rec).Message.Reactions)
	require.Equal(t, 1, conn.count(wire.EventMessageReactionRemoved))

	// Delete: neither sender nor admin is refused.
	rec = env.do(t, http.MethodDelete, msgPath, bob, nil, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(t, http.MethodDelete, msgPath, alice, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, 1, conn.count(wire.EventMessageDeleted))

	rec = env.do(t, http.MethodDelete, msgPath, alice, nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodPost, msgPath+"/reactions", bob, map[string]any{"emoji": "👍"}, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodPut, msgPath, alice, map[string]any{"content": "again"}, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	// A room admin may delete someone else's message.
	rec = env.do(t, http.MethodPost, "/v1/rooms/"+roomID+"/messages", bob, map[string]any{"content": "spam"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	spam := decode[messageBody](t, rec).Message.ID
	rec = env.do(t, http.MethodDelete, "/v1/messages/"+spam, alice, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 2, conn.count(wire.EventMessageDeleted))
}

func TestMessages_HistoryCursorWalksEveryMessage(t *testing.T) {
	env := newTestEnv(t)
	alice := env.token(t, "idp|alice", "Alice")
	roomID := env.createRoom(t, alice, "general", "")
	path := "/v1/rooms/" + roomID + "/messages"

	for _, content := range []string{"one", "two", "three", "four", "five"} {
		rec := env.do(t, http.MethodPost, path, alice, map[string]any{"content": content}, nil)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	// Posts land within the same millisecond often enough that a bare
	// timestamp cursor would drop messages.
	var seen []string
	url := path + "?limit=2"
	for {
		rec := env.do(t, http.MethodGet, url, alice, nil, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		page := decode[historyBody](t, rec)
		for i := len(page.Messages) - 1; i >= 0; i-- {
			seen = append(seen, page.Messages[i].Content)
		}
		if !page.HasMore {
			require.Nil(t, page.Next)
			break
		}
		require.NotNil(t, page.Next)
		url = fmt.Sprintf("%s?limit=2&before=%d&beforeId=%s", path, page.Next.Before, page.Next.BeforeID)
	}
	require.Equal(t, []string{"five", "four", "three", "two", "one"}, seen)

	rec := env.do(t, http.MethodGet, path+"?beforeId=x", alice, nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMessages_HistoryStoreFailureIsNotAuthorization(t *testing.T) {
	env := newTestEnv(t)
	alice := env.token(t, "idp|alice", "Alice")
	roomID := env.createRoom(t, alice, "general", "")

	_, err := env.db.Exec(`ALTER TABLE room_members RENAME TO room_members_gone`)
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/v1/rooms/"+roomID+"/messages", alice, nil, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, wire.CodePersistence, decode[errorBody](t, rec).Code)
}
