package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/smallbiznis/comms/internal/authorization"
	calldomain "github.com/smallbiznis/comms/internal/call/domain"
	callrepo "github.com/smallbiznis/comms/internal/call/repository"
	callservice "github.com/smallbiznis/comms/internal/call/service"
	channeldomain "github.com/smallbiznis/comms/internal/channel/domain"
	channelrepo "github.com/smallbiznis/comms/internal/channel/repository"
	channelservice "github.com/smallbiznis/comms/internal/channel/service"
	"github.com/smallbiznis/comms/internal/clock"
	"github.com/smallbiznis/comms/internal/config"
	"github.com/smallbiznis/comms/internal/identity"
	messagedomain "github.com/smallbiznis/comms/internal/message/domain"
	messagerepo "github.com/smallbiznis/comms/internal/message/repository"
	messageservice "github.com/smallbiznis/comms/internal/message/service"
	"github.com/smallbiznis/comms/internal/observability"
	orgrepo "github.com/smallbiznis/comms/internal/organization/repository"
	"github.com/smallbiznis/comms/internal/providers/notify"
	"github.com/smallbiznis/comms/internal/providers/storage"
	"github.com/smallbiznis/comms/internal/realtime"
	"github.com/smallbiznis/comms/internal/testutil"
	"github.com/smallbiznis/comms/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	testSecret        = "server-test-secret"
	testInternalToken = "media-transport-token"

	orgID snowflake.ID = 7
	alice snowflake.ID = 101
	bob   snowflake.ID = 102
	dave  snowflake.ID = 104 // outside the org
)

type testEnv struct {
	engine   *gin.Engine
	resolver *identity.Resolver
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.OpenDB(t)
	testutil.SeedOrg(t, db, orgID, alice, bob)

	log := zaptest.NewLogger(t)
	enforcer, err := authorization.NewEnforcer()
	require.NoError(t, err)
	authz := authorization.NewService(authorization.Params{Log: log, Enforcer: enforcer})
	node := testutil.Node(t)
	wall := clock.Real{}
	policy := config.NewStaticPolicyHolder(config.DefaultPolicy())

	hub := realtime.NewHub(16, nil)
	dispatcher := realtime.NewDispatcher(log, wall, hub, nil, 64, 1)
	dispatcher.Start()
	t.Cleanup(dispatcher.Stop)

	channels := channelservice.New(channelservice.Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Clock:    wall,
		Repo:     channelrepo.Provide(),
		Orgs:     orgrepo.NewDirectory(db),
		Authz:    authz,
		Observer: realtime.NewRevoker(hub, hub, wall, log),
	})
	messages := messageservice.New(messageservice.Params{
		DB:        db,
		Log:       log,
		GenID:     node,
		Clock:     wall,
		Policy:    policy,
		Repo:      messagerepo.Provide(),
		Channels:  channels,
		Authz:     authz,
		Publisher: dispatcher,
		Storage:   storage.NoOpResolver{},
		Notifier:  notify.NoOpDispatcher{},
	})
	calls := callservice.New(callservice.Params{
		DB:        db,
		Log:       log,
		GenID:     node,
		Clock:     wall,
		Repo:      callrepo.Provide(),
		Channels:  channels,
		Authz:     authz,
		Publisher: dispatcher,
		Notifier:  notify.NoOpDispatcher{},
	})
	typing := realtime.NewTypingTracker(wall, policy, dispatcher)
	gateway := realtime.NewGateway(log, wall, hub, channels, calls, typing)

	engine := NewEngine(observability.Config{})
	resolver := identity.NewResolverWithSecret(testSecret)
	NewServer(ServerParams{
		Gin:      engine,
		Cfg:      config.Config{InternalToken: testInternalToken},
		Log:      log,
		Resolver: resolver,
		Channels: channels,
		Messages: messages,
		Calls:    calls,
		Gateway:  gateway,
	})

	return &testEnv{engine: engine, resolver: resolver}
}

func (e *testEnv) token(t *testing.T, userID snowflake.ID) string {
	t.Helper()
	token, err := e.resolver.Issue(identity.Actor{UserID: userID, OrgID: orgID}, time.Hour)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path string, userID snowflake.ID, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		req.Header.Set("Authorization", "Bearer "+e.token(t, userID))
	}
	rec := httptest.NewRecorder()
	e.engine.ServeHTTP(rec, req)
	return rec
}

type dataEnvelope[T any] struct {
	Data T `json:"data"`
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out dataEnvelope[T]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out.Data
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var out errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out.Error
}

func (e *testEnv) createGroup(t *testing.T) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/channels", alice, gin.H{
		"type":   "group",
		"org_id": orgID.String(),
		"name":   "launch",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	ch := decodeData[channeldomain.ChannelView](t, rec)

	rec = e.do(t, http.MethodPost, "/api/channels/"+ch.ID.String()+"/members", alice, gin.H{
		"user_id": bob.String(),
		"role":    "member",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return ch.ID.String()
}

func TestMapErrorStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{identity.ErrMissingToken, http.StatusUnauthorized, "unauthorized"},
		{channeldomain.ErrNotMember, http.StatusForbidden, "forbidden"},
		{authorization.ErrForbidden, http.StatusForbidden, "forbidden"},
		{messagedomain.ErrEditWindowExpired, http.StatusForbidden, "edit_window_expired"},
		{channeldomain.ErrChannelNotFound, http.StatusNotFound, "not_found"},
		{messagedomain.ErrMessageDeleted, http.StatusNotFound, "not_found"},
		{channeldomain.ErrDMExists, http.StatusConflict, "conflict"},
		{channeldomain.ErrLastOwner, http.StatusConflict, "last_owner"},
		{calldomain.ErrCallAlreadyActive, http.StatusConflict, "call_already_active"},
		{calldomain.ErrCallEnded, http.StatusConflict, "call_ended"},
		{channeldomain.ErrInvalidType, http.StatusBadRequest, "invalid_type"},
		{messagedomain.ErrInvalidParent, http.StatusBadRequest, "invalid_parent"},
		{messagedomain.ErrEmptyMessage, http.StatusBadRequest, "invalid_argument"},
		{pagination.ErrInvalidPageToken, http.StatusBadRequest, "invalid_argument"},
		{messagedomain.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{invalidRequestError(), http.StatusBadRequest, "validation_error"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			status, payload := mapError(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.kind, payload.Type)
		})
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/channels", 0, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing_token", decodeError(t, rec).Message)

	req := httptest.NewRequest(http.MethodGet, "/api/channels", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec = httptest.NewRecorder()
	env.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_token", decodeError(t, rec).Message)

	// Query tokens are only honoured on streaming requests.
	req = httptest.NewRequest(http.MethodGet, "/api/channels?token="+env.token(t, alice), nil)
	rec = httptest.NewRecorder()
	env.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/health", 0, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChannelAndMessageFlow(t *testing.T) {
	env := newTestEnv(t)
	channelID := env.createGroup(t)

	rec := env.do(t, http.MethodGet, "/api/channels/"+channelID, bob, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, channeldomain.RoleMember, decodeData[channeldomain.ChannelView](t, rec).Role)

	rec = env.do(t, http.MethodGet, "/api/channels/"+channelID, dave, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "not_a_member", decodeError(t, rec).Message)

	rec = env.do(t, http.MethodGet, "/api/channels/999", alice, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/channels/abc", alice, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decodeError(t, rec).Type)

	rec = env.do(t, http.MethodPost, "/api/channels/"+channelID+"/messages", bob, gin.H{"content": "hello"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	msg := decodeData[messagedomain.MessageView](t, rec)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, bob, msg.UserID)

	rec = env.do(t, http.MethodPost, "/api/channels/"+channelID+"/messages", bob, gin.H{"content": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPatch, "/api/messages/"+msg.ID.String(), alice, gin.H{"content": "hijack"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/messages/"+msg.ID.String()+"/reactions", alice, gin.H{"emoji": "👍"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, messagedomain.ReactionAdded, decodeData[messagedomain.ToggleReactionResult](t, rec).Outcome)

	rec = env.do(t, http.MethodGet, "/api/channels/"+channelID+"/messages?page_size=10", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decodeData[[]messagedomain.MessageView](t, rec)
	require.Len(t, listed, 1)
	assert.Equal(t, msg.ID, listed[0].ID)

	rec = env.do(t, http.MethodGet, "/api/channels/"+channelID+"/messages?page_token=garbage", alice, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/messages/"+msg.ID.String(), bob, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/messages/"+msg.ID.String()+"/pin", alice, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRemoveLastOwnerConflicts(t *testing.T) {
	env := newTestEnv(t)
	channelID := env.createGroup(t)

	rec := env.do(t, http.MethodDelete, "/api/channels/"+channelID+"/members/"+alice.String(), alice, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "last_owner", decodeError(t, rec).Type)
}

func TestCallEndpoints(t *testing.T) {
	env := newTestEnv(t)
	channelID := env.createGroup(t)

	rec := env.do(t, http.MethodGet, "/api/channels/"+channelID+"/calls/active", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":null}`, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/channels/"+channelID+"/calls", bob, gin.H{"call_type": "video"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	call := decodeData[calldomain.CallView](t, rec)

	rec = env.do(t, http.MethodPost, "/api/channels/"+channelID+"/calls", alice, gin.H{"call_type": "voice"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "call_already_active", decodeError(t, rec).Type)

	rec = env.do(t, http.MethodPost, "/api/calls/"+call.ID.String()+"/join", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeData[calldomain.CallView](t, rec).Participants, 2)

	rec = env.do(t, http.MethodPost, "/api/calls/"+call.ID.String()+"/end", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/calls/"+call.ID.String()+"/join", bob, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "call_ended", decodeError(t, rec).Type)
}

func TestInternalTokenRequired(t *testing.T) {
	env := newTestEnv(t)
	path := "/internal/calls/1/participants/" + bob.String() + "/gone"

	req := httptest.NewRequest(http.MethodPost, path, nil)
	rec := httptest.NewRecorder()
	env.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, path, nil)
	req.Header.Set(HeaderInternalToken, "wrong")
	rec = httptest.NewRecorder()
	env.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, path, nil)
	req.Header.Set(HeaderInternalToken, testInternalToken)
	rec = httptest.NewRecorder()
	env.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamChannelEventsStartsWithCallState(t *testing.T) {
	env := newTestEnv(t)
	channelID := env.createGroup(t)
	srv := httptest.NewServer(env.engine)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/channels/"+channelID+"/events?token="+env.token(t, bob), nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	var kind string
	for scanner.Scan() {
		if line := scanner.Text(); strings.HasPrefix(line, "event: ") {
			kind = strings.TrimPrefix(line, "event: ")
			break
		}
	}
	assert.Equal(t, string(realtime.KindCallState), kind)
}

func TestStreamChannelEventsRejectsOutsiders(t *testing.T) {
	env := newTestEnv(t)
	channelID := env.createGroup(t)

	req := httptest.NewRequest(http.MethodGet, "/api/channels/"+channelID+"/events?token="+env.token(t, dave), nil)
	req.Header.Set("Accept", "text/event-stream")
	rec := httptest.NewRecorder()
	env.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func readFrame(t *testing.T, conn *websocket.Conn) serverFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame serverFrame
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func TestWebSocketSubscribeAndReceive(t *testing.T) {
	env := newTestEnv(t)
	channelID := env.createGroup(t)
	srv := httptest.NewServer(env.engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + env.token(t, alice)
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(clientFrame{Type: "bogus", RequestID: "r0"}))
	frame := readFrame(t, conn)
	assert.Equal(t, frameError, frame.Type)
	assert.Equal(t, "r0", frame.RequestID)

	require.NoError(t, conn.WriteJSON(clientFrame{Type: frameSubscribe, RequestID: "r1", ChannelID: channelID}))
	snapshot := readFrame(t, conn)
	require.Equal(t, frameEvent, snapshot.Type)
	env1, err := realtime.Decode(snapshot.Event)
	require.NoError(t, err)
	assert.Equal(t, realtime.KindCallState, env1.Kind)

	ack := readFrame(t, conn)
	assert.Equal(t, frameAck, ack.Type)
	assert.Equal(t, "r1", ack.RequestID)

	rec := env.do(t, http.MethodPost, "/api/channels/"+channelID+"/messages", bob, gin.H{"content": "over the wire"})
	require.Equal(t, http.StatusCreated, rec.Code)

	event := readFrame(t, conn)
	require.Equal(t, frameEvent, event.Type)
	env2, err := realtime.Decode(event.Event)
	require.NoError(t, err)
	require.Equal(t, realtime.KindMessageCreated, env2.Kind)
	created, ok := env2.Payload.(realtime.MessageCreated)
	require.True(t, ok)
	assert.Equal(t, "over the wire", created.Message.Content)

	require.NoError(t, conn.WriteJSON(clientFrame{Type: framePing, RequestID: "r2"}))
	assert.Equal(t, frameAck, readFrame(t, conn).Type)
}

func TestWebSocketSubscribeRejectsOutsiders(t *testing.T) {
	env := newTestEnv(t)
	channelID := env.createGroup(t)
	srv := httptest.NewServer(env.engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + env.token(t, dave)
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(clientFrame{Type: frameSubscribe, RequestID: "r1", ChannelID: channelID}))
	frame := readFrame(t, conn)
	assert.Equal(t, frameError, frame.Type)
	require.NotNil(t, frame.Error)
	assert.Equal(t, "not_a_member", frame.Error.Message)
}
