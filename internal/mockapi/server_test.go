package mockapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/eventdesk/internal/source/api"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupTestServer(t *testing.T) *Server {
	t.Helper()
	s := New(Options{Logger: zerolog.Nop()})
	t.Cleanup(s.Close)
	return s
}

func doJSON(t *testing.T, s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
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

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func login(t *testing.T, s *Server, email, password string) string {
	t.Helper()
	w := doJSON(t, s, http.MethodPost, "/api/login", "", api.LoginRequest{Email: email, Password: password})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp api.LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.AccessToken
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	s := setupTestServer(t)
	w := doJSON(t, s, http.MethodPost, "/api/login", "", api.LoginRequest{Email: "demo@eventdesk.local", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Incorrect email or password")
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := setupTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/api/notifications", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/notifications", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestExpiredTokenIsRejected(t *testing.T) {
	s := setupTestServer(t)
	token := login(t, s, "demo@eventdesk.local", "demo")

	s.tokens.now = func() time.Time { return time.Now().Add(time.Hour) }
	w := doJSON(t, s, http.MethodGet, "/api/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Token has expired")
}

func TestLogoutRevokesToken(t *testing.T) {
	s := setupTestServer(t)
	token := login(t, s, "demo@eventdesk.local", "demo")

	assert.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, "/api/logout", token, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, doJSON(t, s, http.MethodGet, "/api/me", token, nil).Code)
}

func TestCreateRequiresAdmin(t *testing.T) {
	s := setupTestServer(t)
	token := login(t, s, "demo@eventdesk.local", "demo")

	w := doJSON(t, s, http.MethodPost, "/api/notifications", token, api.CreateNotificationRequest{Title: "x"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestNotificationLifecycle(t *testing.T) {
	s := setupTestServer(t)
	admin := login(t, s, "admin@eventdesk.local", "admin")
	user := login(t, s, "demo@eventdesk.local", "demo")

	for _, title := range []string{"first", "second"} {
		w := doJSON(t, s, http.MethodPost, "/api/notifications", admin, api.CreateNotificationRequest{
			Title: title, Message: "m", Type: "event", Priority: "urgent", UserID: "u-demo",
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	var list api.Envelope[api.NotificationPage]
	w := doJSON(t, s, http.MethodGet, "/api/notifications?limit=10", user, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Data.Notifications, 2)
	assert.Equal(t, 2, list.Data.UnreadCount)
	assert.Equal(t, "event", list.Data.Notifications[0].Type)

	id := list.Data.Notifications[0].ID
	read := true
	w = doJSON(t, s, http.MethodPut, "/api/notifications/"+id, user, api.UpdateNotificationRequest{Read: &read})
	require.Equal(t, http.StatusOK, w.Code)

	var count api.Envelope[api.UnreadCountResponse]
	w = doJSON(t, s, http.MethodGet, "/api/notifications/unread-count", user, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &count))
	assert.Equal(t, 1, count.Data.UnreadCount)

	w = doJSON(t, s, http.MethodDelete, "/api/notifications/"+id, user, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, s, http.MethodDelete, "/api/notifications/"+id, user, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, "/api/notifications/clear-all", user, nil).Code)
	w = doJSON(t, s, http.MethodGet, "/api/notifications", user, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Empty(t, list.Data.Notifications)
}

func TestListValidatesLimit(t *testing.T) {
	s := setupTestServer(t)
	user := login(t, s, "demo@eventdesk.local", "demo")

	w := doJSON(t, s, http.MethodGet, "/api/notifications?limit=500", user, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestFailNext(t *testing.T) {
	s := setupTestServer(t)
	user := login(t, s, "demo@eventdesk.local", "demo")

	s.FailNext(http.StatusServiceUnavailable, 2)
	assert.Equal(t, http.StatusServiceUnavailable, doJSON(t, s, http.MethodGet, "/api/me", user, nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, doJSON(t, s, http.MethodGet, "/api/me", user, nil).Code)
	assert.Equal(t, http.StatusOK, doJSON(t, s, http.MethodGet, "/api/me", user, nil).Code)
	assert.Equal(t, 3, s.Requests())
}

func TestPublishPushesToSubscribedDevice(t *testing.T) {
	s := setupTestServer(t)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	user := login(t, s, "demo@eventdesk.local", "demo")
	endpoint := "ws" + strings.TrimPrefix(srv.URL, "http") + "/push/dev-1"

	w := doJSON(t, s, http.MethodPost, "/api/notifications/subscribe", user, api.SubscribeRequest{
		Endpoint: endpoint,
		Keys:     map[string]string{"p256dh": "k", "auth": "a"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{endpoint}, s.Subscriptions("u-demo"))

	conn, _, err := websocket.DefaultDialer.Dial(endpoint, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.Hub().Connected("dev-1") == 1 }, 2*time.Second, 10*time.Millisecond)

	_, err = s.PublishTo("demo@eventdesk.local", api.CreateNotificationRequest{Title: "Doors open", Message: "Hall B"})
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame struct {
		Type string              `json:"type"`
		Data api.NotificationDTO `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "notification", frame.Type)
	assert.Equal(t, "Doors open", frame.Data.Title)

	w = doJSON(t, s, http.MethodPost, "/api/notifications/unsubscribe", user, api.UnsubscribeRequest{Endpoint: endpoint})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, s.Subscriptions("u-demo"))
}
