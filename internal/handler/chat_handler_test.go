package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"doc-smart-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubChatService 只回写一条固定消息，不做检索与生成。
type stubChatService struct{}

func (s *stubChatService) StreamResponse(ctx context.Context, query, threadID string, ws *websocket.Conn, shouldStop func() bool) error {
	return ws.WriteMessage(websocket.TextMessage, []byte("ok"))
}

func newChatTestServer(t *testing.T) (*ChatHandler, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	jwtManager := token.NewJWTManager("test-secret", 1)
	h := NewChatHandler(&stubChatService{}, jwtManager)

	r := gin.New()
	r.GET("/api/v1/chat/websocket-token", h.GetWebsocketToken)
	r.GET("/chat/:token", h.Handle)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return h, srv
}

func fetchChatTokens(t *testing.T, srv *httptest.Server) (wsToken, cmdToken string) {
	t.Helper()
	resp, err := http.Get(srv.URL + "/api/v1/chat/websocket-token")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Data struct {
			WsToken  string `json:"wsToken"`
			ThreadID string `json:"threadId"`
			CmdToken string `json:"cmdToken"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body.Data.WsToken)
	require.NotEmpty(t, body.Data.ThreadID)
	require.NotEmpty(t, body.Data.CmdToken)
	return body.Data.WsToken, body.Data.CmdToken
}

func stopFlagCount(h *ChatHandler) int {
	count := 0
	h.stopFlags.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}

func TestHandle_RejectsInvalidToken(t *testing.T) {
	_, srv := newChatTestServer(t)

	resp, err := http.Get(srv.URL + "/chat/not-a-token")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandle_StopFlagClearedOnDisconnect(t *testing.T) {
	h, srv := newChatTestServer(t)
	wsToken, cmdToken := fetchChatTokens(t, srv)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/" + wsToken
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		defer resp.Body.Close()
	}

	// 发送停止指令，连接侧标志被置位
	stopCmd, err := json.Marshal(map[string]string{
		"type":                "stop",
		"_internal_cmd_token": cmdToken,
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, stopCmd))

	// 等停止确认回包，确认服务端已处理指令
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, ack, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(ack), "stop")
	assert.Equal(t, 1, stopFlagCount(h))

	// 断开连接后标志必须被清理，不随会话数累积
	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool {
		return stopFlagCount(h) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
