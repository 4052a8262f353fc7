package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/cloudwego/hertz/pkg/common/config"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/cloudwego/hertz/pkg/route"
	"github.com/mbeoliero/widechat/internal/handler"
	"github.com/mbeoliero/widechat/internal/middleware"
	"github.com/mbeoliero/widechat/internal/repository/repotest"
	"github.com/mbeoliero/widechat/internal/service"
	"github.com/mbeoliero/widechat/pkg/errcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func newEngine(t *testing.T) *route.Engine {
	t.Helper()
	f := repotest.New(t)
	engine := route.NewEngine(config.NewOptions(nil))
	SetupRouter(engine, &Handlers{
		Message:      handler.NewMessageHandler(service.NewMessageService(f.Repos)),
		Conversation: handler.NewConversationHandler(service.NewConversationService(f.Repos)),
	}, []string{"*"})
	return engine
}

func decode(t *testing.T, body []byte) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(body, &env))
	return env
}

func send(t *testing.T, engine *route.Engine, body string, headers ...ut.Header) (int, envelope) {
	t.Helper()
	headers = append(headers, ut.Header{Key: "Content-Type", Value: "application/json"})
	w := ut.PerformRequest(engine, http.MethodPost, "/msg/send",
		&ut.Body{Body: bytes.NewBufferString(body), Len: len(body)}, headers...)
	return w.Code, decode(t, w.Body.Bytes())
}

func get(t *testing.T, engine *route.Engine, url string) (int, envelope) {
	t.Helper()
	w := ut.PerformRequest(engine, http.MethodGet, url, nil)
	return w.Code, decode(t, w.Body.Bytes())
}

func TestRouter_Health(t *testing.T) {
	engine := newEngine(t)
	w := ut.PerformRequest(engine, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIdHeader))
}

func TestRouter_SendAndList(t *testing.T) {
	engine := newEngine(t)

	status, env := send(t, engine, `{"sender_id": 1, "receiver_id": 2, "content": "hello"}`)
	require.Equal(t, http.StatusOK, status)
	require.Zero(t, env.Code)

	var msg struct {
		Id             string `json:"id"`
		ConversationId int64  `json:"conversation_id"`
		Content        string `json:"content"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &msg))
	assert.NotEmpty(t, msg.Id)
	assert.Equal(t, "hello", msg.Content)

	status, env = get(t, engine, fmt.Sprintf("/msg/list?conversation_id=%d&limit=10", msg.ConversationId))
	require.Equal(t, http.StatusOK, status)
	var page struct {
		Total    int64 `json:"total"`
		PageSize int   `json:"page_size"`
		Items    []struct {
			Id string `json:"id"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Equal(t, int64(1), page.Total)
	assert.Equal(t, 10, page.PageSize)
	require.Len(t, page.Items, 1)
	assert.Equal(t, msg.Id, page.Items[0].Id)

	status, _ = get(t, engine, fmt.Sprintf("/msg/before?conversation_id=%d&before_timestamp=2030-01-01T00:00:00Z", msg.ConversationId))
	assert.Equal(t, http.StatusOK, status)

	status, env = get(t, engine, "/conversation/list?user_id=2")
	require.Equal(t, http.StatusOK, status)
	var convs struct {
		Items []struct {
			ConversationId int64 `json:"conversation_id"`
			OtherUserId    int64 `json:"other_user_id"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &convs))
	require.Len(t, convs.Items, 1)
	assert.Equal(t, msg.ConversationId, convs.Items[0].ConversationId)
	assert.Equal(t, int64(1), convs.Items[0].OtherUserId)

	status, _ = get(t, engine, "/msg/user?user_id=1")
	assert.Equal(t, http.StatusOK, status)
}

func TestRouter_IdempotencyKeyHeader(t *testing.T) {
	engine := newEngine(t)
	body := `{"sender_id": 1, "receiver_id": 2, "content": "hello"}`
	key := ut.Header{Key: handler.IdempotencyKeyHeader, Value: "retry-1"}

	_, first := send(t, engine, body, key)
	_, second := send(t, engine, body, key)
	require.Zero(t, first.Code)
	assert.JSONEq(t, string(first.Data), string(second.Data))
}

func TestRouter_Errors(t *testing.T) {
	engine := newEngine(t)

	status, env := send(t, engine, `{"sender_id": 1, "receiver_id": 1, "content": "hello"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, errcode.ErrInvalidParam.Code, env.Code)

	status, env = send(t, engine, `not json`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, errcode.ErrInvalidParam.Code, env.Code)

	status, env = get(t, engine, "/msg/list?conversation_id=999")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, errcode.ErrConvNotFound.Code, env.Code)

	status, env = get(t, engine, "/conversation/info?conversation_id=999")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, errcode.ErrConvNotFound.Code, env.Code)

	status, _ = get(t, engine, "/msg/list?conversation_id=abc")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = get(t, engine, "/msg/before?conversation_id=1&before_timestamp=yesterday")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = get(t, engine, "/conversation/list")
	assert.Equal(t, http.StatusBadRequest, status)
}
