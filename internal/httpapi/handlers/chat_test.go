package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gormsqlite "github.com/glebarez/sqlite"
	"github.com/suPer8Hu/chat-relay/internal/ai"
	"github.com/suPer8Hu/chat-relay/internal/chat"
	"github.com/suPer8Hu/chat-relay/internal/credential"
	"github.com/suPer8Hu/chat-relay/internal/db"
	"github.com/suPer8Hu/chat-relay/internal/httpapi"
	"github.com/suPer8Hu/chat-relay/internal/httpapi/handlers"
	"github.com/suPer8Hu/chat-relay/internal/httpapi/middleware"
	"github.com/suPer8Hu/chat-relay/internal/quota"
	"github.com/suPer8Hu/chat-relay/internal/relay"
	"gorm.io/gorm"
)

type fakeStreamer struct {
	events []ai.Event
}

func (s *fakeStreamer) Stream(ctx context.Context, req ai.StreamRequest) <-chan ai.Event {
	out := make(chan ai.Event, len(s.events))
	for _, ev := range s.events {
		out <- ev
	}
	close(out)
	return out
}

type fakePublisher struct {
	published []string
	err       error
}

func (p *fakePublisher) PublishJob(ctx context.Context, jobID string) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, jobID)
	return nil
}

type env struct {
	db       *gorm.DB
	repo     *chat.Repo
	streamer *fakeStreamer
	jobs     *fakePublisher
	router   *gin.Engine
}

func newEnv(t *testing.T, secret string) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	gdb, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := gdb.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	repo := chat.NewRepo(gdb)
	if err := repo.CreateChat(context.Background(), &chat.Chat{ID: "c1", CreatedBy: "u1", Model: "gpt-4o"}); err != nil {
		t.Fatalf("seed chat: %v", err)
	}

	reg, err := ai.NewRegistry(
		[]ai.Provider{{Name: "openai", Transport: ai.TransportSDK, BaseURL: "http://openai.test"}},
		[]ai.ModelConfig{{ID: "gpt-4o", Name: "GPT-4o", Provider: "openai", HasVision: true}},
	)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	streamer := &fakeStreamer{events: []ai.Event{ai.ContentDelta("Hi"), ai.ContentDelta(" there"), ai.Terminal(nil)}}
	orch := relay.New(relay.Deps{
		Registry:    reg,
		Chats:       chat.NewService(repo, ""),
		Credentials: credential.NewResolver(gdb, map[string]string{"openai": "sk-shared"}, nil),
		Quota:       quota.NewLedger(gdb, nil, 2, 0),
		Streamer:    streamer,
	}, relay.Options{})

	jobs := &fakePublisher{}
	h := handlers.NewHandler(orch, jobs, nil)
	return &env{db: gdb, repo: repo, streamer: streamer, jobs: jobs, router: httpapi.NewRouter(h, secret)}
}

func (e *env) do(method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestChat_StreamsPlainText(t *testing.T) {
	e := newEnv(t, "")
	w := e.do(http.MethodPost, "/chat", gin.H{"model": "gpt-4o", "prompt": "Hello", "chatId": "c1", "userId": "u1"}, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if w.Body.String() != "Hi there" {
		t.Fatalf("unexpected body %q", w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if w.Header().Get("Cache-Control") != "no-cache" {
		t.Fatalf("caching must be disabled")
	}

	msgID := w.Header().Get("X-Message-ID")
	m, err := e.repo.GetMessage(context.Background(), "c1", msgID)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if m.Content != "Hi there" || m.Status != chat.StatusComplete {
		t.Fatalf("unexpected persisted message %+v", m)
	}
}

func TestChat_ErrorResponses(t *testing.T) {
	cases := []struct {
		name   string
		body   gin.H
		status int
		errMsg string
	}{
		{"missing fields", gin.H{"chatId": "c1", "userId": "u1"}, http.StatusBadRequest, "Missing required fields"},
		{"foreign chat", gin.H{"model": "gpt-4o", "prompt": "x", "chatId": "c1", "userId": "u2"}, http.StatusNotFound, "Chat not found"},
		{"unknown model", gin.H{"model": "nope", "prompt": "x", "chatId": "c1", "userId": "u1"}, http.StatusBadRequest, "Unsupported model"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t, "")
			w := e.do(http.MethodPost, "/chat", tc.body, nil)
			if w.Code != tc.status {
				t.Fatalf("status=%d want %d body=%s", w.Code, tc.status, w.Body.String())
			}
			if got := decode(t, w)["error"]; got != tc.errMsg {
				t.Fatalf("error=%v want %q", got, tc.errMsg)
			}
		})
	}

	t.Run("missing fields lists names", func(t *testing.T) {
		e := newEnv(t, "")
		w := e.do(http.MethodPost, "/chat", gin.H{"chatId": "c1", "userId": "u1"}, nil)
		details, _ := decode(t, w)["details"].(map[string]any)
		missing, _ := details["missing"].([]any)
		if len(missing) != 2 {
			t.Fatalf("expected model and prompt to be reported, got %v", details)
		}
	})
}

func TestChat_QuotaExceeded(t *testing.T) {
	e := newEnv(t, "")
	body := gin.H{"model": "gpt-4o", "prompt": "Hello", "chatId": "c1", "userId": "u1"}
	for i := 0; i < 2; i++ {
		if w := e.do(http.MethodPost, "/chat", body, nil); w.Code != http.StatusOK {
			t.Fatalf("request %d: status=%d", i, w.Code)
		}
	}
	w := e.do(http.MethodPost, "/chat", body, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestRetry_RegeneratesInPlace(t *testing.T) {
	e := newEnv(t, "")
	first := e.do(http.MethodPost, "/chat", gin.H{"model": "gpt-4o", "prompt": "Hello", "chatId": "c1", "userId": "u1"}, nil)
	msgID := first.Header().Get("X-Message-ID")

	e.streamer.events = []ai.Event{ai.ContentDelta("Again"), ai.Terminal(nil)}
	w := e.do(http.MethodPost, "/chat/retry", gin.H{"model": "gpt-4o", "prompt": "Hello", "chatId": "c1", "userId": "u1", "messageId": msgID}, nil)
	if w.Code != http.StatusOK || w.Body.String() != "Again" {
		t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
	}
	m, _ := e.repo.GetMessage(context.Background(), "c1", msgID)
	if m.Content != "Again" || m.PreviousContent == nil || *m.PreviousContent != "Hi there" {
		t.Fatalf("unexpected retried message %+v", m)
	}

	w = e.do(http.MethodPost, "/chat/retry", gin.H{"model": "gpt-4o", "prompt": "Hello", "chatId": "c1", "userId": "u1", "messageId": "missing"}, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestChat_JWT(t *testing.T) {
	e := newEnv(t, "s3cret")
	body := gin.H{"model": "gpt-4o", "prompt": "Hello", "chatId": "c1"}

	if w := e.do(http.MethodPost, "/chat", body, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	tok, err := middleware.SignToken("s3cret", "u1", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	auth := http.Header{"Authorization": {"Bearer " + tok}}
	if w := e.do(http.MethodPost, "/chat", body, auth); w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}

	body["userId"] = "u2"
	if w := e.do(http.MethodPost, "/chat", body, auth); w.Code != http.StatusNotFound {
		t.Fatalf("conflicting userId must be rejected, got %d", w.Code)
	}
}

func TestChatAsync_QueuesJob(t *testing.T) {
	e := newEnv(t, "")
	w := e.do(http.MethodPost, "/chat/async", gin.H{"model": "gpt-4o", "prompt": "Hello", "chatId": "c1", "userId": "u1"}, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	out := decode(t, w)
	jobID, _ := out["job_id"].(string)
	msgID, _ := out["message_id"].(string)
	if len(jobID) != 26 || len(e.jobs.published) != 1 || e.jobs.published[0] != jobID {
		t.Fatalf("unexpected job %q published=%v", jobID, e.jobs.published)
	}

	m, err := e.repo.GetMessage(context.Background(), "c1", msgID)
	if err != nil || m.Status != chat.StatusStreaming {
		t.Fatalf("expected a streaming placeholder, got %+v %v", m, err)
	}

	w = e.do(http.MethodGet, "/chat/jobs/"+jobID+"?userId=u1", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	job, _ := decode(t, w)["job"].(map[string]any)
	if job["status"] != string(chat.JobQueued) || job["message_status"] != string(chat.StatusStreaming) {
		t.Fatalf("unexpected job view %v", job)
	}

	if w := e.do(http.MethodGet, "/chat/jobs/"+jobID+"?userId=u2", nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("other users must not see the job, got %d", w.Code)
	}
}

func TestChatAsync_PublishFailureFailsMessage(t *testing.T) {
	e := newEnv(t, "")
	e.jobs.err = errors.New("broker down")
	w := e.do(http.MethodPost, "/chat/async", gin.H{"model": "gpt-4o", "prompt": "Hello", "chatId": "c1", "userId": "u1"}, nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}

	var msgs []chat.Message
	if err := e.db.Where("role = ?", chat.RoleAssistant).Find(&msgs).Error; err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Status != chat.StatusError || msgs[0].Content != relay.FailureMessage {
		t.Fatalf("placeholder must be failed, got %+v", msgs)
	}
}

func TestListModels(t *testing.T) {
	e := newEnv(t, "")
	w := e.do(http.MethodGet, "/models", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	models, _ := decode(t, w)["models"].([]any)
	if len(models) != 1 {
		t.Fatalf("unexpected models %v", models)
	}
	m := models[0].(map[string]any)
	if m["id"] != "gpt-4o" || m["has_vision"] != true {
		t.Fatalf("unexpected model entry %v", m)
	}
}

func TestNoRoute(t *testing.T) {
	e := newEnv(t, "")
	w := e.do(http.MethodGet, "/nope", nil, nil)
	if w.Code != http.StatusNotFound || decode(t, w)["error"] != "route not found" {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}
