package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/suPer8Hu/chat-relay/internal/ai"
	"github.com/suPer8Hu/chat-relay/internal/chat"
	"github.com/suPer8Hu/chat-relay/internal/credential"
	"github.com/suPer8Hu/chat-relay/internal/quota"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type CredentialSource interface {
	Resolve(ctx context.Context, userID, provider string) (credential.Resolution, error)
}

type QuotaCharger interface {
	CheckAndCharge(ctx context.Context, userID string, cost int) (quota.RequestLimit, error)
}

type Deps struct {
	Registry    *ai.Registry
	Chats       *chat.Service
	Store       Store
	Credentials CredentialSource
	Quota       QuotaCharger
	Streamer    ai.Streamer
	Log         *zap.SugaredLogger
}

type Options struct {
	CheckpointEvery int
	UpstreamTimeout time.Duration
	// SinkBuffer is how many chunks may queue for a slow client.
	SinkBuffer int
	// ClientWriteTimeout bounds each client write and each wait for queue
	// space. A client slower than that is dropped and the relay carries on.
	ClientWriteTimeout time.Duration
}

type Orchestrator struct {
	Deps
	opts Options
}

func New(d Deps, opts Options) *Orchestrator {
	if d.Log == nil {
		d.Log = zap.NewNop().Sugar()
	}
	if d.Store == nil && d.Chats != nil {
		d.Store = d.Chats.Repo()
	}
	if opts.CheckpointEvery <= 0 {
		opts.CheckpointEvery = 10
	}
	if opts.UpstreamTimeout <= 0 {
		opts.UpstreamTimeout = 5 * time.Minute
	}
	if opts.SinkBuffer <= 0 {
		opts.SinkBuffer = 256
	}
	if opts.ClientWriteTimeout <= 0 {
		opts.ClientWriteTimeout = 30 * time.Second
	}
	return &Orchestrator{Deps: d, opts: opts}
}

type Request struct {
	UserID       string
	ChatID       string
	Model        string
	Prompt       string
	MessageID    string
	SystemPrompt string
	Retry        bool
}

// Turn is a request that passed validation and authorization and owns a
// streaming message row.
type Turn struct {
	UserID     string
	ChatID     string
	MessageID  string
	Model      ai.ModelConfig
	Provider   ai.Provider
	Credential credential.Resolution
	Messages   []ai.Message
}

type Result struct {
	Status     chat.MessageStatus
	Transcript string
	Deltas     int
	// Written is the number of bytes the client accepted.
	Written int
	Err     error
}

func (r *Request) missing() []string {
	var out []string
	check := func(name, v string) {
		if strings.TrimSpace(v) == "" {
			out = append(out, name)
		}
	}
	check("model", r.Model)
	check("prompt", r.Prompt)
	check("chatId", r.ChatID)
	check("userId", r.UserID)
	if r.Retry {
		check("messageId", r.MessageID)
	}
	return out
}

// Prepare runs validation and authorization, charges quota and creates (or
// resets) the target message. Any *Error it returns happened before a row
// was touched.
func (o *Orchestrator) Prepare(ctx context.Context, req Request) (*Turn, error) {
	if missing := req.missing(); len(missing) > 0 {
		return nil, validationErr("Missing required fields", missingDetails(missing))
	}

	if _, err := o.Chats.ValidateChatOwner(ctx, req.UserID, req.ChatID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundErr("Chat not found", err)
		}
		return nil, internalErr("Failed to load chat", err)
	}

	if req.Retry {
		if _, err := o.Chats.Repo().GetMessage(ctx, req.ChatID, req.MessageID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, notFoundErr("Message not found", err)
			}
			return nil, internalErr("Failed to load message", err)
		}
	} else if req.MessageID != "" {
		exists, err := o.Chats.Repo().MessageExists(ctx, req.MessageID)
		if err != nil {
			return nil, internalErr("Failed to load message", err)
		}
		if exists {
			return nil, validationErr("Message id already in use", nil)
		}
	}

	model, provider, err := o.Registry.Resolve(req.Model)
	if err != nil {
		return nil, validationErr("Unsupported model", map[string]string{"model": req.Model})
	}

	cred, err := o.Credentials.Resolve(ctx, req.UserID, provider.Name)
	if err != nil {
		if errors.Is(err, credential.ErrUnavailable) {
			return nil, &Error{
				Kind:    KindCredentialUnavailable,
				Message: fmt.Sprintf("No API key available for %s. Add your own key or contact support.", provider.Name),
				Err:     err,
			}
		}
		return nil, internalErr("Failed to resolve credentials", err)
	}

	var msgs []ai.Message
	if req.Retry {
		msgs, err = o.Chats.AssembleRetryContext(ctx, req.ChatID, req.MessageID, req.SystemPrompt, req.Prompt)
	} else {
		msgs, err = o.Chats.AssembleContext(ctx, req.ChatID, req.SystemPrompt, req.Prompt)
	}
	if err != nil {
		return nil, internalErr("Failed to load conversation", err)
	}

	if _, err := o.Quota.CheckAndCharge(ctx, req.UserID, cred.Cost()); err != nil {
		if errors.Is(err, quota.ErrQuotaExceeded) {
			return nil, &Error{Kind: KindQuotaExceeded, Message: "Request limit reached. Add your own key or wait for your limit to reset.", Err: err}
		}
		return nil, internalErr("Failed to check request limit", err)
	}

	var msg *chat.Message
	if req.Retry {
		msg, err = o.Chats.RestartMessage(ctx, req.ChatID, req.MessageID, model.ID)
	} else {
		msg, err = o.Chats.StartTurn(ctx, req.ChatID, model.ID, req.Prompt, req.MessageID)
	}
	if err != nil {
		return nil, internalErr("Failed to create message", err)
	}

	return &Turn{
		UserID:     req.UserID,
		ChatID:     req.ChatID,
		MessageID:  msg.ID,
		Model:      model,
		Provider:   provider,
		Credential: cred,
		Messages:   msgs,
	}, nil
}

func missingDetails(missing []string) map[string][]string {
	return map[string][]string{"missing": missing}
}

// Run streams the turn to w and to the store until the upstream ends. It
// keeps going after w fails, and returns once the final checkpoint is
// written and w is no longer in use.
func (o *Orchestrator) Run(ctx context.Context, t *Turn, w io.Writer) Result {
	sink := newClientSink(w, o.opts.SinkBuffer, o.opts.ClientWriteTimeout)
	defer sink.Close()

	// the caller disconnecting must not cancel the upstream or the store writes
	persistCtx := context.WithoutCancel(ctx)
	upCtx, cancel := context.WithTimeout(persistCtx, o.opts.UpstreamTimeout)
	defer cancel()

	log := o.Log.With(
		"chat_id", t.ChatID,
		"message_id", t.MessageID,
		"provider", t.Provider.Name,
		"model", t.Model.ID,
		"credential", t.Credential.Source.String(),
	)

	provider := t.Provider
	if t.Credential.BaseURL != "" {
		provider.BaseURL = t.Credential.BaseURL
	}

	mux := NewMultiplexer()
	cp := NewCheckpointer(o.Store, log, o.opts.CheckpointEvery, t.ChatID, t.MessageID)
	start := time.Now()

	events := o.Streamer.Stream(upCtx, ai.StreamRequest{
		Provider: provider,
		Model:    t.Model.ID,
		APIKey:   t.Credential.Key,
		Messages: t.Messages,
		Options:  t.Model.Options,
	})

	var upstreamErr error
	for ev := range events {
		before := mux.Deltas()
		sink.Send(mux.Apply(ev))
		if mux.Deltas() > before {
			cp.Delta(persistCtx, mux.Transcript())
		}
		if ev.Kind == ai.EventTerminal && upstreamErr == nil {
			upstreamErr = ev.Err
		}
	}
	if !mux.State().Terminal() {
		upstreamErr = errors.New("upstream stream ended without a terminal event")
		sink.Send(mux.Apply(ai.Terminal(upstreamErr)))
	}

	failed := mux.State() == StateError
	cp.Finish(persistCtx, mux.Transcript(), failed)
	sink.Close()

	res := Result{
		Status:     chat.StatusComplete,
		Transcript: mux.Transcript(),
		Deltas:     mux.Deltas(),
		Written:    sink.Written(),
	}
	if err := sink.Err(); err != nil {
		log.Warnw("client went away, stream persisted without reader", "error", err, "written", res.Written)
	}
	if failed {
		res.Status = chat.StatusError
		res.Err = upstreamErr
		status := 0
		var upErr *ai.UpstreamError
		if errors.As(upstreamErr, &upErr) {
			status = upErr.StatusCode
		}
		log.Errorw("relay failed", "error", upstreamErr, "upstream_status", status,
			"deltas", res.Deltas, "cost", time.Since(start))
		return res
	}
	log.Infow("relay complete", "deltas", res.Deltas, "checkpoints", cp.PeriodicWrites(), "cost", time.Since(start))
	return res
}

// EncodeContext serializes a turn's upstream messages for a queued job.
func EncodeContext(msgs []ai.Message) (string, error) {
	b, err := json.Marshal(msgs)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Resume rebuilds a prepared turn from a queued job. Quota was charged when
// the job was accepted, so only the credential is resolved again.
func (o *Orchestrator) Resume(ctx context.Context, j *chat.Job) (*Turn, error) {
	model, provider, err := o.Registry.Resolve(j.Model)
	if err != nil {
		return nil, err
	}
	cred, err := o.Credentials.Resolve(ctx, j.UserID, provider.Name)
	if err != nil {
		return nil, err
	}
	var msgs []ai.Message
	if err := json.Unmarshal([]byte(j.Context), &msgs); err != nil {
		return nil, fmt.Errorf("decode job context: %w", err)
	}
	return &Turn{
		UserID:     j.UserID,
		ChatID:     j.ChatID,
		MessageID:  j.MessageID,
		Model:      model,
		Provider:   provider,
		Credential: cred,
		Messages:   msgs,
	}, nil
}

// Abandon marks a prepared turn as failed without streaming, for when a
// queued job cannot be resumed.
func (o *Orchestrator) Abandon(ctx context.Context, chatID, messageID string, cause error) {
	o.Log.Errorw("relay abandoned", "chat_id", chatID, "message_id", messageID, "error", cause)
	NewCheckpointer(o.Store, o.Log, o.opts.CheckpointEvery, chatID, messageID).
		Finish(context.WithoutCancel(ctx), "", true)
}
