package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/suPer8Hu/chat-relay/internal/ai"
	"gorm.io/gorm"
)

var ErrMessageExists = errors.New("message id already in use")

type Service struct {
	repo         *Repo
	systemPrompt string
}

func NewService(repo *Repo, systemPrompt string) *Service {
	return &Service{repo: repo, systemPrompt: strings.TrimSpace(systemPrompt)}
}

func (s *Service) Repo() *Repo { return s.repo }

// ValidateChatOwner reports gorm.ErrRecordNotFound for chats that are missing
// or owned by someone else, so callers cannot probe for existence.
func (s *Service) ValidateChatOwner(ctx context.Context, userID, chatID string) (*Chat, error) {
	c, err := s.repo.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if c.CreatedBy != userID {
		return nil, gorm.ErrRecordNotFound
	}
	return c, nil
}

// AssembleContext builds [system?] + history + prompt for a new turn.
// override replaces the configured system prompt when non-empty.
func (s *Service) AssembleContext(ctx context.Context, chatID, override, prompt string) ([]ai.Message, error) {
	history, err := s.repo.ListMessages(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return s.compose(override, history, prompt), nil
}

// AssembleRetryContext is AssembleContext limited to messages strictly older
// than messageID, so a retry regenerates from the same point.
func (s *Service) AssembleRetryContext(ctx context.Context, chatID, messageID, override, prompt string) ([]ai.Message, error) {
	history, err := s.repo.ListMessagesBefore(ctx, chatID, messageID)
	if err != nil {
		return nil, err
	}
	return s.compose(override, history, prompt), nil
}

func (s *Service) compose(override string, history []Message, prompt string) []ai.Message {
	system := strings.TrimSpace(override)
	if system == "" {
		system = s.systemPrompt
	}

	out := make([]ai.Message, 0, len(history)+2)
	if system != "" {
		out = append(out, ai.Message{Role: RoleSystem, Content: system})
	}
	for _, m := range history {
		// failed turns and empty placeholders are not conversation
		if m.Role == RoleError || m.Content == "" {
			continue
		}
		out = append(out, ai.Message{Role: m.Role, Content: m.Content})
	}
	out = append(out, ai.Message{Role: RoleUser, Content: prompt})
	return out
}

// StartTurn persists the user prompt and an empty streaming assistant row.
// messageID is used for the assistant row when given.
func (s *Service) StartTurn(ctx context.Context, chatID, model, prompt, messageID string) (*Message, error) {
	if messageID == "" {
		messageID = uuid.NewString()
	} else {
		exists, err := s.repo.MessageExists(ctx, messageID)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, ErrMessageExists
		}
	}

	userMsg := &Message{
		ID:      uuid.NewString(),
		ChatID:  chatID,
		Role:    RoleUser,
		Content: prompt,
		Status:  StatusComplete,
		Model:   model,
	}
	placeholder := &Message{
		ID:     messageID,
		ChatID: chatID,
		Role:   RoleAssistant,
		Status: StatusStreaming,
		Model:  model,
	}
	if err := s.repo.CreateTurn(ctx, userMsg, placeholder); err != nil {
		return nil, err
	}
	return placeholder, nil
}

// RestartMessage resets an existing message of the chat for a retry.
func (s *Service) RestartMessage(ctx context.Context, chatID, messageID, model string) (*Message, error) {
	if _, err := s.repo.GetMessage(ctx, chatID, messageID); err != nil {
		return nil, err
	}
	if err := s.repo.ResetForRetry(ctx, chatID, messageID, model); err != nil {
		return nil, err
	}
	return s.repo.GetMessage(ctx, chatID, messageID)
}

func (s *Service) CreateJob(ctx context.Context, job *Job) error {
	return s.repo.CreateJob(ctx, job)
}

func (s *Service) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return s.repo.GetJobByID(ctx, jobID)
}
