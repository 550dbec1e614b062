package credential

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
)

// ErrUnavailable means neither the user nor the operator has a key for the provider.
var ErrUnavailable = errors.New("no API key available for this provider")

type Source int

const (
	SourceUser Source = iota + 1
	SourceShared
	// SourceLocal is a self-hosted provider the operator runs at no per-call cost.
	SourceLocal
)

func (s Source) String() string {
	switch s {
	case SourceUser:
		return "user"
	case SourceShared:
		return "shared"
	case SourceLocal:
		return "local"
	}
	return "unknown"
}

type Resolution struct {
	Source Source
	Key    string
	// BaseURL overrides the provider endpoint for custom user keys.
	BaseURL string
}

// Cost is the quota charge for a relay call made with this credential.
func (r Resolution) Cost() int {
	if r.Source == SourceShared {
		return 1
	}
	return 0
}

type Resolver struct {
	db     *gorm.DB
	shared map[string]string
	local  map[string]string
	sealer *Sealer
}

func NewResolver(db *gorm.DB, shared map[string]string, sealer *Sealer) *Resolver {
	return &Resolver{db: db, shared: keyMap(shared), local: map[string]string{}, sealer: sealer}
}

// WithLocal registers self-hosted providers. They resolve after the user's
// own key and before the shared keys, and are never charged.
func (r *Resolver) WithLocal(keys map[string]string) *Resolver {
	r.local = keyMap(keys)
	return r
}

func keyMap(in map[string]string) map[string]string {
	m := make(map[string]string, len(in))
	for k, v := range in {
		if strings.TrimSpace(v) != "" {
			m[strings.ToLower(strings.TrimSpace(k))] = v
		}
	}
	return m
}

// Resolve prefers the user's enabled key and falls back to the shared key.
// It returns ErrUnavailable when neither exists. Resolve never writes.
func (r *Resolver) Resolve(ctx context.Context, userID, provider string) (Resolution, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))

	var rec APIKey
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND provider = ? AND enabled = ?", userID, provider, true).
		Order("updated_at DESC").
		First(&rec).Error
	switch {
	case err == nil:
		key, err := r.sealer.Open(rec.Key)
		if err != nil {
			return Resolution{}, err
		}
		if strings.TrimSpace(key) != "" {
			res := Resolution{Source: SourceUser, Key: key}
			if rec.IsCustom {
				res.BaseURL = rec.CustomBaseURL
			}
			return res, nil
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return Resolution{}, err
	}

	if key, ok := r.local[provider]; ok {
		return Resolution{Source: SourceLocal, Key: key}, nil
	}
	if key, ok := r.shared[provider]; ok {
		return Resolution{Source: SourceShared, Key: key}, nil
	}
	return Resolution{}, ErrUnavailable
}
