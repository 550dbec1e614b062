package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&APIKey{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestResolve_UserKeyWins(t *testing.T) {
	db := openTestDB(t)
	if err := db.Create(&APIKey{UserID: "u1", Provider: "openai", Key: "sk-user", Enabled: true}).Error; err != nil {
		t.Fatalf("seed key: %v", err)
	}

	r := NewResolver(db, map[string]string{"openai": "sk-shared"}, nil)
	res, err := r.Resolve(context.Background(), "u1", "OpenAI")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Source != SourceUser || res.Key != "sk-user" {
		t.Fatalf("expected user key, got %+v", res)
	}
	if res.Cost() != 0 {
		t.Fatalf("user key must be free, got cost %d", res.Cost())
	}
}

func TestResolve_DisabledKeyFallsBackToShared(t *testing.T) {
	db := openTestDB(t)
	if err := db.Create(&APIKey{UserID: "u1", Provider: "openai", Key: "sk-user", Enabled: false}).Error; err != nil {
		t.Fatalf("seed key: %v", err)
	}
	// other users' keys are never consulted
	if err := db.Create(&APIKey{UserID: "u2", Provider: "openai", Key: "sk-other", Enabled: true}).Error; err != nil {
		t.Fatalf("seed key: %v", err)
	}

	r := NewResolver(db, map[string]string{"openai": "sk-shared"}, nil)
	res, err := r.Resolve(context.Background(), "u1", "openai")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Source != SourceShared || res.Key != "sk-shared" || res.Cost() != 1 {
		t.Fatalf("expected metered shared key, got %+v", res)
	}
}

func TestResolve_Unavailable(t *testing.T) {
	db := openTestDB(t)
	r := NewResolver(db, map[string]string{"openai": "", "anthropic": "  "}, nil)

	for _, p := range []string{"openai", "anthropic", "google"} {
		if _, err := r.Resolve(context.Background(), "u1", p); !errors.Is(err, ErrUnavailable) {
			t.Fatalf("%s: expected ErrUnavailable, got %v", p, err)
		}
	}
}

func TestResolve_LocalProviderIsFree(t *testing.T) {
	db := openTestDB(t)
	r := NewResolver(db, map[string]string{"openai": "sk-shared"}, nil).
		WithLocal(map[string]string{"ollama": "ollama"})

	res, err := r.Resolve(context.Background(), "u1", "ollama")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Source != SourceLocal || res.Cost() != 0 {
		t.Fatalf("expected a free local credential, got %+v cost=%d", res, res.Cost())
	}

	res, err = r.Resolve(context.Background(), "u1", "openai")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Source != SourceShared || res.Cost() != 1 {
		t.Fatalf("shared key must still be charged, got %+v", res)
	}
}

func TestResolve_SealedKeyAndCustomBaseURL(t *testing.T) {
	db := openTestDB(t)
	sealer, err := NewSealer("operator-secret")
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}
	sealed, err := sealer.Seal("sk-or-user")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if !IsSealed(sealed) || sealed == "sk-or-user" {
		t.Fatalf("expected sealed form, got %q", sealed)
	}
	if err := db.Create(&APIKey{
		UserID: "u1", Provider: "openrouter", Key: sealed, Enabled: true,
		IsCustom: true, CustomBaseURL: "https://proxy.internal/v1",
	}).Error; err != nil {
		t.Fatalf("seed key: %v", err)
	}

	res, err := NewResolver(db, nil, sealer).Resolve(context.Background(), "u1", "openrouter")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Key != "sk-or-user" || res.BaseURL != "https://proxy.internal/v1" {
		t.Fatalf("unexpected resolution %+v", res)
	}

	if _, err := NewResolver(db, nil, nil).Resolve(context.Background(), "u1", "openrouter"); !errors.Is(err, ErrNoSealKey) {
		t.Fatalf("expected ErrNoSealKey without a sealer, got %v", err)
	}
}

func TestSealer_RejectsTampering(t *testing.T) {
	a, _ := NewSealer("secret-a")
	b, _ := NewSealer("secret-b")
	sealed, err := a.Seal("sk-1")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := b.Open(sealed); err == nil {
		t.Fatalf("expected open with a different key to fail")
	}
	if plain, err := a.Open("sk-plain"); err != nil || plain != "sk-plain" {
		t.Fatalf("plain keys pass through, got %q %v", plain, err)
	}
	if s, err := NewSealer(""); err != nil || s != nil {
		t.Fatalf("empty secret yields nil sealer, got %v %v", s, err)
	}
}
