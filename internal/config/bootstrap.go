package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	gateway "github.com/himmiroute/himmi/internal"
	"github.com/himmiroute/himmi/internal/storage"
)

// Bootstrap seeds the catalog and optional dev tenant on startup. All
// writes are idempotent upserts keyed by name or slug, so re-running
// against a populated database is a no-op apart from price updates.
func Bootstrap(ctx context.Context, cfg *Config, store storage.Store) error {
	cat := cfg.Catalog
	if len(cat.Providers) == 0 && len(cat.Models) == 0 && len(cat.Mappings) == 0 {
		cat = defaultCatalog()
	}

	providerIDs := make(map[string]int64, len(cat.Providers))
	for _, cp := range cat.Providers {
		p := &gateway.Provider{Name: cp.Name, BaseURL: cp.BaseURL}
		if err := store.UpsertProvider(ctx, p); err != nil {
			return fmt.Errorf("bootstrap provider %s: %w", cp.Name, err)
		}
		providerIDs[cp.Name] = p.ID
	}

	modelIDs := make(map[string]int64, len(cat.Models))
	for _, cm := range cat.Models {
		m := &gateway.Model{
			Slug:          cm.Slug,
			Name:          cm.Name,
			Company:       cm.Company,
			ContextLength: cm.ContextLength,
		}
		if err := store.UpsertModel(ctx, m); err != nil {
			return fmt.Errorf("bootstrap model %s: %w", cm.Slug, err)
		}
		modelIDs[cm.Slug] = m.ID
	}

	for _, mp := range cat.Mappings {
		modelID, ok := modelIDs[mp.Model]
		if !ok {
			return fmt.Errorf("bootstrap mapping: unknown model slug %q", mp.Model)
		}
		providerID, ok := providerIDs[mp.Provider]
		if !ok {
			return fmt.Errorf("bootstrap mapping: unknown provider %q", mp.Provider)
		}
		err := store.UpsertMapping(ctx, &gateway.Mapping{
			ModelID:    modelID,
			ProviderID: providerID,
			InputCost:  mp.InputCost,
			OutputCost: mp.OutputCost,
		})
		if err != nil {
			return fmt.Errorf("bootstrap mapping %s/%s: %w", mp.Model, mp.Provider, err)
		}
	}
	slog.Info("catalog bootstrapped",
		"providers", len(cat.Providers),
		"models", len(cat.Models),
		"mappings", len(cat.Mappings),
	)

	if cfg.Dev.Enabled {
		if err := seedDev(ctx, cfg.Dev, store); err != nil {
			return err
		}
	}
	return nil
}

// seedDev installs the dev tenant, user, and API key once.
func seedDev(ctx context.Context, dev DevConfig, store storage.Store) error {
	email := dev.Email
	if email == "" {
		email = "dev@localhost"
	}
	if dev.APIKey == "" {
		return errors.New("bootstrap: dev.api_key is required when dev seeding is enabled")
	}
	if !strings.HasPrefix(dev.APIKey, gateway.APIKeyPrefix) {
		return fmt.Errorf("bootstrap: dev.api_key must start with %q", gateway.APIKeyPrefix)
	}

	user, err := store.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		// Already seeded.
	case errors.Is(err, gateway.ErrNotFound):
		password := dev.Password
		if password == "" {
			password = "dev"
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("bootstrap dev user: %w", err)
		}
		credits := dev.Credits
		if credits <= 0 {
			credits = 10.0
		}
		user = &gateway.User{Email: email, PasswordHash: string(hash)}
		tenant := &gateway.Tenant{Name: "dev", Credits: credits}
		if err := store.CreateUserWithTenant(ctx, user, tenant); err != nil {
			return fmt.Errorf("bootstrap dev tenant: %w", err)
		}
		slog.Info("bootstrapped dev tenant", "email", email, "credits", credits)
	default:
		return fmt.Errorf("bootstrap dev user lookup: %w", err)
	}

	hash := gateway.HashKey(dev.APIKey)
	if _, err := store.GetKeyByHash(ctx, hash); err == nil {
		return nil
	} else if !errors.Is(err, gateway.ErrNotFound) {
		return fmt.Errorf("bootstrap dev key lookup: %w", err)
	}

	key := &gateway.APIKey{
		UserID:    user.ID,
		TenantID:  user.TenantID,
		Name:      "dev key",
		KeyHash:   hash,
		KeyPrefix: dev.APIKey[:gateway.KeyPrefixLen],
	}
	if err := store.CreateKey(ctx, key); err != nil {
		return fmt.Errorf("bootstrap dev key: %w", err)
	}
	slog.Info("bootstrapped dev api key", "prefix", key.KeyPrefix)
	return nil
}

// defaultCatalog mirrors the platform's launch price list, USD per
// million tokens.
func defaultCatalog() CatalogConfig {
	return CatalogConfig{
		Providers: []CatalogProvider{
			{Name: "OpenAI", BaseURL: "https://api.openai.com/v1"},
			{Name: "Anthropic", BaseURL: "https://api.anthropic.com"},
			{Name: "Google AI", BaseURL: "https://generativelanguage.googleapis.com/v1beta"},
			{Name: "Groq", BaseURL: "https://api.groq.com/openai/v1"},
			{Name: "DeepSeek", BaseURL: "https://api.deepseek.com/v1"},
			{Name: "xAI", BaseURL: "https://api.x.ai/v1"},
			{Name: "Perplexity", BaseURL: "https://api.perplexity.ai"},
			{Name: "Ollama", BaseURL: "http://localhost:11434"},
		},
		Models: []CatalogModel{
			{Slug: "gpt-5.2", Name: "GPT-5.2", Company: "OpenAI", ContextLength: 400_000},
			{Slug: "claude-4-6-opus", Name: "Claude Opus 4.6", Company: "Anthropic", ContextLength: 200_000},
			{Slug: "gemini-2.5-pro", Name: "Gemini 2.5 Pro", Company: "Google", ContextLength: 1_048_576},
			{Slug: "llama-3.3-70b-versatile", Name: "Llama 3.3 70B", Company: "Meta", ContextLength: 131_072},
			{Slug: "deepseek-v4", Name: "DeepSeek V4", Company: "DeepSeek", ContextLength: 131_072},
			{Slug: "grok-4", Name: "Grok 4", Company: "xAI", ContextLength: 262_144},
			{Slug: "sonar", Name: "Sonar", Company: "Perplexity", ContextLength: 127_000},
		},
		Mappings: []CatalogMapping{
			{Model: "gpt-5.2", Provider: "OpenAI", InputCost: 1.75, OutputCost: 14.00},
			{Model: "claude-4-6-opus", Provider: "Anthropic", InputCost: 5.00, OutputCost: 25.00},
			{Model: "gemini-2.5-pro", Provider: "Google AI", InputCost: 1.25, OutputCost: 10.00},
			{Model: "llama-3.3-70b-versatile", Provider: "Groq", InputCost: 0.59, OutputCost: 0.79},
			{Model: "llama-3.3-70b-versatile", Provider: "Ollama", InputCost: 0, OutputCost: 0},
			{Model: "deepseek-v4", Provider: "DeepSeek", InputCost: 0.27, OutputCost: 1.10},
			{Model: "grok-4", Provider: "xAI", InputCost: 3.00, OutputCost: 15.00},
			{Model: "sonar", Provider: "Perplexity", InputCost: 1.00, OutputCost: 1.00},
		},
	}
}
