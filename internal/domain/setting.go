package domain

import (
	"context"
	"time"
)

// GlobalScope is the fallback scope for every setting lookup.
const GlobalScope = "global"

type Setting struct {
	Scope     string    `json:"scope"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

type SettingRepository interface {
	GetSetting(ctx context.Context, scope, key string) (*Setting, error)
	UpsertSetting(ctx context.Context, s *Setting) error
	DeleteSetting(ctx context.Context, scope, key string) error
}
