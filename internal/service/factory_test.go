// File: internal/service/factory_test.go
package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mirahq/mira-core/internal/action"
	"github.com/mirahq/mira-core/internal/config"
)

func TestCreateRequiresDatabaseURL(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.DatabaseCfg.URL = ""

	factory := NewComponentFactory()
	_, err := factory.Create(context.Background(), cfg, action.Hooks{}, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MIRA_DATABASE_URL")
}

func TestNewDBPoolRejectsMalformedURL(t *testing.T) {
	_, err := NewDBPool(context.Background(), config.DatabaseConfig{URL: "://not-a-url"}, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PGX pool config")
}
