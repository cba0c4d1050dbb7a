package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalis-labs/service_layer/internal/app/storage"
	"github.com/vitalis-labs/service_layer/internal/config"
	"github.com/vitalis-labs/service_layer/internal/logging"
	motivationsupabase "github.com/vitalis-labs/service_layer/services/motivation/supabase"
)

func TestNewWithMemoryStore(t *testing.T) {
	cfg := &config.Config{Store: "memory"}
	a, err := New(context.Background(), cfg, logging.NewDiscard())
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &storage.Memory{}, a.Store)
	assert.Equal(t, 6, a.Journey.Catalog.Len())

	session := a.Sessions.Get(context.Background(), "u1")
	view, err := session.CompleteAndUnlockNext(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, view.MaxAllowedStep)
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewDiscard()

	store, closer, err := OpenStore(ctx, &config.Config{
		Store:    "supabase",
		Supabase: config.SupabaseConfig{URL: "https://project.supabase.co", ServiceKey: "key"},
	}, logger)
	require.NoError(t, err)
	assert.IsType(t, &motivationsupabase.Repository{}, store)
	assert.NoError(t, closer())

	t.Setenv("SUPABASE_URL", "")
	_, _, err = OpenStore(ctx, &config.Config{Store: "supabase"}, logger)
	assert.Error(t, err, "missing Supabase URL")

	_, _, err = OpenStore(ctx, &config.Config{Store: "postgres"}, logger)
	assert.Error(t, err, "missing DSN")

	_, _, err = OpenStore(ctx, &config.Config{Store: "sqlite"}, logger)
	assert.Error(t, err)
}

func TestNewRejectsBadJourney(t *testing.T) {
	_, err := New(context.Background(), &config.Config{Store: "memory", StepsFile: "does-not-exist.yaml"}, logging.NewDiscard())
	assert.Error(t, err)
}
