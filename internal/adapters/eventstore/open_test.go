package eventstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func TestOpen(t *testing.T) {
	store, err := Open(context.Background(), Config{Driver: "sqlite", DBPath: filepath.Join(t.TempDir(), "p.db")}, &mockLogger{})
	require.NoError(t, err)
	assert.NoError(t, store.Close())

	_, err = Open(context.Background(), Config{Driver: "mongo"}, &mockLogger{})
	assert.Error(t, err)

	_, err = Open(context.Background(), Config{Driver: "postgres"}, &mockLogger{})
	assert.Error(t, err)
}
