package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akshat111/CHRONOS"
	"github.com/akshat111/CHRONOS/handlers"
)

func stubHandler(result any) handlers.Handler {
	return func(_ context.Context, _ json.RawMessage, _ *chronos.Job) (any, error) {
		return result, nil
	}
}

func TestRegistryGetKnownType(t *testing.T) {
	reg := handlers.NewRegistry()
	reg.Register("email", stubHandler("sent"))

	h, err := reg.Get("email")
	require.NoError(t, err)
	result, err := h(context.Background(), nil, &chronos.Job{})
	require.NoError(t, err)
	assert.Equal(t, "sent", result)
}

func TestRegistryGetUnknownType(t *testing.T) {
	reg := handlers.NewRegistry()

	_, err := reg.Get("sms")
	require.Error(t, err)

	var herr *chronos.HandlerError
	assert.True(t, errors.As(err, &herr), "expected *chronos.HandlerError, got %T", err)
	assert.Equal(t, "sms", herr.TaskType)
}

func TestRegistryRegisterOverwrites(t *testing.T) {
	reg := handlers.NewRegistry()
	reg.Register("email", stubHandler("first"))
	reg.Register("email", stubHandler("second"))

	h, err := reg.Get("email")
	require.NoError(t, err)
	result, err := h(context.Background(), nil, &chronos.Job{})
	require.NoError(t, err)
	assert.Equal(t, "second", result)
}

func TestRegistryConcurrentAccess(t *testing.T) {
	reg := handlers.NewRegistry()
	reg.Register("email", stubHandler("sent"))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); reg.Register("webhook", stubHandler("posted")) }()
		go func() { defer wg.Done(); _, _ = reg.Get("email") }()
	}
	wg.Wait()
}
