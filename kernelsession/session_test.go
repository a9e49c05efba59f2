package kernelsession

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestFakeSessionLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewFakeSession()
	ctx := context.Background()

	require.Equal(t, StateNotStarted, s.State())
	require.NoError(t, s.Start(ctx))
	require.Equal(t, StateReady, s.State())

	result, err := s.Execute(ctx, `"hello"`, time.Second)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, StateReady, s.State())

	require.NoError(t, s.Shutdown())
	require.Equal(t, StateShutdown, s.State())
	require.NoError(t, s.Shutdown(), "shutdown must be idempotent")
}

func TestFakeSessionExecuteFailure(t *testing.T) {
	s := NewFakeSession()
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	defer s.Shutdown()

	result, err := s.Execute(ctx, `this is not valid syntax {{{`, time.Second)
	require.NoError(t, err)
	require.False(t, result.Success)
	require.NotNil(t, result.ErrorKind)
}

func TestFakeSessionTimeout(t *testing.T) {
	s := NewFakeSession()
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	defer s.Shutdown()

	result, err := s.Execute(ctx, `for { }`, 10*time.Millisecond)
	require.Error(t, err)
	require.False(t, result.Success)
	require.Equal(t, "Timeout", *result.ErrorKind)
}

func TestFakeSessionStreamingYieldsChunksOnError(t *testing.T) {
	s := NewFakeSession()
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	defer s.Shutdown()

	var chunks []StreamChunk
	_, _ = s.ExecuteStreaming(ctx, `{{{broken`, time.Second, func(c StreamChunk) {
		chunks = append(chunks, c)
	})
	require.NotEmpty(t, chunks)
}

func TestFakeSessionRestartResetsBindings(t *testing.T) {
	s := NewFakeSession()
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	defer s.Shutdown()

	require.NoError(t, s.Restart(ctx))
	require.Equal(t, StateReady, s.State())
}
