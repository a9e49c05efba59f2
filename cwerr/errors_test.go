package cwerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsAndKindOf(t *testing.T) {
	base := errors.New("boom")
	wrapped := New(KindTimeout, "kernelsession.Execute", base)

	require.True(t, Is(wrapped, KindTimeout))
	require.False(t, Is(wrapped, KindTransport))

	kind, ok := KindOf(wrapped)
	require.True(t, ok)
	require.Equal(t, KindTimeout, kind)

	require.ErrorIs(t, wrapped, base)
}

func TestKindOfPlainError(t *testing.T) {
	_, ok := KindOf(errors.New("plain"))
	require.False(t, ok)
}
