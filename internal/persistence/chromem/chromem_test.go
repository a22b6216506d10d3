package chromem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbed_DelegatesToTheWrappedFunc(t *testing.T) {
	want := []float32{0.1, 0.2, 0.3}
	e := New(func(_ context.Context, text string) ([]float32, error) {
		assert.Equal(t, "hello world", text)
		return want, nil
	})

	got, err := e.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
