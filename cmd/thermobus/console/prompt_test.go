package console

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatch(t *testing.T) {
	constraints := []string{No, Yes}
	assert.Equal(t, Yes, match("Y", constraints))
	assert.Equal(t, Yes, match(" y ", constraints))
	assert.Equal(t, No, match("", constraints))
	assert.Equal(t, No, match("maybe", constraints))
}

func TestVerbose(t *testing.T) {
	ctx := context.Background()
	assert.False(t, IsVerbose(ctx))
	assert.True(t, IsVerbose(SetVerbose(ctx, true)))
}
