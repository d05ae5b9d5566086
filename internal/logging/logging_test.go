package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	logger, err := New("domed", false)
	require.NoError(t, err)
	assert.False(t, logger.Desugar().Core().Enabled(zap.DebugLevel))
	assert.True(t, logger.Desugar().Core().Enabled(zap.InfoLevel))

	logger, err = New("domed", true)
	require.NoError(t, err)
	assert.True(t, logger.Desugar().Core().Enabled(zap.DebugLevel))
}
