package options

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type codecConfig struct {
	bigEndian bool
	maxDepth  int
}

func withBigEndian() Option[*codecConfig] {
	return NoError(func(c *codecConfig) {
		c.bigEndian = true
	})
}

func withMaxDepth(n int) Option[*codecConfig] {
	return New(func(c *codecConfig) error {
		if n <= 0 {
			return errors.New("max depth must be positive")
		}
		c.maxDepth = n

		return nil
	})
}

func TestApply(t *testing.T) {
	t.Run("applies options in order", func(t *testing.T) {
		cfg := &codecConfig{}
		err := Apply(cfg, withBigEndian(), withMaxDepth(32))
		require.NoError(t, err)
		require.True(t, cfg.bigEndian)
		require.Equal(t, 32, cfg.maxDepth)
	})

	t.Run("stops at first failing option", func(t *testing.T) {
		cfg := &codecConfig{}
		err := Apply(cfg, withMaxDepth(-1), withBigEndian())
		require.Error(t, err)
		require.Contains(t, err.Error(), "must be positive")
		require.False(t, cfg.bigEndian)
	})

	t.Run("no options is a no-op", func(t *testing.T) {
		cfg := &codecConfig{}
		require.NoError(t, Apply(cfg))
		require.Equal(t, &codecConfig{}, cfg)
	})
}

func TestNoError(t *testing.T) {
	cfg := &codecConfig{}
	opt := NoError(func(c *codecConfig) { c.maxDepth = 7 })
	require.NoError(t, opt.apply(cfg))
	require.Equal(t, 7, cfg.maxDepth)
}
