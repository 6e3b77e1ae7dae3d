package idgen

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInt64(t *testing.T) {
	var g Int64
	require.Equal(t, int64(1), g.Next())
	require.Equal(t, int64(2), g.Next())

	g.Skip(10)
	require.Equal(t, int64(11), g.Next())
	g.Skip(5)
	require.Equal(t, int64(12), g.Next())

	require.Equal(t, int64(1), NewInt64(-4).Next())
	require.Equal(t, int64(101), NewInt64(100).Next())
}
