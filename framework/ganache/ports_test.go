package ganache

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPortRegistryPick(t *testing.T) {
	t.Run("prefers the default port", func(t *testing.T) {
		r := NewPortRegistry().WithProbe(func(int) bool { return true })

		port, err := r.Pick()
		require.NoError(t, err)
		require.Equal(t, DefaultPort, port)
		require.True(t, r.Attempted(DefaultPort))

		port, err = r.Pick()
		require.NoError(t, err)
		require.NotEqual(t, DefaultPort, port)
		require.GreaterOrEqual(t, port, ephemeralPortMin)
		require.LessOrEqual(t, port, ephemeralPortMax)
	})

	t.Run("skips a busy default port", func(t *testing.T) {
		r := NewPortRegistry().WithProbe(func(port int) bool { return port != DefaultPort })

		port, err := r.Pick()
		require.NoError(t, err)
		require.NotEqual(t, DefaultPort, port)
	})

	t.Run("never hands out a port twice", func(t *testing.T) {
		r := NewPortRegistry().WithProbe(func(int) bool { return true })
		seen := make(map[int]struct{})
		for range 200 {
			port, err := r.Pick()
			require.NoError(t, err)
			_, dup := seen[port]
			require.False(t, dup, "port %d handed out twice", port)
			seen[port] = struct{}{}
		}
	})

	t.Run("recorded ports are not picked", func(t *testing.T) {
		r := NewPortRegistry().WithProbe(func(int) bool { return true })
		r.Record(DefaultPort)

		port, err := r.Pick()
		require.NoError(t, err)
		require.NotEqual(t, DefaultPort, port)
	})

	t.Run("reports every port tried", func(t *testing.T) {
		var probed []int
		r := NewPortRegistry().WithProbe(func(port int) bool {
			probed = append(probed, port)
			return false
		})

		_, err := r.Pick()
		require.Error(t, err)

		var noFree *NoFreePortError
		require.True(t, errors.As(err, &noFree))
		require.Len(t, noFree.Tried, maxPortDraws)
		for _, port := range noFree.Tried {
			require.True(t, r.Attempted(port))
			require.Contains(t, err.Error(), strconv.Itoa(port))
		}
		require.True(t, strings.HasPrefix(err.Error(), "unable to find an available port. ports tried: "))
		require.Equal(t, DefaultPort, probed[0])
	})
}

func TestListenProbe(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port

	require.False(t, listenProbe(port))
	require.NoError(t, l.Close())
	require.True(t, listenProbe(port))
}

func TestDefaultPortRegistryIsShared(t *testing.T) {
	require.Same(t, DefaultPortRegistry(), DefaultPortRegistry())
}
