package metrics

import (
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func testLabels() Labels {
	return Labels{
		Side:    SideServer,
		Remote:  "127.0.0.1:51234",
		Handler: "server.HandlerFunc",
		Auth:    true,
		TLS:     false,
	}
}

func TestObservationsRecorded(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveDuration(testLabels(), 0.012)
	m.ObserveDuration(testLabels(), 0.034)
	m.ObserveSize(testLabels(), 256)
	m.IncError(testLabels(), "auth_failed")
	m.IncError(testLabels(), "auth_failed")
	m.IncError(testLabels(), "send_failed")

	require.Equal(t, 1, testutil.CollectAndCount(m.durations))
	require.Equal(t, 1, testutil.CollectAndCount(m.sizes))
	// Two reasons means two counter children.
	require.Equal(t, 2, testutil.CollectAndCount(m.errors))
}

func TestDefaultIsSharedAndIdempotent(t *testing.T) {
	first := Default()
	second := Default()
	require.Same(t, first, second)

	// Recording on the shared set must not panic under repeated use.
	first.ObserveDuration(testLabels(), 0.001)
	second.ObserveSize(testLabels(), 64)
}

func TestHostAndNamespaceCached(t *testing.T) {
	require.Equal(t, Hostname(), Hostname())
	require.Equal(t, Namespace(), Namespace())
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestScrapeServerStartsOnce(t *testing.T) {
	port := freePort(t)
	StartScrapeServer(port)
	// Second call is a no-op regardless of port.
	StartScrapeServer(port + 1)

	url := fmt.Sprintf("http://127.0.0.1:%d/metrics", port)
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			defer resp.Body.Close()
			require.Equal(t, http.StatusOK, resp.StatusCode)
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("scrape endpoint never came up: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
