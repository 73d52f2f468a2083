package platform

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectProxyFromPool(t *testing.T) {
	pool := "http://p1:8080, http://p2:8080 ,,http://p3:8080"
	first := SelectProxyFromPool(pool, "worker-1")
	assert.Contains(t, []string{"http://p1:8080", "http://p2:8080", "http://p3:8080"}, first)
	assert.Equal(t, first, SelectProxyFromPool(pool, "worker-1"), "selection is deterministic")
	assert.Equal(t, "", SelectProxyFromPool(" , ", "worker-1"))
	assert.NotEmpty(t, SelectProxyFromPool(pool, ""))
}

func TestNewHTTPClient(t *testing.T) {
	client, proxy, err := NewHTTPClient(ClientConfig{})
	require.NoError(t, err)
	assert.Empty(t, proxy)
	assert.Equal(t, DefaultTotalTimeout, client.Timeout)

	client, proxy, err = NewHTTPClient(ClientConfig{ProxyPool: "http://only:3128", Hostname: "pod-a"})
	require.NoError(t, err)
	assert.Equal(t, "http://only:3128", proxy)
	transport, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.NotNil(t, transport.Proxy)

	_, _, err = NewHTTPClient(ClientConfig{ProxyURL: "::bad"})
	assert.Error(t, err)
}
