package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOriginPolicyFilter(t *testing.T) {
	t.Parallel()

	links := []string{
		"/about",
		"https://example.com/about#team",
		"https://EXAMPLE.com:443/pricing?b=2&a=1",
		"https://www.example.com/blog",
		"https://docs.example.com/guide",
		"https://other.org/page",
		"mailto:hello@example.com",
		"javascript:void(0)",
		"#top",
		"",
	}

	got := OriginPolicy{}.Filter("https://example.com", links)
	require.Equal(t, []string{
		"https://example.com/about",
		"https://example.com/pricing?a=1&b=2",
		"https://www.example.com/blog",
	}, got)

	withSubdomains := OriginPolicy{AllowSubdomains: true, AllowedHosts: []string{"other.org"}}
	got = withSubdomains.Filter("https://example.com", links)
	require.Contains(t, got, "https://docs.example.com/guide")
	require.Contains(t, got, "https://other.org/page")
}

func TestOriginPolicyFilterInvalidSeed(t *testing.T) {
	t.Parallel()

	require.Empty(t, OriginPolicy{}.Filter("not a url", []string{"https://example.com"}))
}

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"HTTP://Example.COM:80/a", "http://example.com/a"},
		{"https://example.com:443/a#frag", "https://example.com/a"},
		{"https://example.com/?z=1&a=2", "https://example.com/?a=2&z=1"},
		{"https://example.com:8443/a", "https://example.com:8443/a"},
		{"http://[::1]:80/a", "http://[::1]/a"},
		{"http://127.0.0.1:8080/a?b=1#x", "http://127.0.0.1:8080/a?b=1"},
	}
	for _, tc := range tests {
		got, err := NormalizeURL(tc.in)
		require.NoError(t, err)
		require.Equal(t, tc.want, got)
	}
}
