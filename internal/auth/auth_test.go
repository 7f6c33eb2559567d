package auth

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/deskhook/internal/config"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{header: "Bearer abc", want: "abc"},
		{header: "bearer   abc  ", want: "abc"},
		{header: "", wantErr: true},
		{header: "Basic abc", wantErr: true},
		{header: "Bearer    ", wantErr: true},
		{header: "Bear", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, err := ExtractBearerToken(r)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAuthenticate(t *testing.T) {
	tokens := FromConfig([]config.APIToken{
		{Token: "reader", Scopes: []string{"logs:ro"}},
		{Token: "streamer", Scopes: []string{" EVENTS:RW "}},
	})

	p, ok := Authenticate("admin", "admin", tokens)
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, ScopeLogsRead))
	assert.True(t, HasAnyScope(p, ScopeEventsRead))

	p, ok = Authenticate("reader", "admin", tokens)
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, ScopeLogsRead))
	assert.False(t, HasAnyScope(p, ScopeEventsRead))

	p, ok = Authenticate("streamer", "", tokens)
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, ScopeEventsRead))
	assert.True(t, HasAnyScope(p, "events:rw"))

	_, ok = Authenticate("nope", "admin", tokens)
	assert.False(t, ok)

	// An empty legacy key never matches an empty token.
	_, ok = Authenticate("", "", nil)
	assert.False(t, ok)
}

func TestPrincipalContext(t *testing.T) {
	_, ok := PrincipalFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithPrincipal(context.Background(), Principal{Token: "t"})
	p, ok := PrincipalFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "t", p.Token)
	assert.True(t, HasAnyScope(p))
}

func TestParseScopes(t *testing.T) {
	set := ParseScopes([]string{"LOGS:RW", "", "  events:ro "})
	assert.True(t, set.Grants("logs:rw"))
	assert.True(t, set.Grants(ScopeLogsRead))
	assert.True(t, set.Grants(ScopeEventsRead))
	assert.False(t, set.Grants("events:rw"))
	assert.Len(t, set, 3)

	assert.True(t, ParseScopes([]string{"*"}).Grants("anything:rw"))
	assert.False(t, ScopeSet(nil).Grants(ScopeLogsRead))
}

func TestExtractBearerTokenErrors(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	_, err := ExtractBearerToken(r)
	assert.ErrorIs(t, err, ErrMissingAuthorization)

	r.Header.Set("Authorization", "Token abc")
	_, err = ExtractBearerToken(r)
	assert.ErrorIs(t, err, ErrMalformedBearer)
}
