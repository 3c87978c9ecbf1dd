package auth

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestAuthenticate(t *testing.T) {
	a := NewTokenAuthenticator(map[string]string{"secret-1": "e1", "": "ghost", "orphan": ""}, zap.NewNop())

	tests := []struct {
		name   string
		header string
		query  string
		want   string
		ok     bool
	}{
		{"bearer header", "Bearer secret-1", "", "e1", true},
		{"lowercase scheme", "bearer secret-1", "", "e1", true},
		{"query token", "", "?access_token=secret-1", "e1", true},
		{"unknown token", "Bearer nope", "", "", false},
		{"basic auth", "Basic secret-1", "", "", false},
		{"empty token", "Bearer ", "", "", false},
		{"token without employee", "Bearer orphan", "", "", false},
		{"no credentials", "", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/api/v1/events"+tt.query, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, ok := a.Authenticate(r)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSetTokensReplacesTable(t *testing.T) {
	a := NewTokenAuthenticator(map[string]string{"old": "e1"}, zap.NewNop())
	a.SetTokens(map[string]string{"new": "e2"})

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer old")
	_, ok := a.Authenticate(r)
	assert.False(t, ok)

	r.Header.Set("Authorization", "Bearer new")
	id, ok := a.Authenticate(r)
	assert.True(t, ok)
	assert.Equal(t, "e2", id)
}

func TestEmployeeContext(t *testing.T) {
	_, ok := EmployeeID(context.Background())
	assert.False(t, ok)

	id, ok := EmployeeID(WithEmployee(context.Background(), "e7"))
	assert.True(t, ok)
	assert.Equal(t, "e7", id)
}
