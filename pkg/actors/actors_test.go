package actors_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdantlabs/agritrace/pkg/actors"
)

func TestStaticDirectory(t *testing.T) {
	dir := actors.StaticDirectory{
		"u1": {Name: "Amina Osei", Role: "Farmer"},
		"u2": {Name: "Field Ops", Role: "Inspector"},
	}

	out, err := dir.Lookup(context.Background(), []string{"u1", "u2", "ghost"})
	require.NoError(t, err)
	assert.Len(t, out, 2, "unknown ids are absent, not errors")
	assert.Equal(t, "Amina Osei", out["u1"].Name)
}

func TestHTTPDirectoryLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/actors", r.URL.Path)
		assert.Equal(t, "u1,u2", r.URL.Query().Get("ids"))
		_ = json.NewEncoder(w).Encode(map[string]actors.Actor{
			"u1": {Name: "Amina Osei", Role: "Farmer"},
		})
	}))
	defer srv.Close()

	dir := actors.NewHTTPDirectory(srv.URL)
	out, err := dir.Lookup(context.Background(), []string{"u1", "u2"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, actors.Actor{Name: "Amina Osei", Role: "Farmer"}, out["u1"])
}

func TestHTTPDirectoryEmptyIDs(t *testing.T) {
	dir := actors.NewHTTPDirectory("http://unreachable.invalid")
	out, err := dir.Lookup(context.Background(), nil)
	require.NoError(t, err, "empty lookup must not touch the network")
	assert.Empty(t, out)
}

func TestHTTPDirectoryServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	dir := actors.NewHTTPDirectory(srv.URL)
	_, err := dir.Lookup(context.Background(), []string{"u1"})
	assert.Error(t, err)
}
