package agent_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reachvector/leadpipe/pkg/agent"
)

func TestClientInvoke(t *testing.T) {
	var got agent.Invocation
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/agent/invoke", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_ = json.NewEncoder(w).Encode(agent.Result{
			Output:   json.RawMessage(`{"companies": []}`),
			Artifact: "searched houston",
		})
	}))
	defer srv.Close()

	client := agent.NewClientWithBaseURL(srv.URL)
	res, err := client.Invoke(context.Background(), agent.Invocation{
		Role:         agent.RoleList,
		Prompt:       "find companies",
		OutputSchema: agent.SchemaFor(agent.RoleList),
	})
	require.NoError(t, err)
	assert.Equal(t, "searched houston", res.Artifact)
	assert.JSONEq(t, `{"companies": []}`, string(res.Output))

	assert.Equal(t, agent.RoleList, got.Role)
	assert.Equal(t, "find companies", got.Prompt)
	assert.NotEmpty(t, got.OutputSchema, "declared schema travels with the invocation")
}

func TestClientInvokeNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gateway overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := agent.NewClientWithBaseURL(srv.URL)
	_, err := client.Invoke(context.Background(), agent.Invocation{Role: agent.RoleList})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "gateway overloaded")
}

func TestClientInvokeDoesNotValidateOutput(t *testing.T) {
	// Contract validation belongs to the Decode helpers, outside any
	// transport retry loop. The client passes malformed output through.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(agent.Result{Output: json.RawMessage(`{"wrong": "shape"}`)})
	}))
	defer srv.Close()

	client := agent.NewClientWithBaseURL(srv.URL)
	res, err := client.Invoke(context.Background(), agent.Invocation{Role: agent.RoleList})
	require.NoError(t, err)

	_, err = agent.DecodeDiscovery(res)
	assert.ErrorIs(t, err, agent.ErrContract)
}

func TestClientInvokeContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := agent.NewClientWithBaseURL(srv.URL)
	_, err := client.Invoke(ctx, agent.Invocation{Role: agent.RoleResearch})
	require.Error(t, err)
}

func TestClientResetSession(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := agent.NewClientWithBaseURL(srv.URL)
	require.NoError(t, client.ResetSession(context.Background()))
	assert.Equal(t, "/v1/agent/session/reset", path)
}
