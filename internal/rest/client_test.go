package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_DoSendsJSONAndHeaders(t *testing.T) {
	var gotAuth, gotType, gotCustom string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		gotCustom = r.Header.Get("X-Custom")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"id":"abc"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", WithBearer("tok"), WithHeader("X-Custom", "yes"))
	var out struct {
		ID string `json:"id"`
	}
	err := c.Do(context.Background(), http.MethodPut, "contacts/1", map[string]string{"email": "a@b.c"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "abc", out.ID)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, "yes", gotCustom)
	assert.Equal(t, "a@b.c", gotBody["email"])
}

func TestClient_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	err := c.Get(context.Background(), "/missing", nil)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.MethodGet, se.Method)
	assert.Contains(t, se.Body, "nope")
}

func TestClient_URL(t *testing.T) {
	c := NewClient("https://api.example.com/")
	assert.Equal(t, "https://api.example.com/a", c.URL("a"))
	assert.Equal(t, "https://api.example.com/a", c.URL("/a"))
	assert.Equal(t, "https://other.example.com/x", c.URL("https://other.example.com/x"))
}

func TestClient_Upload(t *testing.T) {
	var field, content string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, _, err := r.FormFile("content")
		if err == nil {
			b, _ := io.ReadAll(f)
			content = string(b)
			field = "content"
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	err := c.Upload(context.Background(), "/nodes/1/content", "content", "page.html", []byte("<p>hi</p>"), nil)
	require.NoError(t, err)
	assert.Equal(t, "content", field)
	assert.Equal(t, "<p>hi</p>", content)
}

func TestClient_GetRawAndAuthFunc(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer dyn") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("<html>raw</html>"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRateLimit(100, 1), WithAuth(func(context.Context) (string, error) {
		calls++
		return "Bearer dyn", nil
	}))
	raw, err := c.GetRaw(context.Background(), "/page")
	require.NoError(t, err)
	assert.Equal(t, "<html>raw</html>", string(raw))
	assert.Equal(t, 1, calls)
}

func TestClient_BodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, strings.Repeat("x", 16))
	}))
	defer srv.Close()

	raw, err := NewClient(srv.URL, WithMaxBodyBytes(16)).GetRaw(context.Background(), "/exact")
	require.NoError(t, err)
	assert.Len(t, raw, 16)

	_, err = NewClient(srv.URL, WithMaxBodyBytes(15)).GetRaw(context.Background(), "/over")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBodyTooLarge), "got %v", err)
}
