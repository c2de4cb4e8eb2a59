package github_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ghadapter "issuedigger/internal/adapter/github"
	"issuedigger/internal/queue"
	"issuedigger/internal/vector"
)

var repo = vector.Repository{Owner: "o", Name: "r"}

func newClient(t *testing.T, mux *http.ServeMux) *ghadapter.Client {
	t.Helper()
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	c, err := ghadapter.NewClient(ts.Client(), ts.URL, "issuedigger")
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func TestClient_CreateComment(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/o/r/issues/7/comments", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "hello", body["body"])
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, map[string]interface{}{"id": 1})
	})

	c := newClient(t, mux)
	assert.NoError(t, c.CreateComment(context.Background(), repo, 7, "hello"))
}

func TestClient_PostReaction(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/o/r/issues/comments/99/reactions", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "+1", body["content"])
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, map[string]interface{}{"id": 5, "content": "+1"})
	})

	c := newClient(t, mux)
	assert.NoError(t, c.PostReaction(context.Background(), repo, 99, "+1"))
}

func TestClient_PostReaction_Error(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/o/r/issues/comments/99/reactions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		writeJSON(w, map[string]string{"message": "Resource not accessible by integration"})
	})

	c := newClient(t, mux)
	assert.Error(t, c.PostReaction(context.Background(), repo, 99, "+1"))
}

func TestClient_IssuesWithComments(t *testing.T) {
	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/o/r/issues", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "all", r.URL.Query().Get("state"))
		assert.Equal(t, "30", r.URL.Query().Get("per_page"))
		if r.URL.Query().Get("page") == "2" {
			writeJSON(w, []map[string]interface{}{
				{"number": 3, "title": "third", "body": "c", "user": map[string]interface{}{"login": "issuedigger[bot]", "type": "Bot"}},
			})
			return
		}
		w.Header().Set("Link", fmt.Sprintf(`<%s/repos/o/r/issues?page=2>; rel="next"`, srvURL))
		writeJSON(w, []map[string]interface{}{
			{"number": 1, "title": "first", "body": "a", "user": map[string]interface{}{"login": "alice", "type": "User"}},
			{"number": 2, "title": "a PR", "pull_request": map[string]interface{}{"url": "x"}},
		})
	})
	mux.HandleFunc("GET /repos/o/r/issues/1/comments", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]interface{}{
			{"id": 10, "body": "me too", "user": map[string]interface{}{"login": "bob", "type": "User"}},
			{"id": 11, "body": "beep", "user": map[string]interface{}{"login": "dependabot[bot]", "type": "Bot"}},
			{"id": 12, "body": "ghost"},
		})
	})
	mux.HandleFunc("GET /repos/o/r/issues/3/comments", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]interface{}{})
	})

	ts := httptest.NewServer(mux)
	defer ts.Close()
	srvURL = ts.URL
	c, err := ghadapter.NewClient(ts.Client(), ts.URL, "issuedigger")
	require.NoError(t, err)

	var items []ghadapter.Item
	for item, err := range c.IssuesWithComments(context.Background(), repo) {
		require.NoError(t, err)
		items = append(items, item)
	}

	require.Len(t, items, 3)
	assert.Equal(t, queue.KindIssue, items[0].Kind)
	assert.Equal(t, 1, items[0].IssueNumber)
	assert.Equal(t, "first", *items[0].Title)
	assert.False(t, items[0].SelfAuthored)

	assert.Equal(t, queue.KindComment, items[1].Kind)
	assert.Equal(t, int64(10), items[1].CommentID)
	assert.Equal(t, 1, items[1].IssueNumber)

	assert.Equal(t, 3, items[2].IssueNumber)
	assert.True(t, items[2].SelfAuthored)
}

func TestClient_IssuesWithComments_StopsEarly(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/o/r/issues", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, []map[string]interface{}{{"number": 1}, {"number": 2}})
	})
	c := newClient(t, mux)

	for range c.IssuesWithComments(context.Background(), repo) {
		break
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_CommentsForIssue_Error(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/o/r/issues/4/comments", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	c := newClient(t, mux)

	var errs int
	for _, err := range c.CommentsForIssue(context.Background(), repo, 4) {
		if err != nil {
			errs++
		}
	}
	assert.Equal(t, 1, errs)
}

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
}

func TestClients_CachesPerInstallation(t *testing.T) {
	var tokens atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /app/installations/{id}/access_tokens", func(w http.ResponseWriter, r *http.Request) {
		tokens.Add(1)
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, map[string]interface{}{
			"token":      "inst-" + r.PathValue("id"),
			"expires_at": time.Now().Add(time.Hour).Format(time.RFC3339),
		})
	})
	mux.HandleFunc("POST /repos/o/r/issues/1/comments", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token inst-42", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, map[string]interface{}{"id": 1})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	clients := ghadapter.NewClients(1234, testKey(t), "issuedigger", ghadapter.WithBaseURL(ts.URL))

	a, err := clients.ForInstallation(42)
	require.NoError(t, err)
	b, err := clients.ForInstallation(42)
	require.NoError(t, err)
	assert.Same(t, a, b)

	other, err := clients.ForInstallation(43)
	require.NoError(t, err)
	assert.NotSame(t, a, other)

	require.NoError(t, a.CreateComment(context.Background(), repo, 1, "hi"))
	require.NoError(t, a.CreateComment(context.Background(), repo, 1, "again"))
	assert.Equal(t, int32(1), tokens.Load())
}

func TestClients_BadKey(t *testing.T) {
	clients := ghadapter.NewClients(1234, []byte("not a key"), "issuedigger")
	_, err := clients.ForInstallation(42)
	assert.Error(t, err)
}
