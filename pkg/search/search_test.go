package search

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"convod/pkg/conversation"
	"convod/pkg/models"
	"convod/pkg/store"
)

func TestFold(t *testing.T) {
	cases := map[string]string{
		"Đà Nẵng":        "da nang",
		"Hội An":         "hoi an",
		"Nguyễn Văn Anh": "nguyen van anh",
		"CAFÉ":           "cafe",
		"plain ascii":    "plain ascii",
		"":               "",
	}
	for in, want := range cases {
		require.Equal(t, want, Fold(in), "Fold(%q)", in)
	}
}

func TestClientDisabledIsNoop(t *testing.T) {
	c := NewClient("", "convod", 0)
	require.NoError(t, c.Index("conversations", "x", map[string]string{"a": "b"}))
	require.NoError(t, c.Delete("conversations", "x"))
	hits, total, err := c.Search("conversations", map[string]any{})
	require.NoError(t, err)
	require.Nil(t, hits)
	require.Zero(t, total)
}

func TestClientRoundTrip(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		switch r.Method {
		case http.MethodPost:
			_, _ = w.Write([]byte(`{"hits":{"total":{"value":2},"hits":[{"_id":"c1","_source":{"name":"trip"}},{"_id":"c2","_source":{}}]}}`))
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "convod", 2*time.Second)

	require.NoError(t, c.Index("conversations", "c1", map[string]string{"name": "trip"}))
	require.Equal(t, http.MethodPut, gotMethod)
	require.Equal(t, "/convod-conversations/_doc/c1", gotPath)
	require.JSONEq(t, `{"name":"trip"}`, string(gotBody))

	require.NoError(t, c.Delete("conversations", "c1"))
	require.Equal(t, http.MethodDelete, gotMethod)

	hits, total, err := c.Search("conversations", map[string]any{"query": map[string]any{"match_all": map[string]any{}}})
	require.NoError(t, err)
	require.Equal(t, "/convod-conversations/_search", gotPath)
	require.Equal(t, 2, total)
	require.Len(t, hits, 2)
	require.Equal(t, "c1", hits[0].ID)
}

func TestClientDeleteMissingNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	require.NoError(t, c.Delete("conversations", "ghost"))
}

// TestSyncConversationDenormalizes verifies the indexed row carries
// folded member names so diacritic-insensitive queries match.
func TestSyncConversationDenormalizes(t *testing.T) {
	require.NoError(t, store.Open(t.TempDir()))
	t.Cleanup(func() { _ = store.Close() })

	for _, a := range []models.Account{
		{ID: "u1", Type: models.AccountUser, Name: "Nguyễn Văn Anh"},
		{ID: "u2", Type: models.AccountUser, Name: "Trần Thị Bích"},
	} {
		b, err := json.Marshal(a)
		require.NoError(t, err)
		require.NoError(t, store.PutDoc(store.NSAccount, a.ID, b))
	}
	conv, err := conversation.GetOrCreate([]string{"u1", "u2"}, "u1")
	require.NoError(t, err)

	var indexed ConversationDoc
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&indexed))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "convod", time.Second)
	require.NoError(t, SyncConversation(c, conv.ID))

	require.Equal(t, conv.ID, indexed.ID)
	require.Equal(t, []string{"Nguyễn Văn Anh", "Trần Thị Bích"}, indexed.MemberNames)
	require.Equal(t, "nguyen van anh tran thi bich", indexed.MemberSearch)
	require.Equal(t, conv.Key, indexed.Key)
}

func TestSyncConversationMissingDeletes(t *testing.T) {
	require.NoError(t, store.Open(t.TempDir()))
	t.Cleanup(func() { _ = store.Close() })

	deleted := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			deleted = true
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "convod", time.Second)
	require.NoError(t, SyncConversation(c, "no-such-conversation"))
	require.True(t, deleted)
}
