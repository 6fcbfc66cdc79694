package endpoints

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() []Descriptor {
	return []Descriptor{
		{Name: "a", URLTemplate: "https://a.example/c/{chapter_id}", Dialect: DialectDefault},
		{Name: "b", URLTemplate: "https://b.example/c?item_id={chapter_id}", Dialect: DialectFQPHP},
		{Name: "c", URLTemplate: "https://c.example/c/{chapter_id}", Dialect: DialectQyuing, SupportsBatch: true},
	}
}

func TestParseDialect(t *testing.T) {
	d, err := ParseDialect(" LSJK ")
	require.NoError(t, err)
	assert.Equal(t, DialectLSJK, d)

	d, err = ParseDialect("")
	require.NoError(t, err)
	assert.Equal(t, DialectDefault, d)

	_, err = ParseDialect("nope")
	assert.Error(t, err)
}

func TestBatchEndpoint(t *testing.T) {
	t.Run("single", func(t *testing.T) {
		b, ok, err := BatchEndpoint(sample())
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "c", b.Name)
		assert.Equal(t, b.URLTemplate, b.BatchURL)
	})

	t.Run("none", func(t *testing.T) {
		_, ok, err := BatchEndpoint(sample()[:2])
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("multiple", func(t *testing.T) {
		list := sample()
		list[0].SupportsBatch = true
		_, _, err := BatchEndpoint(list)
		assert.True(t, errors.Is(err, ErrMultipleBatch))
		assert.True(t, errors.Is(ValidateAll(list), ErrMultipleBatch))
	})
}

func TestValidateAll(t *testing.T) {
	assert.NoError(t, ValidateAll(sample()))
	assert.ErrorIs(t, ValidateAll(nil), ErrNoEndpoints)

	dup := append(sample(), sample()[0])
	assert.Error(t, ValidateAll(dup))
}

func TestExpand(t *testing.T) {
	assert.Equal(t, "https://x/b/9/c/42", Expand("https://x/b/{book_id}/c/{chapter_id}", "42", "9"))
}

func TestTrackerCounts(t *testing.T) {
	tr := NewTracker(sample())

	tr.RecordSuccess("a", time.Millisecond)
	assert.Equal(t, 0, tr.Get("a").ConsecutiveErrors)

	tr.RecordFailure("a")
	tr.RecordFailure("a")
	assert.Equal(t, 2, tr.Get("a").ConsecutiveErrors)

	tr.RecordSuccess("a", 5*time.Millisecond)
	h := tr.Get("a")
	assert.Equal(t, 1, h.ConsecutiveErrors)
	assert.Equal(t, 5*time.Millisecond, h.LastResponseTime)
	assert.Equal(t, 2, h.Successes)
	assert.Equal(t, 2, h.Failures)
}

func TestTrackerKeepsConfiguredOrder(t *testing.T) {
	tr := NewTracker(sample())
	for range 5 {
		tr.RecordFailure("a")
	}
	tr.RecordSuccess("c", time.Millisecond)

	var names []string
	for _, d := range tr.Ordered() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)

	snap := tr.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, 5, snap[0].ConsecutiveErrors)
}

func TestTrackerConcurrent(t *testing.T) {
	tr := NewTracker(sample())
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			tr.RecordFailure("b")
		}()
		go func() {
			defer wg.Done()
			tr.RecordAttempt("b")
			_ = tr.Ordered()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, tr.Get("b").ConsecutiveErrors)
}

func TestFetchRegistry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Auth-Token") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"sources":[
			{"name":"fqphp","single_url":"https://f.example/c?id={chapter_id}","enabled":true},
			{"name":"off","single_url":"https://o.example","enabled":false},
			{"name":"qyuing","single_url":"https://q.example/content?item_id={chapter_id}","enabled":true,"token":"tk","params":{"aid":1967}}
		]}`))
	}))
	defer srv.Close()

	list, err := FetchRegistry(context.Background(), srv.Client(), srv.URL, "secret", "qyuing")
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.Equal(t, DialectFQPHP, list[0].Dialect)
	assert.False(t, list[0].SupportsBatch)

	q := list[1]
	assert.True(t, q.SupportsBatch)
	assert.Equal(t, "https://q.example/content", q.BatchURL)
	assert.Equal(t, "tk", q.Token)
	assert.Equal(t, "tk", q.BatchToken)
	assert.Equal(t, "1967", q.Params["aid"])
}

func TestFetchRegistryUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := FetchRegistry(context.Background(), srv.Client(), srv.URL, "", "")
	assert.Error(t, err)
}
