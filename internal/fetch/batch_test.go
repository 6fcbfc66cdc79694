package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/brogergvhs/noveld/internal/chapters"
	"github.com/brogergvhs/noveld/internal/endpoints"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeRefs(n int) []chapters.Ref {
	out := make([]chapters.Ref, n)
	for i := range out {
		out[i] = chapters.Ref{ID: fmt.Sprintf("%d", i+1), Title: fmt.Sprintf("第%d章", i+1), Ordinal: i}
	}
	return out
}

func TestChunks(t *testing.T) {
	chunks := Chunks(makeRefs(600), 290)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 290)
	assert.Len(t, chunks[1], 290)
	assert.Len(t, chunks[2], 20)
	assert.Equal(t, "291", chunks[1][0].ID)

	assert.Empty(t, Chunks(nil, 290))
	assert.Len(t, Chunks(makeRefs(3), 0), 1)
}

func batchServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Batcher) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	b := NewBatcher(BatchConfig{
		Client: srv.Client(),
		Endpoint: endpoints.Descriptor{
			Name:          "qyuing",
			URLTemplate:   srv.URL + "/content?item_id={chapter_id}",
			BatchURL:      srv.URL + "/content",
			Dialect:       endpoints.DialectQyuing,
			SupportsBatch: true,
			BatchToken:    "tk",
		},
		MaxSize: 2,
	})
	return srv, b
}

func TestFetchChunkPartial(t *testing.T) {
	var gotIDs []string
	_, b := batchServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "tk", r.Header.Get("token"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req batchRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotIDs = req.ItemIDs

		_, _ = io.WriteString(w, `{"code":0,"data":{
			"1":"<p>one</p>",
			"2":{"content":"<p>two</p>","title":"重逢"},
			"3":"<p></p>"
		}}`)
	})

	res := b.FetchChunk(context.Background(), makeRefs(4))
	assert.Equal(t, []string{"1", "2", "3", "4"}, gotIDs)
	require.NoError(t, res.Err)

	require.Len(t, res.Found, 2)
	assert.Equal(t, "    one", res.Found["1"].Content)
	assert.Equal(t, "第2章 重逢", res.Found["2"].Title)
	assert.Equal(t, "qyuing", res.Found["2"].Source)
	assert.Equal(t, []string{"3", "4"}, res.Missing)
}

func TestFetchChunkFailuresMarkAllMissing(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) }},
		{"malformed", func(w http.ResponseWriter, r *http.Request) { _, _ = io.WriteString(w, `[1,2`) }},
		{"bad code", func(w http.ResponseWriter, r *http.Request) { _, _ = io.WriteString(w, `{"code":500,"data":{}}`) }},
		{"data not object", func(w http.ResponseWriter, r *http.Request) { _, _ = io.WriteString(w, `{"code":0,"data":"nope"}`) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, b := batchServer(t, tt.handler)
			res := b.FetchChunk(context.Background(), makeRefs(2))
			assert.Error(t, res.Err)
			assert.Empty(t, res.Found)
			assert.Equal(t, []string{"1", "2"}, res.Missing)
		})
	}
}

func TestFetchChunkBareMap(t *testing.T) {
	_, b := batchServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"1":"<p>bare</p>"}`)
	})

	res := b.FetchChunk(context.Background(), makeRefs(1))
	require.Len(t, res.Found, 1)
	assert.Equal(t, "    bare", res.Found["1"].Content)
}

func TestFetchBatchChunksSequentially(t *testing.T) {
	var calls atomic.Int32
	_, b := batchServer(t, func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n == 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		var req batchRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		data := map[string]string{}
		for _, id := range req.ItemIDs {
			data[id] = "<p>" + id + "</p>"
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 0, "data": data})
	})

	var seen []int
	total := b.FetchBatch(context.Background(), makeRefs(5), func(res ChunkResult) {
		seen = append(seen, len(res.Found)+len(res.Missing))
	})

	assert.Equal(t, []int{2, 2, 1}, seen)
	assert.Len(t, total.Found, 3)
	assert.Equal(t, []string{"3", "4"}, total.Missing)
	assert.Error(t, total.Err)
}

func TestFetchBatchCancelled(t *testing.T) {
	var calls atomic.Int32
	_, b := batchServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	total := b.FetchBatch(ctx, makeRefs(3), nil)
	assert.Zero(t, calls.Load())
	assert.Equal(t, []string{"1", "2", "3"}, total.Missing)
	assert.ErrorIs(t, total.Err, context.Canceled)
}
