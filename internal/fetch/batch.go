package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/brogergvhs/noveld/internal/chapters"
	"github.com/brogergvhs/noveld/internal/endpoints"
	"github.com/brogergvhs/noveld/internal/normalize"
	"github.com/brogergvhs/noveld/internal/ui"
)

const DefaultBatchSize = 290

type BatchConfig struct {
	Client   *http.Client
	Endpoint endpoints.Descriptor
	MaxSize  int
	Timeout  time.Duration
	Log      ui.Log
}

// Batcher posts chapter ids to the bulk endpoint in bounded chunks.
type Batcher struct {
	client  *http.Client
	ep      endpoints.Descriptor
	maxSize int
	timeout time.Duration
	log     ui.Log
}

func NewBatcher(cfg BatchConfig) *Batcher {
	b := &Batcher{
		client:  cfg.Client,
		ep:      cfg.Endpoint,
		maxSize: cfg.MaxSize,
		timeout: cfg.Timeout,
		log:     cfg.Log,
	}
	if b.client == nil {
		b.client = http.DefaultClient
	}
	if b.maxSize <= 0 {
		b.maxSize = DefaultBatchSize
	}
	if b.log == nil {
		b.log = ui.Discard
	}
	if b.ep.BatchURL == "" {
		b.ep.BatchURL = b.ep.URLTemplate
	}
	return b
}

func (b *Batcher) Source() string { return b.ep.Name }

// Chunks splits refs into groups of at most size, keeping order.
func Chunks(refs []chapters.Ref, size int) [][]chapters.Ref {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var out [][]chapters.Ref
	for len(refs) > 0 {
		n := min(size, len(refs))
		out = append(out, refs[:n:n])
		refs = refs[n:]
	}
	return out
}

// ChunkResult is one chunk's outcome. Every id of the chunk is in exactly
// one of Found or Missing.
type ChunkResult struct {
	Found   map[string]Result
	Missing []string
	Err     error
}

// FetchBatch runs the chunks sequentially and hands each outcome to
// onChunk before the next chunk starts. Chunks not started because ctx was
// cancelled are reported as missing.
func (b *Batcher) FetchBatch(ctx context.Context, refs []chapters.Ref, onChunk func(ChunkResult)) ChunkResult {
	total := ChunkResult{Found: map[string]Result{}}

	for _, chunk := range Chunks(refs, b.maxSize) {
		var res ChunkResult
		if ctx.Err() != nil {
			res = ChunkResult{Missing: chapters.IDs(chunk), Err: ctx.Err()}
		} else {
			res = b.FetchChunk(ctx, chunk)
		}

		for id, r := range res.Found {
			total.Found[id] = r
		}
		total.Missing = append(total.Missing, res.Missing...)
		if res.Err != nil {
			total.Err = res.Err
		}
		if onChunk != nil {
			onChunk(res)
		}
	}
	return total
}

type batchRequest struct {
	ItemIDs []string `json:"item_ids"`
}

// FetchChunk issues one bulk request. A transport failure or malformed
// response marks the whole chunk missing; ids absent from the response or
// normalizing to nothing are missing individually.
func (b *Batcher) FetchChunk(ctx context.Context, chunk []chapters.Ref) ChunkResult {
	res := ChunkResult{Found: map[string]Result{}}

	items, err := b.post(ctx, chapters.IDs(chunk))
	if err != nil {
		b.log.Warnf("batch of %d chapters failed: %v", len(chunk), err)
		res.Missing = chapters.IDs(chunk)
		res.Err = err
		return res
	}

	for _, ref := range chunk {
		data, ok := items[ref.ID]
		if !ok {
			res.Missing = append(res.Missing, ref.ID)
			continue
		}
		content, err := normalize.Normalize(b.ep.Dialect, data.Content, ref.Title)
		if err != nil {
			b.log.Debugf("batch chapter %s: %v", ref.ID, err)
			res.Missing = append(res.Missing, ref.ID)
			continue
		}
		res.Found[ref.ID] = Result{
			Title:    chapters.DisplayTitle(ref.Title, data.Title),
			Content:  content,
			Source:   b.ep.Name,
			Attempts: 1,
		}
	}
	return res
}

func (b *Batcher) post(ctx context.Context, ids []string) (map[string]chapterData, error) {
	payload, err := json.Marshal(batchRequest{ItemIDs: ids})
	if err != nil {
		return nil, err
	}

	reqCtx := context.WithoutCancel(ctx)
	if b.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(reqCtx, b.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, b.ep.BatchURL, bytes.NewReader(payload))
	if err != nil {
		return nil, &TransportError{Source: b.ep.Name, URL: b.ep.BatchURL, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	token := b.ep.BatchToken
	if token == "" {
		token = b.ep.Token
	}
	if token != "" {
		req.Header.Set("token", token)
	}

	body, err := send(b.client, req, b.ep.Name)
	if err != nil {
		return nil, err
	}
	return decodeBatch(b.ep.Name, body)
}

// decodeBatch reads {"code":0,"data":{id: content}} where content is either
// the markup string or a {"content","title"} object. A body without the
// envelope is taken as the id map itself.
func decodeBatch(source string, body []byte) (map[string]chapterData, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &DecodeError{Source: source, Reason: "malformed json", Err: err}
	}

	if raw, ok := envelope["code"]; ok {
		var code int
		if err := json.Unmarshal(raw, &code); err != nil || code != 0 {
			return nil, &DecodeError{Source: source, Reason: fmt.Sprintf("code %s", string(raw))}
		}
	}

	entries := envelope
	if raw, ok := envelope["data"]; ok {
		entries = nil
		if err := json.Unmarshal(raw, &entries); err != nil || entries == nil {
			return nil, &DecodeError{Source: source, Reason: "data is not an object", Err: err}
		}
	}

	out := make(map[string]chapterData, len(entries))
	for id, raw := range entries {
		var text string
		if err := json.Unmarshal(raw, &text); err == nil {
			out[id] = chapterData{Content: text}
			continue
		}
		var item chapterData
		if err := json.Unmarshal(raw, &item); err == nil {
			out[id] = item
		}
	}
	return out, nil
}
