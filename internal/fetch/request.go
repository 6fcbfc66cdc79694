package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"net/url"

	"github.com/brogergvhs/noveld/internal/endpoints"
)

var sdkParams = map[string]string{
	"sdk_type":     "4",
	"novelsdk_aid": "638505",
}

// targetURL expands the template and appends the endpoint's query params.
func targetURL(ep endpoints.Descriptor, chapterID, bookID string) (string, error) {
	raw := endpoints.Expand(ep.URLTemplate, chapterID, bookID)

	params := ep.Params
	if ep.Dialect == endpoints.DialectFanqieSDK {
		params = maps.Clone(sdkParams)
		maps.Copy(params, ep.Params)
	}
	if len(params) == 0 {
		return raw, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%s: bad url: %w", ep.Name, err)
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func sdkBody(ep endpoints.Descriptor, chapterID string) ([]byte, error) {
	body := map[string]any{
		"need_book_info": 1,
		"show_picture":   1,
		"sdk_type":       1,
	}
	maps.Copy(body, ep.Body)
	body["item_id"] = chapterID
	return json.Marshal(body)
}

// newRequest builds the dialect's request shape for one chapter.
func newRequest(ctx context.Context, ep endpoints.Descriptor, target, chapterID string) (*http.Request, error) {
	var req *http.Request
	var err error

	if ep.Dialect == endpoints.DialectFanqieSDK {
		var body []byte
		body, err = sdkBody(ep, chapterID)
		if err != nil {
			return nil, err
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	}
	if err != nil {
		return nil, err
	}

	if ep.Token != "" {
		req.Header.Set("token", ep.Token)
	}
	return req, nil
}

type chapterData struct {
	Content string `json:"content"`
	Title   string `json:"title"`
}

// chapterResponse is the {"code", "data": {"content", "title"}} envelope
// the single-chapter endpoints share.
type chapterResponse struct {
	Code *int         `json:"code"`
	Msg  string       `json:"message"`
	Data *chapterData `json:"data"`
}

func decodeChapter(ep endpoints.Descriptor, body []byte) (chapterData, error) {
	var resp chapterResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return chapterData{}, &DecodeError{Source: ep.Name, Reason: "malformed json", Err: err}
	}

	if ep.Dialect == endpoints.DialectQyuing {
		if resp.Code == nil {
			return chapterData{}, &DecodeError{Source: ep.Name, Reason: "missing code"}
		}
		if *resp.Code != 0 {
			return chapterData{}, &DecodeError{Source: ep.Name, Reason: fmt.Sprintf("code %d %s", *resp.Code, resp.Msg)}
		}
	}

	if resp.Data == nil {
		return chapterData{}, &DecodeError{Source: ep.Name, Reason: "missing data"}
	}
	return *resp.Data, nil
}
