package endpoints

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/brogergvhs/noveld/internal/util"
)

type registrySource struct {
	Name      string         `json:"name"`
	SingleURL string         `json:"single_url"`
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	Params    map[string]any `json:"params"`
	Data      map[string]any `json:"data"`
}

type registryResponse struct {
	Sources []registrySource `json:"sources"`
}

// FetchRegistry loads the endpoint list from a remote registry. Enabled
// sources keep the registry order; the one named batchName becomes the
// batch endpoint, posting to its single URL with the query stripped.
func FetchRegistry(ctx context.Context, client *http.Client, registryURL, token, batchName string) ([]Descriptor, error) {
	build := func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, registryURL, nil)
		if err != nil {
			return nil, err
		}
		if token != "" {
			req.Header.Set("X-Auth-Token", token)
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}

	resp, err := util.DoWithRetry(ctx, client, build, 3, time.Second)
	if err != nil {
		return nil, fmt.Errorf("registry %s: %w", registryURL, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var body registryResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("registry decode: %w", err)
	}

	var out []Descriptor
	for _, s := range body.Sources {
		if !s.Enabled || s.SingleURL == "" {
			continue
		}

		dialect, err := ParseDialect(s.Name)
		if err != nil {
			dialect = DialectDefault
		}

		d := Descriptor{
			Name:        s.Name,
			URLTemplate: s.SingleURL,
			Dialect:     dialect,
			Token:       s.Token,
			Params:      stringParams(s.Params),
			Body:        s.Data,
		}
		if batchName != "" && s.Name == batchName {
			d.SupportsBatch = true
			d.BatchURL = stripQuery(s.SingleURL)
			d.BatchToken = s.Token
		}
		out = append(out, d)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("registry %s: %w", registryURL, ErrNoEndpoints)
	}
	return out, nil
}

func stringParams(in map[string]any) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = fmt.Sprint(v)
	}
	return out
}

func stripQuery(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
