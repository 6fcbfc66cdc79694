package util

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	browser "github.com/EDDYCJY/fake-useragent"
	"github.com/avast/retry-go/v4"
)

const DefaultReferer = "https://fanqienovel.com/"

type HTTPClientOptions struct {
	Timeout          time.Duration
	UserAgents       *UserAgentPool
	Cookie           string
	Headers          http.Header
	CloudflareBypass bool
	Transport        http.RoundTripper
	DebugLogger      interface {
		Debugf(string, ...any)
	}
}

// DefaultHeaders is the header set every content request carries.
func DefaultHeaders() http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json, text/javascript, */*; q=0.01")
	h.Set("Accept-Language", "zh-CN,zh;q=0.9,en-US;q=0.8,en;q=0.7")
	h.Set("Referer", DefaultReferer)
	h.Set("X-Requested-With", "XMLHttpRequest")
	return h
}

func NewHTTPClient(opts HTTPClientOptions) (*http.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}

	var baseTransport http.RoundTripper
	if opts.Transport != nil {
		baseTransport = opts.Transport
	} else {
		baseTransport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxConnsPerHost:     100,
			MaxIdleConnsPerHost: 100,
			ForceAttemptHTTP2:   true,
		}
	}

	if opts.CloudflareBypass {
		baseTransport = cloudflarebp.AddCloudFlareByPass(baseTransport)
	}

	ua := opts.UserAgents
	if ua == nil {
		ua = NewUserAgentPool("", false)
	}

	client := &http.Client{
		Timeout: opts.Timeout,
		Transport: roundTripper{
			base:    baseTransport,
			ua:      ua,
			cookie:  strings.TrimSpace(opts.Cookie),
			headers: opts.Headers,
			log:     opts.DebugLogger,
		},
		Jar: jar,
	}

	if opts.DebugLogger != nil {
		opts.DebugLogger.Debugf("HTTP client initialized (timeout=%s, cloudflare=%t)\n",
			opts.Timeout, opts.CloudflareBypass)
	}

	return client, nil
}

type roundTripper struct {
	base    http.RoundTripper
	ua      *UserAgentPool
	cookie  string
	headers http.Header
	log     interface{ Debugf(string, ...any) }
}

func (rt roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	for k, vs := range rt.headers {
		if req.Header.Get(k) == "" && len(vs) > 0 {
			req.Header.Set(k, vs[0])
		}
	}

	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", rt.ua.Pick())
	}

	if rt.cookie != "" && req.Header.Get("Cookie") == "" {
		req.Header.Set("Cookie", rt.cookie)
	}

	if rt.log != nil {
		rt.log.Debugf("HTTP %s %s", req.Method, req.URL.String())
	}

	return rt.base.RoundTrip(req)
}

var builtinUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.0.0",
}

// UserAgentPool hands out a User-Agent per request: the override when set,
// a generated one in fake mode, otherwise a random pick from a small
// built-in browser list.
type UserAgentPool struct {
	override string
	fake     bool
}

func NewUserAgentPool(override string, fake bool) *UserAgentPool {
	return &UserAgentPool{override: strings.TrimSpace(override), fake: fake}
}

func (p *UserAgentPool) Pick() string {
	if p.override != "" {
		return p.override
	}
	if p.fake {
		if ua := browser.Random(); ua != "" {
			return ua
		}
	}
	return builtinUserAgents[rand.IntN(len(builtinUserAgents))]
}

// DoWithRetry issues the request built by build until it returns a 2xx
// response. 4xx responses are not retried.
func DoWithRetry(ctx context.Context, c *http.Client, build func(context.Context) (*http.Request, error), attempts uint, delay time.Duration) (*http.Response, error) {
	return retry.DoWithData(
		func() (*http.Response, error) {
			req, err := build(ctx)
			if err != nil {
				return nil, retry.Unrecoverable(err)
			}

			resp, err := c.Do(req)
			if err != nil {
				return nil, err
			}
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return resp, nil
			}

			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()

			statusErr := fmt.Errorf("HTTP %d from %s", resp.StatusCode, req.URL.Redacted())
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return nil, retry.Unrecoverable(statusErr)
			}
			return nil, statusErr
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.LastErrorOnly(true),
	)
}
