package fanqie

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/brogergvhs/noveld/internal/chapters"
	"github.com/brogergvhs/noveld/internal/providers"
	"github.com/brogergvhs/noveld/internal/ui"
	"github.com/brogergvhs/noveld/internal/util"
)

const DefaultBaseURL = "https://fanqienovel.com"

type Scraper struct {
	client   *http.Client
	base     string
	attempts uint
	delay    time.Duration
	log      ui.Log
}

func NewScraper(c *http.Client, baseURL string, log ui.Log) *Scraper {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if log == nil {
		log = ui.Discard
	}
	return &Scraper{
		client:   c,
		base:     strings.TrimRight(baseURL, "/"),
		attempts: 3,
		delay:    500 * time.Millisecond,
		log:      log,
	}
}

var _ providers.Metadata = (*Scraper)(nil)

type pageChapter struct {
	id    string
	title string
}

type bookPage struct {
	info     providers.BookInfo
	chapters []pageChapter
}

// Book combines the book page (titles, book info) with the directory API
// (authoritative id order). The page is optional; the id list is not.
func (s *Scraper) Book(ctx context.Context, bookID string) (providers.Book, error) {
	page, err := s.fetchPage(ctx, bookID)
	if err != nil {
		s.log.Warnf("book page for %s unavailable, titles will be synthesized: %v", bookID, err)
		page = bookPage{}
	}
	page.info.ID = bookID

	ids, err := s.fetchDirectory(ctx, bookID)
	if err != nil {
		if len(page.chapters) == 0 {
			return providers.Book{}, fmt.Errorf("chapter list for %s: %w", bookID, err)
		}
		s.log.Warnf("directory API failed for %s, using page order: %v", bookID, err)
		ids = make([]string, len(page.chapters))
		for i, c := range page.chapters {
			ids[i] = c.id
		}
	}
	if len(ids) == 0 {
		return providers.Book{}, fmt.Errorf("chapter list for %s: %w", bookID, errNoChapters)
	}

	titles := make(map[string]string, len(page.chapters))
	for _, c := range page.chapters {
		titles[c.id] = c.title
	}

	refs := make([]chapters.Ref, len(ids))
	for i, id := range ids {
		title := titles[id]
		if title == "" {
			title = fmt.Sprintf("第%d章", i+1)
		}
		refs[i] = chapters.Ref{ID: id, Title: title, Ordinal: i}
	}

	return providers.Book{Info: page.info, Chapters: refs}, nil
}

var errNoChapters = errors.New("no chapters listed")

func (s *Scraper) get(ctx context.Context, target string) (*http.Response, error) {
	build := func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	}
	return util.DoWithRetry(ctx, s.client, build, s.attempts, s.delay)
}

func (s *Scraper) fetchPage(ctx context.Context, bookID string) (bookPage, error) {
	resp, err := s.get(ctx, s.base+"/page/"+url.PathEscape(bookID))
	if err != nil {
		return bookPage{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return bookPage{}, fmt.Errorf("parse book page: %w", err)
	}
	return parsePage(doc), nil
}

func parsePage(doc *goquery.Document) bookPage {
	var p bookPage

	p.info.Name = strings.TrimSpace(doc.Find("h1").First().Text())
	p.info.Author = strings.TrimSpace(doc.Find("div.author-name span.author-name-text").First().Text())

	var desc []string
	doc.Find("div.page-abstract-content p").Each(func(_ int, sel *goquery.Selection) {
		if t := strings.TrimSpace(sel.Text()); t != "" {
			desc = append(desc, t)
		}
	})
	p.info.Description = strings.Join(desc, "\n")

	doc.Find("div.chapter-item a").Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		id := path.Base(strings.TrimRight(strings.SplitN(href, "?", 2)[0], "/"))
		if id == "" || id == "." || id == "/" {
			return
		}
		p.chapters = append(p.chapters, pageChapter{id: id, title: strings.TrimSpace(a.Text())})
	})

	return p
}

// itemID accepts ids encoded as strings or numbers.
type itemID string

func (id *itemID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = itemID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("item id %s: %w", string(b), err)
	}
	*id = itemID(n.String())
	return nil
}

type directoryResponse struct {
	Data *struct {
		AllItemIDs []itemID `json:"allItemIds"`
	} `json:"data"`
}

func (s *Scraper) fetchDirectory(ctx context.Context, bookID string) ([]string, error) {
	target := s.base + "/api/reader/directory/detail?bookId=" + url.QueryEscape(bookID)
	resp, err := s.get(ctx, target)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var body directoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode directory: %w", err)
	}
	if body.Data == nil {
		return nil, errors.New("directory response has no data")
	}

	ids := make([]string, 0, len(body.Data.AllItemIDs))
	for _, id := range body.Data.AllItemIDs {
		if id != "" {
			ids = append(ids, string(id))
		}
	}
	return ids, nil
}
