// Package endpoints describes the content endpoints a run may consult and
// tracks how each of them has been behaving.
package endpoints

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Dialect selects the request shape, response schema and normalization
// rules for an endpoint.
type Dialect string

const (
	DialectDefault   Dialect = "default"
	DialectFQPHP     Dialect = "fqphp"
	DialectLSJK      Dialect = "lsjk"
	DialectQyuing    Dialect = "qyuing"
	DialectFanqieSDK Dialect = "fanqie_sdk"
)

var dialects = []Dialect{DialectDefault, DialectFQPHP, DialectLSJK, DialectQyuing, DialectFanqieSDK}

func ParseDialect(s string) (Dialect, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DialectDefault, nil
	}
	for _, d := range dialects {
		if string(d) == s {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown dialect %q", s)
}

// Descriptor is one configured endpoint. Name keys its health entry.
type Descriptor struct {
	Name          string
	URLTemplate   string
	Dialect       Dialect
	SupportsBatch bool
	BatchURL      string
	Token         string
	// BatchToken is sent on bulk requests only; Token is used when empty.
	BatchToken    string
	Params        map[string]string
	Body          map[string]any
}

var (
	ErrMultipleBatch = errors.New("more than one endpoint supports batch")
	ErrNoEndpoints   = errors.New("no endpoints configured")
)

func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("endpoint name cannot be empty")
	}
	if d.URLTemplate == "" {
		return fmt.Errorf("endpoint %s: url cannot be empty", d.Name)
	}
	if _, err := url.Parse(Expand(d.URLTemplate, "0", "0")); err != nil {
		return fmt.Errorf("endpoint %s: %w", d.Name, err)
	}
	if _, err := ParseDialect(string(d.Dialect)); err != nil {
		return fmt.Errorf("endpoint %s: %w", d.Name, err)
	}
	return nil
}

// Expand substitutes {chapter_id} and {book_id} in a URL template.
func Expand(tpl, chapterID, bookID string) string {
	return strings.NewReplacer(
		"{chapter_id}", url.PathEscape(chapterID),
		"{book_id}", url.PathEscape(bookID),
	).Replace(tpl)
}

// ValidateAll checks every descriptor and the batch constraint.
func ValidateAll(list []Descriptor) error {
	if len(list) == 0 {
		return ErrNoEndpoints
	}
	seen := map[string]bool{}
	for _, d := range list {
		if err := d.Validate(); err != nil {
			return err
		}
		if seen[d.Name] {
			return fmt.Errorf("duplicate endpoint name %q", d.Name)
		}
		seen[d.Name] = true
	}
	_, _, err := BatchEndpoint(list)
	return err
}

// BatchEndpoint returns the single batch-capable endpoint. Batch mode is
// only valid when exactly one endpoint advertises it.
func BatchEndpoint(list []Descriptor) (Descriptor, bool, error) {
	var found []Descriptor
	for _, d := range list {
		if d.SupportsBatch {
			found = append(found, d)
		}
	}
	switch len(found) {
	case 0:
		return Descriptor{}, false, nil
	case 1:
		b := found[0]
		if b.BatchURL == "" {
			b.BatchURL = b.URLTemplate
		}
		return b, true, nil
	default:
		return Descriptor{}, false, fmt.Errorf("%w: %d found", ErrMultipleBatch, len(found))
	}
}
