package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/brogergvhs/noveld/internal/util"
)

const cacheDir = ".noveld"

type CachedChapter struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Source  string `json:"source,omitempty"`
}

// Cache keeps one JSON file per fetched chapter so a resumed run can
// assemble the full book without fetching completed chapters again.
type Cache struct {
	dir string
}

func NewCache(outputDir, bookID string) *Cache {
	return &Cache{dir: filepath.Join(outputDir, cacheDir, util.SafeName(bookID))}
}

func (c *Cache) Dir() string { return c.dir }

func (c *Cache) path(id string) string {
	return filepath.Join(c.dir, util.SafeName(id)+".json")
}

func (c *Cache) Store(id string, ch CachedChapter) error {
	b, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("cache %s: %w", id, err)
	}
	return util.WriteFileAtomic(c.path(id), b, 0644)
}

// Load returns ok=false when the chapter was never cached.
func (c *Cache) Load(id string) (CachedChapter, bool, error) {
	b, err := os.ReadFile(c.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return CachedChapter{}, false, nil
	}
	if err != nil {
		return CachedChapter{}, false, fmt.Errorf("cache %s: %w", id, err)
	}

	var ch CachedChapter
	if err := json.Unmarshal(b, &ch); err != nil {
		return CachedChapter{}, false, fmt.Errorf("cache %s: %w", id, err)
	}
	return ch, true, nil
}

func (c *Cache) Clear() error {
	return os.RemoveAll(c.dir)
}
