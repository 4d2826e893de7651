package tombstone

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCapacity = 10000

// Cache remembers messages deleted locally so a fetch that was already in flight
// cannot bring them back. Entries are evicted least-recently-used.
type Cache struct {
	entries *lru.Cache[string, time.Time]
}

func New(capacity int) (*Cache, error) {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	entries, err := lru.New[string, time.Time](capacity)
	if err != nil {
		return nil, err
	}
	return &Cache{entries: entries}, nil
}

func key(accountID, folderID string, uid uint32) string {
	return fmt.Sprintf("%s:%s:%d", accountID, folderID, uid)
}

func (c *Cache) Add(accountID, folderID string, uid uint32) {
	c.entries.Add(key(accountID, folderID, uid), time.Now())
}

func (c *Cache) Contains(accountID, folderID string, uid uint32) bool {
	return c.entries.Contains(key(accountID, folderID, uid))
}

func (c *Cache) Len() int {
	return c.entries.Len()
}
