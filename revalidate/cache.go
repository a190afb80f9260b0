package revalidate

import (
	"bytes"
	"log"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/golang/groupcache/lru"
)

// Admin pages whose GET responses are cached until a mutation touches them.
const (
	PageRegistrations = "/registrations"
	PageFamilies      = "/families"
	PageClasses       = "/classes"
	PageCheckIns      = "/check-ins"
)

type entry struct {
	page        string
	status      int
	contentType string
	body        []byte
}

// Cache holds rendered GET responses per page. lru.Cache is not safe for concurrent use,
// every access goes through mu. gen counts invalidations per page; a response rendered
// before an invalidation is never stored.
type Cache struct {
	mu     sync.Mutex
	lru    *lru.Cache
	byPage map[string]map[string]struct{}
	gen    map[string]uint64
}

func New(maxEntries int) *Cache {
	c := &Cache{lru: lru.New(maxEntries), byPage: map[string]map[string]struct{}{}, gen: map[string]uint64{}}
	c.lru.OnEvicted = func(key lru.Key, value interface{}) {
		e := value.(*entry)
		delete(c.byPage[e.page], key.(string))
	}
	return c
}

// Invalidate drops every cached response of the given pages.
func (c *Cache) Invalidate(pages ...string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, page := range pages {
		keys := c.byPage[page]
		for key := range keys {
			c.lru.Remove(key)
		}
		delete(c.byPage, page)
		c.gen[page]++
	}
	log.Printf("[REVALIDATE] pages=%v", pages)
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// get returns the cached entry for key, or the page generation to pass to put on a miss.
func (c *Cache) get(page, key string) (*entry, uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.lru.Get(key)
	if !ok {
		return nil, c.gen[page], false
	}
	return v.(*entry), 0, true
}

// put stores e unless its page was invalidated since generation gen was read.
func (c *Cache) put(key string, e *entry, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen[e.page] != gen {
		return false
	}
	c.lru.Add(key, e)
	if c.byPage[e.page] == nil {
		c.byPage[e.page] = map[string]struct{}{}
	}
	c.byPage[e.page][key] = struct{}{}
	return true
}

type recorder struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (r *recorder) Write(b []byte) (int, error) {
	r.buf.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *recorder) WriteString(s string) (int, error) {
	r.buf.WriteString(s)
	return r.ResponseWriter.WriteString(s)
}

// Page caches successful GET responses under page, keyed by the full request URI.
func (c *Cache) Page(page string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if c == nil || ctx.Request.Method != http.MethodGet {
			ctx.Next()
			return
		}
		key := page + "|" + ctx.Request.URL.RequestURI()
		e, gen, ok := c.get(page, key)
		if ok {
			ctx.Header("X-Cache", "HIT")
			ctx.Data(e.status, e.contentType, e.body)
			ctx.Abort()
			return
		}
		rec := &recorder{ResponseWriter: ctx.Writer}
		ctx.Writer = rec
		ctx.Header("X-Cache", "MISS")
		ctx.Next()
		if rec.Status() == http.StatusOK {
			stored := c.put(key, &entry{
				page:        page,
				status:      rec.Status(),
				contentType: rec.Header().Get("Content-Type"),
				body:        append([]byte(nil), rec.buf.Bytes()...),
			}, gen)
			if !stored {
				log.Printf("[REVALIDATE] page=%s invalidated during render, not cached", page)
			}
		}
	}
}
