package revalidate

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func setupRouter(c *Cache, hits *int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/registrations", c.Page(PageRegistrations), func(ctx *gin.Context) {
		*hits++
		ctx.JSON(http.StatusOK, gin.H{"hits": *hits})
	})
	r.GET("/classes", c.Page(PageClasses), func(ctx *gin.Context) {
		*hits++
		ctx.JSON(http.StatusOK, gin.H{"hits": *hits})
	})
	r.GET("/broken", c.Page(PageClasses), func(ctx *gin.Context) {
		*hits++
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "x"})
	})
	return r
}

func get(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestPage_cachesUntilInvalidated(t *testing.T) {
	c := New(16)
	hits := 0
	r := setupRouter(c, &hits)

	first := get(r, "/registrations?status=ENROLLED")
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
	second := get(r, "/registrations?status=ENROLLED")
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, hits)

	// other query string is its own entry
	get(r, "/registrations")
	assert.Equal(t, 2, hits)

	get(r, "/classes")
	c.Invalidate(PageRegistrations)
	assert.Equal(t, 1, c.Len())

	third := get(r, "/registrations?status=ENROLLED")
	assert.Equal(t, "MISS", third.Header().Get("X-Cache"))
	assert.Equal(t, 4, hits)
	assert.Equal(t, "HIT", get(r, "/classes").Header().Get("X-Cache"))
}

func TestPage_invalidationDuringRenderIsNotCached(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c := New(16)
	var mu sync.Mutex
	data := "old"
	rendering, release := make(chan struct{}), make(chan struct{})

	r := gin.New()
	r.GET("/registrations", c.Page(PageRegistrations), func(ctx *gin.Context) {
		mu.Lock()
		body := data
		mu.Unlock()
		if body == "old" {
			close(rendering)
			<-release
		}
		ctx.String(http.StatusOK, body)
	})

	done := make(chan *httptest.ResponseRecorder)
	go func() { done <- get(r, "/registrations") }()
	<-rendering

	mu.Lock()
	data = "new"
	mu.Unlock()
	c.Invalidate(PageRegistrations)
	close(release)

	stale := <-done
	assert.Equal(t, "old", stale.Body.String())
	assert.Equal(t, 0, c.Len())

	next := get(r, "/registrations")
	assert.Equal(t, "MISS", next.Header().Get("X-Cache"))
	assert.Equal(t, "new", next.Body.String())
	assert.Equal(t, "HIT", get(r, "/registrations").Header().Get("X-Cache"))
}

func TestPage_skipsErrors(t *testing.T) {
	c := New(16)
	hits := 0
	r := setupRouter(c, &hits)

	get(r, "/broken")
	get(r, "/broken")
	assert.Equal(t, 2, hits)
	assert.Equal(t, 0, c.Len())
}

func TestEvictionKeepsIndexInSync(t *testing.T) {
	c := New(1)
	hits := 0
	r := setupRouter(c, &hits)

	get(r, "/registrations")
	get(r, "/classes")
	assert.Equal(t, 1, c.Len())
	assert.Empty(t, c.byPage[PageRegistrations])
}

func TestNilCacheIsNoop(t *testing.T) {
	var c *Cache
	c.Invalidate(PageFamilies)
	hits := 0
	r := setupRouter(c, &hits)
	get(r, "/registrations")
	get(r, "/registrations")
	assert.Equal(t, 2, hits)
}
