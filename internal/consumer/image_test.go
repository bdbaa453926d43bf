package consumer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/imgcache/internal/cache"
	"github.com/any-hub/imgcache/internal/logging"
)

func newEngine(t *testing.T, limit int64) *cache.Engine {
	t.Helper()
	engine, err := cache.New(cache.Options{
		BasePath:   t.TempDir(),
		PruneLimit: limit,
		Logger:     logging.Discard(),
	})
	require.NoError(t, err)
	return engine
}

func newUpstream(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestImageMountLocksAndUnmountReleases(t *testing.T) {
	up := newUpstream(t, "pixels")
	engine := newEngine(t, cache.DefaultPruneLimit)

	img, err := NewImage(engine, URLPolicy{}, up.URL+"/hero.png", Options{})
	require.NoError(t, err)
	assert.NotEmpty(t, img.HolderID())

	_, err = img.LocalFile()
	require.ErrorIs(t, err, ErrNotMounted)

	file, err := img.Mount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cache.NamespaceCache, file.Namespace)
	assert.True(t, engine.Locks().IsLocked(img.Key()))

	assert.True(t, img.Fetched(), "first mount downloads")

	body, err := os.ReadFile(file.Path)
	require.NoError(t, err)
	assert.Equal(t, "pixels", string(body))

	again, err := NewImage(engine, URLPolicy{}, up.URL+"/hero.png", Options{})
	require.NoError(t, err)
	_, err = again.Mount(context.Background())
	require.NoError(t, err)
	assert.False(t, again.Fetched(), "second mount is served from disk")
	again.Unmount()

	img.Unmount()
	img.Unmount()
	assert.False(t, engine.Locks().IsLocked(img.Key()))
	assert.Equal(t, 0, engine.Locks().Len())
}

func TestImageRejectsInvalidSource(t *testing.T) {
	engine := newEngine(t, cache.DefaultPruneLimit)
	_, err := NewImage(engine, URLPolicy{HostWhitelist: []string{"cdn.example.com"}}, "https://other.example.com/a.png", Options{})
	require.ErrorIs(t, err, ErrInvalidSource)
}

func TestMountedImageSurvivesConcurrentPrune(t *testing.T) {
	up := newUpstream(t, "0123456789")
	engine := newEngine(t, 9)

	first, err := NewImage(engine, URLPolicy{}, up.URL+"/first.png", Options{})
	require.NoError(t, err)
	firstFile, err := first.Mount(context.Background())
	require.NoError(t, err)
	require.NoError(t, os.Chtimes(firstFile.Path, time.Now().Add(-time.Hour), time.Now().Add(-time.Hour)))

	// 第二张图片写入 cache 前会触发淘汰；first 仍处于挂载状态。
	second, err := NewImage(engine, URLPolicy{}, up.URL+"/second.png", Options{})
	require.NoError(t, err)
	_, err = second.Mount(context.Background())
	require.NoError(t, err)

	_, err = os.Stat(firstFile.Path)
	require.NoError(t, err, "mounted image must not be pruned")

	first.Unmount()
	result, err := engine.PruneNow(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Removed, 1)
	assert.Equal(t, first.Key(), result.Removed[0].Key)
	assert.Equal(t, 1, result.SkippedLocked)
	second.Unmount()
}

func TestManyImagesSameSource(t *testing.T) {
	up := newUpstream(t, "bullet")
	engine := newEngine(t, cache.DefaultPruneLimit)
	source := up.URL + "/bullet.gif"

	images := make([]*Image, 20)
	var wg sync.WaitGroup
	for i := range images {
		img, err := NewImage(engine, URLPolicy{}, source, Options{})
		require.NoError(t, err)
		images[i] = img
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := img.Mount(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	key := images[0].Key()
	assert.Len(t, engine.Locks().Holders(key), len(images))
	for _, img := range images {
		img.Unmount()
	}
	assert.False(t, engine.Locks().IsLocked(key))
}
