package cluster

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/wyfcoding/geodist/cache"
	"github.com/wyfcoding/geodist/geo"
	"github.com/wyfcoding/geodist/metrics"
	"github.com/wyfcoding/geodist/xerrors"
)

type recorder struct {
	mu      sync.Mutex
	resets  [][]Cluster[string]
	added   []Cluster[string]
	updated []Cluster[string]
}

func (r *recorder) ClustersReset(c []Cluster[string]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets = append(r.resets, c)
}

func (r *recorder) ClusterAdded(c Cluster[string]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.added = append(r.added, c)
}

func (r *recorder) ClusterUpdated(c Cluster[string]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updated = append(r.updated, c)
}

// memCache 是记录调用次数的内存 Cache。
type memCache struct {
	mu   sync.Mutex
	data map[string]snapshot
	gets int
	hits int
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string]snapshot)}
}

func (c *memCache) Get(_ context.Context, key string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	s, ok := c.data[key]
	if !ok {
		return xerrors.ErrCacheMiss
	}
	c.hits++
	*(value.(*snapshot)) = s
	return nil
}

func (c *memCache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value.(snapshot)
	return nil
}

func (c *memCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
	}
	return nil
}

func (c *memCache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok, nil
}

func (c *memCache) Close() error { return nil }

func newTestOverlay(t *testing.T, opts ...Option) (*Overlay[string], *recorder) {
	t.Helper()
	o, err := NewOverlay[string](50, opts...)
	require.NoError(t, err)
	r := &recorder{}
	o.SetListener(r)
	return o, r
}

func TestNewOverlay_InvalidSize(t *testing.T) {
	for _, size := range []int{0, -3} {
		_, err := NewOverlay[string](size)
		assert.True(t, errors.Is(err, xerrors.ErrInvalidClusterSize), "size %d", size)
	}
}

func TestOverlay_SetViewport(t *testing.T) {
	ctx := context.Background()
	m := metrics.NewMetrics("geodist-test")
	o, r := newTestOverlay(t, WithName("stations"), WithMetrics(m))

	for _, it := range sampleItems() {
		o.AddItem(ctx, it)
	}
	assert.Equal(t, 7, o.Items())
	assert.Empty(t, o.Clusters(), "nothing is clustered before a viewport is set")
	assert.Empty(t, r.added)

	// 10 米/像素 × 50 像素 = 500 米
	require.NoError(t, o.SetViewport(ctx, testExtent, 10))
	assert.InDelta(t, 500, o.Distance(), 1e-9)
	assert.Equal(t, testExtent, o.Extent())
	require.Len(t, r.resets, 1)
	require.Len(t, r.resets[0], 3)
	assert.Equal(t, []string{"a", "b", "d"}, values(r.resets[0][0]))
	assert.InDelta(t, 3, testutil.ToFloat64(m.ClusterCount.WithLabelValues("stations")), 0)

	// 格式化后相同的视口不会触发重新聚合
	jitter := testExtent
	jitter.MaxLng += 1e-9
	require.NoError(t, o.SetViewport(ctx, jitter, 10))
	assert.Len(t, r.resets, 1)

	// 比例尺变化会重新聚合：3 米/像素 → 150 米，d 与 a 相距约 389 米
	require.NoError(t, o.SetViewport(ctx, testExtent, 3))
	require.Len(t, r.resets, 2)
	assert.Equal(t, []string{"a", "b"}, values(r.resets[1][0]))
	assert.Len(t, o.Clusters(), 4)
}

func TestOverlay_AddItem(t *testing.T) {
	ctx := context.Background()
	o, r := newTestOverlay(t)
	require.NoError(t, o.SetViewport(ctx, testExtent, 10))
	require.Len(t, r.resets, 1)
	assert.Empty(t, r.resets[0])

	o.AddItem(ctx, Item[string]{Point: geo.Point{Lng: 0.001, Lat: 0.001}, Value: "a"})
	o.AddItem(ctx, Item[string]{Point: geo.Point{Lng: 0.002, Lat: 0.001}, Value: "b"})
	o.AddItem(ctx, Item[string]{Point: geo.Point{Lng: 0.5, Lat: 0.5}, Value: "c"})
	o.AddItem(ctx, Item[string]{Point: geo.Point{Lng: 5, Lat: 5}, Value: "outside"})

	require.Len(t, r.added, 2)
	require.Len(t, r.updated, 1)
	assert.Equal(t, []string{"a", "b"}, values(r.updated[0]))
	assert.Equal(t, []string{"c"}, values(r.added[1]))
	assert.Equal(t, 4, o.Items())

	// 回调拿到的是副本
	r.updated[0].Items[0].Value = "mutated"
	assert.Equal(t, "a", o.Clusters()[0].Items[0].Value)

	o.Clear()
	assert.Equal(t, 0, o.Items())
	assert.Empty(t, o.Clusters())
	require.Len(t, r.resets, 2)
	assert.Empty(t, r.resets[1])
}

func TestOverlay_SnapshotCache(t *testing.T) {
	ctx := context.Background()
	mc := newMemCache()

	first, _ := newTestOverlay(t, WithName("shared"), WithCache(mc, time.Minute))
	second, _ := newTestOverlay(t, WithName("shared"), WithCache(mc, time.Minute))
	for _, it := range sampleItems() {
		first.AddItem(ctx, it)
		second.AddItem(ctx, it)
	}

	require.NoError(t, first.SetViewport(ctx, testExtent, 10))
	assert.Equal(t, 0, mc.hits)
	assert.Len(t, mc.data, 1)

	require.NoError(t, second.SetViewport(ctx, testExtent, 10))
	assert.Equal(t, 1, mc.hits)
	assert.Equal(t, first.Clusters(), second.Clusters())

	// 点集变化后指纹不同，不会读到旧快照
	second.AddItem(ctx, Item[string]{Point: geo.Point{Lng: -0.5, Lat: -0.5}, Value: "g"})
	require.NoError(t, second.Refresh(ctx))
	assert.Equal(t, 1, mc.hits)
	assert.Len(t, second.Clusters(), 4)
}

func TestOverlay_StaleSnapshotIgnored(t *testing.T) {
	ctx := context.Background()
	mc := newMemCache()
	o, _ := newTestOverlay(t, WithCache(mc, 0))
	items := sampleItems()
	for _, it := range items {
		o.AddItem(ctx, it)
	}

	key := o.cacheKey(items, testExtent.Key(), 500)
	mc.data[key] = snapshot{Groups: [][]int{{0, 99}}}

	require.NoError(t, o.SetViewport(ctx, testExtent, 10))
	assert.Len(t, o.Clusters(), 3)
}

func TestOverlay_BigCacheBacked(t *testing.T) {
	ctx := context.Background()
	bc, err := cache.NewBigCache(ctx, time.Minute, 0)
	require.NoError(t, err)
	defer bc.Close()

	o, _ := newTestOverlay(t, WithCache(bc, time.Minute))
	for _, it := range sampleItems() {
		o.AddItem(ctx, it)
	}
	require.NoError(t, o.SetViewport(ctx, testExtent, 10))
	require.NoError(t, o.SetViewport(ctx, testExtent, 2))
	require.NoError(t, o.SetViewport(ctx, testExtent, 10))
	assert.Len(t, o.Clusters(), 3)
}

func TestOverlay_Canceled(t *testing.T) {
	o, _ := newTestOverlay(t)
	o.AddItem(context.Background(), Item[string]{Point: geo.Point{Lng: 0.1, Lat: 0.1}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, o.SetViewport(ctx, testExtent, 10), context.Canceled)
	require.NoError(t, o.Refresh(context.Background()))
	assert.Len(t, o.Clusters(), 1)
}

func TestOverlay_RetryViewportAfterFailure(t *testing.T) {
	ctx := context.Background()
	o, r := newTestOverlay(t)
	o.AddItem(ctx, Item[string]{Point: geo.Point{Lng: 0.1, Lat: 0.1}, Value: "a"})
	o.AddItem(ctx, Item[string]{Point: geo.Point{Lng: 5.5, Lat: 5.5}, Value: "b"})

	first := Extent{MinLng: 0, MinLat: 0, MaxLng: 1, MaxLat: 1}
	require.NoError(t, o.SetViewport(ctx, first, 10))
	require.Len(t, o.Clusters(), 1)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	second := Extent{MinLng: 5, MinLat: 5, MaxLng: 6, MaxLat: 6}
	require.ErrorIs(t, o.SetViewport(canceled, second, 10), context.Canceled)

	// 失败后新增的点不能并入旧视口的聚合
	o.AddItem(ctx, Item[string]{Point: geo.Point{Lng: 5.6, Lat: 5.6}, Value: "c"})

	resets := len(r.resets)
	require.NoError(t, o.SetViewport(ctx, second, 10))
	assert.Equal(t, second, o.Extent())
	assert.Greater(t, len(r.resets), resets)

	clusters := o.Clusters()
	require.NotEmpty(t, clusters)
	for _, c := range clusters {
		assert.True(t, second.Contains(c.Center), "center %v outside viewport", c.Center)
	}
	assert.Equal(t, 2, sizeOf(clusters))

	// 成功之后相同参数不再重新聚合
	resets = len(r.resets)
	require.NoError(t, o.SetViewport(ctx, second, 10))
	assert.Len(t, r.resets, resets)
}

func sizeOf(clusters []Cluster[string]) int {
	n := 0
	for _, c := range clusters {
		n += c.Size()
	}
	return n
}

func TestOverlay_Concurrent(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOverlay(t)
	require.NoError(t, o.SetViewport(ctx, testExtent, 10))

	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				o.AddItem(ctx, Item[string]{Point: geo.Point{Lng: float64(g)*0.1 + float64(i)*0.001, Lat: 0.2}})
				if i%10 == 0 {
					assert.NoError(t, o.SetViewport(ctx, testExtent, float64(5+i%20)))
					_ = o.Clusters()
				}
			}
		}()
	}
	wg.Wait()

	require.NoError(t, o.Refresh(ctx))
	o.mu.RLock()
	items := append([]Item[string](nil), o.items...)
	distance := o.distance
	o.mu.RUnlock()

	want, err := Assign(ctx, items, testExtent, distance)
	require.NoError(t, err)
	got := o.Clusters()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Center, got[i].Center)
		assert.Equal(t, want[i].Size(), got[i].Size())
	}
	assert.Equal(t, 400, o.Items())
}

func TestOverlay_RecomputeSpan(t *testing.T) {
	prev := otel.GetTracerProvider()
	rec := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	o, _ := newTestOverlay(t, WithName("traced"))
	for _, it := range sampleItems() {
		o.AddItem(context.Background(), it)
	}
	require.NoError(t, o.SetViewport(context.Background(), testExtent, 10))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, o.SetViewport(ctx, testExtent, 3))

	ended := rec.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, "cluster.Overlay.recompute", ended[0].Name())
	assert.Contains(t, ended[0].Attributes(), attribute.String("mode", "full"))
	assert.Contains(t, ended[0].Attributes(), attribute.Int("items", 7))
	assert.Equal(t, codes.Unset, ended[0].Status().Code)
	assert.Equal(t, codes.Error, ended[1].Status().Code)
}
