package cluster

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/wyfcoding/geodist/cache"
	"github.com/wyfcoding/geodist/geo"
	"github.com/wyfcoding/geodist/logging"
	"github.com/wyfcoding/geodist/metrics"
	"github.com/wyfcoding/geodist/tracing"
	"github.com/wyfcoding/geodist/xerrors"
)

// Listener 接收聚合结果的变化通知，回调在 Overlay 的锁之外执行，参数均为副本。
type Listener[T any] interface {
	// ClustersReset 视口变化或清空后，全部聚合被替换。
	ClustersReset(clusters []Cluster[T])
	// ClusterAdded 新增的点在可视范围内且没有可依附的聚合，以它为中心新建了聚合。
	ClusterAdded(cluster Cluster[T])
	// ClusterUpdated 新增的点并入了已有聚合。
	ClusterUpdated(cluster Cluster[T])
}

type overlayOptions struct {
	Name     string
	Cache    cache.Cache
	CacheTTL time.Duration
	Metrics  *metrics.Metrics
	Logger   *logging.Logger
}

// Option 定义 Overlay 的配置选项。
type Option func(*overlayOptions)

// WithName 设置覆盖层名称，用于指标标签与缓存键。
func WithName(name string) Option {
	return func(o *overlayOptions) {
		o.Name = name
	}
}

// WithCache 启用聚合结果快照缓存。
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(o *overlayOptions) {
		o.Cache = c
		o.CacheTTL = ttl
	}
}

// WithMetrics 注入指标采集器.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *overlayOptions) {
		o.Metrics = m
	}
}

// WithLogger 设置日志记录器。
func WithLogger(l *logging.Logger) Option {
	return func(o *overlayOptions) {
		o.Logger = l
	}
}

// snapshot 是缓存中保存的聚合结果，只记录成员下标。
type snapshot struct {
	Groups [][]int `json:"groups"`
}

// Overlay 维护一组待聚合的点和当前视口下的聚合结果，可被多个 goroutine 并发使用。
type Overlay[T any] struct {
	mu       sync.RWMutex
	sf       singleflight.Group
	options  *overlayOptions
	listener Listener[T]

	clusterSize    int
	items          []Item[T]
	clusters       []*Cluster[T]
	extent         Extent
	extentKey      string
	metersPerPixel float64
	distance       float64
	hasViewport    bool
	stale          bool   // 视口已更新但聚合结果尚未按新视口计算成功
	generation     uint64 // 点集每次变化时递增
}

// NewOverlay 创建覆盖层，clusterSize 为聚合范围（像素），必须为正数。
func NewOverlay[T any](clusterSize int, opts ...Option) (*Overlay[T], error) {
	if clusterSize <= 0 {
		return nil, xerrors.ErrInvalidClusterSize.WithContext("cluster_size", clusterSize)
	}

	options := &overlayOptions{Name: "default"}
	for _, opt := range opts {
		opt(options)
	}
	if options.Logger == nil {
		options.Logger = logging.Default()
	}

	return &Overlay[T]{
		options:     options,
		clusterSize: clusterSize,
	}, nil
}

// SetListener 设置变化通知的接收者，传入 nil 取消通知。
func (o *Overlay[T]) SetListener(l Listener[T]) {
	o.mu.Lock()
	o.listener = l
	o.mu.Unlock()
}

// Distance 返回当前聚合距离阈值（米）。
func (o *Overlay[T]) Distance() float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.distance
}

// Extent 返回当前视口。
func (o *Overlay[T]) Extent() Extent {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.extent
}

// SetViewport 更新视口与比例尺（每像素米数）。
// 只有格式化后的视口键或比例尺发生变化时才重新聚合；计算期间视口再次变化时本次结果被丢弃。
// 计算失败时视口被标记为过期，以相同参数再次调用会重新聚合。
func (o *Overlay[T]) SetViewport(ctx context.Context, extent Extent, metersPerPixel float64) error {
	key := extent.Key()

	o.mu.Lock()
	if o.hasViewport && !o.stale && key == o.extentKey && metersPerPixel == o.metersPerPixel {
		o.mu.Unlock()
		return nil
	}
	o.extent = extent
	o.extentKey = key
	o.metersPerPixel = metersPerPixel
	o.distance = metersPerPixel * float64(o.clusterSize)
	o.hasViewport = true
	o.stale = true
	o.mu.Unlock()

	return o.recompute(ctx)
}

// Refresh 按当前视口强制重新聚合。
func (o *Overlay[T]) Refresh(ctx context.Context) error {
	o.mu.RLock()
	ok := o.hasViewport
	o.mu.RUnlock()
	if !ok {
		return nil
	}
	return o.recompute(ctx)
}

func (o *Overlay[T]) recompute(ctx context.Context) (err error) {
	ctx, span := tracing.StartSpan(ctx, "cluster.Overlay.recompute")
	defer func() {
		tracing.SetError(ctx, err)
		span.End()
	}()
	tracing.AddTag(ctx, "overlay", o.options.Name)

	for {
		o.mu.RLock()
		items := o.items[:len(o.items):len(o.items)]
		extent, key, distance, gen := o.extent, o.extentKey, o.distance, o.generation
		o.mu.RUnlock()

		start := time.Now()
		groups, mode, gerr := o.groups(ctx, items, extent, key, distance)
		if gerr != nil {
			return gerr
		}
		o.observe(mode, start)
		tracing.AddTag(ctx, "mode", mode)
		tracing.AddTag(ctx, "items", len(items))

		o.mu.Lock()
		if key != o.extentKey || distance != o.distance {
			// 已有更新的视口，由其负责输出结果
			o.mu.Unlock()
			return nil
		}
		if gen != o.generation {
			o.mu.Unlock()
			continue
		}
		o.clusters = buildClusters(items, groups)
		o.stale = false
		reset := o.snapshotLocked()
		listener := o.listener
		o.mu.Unlock()

		o.setClusterCount(len(reset))
		o.options.Logger.DebugContext(ctx, "clusters recomputed", "overlay", o.options.Name, "items", len(items), "clusters", len(reset), "mode", mode)
		if listener != nil {
			listener.ClustersReset(reset)
		}
		return nil
	}
}

// groups 返回成员下标，优先读取快照缓存；相同键的并发计算只执行一次。
func (o *Overlay[T]) groups(ctx context.Context, items []Item[T], extent Extent, key string, distance float64) ([][]int, string, error) {
	cacheKey := o.cacheKey(items, key, distance)
	v, err, _ := o.sf.Do(cacheKey, func() (any, error) {
		if groups, ok := o.loadSnapshot(ctx, cacheKey, len(items)); ok {
			return cachedGroups(groups), nil
		}
		groups, err := assignIndices(ctx, len(items), func(i int) geo.Point { return items[i].Point }, extent, distance)
		if err != nil {
			return nil, err
		}
		o.storeSnapshot(ctx, cacheKey, groups)
		return groups, nil
	})
	if err != nil {
		return nil, "", err
	}
	if g, ok := v.(cachedGroups); ok {
		return g, "cached", nil
	}
	return v.([][]int), "full", nil
}

type cachedGroups [][]int

func (o *Overlay[T]) loadSnapshot(ctx context.Context, key string, n int) ([][]int, bool) {
	if o.options.Cache == nil {
		return nil, false
	}
	var s snapshot
	if err := o.options.Cache.Get(ctx, key, &s); err != nil {
		if !cache.IsMiss(err) {
			o.options.Logger.WarnContext(ctx, "failed to load cluster snapshot", "key", key, "error", err)
		}
		return nil, false
	}
	for _, g := range s.Groups {
		if len(g) == 0 {
			return nil, false
		}
		for _, idx := range g {
			if idx < 0 || idx >= n {
				o.options.Logger.WarnContext(ctx, "discarding stale cluster snapshot", "key", key)
				return nil, false
			}
		}
	}
	return s.Groups, true
}

func (o *Overlay[T]) storeSnapshot(ctx context.Context, key string, groups [][]int) {
	if o.options.Cache == nil {
		return
	}
	if err := o.options.Cache.Set(ctx, key, snapshot{Groups: groups}, o.options.CacheTTL); err != nil {
		o.options.Logger.WarnContext(ctx, "failed to store cluster snapshot", "key", key, "error", err)
	}
}

// cacheKey 由覆盖层名称、视口键、距离阈值与点集指纹组成。
func (o *Overlay[T]) cacheKey(items []Item[T], extentKey string, distance float64) string {
	h := fnv.New64a()
	var buf [16]byte
	for _, it := range items {
		binary.LittleEndian.PutUint64(buf[:8], math.Float64bits(it.Point.Lng))
		binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(it.Point.Lat))
		_, _ = h.Write(buf[:])
	}
	return fmt.Sprintf("cluster:%s:%s:%s:%d:%x",
		o.options.Name, extentKey, strconv.FormatFloat(distance, 'g', -1, 64), len(items), h.Sum64())
}

// AddItem 添加一个点。点在当前视口内时并入最近的聚合或新建聚合，并通知 Listener。
func (o *Overlay[T]) AddItem(ctx context.Context, item Item[T]) {
	start := time.Now()

	o.mu.Lock()
	o.items = append(o.items, item)
	o.generation++
	// 过期视口下的聚合属于旧视口，等待下一次完整聚合
	if !o.hasViewport || o.stale || !o.extent.Contains(item.Point) {
		o.mu.Unlock()
		return
	}

	added := false
	c := Nearest(o.clusters, item.Point, o.distance)
	if c != nil {
		c.Items = append(c.Items, item)
	} else {
		c = &Cluster[T]{Center: item.Point, Items: []Item[T]{item}}
		o.clusters = append(o.clusters, c)
		added = true
	}
	changed := c.clone()
	count := len(o.clusters)
	listener := o.listener
	o.mu.Unlock()

	o.observe("single", start)
	o.setClusterCount(count)
	o.options.Logger.DebugContext(ctx, "cluster item added", "overlay", o.options.Name, "new_cluster", added, "size", changed.Size())
	if listener == nil {
		return
	}
	if added {
		listener.ClusterAdded(changed)
	} else {
		listener.ClusterUpdated(changed)
	}
}

// Clear 移除全部点与聚合。
func (o *Overlay[T]) Clear() {
	o.mu.Lock()
	o.items = nil
	o.clusters = nil
	o.stale = false
	o.generation++
	listener := o.listener
	o.mu.Unlock()

	o.setClusterCount(0)
	if listener != nil {
		listener.ClustersReset(nil)
	}
}

// Clusters 返回当前聚合结果的副本。
func (o *Overlay[T]) Clusters() []Cluster[T] {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.snapshotLocked()
}

// Items 返回已添加的点数（含视口外的点）。
func (o *Overlay[T]) Items() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.items)
}

func (o *Overlay[T]) snapshotLocked() []Cluster[T] {
	out := make([]Cluster[T], len(o.clusters))
	for i, c := range o.clusters {
		out[i] = c.clone()
	}
	return out
}

func (o *Overlay[T]) observe(mode string, start time.Time) {
	if o.options.Metrics == nil {
		return
	}
	o.options.Metrics.ClusterPassDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
}

func (o *Overlay[T]) setClusterCount(n int) {
	if o.options.Metrics == nil {
		return
	}
	o.options.Metrics.ClusterCount.WithLabelValues(o.options.Name).Set(float64(n))
}
