// Package cluster 实现基于距离阈值的点聚合。
//
// 聚合采用单遍贪心策略：按输入顺序遍历可视范围内的点，点与某个已有聚合中心的
// 球面距离小于阈值时并入第一个满足条件的聚合，否则以自身为中心新建聚合。
// Overlay 在此基础上维护视口状态，支持增量添加与结果快照缓存。
package cluster

import (
	"context"

	"github.com/wyfcoding/geodist/geo"
)

// Item 是参与聚合的原始点及其业务数据。
type Item[T any] struct {
	Point geo.Point
	Value T
}

// Cluster 是聚合结果，Center 为创建该聚合的第一个点的位置。
type Cluster[T any] struct {
	Center geo.Point
	Items  []Item[T]
}

// Size 返回聚合内的点数。
func (c *Cluster[T]) Size() int {
	return len(c.Items)
}

func (c *Cluster[T]) clone() Cluster[T] {
	items := make([]Item[T], len(c.Items))
	copy(items, c.Items)
	return Cluster[T]{Center: c.Center, Items: items}
}

// Nearest 按插入顺序返回第一个中心距 p 小于 distance 米的聚合，没有则返回 nil。
func Nearest[T any](clusters []*Cluster[T], p geo.Point, distance float64) *Cluster[T] {
	if i := nearestIndex(len(clusters), func(i int) geo.Point { return clusters[i].Center }, p, distance); i >= 0 {
		return clusters[i]
	}
	return nil
}

func nearestIndex(n int, center func(int) geo.Point, p geo.Point, distance float64) int {
	for i := range n {
		c := center(i)
		if float64(geo.LineDistance(&p, &c)) < distance {
			return i
		}
	}
	return -1
}

// Assign 对 items 做一次完整聚合，extent 之外的点被忽略。
// 每处理一个点前检查 ctx，被取消时返回 ctx.Err()。
func Assign[T any](ctx context.Context, items []Item[T], extent Extent, distance float64) ([]*Cluster[T], error) {
	groups, err := assignIndices(ctx, len(items), func(i int) geo.Point { return items[i].Point }, extent, distance)
	if err != nil {
		return nil, err
	}
	return buildClusters(items, groups), nil
}

// assignIndices 返回聚合的成员下标，每组第一个下标即聚合中心。
func assignIndices(ctx context.Context, n int, point func(int) geo.Point, extent Extent, distance float64) ([][]int, error) {
	var groups [][]int
	for i := range n {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := point(i)
		if !extent.Contains(p) {
			continue
		}
		j := nearestIndex(len(groups), func(g int) geo.Point { return point(groups[g][0]) }, p, distance)
		if j >= 0 {
			groups[j] = append(groups[j], i)
			continue
		}
		groups = append(groups, []int{i})
	}
	return groups, nil
}

func buildClusters[T any](items []Item[T], groups [][]int) []*Cluster[T] {
	clusters := make([]*Cluster[T], 0, len(groups))
	for _, g := range groups {
		c := &Cluster[T]{Center: items[g[0]].Point, Items: make([]Item[T], 0, len(g))}
		for _, idx := range g {
			c.Items = append(c.Items, items[idx])
		}
		clusters = append(clusters, c)
	}
	return clusters
}
