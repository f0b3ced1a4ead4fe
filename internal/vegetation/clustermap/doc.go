// Package clustermap owns the partition of raster grid points into crown
// clusters.
//
// Responsibilities: point-to-cluster lookup, cluster creation and growth,
// merging, pruning, centre of mass and growth-frontier discovery.
// Key types: Point, ClusterMap.
//
// A ClusterMap is not safe for concurrent mutation. Concurrent readers are
// fine as long as no goroutine mutates the map at the same time.
package clustermap
