package segmentation

import "github.com/mcserep/PointCloudTools/internal/vegetation/clustermap"

type cell struct {
	x, y int
}

// expansion is the set of cells a cluster may claim in one round, kept in
// (Y, X) order with a membership index and bounding box for fast
// intersection tests.
type expansion struct {
	points                 []clustermap.Point
	members                map[cell]struct{}
	minX, minY, maxX, maxY int
}

func newExpansion() expansion {
	return expansion{members: make(map[cell]struct{})}
}

func (e *expansion) add(p clustermap.Point) {
	if len(e.points) == 0 {
		e.minX, e.maxX, e.minY, e.maxY = p.X, p.X, p.Y, p.Y
	} else {
		e.minX = min(e.minX, p.X)
		e.maxX = max(e.maxX, p.X)
		e.minY = min(e.minY, p.Y)
		e.maxY = max(e.maxY, p.Y)
	}
	e.points = append(e.points, p)
	e.members[cell{p.X, p.Y}] = struct{}{}
}

func (e *expansion) contains(p clustermap.Point) bool {
	_, ok := e.members[cell{p.X, p.Y}]
	return ok
}

func (e *expansion) overlaps(o *expansion) bool {
	if len(e.points) == 0 || len(o.points) == 0 {
		return false
	}
	return e.minX <= o.maxX && o.minX <= e.maxX && e.minY <= o.maxY && o.minY <= e.maxY
}
