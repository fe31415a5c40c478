package cascade

import (
	"image"
	"math"
)

// DefaultGroupEps is the relative tolerance used when clustering raw hits.
const DefaultGroupEps = 0.2

// GroupRectangles clusters overlapping raw detections the way OpenCV's
// groupRectangles does. Rectangles are partitioned by a similarity
// predicate (transitively), clusters with minNeighbors or fewer members are
// dropped, and each survivor becomes the rounded mean of its members.
// Small clusters nested inside a stronger one are removed as well. Output
// follows the order in which each cluster's first member appeared.
// With minNeighbors <= 0 the input is returned unchanged.
func GroupRectangles(rects []image.Rectangle, minNeighbors int, eps float64) []image.Rectangle {
	if minNeighbors <= 0 || len(rects) == 0 {
		out := make([]image.Rectangle, len(rects))
		copy(out, rects)
		return out
	}

	labels, nclasses := partition(rects, eps)

	sums := make([][4]int, nclasses)
	counts := make([]int, nclasses)
	for i, r := range rects {
		c := labels[i]
		sums[c][0] += r.Min.X
		sums[c][1] += r.Min.Y
		sums[c][2] += r.Dx()
		sums[c][3] += r.Dy()
		counts[c]++
	}

	means := make([]image.Rectangle, nclasses)
	for c := range means {
		s := 1.0 / float64(counts[c])
		x := roundInt(float64(sums[c][0]) * s)
		y := roundInt(float64(sums[c][1]) * s)
		w := roundInt(float64(sums[c][2]) * s)
		h := roundInt(float64(sums[c][3]) * s)
		means[c] = image.Rect(x, y, x+w, y+h)
	}

	out := make([]image.Rectangle, 0, nclasses)
	for i, r1 := range means {
		n1 := counts[i]
		if n1 <= minNeighbors {
			continue
		}
		if nestedInStronger(i, r1, n1, means, counts, minNeighbors, eps) {
			continue
		}
		out = append(out, r1)
	}
	return out
}

func nestedInStronger(i int, r1 image.Rectangle, n1 int, means []image.Rectangle, counts []int, minNeighbors int, eps float64) bool {
	for j, r2 := range means {
		n2 := counts[j]
		if j == i || n2 <= minNeighbors {
			continue
		}
		dx := roundInt(float64(r2.Dx()) * eps)
		dy := roundInt(float64(r2.Dy()) * eps)
		inside := r1.Min.X >= r2.Min.X-dx &&
			r1.Min.Y >= r2.Min.Y-dy &&
			r1.Max.X <= r2.Max.X+dx &&
			r1.Max.Y <= r2.Max.Y+dy
		if inside && (n2 > max(3, n1) || n1 < 3) {
			return true
		}
	}
	return false
}

// similarRects reports whether two rectangles are close enough to belong to
// the same object.
func similarRects(a, b image.Rectangle, eps float64) bool {
	delta := eps * float64(min(a.Dx(), b.Dx())+min(a.Dy(), b.Dy())) * 0.5
	return math.Abs(float64(a.Min.X-b.Min.X)) <= delta &&
		math.Abs(float64(a.Min.Y-b.Min.Y)) <= delta &&
		math.Abs(float64(a.Max.X-b.Max.X)) <= delta &&
		math.Abs(float64(a.Max.Y-b.Max.Y)) <= delta
}

// partition assigns an equivalence class to each rectangle with union-find.
// Class numbers follow the first appearance of a class member.
func partition(rects []image.Rectangle, eps float64) ([]int, int) {
	parent := make([]int, len(rects))
	for i := range parent {
		parent[i] = i
	}
	find := func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}

	for i := range rects {
		for j := i + 1; j < len(rects); j++ {
			if !similarRects(rects[i], rects[j], eps) {
				continue
			}
			ri, rj := find(i), find(j)
			if ri != rj {
				if ri < rj {
					parent[rj] = ri
				} else {
					parent[ri] = rj
				}
			}
		}
	}

	labels := make([]int, len(rects))
	classOf := make(map[int]int)
	for i := range rects {
		root := find(i)
		c, ok := classOf[root]
		if !ok {
			c = len(classOf)
			classOf[root] = c
		}
		labels[i] = c
	}
	return labels, len(classOf)
}

func roundInt(v float64) int {
	return int(math.Round(v))
}
