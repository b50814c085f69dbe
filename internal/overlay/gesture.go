package overlay

import "golang.org/x/net/html"

const (
	InitialWidth        = 600
	InitialHeight       = 100
	InitialBottomOffset = 80

	MinWidth         = 300
	MinHeight        = 50
	ResizeHandleSize = 8
	DragHandleHeight = 24
)

type Size struct {
	Width  int
	Height int
}

// Rect is the panel geometry in page coordinates.
type Rect struct {
	X, Y, W, H int
}

type gestureKind int

const (
	gestureNone gestureKind = iota
	gestureDrag
	gestureResize
)

type gesture struct {
	kind   gestureKind
	edges  string
	startX int
	startY int
	start  Rect
}

func (r *Renderer) Rect() Rect {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rect
}

// MouseDown starts a resize when (x, y) is within ResizeHandleSize of an
// edge and a drag when it is on the drag handle strip. The top edge belongs
// to the drag handle, so only the top corners resize from above. Anything
// else, the caption text included, is ignored. It reports whether a gesture
// started.
func (r *Renderer) MouseDown(x, y int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.panel == nil || !r.rect.contains(x, y) {
		return false
	}

	g := gesture{startX: x, startY: y, start: r.rect}
	if edges := r.rect.edgesAt(x, y); edges != "" {
		g.kind = gestureResize
		g.edges = edges
	} else if y < r.rect.Y+DragHandleHeight {
		g.kind = gestureDrag
	} else {
		return false
	}
	r.gesture = g
	return true
}

func (r *Renderer) MouseMove(x, y int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.panel == nil || r.gesture.kind == gestureNone {
		return
	}

	g := r.gesture
	dx, dy := x-g.startX, y-g.startY
	next := g.start
	switch g.kind {
	case gestureDrag:
		next.X += dx
		next.Y += dy
	case gestureResize:
		next = resize(g.start, g.edges, dx, dy)
	}
	r.rect = next
	r.applyRect(r.panel)
}

func (r *Renderer) MouseUp() {
	r.mu.Lock()
	r.gesture = gesture{}
	r.mu.Unlock()
}

func (r *Renderer) applyRect(panel *html.Node) {
	setStyle(panel, "left", px(r.rect.X))
	setStyle(panel, "top", px(r.rect.Y))
	setStyle(panel, "width", px(r.rect.W))
	setStyle(panel, "height", px(r.rect.H))
}

func (rc Rect) contains(x, y int) bool {
	return x >= rc.X && x < rc.X+rc.W && y >= rc.Y && y < rc.Y+rc.H
}

// edgesAt returns the compass edges ("nw", "s", "se", ...) under the point.
// A bare "n" is never returned.
func (rc Rect) edgesAt(x, y int) string {
	var edges string
	switch {
	case y < rc.Y+ResizeHandleSize:
		edges = "n"
	case y >= rc.Y+rc.H-ResizeHandleSize:
		edges = "s"
	}
	switch {
	case x < rc.X+ResizeHandleSize:
		edges += "w"
	case x >= rc.X+rc.W-ResizeHandleSize:
		edges += "e"
	}
	if edges == "n" {
		return ""
	}
	return edges
}

func resize(start Rect, edges string, dx, dy int) Rect {
	next := start
	for _, e := range edges {
		switch e {
		case 'e':
			next.W = max(MinWidth, start.W+dx)
		case 'w':
			next.W = max(MinWidth, start.W-dx)
			next.X = start.X + start.W - next.W
		case 's':
			next.H = max(MinHeight, start.H+dy)
		case 'n':
			next.H = max(MinHeight, start.H-dy)
			next.Y = start.Y + start.H - next.H
		}
	}
	return next
}
