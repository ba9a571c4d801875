package book

// Red-black tree keyed by price with PriceLevel payloads. Gives the side
// index O(log n) insert/remove and ordered min/max/neighbour traversal for
// walking a market order through progressively worse prices.

type color uint8

const (
	red   color = 0
	black color = 1
)

type treeNode struct {
	price  int64
	level  *PriceLevel
	color  color
	left   *treeNode
	right  *treeNode
	parent *treeNode
}

type tree struct {
	root     *treeNode
	sentinel *treeNode // shared black leaf
	size     int
}

func newTree() *tree {
	s := &treeNode{color: black}
	return &tree{root: s, sentinel: s}
}

func (t *tree) len() int { return t.size }

// find returns the level at exactly price, or nil.
func (t *tree) find(price int64) *PriceLevel {
	n := t.root
	for n != t.sentinel {
		switch {
		case price < n.price:
			n = n.left
		case price > n.price:
			n = n.right
		default:
			return n.level
		}
	}
	return nil
}

// upsert returns the level at price, creating it if absent.
func (t *tree) upsert(price int64) *PriceLevel {
	parent := t.sentinel
	n := t.root
	for n != t.sentinel {
		parent = n
		switch {
		case price < n.price:
			n = n.left
		case price > n.price:
			n = n.right
		default:
			return n.level
		}
	}

	lvl := &PriceLevel{Price: price}
	z := &treeNode{
		price:  price,
		level:  lvl,
		color:  red,
		left:   t.sentinel,
		right:  t.sentinel,
		parent: parent,
	}
	switch {
	case parent == t.sentinel:
		t.root = z
	case price < parent.price:
		parent.left = z
	default:
		parent.right = z
	}
	t.insertFixup(z)
	t.size++
	return lvl
}

// delete removes the node at price. Returns false if absent.
func (t *tree) delete(price int64) bool {
	z := t.search(price)
	if z == t.sentinel {
		return false
	}
	t.deleteNode(z)
	t.size--
	return true
}

func (t *tree) min() *PriceLevel {
	n := t.minNode(t.root)
	if n == t.sentinel {
		return nil
	}
	return n.level
}

func (t *tree) max() *PriceLevel {
	n := t.maxNode(t.root)
	if n == t.sentinel {
		return nil
	}
	return n.level
}

// successor returns the level with the smallest price strictly above price.
func (t *tree) successor(price int64) *PriceLevel {
	n := t.root
	succ := t.sentinel
	for n != t.sentinel {
		if price < n.price {
			succ = n
			n = n.left
		} else {
			n = n.right
		}
	}
	if succ == t.sentinel {
		return nil
	}
	return succ.level
}

// predecessor returns the level with the largest price strictly below price.
func (t *tree) predecessor(price int64) *PriceLevel {
	n := t.root
	pred := t.sentinel
	for n != t.sentinel {
		if price > n.price {
			pred = n
			n = n.right
		} else {
			n = n.left
		}
	}
	if pred == t.sentinel {
		return nil
	}
	return pred.level
}

func (t *tree) ascend(fn func(*PriceLevel) bool) {
	for n := t.minNode(t.root); n != t.sentinel; n = t.next(n) {
		if !fn(n.level) {
			return
		}
	}
}

func (t *tree) descend(fn func(*PriceLevel) bool) {
	for n := t.maxNode(t.root); n != t.sentinel; n = t.prev(n) {
		if !fn(n.level) {
			return
		}
	}
}

func (t *tree) search(price int64) *treeNode {
	n := t.root
	for n != t.sentinel {
		switch {
		case price < n.price:
			n = n.left
		case price > n.price:
			n = n.right
		default:
			return n
		}
	}
	return t.sentinel
}

func (t *tree) minNode(n *treeNode) *treeNode {
	if n == t.sentinel {
		return t.sentinel
	}
	for n.left != t.sentinel {
		n = n.left
	}
	return n
}

func (t *tree) maxNode(n *treeNode) *treeNode {
	if n == t.sentinel {
		return t.sentinel
	}
	for n.right != t.sentinel {
		n = n.right
	}
	return n
}

func (t *tree) next(n *treeNode) *treeNode {
	if n.right != t.sentinel {
		return t.minNode(n.right)
	}
	p := n.parent
	for p != t.sentinel && n == p.right {
		n = p
		p = p.parent
	}
	return p
}

func (t *tree) prev(n *treeNode) *treeNode {
	if n.left != t.sentinel {
		return t.maxNode(n.left)
	}
	p := n.parent
	for p != t.sentinel && n == p.left {
		n = p
		p = p.parent
	}
	return p
}

func (t *tree) leftRotate(x *treeNode) {
	y := x.right
	x.right = y.left
	if y.left != t.sentinel {
		y.left.parent = x
	}
	y.parent = x.parent
	if x.parent == t.sentinel {
		t.root = y
	} else if x == x.parent.left {
		x.parent.left = y
	} else {
		x.parent.right = y
	}
	y.left = x
	x.parent = y
}

func (t *tree) rightRotate(y *treeNode) {
	x := y.left
	y.left = x.right
	if x.right != t.sentinel {
		x.right.parent = y
	}
	x.parent = y.parent
	if y.parent == t.sentinel {
		t.root = x
	} else if y == y.parent.right {
		y.parent.right = x
	} else {
		y.parent.left = x
	}
	x.right = y
	y.parent = x
}

func (t *tree) insertFixup(z *treeNode) {
	for z.parent.color == red {
		if z.parent == z.parent.parent.left {
			y := z.parent.parent.right
			if y.color == red {
				z.parent.color = black
				y.color = black
				z.parent.parent.color = red
				z = z.parent.parent
			} else {
				if z == z.parent.right {
					z = z.parent
					t.leftRotate(z)
				}
				z.parent.color = black
				z.parent.parent.color = red
				t.rightRotate(z.parent.parent)
			}
		} else {
			y := z.parent.parent.left
			if y.color == red {
				z.parent.color = black
				y.color = black
				z.parent.parent.color = red
				z = z.parent.parent
			} else {
				if z == z.parent.left {
					z = z.parent
					t.rightRotate(z)
				}
				z.parent.color = black
				z.parent.parent.color = red
				t.leftRotate(z.parent.parent)
			}
		}
	}
	t.root.color = black
}

func (t *tree) transplant(u, v *treeNode) {
	if u.parent == t.sentinel {
		t.root = v
	} else if u == u.parent.left {
		u.parent.left = v
	} else {
		u.parent.right = v
	}
	v.parent = u.parent
}

func (t *tree) deleteNode(z *treeNode) {
	y := z
	yColor := y.color
	var x *treeNode

	if z.left == t.sentinel {
		x = z.right
		t.transplant(z, z.right)
	} else if z.right == t.sentinel {
		x = z.left
		t.transplant(z, z.left)
	} else {
		y = t.minNode(z.right)
		yColor = y.color
		x = y.right
		if y.parent == z {
			x.parent = y
		} else {
			t.transplant(y, y.right)
			y.right = z.right
			y.right.parent = y
		}
		t.transplant(z, y)
		y.left = z.left
		y.left.parent = y
		y.color = z.color
	}

	if yColor == black {
		t.deleteFixup(x)
	}
}

func (t *tree) deleteFixup(x *treeNode) {
	for x != t.root && x.color == black {
		if x == x.parent.left {
			w := x.parent.right
			if w.color == red {
				w.color = black
				x.parent.color = red
				t.leftRotate(x.parent)
				w = x.parent.right
			}
			if w.left.color == black && w.right.color == black {
				w.color = red
				x = x.parent
			} else {
				if w.right.color == black {
					w.left.color = black
					w.color = red
					t.rightRotate(w)
					w = x.parent.right
				}
				w.color = x.parent.color
				x.parent.color = black
				w.right.color = black
				t.leftRotate(x.parent)
				x = t.root
			}
		} else {
			w := x.parent.left
			if w.color == red {
				w.color = black
				x.parent.color = red
				t.rightRotate(x.parent)
				w = x.parent.left
			}
			if w.right.color == black && w.left.color == black {
				w.color = red
				x = x.parent
			} else {
				if w.left.color == black {
					w.right.color = black
					w.color = red
					t.leftRotate(x.parent)
					w = x.parent.left
				}
				w.color = x.parent.color
				x.parent.color = black
				w.left.color = black
				t.rightRotate(x.parent)
				x = t.root
			}
		}
	}
	x.color = black
}
