package descriptor

// DescriptionTree is the extended metadata of a stream: an ordered tree
// of named nodes, each either an element with children or a text leaf.
// Nodes live in an owned arena and are addressed by index, so handles
// stay valid across mutation and no foreign tree library is exposed.
type DescriptionTree struct {
	nodes []node
}

// nilNode marks the absence of a node link.
const nilNode = -1

type node struct {
	name  string
	value string
	text  bool

	parent     int
	firstChild int
	lastChild  int
	next       int
	prev       int

	// removed nodes stay in the arena but are unreachable
	removed bool
}

// NewTree creates a tree whose root element has the given name.
func NewTree(rootName string) *DescriptionTree {
	t := &DescriptionTree{}
	t.alloc(node{
		name:       rootName,
		parent:     nilNode,
		firstChild: nilNode,
		lastChild:  nilNode,
		next:       nilNode,
		prev:       nilNode,
	})
	return t
}

func (t *DescriptionTree) alloc(n node) int {
	t.nodes = append(t.nodes, n)
	return len(t.nodes) - 1
}

// Root returns the root element of the tree.
func (t *DescriptionTree) Root() Node {
	return Node{tree: t, idx: 0}
}

// Clone returns a deep copy of the tree.
func (t *DescriptionTree) Clone() *DescriptionTree {
	c := &DescriptionTree{nodes: make([]node, len(t.nodes))}
	copy(c.nodes, t.nodes)
	return c
}

// Node is a handle to one tree node. The zero Node is empty; navigation
// off the edge of the tree yields empty nodes rather than errors, so
// chains like n.Child("channels").FirstChild().Value() are safe.
type Node struct {
	tree *DescriptionTree
	idx  int
}

// Empty reports whether the handle refers to no node.
func (n Node) Empty() bool {
	return n.tree == nil || n.idx < 0 || n.idx >= len(n.tree.nodes) || n.tree.nodes[n.idx].removed
}

// IsText reports whether the node is a text leaf.
func (n Node) IsText() bool {
	return !n.Empty() && n.tree.nodes[n.idx].text
}

// Name returns the element name, or "" for text leaves and empty nodes.
func (n Node) Name() string {
	if n.Empty() {
		return ""
	}
	return n.tree.nodes[n.idx].name
}

// Value returns the node text: for a text leaf its own content, for an
// element the content of its first text child.
func (n Node) Value() string {
	if n.Empty() {
		return ""
	}
	nd := n.tree.nodes[n.idx]
	if nd.text {
		return nd.value
	}
	for c := n.FirstChildAny(); !c.Empty(); c = c.NextSiblingAny() {
		if c.IsText() {
			return c.tree.nodes[c.idx].value
		}
	}
	return ""
}

// ChildValue returns the value of the first child element with the
// given name.
func (n Node) ChildValue(name string) string {
	return n.Child(name).Value()
}

func (n Node) link(idx int) Node {
	if idx == nilNode {
		return Node{}
	}
	return Node{tree: n.tree, idx: idx}
}

// FirstChildAny returns the first child of any kind, including text.
func (n Node) FirstChildAny() Node {
	if n.Empty() {
		return Node{}
	}
	return n.link(n.tree.nodes[n.idx].firstChild)
}

// FirstChild returns the first child element, skipping text leaves.
func (n Node) FirstChild() Node {
	c := n.FirstChildAny()
	for !c.Empty() && c.IsText() {
		c = c.NextSiblingAny()
	}
	return c
}

// LastChild returns the last child element, skipping text leaves.
func (n Node) LastChild() Node {
	if n.Empty() {
		return Node{}
	}
	c := n.link(n.tree.nodes[n.idx].lastChild)
	for !c.Empty() && c.IsText() {
		c = c.PreviousSiblingAny()
	}
	return c
}

// NextSiblingAny returns the next sibling of any kind.
func (n Node) NextSiblingAny() Node {
	if n.Empty() {
		return Node{}
	}
	return n.link(n.tree.nodes[n.idx].next)
}

// NextSibling returns the next sibling element.
func (n Node) NextSibling() Node {
	s := n.NextSiblingAny()
	for !s.Empty() && s.IsText() {
		s = s.NextSiblingAny()
	}
	return s
}

// NextSiblingNamed returns the next sibling element with the given name.
func (n Node) NextSiblingNamed(name string) Node {
	for s := n.NextSibling(); !s.Empty(); s = s.NextSibling() {
		if s.Name() == name {
			return s
		}
	}
	return Node{}
}

// PreviousSiblingAny returns the previous sibling of any kind.
func (n Node) PreviousSiblingAny() Node {
	if n.Empty() {
		return Node{}
	}
	return n.link(n.tree.nodes[n.idx].prev)
}

// PreviousSibling returns the previous sibling element.
func (n Node) PreviousSibling() Node {
	s := n.PreviousSiblingAny()
	for !s.Empty() && s.IsText() {
		s = s.PreviousSiblingAny()
	}
	return s
}

// PreviousSiblingNamed returns the previous sibling element with the
// given name.
func (n Node) PreviousSiblingNamed(name string) Node {
	for s := n.PreviousSibling(); !s.Empty(); s = s.PreviousSibling() {
		if s.Name() == name {
			return s
		}
	}
	return Node{}
}

// Parent returns the parent node.
func (n Node) Parent() Node {
	if n.Empty() {
		return Node{}
	}
	return n.link(n.tree.nodes[n.idx].parent)
}

// Child returns the first child element with the given name.
func (n Node) Child(name string) Node {
	for c := n.FirstChild(); !c.Empty(); c = c.NextSibling() {
		if c.Name() == name {
			return c
		}
	}
	return Node{}
}

// appendNode links a freshly allocated node as the last child of n.
func (n Node) appendNode(nd node) Node {
	if n.Empty() {
		return Node{}
	}
	t := n.tree
	nd.parent = n.idx
	nd.firstChild = nilNode
	nd.lastChild = nilNode
	nd.next = nilNode
	nd.prev = t.nodes[n.idx].lastChild
	idx := t.alloc(nd)

	if t.nodes[n.idx].lastChild != nilNode {
		t.nodes[t.nodes[n.idx].lastChild].next = idx
	} else {
		t.nodes[n.idx].firstChild = idx
	}
	t.nodes[n.idx].lastChild = idx
	return Node{tree: t, idx: idx}
}

// AppendChild appends a child element with the given name and returns it.
func (n Node) AppendChild(name string) Node {
	return n.appendNode(node{name: name})
}

// PrependChild inserts a child element with the given name before all
// existing children and returns it.
func (n Node) PrependChild(name string) Node {
	if n.Empty() {
		return Node{}
	}
	t := n.tree
	nd := node{
		name:       name,
		parent:     n.idx,
		firstChild: nilNode,
		lastChild:  nilNode,
		prev:       nilNode,
		next:       t.nodes[n.idx].firstChild,
	}
	idx := t.alloc(nd)

	if t.nodes[n.idx].firstChild != nilNode {
		t.nodes[t.nodes[n.idx].firstChild].prev = idx
	} else {
		t.nodes[n.idx].lastChild = idx
	}
	t.nodes[n.idx].firstChild = idx
	return Node{tree: t, idx: idx}
}

// AppendText appends a text leaf with the given content and returns it.
func (n Node) AppendText(value string) Node {
	return n.appendNode(node{value: value, text: true})
}

// AppendChildValue appends a child element holding the given text and
// returns the receiver for chaining.
func (n Node) AppendChildValue(name, value string) Node {
	c := n.AppendChild(name)
	if !c.Empty() {
		c.AppendText(value)
	}
	return n
}

// SetChildValue sets the value of the first child element with the
// given name, creating it if absent, and returns the receiver.
func (n Node) SetChildValue(name, value string) Node {
	c := n.Child(name)
	if c.Empty() {
		return n.AppendChildValue(name, value)
	}
	c.SetValue(value)
	return n
}

// SetName renames an element. Returns false for text leaves and empty
// nodes.
func (n Node) SetName(name string) bool {
	if n.Empty() || n.IsText() {
		return false
	}
	n.tree.nodes[n.idx].name = name
	return true
}

// SetValue replaces the node text: a text leaf's own content, or the
// first text child of an element (created if absent).
func (n Node) SetValue(value string) bool {
	if n.Empty() {
		return false
	}
	if n.IsText() {
		n.tree.nodes[n.idx].value = value
		return true
	}
	for c := n.FirstChildAny(); !c.Empty(); c = c.NextSiblingAny() {
		if c.IsText() {
			c.tree.nodes[c.idx].value = value
			return true
		}
	}
	n.AppendText(value)
	return true
}

// RemoveChild removes the first child element with the given name.
// Returns false if no such child exists.
func (n Node) RemoveChild(name string) bool {
	c := n.Child(name)
	if c.Empty() {
		return false
	}
	return n.RemoveChildNode(c)
}

// RemoveChildNode unlinks a direct child from the tree. The arena slot
// is retained but becomes unreachable.
func (n Node) RemoveChildNode(c Node) bool {
	if n.Empty() || c.Empty() || c.tree != n.tree {
		return false
	}
	t := n.tree
	if t.nodes[c.idx].parent != n.idx {
		return false
	}

	prev := t.nodes[c.idx].prev
	next := t.nodes[c.idx].next
	if prev != nilNode {
		t.nodes[prev].next = next
	} else {
		t.nodes[n.idx].firstChild = next
	}
	if next != nilNode {
		t.nodes[next].prev = prev
	} else {
		t.nodes[n.idx].lastChild = prev
	}

	t.nodes[c.idx].removed = true
	return true
}
