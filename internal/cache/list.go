package cache

// node is an element of the recency list. It carries the key so the owning
// map entry can be found when the node is evicted from the back.
type node[K comparable] struct {
	key        K
	prev, next *node[K]
}

// list is a doubly-linked recency list built around a sentinel root.
// root.next is the most recently used node, root.prev the least.
type list[K comparable] struct {
	root node[K]
	len  int
}

func (l *list[K]) init() {
	l.root.next = &l.root
	l.root.prev = &l.root
	l.len = 0
}

func (l *list[K]) lazyInit() {
	if l.root.next == nil {
		l.init()
	}
}

// pushFront inserts key as the most recently used node.
func (l *list[K]) pushFront(key K) *node[K] {
	l.lazyInit()
	n := &node[K]{key: key}
	l.insertAfter(n, &l.root)
	return n
}

// moveToFront marks n as the most recently used node.
func (l *list[K]) moveToFront(n *node[K]) {
	if l.root.next == n {
		return
	}
	l.unlink(n)
	l.insertAfter(n, &l.root)
}

// remove detaches n from the list.
func (l *list[K]) remove(n *node[K]) {
	if n.prev == nil {
		return
	}
	l.unlink(n)
}

// back returns the least recently used node, or nil when empty.
func (l *list[K]) back() *node[K] {
	if l.len == 0 {
		return nil
	}
	return l.root.prev
}

// front returns the most recently used node, or nil when empty.
func (l *list[K]) front() *node[K] {
	if l.len == 0 {
		return nil
	}
	return l.root.next
}

func (l *list[K]) insertAfter(n, at *node[K]) {
	n.prev = at
	n.next = at.next
	at.next.prev = n
	at.next = n
	l.len++
}

func (l *list[K]) unlink(n *node[K]) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev = nil
	n.next = nil
	l.len--
}
