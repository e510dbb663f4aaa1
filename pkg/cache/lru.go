package cache

// lruNode is a node in the LRU doubly linked list.
type lruNode struct {
	key  string
	prev *lruNode
	next *lruNode
}

// lruList tracks recency order for the cache with sentinel head/tail.
type lruList struct {
	head  *lruNode
	tail  *lruNode
	nodes map[string]*lruNode
}

func newLRUList() *lruList {
	head := &lruNode{}
	tail := &lruNode{}
	head.next = tail
	tail.prev = head

	return &lruList{
		head:  head,
		tail:  tail,
		nodes: make(map[string]*lruNode),
	}
}

func (l *lruList) addToFront(key string) {
	if node, exists := l.nodes[key]; exists {
		l.removeNode(node)
	}

	node := &lruNode{key: key}
	node.prev = l.head
	node.next = l.head.next
	l.head.next.prev = node
	l.head.next = node

	l.nodes[key] = node
}

func (l *lruList) moveToFront(key string) {
	if node, exists := l.nodes[key]; exists {
		l.removeNode(node)
		l.addToFront(key)
	}
}

func (l *lruList) remove(key string) {
	if node, exists := l.nodes[key]; exists {
		l.removeNode(node)
		delete(l.nodes, key)
	}
}

// removeLast evicts and returns the least recently used key, or "" when
// the list is empty.
func (l *lruList) removeLast() string {
	if l.tail.prev == l.head {
		return ""
	}

	lastNode := l.tail.prev
	key := lastNode.key

	l.removeNode(lastNode)
	delete(l.nodes, key)

	return key
}

func (l *lruList) removeNode(node *lruNode) {
	node.prev.next = node.next
	node.next.prev = node.prev
}

func (l *lruList) size() int {
	return len(l.nodes)
}
