package posts

// Tree is the ordered forest of top-level comments of a post.
// Every operation is pure: the receiver is never modified and the result
// shares no slices with it.
type Tree []Comment

// InsertComment returns a new tree with c appended at root level
func (t Tree) InsertComment(c Comment) Tree {
	out := t.clone()
	if out == nil {
		out = Tree{}
	}
	return append(out, c.clone())
}

// InsertReply returns a new tree with reply appended to the replies of the
// node identified by parentID, at whatever depth it lives.
// Returns ErrParentNotFound and the unchanged receiver when no node matches.
func (t Tree) InsertReply(parentID string, reply Comment) (Tree, error) {
	out := t.clone()
	node := out.find(parentID)
	if node == nil {
		return t, NewParentNotFoundError(parentID)
	}
	node.Replies = append(node.Replies, reply.clone())
	return out, nil
}

// ReactTo returns a new tree where the like or dislike counter of exactly the
// node identified by targetID is incremented.
// Returns ErrNodeNotFound and the unchanged receiver when no node matches.
func (t Tree) ReactTo(targetID string, reaction Reaction) (Tree, error) {
	if !reaction.Valid() {
		return t, NewValidationError("reaction", "must be like or dislike")
	}
	out := t.clone()
	node := out.find(targetID)
	if node == nil {
		return t, NewNodeNotFoundError(targetID)
	}
	switch reaction {
	case ReactionLike:
		node.Likes = node.Likes.Increment()
	case ReactionDislike:
		node.Dislikes = node.Dislikes.Increment()
	}
	return out, nil
}

// Find returns a copy of the node with the given id
func (t Tree) Find(id string) (Comment, bool) {
	node := t.find(id)
	if node == nil {
		return Comment{}, false
	}
	return node.clone(), true
}

// Contains reports whether any node at any depth has the given id
func (t Tree) Contains(id string) bool {
	return t.find(id) != nil
}

// Len counts every node of the tree, replies included
func (t Tree) Len() int {
	n := 0
	t.Walk(func(Comment, int) bool {
		n++
		return true
	})
	return n
}

// Walk visits nodes depth-first, pre-order, in sibling order. depth is 0 for
// top-level comments. Returning false from fn stops the walk.
func (t Tree) Walk(fn func(c Comment, depth int) bool) {
	walk(t, 0, fn)
}

func walk(nodes []Comment, depth int, fn func(Comment, int) bool) bool {
	for i := range nodes {
		if !fn(nodes[i], depth) {
			return false
		}
		if !walk(nodes[i].Replies, depth+1, fn) {
			return false
		}
	}
	return true
}

// find returns a pointer into t for in-place edits of a cloned tree.
// The first match in depth-first order wins.
func (t Tree) find(id string) *Comment {
	return findIn(t, id)
}

func findIn(nodes []Comment, id string) *Comment {
	for i := range nodes {
		if nodes[i].ID == id {
			return &nodes[i]
		}
		if found := findIn(nodes[i].Replies, id); found != nil {
			return found
		}
	}
	return nil
}

func (t Tree) clone() Tree {
	if t == nil {
		return nil
	}
	out := make(Tree, len(t))
	for i := range t {
		out[i] = t[i].clone()
	}
	return out
}

func (c Comment) clone() Comment {
	out := c
	if c.Replies != nil {
		out.Replies = make([]Comment, len(c.Replies))
		for i := range c.Replies {
			out.Replies[i] = c.Replies[i].clone()
		}
	}
	return out
}
