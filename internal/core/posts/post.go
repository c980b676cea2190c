package posts

import (
	"time"
)

// Post is one blog post document together with its embedded likes, ratings and
// comment tree. The whole value is the unit of consistency: every mutation is
// read-modify-written against the entire post.
type Post struct {
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
	ID        string     `json:"-"` // Store push key, never part of the document body
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	AuthorID  string     `json:"authorId"`
	Ratings   Ledger     `json:"ratings"`
	Comments  Tree       `json:"comments"`
	Likes     Counter    `json:"likes"`
}

// Clone returns a deep copy safe to mutate independently
func (p *Post) Clone() *Post {
	if p == nil {
		return nil
	}
	out := *p
	if p.UpdatedAt != nil {
		updated := *p.UpdatedAt
		out.UpdatedAt = &updated
	}
	out.Ratings = p.Ratings.clone()
	out.Comments = p.Comments.clone()
	return &out
}

// IsAuthor reports whether actorID owns the post
func (p *Post) IsAuthor(actorID string) bool {
	return actorID != "" && p.AuthorID == actorID
}

// Comment is a node of a post's comment tree. Top-level comments and replies
// share the same shape; replies nest to any depth.
type Comment struct {
	CreatedAt time.Time `json:"createdAt"`
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	AuthorID  string    `json:"authorId,omitempty"`
	Replies   []Comment `json:"replies"`
	Likes     Counter   `json:"likes"`
	Dislikes  Counter   `json:"dislikes"`
}

// Reaction is the kind of vote cast on a comment
type Reaction string

const (
	ReactionLike    Reaction = "like"
	ReactionDislike Reaction = "dislike"
)

// Valid reports whether r is a known reaction
func (r Reaction) Valid() bool {
	return r == ReactionLike || r == ReactionDislike
}

// Actor is the signed-in user an intent is issued on behalf of
type Actor struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// CreatePostRequest is the input of CreatePost
type CreatePostRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// EditPostRequest is the input of EditPost. Both fields are required, matching
// the edit form which always submits title and content together.
type EditPostRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// PostView is the presentation shape of a post: the document plus derived stats
type PostView struct {
	Post          *Post   `json:"post"`
	ID            string  `json:"id"`
	RatingAverage float64 `json:"ratingAverage"`
	RatingCount   int     `json:"ratingCount"`
	CommentCount  int     `json:"commentCount"`
	CanEdit       bool    `json:"canEdit"`
}

// NewPostView derives the view of p for viewerID (empty for anonymous)
func NewPostView(p *Post, viewerID string) *PostView {
	if p == nil {
		return nil
	}
	return &PostView{
		ID:            p.ID,
		Post:          p,
		RatingAverage: p.Ratings.Average(),
		RatingCount:   p.Ratings.Count(),
		CommentCount:  p.Comments.Len(),
		CanEdit:       p.IsAuthor(viewerID),
	}
}
