package posts

import (
	"fmt"
	"strings"
	"time"

	"github.com/rivo/uniseg"
)

const (
	maxTitleGraphemes   = 300
	maxContentGraphemes = 100000

	// maxCommentGraphemes is the maximum length for comment text in graphemes
	maxCommentGraphemes = 10000
)

// MutationKind names the logical mutation behind an intent
type MutationKind string

const (
	MutationLike    MutationKind = "like"
	MutationRate    MutationKind = "rate"
	MutationComment MutationKind = "comment"
	MutationReply   MutationKind = "reply"
	MutationReact   MutationKind = "react"
	MutationEdit    MutationKind = "edit"
)

// MutationState is the lifecycle of one optimistic mutation:
// Pending, then exactly one of Committed or RolledBack.
type MutationState string

const (
	MutationPending    MutationState = "pending"
	MutationCommitted  MutationState = "committed"
	MutationRolledBack MutationState = "rolled_back"
)

// MutationInfo describes a mutation transition to observers
type MutationInfo struct {
	Err   error         `json:"-"`
	ID    string        `json:"id"`
	Kind  MutationKind  `json:"kind"`
	State MutationState `json:"state"`
}

// mutation is one pending optimistic change held by an aggregate
type mutation struct {
	apply MutateFunc
	id    string
	kind  MutationKind
}

// LikeMutation returns the mutation that adds one like to the post
func LikeMutation() MutateFunc {
	return func(p *Post) (*Post, error) {
		out := p.Clone()
		out.Likes = out.Likes.Increment()
		return out, nil
	}
}

// RateMutation returns the mutation that appends value to the rating ledger
func RateMutation(value int) MutateFunc {
	return func(p *Post) (*Post, error) {
		ratings, err := p.Ratings.Append(value)
		if err != nil {
			return nil, err
		}
		out := p.Clone()
		out.Ratings = ratings
		return out, nil
	}
}

// CommentMutation returns the mutation that appends c at root level.
// A tree that already holds c.ID is returned unchanged so the mutation can be
// replayed over a state that already reflects it.
func CommentMutation(c Comment) MutateFunc {
	return func(p *Post) (*Post, error) {
		if p.Comments.Contains(c.ID) {
			return p, nil
		}
		out := p.Clone()
		out.Comments = out.Comments.InsertComment(c)
		return out, nil
	}
}

// ReplyMutation returns the mutation that appends reply under parentID
func ReplyMutation(parentID string, reply Comment) MutateFunc {
	return func(p *Post) (*Post, error) {
		if p.Comments.Contains(reply.ID) {
			return p, nil
		}
		tree, err := p.Comments.InsertReply(parentID, reply)
		if err != nil {
			return nil, err
		}
		out := p.Clone()
		out.Comments = tree
		return out, nil
	}
}

// ReactMutation returns the mutation that increments one comment's like or dislike counter
func ReactMutation(commentID string, reaction Reaction) MutateFunc {
	return func(p *Post) (*Post, error) {
		tree, err := p.Comments.ReactTo(commentID, reaction)
		if err != nil {
			return nil, err
		}
		out := p.Clone()
		out.Comments = tree
		return out, nil
	}
}

// EditMutation returns the mutation that replaces title and content on behalf of
// actorID. The ownership check runs against whatever state it is applied to,
// so a remote author change is caught at commit time too.
func EditMutation(actorID string, req EditPostRequest, now time.Time) MutateFunc {
	title := strings.TrimSpace(req.Title)
	content := strings.TrimSpace(req.Content)
	return func(p *Post) (*Post, error) {
		if !p.IsAuthor(actorID) {
			return nil, NewAuthorizationError("edit post", actorID)
		}
		out := p.Clone()
		out.Title = title
		out.Content = content
		updated := now.UTC()
		out.UpdatedAt = &updated
		return out, nil
	}
}

// ValidateTitleContent checks the fields shared by create and edit
func ValidateTitleContent(title, content string) error {
	title = strings.TrimSpace(title)
	content = strings.TrimSpace(content)
	if title == "" {
		return NewValidationError("title", "title is required")
	}
	if uniseg.GraphemeClusterCount(title) > maxTitleGraphemes {
		return NewValidationError("title",
			fmt.Sprintf("title too long (max %d graphemes)", maxTitleGraphemes))
	}
	if content == "" {
		return NewValidationError("content", "content is required")
	}
	if uniseg.GraphemeClusterCount(content) > maxContentGraphemes {
		return NewValidationError("content",
			fmt.Sprintf("content too long (max %d graphemes)", maxContentGraphemes))
	}
	return nil
}

// ValidateCommentText checks comment and reply text
func ValidateCommentText(text string) error {
	if strings.TrimSpace(text) == "" {
		return NewValidationError("text", "comment text is required")
	}
	if uniseg.GraphemeClusterCount(text) > maxCommentGraphemes {
		return NewValidationError("text",
			fmt.Sprintf("comment too long (max %d graphemes)", maxCommentGraphemes))
	}
	return nil
}
