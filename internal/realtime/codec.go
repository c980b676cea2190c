package realtime

import (
	"Quill/internal/core/posts"
	"Quill/internal/docstore"
	"bytes"
	"encoding/json"
	"fmt"
)

// decodePost validates and unmarshals the document behind snap.
// Missing collections decode as empty ones.
func decodePost(snap *docstore.Snapshot) (*posts.Post, error) {
	if err := validateDocument(snap.Value); err != nil {
		return nil, err
	}
	var post posts.Post
	if err := json.Unmarshal(snap.Value, &post); err != nil {
		return nil, fmt.Errorf("failed to decode post %s: %w", snap.Key, err)
	}
	post.ID = snap.Key
	fillEmpty(&post)
	return &post, nil
}

// encodeFields splits a post into its top-level document fields
func encodeFields(p *posts.Post) (map[string]json.RawMessage, error) {
	clean := p.Clone()
	fillEmpty(clean)
	data, err := json.Marshal(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to encode post: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to encode post: %w", err)
	}
	return fields, nil
}

// diffFields returns the minimal patch turning before into after: only fields
// whose encoded value changed, with nil marking a removed field
func diffFields(before, after *posts.Post) (map[string]any, error) {
	old, err := encodeFields(before)
	if err != nil {
		return nil, err
	}
	next, err := encodeFields(after)
	if err != nil {
		return nil, err
	}
	patch := make(map[string]any)
	for key, value := range next {
		if prev, ok := old[key]; ok && bytes.Equal(prev, value) {
			continue
		}
		patch[key] = value
	}
	for key := range old {
		if _, ok := next[key]; !ok {
			patch[key] = nil
		}
	}
	return patch, nil
}

// encodeDocument returns the whole document body of p
func encodeDocument(p *posts.Post) (map[string]any, error) {
	fields, err := encodeFields(p)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out, nil
}

// fillEmpty replaces nil collections so documents never carry null arrays
func fillEmpty(p *posts.Post) {
	if p.Ratings == nil {
		p.Ratings = posts.Ledger{}
	}
	if p.Comments == nil {
		p.Comments = posts.Tree{}
	}
	for i := range p.Comments {
		fillReplies(&p.Comments[i])
	}
}

func fillReplies(c *posts.Comment) {
	if c.Replies == nil {
		c.Replies = []posts.Comment{}
	}
	for i := range c.Replies {
		fillReplies(&c.Replies[i])
	}
}
