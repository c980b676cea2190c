package realtime

import (
	"Quill/internal/core/posts"
	"context"
)

// Problem is one defect found in a stored post document
type Problem struct {
	PostID string `json:"postId"`
	Kind   string `json:"kind"` // "malformed" or "duplicate_comment_id"
	Detail string `json:"detail"`
}

// AuditReport summarizes a scan of every stored post
type AuditReport struct {
	Problems []Problem `json:"problems"`
	Scanned  int       `json:"scanned"`
	Valid    int       `json:"valid"`
}

// Audit scans every post document through the schema decoder and reports
// malformed documents and comment ids used more than once within a post
func (a *SyncAdapter) Audit(ctx context.Context) (*AuditReport, error) {
	snap, err := a.store.Get(ctx, PostsPath)
	if err != nil {
		return nil, posts.NewRemoteFailure("audit", err)
	}
	children, err := snap.Children()
	if err != nil {
		return nil, posts.NewRemoteFailure("audit", err)
	}

	report := &AuditReport{Problems: []Problem{}}
	for _, child := range children {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++

		post, err := decodePost(child)
		if err != nil {
			report.Problems = append(report.Problems, Problem{
				PostID: child.Key,
				Kind:   "malformed",
				Detail: err.Error(),
			})
			continue
		}

		seen := make(map[string]bool)
		clean := true
		post.Comments.Walk(func(c posts.Comment, _ int) bool {
			if seen[c.ID] {
				clean = false
				report.Problems = append(report.Problems, Problem{
					PostID: child.Key,
					Kind:   "duplicate_comment_id",
					Detail: c.ID,
				})
			}
			seen[c.ID] = true
			return true
		})
		if clean {
			report.Valid++
		}
	}
	return report, nil
}
