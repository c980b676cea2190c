package posts

import (
	"errors"
	"fmt"
)

// Sentinel errors for post operations
var (
	// ErrNotFound is returned when a post document does not exist
	ErrNotFound = errors.New("post not found")

	// ErrParentNotFound is returned when a reply targets a comment id absent from the tree
	ErrParentNotFound = errors.New("parent comment not found")

	// ErrNodeNotFound is returned when a reaction targets a comment id absent from the tree
	ErrNodeNotFound = errors.New("comment not found")

	// ErrInvalidRating is returned for ratings outside 1..5
	ErrInvalidRating = errors.New("rating must be between 1 and 5")

	// ErrNotAuthorized is returned when the actor does not own the post
	ErrNotAuthorized = errors.New("not authorized to modify this post")

	// ErrAuthRequired is returned when a mutating intent has no signed-in actor
	ErrAuthRequired = errors.New("authentication required")

	// ErrClosed is returned by an aggregate after Close or after its post was deleted
	ErrClosed = errors.New("post aggregate closed")
)

// ValidationError represents a validation error with field context
type ValidationError struct {
	Err     error // Optional sentinel, e.g. ErrInvalidRating
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error (%s): %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewInvalidRatingError creates the validation error for an out-of-range rating
func NewInvalidRatingError(value int) error {
	return &ValidationError{
		Field:   "rating",
		Message: fmt.Sprintf("%d is out of range %d..%d", value, MinRating, MaxRating),
		Err:     ErrInvalidRating,
	}
}

// IsValidationError checks if error is a validation error
func IsValidationError(err error) bool {
	var valErr *ValidationError
	return errors.As(err, &valErr)
}

// AuthorizationError is returned when an actor may not perform an action
type AuthorizationError struct {
	Err     error // ErrNotAuthorized or ErrAuthRequired
	Action  string
	ActorID string
}

func (e *AuthorizationError) Error() string {
	if e.ActorID == "" {
		return fmt.Sprintf("%s: %v", e.Action, e.Err)
	}
	return fmt.Sprintf("%s by %s: %v", e.Action, e.ActorID, e.Err)
}

func (e *AuthorizationError) Unwrap() error {
	return e.Err
}

// NewAuthorizationError creates an ownership failure for actorID
func NewAuthorizationError(action, actorID string) error {
	return &AuthorizationError{Action: action, ActorID: actorID, Err: ErrNotAuthorized}
}

// NewAuthRequiredError creates the failure for an anonymous mutating intent
func NewAuthRequiredError(action string) error {
	return &AuthorizationError{Action: action, Err: ErrAuthRequired}
}

// IsAuthorizationError checks if error is an authorization error
func IsAuthorizationError(err error) bool {
	var authErr *AuthorizationError
	return errors.As(err, &authErr)
}

// IsAuthRequired reports whether err was caused by a missing actor
func IsAuthRequired(err error) bool {
	return errors.Is(err, ErrAuthRequired)
}

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Err      error  // ErrNotFound, ErrParentNotFound or ErrNodeNotFound
	Resource string // e.g., "post", "comment"
	ID       string // Resource identifier
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}

// NewNotFoundError creates a new post not found error
func NewNotFoundError(resource, id string) error {
	return &NotFoundError{
		Resource: resource,
		ID:       id,
		Err:      ErrNotFound,
	}
}

// NewParentNotFoundError creates the failure of a reply to a missing comment
func NewParentNotFoundError(id string) error {
	return &NotFoundError{Resource: "parent comment", ID: id, Err: ErrParentNotFound}
}

// NewNodeNotFoundError creates the failure of a reaction to a missing comment
func NewNodeNotFoundError(id string) error {
	return &NotFoundError{Resource: "comment", ID: id, Err: ErrNodeNotFound}
}

// IsNotFound checks if error is a not found error
func IsNotFound(err error) bool {
	var notFoundErr *NotFoundError
	return errors.As(err, &notFoundErr) || errors.Is(err, ErrNotFound)
}

// RemoteFailure wraps a document store failure or a malformed remote document.
// Optimistic mutations that end in a RemoteFailure are rolled back.
type RemoteFailure struct {
	Err error
	Op  string // e.g., "load", "commit", "decode"
}

func (e *RemoteFailure) Error() string {
	return fmt.Sprintf("remote %s failed: %v", e.Op, e.Err)
}

func (e *RemoteFailure) Unwrap() error {
	return e.Err
}

// NewRemoteFailure wraps err as a remote failure of op. Errors that already
// carry a domain classification are returned unchanged.
func NewRemoteFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsRemoteFailure(err) || IsNotFound(err) || IsValidationError(err) || IsAuthorizationError(err) {
		return err
	}
	return &RemoteFailure{Op: op, Err: err}
}

// IsRemoteFailure checks if error is a remote failure
func IsRemoteFailure(err error) bool {
	var remote *RemoteFailure
	return errors.As(err, &remote)
}
