package posts

const (
	// MinRating is the lowest star value a post can receive
	MinRating = 1
	// MaxRating is the highest star value a post can receive
	MaxRating = 5
)

// Ledger is the append-only history of star ratings a post received, one entry
// per rating event. The same user may rate repeatedly; every event counts.
type Ledger []int

// Append returns a new ledger with value added at the end.
// Values outside [MinRating, MaxRating] fail with ErrInvalidRating and the
// receiver is never modified.
func (l Ledger) Append(value int) (Ledger, error) {
	if value < MinRating || value > MaxRating {
		return l, NewInvalidRatingError(value)
	}
	out := make(Ledger, len(l), len(l)+1)
	copy(out, l)
	return append(out, value), nil
}

// Count is the number of rating events
func (l Ledger) Count() int {
	return len(l)
}

// Average is the arithmetic mean of all ratings, 0 for an empty ledger
func (l Ledger) Average() float64 {
	if len(l) == 0 {
		return 0
	}
	sum := 0
	for _, v := range l {
		sum += v
	}
	return float64(sum) / float64(len(l))
}

func (l Ledger) clone() Ledger {
	if l == nil {
		return nil
	}
	out := make(Ledger, len(l))
	copy(out, l)
	return out
}
