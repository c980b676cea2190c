package posts

// Counter is a non-negative tally that only ever grows by one.
// There is deliberately no decrement: likes cannot be withdrawn.
type Counter int

// Increment returns the counter advanced by one
func (c Counter) Increment() Counter {
	if c < 0 {
		return 1
	}
	return c + 1
}

// Int returns the counter value
func (c Counter) Int() int {
	return int(c)
}
