package checkout

// optimisticUpdate applies next locally before commit confirms it.
// When commit fails the value read by get is applied again and the error returned.
func optimisticUpdate[T any](get func() T, apply func(T), commit func(T) error, next T) error {
	prev := get()
	apply(next)
	if err := commit(next); err != nil {
		apply(prev)
		return err
	}
	return nil
}
