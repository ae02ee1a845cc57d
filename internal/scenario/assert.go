package scenario

import "cmp"

// Check fails with the formatted message unless cond holds.
func Check(cond bool, format string, args ...any) error {
	if cond {
		return nil
	}
	return Failf(format, args...)
}

// Equal fails when got differs from want.
func Equal[T comparable](what string, got, want T) error {
	if got == want {
		return nil
	}
	return Failf("expected %s to equal %#v, got %#v", what, want, got)
}

// Greater fails unless got > than.
func Greater[T cmp.Ordered](what string, got, than T) error {
	if got > than {
		return nil
	}
	return Failf("expected %s to be greater than %v, got %v", what, than, got)
}

// All returns the first failing check.
func All(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
