// cmd contains shared helpers for the command line binaries.
package cmd

// GetOrPanic unwraps a (value, error) pair, panicking on error.
func GetOrPanic[T any](v T, err error) T {
	OrPanic(err)

	return v
}

// OrPanic panics if the error is not nil.
func OrPanic(err error) {
	if err != nil {
		panic(err)
	}
}
