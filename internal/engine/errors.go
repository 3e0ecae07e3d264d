package engine

import "errors"

// Evaluation errors. All are fatal for the running query: the computation is
// synchronous and stateless, so nothing is retried. Null propagation is not
// an error anywhere in this package; absent values travel as nil.
var (
	// ErrTypeMismatch reports an operation applied to a value of the wrong
	// kind, e.g. summing a text column.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrUnorderedWindow reports a rank or lag window with no declared
	// intra-partition order. Such a window would return rows in whatever
	// order the pipeline happened to produce, which reads like a result but
	// is nondeterministic, so it is rejected outright.
	ErrUnorderedWindow = errors.New("window requires an explicit order")
)
