package store

import "context"

// TupleIterator is a lazy sequence of checkpoint tuples. Next returns
// (nil, nil) once the sequence is exhausted. Close releases any underlying
// resources and is safe to call more than once.
type TupleIterator interface {
	Next(ctx context.Context) (*CheckpointTuple, error)
	Close() error
}

// ReadAll drains an iterator into a slice and closes it.
func ReadAll(ctx context.Context, it TupleIterator) ([]*CheckpointTuple, error) {
	defer it.Close()

	var tuples []*CheckpointTuple
	for {
		tuple, err := it.Next(ctx)
		if err != nil {
			return tuples, err
		}
		if tuple == nil {
			return tuples, nil
		}
		tuples = append(tuples, tuple)
	}
}

// SliceIterator adapts an in-memory slice to the TupleIterator contract.
type SliceIterator struct {
	tuples []*CheckpointTuple
	pos    int
}

// NewSliceIterator creates an iterator over tuples.
func NewSliceIterator(tuples []*CheckpointTuple) *SliceIterator {
	return &SliceIterator{tuples: tuples}
}

// Next returns the next tuple, or (nil, nil) when exhausted.
func (it *SliceIterator) Next(ctx context.Context) (*CheckpointTuple, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if it.pos >= len(it.tuples) {
		return nil, nil
	}
	tuple := it.tuples[it.pos]
	it.pos++
	return tuple, nil
}

// Close is a no-op for slice-backed iterators.
func (it *SliceIterator) Close() error { return nil }
