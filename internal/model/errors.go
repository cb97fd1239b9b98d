package model

import "fmt"

// StageError reports which pipeline stage failed. It unwraps to the kernel's
// sentinel error.
type StageError struct {
	// Block is the block index, or -1 for stages outside the blocks.
	Block int
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	if e.Block < 0 {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("block %d %s: %v", e.Block, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
