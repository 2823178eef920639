package workflow

import (
	"errors"
	"fmt"
	"strings"

	"taskflow/internal/model"
)

var (
	// ErrBlocked matches every *BlockedError.
	ErrBlocked = errors.New("task is blocked by dependencies")

	ErrEmptyID = errors.New("id is required")
)

// BlockedError is returned by MoveTask when unfinished dependencies gate the
// move.
type BlockedError struct {
	TaskID   string
	Status   model.Status
	Blocking []model.Task
}

func (e *BlockedError) Error() string {
	names := make([]string, 0, len(e.Blocking))
	for _, t := range e.Blocking {
		names = append(names, fmt.Sprintf("%s (%s)", t.Title, t.Status))
	}
	return fmt.Sprintf("task %s cannot move to %s: blocked by %s", e.TaskID, e.Status, strings.Join(names, ", "))
}

func (e *BlockedError) Is(target error) bool { return target == ErrBlocked }
