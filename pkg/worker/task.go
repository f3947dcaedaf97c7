package worker

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/jzx17/flowpipe/pkg/types"
)

var taskSeq int64

// NewTask wraps fn as a types.Task under the given id. An empty id gets
// a generated one.
func NewTask(id string, fn func(ctx context.Context) error) types.Task {
	if id == "" {
		id = fmt.Sprintf("task-%d", atomic.AddInt64(&taskSeq, 1))
	}
	return &funcTask{id: id, fn: fn}
}

type funcTask struct {
	id string
	fn func(ctx context.Context) error
}

func (t *funcTask) Execute(ctx context.Context) error {
	if t.fn == nil {
		return fmt.Errorf("worker: task %s has no function", t.id)
	}
	return t.fn(ctx)
}

func (t *funcTask) ID() string { return t.id }
