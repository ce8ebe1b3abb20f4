package pipeline

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/floringheorghiu/multilingual-rag/pkg/types"
)

// reporter turns file completions into percentage events.
type reporter struct {
	fn    types.PipelineProgressFunc
	total int

	mu   sync.Mutex
	done int
}

func (r *reporter) percent() int {
	if r.total == 0 {
		return 100
	}
	return r.done * 100 / r.total
}

func (r *reporter) emit(stage string, progress int, msg string) {
	if r == nil || r.fn == nil {
		return
	}
	r.fn(types.PipelineProgress{Stage: stage, Progress: progress, Message: msg})
}

func (r *reporter) batch(n, of int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emit(StageBatch, r.percent(), fmt.Sprintf("processing batch %d of %d", n, of))
}

func (r *reporter) document(f types.FileResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done++
	msg := fmt.Sprintf("%s: %s", filepath.Base(f.FilePath), f.State)
	if f.Error != "" {
		msg += " (" + f.Error + ")"
	}
	r.emit(StageDocument, r.percent(), msg)
}
