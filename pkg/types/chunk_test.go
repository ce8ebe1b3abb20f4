package types

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkID(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, ChunkID("docs/a.pdf", 3, ""), ChunkID("docs/a.pdf", 3, ""))
		assert.Equal(t, ChunkID("docs/a.pdf", 3, "abc"), ChunkID("docs/a.pdf", 3, "abc"))
	})

	t.Run("inputs change id", func(t *testing.T) {
		base := ChunkID("docs/a.pdf", 3, "")
		assert.NotEqual(t, base, ChunkID("docs/b.pdf", 3, ""))
		assert.NotEqual(t, base, ChunkID("docs/a.pdf", 4, ""))
		assert.NotEqual(t, base, ChunkID("docs/a.pdf", 3, "abc"))
	})

	t.Run("index key safe", func(t *testing.T) {
		id := ChunkID("some path/with spaces/ü.md", 0, "")
		assert.Len(t, id, 32)
		assert.Regexp(t, "^[0-9a-f]+$", id)
	})
}

func TestDocumentTypeOf(t *testing.T) {
	tests := []struct {
		path string
		want DocumentType
	}{
		{"a.PDF", DocPDF},
		{"dir/b.docx", DocDOCX},
		{"notes.md", DocMarkdown},
		{"page.htm", DocHTML},
		{"readme.txt", DocText},
		{"image.png", DocUnknown},
		{"noext", DocUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, DocumentTypeOf(tt.path))
		})
	}
}

func TestDocumentChunkBody(t *testing.T) {
	c := DocumentChunk{Content: "tail words body text", Metadata: ChunkMetadata{OverlapBytes: 10}}
	assert.Equal(t, "body text", c.Body())

	c.Metadata.OverlapBytes = 0
	assert.Equal(t, "tail words body text", c.Body())
}

func TestErrorClassification(t *testing.T) {
	t.Run("kind decides retryability", func(t *testing.T) {
		assert.True(t, IsRetryable(NewError(KindRateLimited, CodeRateLimited, "slow down")))
		assert.True(t, IsRetryable(NewError(KindServerError, CodeBadGateway, "bad gateway")))
		assert.False(t, IsRetryable(NewError(KindQuotaExceeded, CodeQuotaExceeded, "quota")))
		assert.False(t, IsRetryable(NewError(KindClientError, CodeBadRequest, "bad")))
		assert.False(t, IsRetryable(NewError(KindTimeout, CodeTimeout, "cancelled")))
	})

	t.Run("wrapped errors keep kind", func(t *testing.T) {
		base := &Error{Kind: KindRateLimited, Code: CodeRateLimited, RetryAfter: 2 * time.Second}
		wrapped := fmt.Errorf("batch 2: %w", base)
		assert.Equal(t, KindRateLimited, KindOf(wrapped))
		d, ok := RetryAfterOf(wrapped)
		require.True(t, ok)
		assert.Equal(t, 2*time.Second, d)
	})

	t.Run("context errors are timeouts", func(t *testing.T) {
		assert.Equal(t, KindTimeout, KindOf(context.Canceled))
		assert.Equal(t, CodeTimeout, CodeOf(fmt.Errorf("call: %w", context.DeadlineExceeded)))
	})

	t.Run("plain errors are unknown", func(t *testing.T) {
		assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))
		assert.Equal(t, CodeUnknown, CodeOf(errors.New("boom")))
	})
}

func TestBatchResult(t *testing.T) {
	var b BatchResult[string]
	b.Add(0, "ok")
	b.Fail(ItemError{Index: 1})
	b.Skip(ItemError{Index: 2})

	assert.Equal(t, 1, b.Processed)
	assert.Equal(t, 1, b.Failed)
	assert.Equal(t, 1, b.Skipped)
	assert.True(t, b.Success())
	assert.Equal(t, []int{1, 2}, b.FailedIndices())

	var empty BatchResult[string]
	assert.True(t, empty.Success())

	var failed BatchResult[string]
	failed.Fail(ItemError{Index: 0})
	assert.False(t, failed.Success())
}
