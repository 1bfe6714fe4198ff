package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrap_KeepsInnerCode(t *testing.T) {
	inner := Format("line 12: 3 cells, expected 5")
	wrapped := Wrap(inner, "parse series matrix")

	assert.Equal(t, CodeFormat, GetCode(wrapped))
	assert.True(t, HasCode(wrapped, CodeFormat))
	assert.Contains(t, wrapped.Error(), "line 12")
}

func TestWrap_PlainErrorBecomesInternal(t *testing.T) {
	wrapped := Wrap(stderrors.New("boom"), "context")
	assert.Equal(t, CodeInternalError, GetCode(wrapped))
	assert.Nil(t, Wrap(nil, "nothing"))
}

func TestHasCode_ThroughFmtWrapping(t *testing.T) {
	err := fmt.Errorf("stage 2: %w", GroupAssignment("GSM1", "matched no rule"))

	assert.True(t, HasCode(err, CodeGroupAssignment))
	assert.False(t, HasCode(err, CodeRetrieval))
	assert.Equal(t, CodeGroupAssignment, GetCode(err))
	assert.Contains(t, err.Error(), "sample GSM1")
}

func TestRetrieval_MentionsLocalFallback(t *testing.T) {
	err := Retrieval("GSE43217", stderrors.New("connection refused"))
	assert.Contains(t, err.Error(), "source.local_file")
	assert.Equal(t, "UNKNOWN", GetCode(stderrors.New("x")))
}
