package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOfUnwraps(t *testing.T) {
	errLastOwner := New(CodeLastOwner, "last_owner")
	wrapped := fmt.Errorf("remove member: %w", errLastOwner)

	assert.Equal(t, CodeLastOwner, CodeOf(wrapped))
	assert.Equal(t, "last_owner", ReasonOf(wrapped))
	assert.True(t, Is(wrapped, CodeLastOwner))
	assert.ErrorIs(t, wrapped, errLastOwner)
}

func TestCodeOfUnclassified(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(errors.New("boom")))
	assert.Equal(t, Code(""), CodeOf(nil))
	assert.Empty(t, ReasonOf(errors.New("boom")))
}
