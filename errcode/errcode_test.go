package errcode

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOf(t *testing.T) {
	assert.Equal(t, OK, Of(nil))
	assert.Equal(t, BufferFull, Of(BufferFull))
	assert.Equal(t, InvalidPin, Of(&E{C: InvalidPin, Op: "attach"}))
	assert.Equal(t, NotFound, Of(fmt.Errorf("detach: %w", NotFound)))
	assert.Equal(t, Timeout, Of(context.DeadlineExceeded))
	assert.Equal(t, Error, Of(errors.New("boom")))
}

func TestWrapKeepsCauseAndCode(t *testing.T) {
	cause := errors.New("nack")
	err := Wrap(Unavailable, "dma", cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, Unavailable)
	assert.Equal(t, "dma: unavailable: nack", err.Error())
	assert.Nil(t, Wrap(Unavailable, "dma", nil))
}
