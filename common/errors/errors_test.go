package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNilErrorProducesNilExitCodeError(t *testing.T) {
	assert.Nil(t, NewError(nil, ConfigErrorExitCode))
	var e *ExitCodeError
	assert.Equal(t, ExitCode(0), e.GetExitCode())
}

func TestExitCodeOf(t *testing.T) {
	assert.Equal(t, ExitCode(0), ExitCodeOf(nil))
	assert.Equal(t, GenericFailureExitCode, ExitCodeOf(fmt.Errorf("boom")))
	assert.Equal(t, ExitCode(ServerErrorExitCode), ExitCodeOf(NewError(fmt.Errorf("bind"), ServerErrorExitCode)))
	err := NewErrorf(QueueErrorExitCode, "queue %s unavailable", "sge")
	assert.Equal(t, "queue sge unavailable", err.Error())
	assert.Equal(t, ExitCode(QueueErrorExitCode), ExitCodeOf(err))
}
