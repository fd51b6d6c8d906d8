package orchestrator

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NikhilSetiya/voxgate/pkg/errors"
)

func TestResult_Success(t *testing.T) {
	r := Success("hello", 2)

	assert.True(t, r.Ok())
	assert.Equal(t, "hello", r.Value())
	assert.Equal(t, 2, r.Attempts())
	assert.False(t, r.FromCache())
	assert.Nil(t, r.Failure())

	v, err := r.Unwrap()
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
}

func TestResult_Cached(t *testing.T) {
	r := Cached(42)

	assert.True(t, r.Ok())
	assert.True(t, r.FromCache())
	assert.Equal(t, 0, r.Attempts())
}

func TestResult_Fail(t *testing.T) {
	cause := stderrors.New("connection reset")
	appErr := errors.NewNetworkError("upstream unreachable").WithCause(cause).WithAttempts(4)

	r := Fail[string](appErr)

	require.False(t, r.Ok())
	assert.Equal(t, "", r.Value())
	assert.Equal(t, 4, r.Attempts())

	f := r.Failure()
	require.NotNil(t, f)
	assert.Equal(t, errors.CodeNetwork, f.Code)
	assert.Equal(t, "upstream unreachable", f.Message)
	assert.Equal(t, 4, f.Attempts)
	assert.ErrorIs(t, f, cause)

	_, err := r.Unwrap()
	assert.True(t, errors.IsCode(err, errors.CodeNetwork))
}

func TestFailAs(t *testing.T) {
	r := Fail[string](errors.NewTimeoutError("generate").WithAttempts(3))

	converted := failAs[Intent](r)

	require.False(t, converted.Ok())
	assert.Equal(t, errors.CodeTimeout, converted.Failure().Code)
	assert.Equal(t, 3, converted.Attempts())
}
