package generation_test

import (
	"fmt"
	"testing"

	"github.com/phrazzld/jobfit-api/internal/generation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCombineAndSplit(t *testing.T) {
	t.Parallel()

	combined := generation.CombineInputs("5 years Go experience", "Seeking senior backend engineer")
	assert.Equal(t, "5 years Go experience<<<JD>>>Seeking senior backend engineer", combined)

	resume, jd, err := generation.SplitInputs(combined)
	require.NoError(t, err)
	assert.Equal(t, "5 years Go experience", resume)
	assert.Equal(t, "Seeking senior backend engineer", jd)

	// Only the first separator splits.
	resume, jd, err = generation.SplitInputs("a<<<JD>>>b<<<JD>>>c")
	require.NoError(t, err)
	assert.Equal(t, "a", resume)
	assert.Equal(t, "b<<<JD>>>c", jd)
}

func TestSplitInputs_Invalid(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"no separator", "<<<JD>>>jd", "resume<<<JD>>>  "} {
		_, _, err := generation.SplitInputs(in)
		assert.ErrorIs(t, err, generation.ErrInvalidInput, in)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 3, "hel"},
		{"héllo", 2, "hé"},
		{"日本語テキスト", 3, "日本語"},
		{"abc", 0, ""},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, generation.Truncate(tc.in, tc.n), "%q/%d", tc.in, tc.n)
	}
}

func TestErrorTaxonomy(t *testing.T) {
	t.Parallel()

	for _, err := range []error{
		generation.ErrTransientFailure,
		generation.ErrInvalidResponse,
		generation.ErrContentBlocked,
		generation.ErrRejected,
		generation.ErrInvalidConfig,
		generation.ErrInvalidInput,
	} {
		assert.ErrorIs(t, err, generation.ErrRemote)
	}

	assert.True(t, generation.IsPermanent(fmt.Errorf("x: %w", generation.ErrContentBlocked)))
	assert.True(t, generation.IsPermanent(generation.ErrRejected))
	assert.True(t, generation.IsPermanent(generation.ErrInvalidInput))
	assert.False(t, generation.IsPermanent(generation.ErrTransientFailure))
	assert.False(t, generation.IsPermanent(generation.ErrInvalidResponse))
}
