package predict

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRefusal(t *testing.T) {
	assert.True(t, isRefusal("I cannot create that image prompt."))
	assert.True(t, isRefusal("Sorry, I'm unable to help with this request."))
	assert.False(t, isRefusal("A newborn baby wrapped in a soft blanket, golden hour light"))
	assert.False(t, isRefusal(""))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(errors.New("googleapi: Error 429: quota exceeded")))
	assert.True(t, isRetryable(errors.New("RESOURCE_EXHAUSTED")))
	assert.False(t, isRetryable(errors.New("invalid api key")))
	assert.False(t, isRetryable(nil))
}

func TestBuildInstructionIsSingleTheme(t *testing.T) {
	instruction := buildInstruction("beach sunset")
	assert.Contains(t, instruction, "beach sunset")
	assert.Contains(t, instruction, "single-line")
}
