package ansicolor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDisable(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.False(t, Enabled())

	Disable()
	for _, code := range []string{Reset, Bold, Faint, Red, Green, Yellow, Blue, Purple, Cyan, Gray, BgRed, BgGreen, BgYellow, BgBlue} {
		assert.Empty(t, code)
	}
}
