package credential

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPasswordKeyIsAccountScoped(t *testing.T) {
	assert.Equal(t, "account-password-work", passwordKey("work"))
	assert.NotEqual(t, passwordKey("work"), passwordKey("home"))
}
