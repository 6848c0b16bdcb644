package idempotency

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateKey(t *testing.T) {
	g := NewGenerator()

	a := g.GenerateKey(ScopeReplacement, map[string]interface{}{"subscription_ref": "sub_1"})
	b := g.GenerateKey(ScopeReplacement, map[string]interface{}{"subscription_ref": "sub_1"})
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "replace_"))

	other := g.GenerateKey(ScopeReplacement, map[string]interface{}{"subscription_ref": "sub_2"})
	assert.NotEqual(t, a, other)

	// same params under another scope never collide
	resub := g.GenerateKey(ScopeResubscribe, map[string]interface{}{"subscription_ref": "sub_1"})
	assert.NotEqual(t, a, resub)

	// parameter order does not matter
	x := g.GenerateKey(ScopeResubscribe, map[string]interface{}{"subscription_ref": "sub_1", "plan": "PRO"})
	y := g.GenerateKey(ScopeResubscribe, map[string]interface{}{"plan": "PRO", "subscription_ref": "sub_1"})
	assert.Equal(t, x, y)
}
