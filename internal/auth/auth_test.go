package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/aihub/vector-index-go/internal/errors"
)

func TestCheckValidKey(t *testing.T) {
	c := NewChecker("top-secret")
	key := DeriveKey("top-secret", "app-1")

	assert.NoError(t, c.Check(key, "app-1"))
}

func TestCheckWrongKey(t *testing.T) {
	c := NewChecker("top-secret")

	err := c.Check("bogus", "app-1")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeUnauthorized))
}

func TestCheckKeyBoundToApp(t *testing.T) {
	c := NewChecker("top-secret")
	key := DeriveKey("top-secret", "app-1")

	// 另一个appId不能复用鉴权键
	err := c.Check(key, "app-2")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeUnauthorized))
}

func TestCheckMissingFields(t *testing.T) {
	c := NewChecker("top-secret")

	assert.Error(t, c.Check("", "app-1"))
	assert.Error(t, c.Check("key", ""))
}
