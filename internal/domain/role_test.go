package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		raw  string
		want Role
	}{
		{"", RoleUser},
		{"user", RoleUser},
		{" Admin ", RoleAdmin},
		{"ADMIN", RoleAdmin},
	}
	for _, tc := range tests {
		got, err := ParseRole(tc.raw)
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got)
	}

	_, err := ParseRole("root")
	assert.Error(t, err)
}

func TestRoleValid(t *testing.T) {
	assert.True(t, RoleUser.Valid())
	assert.True(t, RoleAdmin.Valid())
	assert.False(t, Role("owner").Valid())
}

func TestUserHasOTP(t *testing.T) {
	u := &User{}
	assert.False(t, u.HasOTP())

	u.OTPCode = 123456
	assert.False(t, u.HasOTP(), "code without expiry is not a challenge")
}
