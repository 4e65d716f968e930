package users

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatchDecode(t *testing.T) {
	var p Patch
	require.NoError(t, json.Unmarshal([]byte(`{"email":null,"full_name":"Ann","admin":true}`), &p))

	assert.True(t, p.Email.Set)
	assert.True(t, p.Email.Null)
	assert.Equal(t, "Ann", p.FullName.Value)
	assert.False(t, p.Username.Set)
	assert.False(t, p.Password.Set)
	assert.False(t, p.Disabled.Set)
	assert.True(t, p.TouchesPrivileges())
}

func TestNewUserDecodeFlattensProfile(t *testing.T) {
	var nu NewUser
	require.NoError(t, json.Unmarshal([]byte(`{"username":"ann","password":"pw","email":"ann@example.com","admin":true}`), &nu))

	assert.Equal(t, "ann", nu.Username)
	require.NotNil(t, nu.Email)
	assert.Equal(t, "ann@example.com", *nu.Email)
	assert.True(t, nu.IsAdmin())
	assert.False(t, nu.IsDisabled())
	assert.NoError(t, nu.Validate())
}

func TestUserJSONOmitsHash(t *testing.T) {
	rec := Record{User: User{Username: "ann"}, HashedPassword: "$2a$..."}
	b, err := json.Marshal(rec.User)
	require.NoError(t, err)
	assert.JSONEq(t, `{"username":"ann","email":null,"full_name":null,"disabled":null,"admin":null}`, string(b))
}
