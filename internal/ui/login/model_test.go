package login

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateEmail(t *testing.T) {
	assert.NoError(t, ValidateEmail("demo@eventdesk.local"))
	assert.NoError(t, ValidateEmail("  demo@eventdesk.local "))
	assert.Error(t, ValidateEmail(""))
	assert.Error(t, ValidateEmail("not-an-email"))
	assert.Error(t, ValidateEmail("Demo <demo@eventdesk.local>"))
}

func TestSetErrorKeepsEmail(t *testing.T) {
	m := New(80, 24)
	m.Start("demo@eventdesk.local")
	m.fb.password = "wrong"
	m.Busy()

	m.SetError(errors.New("invalid credentials"))
	assert.Equal(t, "demo@eventdesk.local", m.fb.email)
	assert.Empty(t, m.fb.password)
	assert.False(t, m.busy)
	assert.Contains(t, m.View(), "invalid credentials")
}
