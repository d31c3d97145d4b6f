package health

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(context.Context) error   { return nil }
func fail(context.Context) error { return errors.New("down") }

func TestOverallStatus(t *testing.T) {
	tests := []struct {
		name string
		deps []Dependency
		want Status
	}{
		{"no checks", nil, StatusHealthy},
		{"all healthy", []Dependency{{Name: "a", Critical: true, Check: ok}, {Name: "b", Check: ok}}, StatusHealthy},
		{"secondary down", []Dependency{{Name: "a", Critical: true, Check: ok}, {Name: "b", Check: fail}}, StatusDegraded},
		{"primary down", []Dependency{{Name: "a", Critical: true, Check: fail}, {Name: "b", Check: ok}}, StatusUnhealthy},
		{"all non-critical down", []Dependency{{Name: "a", Check: fail}, {Name: "b", Check: fail}}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker()
			c.RunChecks(context.Background(), tt.deps...)
			assert.Equal(t, tt.want, c.GetOverallStatus())
		})
	}
}

func TestGetAllChecks(t *testing.T) {
	c := NewChecker()
	before := c.GetLastHealthyTime()
	c.RunChecks(context.Background(), Dependency{Name: "b", Check: fail}, Dependency{Name: "a", Check: ok})

	checks := c.GetAllChecks()
	require.Len(t, checks, 2)
	assert.Equal(t, "a", checks[0].Name)
	assert.Equal(t, "OK", checks[0].Message)
	assert.Equal(t, StatusUnhealthy, checks[1].Status)
	assert.Equal(t, "down", checks[1].Message)
	assert.Equal(t, before, c.GetLastHealthyTime())

	c.RunCheck(context.Background(), Dependency{Name: "b", Check: ok})
	assert.True(t, c.GetLastHealthyTime().After(before) || c.GetLastHealthyTime().Equal(before))
	assert.Equal(t, StatusHealthy, c.GetOverallStatus())
}
