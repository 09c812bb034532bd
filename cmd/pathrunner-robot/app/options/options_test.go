package options

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRobotDefaults(t *testing.T) {
	o := NewRobotOptions()
	require.NoError(t, o.Complete())
	require.NoError(t, o.Validate())

	cfg, err := o.Config()
	require.NoError(t, err)
	assert.Equal(t, "robot_1", cfg.RobotOptions.ID)
	assert.Equal(t, 100, cfg.RobotOptions.QueueLimit)
	assert.Equal(t, "0.0.0.0:8081", cfg.HttpOptions.Addr)
}

func TestRobotValidate(t *testing.T) {
	o := NewRobotOptions()
	o.RobotOptions.QueueLimit = 0
	err := o.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue-limit")
}
