package policies

import (
	"testing"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/stretchr/testify/assert"

	"fleet-rollout/internal/types"
)

func TestValidateChannelAndPackageName(t *testing.T) {
	tests := []struct {
		value string
		valid bool
	}{
		{value: "stable", valid: true},
		{value: "beta-2", valid: true},
		{value: "robot.agent_v2", valid: true},
		{value: "", valid: false},
		{value: "Stable", valid: false},
		{value: "-leading", valid: false},
		{value: "has space", valid: false},
		{value: "../escape", valid: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.value, func(t *testing.T) {
			for _, err := range []error{ValidateChannel(tt.value), ValidatePackageName(tt.value)} {
				if tt.valid {
					assert.NoError(t, err)
					continue
				}
				assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
			}
		})
	}
}

func TestValidateArch(t *testing.T) {
	for _, arch := range []types.Arch{types.ArchAny, types.ArchAmd64, types.ArchArm64, types.ArchArmv7, types.ArchRiscv64} {
		assert.NoError(t, ValidateArch(arch))
	}
	assert.Error(t, ValidateArch("mips"))
	assert.Error(t, ValidateArch(""))
}

func TestIsDebugChannel(t *testing.T) {
	assert.True(t, IsDebugChannel(types.ChannelDebug))
	assert.False(t, IsDebugChannel("stable"))
}
