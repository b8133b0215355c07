package policies

import (
	"fmt"
	"regexp"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"fleet-rollout/internal/types"
)

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// ValidateChannel rejects channel names that cannot be used as registry
// keys.
func ValidateChannel(channel string) error {
	return validateName("channel", channel)
}

// ValidatePackageName applies the same rules to package names.
func ValidatePackageName(name string) error {
	return validateName("package name", name)
}

func validateName(what string, value string) error {
	if !namePattern.MatchString(value) {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("invalid %s %q", what, value))
	}
	return nil
}

// ValidateArch accepts the known board architectures and the wildcard.
func ValidateArch(arch types.Arch) error {
	switch arch {
	case types.ArchAny, types.ArchAmd64, types.ArchArm64, types.ArchArmv7, types.ArchRiscv64:
		return nil
	default:
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("unknown architecture %q", arch))
	}
}

func IsDebugChannel(channel string) bool {
	return channel == types.ChannelDebug
}
