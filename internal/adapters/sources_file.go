package adapters

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"os"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"gopkg.in/yaml.v3"

	"fleet-rollout/internal/policies"
	"fleet-rollout/internal/ports"
	"fleet-rollout/internal/shared"
	"fleet-rollout/internal/types"
)

// SourcesFileAdapter reads and writes the device's sources.yaml.
type SourcesFileAdapter struct {
	Path string
}

func NewSourcesFileAdapter(path string) SourcesFileAdapter {
	return SourcesFileAdapter{Path: path}
}

func (a SourcesFileAdapter) Load(ctx context.Context) (types.SourcesFile, error) {
	if err := ctx.Err(); err != nil {
		return types.SourcesFile{}, err
	}
	content, err := os.ReadFile(a.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return types.SourcesFile{}, errbuilder.New().
				WithCode(errbuilder.CodeFailedPrecondition).
				WithMsg(fmt.Sprintf("sources file %s does not exist", a.Path)).
				WithCause(err)
		}
		return types.SourcesFile{}, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to read sources file").
			WithCause(err)
	}
	var file types.SourcesFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return types.SourcesFile{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("failed to parse sources file").
			WithCause(err)
	}
	if err := validateSources(file); err != nil {
		return types.SourcesFile{}, err
	}
	return file, nil
}

func (a SourcesFileAdapter) Save(ctx context.Context, file types.SourcesFile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateSources(file); err != nil {
		return err
	}
	content, err := yaml.Marshal(file)
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to encode sources file").
			WithCause(err)
	}
	if err := shared.WriteFileAtomic(a.Path, content, 0o600); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to write sources file").
			WithCause(err)
	}
	return nil
}

func validateSources(file types.SourcesFile) error {
	if err := policies.ValidateChannel(file.Channel); err != nil {
		return err
	}
	if file.BootPackage != "" {
		if err := policies.ValidatePackageName(file.BootPackage); err != nil {
			return err
		}
	}
	for i, source := range file.Sources {
		if source.Address == "" {
			return errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("source %d has no address", i))
		}
		if len(source.SigningKey) != ed25519.PublicKeySize {
			return errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("source %s: signing key must be %d bytes", sourceLabel(source), ed25519.PublicKeySize))
		}
		if len(source.ConnectionKey) != 0 && len(source.ConnectionKey) != 32 {
			return errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("source %s: connection key must be 32 bytes", sourceLabel(source)))
		}
	}
	return nil
}

func sourceLabel(source types.SourceConfig) string {
	if source.Name != "" {
		return source.Name
	}
	return source.Address
}

var _ ports.SourcesPort = SourcesFileAdapter{}
