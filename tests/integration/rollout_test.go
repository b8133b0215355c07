package integration

import (
	"crypto/ed25519"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-rollout/internal/adapters"
	"fleet-rollout/internal/app"
	"fleet-rollout/internal/types"
	"fleet-rollout/tests/testutil"
)

type rolloutFixture struct {
	server  testutil.TestServer
	writer  app.ServerTarget
	service app.Service
	device  types.DeviceID
}

func newRolloutFixture(t *testing.T, requireReader bool) rolloutFixture {
	t.Helper()
	_, connectionKey, err := adapters.GenerateConnectionKey()
	require.NoError(t, err)
	public, private := testutil.WriterKey(t)
	server := testutil.StartServer(t, app.ServerConfig{
		WriterKeys:    map[string]ed25519.PublicKey{"stable": public},
		RequireReader: requireReader,
	}, connectionKey)
	return rolloutFixture{
		server:  server,
		writer:  app.ServerTarget{Address: server.Addr, ConnectionKey: server.ConnectionKey, SigningKey: private},
		service: app.NewService(5 * time.Second),
		device:  types.DeviceID{7},
	}
}

func (f rolloutFixture) publish(t *testing.T, version string, content string, whitelist []types.DeviceID) types.PackageVersion {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bin", "hello"), []byte(content), 0o755))
	result, err := f.service.Publish(t.Context(), app.PublishRequest{
		Server:     f.writer,
		Channel:    "stable",
		Name:       "hello",
		Version:    version,
		Arch:       types.ArchAny,
		Entrypoint: "bin/hello",
		Dir:        dir,
		Whitelist:  whitelist,
	})
	require.NoError(t, err)
	return result.Version
}

func (f rolloutFixture) newAgent(t *testing.T, readerKey *types.AuthKey) *app.Agent {
	t.Helper()
	agent := app.NewAgent(t.Context(), app.AgentConfig{
		DataDir:     t.TempDir(),
		Arch:        types.ArchArm64,
		PartSize:    64,
		DialTimeout: 5 * time.Second,
	})
	device := f.device
	require.NoError(t, agent.Sources.Save(t.Context(), types.SourcesFile{
		Channel:  "stable",
		DeviceID: &device,
		Sources: []types.SourceConfig{{
			Name:          "primary",
			Address:       f.server.Addr,
			ConnectionKey: f.server.ConnectionKey,
			SigningKey:    types.HexBytes(f.writer.SigningKey.Public().(ed25519.PublicKey)),
			ReaderKey:     readerKey,
		}},
	}))
	return agent
}

func installedContent(t *testing.T, agent *app.Agent) (types.PackageMeta, string) {
	t.Helper()
	meta, err := agent.Packages.Load(t.Context(), "hello")
	require.NoError(t, err)
	require.NotNil(t, meta)
	data, err := os.ReadFile(filepath.Join(agent.Packages.SlotDir("hello", meta.ActiveSlot), "bin", "hello"))
	require.NoError(t, err)
	return *meta, string(data)
}

func TestRolloutOverEncryptedConnection(t *testing.T) {
	f := newRolloutFixture(t, false)
	published := f.publish(t, "1.0.0", "hello v1", nil)

	agent := f.newAgent(t, nil)
	report, err := agent.RunCycle(t.Context(), []string{"hello"})
	require.NoError(t, err)
	require.Len(t, report.Updated, 1)
	assert.Equal(t, published.Hash, report.Updated[0].Hash)
	assert.True(t, report.RestartAgent)
	assert.False(t, report.RestartDevice)
	assert.Empty(t, report.FailedSources)

	meta, content := installedContent(t, agent)
	assert.Equal(t, "1.0.0", meta.Version.Version)
	assert.Equal(t, "hello v1", content)

	report, err = agent.RunCycle(t.Context(), nil)
	require.NoError(t, err)
	assert.Empty(t, report.Updated)
	assert.False(t, report.RestartAgent)
}

func TestRolloutFollowsWhitelist(t *testing.T) {
	f := newRolloutFixture(t, false)
	f.publish(t, "1.0.0", "hello v1", nil)
	agent := f.newAgent(t, nil)
	_, err := agent.RunCycle(t.Context(), []string{"hello"})
	require.NoError(t, err)
	first, _ := installedContent(t, agent)

	other := types.DeviceID{9}
	staged := f.publish(t, "1.1.0", "hello v2", []types.DeviceID{other})
	report, err := agent.RunCycle(t.Context(), nil)
	require.NoError(t, err)
	assert.Empty(t, report.Updated, "device outside the whitelist keeps its version")

	err = f.service.ChangeWhitelist(t.Context(), app.WhitelistRequest{
		Server:  f.writer,
		Channel: "stable",
		Arch:    types.ArchAny,
		Name:    "hello",
		Hash:    staged.Hash,
		Change:  types.WhitelistChange{Kind: types.WhitelistChangeAdd, Devices: []types.DeviceID{f.device}},
	})
	require.NoError(t, err)

	report, err = agent.RunCycle(t.Context(), nil)
	require.NoError(t, err)
	require.Len(t, report.Updated, 1)
	meta, content := installedContent(t, agent)
	assert.Equal(t, "1.1.0", meta.Version.Version)
	assert.Equal(t, first.ActiveSlot.Other(), meta.ActiveSlot)
	assert.Equal(t, "hello v2", content)
}

func TestRolloutRequiresReaderKey(t *testing.T) {
	f := newRolloutFixture(t, true)
	f.publish(t, "1.0.0", "hello v1", nil)

	anonymous := f.newAgent(t, nil)
	report, err := anonymous.RunCycle(t.Context(), []string{"hello"})
	require.NoError(t, err)
	assert.Equal(t, []string{"primary"}, report.FailedSources)
	assert.Empty(t, report.Updated)

	key, err := f.service.NewReaderKey(t.Context(), app.ReaderKeyRequest{Server: f.writer, Channel: "stable"})
	require.NoError(t, err)
	reader := f.newAgent(t, &key)
	report, err = reader.RunCycle(t.Context(), []string{"hello"})
	require.NoError(t, err)
	require.Len(t, report.Updated, 1)
	assert.Empty(t, report.FailedSources)

	unknown := types.AuthKey{1}
	rejected := f.newAgent(t, &unknown)
	report, err = rejected.RunCycle(t.Context(), []string{"hello"})
	require.NoError(t, err)
	assert.Equal(t, []string{"primary"}, report.FailedSources)
}

func TestPublishRejectsForeignChannel(t *testing.T) {
	f := newRolloutFixture(t, false)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "payload"), []byte("x"), 0o644))
	_, err := f.service.Publish(t.Context(), app.PublishRequest{
		Server:  f.writer,
		Channel: "beta",
		Name:    "hello",
		Version: "1.0.0",
		Arch:    types.ArchAny,
		Path:    filepath.Join(dir, "payload"),
	})
	require.Error(t, err)
}
