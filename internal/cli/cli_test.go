package cli

import (
	"crypto/ed25519"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-rollout/internal/types"
)

// ---------- Command tree tests ----------

func TestRootCommandHasSubcommands(t *testing.T) {
	root := newRootCommand()
	names := make([]string, 0, len(root.Commands()))
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	expected := []string{
		"serve", "agent", "update", "keygen",
		"publish", "reader-key", "whitelist", "disks",
	}
	for _, name := range expected {
		assert.Contains(t, names, name, "missing subcommand: %s", name)
	}
}

func TestRootCommandVersion(t *testing.T) {
	root := newRootCommand()
	assert.Equal(t, "dev", root.Version)
}

func TestServeCommandFlags(t *testing.T) {
	cmd := newServeCommand()
	flags := []string{
		"listen", "data-dir", "connection-key", "writer-key",
		"require-reader", "metrics-listen", "rate-limit", "rate-burst",
		"max-connections", "idle-timeout", "image-package",
	}
	for _, name := range flags {
		flag := cmd.Flags().Lookup(name)
		assert.NotNil(t, flag, "missing flag: %s", name)
	}
}

func TestAgentAndUpdateCommandFlags(t *testing.T) {
	flags := []string{
		"data-dir", "arch", "image-package", "part-size",
		"clean-interval", "error-interval", "debug-interval", "dial-timeout",
		"restart-command", "package",
	}
	for _, cmd := range []*cobra.Command{newAgentCommand(), newUpdateCommand()} {
		for _, name := range flags {
			assert.NotNil(t, cmd.Flags().Lookup(name), "%s: missing flag: %s", cmd.Name(), name)
		}
	}
	assert.NotNil(t, newAgentCommand().Flags().Lookup("metrics-listen"))
}

func TestWriterCommandFlags(t *testing.T) {
	for _, cmd := range []*cobra.Command{newPublishCommand(), newWhitelistCommand(), newReaderKeyCommand()} {
		for _, name := range []string{"server", "connection-key", "signing-key", "channel", "dial-timeout"} {
			assert.NotNil(t, cmd.Flags().Lookup(name), "%s: missing flag: %s", cmd.Name(), name)
		}
	}
	publish := newPublishCommand()
	for _, name := range []string{"name", "version", "arch", "entrypoint", "file", "dir", "whitelist", "auto-whitelist-limit", "requires"} {
		assert.NotNil(t, publish.Flags().Lookup(name), "missing flag: %s", name)
	}
}

// ---------- Helper function tests ----------

func TestResolveString(t *testing.T) {
	tests := []struct {
		name     string
		cmd      *cobra.Command
		value    string
		expected string
	}{
		{
			name:     "nil cmd with value returns value",
			cmd:      nil,
			value:    "explicit",
			expected: "explicit",
		},
		{
			name:     "nil cmd empty value returns empty",
			cmd:      nil,
			value:    "",
			expected: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveString(tt.cmd, tt.value, "test_key", "test-flag")
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestResolveStrings(t *testing.T) {
	got := resolveStrings(nil, []string{"a", "b"}, "test_key", "test-flag")
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestResolveScalars(t *testing.T) {
	assert.True(t, resolveBool(nil, true, "test_key", "test-flag"))
	assert.Equal(t, 42, resolveInt(nil, 42, "test_key", "test-flag"))
	assert.InDelta(t, 1.5, resolveFloat(nil, 1.5, "test_key", "test-flag"), 0)
	assert.Equal(t, time.Minute, resolveDuration(nil, time.Minute, "test_key", "test-flag"))
}

func TestResolveUsesChangedFlag(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	var value time.Duration
	cmd.Flags().DurationVar(&value, "wait", time.Second, "test flag")
	require.NoError(t, cmd.Flags().Set("wait", "3s"))
	assert.Equal(t, 3*time.Second, resolveDuration(cmd, value, "test_wait_key", "wait"))
}

func TestFlagChanged(t *testing.T) {
	assert.False(t, flagChanged(nil, "anything"), "nil cmd should return false")
	assert.False(t, flagChanged(nil, ""), "nil cmd with empty name")

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("myflag", "", "test flag")
	assert.False(t, flagChanged(cmd, "myflag"), "unchanged flag")
	assert.False(t, flagChanged(cmd, "nonexistent"), "nonexistent flag")

	require.NoError(t, cmd.Flags().Set("myflag", "val"))
	assert.True(t, flagChanged(cmd, "myflag"))
}

func TestParseWriterKeys(t *testing.T) {
	public, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	encoded := hex.EncodeToString(public)

	tests := []struct {
		name    string
		values  []string
		wantErr bool
	}{
		{name: "single channel", values: []string{"stable=" + encoded}},
		{name: "missing separator", values: []string{encoded}, wantErr: true},
		{name: "short key", values: []string{"stable=abcd"}, wantErr: true},
		{name: "duplicate channel", values: []string{"stable=" + encoded, "stable=" + encoded}, wantErr: true},
		{name: "invalid channel", values: []string{"Not A Channel=" + encoded}, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			keys, err := parseWriterKeys(tt.values)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.True(t, public.Equal(keys["stable"]))
		})
	}
}

func TestParseRequirements(t *testing.T) {
	got, err := parseRequirements([]string{"base=>=1.2, <2", " tools = ^0.3 "})
	require.NoError(t, err)
	want := map[string]string{"base": ">=1.2, <2", "tools": "^0.3"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("requirements mismatch (-want +got):\n%s", diff)
	}

	_, err = parseRequirements([]string{"base"})
	require.Error(t, err)
}

func TestParseDeviceIDs(t *testing.T) {
	id := types.DeviceID{1, 2, 3}
	got, err := parseDeviceIDs([]string{id.String(), ""})
	require.NoError(t, err)
	assert.Equal(t, []types.DeviceID{id}, got)

	_, err = parseDeviceIDs([]string{"zz"})
	require.Error(t, err)
}

func TestWriterOptionsServerTarget(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "writer.key")
	require.NoError(t, runKeygen(t.Context(), keygenOptions{Kind: "signing", Out: keyPath}))

	connection := strings.Repeat("ab", 32)
	target, err := writerOptions{Server: "127.0.0.1:7700", SigningKey: keyPath, ConnectionKey: connection}.serverTarget()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7700", target.Address)
	assert.Len(t, target.ConnectionKey, 32)
	assert.Len(t, target.SigningKey, ed25519.PrivateKeySize)

	_, err = writerOptions{SigningKey: keyPath}.serverTarget()
	require.Error(t, err)
	_, err = writerOptions{Server: "x:1", SigningKey: keyPath, ConnectionKey: "abcd"}.serverTarget()
	require.Error(t, err)
}

func TestRunKeygen(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, runKeygen(t.Context(), keygenOptions{Kind: "connection", Out: filepath.Join(dir, "conn.key")}))

	err := runKeygen(t.Context(), keygenOptions{Kind: "connection", Out: filepath.Join(dir, "conn.key")})
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeAlreadyExists, errbuilder.CodeOf(err))

	err = runKeygen(t.Context(), keygenOptions{Kind: "gpg", Out: filepath.Join(dir, "other.key")})
	assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
}

func TestRunDisksInstall(t *testing.T) {
	disksDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(disksDir, "mmcblk0"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(disksDir, "mmcblk0", "size"), []byte("2048\n"), 0o644))
	bootDir := filepath.Join(t.TempDir(), "boot")

	opts := disksOptions{BootDir: bootDir, DisksDir: disksDir, Install: "mmcblk0"}
	require.NoError(t, runDisks(t.Context(), nil, opts))
	assert.DirExists(t, filepath.Join(bootDir, "a"))
	assert.DirExists(t, filepath.Join(bootDir, "b"))

	opts.Install = "sda"
	err := runDisks(t.Context(), nil, opts)
	assert.Equal(t, errbuilder.CodeNotFound, errbuilder.CodeOf(err))
}

func TestRunDisksShutdown(t *testing.T) {
	disksDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(disksDir, "mmcblk0"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(disksDir, "mmcblk0", "size"), []byte("2048\n"), 0o644))
	bootDir := filepath.Join(t.TempDir(), "boot")
	marker := filepath.Join(t.TempDir(), "powered-off")

	opts := disksOptions{
		BootDir:         bootDir,
		DisksDir:        disksDir,
		Install:         "mmcblk0",
		Shutdown:        true,
		ShutdownCommand: []string{"touch", marker},
	}
	require.NoError(t, runDisks(t.Context(), nil, opts))
	assert.DirExists(t, filepath.Join(bootDir, "a"))
	assert.FileExists(t, marker)

	opts.ShutdownCommand = []string{"false"}
	err := runDisks(t.Context(), nil, opts)
	assert.Equal(t, errbuilder.CodeInternal, errbuilder.CodeOf(err))

	opts.Shutdown = false
	require.NoError(t, runDisks(t.Context(), nil, opts))
}

func TestDisksCommandFlags(t *testing.T) {
	cmd := newDisksCommand()
	for _, name := range []string{"boot-dir", "disks-dir", "install", "shutdown", "shutdown-command"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "missing flag: %s", name)
	}
}

// ---------- Exit code tests ----------

func TestExitCodeForError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{
			name: "invalid argument",
			err: errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("bad input"),
			expected: 2,
		},
		{
			name: "already exists",
			err: errbuilder.New().
				WithCode(errbuilder.CodeAlreadyExists).
				WithMsg("dup"),
			expected: 2,
		},
		{
			name: "failed precondition",
			err: errbuilder.New().
				WithCode(errbuilder.CodeFailedPrecondition).
				WithMsg("sources file missing"),
			expected: 4,
		},
		{
			name: "permission denied",
			err: errbuilder.New().
				WithCode(errbuilder.CodePermissionDenied).
				WithMsg("signature incorrect"),
			expected: 3,
		},
		{
			name: "version not found",
			err: errbuilder.New().
				WithCode(errbuilder.CodeNotFound).
				WithMsg("version not found: 00ff"),
			expected: 4,
		},
		{
			name: "not found generic",
			err: errbuilder.New().
				WithCode(errbuilder.CodeNotFound).
				WithMsg("file missing"),
			expected: 5,
		},
		{
			name: "internal error",
			err: errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("boom"),
			expected: 5,
		},
		{
			name:     "unknown error",
			err:      assert.AnError,
			expected: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := exitCodeForError(tt.err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name: "errbuilder with msg",
			err: errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("something broke"),
			expected: "something broke",
		},
		{
			name:     "plain error",
			err:      assert.AnError,
			expected: assert.AnError.Error(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errorMessage(tt.err)
			assert.Equal(t, tt.expected, got)
		})
	}
}
