package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caio-sobreiro/dicomstore/config"
	"github.com/caio-sobreiro/dicomstore/dicom"
	"github.com/caio-sobreiro/dicomstore/server"
	"github.com/caio-sobreiro/dicomstore/storage"
	"github.com/caio-sobreiro/dicomstore/types"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildCLI(t *testing.T) {
	root := BuildCLI()
	assert.Equal(t, "dicomstore", root.Use)

	for _, name := range []string{"config", "log-level", "log-format"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(name), name)
	}

	names := make(map[string]*cobra.Command)
	for _, cmd := range root.Commands() {
		names[cmd.Name()] = cmd
	}
	for _, name := range []string{"storescp", "storescu", "echoscu", "index"} {
		cmd, ok := names[name]
		require.True(t, ok, "missing subcommand %s", name)
		assert.NotNil(t, cmd.RunE, name)
	}

	assert.NotNil(t, names["storescp"].Flags().Lookup("storage-dir"))
	assert.NotNil(t, names["storescu"].Flags().Lookup("separate-contexts"))
	assert.NotNil(t, names["echoscu"].Flags().Lookup("called-ae"))
}

func TestSetupAppliesConfigAndFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dicomstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scu:\n  called_ae_title: PACS\nlog:\n  level: warn\n"), 0o644))

	opts := &rootOptions{configFile: path, logFormat: "json"}
	cfg, logger, err := opts.setup(&cobra.Command{}, func(cfg *config.Config) {
		cfg.SCU.Address = "pacs:104"
	})
	require.NoError(t, err)
	require.NotNil(t, logger)

	assert.Equal(t, "PACS", cfg.SCU.CalledAETitle)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "pacs:104", cfg.SCU.Address)
}

func TestSetupRejectsInvalidOverrides(t *testing.T) {
	opts := &rootOptions{logLevel: "chatty"}
	_, _, err := opts.setup(&cobra.Command{}, nil)
	assert.Error(t, err)
}

func TestCollectFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "series"), 0o755))
	for _, name := range []string{"b.dcm", "a.dcm", filepath.Join("series", "c.dcm")} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	single := filepath.Join(t.TempDir(), "single.dcm")
	require.NoError(t, os.WriteFile(single, []byte("x"), 0o644))

	paths, err := collectFiles([]string{single, dir})
	require.NoError(t, err)
	assert.Equal(t, []string{
		single,
		filepath.Join(dir, "a.dcm"),
		filepath.Join(dir, "b.dcm"),
		filepath.Join(dir, "series", "c.dcm"),
	}, paths)

	_, err = collectFiles([]string{t.TempDir()})
	assert.Error(t, err)

	_, err = collectFiles([]string{filepath.Join(dir, "missing.dcm")})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func writePart10(t *testing.T, dir, instance, transferSyntax string) string {
	t.Helper()
	path := filepath.Join(dir, instance+".dcm")
	data := dicom.EncodeFile(&dicom.FileMeta{
		MediaStorageSOPClassUID:    types.CTImageStorage,
		MediaStorageSOPInstanceUID: instance,
		TransferSyntaxUID:          transferSyntax,
	}, []byte{0x08, 0x00, 0x18, 0x00, 0x02, 0x00, 0x00, 0x00, 0x31, 0x00})
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func startSCP(t *testing.T, store storage.Store) string {
	t.Helper()
	d := server.NewStorageDispatcher("STORESCP", "127.0.0.1:0", store, nil, server.WithLogger(quietLogger()))
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(func() {
		d.Shutdown()
		d.Wait()
	})
	return d.Addr().String()
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := BuildCLI()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	code := run(root, args, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestStoreSCUExitCodes(t *testing.T) {
	store := storage.NewMemoryStore()
	address := startSCP(t, store)
	dir := t.TempDir()

	t.Run("all stored", func(t *testing.T) {
		file := writePart10(t, dir, "1.2.3.1", types.ExplicitVRLittleEndian)
		code, out, _ := runCLI(t, "storescu", "--log-level", "error",
			"--address", address, "--called-ae", "STORESCP", file)
		assert.Equal(t, ExitOK, code)
		assert.Contains(t, out, "sent")
		_, ok := store.Get("1.2.3.1")
		assert.True(t, ok)
	})

	t.Run("partially stored", func(t *testing.T) {
		partial := t.TempDir()
		writePart10(t, partial, "1.2.3.2", types.ExplicitVRLittleEndian)
		writePart10(t, partial, "1.2.3.3", "1.2.3.999")
		code, out, errOut := runCLI(t, "storescu", "--log-level", "error",
			"--address", address, "--called-ae", "STORESCP", partial)
		assert.Equal(t, ExitPartial, code)
		assert.Contains(t, out, "rejected-no-context")
		assert.Contains(t, errOut, "1 of 2 objects not stored")
	})

	t.Run("transport failure", func(t *testing.T) {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		closed := l.Addr().String()
		require.NoError(t, l.Close())

		file := writePart10(t, dir, "1.2.3.4", types.ExplicitVRLittleEndian)
		code, out, _ := runCLI(t, "storescu", "--log-level", "error", "--address", closed, file)
		assert.Equal(t, ExitFailure, code)
		assert.Contains(t, out, "transport-failure")
	})

	t.Run("missing arguments", func(t *testing.T) {
		code, _, _ := runCLI(t, "storescu")
		assert.Equal(t, ExitFailure, code)
	})
}

func TestEchoSCU(t *testing.T) {
	address := startSCP(t, storage.NewMemoryStore())

	code, out, _ := runCLI(t, "echoscu", "--log-level", "error", "--address", address, "--called-ae", "STORESCP")
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, out, "status 0x0000 (success)")
}

func TestRunStoreSCPStopsWithContext(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.SCP.Address = "127.0.0.1:0"
	cfg.SCP.StorageDir = filepath.Join(dir, "received")
	cfg.SCP.IndexPath = filepath.Join(dir, "index.db")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runStoreSCP(ctx, cfg, quietLogger()) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("storage SCP did not stop")
	}
	assert.FileExists(t, cfg.SCP.IndexPath)
	assert.DirExists(t, cfg.SCP.StorageDir)
}

func TestRunStoreSCPBindFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	cfg := config.Default()
	cfg.SCP.Address = l.Addr().String()
	cfg.SCP.StorageDir = t.TempDir()

	err = runStoreSCP(context.Background(), cfg, quietLogger())
	assert.Error(t, err)
}

func TestIndexCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	index, err := storage.OpenIndex(path)
	require.NoError(t, err)
	require.NoError(t, index.Put(storage.Record{
		SOPInstanceUID: "1.2.3.4",
		SOPClassUID:    types.CTImageStorage,
		CallingAETitle: "MODALITY",
		Path:           "MODALITY/CT/1.2.3.4.dcm",
		Size:           10,
		ReceivedAt:     time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}))
	require.NoError(t, index.Close())

	code, out, _ := runCLI(t, "index", "--index", path)
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, out, "1.2.3.4")
	assert.Contains(t, out, "MODALITY")
	assert.Contains(t, out, "1 objects")

	code, _, errOut := runCLI(t, "index")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, errOut, "no index configured")
}
