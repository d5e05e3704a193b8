package lspclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessTransport_StartWiresStdinToStdout(t *testing.T) {
	pt := NewProcessTransport(ProcessConfig{Command: "cat"})
	r, w, err := pt.Start(context.Background())
	require.NoError(t, err)
	defer pt.Kill()

	_, err = w.Write([]byte("hello\n"))
	require.NoError(t, err)

	buf := make([]byte, 6)
	done := make(chan error, 1)
	go func() {
		_, err := r.Read(buf)
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
		assert.Equal(t, "hello\n", string(buf))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cat to echo stdin")
	}
}

func TestProcessTransport_KillIsIdempotent(t *testing.T) {
	pt := NewProcessTransport(ProcessConfig{Command: "cat"})
	_, _, err := pt.Start(context.Background())
	require.NoError(t, err)

	require.NoError(t, pt.Kill())
	assert.NoError(t, pt.Kill())
}

func TestProcessTransport_KillBeforeStartIsSafe(t *testing.T) {
	pt := NewProcessTransport(ProcessConfig{Command: "cat"})
	assert.NoError(t, pt.Kill())
}

func TestProcessTransport_EnvAndDirAreApplied(t *testing.T) {
	dir := t.TempDir()
	pt := NewProcessTransport(ProcessConfig{
		Command: "sh",
		Args:    []string{"-c", "pwd && echo $LSPCLIENT_TEST_VAR"},
		Env:     map[string]string{"LSPCLIENT_TEST_VAR": "marker"},
		Dir:     dir,
	})
	r, _, err := pt.Start(context.Background())
	require.NoError(t, err)
	defer pt.Kill()

	buf := make([]byte, 4096)
	n, _ := r.Read(buf)
	out := string(buf[:n])
	assert.Contains(t, out, dir)
	assert.Contains(t, out, "marker")
}
