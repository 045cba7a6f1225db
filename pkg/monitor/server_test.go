// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package monitor

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, e *Engine) (net.Conn, <-chan error, context.CancelFunc) {
	t.Helper()
	host, dev := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())

	srv := NewServer(e, ServerOptions{PollInterval: 5 * time.Millisecond, Logger: zerolog.Nop()})
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx, dev)
		dev.Close()
	}()
	t.Cleanup(func() {
		cancel()
		host.Close()
	})
	return host, done, cancel
}

func send(t *testing.T, conn net.Conn, s string) {
	t.Helper()
	go func() {
		_, _ = conn.Write([]byte(s))
	}()
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
		return nil
	}
}

func TestServer_RequestsInOrder(t *testing.T) {
	e, _, _ := newTestEngine(t, newFakeSensor(25.0, -0.2), true)
	host, _, _ := startServer(t, e)
	lines := bufio.NewReader(host)

	// no separator between objects, noise in between
	send(t, host, `{"get":["v"]}noise{"get":["charging"]}`+"\r\n"+`{"set":{"capacity_h":5}}`)

	for _, want := range []string{
		`{"v":25.000}`,
		`{"charging":false}`,
		`{"ok":true,"min_v":21.000,"max_v":32.200,"capacity_h":5.00}`,
	} {
		line, err := lines.ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, want, strings.TrimSuffix(line, "\n"))
	}
}

func TestServer_SplitAcrossWrites(t *testing.T) {
	e, _, _ := newTestEngine(t, newFakeSensor(25.0, 0), true)
	host, _, _ := startServer(t, e)
	lines := bufio.NewReader(host)

	_, err := host.Write([]byte(`{"get":["m`))
	require.NoError(t, err)
	_, err = host.Write([]byte(`in_v"]}`))
	require.NoError(t, err)

	line, err := lines.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, `{"min_v":21.000}`+"\n", line)
}

func TestServer_OversizedDiscarded(t *testing.T) {
	e, _, _ := newTestEngine(t, newFakeSensor(25.0, 0), true)
	host, done, _ := startServer(t, e)
	lines := bufio.NewReader(host)

	send(t, host, `{"get":"`+strings.Repeat("x", 600)+`"}{"get":["fw"]}`)

	line, err := lines.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, `{"fw":"battmon-test"}`+"\n", line)

	host.Close()
	require.NoError(t, waitDone(t, done))
	st := e.Snapshot()
	assert.Equal(t, uint64(1), st.Overflows)
	assert.Equal(t, uint64(1), st.Total)
}

func TestServer_StopsOnCancel(t *testing.T) {
	e, _, _ := newTestEngine(t, newFakeSensor(25.0, 0), true)
	_, done, cancel := startServer(t, e)

	cancel()
	assert.NoError(t, waitDone(t, done))
}

func TestServer_StopsOnEOF(t *testing.T) {
	e, _, _ := newTestEngine(t, newFakeSensor(25.0, 0), true)
	host, done, _ := startServer(t, e)

	host.Close()
	assert.NoError(t, waitDone(t, done))
}
