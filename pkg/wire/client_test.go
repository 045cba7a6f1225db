// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wire

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDevice answers every framed request with respond(request)
func fakeDevice(t *testing.T, conn net.Conn, respond func(Request) []byte) {
	t.Helper()
	go func() {
		framer := NewFramer(0)
		buf := make([]byte, 64)
		for {
			n, err := conn.Read(buf)
			for _, obj := range framer.FeedAll(buf[:n]) {
				if out := respond(ParseRequest(obj)); out != nil {
					if _, werr := conn.Write(out); werr != nil {
						return
					}
				}
			}
			if err != nil {
				return
			}
		}
	}()
}

func TestClient_Get(t *testing.T) {
	host, dev := net.Pipe()
	defer host.Close()
	defer dev.Close()

	fakeDevice(t, dev, func(req Request) []byte {
		b := NewBuilder()
		if req.Fields.Has(FieldVoltage) {
			b.Field(FieldVoltage, 25.5)
		}
		if req.Fields.Has(FieldFirmware) {
			b.Field(FieldFirmware, "fw-test")
		}
		return b.Bytes()
	})

	c := NewClient(host, time.Second)
	reply, err := c.Get(context.Background(), FieldVoltage|FieldFirmware)
	require.NoError(t, err)
	assert.InDelta(t, 25.5, reply.Voltage, 1e-9)
	assert.Equal(t, "fw-test", reply.Firmware)

	fw, rtt, err := c.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fw-test", fw)
	assert.Greater(t, rtt, time.Duration(0))
}

func TestClient_Set(t *testing.T) {
	host, dev := net.Pipe()
	defer host.Close()
	defer dev.Close()

	var got Assignments
	fakeDevice(t, dev, func(req Request) []byte {
		got = req.Set
		return NewBuilder().Bool(KeyOK, true).Field(FieldCapacity, req.Set.CapacityHours).Bytes()
	})

	c := NewClient(host, time.Second)
	reply, err := c.Set(context.Background(), Assignments{}.SetCapacity(42))
	require.NoError(t, err)
	assert.True(t, reply.OK)
	assert.InDelta(t, 42.0, reply.CapacityHours, 1e-9)
	assert.Equal(t, FieldCapacity, got.Present)
}

func TestClient_Timeout(t *testing.T) {
	host, dev := net.Pipe()
	defer host.Close()
	defer dev.Close()

	fakeDevice(t, dev, func(Request) []byte { return nil })

	c := NewClient(host, 50*time.Millisecond)
	_, err := c.Get(context.Background(), FieldVoltage)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestClient_ContextCancel(t *testing.T) {
	host, dev := net.Pipe()
	defer host.Close()
	defer dev.Close()

	fakeDevice(t, dev, func(Request) []byte { return nil })

	c := NewClient(host, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Get(ctx, FieldVoltage)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_Closed(t *testing.T) {
	r, w := io.Pipe()
	w.Close()
	c := NewClient(struct {
		io.Reader
		io.Writer
	}{r, io.Discard}, time.Second)

	_, err := c.Get(context.Background(), FieldVoltage)
	assert.ErrorIs(t, err, ErrClosed)
}
