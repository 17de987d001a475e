package serialmux

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestSubscribeReceivesLines(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true
	mux := NewSerialMux(port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()

	id, ch := mux.Subscribe()
	defer mux.Unsubscribe(id)

	// Fan-out sends are non-blocking, so park a drain goroutine on the
	// subscriber channel before feeding the port.
	gotCh := make(chan string, 16)
	go func() {
		for line := range ch {
			gotCh <- line
		}
	}()
	time.Sleep(20 * time.Millisecond)

	port.AddReadData([]byte("90\n0\n"))

	var got []string
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case line := <-gotCh:
			got = append(got, line)
		case <-timeout:
			t.Fatalf("timed out, got %v", got)
		}
	}

	if got[0] != "90" || got[1] != "0" {
		t.Errorf("lines = %v, want [90 0]", got)
	}

	cancel()
	<-done
}

func TestSendCommandAppendsNewline(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	if err := mux.SendCommand("SERVO:45"); err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}

	if got := string(port.GetWrittenData()); got != "SERVO:45\n" {
		t.Errorf("written = %q, want SERVO:45 with trailing newline", got)
	}
}

func TestSendCommandPreservesNewline(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	if err := mux.SendCommand("status\n"); err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}

	if got := string(port.GetWrittenData()); got != "status\n" {
		t.Errorf("written = %q", got)
	}
}

func TestInitializeParksServoAndRequestsStatus(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	if err := mux.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	written := string(port.GetWrittenData())
	if !strings.Contains(written, "SERVO:90\n") {
		t.Errorf("Initialize did not park the servo: %q", written)
	}
	if !strings.Contains(written, "status\n") {
		t.Errorf("Initialize did not request a status dump: %q", written)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())

	id, ch := mux.Subscribe()
	mux.Unsubscribe(id)

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Unsubscribe")
	}
}

func TestCloseClosesAllSubscribers(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())

	_, ch1 := mux.Subscribe()
	_, ch2 := mux.Subscribe()

	if err := mux.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	for i, ch := range []chan string{ch1, ch2} {
		if _, ok := <-ch; ok {
			t.Errorf("subscriber %d channel should be closed after Close", i)
		}
	}
}

func TestMonitorReturnsOnContextCancel(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true
	mux := NewSerialMux(port)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()

	cancel()
	// Unblock the scanner goroutine.
	port.Close()

	// The scanner may observe the port closing before Monitor sees the
	// cancelled context, so only require that Monitor returns promptly.
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not return after cancel")
	}
}

func TestDisabledMuxLifecycle(t *testing.T) {
	d := NewDisabledSerialMux()

	if err := d.Initialize(); err != nil {
		t.Errorf("Initialize on disabled mux: %v", err)
	}
	if err := d.SendCommand("SWEEP"); err != nil {
		t.Errorf("SendCommand on disabled mux: %v", err)
	}

	_, ch := d.Subscribe()
	if err := d.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("subscriber channel should close on Close")
	}

	// Subscribing after close yields an already-closed channel.
	_, ch2 := d.Subscribe()
	if _, ok := <-ch2; ok {
		t.Error("post-close Subscribe should return a closed channel")
	}
}
