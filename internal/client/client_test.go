package client

import (
	"bufio"
	"encoding/json"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"humed/internal/hume"
)

func TestNewPacketDefaults(t *testing.T) {
	t.Parallel()

	pkt, err := NewPacket("backup done", Options{Task: "backup", Hostname: "web01.example.com"})
	if err != nil {
		t.Fatalf("new packet: %v", err)
	}
	if pkt.Hume.Level != hume.LevelInfo {
		t.Fatalf("level = %q, want info", pkt.Hume.Level)
	}
	if pkt.Hume.Version != hume.MessageVersion {
		t.Fatalf("version = %d", pkt.Hume.Version)
	}
	if pkt.Hume.Tags == nil || pkt.Hume.Extra == nil {
		t.Fatal("collections must be initialized")
	}
	if err := pkt.Validate(); err != nil {
		t.Fatalf("built packet must validate: %v", err)
	}
}

func TestNewPacketRejectsBadInput(t *testing.T) {
	t.Parallel()

	if _, err := NewPacket("x", Options{Level: "fatal"}); err == nil {
		t.Fatal("want error for invalid level")
	}
	if _, err := NewPacket("x", Options{Hostname: "bad_host"}); err == nil {
		t.Fatal("want error for invalid hostname")
	}
}

func TestNewPacketProcessTree(t *testing.T) {
	// No t.Parallel: t.Setenv forbids it.
	if _, err := os.Stat("/proc/self/stat"); err != nil {
		t.Skip("no procfs")
	}

	t.Setenv("LINENO", "42")
	pkt, err := NewPacket("x", Options{Hostname: "web01.example.com", ProcessTree: true})
	if err != nil {
		t.Fatalf("new packet: %v", err)
	}
	if pkt.Process == nil || len(pkt.Process.Tree) == 0 {
		t.Fatal("process tree missing")
	}
	if pkt.Process.Tree[0].PID != os.Getpid() {
		t.Fatalf("tree[0].PID = %d, want %d", pkt.Process.Tree[0].PID, os.Getpid())
	}
	if pkt.Process.LineNumber != "42" {
		t.Fatalf("line number = %q", pkt.Process.LineNumber)
	}
	for i, e := range pkt.Process.Tree {
		if e.Order != i {
			t.Fatalf("tree[%d].Order = %d", i, e.Order)
		}
	}
}

func TestSend(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		received <- line
		conn.Write([]byte("OK\n"))
	}()

	pkt, err := NewPacket("done", Options{Task: "backup", Hostname: "web01.example.com", Token: "sekrit"})
	if err != nil {
		t.Fatalf("new packet: %v", err)
	}
	reply, err := Send(ln.Addr().String(), pkt, 2*time.Second)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply != "OK" {
		t.Fatalf("reply = %q", reply)
	}

	line := <-received
	if !strings.HasSuffix(line, "\n") {
		t.Fatal("request must be newline terminated")
	}
	var sent hume.Packet
	if err := json.Unmarshal([]byte(line), &sent); err != nil {
		t.Fatalf("request is not JSON: %v", err)
	}
	if sent.Token != "sekrit" || sent.Hume.Task != "backup" {
		t.Fatalf("sent = %+v", sent)
	}
}

func TestSendTimeout(t *testing.T) {
	t.Parallel()

	// A server that never answers.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(5 * time.Second)
	}()

	pkt, _ := NewPacket("x", Options{Hostname: "web01.example.com"})
	start := time.Now()
	_, err = Send(ln.Addr().String(), pkt, 300*time.Millisecond)
	if err == nil {
		t.Fatal("want timeout error")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("timeout not honored")
	}
}
