package netem

import (
	"context"
	"strings"
	"testing"
)

const linkShowOutput = `1: lo: <LOOPBACK,UP,LOWER_UP> mtu 65536 qdisc noqueue state UNKNOWN mode DEFAULT group default qlen 1000
    link/loopback 00:00:00:00:00:00 brd 00:00:00:00:00:00
24: eth0@if25: <BROADCAST,MULTICAST,UP,LOWER_UP> mtu 1500 qdisc noqueue state UP mode DEFAULT group default
    link/ether 02:42:ac:12:00:02 brd ff:ff:ff:ff:ff:ff link-netnsid 0
26: eth1@if27: <BROADCAST,MULTICAST,UP,LOWER_UP> mtu 1500 qdisc noqueue state UP mode DEFAULT group default
    link/ether 02:42:ac:13:00:02 brd ff:ff:ff:ff:ff:ff link-netnsid 0
`

func TestInterfaces(t *testing.T) {
	got := interfaces(linkShowOutput)
	if len(got) != 2 || got[0] != "eth0" || got[1] != "eth1" {
		t.Errorf("expected [eth0 eth1], got %v", got)
	}

	if got := interfaces("1: lo: <LOOPBACK> mtu 65536"); len(got) != 0 {
		t.Errorf("loopback must not match, got %v", got)
	}
}

func TestQdiscCommand(t *testing.T) {
	s := NewShaper(nil, Conditions{Bandwidth: "500mbit", Latency: "10ms", Loss: "0.1%"})
	got := s.qdiscCommand("eth0")
	want := "tc qdisc add dev eth0 root netem delay 10ms rate 500mbit loss 0.1%"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

// fakeExecer replays canned results and records the commands it saw.
type fakeExecer struct {
	results  map[string]ExecResult
	commands []string
}

func (f *fakeExecer) Exec(ctx context.Context, containerID string, cmd string) (ExecResult, error) {
	f.commands = append(f.commands, cmd)
	if res, ok := f.results[cmd]; ok {
		return res, nil
	}
	return ExecResult{ExitCode: 0}, nil
}

func TestShaperAppliesToAllInterfaces(t *testing.T) {
	exec := &fakeExecer{results: map[string]ExecResult{
		"ip link show": {ExitCode: 0, Output: linkShowOutput},
	}}
	s := NewShaper(exec, Conditions{Bandwidth: "500mbit", Latency: "10ms", Loss: "0.1%"})

	if err := s.Apply(context.Background(), "abc123", "jwt-client"); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	// one discovery call plus one qdisc per interface
	if len(exec.commands) != 3 {
		t.Fatalf("expected 3 exec calls, got %v", exec.commands)
	}
	if !strings.Contains(exec.commands[1], "eth0") || !strings.Contains(exec.commands[2], "eth1") {
		t.Errorf("unexpected shaping commands: %v", exec.commands[1:])
	}
}

func TestShaperNonZeroExitIsFatal(t *testing.T) {
	exec := &fakeExecer{results: map[string]ExecResult{
		"ip link show": {ExitCode: 0, Output: linkShowOutput},
		"tc qdisc add dev eth0 root netem delay 10ms rate 500mbit loss 0.1%": {
			ExitCode: 2, Output: "RTNETLINK answers: Operation not permitted",
		},
	}}
	s := NewShaper(exec, Conditions{Bandwidth: "500mbit", Latency: "10ms", Loss: "0.1%"})

	err := s.Apply(context.Background(), "abc123", "jwt-client")
	if err == nil {
		t.Fatal("expected non-zero exit to fail")
	}
	for _, want := range []string{"jwt-client", "eth0", "exited with 2", "Operation not permitted"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing context %q", err, want)
		}
	}
}
