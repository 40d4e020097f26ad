package testutil

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"testing"

	"golang.org/x/crypto/ssh"
)

// Reply is what the fake server answers to one command.
type Reply struct {
	Stdout string
	Stderr string
	Status uint32
}

type Handler func(command string) Reply

// SSHServer is a loopback SSH server that answers exec requests and
// line-oriented shell sessions through a Handler.
type SSHServer struct {
	Addr        string
	Host        string
	Port        int
	connections atomic.Int32
}

// Connections counts accepted handshakes.
func (s *SSHServer) Connections() int { return int(s.connections.Load()) }

// NewSSHServer starts a server accepting only the authorized public key.
// A shell session ends when the client sends the line "exit".
func NewSSHServer(t testing.TB, authorized ssh.PublicKey, hostKey ssh.Signer, handler Handler) *SSHServer {
	t.Helper()

	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(key.Marshal(), authorized.Marshal()) {
				return nil, nil
			}
			return nil, fmt.Errorf("unknown public key")
		},
	}
	cfg.AddHostKey(hostKey)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	tcpAddr := ln.Addr().(*net.TCPAddr)
	srv := &SSHServer{Addr: tcpAddr.String(), Host: tcpAddr.IP.String(), Port: tcpAddr.Port}

	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.serveConn(nc, cfg, handler)
		}
	}()
	return srv
}

func (s *SSHServer) serveConn(nc net.Conn, cfg *ssh.ServerConfig, handler Handler) {
	conn, chans, reqs, err := ssh.NewServerConn(nc, cfg)
	if err != nil {
		nc.Close()
		return
	}
	defer conn.Close()
	s.connections.Add(1)
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			newCh.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		ch, requests, err := newCh.Accept()
		if err != nil {
			continue
		}
		go serveSession(ch, requests, handler)
	}
}

func serveSession(ch ssh.Channel, requests <-chan *ssh.Request, handler Handler) {
	for req := range requests {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			go func() {
				reply := handler(strings.TrimSpace(payload.Command))
				writeReply(ch, reply)
				exit(ch, reply.Status)
			}()
		case "pty-req":
			req.Reply(true, nil)
		case "shell":
			req.Reply(true, nil)
			go serveShell(ch, handler)
		default:
			req.Reply(false, nil)
		}
	}
}

func serveShell(ch ssh.Channel, handler Handler) {
	scanner := bufio.NewScanner(ch)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" {
			exit(ch, 0)
			return
		}
		writeReply(ch, handler(line))
	}
	exit(ch, 0)
}

func writeReply(ch ssh.Channel, reply Reply) {
	io.WriteString(ch, reply.Stdout)
	io.WriteString(ch.Stderr(), reply.Stderr)
}

func exit(ch ssh.Channel, status uint32) {
	ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
	ch.Close()
}
