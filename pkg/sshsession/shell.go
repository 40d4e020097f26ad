package sshsession

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
)

const (
	shellTerm      = "xterm"
	shellRows      = 80
	shellCols      = 200
	shellBaudRate  = 14400
	lineBufferSize = 64
	maxLineSize    = 1024 * 1024
)

// ShellChannel is a long-lived PTY-backed shell. Stdout and stderr are
// delivered line by line on separate channels; both close when the remote
// side closes, after which Done fires and Err reports the exit.
type ShellChannel struct {
	session *ssh.Session
	stdin   io.WriteCloser

	stdout chan string
	stderr chan string
	done   chan struct{}
	quit   chan struct{}
	err    error

	closeOnce sync.Once
}

func startShell(session *ssh.Session) (*ShellChannel, error) {
	fail := func(step string, err error) (*ShellChannel, error) {
		session.Close()
		return nil, fmt.Errorf("%s: %w", step, err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: shellBaudRate,
		ssh.TTY_OP_OSPEED: shellBaudRate,
	}
	if err := session.RequestPty(shellTerm, shellRows, shellCols, modes); err != nil {
		return fail("request pty", err)
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		return fail("stdin pipe", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return fail("stdout pipe", err)
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		return fail("stderr pipe", err)
	}
	if err := session.Shell(); err != nil {
		return fail("start shell", err)
	}

	sh := &ShellChannel{
		session: session,
		stdin:   stdin,
		stdout:  make(chan string, lineBufferSize),
		stderr:  make(chan string, lineBufferSize),
		done:    make(chan struct{}),
		quit:    make(chan struct{}),
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go sh.pump(stdout, sh.stdout, &wg)
	go sh.pump(stderr, sh.stderr, &wg)
	go func() {
		wg.Wait()
		sh.err = session.Wait()
		close(sh.done)
	}()
	return sh, nil
}

func (s *ShellChannel) pump(r io.Reader, out chan<- string, wg *sync.WaitGroup) {
	defer wg.Done()
	defer close(out)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		select {
		case out <- strings.TrimRight(scanner.Text(), "\r"):
		case <-s.quit:
			return
		}
	}
}

// Write sends raw bytes to the shell's stdin.
func (s *ShellChannel) Write(p []byte) (int, error) {
	return s.stdin.Write(p)
}

// Send writes command followed by a newline.
func (s *ShellChannel) Send(command string) error {
	_, err := io.WriteString(s.stdin, command+"\n")
	return err
}

func (s *ShellChannel) Stdout() <-chan string { return s.stdout }
func (s *ShellChannel) Stderr() <-chan string { return s.stderr }
func (s *ShellChannel) Done() <-chan struct{} { return s.done }

// Err is the session's exit error. Only meaningful after Done fires.
func (s *ShellChannel) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

func (s *ShellChannel) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.quit)
		err = s.session.Close()
		if err == io.EOF {
			err = nil
		}
	})
	return err
}
