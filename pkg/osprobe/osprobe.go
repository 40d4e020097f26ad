// Package osprobe classifies the guest operating system of a remote host from
// the output of a single combined introspection command.
package osprobe

import (
	"context"
	"fmt"
	"strings"

	"github.com/andrej220/provisioner/pkg/sshsession"
)

// ProbeCommand tries the Windows version tool first and falls back to the Unix
// release files in the same invocation.
const ProbeCommand = "ver || cat /etc/*release"

type Category int

const (
	GenericLinux Category = iota
	Windows
	UbuntuDebian
	CentOS
)

func (c Category) String() string {
	switch c {
	case Windows:
		return "windows"
	case UbuntuDebian:
		return "ubuntu_debian"
	case CentOS:
		return "centos"
	default:
		return "generic_linux"
	}
}

// ParseCategory is the inverse of String. Unknown names map to GenericLinux.
func ParseCategory(s string) Category {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "windows":
		return Windows
	case "ubuntu_debian", "ubuntu", "debian":
		return UbuntuDebian
	case "centos":
		return CentOS
	default:
		return GenericLinux
	}
}

func (c Category) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Category) UnmarshalText(b []byte) error {
	*c = ParseCategory(string(b))
	return nil
}

// Runner executes one command in a fresh exec channel.
type Runner interface {
	Exec(ctx context.Context, command string) (*sshsession.ExecResult, error)
}

// DetectError reports that the probe command could not be run at all.
type DetectError struct {
	Err error
}

func (e *DetectError) Error() string { return fmt.Sprintf("detect os: %v", e.Err) }
func (e *DetectError) Unwrap() error { return e.Err }

// Classify matches case-insensitively, Windows first. Anything unrecognized is
// GenericLinux.
func Classify(output string) Category {
	text := strings.ToLower(output)
	switch {
	case strings.Contains(text, "windows"):
		return Windows
	case strings.Contains(text, "ubuntu"), strings.Contains(text, "debian"):
		return UbuntuDebian
	case strings.Contains(text, "centos"):
		return CentOS
	default:
		return GenericLinux
	}
}

// Detect runs ProbeCommand through r and classifies stdout and stderr together.
// A nonzero exit status is expected on Linux, where "ver" does not exist, and is
// not an error.
func Detect(ctx context.Context, r Runner) (Category, error) {
	res, err := r.Exec(ctx, ProbeCommand)
	if err != nil {
		return GenericLinux, &DetectError{Err: err}
	}
	return Classify(res.Stdout + "\n" + res.Stderr), nil
}
