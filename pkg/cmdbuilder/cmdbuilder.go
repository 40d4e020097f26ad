// Package cmdbuilder renders the privileged command sequence that creates a
// login user and enables password authentication over SSH on a guest OS.
package cmdbuilder

import (
	"embed"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/alessio/shellescape"
	"github.com/andrej220/provisioner/pkg/osprobe"
	"github.com/aymerick/raymond"
	"github.com/go-playground/validator/v10"
	"golang.org/x/text/encoding/unicode"
)

var (
	ErrInvalidUsername = errors.New("invalid username")
	ErrInvalidPassword = errors.New("invalid password")
)

//go:embed templates/*.hbs
var templateFS embed.FS

var templateFiles = map[osprobe.Category]string{
	osprobe.Windows:      "templates/windows.hbs",
	osprobe.UbuntuDebian: "templates/ubuntu_debian.hbs",
	osprobe.CentOS:       "templates/centos.hbs",
	osprobe.GenericLinux: "templates/generic_linux.hbs",
}

var (
	parseOnce sync.Once
	templates map[osprobe.Category]*raymond.Template
	parseErr  error
)

// posixUser is the portable login name set, lowercase only.
var posixUser = regexp.MustCompile(`^[a-z_][a-z0-9_-]{0,31}$`)

type target struct {
	Username string `validate:"required,posix_user"`
	Password string `validate:"required,single_line"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("posix_user", func(fl validator.FieldLevel) bool {
		return posixUser.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("single_line", func(fl validator.FieldLevel) bool {
		return !strings.ContainsAny(fl.Field().String(), "\r\n\x00")
	})
	return v
}

func loadTemplates() (map[osprobe.Category]*raymond.Template, error) {
	partial, err := templateFS.ReadFile("templates/sshd_password_auth.hbs")
	if err != nil {
		return nil, err
	}
	out := make(map[osprobe.Category]*raymond.Template, len(templateFiles))
	for cat, name := range templateFiles {
		src, err := templateFS.ReadFile(name)
		if err != nil {
			return nil, err
		}
		tpl, err := raymond.Parse(string(src))
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		tpl.RegisterPartial("sshd_password_auth", string(partial))
		out[cat] = tpl
	}
	return out, nil
}

// Render returns the command for cat. The result depends only on its inputs.
// POSIX steps are chained with "&&" so the first failing step aborts the
// sequence; the Windows script runs under powershell -EncodedCommand.
func Render(cat osprobe.Category, username, password string) (string, error) {
	if err := ValidateTarget(username, password); err != nil {
		return "", err
	}
	steps, err := renderSteps(cat, username, password)
	if err != nil {
		return "", err
	}
	if cat == osprobe.Windows {
		return encodedPowerShell(strings.Join(steps, "\n"))
	}
	return strings.Join(steps, " && "), nil
}

// ValidateTarget checks the login name and password Render would embed.
func ValidateTarget(username, password string) error {
	err := validate.Struct(target{Username: username, Password: password})
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			if fe.Field() == "Username" {
				return fmt.Errorf("%w: %q", ErrInvalidUsername, username)
			}
		}
		return ErrInvalidPassword
	}
	return err
}

func renderSteps(cat osprobe.Category, username, password string) ([]string, error) {
	parseOnce.Do(func() { templates, parseErr = loadTemplates() })
	if parseErr != nil {
		return nil, parseErr
	}
	tpl, ok := templates[cat]
	if !ok {
		tpl = templates[osprobe.GenericLinux]
	}

	ctx := map[string]string{
		"user":        shellescape.Quote(username),
		"password":    shellescape.Quote(password),
		"credentials": shellescape.Quote(username + ":" + password),
	}
	if cat == osprobe.Windows {
		ctx = map[string]string{
			"user":     psQuote(username),
			"password": psQuote(password),
		}
	}

	out, err := tpl.Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", cat, err)
	}
	var steps []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			steps = append(steps, line)
		}
	}
	return steps, nil
}

// psQuote produces a PowerShell single-quoted literal. PowerShell also treats
// the typographic single quotes as delimiters, so those are doubled too.
func psQuote(s string) string {
	var b strings.Builder
	b.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\'', '‘', '’', '‚', '‛':
			b.WriteRune(r)
		}
		b.WriteRune(r)
	}
	b.WriteByte('\'')
	return b.String()
}

func encodedPowerShell(script string) (string, error) {
	utf16, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder().String(script)
	if err != nil {
		return "", fmt.Errorf("encode powershell script: %w", err)
	}
	return "powershell -NoProfile -NonInteractive -ExecutionPolicy Bypass -EncodedCommand " +
		base64.StdEncoding.EncodeToString([]byte(utf16)), nil
}
