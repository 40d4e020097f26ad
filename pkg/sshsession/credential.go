package sshsession

import (
	"fmt"
	"net"
	"strconv"

	"github.com/go-playground/validator/v10"
)

const DefaultPort = 22

var validate = validator.New()

// Credential is everything needed to authenticate one connection attempt.
// It is never persisted; PrivateKeyPEM should be dropped once Connect returns.
type Credential struct {
	Host          string `validate:"required"`
	Port          int    `validate:"gte=0,lte=65535"`
	Username      string `validate:"required"`
	PrivateKeyPEM []byte `validate:"required,min=1"`
}

// Addr returns host:port, defaulting the port to 22.
func (c Credential) Addr() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

func (c Credential) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	return nil
}

// String never includes key material.
func (c Credential) String() string {
	return c.Username + "@" + c.Addr()
}
