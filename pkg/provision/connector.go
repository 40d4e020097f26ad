package provision

import (
	"context"

	"github.com/andrej220/provisioner/pkg/sshsession"
)

// DialerConnector adapts *sshsession.Dialer to Connector.
type DialerConnector struct {
	Dialer *sshsession.Dialer
}

func (d DialerConnector) Connect(ctx context.Context, cred sshsession.Credential) (Session, error) {
	conn, err := d.Dialer.Connect(ctx, cred)
	if err != nil {
		return nil, err
	}
	return connSession{conn}, nil
}

type connSession struct {
	*sshsession.Connection
}

func (s connSession) OpenShell(ctx context.Context) (Shell, error) {
	sh, err := s.Connection.OpenShell(ctx)
	if err != nil {
		return nil, err
	}
	return sh, nil
}
