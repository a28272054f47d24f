package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHConfig describes how to reach a remote host that has a P2 board's
// debug UART attached, for development and replay testing without local
// hardware.
type SSHConfig struct {
	Host      string
	User      string
	Password  string
	KeyPath   string
	Port      int
	DevicePath string // remote tty device, e.g. "/dev/ttyUSB0"
}

// SSHReplaySource streams bytes from a remote serial device by running a
// passthrough command (cat) over an SSH session, the same dial-then-session
// pattern the teacher's sysfs attribute writer uses for its fallback path.
type SSHReplaySource struct {
	cfg SSHConfig
}

// NewSSHReplaySource validates configuration and prepares a source.
func NewSSHReplaySource(cfg SSHConfig) (*SSHReplaySource, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("ssh host is required for replay source")
	}
	if cfg.DevicePath == "" {
		return nil, fmt.Errorf("remote device path is required for replay source")
	}
	if cfg.User == "" {
		cfg.User = "root"
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	return &SSHReplaySource{cfg: cfg}, nil
}

func (s *SSHReplaySource) Name() string {
	return fmt.Sprintf("ssh-replay:%s@%s:%d%s", s.cfg.User, s.cfg.Host, s.cfg.Port, s.cfg.DevicePath)
}

// sessionStream wires an ssh.Session's stdout to io.ReadCloser, closing the
// session and the underlying client when the caller is done reading.
type sessionStream struct {
	io.Reader
	session *ssh.Session
	client  *ssh.Client
}

func (s *sessionStream) Close() error {
	sErr := s.session.Close()
	cErr := s.client.Close()
	if sErr != nil {
		return sErr
	}
	return cErr
}

// Dial opens an SSH connection and starts "cat <device>" on the far end,
// returning its stdout as a live byte stream.
func (s *SSHReplaySource) Dial(ctx context.Context) (io.ReadCloser, error) {
	auth := []ssh.AuthMethod{}
	if s.cfg.Password != "" {
		auth = append(auth, ssh.Password(s.cfg.Password))
	}
	if s.cfg.KeyPath != "" {
		key, err := os.ReadFile(s.cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse ssh key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no ssh password or key configured")
	}

	config := &ssh.ClientConfig{
		User:            s.cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial ssh: %w", err)
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create ssh client: %w", err)
	}
	client := ssh.NewClient(clientConn, chans, reqs)

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("create ssh session: %w", err)
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("attach stdout pipe: %w", err)
	}

	if err := session.Start(fmt.Sprintf("cat %s", shellQuotePath(s.cfg.DevicePath))); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("start remote cat: %w", err)
	}

	return &sessionStream{Reader: stdout, session: session, client: client}, nil
}

// shellQuotePath wraps a path in single quotes, escaping embedded quotes,
// to avoid shell interpretation of unusual device path characters.
func shellQuotePath(path string) string {
	escaped := ""
	for _, r := range path {
		if r == '\'' {
			escaped += `'\''`
			continue
		}
		escaped += string(r)
	}
	return "'" + escaped + "'"
}
