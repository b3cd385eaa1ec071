package remotefs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/skylens-data/flightpath.report/internal/monitoring"
)

var sftpLog = monitoring.Prefixed("sftp")

// SFTPDialer opens password-authenticated SFTP sessions.
type SFTPDialer struct{}

// Dial opens the TCP + SSH + SFTP stack against params within timeout.
// Host keys are not verified; the fleet file servers have no distributed
// known_hosts.
func (SFTPDialer) Dial(ctx context.Context, params DialParams, timeout time.Duration) (Session, error) {
	dialCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	netConn, err := (&net.Dialer{}).DialContext(dialCtx, "tcp", params.Addr())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", params.Addr(), err)
	}

	sshConf := &ssh.ClientConfig{
		User:            params.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(params.Secret)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	conn, chans, reqs, err := ssh.NewClientConn(netConn, params.Addr(), sshConf)
	if err != nil {
		netConn.Close()
		return nil, fmt.Errorf("ssh handshake %s: %w", params.Addr(), err)
	}
	sshClient := ssh.NewClient(conn, chans, reqs)

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("sftp subsystem %s: %w", params.Addr(), err)
	}

	return &sftpSession{
		addr:   params.Addr(),
		ssh:    sshClient,
		client: client,
	}, nil
}

// sftpSession implements Session over one SSH connection. The underlying
// protocol calls do not take contexts, so each operation runs in its own
// goroutine and the caller's context bounds the wait. An abandoned
// operation keeps its goroutine until the protocol call returns or the
// session is closed; the pool drops timed-out connections via its health
// probe rather than reusing them.
type sftpSession struct {
	addr   string
	ssh    *ssh.Client
	client *sftp.Client

	mu     sync.Mutex
	closed bool
}

func (s *sftpSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// await runs op in a goroutine and waits for it or the context, whichever
// finishes first.
func await[T any](ctx context.Context, op func() (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		val, err := op()
		ch <- result{val, err}
	}()

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case res := <-ch:
		return res.val, res.err
	}
}

func (s *sftpSession) Stat(ctx context.Context, path string) (Entry, error) {
	if s.isClosed() {
		return Entry{}, ErrClosed
	}
	info, err := await(ctx, func() (os.FileInfo, error) {
		return s.client.Stat(path)
	})
	if err != nil {
		return Entry{}, wrapPathError("stat", path, err)
	}
	return entryFromFileInfo(info), nil
}

func (s *sftpSession) List(ctx context.Context, path string) ([]Entry, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	infos, err := await(ctx, func() ([]os.FileInfo, error) {
		return s.client.ReadDir(path)
	})
	if err != nil {
		return nil, wrapPathError("list", path, err)
	}

	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		if strings.HasPrefix(info.Name(), ".") {
			continue
		}
		entries = append(entries, entryFromFileInfo(info))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (s *sftpSession) ReadPrefix(ctx context.Context, path string, maxBytes int) ([]byte, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	data, err := await(ctx, func() ([]byte, error) {
		f, err := s.client.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		buf := make([]byte, maxBytes)
		n, err := io.ReadFull(f, buf)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			// File shorter than the prefix window.
			err = nil
		}
		if err != nil {
			return nil, err
		}
		return buf[:n], nil
	})
	if err != nil {
		return nil, wrapPathError("read", path, err)
	}
	return data, nil
}

func (s *sftpSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.client.Close(); err != nil {
		sftpLog("close sftp client %s: %v", s.addr, err)
	}
	return s.ssh.Close()
}

func entryFromFileInfo(info os.FileInfo) Entry {
	t := EntryFile
	if info.IsDir() {
		t = EntryDir
	}
	return Entry{
		Name:    info.Name(),
		Type:    t,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
}

func wrapPathError(op, path string, err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s %s: %w", op, path, ErrNotExist)
	}
	return fmt.Errorf("%s %s: %w", op, path, err)
}
