package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"time"

	"github.com/jlaffaye/ftp"
)

// FTP retrieves files over FTP, one connection per file.
type FTP struct {
	Timeout time.Duration
}

func (f FTP) Retrieve(ctx context.Context, ref Ref) ([]byte, error) {
	timeout := f.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	conn, err := ftp.Dial(ref.Host, ftp.DialWithTimeout(timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("ftp dial: %w", err)
	}
	defer conn.Quit()

	if err := conn.Login(ref.User, ref.Password); err != nil {
		return nil, classify(fmt.Errorf("ftp login: %w", err))
	}

	resp, err := conn.Retr(ref.Path)
	if err != nil {
		return nil, classify(fmt.Errorf("ftp retr %s: %w", ref.Path, err))
	}
	defer resp.Close()

	body, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// classify marks replies that will not change on retry.
func classify(err error) error {
	var reply *textproto.Error
	if !errors.As(err, &reply) {
		return err
	}
	switch reply.Code {
	case ftp.StatusFileUnavailable:
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case ftp.StatusNotLoggedIn:
		return fmt.Errorf("%w: %w", ErrDenied, err)
	}
	return err
}
