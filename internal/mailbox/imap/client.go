// Package imap implements the mailbox collaborator contracts over IMAP
// using go-imap v2, with MIME part trees parsed by go-message.
package imap

import (
	"context"
	"fmt"

	goimap "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"

	"github.com/nhle/mailfeed/internal/mailbox"
)

// Config holds the connection settings for one IMAP account.
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	TLS      bool
}

func (c Config) addr() string {
	return c.Host + ":" + c.Port
}

// Session is an authenticated IMAP connection implementing mailbox.Session.
// One folder is selected at a time; the session is not safe for concurrent
// use.
type Session struct {
	cfg    Config
	client *imapclient.Client
	log    *zap.Logger
}

// Dial connects to the IMAP server, authenticates, and returns the session.
// The caller is responsible for calling Close.
func Dial(_ context.Context, cfg Config, log *zap.Logger) (*Session, error) {
	if log == nil {
		log = zap.NewNop()
	}

	var client *imapclient.Client
	var err error
	if cfg.TLS {
		client, err = imapclient.DialTLS(cfg.addr(), nil)
	} else {
		client, err = imapclient.DialStartTLS(cfg.addr(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", cfg.addr(), err)
	}

	if err := client.Login(cfg.Username, cfg.Password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &mailbox.AuthError{
			Account: cfg.Username,
			Message: fmt.Sprintf("authentication failed: %v", err),
		}
	}

	log.Debug("IMAP session established",
		zap.String("host", cfg.Host),
		zap.String("username", cfg.Username))

	return &Session{cfg: cfg, client: client, log: log}, nil
}

// Open selects the named folder and returns its handle. Selecting a folder
// implicitly deselects any previously open one.
func (s *Session) Open(_ context.Context, name string, mode mailbox.OpenMode) (mailbox.Folder, error) {
	opts := &goimap.SelectOptions{ReadOnly: mode == mailbox.ReadOnly}
	data, err := s.client.Select(name, opts).Wait()
	if err != nil {
		return nil, fmt.Errorf("selecting %s: %w", name, err)
	}

	s.log.Debug("folder selected",
		zap.String("folder", name),
		zap.Stringer("mode", mode),
		zap.Uint32("messages", data.NumMessages))

	return &folder{session: s, name: name, mode: mode}, nil
}

// Close logs out and drops the connection.
func (s *Session) Close(_ context.Context) error {
	if err := s.client.Logout().Wait(); err != nil {
		return fmt.Errorf("logging out: %w", err)
	}
	return nil
}
