package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/mailfeed/internal/credential"
	"github.com/nhle/mailfeed/internal/criteria"
	"github.com/nhle/mailfeed/internal/decompose"
	"github.com/nhle/mailfeed/internal/mailbox"
	imapbox "github.com/nhle/mailfeed/internal/mailbox/imap"
	"github.com/nhle/mailfeed/internal/model"
	"github.com/nhle/mailfeed/internal/retrieve"
	"github.com/nhle/mailfeed/internal/store"
	"github.com/nhle/mailfeed/internal/sync"
)

const usage = `usage: mailfeed <command> [flags]

commands:
  list        retrieve matching messages from one account and print them
  poll        poll all enabled accounts on their configured intervals
  set-pass    store an account password in the system keyring
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch os.Args[1] {
	case "list":
		err = runList(ctx, os.Args[2:], log)
	case "poll":
		err = runPoll(ctx, os.Args[2:], log)
	case "set-pass":
		err = runSetPass(os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil {
		log.Error("mailfeed failed", zap.Error(err))
		os.Exit(1)
	}
}

func runList(ctx context.Context, args []string, log *zap.Logger) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configPath := fs.String("config", model.DefaultConfigPath(), "configuration file path")
	accountID := fs.String("account", "", "account id to retrieve from")
	folder := fs.String("folder", "", "folder override")
	unseenOnly := fs.Bool("unseen", false, "only messages without the seen flag")
	subject := fs.String("subject", "", "subject regular expression")
	sender := fs.String("from", "", "sender regular expression")
	since := fs.String("since", "", "received on or after (RFC 3339 or YYYY-MM-DD)")
	limit := fs.Int("limit", -1, "max results; -1 for unlimited")
	offset := fs.Int("offset", 0, "skip the oldest N messages")
	fetchContent := fs.Bool("content", true, "fetch and decompose message content")
	deleteAfter := fs.Bool("delete", false, "delete messages after retrieval")
	fs.Parse(args)

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	account, err := findAccount(cfg, *accountID)
	if err != nil {
		return err
	}
	if *folder != "" {
		account.Folder = *folder
	}

	crit, err := buildCriteria(*unseenOnly, *subject, *sender, *since)
	if err != nil {
		return err
	}

	session, err := dialAccount(ctx, account, log)
	if err != nil {
		return err
	}
	retriever := retrieve.New(session, log)
	defer func() {
		if closeErr := retriever.Close(context.Background()); closeErr != nil {
			log.Warn("closing retriever", zap.Error(closeErr))
		}
	}()

	items, err := retriever.List(ctx, retrieve.Config{
		Folder:       account.Folder,
		PageSize:     cfg.Retrieval.PageSize,
		Offset:       *offset,
		Limit:        *limit,
		Criteria:     crit,
		FetchContent: *fetchContent,
		Decompose: decompose.Options{
			Naming:                decompose.ParseNamingStrategy(cfg.Retrieval.NamingStrategy),
			TreatTextAsAttachment: cfg.Retrieval.TreatTextAsAttachment,
		},
		DeleteAfterRetrieve: *deleteAfter,
	})
	if err != nil {
		return err
	}

	for _, item := range items {
		printItem(item)
	}
	fmt.Printf("%d message(s)\n", len(items))
	return nil
}

func runPoll(ctx context.Context, args []string, log *zap.Logger) error {
	fs := flag.NewFlagSet("poll", flag.ExitOnError)
	configPath := fs.String("config", model.DefaultConfigPath(), "configuration file path")
	fs.Parse(args)

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	var archive store.Store
	if cfg.Storage.Enabled {
		s, err := store.NewSQLiteStore(cfg.Storage.Path)
		if err != nil {
			return err
		}
		defer s.Close()
		archive = s
	}

	poller := sync.New(archive, cfg.Retrieval, log)
	registered := 0
	for _, account := range cfg.Accounts {
		if !account.Enabled {
			continue
		}
		poller.RegisterAccount(account, func(ctx context.Context, cfg model.AccountConfig) (mailbox.Session, error) {
			return dialAccount(ctx, cfg, log)
		})
		registered++
	}
	if registered == 0 {
		return fmt.Errorf("no enabled accounts in %s", *configPath)
	}

	poller.Start()
	defer poller.Stop()
	log.Info("polling started", zap.Int("accounts", registered))

	for {
		select {
		case <-ctx.Done():
			return nil
		case result := <-poller.Results():
			switch {
			case result.AuthError:
				log.Error("authentication failed; update the stored credential",
					zap.String("account", result.AccountID),
					zap.Error(result.Error))
			case result.Error != nil:
				log.Warn("poll cycle failed",
					zap.String("account", result.AccountID),
					zap.Error(result.Error))
			case result.NewCount > 0:
				log.Info("retrieved messages",
					zap.String("account", result.AccountID),
					zap.Int("count", result.NewCount))
			}
		}
	}
}

func runSetPass(args []string) error {
	fs := flag.NewFlagSet("set-pass", flag.ExitOnError)
	accountID := fs.String("account", "", "account id")
	password := fs.String("password", "", "password to store")
	fs.Parse(args)

	if *accountID == "" || *password == "" {
		return fmt.Errorf("set-pass requires -account and -password")
	}
	return credential.StorePassword(*accountID, *password)
}

// dialAccount resolves the password (keyring fallback) and opens an
// authenticated session.
func dialAccount(ctx context.Context, account model.AccountConfig, log *zap.Logger) (mailbox.Session, error) {
	password := account.Password
	if password == "" {
		stored, err := credential.Password(account.ID)
		if err != nil {
			return nil, fmt.Errorf("no password configured for %s and keyring lookup failed: %w", account.ID, err)
		}
		password = stored
	}

	return imapbox.Dial(ctx, imapbox.Config{
		Host:     account.Host,
		Port:     account.Port,
		Username: account.Username,
		Password: password,
		TLS:      account.TLS,
	}, log)
}

// findAccount picks the requested account, or the only enabled one when no
// id is given.
func findAccount(cfg *model.AppConfig, id string) (model.AccountConfig, error) {
	if id == "" {
		var enabled []model.AccountConfig
		for _, a := range cfg.Accounts {
			if a.Enabled {
				enabled = append(enabled, a)
			}
		}
		if len(enabled) == 1 {
			return enabled[0], nil
		}
		return model.AccountConfig{}, fmt.Errorf("-account is required when %d accounts are configured", len(enabled))
	}
	for _, a := range cfg.Accounts {
		if a.ID == id {
			return a, nil
		}
	}
	return model.AccountConfig{}, fmt.Errorf("unknown account %q", id)
}

// buildCriteria assembles retrieval criteria from the list flags.
func buildCriteria(unseenOnly bool, subject, sender, since string) (criteria.Criteria, error) {
	crit := criteria.Criteria{}
	if unseenOnly {
		crit.Seen = criteria.Exclude
	}
	if subject != "" {
		re, err := regexp.Compile(subject)
		if err != nil {
			return crit, fmt.Errorf("invalid -subject pattern: %w", err)
		}
		crit.Subject = re
	}
	if sender != "" {
		re, err := regexp.Compile(sender)
		if err != nil {
			return crit, fmt.Errorf("invalid -from pattern: %w", err)
		}
		crit.Sender = re
	}
	if since != "" {
		t, err := parseTimeFlag(since)
		if err != nil {
			return crit, fmt.Errorf("invalid -since value: %w", err)
		}
		crit.ReceivedSince = t
	}
	return crit, nil
}

func parseTimeFlag(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func printItem(item retrieve.Item) {
	fmt.Printf("#%d  %s  %s  %s\n",
		item.SeqNum,
		item.Attributes.ReceivedDate.Format(time.RFC3339),
		item.Attributes.From,
		item.Attributes.Subject)
	if item.Content == nil {
		return
	}
	for _, att := range item.Content.Attachments {
		fmt.Printf("    attachment: %s (%s, %d bytes)\n", att.Name, att.MediaType, len(att.Data))
	}
}
