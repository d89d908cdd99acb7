package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/taumail/mailsync/internal/credential"
	"github.com/taumail/mailsync/internal/mailbox"
	"github.com/taumail/mailsync/internal/model"
	"github.com/taumail/mailsync/internal/sender"
	"github.com/taumail/mailsync/internal/service"
	"github.com/taumail/mailsync/internal/store"
	"github.com/taumail/mailsync/internal/syncer"
)

var (
	configPath string
	userID     string
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "mailsync",
		Short:        "Synchronize and send mail for a platform account",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(
		&configPath, "config", model.DefaultConfigPath(), "path to the config file",
	)
	rootCmd.PersistentFlags().StringVar(
		&userID, "user", "", "platform user id to act as",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)",
	)

	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(sendCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(foldersCmd())
	rootCmd.AddCommand(credentialsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// engine bundles the wired components for one invocation.
type engine struct {
	svc   *service.Service
	creds *credential.KeyringStore
	store *store.SQLiteStore
	log   zerolog.Logger
}

func newEngine() (*engine, error) {
	if userID == "" {
		return nil, fmt.Errorf("--user is required")
	}

	log := newLogger()

	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	st, err := store.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}

	creds := credential.NewKeyringStore()
	dialer := mailbox.NewDialer(log, cfg.Mailbox)

	orchestrator := syncer.New(
		creds, syncer.DialerOpener{Dialer: dialer}, st, log,
	)
	snd := sender.New(sender.NewSMTPTransport(cfg.Submission), st, log)

	return &engine{
		svc:   service.New(orchestrator, snd, st),
		creds: creds,
		store: st,
		log:   log,
	}, nil
}

func (e *engine) close() {
	if err := e.store.Close(); err != nil {
		e.log.Warn().Err(err).Msg("closing store")
	}
}

func newLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()
}

func syncCmd() *cobra.Command {
	var folder string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync against the remote mailbox folder",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := newEngine()
			if err != nil {
				return err
			}
			defer eng.close()

			res, err := eng.svc.TriggerSync(
				cmd.Context(), userID, model.Folder(folder),
			)
			if err != nil {
				return err
			}

			fmt.Printf("triggered: %d\n", res.Triggered)
			return nil
		},
	}

	cmd.Flags().StringVar(&folder, "folder", string(model.FolderInbox), "folder to sync")
	return cmd
}

func sendCmd() *cobra.Command {
	var (
		from    string
		to      []string
		subject string
		text    string
		html    string
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Compose and send a message",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := newEngine()
			if err != nil {
				return err
			}
			defer eng.close()

			res, err := eng.svc.Send(cmd.Context(), userID, model.OutgoingMessage{
				From:    from,
				To:      to,
				Subject: subject,
				Text:    text,
				HTML:    html,
			})
			if err != nil {
				return err
			}

			fmt.Printf("messageId: %s\n", res.MessageID)
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "sender address (defaults to submission username)")
	cmd.Flags().StringSliceVar(&to, "to", nil, "recipient address (repeatable)")
	cmd.Flags().StringVar(&subject, "subject", "", "message subject")
	cmd.Flags().StringVar(&text, "text", "", "plain text body")
	cmd.Flags().StringVar(&html, "html", "", "HTML body")
	return cmd
}

func listCmd() *cobra.Command {
	var (
		folder   string
		page     int
		pageSize int
		search   string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored envelopes in a folder",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := newEngine()
			if err != nil {
				return err
			}
			defer eng.close()

			res, err := eng.svc.ListEnvelopes(cmd.Context(), userID, service.ListRequest{
				Folder:   model.Folder(folder),
				Page:     page,
				PageSize: pageSize,
				Search:   search,
			})
			if err != nil {
				return err
			}

			for _, env := range res.Envelopes {
				read := " "
				if !env.IsRead {
					read = "*"
				}
				fmt.Printf("%s %s  %-30s  %s\n",
					read,
					env.ReceivedAt.Format("2006-01-02 15:04"),
					env.From,
					env.Subject,
				)
			}
			fmt.Printf("page %d/%d (%d total)\n",
				res.Page,
				(res.Total+res.PageSize-1)/res.PageSize,
				res.Total,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&folder, "folder", string(model.FolderInbox), "folder to list")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 20, "page size")
	cmd.Flags().StringVar(&search, "search", "", "substring search over subject, body, and sender")
	return cmd
}

func foldersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "folders",
		Short: "List folders with total and unread counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := newEngine()
			if err != nil {
				return err
			}
			defer eng.close()

			counts, err := eng.svc.ListFolders(cmd.Context(), userID)
			if err != nil {
				return err
			}

			for _, c := range counts {
				fmt.Printf("%-10s %5d total  %5d unread\n", c.Folder, c.Total, c.Unread)
			}
			return nil
		},
	}
}

func credentialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage stored mailbox credentials",
	}

	var (
		host     string
		port     string
		username string
		password string
		noTLS    bool
		insecure bool
	)

	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Store mailbox credentials for a user in the system keyring",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			if password == "" {
				password = os.Getenv("MAILSYNC_PASSWORD")
			}

			creds := credential.Credentials{
				Host:               host,
				Port:               port,
				Username:           username,
				Password:           password,
				TLSRequired:        !noTLS,
				InsecureSkipVerify: insecure,
			}

			ks := credential.NewKeyringStore()
			if err := ks.SetMailboxCredentials(userID, creds); err != nil {
				return err
			}

			fmt.Printf("credentials stored for %s\n", userID)
			return nil
		},
	}

	setCmd.Flags().StringVar(&host, "host", "", "mailbox host")
	setCmd.Flags().StringVar(&port, "port", "993", "mailbox port")
	setCmd.Flags().StringVar(&username, "username", "", "mailbox login")
	setCmd.Flags().StringVar(&password, "password", "", "mailbox password (or MAILSYNC_PASSWORD)")
	setCmd.Flags().BoolVar(&noTLS, "starttls", false, "use STARTTLS instead of implicit TLS")
	setCmd.Flags().BoolVar(&insecure, "insecure-skip-verify", false,
		"disable TLS certificate verification (logged as a security event)")

	deleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove stored mailbox credentials for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			ks := credential.NewKeyringStore()
			if err := ks.DeleteMailboxCredentials(userID); err != nil {
				return err
			}
			fmt.Printf("credentials removed for %s\n", userID)
			return nil
		},
	}

	cmd.AddCommand(setCmd)
	cmd.AddCommand(deleteCmd)
	return cmd
}
