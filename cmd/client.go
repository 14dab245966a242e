package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/taraaggoun/megaphone/client"
	"github.com/taraaggoun/megaphone/internal/accounts"
	"github.com/taraaggoun/megaphone/internal/env"
	"github.com/taraaggoun/megaphone/protocol"
	"github.com/taraaggoun/megaphone/workers"
)

var (
	serverHost string
	serverPort int

	// Account used by a request, either by id or by the pseudo it was
	// registered with
	userID   uint16
	userName string

	feedNumber uint16
	postCount  uint16

	subscribeFor time.Duration
)

var ErrNoUser = errors.New("No account selected, use --id or --user")

func init() {
	flags := ClientCmd.PersistentFlags()

	flags.StringVarP(&serverHost, "host", "i", "::1", "The address of the server")
	flags.IntVarP(&serverPort, "port", "p", 6226, "The TCP port of the server")
	flags.Uint16Var(&userID, "id", 0, "The id of the account to use")
	flags.StringVar(&userName, "user", "", "The pseudo of a registered account to use")
	flags.Uint16VarP(&feedNumber, "feed", "f", 0, "The feed number, 0 selects a new feed or every feed")

	PostsCmd.Flags().Uint16VarP(&postCount, "count", "n", 0, "The number of posts per feed, 0 for all")
	SubscribeCmd.Flags().DurationVar(&subscribeFor, "for", 0, "Stop listening after that long, 0 listens until interrupted")

	ClientCmd.AddCommand(RegisterCmd, AccountsCmd, PostCmd, PostsCmd, SubscribeCmd, UploadCmd, DownloadCmd)
}

var ClientCmd = &cobra.Command{
	Use:   "client",
	Short: "Talk to a Megaphone server",
}

var RegisterCmd = &cobra.Command{
	Use:   "register <pseudo>",
	Short: "Create an account and save it in the account file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runClient(func(ctx context.Context, s *session) error {
			pseudo, err := protocol.NewPseudo(args[0])
			if err != nil {
				return err
			}

			id, err := s.conn.Register(ctx, args[0])
			if err != nil {
				return err
			}

			if err := s.accounts.AddAccount(id, pseudo); err != nil {
				return err
			}

			fmt.Fprintf(s.out, "Registered %s with id %d\n", pseudo, id)
			return nil
		})
	},
}

var AccountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "List the accounts of the account file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runClient(func(ctx context.Context, s *session) error {
			list, err := s.accounts.Accounts()
			if err != nil {
				return err
			}

			for _, acc := range list {
				fmt.Fprintf(s.out, "%4d %s\n", acc.ID, acc.Pseudo)
			}

			return nil
		})
	},
}

var PostCmd = &cobra.Command{
	Use:   "post <text>...",
	Short: "Post a message, to a new feed unless --feed is set",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runClient(func(ctx context.Context, s *session) error {
			id, err := s.user()
			if err != nil {
				return err
			}

			feed, err := s.conn.Post(ctx, id, feedNumber, strings.Join(args, " "))
			if err != nil {
				return err
			}

			fmt.Fprintf(s.out, "Posted to feed %d\n", feed)
			return nil
		})
	},
}

var PostsCmd = &cobra.Command{
	Use:   "posts",
	Short: "Show the last posts of a feed, or of every feed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runClient(func(ctx context.Context, s *session) error {
			id, err := s.user()
			if err != nil {
				return err
			}

			lp, err := s.conn.LastPosts(ctx, id, feedNumber, postCount)
			if err != nil {
				return err
			}

			for _, p := range lp.Posts {
				fmt.Fprintf(s.out, "[%d] %s (feed of %s): %s\n", p.FeedNumber, p.Author, p.Creator, p.Data)
			}

			return nil
		})
	},
}

var SubscribeCmd = &cobra.Command{
	Use:   "subscribe",
	Short: "Subscribe to a feed and print its notifications",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runClient(func(ctx context.Context, s *session) error {
			id, err := s.user()
			if err != nil {
				return err
			}

			sub, err := s.conn.Subscribe(ctx, id, feedNumber)
			if err != nil {
				return err
			}

			fmt.Fprintf(s.out, "Subscribed to feed %d on [%s]:%d\n", sub.FeedNumber, sub.Addr, sub.Port)

			if subscribeFor > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, subscribeFor)
				defer cancel()
			}

			for {
				select {
				case <-ctx.Done():
					return nil
				case n := <-s.conn.Notifications().C:
					fmt.Fprintf(s.out, "[%d] %s: %s\n", n.FeedNumber, n.Author, n.Text())
				}
			}
		})
	},
}

var UploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a file to a feed, to a new feed unless --feed is set",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runClient(func(ctx context.Context, s *session) error {
			id, err := s.user()
			if err != nil {
				return err
			}

			if err := s.conn.Upload(ctx, id, feedNumber, args[0]); err != nil {
				return err
			}

			fmt.Fprintf(s.out, "Uploaded %s\n", args[0])
			return nil
		})
	},
}

var DownloadCmd = &cobra.Command{
	Use:   "download <file name>",
	Short: "Download a file of a feed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runClient(func(ctx context.Context, s *session) error {
			id, err := s.user()
			if err != nil {
				return err
			}

			if feedNumber == 0 {
				return protocol.ErrFeedNumber
			}

			path, err := s.conn.Download(ctx, id, feedNumber, args[0])
			if err != nil {
				return err
			}

			fmt.Fprintf(s.out, "Saved %s\n", path)
			return nil
		})
	},
}

type session struct {
	conn     *client.Conn
	accounts *accounts.File
	out      io.Writer
}

// user resolves the account selected by --id or --user.
func (s *session) user() (uint16, error) {
	if userID != 0 {
		return userID, nil
	}

	if userName == "" {
		return 0, ErrNoUser
	}

	id, ok, err := s.accounts.Lookup(userName)
	if err != nil {
		return 0, err
	}

	if !ok {
		return 0, fmt.Errorf("%s: %w", userName, ErrNoUser)
	}

	return id, nil
}

// runClient runs fn next to the download and notification loops of a
// client and stops them once fn returns.
func runClient(fn func(ctx context.Context, s *session) error) (err error) {
	ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer signalStop()

	if err := checkPort("port", serverPort); err != nil {
		return err
	}

	conf, err := env.LoadConfig(ctx)
	if err != nil {
		return err
	}

	log, err := env.MakeLogger(conf.Debug)
	if err != nil {
		return err
	}

	defer log.Sync()

	file, err := accounts.Open(conf.AccountsFile)
	if err != nil {
		return err
	}

	defer func() {
		err = multierr.Append(err, file.Close())
	}()

	downloadDir := conf.DownloadDir
	if downloadDir == "" {
		if downloadDir, err = client.DefaultDownloadDir(); err != nil {
			return err
		}
	}

	conn := client.New(client.Options{
		Host:            serverHost,
		Port:            serverPort,
		DownloadDir:     downloadDir,
		TransferTimeout: conf.TransferTimeout,
		Log:             log.Named("client"),
	})

	pool := workers.New(ctx, workers.MinWorkers, log.Named("workers"))

	err = multierr.Combine(
		pool.Submit(conn.DownloadLoop),
		pool.Submit(conn.Notifications().Serve),
	)

	if err == nil {
		err = fn(pool.Context(), &session{conn: conn, accounts: file, out: os.Stdout})
		if err != nil {
			log.Debug("Request failed", zap.Int("port", serverPort), zap.Error(err))
		}
	}

	return multierr.Append(err, pool.Close())
}
