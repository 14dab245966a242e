package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/taraaggoun/megaphone/dispatch"
	"github.com/taraaggoun/megaphone/internal/env"
	"github.com/taraaggoun/megaphone/internal/meta"
	"github.com/taraaggoun/megaphone/storage"
	"github.com/taraaggoun/megaphone/transfer"
	"github.com/taraaggoun/megaphone/transport"
	"github.com/taraaggoun/megaphone/workers"
)

const multicastHopLimit = 1

var (
	// The host to listen on
	host string

	// The port to listen for tcp clients on
	tcpPort int

	// The port uploads are sent to
	udpPort int

	// The port to listen for http requests on, 0 disables the admin server
	httpPort int

	// Snapshot loaded on start and written on exit
	restorePath string
	backupPath  string
)

func init() {
	flags := StartCmd.PersistentFlags()

	flags.StringVarP(&host, "host", "a", "::", "The host to listen on")
	flags.IntVarP(&tcpPort, "tcp-port", "t", 6226, "The port to listen client connections on")
	flags.IntVarP(&udpPort, "udp-port", "u", 6227, "The port to receive uploads on")
	flags.IntVar(&httpPort, "http-port", 6225, "The port to listen to HTTP requests on, 0 disables it")
	flags.StringVar(&restorePath, "restore", "", "Restore the users and feeds of a snapshot")
	flags.StringVar(&backupPath, "backup", "", "Write a snapshot of the users and feeds on exit")
}

var StartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start up the Megaphone server",
	Long: `Start up the Megaphone server

Usage
	megaphone start -t 6226 -u 6227

`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer signalStop()

		conf, err := env.LoadConfig(ctx)
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		if flags.Changed("host") {
			conf.Host = host
		}

		if flags.Changed("tcp-port") {
			conf.TCPPort = tcpPort
		}

		if flags.Changed("udp-port") {
			conf.UDPPort = udpPort
		}

		if flags.Changed("http-port") {
			conf.HTTPPort = httpPort
		}

		if err := multierr.Combine(
			checkPort("tcp port", conf.TCPPort),
			checkPort("udp port", conf.UDPPort),
		); err != nil {
			return err
		}

		log, err := env.MakeLogger(conf.Debug)
		if err != nil {
			return err
		}

		defer log.Sync()

		fileLimit, err := setFileLimit()
		if err != nil {
			return err
		}

		log.Info("Set file limit", zap.Uint64("fileLimit", fileLimit))

		store := storage.NewInmemoryStore(storage.Options{
			UploadDir:       conf.UploadDir,
			MulticastGroup:  conf.MulticastGroup,
			BasePort:        conf.TCPPort,
			TransferTimeout: conf.TransferTimeout,
			Log:             log.Named("storage"),
		})

		defer func() {
			err = multierr.Append(err, store.Close())
		}()

		if restorePath != "" {
			if err := restore(store, restorePath); err != nil {
				return err
			}

			log.Info("Restored snapshot", zap.String("path", restorePath), zap.Any("stats", store.Stats()))
		}

		sender, err := transport.NewMulticastSender(conf.MulticastIface, multicastHopLimit, log.Named("multicast"))
		if err != nil {
			return err
		}

		defer func() {
			err = multierr.Append(err, sender.Close())
		}()

		options := transport.Options{
			Host:       conf.Host,
			Port:       conf.TCPPort,
			Store:      store,
			Dispatcher: dispatch.New(store, uint16(conf.UDPPort), log.Named("dispatch")),
			Debug:      conf.Debug,
			Log:        log.Named("transport"),
		}

		tcp := transport.NewTCP(options)

		options.Port = conf.UDPPort
		udp := transport.NewUDP(options)

		notifier := transport.NewNotifier(transport.NotifierOptions{
			Interval: conf.NotifyInterval,
			Store:    store,
			Sender:   sender,
			Log:      log.Named("notifier"),
		})

		jobs := []workers.Job{tcp.Serve, udp.Serve, notifier.Serve}

		if conf.HTTPPort != 0 {
			options.Port = conf.HTTPPort
			jobs = append(jobs, transport.NewAdmin(options).Serve)
		}

		size := conf.Workers
		if size < len(jobs) {
			size = len(jobs)
		}

		pool := workers.New(ctx, size, log.Named("workers"))
		for _, job := range jobs {
			if err := pool.Submit(job); err != nil {
				return multierr.Append(err, pool.Close())
			}
		}

		log.Info("Listening",
			zap.String("version", meta.UserAgent()),
			zap.String("host", conf.Host),
			zap.Int("tcpPort", conf.TCPPort),
			zap.Int("udpPort", conf.UDPPort),
			zap.Int("httpPort", conf.HTTPPort),
			zap.String("uploadDir", conf.UploadDir),
			zap.Duration("notifyInterval", conf.NotifyInterval))

		<-pool.Context().Done()

		// Restore default behavior on the interrupt signal and notify user of shutdown.
		signalStop()
		log.Info("Shutting down, press Ctrl+C again to force")

		err = pool.Wait()

		if backupPath != "" {
			if berr := backup(store, backupPath); berr != nil {
				err = multierr.Append(err, berr)
			} else {
				log.Info("Wrote snapshot", zap.String("path", backupPath))
			}
		}

		log.Info("Exiting")
		return err
	},
}

func restore(store storage.Store, path string) error {
	values, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return store.Restore(values)
}

func backup(store storage.Store, path string) error {
	values, err := store.Backup()
	if err != nil {
		return err
	}

	return transfer.WriteAtomic(path, values)
}

func setFileLimit() (uint64, error) {
	var rLimit syscall.Rlimit

	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	rLimit.Cur = rLimit.Max
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	return rLimit.Cur, nil
}
