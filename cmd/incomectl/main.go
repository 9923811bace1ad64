// Command incomectl runs maintenance tasks against the incomes database.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"incomes/internal/amqp"
	"incomes/internal/auth"
	"incomes/internal/cli"
	"incomes/internal/config"
	"incomes/internal/log"
	"incomes/internal/offsite"
	"incomes/internal/storage"
)

const usage = `usage: incomectl <command> [arguments]

commands:
  backup                     run one backup now
  list-backups               list local backup files
  passwd <username>          set a user's password
  enable <username>          re-enable a disabled account
  disable <username>         disable an account
  fetch-backup <gs-uri> <dest>
                             download an off-site backup
  watch-events               print events from the AMQP queue
`

func main() {
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	cfg := cli.LoadAndValidateConfig(logger)

	ctx, stop := cli.SignalContext()
	defer stop()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	if err := run(ctx, cmd, args, cfg, logger); err != nil {
		fmt.Fprintf(os.Stderr, "incomectl %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd string, args []string, cfg *config.Config, logger *log.Logger) error {
	switch cmd {
	case "backup":
		return runBackup(ctx, cfg, logger)
	case "list-backups":
		return listBackups(cfg, logger, os.Stdout)
	case "passwd":
		if len(args) != 1 {
			return errors.New("expected a username")
		}
		return setPassword(ctx, cfg, logger, args[0])
	case "enable", "disable":
		if len(args) != 1 {
			return errors.New("expected a username")
		}
		return setActive(ctx, cfg, logger, args[0], cmd == "enable")
	case "fetch-backup":
		if len(args) != 2 {
			return errors.New("expected a gs:// URI and a destination path")
		}
		return fetchBackup(ctx, cfg, logger, args[0], args[1])
	case "watch-events":
		return watchEvents(ctx, cfg, logger, os.Stdout)
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func runBackup(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	uploader, err := cli.OpenGCS(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if uploader != nil {
		defer uploader.Close()
	}
	notifier, err := cli.ConnectAMQP(cfg, logger)
	if err != nil {
		return err
	}
	if notifier != nil {
		defer notifier.Close()
	}

	out := cli.NewBackupJob(cfg, repo, logger, uploader, notifier).Run(ctx)
	switch {
	case out.Err != nil:
		return out.Err
	case out.Skipped:
		fmt.Println("database file does not exist, nothing to back up")
	default:
		fmt.Printf("backup written to %s (%d bytes), %d expired removed\n", out.Path, out.Size, out.Removed)
	}
	return nil
}

func listBackups(cfg *config.Config, logger *log.Logger, w io.Writer) error {
	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	files, err := cli.NewBackupJob(cfg, repo, logger, nil, nil).List()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILENAME\tSIZE\tCREATED")
	for _, f := range files {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", f.Name, f.Size, f.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return tw.Flush()
}

func lookupUser(ctx context.Context, repo *storage.SQLiteRepository, username string) (int64, error) {
	u, err := repo.GetUserByUsername(ctx, username)
	if err != nil {
		return 0, fmt.Errorf("user %q: %w", username, err)
	}
	return u.ID, nil
}

func setPassword(ctx context.Context, cfg *config.Config, logger *log.Logger, username string) error {
	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	id, err := lookupUser(ctx, repo, username)
	if err != nil {
		return err
	}
	pw, err := cli.PromptPassword(os.Stdin, os.Stderr)
	if err != nil {
		return err
	}
	svc := auth.NewService(repo, cfg.JWTSecret, cfg.AccessTokenTTL, logger)
	if err := svc.SetPassword(ctx, id, pw); err != nil {
		return err
	}
	fmt.Printf("password updated for %s\n", username)
	return nil
}

func setActive(ctx context.Context, cfg *config.Config, logger *log.Logger, username string, active bool) error {
	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	id, err := lookupUser(ctx, repo, username)
	if err != nil {
		return err
	}
	if err := repo.SetUserActive(ctx, id, active); err != nil {
		return err
	}
	state := "disabled"
	if active {
		state = "enabled"
	}
	fmt.Printf("%s %s\n", username, state)
	return nil
}

func fetchBackup(ctx context.Context, cfg *config.Config, logger *log.Logger, uri, dest string) error {
	if _, _, err := offsite.ParseURI(uri); err != nil {
		return err
	}
	// The bucket comes from the URI, so any configured bucket or none works.
	client, err := offsite.NewGCSUploader(ctx, cfg.BackupGCSBucket, cfg.BackupGCSPrefix, cfg.GoogleCredentialsFile)
	if err != nil {
		return err
	}
	defer client.Close()

	n, err := client.Download(ctx, uri, dest)
	if err != nil {
		return err
	}
	logger.Info("Backup downloaded", "uri", uri, "dest", dest, "bytes", n)
	fmt.Printf("downloaded %d bytes to %s\n", n, dest)
	return nil
}

func watchEvents(ctx context.Context, cfg *config.Config, logger *log.Logger, w io.Writer) error {
	client, err := cli.ConnectAMQP(cfg, logger)
	if err != nil {
		return err
	}
	if client == nil {
		return errors.New("AMQP_URL is not set")
	}
	defer client.Close()

	err = client.Consume(ctx, func(routingKey string, body []byte) error {
		fmt.Fprintf(w, "%s\t%s\n", routingKey, describeEvent(routingKey, body))
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// describeEvent renders known events as one line and falls back to the raw body.
func describeEvent(routingKey string, body []byte) string {
	switch routingKey {
	case amqp.RoutingImportCompleted:
		if msg, err := amqp.ImportCompletedMessageFromJSON(body); err == nil {
			return fmt.Sprintf("user=%d batch=%s imported=%d skipped=%d",
				msg.UserID, msg.BatchID, msg.Imported, msg.Skipped)
		}
	case amqp.RoutingBackupCompleted, amqp.RoutingBackupFailed:
		if msg, err := amqp.BackupMessageFromJSON(body); err == nil {
			if !msg.Success {
				return "failed: " + msg.Message
			}
			return fmt.Sprintf("path=%s size=%d", msg.Path, msg.Size)
		}
	}
	return string(body)
}
