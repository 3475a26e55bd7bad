package main

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"updraft/internal/archive"
	"updraft/internal/bootstrap"
	"updraft/internal/config"
	"updraft/internal/debug"
	"updraft/internal/history"
	"updraft/internal/hook"
	"updraft/internal/transport"
	"updraft/internal/update"
)

const defaultHistoryLimit = 20

type networkFlags struct {
	proxy          *string
	userAgent      *string
	connectTimeout *time.Duration
	readTimeout    *time.Duration
	insecure       *bool
}

func registerNetworkFlags(fs *flag.FlagSet) *networkFlags {
	return &networkFlags{
		proxy:          fs.String("proxy", config.GetString(config.KeyProxy), "Proxy URL (http://host:port); empty connects directly"),
		userAgent:      fs.String("user-agent", config.GetString(config.KeyFeedUserAgent), "User-Agent header sent with every request"),
		connectTimeout: fs.Duration("connect-timeout", config.GetDuration(config.KeyConnectTimeout), "Timeout for establishing a connection"),
		readTimeout:    fs.Duration("read-timeout", config.GetDuration(config.KeyReadTimeout), "Timeout for reading a response"),
		insecure:       fs.Bool("insecure", config.GetBool(config.KeyInsecureSkipVerify), "Trust every TLS certificate"),
	}
}

func (n *networkFlags) options() transport.Options {
	ua := strings.TrimSpace(*n.userAgent)
	if ua == "" {
		ua = transport.DefaultUserAgent(Version)
	}
	return transport.Options{
		Proxy:              strings.TrimSpace(*n.proxy),
		ConnectTimeout:     *n.connectTimeout,
		ReadTimeout:        *n.readTimeout,
		InsecureSkipVerify: *n.insecure,
		SkipHostnameVerify: !config.GetBool(config.KeyVerifyHostname),
		UserAgent:          ua,
		Headers:            config.GetStringMapString(config.KeyHeaders),
	}
}

// statusFlags are shared by check and update.
type statusFlags struct {
	localVersion *string
	feedURL      *string
	network      *networkFlags
}

func registerStatusFlags(fs *flag.FlagSet) *statusFlags {
	return &statusFlags{
		localVersion: fs.String("local-version", "", "Installed version; omit when nothing is installed"),
		feedURL:      fs.String("feed", config.GetString(config.KeyFeedURL), "Appcast feed URL"),
		network:      registerNetworkFlags(fs),
	}
}

// resolveLocalVersion returns nil when no version was given on the command
// line or in config, meaning nothing is installed. An explicitly empty flag
// is passed through as an empty version.
func resolveLocalVersion(fs *flag.FlagSet, flags *statusFlags) *string {
	if flagWasExplicitlySet(fs, "local-version", visitedFlags(fs)) {
		v := *flags.localVersion
		return &v
	}
	if v := strings.TrimSpace(config.GetString(config.KeyLocalVersion)); v != "" {
		return &v
	}
	return nil
}

func (c *cli) checkStatus(ctx context.Context, fs *flag.FlagSet, flags *statusFlags) *update.ApplicationStatus {
	checker := update.NewChecker(update.WithDisabled(!config.GetBool(config.KeyCheckEnabled)))
	return checker.ApplicationStatus(ctx, resolveLocalVersion(fs, flags), strings.TrimSpace(*flags.feedURL), flags.network.options())
}

func (c *cli) runCheck(ctx context.Context, args []string) int {
	fs := newFlagSet("check", c.stderr)
	flags := registerStatusFlags(fs)
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	status := c.checkStatus(ctx, fs, flags)
	printStatus(c.stdout, status, *flags.feedURL, buildMarkdownRenderer(c.noColor, reportWidth))
	return exitCodeFor(status.State)
}

func (c *cli) runUpdate(ctx context.Context, args []string) int {
	fs := newFlagSet("update", c.stderr)
	flags := registerStatusFlags(fs)
	targetDir := fs.String("target-dir", config.GetString(config.KeyTargetDir), "Directory the release is installed into")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	status := c.checkStatus(ctx, fs, flags)
	printStatus(c.stdout, status, *flags.feedURL, buildMarkdownRenderer(c.noColor, reportWidth))
	if !status.UpdateAvailable() {
		return exitCodeFor(status.State)
	}

	dir := strings.TrimSpace(*targetDir)
	if dir == "" {
		_, _ = fmt.Fprintln(c.stderr, "Error: --target-dir is required to install an update")
		return exitFailure
	}

	opts := flags.network.options()
	updater := update.NewUpdater(
		update.WithTransportOptions(opts),
		update.WithDeleteArchive(config.GetBool(config.KeyDeleteArchive)),
		update.WithHookRunner(hookRunner()),
	)
	files, err := updater.Update(ctx, status.Feed, dir)
	if err != nil {
		debug.Errorf("update from %s failed: %v", *flags.feedURL, err)
		_, _ = fmt.Fprintf(c.stderr, "Error: update failed: %v\n", err)
		return exitFailure
	}

	_, _ = fmt.Fprintln(c.stdout)
	printFiles(c.stdout, "Installed files", files.Paths())
	c.recordInstall(ctx, history.Entry{
		Title:     status.Feed.Title(),
		Version:   status.Info,
		FeedURL:   strings.TrimSpace(*flags.feedURL),
		TargetDir: dir,
		Files:     files.Paths(),
	})
	return exitOK
}

// hookRunner returns the configured runner, or nil when hooks are disabled.
func hookRunner() update.HookRunner {
	if !config.GetBool(config.KeyHooksEnabled) {
		return nil
	}
	r := hook.NewRunner()
	if shell := strings.TrimSpace(config.GetString(config.KeyHooksShell)); shell != "" {
		r.Shell = shell
	}
	if timeout := config.GetDuration(config.KeyHooksTimeout); timeout > 0 {
		r.Timeout = timeout
	}
	return r
}

// recordInstall appends e to the install history. Failures are reported as
// warnings; the install itself already succeeded.
func (c *cli) recordInstall(ctx context.Context, e history.Entry) {
	if !config.GetBool(config.KeyHistoryEnabled) {
		return
	}
	store, err := history.Open(ctx, config.GetString(config.KeyHistoryPath))
	if err != nil {
		debug.Warnf("open history: %v", err)
		_, _ = fmt.Fprintf(c.stderr, "Warning: install not recorded: %v\n", err)
		return
	}
	defer func() {
		_ = store.Close()
	}()
	if _, err := store.Record(ctx, e); err != nil {
		debug.Warnf("record install: %v", err)
		_, _ = fmt.Fprintf(c.stderr, "Warning: install not recorded: %v\n", err)
	}
}

func (c *cli) runUnpack(args []string) int {
	fs := newFlagSet("unpack", c.stderr)
	archivePath := fs.String("archive", "", "Archive to extract")
	targetDir := fs.String("target-dir", config.GetString(config.KeyTargetDir), "Directory to extract into")
	deleteAfter := fs.Bool("delete", false, "Delete the archive after a successful extraction")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if strings.TrimSpace(*archivePath) == "" || strings.TrimSpace(*targetDir) == "" {
		_, _ = fmt.Fprintln(c.stderr, "Error: --archive and --target-dir are required")
		return exitIndeterminate
	}

	files, err := archive.Unpack(*archivePath, *targetDir, *deleteAfter)
	if err != nil {
		_, _ = fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return exitFailure
	}
	printFiles(c.stdout, "Extracted files", files.Paths())
	return exitOK
}

func (c *cli) runPromote(args []string) int {
	fs := newFlagSet("promote", c.stderr)
	appFile := fs.String("app", config.GetString(config.KeyAppFile), "Application file to replace")
	updateDir := fs.String("update-dir", config.GetString(config.KeyUpdateDir), "Directory holding downloaded updates")
	remove := fs.Bool("remove", config.GetBool(config.KeyRemoveUpdate), "Remove the update file once promoted")
	relaunch := fs.Bool("relaunch", false, "Start the application afterwards; remaining arguments are passed to it")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if strings.TrimSpace(*appFile) == "" || strings.TrimSpace(*updateDir) == "" {
		_, _ = fmt.Fprintln(c.stderr, "Error: --app and --update-dir are required")
		return exitIndeterminate
	}

	promoted, err := bootstrap.Promote(*appFile, *updateDir, *remove)
	if err != nil {
		_, _ = fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return exitFailure
	}
	if promoted == "" {
		_, _ = fmt.Fprintln(c.stdout, labelStyle.Render(fmt.Sprintf("No update found in %s", *updateDir)))
	} else {
		_, _ = fmt.Fprintf(c.stdout, "%s %s -> %s\n", titleStyle.Render("Promoted"), promoted, *appFile)
	}

	if *relaunch {
		pid, err := bootstrap.Relaunch(*appFile, fs.Args()...)
		if err != nil {
			_, _ = fmt.Fprintf(c.stderr, "Error: %v\n", err)
			return exitFailure
		}
		_, _ = fmt.Fprintf(c.stdout, "Started %s (pid %d)\n", *appFile, pid)
	}
	return exitOK
}

func (c *cli) runRollback(args []string) int {
	fs := newFlagSet("rollback", c.stderr)
	appFile := fs.String("app", config.GetString(config.KeyAppFile), "Application file to restore")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if strings.TrimSpace(*appFile) == "" {
		_, _ = fmt.Fprintln(c.stderr, "Error: --app is required")
		return exitIndeterminate
	}
	if err := bootstrap.Rollback(*appFile); err != nil {
		_, _ = fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return exitFailure
	}
	_, _ = fmt.Fprintf(c.stdout, "%s %s\n", titleStyle.Render("Restored"), *appFile)
	return exitOK
}

func (c *cli) runHistory(ctx context.Context, args []string) int {
	fs := newFlagSet("history", c.stderr)
	limit := fs.Int("limit", defaultHistoryLimit, "Maximum number of installs to list (0 lists all)")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	store, err := history.Open(ctx, config.GetString(config.KeyHistoryPath))
	if err != nil {
		_, _ = fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return exitFailure
	}
	defer func() {
		_ = store.Close()
	}()
	entries, err := store.List(ctx, *limit)
	if err != nil {
		_, _ = fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return exitFailure
	}
	printHistory(c.stdout, entries)
	return exitOK
}

func (c *cli) runConfig(args []string) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(c.stderr, "Usage: updraft config get KEY | set KEY VALUE")
		return exitIndeterminate
	}
	switch args[0] {
	case "get":
		if len(args) != 2 {
			_, _ = fmt.Fprintln(c.stderr, "Usage: updraft config get KEY")
			return exitIndeterminate
		}
		if !config.IsKnownKey(args[1]) {
			_, _ = fmt.Fprintf(c.stderr, "Error: unknown config key %q (known: %s)\n", args[1], strings.Join(config.Keys(), ", "))
			return exitFailure
		}
		_, _ = fmt.Fprintln(c.stdout, config.GetString(args[1]))
		return exitOK
	case "set":
		if len(args) != 3 {
			_, _ = fmt.Fprintln(c.stderr, "Usage: updraft config set KEY VALUE")
			return exitIndeterminate
		}
		path, err := config.Save(args[1], args[2])
		if err != nil {
			_, _ = fmt.Fprintf(c.stderr, "Error: %v\n", err)
			return exitFailure
		}
		_, _ = fmt.Fprintf(c.stdout, "Saved %s to %s\n", args[1], path)
		return exitOK
	default:
		_, _ = fmt.Fprintf(c.stderr, "Error: unknown config action %q\n", args[0])
		return exitIndeterminate
	}
}
