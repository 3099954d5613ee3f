// panelctl is a terminal console for a CraftPanel backend: it signs in,
// inspects the session, follows background tasks over the push channel, and
// moves archives up and down with tracked transfers.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"

	"github.com/craftpanel/panelctl/internal/access"
	"github.com/craftpanel/panelctl/internal/apiclient"
	"github.com/craftpanel/panelctl/internal/cache"
	"github.com/craftpanel/panelctl/internal/config"
	"github.com/craftpanel/panelctl/internal/logger"
	"github.com/craftpanel/panelctl/internal/session"
	"github.com/craftpanel/panelctl/internal/state"
	"github.com/craftpanel/panelctl/internal/task"
	"github.com/craftpanel/panelctl/internal/transfer"
)

const usage = `Usage: panelctl [flags] <command> [args]

Commands:
  login <username>        sign in (password read from stdin or PANELCTL_PASSWORD)
  logout                  clear the stored session
  me                      show the current session and capabilities
  groups <id[,id...]>     select the active operating groups
  tasks list              print the task mirror
  tasks watch             follow task events until interrupted
  tasks clear <status>    clear finished tasks (failed|success)
  get <path>              GET an API path and print the JSON response
  download <path>         download an archive into the download directory
  upload <path> <file>    upload a file as a multipart archive

Flags:
`

// app bundles the wired SDK for the subcommands.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	store   *state.Store
	model   *access.Model
	client  *apiclient.Client
	session *session.Service
	tasks   *task.Service
	tracker *transfer.Tracker
}

// consoleNotifier surfaces globally handled errors on stderr.
type consoleNotifier struct{}

func (consoleNotifier) PermissionDenied(detail string) {
	fmt.Fprintf(os.Stderr, "permission denied: %s\n", detail)
}

func (consoleNotifier) ConnectivityProblem(err error) {
	fmt.Fprintf(os.Stderr, "cannot reach the backend: %v\n", err)
}

func main() {
	godotenv.Load()

	configPath := flag.String("config", "", "path to config file")
	backendURL := flag.String("backend", "", "backend base URL (overrides config)")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *backendURL != "" {
		cfg.Backend.URL = *backendURL
	}

	logDir := cfg.Logging.Path
	if logDir == "" {
		logDir = filepath.Join(cfg.DataDir, "logs")
	}
	log := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Dir:        logDir,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	defer log.Close()

	a, err := buildApp(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	if err := a.run(flag.Args()); err != nil {
		if apiclient.IsCanceled(err) {
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func buildApp(cfg *config.Config, log *logger.Logger) (*app, error) {
	store, err := state.Open(cfg.DataDir, log.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open state: %w", err)
	}

	model := access.NewModel(log.Logger)
	respCache := cache.New(cache.Config{TTL: cfg.Cache.TTL, MaxItems: cfg.Cache.MaxItems})

	a := &app{cfg: cfg, log: log, store: store, model: model}

	client, err := apiclient.New(apiclient.Options{
		BaseURL:     cfg.Backend.URL,
		Timeout:     cfg.Backend.RequestTimeout,
		Credentials: store,
		Notifier:    consoleNotifier{},
		Cache:       respCache,
		Logger:      log.Logger,
		OnUnauthorized: func() {
			fmt.Fprintln(os.Stderr, "session expired, sign in again with: panelctl login <username>")
			a.session.Invalidate()
		},
	})
	if err != nil {
		return nil, err
	}

	a.client = client
	a.session = session.NewService(client, store, model, log.Logger)
	a.tasks = task.NewService(client, log.Logger)
	a.tracker = transfer.NewTracker(client, transfer.Config{
		HistoryCap:  cfg.Transfers.HistoryCap,
		DownloadDir: cfg.Transfers.DownloadDir,
	}, log.Logger)
	return a, nil
}

func (a *app) run(args []string) error {
	ctx := context.Background()
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "login":
		return a.cmdLogin(ctx, rest)
	case "logout":
		return a.session.Logout()
	case "me":
		return a.cmdMe(ctx)
	case "groups":
		return a.cmdGroups(ctx, rest)
	case "tasks":
		return a.cmdTasks(ctx, rest)
	case "get":
		return a.cmdGet(ctx, rest)
	case "download":
		return a.cmdDownload(ctx, rest)
	case "upload":
		return a.cmdUpload(ctx, rest)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (a *app) cmdLogin(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: panelctl login <username>")
	}

	password := os.Getenv("PANELCTL_PASSWORD")
	if password == "" {
		fmt.Fprint(os.Stderr, "password: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	if err := a.session.Login(ctx, args[0], password); err != nil {
		return err
	}
	fmt.Printf("signed in as %s (level %s)\n", args[0], a.model.EffectiveLevel())
	return nil
}

func (a *app) cmdMe(ctx context.Context) error {
	if err := a.session.Fetch(ctx); err != nil {
		return err
	}

	user, _ := a.model.User()
	fmt.Printf("user:    %s (%s)\n", user.Username, user.ID)
	fmt.Printf("level:   %s\n", a.model.EffectiveLevel())
	if groups := a.model.ActiveGroups(); len(groups) > 0 {
		fmt.Printf("groups:  %s\n", strings.Join(groups, ", "))
	}

	caps := a.model.Capabilities()
	fmt.Println("capabilities:")
	for _, row := range []struct {
		name string
		ok   bool
	}{
		{"manage servers", caps.CanManageServers},
		{"manage plugins", caps.CanManagePlugins},
		{"manage backups", caps.CanManageBackups},
		{"manage mods", caps.CanManageMods},
		{"view console", caps.CanViewConsole},
		{"send chat", caps.CanSendChat},
		{"view stats", caps.CanViewStats},
		{"manage users", caps.CanManageUsers},
		{"edit configs", caps.CanEditConfigs},
	} {
		mark := " "
		if row.ok {
			mark = "x"
		}
		fmt.Printf("  [%s] %s\n", mark, row.name)
	}
	return nil
}

func (a *app) cmdGroups(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: panelctl groups <id[,id...]>")
	}
	if err := a.session.Fetch(ctx); err != nil {
		return err
	}
	if err := a.session.SelectGroups(strings.Split(args[0], ",")); err != nil {
		return err
	}
	fmt.Printf("active groups: %s (level %s)\n",
		strings.Join(a.model.ActiveGroups(), ", "), a.model.EffectiveLevel())
	return nil
}

func (a *app) cmdTasks(ctx context.Context, args []string) error {
	if len(args) == 0 {
		args = []string{"list"}
	}

	switch args[0] {
	case "list":
		if err := a.tasks.Fetch(ctx); err != nil {
			return err
		}
		return a.printTasks()

	case "watch":
		return a.watchTasks(ctx)

	case "clear":
		if len(args) != 2 {
			return fmt.Errorf("usage: panelctl tasks clear <failed|success>")
		}
		cleared, err := a.tasks.Clear(ctx, task.Status(args[1]))
		if err != nil {
			return err
		}
		fmt.Printf("cleared %d tasks\n", cleared)
		return nil

	default:
		return fmt.Errorf("unknown tasks subcommand %q", args[0])
	}
}

func (a *app) printTasks() error {
	tasks := a.tasks.Tasks()
	if len(tasks) == 0 {
		fmt.Println("no tasks")
		return nil
	}
	for _, t := range tasks {
		line := fmt.Sprintf("%-36s  %-8s  %3d%%", t.ID, t.Status, t.Progress)
		if t.Name != "" {
			line += "  " + t.Name
		}
		if t.Message != "" {
			line += "  (" + t.Message + ")"
		}
		fmt.Println(line)
	}
	counts := a.tasks.Counts()
	fmt.Printf("%d active, %d failed, %d succeeded\n", counts.Active, counts.Failed, counts.Succeeded)
	return nil
}

// watchTasks mirrors the backend over the push channel and prints events
// until interrupted. While the channel is down, a poller keeps the snapshot
// fresh over plain HTTP.
func (a *app) watchTasks(ctx context.Context) error {
	if err := a.tasks.Fetch(ctx); err != nil {
		return err
	}

	unsub := a.tasks.Subscribe(func(ev task.Event) {
		if ev.Action == task.ActionDeleted {
			fmt.Printf("deleted   %s\n", ev.ID)
			return
		}
		fmt.Printf("%-9s %s  %-8s %3d%%  %s\n",
			ev.Action, ev.Task.ID, ev.Task.Status, ev.Task.Progress, ev.Task.Name)
	})
	defer unsub()

	poller := task.NewPoller(a.tasks, a.cfg.Tasks.PollInterval, a.log.Logger)

	stream, err := task.NewStream(a.tasks, a.cfg.Backend.URL, a.cfg.Backend.PushPath, a.store.Token, a.log.Logger)
	if err != nil {
		return err
	}
	stream.OnDisconnect = func(error) {
		fmt.Fprintln(os.Stderr, "push channel lost, falling back to polling")
		poller.Start()
	}

	if err := stream.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "push channel unavailable (%v), polling instead\n", err)
		if err := poller.Start(); err != nil {
			return err
		}
	}
	defer stream.Disconnect()
	defer poller.Stop()

	// A rejected session ends the watch; the deferred teardown stops the
	// stream and poller on this goroutine, not inside the 401 hook.
	sessionGone := make(chan struct{})
	var once sync.Once
	a.session.OnInvalidated = func() {
		once.Do(func() { close(sessionGone) })
	}
	defer func() { a.session.OnInvalidated = nil }()

	guard := a.tracker.NewUnloadGuard(nil)
	defer guard.Remove()

	fmt.Fprintln(os.Stderr, "watching tasks, ^C to stop")
	select {
	case <-guard.Done():
	case <-sessionGone:
		fmt.Fprintln(os.Stderr, "session expired, watch stopped")
	}
	return nil
}

func (a *app) cmdGet(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: panelctl get </api/path>")
	}

	var body json.RawMessage
	if err := a.client.CachedGetJSON(ctx, args[0], url.Values{}, &body); err != nil {
		return err
	}

	var pretty any
	if err := json.Unmarshal(body, &pretty); err != nil {
		fmt.Println(string(body))
		return nil
	}
	out, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Println(string(out))
	return nil
}

func (a *app) cmdDownload(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: panelctl download </api/path>")
	}

	guard := a.tracker.NewUnloadGuard(confirmAbort)
	defer guard.Remove()

	res, err := a.tracker.StartDownload(ctx, transfer.DownloadOptions{
		Path:            args[0],
		Title:           filepath.Base(args[0]),
		DefaultFilename: filepath.Base(args[0]),
	})
	if err != nil {
		return err
	}
	fmt.Printf("saved %s (%d bytes) to %s\n", res.Filename, res.Bytes, res.Path)
	return nil
}

func (a *app) cmdUpload(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: panelctl upload </api/path> <file>")
	}

	f, err := os.Open(args[1])
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", args[1], err)
	}
	defer f.Close()

	guard := a.tracker.NewUnloadGuard(confirmAbort)
	defer guard.Remove()

	resp, err := a.tracker.StartUpload(ctx, transfer.UploadOptions{
		Path:     args[0],
		Title:    filepath.Base(args[1]),
		Filename: filepath.Base(args[1]),
		Content:  f,
	})
	if err != nil {
		return err
	}
	if len(resp) > 0 {
		fmt.Println(string(resp))
	}
	fmt.Printf("uploaded %s\n", args[1])
	return nil
}

// confirmAbort asks before an interrupt tears down active transfers.
func confirmAbort(active int) bool {
	fmt.Fprintf(os.Stderr, "%d transfers are still running, abort them? [y/N] ", active)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return true
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
