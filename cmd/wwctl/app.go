package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"wildwatch.app/internal/backend"
	"wildwatch.app/internal/config"
	"wildwatch.app/internal/guard"
	"wildwatch.app/internal/ids"
	"wildwatch.app/internal/logout"
	"wildwatch.app/internal/migrate"
	"wildwatch.app/internal/profile"
	"wildwatch.app/internal/realtime"
	"wildwatch.app/internal/session"
	"wildwatch.app/internal/store"
	"wildwatch.app/internal/store/sqlkv"
)

const (
	stateNamespace = "wwctl"
	clientIDKey    = "client_id"
	lastEmailKey   = "last_email"
	version        = "0.1.0"
)

const usage = `usage: wwctl [-backend URL] [-ws URL] [-state FILE] [-timeout D] <command> [args]

commands:
  login [-email E] [-password P]   sign in and keep the token in the state file
  whoami                           show the signed-in profile
  incidents                        list incidents in progress
  bulletins                        list office bulletins
  watch-upvotes [-for D] <id>      stream upvote counts for a bulletin
  logout                           sign out and clear local state
`

type app struct {
	out       io.Writer
	errOut    io.Writer
	statePath string
	wsURL     string
	timeout   time.Duration

	be       *backend.Client
	state    *sqlkv.Store
	clientID string
	durable  session.KVDurable
	tokens   *session.TokenStore
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("wwctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	backendURL := fs.String("backend", envOr("WILDWATCH_BACKEND_URL", "http://localhost:8081"), "backend base URL")
	wsURL := fs.String("ws", os.Getenv("WILDWATCH_BACKEND_WS_URL"), "backend websocket URL (default derived from -backend)")
	statePath := fs.String("state", envOr("WILDWATCH_STATE", defaultStatePath()), "state file")
	timeout := fs.Duration("timeout", 10*time.Second, "deadline for each backend call")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	a := &app{out: stdout, errOut: stderr, statePath: *statePath, wsURL: *wsURL, timeout: *timeout}
	base := strings.TrimRight(*backendURL, "/")
	if a.wsURL == "" {
		a.wsURL = config.DeriveWebsocketURL(base)
	}
	be, err := backend.New(base, backend.WithUserAgent("wwctl/"+version))
	if err != nil {
		return a.fail(err)
	}
	a.be = be
	if err := a.open(ctx); err != nil {
		if a.state != nil {
			_ = a.state.Close()
		}
		return a.fail(err)
	}
	defer a.state.Close()

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "login":
		err = a.login(ctx, rest)
	case "whoami":
		err = a.whoami(ctx)
	case "incidents":
		err = a.incidents(ctx)
	case "bulletins":
		err = a.bulletins(ctx)
	case "watch-upvotes", "watch":
		err = a.watch(ctx, rest)
	case "logout":
		err = a.logout(ctx)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}
	if err != nil {
		return a.fail(err)
	}
	return 0
}

func (a *app) fail(err error) int {
	fmt.Fprintln(a.errOut, "wwctl:", err)
	return 1
}

// open prepares the state file and loads the token for this installation.
func (a *app) open(ctx context.Context) error {
	if dir := filepath.Dir(a.statePath); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("state dir: %w", err)
		}
	}
	st, err := sqlkv.Open(migrate.SQLite, sqlkv.SQLiteDSN(a.statePath))
	if err != nil {
		return fmt.Errorf("state: %w", err)
	}
	if err := migrate.NewManager(st.DB(), migrate.SQLite).Up(ctx); err != nil {
		_ = st.Close()
		return fmt.Errorf("state schema: %w", err)
	}
	a.state = st

	raw, ok, err := st.Get(ctx, stateNamespace, clientIDKey)
	if err != nil {
		return err
	}
	a.clientID = string(raw)
	if !ok || !ids.ValidClientID(a.clientID) {
		a.clientID = ids.NewClientID()
		if err := st.Set(ctx, stateNamespace, clientIDKey, []byte(a.clientID), 0); err != nil {
			return err
		}
	}

	a.durable = session.KVDurable{KV: st, Namespace: "cookies:" + a.clientID}
	a.tokens, err = session.Open(ctx, a.durable, session.NewBus(), a.clientID)
	return err
}

// call bounds one backend round trip by the -timeout flag.
func (a *app) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return backend.WithDeadline(ctx, a.timeout)
}

func (a *app) local() store.Namespace {
	return store.Namespace{KV: a.state, Name: store.LocalNamespace(a.clientID)}
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	email := fs.String("email", "", "account email (default: last used)")
	password := fs.String("password", os.Getenv("WILDWATCH_PASSWORD"), "password (or WILDWATCH_PASSWORD)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		if last, ok, _ := a.local().Get(ctx, lastEmailKey); ok {
			*email = string(last)
		}
	}
	if strings.TrimSpace(*email) == "" || *password == "" {
		return errors.New("login: -email and -password are required")
	}

	callCtx, cancel := a.call(ctx)
	token, err := a.be.Login(callCtx, strings.TrimSpace(*email), *password)
	cancel()
	switch {
	case errors.Is(err, backend.ErrInvalidCredentials):
		return errors.New("invalid email or password")
	case err != nil:
		return fmt.Errorf("login: %w", err)
	}
	if err := a.tokens.SetToken(ctx, token); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	_ = a.local().Set(ctx, lastEmailKey, []byte(strings.ToLower(strings.TrimSpace(*email))))
	fmt.Fprintf(a.out, "signed in as %s\n", strings.ToLower(strings.TrimSpace(*email)))
	return nil
}

// whoami runs the same guard the portal uses for a protected page.
func (a *app) whoami(ctx context.Context) error {
	g := guard.New(guard.DefaultClassifier(), profile.NewLoader(a.be), func() bool { return true })
	callCtx, cancel := a.call(ctx)
	defer cancel()
	d := g.Evaluate(callCtx, "/dashboard", a.tokens)
	switch d.State {
	case guard.Allowed:
		p := d.Profile
		tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "name\t%s\n", p.DisplayName())
		fmt.Fprintf(tw, "email\t%s\n", p.Email)
		fmt.Fprintf(tw, "role\t%s\n", p.Role)
		if p.SchoolIDNumber != "" {
			fmt.Fprintf(tw, "school id\t%s\n", p.SchoolIDNumber)
		}
		if p.OfficeCode != nil {
			fmt.Fprintf(tw, "office\t%s\n", *p.OfficeCode)
		}
		return tw.Flush()
	case guard.Redirecting:
		return errors.New(signedOutMessage(d.Reason))
	}
	return fmt.Errorf("session %s", d.State)
}

func signedOutMessage(r guard.Reason) string {
	switch r {
	case guard.ReasonAuthFailed:
		return "session ended by the server; run wwctl login"
	case guard.ReasonNetwork:
		return "backend unreachable; your session was kept"
	case guard.ReasonMissingRole:
		return "account has no role assigned"
	}
	return "not signed in; run wwctl login"
}

// authed runs fn with the stored token and drops the token on a 401.
func (a *app) authed(ctx context.Context, fn func(token string) error) error {
	token, ok := a.tokens.Token()
	if !ok {
		return errors.New(signedOutMessage(guard.ReasonNoToken))
	}
	err := fn(token)
	if errors.Is(err, backend.ErrUnauthorized) {
		_ = a.tokens.RemoveToken(ctx)
		return errors.New(signedOutMessage(guard.ReasonAuthFailed))
	}
	return err
}

func (a *app) incidents(ctx context.Context) error {
	return a.authed(ctx, func(token string) error {
		callCtx, cancel := a.call(ctx)
		defer cancel()
		list, err := a.be.InProgressIncidents(callCtx, token)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Fprintln(a.out, "no incidents in progress")
			return nil
		}
		tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TRACKING\tTYPE\tLOCATION\tSTATUS")
		for _, inc := range list {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", inc.TrackingNumber, inc.IncidentType, inc.Location, inc.Status)
		}
		return tw.Flush()
	})
}

func (a *app) bulletins(ctx context.Context) error {
	return a.authed(ctx, func(token string) error {
		callCtx, cancel := a.call(ctx)
		defer cancel()
		list, err := a.be.Bulletins(callCtx, token)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTITLE\tUPVOTES")
		for _, b := range list {
			fmt.Fprintf(tw, "%d\t%s\t%d\n", b.ID, b.Title, b.UpvoteCount)
		}
		return tw.Flush()
	})
}

func (a *app) watch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch-upvotes", flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	limit := fs.Duration("for", 0, "stop after this long (default: until interrupted)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("watch-upvotes: bulletin id required")
	}
	id := fs.Arg(0)
	if _, ok := a.tokens.Token(); !ok {
		return errors.New(signedOutMessage(guard.ReasonNoToken))
	}
	if *limit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *limit)
		defer cancel()
	}

	l := realtime.NewListener(realtime.WebsocketDialer{}, a.wsURL)
	defer l.Close()
	dialCtx, cancel := a.call(ctx)
	err := l.Open(dialCtx, id, func(count int) {
		fmt.Fprintf(a.out, "%s bulletin %s: %d upvotes\n", time.Now().Format(time.TimeOnly), id, count)
	})
	cancel()
	if err != nil {
		return fmt.Errorf("watch-upvotes: %w", err)
	}
	fmt.Fprintf(a.errOut, "watching bulletin %s\n", id)
	select {
	case <-ctx.Done():
		return nil
	case <-l.Done():
		return errors.New("watch-upvotes: backend closed the connection")
	}
}

func (a *app) logout(ctx context.Context) error {
	seq := logout.New(a.be)
	res := seq.Run(ctx, a.tokens, []logout.Clearer{
		a.durable,
		logout.ClearFunc{Label: "local", Fn: a.local().Clear},
	}, &printNavigator{out: a.out, statePath: a.statePath})
	if res.BackendErr != nil {
		fmt.Fprintf(a.errOut, "note: backend logout failed: %v\n", res.BackendErr)
	}
	if len(res.Storage) > 0 {
		return fmt.Errorf("local state not fully cleared: %w", errors.Join(storageErrs(res.Storage)...))
	}
	return nil
}

func storageErrs(in []*logout.StorageError) []error {
	out := make([]error, 0, len(in))
	for _, e := range in {
		out = append(out, e)
	}
	return out
}

type printNavigator struct {
	out       io.Writer
	statePath string
}

func (n *printNavigator) Navigate(string) {
	fmt.Fprintln(n.out, "signed out")
}

func (n *printNavigator) HardNavigate(string) {
	fmt.Fprintf(n.out, "signed out; remove %s to discard any remaining local state\n", n.statePath)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "wwctl.db"
	}
	return filepath.Join(dir, "wildwatch", "wwctl.db")
}
