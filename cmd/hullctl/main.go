// hullctl issues identity tokens and writes to the platform from the command
// line, acting as the connector configured in the environment or a YAML file.
//
//	hullctl --user foo@bar.com token
//	hullctl --user '{"email":"foo@bar.com"}' traits '{"plan":"pro"}'
//	hullctl --user u-1 track "Signed up" '{"plan":"pro"}'
//	hullctl get app
//	hullctl properties
//	hullctl deadletters list | replay <id>
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"hullclient/pkg/claims"
	"hullclient/pkg/config"
	"hullclient/pkg/configuration"
	"hullclient/pkg/db"
	"hullclient/pkg/deadletter"
	"hullclient/pkg/firehose"
	"hullclient/pkg/hull"
	"hullclient/pkg/logger"
	"hullclient/pkg/properties"
	"hullclient/pkg/tracing"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, config.Load(), os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configFile string
	user       string
	account    string
	source     string
	sync       bool
	sudo       bool
	timeout    time.Duration
}

func run(ctx context.Context, cfg config.Config, args []string, stdout io.Writer) error {
	var o options
	fs := pflag.NewFlagSet("hullctl", pflag.ContinueOnError)
	fs.StringVarP(&o.configFile, "config", "c", "", "YAML client settings (default: HULL_ID, HULL_SECRET, HULL_ORGANIZATION)")
	fs.StringVarP(&o.user, "user", "u", "", "user claim: an id or a JSON object")
	fs.StringVarP(&o.account, "account", "a", "", "account claim: an id or a JSON object")
	fs.StringVar(&o.source, "source", "", "prefix traits with <source>/")
	fs.BoolVar(&o.sync, "sync", false, "write traits through the API instead of the firehose")
	fs.BoolVar(&o.sudo, "sudo", false, "authenticate API calls with the connector secret")
	fs.DurationVar(&o.timeout, "timeout", 30*time.Second, "overall command timeout")
	fs.SetOutput(stdout)
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return errors.New("missing command")
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	log := logger.New(cfg.Env, cfg.LogLevel)
	defer func() { _ = log.Sync() }()
	shutdown := tracing.Init(cfg, "hullctl")
	defer func() { _ = shutdown(context.Background()) }()

	cmd, rest := rest[0], rest[1:]
	if cmd == "deadletters" {
		return deadLetters(ctx, cfg, log, rest, stdout)
	}

	s, err := settings(cfg, o)
	if err != nil {
		return err
	}

	var regOpts []firehose.BatcherOption
	regOpts = append(regOpts, firehose.WithLogger(log))
	if pool := db.MustConnect(cfg, log); pool != nil {
		defer pool.Close()
		if err := deadletter.EnsureSchema(ctx, pool); err != nil {
			return err
		}
		regOpts = append(regOpts, firehose.WithSink(deadletter.New(pool, log)))
	}
	reg := firehose.NewRegistry(regOpts...)
	defer func() {
		cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer ccancel()
		_ = reg.Close(cctx)
	}()

	clientOpts := []hull.Option{hull.WithLogger(log), hull.WithRegistry(reg)}
	if rdb := db.MustRedis(cfg, log); rdb != nil {
		defer rdb.Close()
		clientOpts = append(clientOpts, hull.WithPropertiesCache(properties.NewCache(rdb, properties.DefaultTTL)))
	}
	c, err := hull.New(s, clientOpts...)
	if err != nil {
		return err
	}

	switch cmd {
	case "token":
		e, err := entity(c, o)
		if err != nil {
			return err
		}
		tok, err := e.Token()
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, tok)
		return nil

	case "traits":
		if len(rest) != 1 {
			return errors.New("usage: traits <json attributes>")
		}
		attrs, err := object(rest[0])
		if err != nil {
			return err
		}
		e, err := entity(c, o)
		if err != nil {
			return err
		}
		return e.Traits(ctx, attrs, hull.TraitsContext{Source: o.source, Sync: o.sync})

	case "track":
		if len(rest) < 1 || len(rest) > 2 {
			return errors.New("usage: track <event> [json properties]")
		}
		var props map[string]any
		if len(rest) == 2 {
			if props, err = object(rest[1]); err != nil {
				return err
			}
		}
		claim, err := parseClaim(o.user)
		if err != nil {
			return err
		}
		u, err := c.AsUser(claim)
		if err != nil {
			return err
		}
		return u.Track(ctx, rest[0], props, nil)

	case "get":
		if len(rest) != 1 {
			return errors.New("usage: get <path>")
		}
		raw, err := c.Get(ctx, rest[0], nil)
		if err != nil {
			return err
		}
		return printJSON(stdout, raw)

	case "properties":
		props, err := c.Utils().Properties.Get(ctx)
		if err != nil {
			return err
		}
		return printJSON(stdout, props)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func settings(cfg config.Config, o options) (configuration.Settings, error) {
	s := configuration.Settings{ID: cfg.HullID, Secret: cfg.HullSecret, Organization: cfg.HullOrganization}
	if o.configFile != "" {
		var err error
		if s, err = config.LoadFile(o.configFile); err != nil {
			return s, err
		}
	}
	if o.sudo {
		s.Sudo = true
	}
	return s, nil
}

// entity scopes c to the user and account flags. A user with an account is
// linked to it.
func entity(c *hull.Client, o options) (*hull.EntityClient, error) {
	user, err := parseClaim(o.user)
	if err != nil {
		return nil, err
	}
	account, err := parseClaim(o.account)
	if err != nil {
		return nil, err
	}
	switch {
	case !user.IsZero():
		u, err := c.AsUser(user)
		if err != nil {
			return nil, err
		}
		if account.IsZero() {
			return &u.EntityClient, nil
		}
		a, err := u.Account(account)
		if err != nil {
			return nil, err
		}
		return &a.EntityClient, nil
	case !account.IsZero():
		a, err := c.AsAccount(account)
		if err != nil {
			return nil, err
		}
		return &a.EntityClient, nil
	}
	return nil, errors.New("--user or --account is required")
}

func parseClaim(v string) (claims.Claim, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return claims.Claim{}, nil
	}
	var c claims.Claim
	if strings.HasPrefix(v, "{") {
		if err := json.Unmarshal([]byte(v), &c); err != nil {
			return c, fmt.Errorf("claim: %w", err)
		}
		return c, nil
	}
	return claims.FromID(v), nil
}

func object(v string) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(v), &m); err != nil {
		return nil, fmt.Errorf("expected a JSON object: %w", err)
	}
	return m, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if raw, ok := v.(json.RawMessage); ok {
		var anyv any
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &anyv); err != nil {
				return err
			}
		}
		v = anyv
	}
	return enc.Encode(v)
}

func deadLetters(ctx context.Context, cfg config.Config, log logger.Sugared, args []string, stdout io.Writer) error {
	if cfg.DatabaseURL == "" {
		return errors.New("deadletters: DATABASE_URL is not set")
	}
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := deadletter.EnsureSchema(ctx, pool); err != nil {
		return err
	}
	store := deadletter.New(pool, log)

	if len(args) == 0 {
		return errors.New("usage: deadletters list [organization] | replay <id>")
	}
	switch args[0] {
	case "list":
		org := cfg.HullOrganization
		if len(args) > 1 {
			org = args[1]
		}
		recs, err := store.List(ctx, org, 50)
		if err != nil {
			return err
		}
		for _, r := range recs {
			fmt.Fprintf(stdout, "%s\t%s\t%d\t%s\n", r.ID, r.FailedAt.Format(time.RFC3339), len(r.Entries), r.Error)
		}
		return nil
	case "replay":
		if len(args) != 2 {
			return errors.New("usage: deadletters replay <id>")
		}
		id, err := uuid.Parse(args[1])
		if err != nil {
			return err
		}
		rec, err := store.Get(ctx, id)
		if err != nil {
			return err
		}
		// Failed batches are replayed to the URL they were meant for, as the
		// connector configured in the environment.
		b := firehose.NewBatcher(firehose.Config{
			URL: rec.URL,
			Target: firehose.ConfigFrom(configuration.Settings{
				ID: cfg.HullID, Secret: cfg.HullSecret, Organization: rec.Organization, Protocol: configuration.DefaultProtocol,
			}).Target,
		}, firehose.WithLogger(log))
		defer func() { _ = b.Close(context.Background()) }()
		if err := store.Replay(ctx, id, b); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "replayed %d entries\n", len(rec.Entries))
		return nil
	}
	return fmt.Errorf("unknown deadletters command %q", args[0])
}
