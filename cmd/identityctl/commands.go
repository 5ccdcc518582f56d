package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"text/tabwriter"
	"time"

	identity "github.com/loginbox/identity"
	"github.com/loginbox/identity/internal/migrate"
	"github.com/loginbox/identity/internal/pgdb"
	sessionpostgres "github.com/loginbox/identity/session/postgres"
)

var errUsage = errors.New("usage")

type command func(ctx context.Context, a *app, fs *flag.FlagSet, args []string) error

var commands = map[string]command{
	"migrate":        cmdMigrate,
	"create-account": cmdCreateAccount,
	"login":          cmdLogin,
	"validate":       cmdValidate,
	"logout":         cmdLogout,
	"sessions":       cmdSessions,
	"revoke":         cmdRevoke,
	"lock":           cmdLock(true),
	"unlock":         cmdLock(false),
	"reset-request":  cmdResetRequest,
	"reset-confirm":  cmdResetConfirm,
	"purge":          cmdPurge,
}

func required(fs *flag.FlagSet, values ...*string) error {
	for _, v := range values {
		if *v == "" {
			fs.Usage()
			return errUsage
		}
	}
	return nil
}

func cmdMigrate(ctx context.Context, a *app, fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	if a.cfg.Postgres.DSN == "" {
		return errors.New("postgres dsn is not configured")
	}
	if err := migrate.Up(ctx, a.cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	fmt.Fprintln(a.stdout, "schema up to date")
	return nil
}

func cmdCreateAccount(ctx context.Context, a *app, fs *flag.FlagSet, args []string) error {
	email := fs.String("email", "", "account email")
	first := fs.String("first", "", "first name")
	last := fs.String("last", "", "last name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(fs, email); err != nil {
		return err
	}

	pw, err := a.password("Password")
	if err != nil {
		return err
	}
	engine, err := a.engineFor()
	if err != nil {
		return err
	}

	id, err := engine.CreateAccount(ctx, *email, *first, *last, pw)
	if err != nil {
		return err
	}
	acc, err := engine.Account(ctx, id)
	if err != nil {
		return err
	}
	username := ""
	if acc != nil {
		username = acc.Username
	}
	fmt.Fprintf(a.stdout, "%s\t%s\n", id, username)
	return nil
}

func cmdLogin(ctx context.Context, a *app, fs *flag.FlagSet, args []string) error {
	username := fs.String("username", "", "username or email")
	remember := fs.Bool("remember", false, "open a remember-me session")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(fs, username); err != nil {
		return err
	}

	pw, err := a.password("Password")
	if err != nil {
		return err
	}
	engine, err := a.engineFor()
	if err != nil {
		return err
	}

	id := engine.Identity(cliClient(), "")
	ok, err := id.Login(ctx, *username, pw, *remember)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("invalid credentials")
	}
	fmt.Fprintln(a.stdout, id.Token())
	return nil
}

func cmdValidate(ctx context.Context, a *app, fs *flag.FlagSet, args []string) error {
	id, err := a.validated(ctx, fs, args)
	if err != nil {
		return err
	}

	rec, err := id.SessionInfo(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "account\t%s\nsession\t%s\n", id.AccountID(), id.SessionID())
	if rec != nil {
		fmt.Fprintf(a.stdout, "remember\t%t\nlast_access\t%s\n", rec.RememberMe, rec.LastAccess.Format(time.RFC3339))
	}
	return nil
}

func cmdLogout(ctx context.Context, a *app, fs *flag.FlagSet, args []string) error {
	token := fs.String("token", "", "auth token")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(fs, token); err != nil {
		return err
	}
	engine, err := a.engineFor()
	if err != nil {
		return err
	}
	return engine.Identity(cliClient(), *token).Logout(ctx)
}

func cmdSessions(ctx context.Context, a *app, fs *flag.FlagSet, args []string) error {
	id, err := a.validated(ctx, fs, args)
	if err != nil {
		return err
	}

	records, err := id.ActiveSessions(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tCREATED\tLAST ACCESS\tREMEMBER\tIP\tLOCATION\tCURRENT")
	for _, rec := range records {
		current := ""
		if rec.SessionID == id.SessionID() {
			current = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\t%s\n",
			rec.SessionID,
			rec.CreatedAt.Format(time.RFC3339),
			rec.LastAccess.Format(time.RFC3339),
			rec.RememberMe,
			rec.IP,
			rec.Location,
			current,
		)
	}
	return tw.Flush()
}

func cmdRevoke(ctx context.Context, a *app, fs *flag.FlagSet, args []string) error {
	account := fs.String("account", "", "account id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(fs, account); err != nil {
		return err
	}
	engine, err := a.engineFor()
	if err != nil {
		return err
	}

	n, err := engine.RevokeSessions(ctx, *account)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "revoked %d sessions\n", n)
	return nil
}

func cmdLock(locked bool) command {
	return func(ctx context.Context, a *app, fs *flag.FlagSet, args []string) error {
		account := fs.String("account", "", "account id")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if err := required(fs, account); err != nil {
			return err
		}
		engine, err := a.engineFor()
		if err != nil {
			return err
		}

		var changed bool
		if locked {
			changed, err = engine.LockAccount(ctx, *account)
		} else {
			changed, err = engine.UnlockAccount(ctx, *account)
		}
		if err != nil {
			return err
		}
		if !changed {
			return fmt.Errorf("%w: %s", identity.ErrAccountNotFound, *account)
		}
		return nil
	}
}

func cmdResetRequest(ctx context.Context, a *app, fs *flag.FlagSet, args []string) error {
	username := fs.String("username", "", "username or email")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(fs, username); err != nil {
		return err
	}
	engine, err := a.engineFor()
	if err != nil {
		return err
	}

	token, err := engine.RequestPasswordReset(ctx, *username)
	if err != nil {
		return err
	}
	if token == "" {
		return fmt.Errorf("%w: %s", identity.ErrAccountNotFound, *username)
	}
	fmt.Fprintln(a.stdout, token)
	return nil
}

func cmdResetConfirm(ctx context.Context, a *app, fs *flag.FlagSet, args []string) error {
	token := fs.String("token", "", "password reset token")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(fs, token); err != nil {
		return err
	}

	pw, err := a.password("New password")
	if err != nil {
		return err
	}
	engine, err := a.engineFor()
	if err != nil {
		return err
	}

	ok, err := engine.ConfirmPasswordReset(ctx, *token, pw)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("reset token is invalid or expired")
	}
	fmt.Fprintln(a.stdout, "password updated")
	return nil
}

func cmdPurge(ctx context.Context, a *app, fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	if a.cfg.Postgres.DSN == "" {
		return errors.New("postgres dsn is not configured")
	}

	db, err := pgdb.Open(ctx, a.cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer db.Close()

	n, err := sessionpostgres.NewStore(db, a.cfg.Session.Config, nil).PurgeExpired(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "purged %d sessions\n", n)
	return nil
}

func (a *app) validated(ctx context.Context, fs *flag.FlagSet, args []string) (*identity.Identity, error) {
	token := fs.String("token", "", "auth token")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := required(fs, token); err != nil {
		return nil, err
	}
	engine, err := a.engineFor()
	if err != nil {
		return nil, err
	}

	id := engine.Identity(cliClient(), *token)
	ok, err := id.Validate(ctx, false)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("token is not valid")
	}
	return id, nil
}

func cliClient() identity.ClientInfo {
	return identity.ClientInfo{IP: "127.0.0.1", UserAgent: "identityctl"}
}
