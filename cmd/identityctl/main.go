// Command identityctl administers accounts and sessions from the shell.
//
//	identityctl [-config identity.yaml] [-debug] <command> [flags]
//
// Commands:
//
//	migrate                                apply the PostgreSQL schema
//	create-account -email E [-first F] [-last L]
//	login -username U [-remember]          print a new auth token
//	validate -token T                      check a token and print its session
//	logout -token T
//	sessions -token T                      list the account's live sessions
//	revoke -account A                      remove every session of an account
//	lock -account A | unlock -account A
//	reset-request -username U              print a password reset token
//	reset-confirm -token T                 set a new password with a reset token
//	purge                                  delete expired PostgreSQL sessions
//
// Passwords are read from the terminal, or one per line from stdin with
// -password-stdin.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	identity "github.com/loginbox/identity"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const exitUsage = 2

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

type app struct {
	cfg       identity.Config
	logger    *zap.Logger
	stdin     *bufio.Reader
	stdout    io.Writer
	pwdStdin  bool
	engine    *identity.Engine
	redis     redis.UniversalClient
	closeFunc []func()
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("identityctl", flag.ContinueOnError)
	global.SetOutput(stderr)
	configPath := global.String("config", os.Getenv("IDENTITY_CONFIG"), "path to YAML config")
	debug := global.Bool("debug", false, "enable debug logging")
	pwdStdin := global.Bool("password-stdin", false, "read passwords from stdin")
	if err := global.Parse(args); err != nil {
		return exitUsage
	}
	if global.NArg() == 0 {
		fmt.Fprintln(stderr, "usage: identityctl [flags] <command> [command flags]")
		global.PrintDefaults()
		return exitUsage
	}

	cmdName, cmdArgs := global.Arg(0), global.Args()[1:]
	cmd, ok := commands[cmdName]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n", cmdName)
		return exitUsage
	}

	cfg, err := identity.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	logger, err := newLogger(*debug)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	a := &app{
		cfg:      cfg,
		logger:   logger,
		stdin:    bufio.NewReader(stdin),
		stdout:   stdout,
		pwdStdin: *pwdStdin,
	}
	defer a.close()

	fs := flag.NewFlagSet(cmdName, flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := cmd(ctx, a, fs, cmdArgs); err != nil {
		if errors.Is(err, flag.ErrHelp) || errors.Is(err, errUsage) {
			return exitUsage
		}
		logger.Error("command failed", zap.String("command", cmdName), zap.Error(err))
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

// engineFor builds the engine on first use. Commands that only touch the
// database never connect to Redis.
func (a *app) engineFor() (*identity.Engine, error) {
	if a.engine != nil {
		return a.engine, nil
	}

	a.redis = redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	a.closeFunc = append(a.closeFunc, func() { _ = a.redis.Close() })

	engine, err := identity.New().
		WithConfig(a.cfg).
		WithLogger(a.logger).
		WithRedis(a.redis).
		Build()
	if err != nil {
		return nil, err
	}
	a.engine = engine
	a.closeFunc = append(a.closeFunc, engine.Close)
	return engine, nil
}

func (a *app) close() {
	for i := len(a.closeFunc) - 1; i >= 0; i-- {
		a.closeFunc[i]()
	}
}

func (a *app) password(prompt string) (string, error) {
	return promptPassword(a.stdout, a.stdin, prompt, a.pwdStdin)
}
