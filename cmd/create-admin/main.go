// Command create-admin bootstraps an administrator account. Any field not
// given as a flag is prompted for; the password is read without echo and
// confirmed.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/term"

	"csv-file-drop/internal/auth"
	"csv-file-drop/internal/common"
	"csv-file-drop/internal/config"
	"csv-file-drop/internal/logging"
	"csv-file-drop/internal/storage"
	"csv-file-drop/internal/store"
	"csv-file-drop/internal/users"
)

// readPassword is replaced in tests so they never touch a terminal.
var readPassword = term.ReadPassword

var errPasswordMismatch = errors.New("passwords do not match")

type options struct {
	configPath string
	username   string
	email      string
	fullName   string
	password   string
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("create-admin", flag.ContinueOnError)
	fs.StringVar(&o.configPath, "config", "", "optional config file")
	fs.StringVar(&o.username, "username", "", "admin username")
	fs.StringVar(&o.email, "email", "", "admin email (optional)")
	fs.StringVar(&o.fullName, "full-name", "", "admin full name (optional)")
	fs.StringVar(&o.password, "password", "", "admin password; prompted for when empty")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	return o, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New("create-admin", cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	nu, err := collect(bufio.NewReader(os.Stdin), os.Stdout, int(os.Stdin.Fd()), opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read input: %v\n", err)
		os.Exit(1)
	}

	u, err := createAdmin(context.Background(), cfg, log, nu)
	if err != nil {
		if d := common.Detail(err); d != "" {
			fmt.Fprintln(os.Stderr, d)
		} else {
			fmt.Fprintf(os.Stderr, "create admin: %v\n", err)
		}
		os.Exit(1)
	}
	fmt.Printf("admin %q created\n", u.Username)
}

// collect fills the new user from opts, prompting on out for whatever is
// missing. Only the username and password are required.
func collect(in *bufio.Reader, out io.Writer, fd int, opts options) (users.NewUser, error) {
	var err error
	username := opts.username
	for username == "" {
		if username, err = prompt(in, out, "Username"); err != nil {
			return users.NewUser{}, err
		}
	}

	email, fullName := opts.email, opts.fullName
	if email == "" {
		if email, err = prompt(in, out, "Email (optional)"); err != nil {
			return users.NewUser{}, err
		}
	}
	if fullName == "" {
		if fullName, err = prompt(in, out, "Full name (optional)"); err != nil {
			return users.NewUser{}, err
		}
	}

	password := opts.password
	if password == "" {
		if password, err = confirmPassword(out, fd); err != nil {
			return users.NewUser{}, err
		}
	}

	admin := true
	return users.NewUser{
		Username: username,
		Password: password,
		Profile: users.Profile{
			Email:    optionalString(email),
			FullName: optionalString(fullName),
			Admin:    &admin,
		},
	}, nil
}

// prompt prints label and reads one trimmed line. A final line without a
// newline is accepted.
func prompt(in *bufio.Reader, out io.Writer, label string) (string, error) {
	if _, err := fmt.Fprintf(out, "%s: ", label); err != nil {
		return "", err
	}
	line, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func confirmPassword(out io.Writer, fd int) (string, error) {
	first, err := readSecret(out, fd, "Password")
	if err != nil {
		return "", err
	}
	if first == "" {
		return "", errors.New("password must not be empty")
	}
	second, err := readSecret(out, fd, "Repeat password")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", errPasswordMismatch
	}
	return first, nil
}

func readSecret(out io.Writer, fd int, label string) (string, error) {
	if _, err := fmt.Fprintf(out, "%s: ", label); err != nil {
		return "", err
	}
	b, err := readPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// createAdmin goes through users.Service so the owner directory is made
// exactly as the API would make it.
func createAdmin(ctx context.Context, cfg *config.Config, log *zap.Logger, nu users.NewUser) (users.User, error) {
	kv, err := store.Open(ctx, cfg.Store.URL)
	if err != nil {
		return users.User{}, fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = kv.Close() }()

	dirs, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return users.User{}, fmt.Errorf("open storage: %w", err)
	}

	svc := users.NewService(kv, dirs, auth.NewPasswordHasher(cfg.BcryptCost), log)
	return svc.Create(ctx, nu)
}
