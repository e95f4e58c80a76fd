package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/marcus/tpled/internal/api"
	"github.com/marcus/tpled/internal/serverdb"
)

var errUsage = errors.New("usage")

func runAdmin(args []string) {
	if err := admin(os.Stdout, args); err != nil {
		if errors.Is(err, errUsage) {
			printAdminUsage()
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

// admin dispatches an admin subcommand, writing results to w.
func admin(w io.Writer, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "create-user":
		return adminCreateUser(w, args[1:])
	case "create-key":
		return adminCreateKey(w, args[1:])
	case "list-users":
		return adminListUsers(w, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown admin command: %s\n", args[0])
		return errUsage
	}
}

func printAdminUsage() {
	fmt.Fprintln(os.Stderr, `Usage: tpled-server admin <command> [flags]

Commands:
  create-user  Register a user (needed when signup is disabled)
  create-key   Create an API key for a user
  list-users   List registered users`)
}

const dbFlagUsage = "path to the database (default: from TPLED_DB_PATH or ./data/tpled.db)"

func openDB(dbPath string) (*serverdb.ServerDB, error) {
	if dbPath == "" {
		cfg, err := api.LoadConfig()
		if err != nil {
			return nil, err
		}
		dbPath = cfg.DBPath
	}
	store, err := serverdb.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return store, nil
}

func adminCreateUser(w io.Writer, args []string) error {
	fs := flag.NewFlagSet("admin create-user", flag.ContinueOnError)
	email := fs.String("email", "", "user email address")
	dbPath := fs.String("db", "", dbFlagUsage)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return fmt.Errorf("--email is required")
	}

	store, err := openDB(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	user, created, err := store.GetOrCreateUser(*email, true)
	if err != nil {
		return err
	}
	if !created {
		fmt.Fprintf(w, "user %s already exists (%s)\n", user.Email, user.ID)
		return nil
	}
	fmt.Fprintf(w, "created user %s (%s)\n", user.Email, user.ID)
	return nil
}

func adminCreateKey(w io.Writer, args []string) error {
	fs := flag.NewFlagSet("admin create-key", flag.ContinueOnError)
	email := fs.String("email", "", "user email address")
	name := fs.String("name", "", "key name (e.g. ci)")
	asAdmin := fs.Bool("admin", false, "also grant access to the /v1/admin endpoints")
	ttl := fs.Duration("ttl", 0, "key lifetime (e.g. 720h); zero never expires")
	dbPath := fs.String("db", "", dbFlagUsage)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return fmt.Errorf("--email is required")
	}
	if *name == "" {
		return fmt.Errorf("--name is required")
	}

	store, err := openDB(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	user, err := store.GetUserByEmail(*email)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("user not found: %s", *email)
	}

	scopes := serverdb.ScopeAPI
	if *asAdmin {
		scopes += "," + serverdb.ScopeAdmin
	}
	var expiresAt *time.Time
	if *ttl > 0 {
		t := time.Now().UTC().Add(*ttl)
		expiresAt = &t
	}

	plaintext, ak, err := store.GenerateAPIKey(user.ID, *name, scopes, expiresAt)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "created API key for %s\n", user.Email)
	fmt.Fprintf(w, "  name:   %s\n", ak.Name)
	fmt.Fprintf(w, "  scopes: %s\n", ak.Scopes)
	if ak.ExpiresAt != nil {
		fmt.Fprintf(w, "  expiry: %s\n", ak.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "  key:    %s\n", plaintext)
	fmt.Fprintln(w, "\nSave this key now -- it will not be shown again.")
	return nil
}

func adminListUsers(w io.Writer, args []string) error {
	fs := flag.NewFlagSet("admin list-users", flag.ContinueOnError)
	dbPath := fs.String("db", "", dbFlagUsage)
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := openDB(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	users, err := store.ListUsers()
	if err != nil {
		return err
	}
	if len(users) == 0 {
		fmt.Fprintln(w, "no users")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EMAIL\tID\tCREATED")
	for _, u := range users {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", strings.ToLower(u.Email), u.ID, u.CreatedAt.Format("2006-01-02"))
	}
	return tw.Flush()
}
