package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/groblegark/fmgo/client"
)

var (
	remoteName string
	hostFlag   string
	dbFlag     string
	userFlag   string
	tokenFlag  string
	jsonOutput bool

	fm *client.HTTPClient
)

var rootCmd = &cobra.Command{
	Use:   "fmq",
	Short: "Query and mutate FileMaker Data API records",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConnection()
		if err != nil {
			return err
		}
		fm, err = client.NewHTTPClient(cfg)
		if err != nil {
			return fmt.Errorf("failed to build client: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if fm != nil {
			fm.Close()
		}
	},
}

// resolveConnection merges flags over the active (or named) remote profile.
// Flags always win; the password comes from FMQ_PASSWORD or a terminal
// prompt, never from the profile file.
func resolveConnection() (client.Config, error) {
	profile, err := resolveRemote(remoteName)
	if err != nil {
		return client.Config{}, err
	}

	host := hostFlag
	if host == "" {
		host = profile.Host
	}
	database := dbFlag
	if database == "" {
		database = profile.Database
	}
	username := userFlag
	if username == "" {
		username = profile.Username
	}
	token := tokenFlag
	if token == "" {
		token = profile.Token
	}

	if host == "" || database == "" {
		return client.Config{}, fmt.Errorf("host and database are required (flags or a configured remote)")
	}

	var session client.SessionProvider
	switch {
	case token != "":
		session = client.StaticToken{Token: token}
	case username != "":
		password, err := readPassword(username)
		if err != nil {
			return client.Config{}, err
		}
		session = client.UsernamePassword{Username: username, Password: password}
	default:
		return client.Config{}, fmt.Errorf("no credentials: set --username or store a token with 'fmq remote add'")
	}

	return client.Config{Host: host, Database: database, Session: session}, nil
}

func readPassword(username string) (string, error) {
	if pw := os.Getenv("FMQ_PASSWORD"); pw != "" {
		return pw, nil
	}
	if !term.IsTerminal(int(syscall.Stdin)) {
		return "", fmt.Errorf("no password: set FMQ_PASSWORD or run interactively")
	}
	fmt.Fprintf(os.Stderr, "Password for %s: ", username)
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(raw), nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&remoteName, "remote", "", "named remote profile (default: the active one)")
	rootCmd.PersistentFlags().StringVar(&hostFlag, "host", "", "server base URL, e.g. https://fms.example.com")
	rootCmd.PersistentFlags().StringVar(&dbFlag, "database", "", "database (solution) name")
	rootCmd.PersistentFlags().StringVar(&userFlag, "username", "", "account name")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "pre-minted session token")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddCommand(findCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(scriptCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(remoteCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
