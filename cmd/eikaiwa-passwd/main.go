// Command eikaiwa-passwd maintains the credential store of the eikaiwa
// server.
//
//	eikaiwa-passwd [-file credentials.json] set <username>    # password read from stdin
//	eikaiwa-passwd [-file credentials.json] delete <username>
//	eikaiwa-passwd [-file credentials.json] list
//
// The server reads the store only at startup; restart it after a change.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kamihatanoadoresu/english-conversation/internal/auth"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("eikaiwa-passwd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	file := fs.String("file", "credentials.json", "path to the credential store")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(stderr, "usage: eikaiwa-passwd [-file path] set|delete|list [username]")
		return 2
	}

	store, err := auth.Load(*file)
	switch {
	case errors.Is(err, auth.ErrStoreMissing):
		store = auth.NewStore()
	case err != nil:
		fmt.Fprintf(stderr, "eikaiwa-passwd: %v\n", err)
		return 1
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "list":
		for _, u := range store.Users() {
			fmt.Fprintln(stdout, u)
		}
		return 0

	case "set":
		if len(rest) != 1 {
			fmt.Fprintln(stderr, "usage: eikaiwa-passwd set <username>")
			return 2
		}
		password, err := readPassword(stdin)
		if err != nil {
			fmt.Fprintf(stderr, "eikaiwa-passwd: %v\n", err)
			return 1
		}
		if err := store.Put(rest[0], password); err != nil {
			fmt.Fprintf(stderr, "eikaiwa-passwd: %v\n", err)
			return 1
		}

	case "delete":
		if len(rest) != 1 {
			fmt.Fprintln(stderr, "usage: eikaiwa-passwd delete <username>")
			return 2
		}
		if !store.Delete(rest[0]) {
			fmt.Fprintf(stderr, "eikaiwa-passwd: no such user %q\n", rest[0])
			return 1
		}

	default:
		fmt.Fprintf(stderr, "eikaiwa-passwd: unknown command %q\n", cmd)
		return 2
	}

	if err := store.Save(*file); err != nil {
		fmt.Fprintf(stderr, "eikaiwa-passwd: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "%s: %d user(s)\n", *file, store.Len())
	return 0
}

// readPassword reads the first line of r.
func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("empty password")
	}
	return password, nil
}
