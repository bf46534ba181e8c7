package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/diwise/ecotrack/internal/pkg/application/resource"
	"github.com/diwise/ecotrack/internal/pkg/application/session"
	"github.com/diwise/ecotrack/internal/pkg/infrastructure/logging"
	"github.com/diwise/ecotrack/internal/pkg/infrastructure/tracing"
	"github.com/diwise/ecotrack/pkg/client"
	"github.com/spf13/cobra"
)

const (
	serviceName = "ecotrackctl"
	defaultURL  = "http://localhost:8000"
)

var ErrNotLoggedIn = errors.New("not logged in, run 'ecotrackctl login' first")

// cli carries the persistent flags and the connection shared by all commands.
type cli struct {
	url       string
	tokenFile string
	verbose   bool

	in     *bufio.Reader
	out    io.Writer
	errOut io.Writer

	session *session.Session
	client  *client.EcoTrackClient
	cleanup func()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := newCLI(os.Stdin, os.Stdout, os.Stderr)
	err := c.rootCmd().ExecuteContext(ctx)
	c.close()

	if err != nil {
		stop()
		os.Exit(1)
	}
}

func newCLI(in io.Reader, out, errOut io.Writer) *cli {
	return &cli{
		in:      bufio.NewReader(in),
		out:     out,
		errOut:  errOut,
		cleanup: func() {},
	}
}

func (c *cli) close() {
	c.cleanup()
}

func (c *cli) rootCmd() *cobra.Command {

	root := &cobra.Command{
		Use:          serviceName,
		Short:        "Command line client for the EcoTrack environmental dashboard",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ctx, logger := logging.NewConsoleLogger(cmd.Context(), c.errOut, c.verbose)

			cleanup, err := tracing.Init(ctx, logger, serviceName, "")
			if err != nil {
				return err
			}
			c.cleanup = cleanup

			cmd.SetContext(ctx)
			return nil
		},
	}

	root.SetIn(c.in)
	root.SetOut(c.out)
	root.SetErr(c.errOut)

	url := os.Getenv("ECOTRACK_URL")
	if url == "" {
		url = defaultURL
	}

	root.PersistentFlags().StringVar(&c.url, "url", url, "base url of the EcoTrack API (env ECOTRACK_URL)")
	root.PersistentFlags().StringVar(&c.tokenFile, "token-file", session.DefaultTokenPath(), "file the access token is stored in")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		c.loginCmd(),
		c.logoutCmd(),
		c.registerCmd(),
		c.whoamiCmd(),
		c.indicatorsCmd(),
		c.zonesCmd(),
		c.sourcesCmd(),
		c.usersCmd(),
		c.dashboardCmd(),
		c.mapCmd(),
	)

	return root
}

// connect hydrates the session from the token file. A stored token that the
// server rejects is dropped without an error.
func (c *cli) connect(ctx context.Context) error {
	if c.session != nil {
		return nil
	}

	c.session, c.client = session.Connect(c.url, session.NewFileTokenStore(c.tokenFile))
	return c.session.Init(ctx)
}

func (c *cli) requireLogin(ctx context.Context) error {
	if err := c.connect(ctx); err != nil {
		return err
	}
	if !c.session.Authenticated() {
		return ErrNotLoggedIn
	}
	return nil
}

// confirmer prompts on the command input unless yes is set.
func (c *cli) confirmer(yes bool) resource.Confirmer {
	if yes {
		return resource.AlwaysConfirm
	}

	return resource.ConfirmFunc(func(ctx context.Context, prompt string) (bool, error) {
		fmt.Fprintf(c.out, "%s [y/N] ", prompt)
		answer, err := c.readLine()
		if err != nil && !errors.Is(err, io.EOF) {
			return false, err
		}
		answer = strings.ToLower(answer)
		return answer == "y" || answer == "yes", nil
	})
}

func (c *cli) prompt(label string) (string, error) {
	fmt.Fprintf(c.out, "%s: ", label)
	s, err := c.readLine()
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return s, nil
}

func (c *cli) readLine() (string, error) {
	s, err := c.in.ReadString('\n')
	return strings.TrimSpace(s), err
}

// deleted reports the outcome of a confirmed delete.
func (c *cli) deleted(what string, id int, err error) error {
	if errors.Is(err, resource.ErrCancelled) {
		fmt.Fprintln(c.out, "Aborted.")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s %d deleted successfully\n", what, id)
	return nil
}
