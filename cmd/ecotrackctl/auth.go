package main

import (
	"fmt"

	"github.com/diwise/ecotrack/pkg/types"
	"github.com/spf13/cobra"
)

func (c *cli) loginCmd() *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()

			if err = c.connect(ctx); err != nil {
				return err
			}

			if username == "" {
				if username, err = c.prompt("Username"); err != nil {
					return err
				}
			}
			if password == "" {
				if password, err = c.prompt("Password"); err != nil {
					return err
				}
			}

			user, err := c.session.Login(ctx, username, password)
			if err != nil {
				return err
			}

			fmt.Fprintf(c.out, "Logged in as %s (%s)\n", user.Username, user.Role)
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password, prompted for when omitted")

	return cmd
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.connect(cmd.Context()); err != nil {
				return err
			}
			if err := c.session.Logout(); err != nil {
				return err
			}
			fmt.Fprintln(c.out, "Logged out.")
			return nil
		},
	}
}

func (c *cli) registerCmd() *cobra.Command {
	u := types.UserCreate{}

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create a new account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()

			if err = c.connect(ctx); err != nil {
				return err
			}

			if u.Password == "" {
				if u.Password, err = c.prompt("Password"); err != nil {
					return err
				}
			}

			user, err := c.session.Register(ctx, u)
			if err != nil {
				return err
			}

			fmt.Fprintf(c.out, "Registered %s, log in with 'ecotrackctl login -u %s'\n", user.Username, user.Username)
			return nil
		},
	}

	cmd.Flags().StringVarP(&u.Username, "username", "u", "", "username")
	cmd.Flags().StringVarP(&u.Email, "email", "e", "", "email address")
	cmd.Flags().StringVarP(&u.Password, "password", "p", "", "password, prompted for when omitted")
	cmd.MarkFlagRequired("username")
	cmd.MarkFlagRequired("email")

	return cmd
}

func (c *cli) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.requireLogin(cmd.Context()); err != nil {
				return err
			}

			u, _ := c.session.User()
			t := newTable("", "ID", "USERNAME", "EMAIL", "ROLE", "ACTIVE")
			t.add(u.ID, u.Username, u.Email, u.Role, u.IsActive)
			t.render(c.out)
			return nil
		},
	}
}
