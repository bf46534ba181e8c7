package main

import (
	"fmt"
	"time"

	"github.com/diwise/ecotrack/internal/pkg/application/resource"
	"github.com/diwise/ecotrack/pkg/types"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

func (c *cli) usersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "users",
		Aliases: []string{"user"},
		Short:   "Administer user accounts (admin only)",
	}

	var lf listFlags

	list := &cobra.Command{
		Use:   "list",
		Short: "List users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			q, err := lf.query()
			if err != nil {
				return err
			}

			if err := c.requireLogin(ctx); err != nil {
				return err
			}

			state, err := resource.NewFetcher(c.client.ListUsers, q).Refresh(ctx)
			if err != nil {
				return err
			}

			t := newTable("", "ID", "USERNAME", "EMAIL", "ROLE", "ACTIVE", "CREATED")
			for _, u := range state.Envelope.Items {
				t.add(u.ID, u.Username, u.Email, u.Role, lo.Ternary(u.IsActive, "yes", "no"), u.CreatedAt.Format(time.DateOnly))
			}
			t.render(c.out)
			printPaging(c.out, state.Envelope)

			return nil
		},
	}
	lf.register(list, "", resource.Asc)

	cmd.AddCommand(
		list,
		c.userUpdateCmd("activate", "Activate a user account", types.UserUpdate{IsActive: lo.ToPtr(true)}),
		c.userUpdateCmd("deactivate", "Deactivate a user account", types.UserUpdate{IsActive: lo.ToPtr(false)}),
		c.userUpdateCmd("promote", "Grant the admin role", types.UserUpdate{Role: lo.ToPtr(types.RoleAdmin)}),
		c.userUpdateCmd("demote", "Revoke the admin role", types.UserUpdate{Role: lo.ToPtr(types.RoleUser)}),
		c.userDeleteCmd(),
	)

	return cmd
}

func (c *cli) userUpdateCmd(use, short string, change types.UserUpdate) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			if err := c.requireLogin(ctx); err != nil {
				return err
			}

			u, err := c.userMutator(false).Update(ctx, id, change)
			if err != nil {
				return err
			}

			fmt.Fprintf(c.out, "User %s is now %s and %s\n", u.Username, u.Role, lo.Ternary(u.IsActive, "active", "inactive"))
			return nil
		},
	}
}

func (c *cli) userDeleteCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a user account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			if err := c.requireLogin(ctx); err != nil {
				return err
			}

			return c.deleted("User", id, c.userMutator(yes).Delete(ctx, id))
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")

	return cmd
}

// userMutator has no create operation, accounts are created with register.
func (c *cli) userMutator(yes bool) *resource.Mutator[types.User, types.UserCreate, types.UserUpdate] {
	fetcher := resource.NewFetcher(c.client.ListUsers, resource.NewQuery())

	return resource.NewMutator("user", fetcher, resource.Operations[types.User, types.UserCreate, types.UserUpdate]{
		Update: c.client.UpdateUser,
		Delete: c.client.DeleteUser,
	}, c.confirmer(yes))
}
