package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/class-scheduler/internal/auth"
	"github.com/example/class-scheduler/internal/credentials"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	cmd.AddCommand(newUserAddCmd())
	cmd.AddCommand(newUserCredentialsCmd())
	return cmd
}

func newUserAddCmd() *cobra.Command {
	var username, password string

	c := &cobra.Command{
		Use:   "add",
		Short: "Add a local user (username/password)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx, appOptions{migrate: true, jobsOnly: true})
			if err != nil {
				return err
			}
			defer a.Close()

			// cookie keys are not needed to create accounts
			store := auth.NewStore(a.users, nil, nil)
			id, err := store.CreateUser(ctx, username, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %q id=%s\n", username, id)
			return nil
		},
	}

	c.Flags().StringVar(&username, "username", "", "username")
	c.Flags().StringVar(&password, "password", "", "password")
	_ = c.MarkFlagRequired("username")
	_ = c.MarkFlagRequired("password")
	return c
}

func newUserCredentialsCmd() *cobra.Command {
	var in credentials.Credentials

	c := &cobra.Command{
		Use:   "credentials",
		Short: "Store a user's class provider login (password encrypted at rest)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx, appOptions{migrate: true, jobsOnly: true})
			if err != nil {
				return err
			}
			defer a.Close()

			repo, ok := a.creds.(*credentials.Repo)
			if !ok {
				return fmt.Errorf("credentials need store.driver backed by Postgres and cred_enc_key set")
			}
			if err := repo.Put(ctx, in); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored credentials for user %s\n", in.UserID)
			return nil
		},
	}

	c.Flags().StringVar(&in.UserID, "user-id", "", "user id")
	c.Flags().StringVar(&in.Username, "login", "", "provider login (email)")
	c.Flags().StringVar(&in.Password, "password", "", "provider password")
	c.Flags().StringVar(&in.MemberID, "member-id", "", "provider member id")
	c.Flags().StringVar(&in.PrimaryName, "primary-name", "", "name booked as the primary participant")
	c.Flags().StringVar(&in.SecondaryName, "secondary-name", "", "optional second participant")
	_ = c.MarkFlagRequired("user-id")
	_ = c.MarkFlagRequired("login")
	_ = c.MarkFlagRequired("password")
	return c
}
