package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/user"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/service"
)

var (
	adminEmail    string
	adminUsername string
	adminFullName string
	adminPassword string
	adminLogin    string
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "User administration",
	Example: `  agentbuilder admin create-superuser --email admin@localhost --username admin
  agentbuilder admin reset-password --login admin
  agentbuilder admin list-users`,
}

var createSuperuserCmd = &cobra.Command{
	Use:   "create-superuser",
	Short: "Create a user with superuser rights",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if adminEmail == "" || adminUsername == "" {
			return fmt.Errorf("--email and --username are required")
		}
		pass := adminPassword
		if pass == "" {
			var err error
			if pass, err = confirmPassword("Password: "); err != nil {
				return err
			}
		}

		store, cfg, cleanup, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		authSvc := service.NewAuthService(store, &cfg.Auth)
		u, err := authSvc.Register(cmd.Context(), &user.CreateRequest{
			Email:       adminEmail,
			Username:    adminUsername,
			Password:    pass,
			FullName:    adminFullName,
			IsSuperuser: true,
		})
		if err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Superuser created: %s (id=%s)\n", u.Username, u.ID)
		return nil
	},
}

var resetPasswordCmd = &cobra.Command{
	Use:   "reset-password",
	Short: "Reset a user's password",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if adminLogin == "" {
			return fmt.Errorf("--login is required")
		}
		pass := adminPassword
		if pass == "" {
			var err error
			if pass, err = confirmPassword("New password: "); err != nil {
				return err
			}
		}

		store, cfg, cleanup, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		if err := service.NewAuthService(store, &cfg.Auth).ResetPassword(cmd.Context(), adminLogin, pass); err != nil {
			return fmt.Errorf("reset password: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Password reset for %s\n", adminLogin)
		return nil
	},
}

var listUsersCmd = &cobra.Command{
	Use:   "list-users",
	Short: "List all users",
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, cfg, cleanup, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		users, err := service.NewAuthService(store, &cfg.Auth).ListUsers(cmd.Context())
		if err != nil {
			return fmt.Errorf("list users: %w", err)
		}
		if len(users) == 0 {
			fmt.Println("No users found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tUSERNAME\tEMAIL\tACTIVE\tSUPERUSER\tCREATED")
		for i := range users {
			u := &users[i]
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%v\t%s\n",
				u.ID, u.Username, u.Email, u.IsActive, u.IsSuperuser, u.CreatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

func init() {
	f := createSuperuserCmd.Flags()
	f.StringVar(&adminEmail, "email", "", "email address (required)")
	f.StringVar(&adminUsername, "username", "", "username (required)")
	f.StringVar(&adminFullName, "full-name", "", "display name")
	f.StringVar(&adminPassword, "password", "", "password (prompted if not provided)")

	f = resetPasswordCmd.Flags()
	f.StringVar(&adminLogin, "login", "", "username or email (required)")
	f.StringVar(&adminPassword, "password", "", "new password (prompted if not provided)")

	adminCmd.AddCommand(createSuperuserCmd, resetPasswordCmd, listUsersCmd)
}
