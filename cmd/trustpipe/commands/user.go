package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"trustpipe/internal/userdb"
)

func openUserDB() (*userdb.DB, error) {
	return userdb.Open(cfg.UserDBPath(), backend.GetLogger("userdb"))
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage credential-store users",
	}
	cmd.AddCommand(userAddCmd(), userUpdateCmd(), userDelCmd(), userListCmd(), userCheckCmd())
	return cmd
}

func userUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update <username> <password>",
		Short: "Change a user's password",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openUserDB()
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.Update(args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("Updated password for %s\n", args[0])
			return nil
		},
	}
}

func userAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <username> <password>",
		Short: "Add a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openUserDB()
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.Add(args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("Created user %s\n", args[0])
			return nil
		},
	}
}

func userDelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "del <username>",
		Short: "Delete a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openUserDB()
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.Delete(args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted user %s\n", args[0])
			return nil
		},
	}
}

func userListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openUserDB()
			if err != nil {
				return err
			}
			defer db.Close()
			users, err := db.List()
			if err != nil {
				return err
			}
			for _, u := range users {
				fmt.Printf("Username: %s\n", u)
			}
			return nil
		},
	}
}

func userCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <username> <password>",
		Short: "Test a credential pair",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openUserDB()
			if err != nil {
				return err
			}
			defer db.Close()
			if !db.Verify(args[0], args[1]) {
				return fmt.Errorf("invalid credentials for %s", args[0])
			}
			fmt.Println("Credentials verified")
			return nil
		},
	}
}
