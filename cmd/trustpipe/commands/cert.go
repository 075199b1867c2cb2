package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"trustpipe/internal/certauth"
)

func certCmd() *cobra.Command {
	var (
		name string
		alt  []string
		subj certauth.Subject
	)
	cmd := &cobra.Command{
		Use:   "cert",
		Short: "Issue a certificate for a named peer, signed by the deployment CA",
		RunE: func(cmd *cobra.Command, args []string) error {
			ca := certauth.New(cfg, backend.GetLogger("certauth"))
			if err := ca.Issue(name, alt, subj); err != nil {
				return err
			}
			fmt.Printf("Issued certificate for %s\n", name)
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "common name for the peer")
	cmd.Flags().StringSliceVarP(&alt, "alt", "a", nil, "subject alternative names (default: the common name)")
	cmd.Flags().StringVar(&subj.Country, "country", "", "subject country")
	cmd.Flags().StringVar(&subj.State, "state", "", "subject state")
	cmd.Flags().StringVar(&subj.City, "city", "", "subject city")
	cmd.Flags().StringVar(&subj.Company, "company", "", "subject organization")
	cmd.Flags().StringVar(&subj.Department, "department", "", "subject department")
	cmd.Flags().StringVar(&subj.Email, "email", "", "subject email")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}
