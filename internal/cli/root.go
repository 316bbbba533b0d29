package cli

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/snapvault/internal/common"
	"github.com/dmitrijs2005/snapvault/internal/server/models"
)

type backendKey struct{}

// NewRootCommand builds the vaultctl command tree. open is called once per
// invocation, before the subcommand runs.
func NewRootCommand(open Opener) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "vaultctl",
		Short:         "Administer snapvault sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			b, err := open(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), backendKey{}, b))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if b := backendFrom(cmd); b != nil && b.Close != nil {
				return b.Close()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "JSON config file")

	root.AddCommand(newAdminCommand(), newSessionCommand())
	return root
}

func backendFrom(cmd *cobra.Command) *Backend {
	b, _ := cmd.Context().Value(backendKey{}).(*Backend)
	return b
}

func newAdminCommand() *cobra.Command {
	admin := &cobra.Command{Use: "admin", Short: "Manage administrator credentials"}

	var ids []int64
	seed := &cobra.Command{
		Use:   "seed",
		Short: "Create master keys for administrators that have none",
		RunE: func(cmd *cobra.Command, args []string) error {
			b := backendFrom(cmd)
			if len(ids) == 0 {
				ids = b.AdminIDs
			}
			if len(ids) == 0 {
				return errors.New("no admin ids given and TELEGRAM_ADMIN_IDS is empty")
			}
			out := cmd.OutOrStdout()
			for _, id := range ids {
				key, created, err := b.Admins.SeedAdmin(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("admin %d: %w", id, err)
				}
				if created {
					fmt.Fprintf(out, "%d\tcreated\t%s\n", id, key)
				} else {
					fmt.Fprintf(out, "%d\texists\n", id)
				}
			}
			return nil
		},
	}
	seed.Flags().Int64SliceVar(&ids, "user", nil, "admin user id, repeatable")
	admin.AddCommand(seed)
	return admin
}

func newSessionCommand() *cobra.Command {
	session := &cobra.Command{Use: "session", Short: "Manage upload sessions"}
	session.AddCommand(
		newCreateCommand(),
		newListCommand(),
		newStatusCommand("close", "Stop accepting uploads", SessionAdmin.Close),
		newStatusCommand("archive", "Archive a session", SessionAdmin.Archive),
		newStatsCommand(),
		newRevealCommand(),
		newPurgeCommand(),
	)
	return session
}

func newCreateCommand() *cobra.Command {
	var (
		prefix, description string
		creator             int64
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a session and print its access key",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, key, err := backendFrom(cmd).Sessions.CreateSession(cmd.Context(), creator, prefix, description)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "session:    %s\n", s.SessionID)
			fmt.Fprintf(out, "access key: %s\n", key)
			fmt.Fprintf(out, "folder:     %s\n", s.StorageFolderPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "2-3 letter or digit prefix")
	cmd.Flags().StringVar(&description, "description", "", "session description")
	cmd.Flags().Int64Var(&creator, "created-by", 0, "user id recorded as creator")
	_ = cmd.MarkFlagRequired("prefix")
	_ = cmd.MarkFlagRequired("description")
	return cmd
}

func newListCommand() *cobra.Command {
	var page, size int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := backendFrom(cmd).Sessions.ListPaged(cmd.Context(), page, size)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tSTATUS\tFILES\tSIZE MB\tUPLOADS\tDESCRIPTION")
			for _, s := range p.Sessions {
				fmt.Fprintf(w, "%s\t%s\t%d\t%.2f\t%d\t%s\n",
					s.SessionID, s.Status, s.TotalFiles, s.TotalSizeMB, s.UploadCount, s.Description)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "page %d of %d, %d sessions\n", p.CurrentPage, p.TotalPages, p.Total)
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&size, "size", 10, "page size")
	return cmd
}

// lookup resolves a session code given as the single argument.
func lookup(cmd *cobra.Command, code string) (*models.Session, error) {
	s, err := backendFrom(cmd).Sessions.GetBySessionID(cmd.Context(), code)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, fmt.Errorf("session %s not found", code)
	}
	return s, err
}

func newStatusCommand(use, short string, apply func(SessionAdmin, context.Context, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " SESSION_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := lookup(cmd, args[0])
			if err != nil {
				return err
			}
			if err := apply(backendFrom(cmd).Sessions, cmd.Context(), s.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s done\n", s.SessionID, use)
			return nil
		},
	}
}

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats SESSION_ID",
		Short: "Show upload statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := lookup(cmd, args[0])
			if err != nil {
				return err
			}
			st, err := backendFrom(cmd).Sessions.GetStats(cmd.Context(), s.ID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "session:   %s (%s)\n", s.SessionID, s.Status)
			fmt.Fprintf(out, "files:     %d\n", st.TotalFiles)
			fmt.Fprintf(out, "size:      %.2f MB\n", st.TotalSizeMB)
			fmt.Fprintf(out, "completed: %d\n", st.SuccessCount)
			fmt.Fprintf(out, "failed:    %d\n", st.FailedCount)
			fmt.Fprintf(out, "pending:   %d\n", st.PendingCount)
			return nil
		},
	}
}

func newRevealCommand() *cobra.Command {
	var admin int64
	cmd := &cobra.Command{
		Use:   "reveal SESSION_ID",
		Short: "Print a session access key, gated by your master key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			master, err := readSecret(cmd.InOrStdin(), cmd.ErrOrStderr(), "Master key: ")
			if err != nil {
				return err
			}
			key, err := backendFrom(cmd).Sessions.RevealAccessKey(cmd.Context(), admin, master, args[0])
			if errors.Is(err, common.ErrorUnauthorized) {
				return errors.New("master key rejected")
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
	cmd.Flags().Int64Var(&admin, "admin", 0, "your admin user id")
	_ = cmd.MarkFlagRequired("admin")
	return cmd
}

func newPurgeCommand() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "purge SESSION_ID",
		Short: "Delete a session, its uploads and its stored files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := lookup(cmd, args[0])
			if err != nil {
				return err
			}
			if !yes {
				fmt.Fprintf(cmd.ErrOrStderr(), "Type %s to confirm: ", s.SessionID)
				answer, err := readLine(cmd.InOrStdin())
				if err != nil || answer != s.SessionID {
					return errors.New("purge cancelled")
				}
			}
			n, err := backendFrom(cmd).Sessions.DeleteSessionAndFiles(cmd.Context(), s.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s purged, %d files removed\n", s.SessionID, n)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")
	return cmd
}
