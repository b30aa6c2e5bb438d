package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/runninghub-studio/studio/internal/store"
	"github.com/spf13/cobra"
)

func formatMillis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Format("2006-01-02 15:04:05")
}

func newHistoryCmd(a *app) *cobra.Command {
	var clearAll bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List generated results of the current account",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.store()
			if err != nil {
				return err
			}
			acct, err := account(st)
			if err != nil {
				return err
			}
			if clearAll {
				return st.History.Clear(acct)
			}
			items, err := st.History.List(acct)
			if err != nil {
				return err
			}
			if done, err := printStructured(cmd.OutOrStdout(), a.output, items); done {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTIME\tSUMMARY\tURL")
			for _, it := range items {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", it.ID, formatMillis(it.Timestamp), it.Analysis.Summary, it.GeneratedURL)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&clearAll, "clear", false, "delete the history instead of listing it")
	return cmd
}

func newJobsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List render jobs of the current account",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.store()
			if err != nil {
				return err
			}
			acct, err := account(st)
			if err != nil {
				return err
			}
			jobs, err := st.Jobs.List(acct)
			if err != nil {
				return err
			}
			if done, err := printStructured(cmd.OutOrStdout(), a.output, jobs); done {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "JOB\tKIND\tSTATUS\tCREATED\tDETAIL")
			for _, j := range jobs {
				detail := j.StatusText
				if j.ResultURL != "" {
					detail = j.ResultURL
				} else if j.ErrorMessage != "" {
					detail = j.ErrorMessage
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", j.JobID, j.Kind, j.Status, formatMillis(j.CreatedAt), detail)
			}
			return w.Flush()
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "remove JOB_ID",
		Short: "Forget one render job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.store()
			if err != nil {
				return err
			}
			acct, err := account(st)
			if err != nil {
				return err
			}
			return st.Jobs.Remove(acct, args[0])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Forget every render job",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.store()
			if err != nil {
				return err
			}
			acct, err := account(st)
			if err != nil {
				return err
			}
			return st.Jobs.Clear(acct)
		},
	})
	return cmd
}

func newPointsCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "points",
		Short: "Show the points balance and ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.store()
			if err != nil {
				return err
			}
			acct, err := account(st)
			if err != nil {
				return err
			}
			balance, err := st.Points.Balance(acct)
			if err != nil {
				return err
			}
			ledger, err := st.Points.Ledger(acct, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			summary := struct {
				Account string             `json:"account"`
				Balance int                `json:"balance"`
				Ledger  []store.LedgerItem `json:"ledger"`
			}{acct, balance, ledger}
			if done, err := printStructured(out, a.output, summary); done {
				return err
			}
			fmt.Fprintf(out, "account: %s\nbalance: %d\n", acct, balance)
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, it := range ledger {
				sign := "+"
				if it.Type == store.LedgerSpend {
					sign = "-"
				}
				fmt.Fprintf(w, "%s\t%s%d\t%s\n", formatMillis(it.Timestamp), sign, it.Amount, it.Title)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "ledger entries to show")

	cmd.AddCommand(&cobra.Command{
		Use:   "claim",
		Short: "Claim the one-time newbie pack",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.store()
			if err != nil {
				return err
			}
			acct, err := account(st)
			if err != nil {
				return err
			}
			ok, err := st.Points.ClaimNewbiePack(acct)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("newbie pack already claimed for %s", acct)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "+%d points\n", store.NewbiePackBonus)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Reset points of every account",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.store()
			if err != nil {
				return err
			}
			return st.Points.ResetAll()
		},
	})
	return cmd
}

func newLoginCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with a demo account",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "wechat",
		Short: "Sign in as the WeChat demo user",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.store()
			if err != nil {
				return err
			}
			u, err := st.Auth.LoginWeChat()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s\n", u.DisplayName)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "phone NUMBER",
		Short: "Sign in with a mainland mobile number",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.store()
			if err != nil {
				return err
			}
			phone := ""
			for _, part := range args {
				phone += part
			}
			u, err := st.Auth.LoginPhone(phone)
			if err != nil {
				return err
			}
			if u == nil {
				return fmt.Errorf("invalid phone number %q", phone)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s\n", u.DisplayName)
			return nil
		},
	})
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and continue as guest",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.store()
			if err != nil {
				return err
			}
			return st.Auth.Logout()
		},
	}
}
