package app

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
	"github.com/ggonzalez94/defi-agent/internal/execution"
	"github.com/ggonzalez94/defi-agent/internal/registry"
)

type tokenView struct {
	registry.Token
	Aliases []string `json:"aliases,omitempty"`
}

func (s *runtimeState) newTokensCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tokens",
		Short: "List tradable tokens on the configured chain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens, err := s.tokens()
			if err != nil {
				return err
			}
			byCanonical := map[string][]string{}
			for alias, canonical := range tokens.Aliases() {
				byCanonical[canonical] = append(byCanonical[canonical], alias)
			}
			items := make([]tokenView, 0)
			for _, tok := range tokens.All() {
				items = append(items, tokenView{Token: tok, Aliases: byCanonical[tok.Canonical]})
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), items, nil)
		},
	}
}

func (s *runtimeState) newParseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <message>",
		Short: "Extract a swap intent from free text without quoting it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens, err := s.tokens()
			if err != nil {
				return err
			}
			text := strings.Join(args, " ")
			intent, ok := s.newInterpreter(tokens).Parse(cmd.Context(), text)
			if !ok {
				return clierr.New(clierr.CodeIntentParseFailure, "no swap intent found in message")
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), intent, nil)
		},
	}
}

func (s *runtimeState) newQuoteCommand() *cobra.Command {
	var from, to, amount string
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Price a swap without executing it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens, err := s.tokens()
			if err != nil {
				return err
			}
			client, err := s.dialChain(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()
			svc, err := s.newQuoteService(tokens, client)
			if err != nil {
				return err
			}
			q, ok, err := svc.GetQuote(cmd.Context(), from, to, amount)
			if err != nil {
				return err
			}
			if !ok {
				return clierr.New(clierr.CodeNoQuoteAvailable, fmt.Sprintf("no route available for %s -> %s", from, to))
			}
			var warnings []string
			if !q.Binding() {
				warnings = append(warnings, "estimated quote: indicative only, it cannot be executed")
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), q, warnings)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Token to sell")
	cmd.Flags().StringVar(&to, "to", "", "Token to buy")
	cmd.Flags().StringVar(&amount, "amount", "", "Decimal amount of the token to sell")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func (s *runtimeState) newSwapsCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "swaps",
		Short: "Inspect the local swap journal",
	}

	var state string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent swaps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			journal, err := s.openJournal()
			if err != nil {
				return err
			}
			records, err := journal.List(strings.ToLower(strings.TrimSpace(state)), limit)
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "list swaps", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), records, nil)
		},
	}
	list.Flags().StringVar(&state, "state", "", "Filter by terminal state (settled, failed, cancelled)")
	list.Flags().IntVar(&limit, "limit", 20, "Maximum swaps to return")

	show := &cobra.Command{
		Use:   "show <swap-id>",
		Short: "Show one journaled swap",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			journal, err := s.openJournal()
			if err != nil {
				return err
			}
			rec, err := journal.Get(strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), rec, nil)
		},
	}

	status := &cobra.Command{
		Use:   "status <tx-hash>",
		Short: "Look up the on-chain status of a submitted transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := s.dialChain(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()
			exec := execution.NewExecutor(client, s.settings.ChainID, s.executionOptions(), s.log)
			st, err := exec.TxStatus(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			var warnings []string
			if st.Status == execution.TxStatusPending {
				warnings = append(warnings, "transaction not yet mined; check again later")
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), st, warnings)
		},
	}

	root.AddCommand(list)
	root.AddCommand(show)
	root.AddCommand(status)
	return root
}
