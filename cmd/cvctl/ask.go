package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mdad-elec/cv-analysis-system/internal/processor"
)

var flagAskFollowUp string

var askCmd = &cobra.Command{
	Use:   "ask <question> <file>...",
	Short: "Answer a question about one or more CVs",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().StringVar(&flagAskFollowUp, "conversation", "", "File holding the previous conversation (User:/Assistant: lines)")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	p, err := newPipeline(ctx, cfg, true)
	if err != nil {
		return err
	}
	profiles, err := p.parseAll(ctx, args[1:])
	if err != nil {
		return err
	}
	pool := processor.NewProfilePool()
	pool.Replace(profiles)
	if err := p.index.Build(pool.Profiles()); err != nil {
		fmt.Fprintf(os.Stderr, "warning: index not built: %v\n", err)
	}

	answerer := processor.BuildAnswerer(p.chat, cfg, p.index, p.processor.Resolver())
	svc := processor.NewQueryService(answerer, pool, nil)

	question := args[0]
	if flagAskFollowUp != "" {
		conversation, err := os.ReadFile(flagAskFollowUp)
		if err != nil {
			return err
		}
		r, err := svc.FollowUp(ctx, question, string(conversation), nil)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), r.Response)
		return nil
	}

	r, err := svc.Query(ctx, question, nil)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), r.Response)
	return nil
}
