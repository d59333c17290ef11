package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Iron-Ham/quorum/internal/api"
	"github.com/Iron-Ham/quorum/internal/quorum"
	"github.com/spf13/cobra"
)

var voteCmd = &cobra.Command{
	Use:   "vote [proposal-id]",
	Short: "Cast a validator vote on a proposal",
	Long: `Cast a validator vote on a dispatch proposal.

Name the proposal directly, or use --task to vote on the task's open
proposal. Votes approve unless --reject is given.

Examples:
  quorum vote 3f1c... --validator validator-1
  quorum vote --task render-42 --validator validator-2 --reject`,
	Args: cobra.MaximumNArgs(1),
	RunE: runVote,
}

var voteShowCmd = &cobra.Command{
	Use:   "show <proposal-id>",
	Short: "Show a proposal and its votes",
	Args:  cobra.ExactArgs(1),
	RunE:  runVoteShow,
}

var (
	voteValidator string
	voteTask      string
	voteReject    bool
)

func init() {
	voteCmd.Flags().StringVar(&voteValidator, "validator", "", "validator ID casting the vote")
	voteCmd.Flags().StringVar(&voteTask, "task", "", "vote on this task's open proposal")
	voteCmd.Flags().BoolVar(&voteReject, "reject", false, "vote against the proposal")
	_ = voteCmd.MarkFlagRequired("validator")

	voteCmd.AddCommand(voteShowCmd)
	rootCmd.AddCommand(voteCmd)
}

func runVote(cmd *cobra.Command, args []string) error {
	client := newClient()

	var proposalID string
	switch {
	case len(args) == 1 && voteTask != "":
		return fmt.Errorf("give a proposal ID or --task, not both")
	case len(args) == 1:
		proposalID = args[0]
	case voteTask != "":
		p, err := client.ActiveProposal(cmd.Context(), voteTask)
		if err != nil {
			return err
		}
		proposalID = p.ID
	default:
		return fmt.Errorf("a proposal ID or --task is required")
	}

	state, err := client.Vote(cmd.Context(), proposalID, voteValidator, !voteReject)
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(cmd.OutOrStdout(), api.VoteResponse{ProposalID: proposalID, State: state})
	}
	verb := "approved"
	if voteReject {
		verb = "rejected"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s proposal %s (now %s)\n", voteValidator, verb, proposalID, renderProposalState(state))
	return nil
}

func runVoteShow(cmd *cobra.Command, args []string) error {
	p, err := newClient().Proposal(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(cmd.OutOrStdout(), p)
	}
	printProposal(cmd, p)
	return nil
}

func printProposal(cmd *cobra.Command, p quorum.Proposal) {
	votesFor, votesAgainst := p.Tally()
	fields := [][2]string{
		{"Proposal", p.ID},
		{"Task", p.TaskID},
		{"Worker", p.CandidateWorker},
		{"State", renderProposalState(p.State)},
		{"Votes", fmt.Sprintf("%d for, %d against", votesFor, votesAgainst)},
	}
	if len(p.Votes) > 0 {
		ids := make([]string, 0, len(p.Votes))
		for id, approve := range p.Votes {
			mark := "+"
			if !approve {
				mark = "-"
			}
			ids = append(ids, mark+id)
		}
		sort.Strings(ids)
		fields = append(fields, [2]string{"Ballots", strings.Join(ids, " ")})
	}
	if p.Reason != "" {
		fields = append(fields, [2]string{"Reason", p.Reason})
	}
	printFields(cmd.OutOrStdout(), fields)
}
