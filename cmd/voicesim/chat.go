package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/MrWong99/voicesim/internal/config"
	"github.com/MrWong99/voicesim/internal/simapi"
)

// REPL commands.
const (
	cmdQuit    = "/quit"
	cmdExit    = "/exit"
	cmdNew     = "/new"
	cmdAnalyze = "/analyze"
)

// newAPIClient builds the REST client described by cfg.
func newAPIClient(cfg *config.Config) (*simapi.Client, error) {
	return simapi.New(simapi.Config{
		BaseURL:           cfg.API.BaseURL,
		APIKey:            cfg.API.APIKey,
		UserID:            cfg.API.UserID,
		CounterpartUserID: cfg.API.CounterpartUserID,
	}, simapi.WithTimeout(cfg.API.RequestTimeout))
}

func newChatCmd(g *globalFlags) *cobra.Command {
	var conversationID string
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Run a text role-play",
		Long: `chat sends a single message when one is given and prints the reply.
Without a message it reads lines from stdin. In that mode the following
commands are understood:

  /analyze  analyse the current conversation
  /new      start a new conversation
  /quit     leave`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(config.ModeSimulation)
			if err != nil {
				return err
			}
			client, err := newAPIClient(cfg)
			if err != nil {
				return err
			}
			c := &simulationChat{
				client:         client,
				simulationType: string(cfg.Simulation.Type),
				conversationID: conversationID,
				out:            cmd.OutOrStdout(),
			}
			if len(args) == 1 {
				return c.send(cmd.Context(), args[0])
			}
			return c.repl(cmd.Context(), cmd.InOrStdin())
		},
	}
	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "continue an existing conversation")
	return cmd
}

// simulationChat is one text role-play. It remembers the conversation id
// the service assigns.
type simulationChat struct {
	client         *simapi.Client
	simulationType string
	conversationID string
	out            io.Writer
}

func (c *simulationChat) send(ctx context.Context, message string) error {
	resp, err := c.client.SendSimulationMessage(ctx, message, c.simulationType, c.conversationID)
	if err != nil {
		return err
	}
	if resp.Scenario != nil {
		writeScenario(c.out, resp.Scenario)
	}
	if resp.ConversationID != "" && resp.ConversationID != c.conversationID {
		c.conversationID = resp.ConversationID
		fmt.Fprintf(c.out, "conversation: %s\n", c.conversationID)
	}
	fmt.Fprintf(c.out, "%s: %s\n", speakerName(resp.Scenario), resp.Message)
	return nil
}

func (c *simulationChat) repl(ctx context.Context, in io.Reader) error {
	return readLines(ctx, in, func(line string) (bool, error) {
		switch line {
		case cmdQuit, cmdExit:
			return false, nil
		case cmdNew:
			c.conversationID = ""
			fmt.Fprintln(c.out, "new conversation")
			return true, nil
		case cmdAnalyze:
			res, err := c.client.Analyze(ctx, c.conversationID)
			if err != nil {
				fmt.Fprintf(c.out, "error: %v\n", err)
				return true, nil
			}
			return true, simapi.WriteReport(c.out, res)
		}
		if err := c.send(ctx, line); err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
		return true, nil
	})
}

// speakerName labels counterpart replies with the scenario contact when known.
func speakerName(sc *simapi.SimulationScenario) string {
	if name := sc.ContactField("name"); name != "" {
		return name
	}
	return "counterpart"
}

// writeScenario prints the role-play brief.
func writeScenario(w io.Writer, sc *simapi.SimulationScenario) {
	if sc.Title != "" {
		fmt.Fprintf(w, "== %s ==\n", sc.Title)
	}
	name, role := sc.ContactField("name"), sc.ContactField("role")
	switch {
	case name != "" && role != "":
		fmt.Fprintf(w, "Contact: %s, %s\n", name, role)
	case name != "":
		fmt.Fprintf(w, "Contact: %s\n", name)
	}
	if sc.Context != "" {
		fmt.Fprintf(w, "Context: %s\n", sc.Context)
	}
	if len(sc.Objectives) > 0 {
		fmt.Fprintln(w, "Objectives:")
		for _, o := range sc.Objectives {
			fmt.Fprintf(w, "  - %s\n", o)
		}
	}
	if len(sc.EvaluationCriteria) > 0 {
		fmt.Fprintln(w, "Evaluated on:")
		for _, c := range sc.EvaluationCriteria {
			fmt.Fprintf(w, "  - %s: %s\n", simapi.ScoreLabel(c.Criterion), c.Description)
		}
	}
	fmt.Fprintln(w)
}

func newClassicCmd(g *globalFlags) *cobra.Command {
	var conversationID string
	cmd := &cobra.Command{
		Use:   "classic [message]",
		Short: "Talk to the classic chatbot",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(config.ModeChat)
			if err != nil {
				return err
			}
			client, err := newAPIClient(cfg)
			if err != nil {
				return err
			}
			if conversationID == "" {
				conversationID = uuid.NewString()
			}
			out := cmd.OutOrStdout()
			send := func(ctx context.Context, message string) error {
				reply, err := client.SendClassicChat(ctx, message, conversationID)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "bot: %s\n", reply)
				return nil
			}

			if len(args) == 1 {
				return send(cmd.Context(), args[0])
			}
			return readLines(cmd.Context(), cmd.InOrStdin(), func(line string) (bool, error) {
				if line == cmdQuit || line == cmdExit {
					return false, nil
				}
				if err := send(cmd.Context(), line); err != nil {
					fmt.Fprintf(out, "error: %v\n", err)
				}
				return true, nil
			})
		},
	}
	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "user conversation id (default: a new random id)")
	return cmd
}

func newAnalyzeCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <conversation-id>",
		Short: "Score a finished conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(config.ModeAnalysis)
			if err != nil {
				return err
			}
			client, err := newAPIClient(cfg)
			if err != nil {
				return err
			}
			res, err := client.Analyze(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return simapi.WriteReport(cmd.OutOrStdout(), res)
		},
	}
}

// readLines calls handle with each non-empty, trimmed line of in until in is
// exhausted, ctx is cancelled, or handle returns false or an error.
func readLines(ctx context.Context, in io.Reader, handle func(line string) (bool, error)) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			more, err := handle(line)
			if err != nil || !more {
				return err
			}
		}
	}
}
