package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"weaver/internal/engine"
	"weaver/internal/feedback"
	"weaver/internal/registry"
	"weaver/internal/tokenutil"
)

func newComposeCommand(cli *CLI) *cobra.Command {
	var (
		model        string
		conversation string
		user         string
		domain       string
		tags         []string
		showSections bool
		asJSON       bool
	)
	cmd := &cobra.Command{
		Use:   "compose <query>",
		Short: "Compose a bounded context for a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.initialize(cmd); err != nil {
				return err
			}
			defer cli.close()

			composed, err := cli.engine.Compose(cmd.Context(), engine.Request{
				Query:          strings.Join(args, " "),
				ConversationID: conversation,
				UserID:         user,
				TargetModel:    model,
				Filters: registry.Filters{
					Domain: domain,
					Tags:   tags,
				},
			})
			if err != nil {
				fmt.Fprintln(os.Stderr, red("compose failed: ")+err.Error())
				return err
			}

			if asJSON {
				return json.NewEncoder(os.Stdout).Encode(composed)
			}
			if showSections {
				for _, section := range composed.Sections {
					fmt.Printf("%s %s\n", cyan(string(section.Name)), gray(fmt.Sprintf("(%d tokens)", section.TokenCount)))
				}
				fmt.Println()
			}
			fmt.Println(composed.Rendered)
			status := fmt.Sprintf("adapter=%s tokens=%d modules=%d", composed.AdapterName, composed.TotalTokens, len(composed.ModuleIDs))
			if composed.Degraded {
				status += " " + yellow("(degraded)")
			}
			fmt.Fprintln(os.Stderr, gray(status))
			return nil
		},
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", "Target model family (picks the format adapter)")
	cmd.Flags().StringVarP(&conversation, "conversation", "c", "", "Conversation id")
	cmd.Flags().StringVarP(&user, "user", "u", "", "User id for profile personalization")
	cmd.Flags().StringVar(&domain, "domain", "", "Restrict retrieval to a domain")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Require a module tag (repeatable)")
	cmd.Flags().BoolVar(&showSections, "sections", false, "Print the per-section token breakdown")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the composed context as JSON")
	return cmd
}

func newModulesCommand(cli *CLI) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "modules",
		Short: "Manage the knowledge module manifest",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <manifest.yaml>",
		Short: "Add or replace modules from a YAML manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.initialize(cmd); err != nil {
				return err
			}
			defer cli.close()

			incoming, err := loadManifest(args[0])
			if err != nil {
				return err
			}
			// Register first so invalid modules never reach the manifest.
			for _, m := range incoming.Modules {
				if _, err := cli.engine.RegisterModule(cmd.Context(), m.ID, m.Content, m.Metadata()); err != nil {
					return fmt.Errorf("register module %s: %w", m.ID, err)
				}
			}

			manifest, err := loadManifest(cli.manifestPath())
			if err != nil {
				return err
			}
			added, replaced := manifest.merge(incoming)
			if err := saveManifest(cli.manifestPath(), manifest); err != nil {
				return err
			}
			fmt.Println(green(fmt.Sprintf("added %d, replaced %d (total %d)", added, replaced, len(manifest.Modules))))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rm <id>",
		Short: "Remove a module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.initialize(cmd); err != nil {
				return err
			}
			defer cli.close()

			id := args[0]
			cli.engine.RemoveModule(id)
			manifest, err := loadManifest(cli.manifestPath())
			if err != nil {
				return err
			}
			if !manifest.remove(id) {
				fmt.Println(yellow("module not found: ") + id)
				return nil
			}
			if err := saveManifest(cli.manifestPath(), manifest); err != nil {
				return err
			}
			fmt.Println(green("removed ") + id)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered modules",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.initialize(cmd); err != nil {
				return err
			}
			defer cli.close()

			modules := cli.engine.Modules()
			if len(modules) == 0 {
				fmt.Println(gray("no modules registered"))
				return nil
			}
			for _, m := range modules {
				line := fmt.Sprintf("%s  %s  %d tokens", bold(m.ID), m.Metadata.Priority, m.TokenCount)
				if m.Metadata.Domain != "" {
					line += gray("  domain=" + m.Metadata.Domain)
				}
				if len(m.Metadata.Tags) > 0 {
					line += gray("  tags=" + strings.Join(m.Metadata.Tags, ","))
				}
				fmt.Println(line)
			}
			return nil
		},
	})

	return cmd
}

func newFeedbackCommand(cli *CLI) *cobra.Command {
	var (
		score   float64
		comment string
		model   string
	)
	cmd := &cobra.Command{
		Use:   "feedback <module-id>",
		Short: "Record relevance feedback for a module",
		Long: `Record relevance feedback for a module. Score is in [-1, 1]; when no
score is given the comment's sentiment is used instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.initialize(cmd); err != nil {
				return err
			}
			defer cli.close()

			err := cli.engine.RecordFeedback(cmd.Context(), feedback.Entry{
				ModuleID: args[0],
				Score:    score,
				Comment:  comment,
				Model:    model,
			})
			if err != nil {
				return err
			}
			fmt.Println(green("feedback recorded for ") + args[0])
			return nil
		},
	}
	cmd.Flags().Float64VarP(&score, "score", "s", 0, "Explicit score in [-1, 1]")
	cmd.Flags().StringVar(&comment, "comment", "", "Free-text comment (sentiment-scored when no score)")
	cmd.Flags().StringVarP(&model, "model", "m", "", "Target model in use")
	return cmd
}

func newStatsCommand(cli *CLI) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show engine counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.initialize(cmd); err != nil {
				return err
			}
			defer cli.close()

			stats := cli.engine.Stats()
			if asJSON {
				return json.NewEncoder(os.Stdout).Encode(stats)
			}
			fmt.Printf("%s %d\n", bold("modules:"), stats.ModuleCount)
			fmt.Printf("%s %d\n", bold("token cap:"), stats.TotalTokenCap)
			fmt.Printf("%s %d (%d degraded)\n", bold("compositions:"), stats.ComposeCount, stats.DegradedCount)
			fmt.Printf("%s %.0f\n", bold("avg tokens:"), stats.AvgTokens)
			fmt.Printf("%s %.1f%%\n", bold("cache hit rate:"), stats.CacheHitRate*100)
			if stats.EmbedderState != "" {
				fmt.Printf("%s %s\n", bold("embedder circuit:"), stats.EmbedderState)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit stats as JSON")
	return cmd
}

func newTokensCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tokens [text]",
		Short: "Count tokens in text (reads stdin when no argument)",
		RunE: func(cmd *cobra.Command, args []string) error {
			var text string
			if len(args) > 0 {
				text = strings.Join(args, " ")
			} else {
				var sb strings.Builder
				scanner := bufio.NewScanner(os.Stdin)
				scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
				for scanner.Scan() {
					sb.WriteString(scanner.Text())
					sb.WriteString("\n")
				}
				if err := scanner.Err(); err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				text = sb.String()
			}
			fmt.Println(tokenutil.Default().CountTokens(text))
			return nil
		},
	}
}
