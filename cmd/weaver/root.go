package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"weaver/internal/config"
	"weaver/internal/engine"
	"weaver/internal/feedback"
	"weaver/internal/logging"
	"weaver/internal/ports"
	"weaver/internal/profile"
	"weaver/internal/providers"
	"weaver/internal/registry"
	"weaver/internal/tokenutil"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// CLI holds the command line interface state.
type CLI struct {
	engine  *engine.Engine
	cfg     config.Config
	dataDir string
	debug   bool

	profileStore  *profile.SQLiteStore
	feedbackStore *feedback.SQLiteStore
}

// NewRootCommand creates the root cobra command.
func NewRootCommand() *cobra.Command {
	cli := &CLI{}

	rootCmd := &cobra.Command{
		Use:   "weaver",
		Short: "Context composition engine",
		Long: fmt.Sprintf(`%s assembles bounded model contexts from reusable knowledge
modules, conversation history, and user profiles, under a strict token
budget.

%s
  weaver modules add modules.yaml       # register knowledge modules
  weaver compose "how do I deploy?"     # compose a context for a query
  weaver compose -m claude-3 "..."      # target a specific model family
  weaver feedback go-style --score 0.8  # record module feedback
  weaver stats                          # engine counters
  weaver tokens "some text"             # count tokens`,
			bold("weaver"), bold("EXAMPLES:")),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().BoolVarP(&cli.debug, "debug", "d", false, "Debug logging")
	rootCmd.PersistentFlags().StringVar(&cli.dataDir, "data-dir", "", "Data directory (default $HOME/.weaver)")
	rootCmd.PersistentFlags().String("config", "", "Config file (default weaver.yaml in . or $HOME/.weaver)")

	viper.SetConfigName("weaver")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.weaver")
	viper.SetEnvPrefix("WEAVER")
	viper.AutomaticEnv()

	rootCmd.AddCommand(newComposeCommand(cli))
	rootCmd.AddCommand(newModulesCommand(cli))
	rootCmd.AddCommand(newFeedbackCommand(cli))
	rootCmd.AddCommand(newStatsCommand(cli))
	rootCmd.AddCommand(newTokensCommand())

	return rootCmd
}

// initialize loads configuration, opens the stores under the data dir, and
// builds the engine with every module from the manifest registered.
func (c *CLI) initialize(cmd *cobra.Command) error {
	cfg, err := c.loadConfig(cmd)
	if err != nil {
		return err
	}
	c.cfg = cfg

	if c.dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home directory: %w", err)
		}
		c.dataDir = filepath.Join(home, ".weaver")
	}
	if err := os.MkdirAll(c.dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	var logger logging.Logger
	if c.debug {
		logger = logging.NewComponentLogger("weaver")
	}

	ctx := cmd.Context()

	profileStore, err := profile.OpenSQLiteStore(ctx, filepath.Join(c.dataDir, "profiles.db"))
	if err != nil {
		return fmt.Errorf("open profile store: %w", err)
	}
	c.profileStore = profileStore

	feedbackStore, err := feedback.OpenSQLiteStore(ctx, filepath.Join(c.dataDir, "feedback.db"))
	if err != nil {
		return fmt.Errorf("open feedback store: %w", err)
	}
	c.feedbackStore = feedbackStore

	var embedder ports.EmbeddingProvider
	var summarizer ports.Summarizer
	var index *registry.EmbeddingIndex
	if apiKey := viper.GetString("openai_api_key"); apiKey != "" {
		embedder = providers.NewOpenAIEmbedder(providers.EmbedderConfig{
			APIKey:  apiKey,
			BaseURL: viper.GetString("openai_base_url"),
			Model:   viper.GetString("embedding_model"),
		}, logger)
		summarizer = providers.NewOpenAISummarizer(providers.SummarizerConfig{
			APIKey:  apiKey,
			BaseURL: viper.GetString("openai_base_url"),
			Model:   viper.GetString("summary_model"),
		}, logger)
		index, err = registry.NewEmbeddingIndex(registry.EmbeddingIndexConfig{
			PersistPath: filepath.Join(c.dataDir, "embeddings"),
		})
		if err != nil {
			return fmt.Errorf("open embedding index: %w", err)
		}
	} else {
		fmt.Fprintln(os.Stderr, gray("no openai_api_key configured; retrieval runs filter-only"))
	}

	rules, err := loadRules(filepath.Join(c.dataDir, "rules.yaml"))
	if err != nil {
		return err
	}

	eng, err := engine.New(ctx, cfg, engine.Options{
		Tokenizer:      tokenutil.Default(),
		Embedder:       embedder,
		Summarizer:     summarizer,
		ProfileStore:   profileStore,
		FeedbackStore:  feedbackStore,
		EmbeddingIndex: index,
		Rules:          rules,
		SystemText:     viper.GetString("system_text"),
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	c.engine = eng

	manifest, err := loadManifest(c.manifestPath())
	if err != nil {
		return err
	}
	for _, m := range manifest.Modules {
		if _, err := eng.RegisterModule(ctx, m.ID, m.Content, m.Metadata()); err != nil {
			return fmt.Errorf("register module %s: %w", m.ID, err)
		}
	}
	return nil
}

func (c *CLI) loadConfig(cmd *cobra.Command) (config.Config, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return config.Load(path)
	}
	if err := viper.ReadInConfig(); err == nil {
		return config.Load(viper.ConfigFileUsed())
	}
	return config.Default(), nil
}

func (c *CLI) manifestPath() string {
	return filepath.Join(c.dataDir, "modules.yaml")
}

// close releases the SQLite handles. Safe on a partially initialized CLI.
func (c *CLI) close() {
	if c.profileStore != nil {
		_ = c.profileStore.Close()
	}
	if c.feedbackStore != nil {
		_ = c.feedbackStore.Close()
	}
}
