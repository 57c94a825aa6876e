package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/joho/godotenv"
	openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"

	"github.com/lorevault/lorevault/internal/config"
	"github.com/lorevault/lorevault/internal/server"
	"github.com/lorevault/lorevault/pkg/embed"
	"github.com/lorevault/lorevault/pkg/gen"
	"github.com/lorevault/lorevault/pkg/lore"
)

var (
	configPath string
	dbPath     string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "lorevault",
	Short: "Knowledge base for narrative lore with semantic retrieval",
	Long: `lorevault manages structured world-building records and retrieves them
by semantic similarity to ground generated text.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the lore HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, store, logger, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		srv := server.New(store, logger)
		logger.Info("serving", "addr", cfg.Server.Addr)
		return http.ListenAndServe(cfg.Server.Addr, srv)
	},
}

var addCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add a lore record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, _ := cmd.Flags().GetString("content")
		tagsStr, _ := cmd.Flags().GetString("tags")
		template, _ := cmd.Flags().GetString("template")

		_, store, _, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		err = store.Create(cmd.Context(), lore.CreateRequest{
			Title:    args[0],
			Content:  content,
			Tags:     splitTags(tagsStr),
			Template: template,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Added %q\n", args[0])
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List lore records, optionally filtered",
	RunE: func(cmd *cobra.Command, args []string) error {
		tagsStr, _ := cmd.Flags().GetString("tags")
		template, _ := cmd.Flags().GetString("template")
		query, _ := cmd.Flags().GetString("query")

		_, store, _, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		records, err := store.Filter(cmd.Context(), lore.FilterOptions{
			Tags:     splitTags(tagsStr),
			Template: template,
			Query:    query,
		})
		if err != nil {
			return err
		}
		for _, rec := range records {
			fmt.Printf("%d\t%s", rec.ID, rec.Title)
			if len(rec.Tags) > 0 {
				fmt.Printf("\t[%s]", strings.Join(rec.Tags, ", "))
			}
			fmt.Println()
		}
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Rank lore records by similarity to a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		topK, _ := cmd.Flags().GetInt("top")

		_, store, _, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		scored, err := store.RelevantRecords(cmd.Context(), strings.Join(args, " "), topK)
		if err != nil {
			return err
		}
		if len(scored) == 0 {
			fmt.Println("No results found")
			return nil
		}
		for _, sr := range scored {
			fmt.Printf("%.4f\t%s\n", sr.Score, sr.Record.Title)
		}
		return nil
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate <prompt>",
	Short: "Generate text grounded in relevant lore",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, store, logger, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		g := newGenerator(cfg, store, logger)
		text, err := g.FromPrompt(cmd.Context(), strings.Join(args, " "), nil)
		if err != nil {
			return err
		}
		fmt.Println(text)
		return nil
	},
}

var suggestCmd = &cobra.Command{
	Use:   "suggest <title> <field>",
	Short: "Suggest content for one field of an entry",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		style, _ := cmd.Flags().GetString("style")
		prompt, _ := cmd.Flags().GetString("prompt")

		cfg, store, logger, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		req := gen.FieldRequest{
			EntryTitle: args[0],
			FieldName:  args[1],
			Style:      style,
			UserPrompt: prompt,
		}
		rec, err := store.GetByTitle(cmd.Context(), args[0])
		if err == nil {
			req.TemplateType = rec.Template
			req.Tags = rec.Tags
			if current, ok := rec.Fields[args[1]].(string); ok {
				req.CurrentContent = current
			}
		} else if !errors.Is(err, lore.ErrNotFound) {
			return err
		}

		g := newGenerator(cfg, store, logger)
		text, err := g.FieldContent(cmd.Context(), req)
		if err != nil {
			return err
		}
		fmt.Println(text)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Bulk-import lore entries from JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		_, store, _, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		result, err := store.Import(cmd.Context(), f)
		if err != nil {
			return err
		}
		fmt.Printf("Imported %d new entries\n", result.Imported)
		if len(result.Skipped) > 0 {
			fmt.Printf("Skipped %d duplicate titles: %s\n", len(result.Skipped), strings.Join(result.Skipped, ", "))
		}
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all lore entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		outPath, _ := cmd.Flags().GetString("output")

		_, store, _, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		out := os.Stdout
		if outPath != "" {
			f, err := os.Create(outPath)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}

		switch format {
		case "json":
			return store.ExportJSON(cmd.Context(), out)
		case "markdown", "md":
			return store.ExportMarkdown(cmd.Context(), out)
		default:
			return fmt.Errorf("unsupported format: %s", format)
		}
	},
}

var reembedCmd = &cobra.Command{
	Use:   "reembed",
	Short: "Recompute every record's embedding from its current content",
	RunE: func(cmd *cobra.Command, args []string) error {
		workers, _ := cmd.Flags().GetInt("workers")

		_, store, _, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := store.Reembed(cmd.Context(), workers)
		if err != nil {
			return err
		}
		fmt.Printf("Reembedded %d records\n", n)
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete every record and setting",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, _, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Clear(cmd.Context()); err != nil {
			return err
		}
		if err := store.ClearSettings(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Store reset")
		return nil
	},
}

var settingCmd = &cobra.Command{
	Use:   "setting get|set <key> [value]",
	Short: "Read or write a project setting",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, _, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		switch args[0] {
		case "get":
			value, err := store.GetSetting(cmd.Context(), args[1], "")
			if err != nil {
				return err
			}
			fmt.Println(value)
			return nil
		case "set":
			if len(args) != 3 {
				return fmt.Errorf("setting set requires a value")
			}
			return store.SetSetting(cmd.Context(), args[1], args[2])
		default:
			return fmt.Errorf("unknown setting action: %s", args[0])
		}
	},
}

// openStore loads configuration and opens an initialized store.
func openStore(ctx context.Context) (*config.Config, *lore.Store, lore.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if dbPath != "" {
		cfg.Storage.Path = dbPath
	}

	logger := lore.NopLogger()
	if verbose {
		logger = lore.NewStdLogger(lore.LevelDebug)
	}

	embedder, err := embed.NewOpenAI(embed.OpenAIConfig{
		APIKey:            cfg.APIKey(),
		Model:             cfg.Embedding.Model,
		MaxInputRunes:     cfg.Embedding.MaxInputRunes,
		MaxRetries:        cfg.Embedding.MaxRetries,
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	store, err := lore.NewWithConfig(lore.Config{
		Path:        cfg.Storage.Path,
		OnDuplicate: lore.DuplicatePolicy(cfg.Storage.OnDuplicate),
		Logger:      logger,
	}, embedder)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, nil, nil, err
	}
	return cfg, store, logger, nil
}

func newGenerator(cfg *config.Config, store *lore.Store, logger lore.Logger) *gen.Generator {
	client := openai.NewClient(cfg.APIKey())
	return gen.New(client, store, gen.Config{
		Model:       cfg.Generation.Model,
		Temperature: cfg.Generation.Temperature,
		MaxTokens:   cfg.Generation.MaxTokens,
		DefaultTopK: cfg.Generation.DefaultTopK,
		RelatedTopK: cfg.Generation.RelatedTopK,
	}, logger)
}

func splitTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var tags []string
	for _, tag := range strings.Split(raw, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "override sqlite database path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	addCmd.Flags().String("content", "", "record content")
	addCmd.Flags().String("tags", "", "comma-separated tags")
	addCmd.Flags().String("template", "", "template name")

	listCmd.Flags().String("tags", "", "comma-separated tags (record must carry all)")
	listCmd.Flags().String("template", "", "exact template match")
	listCmd.Flags().String("query", "", "substring match against title or content")

	searchCmd.Flags().Int("top", 5, "number of results")

	suggestCmd.Flags().String("style", "", "style directive")
	suggestCmd.Flags().String("prompt", "", "additional user direction")

	exportCmd.Flags().String("format", "json", "export format: json or markdown")
	exportCmd.Flags().StringP("output", "o", "", "output file (default stdout)")

	reembedCmd.Flags().Int("workers", 4, "concurrent embedding calls")

	rootCmd.AddCommand(serveCmd, addCmd, listCmd, searchCmd, generateCmd, suggestCmd,
		importCmd, exportCmd, reembedCmd, resetCmd, settingCmd)
}

func main() {
	// Load .env if present, for the provider API key.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
