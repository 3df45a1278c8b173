package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/kura/internal/cli"
	"github.com/hyperjump/kura/internal/config"
	"github.com/hyperjump/kura/internal/models"
	"github.com/hyperjump/kura/internal/search"
	"github.com/hyperjump/kura/internal/server"
	"github.com/hyperjump/kura/internal/watcher"
	"github.com/hyperjump/kura/pkg/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	debug      bool
	output     string
}

func (o *rootOptions) format() cli.OutputFormat {
	if o.output == string(cli.OutputJSON) {
		return cli.OutputJSON
	}
	return cli.OutputText
}

// setup loads config and builds a logger. The logger must be synced by the caller.
func (o *rootOptions) setup() (*config.Config, *zap.Logger, error) {
	cfg, path, err := loadConfig(o.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	debug := cfg.Debug || o.debug
	logOpts := utils.LogOptions{Debug: debug}
	if o.format() == cli.OutputJSON {
		logOpts.Format = utils.LogFormatJSON
	}
	logger, err := utils.NewLogger(logOpts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("config loaded", zap.String("config_path", path), zap.Bool("debug", debug))
	return cfg, logger, nil
}

// withComponents runs fn against freshly initialized components and closes them after.
func (o *rootOptions) withComponents(ctx context.Context, fn func(*Components, *zap.Logger) error) error {
	cfg, logger, err := o.setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	c, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c, logger)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "kura",
		Short:         "Ingest documents, media and web pages into a searchable knowledge store",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfigPath, "config file path")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", "text", "output format: text or json")

	root.AddCommand(
		newIngestCmd(opts),
		newServeCmd(opts),
		newWatchCmd(opts),
		newSourceCmd(opts),
		newTransformCmd(opts),
		newTransformationCmd(opts),
		newEmbedCmd(opts),
		newSearchCmd(opts),
		newVersionCmd(),
	)
	return root
}

type ingestFlags struct {
	content         string
	title           string
	notebook        string
	embed           bool
	defaults        bool
	deleteSource    bool
	transformations []string
}

// ingestRequest builds a request from the positional argument and flags. A URL argument is
// fetched, "-" reads content from stdin, anything else is a file path.
func ingestRequest(arg string, f ingestFlags, stdin io.Reader) (*models.IngestRequest, error) {
	req := &models.IngestRequest{
		Content:           f.content,
		Title:             f.title,
		NotebookID:        f.notebook,
		Embed:             f.embed,
		ApplyDefaults:     f.defaults,
		DeleteSource:      f.deleteSource,
		TransformationIDs: f.transformations,
	}
	switch {
	case arg == "":
	case arg == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		req.Content = string(b)
	case strings.HasPrefix(arg, "http://"), strings.HasPrefix(arg, "https://"):
		req.URL = arg
	default:
		req.FilePath = arg
	}
	return req, nil
}

func newIngestCmd(opts *rootOptions) *cobra.Command {
	var f ingestFlags
	cmd := &cobra.Command{
		Use:   "ingest [file | url | -]",
		Short: "Extract a file, URL or text and store it as a source",
		Example: `  kura ingest report.pdf --embed
  kura ingest https://www.youtube.com/watch?v=dQw4w9WgXcQ -t summary
  kura ingest s3://bucket/meeting.m4a --defaults
  echo "notes" | kura ingest - --title "Standup"
  kura ingest --content "pasted text"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var arg string
			if len(args) == 1 {
				arg = args[0]
			}
			req, err := ingestRequest(arg, f, cmd.InOrStdin())
			if err != nil {
				return err
			}
			return opts.withComponents(cmd.Context(), func(c *Components, _ *zap.Logger) error {
				res, err := c.Service.Ingest(cmd.Context(), req)
				if err != nil {
					return err
				}
				return cli.WriteIngestResult(cmd.OutOrStdout(), server.NewIngestResponse(res), opts.format())
			})
		},
	}
	cmd.Flags().StringVar(&f.content, "content", "", "ingest this text instead of a file or URL")
	cmd.Flags().StringVar(&f.title, "title", "", "source title (overrides the extracted one)")
	cmd.Flags().StringVar(&f.notebook, "notebook", "", "notebook to link the source to")
	cmd.Flags().BoolVar(&f.embed, "embed", false, "chunk and embed the extracted text")
	cmd.Flags().BoolVar(&f.defaults, "defaults", false, "apply the default transformations")
	cmd.Flags().BoolVar(&f.deleteSource, "delete-source", false, "delete the input file after extraction")
	cmd.Flags().StringSliceVarP(&f.transformations, "transform", "t", nil, "transformation IDs to apply")
	return cmd
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the watched inbox directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return opts.withComponents(ctx, func(c *Components, logger *zap.Logger) error {
				cfg := c.Config
				if len(cfg.Watch.Directories) > 0 {
					inbox := watcher.New(cfg.Watch, c.Service, watcher.WithLogger(logger))
					if err := inbox.Start(ctx); err != nil {
						return fmt.Errorf("failed to start watcher: %w", err)
					}
					defer inbox.Stop()
					inbox.SyncExisting()
				}

				srv := server.NewServer(c.Service, c.Storage, cfg, logger,
					server.WithKeywordIndex(c.Keyword, c.Suggester),
					server.WithUploadDir(tempDir(cfg)))
				errCh := make(chan error, 1)
				go func() { errCh <- srv.Start() }()

				select {
				case err := <-errCh:
					return fmt.Errorf("server failed: %w", err)
				case <-ctx.Done():
				}
				logger.Info("Shutting down...")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Stop(shutdownCtx)
			})
		},
	}
}

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var (
		dirs     []string
		notebook string
		embed    bool
	)
	cmd := &cobra.Command{
		Use:   "watch [dir...]",
		Short: "Ingest files dropped into inbox directories until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return opts.withComponents(ctx, func(c *Components, logger *zap.Logger) error {
				wc := c.Config.Watch
				if dirs = append(dirs, args...); len(dirs) > 0 {
					wc.Directories = dirs
				}
				if len(wc.Directories) == 0 {
					return models.NewInvalidInput("no directories to watch")
				}
				if notebook != "" {
					wc.NotebookID = notebook
				}
				if cmd.Flags().Changed("embed") {
					wc.Embed = embed
				}
				inbox := watcher.New(wc, c.Service, watcher.WithLogger(logger))
				if err := inbox.Start(ctx); err != nil {
					return fmt.Errorf("failed to start watcher: %w", err)
				}
				defer inbox.Stop()
				inbox.SyncExisting()
				fmt.Fprintf(cmd.OutOrStdout(), "Watching %s\n", strings.Join(inbox.Directories(), ", "))
				<-ctx.Done()
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&dirs, "dir", nil, "directory to watch (repeatable)")
	cmd.Flags().StringVar(&notebook, "notebook", "", "notebook to link ingested sources to")
	cmd.Flags().BoolVar(&embed, "embed", false, "embed ingested sources")
	return cmd
}

func newSourceCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "source",
		Short: "Inspect and delete stored sources",
	}
	var offset, limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List stored sources, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withComponents(cmd.Context(), func(c *Components, _ *zap.Logger) error {
				sources, err := c.Storage.ListSources(cmd.Context(), offset, limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.format() == cli.OutputJSON {
					if sources == nil {
						sources = []*models.Source{}
					}
					return writeJSON(out, sources)
				}
				for _, s := range sources {
					fmt.Fprintf(out, "%s  %s  %s\n", s.ID, s.CreatedAt.Format(time.DateTime), s.Title)
				}
				return nil
			})
		},
	}
	list.Flags().IntVar(&offset, "offset", 0, "number of sources to skip")
	list.Flags().IntVar(&limit, "limit", 50, "maximum number of sources")

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a source and its insights",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withComponents(cmd.Context(), func(c *Components, _ *zap.Logger) error {
				src, err := c.Storage.GetSource(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				insights, err := c.Storage.ListInsights(cmd.Context(), src.ID)
				if err != nil {
					return err
				}
				return cli.WriteSource(cmd.OutOrStdout(), src, insights, opts.format())
			})
		},
	}
	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a source with its insights and chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withComponents(cmd.Context(), func(c *Components, _ *zap.Logger) error {
				if err := c.Service.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Source deleted: %s\n", args[0])
				return nil
			})
		},
	}
	cmd.AddCommand(list, get, del)
	return cmd
}

func newTransformCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "transform <source-id> <transformation-id>...",
		Short: "Run transformations against a stored source",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withComponents(cmd.Context(), func(c *Components, _ *zap.Logger) error {
				batch, err := c.Service.Transform(cmd.Context(), args[0], args[1:])
				if err != nil {
					return err
				}
				src, err := c.Storage.GetSource(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				resp := &server.IngestResponse{Source: src, Insights: batch.Insights()}
				for _, r := range batch.Failed() {
					resp.Failed = append(resp.Failed, server.FailedUnit{ID: r.Transformation.ID, Title: r.Transformation.Title, Error: r.Err.Error()})
				}
				return cli.WriteIngestResult(cmd.OutOrStdout(), resp, opts.format())
			})
		},
	}
}

func newTransformationCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "transformation",
		Aliases: []string{"transformations"},
		Short:   "Manage transformation prompts",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List transformations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withComponents(cmd.Context(), func(c *Components, _ *zap.Logger) error {
				ts, err := c.Storage.ListTransformations(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.format() == cli.OutputJSON {
					if ts == nil {
						ts = []*models.Transformation{}
					}
					return writeJSON(out, ts)
				}
				for _, t := range ts {
					def := ""
					if t.ApplyDefault {
						def = " (default)"
					}
					fmt.Fprintf(out, "%s  %s%s\n", t.ID, t.Title, def)
				}
				return nil
			})
		},
	}

	var t models.Transformation
	save := &cobra.Command{
		Use:   "save <id>",
		Short: "Create or replace a transformation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t.ID = args[0]
			if t.Name == "" {
				t.Name = t.ID
			}
			if strings.TrimSpace(t.Title) == "" || strings.TrimSpace(t.Prompt) == "" {
				return models.NewInvalidInput("title and prompt are required")
			}
			return opts.withComponents(cmd.Context(), func(c *Components, _ *zap.Logger) error {
				if err := c.Storage.SaveTransformation(cmd.Context(), &t); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Transformation saved: %s\n", t.ID)
				return nil
			})
		},
	}
	save.Flags().StringVar(&t.Name, "name", "", "short name (defaults to the id)")
	save.Flags().StringVar(&t.Title, "title", "", "insight type written for each result")
	save.Flags().StringVar(&t.Description, "description", "", "description")
	save.Flags().StringVar(&t.Prompt, "prompt", "", "prompt sent to the model")
	save.Flags().BoolVar(&t.ApplyDefault, "default", false, "apply when a request names no transformations")

	cmd.AddCommand(list, save)
	return cmd
}

func newEmbedCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "embed <source-id>",
		Short: "Chunk and embed a stored source, replacing its chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withComponents(cmd.Context(), func(c *Components, _ *zap.Logger) error {
				n, err := c.Service.Embed(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Embedded %d chunks for %s\n", n, args[0])
				return nil
			})
		},
	}
}

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var (
		q    search.Query
		mode string
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search stored sources by keyword, by meaning or both",
		Long: `Query is all remaining arguments joined by spaces.
  • keyword (default) runs against the full-text index and suggests a corrected
    query when nothing matches.
  • semantic embeds the query and ranks sources by their closest chunk.
  • hybrid fuses both with the weights from the search config.`,
		Example: `  kura search quarterly budget
  kura search --mode semantic "what did the board approve"
  kura search --mode hybrid --limit 5 -o json budget`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q.Text = buildSearchQuery(args)
			q.Mode = search.Mode(mode)
			return opts.withComponents(cmd.Context(), func(c *Components, _ *zap.Logger) error {
				engine := search.NewEngine(c.Storage, c.Config.Search,
					search.WithKeywordIndex(c.Keyword, c.Suggester),
					search.WithRetriever(c.Service))
				resp, err := engine.Search(cmd.Context(), q)
				if err != nil {
					return err
				}
				return cli.WriteSearchResults(cmd.OutOrStdout(), resp, opts.format())
			})
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", string(search.ModeKeyword), "keyword, semantic or hybrid")
	cmd.Flags().IntVarP(&q.Limit, "limit", "n", 0, "maximum number of results (default from config)")
	cmd.Flags().IntVar(&q.Fuzziness, "fuzzy", 0, "edit distance tolerated per keyword term")
	cmd.Flags().Float64Var(&q.TitleBoost, "title-boost", 0, "weight of title matches relative to content")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("kura version %s\n", version)
		},
	}
}
