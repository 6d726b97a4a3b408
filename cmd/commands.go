package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"documind/internal/citation"
	"documind/internal/config"
	"documind/internal/helper"
	"documind/internal/ingest"
	"documind/internal/models"
	"documind/internal/parser"
	"documind/internal/session"
)

const defaultConfigPath = "./configs/config.yaml"

type rootOptions struct {
	configPath string
	logLevel   string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "documind",
		Short:         "Ask questions about your documents and get answers with citations",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(opts.configPath)
			if err != nil {
				return err
			}
			if opts.logLevel != "" {
				cfg.LogLevel = opts.logLevel
			}
			setupLogger(cfg.LogLevel, cfg.LogJSON)
			log.Debug().Str("config", opts.configPath).Msg("Loaded config")
			opts.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfigPath, "path to the YAML config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newIngestCmd(opts),
		newQueryCmd(opts),
		newChatCmd(opts),
		newSourcesCmd(opts),
		newClearCmd(opts),
		newExportCmd(opts),
		newImportCmd(opts),
	)
	return root
}

func openSession(ctx context.Context, opts *rootOptions) (*session.Session, error) {
	if opts.cfg.VectorDB.Backend == config.BackendChromem {
		if err := helper.CreateFolder(opts.cfg.VectorDB.Path); err != nil {
			return nil, err
		}
	}
	return session.Open(ctx, opts.cfg)
}

func newIngestCmd(opts *rootOptions) *cobra.Command {
	var dryRun, clearFirst bool
	cmd := &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Extract, chunk and store documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dryRun {
				return dryRunIngest(cmd.OutOrStdout(), opts.cfg, args)
			}
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()

			if clearFirst {
				if err := s.Clear(cmd.Context()); err != nil {
					return err
				}
			}
			failed := 0
			for _, r := range s.IngestFiles(cmd.Context(), args) {
				if r.Err != nil {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "FAIL %s: %v\n", r.SourceID, r.Err)
					continue
				}
				line := fmt.Sprintf("OK   %s: %d chunks", r.SourceID, r.Records)
				if r.Result.Truncated {
					line += fmt.Sprintf(" (truncated to %d of %d rows)", r.Result.KeptRows, r.Result.TotalRows)
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			if failed == len(args) {
				return errors.New("no document was ingested")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "chunk documents and print them without storing")
	cmd.Flags().BoolVar(&clearFirst, "clear", false, "clear the store before ingesting")
	return cmd
}

func dryRunIngest(w io.Writer, cfg *config.Config, paths []string) error {
	chunkCfg := ingest.Config{
		ChunkSize:    cfg.RAG.ChunkSize,
		ChunkOverlap: cfg.RAG.ChunkOverlap,
		MaxTableRows: cfg.RAG.MaxTableRows,
	}
	for _, path := range paths {
		doc, err := parser.Extract(path)
		if err != nil {
			return err
		}
		res, err := ingest.Ingest(ingest.Source{ID: doc.SourceID, FileType: doc.FileType, Units: doc.Units}, chunkCfg)
		if err != nil {
			return err
		}
		log.Info().Str("file", path).Int("chunks", len(res.Chunks)).Msg("Parsed content")
		helper.PrettyPrint(w, res)
	}
	return nil
}

func newQueryCmd(opts *rootOptions) *cobra.Command {
	var topK int
	cmd := &cobra.Command{
		Use:   "query QUESTION",
		Short: "Answer a question from the stored documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if topK == 0 {
				topK = opts.cfg.RAG.TopK
			}
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := s.Query(cmd.Context(), strings.Join(args, " "), topK)
			if err != nil {
				return err
			}
			printResponse(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of chunks to retrieve (1-20)")
	return cmd
}

// newChatCmd answers questions read from stdin until EOF. Ctrl-C cancels the
// question in flight; Ctrl-C at the prompt exits.
func newChatCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Ask questions interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()

			interrupts := make(chan os.Signal, 1)
			signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(interrupts)

			// the root context dies with the first Ctrl-C, which here only
			// cancels the current question
			ctx := context.WithoutCancel(cmd.Context())
			return runChat(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), interrupts, s, opts.cfg.RAG.TopK)
		},
	}
}

type asyncQuerier interface {
	QueryAsync(ctx context.Context, question string, topK int) *session.Job
}

// runChat reads one question per line. A signal received while waiting for
// input ends the loop; one received while a question runs cancels only that
// question.
func runChat(ctx context.Context, in io.Reader, out io.Writer, interrupts <-chan os.Signal, q asyncQuerier, topK int) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	quit := make(chan struct{})
	defer close(quit)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-quit:
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		fmt.Fprint(out, "> ")
		var question string
		select {
		case <-interrupts:
			fmt.Fprintln(out)
			return nil
		case line, ok := <-lines:
			if !ok {
				return <-scanErr
			}
			question = strings.TrimSpace(line)
		}
		if question == "" {
			continue
		}

		job := q.QueryAsync(ctx, question, topK)
		select {
		case <-job.Done():
		case <-interrupts:
			job.Cancel()
			fmt.Fprintln(out, "\ncancelled")
		}
		res, err := job.Wait()
		switch {
		case errors.Is(err, context.Canceled):
		case err != nil:
			log.Error().Err(err).Msg("Error querying")
		default:
			printResponse(out, res)
		}
	}
}

func newSourcesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List the indexed documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()

			sources, err := s.Sources(cmd.Context())
			if err != nil {
				return err
			}
			if len(sources) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no documents indexed")
				return nil
			}
			for _, src := range sources {
				fmt.Fprintln(cmd.OutOrStdout(), src)
			}
			return nil
		},
	}
}

func newClearCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every stored document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()
			return s.Clear(cmd.Context())
		},
	}
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "export FILE",
		Short: "Write the collection to a snapshot file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()
			if key == "" {
				key = opts.cfg.RAG.EncryptionKey
			}
			return s.Export(args[0], key)
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "32-byte encryption key (defaults to rag.encryption_key)")
	return cmd
}

func newImportCmd(opts *rootOptions) *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Replace the collection with a snapshot file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()
			if key == "" {
				key = opts.cfg.RAG.EncryptionKey
			}
			return s.Import(args[0], key)
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "32-byte encryption key (defaults to rag.encryption_key)")
	return cmd
}

func printResponse(w io.Writer, res *models.PromptResponse) {
	if res.Degraded {
		fmt.Fprintln(w, "[degraded: offline embeddings in use]")
	}
	fmt.Fprintf(w, "%s\n", res.Content)
	if section := citation.SourcesSection(res.Citations); section != "" {
		fmt.Fprintf(w, "\n%s\n", section)
	}
}
