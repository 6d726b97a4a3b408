package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"documind/internal/chromemdb"
	"documind/internal/config"
	"documind/internal/embedding"
	"documind/internal/models"
	"documind/internal/parser"
	"documind/internal/session"
	"documind/internal/vectorstore"
)

func writeTemp(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestIngestDryRun(t *testing.T) {
	t.Run("ShouldPrintChunksWithoutStoring", func(t *testing.T) {
		dir := t.TempDir()
		cfgPath := writeTemp(t, dir, "config.yaml", "embed_llm:\n  provider: offline\nrag:\n  chunk_size: 50\n  chunk_overlap: 5\nvector_db:\n  path: "+filepath.Join(dir, "db")+"\n")
		doc := writeTemp(t, dir, "notes.txt", "First paragraph about retrieval.\n\nSecond paragraph about generation and citations.")

		var out bytes.Buffer
		cmd := newRootCmd()
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"--config", cfgPath, "ingest", "--dry-run", doc})
		require.NoError(t, cmd.Execute())

		assert.Contains(t, out.String(), `"SourceID": "notes.txt"`)
		assert.Contains(t, out.String(), "Second paragraph")
		_, err := os.Stat(filepath.Join(dir, "db"))
		assert.True(t, os.IsNotExist(err))
	})
}

func TestQueryCommand(t *testing.T) {
	t.Run("ShouldPrintFallbackForEmptyStore", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("OPENAI_API_KEY", "")
		cfgPath := writeTemp(t, dir, "config.yaml", "embed_llm:\n  provider: offline\nvector_db:\n  path: "+filepath.Join(dir, "db")+"\n")

		var out bytes.Buffer
		cmd := newRootCmd()
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"--config", cfgPath, "query", "what", "is", "this?"})
		require.NoError(t, cmd.Execute())
		assert.Contains(t, out.String(), models.FallbackAnswer)
		assert.NotContains(t, out.String(), "Sources:")
	})

	t.Run("ShouldRejectTopKOutOfRange", func(t *testing.T) {
		dir := t.TempDir()
		cfgPath := writeTemp(t, dir, "config.yaml", "embed_llm:\n  provider: offline\nvector_db:\n  path: "+filepath.Join(dir, "db")+"\n")
		cmd := newRootCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{"--config", cfgPath, "query", "-k", "50", "q"})
		assert.ErrorIs(t, cmd.Execute(), models.ErrInvalidTopK)
	})
}

func TestRootCommand(t *testing.T) {
	t.Run("ShouldReturnErrorsWithoutPrintingThem", func(t *testing.T) {
		var stderr bytes.Buffer
		cmd := newRootCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&stderr)
		cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "sources"})
		assert.Error(t, cmd.Execute())
		assert.Empty(t, stderr.String())
	})
}

func TestPrintResponse(t *testing.T) {
	var out bytes.Buffer
	printResponse(&out, &models.PromptResponse{
		Content:   "Paris.",
		Citations: []string{"tower.pdf (pages 1-2)"},
		Degraded:  true,
	})
	assert.Equal(t, "[degraded: offline embeddings in use]\nParis.\n\nSources:\n- tower.pdf (pages 1-2)\n", out.String())
}

func TestSourcesCommand(t *testing.T) {
	t.Run("ShouldListIngestedFiles", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("OPENAI_API_KEY", "")
		cfgPath := writeTemp(t, dir, "config.yaml", "embed_llm:\n  provider: offline\nvector_db:\n  path: "+filepath.Join(dir, "db")+"\n")
		notes := writeTemp(t, dir, "notes.txt", "Retrieval finds the chunks closest to the question.")
		table := writeTemp(t, dir, "prices.csv", "item,price\ntea,3\n")

		run := func(args ...string) string {
			var out bytes.Buffer
			cmd := newRootCmd()
			cmd.SetOut(&out)
			cmd.SetArgs(append([]string{"--config", cfgPath}, args...))
			require.NoError(t, cmd.Execute())
			return out.String()
		}

		assert.Equal(t, "no documents indexed\n", run("sources"))
		run("ingest", notes, table)
		assert.Equal(t, "notes.txt\nprices.csv\n", run("sources"))
	})
}

type chatStub struct {
	calls   atomic.Int32
	started chan struct{}
}

// Complete blocks on the first call until it is cancelled and answers every
// later call.
func (c *chatStub) Complete(ctx context.Context, _, _ string) (string, error) {
	if c.calls.Add(1) == 1 {
		close(c.started)
		<-ctx.Done()
		return "", ctx.Err()
	}
	return "Paris.", nil
}

func (c *chatStub) Name() string { return "stub" }

func newChatSession(t *testing.T, chat *chatStub) *session.Session {
	t.Helper()
	cfg := config.Default()
	cfg.VectorDB.Path = t.TempDir()
	cfg.RAG.MinScore = -1
	backend := chromemdb.NewVectorDBManager(cfg.VectorDB.Path, cfg.VectorDB.Collection, false)
	store := vectorstore.New(embedding.NewHashEmbedder(256), backend, 8)
	s := session.New(cfg, backend, store, chat)
	_, err := s.Ingest(context.Background(), parser.Document{
		SourceID: "tower.txt",
		FileType: models.FileTypeTXT,
		Units:    []models.Unit{{Text: "The Eiffel Tower is located in Paris."}},
	})
	require.NoError(t, err)
	return s
}

func TestRunChat(t *testing.T) {
	ctx := context.Background()

	t.Run("ShouldAnswerEachLineUntilEOF", func(t *testing.T) {
		chat := &chatStub{started: make(chan struct{})}
		chat.calls.Store(1)
		s := newChatSession(t, chat)

		var out bytes.Buffer
		err := runChat(ctx, strings.NewReader("where is the tower?\n\n"), &out, make(chan os.Signal, 1), s, 3)
		require.NoError(t, err)
		assert.Contains(t, out.String(), "Paris.")
		assert.Contains(t, out.String(), "tower.txt")
	})

	t.Run("ShouldExitOnInterruptAtPrompt", func(t *testing.T) {
		chat := &chatStub{started: make(chan struct{})}
		s := newChatSession(t, chat)
		pr, pw := io.Pipe()
		defer pw.Close()

		interrupts := make(chan os.Signal, 1)
		interrupts <- os.Interrupt
		var out bytes.Buffer
		require.NoError(t, runChat(ctx, pr, &out, interrupts, s, 3))

		assert.Equal(t, "> \n", out.String())
		assert.Zero(t, chat.calls.Load())
	})

	t.Run("ShouldCancelOnlyTheRunningQuestion", func(t *testing.T) {
		chat := &chatStub{started: make(chan struct{})}
		s := newChatSession(t, chat)
		pr, pw := io.Pipe()
		interrupts := make(chan os.Signal, 1)

		var out bytes.Buffer
		done := make(chan error, 1)
		go func() { done <- runChat(ctx, pr, &out, interrupts, s, 3) }()

		_, err := pw.Write([]byte("where is the tower?\n"))
		require.NoError(t, err)
		select {
		case <-chat.started:
		case <-time.After(5 * time.Second):
			t.Fatal("question never reached the model")
		}
		interrupts <- os.Interrupt

		_, err = pw.Write([]byte("and again?\n"))
		require.NoError(t, err)
		require.NoError(t, pw.Close())

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("chat did not stop at end of input")
		}
		assert.Equal(t, 1, strings.Count(out.String(), "cancelled"))
		assert.Contains(t, out.String(), "Paris.")
		assert.EqualValues(t, 2, chat.calls.Load())
	})
}
