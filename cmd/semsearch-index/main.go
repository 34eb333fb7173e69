// Command semsearch-index is the operator-facing ingestion CLI: it feeds a
// newline-delimited JSON row file through the Indexer pipeline and watches
// the task until it reaches a terminal state.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	semsearch "github.com/forensics/semsearch"
	"github.com/forensics/semsearch/internal/chunk"
	"github.com/forensics/semsearch/internal/indexer"
	"github.com/forensics/semsearch/internal/logging"
	"github.com/forensics/semsearch/internal/normalize"
	"github.com/forensics/semsearch/internal/task"
)

var (
	dbPath         string
	modelID        string
	deviceHint     string
	batchTag       string
	messagesFile   string
	imagesFile     string
	windowSize     int
	overlap        int
	resetFlag      bool
	noiseRulesPath string
	logLevel       string
	verbose        bool
)

var rootCmd = &cobra.Command{
	Use:   "semsearch-index",
	Short: "Ingest a tabular evidence export into the semantic search engine",
	Long:  "Runs the Indexer pipeline (parse, denoise, chunk, encode, store) over a newline-delimited JSON row file and reports progress until completion.",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Ingest one source into a batch of collections",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(cmd.Context())
	},
}

func runIngest(ctx context.Context) error {
	e, err := semsearch.Open(ctx, semsearch.Config{
		StoragePath:    dbPath,
		ModelID:        modelID,
		DeviceHint:     deviceHint,
		Chunk:          chunk.Config{Window: windowSize, Overlap: overlap},
		NoiseRulesPath: noiseRulesPath,
		Logger:         logging.NewStd(logging.ParseLevel(logLevel)),
	})
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	defer e.Close()

	req := indexer.Request{
		BatchTag: batchTag,
		Reset:    resetFlag,
	}
	if messagesFile != "" {
		ch, err := rowsFromFile(messagesFile)
		if err != nil {
			return fmt.Errorf("read messages file: %w", err)
		}
		req.MessageRows = ch
	}
	if imagesFile != "" {
		ch, err := rowsFromFile(imagesFile)
		if err != nil {
			return fmt.Errorf("read images file: %w", err)
		}
		req.ImageRows = ch
	}
	if req.MessageRows == nil && req.ImageRows == nil {
		return fmt.Errorf("at least one of --messages or --images is required")
	}

	taskID := e.IndexSource(ctx, req)
	fmt.Printf("task %s launched\n", taskID)

	return watchTask(e, taskID)
}

// rowsFromFile streams a newline-delimited JSON file into a RawRow
// channel, one object per line. This is the simplest shape the parser
// contract admits.
func rowsFromFile(path string) (<-chan normalize.RawRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	out := make(chan normalize.RawRow, 64)
	go func() {
		defer f.Close()
		defer close(out)
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var row normalize.RawRow
			if err := json.Unmarshal(line, &row); err != nil {
				if verbose {
					log.Printf("skipping malformed line: %v", err)
				}
				continue
			}
			out <- row
		}
	}()
	return out, nil
}

func watchTask(e *semsearch.Engine, taskID string) error {
	ch, snap, err := e.Tasks.Subscribe(taskID, 64)
	if err != nil {
		return err
	}
	printTaskState(snap)
	for evt := range ch {
		fmt.Printf("[%3d%%] %-10s %s (elapsed %s)\n", evt.Progress, evt.Stage, evt.Message, evt.Elapsed.Round(time.Millisecond))
	}

	final, err := e.Tasks.Get(taskID)
	if err != nil {
		return err
	}
	if final.State == task.StateFailed {
		return fmt.Errorf("indexing failed: %v", final.Err)
	}
	if final.Statistics != nil {
		fmt.Printf("done: messages=%d chunks=%d images=%d skipped=%d\n",
			final.Statistics.MessagesIndexed, final.Statistics.ChunksIndexed,
			final.Statistics.ImagesIndexed, final.Statistics.RowsSkipped)
	}
	return nil
}

func printTaskState(t task.Task) {
	if verbose {
		fmt.Printf("initial state: %s\n", t.State)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "evidence.db", "Vector store database file path")
	rootCmd.PersistentFlags().StringVar(&modelID, "model", "local-hash-384", "Embedding model id")
	rootCmd.PersistentFlags().StringVar(&deviceHint, "device", "", "Device hint passed to the embedding model loader")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Diagnostic log level: debug, info, warn, or error")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	runCmd.Flags().StringVar(&batchTag, "batch-tag", "", "Batch tag suffix for this ingestion's collections")
	runCmd.Flags().StringVar(&messagesFile, "messages", "", "Newline-delimited JSON file of message rows")
	runCmd.Flags().StringVar(&imagesFile, "images", "", "Newline-delimited JSON file of image rows")
	runCmd.Flags().IntVar(&windowSize, "window", 5, "Chunker window size")
	runCmd.Flags().IntVar(&overlap, "overlap", 2, "Chunker overlap")
	runCmd.Flags().BoolVar(&resetFlag, "reset", false, "Drop and recreate the target collections before ingesting")
	runCmd.Flags().StringVar(&noiseRulesPath, "noise-rules", "", "Path to an external noise rules YAML file")

	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
