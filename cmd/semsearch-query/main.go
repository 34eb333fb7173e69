// Command semsearch-query is the operator-facing retrieval CLI: it encodes
// a free-text query, applies structured predicates, and prints the ranked
// result set, or a reconstructed conversation around one result.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	semsearch "github.com/forensics/semsearch"
	"github.com/forensics/semsearch/internal/filter"
	"github.com/forensics/semsearch/internal/search"
	"github.com/forensics/semsearch/internal/vstore"
)

var (
	dbPath     string
	modelID    string
	deviceHint string

	collection   string
	k            int
	mode         string
	excludeNoise bool
	direction    string
	contact      string
	app          string
	tsStart      int64
	tsEnd        int64
	gpsLat       float64
	gpsLon       float64
	radiusKM     float64
	ceiling      float64
	jsonOut      bool

	beforeWindow int
	afterWindow  int
)

var rootCmd = &cobra.Command{
	Use:   "semsearch-query",
	Short: "Query the forensic semantic search engine",
}

var searchCmd = &cobra.Command{
	Use:   "search <query text>",
	Short: "Run a ranked semantic search over one collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSearch(cmd.Context(), args[0])
	},
}

var convCmd = &cobra.Command{
	Use:   "conversation <message-id>",
	Short: "Reconstruct the conversation around one message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConversation(cmd.Context(), args[0])
	},
}

var collectionsCmd = &cobra.Command{
	Use:   "collections",
	Short: "List collections and their stored volume",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCollections(cmd.Context())
	},
}

func openEngine(ctx context.Context) (*semsearch.Engine, error) {
	return semsearch.Open(ctx, semsearch.Config{
		StoragePath: dbPath,
		ModelID:     modelID,
		DeviceHint:  deviceHint,
	})
}

func runSearch(ctx context.Context, queryText string) error {
	if collection == "" {
		return fmt.Errorf("--collection is required")
	}
	e, err := openEngine(ctx)
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	defer e.Close()

	req := search.Request{
		Collection: collection,
		QueryText:  queryText,
		K:          k,
		Mode:       vstore.Mode(mode),
		Filter: filter.Request{
			Direction:    direction,
			ExcludeNoise: excludeNoise,
			Contact:      contact,
			App:          app,
		},
	}
	if tsStart != 0 {
		req.Filter.TimestampStart = &tsStart
	}
	if tsEnd != 0 {
		req.Filter.TimestampEnd = &tsEnd
	}
	if radiusKM > 0 {
		req.Filter.GPSLat = &gpsLat
		req.Filter.GPSLon = &gpsLon
		req.Filter.RadiusKM = radiusKM
	}
	if ceiling > 0 {
		req.DistanceCeiling = &ceiling
	}

	results, err := e.Query(ctx, req)
	if err != nil {
		return err
	}
	return printResults(results)
}

func runConversation(ctx context.Context, messageID string) error {
	if collection == "" {
		return fmt.Errorf("--collection is required")
	}
	e, err := openEngine(ctx)
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	defer e.Close()

	entries, err := e.Search.ReconstructConversation(ctx, collection, messageID, beforeWindow, afterWindow)
	if err != nil {
		return err
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	for _, e := range entries {
		marker := "  "
		if e.IsTarget {
			marker = "->"
		}
		fmt.Printf("%s %-24s %s\n", marker, e.Row.ID, e.Row.Document)
	}
	return nil
}

func runCollections(ctx context.Context) error {
	e, err := openEngine(ctx)
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	defer e.Close()

	infos, err := e.Store.ListCollections(ctx)
	if err != nil {
		return err
	}
	for _, ci := range infos {
		st, err := e.Store.Stats(ctx, ci.Name)
		if err != nil {
			return err
		}
		lastWrite := "-"
		if st.LastWriteAt.Valid {
			lastWrite = st.LastWriteAt.Time.Format("2006-01-02 15:04:05")
		}
		fmt.Printf("%-32s %-8s dim=%-4d rows=%-7d bytes=%-10d last_write=%s\n",
			ci.Name, ci.Kind, ci.EmbeddingDim, st.RecordCount, st.TotalBytes, lastWrite)
	}
	return nil
}

func printResults(results []search.Result) error {
	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	for _, r := range results {
		fmt.Printf("%.4f  %-24s  %s\n", r.Score, r.ID, r.Document)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "evidence.db", "Vector store database file path")
	rootCmd.PersistentFlags().StringVar(&modelID, "model", "local-hash-384", "Embedding model id")
	rootCmd.PersistentFlags().StringVar(&deviceHint, "device", "", "Device hint passed to the embedding model loader")
	rootCmd.PersistentFlags().StringVarP(&collection, "collection", "c", "", "Collection name to query")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output as JSON")

	searchCmd.Flags().IntVarP(&k, "k", "k", 10, "Number of results")
	searchCmd.Flags().StringVar(&mode, "mode", string(vstore.ModeANN), "Retrieval mode: ANN or KNN")
	searchCmd.Flags().BoolVar(&excludeNoise, "exclude-noise", false, "Drop rows flagged as noise")
	searchCmd.Flags().StringVar(&direction, "direction", "", "incoming or outgoing")
	searchCmd.Flags().StringVar(&contact, "contact", "", "Canonical contact to filter on")
	searchCmd.Flags().StringVar(&app, "app", "", "Source application tag to filter on")
	searchCmd.Flags().Int64Var(&tsStart, "ts-start", 0, "Inclusive unix-seconds lower bound")
	searchCmd.Flags().Int64Var(&tsEnd, "ts-end", 0, "Inclusive unix-seconds upper bound")
	searchCmd.Flags().Float64Var(&gpsLat, "lat", 0, "Reference latitude for a geographic radius filter")
	searchCmd.Flags().Float64Var(&gpsLon, "lon", 0, "Reference longitude for a geographic radius filter")
	searchCmd.Flags().Float64Var(&radiusKM, "radius-km", 0, "Geographic radius in kilometers")
	searchCmd.Flags().Float64Var(&ceiling, "distance-ceiling", 0, "Drop rows with cosine distance above this value")

	convCmd.Flags().IntVar(&beforeWindow, "before", 3, "Messages to include before the target")
	convCmd.Flags().IntVar(&afterWindow, "after", 3, "Messages to include after the target")

	rootCmd.AddCommand(searchCmd, convCmd, collectionsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
