package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/poiesic/chunkstream"
	"github.com/poiesic/chunkstream/core"
	"github.com/poiesic/chunkstream/ingestion"
	"github.com/poiesic/chunkstream/reembed"
	"github.com/poiesic/chunkstream/watch"
	"github.com/poiesic/chunkstream/workmem"
	"github.com/urfave/cli/v2"
)

// ingestOptions starts from the configured options and applies command flags.
func ingestOptions(c *cli.Context, e *chunkstream.Engine) ingestion.Options {
	opts := e.IngestOptions()
	if c.IsSet("chunk-size") {
		opts.ChunkSize = c.Int("chunk-size")
	}
	if c.IsSet("overlap") {
		opts.OverlapSize = c.Int("overlap")
	}
	if c.IsSet("max-chunk-size") {
		opts.MaxChunkSize = c.Int("max-chunk-size")
	}
	if c.Bool("no-embeddings") {
		opts.GenerateEmbeddings = false
	}
	if c.Bool("progress") {
		opts.OnProgress = ingestion.NewProgressPrinter(c.App.ErrWriter)
	}
	return opts
}

func printResult(w io.Writer, res *ingestion.Result) {
	switch {
	case res.Success:
		fmt.Fprintf(w, "%s\tcompleted\t%d chunks\t%d bytes\t%s\t%s\n",
			res.JobID, res.ChunksCreated, res.BytesProcessed, res.Duration.Round(time.Millisecond), res.SourceFile)
		return
	case res.Paused:
		fmt.Fprintf(w, "%s\tpaused\t%d chunks\t%d bytes\t%s\t%s\n",
			res.JobID, res.ChunksCreated, res.BytesProcessed, res.Duration.Round(time.Millisecond), res.SourceFile)
		return
	}
	fmt.Fprintf(w, "%s\tfailed\t%d chunks\t%d bytes\t%s\t%v\n",
		res.JobID, res.ChunksCreated, res.BytesProcessed, res.SourceFile, res.Error)
}

func ingestCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("at least one file is required")
	}
	ctx, stop := signalContext(c)
	defer stop()

	e, err := openEngine(c)
	if err != nil {
		return err
	}
	defer e.Close()

	opts := ingestOptions(c, e)
	opts.ResumeFromOffset = c.Int64("offset")

	if c.NArg() == 1 {
		opts.Name = c.String("name")
		res, err := e.Processor().ProcessFile(ctx, c.Args().First(), opts)
		printResult(c.App.Writer, res)
		return err
	}

	if c.IsSet("name") {
		return errors.New("--name applies to a single file")
	}
	// Progress lines from several files would interleave.
	opts.OnProgress = nil
	results := e.Processor().ProcessFiles(ctx, c.Args().Slice(), opts)
	failures := 0
	for _, res := range results {
		printResult(c.App.Writer, res)
		if !res.Success && !res.Paused {
			failures++
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d of %d files failed", failures, len(results))
	}
	return nil
}

func resumeCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("exactly one job id is required")
	}
	ctx, stop := signalContext(c)
	defer stop()

	e, err := openEngine(c)
	if err != nil {
		return err
	}
	defer e.Close()

	// Sizes left at zero are taken from the interrupted job.
	opts := ingestOptions(c, e)
	if !c.IsSet("chunk-size") {
		opts.ChunkSize = 0
	}
	if !c.IsSet("overlap") {
		opts.OverlapSize = 0
	}
	if !c.IsSet("max-chunk-size") {
		opts.MaxChunkSize = 0
	}
	res, err := e.Processor().ResumeJob(ctx, c.Args().First(), opts)
	printResult(c.App.Writer, res)
	return err
}

func listJobsCommand(c *cli.Context) error {
	e, err := openEngine(c)
	if err != nil {
		return err
	}
	defer e.Close()

	jobs, err := e.Memory().ListJobs(c.Context)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tCHUNKS\tBYTES\tCREATED")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d/%d\t%s\n", j.ID, j.Name, j.Status,
			j.Progress.ChunksCreated, j.Progress.BytesProcessed, j.SourceSize,
			j.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return tw.Flush()
}

type jobView struct {
	Job        *core.ProcessingJob `json:"job"`
	Checkpoint *core.Checkpoint    `json:"checkpoint,omitempty"`
}

func showJobCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("exactly one job id is required")
	}
	e, err := openEngine(c)
	if err != nil {
		return err
	}
	defer e.Close()

	id := c.Args().First()
	job, err := e.Memory().GetJob(c.Context, id)
	if err != nil {
		return err
	}
	cp, err := e.Memory().LoadCheckpoint(c.Context, id)
	if err != nil {
		return err
	}
	view := jobView{Job: job, Checkpoint: cp}
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}

func deleteJobCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("exactly one job id is required")
	}
	e, err := openEngine(c)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.Memory().DeleteJob(c.Context, c.Args().First()); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "deleted %s\n", c.Args().First())
	return nil
}

func chunksCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("exactly one job id is required")
	}
	e, err := openEngine(c)
	if err != nil {
		return err
	}
	defer e.Close()

	chunks, err := e.Memory().GetChunks(c.Context, c.Args().First(), c.Int("limit"), c.Int("offset"))
	if err != nil {
		return err
	}
	if c.Bool("json") {
		enc := json.NewEncoder(c.App.Writer)
		for _, ch := range chunks {
			if err := enc.Encode(ch); err != nil {
				return err
			}
		}
		return nil
	}
	for _, ch := range chunks {
		printChunk(c.App.Writer, ch, "")
	}
	return nil
}

func printChunk(w io.Writer, ch *core.Chunk, prefix string) {
	fmt.Fprintf(w, "%s#%d @%d+%d %s", prefix, ch.ID, ch.Offset, ch.Length, ch.Metadata.Kind)
	if x := ch.Metadata.XML; x != nil && x.XPath != "" {
		fmt.Fprintf(w, " %s", x.XPath)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s\n", preview(ch.Content, 160))
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}

func searchCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("a query is required")
	}
	jobIDs := c.StringSlice("job")
	filter := map[string]string{}
	if kind := c.String("kind"); kind != "" {
		filter[core.MetaKind] = kind
	}
	if xpath := c.String("xpath"); xpath != "" {
		filter[core.MetaXPath] = xpath
	}
	if len(filter) > 0 && len(jobIDs) != 1 {
		return errors.New("--kind and --xpath need exactly one --job")
	}

	e, err := openEngine(c)
	if err != nil {
		return err
	}
	defer e.Close()

	query := strings.Join(c.Args().Slice(), " ")
	var results []*core.SearchResult
	if len(filter) > 0 {
		results, err = e.Memory().SearchChunks(c.Context, jobIDs[0], query, c.Int("limit"), filter)
	} else {
		searcher, serr := e.NewSearcher()
		if serr != nil {
			return serr
		}
		results, err = searcher.FindSimilar(c.Context, query, c.Int("limit"), jobIDs...)
	}
	if err != nil {
		return err
	}
	for _, r := range results {
		printChunk(c.App.Writer, r.Chunk, fmt.Sprintf("%.3f %s ", r.Score, r.Chunk.JobID))
	}
	return nil
}

func reembedCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("exactly one job id is required")
	}
	cfg := &reembed.Config{
		BatchSize:      c.Int("batch-size"),
		ReportInterval: c.Int("report-interval"),
		MaxRetries:     c.Int("max-retries"),
		RetryDelay:     c.Duration("retry-delay"),
		OnlyMissing:    c.Bool("only-missing"),
	}
	if cfg.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}
	if cfg.MaxRetries <= 0 {
		return fmt.Errorf("max-retries must be greater than 0")
	}

	ctx, stop := signalContext(c)
	defer stop()
	e, err := openEngine(c)
	if err != nil {
		return err
	}
	defer e.Close()

	written, err := e.NewReembedder(cfg, c.App.ErrWriter).Run(ctx, c.Args().First())
	if err != nil {
		return fmt.Errorf("reembedding failed: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "%s	reembedded %d chunks\n", c.Args().First(), written)
	return nil
}

func exportCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("exactly one job id is required")
	}
	format, err := workmem.ParseExportFormat(c.String("format"))
	if err != nil {
		return err
	}
	e, err := openEngine(c)
	if err != nil {
		return err
	}
	defer e.Close()

	jobID := c.Args().First()
	if c.Bool("store") {
		obj, err := e.Memory().ExportToStore(c.Context, jobID, format, e.Content())
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "%s\t%d bytes\t%s\n", obj.Ref, obj.Size, obj.MimeType)
		return nil
	}

	out := c.String("out")
	if out == "" {
		return e.Memory().ExportCollection(c.Context, jobID, format, c.App.Writer)
	}
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := e.Memory().ExportCollection(c.Context, jobID, format, f); err != nil {
		f.Close()
		os.Remove(out)
		return err
	}
	return f.Close()
}

func snapshotCommand(c *cli.Context) error {
	e, err := openEngine(c)
	if err != nil {
		return err
	}
	defer e.Close()

	out := c.String("out")
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := e.Snapshot(c.Context, f, c.Args().Slice()...); err != nil {
		f.Close()
		os.Remove(out)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "snapshot written to %s\n", out)
	return nil
}

func collectionsCommand(c *cli.Context) error {
	e, err := openEngine(c)
	if err != nil {
		return err
	}
	defer e.Close()

	names, err := e.Memory().ListCollections(c.Context)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Fprintln(c.App.Writer, name)
	}
	return nil
}

func watchCommand(c *cli.Context) error {
	ctx, stop := signalContext(c)
	defer stop()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("inbox") {
		cfg.InboxDir = c.String("inbox")
	}
	e, err := chunkstream.Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to open engine: %w", err)
	}
	defer e.Close()

	opts := []watch.Option{watch.WithSettle(c.Duration("settle"))}
	if c.Bool("scan") {
		opts = append(opts, watch.WithScanExisting())
	}
	w, err := e.NewInboxWatcher(opts...)
	if err != nil {
		return err
	}
	defer w.Close()

	fmt.Fprintf(c.App.ErrWriter, "Watching %s\n", cfg.InboxDir)
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func configCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	return cfg.Write(c.App.Writer)
}
