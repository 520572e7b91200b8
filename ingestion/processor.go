package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/chunkstream/chunker"
	"github.com/poiesic/chunkstream/core"
	"github.com/poiesic/chunkstream/workmem"
	"golang.org/x/sync/errgroup"
)

// DefaultBatchSize is the number of chunks stored per StoreChunks call.
const DefaultBatchSize = 100

// ContentPutter stores chunk content by hash.
type ContentPutter interface {
	Put(ctx context.Context, content []byte, mime string) (*core.StoredObject, error)
}

// Processor streams files through a chunker into working memory.
type Processor struct {
	memory           *workmem.Store
	content          ContentPutter
	pool             *ants.Pool
	batchSize        int
	readSize         int
	queueDepth       int
	progressInterval time.Duration
	logger           *slog.Logger
}

// Option configures a Processor.
type Option func(*Processor) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// WithBatchSize sets how many chunks are stored per batch.
func WithBatchSize(n int) Option {
	return func(p *Processor) error {
		if n < 1 {
			return fmt.Errorf("batch size must be positive, got %d", n)
		}
		p.batchSize = n
		return nil
	}
}

// WithReadSize sets the block size used to read source files.
func WithReadSize(n int) Option {
	return func(p *Processor) error {
		if n < 1 {
			return fmt.Errorf("read size must be positive, got %d", n)
		}
		p.readSize = n
		return nil
	}
}

// WithQueueDepth sets how many chunks may wait between the reader and the
// store. Default is one batch.
func WithQueueDepth(n int) Option {
	return func(p *Processor) error {
		if n < 0 {
			return fmt.Errorf("queue depth must not be negative, got %d", n)
		}
		p.queueDepth = n
		return nil
	}
}

// WithProgressInterval sets the minimum gap between progress events.
func WithProgressInterval(d time.Duration) Option {
	return func(p *Processor) error {
		p.progressInterval = d
		return nil
	}
}

// WithContentStore stores each chunk's content in cs and records the
// resulting ref on the chunk.
func WithContentStore(cs ContentPutter) Option {
	return func(p *Processor) error {
		p.content = cs
		return nil
	}
}

// WithPoolSize sets how many files ProcessFiles works on at once.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Processor) error {
		if size < 1 {
			size = 1
		}
		if p.pool != nil {
			p.pool.Release()
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		p.pool = pool
		return nil
	}
}

// NewProcessor creates a Processor that stores into memory.
func NewProcessor(memory *workmem.Store, opts ...Option) (*Processor, error) {
	if memory == nil {
		return nil, ErrMemoryRequired
	}

	poolSize := max(runtime.NumCPU()/2, 1)
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	p := &Processor{
		memory:           memory,
		pool:             pool,
		batchSize:        DefaultBatchSize,
		readSize:         chunker.DefaultReadSize,
		progressInterval: DefaultProgressInterval,
		logger:           slog.Default(),
		queueDepth:       -1,
	}
	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}
	if p.queueDepth < 0 {
		p.queueDepth = p.batchSize
	}
	p.logger = p.logger.With("component", "ingestion")
	return p, nil
}

// Release frees the worker pool. The processor should not be used after.
func (p *Processor) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}

// Options controls a single file run.
type Options struct {
	// Name labels the job. Default is the file's base name.
	Name string

	ChunkSize    int
	OverlapSize  int
	MaxChunkSize int

	// ResumeFromOffset starts reading at this byte offset.
	ResumeFromOffset int64

	GenerateEmbeddings bool

	// OnChunk is called for every chunk after its batch has been stored.
	// ProcessFiles calls it from several goroutines.
	OnChunk func(*core.Chunk)

	// OnProgress receives throttled progress events and one final event.
	OnProgress func(Progress)
}

func (o Options) chunkerOptions() chunker.Options {
	return chunker.Options{
		ChunkSize:    o.ChunkSize,
		OverlapSize:  o.OverlapSize,
		MaxChunkSize: o.MaxChunkSize,
	}
}

// Result summarizes one run. ChunksCreated counts chunks stored by this run
// only; BytesProcessed is the absolute source position reached. Paused is
// set when the job was paused while running; ResumeJob continues it.
type Result struct {
	JobID          string
	SourceFile     string
	ChunksCreated  int64
	BytesProcessed int64
	Duration       time.Duration
	Success        bool
	Paused         bool
	Error          error
}

// run holds what a pipeline needs beyond the job record.
type run struct {
	job        *core.ProcessingJob
	opts       Options
	chunkOpts  chunker.Options
	startAt    int64
	checkpoint *chunker.Checkpoint
}

// ProcessFile chunks the file at path into a new job.
func (p *Processor) ProcessFile(ctx context.Context, path string, opts Options) (*Result, error) {
	start := time.Now()
	info, err := os.Stat(path)
	if err != nil {
		return failed(nil, path, start, core.NewStreamError("stat", path, 0, err))
	}
	if info.IsDir() {
		return failed(nil, path, start, core.NewStreamError("stat", path, 0, errors.New("is a directory")))
	}

	chunkOpts := opts.chunkerOptions()
	if err := chunkOpts.Validate(); err != nil {
		return failed(nil, path, start, err)
	}
	if opts.ResumeFromOffset < 0 || opts.ResumeFromOffset > info.Size() {
		return failed(nil, path, start, fmt.Errorf("%w: resume offset %d outside file of %d bytes",
			core.ErrInvalidChunkingOptions, opts.ResumeFromOffset, info.Size()))
	}

	name := opts.Name
	if name == "" {
		name = filepath.Base(path)
	}
	job, err := p.memory.CreateJob(ctx, name, path, info.Size(), core.JobMetadata{
		FileType:     core.DetectFileType(path),
		ChunkSize:    opts.ChunkSize,
		OverlapSize:  opts.OverlapSize,
		MaxChunkSize: opts.MaxChunkSize,
	})
	if err != nil {
		return failed(nil, path, start, err)
	}

	return p.run(ctx, run{
		job:       job,
		opts:      opts,
		chunkOpts: chunkOpts,
		startAt:   opts.ResumeFromOffset,
	}, start)
}

// ResumeJob continues an interrupted job in a new job that keeps its chunk
// numbering. Size options left at zero are taken from the old job. With a
// saved checkpoint the new job picks up exactly where the old job's last
// batch ended; without one it restarts the parser at the last stored
// chunk's offset.
func (p *Processor) ResumeJob(ctx context.Context, jobID string, opts Options) (*Result, error) {
	start := time.Now()
	prev, err := p.memory.GetJob(ctx, jobID)
	if err != nil {
		return failed(nil, "", start, err)
	}
	if prev.Status == core.JobStatusCompleted {
		return failed(nil, prev.SourceFile, start, fmt.Errorf("job %s: %w", jobID, core.ErrJobNotResumable))
	}

	if opts.ChunkSize == 0 {
		opts.ChunkSize = prev.Metadata.ChunkSize
	}
	if opts.OverlapSize == 0 {
		opts.OverlapSize = prev.Metadata.OverlapSize
	}
	if opts.MaxChunkSize == 0 {
		opts.MaxChunkSize = prev.Metadata.MaxChunkSize
	}
	chunkOpts := opts.chunkerOptions()
	if err := chunkOpts.Validate(); err != nil {
		return failed(nil, prev.SourceFile, start, err)
	}

	info, err := os.Stat(prev.SourceFile)
	if err != nil {
		return failed(nil, prev.SourceFile, start, core.NewStreamError("stat", prev.SourceFile, 0, err))
	}
	if info.Size() != prev.SourceSize {
		p.logger.Warn("source file changed size since job started",
			"job", jobID, "was", prev.SourceSize, "now", info.Size())
	}

	saved, err := p.memory.LoadCheckpoint(ctx, jobID)
	if err != nil {
		return failed(nil, prev.SourceFile, start, err)
	}
	cp := p.usableCheckpoint(prev, saved, info.Size())

	job, err := p.memory.CreateResumedJob(ctx, prev)
	if err != nil {
		return failed(nil, prev.SourceFile, start, err)
	}
	if prev.Status == core.JobStatusProcessing || prev.Status == core.JobStatusPaused {
		if _, err := p.memory.SetJobStatus(ctx, prev.ID, core.JobStatusFailed, "resumed as "+job.ID); err != nil {
			p.logger.Warn("could not retire resumed job", "job", prev.ID, "err", err)
		}
	}
	p.logger.Info("resuming job", "job", job.ID, "from", prev.ID,
		"offset", prev.Progress.LastOffset, "exact", cp != nil)

	return p.run(ctx, run{
		job:        job,
		opts:       opts,
		chunkOpts:  chunkOpts,
		startAt:    prev.Progress.LastOffset,
		checkpoint: cp,
	}, start)
}

// usableCheckpoint decodes a saved checkpoint, or returns nil when it
// cannot seed an exact resume of prev.
func (p *Processor) usableCheckpoint(prev *core.ProcessingJob, saved *core.Checkpoint, size int64) *chunker.Checkpoint {
	if saved == nil || len(saved.State) == 0 {
		return nil
	}
	var cp chunker.Checkpoint
	if err := json.Unmarshal(saved.State, &cp); err != nil {
		p.logger.Warn("ignoring unreadable checkpoint", "job", prev.ID, "err", err)
		return nil
	}
	if cp.Kind != prev.Metadata.FileType || cp.BufferStart > cp.Position ||
		cp.Position > size || cp.BufferStart < prev.Progress.LastOffset {
		p.logger.Warn("ignoring checkpoint that does not match job", "job", prev.ID,
			"kind", cp.Kind, "position", cp.Position, "bufferStart", cp.BufferStart)
		return nil
	}
	return &cp
}

// ProcessFiles processes several files concurrently on the worker pool.
// Results are in the order of paths.
func (p *Processor) ProcessFiles(ctx context.Context, paths []string, opts Options) []*Result {
	results := make([]*Result, len(paths))
	var wg sync.WaitGroup
	for i, path := range paths {
		wg.Add(1)
		err := p.pool.Submit(func() {
			defer wg.Done()
			results[i], _ = p.ProcessFile(ctx, path, opts)
		})
		if err != nil {
			wg.Done()
			results[i], _ = failed(nil, path, time.Now(), err)
		}
	}
	wg.Wait()
	return results
}

func (p *Processor) run(ctx context.Context, r run, start time.Time) (*Result, error) {
	job := r.job
	logger := p.logger.With("job", job.ID, "source", job.SourceFile)

	if _, err := p.memory.SetJobStatus(ctx, job.ID, core.JobStatusProcessing, ""); err != nil {
		return failed(job, job.SourceFile, start, err)
	}

	var (
		created  int64
		position int64
	)
	err := p.pipeline(ctx, r, &created, &position)
	if errors.Is(err, core.ErrJobPaused) {
		logger.Info("job paused", "chunks", created, "bytes", position)
		return p.result(job, start, created, position, false), nil
	}
	if err != nil {
		p.fail(ctx, job, err, logger)
		res, _ := failed(job, job.SourceFile, start, err)
		res.ChunksCreated = created
		res.BytesProcessed = position
		return res, err
	}

	if _, err := p.memory.SetJobStatus(ctx, job.ID, core.JobStatusCompleted, ""); err != nil {
		if current, getErr := p.memory.GetJob(ctx, job.ID); getErr == nil && current.Status == core.JobStatusPaused {
			logger.Info("job paused after its last batch", "chunks", created, "bytes", position)
			return p.result(job, start, created, position, false), nil
		}
		res, _ := failed(job, job.SourceFile, start, err)
		res.ChunksCreated = created
		res.BytesProcessed = position
		return res, err
	}
	res := p.result(job, start, created, position, true)
	logger.Info("job completed", "chunks", created, "bytes", position, "duration", res.Duration)
	return res, nil
}

// result reports a run that stopped without error, either completed or
// paused.
func (p *Processor) result(job *core.ProcessingJob, start time.Time, created, position int64, completed bool) *Result {
	return &Result{
		JobID:          job.ID,
		SourceFile:     job.SourceFile,
		ChunksCreated:  created,
		BytesProcessed: position,
		Duration:       time.Since(start),
		Success:        completed,
		Paused:         !completed,
	}
}

// pipeline runs the producer and consumer for one job. created and position
// are updated as batches are stored.
func (p *Processor) pipeline(ctx context.Context, r run, created, position *int64) error {
	job := r.job
	f, err := os.Open(job.SourceFile)
	if err != nil {
		return core.NewStreamError("open", job.SourceFile, r.startAt, err)
	}
	defer f.Close()

	c, readFrom, err := p.openChunker(f, r)
	if err != nil {
		return err
	}
	*position = readFrom

	src := &countingReader{r: f, n: readFrom}
	tracker := newProgressTracker(job.ID, job.SourceSize, readFrom, p.progressInterval, r.opts.OnProgress)
	segments := make(chan chunker.Segment, p.queueDepth)
	lastOffset := job.Progress.LastOffset

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(segments)
		for seg, err := range chunker.Stream(gctx, src, c, p.readSize) {
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				return core.NewStreamError("read", job.SourceFile, src.n, err)
			}
			select {
			case segments <- seg:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	g.Go(func() error {
		batch := make([]*core.Chunk, 0, p.batchSize)
		var last chunker.Segment
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			if err := p.store(gctx, job, batch, r.opts.GenerateEmbeddings, last.Checkpoint); err != nil {
				return err
			}
			if r.opts.OnChunk != nil {
				for _, chunk := range batch {
					r.opts.OnChunk(chunk)
				}
			}
			*created += int64(len(batch))
			*position = last.Checkpoint.Position
			lastOffset = last.Offset
			tracker.update(*position, job.Progress.ChunksCreated+*created, lastOffset)
			batch = make([]*core.Chunk, 0, p.batchSize)
			return nil
		}

		for seg := range segments {
			chunk, err := p.newChunk(gctx, job, seg)
			if err != nil {
				return err
			}
			batch = append(batch, chunk)
			last = seg
			if len(batch) >= p.batchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		if err := gctx.Err(); err != nil {
			return err
		}
		return flush()
	})

	if err := g.Wait(); err != nil {
		return err
	}
	*position = src.n
	tracker.finish(src.n, job.Progress.ChunksCreated+*created, lastOffset)
	return nil
}

func (p *Processor) openChunker(f *os.File, r run) (chunker.Chunker, int64, error) {
	ft := core.DetectFileType(r.job.SourceFile)
	if cp := r.checkpoint; cp != nil {
		if _, err := f.Seek(cp.BufferStart, io.SeekStart); err != nil {
			return nil, 0, core.NewStreamError("seek", r.job.SourceFile, cp.BufferStart, err)
		}
		prefix := make([]byte, cp.Position-cp.BufferStart)
		if _, err := io.ReadFull(f, prefix); err != nil {
			return nil, 0, core.NewStreamError("read", r.job.SourceFile, cp.BufferStart, err)
		}
		c, err := chunker.Resume(ft, r.chunkOpts, *cp, prefix)
		if err != nil {
			return nil, 0, err
		}
		return c, cp.Position, nil
	}

	if _, err := f.Seek(r.startAt, io.SeekStart); err != nil {
		return nil, 0, core.NewStreamError("seek", r.job.SourceFile, r.startAt, err)
	}
	opts := r.chunkOpts
	opts.BaseOffset = r.startAt
	c, err := chunker.New(ft, opts)
	if err != nil {
		return nil, 0, err
	}
	return c, r.startAt, nil
}

func (p *Processor) newChunk(ctx context.Context, job *core.ProcessingJob, seg chunker.Segment) (*core.Chunk, error) {
	chunk := &core.Chunk{
		Content:  seg.Content,
		Offset:   seg.Offset,
		Length:   seg.Length,
		Metadata: seg.Metadata,
	}
	if p.content != nil {
		obj, err := p.content.Put(ctx, []byte(seg.Content), contentMime(job.Metadata.FileType))
		if err != nil {
			return nil, fmt.Errorf("store chunk content: %w", err)
		}
		chunk.ContentRef = obj.Ref
	}
	return chunk, nil
}

func (p *Processor) store(ctx context.Context, job *core.ProcessingJob, batch []*core.Chunk, embed bool, cp chunker.Checkpoint) error {
	state, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	return p.memory.StoreChunks(ctx, job.ID, batch, embed, &core.Checkpoint{
		Position: cp.Position,
		State:    state,
	})
}

// fail marks a job failed. The job context may already be cancelled, so
// the update runs without it.
func (p *Processor) fail(ctx context.Context, job *core.ProcessingJob, cause error, logger *slog.Logger) {
	logger.Error("job failed", "err", cause)
	if _, err := p.memory.SetJobStatus(context.WithoutCancel(ctx), job.ID, core.JobStatusFailed, cause.Error()); err != nil {
		logger.Warn("could not mark job failed", "err", err)
	}
}

func failed(job *core.ProcessingJob, path string, start time.Time, err error) (*Result, error) {
	res := &Result{
		SourceFile: path,
		Duration:   time.Since(start),
		Error:      err,
	}
	if job != nil {
		res.JobID = job.ID
	}
	return res, err
}

func contentMime(ft core.FileType) string {
	switch ft {
	case core.FileTypeXML:
		return "application/xml"
	case core.FileTypeJSON:
		return "application/json"
	}
	return "text/plain"
}

// countingReader tracks the absolute source position.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
