// Package job runs one video generation job end to end: it decodes the input,
// materializes media, picks and fills a workflow template, submits it to
// ComfyUI and returns the generated video. A job always produces a Result,
// failures are reported in it and never escape as panics or errors.
package job

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/richinsley/comfyvideo/client"
	"github.com/richinsley/comfyvideo/errdefs"
	"github.com/richinsley/comfyvideo/workflow"
)

// ErrVideoNotFound is the result error of a run that produced no video
const ErrVideoNotFound = "video not found"

// Result is what a job reports back. Exactly one field is set.
type Result struct {
	Video string `json:"video,omitempty"`
	Error string `json:"error,omitempty"`
}

// Options configure a Runner
type Options struct {
	Address string
	Port    int
	TLS     bool

	Bootstrap client.BootstrapConfig

	// ScratchRoot holds the per job task_<uuid> directories
	ScratchRoot string
	KeepScratch bool
	// DefaultImage is used when a job supplies no start image
	DefaultImage string
	// DefaultMegaModel is placed into the checkpoint directory when available
	DefaultMegaModel string
	// UploadInputs uploads materialized inputs instead of passing local paths
	UploadInputs bool

	Manifest     *workflow.Manifest
	Materializer Materializer
	Placer       ModelPlacer
	HTTPClient   *http.Client

	// Handlers returns the message handlers for a job, DefaultMessageHandlers when nil
	Handlers func(logger *slog.Logger) *client.MessageHandlers
	Logger   *slog.Logger
}

// Runner executes jobs. Each job gets its own client identity, so a Runner may
// be shared by concurrent jobs.
type Runner struct {
	opts Options
}

// NewRunner returns a runner using the embedded manifest when opts.Manifest is nil
func NewRunner(opts Options) (*Runner, error) {
	if opts.Manifest == nil {
		m, err := workflow.LoadManifest()
		if err != nil {
			return nil, err
		}
		opts.Manifest = m
	}
	if opts.Materializer == nil {
		opts.Materializer = &FileMaterializer{HTTPClient: opts.HTTPClient}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Bootstrap == (client.BootstrapConfig{}) {
		opts.Bootstrap = client.DefaultBootstrapConfig()
	}
	return &Runner{opts: opts}, nil
}

// Handle runs the job encoded in raw
func (r *Runner) Handle(ctx context.Context, raw []byte) (res Result) {
	logger := r.opts.Logger
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("job panicked", "panic", rec, "stack", string(debug.Stack()))
			res = Result{Error: fmt.Sprintf("internal error: %v", rec)}
		}
	}()

	jc, err := NewContext(r.opts.ScratchRoot, r.opts.KeepScratch)
	if err != nil {
		logger.Error("job failed", "error", err)
		return Result{Error: err.Error()}
	}
	defer func() {
		if err := jc.Close(); err != nil {
			logger.Warn("cannot remove scratch directory", "dir", jc.Dir, "error", err)
		}
	}()
	logger = logger.With("job_id", jc.ID)

	in, err := DecodeInput(raw)
	if err != nil {
		logger.Error("job failed", "error", err)
		return Result{Error: err.Error()}
	}
	logger.Info("received job", "input", in)

	video, err := r.run(ctx, jc, in, logger)
	if err != nil {
		logger.Error("video generation failed", "error", err, "kind", errdefs.KindOf(err))
		return Result{Error: err.Error()}
	}
	return Result{Video: video}
}

// HandleJSON runs a job and encodes its result
func (r *Runner) HandleJSON(ctx context.Context, raw []byte) []byte {
	out, err := json.Marshal(r.Handle(ctx, raw))
	if err != nil {
		// a Result always encodes
		panic(err)
	}
	return out
}

func (r *Runner) newClient() *client.ComfyClient {
	c := client.NewComfyClient(r.opts.Address, r.opts.Port)
	c.SetTLS(r.opts.TLS)
	if r.opts.HTTPClient != nil {
		c.SetHttpClient(r.opts.HTTPClient)
	}
	return c
}

func (r *Runner) run(ctx context.Context, jc *Context, in *Input, logger *slog.Logger) (string, error) {
	p := in.Params()
	CheckPrompt(logger, p)
	if len(p.Loras) > workflow.MaxLoraPairs {
		logger.Warn("too many LoRA pairs, using the first ones", "given", len(p.Loras), "max", workflow.MaxLoraPairs)
		p.Loras = p.Loras[:workflow.MaxLoraPairs]
	}

	c := r.newClient()
	logger = logger.With("client_id", c.ClientID())
	if err := c.WaitForServer(ctx, r.opts.Bootstrap); err != nil {
		return "", err
	}

	if err := r.materialize(ctx, c, jc, in, p, logger); err != nil {
		return "", err
	}

	r.placeModel(r.opts.DefaultMegaModel, logger)
	catalog := r.catalog(ctx, c, logger)
	kind := workflow.SelectKind(p, catalog)
	if kind == workflow.Mega {
		if name, ok := catalog.MegaModel(); ok {
			r.placeModel(name, logger)
		}
	}

	spec, err := r.opts.Manifest.Spec(kind)
	if err != nil {
		return "", err
	}
	file, err := r.opts.Manifest.File(kind, p)
	if err != nil {
		return "", err
	}
	precomputed, err := r.opts.Manifest.Precomputed(kind, p)
	if err != nil {
		return "", err
	}
	logger.Info("using workflow", "kind", kind, "file", file, "loras", len(p.Loras))

	tpl, err := workflow.LoadFile(file, precomputed)
	if err != nil {
		return "", err
	}
	tpl.Kind = kind
	if len(tpl.Warnings) > 0 {
		logger.Warn("workflow has unresolved references", "count", len(tpl.Warnings))
	}
	if err := tpl.Inject(p, catalog); err != nil {
		return "", err
	}
	report := tpl.Repair(r.opts.Manifest.RequiredInputs())
	if !report.OK() {
		logger.Warn("critical inputs still missing", "inputs", len(report.Unrepaired))
	}

	ws, err := c.OpenChannel(ctx, r.opts.Bootstrap)
	if err != nil {
		return "", err
	}
	defer ws.Close()

	handlers := client.DefaultMessageHandlers()
	if r.opts.Handlers != nil {
		handlers = r.opts.Handlers(logger)
	}
	record, err := c.Execute(ctx, ws, tpl.Nodes, handlers)
	if err != nil {
		return "", err
	}

	set := c.ExtractVideos(ctx, record)
	video := set.Select(spec.FinalOutput)
	if video == nil {
		return "", errdefs.OutputMissingf(ErrVideoNotFound)
	}
	logger.Info("returning video", "node", video.NodeID, "filename", video.Output.Filename, "bytes", len(video.Data))
	return video.Base64(), nil
}

func (r *Runner) materialize(ctx context.Context, c *client.ComfyClient, jc *Context, in *Input, p *workflow.Params, logger *slog.Logger) error {
	m := r.opts.Materializer
	if r.opts.UploadInputs {
		m = &UploadingMaterializer{Local: m, Client: c}
	}

	src, ok := in.Image()
	if !ok && r.opts.DefaultImage != "" {
		logger.Info("using default image", "path", r.opts.DefaultImage)
		src, ok = MediaSource{Kind: SourcePath, Value: r.opts.DefaultImage}, true
	}
	if ok {
		path, err := m.Materialize(ctx, src, jc.Dir, ImageFile)
		if err != nil {
			return err
		}
		p.ImagePath = path
	}

	if src, ok := in.EndImage(); ok {
		path, err := m.Materialize(ctx, src, jc.Dir, EndImageFile)
		if err != nil {
			return err
		}
		p.EndImagePath = path
	}

	if src, ok := in.Video(); ok {
		path, err := m.Materialize(ctx, src, jc.Dir, VideoFile)
		if err != nil {
			return err
		}
		p.VideoPath = path
	}
	return nil
}

func (r *Runner) placeModel(name string, logger *slog.Logger) {
	if r.opts.Placer == nil || name == "" || !r.opts.Placer.Available(name) {
		return
	}
	if _, err := r.opts.Placer.Ensure(name); err != nil {
		logger.Warn("cannot place model in checkpoint directory", "model", name, "error", err)
	}
}

// catalog reads the engine's model lists. An unreadable catalog is not fatal,
// templates then keep the models they name.
func (r *Runner) catalog(ctx context.Context, c *client.ComfyClient, logger *slog.Logger) *workflow.ModelCatalog {
	objects, err := c.GetObjectInfos(ctx)
	if err != nil {
		logger.Warn("cannot read node catalog", "error", err)
		return workflow.EmptyModelCatalog()
	}
	return workflow.NewModelCatalog(objects.Raw)
}
