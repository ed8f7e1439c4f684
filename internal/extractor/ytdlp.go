package extractor

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"ourtube/internal/config"
	"ourtube/internal/consts"
	"ourtube/internal/depmanager"
	"ourtube/internal/errs"
	"ourtube/internal/observability"
	"ourtube/pkg/ptr"
	"ourtube/pkg/urls"

	"github.com/lrstanley/go-ytdlp"
)

// outputTemplate names staged files by media ID, never by title.
const outputTemplate = "%(id)s.%(ext)s"

// Toolchain resolves installed engine binaries.
type Toolchain interface {
	GetInstalledPath(name depmanager.BinaryName) string
}

// ProxyPool hands out proxies and learns from their outcome.
type ProxyPool interface {
	Pick() string
	Fail(proxyURL string)
	Succeed(proxyURL string)
}

// YTdlp runs yt-dlp through go-ytdlp.
type YTdlp struct {
	log       *slog.Logger
	cfg       *config.Config
	toolchain Toolchain
	proxies   ProxyPool
	metrics   *observability.Metrics
	now       func() time.Time
}

// NewYTdlp creates a yt-dlp extractor. toolchain and proxies may be nil.
func NewYTdlp(log *slog.Logger, cfg *config.Config, toolchain Toolchain, proxies ProxyPool,
	metrics *observability.Metrics,
) *YTdlp {
	return &YTdlp{
		log:       log.With(slog.String("package", "extractor"), slog.String("engine", consts.EngineYTdlp)),
		cfg:       cfg,
		toolchain: toolchain,
		proxies:   proxies,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Probe resolves the media ID and title without downloading.
func (d *YTdlp) Probe(ctx context.Context, url string) (Media, error) {
	log := d.log.With(slog.String("func", "Probe"), slog.String("url", url))

	command := d.command().
		SkipDownload().
		PrintJSON()

	res, err := d.run(ctx, "probe", command, url)
	if err != nil {
		return Media{}, err
	}

	info, err := res.GetExtractedInfo()
	if err != nil {
		log.ErrorContext(ctx, "ytdlp get extracted info", slog.Any("error", err), slog.Any("result", Result{res}))

		return Media{}, fmt.Errorf("%w: extracted info: %w", errs.ErrExtractionFailed, err)
	}

	media, ok := mediaFromInfo(info)
	if !ok {
		return Media{}, fmt.Errorf("%w: no media id in engine output", errs.ErrExtractionFailed)
	}

	log.DebugContext(ctx, "probed", slog.String("id", media.ID), slog.String("title", media.Title))

	return media, nil
}

// Fetch runs the engine with the request plan, writing into req.StagingDir.
func (d *YTdlp) Fetch(ctx context.Context, req FetchRequest, onProgress ProgressFunc) error {
	log := d.log.With(slog.String("func", "Fetch"), slog.String("url", req.URL))

	progressFn := func(prog ytdlp.ProgressUpdate) {
		log.DebugContext(ctx, "ytdlp progress", slog.Any("progress_update", ProgressUpdate{&prog}))

		if prog.Status != ytdlp.ProgressStatusDownloading || onProgress == nil {
			return
		}

		onProgress(transferFromUpdate(prog).Format(d.now()))
	}

	command := d.command().
		ProgressFunc(defaultProgressFreq, progressFn).
		Output(filepath.Join(req.StagingDir, outputTemplate))

	command = applySession(command, d.cfg.Session)
	command = applyPlan(command, req.Plan, d.cfg.Session.AudioQuality)

	res, err := d.run(ctx, "fetch", command, req.URL)
	if err != nil {
		return err
	}

	log.InfoContext(ctx, "done", slog.Any("result", Result{res}))

	return nil
}

// command builds the invocation shared by probe and fetch.
func (d *YTdlp) command() *ytdlp.Command {
	command := ytdlp.New().
		NoPlaylist().
		CacheDir(d.cfg.Dir.Cache)

	if d.toolchain != nil {
		if path := d.toolchain.GetInstalledPath(depmanager.BinaryYTdlp); path != "" {
			command = command.SetExecutable(path)
		}

		if path := d.toolchain.GetInstalledPath(depmanager.BinaryFFmpeg); path != "" {
			command = command.FFmpegLocation(path)
		}
	}

	if d.cfg.Dir.CookieFile != "" {
		command = command.Cookies(d.cfg.Dir.CookieFile)
	}

	return command
}

// run executes command against url through a proxy when one is available.
func (d *YTdlp) run(ctx context.Context, op string, command *ytdlp.Command, url string) (*ytdlp.Result, error) {
	log := d.log.With(slog.String("op", op), slog.String("url", url))

	var proxyURL string
	if d.proxies != nil {
		proxyURL = d.proxies.Pick()
	}

	if proxyURL != "" {
		log.InfoContext(ctx, "using proxy", slog.String("proxy", urls.Host(proxyURL)))
		command = command.Proxy(proxyURL)

		if d.metrics != nil {
			d.metrics.RecordProxyRequest(urls.Host(proxyURL))
		}
	}

	res, err := command.Run(ctx, url)
	if err != nil {
		log.ErrorContext(ctx, "ytdlp run", slog.Any("error", err), slog.Any("result", Result{res}))

		if d.metrics != nil {
			d.metrics.RecordEngineRequest(consts.EngineYTdlp, op, "error")
			d.metrics.RecordEngineError(consts.EngineYTdlp, errorType(err))
		}

		if proxyURL != "" && ctx.Err() == nil {
			d.proxies.Fail(proxyURL)
		}

		if ctx.Err() != nil {
			return res, fmt.Errorf("ytdlp %s: %w", op, ctx.Err())
		}

		return res, fmt.Errorf("%w: %s", errs.ErrExtractionFailed, engineMessage(res, err))
	}

	if proxyURL != "" {
		d.proxies.Succeed(proxyURL)
	}

	if d.metrics != nil {
		d.metrics.RecordEngineRequest(consts.EngineYTdlp, op, "ok")
	}

	return res, nil
}

func applySession(command *ytdlp.Command, cfg config.Session) *ytdlp.Command {
	command = command.
		Continue().
		NoCheckCertificates()

	if cfg.Retries > 0 {
		command = command.Retries(strconv.Itoa(cfg.Retries))
	}

	if cfg.FragmentRetries > 0 {
		command = command.FragmentRetries(strconv.Itoa(cfg.FragmentRetries))
	}

	if cfg.ConcurrentFragments > 0 {
		command = command.ConcurrentFragments(cfg.ConcurrentFragments)
	}

	return command
}

func applyPlan(command *ytdlp.Command, plan Plan, audioQuality string) *ytdlp.Command {
	switch {
	case plan.ThumbnailOnly:
		return command.WriteThumbnail().SkipDownload()
	case plan.ExtractAudio:
		if audioQuality == "" {
			audioQuality = plan.AudioQuality
		}

		return command.
			Format(plan.Selector).
			ExtractAudio().
			AudioFormat(plan.AudioCodec).
			AudioQuality(audioQuality)
	default:
		command = command.Format(plan.Selector)
		if plan.MergeFormat != "" {
			command = command.MergeOutputFormat(plan.MergeFormat)
		}

		return command
	}
}

func mediaFromInfo(info []*ytdlp.ExtractedInfo) (Media, bool) {
	for _, inf := range info {
		if inf == nil || inf.ID == "" {
			continue
		}

		return Media{ID: inf.ID, Title: ptr.Deref(inf.Title)}, true
	}

	return Media{}, false
}

func transferFromUpdate(prog ytdlp.ProgressUpdate) Transfer {
	return Transfer{
		Filename:      filepath.Base(prog.Filename),
		Downloaded:    prog.DownloadedBytes,
		Total:         prog.TotalBytes,
		FragmentIndex: prog.FragmentIndex,
		FragmentCount: prog.FragmentCount,
		Started:       prog.Started,
	}
}

// engineMessage picks the most useful line the engine printed about the failure.
func engineMessage(res *ytdlp.Result, err error) string {
	if res != nil {
		for line := range strings.Lines(res.Stderr) {
			if msg, ok := strings.CutPrefix(strings.TrimSpace(line), "ERROR: "); ok {
				return msg
			}
		}
	}

	return err.Error()
}
