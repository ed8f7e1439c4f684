// Package config handles application configuration loading and management.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the application configuration.
type Config struct {
	HTTP       HTTP
	App        App
	Session    Session
	Hub        Hub
	Dir        Dir
	Storage    Storage
	DepManager DepManager
	Proxy      Proxy
	Mirror     Mirror
}

// App holds application-wide configuration.
type App struct {
	LogLevel string `env:"OURTUBE_APP_LOG_LEVEL" envDefault:"info"`
	// Engine selects the extraction engine: "ytdlp" or "mock".
	Engine string `env:"OURTUBE_APP_ENGINE" envDefault:"ytdlp"`
}

// Session holds download session configuration.
type Session struct {
	// SettleDelay is the pause after the engine returns before the staging dir is trusted.
	SettleDelay time.Duration `env:"OURTUBE_SESSION_SETTLE_DELAY" envDefault:"10s"`
	// ArtifactWait bounds how long the finalizer polls for the staged file after SettleDelay.
	ArtifactWait time.Duration `env:"OURTUBE_SESSION_ARTIFACT_WAIT" envDefault:"30s"`
	// PollInterval is the delay between artifact lookups.
	PollInterval time.Duration `env:"OURTUBE_SESSION_POLL_INTERVAL" envDefault:"1s"`

	Retries             int    `env:"OURTUBE_SESSION_RETRIES"              envDefault:"10"`
	FragmentRetries     int    `env:"OURTUBE_SESSION_FRAGMENT_RETRIES"     envDefault:"10"`
	ConcurrentFragments int    `env:"OURTUBE_SESSION_CONCURRENT_FRAGMENTS" envDefault:"5"`
	AudioQuality        string `env:"OURTUBE_SESSION_AUDIO_QUALITY"        envDefault:"192"`
}

// Hub holds broadcast hub configuration.
type Hub struct {
	// BroadcastBuffer is the capacity of the handoff channel into the hub loop.
	BroadcastBuffer int `env:"OURTUBE_HUB_BROADCAST_BUFFER" envDefault:"256"`
	// ClientBuffer is the per-client outgoing message capacity; a full buffer drops the client.
	ClientBuffer int           `env:"OURTUBE_HUB_CLIENT_BUFFER"  envDefault:"256"`
	WriteTimeout time.Duration `env:"OURTUBE_HUB_WRITE_TIMEOUT"  envDefault:"10s"`
	PongTimeout  time.Duration `env:"OURTUBE_HUB_PONG_TIMEOUT"   envDefault:"60s"`
}

// PingInterval returns how often keepalive pings are written; it must be shorter than PongTimeout.
func (h Hub) PingInterval() time.Duration {
	return h.PongTimeout * 9 / 10 //nolint:mnd
}

// Storage holds retention configuration.
type Storage struct {
	// StagingTTL is the age after which abandoned session staging dirs are removed.
	StagingTTL      time.Duration `env:"OURTUBE_STORAGE_STAGING_TTL"      envDefault:"24h"`
	PublicTTL       time.Duration `env:"OURTUBE_STORAGE_PUBLIC_TTL"       envDefault:"0s"` // 0 keeps files forever
	CleanupInterval time.Duration `env:"OURTUBE_STORAGE_CLEANUP_INTERVAL" envDefault:"1h"`
}

// HTTP holds HTTP server configuration.
type HTTP struct {
	Port              string        `env:"OURTUBE_HTTP_PORT"                envDefault:":8000"`
	HandlerTimeout    time.Duration `env:"OURTUBE_HTTP_HANDLER_TIMEOUT"     envDefault:"20s"`
	ReadHeaderTimeout time.Duration `env:"OURTUBE_HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`
	ShutdownTimeout   time.Duration `env:"OURTUBE_HTTP_SHUTDOWN_TIMEOUT"    envDefault:"10s"`
}

// Dir holds directory paths for public files, staging, cache, and cookie file.
type Dir struct {
	Public  string `env:"OURTUBE_DIR_PUBLIC"  envDefault:"./downloads"`      // finalized files served here
	Staging string `env:"OURTUBE_DIR_STAGING" envDefault:"./data/staging"` // in-progress artifacts
	Cache   string `env:"OURTUBE_DIR_CACHE"   envDefault:"./data/cache"`   // yt-dlp cache (meta, sigs)

	// must contain cookies.txt file
	// see: https://github.com/yt-dlp/yt-dlp/wiki/FAQ#how-do-i-pass-cookies-to-yt-dlp
	CookieFile string `env:"OURTUBE_DIR_COOKIE_FILE" envDefault:""`
}

// SetAbsPaths converts all directory paths to absolute paths.
func (c *Dir) SetAbsPaths() error {
	var err error
	if c.Public, err = filepath.Abs(c.Public); err != nil {
		return fmt.Errorf("public: %w", err)
	}

	if c.Staging, err = filepath.Abs(c.Staging); err != nil {
		return fmt.Errorf("staging: %w", err)
	}

	if c.Cache, err = filepath.Abs(c.Cache); err != nil {
		return fmt.Errorf("cache: %w", err)
	}

	if c.CookieFile != "" {
		if c.CookieFile, err = filepath.Abs(c.CookieFile); err != nil {
			return fmt.Errorf("cookie file: %w", err)
		}
	}

	return nil
}

// New loads configuration from environment variables.
func New() (*Config, error) {
	cfg := &Config{}

	err := env.Parse(cfg)
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	err = cfg.Dir.SetAbsPaths()
	if err != nil {
		return nil, fmt.Errorf("set absolute paths: %w", err)
	}

	err = cfg.DepManager.SetAbsPaths()
	if err != nil {
		return nil, fmt.Errorf("set dep manager absolute paths: %w", err)
	}

	cfg.Proxy.parseList()

	return cfg, nil
}

// DepManager holds binary dependency management configuration.
type DepManager struct {
	// BinsDir is the directory where binaries are stored
	BinsDir string `env:"OURTUBE_DEPMANAGER_BINS_DIR" envDefault:"./bins"`
	// UseSystemBinaries indicates whether to use binaries found in PATH instead of downloading them.
	UseSystemBinaries bool `env:"OURTUBE_DEPMANAGER_USE_SYSTEM_BINARIES" envDefault:"true"`
	// UpdateInterval is how often to check for binary updates
	UpdateInterval time.Duration `env:"OURTUBE_DEPMANAGER_UPDATE_INTERVAL" envDefault:"24h"`

	// ffmpeg binary URLs per platform.
	FFmpegSHA256SumsURL string `env:"OURTUBE_DEPMANAGER_FFMPEG_SHA256SUMS_URL" envDefault:"https://github.com/BtbN/FFmpeg-Builds/releases/latest/download/checksums.sha256"`                        //nolint:lll
	FFmpegLinuxARM64    string `env:"OURTUBE_DEPMANAGER_FFMPEG_LINUX_ARM64"    envDefault:"https://github.com/BtbN/FFmpeg-Builds/releases/latest/download/ffmpeg-master-latest-linuxarm64-gpl.tar.xz"` //nolint:lll
	FFmpegLinuxAMD64    string `env:"OURTUBE_DEPMANAGER_FFMPEG_LINUX_AMD64"    envDefault:"https://github.com/BtbN/FFmpeg-Builds/releases/latest/download/ffmpeg-master-latest-linux64-gpl.tar.xz"`    //nolint:lll

	// yt-dlp binary URLs per platform.
	YTdlpSHA256SumsURL string `env:"OURTUBE_DEPMANAGER_YTDLP_SHA256SUMS_URL" envDefault:"https://github.com/yt-dlp/yt-dlp/releases/latest/download/SHA2-256SUMS"`      //nolint:lll
	YTdlpLinuxARM64    string `env:"OURTUBE_DEPMANAGER_YTDLP_LINUX_ARM64"    envDefault:"https://github.com/yt-dlp/yt-dlp/releases/latest/download/yt-dlp_linux_aarch64"` //nolint:lll
	YTdlpLinuxAMD64    string `env:"OURTUBE_DEPMANAGER_YTDLP_LINUX_AMD64"    envDefault:"https://github.com/yt-dlp/yt-dlp/releases/latest/download/yt-dlp_linux"`         //nolint:lll

	// deno binary URLs per platform, needed by yt-dlp for YouTube signature solving.
	DenoSHA256SumsURL string `env:"OURTUBE_DEPMANAGER_DENO_SHA256SUMS_URL" envDefault:"https://github.com/denoland/deno/releases/latest/download/deno-aarch64-unknown-linux-gnu.zip.sha256sum,https://github.com/denoland/deno/releases/latest/download/deno-x86_64-unknown-linux-gnu.zip.sha256sum"` //nolint:lll
	DenoLinuxARM64    string `env:"OURTUBE_DEPMANAGER_DENO_LINUX_ARM64"    envDefault:"https://github.com/denoland/deno/releases/latest/download/deno-aarch64-unknown-linux-gnu.zip"`                                                                                                                    //nolint:lll
	DenoLinuxAMD64    string `env:"OURTUBE_DEPMANAGER_DENO_LINUX_AMD64"    envDefault:"https://github.com/denoland/deno/releases/latest/download/deno-x86_64-unknown-linux-gnu.zip"`                                                                                                                     //nolint:lll
}

// SetAbsPaths converts the BinsDir path to an absolute path.
func (d *DepManager) SetAbsPaths() error {
	var err error
	if d.BinsDir, err = filepath.Abs(d.BinsDir); err != nil {
		return fmt.Errorf("bins dir: %w", err)
	}

	return nil
}

// Proxy holds proxy configuration for engine requests.
type Proxy struct {
	// List is a comma-separated list of proxy URLs in socks5h format
	List string `env:"OURTUBE_PROXY_LIST" envDefault:""`
	// HealthCheckInterval is how often to check proxy health
	HealthCheckInterval time.Duration `env:"OURTUBE_PROXY_HEALTH_CHECK_INTERVAL" envDefault:"5m"`
	// FailureBackoff is the initial backoff duration for failed proxies
	FailureBackoff time.Duration `env:"OURTUBE_PROXY_FAILURE_BACKOFF" envDefault:"1m"`
	// MaxFailures is the maximum number of failures before a proxy is temporarily removed
	MaxFailures int `env:"OURTUBE_PROXY_MAX_FAILURES" envDefault:"3"`

	// Proxies is the parsed list of proxy URLs
	Proxies []string `env:"-"`
}

// parseList parses the comma-separated proxy list.
func (p *Proxy) parseList() {
	p.Proxies = nil

	if p.List == "" {
		return
	}

	for proxy := range strings.SplitSeq(p.List, ",") {
		proxy = strings.TrimSpace(proxy)
		if proxy != "" {
			p.Proxies = append(p.Proxies, proxy)
		}
	}
}

// Mirror holds the optional S3 mirror configuration. An empty bucket disables mirroring.
type Mirror struct {
	S3Bucket  string        `env:"OURTUBE_MIRROR_S3_BUCKET"  envDefault:""`
	S3Prefix  string        `env:"OURTUBE_MIRROR_S3_PREFIX"  envDefault:"ourtube/"`
	S3Profile string        `env:"OURTUBE_MIRROR_S3_PROFILE" envDefault:""`
	S3Region  string        `env:"OURTUBE_MIRROR_S3_REGION"  envDefault:""`
	Timeout   time.Duration `env:"OURTUBE_MIRROR_TIMEOUT"    envDefault:"10m"`
}

// Enabled reports whether finalized artifacts should be uploaded.
func (m Mirror) Enabled() bool {
	return m.S3Bucket != ""
}
