package depmanager

import (
	"runtime"

	"ourtube/internal/config"
)

// BinaryName names an external executable the engine needs.
type BinaryName string

// Binaries the engine can use.
const (
	BinaryYTdlp   BinaryName = "yt-dlp"
	BinaryFFmpeg  BinaryName = "ffmpeg"
	BinaryFFprobe BinaryName = "ffprobe"
	BinaryDeno    BinaryName = "deno"
)

// Platform is an OS and architecture pair.
type Platform struct {
	OS   string
	Arch string
}

func (p Platform) String() string {
	return p.OS + "/" + p.Arch
}

// Supported download platforms.
var (
	linuxAMD64 = Platform{OS: "linux", Arch: "amd64"}
	linuxARM64 = Platform{OS: "linux", Arch: "arm64"}
)

func currentPlatform() Platform {
	return Platform{OS: runtime.GOOS, Arch: runtime.GOARCH}
}

// tool describes one downloadable release and the binaries it provides.
type tool struct {
	name BinaryName
	// required tools must resolve when using system binaries
	required bool
	// provides lists the executables installed from the release; archives may carry several
	provides []BinaryName
	// assets maps a platform to the release file name listed in the checksum file
	assets map[Platform]string
	urls   func(cfg config.DepManager) map[Platform]string
	sums   func(cfg config.DepManager) string
}

// tools is ordered so that post-processors are in place before the engine.
var tools = []tool{
	{
		name:     BinaryFFmpeg,
		provides: []BinaryName{BinaryFFmpeg, BinaryFFprobe},
		assets: map[Platform]string{
			linuxAMD64: "ffmpeg-master-latest-linux64-gpl.tar.xz",
			linuxARM64: "ffmpeg-master-latest-linuxarm64-gpl.tar.xz",
		},
		urls: func(cfg config.DepManager) map[Platform]string {
			return map[Platform]string{linuxAMD64: cfg.FFmpegLinuxAMD64, linuxARM64: cfg.FFmpegLinuxARM64}
		},
		sums: func(cfg config.DepManager) string { return cfg.FFmpegSHA256SumsURL },
	},
	{
		name:     BinaryDeno,
		provides: []BinaryName{BinaryDeno},
		assets: map[Platform]string{
			linuxAMD64: "deno-x86_64-unknown-linux-gnu.zip",
			linuxARM64: "deno-aarch64-unknown-linux-gnu.zip",
		},
		urls: func(cfg config.DepManager) map[Platform]string {
			return map[Platform]string{linuxAMD64: cfg.DenoLinuxAMD64, linuxARM64: cfg.DenoLinuxARM64}
		},
		sums: func(cfg config.DepManager) string { return cfg.DenoSHA256SumsURL },
	},
	{
		name:     BinaryYTdlp,
		required: true,
		provides: []BinaryName{BinaryYTdlp},
		assets: map[Platform]string{
			linuxAMD64: "yt-dlp_linux",
			linuxARM64: "yt-dlp_linux_aarch64",
		},
		urls: func(cfg config.DepManager) map[Platform]string {
			return map[Platform]string{linuxAMD64: cfg.YTdlpLinuxAMD64, linuxARM64: cfg.YTdlpLinuxARM64}
		},
		sums: func(cfg config.DepManager) string { return cfg.YTdlpSHA256SumsURL },
	},
}

// asset returns the release file name for the platform.
func (t tool) asset(p Platform) string {
	if name, ok := t.assets[p]; ok {
		return name
	}

	return string(t.name)
}

// url returns the download URL for the platform, falling back to the amd64 build.
func (t tool) url(cfg config.DepManager, p Platform) string {
	urls := t.urls(cfg)
	if u := urls[p]; u != "" {
		return u
	}

	return urls[linuxAMD64]
}
