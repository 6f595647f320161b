// Package config holds the capture pipeline configuration.
package config

import (
	"strconv"
	"time"
)

// Config holds every tunable of the capture pipeline. A Config value is
// immutable once handed to the pipeline; changes go through an explicit
// Reconfigure with a new value.
type Config struct {
	// DBPath is the SQLite database file for captured exchanges.
	DBPath string `yaml:"db_path"`

	// FilterExpr is an optional JavaScript boolean expression evaluated
	// against each exchange. Empty disables the filter stage.
	FilterExpr string `yaml:"filter"`

	// DedupEnabled gates both the exact and fuzzy duplicate checks.
	DedupEnabled bool `yaml:"dedup_enabled"`

	// FuzzyDedupEnabled gates the similarity-based duplicate check.
	FuzzyDedupEnabled bool `yaml:"fuzzy_dedup_enabled"`

	// SimilarityThreshold is a float string in [0,1]; exchanges scoring at
	// or above it against a recent record are treated as duplicates.
	SimilarityThreshold string `yaml:"similarity_threshold"`

	// SimilarityWindowSeconds bounds how far back the fuzzy check looks.
	SimilarityWindowSeconds int `yaml:"similarity_window_seconds"`

	// StoreTimeout bounds each individual store lookup or insert.
	StoreTimeout time.Duration `yaml:"store_timeout"`

	// Static resource classification rules.
	StaticExtensions   []string `yaml:"static_extensions"`
	StaticContentTypes []string `yaml:"static_content_types"`
	StaticPathPatterns []string `yaml:"static_path_patterns"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		DBPath:                  "./api_data.db",
		FilterExpr:              "",
		DedupEnabled:            true,
		FuzzyDedupEnabled:       true,
		SimilarityThreshold:     "0.8",
		SimilarityWindowSeconds: 600,
		StoreTimeout:            5 * time.Second,
		StaticExtensions:        defaultStaticExtensions(),
		StaticContentTypes:      defaultStaticContentTypes(),
		StaticPathPatterns:      defaultStaticPathPatterns(),
	}
}

// Threshold parses SimilarityThreshold, falling back to 0.8 when the value
// is malformed.
func (c Config) Threshold() float64 {
	f, err := strconv.ParseFloat(c.SimilarityThreshold, 64)
	if err != nil {
		return 0.8
	}
	return f
}

// Window returns the similarity window as a duration.
func (c Config) Window() time.Duration {
	return time.Duration(c.SimilarityWindowSeconds) * time.Second
}

func defaultStaticExtensions() []string {
	return []string{
		// images
		"jpg", "jpeg", "png", "gif", "bmp", "webp", "svg", "ico", "tiff", "tif",
		// styles and scripts
		"css", "js", "jsx", "ts", "tsx", "scss", "sass", "less",
		// fonts
		"woff", "woff2", "ttf", "eot", "otf",
		// audio/video
		"mp3", "mp4", "avi", "mov", "wmv", "flv", "webm", "ogg", "wav",
		// documents
		"pdf", "doc", "docx", "xls", "xlsx", "ppt", "pptx",
		// archives
		"zip", "rar", "7z", "tar", "gz", "bz2",
	}
}

func defaultStaticContentTypes() []string {
	return []string{
		// images
		"image/jpeg", "image/png", "image/gif", "image/bmp", "image/webp",
		"image/svg+xml", "image/x-icon", "image/tiff",
		// styles and scripts
		"text/css", "text/javascript", "application/javascript",
		"application/x-javascript", "text/ecmascript", "application/ecmascript",
		// fonts
		"font/woff", "font/woff2", "font/ttf", "font/eot", "font/otf",
		"application/font-woff", "application/font-woff2", "application/x-font-ttf",
		// audio/video
		"audio/mpeg", "audio/wav", "audio/ogg", "video/mp4", "video/avi",
		"video/quicktime", "video/x-msvideo", "video/webm",
		// documents
		"application/pdf", "application/msword", "application/vnd.ms-excel",
		"application/vnd.ms-powerpoint", "application/vnd.openxmlformats-officedocument",
		// archives
		"application/zip", "application/x-rar-compressed", "application/x-7z-compressed",
		"application/x-tar", "application/gzip",
	}
}

func defaultStaticPathPatterns() []string {
	return []string{
		"/static/", "/assets/", "/public/", "/dist/", "/build/",
		"/css/", "/js/", "/img/", "/images/", "/fonts/", "/media/",
	}
}
