package capture

import "strings"

// Classifier decides whether an exchange is a static resource (assets such
// as images, scripts and fonts) or a candidate API call. It is pure; all
// state is the configured rule sets.
type Classifier struct {
	extensions   map[string]struct{}
	contentTypes []string
	pathPatterns []string
}

// NewClassifier builds a classifier from the configured static extension,
// content-type and path-pattern lists.
func NewClassifier(extensions, contentTypes, pathPatterns []string) *Classifier {
	exts := make(map[string]struct{}, len(extensions))
	for _, e := range extensions {
		exts[strings.ToLower(e)] = struct{}{}
	}
	types := make([]string, len(contentTypes))
	for i, ct := range contentTypes {
		types[i] = strings.ToLower(ct)
	}
	return &Classifier{
		extensions:   exts,
		contentTypes: types,
		pathPatterns: pathPatterns,
	}
}

// IsStatic reports whether the exchange is a static resource. Decision
// order: HTML override (never static), path extension, response content
// type, path patterns.
func (c *Classifier) IsStatic(ex *Exchange) bool {
	path := strings.ToLower(ex.Path)

	// HTML pages are never static, even when the path looks asset-like:
	// some HTML-serving routes match the extension and path heuristics
	// below and must stay capturable.
	ct := ""
	if ex.HasResponse() {
		ct = ex.ContentType()
		if ct == "text/html" || ct == "application/xhtml+xml" {
			return false
		}
	}

	// 1. File extension of the last path segment.
	if ext := pathExtension(path); ext != "" {
		if _, ok := c.extensions[ext]; ok {
			return true
		}
	}

	// 2. Response content type, exact or prefix match.
	if ct != "" {
		for _, static := range c.contentTypes {
			if ct == static || strings.HasPrefix(ct, static) {
				return true
			}
		}
	}

	// 3. Common asset path segments.
	for _, pattern := range c.pathPatterns {
		if strings.Contains(path, pattern) {
			return true
		}
	}

	return false
}

// pathExtension extracts the extension of the final path segment, or ""
// when the segment has no dot.
func pathExtension(path string) string {
	segment := path
	if i := strings.LastIndex(path, "/"); i >= 0 {
		segment = path[i+1:]
	}
	if i := strings.LastIndex(segment, "."); i >= 0 {
		return segment[i+1:]
	}
	return ""
}
