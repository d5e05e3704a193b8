package lspclient

import (
	"net/url"
	"path/filepath"
	"runtime"
)

// DocumentURI is a URI as used throughout LSP, typically file://.
type DocumentURI string

// PathTranslator lets a Transport collaborator expose a different
// filesystem view to the server than the one the caller sees, e.g. when
// the server runs in a container that mounts the workspace at a
// different path. When a Transport does not implement PathTranslator,
// the core uses a direct file:// URI derived from the absolute host path
// with no translation.
type PathTranslator interface {
	// TranslatePathIn converts a host-visible absolute path into the URI
	// the server should see.
	TranslatePathIn(hostPath string) DocumentURI
	// TranslatePathOut converts a server-reported URI back into the
	// host-visible absolute path the caller should see.
	TranslatePathOut(serverURI DocumentURI) string
}

// FilePathToURI converts an absolute host path to a file:// URI, percent
// encoding path segments. Windows drive letters appear after the
// authority as "/C:/...".
func FilePathToURI(path string) DocumentURI {
	if path == "" {
		return ""
	}

	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}

	path = filepath.ToSlash(path)
	if runtime.GOOS == "windows" && len(path) >= 2 && path[1] == ':' {
		path = "/" + path
	}

	u := &url.URL{Scheme: "file", Path: path}
	return DocumentURI(u.String())
}

// URIToFilePath is the inverse of FilePathToURI: it recovers a host file
// path from a file:// URI, reversing Windows drive-letter encoding. URIs
// with a scheme other than "file" are returned unchanged (as a string) so
// callers can still observe and log server-reported non-file URIs.
func URIToFilePath(uri DocumentURI) string {
	if uri == "" {
		return ""
	}

	u, err := url.Parse(string(uri))
	if err != nil {
		return string(uri)
	}
	if u.Scheme != "file" {
		return string(uri)
	}

	path := u.Path
	if runtime.GOOS == "windows" && len(path) >= 3 && path[0] == '/' && path[2] == ':' {
		path = path[1:]
	}
	return filepath.FromSlash(path)
}

// resolveURI applies a PathTranslator's TranslatePathIn when present,
// otherwise falls back to a direct file:// conversion.
func resolveURI(t PathTranslator, hostPath string) DocumentURI {
	if t != nil {
		return t.TranslatePathIn(hostPath)
	}
	return FilePathToURI(hostPath)
}

// resolvePath applies a PathTranslator's TranslatePathOut when present,
// otherwise falls back to a direct file:// parse.
func resolvePath(t PathTranslator, uri DocumentURI) string {
	if t != nil {
		return t.TranslatePathOut(uri)
	}
	return URIToFilePath(uri)
}
