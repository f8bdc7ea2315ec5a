package fetch

import (
	"fmt"
	"net"
	"net/url"
	"path"
	"strings"
)

// Ref is a parsed file reference. Local references carry only Path.
type Ref struct {
	Scheme   string
	Host     string // host:port
	User     string
	Password string
	Path     string
	Query    string
}

// Local reports whether the reference names a file on the local
// filesystem.
func (r Ref) Local() bool { return r.Scheme == "" }

func (r Ref) String() string {
	if r.Local() {
		return r.Path
	}
	s := r.Scheme + "://" + r.Host + r.Path
	if r.Query != "" {
		s += "?" + r.Query
	}
	return s
}

// Base is the file name the reference points at.
func (r Ref) Base() string { return path.Base(r.Path) }

// Sidecar returns the reference of the GDAL PAM sidecar next to r. Query
// strings are dropped since they are usually signed for one object.
func (r Ref) Sidecar() Ref {
	r.Path += ".aux.xml"
	r.Query = ""
	return r
}

var defaultPorts = map[string]string{"ftp": "21"}

// ParseRef parses a plain path, a file:// URL, an http(s):// URL or an
// ftp:// URL with optional credentials. FTP logins default to anonymous.
func ParseRef(s string) (Ref, error) {
	if !strings.Contains(s, "://") {
		return Ref{Path: s}, nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return Ref{}, fmt.Errorf("parse reference %q: %w", s, err)
	}

	switch u.Scheme {
	case "file":
		return Ref{Path: u.Path}, nil
	case "http", "https":
		if u.Host == "" || u.Path == "" || u.Path == "/" {
			return Ref{}, fmt.Errorf("reference %q: missing host or path", s)
		}
		return Ref{Scheme: u.Scheme, Host: u.Host, Path: u.Path, Query: u.RawQuery}, nil
	case "ftp":
	default:
		return Ref{}, fmt.Errorf("reference %q: unsupported scheme %q", s, u.Scheme)
	}
	if u.Hostname() == "" || u.Path == "" || u.Path == "/" {
		return Ref{}, fmt.Errorf("reference %q: missing host or path", s)
	}

	port := u.Port()
	if port == "" {
		port = defaultPorts[u.Scheme]
	}
	ref := Ref{
		Scheme:   u.Scheme,
		Host:     net.JoinHostPort(u.Hostname(), port),
		User:     "anonymous",
		Password: "anonymous",
		Path:     u.Path,
	}
	if u.User != nil {
		ref.User = u.User.Username()
		ref.Password, _ = u.User.Password()
	}
	return ref, nil
}
