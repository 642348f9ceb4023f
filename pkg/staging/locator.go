// Package staging resolves file references and moves directory trees between
// the submit host and a resource's working area.
//
// Locator convention. A reference source is a file:// URL naming the host the
// file lives on and its absolute path. The trailing slash is significant:
//
//	file://usercontainer/work/test_input    ModeItem: the destination becomes
//	                                         an exact mirror of test_input
//	file://usercontainer/work/test_input/   ModeContents: entries of test_input
//	                                         are merged into the destination
//
// In both modes the destination path names the staged item itself, never its
// parent. The same rule applies when outputs are copied back.
package staging

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Scheme is the only locator scheme understood by the resolver.
const Scheme = "file"

// Mode selects how a source directory is placed at its destination.
type Mode int

const (
	ModeItem Mode = iota
	ModeContents
)

func (m Mode) String() string {
	switch m {
	case ModeItem:
		return "item"
	case ModeContents:
		return "contents"
	default:
		return "unknown"
	}
}

// Locator is the parsed form of a FileReference source.
type Locator struct {
	Host string
	Path string
	Mode Mode
}

// String renders the locator as a file:// URL.
func (l Locator) String() string {
	u := url.URL{Scheme: Scheme, Host: l.Host, Path: l.Path}
	s := u.String()
	if l.Mode == ModeContents && !strings.HasSuffix(s, "/") {
		s += "/"
	}
	return s
}

// ParseLocator parses a file:// locator. The path must be absolute.
func ParseLocator(s string) (Locator, error) {
	u, err := url.Parse(s)
	if err != nil {
		return Locator{}, fmt.Errorf("parse locator %q: %w", s, err)
	}
	if u.Scheme != Scheme {
		return Locator{}, fmt.Errorf("locator %q: unsupported scheme %q", s, u.Scheme)
	}
	if !path.IsAbs(u.Path) {
		return Locator{}, fmt.Errorf("locator %q: path is not absolute", s)
	}

	mode := ModeItem
	if len(u.Path) > 1 && strings.HasSuffix(u.Path, "/") {
		mode = ModeContents
	}
	return Locator{Host: u.Host, Path: path.Clean(u.Path), Mode: mode}, nil
}
