package domain

import (
	"errors"
	"net/url"
	"regexp"
)

var ErrInvalidMediaID = errors.New("invalid media id")

type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

func KindOf(video bool) Kind {
	if video {
		return KindVideo
	}
	return KindAudio
}

// Ext is the cache file extension for the kind.
func (k Kind) Ext() string {
	if k == KindVideo {
		return "mp4"
	}
	return "mp3"
}

func (k Kind) Video() bool { return k == KindVideo }

// MediaItem is one entry of a room queue. Ref and Handle are filled in
// while the item is being played and belong to the room's session.
type MediaItem struct {
	ID         string             `json:"id"`
	Title      string             `json:"title"`
	Duration   int                `json:"duration"`
	Kind       Kind               `json:"kind"`
	Requester  Requester          `json:"requester"`
	SourceURL  string             `json:"source_url,omitempty"`
	Ref        *PlayableReference `json:"-"`
	Handle     string             `json:"handle,omitempty"`
	SeekOffset int                `json:"seek_offset,omitempty"`
}

func (m *MediaItem) Video() bool { return m.Kind.Video() }

type RefKind int

const (
	RefLocalFile RefKind = iota
	RefRemoteURL
	RefRemoteURLWithToken
)

func (k RefKind) String() string {
	switch k {
	case RefLocalFile:
		return "file"
	case RefRemoteURL:
		return "url"
	case RefRemoteURLWithToken:
		return "url+token"
	}
	return "unknown"
}

const HeaderDownloadToken = "X-Download-Token"

// PlayableReference is what the transport opens to stream an item.
type PlayableReference struct {
	Kind   RefKind           `json:"kind"`
	Path   string            `json:"path,omitempty"`
	URL    string            `json:"url,omitempty"`
	Token  string            `json:"token,omitempty"`
	Media  Kind              `json:"media"`
	Params map[string]string `json:"params,omitempty"`
	Offset int               `json:"offset,omitempty"`
}

func LocalFile(path string, media Kind) PlayableReference {
	return PlayableReference{Kind: RefLocalFile, Path: path, Media: media}
}

func RemoteURL(u string, media Kind) PlayableReference {
	return PlayableReference{Kind: RefRemoteURL, URL: u, Media: media}
}

func RemoteURLWithToken(u, token string, media Kind) PlayableReference {
	return PlayableReference{Kind: RefRemoteURLWithToken, URL: u, Token: token, Media: media}
}

func (r PlayableReference) Location() string {
	if r.Kind == RefLocalFile {
		return r.Path
	}
	return r.URL
}

func (r PlayableReference) Remote() bool { return r.Kind != RefLocalFile }

// Headers returns the request headers the transport must send when opening
// the stream.
func (r PlayableReference) Headers() map[string]string {
	if r.Kind != RefRemoteURLWithToken {
		return nil
	}
	return map[string]string{HeaderDownloadToken: r.Token}
}

// WithOffset returns a copy that starts playback at the given second.
func (r PlayableReference) WithOffset(seconds int) PlayableReference {
	if seconds < 0 {
		seconds = 0
	}
	r.Offset = seconds
	return r
}

func (r PlayableReference) Valid() bool {
	switch r.Kind {
	case RefLocalFile:
		return r.Path != ""
	case RefRemoteURL, RefRemoteURLWithToken:
		u, err := url.Parse(r.URL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return false
		}
		return r.Kind == RefRemoteURL || r.Token != ""
	}
	return false
}

const (
	watchBase    = "https://www.youtube.com/watch?v="
	playlistBase = "https://www.youtube.com/playlist?list="
)

var (
	linkPattern = regexp.MustCompile(
		`^(https?://)?(www\.|m\.|music\.)?` +
			`(youtube\.com/(watch\?v=|shorts/)|youtu\.be/)` +
			`([A-Za-z0-9_-]{11})([&?]\S*)?$`)
	idPattern       = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	playlistPattern = regexp.MustCompile(
		`^(https?://)?(www\.|m\.|music\.)?youtube\.com/playlist\?list=(PL[A-Za-z0-9_-]+)([&]\S*)?$`)
)

// ParseMediaID accepts a bare video id or a watch, shorts or short link and
// returns the video id.
func ParseMediaID(s string) (string, error) {
	if idPattern.MatchString(s) {
		return s, nil
	}
	m := linkPattern.FindStringSubmatch(s)
	if m == nil {
		return "", ErrInvalidMediaID
	}
	return m[5], nil
}

func WatchURL(id string) string { return watchBase + id }

// ParsePlaylistID returns the list id of a playlist link.
func ParsePlaylistID(s string) (string, bool) {
	m := playlistPattern.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return m[3], true
}

func PlaylistURL(id string) string { return playlistBase + id }
