// Package live implements shared editing sessions on top of a hub: a
// session is a live layer plus a config file and a message channel
// under the stage's .live folder. Participants exchange presence and
// merge notifications through the channel while edits replicate
// through the live layer.
package live

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/binzume/scenesync/client"
	"github.com/binzume/scenesync/scene"
)

const (
	configFileName  = "__session__.toml"
	channelFileName = "__session__.channel"
	liveLayerName   = "root" + scene.LiveExt
)

var sessionNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// ValidSessionName reports whether name can be used for a session:
// a letter followed by letters, digits, '_' or '-'.
func ValidSessionName(name string) bool {
	return sessionNameRe.MatchString(name)
}

// Info derives the file layout of one session from its stage URL. For
// a stage dir/stem.ext the sessions live under dir/.live/stem.live/,
// one folder per session.
type Info struct {
	StageURL string
	Name     string
}

func NewInfo(stageURL, name string) (*Info, error) {
	if !ValidSessionName(name) {
		return nil, fmt.Errorf("session name %q: %w", name, ErrBadName)
	}
	return &Info{StageURL: stageURL, Name: name}, nil
}

func (inf *Info) stem() string {
	base := client.BaseName(inf.StageURL)
	return strings.TrimSuffix(base, path.Ext(base))
}

// SessionRootURL is the folder holding every session of the stage.
func (inf *Info) SessionRootURL() string {
	return client.ParentURL(inf.StageURL) + "/.live/" + inf.stem() + scene.LiveExt
}

// SessionDirURL is this session's folder.
func (inf *Info) SessionDirURL() string {
	return inf.SessionRootURL() + "/" + inf.Name
}

// LiveLayerURL is the shared live layer.
func (inf *Info) LiveLayerURL() string {
	return inf.SessionDirURL() + "/" + liveLayerName
}

// ConfigURL is the session config file.
func (inf *Info) ConfigURL() string {
	return inf.SessionDirURL() + "/" + configFileName
}

// ChannelURL is the session message channel.
func (inf *Info) ChannelURL() string {
	return inf.SessionDirURL() + "/" + channelFileName
}
