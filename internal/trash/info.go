package trash

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

// deletionDateLayout is local time without a zone, as the trash
// specification requires.
const deletionDateLayout = "2006-01-02T15:04:05"

const infoGroup = "Trash Info"

// Info files are desktop entries: "Key=Value" with no padding.
func init() {
	ini.PrettyFormat = false
}

// infoOptions keep a ';' or '#' inside an escaped path as part of the value.
var infoOptions = ini.LoadOptions{
	KeyValueDelimiters:      "=",
	IgnoreInlineComment:     true,
	SkipUnrecognizableLines: true,
}

// TrashInfo is the content of a .trashinfo file.
type TrashInfo struct {
	// Path is the absolute original path.
	Path         string
	DeletionDate time.Time
}

// Marshal renders the info file. The path is percent encoded with its
// slashes kept.
func (i TrashInfo) Marshal() []byte {
	f := ini.Empty(infoOptions)
	sec, _ := f.NewSection(infoGroup)
	sec.Key("Path").SetValue((&url.URL{Path: i.Path}).EscapedPath())
	sec.Key("DeletionDate").SetValue(i.DeletionDate.Local().Format(deletionDateLayout))
	var b bytes.Buffer
	_, _ = f.WriteTo(&b)
	return b.Bytes()
}

// ParseTrashInfo reads a .trashinfo file. Keys outside the [Trash Info]
// group are ignored.
func ParseTrashInfo(data []byte) (TrashInfo, error) {
	f, err := ini.LoadSources(infoOptions, data)
	if err != nil {
		return TrashInfo{}, fmt.Errorf("reading trash info: %w", err)
	}
	sec, err := f.GetSection(infoGroup)
	if err != nil {
		return TrashInfo{}, fmt.Errorf("missing [%s] group", infoGroup)
	}

	var info TrashInfo
	if sec.HasKey("Path") {
		value := sec.Key("Path").Value()
		if info.Path, err = url.PathUnescape(value); err != nil {
			return TrashInfo{}, fmt.Errorf("decoding path %q: %w", value, err)
		}
	}
	if sec.HasKey("DeletionDate") {
		value := sec.Key("DeletionDate").Value()
		if info.DeletionDate, err = time.ParseInLocation(deletionDateLayout, value, time.Local); err != nil {
			return TrashInfo{}, fmt.Errorf("parsing deletion date %q: %w", value, err)
		}
	}
	if info.Path == "" {
		return TrashInfo{}, fmt.Errorf("missing Path key")
	}
	if !strings.HasPrefix(info.Path, "/") {
		return TrashInfo{}, fmt.Errorf("relative path %q is not supported", info.Path)
	}
	return info, nil
}
