package store

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"

	"pasteapi/internal/model"
)

var errMalformedMetadata = errors.New("malformed metadata record")

// encodeMetadata renders "<size>,<created_at>,<origin>". Fields are not
// escaped, so an origin containing a comma cannot be read back.
func encodeMetadata(m model.PostMetadata) []byte {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(m.Size, 10))
	b.WriteByte(',')
	b.WriteString(m.CreatedAt.UTC().Format(time.RFC3339Nano))
	b.WriteByte(',')
	b.WriteString(m.Origin)
	return []byte(b.String())
}

func parseMetadata(raw []byte) (model.PostMetadata, error) {
	fields := strings.Split(strings.TrimRight(string(raw), "\r\n"), ",")
	if len(fields) != 3 {
		return model.PostMetadata{}, errMalformedMetadata
	}
	size, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || size < 0 {
		return model.PostMetadata{}, errMalformedMetadata
	}
	created, err := time.Parse(time.RFC3339Nano, fields[1])
	if err != nil {
		return model.PostMetadata{}, errMalformedMetadata
	}
	return model.PostMetadata{
		Size:      size,
		CreatedAt: created,
		Origin:    fields[2],
		Known:     true,
	}, nil
}

// readMetadata never fails: a missing or corrupt sidecar yields unknown metadata.
func (s *FileStore) readMetadata(name string) model.PostMetadata {
	raw, err := afero.ReadFile(s.fs, s.metaPath(name))
	if err != nil {
		return model.PostMetadata{}
	}
	m, err := parseMetadata(raw)
	if err != nil {
		return model.PostMetadata{}
	}
	return m
}
