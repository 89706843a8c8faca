package archive

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zip"
)

var (
	// ErrNoPayload is returned when the archive holds no .ndjson entry
	ErrNoPayload = errors.New("archive has no .ndjson entry")
	// ErrCorruptArchive is returned when the bytes are not a readable zip
	ErrCorruptArchive = errors.New("corrupt archive")
)

// PayloadSuffix identifies the entry that carries event lines
const PayloadSuffix = ".ndjson"

// Payload streams the lines of the selected archive entry
type Payload struct {
	name   string
	rc     io.ReadCloser
	reader *bufio.Reader
}

// Open selects the first .ndjson entry of the zip archive in raw.
// Entries are considered in archive order and directories are ignored.
func Open(raw []byte) (*Payload, error) {
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptArchive, err)
	}

	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.HasSuffix(f.Name, PayloadSuffix) {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: open %s: %w", ErrCorruptArchive, f.Name, err)
		}

		return &Payload{
			name:   f.Name,
			rc:     rc,
			reader: bufio.NewReaderSize(rc, 64*1024),
		}, nil
	}

	return nil, ErrNoPayload
}

// Name returns the archive entry being read
func (p *Payload) Name() string {
	return p.name
}

// Next returns the next line without its terminator, or io.EOF once the
// entry is exhausted. A final line without a trailing newline is returned.
func (p *Payload) Next() ([]byte, error) {
	line, err := p.reader.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			if len(line) == 0 {
				return nil, io.EOF
			}
			return bytes.TrimRight(line, "\r"), nil
		}
		return nil, fmt.Errorf("%w: read %s: %w", ErrCorruptArchive, p.name, err)
	}

	line = bytes.TrimSuffix(line, []byte("\n"))
	return bytes.TrimSuffix(line, []byte("\r")), nil
}

func (p *Payload) Close() error {
	return p.rc.Close()
}
