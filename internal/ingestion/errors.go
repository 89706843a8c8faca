package ingestion

import (
	"errors"
	"fmt"

	"github.com/cyderes/event-archive-ingestion/internal/archive"
	"github.com/cyderes/event-archive-ingestion/internal/decoder"
	"github.com/cyderes/event-archive-ingestion/internal/journal"
)

var (
	// ErrTransientIO covers fetch, archive and sink failures. The file is
	// retried from its last checkpoint by the next run.
	ErrTransientIO = errors.New("transient I/O failure")
	// ErrConfiguration marks requests that can never start a run
	ErrConfiguration = errors.New("invalid ingestion request")
	// ErrRunActive is returned when a run for the same prefix and table is in progress
	ErrRunActive = errors.New("ingestion run already active")

	ErrStartFileNotFound = errors.New("start file not found")
	ErrNoFilesAfterDate  = errors.New("no files after start date")
	ErrInvalidStartDate  = errors.New("invalid start date")
)

// Errors raised by the lower layers, re-exported so callers need only this package
var (
	ErrMalformedInput  = decoder.ErrMalformedJSON
	ErrSchemaViolation = decoder.ErrSchemaViolation
	ErrNoPayload       = archive.ErrNoPayload
	ErrJournal         = journal.ErrJournal
)

func configurationError(err error) error {
	return fmt.Errorf("%w: %w", ErrConfiguration, err)
}
