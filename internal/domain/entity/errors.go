package entity

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrExtractionFailed  = errors.New("extraction failed")
	ErrUploadFailed      = errors.New("upload failed")
	ErrPartialCompletion = errors.New("partial completion")
	ErrTemporaryFile     = errors.New("temporary file error")
	ErrRunInProgress     = errors.New("extraction run already in progress")
	ErrFolderNotFound    = errors.New("folder not found")
	ErrDispatchBusy      = errors.New("extraction workers saturated")
	ErrRunSuperseded     = errors.New("run superseded by a newer claim")
)

// ExtractionError carries the offset and media kind of a failed transcoder call.
type ExtractionError struct {
	Offset float64
	Kind   ArtifactKind
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("%s: %s at %ss: %v",
		ErrExtractionFailed, e.Kind, strconv.FormatFloat(e.Offset, 'f', -1, 64), e.Err)
}

func (e *ExtractionError) Unwrap() []error {
	return []error{ErrExtractionFailed, e.Err}
}
