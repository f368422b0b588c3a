package loader

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoSource is returned for datasets the loader has no record source for.
var ErrNoSource = errors.New("no record source for dataset")

type UnknownSplitError struct {
	Dataset string
	Version string
	Split   string
	Known   []string
}

func (e *UnknownSplitError) Error() string {
	return fmt.Sprintf("unknown split %q for %s@%s (known: %s)", e.Split, e.Dataset, e.Version, strings.Join(e.Known, ", "))
}

// MissingFilesError lists manual download files absent from Dir.
type MissingFilesError struct {
	Dataset      string
	Dir          string
	Files        []string
	Instructions string
}

func (e *MissingFilesError) Error() string {
	msg := fmt.Sprintf("%s: manual download files missing from %s: %s", e.Dataset, e.Dir, strings.Join(e.Files, ", "))
	if e.Instructions != "" {
		msg += "\n" + strings.TrimSpace(e.Instructions)
	}
	return msg
}

// RecordError reports a record that does not match the declared features.
type RecordError struct {
	Key   string
	Field string
	Msg   string
}

func (e *RecordError) Error() string {
	msg := e.Msg
	if e.Field != "" {
		msg = fmt.Sprintf("field %q: %s", e.Field, msg)
	}
	if e.Key == "" {
		return "record: " + msg
	}
	return fmt.Sprintf("record %q: %s", e.Key, msg)
}

type CountMismatchError struct {
	Split string
	Want  int64
	Got   int64
}

func (e *CountMismatchError) Error() string {
	return fmt.Sprintf("split %q: expected %d examples, read %d", e.Split, e.Want, e.Got)
}

// DuplicatedKeysError is returned when two examples of a split hash to the same key.
type DuplicatedKeysError struct {
	Key string
}

func (e *DuplicatedKeysError) Error() string {
	return fmt.Sprintf("duplicated example key %q: keys must be unique within a split", e.Key)
}

// SourceError reports a manual download file that is present but does not
// match the card: malformed JSON, or a declared split the file does not list.
type SourceError struct {
	File string
	Err  error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("manual file %s: %v", e.File, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }
