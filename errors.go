package tagger

import (
	"errors"
	"net/http"

	"github.com/flarexio/tagger/folder"
	"github.com/flarexio/tagger/library"
	"github.com/flarexio/tagger/queue"
	"github.com/flarexio/tagger/session"
	"github.com/flarexio/tagger/tagging"
)

// StatusCode maps domain errors onto HTTP status codes. The NATS
// transport reports the same codes.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrTaskNotFound),
		errors.Is(err, session.ErrCandidateNotFound),
		errors.Is(err, library.ErrAlbumNotFound),
		errors.Is(err, library.ErrItemNotFound),
		errors.Is(err, ErrArtworkNotFound):
		return http.StatusNotFound

	case errors.Is(err, session.ErrSessionBusy),
		errors.Is(err, session.ErrInvalidTransition),
		errors.Is(err, queue.ErrDuplicateJob):
		return http.StatusConflict

	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrNoFolders),
		errors.Is(err, folder.ErrNotInInbox),
		errors.Is(err, folder.ErrNotDirectory),
		errors.Is(err, queue.ErrInvalidKind),
		errors.Is(err, session.ErrInvalidAction),
		errors.Is(err, tagging.ErrNoAudio):
		return http.StatusBadRequest

	default:
		return http.StatusExpectationFailed
	}
}
