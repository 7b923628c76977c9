package tagger

import (
	"context"
	"errors"

	"github.com/go-kit/kit/endpoint"

	"github.com/flarexio/tagger/library"
	"github.com/flarexio/tagger/queue"
	"github.com/flarexio/tagger/session"
)

var ErrInvalidRequest = errors.New("invalid request")

type EndpointSet struct {
	Inbox           endpoint.Endpoint
	Folder          endpoint.Endpoint
	Enqueue         endpoint.Endpoint
	Sessions        endpoint.Endpoint
	Session         endpoint.Endpoint
	SessionByFolder endpoint.Endpoint
	ChooseCandidate endpoint.Endpoint
	DeleteSession   endpoint.Endpoint
	Albums          endpoint.Endpoint
	Album           endpoint.Endpoint
	Artwork         endpoint.Endpoint
	Stats           endpoint.Endpoint
}

func NewEndpointSet(svc Service) EndpointSet {
	return EndpointSet{
		Inbox:           InboxEndpoint(svc),
		Folder:          FolderEndpoint(svc),
		Enqueue:         EnqueueEndpoint(svc),
		Sessions:        SessionsEndpoint(svc),
		Session:         SessionEndpoint(svc),
		SessionByFolder: SessionByFolderEndpoint(svc),
		ChooseCandidate: ChooseCandidateEndpoint(svc),
		DeleteSession:   DeleteSessionEndpoint(svc),
		Albums:          AlbumsEndpoint(svc),
		Album:           AlbumEndpoint(svc),
		Artwork:         ArtworkEndpoint(svc),
		Stats:           StatsEndpoint(svc),
	}
}

func InboxEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (response any, err error) {
		return svc.Inbox()
	}
}

func FolderEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (response any, err error) {
		path, ok := request.(string)
		if !ok {
			return nil, ErrInvalidRequest
		}

		return svc.Folder(path)
	}
}

type EnqueueRequest struct {
	Kind    queue.Kind `json:"kind"`
	Folders []string   `json:"folders"`
}

func EnqueueEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (response any, err error) {
		req, ok := request.(EnqueueRequest)
		if !ok {
			return nil, ErrInvalidRequest
		}

		return svc.Enqueue(ctx, req.Kind, req.Folders)
	}
}

func SessionsEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (response any, err error) {
		filter, ok := request.(session.Filter)
		if !ok {
			return nil, ErrInvalidRequest
		}

		return svc.Sessions(filter)
	}
}

func SessionEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (response any, err error) {
		id, ok := request.(session.SessionID)
		if !ok {
			return nil, ErrInvalidRequest
		}

		return svc.Session(id)
	}
}

func SessionByFolderEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (response any, err error) {
		path, ok := request.(string)
		if !ok {
			return nil, ErrInvalidRequest
		}

		return svc.SessionByFolder(path)
	}
}

type ChooseCandidateRequest struct {
	SessionID       session.SessionID
	TaskID          session.TaskID
	CandidateID     session.CandidateID
	DuplicateAction session.DuplicateAction
}

func ChooseCandidateEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (response any, err error) {
		req, ok := request.(ChooseCandidateRequest)
		if !ok {
			return nil, ErrInvalidRequest
		}

		return svc.ChooseCandidate(req.SessionID, req.TaskID, req.CandidateID, req.DuplicateAction)
	}
}

func DeleteSessionEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (response any, err error) {
		id, ok := request.(session.SessionID)
		if !ok {
			return nil, ErrInvalidRequest
		}

		return nil, svc.DeleteSession(id)
	}
}

func AlbumsEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (response any, err error) {
		query, ok := request.(string)
		if !ok {
			return nil, ErrInvalidRequest
		}

		return svc.Albums(query)
	}
}

func AlbumEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (response any, err error) {
		id, ok := request.(library.AlbumID)
		if !ok {
			return nil, ErrInvalidRequest
		}

		return svc.Album(id)
	}
}

func ArtworkEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (response any, err error) {
		id, ok := request.(uint64)
		if !ok {
			return nil, ErrInvalidRequest
		}

		return svc.Artwork(id)
	}
}

func StatsEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (response any, err error) {
		return svc.Stats()
	}
}

func JobEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (response any, err error) {
		job, ok := request.(*queue.Job)
		if !ok {
			return nil, ErrInvalidRequest
		}

		handler, err := svc.Handler()
		if err != nil {
			return nil, err
		}

		switch job.Kind {
		case queue.Preview:
			err = handler.PreviewHandler(ctx, job)
		case queue.Import:
			err = handler.ImportHandler(ctx, job)
		case queue.AutoImport:
			err = handler.AutoImportHandler(ctx, job)
		default:
			err = queue.ErrInvalidKind
		}

		return nil, err
	}
}
