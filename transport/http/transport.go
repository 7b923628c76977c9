package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-kit/kit/endpoint"

	"github.com/flarexio/tagger"
	"github.com/flarexio/tagger/library"
	"github.com/flarexio/tagger/pubsub"
	"github.com/flarexio/tagger/session"
)

// AddRouters mounts the API handlers on r.
func AddRouters(r *gin.RouterGroup, endpoints tagger.EndpointSet, bus pubsub.Bus) {
	// GET /inbox
	r.GET("/inbox", InboxHandler(endpoints.Inbox))

	// GET /inbox/folder?path=
	r.GET("/inbox/folder", FolderHandler(endpoints.Folder))

	// GET /inbox/session?path=
	r.GET("/inbox/session", SessionByFolderHandler(endpoints.SessionByFolder))

	// POST /jobs
	r.POST("/jobs", EnqueueHandler(endpoints.Enqueue))

	// GET /sessions?status=&folder=&limit=
	r.GET("/sessions", SessionsHandler(endpoints.Sessions))

	// GET /sessions/:id
	r.GET("/sessions/:id", SessionHandler(endpoints.Session))

	// DELETE /sessions/:id
	r.DELETE("/sessions/:id", DeleteSessionHandler(endpoints.DeleteSession))

	// PUT /sessions/:id/tasks/:task/choice
	r.PUT("/sessions/:id/tasks/:task/choice", ChooseCandidateHandler(endpoints.ChooseCandidate))

	// GET /library/albums?q=
	r.GET("/library/albums", AlbumsHandler(endpoints.Albums))

	// GET /library/albums/:id
	r.GET("/library/albums/:id", AlbumHandler(endpoints.Album))

	// GET /library/items/:id/artwork
	r.GET("/library/items/:id/artwork", ArtworkHandler(endpoints.Artwork))

	// GET /stats
	r.GET("/stats", StatsHandler(endpoints.Stats))

	// GET /events
	r.GET("/events", EventsHandler(bus))

	// GET /socket
	r.GET("/socket", SocketHandler(bus))
}

func abort(c *gin.Context, code int, err error) {
	c.Abort()
	c.Error(err)
	c.String(code, err.Error())
}

func InboxHandler(endpoint endpoint.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp, err := endpoint(c, nil)
		if err != nil {
			abort(c, tagger.StatusCode(err), err)
			return
		}

		c.JSON(http.StatusOK, &resp)
	}
}

func FolderHandler(endpoint endpoint.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Query("path")
		if path == "" {
			abort(c, http.StatusBadRequest, errors.New("path required"))
			return
		}

		resp, err := endpoint(c, path)
		if err != nil {
			abort(c, tagger.StatusCode(err), err)
			return
		}

		c.JSON(http.StatusOK, &resp)
	}
}

func SessionByFolderHandler(endpoint endpoint.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Query("path")
		if path == "" {
			abort(c, http.StatusBadRequest, errors.New("path required"))
			return
		}

		resp, err := endpoint(c, path)
		if err != nil {
			abort(c, tagger.StatusCode(err), err)
			return
		}

		c.JSON(http.StatusOK, &resp)
	}
}

func EnqueueHandler(endpoint endpoint.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req tagger.EnqueueRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abort(c, http.StatusBadRequest, err)
			return
		}

		resp, err := endpoint(c, req)
		if err != nil {
			abort(c, tagger.StatusCode(err), err)
			return
		}

		c.JSON(http.StatusAccepted, &resp)
	}
}

func SessionsHandler(endpoint endpoint.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := session.Filter{
			Folder: c.Query("folder"),
		}

		if s := c.Query("status"); s != "" {
			status, err := session.ParseStatus(s)
			if err != nil {
				abort(c, http.StatusBadRequest, err)
				return
			}

			filter.Status = &status
		}

		if s := c.Query("limit"); s != "" {
			limit, err := strconv.Atoi(s)
			if err != nil {
				abort(c, http.StatusBadRequest, err)
				return
			}

			filter.Limit = limit
		}

		resp, err := endpoint(c, filter)
		if err != nil {
			abort(c, tagger.StatusCode(err), err)
			return
		}

		c.JSON(http.StatusOK, &resp)
	}
}

func SessionHandler(endpoint endpoint.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := session.ParseSessionID(c.Param("id"))
		if err != nil {
			abort(c, http.StatusBadRequest, err)
			return
		}

		resp, err := endpoint(c, id)
		if err != nil {
			abort(c, tagger.StatusCode(err), err)
			return
		}

		c.JSON(http.StatusOK, &resp)
	}
}

func DeleteSessionHandler(endpoint endpoint.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := session.ParseSessionID(c.Param("id"))
		if err != nil {
			abort(c, http.StatusBadRequest, err)
			return
		}

		if _, err := endpoint(c, id); err != nil {
			abort(c, tagger.StatusCode(err), err)
			return
		}

		c.Status(http.StatusNoContent)
	}
}

type choiceRequest struct {
	CandidateID     string `json:"candidate_id" binding:"required"`
	DuplicateAction string `json:"duplicate_action"`
}

func ChooseCandidateHandler(endpoint endpoint.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, err := session.ParseSessionID(c.Param("id"))
		if err != nil {
			abort(c, http.StatusBadRequest, err)
			return
		}

		taskID, err := session.ParseTaskID(c.Param("task"))
		if err != nil {
			abort(c, http.StatusBadRequest, err)
			return
		}

		var body choiceRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			abort(c, http.StatusBadRequest, err)
			return
		}

		candidateID, err := session.ParseCandidateID(body.CandidateID)
		if err != nil {
			abort(c, http.StatusBadRequest, err)
			return
		}

		req := tagger.ChooseCandidateRequest{
			SessionID:   sessionID,
			TaskID:      taskID,
			CandidateID: candidateID,
		}

		if body.DuplicateAction != "" {
			action, err := session.ParseDuplicateAction(body.DuplicateAction)
			if err != nil {
				abort(c, http.StatusBadRequest, err)
				return
			}

			req.DuplicateAction = action
		}

		resp, err := endpoint(c, req)
		if err != nil {
			abort(c, tagger.StatusCode(err), err)
			return
		}

		c.JSON(http.StatusOK, &resp)
	}
}

func AlbumsHandler(endpoint endpoint.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp, err := endpoint(c, c.Query("q"))
		if err != nil {
			abort(c, tagger.StatusCode(err), err)
			return
		}

		c.JSON(http.StatusOK, &resp)
	}
}

func AlbumHandler(endpoint endpoint.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := library.ParseAlbumID(c.Param("id"))
		if err != nil {
			abort(c, http.StatusBadRequest, err)
			return
		}

		resp, err := endpoint(c, id)
		if err != nil {
			abort(c, tagger.StatusCode(err), err)
			return
		}

		c.JSON(http.StatusOK, &resp)
	}
}

func ArtworkHandler(endpoint endpoint.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			abort(c, http.StatusBadRequest, err)
			return
		}

		resp, err := endpoint(c, id)
		if err != nil {
			abort(c, tagger.StatusCode(err), err)
			return
		}

		image, ok := resp.([]byte)
		if !ok {
			abort(c, http.StatusExpectationFailed, errors.New("invalid artwork response"))
			return
		}

		c.Header("Cache-Control", "max-age=3600")
		c.Data(http.StatusOK, http.DetectContentType(image), image)
	}
}

func StatsHandler(endpoint endpoint.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp, err := endpoint(c, nil)
		if err != nil {
			abort(c, tagger.StatusCode(err), err)
			return
		}

		c.JSON(http.StatusOK, &resp)
	}
}

func HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
