package session

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrTaskNotFound      = errors.New("task not found")
	ErrCandidateNotFound = errors.New("candidate not found")
	ErrSessionBusy       = errors.New("session busy")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidAction     = errors.New("invalid duplicate action")
)

type Status int

const (
	Pending Status = iota
	Previewing
	Previewed
	Importing
	Imported
	Failed
)

func ParseStatus(status string) (Status, error) {
	status = strings.ToLower(status)
	switch status {
	case "pending":
		return Pending, nil
	case "previewing":
		return Previewing, nil
	case "previewed":
		return Previewed, nil
	case "importing":
		return Importing, nil
	case "imported":
		return Imported, nil
	case "failed":
		return Failed, nil
	default:
		return -1, errors.New("invalid status")
	}
}

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Previewing:
		return "previewing"
	case Previewed:
		return "previewed"
	case Importing:
		return "importing"
	case Imported:
		return "imported"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s Status) MarshalJSON() ([]byte, error) {
	jsonStr := `"` + s.String() + `"`
	return []byte(jsonStr), nil
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	status, err := ParseStatus(raw)
	if err != nil {
		return err
	}

	*s = status
	return nil
}

// Every job starts from pending; a finished session is queued again by
// moving it back to pending.
var transitions = map[Status][]Status{
	Pending:    {Previewing, Importing, Failed},
	Previewing: {Previewed, Importing, Failed},
	Previewed:  {Previewed, Pending},
	Importing:  {Imported, Failed},
	Imported:   {},
	Failed:     {Pending},
}

func (s Status) CanTransition(to Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}

	return false
}

type DuplicateAction string

const (
	DuplicateSkip   DuplicateAction = "skip"
	DuplicateKeep   DuplicateAction = "keep"
	DuplicateRemove DuplicateAction = "remove"
)

func ParseDuplicateAction(action string) (DuplicateAction, error) {
	switch a := DuplicateAction(strings.ToLower(action)); a {
	case DuplicateSkip, DuplicateKeep, DuplicateRemove:
		return a, nil
	case "":
		return DuplicateSkip, nil
	default:
		return "", ErrInvalidAction
	}
}

type Session struct {
	ID         SessionID `json:"id"`
	FolderPath string    `json:"folder_path"`
	FolderHash string    `json:"folder_hash"`
	Status     Status    `json:"status"`
	Message    string    `json:"message,omitempty"`
	Error      string    `json:"error,omitempty"`
	Tasks      []*Task   `json:"tasks"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func NewSession(path string, hash string) *Session {
	id := MakeSessionID()

	return &Session{
		ID:         id,
		FolderPath: path,
		FolderHash: hash,
		Status:     Pending,
		Tasks:      make([]*Task, 0),
		CreatedAt:  id.Time(),
		UpdatedAt:  id.Time(),
	}
}

// Transition moves the session to another status, clearing the error
// unless the new status is Failed.
func (s *Session) Transition(to Status, message string) error {
	if !s.Status.CanTransition(to) {
		return ErrInvalidTransition
	}

	s.Status = to
	s.Message = message
	s.UpdatedAt = time.Now()

	if to != Failed {
		s.Error = ""
	}

	return nil
}

func (s *Session) Fail(err error) {
	s.Status = Failed
	s.Error = err.Error()
	s.UpdatedAt = time.Now()
}

// Busy reports whether a job is queued or running for the session.
func (s *Session) Busy() bool {
	return s.Status == Pending || s.Status == Previewing || s.Status == Importing
}

func (s *Session) Task(id TaskID) (*Task, error) {
	for _, t := range s.Tasks {
		if t.ID == id {
			return t, nil
		}
	}

	return nil, ErrTaskNotFound
}

func (s *Session) ResetTasks() {
	s.Tasks = make([]*Task, 0)
}

func (s *Session) AddTask(t *Task) {
	t.SessionID = s.ID
	s.Tasks = append(s.Tasks, t)
}

type Task struct {
	ID              TaskID          `json:"id"`
	SessionID       SessionID       `json:"session_id"`
	Path            string          `json:"path"`
	Items           []*Item         `json:"items"`
	Candidates      []*Candidate    `json:"candidates"`
	ChosenID        *CandidateID    `json:"chosen_candidate_id"`
	DuplicateAction DuplicateAction `json:"duplicate_action"`
}

func NewTask(path string, items []*Item) *Task {
	return &Task{
		ID:         MakeTaskID(),
		Path:       path,
		Items:      items,
		Candidates: make([]*Candidate, 0),
	}
}

// SetCandidates stores candidates ordered by distance and chooses the best.
func (t *Task) SetCandidates(candidates []*Candidate) {
	sorted := make([]*Candidate, len(candidates))
	copy(sorted, candidates)

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Distance < sorted[j].Distance
	})

	t.Candidates = sorted
	t.ChosenID = nil

	if best := t.Best(); best != nil {
		id := best.ID
		t.ChosenID = &id
	}
}

func (t *Task) Best() *Candidate {
	if len(t.Candidates) == 0 {
		return nil
	}

	best := t.Candidates[0]
	for _, c := range t.Candidates[1:] {
		if c.Distance < best.Distance {
			best = c
		}
	}

	return best
}

func (t *Task) Choose(id CandidateID) error {
	for _, c := range t.Candidates {
		if c.ID == id {
			chosen := c.ID
			t.ChosenID = &chosen
			return nil
		}
	}

	return ErrCandidateNotFound
}

func (t *Task) Chosen() *Candidate {
	if t.ChosenID == nil {
		return t.Best()
	}

	for _, c := range t.Candidates {
		if c.ID == *t.ChosenID {
			return c
		}
	}

	return t.Best()
}

type Item struct {
	Path        string         `json:"path"`
	Format      string         `json:"format"`
	Title       string         `json:"title"`
	Artist      string         `json:"artist"`
	AlbumArtist string         `json:"albumartist"`
	Album       string         `json:"album"`
	Track       int            `json:"track"`
	Disc        int            `json:"disc"`
	Year        int            `json:"year"`
	Length      float64        `json:"length"`
	Tags        map[string]any `json:"tags"`
}

type Source string

const (
	AsIs        Source = "asis"
	MusicBrainz Source = "musicbrainz"
)

type Candidate struct {
	ID        CandidateID `json:"id"`
	Source    Source      `json:"source"`
	Info      AlbumInfo   `json:"info"`
	Distance  float64     `json:"distance"`
	Penalties []string    `json:"penalties"`

	// Mapping links item indexes to track indexes of Info.Tracks.
	Mapping map[int]int `json:"mapping"`
}

func NewCandidate(source Source, info AlbumInfo) *Candidate {
	return &Candidate{
		ID:        MakeCandidateID(),
		Source:    source,
		Info:      info,
		Penalties: make([]string, 0),
		Mapping:   make(map[int]int),
	}
}

type AlbumInfo struct {
	ReleaseID string      `json:"release_id,omitempty"`
	Album     string      `json:"album"`
	Artist    string      `json:"artist"`
	Year      int         `json:"year,omitempty"`
	Label     string      `json:"label,omitempty"`
	Country   string      `json:"country,omitempty"`
	Tracks    []TrackInfo `json:"tracks"`
}

type TrackInfo struct {
	TrackID string  `json:"track_id,omitempty"`
	Title   string  `json:"title"`
	Artist  string  `json:"artist,omitempty"`
	Track   int     `json:"track"`
	Disc    int     `json:"disc,omitempty"`
	Length  float64 `json:"length,omitempty"`
}
