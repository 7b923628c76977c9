package db

import (
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/flarexio/tagger/session"
)

type Session struct {
	ID         string `gorm:"primaryKey"`
	FolderPath string `gorm:"index"`
	FolderHash string `gorm:"index"`
	Status     int    `gorm:"index"`
	Message    string
	Error      string
	Tasks      []*Task `gorm:"foreignKey:SessionID"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func NewSession(s *session.Session) (*Session, error) {
	tasks := make([]*Task, len(s.Tasks))
	for i, t := range s.Tasks {
		task, err := NewTask(t, i)
		if err != nil {
			return nil, err
		}

		tasks[i] = task
	}

	return &Session{
		ID:         s.ID.String(),
		FolderPath: s.FolderPath,
		FolderHash: s.FolderHash,
		Status:     int(s.Status),
		Message:    s.Message,
		Error:      s.Error,
		Tasks:      tasks,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}, nil
}

func (s *Session) reconstitute() (*session.Session, error) {
	id, err := session.ParseSessionID(s.ID)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(s.Tasks, func(i, j int) bool {
		return s.Tasks[i].Position < s.Tasks[j].Position
	})

	tasks := make([]*session.Task, len(s.Tasks))
	for i, t := range s.Tasks {
		task, err := t.reconstitute()
		if err != nil {
			return nil, err
		}

		tasks[i] = task
	}

	return &session.Session{
		ID:         id,
		FolderPath: s.FolderPath,
		FolderHash: s.FolderHash,
		Status:     session.Status(s.Status),
		Message:    s.Message,
		Error:      s.Error,
		Tasks:      tasks,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}, nil
}

type Task struct {
	ID              string `gorm:"primaryKey"`
	SessionID       string `gorm:"index"`
	Position        int
	Path            string
	ChosenID        *string
	DuplicateAction string
	Items           []*Item      `gorm:"foreignKey:TaskID"`
	Candidates      []*Candidate `gorm:"foreignKey:TaskID"`
}

func NewTask(t *session.Task, position int) (*Task, error) {
	items := make([]*Item, len(t.Items))
	for i, it := range t.Items {
		item, err := NewItem(it, i)
		if err != nil {
			return nil, err
		}

		items[i] = item
	}

	candidates := make([]*Candidate, len(t.Candidates))
	for i, c := range t.Candidates {
		candidate, err := NewCandidate(c)
		if err != nil {
			return nil, err
		}

		candidates[i] = candidate
	}

	var chosen *string
	if t.ChosenID != nil {
		id := t.ChosenID.String()
		chosen = &id
	}

	return &Task{
		ID:              t.ID.String(),
		SessionID:       t.SessionID.String(),
		Position:        position,
		Path:            t.Path,
		ChosenID:        chosen,
		DuplicateAction: string(t.DuplicateAction),
		Items:           items,
		Candidates:      candidates,
	}, nil
}

func (t *Task) reconstitute() (*session.Task, error) {
	id, err := session.ParseTaskID(t.ID)
	if err != nil {
		return nil, err
	}

	sessionID, err := session.ParseSessionID(t.SessionID)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(t.Items, func(i, j int) bool {
		return t.Items[i].Position < t.Items[j].Position
	})

	items := make([]*session.Item, len(t.Items))
	for i, it := range t.Items {
		items[i] = it.reconstitute()
	}

	sort.SliceStable(t.Candidates, func(i, j int) bool {
		return t.Candidates[i].Distance < t.Candidates[j].Distance
	})

	candidates := make([]*session.Candidate, len(t.Candidates))
	for i, c := range t.Candidates {
		candidate, err := c.reconstitute()
		if err != nil {
			return nil, err
		}

		candidates[i] = candidate
	}

	var chosen *session.CandidateID
	if t.ChosenID != nil {
		id, err := session.ParseCandidateID(*t.ChosenID)
		if err != nil {
			return nil, err
		}

		chosen = &id
	}

	return &session.Task{
		ID:              id,
		SessionID:       sessionID,
		Path:            t.Path,
		Items:           items,
		Candidates:      candidates,
		ChosenID:        chosen,
		DuplicateAction: session.DuplicateAction(t.DuplicateAction),
	}, nil
}

type Item struct {
	ID          uint   `gorm:"primaryKey"`
	TaskID      string `gorm:"index"`
	Position    int
	Path        string
	Format      string
	Title       string
	Artist      string
	AlbumArtist string
	Album       string
	Track       int
	Disc        int
	Year        int
	Length      float64
	Tags        JSONDict
}

func NewItem(it *session.Item, position int) (*Item, error) {
	tags, err := NewJSONDict(it.Tags)
	if err != nil {
		return nil, err
	}

	return &Item{
		Position:    position,
		Path:        it.Path,
		Format:      it.Format,
		Title:       it.Title,
		Artist:      it.Artist,
		AlbumArtist: it.AlbumArtist,
		Album:       it.Album,
		Track:       it.Track,
		Disc:        it.Disc,
		Year:        it.Year,
		Length:      it.Length,
		Tags:        tags,
	}, nil
}

func (it *Item) reconstitute() *session.Item {
	return &session.Item{
		Path:        it.Path,
		Format:      it.Format,
		Title:       it.Title,
		Artist:      it.Artist,
		AlbumArtist: it.AlbumArtist,
		Album:       it.Album,
		Track:       it.Track,
		Disc:        it.Disc,
		Year:        it.Year,
		Length:      it.Length,
		Tags:        map[string]any(it.Tags),
	}
}

type Candidate struct {
	ID        string `gorm:"primaryKey"`
	TaskID    string `gorm:"index"`
	Source    string
	Info      JSONDict
	Distance  float64
	Penalties string
	Mapping   JSONDict
}

func NewCandidate(c *session.Candidate) (*Candidate, error) {
	info, err := NewJSONDict(c.Info)
	if err != nil {
		return nil, err
	}

	mapping := make(JSONDict, len(c.Mapping))
	for item, track := range c.Mapping {
		mapping[strconv.Itoa(item)] = track
	}

	return &Candidate{
		ID:        c.ID.String(),
		Source:    string(c.Source),
		Info:      info,
		Distance:  c.Distance,
		Penalties: strings.Join(c.Penalties, ","),
		Mapping:   mapping,
	}, nil
}

func (c *Candidate) reconstitute() (*session.Candidate, error) {
	id, err := session.ParseCandidateID(c.ID)
	if err != nil {
		return nil, err
	}

	var info session.AlbumInfo
	if err := c.Info.Decode(&info); err != nil {
		return nil, err
	}

	mapping := make(map[int]int, len(c.Mapping))
	for k, v := range c.Mapping {
		item, err := strconv.Atoi(k)
		if err != nil {
			return nil, err
		}

		track, ok := v.(float64)
		if !ok {
			return nil, errors.New("invalid candidate mapping")
		}

		mapping[item] = int(track)
	}

	penalties := make([]string, 0)
	if c.Penalties != "" {
		penalties = strings.Split(c.Penalties, ",")
	}

	return &session.Candidate{
		ID:        id,
		Source:    session.Source(c.Source),
		Info:      info,
		Distance:  c.Distance,
		Penalties: penalties,
		Mapping:   mapping,
	}, nil
}

func NewSessionRepository(db *gorm.DB) session.Repository {
	repo := new(sessionRepository)
	repo.db = db
	return repo
}

type sessionRepository struct {
	db *gorm.DB
}

func deleteTasks(tx *gorm.DB, sessionID string) error {
	tasks := tx.Model(&Task{}).Select("id").Where("session_id = ?", sessionID)

	if err := tx.Where("task_id IN (?)", tasks).Delete(&Item{}).Error; err != nil {
		return err
	}

	if err := tx.Where("task_id IN (?)", tasks).Delete(&Candidate{}).Error; err != nil {
		return err
	}

	return tx.Where("session_id = ?", sessionID).Delete(&Task{}).Error
}

func (repo *sessionRepository) Store(s *session.Session) error {
	model, err := NewSession(s) // convert Domain to Data model
	if err != nil {
		return err
	}

	return repo.db.Transaction(func(tx *gorm.DB) error {
		// First, delete existing tasks with their items and candidates
		if err := deleteTasks(tx, model.ID); err != nil {
			return err
		}

		// Then, save the session and recreate its tasks
		if err := tx.Omit(clause.Associations).Save(model).Error; err != nil {
			return err
		}

		if len(model.Tasks) == 0 {
			return nil
		}

		return tx.Create(&model.Tasks).Error
	})
}

func (repo *sessionRepository) Delete(id session.SessionID) error {
	return repo.db.Transaction(func(tx *gorm.DB) error {
		if err := deleteTasks(tx, id.String()); err != nil {
			return err
		}

		result := tx.Delete(&Session{}, "id = ?", id.String())
		if err := result.Error; err != nil {
			return err
		}

		if result.RowsAffected == 0 {
			return session.ErrSessionNotFound
		}

		return nil
	})
}

func preload(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Tasks").
		Preload("Tasks.Items").
		Preload("Tasks.Candidates")
}

func (repo *sessionRepository) List(filter session.Filter) ([]*session.Session, error) {
	query := preload(repo.db).Order("created_at DESC, id DESC")

	if filter.Status != nil {
		query = query.Where("status = ?", int(*filter.Status))
	}

	if filter.Folder != "" {
		query = query.Where("folder_path = ?", filter.Folder)
	}

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var models []*Session
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}

	results := make([]*session.Session, 0, len(models))
	for _, m := range models {
		s, err := m.reconstitute()
		if err != nil {
			return nil, err
		}

		results = append(results, s)
	}

	return results, nil
}

func (repo *sessionRepository) take(query string, args ...any) (*session.Session, error) {
	var model *Session

	result := preload(repo.db).Order("created_at DESC, id DESC").Take(&model, append([]any{query}, args...)...)
	if err := result.Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, session.ErrSessionNotFound
		}

		return nil, err
	}

	return model.reconstitute()
}

func (repo *sessionRepository) Find(id session.SessionID) (*session.Session, error) {
	return repo.take("id = ?", id.String())
}

func (repo *sessionRepository) FindByHash(path string, hash string) (*session.Session, error) {
	return repo.take("folder_path = ? AND folder_hash = ?", path, hash)
}

func (repo *sessionRepository) FindLatestByPath(path string) (*session.Session, error) {
	return repo.take("folder_path = ?", path)
}

func (repo *sessionRepository) CountByStatus() (map[session.Status]int, error) {
	var rows []struct {
		Status int
		Count  int
	}

	result := repo.db.Model(&Session{}).
		Select("status, count(*) AS count").
		Group("status").
		Scan(&rows)

	if err := result.Error; err != nil {
		return nil, err
	}

	counts := make(map[session.Status]int)
	for _, row := range rows {
		counts[session.Status(row.Status)] = row.Count
	}

	return counts, nil
}

func (repo *sessionRepository) Close() error {
	return nil
}

func (repo *sessionRepository) Truncate() error {
	for _, table := range []string{"items", "candidates", "tasks", "sessions"} {
		if err := repo.db.Exec("DELETE FROM " + table).Error; err != nil {
			return err
		}
	}

	return nil
}
