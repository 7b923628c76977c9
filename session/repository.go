package session

type Filter struct {
	Status *Status
	Folder string
	Limit  int
}

type Repository interface {
	// Command

	Store(s *Session) error
	Delete(id SessionID) error

	// Query

	List(filter Filter) ([]*Session, error)
	Find(id SessionID) (*Session, error)
	FindByHash(path string, hash string) (*Session, error)
	FindLatestByPath(path string) (*Session, error)
	CountByStatus() (map[Status]int, error)

	Close() error
}
