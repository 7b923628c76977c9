package session

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

type SessionID ulid.ULID // AggregateRoot

func MakeSessionID() SessionID {
	return SessionID(ulid.Make())
}

func ParseSessionID(id string) (SessionID, error) {
	sessionID, err := ulid.Parse(id)
	if err != nil {
		return SessionID{}, err
	}
	return SessionID(sessionID), nil
}

func (id SessionID) String() string {
	return ulid.ULID(id).String()
}

func (id SessionID) Time() time.Time {
	ms := ulid.ULID(id).Time()
	return ulid.Time(ms)
}

func (id SessionID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

func (id *SessionID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	sessionID, err := ParseSessionID(s)
	if err != nil {
		return err
	}

	*id = sessionID
	return nil
}

type TaskID ulid.ULID

func MakeTaskID() TaskID {
	return TaskID(ulid.Make())
}

func ParseTaskID(id string) (TaskID, error) {
	taskID, err := ulid.Parse(id)
	if err != nil {
		return TaskID{}, err
	}
	return TaskID(taskID), nil
}

func (id TaskID) String() string {
	return ulid.ULID(id).String()
}

func (id TaskID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

func (id *TaskID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	taskID, err := ParseTaskID(s)
	if err != nil {
		return err
	}

	*id = taskID
	return nil
}

type CandidateID ulid.ULID

func MakeCandidateID() CandidateID {
	return CandidateID(ulid.Make())
}

func ParseCandidateID(id string) (CandidateID, error) {
	candidateID, err := ulid.Parse(id)
	if err != nil {
		return CandidateID{}, err
	}
	return CandidateID(candidateID), nil
}

func (id CandidateID) String() string {
	return ulid.ULID(id).String()
}

func (id CandidateID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

func (id *CandidateID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	candidateID, err := ParseCandidateID(s)
	if err != nil {
		return err
	}

	*id = candidateID
	return nil
}
