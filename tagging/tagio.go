package tagging

import (
	"errors"
	"sync"
	"time"

	"go.senan.xyz/taglib"
)

type Properties struct {
	Length     time.Duration
	Bitrate    uint
	SampleRate uint
	Channels   uint
	Images     int
}

// TagIO reads and writes the tags of a single audio file.
type TagIO interface {
	ReadTags(path string) (map[string][]string, error)
	ReadProperties(path string) (Properties, error)
	WriteTags(path string, tags map[string][]string) error
	ReadImage(path string) ([]byte, error)
}

func NewTaglib() TagIO {
	return new(taglibIO)
}

type taglibIO struct{}

func (*taglibIO) ReadTags(path string) (map[string][]string, error) {
	return taglib.ReadTags(path)
}

func (*taglibIO) ReadProperties(path string) (Properties, error) {
	props, err := taglib.ReadProperties(path)
	if err != nil {
		return Properties{}, err
	}

	return Properties{
		Length:     props.Length,
		Bitrate:    props.Bitrate,
		SampleRate: props.SampleRate,
		Channels:   props.Channels,
		Images:     len(props.Images),
	}, nil
}

func (*taglibIO) WriteTags(path string, tags map[string][]string) error {
	return taglib.WriteTags(path, tags, 0)
}

func (*taglibIO) ReadImage(path string) ([]byte, error) {
	return taglib.ReadImage(path)
}

var ErrNoTags = errors.New("no tags")

// NewMemoryTagIO keeps tags in memory keyed by path. Files without stored
// tags report ErrNoTags.
func NewMemoryTagIO() *MemoryTagIO {
	return &MemoryTagIO{
		tags:   make(map[string]map[string][]string),
		props:  make(map[string]Properties),
		images: make(map[string][]byte),
	}
}

type MemoryTagIO struct {
	tags   map[string]map[string][]string
	props  map[string]Properties
	images map[string][]byte
	sync.RWMutex
}

func (m *MemoryTagIO) ReadTags(path string) (map[string][]string, error) {
	m.RLock()
	defer m.RUnlock()

	tags, ok := m.tags[path]
	if !ok {
		return nil, ErrNoTags
	}

	result := make(map[string][]string, len(tags))
	for k, v := range tags {
		result[k] = append([]string(nil), v...)
	}

	return result, nil
}

func (m *MemoryTagIO) ReadProperties(path string) (Properties, error) {
	m.RLock()
	defer m.RUnlock()

	props, ok := m.props[path]
	if !ok {
		return Properties{}, ErrNoTags
	}

	return props, nil
}

func (m *MemoryTagIO) WriteTags(path string, tags map[string][]string) error {
	m.Lock()
	defer m.Unlock()

	current, ok := m.tags[path]
	if !ok {
		current = make(map[string][]string)
		m.tags[path] = current
	}

	for k, v := range tags {
		if len(v) == 0 {
			delete(current, k)
			continue
		}

		current[k] = append([]string(nil), v...)
	}

	return nil
}

func (m *MemoryTagIO) ReadImage(path string) ([]byte, error) {
	m.RLock()
	defer m.RUnlock()

	return m.images[path], nil
}

func (m *MemoryTagIO) SetProperties(path string, props Properties) {
	m.Lock()
	m.props[path] = props
	m.Unlock()
}

func (m *MemoryTagIO) SetImage(path string, image []byte) {
	m.Lock()
	m.images[path] = image
	m.Unlock()
}
