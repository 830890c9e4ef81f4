package client

import (
	"errors"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Server is a saved chat endpoint.
type Server struct {
	Name     string `yaml:"name"`
	Endpoint string `yaml:"endpoint"`
	LastUsed int64  `yaml:"last_used,omitempty"`
}

// ServerList manages saved endpoints stored next to the binary.
type ServerList struct {
	path    string
	Servers []Server `yaml:"servers"`
}

// NewServerList creates a list backed by path, or servers.yaml next to the executable
// when path is empty.
func NewServerList(path string) *ServerList {
	if path == "" {
		exePath, err := os.Executable()
		if err != nil {
			exePath = "."
		}
		path = filepath.Join(filepath.Dir(exePath), "servers.yaml")
	}
	return &ServerList{path: path}
}

// Load reads the list from disk. A missing file is an empty list.
func (l *ServerList) Load() error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			l.Servers = nil
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, l)
}

// Save writes the list to disk.
func (l *ServerList) Save() error {
	data, err := yaml.Marshal(l)
	if err != nil {
		return err
	}
	return os.WriteFile(l.path, data, 0600)
}

// Add adds or updates a server by endpoint. Returns true if it was a new entry.
func (l *ServerList) Add(s Server) bool {
	for i, existing := range l.Servers {
		if existing.Endpoint == s.Endpoint {
			l.Servers[i] = s
			return false
		}
	}
	l.Servers = append(l.Servers, s)
	return true
}

// Touch updates LastUsed for a saved endpoint.
func (l *ServerList) Touch(endpoint string, ts int64) bool {
	for i := range l.Servers {
		if l.Servers[i].Endpoint == endpoint {
			l.Servers[i].LastUsed = ts
			return true
		}
	}
	return false
}

// Find returns the server whose name or endpoint matches key, or nil.
func (l *ServerList) Find(key string) *Server {
	for _, s := range l.Servers {
		if s.Name == key || s.Endpoint == key {
			return &s
		}
	}
	return nil
}

// Recent returns the servers, most recently used first.
func (l *ServerList) Recent() []Server {
	out := make([]Server, len(l.Servers))
	copy(out, l.Servers)
	sort.SliceStable(out, func(i, j int) bool { return out[i].LastUsed > out[j].LastUsed })
	return out
}
