// Package server exposes a session and its output directory over HTTP.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/nasa-jpl/ivsweep/record"
	"github.com/nasa-jpl/ivsweep/sweep"
)

// ReplyWithFile replies to the client request by serving the given file name
// from fldr on fs
func ReplyWithFile(fs afero.Fs, w http.ResponseWriter, r *http.Request, fn string, fldr string) {
	filePath := filepath.Join(fldr, fn)
	f, err := fs.Open(filePath)
	if err != nil {
		http.Error(w, fmt.Sprintf("source file missing %s", fn), http.StatusNotFound)
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		logrus.WithField("file", filePath).WithError(err).Error("stat of served file")
		http.Error(w, fmt.Sprintf("error retrieving source file stats %s", err), http.StatusInternalServerError)
		return
	}
	if strings.HasSuffix(fn, ".yml") {
		w.Header().Set("Content-Type", "application/yaml")
	} else {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}
	http.ServeContent(w, r, fn, stat.ModTime(), f)
}

func replyJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Error("encoding response")
	}
}

// Route is a method and a path pattern
type Route struct {
	Method string
	Path   string
}

func (r Route) String() string {
	return r.Method + " " + r.Path
}

// RouteTable maps routes to handlers
type RouteTable map[Route]http.HandlerFunc

// Endpoints lists the routes in the table, sorted
func (rt RouteTable) Endpoints() []string {
	routes := make([]string, 0, len(rt))
	for k := range rt {
		routes = append(routes, k.String())
	}
	sort.Strings(routes)
	return routes
}

// Bind binds every route in the table to r
func (rt RouteTable) Bind(r chi.Router) {
	for route, h := range rt {
		r.Method(route.Method, route.Path, h)
	}
}

// StatusSource reports the state of a session; *sweep.Orchestrator is one
type StatusSource interface {
	Status() sweep.Status
}

// Server serves the status of a session and the files in its output directory
type Server struct {
	Fs  afero.Fs
	Dir string

	// Session may be nil when only files are served
	Session StatusSource

	RouteTable RouteTable
}

// New returns a server with its route table populated
func New(fs afero.Fs, dir string, session StatusSource) *Server {
	s := &Server{Fs: fs, Dir: dir, Session: session}
	s.RouteTable = RouteTable{
		{http.MethodGet, "/status"}:          s.status,
		{http.MethodGet, "/last"}:            s.last,
		{http.MethodGet, "/archives"}:        s.archives,
		{http.MethodGet, "/archives/{name}"}: s.archive,
	}
	return s
}

// Handler returns the router, including the /endpoints listing
func (s *Server) Handler() http.Handler {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	root.Use(middleware.Recoverer)
	s.RouteTable.Bind(root)
	endpoints := append(s.RouteTable.Endpoints(), Route{http.MethodGet, "/endpoints"}.String())
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		replyJSON(w, endpoints)
	})
	return root
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	if s.Session == nil {
		http.Error(w, "no session is running", http.StatusNotFound)
		return
	}
	replyJSON(w, s.Session.Status())
}

func (s *Server) last(w http.ResponseWriter, r *http.Request) {
	ReplyWithFile(s.Fs, w, r, record.LastName, s.Dir)
}

func (s *Server) archives(w http.ResponseWriter, r *http.Request) {
	names, err := record.Archives(s.Fs, s.Dir)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if names == nil {
		names = []string{}
	}
	replyJSON(w, names)
}

// validName admits a plain file name inside the output directory
func validName(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\:`) {
		return false
	}
	return path.Base(name) == name
}

func (s *Server) archive(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !validName(name) {
		http.Error(w, fmt.Sprintf("invalid file name %q", name), http.StatusBadRequest)
		return
	}
	ReplyWithFile(s.Fs, w, r, name, s.Dir)
}
