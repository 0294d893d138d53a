// Package web serves a read-only HTTP view of the oven: live status, the monitor
// window, recorded sessions and their charts.
package web

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/itohio/goreflow/pkg/monitor"
	"github.com/itohio/goreflow/pkg/pid"
	"github.com/itohio/goreflow/pkg/report"
	"github.com/itohio/goreflow/pkg/sample"
	"github.com/itohio/goreflow/pkg/session"
	"github.com/itohio/goreflow/pkg/thermistor"
	"github.com/itohio/goreflow/pkg/trajectory"
)

const shutdownTimeout = 5 * time.Second

// Oven is what the status endpoint reads.
type Oven interface {
	PID() *pid.Controller
	Profile() trajectory.Profile
	Profiles() []trajectory.Profile
	Trajectory() trajectory.Trajectory
	Baking() bool
	Reading() (thermistor.Reading, error)
	Elapsed() time.Duration
}

// Sessions is the recorder surface the session endpoints read.
type Sessions interface {
	report.SessionStore
	Sessions() ([]session.Session, error)
}

var _ Sessions = (*session.Recorder)(nil)

// Server serves the HTTP view. Any of its sources may be nil; the matching
// endpoints then answer 404.
type Server struct {
	oven      Oven
	monitor   *monitor.Monitor
	sessions  Sessions
	maxPoints int
	engine    *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithMaxPoints sets the chart downsampling limit used when a request has no "max"
// parameter.
func WithMaxPoints(n int) Option {
	return func(s *Server) { s.maxPoints = n }
}

// New creates a server over the given sources.
func New(oven Oven, mon *monitor.Monitor, sessions Sessions, opts ...Option) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		oven:      oven,
		monitor:   mon,
		sessions:  sessions,
		maxPoints: report.DefaultMaxPoints,
		engine:    gin.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine.Use(gin.Recovery())

	s.engine.GET("/", func(c *gin.Context) { c.Redirect(http.StatusFound, "/chart") })
	s.engine.GET("/chart", s.liveChart)
	s.engine.GET("/plan/chart", s.planChart)
	s.engine.GET("/sessions/:id/chart", s.sessionChart)

	api := s.engine.Group("/api")
	api.GET("/status", s.status)
	api.GET("/profiles", s.profiles)
	api.GET("/trajectory", s.trajectory)
	api.GET("/monitor", s.monitorWindow)
	api.GET("/sessions", s.listSessions)
	api.GET("/sessions/:id", s.getSession)

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	failed := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case <-ctx.Done():
		case <-failed:
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("web: shutdown: %v", err)
		}
	}()

	log.Printf("web: listening on %s", addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		<-done
		return nil
	}
	close(failed)
	<-done
	return fmt.Errorf("web: %w", err)
}

// Status is the live oven state.
type Status struct {
	Profile     string  `json:"profile"`
	Baking      bool    `json:"baking"`
	Elapsed     float64 `json:"elapsed"`
	Count       uint16  `json:"count"`
	Resistance  float64 `json:"resistance"`
	Temperature float64 `json:"temperature"`
	Error       string  `json:"error,omitempty"`
	Setpoint    float64 `json:"setpoint"`
	Output      float64 `json:"output"`
	Mode        string  `json:"mode"`
	Kp          float64 `json:"kp"`
	Ki          float64 `json:"ki"`
	Kd          float64 `json:"kd"`
}

func (s *Server) status(c *gin.Context) {
	if s.oven == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no oven"})
		return
	}

	ctrl := s.oven.PID()
	st := ctrl.State()
	kp, ki, kd := ctrl.Kp(), ctrl.Ki(), ctrl.Kd()

	status := Status{
		Profile:  s.oven.Profile().Name,
		Baking:   s.oven.Baking(),
		Elapsed:  s.oven.Elapsed().Seconds(),
		Setpoint: st.Setpoint,
		Output:   st.Output,
		Mode:     ctrl.Mode().String(),
		Kp:       kp,
		Ki:       ki,
		Kd:       kd,
	}
	r, err := s.oven.Reading()
	status.Count, status.Resistance, status.Temperature = r.Count, r.Resistance, r.Temperature
	if err != nil {
		status.Error = err.Error()
	}
	c.JSON(http.StatusOK, status)
}

type profilesResponse struct {
	Current  string               `json:"current"`
	Profiles []trajectory.Profile `json:"profiles"`
}

func (s *Server) profiles(c *gin.Context) {
	if s.oven == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no oven"})
		return
	}
	c.JSON(http.StatusOK, profilesResponse{
		Current:  s.oven.Profile().Name,
		Profiles: s.oven.Profiles(),
	})
}

type trajectoryResponse struct {
	Profile  string             `json:"profile"`
	Timebase float64            `json:"timebase"`
	Points   []sample.Point     `json:"points"`
	Phases   []trajectory.Phase `json:"phases"`
}

func (s *Server) trajectory(c *gin.Context) {
	if s.oven == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no oven"})
		return
	}
	traj := s.oven.Trajectory()
	c.JSON(http.StatusOK, trajectoryResponse{
		Profile:  traj.Profile,
		Timebase: traj.Timebase,
		Points:   sample.Points(traj.Times, traj.Temps),
		Phases:   traj.Phases,
	})
}

type monitorResponse struct {
	Profile    string         `json:"profile"`
	Valid      bool           `json:"valid"`
	Latest     sample.Point   `json:"latest"`
	Peak       float64        `json:"peak"`
	Points     []sample.Point `json:"points"`
	Rates      []float64      `json:"rates"`
	Trajectory []sample.Point `json:"trajectory"`
}

func (s *Server) monitorWindow(c *gin.Context) {
	if s.monitor == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no monitor"})
		return
	}
	maxPoints, err := maxPointsParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap := s.monitor.Snapshot(maxPoints)
	resp := monitorResponse{
		Profile:    snap.Profile,
		Valid:      snap.Valid,
		Latest:     snap.Latest,
		Peak:       snap.Peak,
		Points:     snap.Points,
		Rates:      snap.Rates,
		Trajectory: snap.Trajectory,
	}
	if resp.Points == nil {
		resp.Points = []sample.Point{}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) listSessions(c *gin.Context) {
	if s.sessions == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "recording disabled"})
		return
	}
	sessions, err := s.sessions.Sessions()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if sessions == nil {
		sessions = []session.Session{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

type sessionResponse struct {
	Session session.Session           `json:"session"`
	Samples []sample.Point            `json:"samples"`
	Points  []session.TrajectoryPoint `json:"trajectory"`
}

func (s *Server) getSession(c *gin.Context) {
	if s.sessions == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "recording disabled"})
		return
	}

	id := c.Param("id")
	var resp sessionResponse
	var err error
	if resp.Session, err = s.sessions.Session(id); err == nil {
		if resp.Samples, err = s.sessions.Samples(id); err == nil {
			resp.Points, err = s.sessions.Points(id)
		}
	}
	if err != nil {
		c.JSON(sessionErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) liveChart(c *gin.Context) {
	if s.monitor == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no monitor"})
		return
	}
	maxPoints, err := maxPointsParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.renderHTML(c, maxPoints, report.FromSnapshot(s.monitor.Snapshot(0)))
}

func (s *Server) planChart(c *gin.Context) {
	if s.oven == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no oven"})
		return
	}
	maxPoints, err := maxPointsParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.renderHTML(c, maxPoints, report.FromTrajectory(s.oven.Trajectory()))
}

func (s *Server) sessionChart(c *gin.Context) {
	if s.sessions == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "recording disabled"})
		return
	}
	maxPoints, err := maxPointsParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	curves, err := report.FromSession(s.sessions, c.Param("id"))
	if err != nil {
		c.JSON(sessionErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	s.renderHTML(c, maxPoints, curves)
}

func (s *Server) renderHTML(c *gin.Context, maxPoints int, curves report.Curves) {
	if maxPoints == 0 {
		maxPoints = s.maxPoints
	}
	var buf bytes.Buffer
	if err := report.Render(&buf, maxPoints, curves); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

// maxPointsParam reads the optional "max" query parameter. Zero means no limit for
// the JSON endpoints and the report default for charts.
func maxPointsParam(c *gin.Context) (int, error) {
	v := c.Query("max")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid max %q", v)
	}
	return n, nil
}

func sessionErrorStatus(err error) int {
	if errors.Is(err, session.ErrUnknownSession) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
