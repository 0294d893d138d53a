package web

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/goreflow/pkg/monitor"
	"github.com/itohio/goreflow/pkg/pid"
	"github.com/itohio/goreflow/pkg/session"
	"github.com/itohio/goreflow/pkg/thermistor"
	"github.com/itohio/goreflow/pkg/trajectory"
)

type fakeOven struct {
	ctrl    *pid.Controller
	lib     *trajectory.Library
	baking  bool
	reading thermistor.Reading
	readErr error
}

func newFakeOven(t *testing.T) *fakeOven {
	t.Helper()
	ctrl, err := pid.New(nil, pid.WithTunings(30, 2, 7))
	require.NoError(t, err)
	lib, err := trajectory.NewLibrary(nil, "")
	require.NoError(t, err)
	return &fakeOven{ctrl: ctrl, lib: lib}
}

func (f *fakeOven) PID() *pid.Controller           { return f.ctrl }
func (f *fakeOven) Profile() trajectory.Profile    { return f.lib.Current() }
func (f *fakeOven) Profiles() []trajectory.Profile { return f.lib.Profiles() }
func (f *fakeOven) Trajectory() trajectory.Trajectory {
	traj, _ := trajectory.Generate(f.lib.Current(), trajectory.DefaultAmbient, 1)
	return traj
}
func (f *fakeOven) Baking() bool                         { return f.baking }
func (f *fakeOven) Reading() (thermistor.Reading, error) { return f.reading, f.readErr }
func (f *fakeOven) Elapsed() time.Duration               { return 90 * time.Second }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func openRecorder(t *testing.T) *session.Recorder {
	t.Helper()
	rec, err := session.Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rec.Close() })
	return rec
}

func TestStatus(t *testing.T) {
	oven := newFakeOven(t)
	oven.baking = true
	oven.reading = thermistor.Reading{Count: 512, Resistance: 98000, Temperature: 26.5}
	oven.ctrl.SetSetpoint(150)

	h := New(oven, nil, nil).Handler()

	w := get(t, h, "/api/status")
	require.Equal(t, http.StatusOK, w.Code)

	var st Status
	decode(t, w, &st)
	assert.Equal(t, Status{
		Profile:     "default",
		Baking:      true,
		Elapsed:     90,
		Count:       512,
		Resistance:  98000,
		Temperature: 26.5,
		Setpoint:    150,
		Mode:        oven.ctrl.Mode().String(),
		Kp:          30,
		Ki:          2,
		Kd:          7,
	}, st)

	oven.readErr = errors.New("count out of range")
	decode(t, get(t, h, "/api/status"), &st)
	assert.Equal(t, "count out of range", st.Error)
}

func TestProfiles(t *testing.T) {
	h := New(newFakeOven(t), nil, nil).Handler()

	w := get(t, h, "/api/profiles")
	require.Equal(t, http.StatusOK, w.Code)

	var resp profilesResponse
	decode(t, w, &resp)
	assert.Equal(t, "default", resp.Current)
	assert.Equal(t, []trajectory.Profile{trajectory.DefaultProfile()}, resp.Profiles)
}

func TestTrajectory(t *testing.T) {
	oven := newFakeOven(t)
	h := New(oven, nil, nil).Handler()
	want := oven.Trajectory()

	var resp trajectoryResponse
	w := get(t, h, "/api/trajectory")
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &resp)
	assert.Equal(t, "default", resp.Profile)
	assert.Equal(t, 1.0, resp.Timebase)
	require.Len(t, resp.Points, want.Len())
	assert.Equal(t, want.Temps[len(want.Temps)-1], resp.Points[len(resp.Points)-1].Value)
	assert.Len(t, resp.Phases, len(want.Phases))

	w = get(t, h, "/plan/chart")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Plan: default")
}

func TestMonitor(t *testing.T) {
	m := monitor.New(time.Minute)
	h := New(nil, m, nil).Handler()

	var resp monitorResponse
	decode(t, get(t, h, "/api/monitor"), &resp)
	assert.False(t, resp.Valid)
	assert.Empty(t, resp.Points)

	m.Sample(0, 25)
	m.Sample(2, 29)
	m.Sample(4, 27)

	decode(t, get(t, h, "/api/monitor"), &resp)
	assert.True(t, resp.Valid)
	assert.Len(t, resp.Points, 3)
	assert.Equal(t, []float64{2, -1}, resp.Rates)
	assert.Equal(t, 29.0, resp.Peak)
	assert.Equal(t, 27.0, resp.Latest.Value)

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/monitor?max=x").Code)
}

func TestSessions(t *testing.T) {
	rec := openRecorder(t)
	traj, err := trajectory.Generate(trajectory.DefaultProfile(), trajectory.DefaultAmbient, 1)
	require.NoError(t, err)

	rec.Trajectory(traj)
	id := rec.Active()
	rec.Sample(1, 25)
	rec.Sample(2, 27)

	h := New(nil, nil, rec).Handler()

	var list struct {
		Sessions []session.Session `json:"sessions"`
	}
	decode(t, get(t, h, "/api/sessions"), &list)
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, id, list.Sessions[0].ID)
	assert.Equal(t, "default", list.Sessions[0].Profile)

	var one sessionResponse
	w := get(t, h, "/api/sessions/"+id)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &one)
	assert.Equal(t, id, one.Session.ID)
	assert.Len(t, one.Samples, 2)
	assert.Len(t, one.Points, traj.Len())

	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/sessions/missing").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/sessions/missing/chart").Code)

	w = get(t, h, "/sessions/"+id+"/chart")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "measured")
}

func TestMissingSources(t *testing.T) {
	h := New(nil, nil, nil).Handler()

	for _, path := range []string{
		"/api/status",
		"/api/profiles",
		"/api/trajectory",
		"/plan/chart",
		"/api/monitor",
		"/api/sessions",
		"/api/sessions/x",
		"/chart",
		"/sessions/x/chart",
	} {
		assert.Equal(t, http.StatusNotFound, get(t, h, path).Code, path)
	}
}

func TestLiveChart(t *testing.T) {
	m := monitor.New(time.Minute)
	m.Sample(0, 25)
	h := New(nil, m, nil).Handler()

	w := get(t, h, "/")
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/chart", w.Header().Get("Location"))

	w = get(t, h, "/chart?max=100")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Oven")
}

func TestListenAndServe(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(newFakeOven(t), nil, nil).ListenAndServe(ctx, addr) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/api/profiles")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
