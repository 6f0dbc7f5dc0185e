// Package monitoring turns a running simulation into a small web server for
// live observation: lifecycle state, snapshots, queue levels, strategy
// state, process resources and CPU profiles.
package monitoring

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"sort"
	"strconv"
	"time"

	// Enable profiling endpoints.
	_ "net/http/pprof"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/flocklab/flocknet/metrics"
	"github.com/flocklab/flocknet/sim"
)

// A SimulationView is what the monitor needs to know about the run.
type SimulationView interface {
	ID() string
	State() string
	Elapsed() time.Duration
	Config() sim.Config
}

// A ServerView exposes one server's live queue and strategy.
type ServerView interface {
	ID() uint32
	Port() int
	QueueLen() int
	QueueCapacity() int
	Strategy() sim.Strategy
}

// Monitor serves the live observation API of one run.
type Monitor struct {
	simulation SimulationView
	collector  *metrics.Collector
	servers    []ServerView

	portNumber int
	listener   net.Listener
}

// NewMonitor creates a new Monitor.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n",
			portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterSimulation registers the run to be monitored.
func (m *Monitor) RegisterSimulation(s SimulationView) {
	m.simulation = s
}

// RegisterCollector registers the metrics collector of the run.
func (m *Monitor) RegisterCollector(c *metrics.Collector) {
	m.collector = c
}

// RegisterServer registers a server to be monitored.
func (m *Monitor) RegisterServer(s ServerView) {
	m.servers = append(m.servers, s)
}

// StartServer starts the monitor as a web server, on the configured port or
// a random free one.
func (m *Monitor) StartServer() {
	r := mux.NewRouter()

	r.HandleFunc("/api/status", m.status)
	r.HandleFunc("/api/snapshot", m.latestSnapshot)
	r.HandleFunc("/api/snapshots", m.allSnapshots)
	r.HandleFunc("/api/queues", m.queueLevels)
	r.HandleFunc("/api/server/{id}/strategy", m.strategyState)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)
	r.HandleFunc("/", m.index)

	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)
	m.listener = listener

	fmt.Fprintf(
		os.Stderr,
		"Monitoring simulation with http://localhost:%d\n",
		listener.Addr().(*net.TCPAddr).Port)

	go func() {
		http.Serve(listener, r)
	}()
}

// Port returns the port the monitor listens on.
func (m *Monitor) Port() int {
	return m.listener.Addr().(*net.TCPAddr).Port
}

// OpenDashboard opens the monitor page in the default browser.
func (m *Monitor) OpenDashboard() {
	url := fmt.Sprintf("http://localhost:%d/", m.Port())

	if err := browser.OpenURL(url); err != nil {
		fmt.Fprintf(os.Stderr, "cannot open dashboard: %v\n", err)
	}
}

// Shutdown stops the web server.
func (m *Monitor) Shutdown() {
	if m.listener != nil {
		m.listener.Close()
	}
}

type statusRsp struct {
	ID             string  `json:"id"`
	State          string  `json:"state"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	Strategy       string  `json:"strategy"`
	Agents         int     `json:"agents"`
	Servers        int     `json:"servers"`
}

func (m *Monitor) status(w http.ResponseWriter, _ *http.Request) {
	cfg := m.simulation.Config()

	rsp := statusRsp{
		ID:             m.simulation.ID(),
		State:          m.simulation.State(),
		ElapsedSeconds: m.simulation.Elapsed().Seconds(),
		Strategy:       cfg.Strategy,
		Agents:         cfg.Agents,
		Servers:        cfg.Servers,
	}

	writeJSON(w, rsp)
}

func (m *Monitor) latestSnapshot(w http.ResponseWriter, _ *http.Request) {
	s, ok := m.collector.Latest()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, s)
}

func (m *Monitor) allSnapshots(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, m.collector.Snapshots())
}

func (m *Monitor) queueLevels(w http.ResponseWriter, r *http.Request) {
	sortMethod, limit, offset, err := m.queuesParseParams(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)
		return
	}

	sorted := m.sortAndSelectServers(sortMethod, limit, offset)

	fmt.Fprint(w, "[")
	for i, s := range sorted {
		if i > 0 {
			fmt.Fprint(w, ",")
		}

		fmt.Fprintf(w,
			"{\"server\":%d,\"port\":%d,\"level\":%d,\"cap\":%d}",
			s.ID(), s.Port(), s.QueueLen(), s.QueueCapacity())
	}
	fmt.Fprint(w, "]")
}

func (*Monitor) queuesParseParams(
	r *http.Request,
) (sortMethod string, limit, offset int, err error) {
	sortMethod = r.URL.Query().Get("sort")
	if sortMethod == "" {
		sortMethod = "percent"
	}
	if sortMethod != "level" && sortMethod != "percent" {
		errStr := fmt.Sprintf(
			"Invalid sort method: %s. Allowed values are `level` and "+
				"`percent`", sortMethod)
		return "", 0, 0, errors.New(errStr)
	}

	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		limitStr = "0"
	}
	limit, err = strconv.Atoi(limitStr)
	if err != nil {
		return sortMethod, 0, 0, err
	}

	offsetStr := r.URL.Query().Get("offset")
	if offsetStr == "" {
		offsetStr = "0"
	}
	offset, err = strconv.Atoi(offsetStr)
	if err != nil {
		return sortMethod, limit, 0, err
	}

	return sortMethod, limit, offset, nil
}

func queuePercent(s ServerView) float64 {
	if s.QueueCapacity() == 0 {
		return 0
	}

	return float64(s.QueueLen()) / float64(s.QueueCapacity())
}

func (m *Monitor) sortAndSelectServers(
	sortMethod string,
	limit, offset int,
) []ServerView {
	sorted := make([]ServerView, len(m.servers))
	copy(sorted, m.servers)

	if sortMethod == "level" {
		sort.Slice(sorted, func(i, j int) bool {
			if sorted[i].QueueLen() != sorted[j].QueueLen() {
				return sorted[i].QueueLen() > sorted[j].QueueLen()
			}
			return queuePercent(sorted[i]) > queuePercent(sorted[j])
		})
	} else {
		sort.Slice(sorted, func(i, j int) bool {
			if queuePercent(sorted[i]) != queuePercent(sorted[j]) {
				return queuePercent(sorted[i]) > queuePercent(sorted[j])
			}
			return sorted[i].QueueLen() > sorted[j].QueueLen()
		})
	}

	if offset > len(sorted) {
		offset = len(sorted)
	}
	sorted = sorted[offset:]

	if limit > 0 && limit < len(sorted) {
		sorted = sorted[:limit]
	}

	return sorted
}

func (m *Monitor) strategyState(w http.ResponseWriter, r *http.Request) {
	idStr := mux.Vars(r)["id"]

	id, err := strconv.Atoi(idStr)
	if err != nil || id < 0 || id >= len(m.servers) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("Server not found"))
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(m.servers[id].Strategy())
	serializer.SetMaxDepth(1)

	err = serializer.Serialize(w)
	dieOnErr(err)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	proc, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := proc.CPUPercent()
	dieOnErr(err)

	memorySize, err := proc.MemoryInfo()
	dieOnErr(err)

	rsp := resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	}

	writeJSON(w, rsp)
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	dieOnErr(err)

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func (m *Monitor) index(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, indexPage, m.simulation.ID())
}

const indexPage = `<!DOCTYPE html>
<html>
<head><title>FlockNet run %s</title></head>
<body>
<h1>FlockNet live monitor</h1>
<ul>
<li><a href="/api/status">status</a></li>
<li><a href="/api/snapshot">latest snapshot</a></li>
<li><a href="/api/snapshots">snapshot series</a></li>
<li><a href="/api/queues">queue levels</a></li>
<li><a href="/api/resource">process resources</a></li>
<li><a href="/api/profile">1s CPU profile</a></li>
</ul>
</body>
</html>
`

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(data)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
