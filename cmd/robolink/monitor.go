package main

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/mxschwarz/robolink/pkg/connection"
	"github.com/mxschwarz/robolink/pkg/jointconfig"
	"github.com/mxschwarz/robolink/pkg/proto"
	"github.com/mxschwarz/robolink/pkg/telemetry"
)

// MonitorCommand shows a live chart of connection state and per-axis
// feedback, the same role teleoperate.go's TUI plays for the
// reference app's leader/follower positions, and optionally mirrors
// every sample to MQTT and/or a websocket feed over pkg/telemetry.
type MonitorCommand struct {
	Joints        string   `short:"j" long:"joints" default:"joints.cfg" description:"Joint definition file"`
	Ports         []string `short:"p" long:"port" description:"Candidate serial ports (repeatable)"`
	RunConfig     string   `long:"run-config" default:"robolink.json" description:"Run configuration file"`
	MQTTBroker    string   `long:"mqtt" description:"MQTT broker address to publish feedback to (optional)"`
	WebSocketAddr string   `long:"websocket" description:"Address to serve a live websocket feed on (optional)"`
}

func (cmd *MonitorCommand) Execute(args []string) error {
	cfg, err := jointconfig.Load(cmd.Joints)
	if err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	run, err := loadRunConfig(cmd.RunConfig)
	if err != nil {
		return err
	}
	candidates, err := candidatePorts(cmd.Ports, run)
	if err != nil {
		return err
	}

	var publishers []telemetry.Publisher
	broker := cmd.MQTTBroker
	if broker == "" {
		broker = run.MQTTBroker
	}
	if broker != "" {
		pub, err := telemetry.DialMQTT(broker, "robolink-monitor")
		if err != nil {
			return fmt.Errorf("monitor: %w", err)
		}
		defer pub.Close()
		publishers = append(publishers, pub)
	}
	wsAddr := cmd.WebSocketAddr
	if wsAddr == "" {
		wsAddr = run.WebSocketAddr
	}
	if wsAddr != "" {
		hub := telemetry.NewWebSocketHub()
		go serveWebSocket(wsAddr, hub)
		publishers = append(publishers, hub)
	}

	conn, err := dialConnection(candidates, cfg.Joints, run, nil)
	if err != nil {
		return fmt.Errorf("monitor: %w", err)
	}

	reporter := telemetry.NewReporter(conn, publishers...)

	p := tea.NewProgram(initialMonitorModel(conn, reporter, cfg.Joints), tea.WithAltScreen())
	_, err = p.Run()
	return err
}

const (
	monHeaderHeight = 2
	monFooterHeight = 4
	monMaxLogs      = 5
	monBorder       = 2
)

var (
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
)

type tickMsg time.Time

func waitForTick() tea.Cmd {
	return tea.Tick(20*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

type monitorModel struct {
	conn     *connection.Connection
	reporter *telemetry.Reporter
	joints   []jointconfig.JointConfig
	chart    *streamlinechart.Model
	width    int
	height   int
	logs     []string
	quitting bool
}

func initialMonitorModel(conn *connection.Connection, reporter *telemetry.Reporter, joints []jointconfig.JointConfig) monitorModel {
	chart := streamlinechart.New(80, 20, streamlinechart.WithYRange(-33000, 33000))
	colors := []string{"196", "208", "226", "46", "51", "201", "39", "129"}
	for i, j := range joints {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(colors[i%len(colors)]))
		chart.SetDataSetStyles(j.Name, runes.ThinLineStyle, style)
	}
	return monitorModel{conn: conn, reporter: reporter, joints: joints, chart: &chart}
}

func (m monitorModel) Init() tea.Cmd { return waitForTick() }

func (m *monitorModel) chartSize() (int, int) {
	w := m.width - monBorder - 2
	if w < 40 {
		w = 40
	}
	h := m.height - monHeaderHeight - monFooterHeight - monBorder
	if h < 10 {
		h = 10
	}
	return w, h
}

func (m *monitorModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > monMaxLogs {
		m.logs = m.logs[len(m.logs)-monMaxLogs:]
	}
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		w, h := m.chartSize()
		m.chart.Resize(w, h)
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		prev := m.conn.State()
		if err := m.conn.Step(); err != nil {
			m.addLog(fmt.Sprintf("[%s] %v", time.Time(msg).Format("15:04:05"), err))
		}
		if m.conn.State() == connection.RobotConfirmed && prev == connection.RobotConfirmed {
			m.conn.RequestInit()
		}
		if m.conn.State() != prev {
			m.addLog(fmt.Sprintf("[%s] %s -> %s", time.Time(msg).Format("15:04:05"), prev, m.conn.State()))
		}

		if err := m.reporter.Poll(time.Time(msg)); err != nil {
			m.addLog(fmt.Sprintf("[%s] telemetry: %v", time.Time(msg).Format("15:04:05"), err))
		}

		fb := m.conn.LastFeedback()
		for i, j := range m.joints {
			if i >= int(fb.NumAxes) {
				continue
			}
			if fb.Positions[i] == proto.NoReading {
				continue
			}
			m.chart.PushDataSet(j.Name, float64(fb.Positions[i])-jointconfig.PositionBias)
		}
		m.chart.DrawAll()

		return m, waitForTick()
	}
	return m, nil
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Monitor stopped.\n"
	}
	var sb strings.Builder
	sb.WriteString(headerStyle.Render("robolink monitor"))
	sb.WriteString(statusStyle.Render(fmt.Sprintf("  state: %s", m.conn.State())))
	sb.WriteString("\n\n")
	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")

	logBox := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(max(m.width-4, 40))
	var lines string
	if len(m.logs) == 0 {
		lines = statusStyle.Render("Press 'q' to quit")
	} else {
		lines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logBox.Render(lines))
	sb.WriteString("\n")
	return sb.String()
}

// serveWebSocket runs the hub's HTTP upgrade endpoint until the
// process exits. A failure to start is ignored without being logged,
// and the TUI keeps running without the websocket feed.
func serveWebSocket(addr string, hub *telemetry.WebSocketHub) {
	mux := http.NewServeMux()
	mux.Handle("/", hub)
	_ = http.ListenAndServe(addr, mux)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
