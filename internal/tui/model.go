// Package tui 是聊天客户端的终端界面。Bubble Tea 的 Update 循环是同步循环交接队列的唯一消费者。
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/discovicke/DucklordChatking/internal/chatsync"
	"github.com/discovicke/DucklordChatking/internal/models"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"
)

const (
	defaultTick          = 100 * time.Millisecond
	defaultPresenceEvery = 2 * time.Second
	presenceTimeout      = 2 * time.Second

	// 侧栏含边框的宽度；窗口窄于 minWidthForPanel 时不显示侧栏。
	panelWidth       = 22
	minWidthForPanel = 60
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#f1fa8c")).Padding(0, 1)
	timeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6272a4"))
	senderStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8be9fd"))
	selfStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#50fa7b"))
	hintStyle    = lipgloss.NewStyle().Faint(true)
	panelStyle   = lipgloss.NewStyle().Border(lipgloss.NormalBorder(), false, false, false, true).BorderForeground(lipgloss.Color("#44475a")).PaddingLeft(1)
	onlineStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#50fa7b"))
	offlineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6272a4"))
)

// PresenceSource 提供用户在线状态，client.Session 实现了它。
type PresenceSource interface {
	ListPresence(ctx context.Context) ([]models.UserStatus, error)
}

type Options struct {
	Loop     *chatsync.Loop
	Username string
	Tick     time.Duration

	// Presence 为空时不显示用户侧栏。
	Presence      PresenceSource
	PresenceEvery time.Duration

	// Context 结束后不再发起在线状态请求。
	Context context.Context
}

// Model 是界面的根模型。
type Model struct {
	loop     *chatsync.Loop
	username string
	tick     time.Duration

	presence      PresenceSource
	presenceEvery time.Duration
	ctx           context.Context
	statuses      []models.UserStatus

	input  textinput.Model
	view   viewport.Model
	ready  bool
	width  int
	height int
	notice string
}

func New(opts Options) Model {
	tick := opts.Tick
	if tick <= 0 {
		tick = defaultTick
	}
	every := opts.PresenceEvery
	if every <= 0 {
		every = defaultPresenceEvery
	}
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	ti := textinput.New()
	ti.Placeholder = "Say something..."
	ti.CharLimit = 2000
	ti.Focus()
	return Model{
		loop:          opts.Loop,
		username:      opts.Username,
		tick:          tick,
		presence:      opts.Presence,
		presenceEvery: every,
		ctx:           ctx,
		input:         ti,
	}
}

type tickMsg time.Time

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

type presenceMsg struct {
	statuses []models.UserStatus
	err      error
}

func fetchPresence(ctx context.Context, src PresenceSource) tea.Msg {
	ctx, cancel := context.WithTimeout(ctx, presenceTimeout)
	defer cancel()
	statuses, err := src.ListPresence(ctx)
	return presenceMsg{statuses: statuses, err: err}
}

// presenceCmd 在 d 之后拉取一次在线状态。d 为 0 时立即拉取。
func (m Model) presenceCmd(d time.Duration) tea.Cmd {
	if m.presence == nil {
		return nil
	}
	src, ctx := m.presence, m.ctx
	if d <= 0 {
		return func() tea.Msg { return fetchPresence(ctx, src) }
	}
	return tea.Tick(d, func(time.Time) tea.Msg {
		return fetchPresence(ctx, src)
	})
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, tickCmd(m.tick), m.presenceCmd(0))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		h := msg.Height - 4
		if h < 1 {
			h = 1
		}
		w := m.chatWidth()
		if !m.ready {
			m.view = viewport.New(w, h)
			m.ready = true
		} else {
			m.view.Width, m.view.Height = w, h
		}
		m.input.Width = msg.Width - 4
		m.refresh()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if m.loop.SendMessage(m.input.Value()) {
				m.input.Reset()
				m.notice = ""
			} else {
				m.notice = "nothing to send"
			}
			return m, nil
		}

	case tickMsg:
		if m.loop.ProcessIncoming() {
			m.refresh()
		}
		return m, tickCmd(m.tick)

	case presenceMsg:
		if msg.err != nil {
			// 保留上一次的列表，下一轮再试。
			if m.ctx.Err() == nil {
				log.Warn().Err(msg.err).Msg("fetch presence failed")
			}
		} else {
			m.statuses = msg.statuses
		}
		if m.ctx.Err() != nil {
			return m, nil
		}
		return m, m.presenceCmd(m.presenceEvery)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	if m.ready {
		m.view, cmd = m.view.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m Model) showPanel() bool {
	return m.presence != nil && m.width >= minWidthForPanel
}

func (m Model) chatWidth() int {
	if m.showPanel() {
		return m.width - panelWidth
	}
	return m.width
}

func (m *Model) refresh() {
	if !m.ready {
		return
	}
	m.view.SetContent(renderMessages(m.loop.Messages(), m.username))
	m.view.GotoBottom()
}

func (m Model) View() string {
	if !m.ready {
		return "connecting..."
	}
	header := headerStyle.Render(fmt.Sprintf("Ducklord chat  %s", m.username))
	footer := hintStyle.Render("enter send  esc quit")
	if m.notice != "" {
		footer = hintStyle.Render(m.notice)
	}
	body := m.view.View()
	if m.showPanel() {
		panel := panelStyle.Width(panelWidth - 2).Height(m.view.Height).Render(renderPresence(m.statuses))
		body = lipgloss.JoinHorizontal(lipgloss.Top, body, panel)
	}
	return lipgloss.JoinVertical(lipgloss.Left, header, body, m.input.View(), footer)
}

func renderMessages(msgs []models.MessageView, self string) string {
	var b strings.Builder
	for i, msg := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		style := senderStyle
		if models.UsernameKey(msg.Sender) == models.UsernameKey(self) {
			style = selfStyle
		}
		b.WriteString(timeStyle.Render(msg.Timestamp.Local().Format("15:04")))
		b.WriteByte(' ')
		b.WriteString(style.Render(msg.Sender))
		b.WriteString(": ")
		b.WriteString(msg.Content)
	}
	return b.String()
}

// renderPresence 先列在线用户再列离线用户，各自保持服务端给出的顺序。
func renderPresence(statuses []models.UserStatus) string {
	var online, offline []string
	for _, s := range statuses {
		if s.Online {
			online = append(online, onlineStyle.Render("● ")+s.Username)
		} else {
			offline = append(offline, offlineStyle.Render("○ "+s.Username))
		}
	}
	lines := []string{onlineStyle.Render("ONLINE")}
	lines = append(lines, online...)
	lines = append(lines, "", offlineStyle.Render("OFFLINE"))
	lines = append(lines, offline...)
	return strings.Join(lines, "\n")
}

// Run 启动界面并阻塞到用户退出。
func Run(opts Options) error {
	p := tea.NewProgram(New(opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
