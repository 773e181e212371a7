// Package ui рисует терминальный дашборд: портфель, сигналы последнего
// цикла и хвост логов. Только чтение через аксессоры бота — состояние
// портфеля отсюда не меняется.
package ui

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/skalibog/bsat/internal/bot"
	"github.com/skalibog/bsat/internal/config"
	"github.com/skalibog/bsat/pkg/logger"
	"github.com/skalibog/bsat/pkg/models"
)

// Стили UI
var (
	primaryColor = lipgloss.Color("#0077cc")
	dimColor     = lipgloss.Color("#333333")
	errorColor   = lipgloss.Color("#cc3300")
	successColor = lipgloss.Color("#33cc33")
	warningColor = lipgloss.Color("#cccc00")

	appStyle = lipgloss.NewStyle().
			Padding(1, 2).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor)
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffffff")).
			Background(primaryColor).
			Padding(0, 1).
			Align(lipgloss.Center)
	sectionHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#ffffff")).
				Background(dimColor).
				Padding(0, 1)
	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(dimColor).
			Padding(0, 1)
	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#999999")).
			Padding(0, 1)
)

const maxLogLines = 50

// TermUI представляет терминальный интерфейс
type TermUI struct {
	bot      *bot.Bot
	config   config.UIConfig
	program  *tea.Program
	logFile  string
	logs     []string
	logsMu   sync.RWMutex
	width    int
	height   int
	stopOnce sync.Once
	done     chan struct{}
}

// Сообщение для периодического обновления UI
type refreshMsg struct{}

// bubbleModel - модель для bubbletea
type bubbleModel struct {
	ui *TermUI
}

// NewTermUI создает терминальный интерфейс поверх аксессоров бота
func NewTermUI(cfg config.UIConfig, tradingBot *bot.Bot, ctx context.Context) (*TermUI, error) {
	ui := &TermUI{
		bot:     tradingBot,
		config:  cfg,
		logFile: "app.json.log",
		logs:    []string{"BSAT запущен. Ожидание первого цикла..."},
		width:   120,
		height:  40,
		done:    make(chan struct{}),
	}

	// Фоновое чтение хвоста логов и пинок перерисовки
	go func() {
		ticker := time.NewTicker(time.Duration(cfg.RefreshRate) * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := ui.loadLogsFromFile(); err != nil {
					logger.Warn("Ошибка загрузки логов", zap.Error(err))
				}
				if ui.program != nil {
					ui.program.Send(refreshMsg{})
				}
			case <-ctx.Done():
				return
			case <-ui.done:
				return
			}
		}
	}()

	return ui, nil
}

// Start запускает UI в текущей горутине (блокирующий вызов)
func (ui *TermUI) Start() {
	model := bubbleModel{ui: ui}
	ui.program = tea.NewProgram(model, tea.WithAltScreen())

	if _, err := ui.program.Run(); err != nil {
		fmt.Printf("Ошибка запуска UI: %v\n", err)
	}
	ui.stopOnce.Do(func() { close(ui.done) })
}

// loadLogsFromFile перечитывает JSON-лог и держит последние строки
func (ui *TermUI) loadLogsFromFile() error {
	file, err := os.Open(ui.logFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var logs []string

	// Регулярное выражение для удаления ANSI-цветов
	ansiRegex := regexp.MustCompile(`\x1b\[[0-9;]*m`)

	for scanner.Scan() {
		line := scanner.Text()

		var zapLog map[string]interface{}
		if err := json.Unmarshal([]byte(line), &zapLog); err == nil {
			level, _ := zapLog["level"].(string)
			ts, _ := zapLog["ts"].(string)
			msg, _ := zapLog["msg"].(string)

			level = ansiRegex.ReplaceAllString(level, "")

			timestamp := ""
			if t, err := time.Parse("02.01.2006 - 15:04:05.999999999Z07:00", ts); err == nil {
				timestamp = t.Format("15:04:05")
			}

			formattedMsg := fmt.Sprintf("[%s] [%s] %s", timestamp, level, msg)
			for k, v := range zapLog {
				if k != "level" && k != "ts" && k != "msg" && k != "caller" {
					formattedMsg += fmt.Sprintf(" (%s: %v)", k, v)
				}
			}
			logs = append(logs, formattedMsg)
		} else {
			logs = append(logs, line)
		}

		if len(logs) > maxLogLines {
			logs = logs[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	ui.logsMu.Lock()
	defer ui.logsMu.Unlock()
	if len(logs) > 0 {
		ui.logs = logs
	}
	return nil
}

// Методы для bubbletea
func (m bubbleModel) Init() tea.Cmd {
	return nil
}

func (m bubbleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.ui.width = msg.Width
		m.ui.height = msg.Height

	case refreshMsg:
		// Просто обновляем UI
	}

	return m, nil
}

func (m bubbleModel) View() string {
	snapshot := m.ui.bot.Snapshot()
	signals := m.ui.bot.LastSignals()
	lastCycle := m.ui.bot.LastCycleAt()

	m.ui.logsMu.RLock()
	logs := make([]string, len(m.ui.logs))
	copy(logs, m.ui.logs)
	m.ui.logsMu.RUnlock()

	title := titleStyle.Render("BSAT - Binance Spot Auto Trader")
	portfolio := renderPortfolioSection(snapshot, lastCycle)
	signalsSection := renderSignalsSection(signals)
	logsSection := renderLogsSection(logs)
	footer := footerStyle.Render("Клавиши: Q - выход")

	return appStyle.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			title,
			"\n",
			portfolio,
			"\n",
			signalsSection,
			"\n",
			logsSection,
			"\n",
			footer,
		),
	)
}

func renderPortfolioSection(snapshot bot.PortfolioState, lastCycle time.Time) string {
	header := sectionHeaderStyle.Render("ПОРТФЕЛЬ")
	content := strings.Builder{}

	cycleInfo := "еще не было"
	if !lastCycle.IsZero() {
		cycleInfo = lastCycle.Format("15:04:05")
	}
	content.WriteString(fmt.Sprintf("  Капитал: %.2f | Кэш: %.2f | Позиций: %d | Последний цикл: %s\n",
		snapshot.Equity, snapshot.Cash, len(snapshot.Positions), cycleInfo))

	if len(snapshot.Positions) > 0 {
		content.WriteString(fmt.Sprintf("  %-12s %-5s %12s %12s %12s %12s\n",
			"РЫНОК", "СТОР.", "ВХОД", "ОБЪЕМ", "СТОП", "ТЕЙК"))
		for _, pos := range sortedPositions(snapshot.Positions) {
			content.WriteString(fmt.Sprintf("  %-12s %-5s %12.4f %12.6f %12.4f %12.4f\n",
				pos.Symbol, pos.Side, pos.EntryPrice, pos.Volume, pos.Stop, pos.TakeProfit))
		}
	}

	return sectionStyle.Render(
		lipgloss.JoinVertical(lipgloss.Left, header, content.String()),
	)
}

func renderSignalsSection(signals []models.Signal) string {
	header := sectionHeaderStyle.Render("СИГНАЛЫ ПОСЛЕДНЕГО ЦИКЛА")
	content := strings.Builder{}

	if len(signals) == 0 {
		content.WriteString("  нет сигналов\n")
	} else {
		content.WriteString(fmt.Sprintf("  %-12s %-5s %10s %12s %12s\n",
			"РЫНОК", "СТОР.", "SCORE", "ВХОД", "СТОП"))
		shown := signals
		if len(shown) > 10 {
			shown = shown[:10]
		}
		for _, sig := range shown {
			line := fmt.Sprintf("  %-12s %-5s %10.4f %12.4f %12.4f",
				sig.Symbol, sig.Side, sig.Score, sig.Entry, sig.Stop)
			if sig.Side == models.SideBuy {
				line = lipgloss.NewStyle().Foreground(successColor).Render(line)
			} else {
				line = lipgloss.NewStyle().Foreground(errorColor).Render(line)
			}
			content.WriteString(line + "\n")
		}
	}

	return sectionStyle.Render(
		lipgloss.JoinVertical(lipgloss.Left, header, content.String()),
	)
}

func renderLogsSection(logs []string) string {
	header := sectionHeaderStyle.Render("ЛОГИ")
	content := strings.Builder{}

	maxLogsToShow := 10
	start := 0
	if len(logs) > maxLogsToShow {
		start = len(logs) - maxLogsToShow
	}

	for i := start; i < len(logs); i++ {
		log := logs[i]

		// Выделение по уровню логирования
		if strings.Contains(log, "[ERROR]") {
			log = lipgloss.NewStyle().Foreground(errorColor).Render(log)
		} else if strings.Contains(log, "[INFO]") {
			log = lipgloss.NewStyle().Foreground(successColor).Render(log)
		} else if strings.Contains(log, "[WARN]") {
			log = lipgloss.NewStyle().Foreground(warningColor).Render(log)
		} else if strings.Contains(log, "[DEBUG]") {
			log = lipgloss.NewStyle().Foreground(lipgloss.Color("#9999ff")).Render(log)
		}

		content.WriteString("  " + log + "\n")
	}

	return sectionStyle.Render(
		lipgloss.JoinVertical(lipgloss.Left, header, content.String()),
	)
}

func sortedPositions(positions map[string]models.PositionSnapshot) []models.PositionSnapshot {
	out := make([]models.PositionSnapshot, 0, len(positions))
	for _, pos := range positions {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
