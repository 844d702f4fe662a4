// envsetup provides a lightweight .env configuration wizard.
// It runs automatically on first bot startup when no .env file exists,
// collecting the Discord token and where the dictionary lives.
package envsetup

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const DefaultDatabaseURL = "./jishobot.db"

type step int

const (
	stepWelcome step = iota
	stepDiscord
	stepGuild
	stepDatabase
	stepRedis
	stepConfirm
	stepDone
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			MarginBottom(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	linkStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Underline(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("82"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

type model struct {
	path         string
	step         step
	input        textinput.Model
	discordToken string
	guildID      string
	databaseURL  string
	redisURL     string
	err          error
}

// New returns a wizard that writes its result to path.
func New(path string) model {
	ti := textinput.New()
	ti.CharLimit = 256
	ti.Width = 60
	ti.Prompt = "> "
	return model{path: path, step: stepWelcome, input: ti}
}

func (m model) Init() tea.Cmd {
	return textinput.Blink
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			return m.handleEnter()
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// next moves to s with an empty input, masking it for secrets.
func (m model) next(s step, placeholder string, secret bool) model {
	m.step = s
	m.input.Reset()
	m.input.Placeholder = placeholder
	if secret {
		m.input.EchoMode = textinput.EchoPassword
	} else {
		m.input.EchoMode = textinput.EchoNormal
	}
	m.input.Focus()
	return m
}

func (m model) handleEnter() (tea.Model, tea.Cmd) {
	m.err = nil
	value := strings.TrimSpace(m.input.Value())

	switch m.step {
	case stepWelcome:
		m = m.next(stepDiscord, "", true)

	case stepDiscord:
		if value == "" {
			m.err = errors.New("Discord token is required")
			return m, nil
		}
		m.discordToken = value
		m = m.next(stepGuild, "optional", false)

	case stepGuild:
		m.guildID = value
		m = m.next(stepDatabase, DefaultDatabaseURL, false)

	case stepDatabase:
		if value == "" {
			value = DefaultDatabaseURL
		}
		m.databaseURL = value
		m = m.next(stepRedis, "optional, e.g. redis://localhost:6379/0", false)

	case stepRedis:
		if value != "" && !strings.HasPrefix(value, "redis://") && !strings.HasPrefix(value, "rediss://") {
			m.err = errors.New("Redis URL must start with redis:// or rediss://")
			return m, nil
		}
		m.redisURL = value
		m = m.next(stepConfirm, "Y/n", false)

	case stepConfirm:
		switch strings.ToLower(value) {
		case "", "y", "yes":
			if err := m.writeEnvFile(); err != nil {
				m.err = err
				return m, nil
			}
			m.step = stepDone
			return m, tea.Quit
		case "n", "no":
			m = New(m.path).next(stepDiscord, "", true)
		default:
			m.err = errors.New("Please answer y or n")
		}
	}

	return m, nil
}

func (m model) envContent() string {
	var b strings.Builder
	fmt.Fprintf(&b, "DISCORD_TOKEN=%s\n", m.discordToken)
	if m.guildID != "" {
		fmt.Fprintf(&b, "DISCORD_GUILD_ID=%s\n", m.guildID)
	}
	fmt.Fprintf(&b, "DATABASE_URL=%s\n", m.databaseURL)
	if m.redisURL != "" {
		fmt.Fprintf(&b, "REDIS_URL=%s\n", m.redisURL)
	}
	return b.String()
}

func (m model) writeEnvFile() error {
	if err := os.WriteFile(m.path, []byte(m.envContent()), 0600); err != nil {
		return fmt.Errorf("writing %s: %w", m.path, err)
	}
	return nil
}

func (m model) View() string {
	var s strings.Builder

	switch m.step {
	case stepWelcome:
		s.WriteString(titleStyle.Render("jishobot - Env Setup"))
		s.WriteString("\n\n")
		s.WriteString("This wizard will help you configure the bot.\n")
		s.WriteString("You'll need:\n\n")
		s.WriteString("  - A Discord bot token\n")
		s.WriteString("  - A dictionary database (run dictimport with a JMdict file first)\n")
		s.WriteString("\n")
		s.WriteString(dimStyle.Render("Press Enter to continue, Ctrl+C to exit"))

	case stepDiscord:
		s.WriteString(titleStyle.Render("Step 1: Discord Bot Token"))
		s.WriteString("\n\n")
		s.WriteString("To get your Discord bot token:\n\n")
		s.WriteString("  1. Go to " + linkStyle.Render("https://discord.com/developers/applications") + "\n")
		s.WriteString("  2. Create a new application (or select existing)\n")
		s.WriteString("  3. Go to the Bot section\n")
		s.WriteString("  4. Click 'Reset Token' to get your bot token\n")
		s.WriteString("  5. Enable 'Message Content Intent' and 'Server Members Intent'\n")
		s.WriteString("\n")
		s.WriteString(labelStyle.Render("Paste your Discord token here:"))

	case stepGuild:
		s.WriteString(titleStyle.Render("Step 2: Discord Guild ID"))
		s.WriteString("\n\n")
		s.WriteString("Slash commands registered to one guild show up immediately;\n")
		s.WriteString("global commands can take up to an hour. Leave empty for global.\n")
		s.WriteString("\n")
		s.WriteString(labelStyle.Render("Guild ID:"))

	case stepDatabase:
		s.WriteString(titleStyle.Render("Step 3: Dictionary Database"))
		s.WriteString("\n\n")
		s.WriteString("A SQLite file path or a postgres:// URL.\n")
		s.WriteString("\n")
		s.WriteString(labelStyle.Render("Database (Enter for " + DefaultDatabaseURL + "):"))

	case stepRedis:
		s.WriteString(titleStyle.Render("Step 4: Lookup Cache"))
		s.WriteString("\n\n")
		s.WriteString("Lookups can be cached in Redis. Leave empty to disable.\n")
		s.WriteString("\n")
		s.WriteString(labelStyle.Render("Redis URL:"))

	case stepConfirm, stepDone:
		s.WriteString(titleStyle.Render("Configuration Complete"))
		s.WriteString("\n\n")
		s.WriteString("Your configuration:\n\n")
		s.WriteString("  Discord:  " + successStyle.Render(maskToken(m.discordToken)) + "\n")
		s.WriteString("  Guild:    " + successStyle.Render(orNone(m.guildID)) + "\n")
		s.WriteString("  Database: " + successStyle.Render(m.databaseURL) + "\n")
		s.WriteString("  Redis:    " + successStyle.Render(orNone(m.redisURL)) + "\n")
		s.WriteString("\n")
		s.WriteString(labelStyle.Render("Save this configuration to " + m.path + "? [Y/n]:"))
	}

	if m.step != stepWelcome && m.step != stepDone {
		s.WriteString("\n")
		s.WriteString(m.input.View())
	}
	if m.err != nil {
		s.WriteString("\n" + errorStyle.Render(m.err.Error()))
	}
	s.WriteString("\n")
	return s.String()
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func maskToken(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + strings.Repeat("*", len(token)-8) + token[len(token)-4:]
}

// Run starts the setup wizard and returns true if setup was completed successfully
func Run(path string) (bool, error) {
	p := tea.NewProgram(New(path))
	finalModel, err := p.Run()
	if err != nil {
		return false, err
	}

	m := finalModel.(model)
	return m.step == stepDone, nil
}

// NeedsSetup checks if the env file exists
func NeedsSetup(path string) bool {
	_, err := os.Stat(path)
	return errors.Is(err, os.ErrNotExist)
}
