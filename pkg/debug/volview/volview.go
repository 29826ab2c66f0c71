package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"volstore/pkg/buffer"
	"volstore/pkg/primitives"
	"volstore/pkg/volume"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

// cacheBytes sizes the inspector's private buffer cache. Small on purpose:
// the point is to watch hits, misses, and evictions move as you page around.
const cacheBytes = 64 * 16384

type volModel struct {
	path     string
	pageSize int

	registry *volume.Registry
	vol      *volume.Volume

	currentView string // "loading", "summary", "page"
	currentPage primitives.PageNumber
	totalPages  primitives.PageNumber
	pageData    []byte
	width       int
	height      int
	err         error
}

func initialVolModel(path string, pageSize int) volModel {
	return volModel{
		path:        path,
		pageSize:    pageSize,
		currentView: "loading",
	}
}

func (m volModel) Init() tea.Cmd {
	return openVolume(m.path, m.pageSize)
}

type volOpenedMsg struct {
	registry *volume.Registry
	vol      *volume.Volume
	err      error
}

func openVolume(path string, pageSize int) tea.Cmd {
	return func() tea.Msg {
		cache, err := buffer.NewBufferCache(cacheBytes, pageSize)
		if err != nil {
			return volOpenedMsg{err: err}
		}
		registry := volume.NewRegistry(cache)

		spec, err := volume.NewVolumeSpecification(path, pageSize, false, false, true)
		if err != nil {
			return volOpenedMsg{err: err}
		}
		vol, err := registry.Open(spec, volume.DefaultConfig())
		if err != nil {
			return volOpenedMsg{err: err}
		}
		return volOpenedMsg{registry: registry, vol: vol}
	}
}

type pageLoadedMsg struct {
	pageNo primitives.PageNumber
	data   []byte
	err    error
}

func loadPage(vol *volume.Volume, pageNo primitives.PageNumber) tea.Cmd {
	return func() tea.Msg {
		buf, err := vol.Page(pageNo, buffer.SharedClaim)
		if err != nil {
			return pageLoadedMsg{err: err}
		}
		data := make([]byte, len(buf.Data()))
		copy(data, buf.Data())
		vol.ReleasePage(buf)
		return pageLoadedMsg{pageNo: pageNo, data: data}
	}
}

func (m volModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case volOpenedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.registry = msg.registry
		m.vol = msg.vol
		m.totalPages = msg.vol.ExtendedPageCount()
		m.currentView = "summary"
		return m, nil

	case pageLoadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.currentPage = msg.pageNo
		m.pageData = msg.data
		m.currentView = "page"
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, viewerKeys.Quit) {
			if m.vol != nil {
				m.vol.Close()
			}
			return m, tea.Quit
		}

		switch m.currentView {
		case "summary":
			if key.Matches(msg, viewerKeys.Select) {
				return m, loadPage(m.vol, 0)
			}

		case "page":
			switch {
			case key.Matches(msg, viewerKeys.Back):
				m.currentView = "summary"
				m.pageData = nil
				return m, nil
			case key.Matches(msg, viewerKeys.NextPage):
				if m.currentPage < m.lastPage() {
					return m, loadPage(m.vol, m.currentPage+1)
				}
			case key.Matches(msg, viewerKeys.PrevPage):
				if m.currentPage > 0 {
					return m, loadPage(m.vol, m.currentPage-1)
				}
			case key.Matches(msg, viewerKeys.FirstPage):
				return m, loadPage(m.vol, 0)
			case key.Matches(msg, viewerKeys.LastPage):
				return m, loadPage(m.vol, m.lastPage())
			}
		}
	}

	return m, nil
}

func (m volModel) lastPage() primitives.PageNumber {
	if m.totalPages == 0 {
		return 0
	}
	return m.totalPages - 1
}

func (m volModel) View() string {
	if m.err != nil {
		return renderError(m.err)
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("🗂  Volume Inspector") + "\n\n")

	switch m.currentView {
	case "loading":
		b.WriteString("Opening volume...\n")
	case "summary":
		b.WriteString(m.renderSummary())
	case "page":
		b.WriteString(m.renderPage())
	}

	b.WriteString("\n" + m.renderStatusBar())
	return b.String()
}

func (m volModel) renderSummary() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render(" "+m.vol.Name()+" ") + "\n\n")

	rows := [][2]string{
		{"Path", m.vol.Path()},
		{"Identifier", fmt.Sprintf("%d", int64(m.vol.ID()))},
		{"Page size", fmt.Sprintf("%d bytes", m.vol.PageSize())},
		{"Extent", fmt.Sprintf("%d pages", m.totalPages)},
		{"Next page", fmt.Sprintf("%d", m.vol.NextAvailablePage())},
		{"Read-only", fmt.Sprintf("%t", m.vol.IsReadOnly())},
		{"Temporary", fmt.Sprintf("%t", m.vol.IsTemporary())},
	}
	for _, row := range rows {
		b.WriteString(labelStyle.Render(padString(row[0], 12)) +
			valueStyle.Render(row[1]) + "\n")
	}

	stats := m.vol.Statistics()
	b.WriteString("\n" + headerStyle.Render(" Cache Statistics ") + "\n\n")
	counters := [][2]string{
		{"Hits", fmt.Sprintf("%d", stats.Hits())},
		{"Misses", fmt.Sprintf("%d", stats.Misses())},
		{"Reads", fmt.Sprintf("%d", stats.Reads())},
		{"Writes", fmt.Sprintf("%d", stats.Writes())},
	}
	for _, row := range counters {
		b.WriteString(labelStyle.Render(padString(row[0], 12)) +
			valueStyle.Render(row[1]) + "\n")
	}

	b.WriteString("\n" + helpStyle.Render("enter: inspect pages | q: quit"))
	return b.String()
}

// renderPage shows a classic hex dump of the current page, 16 bytes per row.
func (m volModel) renderPage() string {
	var b strings.Builder

	b.WriteString(pageInfoStyle.Render(
		fmt.Sprintf("Page %d of %d", m.currentPage, m.totalPages)) + "\n\n")

	maxRows := m.height - 10
	if maxRows < 4 {
		maxRows = 16
	}
	for row := 0; row < maxRows && row*16 < len(m.pageData); row++ {
		offset := row * 16
		end := offset + 16
		if end > len(m.pageData) {
			end = len(m.pageData)
		}
		chunk := m.pageData[offset:end]

		hex := make([]string, 0, 16)
		ascii := make([]byte, 0, 16)
		for _, c := range chunk {
			hex = append(hex, fmt.Sprintf("%02x", c))
			if c >= 0x20 && c < 0x7F {
				ascii = append(ascii, c)
			} else {
				ascii = append(ascii, '.')
			}
		}

		b.WriteString(offsetStyle.Render(fmt.Sprintf("%08x  ", offset)))
		b.WriteString(valueStyle.Render(padString(strings.Join(hex, " "), 48)))
		b.WriteString("  " + offsetStyle.Render(string(ascii)) + "\n")
	}

	b.WriteString("\n" + helpStyle.Render("n/p: next/prev page | g/G: first/last | esc: back | q: quit"))
	return b.String()
}

func (m volModel) renderStatusBar() string {
	switch m.currentView {
	case "summary":
		return statusBarStyle.Render(fmt.Sprintf(" %s | %d pages ", m.path, m.totalPages))
	case "page":
		stats := m.vol.Statistics()
		return statusBarStyle.Render(fmt.Sprintf(" Page %d/%d | hits=%d misses=%d ",
			m.currentPage, m.totalPages, stats.Hits(), stats.Misses()))
	default:
		return statusBarStyle.Render(" Loading... ")
	}
}

func main() {
	pageSize := flag.Int("pagesize", 4096, "Volume page size in bytes")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Println("Usage: volview [-pagesize N] <volume-file>")
		os.Exit(1)
	}

	p := tea.NewProgram(
		initialVolModel(flag.Arg(0), *pageSize),
		tea.WithAltScreen(),
	)
	if _, err := p.Run(); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}
