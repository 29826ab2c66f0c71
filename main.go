package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"volstore/pkg/buffer"
	"volstore/pkg/logging"
	"volstore/pkg/volume"

	"github.com/charmbracelet/lipgloss"
)

type Configuration struct {
	VolumeName string
	DataDir    string
	PageSize   int
	CacheBytes int64
	Temporary  bool
	DemoMode   bool
	LogPath    string
}

func main() {
	config := parseArguments()
	showSplashScreen()

	if err := initializeLogging(config); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logging.Close()

	registry, err := initializeRegistry(config)
	if err != nil {
		log.Fatalf("Failed to initialize registry: %v", err)
	}

	vol, err := openVolume(registry, config)
	if err != nil {
		log.Fatalf("Failed to open volume: %v", err)
	}
	defer vol.Close()

	if config.DemoMode {
		if err := runDemoMode(vol); err != nil {
			log.Fatalf("Demo mode failed: %v", err)
		}
	}

	printSummary(vol)
}

// parseArguments processes command-line flags
func parseArguments() Configuration {
	var config Configuration

	flag.StringVar(&config.VolumeName, "volume", "myvol", "Volume name")
	flag.StringVar(&config.DataDir, "data", "./data", "Data directory path")
	flag.IntVar(&config.PageSize, "pagesize", 4096, "Page size in bytes (power of two, 1024-16384)")
	flag.Int64Var(&config.CacheBytes, "cache", 16<<20, "Buffer cache size in bytes")
	flag.BoolVar(&config.Temporary, "temp", false, "Open an ephemeral in-memory volume")
	flag.BoolVar(&config.DemoMode, "demo", false, "Exercise the volume with sample trees and pages")
	flag.StringVar(&config.LogPath, "log", "", "Log file path (stderr if empty)")

	flag.Parse()

	return config
}

// showSplashScreen displays a welcome banner
func showSplashScreen() {
	splash := `
╔═══════════════════════════════════════════════════╗
║                                                   ║
║   ██╗   ██╗ ██████╗ ██╗     ███████╗████████╗     ║
║   ██║   ██║██╔═══██╗██║     ██╔════╝╚══██╔══╝     ║
║   ██║   ██║██║   ██║██║     ███████╗   ██║        ║
║   ╚██╗ ██╔╝██║   ██║██║     ╚════██║   ██║        ║
║    ╚████╔╝ ╚██████╔╝███████╗███████║   ██║        ║
║     ╚═══╝   ╚═════╝ ╚══════╝╚══════╝   ╚═╝        ║
║                                                   ║
║     Volume Lifecycle & Page Buffer Coordinator    ║
╚═══════════════════════════════════════════════════╝
`

	style := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#7C3AED")).
		Bold(true)

	fmt.Println(style.Render(splash))
}

func initializeLogging(config Configuration) error {
	if config.LogPath == "" {
		logging.InitDefault()
		return nil
	}
	return logging.Init(logging.Config{
		Level:      "info",
		OutputPath: config.LogPath,
	})
}

// initializeRegistry builds the shared buffer cache and the volume registry
func initializeRegistry(config Configuration) (*volume.Registry, error) {
	cache, err := buffer.NewBufferCache(config.CacheBytes, config.PageSize)
	if err != nil {
		return nil, err
	}
	fmt.Printf("🔧 Buffer cache ready: %d slots of %d bytes\n",
		cache.Capacity(), cache.PageSize())
	return volume.NewRegistry(cache), nil
}

func openVolume(registry *volume.Registry, config Configuration) (*volume.Volume, error) {
	if config.Temporary {
		vol, err := registry.OpenTemporary(config.VolumeName, config.PageSize, volume.DefaultConfig())
		if err != nil {
			return nil, err
		}
		fmt.Printf("✅ Temporary volume '%s' opened\n", vol.Name())
		return vol, nil
	}

	if err := os.MkdirAll(config.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %v", err)
	}
	path := filepath.Join(config.DataDir, config.VolumeName+".vol")

	spec, err := volume.NewVolumeSpecification(path, config.PageSize, true, false, false)
	if err != nil {
		return nil, err
	}
	vol, err := registry.Open(spec, volume.DefaultConfig())
	if err != nil {
		return nil, err
	}
	fmt.Printf("✅ Volume '%s' opened at %s\n", vol.Name(), vol.Path())
	return vol, nil
}

// runDemoMode creates sample trees and touches their root pages
func runDemoMode(vol *volume.Volume) error {
	fmt.Println("\n🎮 Running demo mode - creating sample trees...")

	treeNames := []string{"users", "products", "orders"}
	for _, name := range treeNames {
		tree, err := vol.GetTree(name, true)
		if err != nil {
			return fmt.Errorf("failed to create tree %q: %v", name, err)
		}

		buf, err := vol.Page(tree.RootPage(), buffer.ExclusiveClaim)
		if err != nil {
			return fmt.Errorf("failed to claim root page of %q: %v", name, err)
		}
		copy(buf.Data(), []byte(name))
		buf.MarkDirty()
		vol.ReleasePage(buf)

		fmt.Printf("  🌳 %s (root page %d, handle %d)\n",
			tree.Name(), tree.RootPage(), tree.Handle())
	}

	// Read the pages back so the cache records some hits.
	for _, name := range treeNames {
		tree, err := vol.GetTree(name, false)
		if err != nil {
			return err
		}
		buf, err := vol.Page(tree.RootPage(), buffer.SharedClaim)
		if err != nil {
			return err
		}
		vol.ReleasePage(buf)
	}

	fmt.Println("✅ Demo trees created")
	return nil
}

// printSummary renders the volume state and cache counters
func printSummary(vol *volume.Volume) {
	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#06B6D4")).
		Bold(true)

	names, err := vol.TreeNames()
	if err != nil {
		names = nil
	}
	stats := vol.Statistics()

	fmt.Println()
	fmt.Printf("%s %s\n", labelStyle.Render("Volume:"), vol)
	fmt.Printf("%s %d bytes/page, %d pages extended, next page %d\n",
		labelStyle.Render("Geometry:"), vol.PageSize(), vol.ExtendedPageCount(), vol.NextAvailablePage())
	fmt.Printf("%s %v\n", labelStyle.Render("Trees:"), names)
	fmt.Printf("%s %s\n", labelStyle.Render("Statistics:"), stats)
}
