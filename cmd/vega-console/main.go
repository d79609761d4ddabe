// Command vega-console is an operator terminal for vega-mountd. It talks to
// the controller over its serial command link, synchronises the controller
// clock on connect, and shows replies and position broadcasts.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/unklstewy/vega-mount/internal/serialport"
)

func main() {
	port := flag.String("port", "", "Serial device of the controller (e.g., /dev/ttyUSB0)")
	baud := flag.Int("baud", serialport.DefaultBaudRate, "Link speed")
	listPorts := flag.Bool("list-ports", false, "List serial devices and exit")
	flag.Parse()

	if *listPorts || *port == "" {
		ports, err := serialport.Ports()
		if err != nil {
			fmt.Fprintf(os.Stderr, "list ports: %v\n", err)
			os.Exit(1)
		}
		if *port == "" && !*listPorts {
			fmt.Fprintln(os.Stderr, "usage: vega-console -port <device>")
			fmt.Fprintln(os.Stderr, "available ports:")
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		if *port == "" && !*listPorts {
			os.Exit(2)
		}
		return
	}

	link, err := serialport.Open(*port, serialport.PortOptions{BaudRate: *baud})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer link.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		_ = serialport.Monitor(ctx, link, func(line string) {
			select {
			case lines <- line:
			case <-ctx.Done():
			}
		})
	}()

	p := tea.NewProgram(newModel(link, lines, nil), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
