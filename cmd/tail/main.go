// Command tail follows a thread's live event feed and prints each
// event to stdout. Useful for watching a conversation during
// development without a frontend.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

func main() {
	var (
		base   string
		apiKey string
		thread string
		kind   string
	)
	flag.StringVar(&base, "url", "http://localhost:8080", "server base URL")
	flag.StringVar(&apiKey, "key", "", "API key")
	flag.StringVar(&thread, "thread", "", "thread id to follow")
	flag.StringVar(&kind, "kind", "messages", "feed kind: messages|typing|reads|reactions")
	flag.Parse()
	if thread == "" {
		fmt.Fprintln(os.Stderr, "--thread required")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	url := fmt.Sprintf("%s/v1/threads/%s/events/%s", base, thread, kind)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "request: %v\n", err)
		os.Exit(1)
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "server returned %d\n", resp.StatusCode)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "following %s\n", url)

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	var event string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			fmt.Printf("[%s] %s\n", event, strings.TrimPrefix(line, "data: "))
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "stream error: %v\n", err)
		os.Exit(1)
	}
}
