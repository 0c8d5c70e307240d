package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// StdioHook writes event data to a stream, one record per event
type StdioHook struct {
	id     string
	format string // "json" or "env"

	mu     sync.Mutex
	output io.Writer
}

// NewStdioHook creates a new stdio hook writing to output
func NewStdioHook(id, format string, output io.Writer) *StdioHook {
	return &StdioHook{id: id, format: format, output: output}
}

// Execute outputs the event data in the configured format
func (h *StdioHook) Execute(ctx context.Context, event Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.format {
	case "json":
		return h.outputJSON(event)
	case "env":
		return h.outputEnv(event)
	default:
		return fmt.Errorf("stdio hook %s: unsupported format: %s", h.id, h.format)
	}
}

func (h *StdioHook) Type() string { return "stdio" }
func (h *StdioHook) ID() string   { return h.id }

// outputJSON outputs the event as a JSON line prefixed with RTMP_EVENT:
func (h *StdioHook) outputJSON(event Event) error {
	jsonData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("stdio hook %s: failed to marshal JSON: %w", h.id, err)
	}
	if _, err := fmt.Fprintf(h.output, "RTMP_EVENT: %s\n", jsonData); err != nil {
		return fmt.Errorf("stdio hook %s: failed to write JSON: %w", h.id, err)
	}
	return nil
}

// outputEnv outputs the event as environment variable assignments
func (h *StdioHook) outputEnv(event Event) error {
	lines := []string{
		"# RTMP Event: " + string(event.Type),
		"RTMP_EVENT_TYPE=" + string(event.Type),
		fmt.Sprintf("RTMP_TIMESTAMP=%d", event.Timestamp),
	}
	if event.ConnID != "" {
		lines = append(lines, "RTMP_CONN_ID="+event.ConnID)
	}
	if event.PeerAddr != "" {
		lines = append(lines, "RTMP_PEER_ADDR="+event.PeerAddr)
	}

	keys := make([]string, 0, len(event.Data))
	for k := range event.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("RTMP_%s=%v", strings.ToUpper(k), event.Data[k]))
	}
	lines = append(lines, "")

	if _, err := io.WriteString(h.output, strings.Join(lines, "\n")+"\n"); err != nil {
		return fmt.Errorf("stdio hook %s: failed to write env lines: %w", h.id, err)
	}
	return nil
}
