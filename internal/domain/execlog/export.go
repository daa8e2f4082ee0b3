package execlog

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
)

// Format is an export encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatTXT  Format = "txt"
	FormatCSV  Format = "csv"
)

// ContentType returns the MIME type served for f.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatCSV:
		return "text/csv"
	default:
		return "text/plain; charset=utf-8"
	}
}

// ParseFormat validates an export format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSON, FormatTXT, FormatCSV:
		return Format(s), nil
	}
	return "", fmt.Errorf("unsupported export format %q: must be json, txt, or csv", s)
}

// Export renders logs in the requested format.
func Export(logs []Log, f Format) ([]byte, error) {
	switch f {
	case FormatJSON:
		return exportJSON(logs)
	case FormatTXT:
		return exportTXT(logs), nil
	case FormatCSV:
		return exportCSV(logs)
	}
	return nil, fmt.Errorf("unsupported export format %q", f)
}

func exportJSON(logs []Log) ([]byte, error) {
	if logs == nil {
		logs = []Log{}
	}
	return json.MarshalIndent(logs, "", "  ")
}

func exportTXT(logs []Log) []byte {
	var b strings.Builder
	for i := range logs {
		l := &logs[i]
		agent := ""
		if l.AgentName != "" {
			agent = "[" + l.AgentName + "] "
		}
		fmt.Fprintf(&b, "[%s] [%s] [%s] %s%s\n",
			l.Timestamp.UTC().Format("2006-01-02 15:04:05"),
			strings.ToUpper(string(l.Level)), l.EventType, agent, l.Content)
		if len(l.Data) > 0 {
			data, _ := json.Marshal(l.Data)
			fmt.Fprintf(&b, "  Data: %s\n", data)
		}
		b.WriteString("\n")
	}
	return []byte(b.String())
}

func exportCSV(logs []Log) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"Timestamp", "Level", "Event Type", "Agent Name", "Content", "Data"}); err != nil {
		return nil, err
	}
	for i := range logs {
		l := &logs[i]
		data := ""
		if len(l.Data) > 0 {
			raw, err := json.Marshal(l.Data)
			if err != nil {
				return nil, fmt.Errorf("marshal log data: %w", err)
			}
			data = string(raw)
		}
		row := []string{
			l.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00"),
			string(l.Level), string(l.EventType), l.AgentName, l.Content, data,
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
