// Package export writes ranked endpoints in the encodings subscribers
// consume. Every writer takes a caller-supplied io.Writer.
package export

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"proxyrank/internal/endpoint"
)

// TimeLayout is the timestamp format used in JSON and Markdown output.
const TimeLayout = "2006-01-02 15:04:05 UTC"

// WriteText writes one raw descriptor per line.
func WriteText(w io.Writer, eps []endpoint.Endpoint) error {
	bw := bufio.NewWriter(w)
	for _, ep := range eps {
		if _, err := bw.WriteString(ep.Raw + "\n"); err != nil {
			return fmt.Errorf("[Export] write text: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("[Export] write text: %w", err)
	}
	return nil
}

// WriteBase64 writes the newline-joined descriptors as a single standard
// base64 string, the usual subscription body format.
func WriteBase64(w io.Writer, eps []endpoint.Endpoint) error {
	lines := make([]string, len(eps))
	for i, ep := range eps {
		lines[i] = ep.Raw
	}
	enc := base64.NewEncoder(base64.StdEncoding, w)
	if _, err := io.WriteString(enc, strings.Join(lines, "\n")); err != nil {
		return fmt.Errorf("[Export] write base64: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("[Export] write base64: %w", err)
	}
	return nil
}

// Document is the JSON export layout.
type Document struct {
	UpdatedAt string   `json:"updated_at"`
	Total     int      `json:"total"`
	Configs   []Record `json:"configs"`
}

// Record is one endpoint in a Document.
type Record struct {
	Protocol  endpoint.Kind `json:"protocol"`
	Address   string        `json:"address"`
	Port      int           `json:"port"`
	Name      string        `json:"name"`
	LatencyMs float64       `json:"latency_ms"`
	Alive     bool          `json:"alive"`
	Raw       string        `json:"raw"`
}

// NewDocument builds the JSON export document for eps.
func NewDocument(eps []endpoint.Endpoint, now time.Time) Document {
	doc := Document{
		UpdatedAt: now.UTC().Format(TimeLayout),
		Total:     len(eps),
		Configs:   make([]Record, len(eps)),
	}
	for i, ep := range eps {
		doc.Configs[i] = Record{
			Protocol:  ep.Kind,
			Address:   ep.Address,
			Port:      ep.Port,
			Name:      ep.Name,
			LatencyMs: ep.LatencyMillis,
			Alive:     ep.Alive,
			Raw:       ep.Raw,
		}
	}
	return doc
}

// WriteJSON writes the indented JSON document for eps.
func WriteJSON(w io.Writer, eps []endpoint.Endpoint, now time.Time) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(NewDocument(eps, now)); err != nil {
		return fmt.Errorf("[Export] write json: %w", err)
	}
	return nil
}

// Group is the endpoints of one kind.
type Group struct {
	Kind      endpoint.Kind
	Endpoints []endpoint.Endpoint
}

// GroupByKind splits eps by kind, sorted by kind name. Order within a group
// is preserved.
func GroupByKind(eps []endpoint.Endpoint) []Group {
	idx := make(map[endpoint.Kind]int)
	var groups []Group
	for _, ep := range eps {
		i, ok := idx[ep.Kind]
		if !ok {
			i = len(groups)
			idx[ep.Kind] = i
			groups = append(groups, Group{Kind: ep.Kind})
		}
		groups[i].Endpoints = append(groups[i].Endpoints, ep)
	}
	slices.SortFunc(groups, func(a, b Group) int { return strings.Compare(string(a.Kind), string(b.Kind)) })
	return groups
}
