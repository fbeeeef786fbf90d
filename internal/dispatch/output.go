package dispatch

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/eniac111/computectl/internal/compute"
	"github.com/eniac111/computectl/internal/config"
	"github.com/eniac111/computectl/internal/types"
)

// execRecord is the serialized form of a script result.
type execRecord struct {
	Node      string             `json:"node" yaml:"node"`
	Addresses []string           `json:"addresses" yaml:"addresses"`
	Response  types.ExecResponse `json:"response" yaml:"response"`
	Error     string             `json:"error,omitempty" yaml:"error,omitempty"`
}

func encode(dest io.Writer, format string, v any) error {
	switch format {
	case config.OutputYAML:
		enc := yaml.NewEncoder(dest)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode YAML: %w", err)
		}
		return enc.Close()
	case config.OutputJSON:
		enc := json.NewEncoder(dest)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode JSON: %w", err)
		}
		return nil
	}
	return fmt.Errorf("unknown output format %q", format)
}

func newTable(dest io.Writer, columns ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(dest)
	table.SetHeader(columns)
	table.SetAutoWrapText(false)
	return table
}

// FormatNodes writes nodes to dest in the given format.
func FormatNodes(dest io.Writer, format string, nodes []types.Node) error {
	if format != config.OutputText {
		if nodes == nil {
			nodes = []types.Node{}
		}
		return encode(dest, format, nodes)
	}

	table := newTable(dest, "ID", "Group", "Status", "Hardware", "Image", "Private IP", "Public IP")
	for _, n := range nodes {
		table.Append([]string{
			n.ID, n.Group, string(n.Status), n.HardwareID, n.ImageID,
			strings.Join(n.PrivateAddresses, ","), strings.Join(n.PublicAddresses, ","),
		})
	}
	table.Render()
	return nil
}

// FormatImages writes images to dest in the given format.
func FormatImages(dest io.Writer, format string, images []types.Image) error {
	if format != config.OutputText {
		if images == nil {
			images = []types.Image{}
		}
		return encode(dest, format, images)
	}

	table := newTable(dest, "ID", "Family", "Status", "Description")
	for _, img := range images {
		table.Append([]string{img.ID, img.Family, img.Status, img.Description})
	}
	table.Render()
	return nil
}

// FormatExecResults writes script results to dest in the given format.
func FormatExecResults(dest io.Writer, format string, results []compute.ExecResult) error {
	if format == config.OutputText {
		table := newTable(dest, "Node", "Exit", "Output", "Error")
		for _, r := range results {
			errText := strings.TrimSpace(r.Response.Error)
			if r.Err != nil {
				errText = r.Err.Error()
			}
			table.Append([]string{
				r.Node.ID, strconv.Itoa(r.Response.ExitStatus),
				strings.TrimSpace(r.Response.Output), errText,
			})
		}
		table.Render()
		return nil
	}

	records := make([]execRecord, 0, len(results))
	for _, r := range results {
		rec := execRecord{Node: r.Node.ID, Addresses: r.Node.Addresses(), Response: r.Response}
		if r.Err != nil {
			rec.Error = r.Err.Error()
		}
		records = append(records, rec)
	}
	return encode(dest, format, records)
}
