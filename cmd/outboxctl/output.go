package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/helixir/search-outbox/internal/domain"
)

type countOutput struct {
	Operation string `json:"operation"`
	TenantID  string `json:"tenant_id,omitempty"`
	Count     int64  `json:"count"`
}

type agentOutput struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	State       string    `json:"state"`
	LastPulse   time.Time `json:"last_pulse"`
	TotalShards int       `json:"total_shards"`
	Shard       *int      `json:"shard,omitempty"`
	RangeLower  *int32    `json:"range_lower,omitempty"`
	RangeUpper  *int32    `json:"range_upper,omitempty"`
}

func toAgentOutputs(agents []*domain.Agent) []agentOutput {
	out := make([]agentOutput, 0, len(agents))
	for _, a := range agents {
		o := agentOutput{
			ID:          a.ID.String(),
			Name:        a.Name,
			State:       string(a.State),
			LastPulse:   a.LastPulse,
			TotalShards: a.TotalShards,
		}
		if a.Assignment != nil {
			index := a.Assignment.Index
			lower, upper := a.Assignment.Range.Lower, a.Assignment.Range.Upper
			o.Shard, o.RangeLower, o.RangeUpper = &index, &lower, &upper
		}
		out = append(out, o)
	}
	return out
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func printAgentTable(w io.Writer, agents []*domain.Agent) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATE\tSHARD\tRANGE\tLAST PULSE")
	for _, a := range agents {
		shard, hashRange := "-", "-"
		if a.Assignment != nil {
			shard = fmt.Sprintf("%d/%d", a.Assignment.Index, a.TotalShards)
			hashRange = a.Assignment.Range.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			a.ID,
			a.Name,
			a.State,
			shard,
			hashRange,
			a.LastPulse.Format("2006-01-02 15:04:05"),
		)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d agents\n", len(agents))
}
