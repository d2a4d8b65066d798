package httpserver

import (
	"time"

	"github.com/helixir/search-outbox/internal/domain"
)

type countResponse struct {
	TenantID string `json:"tenant_id,omitempty"`
	Count    int64  `json:"count"`
}

type agentResponse struct {
	ID          string              `json:"id"`
	Type        string              `json:"type"`
	Name        string              `json:"name"`
	State       string              `json:"state"`
	LastPulse   time.Time           `json:"last_pulse"`
	TotalShards int                 `json:"total_shards"`
	Assignment  *assignmentResponse `json:"assignment,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
}

type assignmentResponse struct {
	Index      int   `json:"index"`
	RangeLower int32 `json:"range_lower"`
	RangeUpper int32 `json:"range_upper"`
}

type listAgentsResponse struct {
	Agents     []agentResponse `json:"agents"`
	TotalCount int             `json:"total_count"`
}

type agentStateResponse struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

func domainAgentToResponse(a *domain.Agent) agentResponse {
	resp := agentResponse{
		ID:          a.ID.String(),
		Type:        string(a.Type),
		Name:        a.Name,
		State:       string(a.State),
		LastPulse:   a.LastPulse,
		TotalShards: a.TotalShards,
		CreatedAt:   a.CreatedAt,
	}
	if a.Assignment != nil {
		resp.Assignment = &assignmentResponse{
			Index:      a.Assignment.Index,
			RangeLower: a.Assignment.Range.Lower,
			RangeUpper: a.Assignment.Range.Upper,
		}
	}
	return resp
}
