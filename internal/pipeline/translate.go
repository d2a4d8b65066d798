package pipeline

import (
	"fmt"

	"github.com/helixir/search-outbox/internal/backend"
	"github.com/helixir/search-outbox/internal/domain"
)

// operationFor maps an event kind onto the backend operation. Kinds outside
// the closed set are poison: no retry will ever make them deliverable.
func operationFor(kind domain.OperationKind) (backend.Operation, error) {
	switch kind {
	case domain.OperationAdd:
		return backend.OperationAdd, nil
	case domain.OperationAddOrUpdate:
		return backend.OperationUpsert, nil
	case domain.OperationDelete:
		return backend.OperationDelete, nil
	default:
		return "", backend.NewItemError(backend.FailurePoison, fmt.Errorf("unknown operation kind %q", kind))
	}
}

// buildBatch groups deliverable events by route, keeping the find order
// within and across groups. Events that cannot be translated are returned
// as failed results.
func buildBatch(events []*domain.Event) (backend.Batch, []backend.ItemResult) {
	var (
		batch    backend.Batch
		rejected []backend.ItemResult
		groups   = make(map[string]int)
	)

	for _, e := range events {
		op, err := operationFor(e.Kind)
		if err != nil {
			rejected = append(rejected, backend.ItemResult{EventID: e.ID, Err: err})
			continue
		}

		idx, ok := groups[e.Route]
		if !ok {
			idx = len(batch.Groups)
			groups[e.Route] = idx
			batch.Groups = append(batch.Groups, backend.Group{Route: e.Route})
		}
		batch.Groups[idx].Items = append(batch.Groups[idx].Items, backend.Item{
			EventID:    e.ID,
			Operation:  op,
			EntityName: e.EntityName,
			EntityID:   e.EntityID,
			TenantID:   e.TenantID,
			Payload:    e.Payload,
		})
	}
	return batch, rejected
}
