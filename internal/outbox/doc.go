// Package outbox is the producer and consumer edge of the search outbox.
//
// # Overview
//
// Producers describe an entity change with EmitParams. The Emitter turns it
// into a domain.Event (ID, timestamps, Murmur3 entity hash), and the Publisher
// inserts it on the caller's transaction so the event commits or rolls back
// together with the business change that produced it.
//
// Agents read the log through the EventFinder, which selects visible PENDING
// events inside the agent's shard range without taking row locks. A ClaimSet
// keeps the IDs an agent currently has in flight so that the next find does
// not hand them out again.
//
// # Usage
//
// Publishing inside a business transaction:
//
//	publisher := outbox.NewPublisher(outbox.NewEmitter(outbox.EmitterConfig{}), metrics)
//	err := db.WithTransaction(ctx, func(tx pgx.Tx) error {
//	    if err := saveBook(ctx, tx, book); err != nil {
//	        return err
//	    }
//	    _, err := publisher.Publish(ctx, tx, outbox.EmitParams{
//	        Kind:       domain.OperationAddOrUpdate,
//	        EntityName: "Book",
//	        EntityID:   book.ID,
//	        Route:      "books",
//	        Payload:    book,
//	    })
//	    return err
//	})
package outbox
