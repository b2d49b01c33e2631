package bus

import "context"

// WaitFor blocks until eventType is published and its data satisfies
// match (match == nil accepts any payload), or until ctx is done. It
// returns the matching payload, or ctx.Err() on timeout/cancellation.
func (b *Bus) WaitFor(ctx context.Context, eventType string, match func(data map[string]any) bool) (map[string]any, error) {
	resultCh := make(chan map[string]any, 1)

	var unsub func()
	unsub = b.On(eventType, func(data map[string]any) {
		if match != nil && !match(data) {
			return
		}
		select {
		case resultCh <- data:
		default:
		}
		unsub()
	})
	defer unsub()

	select {
	case data := <-resultCh:
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
