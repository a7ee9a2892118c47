package poller

import (
	"context"
	"fmt"

	"github.com/eschool-hub/eschool-watcher/internal/domain/diary"
	"github.com/eschool-hub/eschool-watcher/pkg/logger"
)

// pollHomeworksAndMarks runs one homework/marks cycle. Homework comes first;
// a failure there skips marks for this cycle.
func (p *Poller) pollHomeworksAndMarks(ctx context.Context) error {
	if handle := p.handlers.OnHomework; handle != nil {
		items, err := p.source.RecentHomeworks(ctx)
		if err != nil {
			return fmt.Errorf("fetch homeworks: %w", err)
		}
		n, err := deliverInOrder(ctx, p.regs.Homeworks, items, handle)
		p.stats.recordDelivered(diary.KindHomework, n)
		if err != nil {
			return err
		}
	}

	if handle := p.handlers.OnMark; handle != nil {
		items, err := p.source.Marks(ctx)
		if err != nil {
			return fmt.Errorf("fetch marks: %w", err)
		}
		n, err := deliverInOrder(ctx, p.regs.Marks, items, handle)
		p.stats.recordDelivered(diary.KindMark, n)
		if err != nil {
			return err
		}
	}

	return nil
}

// deliverInOrder hands every unseen item to handle in listing order and
// records it as seen once handle returns. An unpopulated registry is
// baselined with the listing instead and nothing is delivered.
func deliverInOrder[T diary.Keyed](
	ctx context.Context,
	reg *diary.Registry,
	items []T,
	handle func(context.Context, T) error,
) (int, error) {
	if !reg.Populated() {
		reg.Baseline(diary.Keys(items))
		return 0, nil
	}

	delivered := 0
	for _, item := range items {
		id := item.Key()
		if reg.Contains(id) {
			continue
		}
		if err := handle(ctx, item); err != nil {
			return delivered, fmt.Errorf("%s handler, id %s: %w", reg.Kind(), id, err)
		}
		reg.Add(id)
		delivered++
	}
	return delivered, nil
}

// pollMessages runs one message cycle: every thread's latest messages are
// collected, then the unseen ones are delivered in reverse fetch order so
// that each thread's batch arrives oldest first. A message is marked seen
// before its handler runs.
func (p *Poller) pollMessages(ctx context.Context) error {
	handle := p.handlers.OnMessage
	if handle == nil {
		return nil
	}

	threads, err := p.source.Chats(ctx)
	if err != nil {
		return fmt.Errorf("fetch chats: %w", err)
	}

	var fresh []diary.Message
	var all []string
	for _, thread := range threads {
		if !sleep(ctx, p.config.ThreadThrottle) {
			return ctx.Err()
		}

		msgs, err := p.source.Messages(ctx, thread.ID)
		if err != nil {
			return fmt.Errorf("fetch messages of thread %s: %w", thread.ID, err)
		}
		all = append(all, diary.Keys(msgs)...)
		for _, msg := range msgs {
			if !p.regs.Messages.Contains(msg.Key()) {
				fresh = append(fresh, msg)
			}
		}
	}

	if !p.regs.Messages.Populated() {
		p.regs.Messages.Baseline(all)
		p.logger.Info("message registry baselined", logger.Kind(diary.KindMessage.String()), "count", len(all))
		return nil
	}

	for i := len(fresh) - 1; i >= 0; i-- {
		msg := fresh[i]
		if p.regs.Messages.Contains(msg.Key()) {
			continue
		}
		p.regs.Messages.Add(msg.Key())
		p.stats.recordDelivered(diary.KindMessage, 1)
		if err := handle(ctx, msg); err != nil {
			return fmt.Errorf("message handler, id %s: %w", msg.Key(), err)
		}
	}
	return nil
}
